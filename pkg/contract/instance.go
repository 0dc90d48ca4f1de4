package contract

// Instance is the read-only surface of an instance that external
// collaborators (listeners, registry callers, the scheduler's list
// operation) are allowed to see. The full mutating surface lives on the
// concrete engine.Instance type, which also satisfies this interface.
type Instance interface {
	Modifiable

	GetInstanceID() int64
	GetTemplateID() int64
	GetInstanceUserID() int64
	GetInstanceName() string

	GetState() RunnableState
	HasError() bool
	GetErrorMessage() string

	GetModifiedObjects() []Modifiable
}
