// Package engineerrors defines the typed failure kinds shared across the
// engine, the scheduler and the block registry (spec.md §7).
package engineerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per taxonomy kind. Use errors.Is against these, or
// the Is* helpers below, to classify an error returned from the engine.
var (
	ErrNullArgument          = errors.New("required argument missing or invalid")
	ErrConfigurationMismatch = errors.New("structural precondition violated")
	ErrObjectAlreadyExists   = errors.New("object already exists")
	ErrInstanceAddFailed     = errors.New("instance could not be added")
	ErrCommandFailed         = errors.New("command could not be enqueued")
	ErrNotFound              = errors.New("block type id not registered")
	ErrInstantiation         = errors.New("builder service failed to construct block")
	ErrNotImplemented        = errors.New("reserved transition, not implemented")
)

// EngineError wraps a sentinel with the operation that raised it and
// optional extra context, in the style of pkg/services.ServiceError from
// the wider FlowForge codebase.
type EngineError struct {
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *EngineError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func newErr(op string, kind error, message string, cause error) *EngineError {
	return &EngineError{Op: op, Kind: kind, Message: message, Err: cause}
}

func NullArgument(op, message string) error {
	return newErr(op, ErrNullArgument, message, nil)
}

func ConfigurationMismatch(op, message string) error {
	return newErr(op, ErrConfigurationMismatch, message, nil)
}

func ConfigurationMismatchf(op string, cause error) error {
	return newErr(op, ErrConfigurationMismatch, "", cause)
}

func ObjectAlreadyExists(op, message string) error {
	return newErr(op, ErrObjectAlreadyExists, message, nil)
}

func InstanceAddFailed(op string, cause error) error {
	return newErr(op, ErrInstanceAddFailed, "", cause)
}

func CommandFailed(op string, cause error) error {
	return newErr(op, ErrCommandFailed, "", cause)
}

func NotFound(op, message string) error {
	return newErr(op, ErrNotFound, message, nil)
}

func Instantiation(op string, cause error) error {
	return newErr(op, ErrInstantiation, "", cause)
}

// IsNullArgument, IsConfigurationMismatch, ... classify an arbitrary error
// returned by the engine, mirroring services.IsValidationError /
// IsConflictError from the wider pack.
func IsNullArgument(err error) bool          { return errors.Is(err, ErrNullArgument) }
func IsConfigurationMismatch(err error) bool { return errors.Is(err, ErrConfigurationMismatch) }
func IsObjectAlreadyExists(err error) bool   { return errors.Is(err, ErrObjectAlreadyExists) }
func IsInstanceAddFailed(err error) bool     { return errors.Is(err, ErrInstanceAddFailed) }
func IsCommandFailed(err error) bool         { return errors.Is(err, ErrCommandFailed) }
func IsNotFound(err error) bool              { return errors.Is(err, ErrNotFound) }
func IsInstantiation(err error) bool         { return errors.Is(err, ErrInstantiation) }
func IsNotImplemented(err error) bool        { return errors.Is(err, ErrNotImplemented) }
