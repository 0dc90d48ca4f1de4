package engine

import "github.com/google/uuid"

// NewInternalBlockID generates an opaque id unique within an instance, for
// callers that don't supply their own (grounded on executor.go's
// generateExecutionID in the wider example corpus).
func NewInternalBlockID() string {
	return uuid.NewString()
}
