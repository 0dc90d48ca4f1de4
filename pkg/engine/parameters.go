package engine

import "github.com/tksoft/flowforge-engine/pkg/engineerrors"

// InstanceParameter is an immutable (internalBlockID, parameterValue) pair
// supplied at instance construction time (spec.md §3).
type InstanceParameter struct {
	internalBlockID string
	parameterValue  string
}

// NewInstanceParameter validates and builds an InstanceParameter. Both
// fields must be non-blank.
func NewInstanceParameter(internalBlockID, parameterValue string) (InstanceParameter, error) {
	if internalBlockID == "" || parameterValue == "" {
		return InstanceParameter{}, engineerrors.NullArgument("NewInstanceParameter",
			"internalBlockID and parameterValue must not be blank")
	}

	return InstanceParameter{internalBlockID: internalBlockID, parameterValue: parameterValue}, nil
}

func (p InstanceParameter) InternalBlockID() string { return p.internalBlockID }
func (p InstanceParameter) ParameterValue() string  { return p.parameterValue }

// InstanceParameters is an ordered, immutable bag of InstanceParameter
// values, indexed by internalBlockID for the run() source-population step.
type InstanceParameters struct {
	byBlockID map[string]InstanceParameter
	ordered   []InstanceParameter
}

// NewInstanceParameters builds an InstanceParameters bag from the given
// parameters. A nil or empty slice yields an empty bag.
func NewInstanceParameters(parameters []InstanceParameter) InstanceParameters {
	byBlockID := make(map[string]InstanceParameter, len(parameters))
	ordered := make([]InstanceParameter, 0, len(parameters))

	for _, p := range parameters {
		if _, exists := byBlockID[p.internalBlockID]; exists {
			continue
		}
		byBlockID[p.internalBlockID] = p
		ordered = append(ordered, p)
	}

	return InstanceParameters{byBlockID: byBlockID, ordered: ordered}
}

// GetParameter returns the parameter registered for blockID, and whether
// one was found.
func (ps InstanceParameters) GetParameter(blockID string) (InstanceParameter, bool) {
	p, ok := ps.byBlockID[blockID]
	return p, ok
}

// All returns the parameters in registration order.
func (ps InstanceParameters) All() []InstanceParameter {
	return ps.ordered
}
