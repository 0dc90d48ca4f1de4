package registry

import (
	"reflect"

	"github.com/tksoft/flowforge-engine/pkg/engineerrors"
)

// Constructor is one candidate constructor function a BuilderService can
// register for a block type, keyed by arity. Go has no overload
// resolution, so BuilderService implementations that accept more than one
// constructor shape can use DispatchConstructor to reproduce the original
// arity-then-assignability matching used by the Java reference
// implementation's reflective builder dispatch.
type Constructor struct {
	// ParamTypes is the expected type of each positional argument.
	ParamTypes []reflect.Type
	Build      func(args []any) (any, error)
}

// DispatchConstructor picks the candidate whose arity matches len(args) and
// whose parameter types are each assignable or convertible from the
// argument's runtime type, then invokes it. Candidates are tried in order;
// the first full match wins.
func DispatchConstructor(op string, candidates []Constructor, args []any) (any, error) {
	for _, candidate := range candidates {
		if len(candidate.ParamTypes) != len(args) {
			continue
		}
		if constructorMatches(candidate.ParamTypes, args) {
			return candidate.Build(args)
		}
	}

	return nil, engineerrors.Instantiation(op,
		engineerrors.NullArgument(op, "no constructor matches the given argument arity/types"))
}

func constructorMatches(paramTypes []reflect.Type, args []any) bool {
	for i, want := range paramTypes {
		if args[i] == nil {
			continue
		}

		got := reflect.TypeOf(args[i])
		if got.AssignableTo(want) {
			continue
		}
		if got.ConvertibleTo(want) && isNumericKind(got.Kind()) && isNumericKind(want.Kind()) {
			continue
		}

		return false
	}

	return true
}

func isNumericKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
