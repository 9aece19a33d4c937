package reduction

import (
	"errors"
	"fmt"

	"colreduce/columnar"
)

// ErrTypeMismatch is matched by every TypeMismatchError
var ErrTypeMismatch = errors.New("type mismatch")

// TypeMismatchError reports an output type the kind cannot produce, or an
// input whose type differs from the descriptor's element type.
type TypeMismatchError struct {
	Kind   Kind
	Input  columnar.DataType
	Output columnar.DataType
	Reason string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s(%s) -> %s: %s", e.Kind, e.Input, e.Output, e.Reason)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}
