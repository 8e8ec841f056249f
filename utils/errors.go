package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError[ExpectedT any](actual interface{}) error {
	return errors.Errorf("expected %T but got %T", *new(ExpectedT), actual)
}

// NewUnexpectedShapeError is used when a tensor does not have the shape an operation requires.
func NewUnexpectedShapeError(name string, expected, actual []int) error {
	return errors.Errorf("tensor %q: expected shape %v but got %v", name, expected, actual)
}
