package paramtree

import (
	"errors"
	"fmt"
)

var (
	ErrPathNotFound = errors.New("paramtree: path not found")
	ErrTypeMismatch = errors.New("paramtree: type mismatch")
	ErrValidation   = errors.New("paramtree: validation failed")
	ErrNotPuttable  = errors.New("paramtree: parameter is not puttable")
	ErrNotSettable  = errors.New("paramtree: parameter is not settable")
	ErrNotGettable  = errors.New("paramtree: parameter is not gettable")
	ErrIndex        = errors.New("paramtree: index out of range")
	ErrInvalidTree  = errors.New("paramtree: invalid tree")

	// ErrOutOfRange is the validation failure raised by Bound.
	ErrOutOfRange = fmt.Errorf("%w: value out of range", ErrValidation)
)

// IsValidation reports whether err is any local validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func isTypeMismatch(err error) bool {
	return errors.Is(err, ErrTypeMismatch)
}
