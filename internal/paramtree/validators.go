package paramtree

import (
	"fmt"
	"slices"
)

// Validator rejects a coerced value. Failures surface as ErrValidation.
type Validator func(value any) error

// IsPositive rejects negative numbers.
func IsPositive(value any) error {
	f, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("%w: want number, got %T", ErrTypeMismatch, value)
	}
	if f < 0 {
		return fmt.Errorf("%w: %v is negative", ErrValidation, value)
	}
	return nil
}

// Bound accepts numbers strictly between lower and upper.
func Bound(lower, upper float64) Validator {
	return func(value any) error {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("%w: want number, got %T", ErrTypeMismatch, value)
		}
		if f <= lower || f >= upper {
			return fmt.Errorf("%w: %v not in (%v, %v)", ErrOutOfRange, value, lower, upper)
		}
		return nil
	}
}

// OneOf accepts only the listed strings.
func OneOf(allowed ...string) Validator {
	return func(value any) error {
		s, ok := value.(string)
		if !ok || !slices.Contains(allowed, s) {
			return fmt.Errorf("%w: %v not one of %v", ErrValidation, value, allowed)
		}
		return nil
	}
}

// Guard runs check regardless of the value; a non-nil result rejects the write.
func Guard(check func() error) Validator {
	return func(any) error {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil
	}
}

// Each applies v to every element of a list value.
func Each(v Validator) Validator {
	return func(value any) error {
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%w: want list, got %T", ErrTypeMismatch, value)
		}
		for i, item := range items {
			if err := v(item); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	}
}

func runValidators(validators []Validator, value any) error {
	for _, v := range validators {
		if err := v(value); err != nil {
			if IsValidation(err) || isTypeMismatch(err) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}
