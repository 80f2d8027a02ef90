// Package validation provides the reusable checks run while resolving join
// settings against input schemas. Every failure is a configuration error.
package validation

import (
	"fmt"

	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/table"
)

// Validator interface for input validation
type Validator interface {
	Validate() error
}

// ColumnProvider interface for types that provide column information
type ColumnProvider interface {
	Has(name string) bool
}

// ColumnValidator validates column existence
type ColumnValidator struct {
	provider ColumnProvider
	columns  []string
	op       string
	skip     map[string]bool
}

// NewColumnValidator creates a validator for column references
func NewColumnValidator(provider ColumnProvider, op string, columns ...string) *ColumnValidator {
	return &ColumnValidator{
		provider: provider,
		columns:  columns,
		op:       op,
	}
}

// Except ignores pseudo columns such as the row key sentinel
func (v *ColumnValidator) Except(names ...string) *ColumnValidator {
	if v.skip == nil {
		v.skip = make(map[string]bool, len(names))
	}
	for _, n := range names {
		v.skip[n] = true
	}
	return v
}

// Validate checks if all columns exist
func (v *ColumnValidator) Validate() error {
	for _, column := range v.columns {
		if v.skip[column] {
			continue
		}
		if !v.provider.Has(column) {
			return errors.NewColumnNotFoundError(v.op, column)
		}
	}
	return nil
}

// LengthValidator validates length consistency
type LengthValidator struct {
	expected int
	actual   int
	op       string
	context  string
}

// NewLengthValidator creates a validator for length consistency
func NewLengthValidator(expected, actual int, op, context string) *LengthValidator {
	return &LengthValidator{
		expected: expected,
		actual:   actual,
		op:       op,
		context:  context,
	}
}

// Validate checks if lengths match
func (v *LengthValidator) Validate() error {
	if v.expected != v.actual {
		message := fmt.Sprintf("%s: expected length %d, got %d", v.context, v.expected, v.actual)
		return errors.NewConfigurationError(v.op, message)
	}
	return nil
}

// NotEmptyValidator validates that a setting is provided
type NotEmptyValidator struct {
	size    int
	op      string
	message string
}

// NewNotEmptyValidator creates a validator failing with message when size is zero
func NewNotEmptyValidator(size int, op, message string) *NotEmptyValidator {
	return &NotEmptyValidator{size: size, op: op, message: message}
}

// Validate checks that size is positive
func (v *NotEmptyValidator) Validate() error {
	if v.size <= 0 {
		return errors.NewConfigurationError(v.op, v.message)
	}
	return nil
}

// RangeValidator validates an integer setting against inclusive bounds
type RangeValidator struct {
	name     string
	value    int
	min, max int
	op       string
}

// NewRangeValidator creates a validator for min <= value <= max
func NewRangeValidator(name string, value, minValue, maxValue int, op string) *RangeValidator {
	return &RangeValidator{name: name, value: value, min: minValue, max: maxValue, op: op}
}

// Validate checks the bounds
func (v *RangeValidator) Validate() error {
	if v.value < v.min || v.value > v.max {
		message := fmt.Sprintf("%s must be within [%d, %d], got %d", v.name, v.min, v.max, v.value)
		return errors.NewConfigurationError(v.op, message)
	}
	return nil
}

// KeyPairValidator validates that two join columns can be compared. Numbers
// compare with numbers, and row keys with text.
type KeyPairValidator struct {
	left, right         string
	leftKind, rightKind table.Kind
	op                  string
}

// NewKeyPairValidator creates a validator for one join column pair
func NewKeyPairValidator(left string, leftKind table.Kind, right string, rightKind table.Kind, op string) *KeyPairValidator {
	return &KeyPairValidator{left: left, right: right, leftKind: leftKind, rightKind: rightKind, op: op}
}

// Validate checks type compatibility of the pair
func (v *KeyPairValidator) Validate() error {
	l, r := v.leftKind, v.rightKind
	if l == r || l == table.KindMissing || r == table.KindMissing || (l.IsNumeric() && r.IsNumeric()) {
		return nil
	}

	prefix := fmt.Sprintf("type mismatch of join column pair %q (%s) and %q (%s)", v.left, l, v.right, r)
	var hint string
	switch {
	case l.IsNumeric() && r == table.KindString:
		hint = fmt.Sprintf("convert %q to string", v.left)
	case l == table.KindString && r.IsNumeric():
		hint = fmt.Sprintf("convert %q to string", v.right)
	default:
		hint = "this would produce an empty join"
	}
	return errors.NewConfigurationError(v.op, prefix+": "+hint)
}

// CompoundValidator combines multiple validators
type CompoundValidator struct {
	validators []Validator
}

// NewCompoundValidator creates a validator that checks multiple conditions
func NewCompoundValidator(validators ...Validator) *CompoundValidator {
	return &CompoundValidator{
		validators: validators,
	}
}

// Add appends validators
func (v *CompoundValidator) Add(validators ...Validator) {
	v.validators = append(v.validators, validators...)
}

// Validate runs all validators and returns the first error encountered
func (v *CompoundValidator) Validate() error {
	for _, validator := range v.validators {
		if err := validator.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Convenience validation functions

// ValidateColumns is a convenience function for column validation
func ValidateColumns(provider ColumnProvider, op string, columns ...string) error {
	return NewColumnValidator(provider, op, columns...).Validate()
}

// ValidateLength is a convenience function for length validation
func ValidateLength(expected, actual int, op, context string) error {
	return NewLengthValidator(expected, actual, op, context).Validate()
}

// ValidateRange is a convenience function for range validation
func ValidateRange(name string, value, minValue, maxValue int, op string) error {
	return NewRangeValidator(name, value, minValue, maxValue, op).Validate()
}
