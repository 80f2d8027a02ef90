// Package table defines the row-oriented table model consumed and produced by
// the join engine: typed cell values, schemas, restartable row iterators and
// containers that materialize rows.
package table

import (
	"math"
	"strconv"

	"golang.org/x/exp/constraints"
)

// Kind is the type of a cell value or column.
type Kind int

const (
	KindMissing Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "missing"
	}
}

// IsNumeric reports whether values of this kind compare numerically.
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "int", "int64", "integer":
		return KindInt, true
	case "float", "float64", "double":
		return KindFloat, true
	case "string", "text":
		return KindString, true
	case "bool", "boolean":
		return KindBool, true
	case "missing":
		return KindMissing, true
	}
	return KindMissing, false
}

// Value is an immutable, tagged cell value. The zero Value is missing.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Missing returns the missing-value sentinel.
func Missing() Value { return Value{} }

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a text value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsMissing reports whether v is the missing sentinel.
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

// AsFloat returns the numeric payload of an int or float value.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the text payload.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.i != 0, v.kind == KindBool
}

// Equal reports value equality. Missing equals missing, and ints compare
// equal to floats holding the same number.
func (v Value) Equal(o Value) bool {
	if v.kind.IsNumeric() && o.kind.IsNumeric() && v.kind != o.kind {
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		return a == b
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindMissing:
		return true
	case KindInt, KindBool:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	}
	return false
}

// Compare orders values. Missing sorts first, numbers compare numerically,
// and values of unrelated kinds are ordered by kind.
func (v Value) Compare(o Value) int {
	if v.kind.IsNumeric() && o.kind.IsNumeric() {
		if v.kind == KindInt && o.kind == KindInt {
			return compareOrdered(v.i, o.i)
		}
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		return compareFloat(a, b)
	}
	if v.kind != o.kind {
		return compareOrdered(v.kind, o.kind)
	}
	switch v.kind {
	case KindInt, KindBool:
		return compareOrdered(v.i, o.i)
	case KindString:
		return compareOrdered(v.s, o.s)
	}
	return 0
}

// String renders v for display and row keys. Missing renders as "?".
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	default:
		return "?"
	}
}

func compareOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareFloat sorts NaN after every number.
func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return compareOrdered(a, b)
}
