// Package parameter implements ParameterServer: a background-thread service
// host over a shared, RWLock-protected parameter store (spec.md §4.7).
package parameter

import "fmt"

// Kind enumerates the value types spec.md §5's YAML format and the ROS 2
// parameter wire type support (bool, int, float, string, and homogeneous
// arrays of each).
type Kind int

const (
	KindNotSet Kind = iota
	KindBool
	KindInteger
	KindDouble
	KindString
	KindBoolArray
	KindIntegerArray
	KindDoubleArray
	KindStringArray
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInteger:
		return "int"
	case KindDouble:
		return "float"
	case KindString:
		return "string"
	case KindBoolArray:
		return "bool[]"
	case KindIntegerArray:
		return "int[]"
	case KindDoubleArray:
		return "float[]"
	case KindStringArray:
		return "string[]"
	default:
		return "not_set"
	}
}

// Value is a tagged parameter value. Exactly the field matching Kind is
// meaningful; the others are zero.
type Value struct {
	Kind        Kind
	Bool        bool
	Integer     int64
	Double      float64
	Text        string
	BoolArray   []bool
	IntArray    []int64
	DoubleArray []float64
	StrArray    []string
}

func BoolValue(v bool) Value      { return Value{Kind: KindBool, Bool: v} }
func IntValue(v int64) Value      { return Value{Kind: KindInteger, Integer: v} }
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, Double: v} }
func StringValue(v string) Value  { return Value{Kind: KindString, Text: v} }
func BoolArrayValue(v []bool) Value {
	return Value{Kind: KindBoolArray, BoolArray: v}
}
func IntArrayValue(v []int64) Value {
	return Value{Kind: KindIntegerArray, IntArray: v}
}
func DoubleArrayValue(v []float64) Value {
	return Value{Kind: KindDoubleArray, DoubleArray: v}
}
func StringArrayValue(v []string) Value {
	return Value{Kind: KindStringArray, StrArray: v}
}

// TypeName reports the dst/src label used in the type-mismatch error
// message (spec.md §4.7), matching the original's type_name() convention.
func (v Value) TypeName() string { return v.Kind.String() }

// String renders the value for logging and the fmt.Stringer contract, the
// way original_source's "{key} = {value}" update log formats it.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case KindString:
		return v.Text
	case KindBoolArray:
		return fmt.Sprintf("%v", v.BoolArray)
	case KindIntegerArray:
		return fmt.Sprintf("%v", v.IntArray)
	case KindDoubleArray:
		return fmt.Sprintf("%v", v.DoubleArray)
	case KindStringArray:
		return fmt.Sprintf("%v", v.StrArray)
	default:
		return "<not set>"
	}
}
