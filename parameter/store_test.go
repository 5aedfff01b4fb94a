package parameter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rclgo/rclgo/parameter"
)

func newIntStore(t *testing.T) *parameter.Store {
	t.Helper()
	s := parameter.NewStore()
	s.Declare("a", parameter.IntValue(1), parameter.Descriptor{})
	s.Declare("b", parameter.IntValue(2), parameter.Descriptor{})
	return s
}

func TestSetNonAtomicAppliesEachIndependently(t *testing.T) {
	s := newIntStore(t)
	results, anyUpdated := s.SetNonAtomic([]parameter.NamedValue{
		{Name: "a", Value: parameter.IntValue(5)},
		{Name: "missing", Value: parameter.IntValue(0)},
	})
	require.True(t, anyUpdated)
	require.Len(t, results, 2)
	assert.True(t, results[0].Successful)
	assert.False(t, results[1].Successful)
	assert.Equal(t, "no such parameter: name=missing", results[1].Reason)

	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(5), v.Value.Integer)
}

func TestSetAtomicallyRollsBackOnFirstFailure(t *testing.T) {
	s := newIntStore(t)
	result := s.SetAtomically([]parameter.NamedValue{
		{Name: "a", Value: parameter.IntValue(5)},
		{Name: "b", Value: parameter.StringValue("str")},
	})
	require.False(t, result.Successful)
	assert.Equal(t, "failed type checking: dst=int, src=string", result.Reason)

	va, _ := s.Get("a")
	vb, _ := s.Get("b")
	assert.Equal(t, int64(1), va.Value.Integer)
	assert.Equal(t, int64(2), vb.Value.Integer)
	assert.Empty(t, s.TakeUpdated())
}

func TestSetAtomicallyAppliesAllOnSuccess(t *testing.T) {
	s := newIntStore(t)
	result := s.SetAtomically([]parameter.NamedValue{
		{Name: "a", Value: parameter.IntValue(10)},
		{Name: "b", Value: parameter.IntValue(20)},
	})
	require.True(t, result.Successful)
	va, _ := s.Get("a")
	vb, _ := s.Get("b")
	assert.Equal(t, int64(10), va.Value.Integer)
	assert.Equal(t, int64(20), vb.Value.Integer)
	assert.ElementsMatch(t, []string{"a", "b"}, s.TakeUpdated())
}

func TestSetRejectsReadOnly(t *testing.T) {
	s := parameter.NewStore()
	s.Declare("locked", parameter.IntValue(1), parameter.Descriptor{ReadOnly: true})
	results, anyUpdated := s.SetNonAtomic([]parameter.NamedValue{{Name: "locked", Value: parameter.IntValue(2)}})
	assert.False(t, anyUpdated)
	assert.Equal(t, "locked is read only", results[0].Reason)
}

func TestSetRejectsOutOfRange(t *testing.T) {
	s := parameter.NewStore()
	s.Declare("bounded", parameter.IntValue(5), parameter.Descriptor{
		IntegerRange: &parameter.IntegerRange{FromValue: 0, ToValue: 10},
	})
	results, _ := s.SetNonAtomic([]parameter.NamedValue{{Name: "bounded", Value: parameter.IntValue(99)}})
	assert.Equal(t, "bounded is not in the range", results[0].Reason)
}

func TestSetAllowsDynamicTypingAcrossKinds(t *testing.T) {
	s := parameter.NewStore()
	s.Declare("flex", parameter.IntValue(1), parameter.Descriptor{DynamicTyping: true})
	results, anyUpdated := s.SetNonAtomic([]parameter.NamedValue{{Name: "flex", Value: parameter.StringValue("now a string")}})
	require.True(t, anyUpdated)
	assert.True(t, results[0].Successful)
	v, _ := s.Get("flex")
	assert.Equal(t, parameter.KindString, v.Value.Kind)
}

func TestListWithNoPrefixesAndZeroDepthReturnsEverything(t *testing.T) {
	s := parameter.NewStore()
	s.Declare("a.b.c", parameter.IntValue(1), parameter.Descriptor{})
	s.Declare("x", parameter.IntValue(2), parameter.Descriptor{})
	names, prefixes := s.List(nil, 0)
	assert.Equal(t, []string{"a.b.c", "x"}, names)
	assert.Equal(t, []string{"a.b"}, prefixes)
}

func TestListFiltersByPrefixAndDepth(t *testing.T) {
	s := parameter.NewStore()
	s.Declare("ns.a", parameter.IntValue(1), parameter.Descriptor{})
	s.Declare("ns.sub.b", parameter.IntValue(2), parameter.Descriptor{})
	s.Declare("other.c", parameter.IntValue(3), parameter.Descriptor{})

	names, _ := s.List([]string{"ns"}, 1)
	assert.Equal(t, []string{"ns.a"}, names)

	names, _ = s.List([]string{"ns"}, 0)
	assert.Equal(t, []string{"ns.a", "ns.sub.b"}, names)
}

func TestDescribeReportsUnknownNames(t *testing.T) {
	s := newIntStore(t)
	out := s.Describe([]string{"a", "missing"})
	require.Len(t, out, 2)
	assert.True(t, out[0].OK)
	assert.False(t, out[1].OK)
	assert.Equal(t, "missing", out[1].Name)
}

func TestGetTypesReportsNotSetForUnknownNames(t *testing.T) {
	s := newIntStore(t)
	types := s.GetTypes([]string{"a", "missing"})
	assert.Equal(t, []parameter.Kind{parameter.KindInteger, parameter.KindNotSet}, types)
}
