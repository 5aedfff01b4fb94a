package parameter

// These request/response payloads stand in for the wire-encoded ROS 2
// parameter service messages (SetParameters, ListParameters, ...): message
// memory layout is out of scope, so the six services below exchange plain
// Go values through the mw.Middleware SPI's opaque `any` payload.

// ListParametersRequest asks for every declared parameter name matching
// Prefixes/Depth (spec.md §4.7).
type ListParametersRequest struct {
	Prefixes []string
	Depth    int
}

// ListParametersResponse is List's result.
type ListParametersResponse struct {
	Names    []string
	Prefixes []string
}

// GetParametersRequest asks for the current value of each named parameter.
type GetParametersRequest struct {
	Names []string
}

// GetParametersResponse pairs each requested name with its value; an
// undeclared name yields a zero Value (Kind KindNotSet).
type GetParametersResponse struct {
	Values []Value
}

// SetParametersRequest installs a batch of parameter values.
type SetParametersRequest struct {
	Parameters []NamedValue
}

// SetParametersResponse is the per-parameter result of a non-atomic set.
type SetParametersResponse struct {
	Results []SetResult
}

// SetParametersAtomicallyRequest is SetParametersRequest evaluated
// all-or-nothing.
type SetParametersAtomicallyRequest struct {
	Parameters []NamedValue
}

// SetParametersAtomicallyResponse carries the single outcome of an atomic
// set: Reason is populated only when Successful is false.
type SetParametersAtomicallyResponse struct {
	Result SetResult
}

// DescribeParametersRequest asks for the descriptor of each named
// parameter.
type DescribeParametersRequest struct {
	Names []string
}

// DescribeParametersResponse is Describe's result, name-aligned with the
// request.
type DescribeParametersResponse struct {
	Descriptors []DescribedParameter
}

// GetParameterTypesRequest asks for the declared Kind of each named
// parameter.
type GetParameterTypesRequest struct {
	Names []string
}

// GetParameterTypesResponse is GetTypes's result, name-aligned with the
// request.
type GetParameterTypesResponse struct {
	Types []Kind
}
