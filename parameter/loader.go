package parameter

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a parsed parameter YAML file (spec.md §6): a mapping from a
// node-fqn pattern (which may use "/**"/"/ns/*"/"/**/name" wildcards) to a
// "ros__parameters" block of name/value pairs.
type File struct {
	nodes map[string]map[string]Value
}

// Load parses a parameter YAML document of the form:
//
//	/my_node:
//	  ros__parameters:
//	    flag: true
//	    count: 3
//	/**:
//	  ros__parameters:
//	    shared: "value"
func Load(data []byte) (*File, error) {
	var raw map[string]struct {
		ROSParameters map[string]any `yaml:"ros__parameters"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parameter: parsing yaml: %w", err)
	}

	f := &File{nodes: make(map[string]map[string]Value, len(raw))}
	for pattern, block := range raw {
		params := make(map[string]Value, len(block.ROSParameters))
		for name, rawVal := range block.ROSParameters {
			v, err := valueFromYAML(rawVal)
			if err != nil {
				return nil, fmt.Errorf("parameter: %s.%s: %w", pattern, name, err)
			}
			params[name] = v
		}
		f.nodes[pattern] = params
	}
	return f, nil
}

func valueFromYAML(raw any) (Value, error) {
	switch v := raw.(type) {
	case bool:
		return BoolValue(v), nil
	case int:
		return IntValue(int64(v)), nil
	case int64:
		return IntValue(v), nil
	case float64:
		return DoubleValue(v), nil
	case string:
		return StringValue(v), nil
	case []any:
		return arrayValueFromYAML(v)
	default:
		return Value{}, fmt.Errorf("unsupported parameter value type %T", raw)
	}
}

func arrayValueFromYAML(items []any) (Value, error) {
	if len(items) == 0 {
		return StringArrayValue(nil), nil
	}
	switch items[0].(type) {
	case bool:
		out := make([]bool, len(items))
		for i, it := range items {
			b, ok := it.(bool)
			if !ok {
				return Value{}, fmt.Errorf("mixed-type array: element %d is not bool", i)
			}
			out[i] = b
		}
		return BoolArrayValue(out), nil
	case int, int64:
		out := make([]int64, len(items))
		for i, it := range items {
			switch n := it.(type) {
			case int:
				out[i] = int64(n)
			case int64:
				out[i] = n
			default:
				return Value{}, fmt.Errorf("mixed-type array: element %d is not int", i)
			}
		}
		return IntArrayValue(out), nil
	case float64:
		out := make([]float64, len(items))
		for i, it := range items {
			f, ok := it.(float64)
			if !ok {
				return Value{}, fmt.Errorf("mixed-type array: element %d is not float", i)
			}
			out[i] = f
		}
		return DoubleArrayValue(out), nil
	case string:
		out := make([]string, len(items))
		for i, it := range items {
			s, ok := it.(string)
			if !ok {
				return Value{}, fmt.Errorf("mixed-type array: element %d is not string", i)
			}
			out[i] = s
		}
		return StringArrayValue(out), nil
	default:
		return Value{}, fmt.Errorf("unsupported array element type %T", items[0])
	}
}

// ForNode resolves the parameters applicable to nodeFQN (e.g. "/my_ns/my_node"),
// merging every pattern that matches it. Wildcard patterns are applied first
// in map-iteration order, then the node's own exact-match block last, so a
// node-specific value always wins over a wildcard default (spec.md §6 is
// silent on precedence; this mirrors ROS 2's own "specific overrides
// general" convention).
func (f *File) ForNode(nodeFQN string) map[string]Value {
	result := make(map[string]Value)
	for pattern, params := range f.nodes {
		if pattern == nodeFQN {
			continue
		}
		if matchNodeFQN(pattern, nodeFQN) {
			for name, v := range params {
				result[name] = v
			}
		}
	}
	if params, ok := f.nodes[nodeFQN]; ok {
		for name, v := range params {
			result[name] = v
		}
	}
	return result
}

// matchNodeFQN reports whether pattern (which may contain "**" matching any
// number of path segments, or "*" matching exactly one) matches name, both
// expressed as "/"-separated segments.
func matchNodeFQN(pattern, name string) bool {
	return matchSegments(splitSegments(pattern), splitSegments(name))
}

func splitSegments(s string) []string {
	s = strings.Trim(s, "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	head := pattern[0]
	switch head {
	case "**":
		if matchSegments(pattern[1:], name) {
			return true
		}
		if len(name) == 0 {
			return false
		}
		return matchSegments(pattern, name[1:])
	case "*":
		if len(name) == 0 {
			return false
		}
		return matchSegments(pattern[1:], name[1:])
	default:
		if len(name) == 0 || name[0] != head {
			return false
		}
		return matchSegments(pattern[1:], name[1:])
	}
}
