package parameter

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/rclgo/rclgo/rclerr"
)

// IntegerRange bounds a KindInteger parameter (spec.md §4.7 "out of the
// range" check).
type IntegerRange struct {
	FromValue, ToValue, Step int64
}

// FloatingPointRange bounds a KindDouble parameter.
type FloatingPointRange struct {
	FromValue, ToValue, Step float64
}

// Descriptor carries a parameter's metadata: read-only/dynamic-typing flags
// and an optional numeric range constraint.
type Descriptor struct {
	Description           string
	AdditionalConstraints string
	ReadOnly               bool
	DynamicTyping          bool
	IntegerRange           *IntegerRange
	FloatingPointRange     *FloatingPointRange
}

// Parameter pairs a Descriptor with its current Value.
type Parameter struct {
	Descriptor Descriptor
	Value      Value
}

func (p *Parameter) checkRange(v Value) bool {
	switch {
	case p.Descriptor.IntegerRange != nil && v.Kind == KindInteger:
		r := p.Descriptor.IntegerRange
		if v.Integer < r.FromValue || v.Integer > r.ToValue {
			return false
		}
		if r.Step > 0 {
			return (v.Integer-r.FromValue)%r.Step == 0
		}
		return true
	case p.Descriptor.FloatingPointRange != nil && v.Kind == KindDouble:
		r := p.Descriptor.FloatingPointRange
		return v.Double >= r.FromValue && v.Double <= r.ToValue
	default:
		return true
	}
}

func (p *Parameter) typeCheck(v Value) bool {
	return p.Descriptor.DynamicTyping || p.Value.Kind == v.Kind
}

// Store is the RWLock-protected parameter mapping one ParameterServer hosts
// (spec.md §4.7). Safe for concurrent use: callers may mutate it directly
// (before wiring a ParameterServer on top, as original_source's own example
// does) as well as through the six services.
type Store struct {
	mu      sync.RWMutex
	params  map[string]*Parameter
	updated map[string]struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		params:  make(map[string]*Parameter),
		updated: make(map[string]struct{}),
	}
}

// Declare adds a new parameter with a statically typed value: later Set
// calls against it must match Kind unless descriptor.DynamicTyping is set.
// Declaring a name that already exists replaces its descriptor and value.
func (s *Store) Declare(name string, value Value, descriptor Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[name] = &Parameter{Descriptor: descriptor, Value: value}
}

// Get returns a copy of the named parameter.
func (s *Store) Get(name string) (Parameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[name]
	if !ok {
		return Parameter{}, false
	}
	return *p, true
}

// SetResult is the per-parameter outcome of a set operation (spec.md §4.7).
type SetResult struct {
	Successful bool
	Reason     string
}

// NamedValue pairs a parameter name with the value a set request wants to
// install.
type NamedValue struct {
	Name  string
	Value Value
}

func (s *Store) checkSet(nv NamedValue) (*Parameter, SetResult) {
	p, ok := s.params[nv.Name]
	if !ok {
		return nil, SetResult{Reason: (&rclerr.UnknownNameError{Name: nv.Name}).Error()}
	}
	if p.Descriptor.ReadOnly {
		return nil, SetResult{Reason: (&rclerr.ReadOnlyError{Name: nv.Name}).Error()}
	}
	if !p.checkRange(nv.Value) {
		return nil, SetResult{Reason: (&rclerr.OutOfRangeError{Name: nv.Name}).Error()}
	}
	if !p.typeCheck(nv.Value) {
		return nil, SetResult{Reason: (&rclerr.TypeMismatchError{Dst: p.Value.TypeName(), Src: nv.Value.TypeName()}).Error()}
	}
	return p, SetResult{Successful: true}
}

// SetNonAtomic evaluates each update independently (spec.md §4.7 "non-atomic
// set"): names that pass are applied and added to the updated set; the rest
// report their individual rejection reason. Returns whether at least one
// update was applied.
func (s *Store) SetNonAtomic(updates []NamedValue) ([]SetResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]SetResult, len(updates))
	var anyUpdated bool
	for i, nv := range updates {
		p, res := s.checkSet(nv)
		if res.Successful {
			p.Value = nv.Value
			s.updated[nv.Name] = struct{}{}
			anyUpdated = true
		}
		results[i] = res
	}
	return results, anyUpdated
}

// SetAtomically evaluates every update against the current store state; if
// any fails, none are applied (spec.md §4.7 "atomic set" / invariant 7).
func (s *Store) SetAtomically(updates []NamedValue) SetResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]*Parameter, len(updates))
	for i, nv := range updates {
		p, res := s.checkSet(nv)
		if !res.Successful {
			return res
		}
		targets[i] = p
	}
	for i, nv := range updates {
		targets[i].Value = nv.Value
		s.updated[nv.Name] = struct{}{}
	}
	return SetResult{Successful: true}
}

// TakeUpdated drains and returns the set of parameter names changed since
// the last call, for a caller to feed to a "what changed" callback the way
// original_source's add_parameter_server example logs updates.
func (s *Store) TakeUpdated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updated) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.updated))
	for name := range s.updated {
		names = append(names, name)
	}
	sort.Strings(names)
	s.updated = make(map[string]struct{})
	return names
}

const separator = '.'

// List implements spec.md §4.7's list_parameters prefix/depth filter:
// depth=0 means unlimited; a name matches when it equals a prefix or starts
// with "prefix." and the part after "prefix." has fewer than depth
// separators; with no prefixes, every name matches when depth==0 ("list
// everything"), else names with fewer than depth separators. Derived prefixes
// (name minus its last separator-delimited token) are returned deduplicated.
func (s *Store) List(prefixes []string, depth int) (names []string, derivedPrefixes []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name := range s.params {
		depthOf := strings.Count(name, string(separator))
		getAll := len(prefixes) == 0 && (depth == 0 || depthOf < depth)

		matched := false
		for _, prefix := range prefixes {
			if name == prefix {
				matched = true
				break
			}
			prefixSep := prefix + string(separator)
			if strings.HasPrefix(name, prefixSep) {
				if depth == 0 {
					matched = true
					break
				}
				remainingDepth := strings.Count(name[len(prefixSep):], string(separator))
				if remainingDepth < depth {
					matched = true
					break
				}
			}
		}

		if !getAll && !matched {
			continue
		}
		names = append(names, name)

		if idx := strings.LastIndexByte(name, separator); idx >= 0 {
			prefix := name[:idx]
			if !slices.Contains(derivedPrefixes, prefix) {
				derivedPrefixes = append(derivedPrefixes, prefix)
			}
		}
	}

	sort.Strings(names)
	sort.Strings(derivedPrefixes)
	return names, derivedPrefixes
}

// DescribedParameter is one row of a Describe result: the requested name,
// its Parameter if declared, and whether it was found.
type DescribedParameter struct {
	Name string
	Parameter
	OK bool
}

// Describe returns the Parameter (descriptor + current value) for each
// requested name, in request order; an unknown name yields OK=false at that
// position.
func (s *Store) Describe(names []string) []DescribedParameter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DescribedParameter, len(names))
	for i, name := range names {
		if p, ok := s.params[name]; ok {
			out[i] = DescribedParameter{Name: name, Parameter: *p, OK: true}
		} else {
			out[i].Name = name
		}
	}
	return out
}

// GetTypes returns each requested name's Kind, or KindNotSet if undeclared.
func (s *Store) GetTypes(names []string) []Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Kind, len(names))
	for i, name := range names {
		if p, ok := s.params[name]; ok {
			out[i] = p.Value.Kind
		}
	}
	return out
}
