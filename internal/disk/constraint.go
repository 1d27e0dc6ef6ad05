package disk

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// TypeConstraint is a predicate over DiskType used to declare which disks a
// test scenario needs.
type TypeConstraint interface {
	// Resolved reports whether Types can currently be computed.
	Resolved() bool
	// Types returns the set of acceptable disk types.
	Types() (TypeSet, error)
	json.Marshaler
}

// Registry looks up disks already assigned in a test run.
type Registry interface {
	Disk(name string) (*Disk, bool)
}

// TypeSet is an explicit set of disk types. It is always resolved.
type TypeSet uint8

// NewTypeSet builds a set from the given types.
func NewTypeSet(types ...DiskType) TypeSet {
	var s TypeSet
	for _, t := range types {
		s = s.With(t)
	}
	return s
}

// With returns s plus t.
func (s TypeSet) With(t DiskType) TypeSet {
	if !t.Valid() {
		return s
	}
	return s | 1<<uint(t)
}

// Has reports whether t is in s.
func (s TypeSet) Has(t DiskType) bool {
	return t.Valid() && s&(1<<uint(t)) != 0
}

// Len returns the number of types in s.
func (s TypeSet) Len() int {
	return bits.OnesCount8(uint8(s))
}

// Min returns the lowest type in s.
func (s TypeSet) Min() (DiskType, bool) {
	if s == 0 {
		return 0, false
	}
	return DiskType(bits.TrailingZeros8(uint8(s))), true
}

// Sorted returns the members of s in ascending order.
func (s TypeSet) Sorted() []DiskType {
	var out []DiskType
	for _, t := range AllTypes() {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s TypeSet) String() string {
	names := make([]string, 0, s.Len())
	for _, t := range s.Sorted() {
		names = append(names, t.String())
	}
	return "{" + strings.Join(names, ", ") + "}"
}

func (s TypeSet) Resolved() bool { return true }

func (s TypeSet) Types() (TypeSet, error) { return s, nil }

func (s TypeSet) MarshalJSON() ([]byte, error) {
	values := make([]string, 0, s.Len())
	for _, t := range s.Sorted() {
		values = append(values, t.String())
	}
	return json.Marshal(wireSet{Type: "set", Values: values})
}

// LowerThan accepts every type strictly below the type of a named disk.
// It resolves once that disk is registered.
type LowerThan struct {
	Name     string
	Registry Registry
}

func (l LowerThan) Resolved() bool {
	if l.Registry == nil {
		return false
	}
	_, ok := l.Registry.Disk(l.Name)
	return ok
}

func (l LowerThan) Types() (TypeSet, error) {
	if !l.Resolved() {
		return 0, fmt.Errorf("%w: disk %q is not registered", ErrNotResolved, l.Name)
	}
	d, _ := l.Registry.Disk(l.Name)
	var s TypeSet
	for _, t := range AllTypes() {
		if t < d.Type {
			s = s.With(t)
		}
	}
	return s, nil
}

func (l LowerThan) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireConstraint{Type: "operator", Name: "lt", Args: []string{l.Name}})
}

// wireSet always carries values, even for an empty set.
type wireSet struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

type wireConstraint struct {
	Type   string   `json:"type"`
	Values []string `json:"values,omitempty"`
	Name   string   `json:"name,omitempty"`
	Args   []string `json:"args,omitempty"`
}

// ParseConstraint decodes the tagged JSON form produced by MarshalJSON.
// reg is bound to any LowerThan found.
func ParseConstraint(data []byte, reg Registry) (TypeConstraint, error) {
	var w wireConstraint
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode constraint: %w", err)
	}
	switch w.Type {
	case "set":
		var s TypeSet
		for _, v := range w.Values {
			t, err := ParseType(v)
			if err != nil {
				return nil, err
			}
			s = s.With(t)
		}
		return s, nil
	case "operator":
		if w.Name != "lt" {
			return nil, fmt.Errorf("unknown constraint operator %q", w.Name)
		}
		if len(w.Args) != 1 {
			return nil, fmt.Errorf("operator lt takes 1 argument, got %d", len(w.Args))
		}
		return LowerThan{Name: w.Args[0], Registry: reg}, nil
	default:
		return nil, fmt.Errorf("unknown constraint type %q", w.Type)
	}
}

// ParseExpr parses the short command-line form: "set:sata,nand" or "lt:<disk>".
// A bare list of type names is read as a set.
func ParseExpr(expr string, reg Registry) (TypeConstraint, error) {
	kind, arg, found := strings.Cut(strings.TrimSpace(expr), ":")
	if !found {
		kind, arg = "set", kind
	}
	switch kind {
	case "set":
		var s TypeSet
		for _, name := range strings.Split(arg, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			t, err := ParseType(name)
			if err != nil {
				return nil, err
			}
			s = s.With(t)
		}
		return s, nil
	case "lt":
		if arg == "" {
			return nil, fmt.Errorf("lt needs a disk name")
		}
		return LowerThan{Name: arg, Registry: reg}, nil
	default:
		return nil, fmt.Errorf("unknown constraint expression %q", expr)
	}
}

// Satisfies reports whether t is accepted by c.
func Satisfies(c TypeConstraint, t DiskType) (bool, error) {
	s, err := c.Types()
	if err != nil {
		return false, err
	}
	return s.Has(t), nil
}

// Compare orders two constraints. Only the minimum type of each resolved set
// takes part; two different sets with the same minimum compare equal.
func Compare(a, b TypeConstraint) (int, error) {
	am, err := minType(a)
	if err != nil {
		return 0, err
	}
	bm, err := minType(b)
	if err != nil {
		return 0, err
	}
	return cmp.Compare(am, bm), nil
}

// Less reports whether a orders before b under Compare.
func Less(a, b TypeConstraint) (bool, error) {
	c, err := Compare(a, b)
	return c < 0, err
}

// LessOrEqual reports whether a orders before or equal to b under Compare.
func LessOrEqual(a, b TypeConstraint) (bool, error) {
	c, err := Compare(a, b)
	return c <= 0, err
}

// Equal reports whether a and b compare equal under Compare.
func Equal(a, b TypeConstraint) (bool, error) {
	c, err := Compare(a, b)
	return c == 0, err
}

func minType(c TypeConstraint) (DiskType, error) {
	s, err := c.Types()
	if err != nil {
		return 0, err
	}
	m, ok := s.Min()
	if !ok {
		return 0, ErrEmptyTypeSet
	}
	return m, nil
}
