package testrun

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/escape-velocity-ventures/disk-harness/internal/config"
	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
)

// ErrUnsatisfied matches every *UnsatisfiedError.
var ErrUnsatisfied = errors.New("disk requirements not satisfied")

// Requirement asks for one disk whose type satisfies Constraint and which
// provides Features.
type Requirement struct {
	Name       string
	Constraint disk.TypeConstraint
	Features   map[disk.DiskType][]string
}

// UnsatisfiedError lists the requirements no disk could be assigned to.
type UnsatisfiedError struct {
	Names []string
}

func (e *UnsatisfiedError) Error() string {
	return "unable to satisfy disk requirements: " + strings.Join(e.Names, ", ")
}

func (e *UnsatisfiedError) Is(target error) bool {
	return target == ErrUnsatisfied
}

// Requirements converts configured requirements. LowerThan constraints are
// bound to r.
func (r *Run) Requirements(reqs []config.Requirement) ([]Requirement, error) {
	out := make([]Requirement, 0, len(reqs))
	for _, c := range reqs {
		req := Requirement{Name: c.Name}
		if c.LowerThan != "" {
			req.Constraint = disk.LowerThan{Name: c.LowerThan, Registry: r}
		} else {
			var set disk.TypeSet
			for _, name := range c.Types {
				t, err := disk.ParseType(name)
				if err != nil {
					return nil, fmt.Errorf("requirement %q: %w", c.Name, err)
				}
				set = set.With(t)
			}
			req.Constraint = set
		}
		if len(c.Features) > 0 {
			req.Features = make(map[disk.DiskType][]string, len(c.Features))
			for name, feats := range c.Features {
				t, err := disk.ParseType(name)
				if err != nil {
					return nil, fmt.Errorf("requirement %q: %w", c.Name, err)
				}
				req.Features[t] = feats
			}
		}
		out = append(out, req)
	}
	return out, nil
}

// Assign gives every requirement the first unused discovered disk that
// satisfies it, discovering first when needed. Requirements whose
// constraint refers to another requirement wait until that one is
// assigned. Assignment stops when a pass makes no progress; the
// requirements left over are reported in an *UnsatisfiedError.
func (r *Run) Assign(ctx context.Context, reqs []Requirement) error {
	if r.discovered == nil {
		if _, err := r.Discover(ctx); err != nil {
			return err
		}
	}

	pending := make([]Requirement, 0, len(reqs))
	for _, req := range reqs {
		if _, ok := r.assigned[req.Name]; ok {
			return fmt.Errorf("requirement %q is already assigned", req.Name)
		}
		pending = append(pending, req)
	}

	for progress := true; progress && len(pending) > 0; {
		progress = false
		var next []Requirement
		for _, req := range pending {
			if !req.Constraint.Resolved() {
				next = append(next, req)
				continue
			}
			d, err := r.pick(req)
			if err != nil {
				return fmt.Errorf("requirement %q: %w", req.Name, err)
			}
			if d == nil {
				next = append(next, req)
				continue
			}
			r.assigned[req.Name] = d
			r.order = append(r.order, req.Name)
			r.log.Info("assigned disk", "requirement", req.Name, "type", d.Type, "path", d.Path)
			progress = true
		}
		pending = next
	}

	if len(pending) > 0 {
		names := make([]string, len(pending))
		for i, req := range pending {
			names[i] = req.Name
		}
		return &UnsatisfiedError{Names: names}
	}
	return nil
}

func (r *Run) pick(req Requirement) (*disk.Disk, error) {
	used := make(map[*disk.Disk]bool, len(r.assigned))
	for _, d := range r.assigned {
		used[d] = true
	}
	for _, d := range r.discovered {
		if used[d] {
			continue
		}
		ok, err := disk.Satisfies(req.Constraint, d.Type)
		if err != nil {
			return nil, err
		}
		if ok && d.HasFeatures(req.Features) {
			return d, nil
		}
	}
	return nil, nil
}
