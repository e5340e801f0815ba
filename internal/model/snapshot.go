package model

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Snapshot is an immutable copy of parameter values keyed by parameter name.
// Values are copied in and copied out, so a Snapshot never aliases a live
// model.
type Snapshot struct {
	tensors map[string]*mat.Dense
}

// NewSnapshot captures the current values of params.
func NewSnapshot(params []*Parameter) Snapshot {
	tensors := make(map[string]*mat.Dense, len(params))
	for _, p := range params {
		tensors[p.Name] = mat.DenseCopyOf(p.Value)
	}
	return Snapshot{tensors: tensors}
}

// SnapshotFromTensors builds a snapshot from named matrices.
func SnapshotFromTensors(tensors map[string]*mat.Dense) Snapshot {
	copied := make(map[string]*mat.Dense, len(tensors))
	for name, t := range tensors {
		copied[name] = mat.DenseCopyOf(t)
	}
	return Snapshot{tensors: copied}
}

// Len returns the number of tensors held.
func (s Snapshot) Len() int {
	return len(s.tensors)
}

// Names returns tensor names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.tensors))
	for name := range s.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensor returns a copy of the named tensor.
func (s Snapshot) Tensor(name string) (*mat.Dense, bool) {
	t, ok := s.tensors[name]
	if !ok {
		return nil, false
	}
	return mat.DenseCopyOf(t), true
}

// Equal reports whether both snapshots hold the same names with bit-identical
// values.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.tensors) != len(other.tensors) {
		return false
	}
	for name, t := range s.tensors {
		o, ok := other.tensors[name]
		if !ok || !mat.Equal(t, o) {
			return false
		}
	}
	return true
}

// LoadInto copies the snapshot values into params in place. Every parameter
// must have a tensor of matching shape and every tensor must be consumed.
func (s Snapshot) LoadInto(params []*Parameter) error {
	if len(params) != len(s.tensors) {
		return fmt.Errorf("model: snapshot has %d tensors, model has %d parameters", len(s.tensors), len(params))
	}
	for _, p := range params {
		t, ok := s.tensors[p.Name]
		if !ok {
			return fmt.Errorf("model: snapshot missing parameter %q", p.Name)
		}
		pr, pc := p.Value.Dims()
		tr, tc := t.Dims()
		if pr != tr || pc != tc {
			return fmt.Errorf("model: parameter %q shape %dx%d, snapshot %dx%d", p.Name, pr, pc, tr, tc)
		}
	}
	for _, p := range params {
		p.Value.Copy(s.tensors[p.Name])
	}
	return nil
}
