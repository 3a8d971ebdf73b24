package nn

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Tensor is the serialized form of a parameter.
type Tensor struct {
	Shape []int     `msgpack:"shape" json:"shape"`
	Data  []float64 `msgpack:"data" json:"data"`
}

// StateDict maps parameter names to their values.
type StateDict map[string]Tensor

// StateDictOf snapshots params. The result shares no memory with them.
func StateDictOf(params []*Param) StateDict {
	sd := make(StateDict, len(params))
	for _, p := range params {
		sd[p.Name] = Tensor{Shape: slices.Clone(p.Shape), Data: slices.Clone(p.Data)}
	}
	return sd
}

// Names returns the keys of sd in sorted order.
func (sd StateDict) Names() []string {
	names := make([]string, 0, len(sd))
	for n := range sd {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StateDictError reports the structural differences between a state dict
// and the parameters it was loaded into.
type StateDictError struct {
	Missing    []string // parameters absent from the state dict
	Unexpected []string // state dict entries with no parameter
	Mismatched []string // present in both with different shapes
}

func (e *StateDictError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %v", e.Missing))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected %v", e.Unexpected))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, fmt.Sprintf("shape mismatch %v", e.Mismatched))
	}
	return "nn: state dict does not match model: " + strings.Join(parts, "; ")
}

// LoadReport lists what a LoadStateDict call copied and skipped.
type LoadReport struct {
	Loaded []string
	StateDictError
}

// Skipped reports whether any parameter or entry was not copied.
func (r LoadReport) Skipped() bool {
	return len(r.Missing)+len(r.Unexpected)+len(r.Mismatched) > 0
}

// LoadStateDict copies sd into params. In strict mode nothing is copied
// unless sd matches params exactly, and a *StateDictError is returned
// otherwise. In non-strict mode every entry whose name and shape match is
// copied and the rest keep their current values.
func LoadStateDict(params []*Param, sd StateDict, strict bool) (LoadReport, error) {
	var r LoadReport
	known := make(map[string]bool, len(params))
	var copyable []*Param
	for _, p := range params {
		known[p.Name] = true
		t, ok := sd[p.Name]
		switch {
		case !ok:
			r.Missing = append(r.Missing, p.Name)
		case !slices.Equal(t.Shape, p.Shape) || len(t.Data) != p.Size():
			r.Mismatched = append(r.Mismatched, p.Name)
		default:
			copyable = append(copyable, p)
		}
	}
	for _, name := range sd.Names() {
		if !known[name] {
			r.Unexpected = append(r.Unexpected, name)
		}
	}

	if strict && r.Skipped() {
		err := r.StateDictError
		return r, &err
	}
	for _, p := range copyable {
		copy(p.Data, sd[p.Name].Data)
		r.Loaded = append(r.Loaded, p.Name)
	}
	return r, nil
}
