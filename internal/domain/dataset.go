package domain

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Grid describes the two spatial dimensions of a dataset.
type Grid struct {
	YName string    // "y" or "latitude"
	XName string    // "x" or "longitude"
	Y     []float64 // coordinate values along YName
	X     []float64 // coordinate values along XName
}

// Size is the number of points in one 2D plane.
func (g Grid) Size() int {
	return len(g.Y) * len(g.X)
}

// Equal reports whether both grids carry identical dimension names and coordinates.
func (g Grid) Equal(o Grid) bool {
	return g.YName == o.YName && g.XName == o.XName &&
		slices.Equal(g.Y, o.Y) && slices.Equal(g.X, o.X)
}

// RegularAxis returns n evenly spaced values starting at start.
func RegularAxis(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Dataset is a dense labeled array with dimensions
// (init_time, step, variable, y, x). Values is row-major over those dimensions.
type Dataset struct {
	Name      string // name of the data variable, e.g. "UKV"
	InitTimes []time.Time
	Steps     []time.Duration
	Variables []Parameter
	Grid      Grid
	Values    []float32
}

// NewDataset allocates a dataset with all values set to NaN.
func NewDataset(name string, initTimes []time.Time, steps []time.Duration, vars []Parameter, grid Grid) *Dataset {
	ds := &Dataset{
		Name:      name,
		InitTimes: slices.Clone(initTimes),
		Steps:     slices.Clone(steps),
		Variables: slices.Clone(vars),
		Grid:      grid,
	}
	ds.Values = make([]float32, ds.Len())
	nan := float32(math.NaN())
	for i := range ds.Values {
		ds.Values[i] = nan
	}
	return ds
}

// Shape returns the dimension sizes in storage order.
func (d *Dataset) Shape() []int {
	return []int{len(d.InitTimes), len(d.Steps), len(d.Variables), len(d.Grid.Y), len(d.Grid.X)}
}

// Dims returns the dimension names in storage order.
func (d *Dataset) Dims() []string {
	return []string{"init_time", "step", "variable", d.Grid.YName, d.Grid.XName}
}

// Len is the total number of values implied by the coordinates.
func (d *Dataset) Len() int {
	n := 1
	for _, s := range d.Shape() {
		n *= s
	}
	return n
}

// Plane returns the 2D slice for one (init_time, step, variable) cell. The
// returned slice aliases Values.
func (d *Dataset) Plane(it, step, v int) []float32 {
	size := d.Grid.Size()
	off := ((it*len(d.Steps)+step)*len(d.Variables) + v) * size
	return d.Values[off : off+size]
}

// Validate checks that the values slice matches the coordinates.
func (d *Dataset) Validate() error {
	if len(d.Values) != d.Len() {
		return fmt.Errorf("%w: %d values for shape %v", ErrDimensionMismatch, len(d.Values), d.Shape())
	}
	if !slices.IsSortedFunc(d.Steps, compareDuration) {
		return fmt.Errorf("%w: steps not ascending", ErrDimensionMismatch)
	}
	return nil
}

// VariableIndex returns the position of p on the variable axis, or -1.
func (d *Dataset) VariableIndex(p Parameter) int {
	return slices.Index(d.Variables, p)
}

// StepIndex returns the position of s on the step axis, or -1.
func (d *Dataset) StepIndex(s time.Duration) int {
	return slices.Index(d.Steps, s)
}

// DatasetFromFields builds a single init time dataset out of decoded fields.
// Fields the rename function rejects are dropped. Every kept field must match
// the grid size, and a field carrying a reference time must match it.
func DatasetFromFields(name string, it time.Time, grid Grid, fields []Field, rename func(Field) (Parameter, bool)) (*Dataset, error) {
	type key struct {
		step time.Duration
		p    Parameter
	}
	kept := make(map[key][]float32)
	var steps []time.Duration
	var params []Parameter

	for _, f := range fields {
		p, ok := rename(f)
		if !ok {
			continue
		}
		if len(f.Values) != grid.Size() {
			return nil, fmt.Errorf("%w: field %s has %d values, grid %s/%s expects %d",
				ErrDimensionMismatch, f.Name, len(f.Values), grid.YName, grid.XName, grid.Size())
		}
		if !f.InitTime.IsZero() && !f.InitTime.Equal(it) {
			return nil, fmt.Errorf("%w: field %s has init time %s, want %s",
				ErrDimensionMismatch, f.Name, f.InitTime.UTC().Format(time.RFC3339), it.UTC().Format(time.RFC3339))
		}
		k := key{f.Step, p}
		if prev, dup := kept[k]; dup {
			if !planesEqual(prev, f.Values) {
				return nil, fmt.Errorf("%w: conflicting values for %s at step %s", ErrDimensionMismatch, p, f.Step)
			}
			continue
		}
		kept[k] = f.Values
		if !slices.Contains(steps, f.Step) {
			steps = append(steps, f.Step)
		}
		if !slices.Contains(params, p) {
			params = append(params, p)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no recognised parameters among %d fields", len(fields))
	}

	slices.SortFunc(steps, compareDuration)
	SortParameters(params)

	ds := NewDataset(name, []time.Time{it.UTC()}, steps, params, grid)
	for k, values := range kept {
		copy(ds.Plane(0, ds.StepIndex(k.step), ds.VariableIndex(k.p)), values)
	}
	return ds, nil
}

func compareDuration(a, b time.Duration) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// planesEqual compares two planes bitwise so NaN cells compare equal.
func planesEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && !(isNaN(a[i]) && isNaN(b[i])) {
			return false
		}
	}
	return true
}

func isNaN(f float32) bool { return f != f }
