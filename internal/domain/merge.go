package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Merge combines the per-file datasets of one init time into a single dataset
// spanning the union of their steps and variables. All inputs must carry the
// same single init time and an identical grid. Cells present in more than one
// input must agree; cells present in none stay NaN.
//
// The result does not depend on the order of the inputs.
func Merge(datasets []*Dataset) (*Dataset, error) {
	if len(datasets) == 0 {
		return nil, errors.New("merge: no datasets")
	}
	first := datasets[0]
	if len(first.InitTimes) != 1 {
		return nil, fmt.Errorf("%w: merge expects a single init time, got %d", ErrDimensionMismatch, len(first.InitTimes))
	}
	it := first.InitTimes[0]

	var steps []time.Duration
	var params []Parameter
	for i, ds := range datasets {
		if err := ds.Validate(); err != nil {
			return nil, fmt.Errorf("merge input %d: %w", i, err)
		}
		if ds.Name != first.Name {
			return nil, fmt.Errorf("%w: data variable %q differs from %q", ErrDimensionMismatch, ds.Name, first.Name)
		}
		if len(ds.InitTimes) != 1 || !ds.InitTimes[0].Equal(it) {
			return nil, fmt.Errorf("%w: init times %v differ from %s", ErrDimensionMismatch, ds.InitTimes, it.Format(time.RFC3339))
		}
		if !ds.Grid.Equal(first.Grid) {
			return nil, fmt.Errorf("%w: grid of input %d differs", ErrDimensionMismatch, i)
		}
		for _, s := range ds.Steps {
			if !slices.Contains(steps, s) {
				steps = append(steps, s)
			}
		}
		for _, p := range ds.Variables {
			if !slices.Contains(params, p) {
				params = append(params, p)
			}
		}
	}
	slices.SortFunc(steps, compareDuration)
	SortParameters(params)

	out := NewDataset(first.Name, []time.Time{it}, steps, params, first.Grid)
	filled := make([]bool, len(steps)*len(params))

	for _, ds := range datasets {
		for si, s := range ds.Steps {
			osi := out.StepIndex(s)
			for vi, p := range ds.Variables {
				ovi := out.VariableIndex(p)
				src := ds.Plane(0, si, vi)
				dst := out.Plane(0, osi, ovi)
				cell := osi*len(params) + ovi
				if filled[cell] {
					if !planesEqual(dst, src) {
						return nil, fmt.Errorf("%w: conflicting values for %s at step %s", ErrDimensionMismatch, p, s)
					}
					continue
				}
				copy(dst, src)
				filled[cell] = true
			}
		}
	}
	return out, nil
}

// TrimIrregularSteps drops every step after the first gap that is not exactly
// interval long. Sources that switch to coarser steps late in the run produce
// such gaps.
func TrimIrregularSteps(ds *Dataset, interval time.Duration) *Dataset {
	keep := len(ds.Steps)
	for i := 1; i < len(ds.Steps); i++ {
		if ds.Steps[i]-ds.Steps[i-1] != interval {
			keep = i
			break
		}
	}
	if keep == len(ds.Steps) {
		return ds
	}

	out := NewDataset(ds.Name, ds.InitTimes, ds.Steps[:keep], ds.Variables, ds.Grid)
	for it := range ds.InitTimes {
		for s := range keep {
			for v := range ds.Variables {
				copy(out.Plane(it, s, v), ds.Plane(it, s, v))
			}
		}
	}
	return out
}
