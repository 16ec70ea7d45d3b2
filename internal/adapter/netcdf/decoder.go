// Package netcdf decodes NetCDF files into domain fields.
package netcdf

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
)

// Variables holding the CF time coordinates of a single forecast field.
const (
	referenceTimeVar  = "forecast_reference_time" // seconds since 1970-01-01
	forecastPeriodVar = "forecast_period"         // seconds
)

// Decoder reads the 2D data variables of a NetCDF file. Variables with a
// leading dimension of length one are squeezed; coordinate and bounds
// variables are skipped.
type Decoder struct{}

func (Decoder) Decode(ctx context.Context, p string) ([]domain.Field, error) {
	nc, err := netcdf.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open netcdf %s: %w", p, err)
	}
	defer nc.Close()

	var it time.Time
	if secs, ok := scalar(nc, referenceTimeVar); ok {
		it = time.Unix(int64(secs), 0).UTC()
	}
	var step time.Duration
	if secs, ok := scalar(nc, forecastPeriodVar); ok {
		step = time.Duration(secs) * time.Second
	}

	var fields []domain.Field
	for _, name := range nc.ListVariables() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		if len(vg.Dimensions()) < 2 || slices.Contains(vg.Dimensions(), name) {
			continue
		}
		raw, err := vg.Values()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		values, ok := flatten(raw)
		if !ok {
			continue
		}
		fields = append(fields, domain.Field{Name: name, InitTime: it, Step: step, Values: values})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("netcdf %s: no 2D data variables", p)
	}
	return fields, nil
}

// flatten converts a 2D field, or a 3D field with a single leading slice, to
// row-major float32 values.
func flatten(v any) ([]float32, bool) {
	switch a := v.(type) {
	case [][]float32:
		return rows(a, func(f float32) float32 { return f }), true
	case [][]float64:
		return rows(a, func(f float64) float32 { return float32(f) }), true
	case [][][]float32:
		if len(a) != 1 {
			return nil, false
		}
		return rows(a[0], func(f float32) float32 { return f }), true
	case [][][]float64:
		if len(a) != 1 {
			return nil, false
		}
		return rows(a[0], func(f float64) float32 { return float32(f) }), true
	}
	return nil, false
}

func rows[T any](a [][]T, conv func(T) float32) []float32 {
	var out []float32
	for _, row := range a {
		for _, v := range row {
			out = append(out, conv(v))
		}
	}
	return out
}

// scalar reads a numeric scalar variable.
func scalar(nc api.Group, name string) (float64, bool) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return 0, false
	}
	v, err := vg.Values()
	if err != nil {
		return 0, false
	}
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case []int32:
		if len(n) == 1 {
			return float64(n[0]), true
		}
	case []int64:
		if len(n) == 1 {
			return float64(n[0]), true
		}
	case []float64:
		if len(n) == 1 {
			return n[0], true
		}
	}
	return 0, false
}
