// Package grib decodes GRIB2 files into domain fields.
package grib

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/nilsmagnus/grib/griblib"
)

// Decoder reads every message of a GRIB2 file.
type Decoder struct{}

// Decode parses the file at p. Each message becomes one field named by its
// parameter code and tagged with its first fixed surface.
func (Decoder) Decode(ctx context.Context, p string) ([]domain.Field, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	messages, err := griblib.ReadMessages(f)
	if err != nil {
		return nil, fmt.Errorf("read grib %s: %w", p, err)
	}
	fields := make([]domain.Field, 0, len(messages))
	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fields = append(fields, field(m))
	}
	return fields, nil
}

func field(m *griblib.Message) domain.Field {
	pdt := m.Section4.ProductDefinitionTemplate
	rt := m.Section1.ReferenceTime
	data := m.Data()
	values := make([]float32, len(data))
	for i, v := range data {
		values[i] = float32(v)
	}
	return domain.Field{
		Name:     ShortName(m.Section0.Discipline, pdt.ParameterCategory, pdt.ParameterNumber),
		Level:    Level(pdt.FirstSurface.Type, pdt.FirstSurface.Value),
		InitTime: time.Date(int(rt.Year), time.Month(rt.Month), int(rt.Day), int(rt.Hour), int(rt.Minute), int(rt.Second), 0, time.UTC),
		Step:     leadTime(pdt.TimeUnitIndicator, pdt.ForecastTime),
		Values:   values,
	}
}

// Level formats a fixed surface as "<type>:<value>".
func Level(surfaceType uint8, value uint32) string {
	return fmt.Sprintf("%d:%d", surfaceType, value)
}

// leadTime converts a forecast time in the units of code table 4.4.
func leadTime(unit uint8, n uint32) time.Duration {
	d := time.Duration(n)
	switch unit {
	case 0:
		return d * time.Minute
	case 2:
		return d * 24 * time.Hour
	case 10:
		return d * 3 * time.Hour
	case 11:
		return d * 6 * time.Hour
	case 12:
		return d * 12 * time.Hour
	case 13:
		return d * time.Second
	default:
		return d * time.Hour
	}
}
