package domain

import (
	"fmt"
	"time"
)

// Accepted layouts for the --from and --to flags.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04"
)

// InitTimes enumerates the init times in [start, end) that fall on a cadence
// boundary counted from UTC midnight of the start day. When start equals end
// the result holds start alone if it is aligned.
func InitTimes(start, end time.Time, cadence time.Duration) []time.Time {
	if cadence <= 0 {
		return nil
	}
	start, end = start.UTC(), end.UTC()
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)

	first := midnight
	if off := start.Sub(midnight); off > 0 {
		n := (off + cadence - 1) / cadence
		first = midnight.Add(n * cadence)
	}

	if start.Equal(end) {
		if first.Equal(start) {
			return []time.Time{start}
		}
		return nil
	}

	var out []time.Time
	for t := first; t.Before(end); t = t.Add(cadence) {
		out = append(out, t)
	}
	return out
}

// ParseTimeRange resolves the --from and --to flag values. An empty from means
// midnight of today; an empty to means one day after from. Both accept a date
// or a date with hour and minute, interpreted as UTC.
func ParseTimeRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	var start time.Time
	if from == "" {
		n := now.UTC()
		start = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		t, err := parseFlagTime(from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: --from: %w", ErrConfig, err)
		}
		start = t
	}

	end := start.Add(24 * time.Hour)
	if to != "" {
		t, err := parseFlagTime(to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: --to: %w", ErrConfig, err)
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --to %s is before --from %s",
			ErrConfig, end.Format(DateTimeLayout), start.Format(DateTimeLayout))
	}
	return start, end, nil
}

func parseFlagTime(s string) (time.Time, error) {
	for _, layout := range []string{DateTimeLayout, DateLayout} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor YYYY-MM-DDTHH:MM", s)
}
