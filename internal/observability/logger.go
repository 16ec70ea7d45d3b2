package observability

import (
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// NewLogger builds the base logger on stdout and installs it as the slog
// default. format is "json" or "text"; level falls back to info.
func NewLogger(level, format string) *slog.Logger {
	return sharedobs.NewLogger(level, format).With("service", "nwp-consumer")
}
