package observability_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger_Level(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := observability.NewLogger("warn", "text")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger = observability.NewLogger("debug", "json")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := observability.NewMetricsForTesting()
	b := observability.NewMetricsForTesting()
	a.FilesDownloaded.Inc()
	assert.NotSame(t, a.FilesDownloaded, b.FilesDownloaded)
}
