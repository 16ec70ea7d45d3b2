// Package pipeline drives a source through the download, convert and latest
// phases against a raw store and a zarr store.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

// Fetcher lists, downloads and decodes the files of one upstream source.
// Implementations hold no state between calls and are safe for concurrent use.
type Fetcher interface {
	// Name is the source name used in logs and store names.
	Name() string

	// InitTimeCadence is the interval between the source's model runs.
	InitTimeCadence() time.Duration

	// ListFilesForInitTime returns the files published for it. Data that is
	// not yet published yields an empty slice, not an error.
	ListFilesForInitTime(ctx context.Context, it time.Time) ([]domain.FileInfo, error)

	// DownloadToTemp fetches fi into its deterministic scratch path and
	// returns that path. A repeated call overwrites the previous file.
	DownloadToTemp(ctx context.Context, fi domain.FileInfo, dir *scratch.Dir) (string, error)

	// MapTemp decodes one downloaded file of init time it into a dataset.
	MapTemp(ctx context.Context, it time.Time, p string) (*domain.Dataset, error)
}

// HourlyStepper is implemented by fetchers whose merged step axis is cut at
// the first step that is not one hour after the previous.
type HourlyStepper interface {
	HourlyStepsOnly() bool
}

// Storer persists bytes in one sink. Paths use forward slashes and are
// relative to the sink root. Connectivity failures wrap domain.ErrSinkUnavailable.
type Storer interface {
	Name() string
	Exists(ctx context.Context, p string) (bool, error)

	// Store moves the local file or directory src to dst, replacing dst, and
	// removes src. It returns the number of bytes written.
	Store(ctx context.Context, src, dst string) (int64, error)

	// ListInitTimes returns the init times with a raw folder under prefix,
	// oldest first.
	ListInitTimes(ctx context.Context, prefix string) ([]time.Time, error)

	// CopyInitTimeFolderToTemp copies the raw files of it under prefix into
	// the scratch folder of it and returns their local paths.
	CopyInitTimeFolderToTemp(ctx context.Context, prefix string, it time.Time, dir *scratch.Dir) ([]string, error)

	// Retrieve copies the file or directory src to the local path dst.
	Retrieve(ctx context.Context, src, dst string) error

	Delete(ctx context.Context, p string) error

	// Ping checks that the sink is reachable without reading data.
	Ping(ctx context.Context) error
}

// Notifier announces converted init times to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, ev domain.ConvertedEvent) error
}

// Options tunes a Service.
type Options struct {
	RawDir          string
	ZarrDir         string
	Zip             bool // write .zarr.zip stores
	CreateLatest    bool // refresh the latest store at the end of every command
	Consolidate     bool // append converted init times to the monthly store
	InitTimeWorkers int  // init times processed concurrently
	FileWorkers     int  // files downloaded or decoded concurrently per init time
}

// Service orchestrates one source against a raw store and a zarr store.
type Service struct {
	fetcher  Fetcher
	raw      Storer
	zarr     Storer
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options
	ready    atomic.Bool
	last     atomic.Pointer[RunStatus]
}

// New creates a Service. A nil notifier disables notifications.
func New(f Fetcher, raw, zarr Storer, n Notifier, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Service {
	opts.InitTimeWorkers = max(opts.InitTimeWorkers, 1)
	opts.FileWorkers = max(opts.FileWorkers, 1)
	return &Service{
		fetcher:  f,
		raw:      raw,
		zarr:     zarr,
		notifier: n,
		logger:   logger.With("source", f.Name()),
		metrics:  metrics,
		opts:     opts,
	}
}

// CheckReadiness returns nil once the service has completed an init time.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no init time processed yet")
	}
	return nil
}

// LastRun returns the counters of the most recent finished command, or nil.
func (s *Service) LastRun() *RunStatus {
	return s.last.Load()
}

// Check probes both stores and the scratch directory without moving data.
func (s *Service) Check(ctx context.Context, dir *scratch.Dir) error {
	var errs []error
	for _, st := range []Storer{s.raw, s.zarr} {
		if err := st.Ping(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("store reachable", "store", st.Name())
	}
	probe, err := dir.Path(".probe")
	if err == nil {
		err = scratch.WriteAtomic(probe, func(*os.File) error { return nil })
	}
	if err != nil {
		errs = append(errs, err)
	} else {
		s.logger.Info("scratch writable", "path", dir.Root())
	}
	return errors.Join(errs...)
}

// fatal reports whether err must end the run.
func fatal(err error) bool {
	return errors.Is(err, domain.ErrSinkUnavailable) || errors.Is(err, context.Canceled)
}
