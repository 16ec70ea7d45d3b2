package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
	"github.com/couchcryptid/storm-data-shared/retry"
	"golang.org/x/sync/errgroup"
)

const (
	storeAttempts   = 3
	storeBackoff    = 200 * time.Millisecond
	storeMaxBackoff = 5 * time.Second
)

type downloadResult struct {
	listed     int
	downloaded int
	skipped    int
	failed     int
	bytes      int64
}

// complete reports whether every listed file is now in the raw store.
func (r downloadResult) complete() bool {
	return r.listed > 0 && r.failed == 0
}

// DownloadRawDataset copies every file of every init time in [start, end)
// into the raw store. Files already in the raw store are not fetched again.
// Failed files and init times are logged and skipped; an unreachable sink ends
// the run with an error. With CreateLatest set, the latest store is refreshed
// from the zarr stores already converted.
func (s *Service) DownloadRawDataset(ctx context.Context, dir *scratch.Dir, start, end time.Time) (*Summary, error) {
	its := domain.InitTimes(start, end, s.fetcher.InitTimeCadence())
	sum := newSummary()
	sum.InitTimes = len(its)
	logger := s.logger.With("run_id", sum.RunID)
	logger.Info("download started", "from", start, "to", end, "init_times", len(its))

	err := s.forEachInitTime(ctx, its, func(ctx context.Context, it time.Time) error {
		res, err := s.downloadInitTime(ctx, logger, dir, it)
		sum.addDownload(res)
		return err
	})
	if err == nil && s.opts.CreateLatest {
		sum.LatestPath, err = s.CreateLatestZarr(ctx, dir)
	}
	sum.finish(logger, "download")
	s.last.Store(sum.status("download", err))
	return sum, err
}

// forEachInitTime runs fn for each init time on the init time worker pool.
// Errors other than fatal ones are logged against their init time.
func (s *Service) forEachInitTime(ctx context.Context, its []time.Time, fn func(context.Context, time.Time) error) error {
	s.metrics.PipelineRunning.Set(1)
	defer s.metrics.PipelineRunning.Set(0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.InitTimeWorkers)
	for _, it := range its {
		g.Go(func() error {
			start := time.Now()
			err := fn(gctx, it)
			s.metrics.InitTimeDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				if fatal(err) {
					return err
				}
				s.logger.Error("init time failed", "init_time", it, "error", err)
				return nil
			}
			s.ready.Store(true)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) downloadInitTime(ctx context.Context, logger *slog.Logger, dir *scratch.Dir, it time.Time) (downloadResult, error) {
	var res downloadResult
	files, err := s.fetcher.ListFilesForInitTime(ctx, it)
	if err != nil {
		return res, fmt.Errorf("list files: %w", err)
	}
	res.listed = len(files)
	if len(files) == 0 {
		logger.Info("no files published", "init_time", it)
		return res, nil
	}
	logger.Debug("files listed", "init_time", it, "count", len(files))

	results := make([]downloadResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FileWorkers)
	for i, fi := range files {
		g.Go(func() error {
			r, err := s.downloadFile(gctx, dir, fi)
			results[i] = r
			if err == nil {
				return nil
			}
			if fatal(err) {
				return err
			}
			logger.Warn("download failed, skipping file",
				"init_time", it, "file", fi.Filename(), "error", err)
			s.metrics.DownloadErrors.Inc()
			results[i].failed = 1
			return nil
		})
	}
	err = g.Wait()
	for _, r := range results {
		res.downloaded += r.downloaded
		res.skipped += r.skipped
		res.failed += r.failed
		res.bytes += r.bytes
	}
	if err != nil {
		return res, err
	}
	logger.Info("init time downloaded", "init_time", it,
		"downloaded", res.downloaded, "skipped", res.skipped, "failed", res.failed)
	return res, nil
}

func (s *Service) downloadFile(ctx context.Context, dir *scratch.Dir, fi domain.FileInfo) (downloadResult, error) {
	dst := domain.RawPath(s.opts.RawDir, fi)
	exists, err := s.raw.Exists(ctx, dst)
	if err != nil {
		return downloadResult{}, err
	}
	if exists {
		s.metrics.FilesSkipped.Inc()
		return downloadResult{skipped: 1}, nil
	}

	local, err := s.fetcher.DownloadToTemp(ctx, fi, dir)
	if err != nil {
		return downloadResult{}, err
	}
	n, err := s.storeWithRetry(ctx, s.raw, local, dst)
	if err != nil {
		_ = os.Remove(local)
		return downloadResult{}, err
	}
	s.metrics.FilesDownloaded.Inc()
	s.metrics.BytesStored.Add(float64(n))
	return downloadResult{downloaded: 1, bytes: n}, nil
}

// storeWithRetry retries sink failures with exponential backoff before
// giving up on the sink.
func (s *Service) storeWithRetry(ctx context.Context, st Storer, src, dst string) (int64, error) {
	backoff := storeBackoff
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		var n int64
		n, err = st.Store(ctx, src, dst)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, domain.ErrSinkUnavailable) || attempt == storeAttempts {
			break
		}
		s.logger.Warn("store failed, retrying", "store", st.Name(), "path", dst, "attempt", attempt, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return 0, ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, storeMaxBackoff)
	}
	return 0, err
}
