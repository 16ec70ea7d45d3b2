package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
	"github.com/couchcryptid/nwp-consumer/internal/zarr"
	"golang.org/x/sync/errgroup"
)

// ConvertRawDatasetToZarr converts every init time in [start, end) that the
// raw store holds and the zarr store does not.
func (s *Service) ConvertRawDatasetToZarr(ctx context.Context, dir *scratch.Dir, start, end time.Time) (*Summary, error) {
	sum := newSummary()
	logger := s.logger.With("run_id", sum.RunID)

	stored, err := s.raw.ListInitTimes(ctx, s.opts.RawDir)
	if err != nil {
		return sum, fmt.Errorf("list raw init times: %w", err)
	}
	var its []time.Time
	for _, it := range stored {
		if inRange(it, start, end) {
			its = append(its, it)
		}
	}
	sum.InitTimes = len(its)
	logger.Info("convert started", "from", start, "to", end, "init_times", len(its))

	err = s.forEachInitTime(ctx, its, func(ctx context.Context, it time.Time) error {
		return s.convertInitTime(ctx, logger, dir, it, sum, true)
	})
	if err == nil {
		err = s.afterConvert(ctx, logger, dir, sum)
	}
	sum.finish(logger, "convert")
	s.last.Store(sum.status("convert", err))
	return sum, err
}

// DownloadAndConvert downloads each init time in [start, end) and converts
// it once all of its files are in the raw store.
func (s *Service) DownloadAndConvert(ctx context.Context, dir *scratch.Dir, start, end time.Time) (*Summary, error) {
	its := domain.InitTimes(start, end, s.fetcher.InitTimeCadence())
	sum := newSummary()
	sum.InitTimes = len(its)
	logger := s.logger.With("run_id", sum.RunID)
	logger.Info("consume started", "from", start, "to", end, "init_times", len(its))

	err := s.forEachInitTime(ctx, its, func(ctx context.Context, it time.Time) error {
		res, err := s.downloadInitTime(ctx, logger, dir, it)
		sum.addDownload(res)
		if err != nil {
			return err
		}
		if !res.complete() {
			if res.listed > 0 {
				logger.Warn("init time incomplete, not converting", "init_time", it, "failed", res.failed)
			}
			return nil
		}
		return s.convertInitTime(ctx, logger, dir, it, sum, false)
	})
	if err == nil {
		err = s.afterConvert(ctx, logger, dir, sum)
	}
	sum.finish(logger, "consume")
	s.last.Store(sum.status("consume", err))
	return sum, err
}

func (s *Service) afterConvert(ctx context.Context, logger *slog.Logger, dir *scratch.Dir, sum *Summary) error {
	if s.opts.Consolidate {
		if err := s.consolidate(ctx, logger, dir, sum); err != nil {
			return err
		}
	}
	if s.opts.CreateLatest {
		p, err := s.CreateLatestZarr(ctx, dir)
		if err != nil {
			return err
		}
		sum.LatestPath = p
	}
	return nil
}

// convertInitTime merges the raw files of it into a new zarr store. With
// verifyRaw set, the raw folder is first checked against the source listing
// and an incomplete folder is left for a later run.
func (s *Service) convertInitTime(ctx context.Context, logger *slog.Logger, dir *scratch.Dir, it time.Time, sum *Summary, verifyRaw bool) error {
	dst := domain.ZarrPath(s.opts.ZarrDir, it, s.opts.Zip)
	exists, err := s.zarr.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		logger.Debug("zarr exists, skipping", "init_time", it, "path", dst)
		sum.addSkipped()
		return nil
	}
	if verifyRaw {
		missing, err := s.missingRawFiles(ctx, it)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			logger.Warn("raw folder incomplete, not converting",
				"init_time", it, "missing", len(missing), "first_missing", missing[0])
			sum.addIncomplete()
			return nil
		}
	}

	paths, err := s.raw.CopyInitTimeFolderToTemp(ctx, s.opts.RawDir, it, dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		sum.addSkipped()
		return nil
	}

	ds, err := s.mapAndMerge(ctx, it, paths)
	if err != nil {
		sum.addConvertFailed()
		s.metrics.ConvertErrors.Inc()
		return err
	}

	n, err := zarr.SaveDataset(ctx, s.zarr, dir, ds, dst)
	if err != nil {
		if !fatal(err) {
			sum.addConvertFailed()
			s.metrics.ConvertErrors.Inc()
		}
		return fmt.Errorf("save %s: %w", dst, err)
	}
	sum.addConverted(it, dst, n)
	s.metrics.DatasetsConverted.Inc()
	s.metrics.BytesStored.Add(float64(n))
	logger.Info("init time converted", "init_time", it, "path", dst,
		"steps", len(ds.Steps), "variables", len(ds.Variables))

	s.notify(ctx, logger, domain.NewConvertedEvent(s.fetcher.Name(), ds, dst, n))
	return nil
}

// missingRawFiles returns the names of the files the source lists for it
// that the raw store lacks. A run the source no longer lists has nothing
// left to fetch and counts as complete.
func (s *Service) missingRawFiles(ctx context.Context, it time.Time) ([]string, error) {
	files, err := s.fetcher.ListFilesForInitTime(ctx, it)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	var missing []string
	for _, fi := range files {
		ok, err := s.raw.Exists(ctx, domain.RawPath(s.opts.RawDir, fi))
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, fi.Filename())
		}
	}
	return missing, nil
}

// mapAndMerge decodes the raw files of one init time and merges them. Any
// file that fails to decode fails the whole init time.
func (s *Service) mapAndMerge(ctx context.Context, it time.Time, paths []string) (*domain.Dataset, error) {
	datasets := make([]*domain.Dataset, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FileWorkers)
	for i, p := range paths {
		g.Go(func() error {
			defer os.Remove(p)
			ds, err := s.fetcher.MapTemp(gctx, it, p)
			if err != nil {
				return fmt.Errorf("map %s: %w", filepath.Base(p), err)
			}
			datasets[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := domain.Merge(datasets)
	if err != nil {
		return nil, err
	}
	if hs, ok := s.fetcher.(HourlyStepper); ok && hs.HourlyStepsOnly() {
		merged = domain.TrimIrregularSteps(merged, time.Hour)
	}
	return merged, nil
}

// consolidate appends the init times converted in this run to their monthly
// stores, oldest first. Init times not after a store's last one are skipped.
func (s *Service) consolidate(ctx context.Context, logger *slog.Logger, dir *scratch.Dir, sum *Summary) error {
	for _, it := range sum.convertedInitTimes() {
		dst := domain.ConsolidatedZarrPath(s.opts.ZarrDir, s.fetcher.Name(), it)
		n, err := s.consolidateOne(ctx, dir, it, dst)
		if err != nil {
			if fatal(err) {
				return err
			}
			logger.Error("consolidate failed", "init_time", it, "path", dst, "error", err)
			continue
		}
		if n > 0 {
			sum.addBytes(n)
			logger.Info("init time consolidated", "init_time", it, "path", dst)
		}
	}
	return nil
}

func (s *Service) consolidateOne(ctx context.Context, dir *scratch.Dir, it time.Time, dst string) (int64, error) {
	ds, err := zarr.OpenDataset(ctx, s.zarr, dir, domain.ZarrPath(s.opts.ZarrDir, it, s.opts.Zip))
	if err != nil {
		return 0, err
	}
	exists, err := s.zarr.Exists(ctx, dst)
	if err != nil {
		return 0, err
	}
	if !exists {
		return zarr.SaveDataset(ctx, s.zarr, dir, ds, dst)
	}
	coords, err := zarr.InspectDataset(ctx, s.zarr, dir, dst)
	if err != nil {
		return 0, err
	}
	if last := coords.InitTimes[len(coords.InitTimes)-1]; !it.After(last) {
		return 0, nil
	}
	return zarr.AppendDataset(ctx, s.zarr, dir, ds, dst)
}

func (s *Service) notify(ctx context.Context, logger *slog.Logger, ev domain.ConvertedEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		logger.Warn("notify failed", "init_time", ev.InitTime, "error", err)
		s.metrics.Notifications.WithLabelValues("error").Inc()
		return
	}
	s.metrics.Notifications.WithLabelValues("success").Inc()
}

func inRange(it, start, end time.Time) bool {
	if start.Equal(end) {
		return it.Equal(start)
	}
	return !it.Before(start) && it.Before(end)
}
