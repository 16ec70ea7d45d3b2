package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

// CreateLatestZarr replaces the latest store with a copy of the newest init
// time that has a zarr store. It returns the latest store path, or an empty
// string when nothing has been converted yet.
func (s *Service) CreateLatestZarr(ctx context.Context, dir *scratch.Dir) (string, error) {
	its, err := s.raw.ListInitTimes(ctx, s.opts.RawDir)
	if err != nil {
		return "", fmt.Errorf("list raw init times: %w", err)
	}
	slices.SortFunc(its, func(a, b time.Time) int { return b.Compare(a) })

	var src string
	var newest time.Time
	for _, it := range its {
		p := domain.ZarrPath(s.opts.ZarrDir, it, s.opts.Zip)
		ok, err := s.zarr.Exists(ctx, p)
		if err != nil {
			return "", err
		}
		if ok {
			src, newest = p, it
			break
		}
	}
	if src == "" {
		s.logger.Warn("no converted init time, latest zarr not created")
		return "", nil
	}

	work, err := os.MkdirTemp(dir.Root(), "latest-")
	if err != nil {
		return "", fmt.Errorf("reserve scratch: %w", err)
	}
	defer os.RemoveAll(work)
	local := filepath.Join(work, path.Base(src))
	if err := s.zarr.Retrieve(ctx, src, local); err != nil {
		return "", err
	}

	dst := domain.LatestZarrPath(s.opts.ZarrDir, s.opts.Zip)
	exists, err := s.zarr.Exists(ctx, dst)
	if err != nil {
		return "", err
	}
	if exists {
		if err := s.zarr.Delete(ctx, dst); err != nil {
			return "", fmt.Errorf("delete previous latest: %w", err)
		}
	}
	n, err := s.storeWithRetry(ctx, s.zarr, local, dst)
	if err != nil {
		return "", err
	}
	s.logger.Info("latest zarr updated", "init_time", newest, "path", dst, "bytes", n)
	return dst, nil
}
