// Package localfs implements the store on the local filesystem.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

// rawFolderPattern matches YYYY/MM/DD/HHMM folders below a raw store root.
const rawFolderPattern = "[0-9][0-9][0-9][0-9]/[0-9][0-9]/[0-9][0-9]/[0-9][0-9][0-9][0-9]"

// Storer keeps files below local directories.
type Storer struct {
	dirs   []string
	logger *slog.Logger
}

// New creates a Storer. Ping checks that dirs exist or can be created.
func New(logger *slog.Logger, dirs ...string) *Storer {
	return &Storer{dirs: dirs, logger: logger.With("component", "localfs")}
}

func (s *Storer) Name() string { return "local" }

func (s *Storer) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Stat(filepath.FromSlash(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %w", domain.ErrSinkUnavailable, p, err)
}

// Store moves src to dst, replacing dst. Moves across filesystems fall back
// to copy and delete.
func (s *Storer) Store(_ context.Context, src, dst string) (int64, error) {
	dst = filepath.FromSlash(dst)
	n, err := size(src)
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrSinkUnavailable, err)
	}
	if err := os.RemoveAll(dst); err != nil {
		return 0, fmt.Errorf("%w: replace %s: %w", domain.ErrSinkUnavailable, dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		if err := copyTree(src, dst); err != nil {
			return 0, fmt.Errorf("%w: store %s: %w", domain.ErrSinkUnavailable, dst, err)
		}
		if err := os.RemoveAll(src); err != nil {
			s.logger.Warn("remove scratch copy failed", "path", src, "error", err)
		}
	}
	s.logger.Debug("stored", "path", dst, "bytes", n)
	return n, nil
}

func (s *Storer) ListInitTimes(_ context.Context, prefix string) ([]time.Time, error) {
	root := filepath.FromSlash(prefix)
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	folders, err := doublestar.Glob(os.DirFS(root), rawFolderPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", domain.ErrSinkUnavailable, prefix, err)
	}
	var its []time.Time
	for _, f := range folders {
		entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(f)))
		if err != nil || !hasFile(entries) {
			continue
		}
		it, err := domain.ParseRawFolder(f)
		if err != nil {
			s.logger.Debug("ignoring folder", "path", f, "error", err)
			continue
		}
		its = append(its, it)
	}
	slices.SortFunc(its, time.Time.Compare)
	return its, nil
}

func (s *Storer) CopyInitTimeFolderToTemp(_ context.Context, prefix string, it time.Time, dir *scratch.Dir) ([]string, error) {
	folder := filepath.FromSlash(domain.RawFolder(prefix, it))
	entries, err := os.ReadDir(folder)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrSinkUnavailable, folder, err)
	}
	target, err := dir.InitTimeDir(it)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !rawFile(e) {
			continue
		}
		dst := filepath.Join(target, e.Name())
		if err := copyFile(filepath.Join(folder, e.Name()), dst); err != nil {
			return nil, fmt.Errorf("%w: copy %s: %w", domain.ErrSinkUnavailable, e.Name(), err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func (s *Storer) Retrieve(_ context.Context, src, dst string) error {
	if err := copyTree(filepath.FromSlash(src), dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("retrieve %s: %w", src, domain.ErrNotExist)
		}
		return fmt.Errorf("%w: retrieve %s: %w", domain.ErrSinkUnavailable, src, err)
	}
	return nil
}

func (s *Storer) Delete(_ context.Context, p string) error {
	if err := os.RemoveAll(filepath.FromSlash(p)); err != nil {
		return fmt.Errorf("%w: delete %s: %w", domain.ErrSinkUnavailable, p, err)
	}
	return nil
}

func (s *Storer) Ping(_ context.Context) error {
	for _, d := range s.dirs {
		if err := os.MkdirAll(filepath.FromSlash(d), 0o755); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrSinkUnavailable, err)
		}
	}
	return nil
}

func hasFile(entries []fs.DirEntry) bool {
	return slices.ContainsFunc(entries, rawFile)
}

// rawFile reports whether e is a stored raw file rather than a folder or the
// temporary of an interrupted copy.
func rawFile(e fs.DirEntry) bool {
	return !e.IsDir() && !scratch.IsPartial(e.Name())
}

func size(p string) (int64, error) {
	var n int64
	err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		n += info.Size()
		return nil
	})
	return n, err
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return scratch.WriteAtomic(dst, func(out *os.File) error {
		_, err := io.Copy(out, in)
		return err
	})
}
