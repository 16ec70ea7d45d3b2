// Package objstore implements the store on top of a flat object bucket.
// Directories, such as unzipped zarr stores, are kept as every object below
// a key prefix.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

// Bucket is the object API of one cloud bucket or repository. Keys use
// forward slashes and never start with one.
type Bucket interface {
	// Name identifies the bucket in logs.
	Name() string

	// Put writes r to key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get copies key to w. A missing key yields domain.ErrNotExist.
	Get(ctx context.Context, key string, w io.Writer) error

	// Stat reports whether key exists as an object.
	Stat(ctx context.Context, key string) (bool, error)

	// List returns every key below prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Ping checks the bucket can be reached with the configured credentials.
	Ping(ctx context.Context) error
}

// Storer adapts a Bucket to the pipeline store contract.
type Storer struct {
	name   string
	bucket Bucket
	logger *slog.Logger
}

// New creates a Storer named name over b.
func New(name string, b Bucket, logger *slog.Logger) *Storer {
	return &Storer{
		name:   name,
		bucket: b,
		logger: logger.With("component", "objstore", "store", name, "bucket", b.Name()),
	}
}

func (s *Storer) Name() string { return s.name }

// Exists reports whether p is an object or a non-empty prefix.
func (s *Storer) Exists(ctx context.Context, p string) (bool, error) {
	key := clean(p)
	ok, err := s.bucket.Stat(ctx, key)
	if err != nil {
		return false, s.unavailable("stat", p, err)
	}
	if ok {
		return true, nil
	}
	keys, err := s.bucket.List(ctx, key+"/")
	if err != nil {
		return false, s.unavailable("list", p, err)
	}
	return len(keys) > 0, nil
}

// Store uploads the local file or directory src to dst, replacing whatever
// dst held, then removes src.
func (s *Storer) Store(ctx context.Context, src, dst string) (int64, error) {
	key := clean(dst)
	files, err := localFiles(src)
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", src, err)
	}
	old, err := s.keysAt(ctx, key)
	if err != nil {
		return 0, s.unavailable("list", dst, err)
	}

	// Metadata goes last so an interrupted upload never publishes metadata
	// that points at missing chunks.
	slices.SortStableFunc(files, func(a, b localFile) int {
		return compareBool(metadata(a.rel), metadata(b.rel))
	})

	var n int64
	written := make(map[string]bool, len(files))
	for _, f := range files {
		k := key
		if f.rel != "" {
			k = key + "/" + f.rel
		}
		if err := s.put(ctx, k, f.path, f.size); err != nil {
			s.rollback(ctx, key, written, old)
			return 0, s.unavailable("put", k, err)
		}
		written[k] = true
		n += f.size
	}

	var stale []string
	for _, k := range old {
		if !written[k] {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		if err := s.bucket.Delete(ctx, stale...); err != nil {
			return 0, s.unavailable("delete", dst, err)
		}
	}
	if err := os.RemoveAll(src); err != nil {
		s.logger.Warn("remove scratch copy failed", "path", src, "error", err)
	}
	s.logger.Debug("stored", "path", key, "objects", len(files), "bytes", n)
	return n, nil
}

// rollback deletes the objects a failed Store created, so a new store reads
// as absent instead of half written. Objects that replaced ones in old stay.
func (s *Storer) rollback(ctx context.Context, key string, written map[string]bool, old []string) {
	for _, k := range old {
		delete(written, k)
	}
	if len(written) == 0 {
		return
	}
	keys := slices.Sorted(maps.Keys(written))
	if err := s.bucket.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		s.logger.Error("rollback of partial upload failed", "path", key, "objects", len(keys), "error", err)
		return
	}
	s.logger.Warn("partial upload rolled back", "path", key, "objects", len(keys))
}

func (s *Storer) ListInitTimes(ctx context.Context, prefix string) ([]time.Time, error) {
	base := clean(prefix)
	if base != "" {
		base += "/"
	}
	keys, err := s.bucket.List(ctx, base)
	if err != nil {
		return nil, s.unavailable("list", prefix, err)
	}
	seen := make(map[time.Time]bool)
	var its []time.Time
	for _, k := range keys {
		folder := strings.TrimPrefix(path.Dir(k), base)
		if strings.Count(folder, "/") != 3 {
			continue
		}
		it, err := domain.ParseRawFolder(folder)
		if err != nil || seen[it] {
			continue
		}
		seen[it] = true
		its = append(its, it)
	}
	slices.SortFunc(its, time.Time.Compare)
	return its, nil
}

func (s *Storer) CopyInitTimeFolderToTemp(ctx context.Context, prefix string, it time.Time, dir *scratch.Dir) ([]string, error) {
	folder := clean(domain.RawFolder(prefix, it)) + "/"
	keys, err := s.bucket.List(ctx, folder)
	if err != nil {
		return nil, s.unavailable("list", folder, err)
	}
	target, err := dir.InitTimeDir(it)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, k := range keys {
		name := strings.TrimPrefix(k, folder)
		if strings.Contains(name, "/") {
			continue
		}
		dst := filepath.Join(target, name)
		if err := s.get(ctx, k, dst); err != nil {
			return nil, s.unavailable("get", k, err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

// Retrieve downloads the object or prefix src to the local path dst.
func (s *Storer) Retrieve(ctx context.Context, src, dst string) error {
	key := clean(src)
	ok, err := s.bucket.Stat(ctx, key)
	if err != nil {
		return s.unavailable("stat", src, err)
	}
	if ok {
		if err := s.get(ctx, key, dst); err != nil {
			return s.unavailable("get", src, err)
		}
		return nil
	}
	keys, err := s.bucket.List(ctx, key+"/")
	if err != nil {
		return s.unavailable("list", src, err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("retrieve %s: %w", src, domain.ErrNotExist)
	}
	for _, k := range keys {
		rel := strings.TrimPrefix(k, key+"/")
		if err := s.get(ctx, k, filepath.Join(dst, filepath.FromSlash(rel))); err != nil {
			return s.unavailable("get", k, err)
		}
	}
	return nil
}

func (s *Storer) Delete(ctx context.Context, p string) error {
	keys, err := s.keysAt(ctx, clean(p))
	if err != nil {
		return s.unavailable("list", p, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.bucket.Delete(ctx, keys...); err != nil {
		return s.unavailable("delete", p, err)
	}
	return nil
}

func (s *Storer) Ping(ctx context.Context) error {
	if err := s.bucket.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrSinkUnavailable, s.bucket.Name(), err)
	}
	return nil
}

// keysAt returns key itself if it is an object plus every key below it.
func (s *Storer) keysAt(ctx context.Context, key string) ([]string, error) {
	keys, err := s.bucket.List(ctx, key+"/")
	if err != nil {
		return nil, err
	}
	ok, err := s.bucket.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Storer) put(ctx context.Context, key, p string, size int64) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.bucket.Put(ctx, key, f, size)
}

func (s *Storer) get(ctx context.Context, key, dst string) error {
	return scratch.WriteAtomic(dst, func(f *os.File) error {
		return s.bucket.Get(ctx, key, f)
	})
}

// unavailable wraps a bucket failure. Missing objects and cancellation keep
// their own class.
func (s *Storer) unavailable(op, p string, err error) error {
	if errors.Is(err, domain.ErrNotExist) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", op, p, err)
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrSinkUnavailable, op, p, err)
}

type localFile struct {
	path string
	rel  string // slash separated path below the stored directory, empty for a file
	size int64
}

func localFiles(src string) ([]localFile, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []localFile{{path: src, size: info.Size()}}, nil
	}
	var files []localFile
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{path: p, rel: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	return files, err
}

// clean turns a store path into a key.
func clean(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// metadata reports whether rel names a zarr metadata object such as .zarray
// or .zmetadata.
func metadata(rel string) bool {
	return rel != "" && strings.HasPrefix(path.Base(rel), ".")
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}
