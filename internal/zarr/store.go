package zarr

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/klauspost/compress/zip"
)

// kvReader reads keys of an existing store.
type kvReader interface {
	get(key string) ([]byte, error)
	close() error
}

// kvWriter writes keys of a store under construction.
type kvWriter interface {
	set(key string, value []byte) error
	close() error
}

// IsZip reports whether p names a zipped store.
func IsZip(p string) bool {
	return strings.HasSuffix(p, ".zip")
}

func openReader(p string) (kvReader, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open store %s: %w", p, domain.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", p, err)
	}
	if info.IsDir() {
		return dirStore{root: p}, nil
	}
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open zip store %s: %w", p, err)
	}
	files := make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		files[f.Name] = f
	}
	return &zipReader{rc: rc, files: files}, nil
}

type dirStore struct {
	root string
}

func (d dirStore) get(key string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("key %s: %w", key, domain.ErrNotExist)
	}
	return b, err
}

func (d dirStore) set(key string, value []byte) error {
	p := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, value, 0o644)
}

func (dirStore) close() error { return nil }

type zipReader struct {
	rc    *zip.ReadCloser
	files map[string]*zip.File
}

func (z *zipReader) get(key string) ([]byte, error) {
	f, ok := z.files[key]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", key, domain.ErrNotExist)
	}
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (z *zipReader) close() error { return z.rc.Close() }

// zipWriter stores entries uncompressed; chunks are already zstd frames.
type zipWriter struct {
	w *zip.Writer
}

func (z *zipWriter) set(key string, value []byte) error {
	fw, err := z.w.CreateHeader(&zip.FileHeader{Name: key, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = fw.Write(value)
	return err
}

func (z *zipWriter) close() error { return z.w.Close() }
