// Package scratch manages the transient local directory a run downloads and
// decodes files in. A Dir is created at run start and removed when the run
// ends, whether it succeeded or not.
package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
)

// Dir is one run's scratch root.
type Dir struct {
	root   string
	logger *slog.Logger
}

// New creates a fresh scratch root below parent. An empty parent uses the
// system temp directory.
func New(parent string, logger *slog.Logger) (*Dir, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch parent: %w", err)
		}
	}
	root, err := os.MkdirTemp(parent, "nwp-consumer-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Dir{root: root, logger: logger.With("component", "scratch")}, nil
}

// Root is the absolute path of the scratch root.
func (d *Dir) Root() string { return d.root }

// InitTimeDir returns, creating it if needed, the folder for one init time.
func (d *Dir) InitTimeDir(it time.Time) (string, error) {
	p := filepath.Join(d.root, it.UTC().Format(domain.ZarrNameLayout))
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create scratch folder: %w", err)
	}
	return p, nil
}

// FilePath is the deterministic scratch location of a downloaded file.
func (d *Dir) FilePath(fi domain.FileInfo) (string, error) {
	dir, err := d.InitTimeDir(fi.InitTime())
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(fi.Filename())), nil
}

// Path joins elements below the scratch root. Elements that would escape the
// root are rejected.
func (d *Dir) Path(elem ...string) (string, error) {
	p := filepath.Join(append([]string{d.root}, elem...)...)
	if p != d.root && !strings.HasPrefix(p, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes scratch root", filepath.Join(elem...))
	}
	return p, nil
}

// partMarker separates a temporary file name from its random suffix.
const partMarker = ".part-"

// IsPartial reports whether name is a temporary left behind by an
// interrupted WriteAtomic.
func IsPartial(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, partMarker)
}

// WriteAtomic creates dst through a temporary sibling and a rename, so a
// partially written file is never visible at dst. write receives the open
// temporary file.
func WriteAtomic(dst string, write func(f *os.File) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dst, err)
	}
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+partMarker)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err = write(f); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name(), err)
	}
	if err = os.Rename(f.Name(), dst); err != nil {
		return fmt.Errorf("rename into %s: %w", dst, err)
	}
	return nil
}

// Close removes the scratch root and everything below it.
func (d *Dir) Close() error {
	if err := os.RemoveAll(d.root); err != nil {
		d.logger.Error("scratch cleanup failed", "path", d.root, "error", err)
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	d.logger.Debug("scratch removed", "path", d.root)
	return nil
}
