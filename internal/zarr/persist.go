package zarr

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

// Sink is the subset of a store the dataset operations need. Paths are sink
// paths; src of Store and dst of Retrieve are local.
type Sink interface {
	Exists(ctx context.Context, p string) (bool, error)
	Store(ctx context.Context, src, dst string) (int64, error)
	Retrieve(ctx context.Context, src, dst string) error
}

// SaveDataset persists ds as a new store at dst. It fails with
// domain.ErrAlreadyExists, leaving the sink untouched, if dst exists.
func SaveDataset(ctx context.Context, sink Sink, dir *scratch.Dir, ds *domain.Dataset, dst string) (int64, error) {
	exists, err := sink.Exists(ctx, dst)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("save %s: %w", dst, domain.ErrAlreadyExists)
	}
	local, cleanup, err := localPath(dir, dst)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	if err := Write(local, ds); err != nil {
		return 0, err
	}
	return sink.Store(ctx, local, dst)
}

// AppendDataset extends the store at dst along init_time with ds. It fails
// with domain.ErrNotExist, creating nothing, if dst does not exist.
func AppendDataset(ctx context.Context, sink Sink, dir *scratch.Dir, ds *domain.Dataset, dst string) (int64, error) {
	local, cleanup, err := fetch(ctx, sink, dir, dst)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	defer cleanup()

	if err := Append(local, ds); err != nil {
		return 0, err
	}
	return sink.Store(ctx, local, dst)
}

// OpenDataset reads the full store at src.
func OpenDataset(ctx context.Context, sink Sink, dir *scratch.Dir, src string) (*domain.Dataset, error) {
	local, cleanup, err := fetch(ctx, sink, dir, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return Read(local)
}

// InspectDataset reads the coordinates of the store at src.
func InspectDataset(ctx context.Context, sink Sink, dir *scratch.Dir, src string) (*domain.Dataset, error) {
	local, cleanup, err := fetch(ctx, sink, dir, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return Inspect(local)
}

func fetch(ctx context.Context, sink Sink, dir *scratch.Dir, src string) (string, func(), error) {
	exists, err := sink.Exists(ctx, src)
	if err != nil {
		return "", nil, err
	}
	if !exists {
		return "", nil, fmt.Errorf("%s: %w", src, domain.ErrNotExist)
	}
	local, cleanup, err := localPath(dir, src)
	if err != nil {
		return "", nil, err
	}
	if err := sink.Retrieve(ctx, src, local); err != nil {
		cleanup()
		return "", nil, err
	}
	return local, cleanup, nil
}

// localPath reserves a unique scratch location named like the sink path.
func localPath(dir *scratch.Dir, p string) (string, func(), error) {
	work, err := os.MkdirTemp(dir.Root(), "zarr-")
	if err != nil {
		return "", nil, fmt.Errorf("reserve scratch for %s: %w", p, err)
	}
	return filepath.Join(work, path.Base(p)), func() { _ = os.RemoveAll(work) }, nil
}
