// Package gcsbucket implements objstore.Bucket on Google Cloud Storage.
package gcsbucket

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// bucketHandle is the subset of *storage.BucketHandle used here.
type bucketHandle interface {
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
	Objects(ctx context.Context, q *storage.Query) objectIterator
	Object(name string) objectHandle
}

type objectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
}

type realBucket struct{ bh *storage.BucketHandle }

func (r realBucket) Attrs(ctx context.Context) (*storage.BucketAttrs, error) { return r.bh.Attrs(ctx) }

func (r realBucket) Objects(ctx context.Context, q *storage.Query) objectIterator {
	return r.bh.Objects(ctx, q)
}

func (r realBucket) Object(name string) objectHandle { return realObject{r.bh.Object(name)} }

type realObject struct{ oh *storage.ObjectHandle }

func (r realObject) NewReader(ctx context.Context) (io.ReadCloser, error) { return r.oh.NewReader(ctx) }
func (r realObject) NewWriter(ctx context.Context) io.WriteCloser         { return r.oh.NewWriter(ctx) }
func (r realObject) Delete(ctx context.Context) error                     { return r.oh.Delete(ctx) }

func (r realObject) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return r.oh.Attrs(ctx)
}

// Bucket is one GCS bucket.
type Bucket struct {
	name   string
	client *storage.Client
	bh     bucketHandle
}

// New connects to the bucket in cfg.
func New(ctx context.Context, cfg config.GCS) (*Bucket, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create gcs client: %w", domain.ErrConfig, err)
	}
	return &Bucket{name: cfg.Bucket, client: client, bh: realBucket{client.Bucket(cfg.Bucket)}}, nil
}

// Close releases the client.
func (b *Bucket) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *Bucket) Name() string { return "gs://" + b.name }

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	w := b.bh.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *Bucket) Get(ctx context.Context, key string, w io.Writer) error {
	r, err := b.bh.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%s: %w", key, domain.ErrNotExist)
		}
		return err
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

func (b *Bucket) Stat(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	_, err := b.bh.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.bh.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, attrs.Name)
	}
}

func (b *Bucket) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := b.bh.Object(k).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

func (b *Bucket) Ping(ctx context.Context) error {
	_, err := b.bh.Attrs(ctx)
	return err
}
