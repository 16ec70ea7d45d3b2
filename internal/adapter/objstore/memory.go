package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
)

// MemBucket is a Bucket held in memory. Set Err to make every call fail.
type MemBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	Err     error
}

// NewMemBucket creates an empty MemBucket.
func NewMemBucket() *MemBucket {
	return &MemBucket{objects: make(map[string][]byte)}
}

func (b *MemBucket) Name() string { return "memory" }

func (b *MemBucket) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	if err := b.fail(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *MemBucket) Get(_ context.Context, key string, w io.Writer) error {
	if err := b.fail(); err != nil {
		return err
	}
	b.mu.Lock()
	data, ok := b.objects[key]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", key, domain.ErrNotExist)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (b *MemBucket) Stat(_ context.Context, key string) (bool, error) {
	if err := b.fail(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *MemBucket) List(_ context.Context, prefix string) ([]string, error) {
	if err := b.fail(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (b *MemBucket) Delete(_ context.Context, keys ...string) error {
	if err := b.fail(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *MemBucket) Ping(context.Context) error { return b.fail() }

// Keys returns every stored key, sorted.
func (b *MemBucket) Keys() []string {
	keys, _ := b.List(context.Background(), "")
	return keys
}

func (b *MemBucket) fail() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Err
}
