// Package azureblob implements objstore.Bucket on an Azure Blob Storage
// container.
package azureblob

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
)

// Bucket is one blob container.
type Bucket struct {
	client    *azblob.Client
	container string
}

// New connects to the container in cfg.
func New(cfg config.Azure) (*Bucket, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: azure connection string: %w", domain.ErrConfig, err)
	}
	return &Bucket{client: client, container: cfg.Container}, nil
}

func (b *Bucket) Name() string { return "az://" + b.container }

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	_, err := b.client.UploadStream(ctx, b.container, key, r, nil)
	return err
}

func (b *Bucket) Get(ctx context.Context, key string, w io.Writer) error {
	resp, err := b.client.DownloadStream(ctx, b.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("%s: %w", key, domain.ErrNotExist)
		}
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (b *Bucket) Stat(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	blob := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(key)
	_, err := blob.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}

func (b *Bucket) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		_, err := b.client.DeleteBlob(ctx, b.container, k, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

func (b *Bucket) Ping(ctx context.Context) error {
	_, err := b.client.ServiceClient().NewContainerClient(b.container).GetProperties(ctx, nil)
	return err
}
