package gfs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/minio/minio-go/v6"
)

// minioObjects reads a public bucket through the S3 API without credentials.
type minioObjects struct {
	client  *minio.Client
	bucket  string
	metrics *observability.Metrics
}

func newMinioObjects(cfg config.GFS, metrics *observability.Metrics) (*minioObjects, error) {
	// The region is fixed so the client skips the bucket location lookup,
	// which anonymous callers are refused.
	client, err := minio.NewWithRegion(cfg.Endpoint, "", "", cfg.Secure, "us-east-1")
	if err != nil {
		return nil, fmt.Errorf("%w: gfs bucket client: %w", domain.ErrConfig, err)
	}
	return &minioObjects{client: client, bucket: cfg.Bucket, metrics: metrics}, nil
}

func (m *minioObjects) list(ctx context.Context, prefix string) ([]string, error) {
	done := make(chan struct{})
	defer close(done)

	start := time.Now()
	var keys []string
	for obj := range m.client.ListObjectsV2(m.bucket, prefix, true, done) {
		if obj.Err != nil {
			m.observe("error", start)
			return nil, fmt.Errorf("%w: list %s: %w", domain.ErrSourceUnavailable, prefix, obj.Err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys = append(keys, obj.Key)
	}
	m.observe("success", start)
	return keys, nil
}

func (m *minioObjects) get(ctx context.Context, key string, w io.Writer) error {
	start := time.Now()
	obj, err := m.client.GetObjectWithContext(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err == nil {
		defer obj.Close()
		_, err = io.Copy(w, obj)
	}
	switch {
	case err == nil:
		m.observe("success", start)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case minio.ToErrorResponse(err).Code == "NoSuchKey":
		m.observe("not_found", start)
		return fmt.Errorf("%w: %s: %w", domain.ErrNotPublished, key, err)
	default:
		m.observe("error", start)
		return fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, key, err)
	}
}

func (m *minioObjects) observe(outcome string, start time.Time) {
	m.metrics.UpstreamRequests.WithLabelValues("gfs", outcome).Inc()
	m.metrics.UpstreamDuration.WithLabelValues("gfs").Observe(time.Since(start).Seconds())
}
