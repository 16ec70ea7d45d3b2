package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/nwp-consumer/internal/adapter/azureblob"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/ceda"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/gcsbucket"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/gfs"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/httpclient"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/huggingface"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/icon"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/localfs"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/metoffice"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/objstore"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/s3bucket"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/pipeline"
)

// newSource builds the fetcher for the named source. Its configuration group
// is validated first, so a missing credential fails before any request.
func newSource(name string, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (pipeline.Fetcher, error) {
	switch name {
	case "ceda":
		c, err := config.LoadCEDA()
		if err != nil {
			return nil, err
		}
		return ceda.New(c, cfg.HTTPTimeout, metrics, logger), nil
	case "metoffice":
		c, err := config.LoadMetOffice()
		if err != nil {
			return nil, err
		}
		f, err := metoffice.New(c, cfg.HTTPTimeout, metrics, logger)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "icon":
		c, err := config.LoadICON()
		if err != nil {
			return nil, err
		}
		return icon.New(c, cfg.HTTPTimeout, metrics, logger), nil
	case "gfs":
		c, err := config.LoadGFS()
		if err != nil {
			return nil, err
		}
		f, err := gfs.New(c, metrics, logger)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, unknown(name)
	}
}

// resources closes the clients opened for a run in reverse order.
type resources struct {
	logger  *slog.Logger
	names   []string
	closers []io.Closer
}

func (r *resources) add(name string, c io.Closer) {
	r.names = append(r.names, name)
	r.closers = append(r.closers, c)
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.logger.Error("close error", "resource", r.names[i], "error", err)
		}
	}
}

// newStore builds the storer for the named sink. dir is the local directory
// of the local sink and only used for its readiness probe.
func (r *resources) newStore(ctx context.Context, name string, cfg *config.Config, metrics *observability.Metrics, dir string) (pipeline.Storer, error) {
	switch name {
	case "local":
		return localfs.New(r.logger, dir), nil
	case "s3":
		c, err := config.LoadS3()
		if err != nil {
			return nil, err
		}
		b, err := s3bucket.New(ctx, c)
		if err != nil {
			return nil, err
		}
		return objstore.New(name, b, r.logger), nil
	case "gcs":
		c, err := config.LoadGCS()
		if err != nil {
			return nil, err
		}
		b, err := gcsbucket.New(ctx, c)
		if err != nil {
			return nil, err
		}
		r.add("gcs client", b)
		return objstore.New(name, b, r.logger), nil
	case "azure":
		c, err := config.LoadAzure()
		if err != nil {
			return nil, err
		}
		b, err := azureblob.New(c)
		if err != nil {
			return nil, err
		}
		return objstore.New(name, b, r.logger), nil
	case "huggingface":
		c, err := config.LoadHuggingFace()
		if err != nil {
			return nil, err
		}
		client := httpclient.New(httpclient.Options{
			Name:           "huggingface",
			Timeout:        cfg.HTTPTimeout,
			RequestsPerSec: 5,
		}, metrics, r.logger)
		return objstore.New(name, huggingface.New(c, client), r.logger), nil
	default:
		return nil, unknown(name)
	}
}

// unknown reports name through config.Validate, which lists the valid names.
func unknown(name string) error {
	if err := config.Validate(name); err != nil {
		return err
	}
	return fmt.Errorf("%w: %q is not a valid choice for this flag", domain.ErrConfig, name)
}
