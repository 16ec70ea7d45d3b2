package ceda

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/jlaffaye/ftp"
)

// retriever copies one remote file to w.
type retriever interface {
	Retrieve(ctx context.Context, path string, w io.Writer) error
}

// ftpRetriever opens one FTP session per file. CEDA drops idle sessions, so
// connections are not pooled.
type ftpRetriever struct {
	addr    string
	user    string
	pass    string
	timeout time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

func newFTPRetriever(cfg config.CEDA, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *ftpRetriever {
	return &ftpRetriever{
		addr:    cfg.FTPAddr,
		user:    cfg.FTPUser,
		pass:    cfg.FTPPass,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

// Retrieve retries transient failures. Output already written to w is not
// rolled back, so w must be discarded on error.
func (r *ftpRetriever) Retrieve(ctx context.Context, path string, w io.Writer) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second

	attempt := 0
	op := func() error {
		attempt++
		start := time.Now()
		err := r.retrieve(ctx, path, w)
		r.metrics.UpstreamDuration.WithLabelValues("ceda-ftp").Observe(time.Since(start).Seconds())
		switch {
		case err == nil:
			r.metrics.UpstreamRequests.WithLabelValues("ceda-ftp", "success").Inc()
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case notFound(err):
			r.metrics.UpstreamRequests.WithLabelValues("ceda-ftp", "not_found").Inc()
			return backoff.Permanent(fmt.Errorf("%w: %s: %w", domain.ErrNotPublished, path, err))
		case authFailed(err):
			r.metrics.UpstreamRequests.WithLabelValues("ceda-ftp", "error").Inc()
			return backoff.Permanent(fmt.Errorf("%w: ftp login: %w", domain.ErrSourceUnavailable, err))
		case errors.Is(err, errPartialWrite):
			r.metrics.UpstreamRequests.WithLabelValues("ceda-ftp", "error").Inc()
			return backoff.Permanent(fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, path, err))
		default:
			r.metrics.UpstreamRequests.WithLabelValues("ceda-ftp", "retry").Inc()
			r.logger.Debug("ftp retrieve failed, retrying", "path", path, "attempt", attempt, "error", err)
			return fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, path, err)
		}
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))
}

var errPartialWrite = errors.New("transfer interrupted after data was written")

func (r *ftpRetriever) retrieve(ctx context.Context, path string, w io.Writer) error {
	conn, err := ftp.Dial(r.addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(r.timeout))
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login(r.user, r.pass); err != nil {
		return err
	}
	resp, err := conn.Retr(path)
	if err != nil {
		return err
	}
	defer resp.Close()

	cw := &countingWriter{w: w}
	if _, err := io.Copy(cw, resp); err != nil {
		if cw.n > 0 {
			return fmt.Errorf("%w: %w", errPartialWrite, err)
		}
		return err
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func notFound(err error) bool {
	var perr *textproto.Error
	return errors.As(err, &perr) && perr.Code == ftp.StatusFileUnavailable
}

func authFailed(err error) bool {
	var perr *textproto.Error
	return errors.As(err, &perr) && perr.Code == ftp.StatusNotLoggedIn
}
