package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

// Download streams the body of a GET to url into dst, replacing it. Partial
// files never appear at dst. If wrap is non-nil the body is read through it.
func (c *Client) Download(ctx context.Context, url string, header http.Header, dst string, wrap func(io.Reader) (io.Reader, error)) (int64, error) {
	resp, err := c.Do(ctx, Get(url, header))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if wrap != nil {
		if body, err = wrap(resp.Body); err != nil {
			return 0, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, url, err)
		}
	}
	var n int64
	err = scratch.WriteAtomic(dst, func(f *os.File) error {
		n, err = io.Copy(f, body)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: download %s: %w", domain.ErrSourceUnavailable, url, err)
	}
	return n, nil
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
