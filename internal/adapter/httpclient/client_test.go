package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return New(Options{
		Name:            "test",
		Timeout:         5 * time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_GetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"status": "ok"}))
	}))
	defer srv.Close()

	var out map[string]string
	err := testClient().GetJSON(context.Background(), srv.URL, http.Header{"X-Api-Key": {"secret"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var out map[string]any
	require.NoError(t, testClient().GetJSON(context.Background(), srv.URL, nil, &out))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient().Do(context.Background(), Get(srv.URL, nil))
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NotFoundIsNotPublished(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient().Do(context.Background(), Get(srv.URL, nil))
	require.ErrorIs(t, err, domain.ErrNotPublished)
	assert.Equal(t, int32(1), calls.Load(), "404 is not retried")
}

func TestClient_AuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient().Do(context.Background(), Get(srv.URL, nil))
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.NotErrorIs(t, err, domain.ErrNotPublished)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient().Do(ctx, Get(srv.URL, nil))
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("grib bytes"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "a", "file.grib2")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("stale partial download"), 0o644))

	n, err := testClient().Download(context.Background(), srv.URL, nil, dst, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len("grib bytes")), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "grib bytes", string(got))
}

func TestClient_DownloadWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out")
	upper := func(r io.Reader) (io.Reader, error) {
		b, err := io.ReadAll(r)
		return strings.NewReader(strings.ToUpper(string(b))), err
	}
	_, err := testClient().Download(context.Background(), srv.URL, nil, dst, upper)
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(got))
}

func TestClient_DownloadNotFoundLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "missing")
	_, err := testClient().Download(context.Background(), srv.URL, nil, dst, nil)
	require.ErrorIs(t, err, domain.ErrNotPublished)
	assert.NoFileExists(t, dst)
}
