package metoffice

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInit = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

func testClient(t *testing.T, baseURL, format string) *Client {
	t.Helper()
	c, err := New(config.MetOffice{
		OrderID:      "o123",
		ClientID:     "id",
		ClientSecret: "secret",
		Area:         config.AreaUK,
		Format:       format,
		BaseURL:      baseURL,
	}, 5*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func orderServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id", r.Header.Get("X-IBM-Client-Id"))
		assert.Equal(t, "secret", r.Header.Get("X-IBM-Client-Secret"))
		switch r.URL.Path {
		case "/orders/o123/latest":
			assert.Equal(t, "MINIMAL", r.URL.Query().Get("detail"))
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"orderDetails": map[string]any{
					"files": []map[string]string{
						{"fileId": "agl_temperature_1.5_2024030106", "runDateTime": "2024-03-01T06:00:00Z"},
						{"fileId": "agl_temperature_1.5_2024030106+01", "runDateTime": "2024-03-01T06:00:00Z"},
						{"fileId": "ground_visibility_2024030106", "runDateTime": "2024-03-01T06:00:00"},
						{"fileId": "agl_temperature_1.5_2024030105", "runDateTime": "2024-03-01T05:00:00Z"},
						{"fileId": "broken", "runDateTime": "yesterday"},
					},
				},
			}))
		case "/orders/o123/latest/agl_temperature_1.5_2024030106/data":
			assert.Equal(t, "application/x-grib", r.Header.Get("Accept"))
			_, _ = w.Write([]byte("GRIB"))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestNew_UnknownArea(t *testing.T) {
	_, err := New(config.MetOffice{Area: "mars"}, time.Second, observability.NewMetricsForTesting(), slog.Default())
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestListFilesForInitTime(t *testing.T) {
	srv := orderServer(t)
	defer srv.Close()

	c := testClient(t, srv.URL, "grib")
	files, err := c.ListFilesForInitTime(context.Background(), testInit)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Filename())
		assert.True(t, f.InitTime().Equal(testInit))
	}
	assert.Equal(t, []string{
		"agl_temperature_1.5_2024030106.grib2",
		"ground_visibility_2024030106.grib2",
	}, names)
}

func TestListFilesForInitTime_NetCDFExtension(t *testing.T) {
	srv := orderServer(t)
	defer srv.Close()

	c := testClient(t, srv.URL, "netcdf")
	files, err := c.ListFilesForInitTime(context.Background(), testInit)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, ".nc", filepath.Ext(files[0].Filename()))
}

func TestDownloadToTemp(t *testing.T) {
	srv := orderServer(t)
	defer srv.Close()

	c := testClient(t, srv.URL, "grib")
	dir, err := scratch.New(t.TempDir(), c.logger)
	require.NoError(t, err)
	defer dir.Close()

	p, err := c.DownloadToTemp(context.Background(), fileInfo{id: "agl_temperature_1.5_2024030106", ext: ".grib2", it: testInit}, dir)
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "GRIB", string(b))

	_, err = c.DownloadToTemp(context.Background(), fileInfo{id: "gone", ext: ".grib2", it: testInit}, dir)
	require.ErrorIs(t, err, domain.ErrNotPublished)
}

func TestParameter(t *testing.T) {
	assert.Equal(t, "temperature", parameter("agl_temperature_1.5_2024030106.grib2"))
	assert.Equal(t, "wind-speed-surface-adjusted", parameter("agl_wind-speed-surface-adjusted_10_2024030106"))
	assert.Equal(t, "", parameter("nounderscore.nc"))
}

type fakeDecoder struct {
	fields []domain.Field
}

func (d fakeDecoder) Decode(context.Context, string) ([]domain.Field, error) {
	return d.fields, nil
}

func TestMapTemp_RenamesByFileName(t *testing.T) {
	c := testClient(t, "http://unused", "grib")
	size := c.grid.Size()
	c.decoder[".grib2"] = fakeDecoder{fields: []domain.Field{
		{Name: "unknown", Step: 0, Values: make([]float32, size)},
		{Name: "unknown", Step: time.Hour, Values: make([]float32, size)},
	}}

	ds, err := c.MapTemp(context.Background(), testInit, "/tmp/x/agl_relative-humidity_1.5_2024030106.grib2")
	require.NoError(t, err)
	assert.Equal(t, "MO", ds.Name)
	assert.Equal(t, []domain.Parameter{domain.RelativeHumidityAGL}, ds.Variables)
	assert.Equal(t, []time.Duration{0, time.Hour}, ds.Steps)
	assert.Equal(t, []string{"init_time", "step", "variable", "y", "x"}, ds.Dims())
}

func TestMapTemp_UnknownParameter(t *testing.T) {
	c := testClient(t, "http://unused", "grib")
	_, err := c.MapTemp(context.Background(), testInit, "agl_ozone_2024030106.grib2")
	require.Error(t, err)
}

func TestMapTemp_UnknownExtension(t *testing.T) {
	c := testClient(t, "http://unused", "grib")
	_, err := c.MapTemp(context.Background(), testInit, "agl_temperature_2024030106.csv")
	require.Error(t, err)
}
