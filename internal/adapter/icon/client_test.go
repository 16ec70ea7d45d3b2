package icon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
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

// emptyBzip2 is a valid bzip2 stream with no content.
var emptyBzip2 = []byte{0x42, 0x5a, 0x68, 0x39, 0x17, 0x72, 0x45, 0x38, 0x50, 0x90, 0x00, 0x00, 0x00, 0x00}

func indexPage(names ...string) string {
	page := "<html><body><pre>\n"
	for _, n := range names {
		page += fmt.Sprintf("<a href=\"%s\">%s</a> 01-Mar-2024 08:01 1234\n", n, n)
	}
	return page + "</pre></body></html>"
}

func testClient(t *testing.T, baseURL, group string, hours int) *Client {
	t.Helper()
	return New(config.ICON{ParameterGroup: group, Hours: hours, BaseURL: baseURL},
		5*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListFilesForInitTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/06/t_2m/":
			_, _ = io.WriteString(w, indexPage(
				"icon-eu_europe_regular-lat-lon_single-level_2024030106_000_T_2M.grib2.bz2",
				"icon-eu_europe_regular-lat-lon_single-level_2024030106_001_T_2M.grib2.bz2",
				"icon-eu_europe_regular-lat-lon_single-level_2024030106_120_T_2M.grib2.bz2",
				"icon-eu_europe_regular-lat-lon_single-level_2024022906_000_T_2M.grib2.bz2",
			))
		case "/06/clct/":
			_, _ = io.WriteString(w, indexPage(
				"icon-eu_europe_regular-lat-lon_single-level_2024030106_000_CLCT.grib2.bz2",
			))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "basic", 48)
	files, err := c.ListFilesForInitTime(context.Background(), testInit)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Filename())
		assert.True(t, f.InitTime().Equal(testInit))
	}
	assert.Equal(t, []string{
		"icon-eu_europe_regular-lat-lon_single-level_2024030106_000_CLCT.grib2",
		"icon-eu_europe_regular-lat-lon_single-level_2024030106_000_T_2M.grib2",
		"icon-eu_europe_regular-lat-lon_single-level_2024030106_001_T_2M.grib2",
	}, names)

	first := files[0].(fileInfo)
	assert.Equal(t, srv.URL+"/06/clct/icon-eu_europe_regular-lat-lon_single-level_2024030106_000_CLCT.grib2.bz2", first.url)
}

func TestNew_ParameterGroups(t *testing.T) {
	basic := testClient(t, "http://unused", "basic", 48)
	full := testClient(t, "http://unused", "full", 48)
	assert.Len(t, basic.params, len(basicParams))
	assert.Len(t, full.params, len(basicParams)+len(fullParams))
	assert.Equal(t, domain.SnowDepthWaterEquivalent, full.params["w_snow"])
}

func TestDownloadToTemp_Decompresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/good.grib2.bz2" {
			_, _ = w.Write(emptyBzip2)
			return
		}
		_, _ = io.WriteString(w, "not bzip2 at all")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "basic", 48)
	dir, err := scratch.New(t.TempDir(), c.logger)
	require.NoError(t, err)
	defer dir.Close()

	p, err := c.DownloadToTemp(context.Background(), fileInfo{url: srv.URL + "/good.grib2.bz2", name: "good.grib2", it: testInit}, dir)
	require.NoError(t, err)
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	_, err = c.DownloadToTemp(context.Background(), fileInfo{url: srv.URL + "/bad.grib2.bz2", name: "bad.grib2", it: testInit}, dir)
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	bad, err := dir.FilePath(fileInfo{name: "bad.grib2", it: testInit})
	require.NoError(t, err)
	_, err = os.Stat(bad)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type fakeDecoder struct {
	fields []domain.Field
}

func (d fakeDecoder) Decode(context.Context, string) ([]domain.Field, error) {
	return d.fields, nil
}

func TestMapTemp(t *testing.T) {
	c := testClient(t, "http://unused", "basic", 48)
	c.decoder = fakeDecoder{fields: []domain.Field{
		{Name: "2t", InitTime: testInit, Step: 3 * time.Hour, Values: make([]float32, europeGrid.Size())},
	}}

	ds, err := c.MapTemp(context.Background(), testInit, "/scratch/icon-eu_europe_regular-lat-lon_single-level_2024030106_003_T_2M.grib2")
	require.NoError(t, err)
	assert.Equal(t, "ICON_EU", ds.Name)
	assert.Equal(t, []domain.Parameter{domain.TemperatureAGL}, ds.Variables)
	assert.Equal(t, []time.Duration{3 * time.Hour}, ds.Steps)
	assert.Equal(t, "latitude", ds.Grid.YName)
}

func TestMapTemp_ParameterOutsideGroup(t *testing.T) {
	c := testClient(t, "http://unused", "basic", 48)
	_, err := c.MapTemp(context.Background(), testInit, "icon-eu_europe_regular-lat-lon_single-level_2024030106_003_W_SNOW.grib2")
	require.Error(t, err)
}
