// Package metoffice fetches Met Office deterministic runs through the
// Weather DataHub order API. Each order file holds one parameter for one
// init time; files are GRIB2 or NetCDF depending on how the order was set up.
package metoffice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/adapter/grib"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/httpclient"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/netcdf"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

const modelName = "MO"

// renames maps the parameter segment of a file id onto the vocabulary.
var renames = map[string]domain.Parameter{
	"temperature":                                        domain.TemperatureAGL,
	"wind-speed-surface-adjusted":                        domain.WindSpeedSurfaceAdjustedAGL,
	"wind-direction-from-which-blowing-surface-adjusted": domain.WindDirectionSurfaceAdjustedAGL,
	"high-cloud-cover":                                   domain.HighCloudCover,
	"medium-cloud-cover":                                 domain.MediumCloudCover,
	"low-cloud-cover":                                    domain.LowCloudCover,
	"visibility":                                         domain.VisibilityAGL,
	"relative-humidity":                                  domain.RelativeHumidityAGL,
	"rain-precipitation-rate":                            domain.RainPrecipitationRate,
	"total-precipitation-rate":                           domain.RainPrecipitationRate,
	"snow-depth-water-equivalent":                        domain.SnowDepthWaterEquivalent,
	"downward-short-wave-radiation-flux":                 domain.DownwardShortWaveRadiationFlux,
	"downward-long-wave-radiation-flux":                  domain.DownwardLongWaveRadiationFlux,
}

// Order areas and their grids. The UK area is on a 2 km Lambert azimuthal
// equal area projection; the global area on a regular 10 km lat/lon grid.
var grids = map[string]domain.Grid{
	config.AreaUK: {
		YName: "y",
		XName: "x",
		Y:     domain.RegularAxis(-1036000, 2000, 970),
		X:     domain.RegularAxis(-1158000, 2000, 1042),
	},
	config.AreaGlobal: {
		YName: "latitude",
		XName: "longitude",
		Y:     domain.RegularAxis(-89.96484375, 0.0703125, 1920),
		X:     domain.RegularAxis(-179.9296875, 0.140625, 2560),
	},
}

// fileInfo is one file of an order.
type fileInfo struct {
	id  string
	ext string
	it  time.Time
}

func (f fileInfo) Filename() string    { return f.id + f.ext }
func (f fileInfo) InitTime() time.Time { return f.it }

// parameter is the second underscore-separated segment of a file id,
// e.g. "agl_temperature_1.5_2024030106".
func parameter(filename string) string {
	parts := strings.Split(strings.TrimSuffix(filename, filepath.Ext(filename)), "_")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Client implements the pipeline fetcher for the Met Office order API.
type Client struct {
	http    *httpclient.Client
	orders  string
	auth    http.Header
	accept  string
	ext     string
	grid    domain.Grid
	decoder map[string]domain.Decoder // by file extension
	logger  *slog.Logger
}

// New creates a Met Office client. Credentials are checked by config.
func New(cfg config.MetOffice, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	grid, ok := grids[cfg.Area]
	if !ok {
		return nil, fmt.Errorf("%w: unknown met office area %q", domain.ErrConfig, cfg.Area)
	}
	logger = logger.With("component", "metoffice")
	c := &Client{
		http: httpclient.New(httpclient.Options{
			Name:           "metoffice",
			Timeout:        timeout,
			RequestsPerSec: 2,
		}, metrics, logger),
		orders: fmt.Sprintf("%s/orders/%s/latest", strings.TrimRight(cfg.BaseURL, "/"), cfg.OrderID),
		auth: http.Header{
			"X-Ibm-Client-Id":     {cfg.ClientID},
			"X-Ibm-Client-Secret": {cfg.ClientSecret},
		},
		grid: grid,
		decoder: map[string]domain.Decoder{
			".grib2": grib.Decoder{},
			".nc":    netcdf.Decoder{},
		},
		logger: logger,
	}
	c.accept, c.ext = "application/x-grib", ".grib2"
	if cfg.Format == "netcdf" {
		c.accept, c.ext = "application/x-netcdf", ".nc"
	}
	return c, nil
}

func (c *Client) Name() string                   { return "metoffice" }
func (c *Client) InitTimeCadence() time.Duration { return time.Hour }

type orderResponse struct {
	OrderDetails struct {
		Files []struct {
			FileID      string `json:"fileId"`
			RunDateTime string `json:"runDateTime"`
		} `json:"files"`
	} `json:"orderDetails"`
}

func (c *Client) header(accept string) http.Header {
	h := c.auth.Clone()
	h.Set("Accept", accept)
	return h
}

func (c *Client) ListFilesForInitTime(ctx context.Context, it time.Time) ([]domain.FileInfo, error) {
	var resp orderResponse
	if err := c.http.GetJSON(ctx, c.orders+"?detail=MINIMAL", c.header("application/json"), &resp); err != nil {
		if errors.Is(err, domain.ErrNotPublished) {
			return nil, nil
		}
		return nil, fmt.Errorf("list order files: %w", err)
	}

	var files []domain.FileInfo
	for _, f := range resp.OrderDetails.Files {
		run, err := parseRunDateTime(f.RunDateTime)
		if err != nil {
			c.logger.Warn("skipping file with bad run time", "file", f.FileID, "run_date_time", f.RunDateTime)
			continue
		}
		// Files suffixed +HH repeat a run with a later cut-off.
		if !run.Equal(it) || strings.Contains(f.FileID, "+") {
			continue
		}
		files = append(files, fileInfo{id: f.FileID, ext: c.ext, it: run})
	}
	return files, nil
}

// parseRunDateTime accepts RFC 3339 and zone-less timestamps, the latter in UTC.
func parseRunDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

func (c *Client) DownloadToTemp(ctx context.Context, fi domain.FileInfo, dir *scratch.Dir) (string, error) {
	f, ok := fi.(fileInfo)
	if !ok {
		return "", fmt.Errorf("metoffice: unexpected file info %T", fi)
	}
	dst, err := dir.FilePath(f)
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s/%s/data", c.orders, f.id)
	n, err := c.http.Download(ctx, u, c.header(c.accept), dst, nil)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", f.id, err)
	}
	c.logger.Debug("downloaded", "file", f.id, "bytes", n)
	return dst, nil
}

// MapTemp decodes a single-parameter file. Every field in the file is taken
// as that parameter regardless of the name the encoder gave it.
func (c *Client) MapTemp(ctx context.Context, it time.Time, p string) (*domain.Dataset, error) {
	name := filepath.Base(p)
	param, ok := renames[parameter(name)]
	if !ok {
		return nil, fmt.Errorf("metoffice: no known parameter in file name %s", name)
	}
	dec, ok := c.decoder[filepath.Ext(name)]
	if !ok {
		return nil, fmt.Errorf("metoffice: no decoder for %s", name)
	}
	fields, err := dec.Decode(ctx, p)
	if err != nil {
		return nil, err
	}
	return domain.DatasetFromFields(modelName, it, c.grid, fields, func(domain.Field) (domain.Parameter, bool) {
		return param, true
	})
}
