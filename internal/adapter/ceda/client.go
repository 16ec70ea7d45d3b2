// Package ceda fetches UKV model runs from the CEDA archive. Files are listed
// through the archive's JSON directory API and downloaded over FTP.
package ceda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/adapter/grib"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/httpclient"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

const (
	dataPath   = "badc/ukmo-nwp/data/ukv-grib"
	nameLayout = "200601021504"
	modelName  = "UKV"
)

var wantedSets = []string{"Wholesale1.grib", "Wholesale2.grib"}

// ukvGrid is the 2 km OSGB domain of the UKV model, rows north to south.
var ukvGrid = domain.Grid{
	YName: "y",
	XName: "x",
	Y:     domain.RegularAxis(1223000, -2000, 704),
	X:     domain.RegularAxis(-239000, 2000, 548),
}

// renames maps CEDA short names onto the common vocabulary.
var renames = map[string]domain.Parameter{
	"10wdir": domain.WindDirectionSurfaceAdjustedAGL,
	"10si":   domain.WindSpeedSurfaceAdjustedAGL,
	"prate":  domain.RainPrecipitationRate,
	"r":      domain.RelativeHumidityAGL,
	"t":      domain.TemperatureAGL,
	"vis":    domain.VisibilityAGL,
	"dswrf":  domain.DownwardShortWaveRadiationFlux,
	"dlwrf":  domain.DownwardLongWaveRadiationFlux,
	"hcc":    domain.HighCloudCover,
	"mcc":    domain.MediumCloudCover,
	"lcc":    domain.LowCloudCover,
	"sde":    domain.SnowDepthWaterEquivalent,
}

// fileInfo is one file of a CEDA listing. The name starts with the init time.
type fileInfo struct {
	name string
	it   time.Time
}

func (f fileInfo) Filename() string    { return f.name }
func (f fileInfo) InitTime() time.Time { return f.it }

// Client implements the pipeline fetcher for CEDA.
type Client struct {
	http     *httpclient.Client
	ftp      retriever
	listing  string
	decoder  domain.Decoder
	logger   *slog.Logger
	cadence  time.Duration
	dataPath string
}

// New creates a CEDA client.
func New(cfg config.CEDA, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	logger = logger.With("component", "ceda")
	return &Client{
		http: httpclient.New(httpclient.Options{
			Name:           "ceda",
			Timeout:        timeout,
			RequestsPerSec: 5,
		}, metrics, logger),
		ftp:      newFTPRetriever(cfg, timeout, metrics, logger),
		listing:  strings.TrimRight(cfg.ListingURL, "/"),
		decoder:  grib.Decoder{},
		logger:   logger,
		cadence:  6 * time.Hour,
		dataPath: dataPath,
	}
}

func (c *Client) Name() string                   { return "ceda" }
func (c *Client) InitTimeCadence() time.Duration { return c.cadence }

// HourlyStepsOnly cuts the UKV step axis where it turns three-hourly.
func (c *Client) HourlyStepsOnly() bool { return true }

type listing struct {
	Path  string `json:"path"`
	Items []struct {
		Name string `json:"name"`
	} `json:"items"`
}

func (c *Client) ListFilesForInitTime(ctx context.Context, it time.Time) ([]domain.FileInfo, error) {
	it = it.UTC()
	u := fmt.Sprintf("%s/%s/%s?json", c.listing, c.dataPath, it.Format("2006/01/02"))
	var resp listing
	if err := c.http.GetJSON(ctx, u, http.Header{"Accept": {"application/json"}}, &resp); err != nil {
		if errors.Is(err, domain.ErrNotPublished) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", it.Format(time.RFC3339), err)
	}

	var files []domain.FileInfo
	for _, item := range resp.Items {
		if fi, ok := wanted(item.Name, it); ok {
			files = append(files, fi)
		}
	}
	return files, nil
}

// wanted reports whether name is a wholesale file of init time it.
func wanted(name string, it time.Time) (fileInfo, bool) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return fileInfo{}, false
	}
	fit, err := time.Parse(nameLayout, prefix)
	if err != nil || !fit.Equal(it) {
		return fileInfo{}, false
	}
	for _, set := range wantedSets {
		if strings.Contains(name, set) {
			return fileInfo{name: name, it: fit}, true
		}
	}
	return fileInfo{}, false
}

func (c *Client) DownloadToTemp(ctx context.Context, fi domain.FileInfo, dir *scratch.Dir) (string, error) {
	f, ok := fi.(fileInfo)
	if !ok {
		return "", fmt.Errorf("ceda: unexpected file info %T", fi)
	}
	dst, err := dir.FilePath(f)
	if err != nil {
		return "", err
	}
	remote := fmt.Sprintf("/%s/%s/%s", c.dataPath, f.it.Format("2006/01/02"), f.name)
	err = scratch.WriteAtomic(dst, func(out *os.File) error {
		return c.ftp.Retrieve(ctx, remote, out)
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", f.name, err)
	}
	c.logger.Debug("downloaded", "file", f.name, "path", dst)
	return dst, nil
}

func (c *Client) MapTemp(ctx context.Context, it time.Time, p string) (*domain.Dataset, error) {
	fields, err := c.decoder.Decode(ctx, p)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		if fields[i].Name == "sde" {
			scaleSnowDepth(fields[i].Values)
		}
	}
	return domain.DatasetFromFields(modelName, it, ukvGrid, fields, rename)
}

// rename keeps the fields in the vocabulary. Temperature is taken at 1 m;
// older runs carry it at that height only, newer ones also at 0 m.
func rename(f domain.Field) (domain.Parameter, bool) {
	p, ok := renames[f.Name]
	if !ok {
		return "", false
	}
	if p == domain.TemperatureAGL && f.Level == grib.Level(grib.SurfaceHeightAboveGrnd, 0) {
		return "", false
	}
	return p, true
}

// scaleSnowDepth converts metres to kg m-2.
func scaleSnowDepth(values []float32) {
	for i := range values {
		values[i] *= 1000
	}
}
