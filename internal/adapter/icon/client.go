// Package icon fetches ICON-EU single-level runs from the DWD open data
// server. Files are bzip2 compressed GRIB2, one parameter and step per file,
// and only the most recent runs are kept upstream.
package icon

import (
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/adapter/grib"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/httpclient"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

const modelName = "ICON_EU"

// Parameter folders on the server and the vocabulary names they map to.
var basicParams = map[string]domain.Parameter{
	"t_2m":      domain.TemperatureAGL,
	"clct":      domain.TotalCloudCover,
	"tot_prec":  domain.TotalPrecipitation,
	"u_10m":     domain.WindUComponentAGL,
	"v_10m":     domain.WindVComponentAGL,
	"relhum_2m": domain.RelativeHumidityAGL,
}

var fullParams = map[string]domain.Parameter{
	"clcl":   domain.LowCloudCover,
	"clcm":   domain.MediumCloudCover,
	"clch":   domain.HighCloudCover,
	"asob_s": domain.DownwardShortWaveRadiationFlux,
	"athb_s": domain.DownwardLongWaveRadiationFlux,
	"w_snow": domain.SnowDepthWaterEquivalent,
}

// europeGrid is the regular 0.0625 degree ICON-EU domain, rows south to north.
var europeGrid = domain.Grid{
	YName: "latitude",
	XName: "longitude",
	Y:     domain.RegularAxis(29.5, 0.0625, 657),
	X:     domain.RegularAxis(-23.5, 0.0625, 1377),
}

// fileRe matches an entry of a parameter folder index, e.g.
// icon-eu_europe_regular-lat-lon_single-level_2024030106_003_T_2M.grib2.bz2
var fileRe = regexp.MustCompile(`icon-eu_europe_regular-lat-lon_single-level_(\d{10})_(\d{3})_([A-Z0-9_]+)\.grib2\.bz2`)

// fileInfo is one compressed file on the server. The stored filename drops
// the .bz2 suffix because the file is decompressed as it downloads.
type fileInfo struct {
	url  string
	name string
	it   time.Time
	step time.Duration
}

func (f fileInfo) Filename() string    { return f.name }
func (f fileInfo) InitTime() time.Time { return f.it }

// Client implements the pipeline fetcher for DWD ICON-EU.
type Client struct {
	http    *httpclient.Client
	base    string
	params  map[string]domain.Parameter
	hours   int
	decoder domain.Decoder
	logger  *slog.Logger
}

// New creates an ICON client for the configured parameter group.
func New(cfg config.ICON, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	params := maps.Clone(basicParams)
	if cfg.ParameterGroup == "full" {
		maps.Copy(params, fullParams)
	}
	logger = logger.With("component", "icon")
	return &Client{
		http: httpclient.New(httpclient.Options{
			Name:           "icon",
			Timeout:        timeout,
			RequestsPerSec: 10,
		}, metrics, logger),
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		params:  params,
		hours:   cfg.Hours,
		decoder: grib.Decoder{},
		logger:  logger,
	}
}

func (c *Client) Name() string                   { return "icon" }
func (c *Client) InitTimeCadence() time.Duration { return 6 * time.Hour }

// ListFilesForInitTime reads the index page of every parameter folder for the
// run hour of it. The server only keeps the latest run per hour, so entries
// for other days are ignored.
func (c *Client) ListFilesForInitTime(ctx context.Context, it time.Time) ([]domain.FileInfo, error) {
	it = it.UTC()
	var files []domain.FileInfo
	for _, folder := range slices.Sorted(maps.Keys(c.params)) {
		dir := fmt.Sprintf("%s/%s/%s", c.base, it.Format("15"), folder)
		page, err := c.index(ctx, dir+"/")
		if errors.Is(err, domain.ErrNotPublished) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", folder, err)
		}
		for _, fi := range c.parseIndex(page, dir, it) {
			files = append(files, fi)
		}
	}
	return files, nil
}

func (c *Client) index(ctx context.Context, u string) (string, error) {
	resp, err := c.http.Do(ctx, httpclient.Get(u, nil))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", domain.ErrSourceUnavailable, u, err)
	}
	return string(b), nil
}

// parseIndex extracts the wanted files of it from an index page. Each file
// appears twice in the page (href and text) and is reported once.
func (c *Client) parseIndex(page, dir string, it time.Time) []fileInfo {
	seen := make(map[string]bool)
	var out []fileInfo
	for _, m := range fileRe.FindAllStringSubmatch(page, -1) {
		name := m[0]
		if seen[name] {
			continue
		}
		seen[name] = true
		fit, err := time.Parse("2006010215", m[1])
		if err != nil || !fit.Equal(it) {
			continue
		}
		hours, _ := strconv.Atoi(m[2])
		if hours > c.hours {
			continue
		}
		out = append(out, fileInfo{
			url:  dir + "/" + name,
			name: strings.TrimSuffix(name, ".bz2"),
			it:   fit,
			step: time.Duration(hours) * time.Hour,
		})
	}
	return out
}

func (c *Client) DownloadToTemp(ctx context.Context, fi domain.FileInfo, dir *scratch.Dir) (string, error) {
	f, ok := fi.(fileInfo)
	if !ok {
		return "", fmt.Errorf("icon: unexpected file info %T", fi)
	}
	dst, err := dir.FilePath(f)
	if err != nil {
		return "", err
	}
	n, err := c.http.Download(ctx, f.url, nil, dst, func(r io.Reader) (io.Reader, error) {
		return bzip2.NewReader(r), nil
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", f.name, err)
	}
	c.logger.Debug("downloaded", "file", f.name, "step", f.step, "bytes", n)
	return dst, nil
}

// MapTemp decodes one single-parameter file, naming every field after the
// parameter in the file name.
func (c *Client) MapTemp(ctx context.Context, it time.Time, p string) (*domain.Dataset, error) {
	m := fileRe.FindStringSubmatch(p + ".bz2")
	if m == nil {
		return nil, fmt.Errorf("icon: unexpected file name %s", p)
	}
	param, ok := c.params[strings.ToLower(m[3])]
	if !ok {
		return nil, fmt.Errorf("icon: parameter %s not in the configured group", m[3])
	}
	fields, err := c.decoder.Decode(ctx, p)
	if err != nil {
		return nil, err
	}
	return domain.DatasetFromFields(modelName, it, europeGrid, fields, func(domain.Field) (domain.Parameter, bool) {
		return param, true
	})
}
