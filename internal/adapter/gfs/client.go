// Package gfs fetches NOAA GFS 1 degree runs from the public open data
// bucket. Each object holds every parameter for one step.
package gfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/adapter/grib"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
)

const modelName = "GFS"

// globalGrid is the 1 degree grid, rows north to south, longitudes east from 0.
var globalGrid = domain.Grid{
	YName: "latitude",
	XName: "longitude",
	Y:     domain.RegularAxis(90, -1, 181),
	X:     domain.RegularAxis(0, 1, 360),
}

// renames maps "<short name>:<level>" onto the vocabulary. The same parameter
// code appears at several surfaces; only these are kept.
var renames = map[string]domain.Parameter{
	"t:103:2":   domain.TemperatureAGL,
	"r:103:2":   domain.RelativeHumidityAGL,
	"u:103:10":  domain.WindUComponentAGL,
	"v:103:10":  domain.WindVComponentAGL,
	"tcc:10:0":  domain.TotalCloudCover,
	"tcc:214:0": domain.LowCloudCover,
	"tcc:224:0": domain.MediumCloudCover,
	"tcc:234:0": domain.HighCloudCover,
	"prate:1:0": domain.RainPrecipitationRate,
	"dswrf:1:0": domain.DownwardShortWaveRadiationFlux,
	"dlwrf:1:0": domain.DownwardLongWaveRadiationFlux,
	"vis:1:0":   domain.VisibilityAGL,
	"sdwe:1:0":  domain.SnowDepthWaterEquivalent,
}

var stepRe = regexp.MustCompile(`\.f(\d{3})$`)

// objects is the read-only view of the bucket the client needs.
type objects interface {
	list(ctx context.Context, prefix string) ([]string, error)
	get(ctx context.Context, key string, w io.Writer) error
}

type fileInfo struct {
	key  string
	it   time.Time
	step time.Duration
}

func (f fileInfo) Filename() string    { return path.Base(f.key) }
func (f fileInfo) InitTime() time.Time { return f.it }

// Client implements the pipeline fetcher for GFS.
type Client struct {
	bucket  objects
	hours   int
	decoder domain.Decoder
	logger  *slog.Logger
}

// New creates a GFS client reading the bucket anonymously.
func New(cfg config.GFS, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	b, err := newMinioObjects(cfg, metrics)
	if err != nil {
		return nil, err
	}
	return &Client{
		bucket:  b,
		hours:   cfg.Hours,
		decoder: grib.Decoder{},
		logger:  logger.With("component", "gfs"),
	}, nil
}

func (c *Client) Name() string                   { return "gfs" }
func (c *Client) InitTimeCadence() time.Duration { return 6 * time.Hour }

func prefix(it time.Time) string {
	return fmt.Sprintf("gfs.%s/%s/atmos/gfs.t%sz.pgrb2.1p00.f", it.Format("20060102"), it.Format("15"), it.Format("15"))
}

func (c *Client) ListFilesForInitTime(ctx context.Context, it time.Time) ([]domain.FileInfo, error) {
	it = it.UTC()
	keys, err := c.bucket.list(ctx, prefix(it))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", it.Format(time.RFC3339), err)
	}
	var files []domain.FileInfo
	for _, k := range keys {
		m := stepRe.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		hours, _ := strconv.Atoi(m[1])
		if hours > c.hours {
			continue
		}
		files = append(files, fileInfo{key: k, it: it, step: time.Duration(hours) * time.Hour})
	}
	return files, nil
}

func (c *Client) DownloadToTemp(ctx context.Context, fi domain.FileInfo, dir *scratch.Dir) (string, error) {
	f, ok := fi.(fileInfo)
	if !ok {
		return "", fmt.Errorf("gfs: unexpected file info %T", fi)
	}
	dst, err := dir.FilePath(f)
	if err != nil {
		return "", err
	}
	err = scratch.WriteAtomic(dst, func(out *os.File) error {
		return c.bucket.get(ctx, f.key, out)
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", f.key, err)
	}
	c.logger.Debug("downloaded", "key", f.key, "step", f.step)
	return dst, nil
}

func (c *Client) MapTemp(ctx context.Context, it time.Time, p string) (*domain.Dataset, error) {
	fields, err := c.decoder.Decode(ctx, p)
	if err != nil {
		return nil, err
	}
	return domain.DatasetFromFields(modelName, it, globalGrid, dedupe(fields), rename)
}

func rename(f domain.Field) (domain.Parameter, bool) {
	p, ok := renames[f.Name+":"+f.Level]
	return p, ok
}

// dedupe keeps the first field of each name, level and step. GFS files carry
// both instantaneous and averaged messages for some parameters.
func dedupe(fields []domain.Field) []domain.Field {
	type key struct {
		name, level string
		step        time.Duration
	}
	seen := make(map[key]bool, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		k := key{f.Name, f.Level, f.Step}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}
