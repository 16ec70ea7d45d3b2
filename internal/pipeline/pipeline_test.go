package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/adapter/localfs"
	"github.com/couchcryptid/nwp-consumer/internal/adapter/objstore"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/pipeline"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
	"github.com/couchcryptid/nwp-consumer/internal/zarr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day   = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	grid  = domain.Grid{YName: "y", XName: "x", Y: []float64{1, 0}, X: []float64{0, 1}}
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type testFile struct {
	name string
	it   time.Time
}

func (f testFile) Filename() string    { return f.name }
func (f testFile) InitTime() time.Time { return f.it }

// fakeFetcher publishes files named "<parameter>_<step hours>.bin". MapTemp
// fills the plane of that parameter and step with the step hour.
type fakeFetcher struct {
	files  map[time.Time][]string
	broken map[string]bool // file names whose download fails
	hourly bool

	mu        sync.Mutex
	downloads int
}

func (f *fakeFetcher) Name() string                   { return "fake" }
func (f *fakeFetcher) InitTimeCadence() time.Duration { return 6 * time.Hour }
func (f *fakeFetcher) HourlyStepsOnly() bool          { return f.hourly }

func (f *fakeFetcher) ListFilesForInitTime(_ context.Context, it time.Time) ([]domain.FileInfo, error) {
	var out []domain.FileInfo
	for _, n := range f.files[it] {
		out = append(out, testFile{name: n, it: it})
	}
	return out, nil
}

func (f *fakeFetcher) DownloadToTemp(_ context.Context, fi domain.FileInfo, dir *scratch.Dir) (string, error) {
	if f.broken[fi.Filename()] {
		return "", fmt.Errorf("%w: broken upstream", domain.ErrSourceUnavailable)
	}
	f.mu.Lock()
	f.downloads++
	f.mu.Unlock()
	p, err := dir.FilePath(fi)
	if err != nil {
		return "", err
	}
	return p, os.WriteFile(p, []byte(fi.Filename()), 0o600)
}

func (f *fakeFetcher) MapTemp(_ context.Context, it time.Time, p string) (*domain.Dataset, error) {
	base := strings.TrimSuffix(filepath.Base(p), ".bin")
	param, hours, ok := strings.Cut(base, "_")
	if !ok {
		return nil, fmt.Errorf("bad test file %s", p)
	}
	h, err := strconv.Atoi(hours)
	if err != nil {
		return nil, err
	}
	ds := domain.NewDataset("FAKE", []time.Time{it}, []time.Duration{time.Duration(h) * time.Hour},
		[]domain.Parameter{domain.Parameter(param)}, grid)
	for i := range ds.Values {
		ds.Values[i] = float32(h)
	}
	return ds, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.ConvertedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.ConvertedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

type env struct {
	raw, zarr string
	dir       *scratch.Dir
	store     *localfs.Storer
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	dir, err := scratch.New(filepath.Join(root, "scratch"), quiet)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	raw, zdir := filepath.Join(root, "raw"), filepath.Join(root, "zarr")
	return env{raw: raw, zarr: zdir, dir: dir, store: localfs.New(quiet, raw, zdir)}
}

func (e env) service(f pipeline.Fetcher, n pipeline.Notifier, opts pipeline.Options) *pipeline.Service {
	opts.RawDir, opts.ZarrDir = e.raw, e.zarr
	opts.InitTimeWorkers, opts.FileWorkers = 2, 2
	return pipeline.New(f, e.store, e.store, n, quiet, observability.NewMetricsForTesting(), opts)
}

func twoRuns() map[time.Time][]string {
	return map[time.Time][]string{
		day:                    {"t_0.bin", "t_1.bin", "r_0.bin"},
		day.Add(6 * time.Hour): {"t_0.bin", "t_1.bin", "r_0.bin"},
	}
}

func TestDownloadRawDataset_StoresThenSkips(t *testing.T) {
	e := newEnv(t)
	f := &fakeFetcher{files: twoRuns()}
	svc := e.service(f, nil, pipeline.Options{})

	sum, err := svc.DownloadRawDataset(context.Background(), e.dir, day, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.InitTimes)
	assert.Equal(t, 6, sum.FilesDownloaded)
	assert.FileExists(t, filepath.Join(e.raw, "2024/03/01/0000/t_1.bin"))
	assert.FileExists(t, filepath.Join(e.raw, "2024/03/01/0600/r_0.bin"))

	sum, err = svc.DownloadRawDataset(context.Background(), e.dir, day, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum.FilesDownloaded)
	assert.Equal(t, 6, sum.FilesSkipped)
	assert.Equal(t, 6, f.downloads)
	require.NotNil(t, svc.LastRun())
	assert.Equal(t, "download", svc.LastRun().Command)
}

func TestDownloadRawDataset_FailedFileSkipped(t *testing.T) {
	e := newEnv(t)
	f := &fakeFetcher{files: twoRuns(), broken: map[string]bool{"r_0.bin": true}}
	svc := e.service(f, nil, pipeline.Options{})

	sum, err := svc.DownloadRawDataset(context.Background(), e.dir, day, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, sum.FilesDownloaded)
	assert.Equal(t, 2, sum.FilesFailed)
	assert.NoFileExists(t, filepath.Join(e.raw, "2024/03/01/0000/r_0.bin"))
}

func TestDownloadRawDataset_SinkUnavailableEndsRun(t *testing.T) {
	e := newEnv(t)
	bucket := objstore.NewMemBucket()
	bucket.Err = errors.New("connection refused")
	raw := objstore.New("mem", bucket, quiet)
	svc := pipeline.New(&fakeFetcher{files: twoRuns()}, raw, e.store, nil, quiet,
		observability.NewMetricsForTesting(), pipeline.Options{RawDir: "raw", ZarrDir: "zarr"})

	_, err := svc.DownloadRawDataset(context.Background(), e.dir, day, day.Add(12*time.Hour))
	require.ErrorIs(t, err, domain.ErrSinkUnavailable)
	require.Error(t, svc.CheckReadiness(context.Background()))
}

func TestDownloadAndConvert(t *testing.T) {
	e := newEnv(t)
	n := &recordingNotifier{}
	svc := e.service(&fakeFetcher{files: twoRuns()}, n, pipeline.Options{CreateLatest: true, Consolidate: true})
	ctx := context.Background()

	sum, err := svc.DownloadAndConvert(ctx, e.dir, day, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.DatasetsConverted)
	assert.Len(t, sum.Paths, 2)
	require.NoError(t, svc.CheckReadiness(ctx))

	first, err := zarr.Read(domain.ZarrPath(e.zarr, day, false))
	require.NoError(t, err)
	assert.Equal(t, "FAKE", first.Name)
	assert.Equal(t, []time.Duration{0, time.Hour}, first.Steps)
	assert.Equal(t, []domain.Parameter{domain.RelativeHumidityAGL, domain.TemperatureAGL}, first.Variables)
	assert.InDelta(t, 1, first.Plane(0, 1, 1)[0], 1e-3)

	latest, err := zarr.Inspect(domain.LatestZarrPath(e.zarr, false))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day.Add(6 * time.Hour)}, latest.InitTimes)
	assert.Equal(t, domain.LatestZarrPath(e.zarr, false), sum.LatestPath)

	monthly, err := zarr.Inspect(domain.ConsolidatedZarrPath(e.zarr, "fake", day))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day, day.Add(6 * time.Hour)}, monthly.InitTimes)

	require.Len(t, n.events, 2)
	for _, ev := range n.events {
		assert.Equal(t, "fake", ev.Source)
		assert.Positive(t, ev.Bytes)
	}

	// A second run converts nothing and leaves the monthly store alone.
	sum, err = svc.DownloadAndConvert(ctx, e.dir, day, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum.DatasetsConverted)
	assert.Equal(t, 2, sum.DatasetsSkipped)
	assert.Len(t, n.events, 2)
}

func TestDownloadAndConvert_IncompleteInitTimeNotConverted(t *testing.T) {
	e := newEnv(t)
	f := &fakeFetcher{files: twoRuns(), broken: map[string]bool{"t_1.bin": true}}
	svc := e.service(f, nil, pipeline.Options{})

	sum, err := svc.DownloadAndConvert(context.Background(), e.dir, day, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesFailed)
	assert.Equal(t, 1, sum.DatasetsConverted)
	assert.NoDirExists(t, domain.ZarrPath(e.zarr, day, false))
	assert.DirExists(t, domain.ZarrPath(e.zarr, day.Add(6*time.Hour), false))
}

func TestConvertRawDatasetToZarr_IncompleteRawFolderNotConverted(t *testing.T) {
	e := newEnv(t)
	f := &fakeFetcher{
		files:  map[time.Time][]string{day: {"t_0.bin", "r_0.bin"}},
		broken: map[string]bool{"r_0.bin": true},
	}
	svc := e.service(f, nil, pipeline.Options{})
	ctx := context.Background()

	_, err := svc.DownloadRawDataset(ctx, e.dir, day, day)
	require.NoError(t, err)
	sum, err := svc.ConvertRawDatasetToZarr(ctx, e.dir, day, day.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum.DatasetsConverted)
	assert.Equal(t, 1, sum.Incomplete)
	assert.NoDirExists(t, domain.ZarrPath(e.zarr, day, false))

	// Once the missing file arrives the init time converts with every variable.
	delete(f.broken, "r_0.bin")
	_, err = svc.DownloadRawDataset(ctx, e.dir, day, day)
	require.NoError(t, err)
	sum, err = svc.ConvertRawDatasetToZarr(ctx, e.dir, day, day.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DatasetsConverted)

	ds, err := zarr.Inspect(domain.ZarrPath(e.zarr, day, false))
	require.NoError(t, err)
	assert.Equal(t, []domain.Parameter{domain.RelativeHumidityAGL, domain.TemperatureAGL}, ds.Variables)
}

func TestConvertRawDatasetToZarr_RunNoLongerListedConverts(t *testing.T) {
	e := newEnv(t)
	f := &fakeFetcher{files: map[time.Time][]string{day: {"t_0.bin"}}}
	svc := e.service(f, nil, pipeline.Options{})
	ctx := context.Background()

	_, err := svc.DownloadRawDataset(ctx, e.dir, day, day)
	require.NoError(t, err)

	f.files = nil
	sum, err := svc.ConvertRawDatasetToZarr(ctx, e.dir, day, day.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DatasetsConverted)
	assert.Zero(t, sum.Incomplete)
}

func TestConvertRawDatasetToZarr_TrimsIrregularSteps(t *testing.T) {
	e := newEnv(t)
	f := &fakeFetcher{
		files:  map[time.Time][]string{day: {"t_0.bin", "t_1.bin", "t_3.bin"}},
		hourly: true,
	}
	svc := e.service(f, nil, pipeline.Options{Zip: true})
	ctx := context.Background()

	_, err := svc.DownloadRawDataset(ctx, e.dir, day, day)
	require.NoError(t, err)

	sum, err := svc.ConvertRawDatasetToZarr(ctx, e.dir, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DatasetsConverted)

	ds, err := zarr.Inspect(domain.ZarrPath(e.zarr, day, true))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, time.Hour}, ds.Steps)
	assert.Equal(t, "convert", svc.LastRun().Command)
}

func TestDownloadRawDataset_CreatesLatest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.service(&fakeFetcher{files: twoRuns()}, nil, pipeline.Options{}).
		DownloadAndConvert(ctx, e.dir, day, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.NoDirExists(t, domain.LatestZarrPath(e.zarr, false))

	svc := e.service(&fakeFetcher{files: twoRuns()}, nil, pipeline.Options{CreateLatest: true})
	sum, err := svc.DownloadRawDataset(ctx, e.dir, day, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.LatestZarrPath(e.zarr, false), sum.LatestPath)

	latest, err := zarr.Inspect(sum.LatestPath)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day.Add(6 * time.Hour)}, latest.InitTimes)
}

func TestCreateLatestZarr_NothingConverted(t *testing.T) {
	e := newEnv(t)
	svc := e.service(&fakeFetcher{}, nil, pipeline.Options{})

	p, err := svc.CreateLatestZarr(context.Background(), e.dir)
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestCheck(t *testing.T) {
	e := newEnv(t)
	svc := e.service(&fakeFetcher{}, nil, pipeline.Options{})
	require.NoError(t, svc.Check(context.Background(), e.dir))

	bucket := objstore.NewMemBucket()
	bucket.Err = errors.New("no route to host")
	broken := pipeline.New(&fakeFetcher{}, e.store, objstore.New("mem", bucket, quiet), nil, quiet,
		observability.NewMetricsForTesting(), pipeline.Options{})
	require.ErrorIs(t, broken.Check(context.Background(), e.dir), domain.ErrSinkUnavailable)
}
