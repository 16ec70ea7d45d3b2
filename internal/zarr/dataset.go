package zarr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
	"github.com/klauspost/compress/zip"
)

// Write creates a new store at p holding ds. It fails with
// domain.ErrAlreadyExists if anything is already at p.
func Write(p string, ds *domain.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("write %s: %w", p, domain.ErrAlreadyExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if IsZip(p) {
		return writeZip(p, ds)
	}
	return writeDir(p, ds)
}

func writeZip(p string, ds *domain.Dataset) error {
	return scratch.WriteAtomic(p, func(f *os.File) error {
		zw := &zipWriter{w: zip.NewWriter(f)}
		if err := encodeGroup(zw, ds); err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
		return zw.close()
	})
}

func writeDir(p string, ds *domain.Dataset) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	tmp, err := os.MkdirTemp(filepath.Dir(p), "."+filepath.Base(p)+".part-")
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := encodeGroup(dirStore{root: tmp}, ds); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("encode %s: %w", p, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func encodeGroup(w kvWriter, ds *domain.Dataset) error {
	meta := metaSet{}
	if err := meta.put(keyGroup, groupMeta{ZarrFormat: zarrFormat}); err != nil {
		return err
	}
	if err := meta.put(keyAttrs, map[string]any{}); err != nil {
		return err
	}

	initTimes := make([]int64, len(ds.InitTimes))
	for i, it := range ds.InitTimes {
		initTimes[i] = it.UnixNano()
	}
	steps := make([]int64, len(ds.Steps))
	for i, s := range ds.Steps {
		steps[i] = int64(s)
	}
	names := make([]string, len(ds.Variables))
	for i, v := range ds.Variables {
		names[i] = string(v)
	}
	strType, width := unicodeDType(names)

	coords := []struct {
		name  string
		dtype string
		n     int
		raw   []byte
		attrs map[string]any
	}{
		{dimInitTime, dtypeInt64, len(initTimes), encodeInt64(initTimes), map[string]any{"units": initTimeUnits, "calendar": "proleptic_gregorian"}},
		{dimStep, dtypeInt64, len(steps), encodeInt64(steps), map[string]any{"units": stepUnits}},
		{dimVariable, strType, len(names), encodeUnicode(names, width), map[string]any{}},
		{ds.Grid.YName, dtypeFloat64, len(ds.Grid.Y), encodeFloat64(ds.Grid.Y), map[string]any{}},
		{ds.Grid.XName, dtypeFloat64, len(ds.Grid.X), encodeFloat64(ds.Grid.X), map[string]any{}},
	}
	for _, c := range coords {
		c.attrs[dimensionsAttr] = []string{c.name}
		if err := meta.put(c.name+"/"+keyArray, newArrayMeta(c.dtype, []int{c.n}, []int{max(c.n, 1)}, nil)); err != nil {
			return err
		}
		if err := meta.put(c.name+"/"+keyAttrs, c.attrs); err != nil {
			return err
		}
		if err := w.set(c.name+"/0", compress(c.raw)); err != nil {
			return fmt.Errorf("write %s: %w", c.name, err)
		}
	}

	shape := ds.Shape()
	chunks := []int{1, 1, shape[2], shape[3], shape[4]}
	if err := meta.put(ds.Name+"/"+keyArray, newArrayMeta(dtypeFloat16, shape, chunks, "NaN")); err != nil {
		return err
	}
	if err := meta.put(ds.Name+"/"+keyAttrs, map[string]any{dimensionsAttr: ds.Dims()}); err != nil {
		return err
	}
	if err := writeDataChunks(w, ds, 0); err != nil {
		return err
	}
	return writeMeta(w, meta)
}

// writeDataChunks writes one chunk per (init_time, step), offsetting the
// init_time chunk index by base.
func writeDataChunks(w kvWriter, ds *domain.Dataset, base int) error {
	chunkLen := len(ds.Variables) * ds.Grid.Size()
	for i := range ds.InitTimes {
		for s := range ds.Steps {
			off := (i*len(ds.Steps) + s) * chunkLen
			key := fmt.Sprintf("%s/%d.%d.0.0.0", ds.Name, base+i, s)
			if err := w.set(key, compress(encodeFloat16(ds.Values[off:off+chunkLen]))); err != nil {
				return fmt.Errorf("write chunk %s: %w", key, err)
			}
		}
	}
	return nil
}

func writeMeta(w kvWriter, meta metaSet) error {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := w.set(k, meta[k]); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	b, err := meta.consolidated()
	if err != nil {
		return err
	}
	return w.set(keyConsolidated, b)
}

// Read opens the store at p and decodes it fully.
func Read(p string) (*domain.Dataset, error) {
	r, err := openReader(p)
	if err != nil {
		return nil, err
	}
	defer r.close()

	meta, err := loadMeta(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	ds, err := decodeCoords(r, meta)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	ds.Values = make([]float32, ds.Len())
	chunkLen := len(ds.Variables) * ds.Grid.Size()
	for i := range ds.InitTimes {
		for s := range ds.Steps {
			off := (i*len(ds.Steps) + s) * chunkLen
			dst := ds.Values[off : off+chunkLen]
			raw, err := r.get(fmt.Sprintf("%s/%d.%d.0.0.0", ds.Name, i, s))
			if errors.Is(err, domain.ErrNotExist) {
				fillNaN(dst)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", p, err)
			}
			if raw, err = decompress(raw); err != nil {
				return nil, fmt.Errorf("read %s: %w", p, err)
			}
			if err := decodeFloat16(raw, dst); err != nil {
				return nil, fmt.Errorf("read %s: %w", p, err)
			}
		}
	}
	return ds, nil
}

// Inspect decodes the coordinates of the store at p without its values.
func Inspect(p string) (*domain.Dataset, error) {
	r, err := openReader(p)
	if err != nil {
		return nil, err
	}
	defer r.close()

	meta, err := loadMeta(r)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", p, err)
	}
	ds, err := decodeCoords(r, meta)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", p, err)
	}
	return ds, nil
}

// Append extends the store at p along init_time with ds. The store must exist
// and agree with ds on step, variable and grid coordinates, and every init
// time in ds must be later than the last one stored.
func Append(p string, ds *domain.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	existing, err := Inspect(p)
	if err != nil {
		return fmt.Errorf("append %s: %w", p, err)
	}
	if err := compatible(existing, ds); err != nil {
		return fmt.Errorf("append %s: %w", p, err)
	}
	if IsZip(p) {
		return appendZip(p, ds)
	}
	return appendDir(p, existing, ds)
}

func compatible(existing, ds *domain.Dataset) error {
	switch {
	case existing.Name != ds.Name:
		return fmt.Errorf("%w: data variable %q, store has %q", domain.ErrDimensionMismatch, ds.Name, existing.Name)
	case !slices.Equal(existing.Steps, ds.Steps):
		return fmt.Errorf("%w: steps differ", domain.ErrDimensionMismatch)
	case !slices.Equal(existing.Variables, ds.Variables):
		return fmt.Errorf("%w: variables %v, store has %v", domain.ErrDimensionMismatch, ds.Variables, existing.Variables)
	case !existing.Grid.Equal(ds.Grid):
		return fmt.Errorf("%w: grid differs", domain.ErrDimensionMismatch)
	}
	last := existing.InitTimes[len(existing.InitTimes)-1]
	for _, it := range ds.InitTimes {
		if !it.After(last) {
			return fmt.Errorf("%w: init time %s not after stored %s",
				domain.ErrDimensionMismatch, it.Format(time.RFC3339), last.Format(time.RFC3339))
		}
		last = it
	}
	return nil
}

func appendZip(p string, ds *domain.Dataset) error {
	old, err := Read(p)
	if err != nil {
		return fmt.Errorf("append %s: %w", p, err)
	}
	combined := &domain.Dataset{
		Name:      old.Name,
		InitTimes: append(old.InitTimes, ds.InitTimes...),
		Steps:     old.Steps,
		Variables: old.Variables,
		Grid:      old.Grid,
		Values:    append(old.Values, ds.Values...),
	}
	return writeZip(p, combined)
}

func appendDir(p string, existing, ds *domain.Dataset) error {
	store := dirStore{root: p}
	meta, err := loadMeta(store)
	if err != nil {
		return fmt.Errorf("append %s: %w", p, err)
	}

	if err := writeDataChunks(store, ds, len(existing.InitTimes)); err != nil {
		return fmt.Errorf("append %s: %w", p, err)
	}

	all := append(existing.InitTimes, ds.InitTimes...)
	nanos := make([]int64, len(all))
	for i, it := range all {
		nanos[i] = it.UnixNano()
	}
	if err := store.set(dimInitTime+"/0", compress(encodeInt64(nanos))); err != nil {
		return fmt.Errorf("append %s: %w", p, err)
	}

	for name, chunked := range map[string]bool{dimInitTime: true, existing.Name: false} {
		am, err := meta.array(name)
		if err != nil {
			return fmt.Errorf("append %s: %w", p, err)
		}
		am.Shape[0] = len(all)
		if chunked {
			am.Chunks[0] = len(all)
		}
		if err := meta.put(name+"/"+keyArray, am); err != nil {
			return err
		}
	}
	return writeMeta(store, meta)
}

func loadMeta(r kvReader) (metaSet, error) {
	raw, err := r.get(keyConsolidated)
	if err != nil {
		return nil, err
	}
	var c consolidated
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", keyConsolidated, err)
	}
	if c.Metadata == nil {
		return nil, fmt.Errorf("%s holds no metadata", keyConsolidated)
	}
	return metaSet(c.Metadata), nil
}

func decodeCoords(r kvReader, meta metaSet) (*domain.Dataset, error) {
	name, dims, err := dataVariable(meta)
	if err != nil {
		return nil, err
	}
	ds := &domain.Dataset{Name: name, Grid: domain.Grid{YName: dims[3], XName: dims[4]}}

	nanos, err := readInt64(r, meta, dimInitTime)
	if err != nil {
		return nil, err
	}
	for _, n := range nanos {
		ds.InitTimes = append(ds.InitTimes, time.Unix(0, n).UTC())
	}

	steps, err := readInt64(r, meta, dimStep)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		ds.Steps = append(ds.Steps, time.Duration(s))
	}

	raw, am, err := readChunk0(r, meta, dimVariable)
	if err != nil {
		return nil, err
	}
	names, err := decodeUnicode(raw, am.DType)
	if err != nil {
		return nil, err
	}
	if len(names) < am.Shape[0] {
		return nil, fmt.Errorf("coordinate %q holds %d of %d values", dimVariable, len(names), am.Shape[0])
	}
	for _, n := range names[:am.Shape[0]] {
		ds.Variables = append(ds.Variables, domain.Parameter(n))
	}

	if ds.Grid.Y, err = readFloat64(r, meta, ds.Grid.YName); err != nil {
		return nil, err
	}
	if ds.Grid.X, err = readFloat64(r, meta, ds.Grid.XName); err != nil {
		return nil, err
	}
	return ds, nil
}

// dataVariable finds the single five-dimensional array of the group.
func dataVariable(meta metaSet) (string, []string, error) {
	var found []string
	for key := range meta {
		name, ok := strings.CutSuffix(key, "/"+keyArray)
		if !ok {
			continue
		}
		dims, err := meta.dims(name)
		if err != nil {
			return "", nil, err
		}
		if len(dims) == dataDims {
			found = append(found, name)
		}
	}
	if len(found) != 1 {
		return "", nil, fmt.Errorf("expected one data variable, found %v", found)
	}
	dims, _ := meta.dims(found[0])
	return found[0], dims, nil
}

func readChunk0(r kvReader, meta metaSet, name string) ([]byte, arrayMeta, error) {
	am, err := meta.array(name)
	if err != nil {
		return nil, am, err
	}
	if len(am.Shape) != 1 {
		return nil, am, fmt.Errorf("coordinate %q is not one-dimensional", name)
	}
	raw, err := r.get(name + "/0")
	if err != nil {
		return nil, am, err
	}
	if am.Compressor != nil {
		if raw, err = decompress(raw); err != nil {
			return nil, am, fmt.Errorf("coordinate %q: %w", name, err)
		}
	}
	return raw, am, nil
}

func readInt64(r kvReader, meta metaSet, name string) ([]int64, error) {
	raw, am, err := readChunk0(r, meta, name)
	if err != nil {
		return nil, err
	}
	if am.DType != dtypeInt64 {
		return nil, fmt.Errorf("coordinate %q has dtype %s, want %s", name, am.DType, dtypeInt64)
	}
	v, err := decodeInt64(raw)
	if err != nil {
		return nil, err
	}
	if len(v) < am.Shape[0] {
		return nil, fmt.Errorf("coordinate %q holds %d of %d values", name, len(v), am.Shape[0])
	}
	return v[:am.Shape[0]], nil
}

func readFloat64(r kvReader, meta metaSet, name string) ([]float64, error) {
	raw, am, err := readChunk0(r, meta, name)
	if err != nil {
		return nil, err
	}
	if am.DType != dtypeFloat64 {
		return nil, fmt.Errorf("coordinate %q has dtype %s, want %s", name, am.DType, dtypeFloat64)
	}
	v, err := decodeFloat64(raw)
	if err != nil {
		return nil, err
	}
	if len(v) < am.Shape[0] {
		return nil, fmt.Errorf("coordinate %q holds %d of %d values", name, len(v), am.Shape[0])
	}
	return v[:am.Shape[0]], nil
}

func fillNaN(dst []float32) {
	nan := float32(math.NaN())
	for i := range dst {
		dst[i] = nan
	}
}
