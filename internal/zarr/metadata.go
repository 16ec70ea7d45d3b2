package zarr

import (
	"encoding/json"
	"fmt"
)

const (
	zarrFormat         = 2
	consolidatedFormat = 1
	dimensionsAttr     = "_ARRAY_DIMENSIONS"
	initTimeUnits      = "nanoseconds since 1970-01-01"
	stepUnits          = "nanoseconds"
	zstdLevel          = 5
	keyGroup           = ".zgroup"
	keyAttrs           = ".zattrs"
	keyArray           = ".zarray"
	keyConsolidated    = ".zmetadata"
	chunkSeparator     = "."
	dtypeInt64         = "<i8"
	dtypeFloat64       = "<f8"
	dtypeFloat16       = "<f2"
	dimInitTime        = "init_time"
	dimStep            = "step"
	dimVariable        = "variable"
	dataDims           = 5
)

type compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

type arrayMeta struct {
	Chunks             []int       `json:"chunks"`
	Compressor         *compressor `json:"compressor"`
	DType              string      `json:"dtype"`
	FillValue          any         `json:"fill_value"`
	Filters            []any       `json:"filters"`
	Order              string      `json:"order"`
	Shape              []int       `json:"shape"`
	ZarrFormat         int         `json:"zarr_format"`
	DimensionSeparator string      `json:"dimension_separator"`
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

type consolidated struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
	Format   int                        `json:"zarr_consolidated_format"`
}

func newArrayMeta(dtype string, shape, chunks []int, fill any) arrayMeta {
	return arrayMeta{
		Chunks:             chunks,
		Compressor:         &compressor{ID: "zstd", Level: zstdLevel},
		DType:              dtype,
		FillValue:          fill,
		Order:              "C",
		Shape:              shape,
		ZarrFormat:         zarrFormat,
		DimensionSeparator: chunkSeparator,
	}
}

// metaSet collects every metadata document of a group, keyed by store key.
type metaSet map[string]json.RawMessage

func (m metaSet) put(key string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m[key] = b
	return nil
}

func (m metaSet) array(name string) (arrayMeta, error) {
	var am arrayMeta
	raw, ok := m[name+"/"+keyArray]
	if !ok {
		return am, fmt.Errorf("array %q not found", name)
	}
	if err := json.Unmarshal(raw, &am); err != nil {
		return am, fmt.Errorf("decode %s/%s: %w", name, keyArray, err)
	}
	return am, nil
}

func (m metaSet) attrs(name string) (map[string]any, error) {
	attrs := map[string]any{}
	raw, ok := m[name+"/"+keyAttrs]
	if !ok {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", name, keyAttrs, err)
	}
	return attrs, nil
}

func (m metaSet) dims(name string) ([]string, error) {
	attrs, err := m.attrs(name)
	if err != nil {
		return nil, err
	}
	raw, ok := attrs[dimensionsAttr].([]any)
	if !ok {
		return nil, fmt.Errorf("array %q has no %s attribute", name, dimensionsAttr)
	}
	dims := make([]string, len(raw))
	for i, d := range raw {
		s, ok := d.(string)
		if !ok {
			return nil, fmt.Errorf("array %q: dimension %d is not a string", name, i)
		}
		dims[i] = s
	}
	return dims, nil
}

func (m metaSet) consolidated() ([]byte, error) {
	b, err := json.MarshalIndent(consolidated{Metadata: m, Format: consolidatedFormat}, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", keyConsolidated, err)
	}
	return b, nil
}
