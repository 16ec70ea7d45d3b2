package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGrid = Grid{YName: "y", XName: "x", Y: []float64{10, 0}, X: []float64{0, 1, 2}}

func plane(v float32) []float32 {
	return []float32{v, v, v, v, v, v}
}

func keepAll(f Field) (Parameter, bool) {
	p := Parameter(f.Name)
	return p, p.Known()
}

func TestNewDataset_FillsNaN(t *testing.T) {
	it := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := NewDataset("UKV", []time.Time{it}, []time.Duration{0, time.Hour}, []Parameter{TemperatureAGL}, testGrid)

	assert.Equal(t, []int{1, 2, 1, 2, 3}, ds.Shape())
	assert.Equal(t, []string{"init_time", "step", "variable", "y", "x"}, ds.Dims())
	require.Len(t, ds.Values, 12)
	for _, v := range ds.Values {
		assert.True(t, math.IsNaN(float64(v)))
	}
	require.NoError(t, ds.Validate())
}

func TestDataset_PlaneAliasesValues(t *testing.T) {
	it := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := NewDataset("UKV", []time.Time{it}, []time.Duration{0, time.Hour}, []Parameter{LowCloudCover, TemperatureAGL}, testGrid)

	copy(ds.Plane(0, 1, 1), plane(7))
	assert.Equal(t, float32(7), ds.Values[3*6])
	assert.True(t, math.IsNaN(float64(ds.Values[2*6])))
}

func TestDataset_ValidateRejectsShortValues(t *testing.T) {
	ds := &Dataset{
		InitTimes: []time.Time{time.Unix(0, 0)},
		Steps:     []time.Duration{0},
		Variables: []Parameter{TemperatureAGL},
		Grid:      testGrid,
		Values:    make([]float32, 5),
	}
	assert.ErrorIs(t, ds.Validate(), ErrDimensionMismatch)
}

func TestDatasetFromFields(t *testing.T) {
	it := time.Date(2022, 1, 1, 6, 0, 0, 0, time.UTC)

	t.Run("orders steps and variables", func(t *testing.T) {
		fields := []Field{
			{Name: "t", Step: 2 * time.Hour, Values: plane(3)},
			{Name: "lcc", Step: 2 * time.Hour, Values: plane(2)},
			{Name: "t", Step: time.Hour, Values: plane(1)},
			{Name: "unknown", Step: time.Hour, Values: plane(9)},
		}
		ds, err := DatasetFromFields("UKV", it, testGrid, fields, keepAll)
		require.NoError(t, err)

		assert.Equal(t, []time.Time{it}, ds.InitTimes)
		assert.Equal(t, []time.Duration{time.Hour, 2 * time.Hour}, ds.Steps)
		assert.Equal(t, []Parameter{LowCloudCover, TemperatureAGL}, ds.Variables)
		assert.Equal(t, plane(1), ds.Plane(0, 0, 1))
		assert.Equal(t, plane(3), ds.Plane(0, 1, 1))
		assert.True(t, math.IsNaN(float64(ds.Plane(0, 0, 0)[0])))
	})

	t.Run("wrong grid size", func(t *testing.T) {
		fields := []Field{{Name: "t", Values: []float32{1, 2}}}
		_, err := DatasetFromFields("UKV", it, testGrid, fields, keepAll)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("foreign init time", func(t *testing.T) {
		fields := []Field{{Name: "t", InitTime: it.Add(time.Hour), Values: plane(1)}}
		_, err := DatasetFromFields("UKV", it, testGrid, fields, keepAll)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("identical duplicate kept once", func(t *testing.T) {
		fields := []Field{{Name: "t", Values: plane(1)}, {Name: "t", Values: plane(1)}}
		ds, err := DatasetFromFields("UKV", it, testGrid, fields, keepAll)
		require.NoError(t, err)
		assert.Len(t, ds.Variables, 1)
	})

	t.Run("conflicting duplicate", func(t *testing.T) {
		fields := []Field{{Name: "t", Values: plane(1)}, {Name: "t", Values: plane(2)}}
		_, err := DatasetFromFields("UKV", it, testGrid, fields, keepAll)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("nothing recognised", func(t *testing.T) {
		fields := []Field{{Name: "foo", Values: plane(1)}}
		_, err := DatasetFromFields("UKV", it, testGrid, fields, keepAll)
		require.Error(t, err)
	})
}

func TestSortParameters(t *testing.T) {
	ps := []Parameter{"zz", WindVComponentAGL, LowCloudCover, "aa", TemperatureAGL}
	SortParameters(ps)
	assert.Equal(t, []Parameter{LowCloudCover, TemperatureAGL, WindVComponentAGL, "aa", "zz"}, ps)
	assert.True(t, TotalCloudCover.Known())
	assert.False(t, Parameter("aa").Known())
}
