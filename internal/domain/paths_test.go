package domain_test

import (
	"testing"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fileInfo struct {
	name string
	it   time.Time
}

func (f fileInfo) Filename() string    { return f.name }
func (f fileInfo) InitTime() time.Time { return f.it }

func TestStorePaths(t *testing.T) {
	it := time.Date(2022, 1, 1, 6, 0, 0, 0, time.UTC)

	assert.Equal(t, "raw/2022/01/01/0600", domain.RawFolder("raw", it))
	assert.Equal(t, "raw/2022/01/01/0600/Wholesale1.grib", domain.RawPath("raw", fileInfo{"Wholesale1.grib", it}))
	assert.Equal(t, "zarr/202201010600.zarr", domain.ZarrPath("zarr", it, false))
	assert.Equal(t, "zarr/202201010600.zarr.zip", domain.ZarrPath("zarr", it, true))
	assert.Equal(t, "zarr/latest.zarr.zip", domain.LatestZarrPath("zarr", true))
	assert.Equal(t, "zarr/ceda-202201.zarr", domain.ConsolidatedZarrPath("zarr", "ceda", it))
}

func TestParseRawFolder(t *testing.T) {
	it, err := domain.ParseRawFolder("/data/raw/2022/01/01/1800/")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 1, 1, 18, 0, 0, 0, time.UTC), it)

	_, err = domain.ParseRawFolder("raw/2022/01")
	require.Error(t, err)

	_, err = domain.ParseRawFolder("raw/2022/13/01/1800")
	require.Error(t, err)
}
