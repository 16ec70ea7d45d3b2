package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 4, cfg.InitTimeWorkers)
	assert.Equal(t, runtime.NumCPU(), cfg.DownloadWorkers)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	assert.False(t, cfg.NotificationsEnabled())
	assert.Equal(t, "nwp-init-times", cfg.KafkaTopic)
	assert.True(t, cfg.Zip("s3"))
	assert.False(t, cfg.Zip("local"))
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SCRATCH_DIR", "/var/tmp/nwp")
	t.Setenv("INIT_TIME_WORKERS", "2")
	t.Setenv("DOWNLOAD_WORKERS", "8")
	t.Setenv("METRICS_ADDR", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("HTTP_TIMEOUT", "5m")
	t.Setenv("ZARR_ZIP", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "ukv")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "/var/tmp/nwp", cfg.ScratchDir)
	assert.Equal(t, 2, cfg.InitTimeWorkers)
	assert.Equal(t, 8, cfg.DownloadWorkers)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.HTTPTimeout)
	assert.True(t, cfg.Zip("local"))
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "ukv", cfg.KafkaTopic)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"INIT_TIME_WORKERS", "0"},
		{"DOWNLOAD_WORKERS", "many"},
		{"HTTP_TIMEOUT", "-1s"},
		{"SHUTDOWN_TIMEOUT", "soon"},
		{"ZARR_ZIP", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

func TestMissing(t *testing.T) {
	t.Setenv("CEDA_FTP_USER", "user")
	t.Setenv("CEDA_FTP_PASS", "")

	missing, err := Missing("ceda")
	require.NoError(t, err)
	assert.Equal(t, []string{"CEDA_FTP_PASS"}, missing)

	missing, err = Missing("local")
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = Missing("ecmwf")
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestLoadCEDA(t *testing.T) {
	t.Setenv("CEDA_FTP_USER", "")
	t.Setenv("CEDA_FTP_PASS", "")
	_, err := LoadCEDA()
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "CEDA_FTP_USER, CEDA_FTP_PASS")

	t.Setenv("CEDA_FTP_USER", "user")
	t.Setenv("CEDA_FTP_PASS", "pass")
	cfg, err := LoadCEDA()
	require.NoError(t, err)
	assert.Equal(t, "ftp.ceda.ac.uk:21", cfg.FTPAddr)
}

func TestLoadMetOffice_Area(t *testing.T) {
	t.Setenv("METOFFICE_ORDER_ID", "order")
	t.Setenv("METOFFICE_CLIENT_ID", "id")
	t.Setenv("METOFFICE_CLIENT_SECRET", "secret")

	cfg, err := LoadMetOffice()
	require.NoError(t, err)
	assert.Equal(t, AreaUK, cfg.Area)
	assert.Equal(t, "grib", cfg.Format)

	t.Setenv("METOFFICE_AREA", "mars")
	_, err = LoadMetOffice()
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestLoadMetOffice_Format(t *testing.T) {
	t.Setenv("METOFFICE_ORDER_ID", "order")
	t.Setenv("METOFFICE_CLIENT_ID", "id")
	t.Setenv("METOFFICE_CLIENT_SECRET", "secret")

	t.Setenv("METOFFICE_FORMAT", "NetCDF")
	cfg, err := LoadMetOffice()
	require.NoError(t, err)
	assert.Equal(t, "netcdf", cfg.Format)

	t.Setenv("METOFFICE_FORMAT", "csv")
	_, err = LoadMetOffice()
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestLoadICONAndGFS_Defaults(t *testing.T) {
	icon, err := LoadICON()
	require.NoError(t, err)
	assert.Equal(t, "basic", icon.ParameterGroup)
	assert.Equal(t, 48, icon.Hours)

	gfs, err := LoadGFS()
	require.NoError(t, err)
	assert.Equal(t, "noaa-gfs-bdp-pds", gfs.Bucket)
	assert.True(t, gfs.Secure)

	t.Setenv("ICON_PARAMETER_GROUP", "everything")
	_, err = LoadICON()
	require.ErrorIs(t, err, domain.ErrConfig)
}
