package main

import (
	"bytes"
	"testing"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEnv_ReportsMissingVariables(t *testing.T) {
	t.Setenv("CEDA_FTP_USER", "user")
	t.Setenv("CEDA_FTP_PASS", "")
	t.Setenv("AWS_S3_BUCKET", "")
	t.Setenv("AWS_REGION", "eu-west-2")

	out, err := execute(t, "env", "--source", "ceda", "--sink", "s3", "--rsink", "local")
	require.NoError(t, err)
	assert.Equal(t, "ceda: missing CEDA_FTP_PASS\ns3: missing AWS_S3_BUCKET\nlocal: ok\n", out)
}

func TestEnv_RawSinkDefaultsToSink(t *testing.T) {
	out, err := execute(t, "env", "--source", "icon", "--sink", "local")
	require.NoError(t, err)
	assert.Equal(t, "icon: ok\nlocal: ok\n", out)
}

func TestEnv_UnknownSink(t *testing.T) {
	_, err := execute(t, "env", "--sink", "ftp")
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "huggingface")
}

func TestRun_EndBeforeStart(t *testing.T) {
	_, err := execute(t, "download", "--source", "icon", "--from", "2024-03-02", "--to", "2024-03-01")
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestRun_BadDate(t *testing.T) {
	_, err := execute(t, "convert", "--from", "01/03/2024")
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestRun_MissingCredentialsFailBeforeNetwork(t *testing.T) {
	t.Setenv("METOFFICE_ORDER_ID", "")
	t.Setenv("METOFFICE_CLIENT_ID", "")
	t.Setenv("METOFFICE_CLIENT_SECRET", "")
	t.Setenv("SCRATCH_DIR", t.TempDir())

	_, err := execute(t, "consume", "--source", "metoffice", "--from", "2024-03-01")
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "METOFFICE_ORDER_ID")
}

func TestOptionsNames(t *testing.T) {
	o := options{source: "gfs", sink: "gcs", rsink: "gcs"}
	assert.Equal(t, []string{"gfs", "gcs"}, o.names())
	o.rsink = "azure"
	assert.Equal(t, []string{"gfs", "gcs", "azure"}, o.names())
}
