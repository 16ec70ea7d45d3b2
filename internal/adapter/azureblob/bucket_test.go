package azureblob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well known development storage account key.
const devKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

func testBucket(t *testing.T) *Bucket {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/devstoreaccount1/nwp":
			w.WriteHeader(http.StatusOK)
		case "/devstoreaccount1/nwp/raw/present":
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
		default:
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	b, err := New(config.Azure{
		ConnectionString: "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + devKey +
			";BlobEndpoint=" + srv.URL + "/devstoreaccount1;",
		Container: "nwp",
	})
	require.NoError(t, err)
	return b
}

func TestNew_InvalidConnectionString(t *testing.T) {
	_, err := New(config.Azure{ConnectionString: "not a connection string", Container: "nwp"})
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestBucket_Stat(t *testing.T) {
	b := testBucket(t)

	ok, err := b.Stat(context.Background(), "raw/present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Stat(context.Background(), "raw/absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBucket_Ping(t *testing.T) {
	b := testBucket(t)
	require.NoError(t, b.Ping(context.Background()))
	assert.Equal(t, "az://nwp", b.Name())
}
