package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
)

func TestNewMinIOPublicURL(t *testing.T) {
	m, err := NewMinIO(config.StorageConfig{Endpoint: "localhost:9000", Bucket: "media", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/media", m.publicBase)

	m, err = NewMinIO(config.StorageConfig{Endpoint: "s3.example.com", Bucket: "media", UseSSL: true, PublicBaseURL: "https://cdn.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com", m.publicBase)
}

func TestMemoryPut(t *testing.T) {
	m := NewMemory()
	url, err := m.Put(context.Background(), "a/b.png", "image/png", strings.NewReader("png"), 3)
	require.NoError(t, err)
	assert.Equal(t, "memory://a/b.png", url)
	assert.Equal(t, []byte("png"), m.Objects["a/b.png"])
}
