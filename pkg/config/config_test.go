package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/api", cfg.APIPrefix)
	require.Equal(t, StorageBackendLocal, cfg.Storage.Backend)
	require.Equal(t, "/orders", cfg.Orders.Root)
	require.Equal(t, 1800*time.Second, cfg.Orders.DeleteItemTimeout)
	require.Equal(t, 48*time.Hour, cfg.Tickets.TTL)
	require.Equal(t, 10, cfg.Tickets.MaxAttempts)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("STORAGE_S3_BUCKET", "orders-bucket")
	t.Setenv("DELETE_ITEM_TIMEOUT", "90s")
	t.Setenv("TICKET_TTL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StorageBackendS3, cfg.Storage.Backend)
	require.Equal(t, "orders-bucket", cfg.Storage.S3Bucket)
	require.Equal(t, 90*time.Second, cfg.Orders.DeleteItemTimeout)
	require.Equal(t, 48*time.Hour, cfg.Tickets.TTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
