package config

import (
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"WORKSPACES_PATH", "DB_DRIVER", "DATABASE_DSN", "DETECTOR_URL", "JPEG_QUALITY",
		"PNG_COMPRESSION", "COMPRESS_ENABLED", "COMPRESS_MIN_BYTES", "PROCESSING_LEASE_SECONDS", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.WorkspacesPath))
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.DetectorURL)
	assert.Equal(t, 60*time.Second, cfg.DetectorTimeout)
	assert.Equal(t, 85, cfg.JPEGQuality)
	assert.Equal(t, png.BestCompression, cfg.PNGCompression)
	assert.True(t, cfg.CompressEnabled)
	assert.Equal(t, 100*1024, cfg.CompressMinBytes)
	assert.Equal(t, 5*time.Minute, cfg.ProcessingLease)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DETECTOR_URL", "http://detector:9000/")
	t.Setenv("JPEG_QUALITY", "250")
	t.Setenv("PNG_COMPRESSION", "fast")
	t.Setenv("COMPRESS_ENABLED", "false")
	t.Setenv("THUMBNAIL_WIDTH", "not-a-number")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://detector:9000", cfg.DetectorURL)
	assert.Equal(t, 100, cfg.JPEGQuality)
	assert.Equal(t, png.BestSpeed, cfg.PNGCompression)
	assert.False(t, cfg.CompressEnabled)
	assert.Equal(t, defaultThumbnailWidth, cfg.ThumbnailWidth)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoadConfigRejectsBadDriver(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "mysql")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "postgres")
		t.Setenv("DATABASE_DSN", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
