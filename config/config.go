package config

import (
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultThumbnailQueueSize  = 200
	defaultNumThumbnailWorkers = 2
	defaultThumbnailWidth      = 320
	defaultJPEGQuality         = 85
	defaultCompressMinBytes    = 100 * 1024
	defaultDetectorTimeout     = 60
	defaultProcessingLease     = 300
)

type Config struct {
	// root holding one directory per workspace
	WorkspacesPath string

	// index store backend
	DBDriver    string
	DatabaseDSN string // postgres only; sqlite lives inside each workspace

	// external detector
	DetectorURL     string
	DetectorTimeout time.Duration

	// compressor
	CompressEnabled  bool
	JPEGQuality      int
	PNGCompression   png.CompressionLevel
	CompressMinBytes int

	// thumbnails and warm-up workers
	ThumbnailWidth      int
	ThumbnailQueueSize  int
	NumThumbnailWorkers int

	// claims older than this are handed out again
	ProcessingLease time.Duration

	Port        string
	CORSOrigins []string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("config: invalid %s '%s', using default %d (err: %v)", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("config: invalid %s '%s', using default %t", envVar, valStr, defaultVal)
		return defaultVal
	}
	return val
}

func parsePNGCompression(s string) png.CompressionLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default":
		return png.DefaultCompression
	case "fast", "speed":
		return png.BestSpeed
	case "none":
		return png.NoCompression
	case "best", "":
		return png.BestCompression
	default:
		log.Printf("config: unknown PNG_COMPRESSION '%s', using best", s)
		return png.BestCompression
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func LoadConfig() (Config, error) {
	root := getEnvOrDefault("WORKSPACES_PATH", filepath.Join(".", "workspaces"))
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for workspaces root '%s': %w", root, err)
	}

	driver := strings.ToLower(getEnvOrDefault("DB_DRIVER", DriverSQLite))
	if driver != DriverSQLite && driver != DriverPostgres {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER '%s' (want %s or %s)", driver, DriverSQLite, DriverPostgres)
	}
	dsn := os.Getenv("DATABASE_DSN")
	if driver == DriverPostgres && dsn == "" {
		return Config{}, fmt.Errorf("DATABASE_DSN is required when DB_DRIVER=%s", DriverPostgres)
	}

	quality := getEnvIntOrDefault("JPEG_QUALITY", defaultJPEGQuality)
	if quality > 100 {
		log.Printf("config: JPEG_QUALITY %d out of range, clamping to 100", quality)
		quality = 100
	}

	cfg := Config{
		WorkspacesPath:      absRoot,
		DBDriver:            driver,
		DatabaseDSN:         dsn,
		DetectorURL:         strings.TrimRight(getEnvOrDefault("DETECTOR_URL", "http://127.0.0.1:8000"), "/"),
		DetectorTimeout:     time.Duration(getEnvIntOrDefault("DETECTOR_TIMEOUT_SECONDS", defaultDetectorTimeout)) * time.Second,
		CompressEnabled:     getEnvBoolOrDefault("COMPRESS_ENABLED", true),
		JPEGQuality:         quality,
		PNGCompression:      parsePNGCompression(os.Getenv("PNG_COMPRESSION")),
		CompressMinBytes:    getEnvIntOrDefault("COMPRESS_MIN_BYTES", defaultCompressMinBytes),
		ThumbnailWidth:      getEnvIntOrDefault("THUMBNAIL_WIDTH", defaultThumbnailWidth),
		ThumbnailQueueSize:  getEnvIntOrDefault("THUMBNAIL_QUEUE_SIZE", defaultThumbnailQueueSize),
		NumThumbnailWorkers: getEnvIntOrDefault("NUM_THUMBNAIL_WORKERS", defaultNumThumbnailWorkers),
		ProcessingLease:     time.Duration(getEnvIntOrDefault("PROCESSING_LEASE_SECONDS", defaultProcessingLease)) * time.Second,
		Port:                getEnvOrDefault("PORT", "8080"),
		CORSOrigins:         splitList(getEnvOrDefault("CORS_ORIGINS", "http://localhost:5173")),
	}

	return cfg, nil
}
