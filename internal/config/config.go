package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	archiveExtension = ".zip"

	defaultChunkSize          = 5 << 20 // 5 MiB
	defaultAbandonmentTimeout = 24 * time.Hour
	defaultCleanupInterval    = time.Hour
	defaultMaxUploadSize      = 10 << 30 // 10 GiB
)

// Config holds the coordinator's runtime configuration, loaded once at
// startup from the environment (with .env as a development convenience).
type Config struct {
	Port        string
	Environment string

	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// RedisURL is optional. When empty the status read-cache is disabled
	// and GET /upload/{id}/status always reads the MetaStore directly.
	RedisURL string

	UploadDir string
	TempDir   string

	ChunkSize          int64
	MaxUploadSize      int64
	AbandonmentTimeout time.Duration
	CleanupInterval    time.Duration

	// ArchiveExtension is the filename suffix SessionManager.Initialize
	// requires; a mismatched filename is rejected as a bad request.
	ArchiveExtension string
}

// Load reads configuration from the environment, applying the same
// fallbacks and .env discovery the rest of the coordinator's ambient
// stack uses.
func Load() (*Config, error) {
	LoadEnvOnce()

	chunkSize, err := strconv.ParseInt(GetEnvWithFallback("CHUNK_SIZE", fmt.Sprintf("%d", defaultChunkSize)), 10, 64)
	if err != nil || chunkSize <= 0 {
		return nil, fmt.Errorf("invalid CHUNK_SIZE: %q", GetEnvWithFallback("CHUNK_SIZE", ""))
	}

	maxUploadSize, err := strconv.ParseInt(GetEnvWithFallback("MAX_UPLOAD_SIZE", fmt.Sprintf("%d", defaultMaxUploadSize)), 10, 64)
	if err != nil || maxUploadSize <= 0 {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE: %q", GetEnvWithFallback("MAX_UPLOAD_SIZE", ""))
	}

	abandonmentTimeout, err := parseDurationHours("ABANDONMENT_TIMEOUT_HOURS", defaultAbandonmentTimeout)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := parseDurationMinutes("CLEANUP_INTERVAL_MINUTES", defaultCleanupInterval)
	if err != nil {
		return nil, err
	}

	dbMaxOpen, _ := strconv.Atoi(GetEnvWithFallback("DB_MAX_OPEN_CONNS", "25"))
	dbMaxIdle, _ := strconv.Atoi(GetEnvWithFallback("DB_MAX_IDLE_CONNS", "10"))

	ext := GetEnvWithFallback("ARCHIVE_EXTENSION", archiveExtension)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return &Config{
		Port:               GetEnvWithFallback("PORT", "8080"),
		Environment:        GetEnvWithFallback("ENVIRONMENT", "development"),
		DatabaseURL:        GetEnvWithFallback("DATABASE_URL", "postgresql://localhost:5432/upload_coordinator?sslmode=disable"),
		DBMaxOpenConns:     dbMaxOpen,
		DBMaxIdleConns:     dbMaxIdle,
		RedisURL:           GetEnvWithFallback("REDIS_URL", ""),
		UploadDir:          GetEnvWithFallback("UPLOAD_DIR", "./data/uploads"),
		TempDir:            GetEnvWithFallback("TEMP_DIR", "./data/tmp"),
		ChunkSize:          chunkSize,
		MaxUploadSize:      maxUploadSize,
		AbandonmentTimeout: abandonmentTimeout,
		CleanupInterval:    cleanupInterval,
		ArchiveExtension:   ext,
	}, nil
}

func parseDurationHours(key string, fallback time.Duration) (time.Duration, error) {
	raw := GetEnvWithFallback(key, "")
	if raw == "" {
		return fallback, nil
	}
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return time.Duration(hours * float64(time.Hour)), nil
}

func parseDurationMinutes(key string, fallback time.Duration) (time.Duration, error) {
	raw := GetEnvWithFallback(key, "")
	if raw == "" {
		return fallback, nil
	}
	minutes, err := strconv.ParseFloat(raw, 64)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return time.Duration(minutes * float64(time.Minute)), nil
}
