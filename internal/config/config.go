package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Host     string
	Env      string
	LogLevel string

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBPath     string

	// Storage configuration
	StorageBackend string // "disk", "memory", "s3"
	StoragePath    string // For disk backend
	TempDir        string // Directory for in-flight upload temp files (defaults to system temp)
	S3Endpoint     string // Custom endpoint for S3-compatible services
	S3Region       string
	S3Bucket       string // S3 bucket name (required for s3 backend)
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool // Use path-style addressing (required for MinIO/rustfs)

	// Chunked upload configuration
	MaxChunkSize          int64         // Largest accepted request body for a single chunk
	UploadLockTimeout     time.Duration // Bounded wait for the per-session lock
	UploadSessionTimeout  time.Duration // Sessions older than this are abandoned
	UploadCleanupInterval time.Duration // How often abandoned sessions are swept

	// Chat configuration
	HistoryLimit int // Messages sent to a client when it joins a room

	CSRFEnabled bool
	CSRFSecret  string

	// CORSAllowedOrigins is a list of allowed origins for CORS and WebSocket upgrades.
	// If empty, no CORS headers are sent and only same-origin upgrades are accepted.
	CORSAllowedOrigins []string

	// TrustedProxyCIDRs lists proxies whose X-Real-IP / X-Forwarded-For headers are
	// believed when identifying clients for rate limiting.
	TrustedProxyCIDRs []string

	// RateLimitPerMinute caps room creation and upload initialization per client IP.
	RateLimitPerMinute float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Host:                  getEnv("HOST", "0.0.0.0"),
		Env:                   getEnv("ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", ""),
		DBType:                getEnv("DB_TYPE", "sqlite"),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBName:                getEnv("DB_NAME", "huddle"),
		DBUser:                getEnv("DB_USER", "huddle"),
		DBPassword:            getEnv("DB_PASSWORD", ""),
		DBPath:                getEnv("DB_PATH", "./data/huddle.db"),
		StorageBackend:        getEnv("STORAGE_BACKEND", "disk"),
		StoragePath:           getEnv("STORAGE_PATH", "./data/uploads"),
		TempDir:               getEnv("TEMP_DIR", ""),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		S3Region:              getEnv("S3_REGION", "us-east-1"),
		S3Bucket:              getEnv("S3_BUCKET", ""),
		S3AccessKey:           getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:           getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle:        getEnvBool("S3_USE_PATH_STYLE", false),
		MaxChunkSize:          getEnvSize("MAX_CHUNK_SIZE", "10M"),
		UploadLockTimeout:     getEnvDuration("UPLOAD_LOCK_TIMEOUT", "30s"),
		UploadSessionTimeout:  getEnvDuration("UPLOAD_SESSION_TIMEOUT", "24h"),
		UploadCleanupInterval: getEnvDuration("UPLOAD_CLEANUP_INTERVAL", "10m"),
		HistoryLimit:          getEnvInt("HISTORY_LIMIT", 50),
		CSRFEnabled:           getEnvBool("CSRF_ENABLED", true),
		CSRFSecret:            getEnv("CSRF_SECRET", "change_me_in_production_32_bytes"),
		CORSAllowedOrigins:    getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
		TrustedProxyCIDRs:     getEnvStringSlice("TRUSTED_PROXY_CIDRS", nil),
		RateLimitPerMinute:    getEnvFloat("RATE_LIMIT_PER_MIN", 30),
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Printf("Config loaded: MaxChunkSize=%d bytes (%.2f MB), UploadLockTimeout=%s, HistoryLimit=%d",
		cfg.MaxChunkSize, float64(cfg.MaxChunkSize)/(1024*1024), cfg.UploadLockTimeout, cfg.HistoryLimit)

	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBType {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s (supported: sqlite, postgres)", c.DBType)
	}

	switch c.StorageBackend {
	case "disk", "memory", "":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s (supported: disk, memory, s3)", c.StorageBackend)
	}

	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}
	if c.UploadLockTimeout <= 0 {
		return fmt.Errorf("UPLOAD_LOCK_TIMEOUT must be positive, got %s", c.UploadLockTimeout)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.UploadCleanupInterval < time.Second {
		c.UploadCleanupInterval = time.Second
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvStringSlice parses a comma-separated env var into a string slice.
// Empty entries are filtered out. Returns defaultValue if env var is empty.
func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// parseSize converts human-readable sizes (e.g., "10M", "512K") to bytes
// Supports: B, K/KB, M/MB, G/GB (case-insensitive)
func parseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))

	if val, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		return val, nil
	}

	units := []struct {
		suffixes   []string
		multiplier int64
	}{
		{[]string{"GB", "G"}, 1024 * 1024 * 1024},
		{[]string{"MB", "M"}, 1024 * 1024},
		{[]string{"KB", "K"}, 1024},
		{[]string{"B"}, 1},
	}

	for _, u := range units {
		for _, suffix := range u.suffixes {
			if !strings.HasSuffix(sizeStr, suffix) {
				continue
			}
			numStr := strings.TrimSuffix(sizeStr, suffix)
			val, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size value: %s", sizeStr)
			}
			return int64(val * float64(u.multiplier)), nil
		}
	}

	return 0, fmt.Errorf("invalid size format: %s (use B, K/KB, M/MB, G/GB)", sizeStr)
}

// getEnvSize parses size strings like "10M" or raw bytes
func getEnvSize(key string, defaultValue string) int64 {
	value := getEnv(key, defaultValue)
	size, err := parseSize(value)
	if err != nil {
		log.Printf("getEnvSize: parseSize failed for %s: %v, using default", value, err)
		if defaultSize, defaultErr := parseSize(defaultValue); defaultErr == nil {
			return defaultSize
		}
		return 0
	}
	return size
}

// getEnvDuration parses duration strings like "30s", "24h"
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("getEnvDuration: parse failed for %s: %v, using default", value, err)
		if defaultDuration, defaultErr := time.ParseDuration(defaultValue); defaultErr == nil {
			return defaultDuration
		}
		return 0
	}
	return duration
}
