// Package config loads process configuration from environment variables
// with documented defaults, following a "load once at startup, pass a
// struct down" pattern rather than a global config singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven setting for the crdtd process.
type Config struct {
	// HTTP / WebSocket listeners
	Port            string // PORT
	HocuspocusPort  string // HOCUSPOCUS_PORT
	AllowedOrigins  []string
	RateLimitRPS    int
	RateLimitBurst  int

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPoolSize int

	// Object storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// Auth
	AuthServiceURL    string
	JWTSecret         string
	RevokedTokensPath string

	// CRDT persistence policy
	SnapshotThresholdUpdates int
	SnapshotWorkerInterval   time.Duration
	SnapshotSizeLimitBytes   int64

	// Session runtime timing
	Debounce       time.Duration
	MaxDebounce    time.Duration
	SessionTimeout time.Duration
}

// Load reads Config from the environment, applying documented defaults
// for anything unset, and returns an error if neither JWT_SECRET nor
// AUTH_SERVICE_URL is configured, since verification has no way to run.
func Load() (Config, error) {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		HocuspocusPort: getEnv("HOCUSPOCUS_PORT", "8081"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "*")),
		RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 100),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "crdtd"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		DBPoolSize: getEnvInt("DB_POOL_SIZE", 20),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		AuthServiceURL:    getEnv("AUTH_SERVICE_URL", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		RevokedTokensPath: getEnv("REVOKED_TOKENS", ""),

		SnapshotThresholdUpdates: getEnvInt("SNAPSHOT_THRESHOLD_UPDATES", 200),
		SnapshotWorkerInterval:   time.Duration(getEnvInt("SNAPSHOT_WORKER_INTERVAL_MS", 30000)) * time.Millisecond,
		SnapshotSizeLimitBytes:   int64(getEnvInt("SNAPSHOT_SIZE_LIMIT_MB", 5)) * 1024 * 1024,

		Debounce:       time.Duration(getEnvInt("HOCUSPOCUS_DEBOUNCE", 2000)) * time.Millisecond,
		MaxDebounce:    time.Duration(getEnvInt("HOCUSPOCUS_MAX_DEBOUNCE", 10000)) * time.Millisecond,
		SessionTimeout: time.Duration(getEnvInt("HOCUSPOCUS_TIMEOUT", 30000)) * time.Millisecond,
	}

	if cfg.JWTSecret == "" && cfg.AuthServiceURL == "" {
		return cfg, fmt.Errorf("config: one of JWT_SECRET or AUTH_SERVICE_URL is required")
	}

	return cfg, nil
}

// DBConnString builds a pgx-compatible connection string from the
// individual DB_* settings.
func (c Config) DBConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode, c.DBPoolSize)
}

// AllowAllOrigins reports whether ALLOWED_ORIGINS was left at its dev-mode
// wildcard default. Treated as deliberate in development; production
// deployments should set an explicit list.
func (c Config) AllowAllOrigins() bool {
	return len(c.AllowedOrigins) == 1 && c.AllowedOrigins[0] == "*"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
