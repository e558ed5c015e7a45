package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr                 string
	DBPath               string
	DataEncryptionKey    string
	RemoteBaseURL        string
	Environment          string
	SubmitTimeout        time.Duration
	SyncCooldown         time.Duration
	ConnectivityInterval time.Duration
	RetentionInterval    time.Duration
	AuditCleanupInterval time.Duration
	CacheSweepInterval   time.Duration
	StoreInitMaxRetries  int
	StoreInitBaseDelay   time.Duration
	AuditMaxEntries      int
	MaxBodyBytes         int64
	MetricsEnabled       bool
}

func Load() Config {
	return Config{
		Addr:                 getEnv("AGENT_ADDR", ":8080"),
		DBPath:               getEnv("AGENT_DB_PATH", "data/feedbacksync.db"),
		DataEncryptionKey:    getEnv("DATA_ENCRYPTION_KEY", ""),
		RemoteBaseURL:        getEnv("REMOTE_BASE_URL", ""),
		Environment:          getEnv("APP_ENV", "development"),
		SubmitTimeout:        getEnvDuration("SUBMIT_TIMEOUT", 30*time.Second),
		SyncCooldown:         getEnvDuration("SYNC_COOLDOWN", 30*time.Second),
		ConnectivityInterval: getEnvDuration("CONNECTIVITY_INTERVAL", 15*time.Second),
		RetentionInterval:    getEnvDuration("RETENTION_INTERVAL", 24*time.Hour),
		AuditCleanupInterval: getEnvDuration("AUDIT_CLEANUP_INTERVAL", 24*time.Hour),
		CacheSweepInterval:   getEnvDuration("CACHE_SWEEP_INTERVAL", time.Hour),
		StoreInitMaxRetries:  getEnvInt("STORE_INIT_MAX_RETRIES", 3),
		StoreInitBaseDelay:   getEnvDuration("STORE_INIT_BASE_DELAY", time.Second),
		AuditMaxEntries:      getEnvInt("AUDIT_MAX_ENTRIES", 10000),
		MaxBodyBytes:         int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		MetricsEnabled:       getEnvBool("METRICS_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("AGENT_DB_PATH is required")
	}
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("REMOTE_BASE_URL is required")
	}
	if c.Environment == "production" && strings.TrimSpace(c.DataEncryptionKey) == "" {
		return fmt.Errorf("DATA_ENCRYPTION_KEY must be set in production for encryption at rest")
	}
	if c.StoreInitMaxRetries < 0 {
		return fmt.Errorf("STORE_INIT_MAX_RETRIES must not be negative")
	}
	if c.AuditMaxEntries <= 0 {
		return fmt.Errorf("AUDIT_MAX_ENTRIES must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	return nil
}
