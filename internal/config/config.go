package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Pulse engagement service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Tracking   TrackingConfig
	Reconcile  ReconcileConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	Migrate  bool
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the analytics mirror of raw events.
type ClickHouseConfig struct {
	Enabled  bool
	Addrs    []string
	Database string
	Username string
	Password string
	Table    string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled       bool
	TrackingRPS   float64
	TrackingBurst int
	MgmtRPS       float64
	MgmtBurst     int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// TrackingConfig holds settings for tracking URLs handed to the delivery subsystem.
type TrackingConfig struct {
	BaseURL string
}

// ReconcileConfig controls the periodic snapshot rebuild.
type ReconcileConfig struct {
	Enabled  bool
	Schedule string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("PULSE_HTTP_ADDR", ":8080"),
			Env:             getEnv("PULSE_ENV", "development"),
			ShutdownTimeout: getDurationEnv("PULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("PULSE_DB_ENABLED", true),
			Host:     getEnv("PULSE_DB_HOST", "localhost"),
			Port:     getIntEnv("PULSE_DB_PORT", 5432),
			User:     getEnv("PULSE_DB_USER", "pulse"),
			Password: getEnv("PULSE_DB_PASSWORD", "pulse_secret"),
			DBName:   getEnv("PULSE_DB_NAME", "pulse"),
			SSLMode:  getEnv("PULSE_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("PULSE_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("PULSE_DB_MIN_CONNS", 5),
			Migrate:  getBoolEnv("PULSE_DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("PULSE_REDIS_ENABLED", true),
			Addr:     getEnv("PULSE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("PULSE_REDIS_PASSWORD", ""),
			DB:       getIntEnv("PULSE_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("PULSE_CLICKHOUSE_ENABLED", false),
			Addrs:    getSliceEnv("PULSE_CLICKHOUSE_ADDRS", []string{"localhost:9000"}),
			Database: getEnv("PULSE_CLICKHOUSE_DATABASE", "pulse"),
			Username: getEnv("PULSE_CLICKHOUSE_USER", "default"),
			Password: getEnv("PULSE_CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("PULSE_CLICKHOUSE_TABLE", "interaction_events"),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("PULSE_AUTH_ENABLED", false),
			MasterKey: getEnv("PULSE_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("PULSE_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/api/track/", "/api/heat-maps/interactions"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getBoolEnv("PULSE_RATE_LIMIT_ENABLED", true),
			TrackingRPS:   getFloatEnv("PULSE_RATE_LIMIT_TRACKING_RPS", 2000),
			TrackingBurst: getIntEnv("PULSE_RATE_LIMIT_TRACKING_BURST", 200),
			MgmtRPS:       getFloatEnv("PULSE_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst:     getIntEnv("PULSE_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("PULSE_LOG_LEVEL", "info"),
			Format: getEnv("PULSE_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("PULSE_METRICS_ENABLED", true),
			Path:      getEnv("PULSE_METRICS_PATH", "/metrics"),
			Namespace: getEnv("PULSE_METRICS_NAMESPACE", "pulse"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("PULSE_GEO_ENABLED", false),
			DatabasePath: getEnv("PULSE_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("PULSE_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("PULSE_GEO_CACHE_TTL", 1*time.Hour),
		},
		Tracking: TrackingConfig{
			BaseURL: strings.TrimRight(getEnv("PULSE_TRACKING_BASE_URL", "http://localhost:8080"), "/"),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getBoolEnv("PULSE_RECONCILE_ENABLED", true),
			Schedule: getEnv("PULSE_RECONCILE_SCHEDULE", "@every 15m"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("PULSE_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Tracking.BaseURL == "" {
		return fmt.Errorf("PULSE_TRACKING_BASE_URL must not be empty")
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addrs) == 0 {
		return fmt.Errorf("PULSE_CLICKHOUSE_ADDRS is required when ClickHouse is enabled")
	}
	if c.Reconcile.Enabled && c.Reconcile.Schedule == "" {
		return fmt.Errorf("PULSE_RECONCILE_SCHEDULE is required when reconciliation is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
