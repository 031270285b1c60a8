// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// QueryConfig holds the knobs of the execution core.
type QueryConfig struct {
	DefaultPageSize int           // result page size when the client sends none
	MaxPageSize     int           // server-side clamp for pageSize
	CancelGrace     time.Duration // bounded wait after a soft cancel before force-closing
	ResultTTL       time.Duration // idle time before a terminal execution's buffer is cleared
	RetentionWindow time.Duration // time after completion before the record is removed
	SweepInterval   time.Duration // retention sweeper tick
	RuntimeMargin   time.Duration // safety margin before the sweeper force-cancels a runaway
}

// Config holds the configuration for the HTTP API and the metastore.
type Config struct {
	MetaDBPath  string // path to SQLite metastore file
	CatalogPath string // path to the datasource catalog YAML file
	ListenAddr  string // HTTP listen address (default ":8080")
	JWTSecret   string // HS256 shared secret for JWT auth
	LogLevel    string // log level: debug, info, warn, error (default "info")
	Env         string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Query QueryConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:  os.Getenv("META_DB_PATH"),
		CatalogPath: os.Getenv("CATALOG_PATH"),
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Env:         os.Getenv("ENV"),
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	cfg.Query = QueryConfig{
		DefaultPageSize: intEnvDefault("QUERY_PAGE_SIZE_DEFAULT", 100),
		MaxPageSize:     intEnvDefault("QUERY_PAGE_SIZE_MAX", 500),
		CancelGrace:     durationEnvDefault("QUERY_CANCEL_GRACE", time.Second),
		ResultTTL:       durationEnvDefault("QUERY_RESULT_TTL", 10*time.Minute),
		RetentionWindow: durationEnvDefault("QUERY_RETENTION_WINDOW", time.Hour),
		SweepInterval:   durationEnvDefault("QUERY_SWEEP_INTERVAL", 30*time.Second),
		RuntimeMargin:   durationEnvDefault("QUERY_RUNTIME_MARGIN", 30*time.Second),
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "querygate_meta.sqlite"
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "datasources.yaml"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
		cfg.Warnings = append(cfg.Warnings, "JWT_SECRET not set — using insecure default. Set JWT_SECRET in production!")
	}
	if cfg.Query.CancelGrace > time.Second {
		cfg.Query.CancelGrace = time.Second
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.JWTSecret == "dev-secret-change-in-production" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func intEnvDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func durationEnvDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
