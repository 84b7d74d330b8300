// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/yoho/internal/model"
)

// Config holds all application configuration.
type Config struct {
	// Forecast API settings.
	BaseURL     string
	PathPrefix  string // e.g. "/api" when the API is mounted under a prefix.
	HTTPTimeout time.Duration

	// Scope settings. DefaultScope is resolved from the YOHO_DEFAULT_*
	// variables, then the catalogue default, then model.DefaultScope.
	DefaultScope     model.Scope
	ScopeCatalogPath string
	Catalog          model.Catalog

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// MCP tool-call rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Export settings. Each exporter is enabled by its first field.
	ExportSQLitePath string
	DatabaseURL      string
	MinIO            MinIOConfig

	LogLevel string
}

// MinIOConfig selects the object-storage export bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Enabled reports whether object-storage export is configured.
func (c MinIOConfig) Enabled() bool { return c.Endpoint != "" }

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		BaseURL:          strings.TrimRight(envStr("YOHO_BASE_URL", "http://localhost:8000"), "/"),
		PathPrefix:       envStr("YOHO_PATH_PREFIX", ""),
		HTTPTimeout:      l.duration("YOHO_HTTP_TIMEOUT", 30*time.Second),
		ScopeCatalogPath: envStr("YOHO_SCOPE_CATALOG", ""),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "yoho"),
		OTELInsecure:     l.bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		RateLimitEnabled: l.bool("YOHO_MCP_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     l.float("YOHO_MCP_RATE_LIMIT_RPS", 5),
		RateLimitBurst:   l.int("YOHO_MCP_RATE_LIMIT_BURST", 10),
		ExportSQLitePath: envStr("YOHO_EXPORT_SQLITE_PATH", ""),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		MinIO: MinIOConfig{
			Endpoint:  envStr("YOHO_MINIO_ENDPOINT", ""),
			AccessKey: envStr("YOHO_MINIO_ACCESS_KEY", ""),
			SecretKey: envStr("YOHO_MINIO_SECRET_KEY", ""),
			Region:    envStr("YOHO_MINIO_REGION", "us-east-1"),
			UseSSL:    l.bool("YOHO_MINIO_USE_SSL", false),
			Bucket:    envStr("YOHO_MINIO_BUCKET", "forecasts"),
			Prefix:    envStr("YOHO_MINIO_PREFIX", "exports"),
		},
		LogLevel: strings.ToLower(envStr("YOHO_LOG_LEVEL", "info")),
	}

	if cfg.ScopeCatalogPath != "" {
		catalog, err := LoadCatalog(cfg.ScopeCatalogPath)
		if err != nil {
			l.errs = append(l.errs, err)
		}
		cfg.Catalog = catalog
	}

	cfg.DefaultScope = cfg.Catalog.DefaultScope()
	if v := envStr("YOHO_DEFAULT_RUN", ""); v != "" {
		cfg.DefaultScope.Run = v
	}
	if v := envStr("YOHO_DEFAULT_LOA", ""); v != "" {
		cfg.DefaultScope.LoA = v
	}
	if v := envStr("YOHO_DEFAULT_VIOLENCE_TYPE", ""); v != "" {
		cfg.DefaultScope.ViolenceType = v
	}

	if len(l.errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(l.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: YOHO_BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("config: YOHO_HTTP_TIMEOUT must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst < 1) {
		return fmt.Errorf("config: YOHO_MCP_RATE_LIMIT_RPS must be positive and YOHO_MCP_RATE_LIMIT_BURST at least 1")
	}
	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("config: scope catalogue: %w", err)
	}
	if err := c.Catalog.Check(c.DefaultScope); err != nil {
		return fmt.Errorf("config: default scope: %w", err)
	}
	if c.MinIO.Enabled() && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("config: YOHO_MINIO_ENDPOINT requires YOHO_MINIO_ACCESS_KEY, YOHO_MINIO_SECRET_KEY and YOHO_MINIO_BUCKET")
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// ExportsEnabled reports whether any exporter is configured.
func (c Config) ExportsEnabled() bool {
	return c.ExportSQLitePath != "" || c.DatabaseURL != "" || c.MinIO.Enabled()
}

// LoadCatalog reads a YAML scope catalogue:
//
//	runs: [v1, v2]
//	loas: [standard, alternative]
//	violence_types: [armed_conflict, other]
//	default: {run: v1, loa: standard, violence_type: armed_conflict}
func LoadCatalog(path string) (model.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("read scope catalogue: %w", err)
	}
	var catalog model.Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return model.Catalog{}, fmt.Errorf("parse scope catalogue %s: %w", path, err)
	}
	if err := catalog.Validate(); err != nil {
		return model.Catalog{}, fmt.Errorf("scope catalogue %s: %w", path, err)
	}
	return catalog, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: YOHO_LOG_LEVEL=%q is not one of debug, info, warn, error", s)
	}
}

// loader collects parse errors so Load can report all of them.
type loader struct {
	errs []error
}

func (l *loader) int(key string, defaultVal int) int {
	v, err := envInt(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) float(key string, defaultVal float64) float64 {
	v, err := envFloat(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) bool(key string, defaultVal bool) bool {
	v, err := envBool(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) duration(key string, defaultVal time.Duration) time.Duration {
	v, err := envDuration(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func envStr(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
