package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultConfigPath is used when neither flag nor env names a config file.
const defaultConfigPath = "config.yaml"

// Environment variables overriding secrets and connection strings.
const (
	EnvConfigPath     = "GATEWAY_CONFIG"
	EnvDatabaseDSN    = "GATEWAY_DATABASE_DSN"
	EnvRedisURL       = "GATEWAY_REDIS_URL"
	EnvJWTSecret      = "GATEWAY_JWT_SECRET"
	EnvAdminJWTSecret = "GATEWAY_ADMIN_JWT_SECRET"
)

// AppConfig holds command-line level options.
type AppConfig struct {
	ConfigPath string
}

// Config is the full gateway configuration loaded from YAML.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Cache      CacheConfig      `yaml:"cache"`
	Quota      QuotaConfig      `yaml:"quota"`
	Downstream DownstreamConfig `yaml:"downstream"`
	Audit      AuditConfig      `yaml:"audit"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read-timeout"`
	WriteTimeout time.Duration `yaml:"write-timeout"`
}

// DatabaseConfig configures the durable store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max-open-conns"`
	MaxIdleConns int    `yaml:"max-idle-conns"`
}

// RedisConfig configures the shared counter store and cache backend.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool-size"`
	DialTimeout  time.Duration `yaml:"dial-timeout"`
	ReadTimeout  time.Duration `yaml:"read-timeout"`
	WriteTimeout time.Duration `yaml:"write-timeout"`
}

// JWTConfig configures bearer token signing.
type JWTConfig struct {
	Secret      string        `yaml:"secret"`
	Expiry      time.Duration `yaml:"expiry"`
	AdminSecret string        `yaml:"admin-secret"`
	AdminExpiry time.Duration `yaml:"admin-expiry"`
}

// CacheConfig configures the application config cache.
type CacheConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	LocalTTL  time.Duration `yaml:"local-ttl"`
	LocalSize int           `yaml:"local-size"`
}

// QuotaConfig configures quota metering.
type QuotaConfig struct {
	SweepInterval time.Duration `yaml:"sweep-interval"`
	WarningRatio  float64       `yaml:"warning-ratio"`
}

// DownstreamConfig maps collaborator service names to base URLs.
type DownstreamConfig struct {
	Services map[string]string `yaml:"services"`
	Timeout  time.Duration     `yaml:"timeout"`
}

// AuditConfig configures audit log retention.
type AuditConfig struct {
	RetentionDays   int    `yaml:"retention-days"`
	CleanupSchedule string `yaml:"cleanup-schedule"`
}

// LogConfig configures logrus output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          "file:data/gateway.db",
			MaxOpenConns: 25,
			MaxIdleConns: 25,
		},
		Redis: RedisConfig{
			URL:          "redis://127.0.0.1:6379/0",
			PoolSize:     50,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		JWT: JWTConfig{
			Expiry:      time.Hour,
			AdminExpiry: 12 * time.Hour,
		},
		Cache: CacheConfig{
			TTL:       300 * time.Second,
			LocalTTL:  5 * time.Second,
			LocalSize: 10000,
		},
		Quota: QuotaConfig{
			SweepInterval: 5 * time.Minute,
			WarningRatio:  0.8,
		},
		Downstream: DownstreamConfig{
			Services: map[string]string{},
			Timeout:  30 * time.Second,
		},
		Audit: AuditConfig{
			RetentionDays:   180,
			CleanupSchedule: "@every 6h",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
	}
}

// ResolveConfigPath picks the config path from the flag value, env, or default.
func ResolveConfigPath(flagValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return filepath.Clean(env)
	}
	return defaultConfigPath
}

// ConfigExists reports whether the config file is present.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the YAML file at path over the defaults and applies env overrides.
// A missing file is not an error; defaults and env are used instead.
func Load(path string) (Config, error) {
	cfg := Default()
	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	applyEnv(&cfg)
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// applyEnv overrides secrets and connection strings from the environment.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		cfg.Redis.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		cfg.JWT.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAdminJWTSecret)); v != "" {
		cfg.JWT.AdminSecret = v
	}
}

// Validate checks required fields and bounds.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		return errors.New("config: redis.url is required")
	}
	if len(c.JWT.Secret) < 16 {
		return errors.New("config: jwt.secret must be at least 16 characters")
	}
	if c.JWT.AdminSecret == "" {
		return errors.New("config: jwt.admin-secret is required")
	}
	if c.JWT.AdminSecret == c.JWT.Secret {
		return errors.New("config: jwt.admin-secret must differ from jwt.secret")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("config: cache.ttl must be positive")
	}
	if c.Cache.LocalTTL <= 0 || c.Cache.LocalTTL > 5*time.Second {
		return errors.New("config: cache.local-ttl must be within (0, 5s]")
	}
	if c.Quota.WarningRatio <= 0 || c.Quota.WarningRatio >= 1 {
		return errors.New("config: quota.warning-ratio must be within (0, 1)")
	}
	return nil
}
