package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// devMasterKey is used outside production when MASTER_KEY is unset.
const devMasterKey = "6c6f636b626f782d6465762d6d61737465722d6b65792d646f2d6e6f742d7573"

// Config holds all configuration for the Lockbox server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Vault    VaultConfig
	Audit    AuditConfig
	Device   DeviceConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type VaultConfig struct {
	// MasterKey is 64 hex characters (32 bytes) fed to key derivation.
	MasterKey string
	// MasterToken is the bootstrap master credential seeded when none exist.
	MasterToken string
}

type AuditConfig struct {
	Workers      int
	QueueSize    int
	Retention    time.Duration
	FallbackFile string
}

type DeviceConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

type MetricsConfig struct {
	Port int
}

// IsProduction reports whether the server runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("LOCKBOX_PORT", 8080),
			Env:                envString("LOCKBOX_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Vault: VaultConfig{
			MasterKey:   os.Getenv("MASTER_KEY"),
			MasterToken: os.Getenv("MASTER_TOKEN"),
		},
		Audit: AuditConfig{
			Workers:      envInt("AUDIT_WORKERS", 4),
			QueueSize:    envInt("AUDIT_QUEUE_SIZE", 1024),
			Retention:    envDuration("AUDIT_RETENTION", 7*24*time.Hour),
			FallbackFile: envString("AUDIT_FALLBACK_FILE", "/tmp/lockbox_activity_errors.log"),
		},
		Device: DeviceConfig{
			PollInterval: envDurationSecs("DEVICE_POLL_INTERVAL_SECS", time.Second),
			MaxWait:      envDurationSecs("DEVICE_MAX_WAIT_SECS", 300*time.Second),
		},
		Metrics: MetricsConfig{
			Port: envInt("METRICS_PORT", 9090),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Vault.MasterKey == "" {
		cfg.Vault.MasterKey = devMasterKey
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Vault.MasterToken == "" {
		return fmt.Errorf("MASTER_TOKEN is required")
	}

	if c.Vault.MasterKey == "" {
		if c.IsProduction() {
			return fmt.Errorf("MASTER_KEY is required in production")
		}
	} else if err := validateMasterKey(c.Vault.MasterKey); err != nil {
		return err
	}

	if c.Audit.Workers <= 0 {
		return fmt.Errorf("AUDIT_WORKERS must be positive, got %d", c.Audit.Workers)
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("AUDIT_QUEUE_SIZE must be positive, got %d", c.Audit.QueueSize)
	}

	if c.Device.PollInterval <= 0 || c.Device.MaxWait < c.Device.PollInterval {
		return fmt.Errorf("DEVICE_MAX_WAIT_SECS must be at least DEVICE_POLL_INTERVAL_SECS")
	}

	return nil
}

func validateMasterKey(key string) error {
	if len(key) != 64 {
		return fmt.Errorf("MASTER_KEY must be 64 hex characters (32 bytes), got %d characters", len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("MASTER_KEY must be hex encoded: %w", err)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
