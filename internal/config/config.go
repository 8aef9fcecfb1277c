package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Crypto   CryptoConfig   `mapstructure:"crypto" yaml:"crypto"`
	Importer ImporterConfig `mapstructure:"importer" yaml:"importer"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// LoggerConfig configures the zap logger and its file rotation.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig points at the Postgres graph store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// CryptoConfig fixes the cost of password-based key derivation and the shape
// of generated export passwords.
type CryptoConfig struct {
	PBKDF2Iterations        int `mapstructure:"pbkdf2_iterations" yaml:"pbkdf2_iterations"`
	GeneratedPasswordLength int `mapstructure:"generated_password_length" yaml:"generated_password_length"`
}

// ImporterConfig tunes the legacy import progress pipeline.
type ImporterConfig struct {
	ProgressQueueSize int           `mapstructure:"progress_queue_size" yaml:"progress_queue_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// SetDefaults initializes default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pwnflow")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("database.url", "postgres://localhost:5432/pwnflow")

	v.SetDefault("crypto.pbkdf2_iterations", 100_000)
	v.SetDefault("crypto.generated_password_length", 24)

	v.SetDefault("importer.progress_queue_size", 64)
	v.SetDefault("importer.heartbeat_interval", "1s")

	v.SetDefault("server.listen_addr", ":8000")
}

// Load unmarshals the given viper instance into a Config after applying
// defaults, and validates the values the core depends on.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the core cannot run safely with.
func (c *Config) Validate() error {
	if c.Crypto.PBKDF2Iterations < 100_000 {
		return fmt.Errorf("crypto.pbkdf2_iterations must be at least 100000, got %d", c.Crypto.PBKDF2Iterations)
	}
	if c.Crypto.GeneratedPasswordLength < 16 {
		return fmt.Errorf("crypto.generated_password_length must be at least 16, got %d", c.Crypto.GeneratedPasswordLength)
	}
	if c.Importer.ProgressQueueSize < 1 {
		return fmt.Errorf("importer.progress_queue_size must be positive, got %d", c.Importer.ProgressQueueSize)
	}
	if c.Importer.HeartbeatInterval <= 0 {
		return fmt.Errorf("importer.heartbeat_interval must be positive, got %s", c.Importer.HeartbeatInterval)
	}
	return nil
}
