// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the intake service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	NATS      NATSConfig      `mapstructure:"nats"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL connection settings. When Enabled is false
// the service runs on in-memory stores, which is useful for local testing.
type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// ConnString builds the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// IngestionConfig holds the watched-directory layout and scan cadence.
// Incident and alert drop files live under <DropDir>/incidents and
// <DropDir>/alerts respectively; processed files mirror that layout under
// ProcessedDir and failures land in ErrorDir.
type IngestionConfig struct {
	DropDir      string        `mapstructure:"drop_dir"`
	ProcessedDir string        `mapstructure:"processed_dir"`
	ErrorDir     string        `mapstructure:"error_dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

// IncidentsDropDir returns the incidents drop directory.
func (i IngestionConfig) IncidentsDropDir() string { return filepath.Join(i.DropDir, "incidents") }

// AlertsDropDir returns the alerts drop directory.
func (i IngestionConfig) AlertsDropDir() string { return filepath.Join(i.DropDir, "alerts") }

// IncidentsProcessedDir returns the processed directory for incident files.
func (i IngestionConfig) IncidentsProcessedDir() string {
	return filepath.Join(i.ProcessedDir, "incidents")
}

// AlertsProcessedDir returns the processed directory for alert files.
func (i IngestionConfig) AlertsProcessedDir() string { return filepath.Join(i.ProcessedDir, "alerts") }

// NATSConfig holds the optional outcome-event publisher settings.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Load reads configuration from file and environment variables.
// Environment variables use the INTAKE_ prefix and override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8096)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "intake")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "telhawk_intake")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("ingestion.drop_dir", "/var/lib/intake/drop")
	v.SetDefault("ingestion.processed_dir", "/var/lib/intake/processed")
	v.SetDefault("ingestion.error_dir", "/var/lib/intake/error")
	v.SetDefault("ingestion.poll_interval", "30s")
	v.SetDefault("ingestion.store_timeout", "30s")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "intake")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("INTAKE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
