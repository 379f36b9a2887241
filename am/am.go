// Package am loads pulseq configuration ("I am") from TOML files and
// PULSEQ_* environment variables using Viper.
package am

import "fmt"

// Config represents the pulseq configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database" yaml:"database"`
	Queue    QueueConfig    `mapstructure:"queue" toml:"queue" yaml:"queue"`
	Metrics  MetricsConfig  `mapstructure:"metrics" toml:"metrics" yaml:"metrics"`
	Events   EventsConfig   `mapstructure:"events" toml:"events" yaml:"events"`
	Log      LogConfig      `mapstructure:"log" toml:"log" yaml:"log"`
}

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and configures the job store backend
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" toml:"driver" yaml:"driver"`          // sqlite | postgres
	Path     string `mapstructure:"path" toml:"path" yaml:"path"`                // SQLite file path
	URL      string `mapstructure:"url" toml:"url" yaml:"url"`                   // Postgres connection string
	MaxConns int    `mapstructure:"max_conns" toml:"max_conns" yaml:"max_conns"` // pgxpool MaxConns (0 = pgx default)
}

// QueueConfig configures the queue module and its workers
type QueueConfig struct {
	// Administrative switch; workers refuse to start when false
	Enabled bool `mapstructure:"enabled" toml:"enabled" yaml:"enabled"`

	Name               string `mapstructure:"name" toml:"name" yaml:"name"`                                                 // Queue polled by default
	SleepSeconds       int    `mapstructure:"sleep_seconds" toml:"sleep_seconds" yaml:"sleep_seconds"`                      // Idle sleep between empty polls
	DefaultMaxAttempts int    `mapstructure:"default_max_attempts" toml:"default_max_attempts" yaml:"default_max_attempts"` // Used when a job does not say
	MaxJobsPerMinute   int    `mapstructure:"max_jobs_per_minute" toml:"max_jobs_per_minute" yaml:"max_jobs_per_minute"`    // Per-worker poll cap (0 = unlimited)
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr" toml:"addr" yaml:"addr"` // e.g. ":9090"; empty disables
}

// EventsConfig configures publishing of job state changes to an AMQP broker
type EventsConfig struct {
	AMQPURL  string `mapstructure:"amqp_url" toml:"amqp_url" yaml:"amqp_url"` // empty disables
	Exchange string `mapstructure:"exchange" toml:"exchange" yaml:"exchange"` // topic exchange, declared on connect
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" yaml:"json"`
}

// File system constants
const (
	DefaultDirPermissions = 0755
)

// String returns a short representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: {Driver: %s}, Queue: {Name: %s, Enabled: %t}}",
		c.Database.Driver, c.Queue.Name, c.Queue.Enabled)
}
