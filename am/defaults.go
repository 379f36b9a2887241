package am

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared by SetDefaults and the getters below
const (
	DefaultQueueName        = "default"
	DefaultSleepSeconds     = 3
	DefaultMaxAttempts      = 3
	DefaultDatabasePath     = "pulseq.db"
	DefaultPostgresMaxConns = 4
	DefaultEventsExchange   = "pulseq.jobs"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", DefaultPostgresMaxConns)

	// Queue defaults
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.name", DefaultQueueName)
	v.SetDefault("queue.sleep_seconds", DefaultSleepSeconds)
	v.SetDefault("queue.default_max_attempts", DefaultMaxAttempts)
	v.SetDefault("queue.max_jobs_per_minute", 0)

	// Metrics are off unless an address is configured
	v.SetDefault("metrics.addr", "")

	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.exchange", DefaultEventsExchange)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds configuration that is commonly
// injected by the environment rather than a file.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.url", "PULSEQ_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("database.path", "PULSEQ_DATABASE_PATH")
	_ = v.BindEnv("queue.enabled", "PULSEQ_QUEUE_ENABLED")
	_ = v.BindEnv("events.amqp_url", "PULSEQ_EVENTS_AMQP_URL", "RABBITMQ_URL")
}

// GetDatabasePath returns the SQLite path with the default applied
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetQueueName returns the default queue name
func (c *Config) GetQueueName() string {
	if c.Queue.Name == "" {
		return DefaultQueueName
	}
	return c.Queue.Name
}

// GetSleep returns the idle sleep between empty polls
func (c *Config) GetSleep() time.Duration {
	if c.Queue.SleepSeconds <= 0 {
		return DefaultSleepSeconds * time.Second
	}
	return time.Duration(c.Queue.SleepSeconds) * time.Second
}

// GetDefaultMaxAttempts returns the attempt budget for jobs that do not set one
func (c *Config) GetDefaultMaxAttempts() int {
	if c.Queue.DefaultMaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.Queue.DefaultMaxAttempts
}
