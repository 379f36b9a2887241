package am

import "github.com/teranos/pulseq/errors"

// Validate checks that the configuration is valid.
// Zero values mean "use the default"; negative values are rejected.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", DriverSQLite:
	case DriverPostgres:
		if c.Database.URL == "" {
			err := errors.New("database.url cannot be empty when database.driver is postgres")
			return errors.WithHint(err, "set PULSEQ_DATABASE_URL or database.url in pulseq.toml")
		}
	default:
		return errors.Newf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Database.MaxConns < 0 {
		return errors.Newf("database.max_conns must be >= 0, got %d", c.Database.MaxConns)
	}
	if c.Queue.SleepSeconds < 0 {
		return errors.Newf("queue.sleep_seconds must be >= 0, got %d", c.Queue.SleepSeconds)
	}
	if c.Queue.DefaultMaxAttempts < 0 {
		return errors.Newf("queue.default_max_attempts must be >= 0, got %d", c.Queue.DefaultMaxAttempts)
	}
	if c.Queue.MaxJobsPerMinute < 0 {
		return errors.Newf("queue.max_jobs_per_minute must be >= 0, got %d", c.Queue.MaxJobsPerMinute)
	}

	if c.Events.AMQPURL != "" && c.Events.Exchange == "" {
		err := errors.New("events.exchange cannot be empty when events.amqp_url is set")
		return errors.WithHint(err, "remove events.exchange to use the default "+DefaultEventsExchange)
	}

	return nil
}
