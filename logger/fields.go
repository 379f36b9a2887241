package logger

import "go.uber.org/zap"

// Standard field names for structured logging.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Jobs
	FieldJobID       = "job_id"
	FieldQueue       = "queue"
	FieldJobType     = "job_type"
	FieldAttempts    = "attempts"
	FieldMaxAttempts = "max_attempts"
	FieldStatus      = "status"

	// Workers
	FieldWorkerID  = "worker_id"
	FieldSleep     = "sleep"
	FieldComponent = "component"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// Storage
	FieldDriver = "driver"
	FieldPath   = "path"

	// Symbol prefix (꩜, ✿, ❀, ⊔)
	FieldSymbol = "symbol"
)

// ComponentLogger returns a named child of the global logger.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
//	jobLogger := logger.ChildLogger(base, logger.FieldJobID, job.ID)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
