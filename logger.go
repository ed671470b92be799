package veld

// Logger defines the interface for container logging.
// The runtime uses structured logging with key-value pairs so that
// implementing applications can control how framework logs appear.
//
// The interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This approach is compatible with popular structured logging libraries
// like slog, logrus, zap, and others. All framework operations
// (component registration, resolution, lifecycle transitions, scope
// destruction) are logged through this interface.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal container events like refresh, start, and stop.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for failures that are isolated rather than fatal, such as a
	// destruction hook failing for one instance.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for detailed diagnostics such as per-component resolution.
	Debug(msg string, args ...any)
}

// NoopLogger discards all log output. It is used when the container is
// constructed without a logger.
type NoopLogger struct{}

// NewNoopLogger creates a logger that discards everything.
func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

// Info implements Logger.
func (*NoopLogger) Info(string, ...any) {}

// Error implements Logger.
func (*NoopLogger) Error(string, ...any) {}

// Warn implements Logger.
func (*NoopLogger) Warn(string, ...any) {}

// Debug implements Logger.
func (*NoopLogger) Debug(string, ...any) {}
