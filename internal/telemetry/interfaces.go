package telemetry

import "log"

// Logger exposes the logging capabilities required by server components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// StandardLogger exposes the wrapped logger so callers can hand it to
// components that need a *log.Logger.
func (l *loggerAdapter) StandardLogger() *log.Logger {
	if l == nil {
		return nil
	}
	return l.logger
}

// Metrics exposes the telemetry methods required by server components. Keys
// are the Metric* constants; unknown keys are ignored.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
	Observe(key string, seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)      {}
func (nopMetrics) Store(string, uint64)    {}
func (nopMetrics) Observe(string, float64) {}

// NopMetrics discards every sample.
func NopMetrics() Metrics { return nopMetrics{} }
