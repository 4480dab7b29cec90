package postgresengine

import (
	"time"

	"github.com/openshelf/loan-engine-go/loanengine"
)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithTableNames sets the table names the engine operates on.
// Empty fields keep their defaults.
func WithTableNames(tables TableNames) Option {
	return func(e *Engine) error {
		assign := func(target *string, value string) {
			if value != "" {
				*target = value
			}
		}

		assign(&e.tables.Loans, tables.Loans)
		assign(&e.tables.Copies, tables.Copies)
		assign(&e.tables.Members, tables.Members)
		assign(&e.tables.Books, tables.Books)
		assign(&e.tables.Policies, tables.Policies)

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Operation outcomes, durations, allocation conflicts (production-safe)
// Warn level: Non-critical issues like cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger loanengine.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Engine.
// The contextual logger will receive log messages with context information
// including automatic trace/span correlation when tracing is enabled.
func WithContextualLogger(logger loanengine.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
// The collector will receive operation durations, outcome counters, and
// allocation conflict counters.
func WithMetrics(collector loanengine.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Engine.
// The collector will receive one span per engine operation, with outcome and
// error-type attributes.
func WithTracing(collector loanengine.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}

// WithClock sets the clock the engine stamps timestamps with.
// Intended for tests; defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		e.clock = clock
		return nil
	}
}
