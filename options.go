package ratchet

import "github.com/rs/zerolog"

// ErrorHandler is the scheduler's top-level handler for a task that exits
// with an uncaught error. If it returns a non-nil error, that error
// propagates out of the scheduler loop and terminates it, per §7.
type ErrorHandler func(s *Scheduler, t *Task) error

// Option configures a Scheduler at construction time, the functional-
// options idiom the teacher itself uses for NewWatcherSize.
type Option func(*schedConfig)

type schedConfig struct {
	logger      zerolog.Logger
	errHandler  ErrorHandler
	maxEvents   int
}

func defaultConfig() schedConfig {
	return schedConfig{
		logger:    zerolog.Nop(),
		maxEvents: maxPollEvents,
	}
}

// WithLogger attaches a zerolog.Logger the scheduler uses for lifecycle
// tracing. The default is zerolog.Nop() — a library should never write to
// stdout unless a caller opts in.
func WithLogger(l zerolog.Logger) Option {
	return func(c *schedConfig) { c.logger = l }
}

// WithErrorHandler sets the top-level error handler invoked when a task
// exits with an uncaught error.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *schedConfig) { c.errHandler = h }
}

// WithMaxEvents bounds how many readiness events are drained from the
// kernel poller in a single tick.
func WithMaxEvents(n int) Option {
	return func(c *schedConfig) {
		if n > 0 {
			c.maxEvents = n
		}
	}
}
