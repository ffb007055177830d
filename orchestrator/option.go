package orchestrator

import "log/slog"

type Option func(*Orchestrator)

// WithWorkers sets the number of analyses running at once
func WithWorkers(workers int) Option {
	return func(o *Orchestrator) {
		if workers > 0 {
			o.workers = workers
		}
	}
}

// WithStackLimit sets the minimum goroutine stack ceiling in bytes
func WithStackLimit(limit int) Option {
	return func(o *Orchestrator) {
		o.stackLimit = limit
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}
