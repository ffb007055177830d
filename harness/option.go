package harness

import (
	"log/slog"

	"github.com/wvhulle/ferrous-owl/config"
	"github.com/wvhulle/ferrous-owl/session"
)

type RunnerOption func(*Runner)

// WithConfig sets the timeouts used by sessions and decoration waits
func WithConfig(cfg *config.Config) RunnerOption {
	return func(r *Runner) {
		if cfg != nil {
			r.cfg = cfg
		}
	}
}

// WithParallel bounds the number of cases running at once
func WithParallel(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.parallel = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSessionOptions adds options to every started session
func WithSessionOptions(opts ...session.Option) RunnerOption {
	return func(r *Runner) {
		r.session = append(r.session, opts...)
	}
}
