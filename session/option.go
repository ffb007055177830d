package session

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/wvhulle/ferrous-owl/config"
)

type options struct {
	dir               string
	env               []string
	stderr            io.Writer
	logger            *slog.Logger
	pollInterval      time.Duration
	initializeTimeout time.Duration
	shutdownTimeout   time.Duration
}

// Option configures a session
type Option func(*options)

func newOptions(opts []Option) *options {
	defaults := config.DefaultConfig()
	ret := &options{
		stderr:            os.Stderr,
		logger:            slog.Default(),
		pollInterval:      PollInterval,
		initializeTimeout: defaults.InitializeTimeout,
		shutdownTimeout:   defaults.ShutdownTimeout,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// WithDir sets the working directory of the server
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithEnv appends KEY=VALUE entries to the inherited environment
func WithEnv(env ...string) Option {
	return func(o *options) {
		o.env = append(o.env, env...)
	}
}

// WithStderr redirects the server's stderr
func WithStderr(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.stderr = w
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConfig takes the poll tick and timeouts from cfg
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		if cfg.PollInterval > 0 {
			o.pollInterval = cfg.PollInterval
		}
		if cfg.InitializeTimeout > 0 {
			o.initializeTimeout = cfg.InitializeTimeout
		}
		if cfg.ShutdownTimeout > 0 {
			o.shutdownTimeout = cfg.ShutdownTimeout
		}
	}
}

// WithTimeouts overrides the initialize and shutdown timeouts
func WithTimeouts(initialize, shutdown time.Duration) Option {
	return func(o *options) {
		if initialize > 0 {
			o.initializeTimeout = initialize
		}
		if shutdown > 0 {
			o.shutdownTimeout = shutdown
		}
	}
}
