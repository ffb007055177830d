package compiler

import (
	"log/slog"

	"github.com/viant/afs"
	"github.com/wvhulle/ferrous-owl/cache"
	"github.com/wvhulle/ferrous-owl/config"
)

type Option func(*Driver)

// WithCache sets the result cache shared across runs
func WithCache(c *cache.Cache) Option {
	return func(d *Driver) {
		d.cache = c
	}
}

// WithFS sets the file system sources are read from
func WithFS(fs afs.Service) Option {
	return func(d *Driver) {
		if fs != nil {
			d.fs = fs
		}
	}
}

// WithConfig takes the worker count and stack limit from cfg
func WithConfig(cfg *config.Config) Option {
	return func(d *Driver) {
		if cfg == nil {
			return
		}
		if cfg.Workers > 0 {
			d.workers = cfg.Workers
		}
		if cfg.StackLimit > 0 {
			d.stack = cfg.StackLimit
		}
	}
}

// WithFullSnapshots sends the accumulated workspace with every result instead of the single result
func WithFullSnapshots() Option {
	return func(d *Driver) {
		d.full = true
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}
