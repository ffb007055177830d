package server

import (
	"log/slog"

	"github.com/wvhulle/ferrous-owl/backend"
	"github.com/wvhulle/ferrous-owl/compiler"
)

type Option func(*Server)

// WithDriver sets the driver instead of building one at initialize
func WithDriver(driver *compiler.Driver) Option {
	return func(s *Server) {
		s.driver = driver
	}
}

// WithBackend sets the backend of the driver built at initialize
func WithBackend(b backend.Backend) Option {
	return func(s *Server) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}
