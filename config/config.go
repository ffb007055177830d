// Package config resolves run settings from defaults, an optional workspace file and the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

const (
	// EnvCacheDir names the directory the result cache persists to
	EnvCacheDir = "FERROUS_OWL_CACHE_DIR"
	// EnvLogLevel sets the log level of the binaries
	EnvLogLevel = "FERROUS_OWL_LOG"
	// EnvTestRunner overrides the location of the test-runner executable
	EnvTestRunner = "FERROUS_OWL_TEST_RUNNER"
	// File is the optional per-workspace settings file
	File = ".ferrous-owl.yaml"
	// StackLimit is the minimum goroutine stack ceiling for analysis workers
	StackLimit = 128 << 20
)

// Config holds run settings
type Config struct {
	CacheDir          string        `yaml:"cacheDir,omitempty"`
	Workers           int           `yaml:"workers,omitempty"`
	StackLimit        int           `yaml:"stackLimit,omitempty"`
	PollInterval      time.Duration `yaml:"pollInterval,omitempty"`
	InitializeTimeout time.Duration `yaml:"initializeTimeout,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout,omitempty"`
	DecorationTimeout time.Duration `yaml:"decorationTimeout,omitempty"`
	LogLevel          string        `yaml:"logLevel,omitempty"`
}

// DefaultConfig returns the settings used when nothing overrides them
func DefaultConfig() *Config {
	return &Config{
		StackLimit:        StackLimit,
		PollInterval:      100 * time.Millisecond,
		InitializeTimeout: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DecorationTimeout: 30 * time.Second,
		LogLevel:          "warn",
	}
}

// Workers returns the analysis pool size for the given hardware parallelism: half of it, between 2 and 8
func Workers(parallelism int) int {
	return min(max(parallelism/2, 2), 8)
}

// DefaultCacheDir returns the cache location inside a workspace root
func DefaultCacheDir(root string) string {
	return filepath.Join(root, "target", "ferrous-owl", "cache")
}

// Load resolves the settings of the workspace at root
func Load(ctx context.Context, root string) (*Config, error) {
	cfg := DefaultConfig()
	if root != "" {
		if err := cfg.merge(ctx, url.Join(root, File)); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if cfg.CacheDir == "" && root != "" {
		cfg.CacheDir = DefaultCacheDir(root)
	}
	if cfg.CacheDir != "" && !filepath.IsAbs(cfg.CacheDir) && root != "" {
		cfg.CacheDir = filepath.Join(root, cfg.CacheDir)
	}
	return cfg, nil
}

func (c *Config) merge(ctx context.Context, URL string) error {
	fs := afs.New()
	if ok, _ := fs.Exists(ctx, URL); !ok {
		return nil
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to read %v: %w", URL, err)
	}
	override := &Config{}
	if err = yaml.Unmarshal(data, override); err != nil {
		return fmt.Errorf("failed to decode %v: %w", URL, err)
	}
	c.override(override)
	return nil
}

func (c *Config) override(o *Config) {
	if o.CacheDir != "" {
		c.CacheDir = o.CacheDir
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.StackLimit > 0 {
		c.StackLimit = o.StackLimit
	}
	if o.PollInterval > 0 {
		c.PollInterval = o.PollInterval
	}
	if o.InitializeTimeout > 0 {
		c.InitializeTimeout = o.InitializeTimeout
	}
	if o.ShutdownTimeout > 0 {
		c.ShutdownTimeout = o.ShutdownTimeout
	}
	if o.DecorationTimeout > 0 {
		c.DecorationTimeout = o.DecorationTimeout
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

func (c *Config) applyEnv() {
	if dir := strings.TrimSpace(os.Getenv(EnvCacheDir)); dir != "" {
		c.CacheDir = dir
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.LogLevel = level
	}
}
