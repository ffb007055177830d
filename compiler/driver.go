// Package compiler runs the analysis over every unit of a crate and streams workspace snapshots.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/viant/afs"
	"github.com/wvhulle/ferrous-owl/aggregator"
	"github.com/wvhulle/ferrous-owl/backend"
	"github.com/wvhulle/ferrous-owl/cache"
	"github.com/wvhulle/ferrous-owl/channel"
	"github.com/wvhulle/ferrous-owl/config"
	"github.com/wvhulle/ferrous-owl/model"
	"github.com/wvhulle/ferrous-owl/orchestrator"
)

// ErrDriverPanic is reported when a run panics outside of any unit analysis
var ErrDriverPanic = errors.New("compiler: driver panicked")

// CompilationFailedError reports a run whose sources did not all compile
type CompilationFailedError struct {
	Code  int
	Files []string
}

func (e *CompilationFailedError) Error() string {
	return fmt.Sprintf("compilation failed with code %d: %v file(s) with syntax errors", e.Code, len(e.Files))
}

// Report summarizes one run
type Report struct {
	Crate     string
	Root      string
	Files     int
	Units     int
	Scheduled int
	CacheHits int
	Skipped   int
	Results   int
	Failures  []error
	Broken    []string // files with syntax errors
}

// Driver analyzes crates with one backend and a shared result cache
type Driver struct {
	backend  backend.Backend
	cache    *cache.Cache
	fs       afs.Service
	overlays *Overlays
	workers  int
	stack    int
	full     bool
	logger   *slog.Logger

	runMu  sync.Mutex
	loaded map[string]bool
}

// NewDriver creates a driver
func NewDriver(b backend.Backend, opts ...Option) *Driver {
	ret := &Driver{
		backend:  b,
		fs:       afs.New(),
		overlays: NewOverlays(),
		workers:  config.Workers(runtime.NumCPU()),
		stack:    config.StackLimit,
		logger:   slog.Default(),
		loaded:   map[string]bool{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.cache == nil {
		ret.cache = cache.New("", cache.WithLogger(ret.logger))
	}
	return ret
}

// Overlays returns the editor buffers consulted instead of files on disk
func (d *Driver) Overlays() *Overlays {
	return d.overlays
}

// Cache returns the result cache
func (d *Driver) Cache() *cache.Cache {
	return d.cache
}

type pending struct {
	file *backend.File
	unit *backend.Unit
}

// Run analyzes the crate at root, folding each result and sending the snapshot on sender (may be nil).
// Files with syntax errors are still analyzed; they make the run fail with CompilationFailedError.
// Runs of one driver are serialized.
func (d *Driver) Run(ctx context.Context, root string, sender *channel.Sender[model.Workspace]) (*Report, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	crate, err := Detect(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to detect crate at %v: %w", root, err)
	}
	logger := d.logger.With(slog.String("crate", crate.Name))
	if !d.loaded[crate.Name] {
		d.loaded[crate.Name] = true
		if err = d.cache.Load(ctx, crate.Name); err != nil {
			logger.Warn("ignoring unreadable cache", slog.String("error", err.Error()))
		}
	}

	orch := orchestrator.New(d.backend, d.cache,
		orchestrator.WithWorkers(d.workers),
		orchestrator.WithStackLimit(d.stack),
		orchestrator.WithLogger(logger))
	aggOpts := []aggregator.Option{aggregator.WithLogger(logger)}
	if d.full {
		aggOpts = append(aggOpts, aggregator.WithFullSnapshots())
	}
	agg := aggregator.New(crate.Name, sender, aggOpts...)
	report := &Report{Crate: crate.Name, Root: crate.Root}
	fold := func(results []*model.Result) {
		for _, result := range results {
			report.Results++
			_, _ = agg.Fold(result)
		}
	}

	paths, err := d.paths(ctx, crate.Root)
	if err != nil {
		return nil, err
	}
	var queue []pending
	for _, rel := range paths {
		file, err := d.parse(ctx, crate.Root, rel)
		if err != nil {
			return nil, err
		}
		report.Files++
		if file.HasError() {
			report.Broken = append(report.Broken, rel)
			if at, ok := file.FirstError(); ok {
				logger.Info("syntax error", slog.String("file", rel), slog.String("at", at.String()))
			}
		}
		for _, unit := range file.Units(nil) {
			queue = append(queue, pending{file: file, unit: unit})
		}
	}

	for len(queue) > 0 {
		if err = ctx.Err(); err != nil {
			break
		}
		next := queue[0]
		queue = queue[1:]
		report.Units++
		outcome, err := orch.Submit(ctx, next.unit)
		if err != nil {
			report.Failures = append(report.Failures, err)
			continue
		}
		switch outcome.Status {
		case orchestrator.Scheduled:
			report.Scheduled++
		case orchestrator.CacheHit:
			report.CacheHits++
			fold([]*model.Result{outcome.Result})
		case orchestrator.Skipped:
			report.Skipped++
		}
		for _, nested := range next.file.Units(next.unit) {
			queue = append(queue, pending{file: next.file, unit: nested})
		}
		fold(orch.Drain())
	}

	results, waitErr := orch.Wait(ctx)
	fold(results)
	report.Failures = append(report.Failures, orch.Failures()...)
	if err = d.cache.Persist(ctx, crate.Name); err != nil {
		logger.Warn("failed to persist cache", slog.String("error", err.Error()))
	}
	logger.Info("run finished",
		slog.Int("files", report.Files),
		slog.Int("units", report.Units),
		slog.Int("scheduled", report.Scheduled),
		slog.Int("cacheHits", report.CacheHits),
		slog.Int("failures", len(report.Failures)))

	if waitErr != nil {
		return report, waitErr
	}
	if err = ctx.Err(); err != nil {
		return report, err
	}
	if len(report.Broken) > 0 {
		return report, &CompilationFailedError{Code: 1, Files: report.Broken}
	}
	return report, nil
}

// paths merges the sources on disk with overlaid buffers
func (d *Driver) paths(ctx context.Context, root string) ([]string, error) {
	paths, err := Sources(ctx, d.fs, root)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, rel := range paths {
		seen[rel] = true
	}
	for _, rel := range d.overlays.Under(root) {
		if !seen[rel] {
			paths = append(paths, rel)
		}
	}
	return paths, nil
}

func (d *Driver) parse(ctx context.Context, root, rel string) (*backend.File, error) {
	location := filepath.Join(root, filepath.FromSlash(rel))
	source, ok := d.overlays.Get(location)
	if !ok {
		var err error
		if source, err = d.fs.DownloadWithURL(ctx, location); err != nil {
			return nil, fmt.Errorf("failed to read %v: %w", location, err)
		}
	}
	return backend.Parse(ctx, rel, source)
}
