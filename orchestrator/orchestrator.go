// Package orchestrator schedules unit analyses on a bounded pool, deduplicating them by fingerprint.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/wvhulle/ferrous-owl/backend"
	"github.com/wvhulle/ferrous-owl/cache"
	"github.com/wvhulle/ferrous-owl/config"
	"github.com/wvhulle/ferrous-owl/fingerprint"
	"github.com/wvhulle/ferrous-owl/model"
	"golang.org/x/sync/semaphore"
)

// Status is the outcome kind of a submission
type Status int

const (
	// Scheduled means the result arrives through Drain or Wait
	Scheduled Status = iota + 1
	// CacheHit means the result is available immediately
	CacheHit
	// Skipped means an earlier attempt at the same fingerprint failed in this run
	Skipped
)

func (s Status) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case CacheHit:
		return "cache hit"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Outcome is returned by Submit
type Outcome struct {
	Status Status
	Result *model.Result // set for CacheHit
}

// PanicError records a backend panic for one unit
type PanicError struct {
	Unit  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("analysis of %v panicked: %v", e.Unit, e.Value)
}

type task struct {
	fp          fingerprint.Fingerprint
	unit        *backend.Unit
	subscribers []*backend.Unit // guarded by Orchestrator.mu
	payload     *model.Function
	err         error
}

// Orchestrator runs analyses for one run. The cache and the task set are guarded by separate locks
// and no call path holds both.
type Orchestrator struct {
	backend    backend.Backend
	cache      *cache.Cache
	sem        *semaphore.Weighted
	workers    int
	stackLimit int
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu        sync.Mutex
	inFlight  map[fingerprint.Fingerprint]*task
	resolved  map[fingerprint.Fingerprint]*model.Function
	failed    map[fingerprint.Fingerprint]error
	completed []*task
	failures  []error
}

// New creates an orchestrator; a nil cache disables caching across runs
func New(b backend.Backend, c *cache.Cache, options ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:    b,
		cache:      c,
		workers:    config.Workers(runtime.NumCPU()),
		stackLimit: config.StackLimit,
		logger:     slog.Default(),
		inFlight:   map[fingerprint.Fingerprint]*task{},
		resolved:   map[fingerprint.Fingerprint]*model.Function{},
		failed:     map[fingerprint.Fingerprint]error{},
	}
	for _, option := range options {
		option(o)
	}
	if o.cache == nil {
		o.cache = cache.New("")
	}
	if o.workers < 1 {
		o.workers = 1
	}
	o.sem = semaphore.NewWeighted(int64(o.workers))
	EnsureStack(o.stackLimit)
	return o
}

// Workers returns the pool size
func (o *Orchestrator) Workers() int {
	return o.workers
}

// EnsureStack raises the goroutine stack ceiling to at least limit bytes
func EnsureStack(limit int) {
	if limit <= 0 {
		return
	}
	if prev := debug.SetMaxStack(limit); prev > limit {
		debug.SetMaxStack(prev)
	}
}

// Submit schedules the analysis of unit unless its fingerprint is already known
func (o *Orchestrator) Submit(ctx context.Context, unit *backend.Unit) (Outcome, error) {
	fp, err := unit.Fingerprint()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to fingerprint %v: %w", unit.ID, err)
	}
	if payload, ok := o.cache.Lookup(fp); ok {
		o.logger.Debug("cache hit", slog.String("unit", unit.ID))
		return Outcome{Status: CacheHit, Result: resultOf(unit, fp, payload)}, nil
	}

	o.mu.Lock()
	if payload, ok := o.resolved[fp]; ok {
		o.mu.Unlock()
		return Outcome{Status: CacheHit, Result: resultOf(unit, fp, payload)}, nil
	}
	if t, ok := o.inFlight[fp]; ok {
		t.subscribers = append(t.subscribers, unit)
		o.mu.Unlock()
		o.logger.Debug("joined in-flight task", slog.String("unit", unit.ID), slog.String("task", t.unit.ID))
		return Outcome{Status: Scheduled}, nil
	}
	if _, ok := o.failed[fp]; ok {
		o.mu.Unlock()
		return Outcome{Status: Skipped}, nil
	}
	t := &task{fp: fp, unit: unit}
	o.inFlight[fp] = t
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(ctx, t)
	return Outcome{Status: Scheduled}, nil
}

func (o *Orchestrator) run(ctx context.Context, t *task) {
	defer o.wg.Done()
	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.complete(t, nil, err)
		return
	}
	defer o.sem.Release(1)

	o.logger.Debug("analysis started", slog.String("unit", t.unit.ID))
	var (
		payload *model.Function
		err     error
	)
	recovered := panics.Try(func() {
		payload, err = o.backend.Analyze(ctx, t.unit)
	})
	if recovered != nil {
		err = &PanicError{Unit: t.unit.ID, Value: recovered.Value, Stack: recovered.Stack}
		o.logger.Error("analysis panicked", slog.String("unit", t.unit.ID), slog.Any("panic", recovered.Value), slog.String("stack", string(recovered.Stack)))
	} else if err == nil && payload == nil {
		err = fmt.Errorf("analysis of %v returned no result", t.unit.ID)
	}
	o.complete(t, payload, err)
}

func (o *Orchestrator) complete(t *task, payload *model.Function, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t.payload, t.err = payload, err
	delete(o.inFlight, t.fp)
	if err != nil {
		o.failed[t.fp] = err
		o.failures = append(o.failures, err)
		if _, ok := err.(*PanicError); !ok {
			o.logger.Warn("analysis failed", slog.String("unit", t.unit.ID), slog.String("error", err.Error()))
		}
	} else {
		o.resolved[t.fp] = payload
	}
	o.completed = append(o.completed, t)
}

// Drain returns the results of tasks finished since the last drain without waiting for others
func (o *Orchestrator) Drain() []*model.Result {
	o.mu.Lock()
	completed := o.completed
	o.completed = nil
	units := make([][]*backend.Unit, len(completed))
	for i, t := range completed {
		units[i] = append([]*backend.Unit{t.unit}, t.subscribers...)
	}
	o.mu.Unlock()

	var ret []*model.Result
	for i, t := range completed {
		if t.err != nil {
			continue
		}
		o.cache.Insert(t.fp, t.payload)
		for _, unit := range units[i] {
			ret = append(ret, resultOf(unit, t.fp, t.payload))
		}
	}
	return ret
}

// Wait blocks until every scheduled task finished or ctx is done, then drains
func (o *Orchestrator) Wait(ctx context.Context) ([]*model.Result, error) {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return o.Drain(), nil
	case <-ctx.Done():
		return o.Drain(), ctx.Err()
	}
}

// Pending returns the number of tasks still running
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight)
}

// Failures returns the errors of failed tasks, panics included
func (o *Orchestrator) Failures() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.failures...)
}

func resultOf(unit *backend.Unit, fp fingerprint.Fingerprint, payload *model.Function) *model.Result {
	fn := payload.Clone()
	fn.ID = unit.ID
	fn.Name = unit.Name
	return &model.Result{Unit: unit.ID, File: unit.File, Fingerprint: fp, Function: fn}
}
