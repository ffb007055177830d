package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/wvhulle/ferrous-owl/config"
	"github.com/wvhulle/ferrous-owl/model"
	"github.com/wvhulle/ferrous-owl/session"
	"github.com/wvhulle/ferrous-owl/verify"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one test case
type Result struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Runner executes test cases, each against its own server process and workspace
type Runner struct {
	command  []string
	cfg      *config.Config
	parallel int
	logger   *slog.Logger
	session  []session.Option
}

// NewRunner creates a runner starting the server with command
func NewRunner(command []string, opts ...RunnerOption) *Runner {
	ret := &Runner{
		command:  command,
		cfg:      config.DefaultConfig(),
		parallel: runtime.NumCPU(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Run executes tc in a workspace unique to index
func (r *Runner) Run(ctx context.Context, index int, tc *TestCase) *Result {
	if err := ctx.Err(); err != nil {
		return failure(tc, "not started: %v", err)
	}
	root, err := Create(ctx, tc.Name, index)
	if err != nil {
		return failure(tc, "%v", err)
	}
	defer func() {
		if err := Cleanup(context.Background(), root); err != nil {
			r.logger.Warn("workspace left behind", slog.String("path", root), slog.String("error", err.Error()))
		}
	}()
	result, err := r.run(ctx, root, tc)
	if err != nil {
		return failure(tc, "%v", err)
	}
	return &Result{Name: tc.Name, Passed: result.Passed, Message: result.Report}
}

func (r *Runner) run(ctx context.Context, root string, tc *TestCase) (*verify.Result, error) {
	opts := append([]session.Option{
		session.WithDir(root),
		session.WithConfig(r.cfg),
		session.WithLogger(r.logger),
	}, r.session...)
	s, err := session.Start(r.command, opts...)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if _, err = s.Initialize(root); err != nil {
		if !errors.Is(err, session.ErrIncompatible) {
			return nil, err
		}
		r.logger.Warn("continuing with incompatible server", slog.String("error", err.Error()))
	}
	path, err := WriteSource(ctx, root, tc.Code)
	if err != nil {
		return nil, err
	}
	pos, ok, err := tc.Cursor()
	if err != nil {
		return nil, err
	}
	if ok {
		if _, err = s.Cursor(path, pos); err != nil {
			return nil, fmt.Errorf("failed to select cursor: %w", err)
		}
	}
	if err = s.OpenDocument(path, tc.Code); err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	diagnostics, err := s.WaitForDecorations(len(tc.Expected), r.cfg.DecorationTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to collect decorations: %w", err)
	}

	lines := model.NewLines([]byte(tc.Code))
	var received []verify.Received
	for _, diagnostic := range diagnostics {
		if rec, ok := verify.FromDiagnostic(diagnostic, lines); ok {
			received = append(received, rec)
		}
	}
	result := verify.Verify(tc.Expected, verify.Filter(received, tc.Kinds()))

	if err = s.Shutdown(); err != nil {
		r.logger.Debug("unclean shutdown", slog.String("case", tc.Name), slog.String("error", err.Error()))
	}
	return result, nil
}

// RunAll executes cases in parallel; results keep the input order
func (r *Runner) RunAll(ctx context.Context, cases []*TestCase) []*Result {
	results := make([]*Result, len(cases))
	group := &errgroup.Group{}
	group.SetLimit(r.parallel)
	for i, tc := range cases {
		group.Go(func() error {
			results[i] = r.Run(ctx, i, tc)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// Summary counts passed and failed results
func Summary(results []*Result) (passed, failed int) {
	for _, result := range results {
		if result.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

func failure(tc *TestCase, format string, args ...any) *Result {
	return &Result{Name: tc.Name, Message: fmt.Sprintf(format, args...)}
}
