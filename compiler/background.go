package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/panics"
	"github.com/wvhulle/ferrous-owl/channel"
	"github.com/wvhulle/ferrous-owl/model"
)

// Outcome is the end of a background run
type Outcome struct {
	Code   int
	Report *Report
	Err    error
}

// RunInBackground analyzes the crate at root on its own goroutine. Snapshots arrive on the returned
// receiver, which is closed once the run ends; the outcome is sent on the channel afterwards.
func (d *Driver) RunInBackground(ctx context.Context, root string) (*channel.Receiver[model.Workspace], <-chan Outcome) {
	sender, receiver := channel.New[model.Workspace]()
	done := make(chan Outcome, 1)
	go func() {
		defer close(done)
		var outcome Outcome
		recovered := panics.Try(func() {
			outcome.Report, outcome.Err = d.Run(ctx, root, sender)
		})
		sender.Close()
		if recovered != nil {
			d.logger.Error("driver panicked", slog.Any("panic", recovered.Value), slog.String("stack", string(recovered.Stack)))
			outcome.Err = fmt.Errorf("%w: %v", ErrDriverPanic, recovered.Value)
		}
		outcome.Code = ExitCode(outcome.Err)
		done <- outcome
	}()
	return receiver, done
}

// ExitCode maps a run error to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var failed *CompilationFailedError
	if errors.As(err, &failed) {
		return failed.Code
	}
	return 1
}
