// Package aggregator folds unit results into the workspace model and forwards snapshots.
package aggregator

import (
	"errors"
	"log/slog"

	"github.com/wvhulle/ferrous-owl/channel"
	"github.com/wvhulle/ferrous-owl/model"
)

// Fold returns state with result merged in, and the snapshot holding just that unit.
// state is left untouched.
func Fold(state model.Workspace, crate string, result *model.Result) (model.Workspace, model.Workspace) {
	snapshot := snapshotOf(crate, result)
	next := state.Clone()
	next.Merge(snapshot)
	return next, snapshot
}

func snapshotOf(crate string, result *model.Result) model.Workspace {
	fn := result.Function.Clone()
	fn.ID = result.Unit
	return model.Workspace{crate: model.Crate{result.File: &model.File{Items: []*model.Function{fn}}}}
}

// Aggregator accumulates the workspace of one crate and sends a snapshot per folded result
type Aggregator struct {
	crate    string
	state    model.Workspace
	sender   *channel.Sender[model.Workspace]
	full     bool
	logger   *slog.Logger
	warnOnce bool
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithFullSnapshots makes every snapshot carry the whole accumulated workspace
func WithFullSnapshots() Option {
	return func(a *Aggregator) {
		a.full = true
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// New creates an aggregator; sender may be nil when nobody consumes snapshots
func New(crate string, sender *channel.Sender[model.Workspace], options ...Option) *Aggregator {
	a := &Aggregator{crate: crate, state: model.Workspace{}, sender: sender, logger: slog.Default()}
	for _, option := range options {
		option(a)
	}
	return a
}

// Fold merges result and delivers the snapshot. A consumer that went away is reported once;
// folding continues without delivery.
func (a *Aggregator) Fold(result *model.Result) (model.Workspace, error) {
	if result == nil || result.Function == nil {
		return model.Workspace{}, nil
	}
	snapshot := snapshotOf(a.crate, result)
	a.state.Merge(snapshot)
	if a.full {
		snapshot = a.state.Clone()
	}
	if a.sender == nil {
		return snapshot, nil
	}
	if err := a.sender.Send(snapshot); err != nil {
		if errors.Is(err, channel.ErrDisconnected) && !a.warnOnce {
			a.warnOnce = true
			a.logger.Warn("snapshot consumer disconnected", slog.String("crate", a.crate))
		}
		a.sender = nil
		return snapshot, err
	}
	return snapshot, nil
}

// Workspace returns a copy of the accumulated state
func (a *Aggregator) Workspace() model.Workspace {
	return a.state.Clone()
}

// Crate returns the crate name results are folded under
func (a *Aggregator) Crate() string {
	return a.crate
}
