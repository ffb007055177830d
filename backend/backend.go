// Package backend discovers analyzable units in Rust sources and computes their ownership decorations.
package backend

import (
	"context"

	"github.com/wvhulle/ferrous-owl/model"
)

// Backend computes the decorations of one unit
type Backend interface {
	Analyze(ctx context.Context, unit *Unit) (*model.Function, error)
}

// Func adapts a function to Backend
type Func func(ctx context.Context, unit *Unit) (*model.Function, error)

// Analyze calls f
func (f Func) Analyze(ctx context.Context, unit *Unit) (*model.Function, error) {
	return f(ctx, unit)
}
