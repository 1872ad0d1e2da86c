package simplify

import (
	"context"

	"mlback/pkg/ir"
)

// Options controls Run.
type Options struct {
	Threshold int
	MaxPasses int
	Cleaner   Cleaner
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{Threshold: 10, MaxPasses: 8, Cleaner: DeadBindings{}}
}

// Result is the outcome of a full simplification.
type Result struct {
	Expr       ir.Expr
	LocalCount int
	Passes     int
	// Quiescent is false when MaxPasses was reached while the last pass
	// still asked for another.
	Quiescent bool
}

// Run repeats Simplify until a pass no longer asks to be repeated or
// MaxPasses passes have run. The body is cleaned after every pass.
func Run(e ir.Expr, localCount int, opts Options) (Result, error) {
	return RunContext(context.Background(), e, localCount, opts)
}

// RunContext is Run, stopping with ctx.Err() before a pass when ctx is
// done.
func RunContext(ctx context.Context, e ir.Expr, localCount int, opts Options) (Result, error) {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = def.MaxPasses
	}
	if opts.Cleaner == nil {
		opts.Cleaner = def.Cleaner
	}

	res := Result{Expr: e, LocalCount: localCount}
	for res.Passes < opts.MaxPasses {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		out, err := Simplify(res.Expr, res.LocalCount, opts.Threshold, WithCleaner(opts.Cleaner))
		if err != nil {
			return Result{}, err
		}
		res.Passes++
		body := out.Expr()
		res.Expr = opts.Cleaner.Clean(body, CountUsage(body), nil, out.LocalCount)
		res.LocalCount = out.LocalCount
		if !out.Reprocess {
			res.Quiescent = true
			break
		}
	}
	return res, nil
}
