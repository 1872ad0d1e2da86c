// Package pipeline drives one compilation unit through the simplifier
// and the code generator, and links the result. It is the only package
// of the back end that logs, traces and counts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"mlback/pkg/asm"
	"mlback/pkg/codegen"
	"mlback/pkg/config"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
	"mlback/pkg/simplify"
)

const instrumentation = "mlback/pkg/pipeline"

// ErrFallbackDisabled is returned for a function the generator could not
// handle when fallback routing is off.
var ErrFallbackDisabled = errors.New("pipeline: function needs the general generator")

// Unit is a compilation unit: top-level functions without free variables.
type Unit struct {
	Name  string
	Funcs []*ir.Lambda
}

// Options controls CompileUnit. The zero value is usable.
type Options struct {
	Simplify simplify.Options
	// NoSimplify hands the functions to the generator as they are.
	NoSimplify bool
	// Fallback receives the functions the generator cannot handle. Nil
	// means a new codegen.Deferred per unit.
	Fallback       codegen.Fallback
	NoFallback     bool
	NoStackCheck   bool
	Parallel       int
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// FromConfig builds Options from a loaded configuration.
func FromConfig(cfg config.Config, logger *slog.Logger) Options {
	return Options{
		Simplify: simplify.Options{
			Threshold: cfg.Simplify.Threshold,
			MaxPasses: cfg.Simplify.MaxPasses,
		},
		NoFallback:   !cfg.Codegen.Fallback,
		NoStackCheck: !cfg.Codegen.CheckStack,
		Parallel:     cfg.Pipeline.Parallel,
		Logger:       logger,
	}
}

// Report describes what happened to one top-level function.
type Report struct {
	Name       string
	Simplified ir.Expr
	Passes     int
	Quiescent  bool
	Status     codegen.Status
	Reason     error
	MaxStack   int
	Code       *asm.Func
}

// Output is a compiled unit ready to link.
type Output struct {
	ID      uuid.UUID
	Program *asm.Program
	Reports []Report
	// Entries maps function names to their static closure objects.
	Entries map[string]int
	// Deferred is the fallback used when Options.Fallback was nil.
	Deferred *codegen.Deferred
}

// Link links the program.
func (o *Output) Link() (*cpu.Image, error) {
	return o.Program.Link()
}

type instruments struct {
	tracer    trace.Tracer
	passes    metric.Int64Counter
	functions metric.Int64Counter
	fallbacks metric.Int64Counter
	duration  metric.Float64Histogram
}

func newInstruments(opts Options) (*instruments, error) {
	tp, mp := opts.TracerProvider, opts.MeterProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentation)
	ins := &instruments{tracer: tp.Tracer(instrumentation)}
	var err error
	if ins.passes, err = meter.Int64Counter("mlback.simplify.passes",
		metric.WithDescription("Simplifier passes run")); err != nil {
		return nil, err
	}
	if ins.functions, err = meter.Int64Counter("mlback.codegen.functions",
		metric.WithDescription("Top-level functions generated")); err != nil {
		return nil, err
	}
	if ins.fallbacks, err = meter.Int64Counter("mlback.codegen.fallbacks",
		metric.WithDescription("Functions routed to the general generator")); err != nil {
		return nil, err
	}
	if ins.duration, err = meter.Float64Histogram("mlback.unit.duration",
		metric.WithUnit("s"), metric.WithDescription("Time to compile a unit")); err != nil {
		return nil, err
	}
	return ins, nil
}

// CompileUnit simplifies and generates every function of u. With
// Parallel above one, functions are generated concurrently, each into its
// own program; the programs are merged in unit order so the output does
// not depend on scheduling.
func CompileUnit(ctx context.Context, u Unit, opts Options) (*Output, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ins, err := newInstruments(opts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: instruments: %w", err)
	}

	out := &Output{ID: uuid.New(), Program: asm.NewProgram(), Entries: make(map[string]int)}
	logger = logger.With("unit", u.Name, "id", out.ID.String())
	ctx, span := ins.tracer.Start(ctx, "CompileUnit", trace.WithAttributes(
		attribute.String("mlback.unit", u.Name),
		attribute.String("mlback.unit.id", out.ID.String()),
		attribute.Int("mlback.unit.functions", len(u.Funcs)),
	))
	defer span.End()
	start := time.Now()
	logger.Info("compiling unit", "functions", len(u.Funcs))

	fb := opts.Fallback
	if fb == nil {
		out.Deferred = &codegen.Deferred{}
		fb = out.Deferred
	}

	// Names are fixed up front so concurrent generation cannot race for them.
	names := make([]string, len(u.Funcs))
	for i, l := range u.Funcs {
		if len(l.Closure) != 0 {
			err := fmt.Errorf("pipeline: top-level function %s has free variables", l.Name)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		names[i] = out.Program.Reserve(l.Name)
	}

	reports := make([]Report, len(u.Funcs))
	progs := make([]*asm.Program, len(u.Funcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallel, 1))
	for i, l := range u.Funcs {
		i, l := i, l
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			progs[i] = asm.NewProgram()
			r, err := compileFunc(gctx, ins, logger, l, names[i], progs[i], fb, opts)
			reports[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("unit failed", "err", err)
		return nil, err
	}

	for i, p := range progs {
		if err := out.Program.Merge(p); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		out.Entries[names[i]] = out.Program.Closure(reports[i].Code.Name)
	}
	out.Reports = reports

	ins.duration.Record(ctx, time.Since(start).Seconds())
	logger.Info("unit compiled", "functions", len(reports), "elapsed", time.Since(start))
	return out, nil
}

func compileFunc(ctx context.Context, ins *instruments, logger *slog.Logger, l *ir.Lambda, name string,
	prog *asm.Program, fb codegen.Fallback, opts Options) (Report, error) {
	ctx, span := ins.tracer.Start(ctx, "CompileFunc", trace.WithAttributes(attribute.String("mlback.function", name)))
	defer span.End()
	rep := Report{Name: name, Simplified: l.Body, Quiescent: true}

	fn := l
	if !opts.NoSimplify {
		res, err := simplify.RunContext(ctx, l.Body, l.LocalCount, opts.Simplify)
		if err != nil {
			span.RecordError(err)
			return rep, fmt.Errorf("pipeline: %s: %w", name, err)
		}
		ins.passes.Add(ctx, int64(res.Passes))
		rep.Simplified, rep.Passes, rep.Quiescent = res.Expr, res.Passes, res.Quiescent
		if !res.Quiescent {
			logger.Debug("pass limit reached", "function", name, "passes", res.Passes)
		}
		cp := *l
		cp.Body, cp.LocalCount = res.Expr, res.LocalCount
		fn = &cp
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	cgOpts := []codegen.Option{codegen.WithName(name), codegen.WithStackCheck(!opts.NoStackCheck)}
	var (
		res codegen.Result
		err error
	)
	if opts.NoFallback {
		res, err = codegen.Generate(fn, prog, cgOpts...)
	} else {
		res, err = codegen.Compile(fn, prog, fb, cgOpts...)
	}
	if err != nil {
		span.RecordError(err)
		return rep, fmt.Errorf("pipeline: %s: %w", name, err)
	}
	rep.Status, rep.Reason, rep.MaxStack, rep.Code = res.Status, res.Reason, res.MaxStack, res.Func
	ins.functions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", res.Status.String())))

	if res.Status == codegen.NeedsFallback {
		if opts.NoFallback {
			return rep, fmt.Errorf("%w: %v", ErrFallbackDisabled, res.Reason)
		}
		ins.fallbacks.Add(ctx, 1)
		logger.Debug("routed to fallback", "function", name, "reason", res.Reason)
	}
	span.SetAttributes(attribute.Int("mlback.function.max_stack", res.MaxStack))
	return rep, nil
}
