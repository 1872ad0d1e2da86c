// Package codegen translates simplified IR functions into instructions for
// the load/store machine in package cpu.
//
// Every intermediate value lives on the ML stack. The generator keeps an
// abstract model of that stack, so each local slot, argument and
// temporary has a known offset from the stack pointer at every point of
// the function. Registers only carry values between adjacent
// instructions, across calls only X0 survives.
//
// Constructs the generator does not handle abort the function with
// NeedsFallback; Compile then hands it to a Fallback.
package codegen

import (
	"errors"
	"fmt"

	"mlback/pkg/asm"
	"mlback/pkg/ir"
)

// Status says whether target code was produced.
type Status int

const (
	Generated Status = iota
	NeedsFallback
)

func (s Status) String() string {
	if s == Generated {
		return "generated"
	}
	return "needs-fallback"
}

// ErrNeedsFallback is wrapped by Result.Reason when a function uses a
// construct the generator leaves to the general code generator.
var ErrNeedsFallback = errors.New("codegen: needs fallback")

// Result describes one generated function.
type Result struct {
	Status Status
	Func   *asm.Func
	// MaxStack is the deepest the function's own frame gets, in words.
	MaxStack int
	Reason   error
}

// InvariantError reports IR the generator cannot have been given by a
// correct front end: an unbound variable, a continue outside a loop, an
// unbalanced stack.
type InvariantError struct {
	Func string
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("codegen: %s: invariant violated: %s", e.Func, e.Msg)
}

type options struct {
	name       string
	fallback   Fallback
	checkStack bool
}

// Option configures Generate and Compile.
type Option func(*options)

// WithName sets the base of the generated function's name. The default
// is the lambda's own name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithFallback sets the generator used for nested functions that need it.
// The default is a fresh Deferred.
func WithFallback(fb Fallback) Option {
	return func(o *options) { o.fallback = fb }
}

// WithStackCheck turns the prologue stack-limit check on or off.
func WithStackCheck(on bool) Option {
	return func(o *options) { o.checkStack = on }
}

func buildOptions(fn *ir.Lambda, opts []Option) options {
	o := options{name: fn.Name, checkStack: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fallback == nil {
		o.fallback = &Deferred{}
	}
	return o
}

// Generate emits fn into a new function of prog. On NeedsFallback nothing
// is added to prog for fn itself, though functions nested in it may have
// been. The error is non-nil only for invariant violations.
func Generate(fn *ir.Lambda, prog *asm.Program, opts ...Option) (Result, error) {
	o := buildOptions(fn, opts)
	return generate(fn, prog, prog.Reserve(o.name), o)
}

func generate(fn *ir.Lambda, prog *asm.Program, name string, o options) (res Result, err error) {
	g := newGenerator(fn, prog, name, o)
	defer func() {
		if r := recover(); r != nil {
			switch sig := r.(type) {
			case *InvariantError:
				if sig.Func == "" {
					sig.Func = name
				}
				res, err = Result{}, fmt.Errorf("codegen: %w", sig)
			case unsupported:
				res = Result{Status: NeedsFallback, Reason: fmt.Errorf("%w: %s: %s", ErrNeedsFallback, name, sig)}
			default:
				panic(r)
			}
		}
	}()
	g.function()
	if err := prog.Add(g.fn); err != nil {
		return Result{}, err
	}
	return Result{Status: Generated, Func: g.fn, MaxStack: g.stack.max}, nil
}

// Compile generates fn, handing it to fb when the generator cannot. The
// returned Result keeps the NeedsFallback status, with Func set to what fb
// produced.
func Compile(fn *ir.Lambda, prog *asm.Program, fb Fallback, opts ...Option) (Result, error) {
	o := buildOptions(fn, opts)
	if fb != nil {
		o.fallback = fb
	}
	name := prog.Reserve(o.name)
	res, err := generate(fn, prog, name, o)
	if err != nil || res.Status == Generated {
		return res, err
	}
	f, err := o.fallback.Generate(fn, name)
	if err != nil {
		return Result{}, fmt.Errorf("codegen: fallback for %s: %w", name, err)
	}
	if err := prog.Add(f); err != nil {
		return Result{}, err
	}
	res.Func = f
	return res, nil
}

// Entry returns the index of the static closure object of a generated
// function, for cpu.Machine.Call after linking. Only functions without
// free variables can be entered this way.
func Entry(prog *asm.Program, res Result) int {
	return prog.Closure(res.Func.Name)
}
