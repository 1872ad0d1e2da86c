// Package simplify rewrites IR trees into a smaller, more direct form.
//
// A traversal keeps an environment from local slots to what is known
// about them: a constant or variable that can replace every use, and a
// shape (known tuple, inlineable function, pure operation) that lets later
// code skip work. Each call to Simplify is one pass; Run repeats passes
// while the previous one reports that more can be done.
package simplify

import (
	"errors"
	"fmt"

	"mlback/pkg/ir"
)

// Outcome is the result of one pass over an expression.
type Outcome struct {
	Bindings   []ir.Binding
	Result     ir.Expr
	Shape      Shape
	LocalCount int
	// Reprocess is set when another pass would likely simplify further.
	Reprocess bool
}

// Expr joins the trailing bindings and the result.
func (o Outcome) Expr() ir.Expr { return wrap(reduced{binds: o.Bindings, expr: o.Result}) }

// Option configures a pass.
type Option func(*simplifier)

// WithCleaner sets the dead-code pass run on functions before they are
// recorded as inline candidates.
func WithCleaner(cl Cleaner) Option {
	return func(c *simplifier) { c.cleaner = cl }
}

// Simplify runs one pass over e, the body of a function with localCount
// local slots. Functions marked MaybeInline are inlined when their size
// is at most threshold.
func Simplify(e ir.Expr, localCount, threshold int, opts ...Option) (out Outcome, err error) {
	c := newContext(localCount, threshold, DeadBindings{})
	for _, o := range opts {
		o(c)
	}
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InvariantError)
			if !ok {
				panic(r)
			}
			out, err = Outcome{}, fmt.Errorf("simplify: %w", ie)
		}
	}()
	s := c.special(e)
	return Outcome{
		Bindings:   s.binds,
		Result:     s.expr,
		Shape:      s.shape,
		LocalCount: c.next,
		Reprocess:  c.reprocess,
	}, nil
}

// IsInvariant reports whether err is an invariant violation.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

func (c *simplifier) simp(e ir.Expr) ir.Expr { return wrap(c.special(e)) }

// special simplifies e, leaving bindings that may be hoisted into the
// enclosing sequence.
func (c *simplifier) special(e ir.Expr) reduced {
	switch n := e.(type) {
	case *ir.Constant:
		return plain(n)

	case *ir.Ref:
		return c.ref(n)

	case *ir.Lambda:
		l, sh := c.lambda(n)
		return reduced{expr: l, shape: sh}

	case *ir.Eval:
		return c.eval(n)

	case *ir.Unary:
		return c.unary(n)

	case *ir.Binary:
		return c.binary(n)

	case *ir.Arbitrary:
		return c.arbitrary(n)

	case *ir.Tuple:
		return c.tuple(n)

	case *ir.Field:
		return c.field(n)

	case *ir.Cond:
		return c.cond(n)

	case *ir.Let:
		var binds []ir.Binding
		for _, d := range n.Bindings {
			binds = append(binds, c.binding(d)...)
		}
		r := c.special(n.Result)
		return reduced{binds: append(binds, r.binds...), expr: r.expr, shape: r.shape}

	case *ir.Loop:
		return c.loop(n)

	case *ir.Continue:
		if len(c.loops) == 0 {
			invariant("continue outside a loop")
		}
		if want := c.loops[len(c.loops)-1]; len(n.Args) != want {
			invariant("continue with %d arguments to a loop of %d", len(n.Args), want)
		}
		binds, args, _ := c.operands(n.Args)
		return reduced{binds: binds, expr: &ir.Continue{Args: args}}

	case *ir.Handle:
		return c.handle(n)

	case *ir.Raise:
		p := c.special(n.Packet)
		return reduced{binds: p.binds, expr: &ir.Raise{Packet: p.expr}}

	case *ir.TagTest:
		return c.tagTest(n)

	case *ir.Case:
		return c.caseOf(n)

	case *ir.Load:
		binds, xs, _ := c.operands([]ir.Expr{n.Addr.Base, n.Addr.Index})
		return reduced{binds: binds, expr: &ir.Load{Kind: n.Kind, Addr: ir.Address{Base: xs[0], Index: xs[1], Offset: n.Addr.Offset}}}

	case *ir.Store:
		binds, xs, _ := c.operands([]ir.Expr{n.Addr.Base, n.Addr.Index, n.Value})
		return reduced{binds: binds, expr: &ir.Store{
			Kind:  n.Kind,
			Addr:  ir.Address{Base: xs[0], Index: xs[1], Offset: n.Addr.Offset},
			Value: xs[2],
		}}

	case *ir.BlockOp:
		binds, xs, _ := c.operands([]ir.Expr{n.Src.Base, n.Src.Index, n.Dst.Base, n.Dst.Index, n.Length})
		return reduced{binds: binds, expr: &ir.BlockOp{
			Kind:   n.Kind,
			Src:    ir.Address{Base: xs[0], Index: xs[1], Offset: n.Src.Offset},
			Dst:    ir.Address{Base: xs[2], Index: xs[3], Offset: n.Dst.Offset},
			Length: xs[4],
		}}

	case *ir.Alloc:
		binds, xs, _ := c.operands([]ir.Expr{n.Size, n.Init})
		return reduced{binds: binds, expr: &ir.Alloc{Size: xs[0], Flags: n.Flags, Init: xs[1]}}

	case *ir.SetContainer:
		return c.setContainer(n)
	}
	invariant("unknown node %T", e)
	return reduced{}
}

func (c *simplifier) ref(n *ir.Ref) reduced {
	switch n.Var.Kind {
	case ir.Local:
		en := c.lookup(n.Var.Index)
		return reduced{expr: en.general, shape: en.shape}
	case ir.Closure:
		if k, ok := c.closureConst[n.Var.Index]; ok {
			return plain(k)
		}
		return reduced{expr: n, shape: c.closureShapes[n.Var.Index]}
	}
	return plain(n)
}

// binding simplifies one binding of a Let and returns what remains of it,
// preceded by any bindings hoisted out of its value.
func (c *simplifier) binding(d ir.Binding) []ir.Binding {
	switch n := d.(type) {
	case *ir.Declar:
		return c.declare(n.Slot, c.special(n.Value))

	case *ir.NullBinding:
		s := c.special(n.Expr)
		if ir.SideEffectFree(s.expr) {
			return s.binds
		}
		return append(s.binds, &ir.NullBinding{Expr: s.expr})

	case *ir.RecDecs:
		return c.recDecs(n)

	case *ir.Container:
		return c.container(n)
	}
	invariant("unknown binding %T", d)
	return nil
}

func (c *simplifier) handle(n *ir.Handle) reduced {
	var body, handler ir.Expr
	c.scoped(func() { body = c.simp(n.Body) })
	if ir.SideEffectFree(body) {
		return plain(body)
	}
	// A body that only raises a known packet hands it straight over.
	if r, ok := body.(*ir.Raise); ok && ir.IsSimple(r.Packet) {
		binds := c.declare(n.Packet, plain(r.Packet))
		h := c.special(n.Handler)
		return reduced{binds: append(binds, h.binds...), expr: h.expr, shape: h.shape}
	}
	c.opaque(n.Packet)
	c.scoped(func() { handler = c.simp(n.Handler) })
	return plain(&ir.Handle{Body: body, Handler: handler, Packet: n.Packet})
}
