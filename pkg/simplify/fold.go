package simplify

import (
	"mlback/pkg/ir"
)

// foldBinary evaluates op on two literals with the run-time semantics.
// Overflow and division by zero become a raise at the use site.
func foldBinary(op ir.BinaryOp, a, b int64) ir.Expr {
	v, exn := ir.EvalBinary(op, a, b)
	switch exn {
	case ir.ExnOverflow:
		return ir.RaiseOverflow()
	case ir.ExnDiv:
		return ir.RaiseDiv()
	}
	return ir.Lit(v)
}

func (c *simplifier) binary(n *ir.Binary) reduced {
	binds, xs, _ := c.operands([]ir.Expr{n.Left, n.Right})
	l, r := xs[0], xs[1]

	a, lok := ir.IntValue(l)
	b, rok := ir.IntValue(r)
	if lok && rok {
		return reduced{binds: binds, expr: foldBinary(n.Op, a, b)}
	}
	// A variable is equal to itself whatever it holds.
	if x, ok := l.(*ir.Ref); ok && (n.Op == ir.PtrEq || n.Op == ir.Eq) {
		if y, ok := r.(*ir.Ref); ok && x.Var == y.Var {
			return reduced{binds: binds, expr: ir.Bool(true)}
		}
	}

	e := &ir.Binary{Op: n.Op, Left: l, Right: r}
	if reusable(e) {
		if slot, ok := c.findAvail(e); ok {
			return reduced{binds: binds, expr: c.lookup(slot).general}
		}
		return reduced{binds: binds, expr: e, shape: &OpShape{Expr: e}}
	}
	return reduced{binds: binds, expr: e}
}

func (c *simplifier) unary(n *ir.Unary) reduced {
	s := c.special(n.Arg)
	if k, ok := s.expr.(*ir.Constant); ok {
		if v, ok := foldUnary(n.Op, k.Value); ok {
			return reduced{binds: s.binds, expr: v}
		}
	}
	if n.Op == ir.NotBoolean {
		if x, ok := negated(s.shape, s.expr); ok {
			return reduced{binds: s.binds, expr: x}
		}
	}
	e := &ir.Unary{Op: n.Op, Arg: s.expr}
	if reusable(e) {
		if slot, ok := c.findAvail(e); ok {
			return reduced{binds: s.binds, expr: c.lookup(slot).general}
		}
		return reduced{binds: s.binds, expr: e, shape: &OpShape{Expr: e}}
	}
	return reduced{binds: s.binds, expr: e}
}

func foldUnary(op ir.UnaryOp, v ir.Value) (*ir.Constant, bool) {
	switch op {
	case ir.NotBoolean:
		switch v {
		case ir.True:
			return ir.Bool(false), true
		case ir.False:
			return ir.Bool(true), true
		}
	case ir.IsTagged:
		_, tagged := v.(ir.Int)
		return ir.Bool(tagged), true
	case ir.CellLength:
		if b, ok := v.(*ir.Block); ok {
			return ir.Lit(int64(len(b.Fields))), true
		}
	case ir.CellFlags:
		if _, ok := v.(*ir.Block); ok {
			return ir.Lit(0), true
		}
	}
	return nil, false
}

func (c *simplifier) tagTest(n *ir.TagTest) reduced {
	s := c.special(n.Value)
	if k, ok := s.expr.(*ir.Constant); ok {
		t, isInt := k.Value.(ir.Int)
		return reduced{binds: s.binds, expr: ir.Bool(isInt && int64(t) == n.Tag)}
	}
	return reduced{binds: s.binds, expr: &ir.TagTest{Value: s.expr, Tag: n.Tag, MaxTag: n.MaxTag}}
}

// arbitrary folds literal operands exactly and splits an operation
// against a small literal into a tagged fast path and the long call.
func (c *simplifier) arbitrary(n *ir.Arbitrary) reduced {
	binds, xs, _ := c.operands([]ir.Expr{n.Left, n.Right, n.Long})
	l, r, long := xs[0], xs[1], xs[2]
	out := func(e ir.Expr) reduced { return reduced{binds: binds, expr: e} }

	lk, lconst := l.(*ir.Constant)
	rk, rconst := r.(*ir.Constant)
	if lconst && rconst {
		a, ok1 := ir.BigOf(lk.Value)
		b, ok2 := ir.BigOf(rk.Value)
		if ok1 && ok2 {
			return out(&ir.Constant{Value: ir.EvalArbitrary(n.Op, a, b)})
		}
	}
	if lconst == rconst || !ir.IsSimple(l) || !ir.IsSimple(r) || !ir.IsSimple(long) {
		return out(&ir.Arbitrary{Op: n.Op, Left: l, Right: r, Long: long})
	}

	v, lit, litLeft := r, lk, true
	if rconst {
		v, lit, litLeft = l, rk, false
	}
	slow := ir.Call(long, l, r)

	if _, isInt := lit.Value.(ir.Int); !isInt {
		// A tagged value is never equal to, and always inside the range
		// of, a boxed literal.
		if !n.Op.IsComparison() {
			return out(&ir.Arbitrary{Op: n.Op, Left: l, Right: r, Long: long})
		}
		b, _ := ir.BigOf(lit.Value)
		fast := ir.Bool(bigCompare(n.Op, b.Sign(), litLeft))
		return out(guardTagged(v, fast, slow))
	}

	k := int64(lit.Value.(ir.Int))
	if n.Op.IsComparison() {
		return out(guardTagged(v, &ir.Binary{Op: n.Op.Fixed(), Left: l, Right: r}, slow))
	}
	bound, op, ok := overflowGuard(n.Op, k, litLeft)
	if !ok {
		return out(&ir.Arbitrary{Op: n.Op, Left: l, Right: r, Long: long})
	}
	fixed := &ir.Binary{Op: n.Op.Fixed(), Left: l, Right: r}
	inRange := &ir.Binary{Op: op, Left: v, Right: ir.Lit(bound)}
	return out(guardTagged(v, &ir.Cond{Test: inRange, Then: fixed, Else: slow}, slow))
}

func guardTagged(v, fast, slow ir.Expr) ir.Expr {
	return &ir.Cond{Test: &ir.Unary{Op: ir.IsTagged, Arg: v}, Then: fast, Else: slow}
}

// bigCompare gives the result of comparing a tagged value against a
// boxed literal of the given sign. litLeft puts the literal on the left.
func bigCompare(op ir.ArbOp, sign int, litLeft bool) bool {
	// A tagged value is below every positive boxed literal and above
	// every negative one.
	less := sign > 0 // tagged < literal
	if litLeft {
		less = !less
	}
	switch op {
	case ir.ArbEq:
		return false
	case ir.ArbLt, ir.ArbLe:
		return less
	}
	return !less
}

// overflowGuard returns the comparison that keeps v op k (or k op v)
// inside the tagged range. Multiplication is left to the long path.
func overflowGuard(op ir.ArbOp, k int64, litLeft bool) (bound int64, cmp ir.BinaryOp, ok bool) {
	switch {
	case op == ir.ArbAdd && k >= 0:
		return ir.MaxTagged - k, ir.Le, true
	case op == ir.ArbAdd:
		return ir.MinTagged - k, ir.Ge, true
	case op == ir.ArbSub && !litLeft && k >= 0:
		return ir.MinTagged + k, ir.Ge, true
	case op == ir.ArbSub && !litLeft:
		return ir.MaxTagged + k, ir.Le, true
	case op == ir.ArbSub && k >= 0:
		return k - ir.MaxTagged, ir.Ge, true
	case op == ir.ArbSub:
		return k - ir.MinTagged, ir.Le, true
	}
	return 0, 0, false
}
