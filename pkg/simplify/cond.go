package simplify

import "mlback/pkg/ir"

func (c *simplifier) cond(n *ir.Cond) reduced {
	t := c.special(n.Test)
	binds := t.binds
	with := func(s reduced) reduced {
		return reduced{binds: append(binds, s.binds...), expr: s.expr, shape: s.shape}
	}

	if k, ok := t.expr.(*ir.Constant); ok {
		switch k.Value {
		case ir.True:
			return with(c.special(n.Then))
		case ir.False:
			return with(c.special(n.Else))
		}
	}

	test, thenE, elseE := t.expr, n.Then, n.Else
	if x, ok := negated(t.shape, t.expr); ok {
		test, thenE, elseE = x, elseE, thenE
	}

	var th, el reduced
	c.scoped(func() { th = c.special(thenE) })
	c.scoped(func() { el = c.special(elseE) })
	thenX, elseX := wrap(th), wrap(el)

	// Equal literal arms: the test survives only for its effects.
	if ir.IsSimple(thenX) && ir.Equal(thenX, elseX) {
		if !ir.SideEffectFree(test) {
			binds = append(binds, &ir.NullBinding{Expr: test})
		}
		return reduced{binds: binds, expr: thenX}
	}

	if isBool(thenX, true) && isBool(elseX, false) {
		return reduced{binds: binds, expr: test, shape: t.shape}
	}
	if isBool(thenX, false) && isBool(elseX, true) {
		neg := &ir.Unary{Op: ir.NotBoolean, Arg: test}
		return reduced{binds: binds, expr: neg, shape: &OpShape{Expr: neg}}
	}

	// A raising arm becomes a guard so the other arm stays in tail
	// position. The test is evaluated once, before either arm.
	thenRaises, elseRaises := ir.AlwaysRaises(thenX), ir.AlwaysRaises(elseX)
	if thenRaises != elseRaises {
		if !ir.IsSimple(test) {
			slot := c.fresh()
			binds = append(binds, c.declare(slot, reduced{expr: test, shape: t.shape})...)
			test = c.env[slot].general
		}
		if thenRaises {
			guard := &ir.Cond{Test: test, Then: thenX, Else: ir.Unit()}
			return with(reduced{binds: append([]ir.Binding{&ir.NullBinding{Expr: guard}}, el.binds...), expr: el.expr, shape: el.shape})
		}
		guard := &ir.Cond{Test: test, Then: ir.Unit(), Else: elseX}
		return with(reduced{binds: append([]ir.Binding{&ir.NullBinding{Expr: guard}}, th.binds...), expr: th.expr, shape: th.shape})
	}

	return reduced{binds: binds, expr: &ir.Cond{Test: test, Then: thenX, Else: elseX}}
}

func isBool(e ir.Expr, b bool) bool {
	v, ok := ir.IntValue(e)
	if !ok {
		return false
	}
	if b {
		return v == int64(ir.True)
	}
	return v == int64(ir.False)
}

func (c *simplifier) caseOf(n *ir.Case) reduced {
	v := c.special(n.Value)
	if t, ok := ir.IntValue(v.expr); ok {
		body := n.Default
		for _, a := range n.Arms {
			if a.Tag == t {
				body = a.Body
				break
			}
		}
		s := c.special(body)
		return reduced{binds: append(v.binds, s.binds...), expr: s.expr, shape: s.shape}
	}

	arms := make([]ir.CaseArm, 0, len(n.Arms))
	seen := make(map[int64]bool, len(n.Arms))
	for _, a := range n.Arms {
		// Only the first arm for a tag can be taken.
		if seen[a.Tag] {
			continue
		}
		seen[a.Tag] = true
		var body ir.Expr
		c.scoped(func() { body = c.simp(a.Body) })
		arms = append(arms, ir.CaseArm{Tag: a.Tag, Body: body})
	}
	var def ir.Expr
	c.scoped(func() { def = c.simp(n.Default) })

	if ir.IsSimple(def) {
		same := true
		for _, a := range arms {
			if !ir.Equal(a.Body, def) {
				same = false
				break
			}
		}
		if same {
			binds := v.binds
			if !ir.SideEffectFree(v.expr) {
				binds = append(binds, &ir.NullBinding{Expr: v.expr})
			}
			return reduced{binds: binds, expr: def}
		}
	}
	return reduced{binds: v.binds, expr: &ir.Case{Value: v.expr, Arms: arms, Default: def}}
}
