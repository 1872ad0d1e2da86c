package simplify

import "mlback/pkg/ir"

// loop first tries the body once with the initial values bound as plain
// declarations. If that leaves no way back to the loop entry the loop
// is dropped. Otherwise arguments passed back unchanged on every
// back-edge are hoisted out of the loop.
func (c *simplifier) loop(n *ir.Loop) reduced {
	inits := make([]ir.Expr, len(n.Args))
	for i, a := range n.Args {
		inits[i] = a.Init
	}
	binds, vals, shapes := c.operands(inits)
	// Hoisting may move some initial values ahead of others.
	for i, v := range vals {
		if !stable(v) {
			d, ref := c.bindFresh(v, shapes[i])
			binds = append(binds, d)
			vals[i] = ref
		}
	}

	if c.trialDepth < maxTrialDepth {
		if s, ok := c.unrollOnce(n, vals, shapes); ok {
			return reduced{binds: append(binds, s.binds...), expr: s.expr, shape: s.shape}
		}
	}

	for _, a := range n.Args {
		c.opaque(a.Slot)
	}
	var body ir.Expr
	c.loops = append(c.loops, len(n.Args))
	c.scoped(func() { body = c.simp(n.Body) })
	c.loops = c.loops[:len(c.loops)-1]

	edges := backEdges(body)
	if len(edges) == 0 {
		for i, a := range n.Args {
			binds = append(binds, &ir.Declar{Slot: a.Slot, Value: vals[i]})
		}
		return reduced{binds: binds, expr: body}
	}

	drop := make([]bool, len(n.Args))
	hoist := false
	for i, a := range n.Args {
		drop[i] = true
		for _, e := range edges {
			if !isRef(e.Args[i], a.Slot) {
				drop[i] = false
				break
			}
		}
		hoist = hoist || drop[i]
	}
	if !hoist {
		args := make([]ir.LoopArg, len(n.Args))
		for i, a := range n.Args {
			args[i] = ir.LoopArg{Slot: a.Slot, Init: vals[i]}
		}
		return reduced{binds: binds, expr: &ir.Loop{Args: args, Body: body}}
	}

	var args []ir.LoopArg
	for i, a := range n.Args {
		if drop[i] {
			binds = append(binds, &ir.Declar{Slot: a.Slot, Value: vals[i]})
			continue
		}
		args = append(args, ir.LoopArg{Slot: a.Slot, Init: vals[i]})
	}
	c.reprocess = true
	return reduced{binds: binds, expr: &ir.Loop{Args: args, Body: dropArgs(body, drop)}}
}

// unrollOnce simplifies the body with the loop arguments bound to their
// initial values. It succeeds when no back-edge survives; otherwise the
// environment is left as it was.
func (c *simplifier) unrollOnce(n *ir.Loop, vals []ir.Expr, shapes []Shape) (reduced, bool) {
	reprocess := c.reprocess
	mark := len(c.avail)
	c.trialDepth++
	c.loops = append(c.loops, len(n.Args))

	var binds []ir.Binding
	for i, a := range n.Args {
		binds = append(binds, c.declare(a.Slot, reduced{expr: vals[i], shape: shapes[i]})...)
	}
	s := c.special(n.Body)

	c.loops = c.loops[:len(c.loops)-1]
	c.trialDepth--
	if len(backEdges(wrap(s))) > 0 {
		c.reprocess = reprocess
		c.avail = c.avail[:mark]
		return reduced{}, false
	}
	return reduced{binds: append(binds, s.binds...), expr: s.expr, shape: s.shape}, true
}

// backEdges finds the Continue nodes that return to the loop whose body
// is e.
func backEdges(e ir.Expr) []*ir.Continue {
	var out []*ir.Continue
	var visit func(ir.Expr) bool
	visit = func(x ir.Expr) bool {
		switch n := x.(type) {
		case *ir.Continue:
			out = append(out, n)
		case *ir.Loop:
			for _, a := range n.Args {
				ir.Walk(a.Init, visit)
			}
			return false
		}
		return true
	}
	ir.Walk(e, visit)
	return out
}

// dropArgs removes the arguments marked in drop from every back-edge in e.
func dropArgs(e ir.Expr, drop []bool) ir.Expr {
	var f func(ir.Expr) ir.Expr
	f = func(x ir.Expr) ir.Expr {
		switch n := x.(type) {
		case *ir.Continue:
			var args []ir.Expr
			for i, a := range n.Args {
				if !drop[i] {
					args = append(args, f(a))
				}
			}
			return &ir.Continue{Args: args}
		case *ir.Loop:
			args := make([]ir.LoopArg, len(n.Args))
			for i, a := range n.Args {
				args[i] = ir.LoopArg{Slot: a.Slot, Init: f(a.Init)}
			}
			return &ir.Loop{Args: args, Body: n.Body}
		case *ir.Lambda:
			return n
		}
		return ir.MapChildren(x, f, func(d ir.Binding) ir.Binding {
			if _, ok := d.(*ir.RecDecs); ok {
				return d
			}
			return ir.MapBinding(d, f)
		}, nil)
	}
	return f(e)
}
