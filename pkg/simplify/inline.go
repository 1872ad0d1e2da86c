package simplify

import (
	"mlback/pkg/ir"
)

// lambda simplifies a function literal in its own context and decides
// whether it can be inlined at known call sites.
func (c *simplifier) lambda(l *ir.Lambda) (*ir.Lambda, Shape) {
	ic := c.child(l)
	ic.closureConst = make(map[int]ir.Expr)
	ic.closureShapes = make(map[int]Shape)
	closure := make([]ir.Var, len(l.Closure))
	for i, v := range l.Closure {
		g, sh := c.resolve(v)
		if k, ok := g.(*ir.Constant); ok {
			ic.closureConst[i] = k
			closure[i] = v
			continue
		}
		closure[i] = g.(*ir.Ref).Var
		if ls, ok := sh.(*LambdaShape); ok && len(ls.Fn.Closure) == 0 {
			ic.closureShapes[i] = ls
		}
	}

	body := ic.simp(l.Body)
	if ic.reprocess {
		c.reprocess = true
	}
	body, closure = pruneClosure(body, closure, ic.closureConst)

	out := &ir.Lambda{
		Name:       l.Name,
		Body:       body,
		Closure:    closure,
		ArgTypes:   l.ArgTypes,
		Result:     l.Result,
		Inline:     l.Inline,
		LocalCount: ic.next,
	}
	if out.Inline == ir.NeverInline || ir.UsesVar(body, ir.Var{Kind: ir.Recursive}) {
		return out, nil
	}
	out.Body = c.cleaner.Clean(out.Body, CountUsage(out.Body), nil, out.LocalCount)

	size := ir.Size(out.Body)
	switch out.Inline {
	case ir.MaybeInline:
		if size > c.threshold {
			return out, nil
		}
		out.Inline = ir.SmallInline
	case ir.SmallInline:
		// Inlining into the body may have grown it; eligibility can be
		// withdrawn but is not granted back.
		if size > 10*c.threshold {
			out.Inline = ir.NeverInline
			return out, nil
		}
	}
	return out, &LambdaShape{Fn: out}
}

// resolve returns what the environment knows about a variable of the
// current function.
func (c *simplifier) resolve(v ir.Var) (ir.Expr, Shape) {
	s := c.ref(&ir.Ref{Var: v})
	return s.expr, s.shape
}

// pruneClosure drops captured entries that are no longer read or that
// were replaced by constants, and renumbers the rest.
func pruneClosure(body ir.Expr, closure []ir.Var, consts map[int]ir.Expr) (ir.Expr, []ir.Var) {
	used := make(map[int]bool)
	mark := func(v ir.Var) {
		if v.Kind == ir.Closure {
			used[v.Index] = true
		}
	}
	ir.Walk(body, func(e ir.Expr) bool {
		switch n := e.(type) {
		case *ir.Ref:
			mark(n.Var)
		case *ir.Lambda:
			for _, v := range n.Closure {
				mark(v)
			}
		}
		return true
	})

	remap := make(map[int]int)
	var out []ir.Var
	seen := make(map[ir.Var]int)
	for i, v := range closure {
		if !used[i] {
			continue
		}
		if _, k := consts[i]; k {
			continue
		}
		if j, dup := seen[v]; dup {
			remap[i] = j
			continue
		}
		seen[v] = len(out)
		remap[i] = len(out)
		out = append(out, v)
	}
	if len(out) == len(closure) {
		same := true
		for i := range closure {
			if remap[i] != i {
				same = false
			}
		}
		if same {
			return body, closure
		}
	}
	body = ir.Rename(body, func(v ir.Var) ir.Var {
		if v.Kind == ir.Closure {
			return ir.Var{Kind: ir.Closure, Index: remap[v.Index]}
		}
		return v
	}, func(s int) int { return s })
	return body, out
}

func (c *simplifier) recDecs(n *ir.RecDecs) []ir.Binding {
	group := make(map[int]bool, len(n.Decs))
	for _, rd := range n.Decs {
		c.opaque(rd.Slot)
		group[rd.Slot] = true
	}
	decs := make([]ir.RecDec, len(n.Decs))
	shapes := make([]Shape, len(n.Decs))
	for i, rd := range n.Decs {
		l, sh := c.lambda(rd.Lambda)
		decs[i] = ir.RecDec{Slot: rd.Slot, Lambda: l}
		c.captures[rd.Slot] = l.Closure
		// Members that reach the group are recursive and stay calls.
		for _, v := range l.Closure {
			if v.Kind == ir.Local && group[v.Index] {
				sh = nil
			}
		}
		shapes[i] = sh
	}
	for i, rd := range decs {
		if shapes[i] != nil {
			c.env[rd.Slot] = entry{general: ir.LocalRef(rd.Slot), shape: shapes[i]}
		}
	}
	return []ir.Binding{&ir.RecDecs{Decs: decs}}
}

func (c *simplifier) eval(n *ir.Eval) reduced {
	es := make([]ir.Expr, 0, 1+len(n.Args))
	es = append(es, n.Fn)
	for _, a := range n.Args {
		es = append(es, a.Value)
	}
	binds, xs, shapes := c.operands(es)
	fn, args := xs[0], xs[1:]

	if ls, ok := shapes[0].(*LambdaShape); ok && c.canInline(n, ls.Fn, fn, args, shapes[1:]) {
		c.reprocess = true
		s := c.inline(ls.Fn, args, shapes[1:])
		return reduced{binds: append(binds, s.binds...), expr: s.expr, shape: s.shape}
	}

	out := &ir.Eval{Fn: fn, Args: make([]ir.Arg, len(args)), Result: n.Result}
	for i, a := range args {
		out.Args[i] = ir.Arg{Value: a, Type: n.Args[i].Type}
	}
	return reduced{binds: binds, expr: out}
}

func (c *simplifier) canInline(n *ir.Eval, fn *ir.Lambda, callee ir.Expr, args []ir.Expr, shapes []Shape) bool {
	if len(args) != fn.Arity() {
		invariant("%s called with %d arguments, expects %d", name(fn), len(args), fn.Arity())
	}
	if c.inlineDepth >= maxInlineDepth || n.Result != fn.Result {
		return false
	}
	for i, a := range n.Args {
		if a.Type != fn.ArgTypes[i] {
			return false
		}
	}
	// An argument that can reach the callee would let the expansion
	// repeat forever.
	for i, a := range args {
		if ls, ok := shapes[i].(*LambdaShape); ok && ls.Fn == fn {
			return false
		}
		if c.mentions(a, fn) {
			return false
		}
	}
	if r, ok := callee.(*ir.Ref); ok && r.Var.Kind == ir.Local {
		seen := make(map[int]bool)
		for _, a := range args {
			if c.reaches(a, r.Var.Index, seen) {
				return false
			}
		}
	}
	return true
}

// mentions reports whether e refers to a variable known to hold fn,
// directly or as a capture of a function literal.
func (c *simplifier) mentions(e ir.Expr, fn *ir.Lambda) bool {
	found := false
	check := func(v ir.Var) {
		if ls, ok := c.shapeOf(v).(*LambdaShape); ok && ls.Fn == fn {
			found = true
		}
	}
	ir.Walk(e, func(x ir.Expr) bool {
		switch n := x.(type) {
		case *ir.Ref:
			check(n.Var)
		case *ir.Lambda:
			for _, v := range n.Closure {
				check(v)
			}
		}
		return !found
	})
	return found
}

func (c *simplifier) shapeOf(v ir.Var) Shape {
	switch v.Kind {
	case ir.Local:
		return c.env[v.Index].shape
	case ir.Closure:
		return c.closureShapes[v.Index]
	}
	return nil
}

// reaches reports whether e refers to slot, directly or through the
// known shapes of the variables it mentions.
func (c *simplifier) reaches(e ir.Expr, slot int, seen map[int]bool) bool {
	found := false
	var viaVar func(v ir.Var)
	viaVar = func(v ir.Var) {
		if found || v.Kind != ir.Local {
			return
		}
		if v.Index == slot {
			found = true
			return
		}
		if seen[v.Index] {
			return
		}
		seen[v.Index] = true
		en, ok := c.env[v.Index]
		if !ok {
			return
		}
		if r, ok := en.general.(*ir.Ref); ok && r.Var != v {
			viaVar(r.Var)
		}
		for _, cv := range c.captures[v.Index] {
			viaVar(cv)
		}
		switch sh := en.shape.(type) {
		case *LambdaShape:
			for _, cv := range sh.Fn.Closure {
				viaVar(cv)
			}
		case *TupleShape:
			for _, f := range sh.Fields {
				found = found || c.reaches(f, slot, seen)
			}
		case *OpShape:
			found = found || c.reaches(sh.Expr, slot, seen)
		}
	}
	ir.Walk(e, func(x ir.Expr) bool {
		switch n := x.(type) {
		case *ir.Ref:
			viaVar(n.Var)
		case *ir.Lambda:
			for _, v := range n.Closure {
				viaVar(v)
			}
		}
		return !found
	})
	return found
}

// inline expands a call of fn. Parameters and the callee's locals get
// fresh slots; the copy is then simplified in place.
func (c *simplifier) inline(fn *ir.Lambda, args []ir.Expr, shapes []Shape) reduced {
	var binds []ir.Binding
	params := make([]ir.Var, len(args))
	for i, a := range args {
		if r, ok := a.(*ir.Ref); ok {
			params[i] = r.Var
			continue
		}
		slot := c.fresh()
		binds = append(binds, c.declare(slot, reduced{expr: a, shape: shapes[i]})...)
		params[i] = ir.LocalVar(slot)
	}
	base := c.next
	c.next += fn.LocalCount

	body := ir.Rename(fn.Body, func(v ir.Var) ir.Var {
		switch v.Kind {
		case ir.Argument:
			return params[v.Index]
		case ir.Closure:
			return fn.Closure[v.Index]
		case ir.Local:
			return ir.LocalVar(base + v.Index)
		}
		invariant("inlined %s refers to itself", name(fn))
		return v
	}, func(s int) int { return base + s })

	c.inlineDepth++
	defer func() { c.inlineDepth-- }()
	loops := c.loops
	c.loops = nil
	defer func() { c.loops = loops }()
	s := c.special(body)
	return reduced{binds: append(binds, s.binds...), expr: s.expr, shape: s.shape}
}

func name(l *ir.Lambda) string {
	if l.Name == "" {
		return "anonymous function"
	}
	return l.Name
}
