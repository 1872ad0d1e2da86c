package simplify

import "mlback/pkg/ir"

// Usage counts the reads of each local slot of one function body.
type Usage map[int]int

// CountUsage counts local reads in e. Capturing a slot in a nested
// lambda counts as a read; the lambda bodies themselves are not entered.
func CountUsage(e ir.Expr) Usage {
	u := make(Usage)
	ir.Walk(e, func(x ir.Expr) bool {
		switch n := x.(type) {
		case *ir.Ref:
			if n.Var.Kind == ir.Local {
				u[n.Var.Index]++
			}
		case *ir.Lambda:
			for _, v := range n.Closure {
				if v.Kind == ir.Local {
					u[v.Index]++
				}
			}
		}
		return true
	})
	return u
}

// Cleaner removes dead code from a function body. remap renumbers local
// slots; nil keeps them.
type Cleaner interface {
	Clean(body ir.Expr, usage Usage, remap func(int) int, localCount int) ir.Expr
}

// DeadBindings drops declarations whose value is unused and has no
// effect, and the members of recursive groups that cannot be reached.
type DeadBindings struct{}

func (DeadBindings) Clean(body ir.Expr, usage Usage, remap func(int) int, localCount int) ir.Expr {
	out := body
	for {
		next := pruneExpr(out, usage)
		if next == out {
			break
		}
		out = next
		usage = CountUsage(out)
	}
	if remap != nil {
		out = ir.Rename(out, func(v ir.Var) ir.Var {
			if v.Kind == ir.Local {
				return ir.LocalVar(remap(v.Index))
			}
			return v
		}, remap)
	}
	return out
}

// pruneExpr returns e itself when nothing was removed.
func pruneExpr(e ir.Expr, usage Usage) ir.Expr {
	changed := false
	var f func(ir.Expr) ir.Expr
	f = func(x ir.Expr) ir.Expr {
		switch n := x.(type) {
		case *ir.Lambda:
			body := pruneExpr(n.Body, CountUsage(n.Body))
			if body == n.Body {
				return n
			}
			changed = true
			cl := *n
			cl.Body = body
			return &cl
		case *ir.Let:
			var binds []ir.Binding
			for _, d := range n.Bindings {
				kept, ok := pruneBinding(d, usage)
				if !ok {
					changed = true
					continue
				}
				if kept != d {
					changed = true
				}
				binds = append(binds, ir.MapBinding(kept, f))
			}
			result := f(n.Result)
			if len(binds) == 0 {
				changed = true
				return result
			}
			return &ir.Let{Bindings: binds, Result: result}
		}
		return ir.MapChildren(x, f, func(d ir.Binding) ir.Binding { return ir.MapBinding(d, f) }, nil)
	}
	out := f(e)
	if !changed {
		return e
	}
	return out
}

// pruneBinding returns what is left of d, or false if nothing is.
func pruneBinding(d ir.Binding, usage Usage) (ir.Binding, bool) {
	switch n := d.(type) {
	case *ir.Declar:
		if usage[n.Slot] == 0 && ir.SideEffectFree(n.Value) {
			return nil, false
		}
	case *ir.NullBinding:
		if ir.SideEffectFree(n.Expr) {
			return nil, false
		}
	case *ir.RecDecs:
		return liveMembers(n, usage)
	case *ir.Container:
		if usage[n.Slot] == CountUsage(n.Setter)[n.Slot] && fillsOnly(n.Setter, n.Slot) {
			return nil, false
		}
	}
	return d, true
}

// fillsOnly reports whether setter does nothing but fill container slot.
func fillsOnly(setter ir.Expr, slot int) bool {
	switch n := setter.(type) {
	case *ir.SetContainer:
		return isRef(n.Container, slot) && ir.SideEffectFree(n.Tuple)
	case *ir.Let:
		for _, d := range n.Bindings {
			v, ok := d.(*ir.Declar)
			if !ok || !ir.SideEffectFree(v.Value) {
				return false
			}
		}
		return fillsOnly(n.Result, slot)
	}
	return false
}

// liveMembers keeps the members of a recursive group that are used from
// outside it, and those they reach through their closures.
func liveMembers(n *ir.RecDecs, usage Usage) (ir.Binding, bool) {
	bySlot := make(map[int]*ir.Lambda, len(n.Decs))
	inner := make(map[int]int)
	for _, rd := range n.Decs {
		bySlot[rd.Slot] = rd.Lambda
		for _, v := range rd.Lambda.Closure {
			if v.Kind == ir.Local {
				inner[v.Index]++
			}
		}
	}

	live := make(map[int]bool)
	var worklist []int
	mark := func(slot int) {
		if _, ok := bySlot[slot]; ok && !live[slot] {
			live[slot] = true
			worklist = append(worklist, slot)
		}
	}
	for _, rd := range n.Decs {
		if usage[rd.Slot] > inner[rd.Slot] {
			mark(rd.Slot)
		}
	}
	for len(worklist) > 0 {
		curr := worklist[0]
		worklist = worklist[1:]
		for _, v := range bySlot[curr].Closure {
			if v.Kind == ir.Local {
				mark(v.Index)
			}
		}
	}

	if len(live) == len(n.Decs) {
		return n, true
	}
	if len(live) == 0 {
		return nil, false
	}
	var decs []ir.RecDec
	for _, rd := range n.Decs {
		if live[rd.Slot] {
			decs = append(decs, rd)
		}
	}
	return &ir.RecDecs{Decs: decs}, true
}
