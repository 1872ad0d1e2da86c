package simplify

import "mlback/pkg/ir"

// tuple binds every non-trivial field to a fresh slot, in order, so the
// tuple's shape can hand out its fields without re-evaluating them.
func (c *simplifier) tuple(n *ir.Tuple) reduced {
	binds, fields, shapes := c.operands(n.Fields)
	for i, f := range fields {
		if !ir.IsSimple(f) {
			d, ref := c.bindFresh(f, shapes[i])
			binds = append(binds, d)
			fields[i] = ref
		}
	}
	if lit, ok := literalBlock(fields); ok {
		return reduced{binds: binds, expr: &ir.Constant{Value: lit}}
	}
	return reduced{binds: binds, expr: &ir.Tuple{Fields: fields}, shape: &TupleShape{Fields: fields}}
}

func literalBlock(fields []ir.Expr) (*ir.Block, bool) {
	vs := make([]ir.Value, len(fields))
	for i, f := range fields {
		k, ok := f.(*ir.Constant)
		if !ok {
			return nil, false
		}
		vs[i] = k.Value
	}
	return &ir.Block{Fields: vs}, true
}

func (c *simplifier) field(n *ir.Field) reduced {
	b := c.special(n.Base)
	binds := b.binds
	if ts, ok := b.shape.(*TupleShape); ok && n.Index < len(ts.Fields) {
		if !ir.SideEffectFree(b.expr) {
			binds = append(binds, &ir.NullBinding{Expr: b.expr})
		}
		f := c.special(ts.Fields[n.Index])
		return reduced{binds: binds, expr: f.expr, shape: f.shape}
	}
	if k, ok := b.expr.(*ir.Constant); ok && n.Kind != ir.FromContainer {
		if blk, ok := k.Value.(*ir.Block); ok && n.Index < len(blk.Fields) {
			return reduced{binds: binds, expr: &ir.Constant{Value: blk.Fields[n.Index]}}
		}
	}
	return reduced{binds: binds, expr: &ir.Field{Base: b.expr, Index: n.Index, Kind: n.Kind}}
}

// container simplifies a container declaration and its setter.
func (c *simplifier) container(n *ir.Container) []ir.Binding {
	if n.Size <= 0 {
		invariant("container L%d has size %d", n.Slot, n.Size)
	}
	c.opaque(n.Slot)
	s := c.special(n.Setter)
	checkSetter(n, s)

	binds, expr := s.binds, s.expr
	if fused, ok := c.forwardInner(n, binds, expr); ok {
		binds, expr = fused, ir.Unit()
		c.reprocess = true
	}

	// A setter that ends by filling the container from a known tuple
	// makes the fields known to later projections.
	if sc, ok := expr.(*ir.SetContainer); ok && isRef(sc.Container, n.Slot) {
		if t, ok := sc.Tuple.(*ir.Tuple); ok && !refersTo(t.Fields, boundSlots(binds)) {
			c.env[n.Slot] = entry{general: ir.LocalRef(n.Slot), shape: &TupleShape{Fields: t.Fields}}
		}
	}
	return []ir.Binding{&ir.Container{Slot: n.Slot, Size: n.Size, Setter: wrap(reduced{binds: binds, expr: expr})}}
}

// checkSetter rejects a setter that fills its container with the wrong
// number of fields.
func checkSetter(n *ir.Container, s reduced) {
	check := func(e ir.Expr) bool {
		if sc, ok := e.(*ir.SetContainer); ok && isRef(sc.Container, n.Slot) && sc.Size != n.Size {
			invariant("container L%d of size %d filled with %d fields", n.Slot, n.Size, sc.Size)
		}
		return true
	}
	for _, d := range s.binds {
		ir.WalkBinding(d, check)
	}
	ir.Walk(s.expr, check)
}

// forwardInner fuses an inner container that is built only to be copied
// whole into the outer one: the inner setter fills the outer container
// directly.
func (c *simplifier) forwardInner(outer *ir.Container, binds []ir.Binding, expr ir.Expr) ([]ir.Binding, bool) {
	sc, ok := expr.(*ir.SetContainer)
	if !ok || !isRef(sc.Container, outer.Slot) {
		return nil, false
	}
	src, ok := sc.Tuple.(*ir.Ref)
	if !ok || src.Var.Kind != ir.Local {
		return nil, false
	}
	for i, d := range binds {
		inner, ok := d.(*ir.Container)
		if !ok || inner.Slot != src.Var.Index || inner.Size != outer.Size {
			continue
		}
		v := ir.LocalVar(inner.Slot)
		for j, other := range binds {
			if j != i && bindingUses(other, v) {
				return nil, false
			}
		}
		to := ir.LocalVar(outer.Slot)
		setter := ir.Rename(inner.Setter, func(x ir.Var) ir.Var {
			if x == v {
				return to
			}
			return x
		}, func(s int) int { return s })
		out := make([]ir.Binding, 0, len(binds))
		out = append(out, binds[:i]...)
		out = append(out, &ir.NullBinding{Expr: setter})
		out = append(out, binds[i+1:]...)
		return out, true
	}
	return nil, false
}

func (c *simplifier) setContainer(n *ir.SetContainer) reduced {
	binds, xs, shapes := c.operands([]ir.Expr{n.Container, n.Tuple})
	tuple := xs[1]
	// Fill from the fields of a known tuple instead of the tuple itself.
	if ts, ok := shapes[1].(*TupleShape); ok && len(ts.Fields) >= n.Size {
		if _, isTuple := tuple.(*ir.Tuple); !isTuple {
			tuple = &ir.Tuple{Fields: ts.Fields[:n.Size]}
			c.reprocess = true
		}
	}
	return reduced{binds: binds, expr: &ir.SetContainer{Container: xs[0], Tuple: tuple, Size: n.Size}}
}

func isRef(e ir.Expr, slot int) bool {
	r, ok := e.(*ir.Ref)
	return ok && r.Var == ir.LocalVar(slot)
}

func bindingUses(d ir.Binding, v ir.Var) bool {
	found := false
	ir.WalkBinding(d, func(e ir.Expr) bool {
		if found {
			return false
		}
		if ir.UsesVar(e, v) {
			found = true
		}
		return !found
	})
	return found
}

// boundSlots lists the slots declared directly by binds.
func boundSlots(binds []ir.Binding) map[int]bool {
	slots := make(map[int]bool)
	for _, d := range binds {
		switch n := d.(type) {
		case *ir.Declar:
			slots[n.Slot] = true
		case *ir.Container:
			slots[n.Slot] = true
		case *ir.RecDecs:
			for _, rd := range n.Decs {
				slots[rd.Slot] = true
			}
		}
	}
	return slots
}

func refersTo(es []ir.Expr, slots map[int]bool) bool {
	for _, e := range es {
		if r, ok := e.(*ir.Ref); ok && r.Var.Kind == ir.Local && slots[r.Var.Index] {
			return true
		}
	}
	return false
}
