package simplify

import (
	"fmt"

	"mlback/pkg/ir"
)

// InvariantError reports malformed input: an arity mismatch, a reference
// to a slot that was never bound, or a container filled with the wrong
// number of fields. It is fatal to the compilation unit.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "simplify: invariant violated: " + e.Msg }

func invariant(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}

const (
	maxInlineDepth = 8
	maxTrialDepth  = 2
)

// avail is a pure computation already bound to a slot on the current path.
type avail struct {
	expr ir.Expr
	slot int
}

// simplifier is the state of one function's traversal. Nested lambdas get
// a child simplifier with their own slot space.
type simplifier struct {
	env       map[int]entry
	next      int
	threshold int
	cleaner   Cleaner
	reprocess bool

	avail []avail
	loops []int // arity of each enclosing loop

	// Closure entries of the function being simplified that are known
	// constants or closed functions in the defining scope.
	closureConst  map[int]ir.Expr
	closureShapes map[int]Shape

	// Variables captured by the function bound to each local slot.
	captures map[int][]ir.Var

	inlineDepth int
	trialDepth  int
}

func newContext(localCount, threshold int, cleaner Cleaner) *simplifier {
	return &simplifier{
		env:       make(map[int]entry),
		captures:  make(map[int][]ir.Var),
		next:      localCount,
		threshold: threshold,
		cleaner:   cleaner,
	}
}

// child creates the context for the body of l, defined in c.
func (c *simplifier) child(l *ir.Lambda) *simplifier {
	ic := newContext(l.LocalCount, c.threshold, c.cleaner)
	ic.inlineDepth = c.inlineDepth
	ic.trialDepth = c.trialDepth
	return ic
}

func (c *simplifier) fresh() int {
	s := c.next
	c.next++
	return s
}

func (c *simplifier) lookup(slot int) entry {
	e, ok := c.env[slot]
	if !ok {
		invariant("reference to unbound slot L%d", slot)
	}
	return e
}

// opaque binds slot to itself with no known shape.
func (c *simplifier) opaque(slot int) {
	c.env[slot] = entry{general: ir.LocalRef(slot)}
}

// bindFresh binds e to a new slot and returns a reference to it.
func (c *simplifier) bindFresh(e ir.Expr, sh Shape) (ir.Binding, *ir.Ref) {
	slot := c.fresh()
	c.env[slot] = entry{general: ir.LocalRef(slot), shape: sh}
	return &ir.Declar{Slot: slot, Value: e}, ir.LocalRef(slot)
}

// stable reports whether e may be evaluated later than written without
// changing the program: it cannot raise, write, or observe memory that
// might be written in between.
func stable(e ir.Expr) bool {
	switch n := e.(type) {
	case *ir.Constant, *ir.Ref, *ir.Lambda:
		return true
	case *ir.Unary:
		return (n.Op == ir.NotBoolean || n.Op == ir.IsTagged || n.Op == ir.CellLength) && stable(n.Arg)
	case *ir.Binary:
		return !n.Op.CanRaise() && stable(n.Left) && stable(n.Right)
	case *ir.TagTest:
		return stable(n.Value)
	case *ir.Field:
		return n.Kind != ir.FromContainer && stable(n.Base)
	case *ir.Tuple:
		for _, f := range n.Fields {
			if !stable(f) {
				return false
			}
		}
		return true
	}
	return false
}

// operands simplifies es left to right. Bindings pending from a later
// operand are hoisted above earlier ones only after any earlier operand
// that is not stable has been bound to a fresh slot.
func (c *simplifier) operands(es []ir.Expr) ([]ir.Binding, []ir.Expr, []Shape) {
	var binds []ir.Binding
	out := make([]ir.Expr, len(es))
	shapes := make([]Shape, len(es))
	for i, e := range es {
		s := c.special(e)
		if len(s.binds) > 0 {
			for j := 0; j < i; j++ {
				if !stable(out[j]) {
					d, ref := c.bindFresh(out[j], shapes[j])
					binds = append(binds, d)
					out[j] = ref
				}
			}
			binds = append(binds, s.binds...)
		}
		out[i], shapes[i] = s.expr, s.shape
	}
	return binds, out, shapes
}

// scoped runs f and forgets the computations it made available, for
// code that does not dominate what follows it.
func (c *simplifier) scoped(f func()) {
	mark := len(c.avail)
	f()
	c.avail = c.avail[:mark]
}

// reusable reports whether e is a pure operation worth remembering.
func reusable(e ir.Expr) bool {
	switch n := e.(type) {
	case *ir.Unary:
		return n.Op != ir.ClearMutable && n.Op != ir.CellFlags && ir.IsSimple(n.Arg)
	case *ir.Binary:
		return !n.Op.CanRaise() && ir.IsSimple(n.Left) && ir.IsSimple(n.Right)
	}
	return false
}

func (c *simplifier) findAvail(e ir.Expr) (int, bool) {
	for i := len(c.avail) - 1; i >= 0; i-- {
		a := c.avail[i].expr
		if ir.Equal(a, e) {
			return c.avail[i].slot, true
		}
		x, ok1 := a.(*ir.Binary)
		y, ok2 := e.(*ir.Binary)
		if ok1 && ok2 && x.Op == y.Op && x.Op.Commutative() && ir.Equal(x.Left, y.Right) && ir.Equal(x.Right, y.Left) {
			return c.avail[i].slot, true
		}
	}
	return 0, false
}

// declare records slot := s.expr in the environment. Constants and
// variables are propagated and need no binding; a repeated pure
// computation is replaced by the earlier slot.
func (c *simplifier) declare(slot int, s reduced) []ir.Binding {
	binds := s.binds
	switch s.expr.(type) {
	case *ir.Constant, *ir.Ref:
		c.env[slot] = entry{general: s.expr, shape: s.shape}
		return binds
	}
	if l, ok := s.expr.(*ir.Lambda); ok {
		c.captures[slot] = l.Closure
	}
	sh := s.shape
	if reusable(s.expr) {
		if prev, ok := c.findAvail(s.expr); ok {
			c.env[slot] = c.lookup(prev)
			return binds
		}
		c.avail = append(c.avail, avail{expr: s.expr, slot: slot})
		if sh == nil {
			sh = &OpShape{Expr: s.expr}
		}
	}
	c.env[slot] = entry{general: ir.LocalRef(slot), shape: sh}
	return append(binds, &ir.Declar{Slot: slot, Value: s.expr})
}
