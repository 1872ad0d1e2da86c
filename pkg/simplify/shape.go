package simplify

import "mlback/pkg/ir"

// Shape describes what is known about the value of a variable. Shapes
// live only in the environment of one traversal and are never written
// back into the tree.
type Shape interface {
	shape()
}

// TupleShape is a tuple whose fields are known. Every field is a
// constant or a variable, so it can be copied to a projection site.
type TupleShape struct {
	Fields []ir.Expr
}

// LambdaShape is a function known at the use site and eligible for
// inlining. Fn is its simplified form.
type LambdaShape struct {
	Fn *ir.Lambda
}

// OpShape is a pure unary or binary operation over constants and
// variables. It is used to reuse earlier results and to see through
// boolean negation.
type OpShape struct {
	Expr ir.Expr
}

func (*TupleShape) shape()  {}
func (*LambdaShape) shape() {}
func (*OpShape) shape()     {}

// entry is what the environment knows about one local slot. general is
// a constant or a variable reference; shape may be nil.
type entry struct {
	general ir.Expr
	shape   Shape
}

// reduced is the result of the special traversal: bindings that must run
// first, the remaining expression and its shape.
type reduced struct {
	binds []ir.Binding
	expr  ir.Expr
	shape Shape
}

func plain(e ir.Expr) reduced { return reduced{expr: e} }

// wrap turns a reduced back into a single expression.
func wrap(s reduced) ir.Expr {
	if len(s.binds) == 0 {
		return s.expr
	}
	return &ir.Let{Bindings: s.binds, Result: s.expr}
}

// negated returns x when e is NotBoolean(x), or when sh records
// NotBoolean(x) for a simple x that can be read again.
func negated(sh Shape, e ir.Expr) (ir.Expr, bool) {
	if u, ok := e.(*ir.Unary); ok && u.Op == ir.NotBoolean {
		return u.Arg, true
	}
	if op, ok := sh.(*OpShape); ok {
		if u, ok := op.Expr.(*ir.Unary); ok && u.Op == ir.NotBoolean && ir.IsSimple(u.Arg) {
			return u.Arg, true
		}
	}
	return nil, false
}
