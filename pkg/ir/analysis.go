package ir

// SideEffectFree reports whether evaluating e can be dropped without
// changing the program: it neither raises, writes memory, calls, nor loops.
func SideEffectFree(e Expr) bool {
	switch n := e.(type) {
	case *Constant, *Ref, *Lambda:
		return true
	case *Tuple:
		return allFree(n.Fields)
	case *Field:
		return SideEffectFree(n.Base)
	case *Cond:
		return SideEffectFree(n.Test) && SideEffectFree(n.Then) && SideEffectFree(n.Else)
	case *Let:
		for _, d := range n.Bindings {
			if !bindingFree(d) {
				return false
			}
		}
		return SideEffectFree(n.Result)
	case *Unary:
		return n.Op != ClearMutable && SideEffectFree(n.Arg)
	case *Binary:
		return !n.Op.CanRaise() && SideEffectFree(n.Left) && SideEffectFree(n.Right)
	case *TagTest:
		return SideEffectFree(n.Value)
	case *Case:
		if !SideEffectFree(n.Value) || !SideEffectFree(n.Default) {
			return false
		}
		for _, a := range n.Arms {
			if !SideEffectFree(a.Body) {
				return false
			}
		}
		return true
	case *Handle:
		return SideEffectFree(n.Body)
	case *Load:
		return SideEffectFree(n.Addr.Base) && SideEffectFree(n.Addr.Index)
	case *Alloc:
		return SideEffectFree(n.Size) && SideEffectFree(n.Init)
	}
	return false
}

func allFree(es []Expr) bool {
	for _, e := range es {
		if !SideEffectFree(e) {
			return false
		}
	}
	return true
}

func bindingFree(d Binding) bool {
	switch n := d.(type) {
	case *Declar:
		return SideEffectFree(n.Value)
	case *NullBinding:
		return SideEffectFree(n.Expr)
	case *RecDecs:
		return true
	}
	return false
}

// Size estimates the code size of e for the inliner. Lambda bodies count,
// because inlining a function copies the functions nested in it.
func Size(e Expr) int {
	n := 0
	Walk(e, func(x Expr) bool {
		switch l := x.(type) {
		case *Constant, *Ref:
			n++
		case *Lambda:
			n += 1 + Size(l.Body)
		case *Let:
			n += len(l.Bindings)
		default:
			n += 2
		}
		return true
	})
	return n
}

// Equal compares two expressions structurally. It is used to spot
// repeated pure computations.
func Equal(a, b Expr) bool {
	switch x := a.(type) {
	case *Constant:
		y, ok := b.(*Constant)
		return ok && EqualValues(x.Value, y.Value)
	case *Ref:
		y, ok := b.(*Ref)
		return ok && x.Var == y.Var
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.Op == y.Op && Equal(x.Arg, y.Arg)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *Field:
		y, ok := b.(*Field)
		return ok && x.Index == y.Index && x.Kind == y.Kind && Equal(x.Base, y.Base)
	case *TagTest:
		y, ok := b.(*TagTest)
		return ok && x.Tag == y.Tag && x.MaxTag == y.MaxTag && Equal(x.Value, y.Value)
	case *Tuple:
		y, ok := b.(*Tuple)
		if !ok || len(x.Fields) != len(y.Fields) {
			return false
		}
		for i := range x.Fields {
			if !Equal(x.Fields[i], y.Fields[i]) {
				return false
			}
		}
		return true
	}
	// Anything else is compared by identity only.
	return a == b
}

// IsSimple reports whether e can be copied freely: a literal or a
// variable.
func IsSimple(e Expr) bool {
	switch e.(type) {
	case *Constant, *Ref:
		return true
	}
	return false
}

// AlwaysRaises reports whether every path through e ends in a Raise.
func AlwaysRaises(e Expr) bool {
	switch n := e.(type) {
	case *Raise:
		return true
	case *Let:
		return AlwaysRaises(n.Result)
	case *Cond:
		return AlwaysRaises(n.Then) && AlwaysRaises(n.Else)
	}
	return false
}
