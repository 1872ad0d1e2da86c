package ir

import "fmt"

// Walk visits e and its subexpressions in evaluation order. It descends
// into bindings but not into lambda bodies, which are separate scopes.
// Returning false from visit skips the node's children.
func Walk(e Expr, visit func(Expr) bool) {
	if !visit(e) {
		return
	}
	switch n := e.(type) {
	case *Constant, *Ref, *Lambda:
	case *Eval:
		Walk(n.Fn, visit)
		for _, a := range n.Args {
			Walk(a.Value, visit)
		}
	case *Unary:
		Walk(n.Arg, visit)
	case *Binary:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *Arbitrary:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
		Walk(n.Long, visit)
	case *Tuple:
		for _, f := range n.Fields {
			Walk(f, visit)
		}
	case *Field:
		Walk(n.Base, visit)
	case *Cond:
		Walk(n.Test, visit)
		Walk(n.Then, visit)
		Walk(n.Else, visit)
	case *Let:
		for _, d := range n.Bindings {
			WalkBinding(d, visit)
		}
		Walk(n.Result, visit)
	case *Loop:
		for _, a := range n.Args {
			Walk(a.Init, visit)
		}
		Walk(n.Body, visit)
	case *Continue:
		for _, a := range n.Args {
			Walk(a, visit)
		}
	case *Handle:
		Walk(n.Body, visit)
		Walk(n.Handler, visit)
	case *Raise:
		Walk(n.Packet, visit)
	case *TagTest:
		Walk(n.Value, visit)
	case *Case:
		Walk(n.Value, visit)
		for _, a := range n.Arms {
			Walk(a.Body, visit)
		}
		Walk(n.Default, visit)
	case *Load:
		walkAddress(n.Addr, visit)
	case *Store:
		walkAddress(n.Addr, visit)
		Walk(n.Value, visit)
	case *BlockOp:
		walkAddress(n.Src, visit)
		walkAddress(n.Dst, visit)
		Walk(n.Length, visit)
	case *Alloc:
		Walk(n.Size, visit)
		Walk(n.Init, visit)
	case *SetContainer:
		Walk(n.Container, visit)
		Walk(n.Tuple, visit)
	default:
		panic(fmt.Sprintf("ir: unknown node %T", e))
	}
}

// WalkBinding visits the expressions inside one binding.
func WalkBinding(d Binding, visit func(Expr) bool) {
	switch n := d.(type) {
	case *Declar:
		Walk(n.Value, visit)
	case *NullBinding:
		Walk(n.Expr, visit)
	case *RecDecs:
		for _, r := range n.Decs {
			Walk(r.Lambda, visit)
		}
	case *Container:
		Walk(n.Setter, visit)
	}
}

func walkAddress(a Address, visit func(Expr) bool) {
	Walk(a.Base, visit)
	Walk(a.Index, visit)
}

// UsesVar reports whether e reads v, directly or by capturing it in a
// nested lambda.
func UsesVar(e Expr, v Var) bool {
	found := false
	Walk(e, func(x Expr) bool {
		if found {
			return false
		}
		switch n := x.(type) {
		case *Ref:
			found = n.Var == v
		case *Lambda:
			for _, c := range n.Closure {
				if c == v {
					found = true
				}
			}
		}
		return !found
	})
	return found
}

// Rename rebuilds e, mapping every variable through vf and every slot
// bound inside e through sf. Closure lists of nested lambdas are mapped
// with vf; their bodies are left alone.
func Rename(e Expr, vf func(Var) Var, sf func(int) int) Expr {
	r := renamer{vf: vf, sf: sf}
	return r.expr(e)
}

type renamer struct {
	vf func(Var) Var
	sf func(int) int
}

func (r *renamer) expr(e Expr) Expr {
	switch n := e.(type) {
	case *Ref:
		return &Ref{Var: r.vf(n.Var)}
	case *Lambda:
		return r.lambda(n)
	}
	return MapChildren(e, r.expr, r.binding, r.sf)
}

func (r *renamer) lambda(l *Lambda) *Lambda {
	if len(l.Closure) == 0 {
		return l
	}
	cl := *l
	cl.Closure = make([]Var, len(l.Closure))
	for i, v := range l.Closure {
		cl.Closure[i] = r.vf(v)
	}
	return &cl
}

func (r *renamer) binding(d Binding) Binding {
	switch n := d.(type) {
	case *Declar:
		return &Declar{Slot: r.sf(n.Slot), Value: r.expr(n.Value)}
	case *NullBinding:
		return &NullBinding{Expr: r.expr(n.Expr)}
	case *RecDecs:
		decs := make([]RecDec, len(n.Decs))
		for i, rd := range n.Decs {
			decs[i] = RecDec{Slot: r.sf(rd.Slot), Lambda: r.lambda(rd.Lambda)}
		}
		return &RecDecs{Decs: decs}
	case *Container:
		return &Container{Slot: r.sf(n.Slot), Size: n.Size, Setter: r.expr(n.Setter)}
	}
	panic(fmt.Sprintf("ir: unknown binding %T", d))
}

// MapChildren rebuilds e with each direct subexpression replaced by f,
// each binding by bf, and the slots bound by Loop and Handle by sf (nil
// keeps them).
func MapChildren(e Expr, f func(Expr) Expr, bf func(Binding) Binding, sf func(int) int) Expr {
	slot := sf
	if slot == nil {
		slot = func(s int) int { return s }
	}
	addr := func(a Address) Address {
		return Address{Base: f(a.Base), Index: f(a.Index), Offset: a.Offset}
	}
	switch n := e.(type) {
	case *Constant, *Ref, *Lambda:
		return e
	case *Eval:
		args := make([]Arg, len(n.Args))
		for i, a := range n.Args {
			args[i] = Arg{Value: f(a.Value), Type: a.Type}
		}
		return &Eval{Fn: f(n.Fn), Args: args, Result: n.Result}
	case *Unary:
		return &Unary{Op: n.Op, Arg: f(n.Arg)}
	case *Binary:
		return &Binary{Op: n.Op, Left: f(n.Left), Right: f(n.Right)}
	case *Arbitrary:
		return &Arbitrary{Op: n.Op, Left: f(n.Left), Right: f(n.Right), Long: f(n.Long)}
	case *Tuple:
		return &Tuple{Fields: mapExprs(n.Fields, f)}
	case *Field:
		return &Field{Base: f(n.Base), Index: n.Index, Kind: n.Kind}
	case *Cond:
		return &Cond{Test: f(n.Test), Then: f(n.Then), Else: f(n.Else)}
	case *Let:
		bs := make([]Binding, len(n.Bindings))
		for i, d := range n.Bindings {
			bs[i] = bf(d)
		}
		return &Let{Bindings: bs, Result: f(n.Result)}
	case *Loop:
		args := make([]LoopArg, len(n.Args))
		for i, a := range n.Args {
			args[i] = LoopArg{Slot: slot(a.Slot), Init: f(a.Init)}
		}
		return &Loop{Args: args, Body: f(n.Body)}
	case *Continue:
		return &Continue{Args: mapExprs(n.Args, f)}
	case *Handle:
		return &Handle{Body: f(n.Body), Handler: f(n.Handler), Packet: slot(n.Packet)}
	case *Raise:
		return &Raise{Packet: f(n.Packet)}
	case *TagTest:
		return &TagTest{Value: f(n.Value), Tag: n.Tag, MaxTag: n.MaxTag}
	case *Case:
		arms := make([]CaseArm, len(n.Arms))
		for i, a := range n.Arms {
			arms[i] = CaseArm{Tag: a.Tag, Body: f(a.Body)}
		}
		return &Case{Value: f(n.Value), Arms: arms, Default: f(n.Default)}
	case *Load:
		return &Load{Kind: n.Kind, Addr: addr(n.Addr)}
	case *Store:
		return &Store{Kind: n.Kind, Addr: addr(n.Addr), Value: f(n.Value)}
	case *BlockOp:
		return &BlockOp{Kind: n.Kind, Src: addr(n.Src), Dst: addr(n.Dst), Length: f(n.Length)}
	case *Alloc:
		return &Alloc{Size: f(n.Size), Flags: n.Flags, Init: f(n.Init)}
	case *SetContainer:
		return &SetContainer{Container: f(n.Container), Tuple: f(n.Tuple), Size: n.Size}
	}
	panic(fmt.Sprintf("ir: unknown node %T", e))
}

func mapExprs(es []Expr, f func(Expr) Expr) []Expr {
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = f(e)
	}
	return out
}

// MapBinding rebuilds d with each expression it holds replaced by f.
// Lambdas of recursive groups are passed through f as well.
func MapBinding(d Binding, f func(Expr) Expr) Binding {
	switch n := d.(type) {
	case *Declar:
		return &Declar{Slot: n.Slot, Value: f(n.Value)}
	case *NullBinding:
		return &NullBinding{Expr: f(n.Expr)}
	case *RecDecs:
		decs := make([]RecDec, len(n.Decs))
		for i, rd := range n.Decs {
			l, ok := f(rd.Lambda).(*Lambda)
			if !ok {
				panic("ir: recursive declaration mapped to a non-lambda")
			}
			decs[i] = RecDec{Slot: rd.Slot, Lambda: l}
		}
		return &RecDecs{Decs: decs}
	case *Container:
		return &Container{Slot: n.Slot, Size: n.Size, Setter: f(n.Setter)}
	}
	panic(fmt.Sprintf("ir: unknown binding %T", d))
}
