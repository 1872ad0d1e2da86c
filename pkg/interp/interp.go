// Package interp evaluates IR trees directly. It defines what a program
// means, so that rewritten trees can be checked against the originals.
package interp

import (
	"encoding/binary"
	"errors"

	"mlback/pkg/ir"
)

// ErrStepLimit is returned when evaluation exceeds Interp.MaxSteps.
var ErrStepLimit = errors.New("interp: step limit reached")

// Interp evaluates expressions. The zero value is usable.
type Interp struct {
	// MaxSteps bounds the number of nodes evaluated; zero means the
	// default of ten million.
	MaxSteps int
	// Steps counts nodes evaluated so far.
	Steps int
}

const defaultMaxSteps = 10_000_000

type frame struct {
	args   []Value
	self   *Closure
	locals map[int]Value
}

// continueSignal carries the arguments of a Continue to its Loop.
type continueSignal struct {
	args []Value
}

func (*continueSignal) Error() string { return "interp: continue outside a loop" }

// Eval evaluates a top-level expression. args are visible as A0, A1, ...
func (in *Interp) Eval(e ir.Expr, args ...Value) (Value, error) {
	f := &frame{args: args, locals: make(map[int]Value)}
	v, err := in.eval(f, e)
	var cs *continueSignal
	if errors.As(err, &cs) {
		return nil, errorf("continue outside a loop")
	}
	return v, err
}

// Apply calls a function value.
func (in *Interp) Apply(fn Value, args ...Value) (Value, error) {
	switch f := fn.(type) {
	case *Closure:
		if len(args) != f.Fn.Arity() {
			return nil, errorf("%s expects %d arguments, got %d", f.Fn.Name, f.Fn.Arity(), len(args))
		}
		fr := &frame{args: args, self: f, locals: make(map[int]Value, f.Fn.LocalCount)}
		v, err := in.eval(fr, f.Fn.Body)
		var cs *continueSignal
		if errors.As(err, &cs) {
			return nil, errorf("continue escapes %s", f.Fn.Name)
		}
		return v, err
	case *Builtin:
		if f.Arity >= 0 && len(args) != f.Arity {
			return nil, errorf("%s expects %d arguments, got %d", f.Name, f.Arity, len(args))
		}
		return f.Fn(args)
	}
	return nil, errorf("call of non-function %s", Format(fn))
}

func (in *Interp) step() error {
	in.Steps++
	limit := in.MaxSteps
	if limit == 0 {
		limit = defaultMaxSteps
	}
	if in.Steps > limit {
		return ErrStepLimit
	}
	return nil
}

func unit() Value { return ir.Int(0) }

func boolean(b bool) Value {
	if b {
		return ir.True
	}
	return ir.False
}

func (in *Interp) lookup(f *frame, v ir.Var) (Value, error) {
	switch v.Kind {
	case ir.Local:
		x, ok := f.locals[v.Index]
		if !ok {
			return nil, errorf("unbound local L%d", v.Index)
		}
		return x, nil
	case ir.Argument:
		if v.Index >= len(f.args) {
			return nil, errorf("no argument A%d", v.Index)
		}
		return f.args[v.Index], nil
	case ir.Closure:
		if f.self == nil || v.Index >= len(f.self.Env) {
			return nil, errorf("no closure entry C%d", v.Index)
		}
		return f.self.Env[v.Index], nil
	}
	if f.self == nil {
		return nil, errorf("SELF outside a function")
	}
	return f.self, nil
}

// bind sets a local. Slots are bound once per evaluation of their
// binding, which inside a loop body happens once per iteration.
func (in *Interp) bind(f *frame, slot int, v Value) error {
	if slot < 0 {
		return errorf("negative slot %d", slot)
	}
	f.locals[slot] = v
	return nil
}

func (in *Interp) closure(f *frame, l *ir.Lambda) (*Closure, error) {
	c := &Closure{Fn: l, Env: make([]Value, len(l.Closure))}
	for i, v := range l.Closure {
		x, err := in.lookup(f, v)
		if err != nil {
			return nil, err
		}
		c.Env[i] = x
	}
	return c, nil
}

func (in *Interp) evalAll(f *frame, es []ir.Expr) ([]Value, error) {
	vs := make([]Value, len(es))
	for i, e := range es {
		v, err := in.eval(f, e)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

func (in *Interp) eval(f *frame, e ir.Expr) (Value, error) {
	if err := in.step(); err != nil {
		return nil, err
	}
	switch n := e.(type) {
	case *ir.Constant:
		return FromConstant(n.Value), nil

	case *ir.Ref:
		return in.lookup(f, n.Var)

	case *ir.Lambda:
		return in.closure(f, n)

	case *ir.Eval:
		fn, err := in.eval(f, n.Fn)
		if err != nil {
			return nil, err
		}
		args := make([]Value, len(n.Args))
		for i, a := range n.Args {
			if args[i], err = in.eval(f, a.Value); err != nil {
				return nil, err
			}
		}
		return in.Apply(fn, args...)

	case *ir.Unary:
		x, err := in.eval(f, n.Arg)
		if err != nil {
			return nil, err
		}
		return unary(n.Op, x)

	case *ir.Binary:
		l, err := in.eval(f, n.Left)
		if err != nil {
			return nil, err
		}
		r, err := in.eval(f, n.Right)
		if err != nil {
			return nil, err
		}
		return evalBinary(n.Op, l, r)

	case *ir.Arbitrary:
		return in.arbitrary(f, n)

	case *ir.Tuple:
		ws, err := in.evalAll(f, n.Fields)
		if err != nil {
			return nil, err
		}
		return &Cell{Words: ws}, nil

	case *ir.Field:
		b, err := in.eval(f, n.Base)
		if err != nil {
			return nil, err
		}
		c, ok := b.(*Cell)
		if !ok || c.Flags&ir.FlagBytes != 0 || n.Index >= len(c.Words) {
			return nil, errorf("field %d of %s", n.Index, Format(b))
		}
		return c.Words[n.Index], nil

	case *ir.Cond:
		t, err := in.eval(f, n.Test)
		if err != nil {
			return nil, err
		}
		switch t {
		case ir.True:
			return in.eval(f, n.Then)
		case ir.False:
			return in.eval(f, n.Else)
		}
		return nil, errorf("condition is %s, not a boolean", Format(t))

	case *ir.Let:
		for _, d := range n.Bindings {
			if err := in.binding(f, d); err != nil {
				return nil, err
			}
		}
		return in.eval(f, n.Result)

	case *ir.Loop:
		for _, a := range n.Args {
			v, err := in.eval(f, a.Init)
			if err != nil {
				return nil, err
			}
			if err := in.bind(f, a.Slot, v); err != nil {
				return nil, err
			}
		}
		for {
			v, err := in.eval(f, n.Body)
			var cs *continueSignal
			if !errors.As(err, &cs) {
				return v, err
			}
			if len(cs.args) != len(n.Args) {
				return nil, errorf("continue with %d arguments to a loop of %d", len(cs.args), len(n.Args))
			}
			for i, a := range n.Args {
				f.locals[a.Slot] = cs.args[i]
			}
			if err := in.step(); err != nil {
				return nil, err
			}
		}

	case *ir.Continue:
		vs, err := in.evalAll(f, n.Args)
		if err != nil {
			return nil, err
		}
		return nil, &continueSignal{args: vs}

	case *ir.Handle:
		v, err := in.eval(f, n.Body)
		var r *Raised
		if !errors.As(err, &r) {
			return v, err
		}
		if err := in.bind(f, n.Packet, r.Packet); err != nil {
			return nil, err
		}
		return in.eval(f, n.Handler)

	case *ir.Raise:
		p, err := in.eval(f, n.Packet)
		if err != nil {
			return nil, err
		}
		return nil, &Raised{Packet: p}

	case *ir.TagTest:
		v, err := in.eval(f, n.Value)
		if err != nil {
			return nil, err
		}
		t, ok := v.(ir.Int)
		return boolean(ok && int64(t) == n.Tag), nil

	case *ir.Case:
		v, err := in.eval(f, n.Value)
		if err != nil {
			return nil, err
		}
		t, ok := v.(ir.Int)
		if !ok {
			return nil, errorf("case on %s", Format(v))
		}
		for _, a := range n.Arms {
			if a.Tag == int64(t) {
				return in.eval(f, a.Body)
			}
		}
		return in.eval(f, n.Default)

	case *ir.Load:
		c, off, err := in.address(f, n.Addr, n.Kind.Width())
		if err != nil {
			return nil, err
		}
		return load(n.Kind, c, off)

	case *ir.Store:
		c, off, err := in.address(f, n.Addr, n.Kind.Width())
		if err != nil {
			return nil, err
		}
		v, err := in.eval(f, n.Value)
		if err != nil {
			return nil, err
		}
		return unit(), store(n.Kind, c, off, v)

	case *ir.BlockOp:
		return in.blockOp(f, n)

	case *ir.Alloc:
		return in.alloc(f, n)

	case *ir.SetContainer:
		cv, err := in.eval(f, n.Container)
		if err != nil {
			return nil, err
		}
		tv, err := in.eval(f, n.Tuple)
		if err != nil {
			return nil, err
		}
		c, ok1 := cv.(*Cell)
		t, ok2 := tv.(*Cell)
		if !ok1 || !ok2 || len(c.Words) != n.Size || len(t.Words) < n.Size {
			return nil, errorf("set-container %d of %s from %s", n.Size, Format(cv), Format(tv))
		}
		copy(c.Words, t.Words[:n.Size])
		return unit(), nil
	}
	return nil, errorf("unknown node %T", e)
}

func (in *Interp) binding(f *frame, d ir.Binding) error {
	switch n := d.(type) {
	case *ir.Declar:
		v, err := in.eval(f, n.Value)
		if err != nil {
			return err
		}
		return in.bind(f, n.Slot, v)
	case *ir.NullBinding:
		_, err := in.eval(f, n.Expr)
		return err
	case *ir.RecDecs:
		// Bind every member first so the closures can capture each other.
		cs := make([]*Closure, len(n.Decs))
		for i, rd := range n.Decs {
			cs[i] = &Closure{Fn: rd.Lambda, Env: make([]Value, len(rd.Lambda.Closure))}
			if err := in.bind(f, rd.Slot, cs[i]); err != nil {
				return err
			}
		}
		for i, rd := range n.Decs {
			for j, v := range rd.Lambda.Closure {
				x, err := in.lookup(f, v)
				if err != nil {
					return err
				}
				cs[i].Env[j] = x
			}
		}
		return nil
	case *ir.Container:
		c := &Cell{Flags: ir.FlagMutable, Words: make([]Value, n.Size)}
		for i := range c.Words {
			c.Words[i] = unit()
		}
		if err := in.bind(f, n.Slot, c); err != nil {
			return err
		}
		_, err := in.eval(f, n.Setter)
		return err
	}
	return errorf("unknown binding %T", d)
}

func unary(op ir.UnaryOp, x Value) (Value, error) {
	switch op {
	case ir.NotBoolean:
		switch x {
		case ir.True:
			return ir.False, nil
		case ir.False:
			return ir.True, nil
		}
		return nil, errorf("not of %s", Format(x))
	case ir.IsTagged:
		_, ok := x.(ir.Int)
		return boolean(ok), nil
	}
	c, ok := x.(*Cell)
	if !ok {
		if cl, isFn := x.(*Closure); isFn && op != ir.ClearMutable {
			if op == ir.CellLength {
				return ir.Int(1 + len(cl.Env)), nil
			}
			return ir.Int(ir.FlagClosure), nil
		}
		return nil, errorf("%s of %s", op, Format(x))
	}
	switch op {
	case ir.CellLength:
		return ir.Int(c.Length()), nil
	case ir.CellFlags:
		return ir.Int(c.Flags), nil
	}
	c.Flags &^= ir.FlagMutable
	return unit(), nil
}

func evalBinary(op ir.BinaryOp, l, r Value) (Value, error) {
	a, ok1 := l.(ir.Int)
	b, ok2 := r.(ir.Int)
	if !ok1 || !ok2 {
		switch op {
		case ir.PtrEq, ir.Eq:
			return boolean(l == r), nil
		case ir.Ne:
			return boolean(l != r), nil
		}
		return nil, errorf("%s of %s and %s", op, Format(l), Format(r))
	}
	v, exn := ir.EvalBinary(op, int64(a), int64(b))
	if exn != 0 {
		return nil, &Raised{Packet: FromConstant(ir.PacketFor(exn))}
	}
	return ir.Int(v), nil
}

func (in *Interp) arbitrary(f *frame, n *ir.Arbitrary) (Value, error) {
	l, err := in.eval(f, n.Left)
	if err != nil {
		return nil, err
	}
	r, err := in.eval(f, n.Right)
	if err != nil {
		return nil, err
	}
	long, err := in.eval(f, n.Long)
	if err != nil {
		return nil, err
	}
	a, ok1 := l.(ir.Int)
	b, ok2 := r.(ir.Int)
	if ok1 && ok2 {
		if v, exn := ir.EvalBinary(n.Op.Fixed(), int64(a), int64(b)); exn == 0 {
			return ir.Int(v), nil
		}
	}
	return in.Apply(long, l, r)
}

// address resolves an Address to a cell and a byte offset into it.
func (in *Interp) address(f *frame, a ir.Address, width int) (*Cell, int, error) {
	bv, err := in.eval(f, a.Base)
	if err != nil {
		return nil, 0, err
	}
	iv, err := in.eval(f, a.Index)
	if err != nil {
		return nil, 0, err
	}
	c, ok := bv.(*Cell)
	if !ok {
		return nil, 0, errorf("address base %s", Format(bv))
	}
	idx, ok := iv.(ir.Int)
	if !ok {
		return nil, 0, errorf("address index %s", Format(iv))
	}
	return c, int(idx)*width + a.Offset, nil
}

func load(k ir.AccessKind, c *Cell, off int) (Value, error) {
	if k == ir.MLWord {
		if c.Flags&ir.FlagBytes != 0 || off%8 != 0 || off < 0 || off/8 >= len(c.Words) {
			return nil, errorf("word load at %d of %s", off, Format(c))
		}
		return c.Words[off/8], nil
	}
	w := k.Width()
	if c.Flags&ir.FlagBytes == 0 || off < 0 || off+w > len(c.Bytes) {
		return nil, errorf("%s load at %d of %s", k, off, Format(c))
	}
	var buf [8]byte
	copy(buf[:], c.Bytes[off:off+w])
	return ir.Int(int64(binary.LittleEndian.Uint64(buf[:]))), nil
}

func store(k ir.AccessKind, c *Cell, off int, v Value) error {
	if !c.Mutable() {
		return errorf("store into immutable %s", Format(c))
	}
	if k == ir.MLWord {
		if c.Flags&ir.FlagBytes != 0 || off%8 != 0 || off < 0 || off/8 >= len(c.Words) {
			return errorf("word store at %d of %s", off, Format(c))
		}
		c.Words[off/8] = v
		return nil
	}
	n, ok := v.(ir.Int)
	w := k.Width()
	if !ok || c.Flags&ir.FlagBytes == 0 || off < 0 || off+w > len(c.Bytes) {
		return errorf("%s store of %s at %d", k, Format(v), off)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	copy(c.Bytes[off:off+w], buf[:w])
	return nil
}

func (in *Interp) alloc(f *frame, n *ir.Alloc) (Value, error) {
	sv, err := in.eval(f, n.Size)
	if err != nil {
		return nil, err
	}
	iv, err := in.eval(f, n.Init)
	if err != nil {
		return nil, err
	}
	size, ok := sv.(ir.Int)
	if !ok || size < 0 {
		return nil, errorf("alloc of size %s", Format(sv))
	}
	c := &Cell{Flags: n.Flags | ir.FlagMutable}
	if n.Flags&ir.FlagBytes != 0 {
		b, ok := iv.(ir.Int)
		if !ok {
			return nil, errorf("byte cell initialised with %s", Format(iv))
		}
		c.Bytes = make([]byte, 8*int(size))
		for i := range c.Bytes {
			c.Bytes[i] = byte(b)
		}
		return c, nil
	}
	c.Words = make([]Value, size)
	for i := range c.Words {
		c.Words[i] = iv
	}
	return c, nil
}

func (in *Interp) blockOp(f *frame, n *ir.BlockOp) (Value, error) {
	width := 1
	if n.Kind == ir.BlockMoveWords {
		width = 8
	}
	src, so, err := in.address(f, n.Src, width)
	if err != nil {
		return nil, err
	}
	dst, do, err := in.address(f, n.Dst, width)
	if err != nil {
		return nil, err
	}
	lv, err := in.eval(f, n.Length)
	if err != nil {
		return nil, err
	}
	length, ok := lv.(ir.Int)
	if !ok || length < 0 {
		return nil, errorf("block length %s", Format(lv))
	}
	l := int(length)

	if n.Kind == ir.BlockMoveWords {
		if so%8 != 0 || do%8 != 0 || so/8+l > len(src.Words) || do/8+l > len(dst.Words) {
			return nil, errorf("word move of %d out of range", l)
		}
		if !dst.Mutable() {
			return nil, errorf("move into immutable cell")
		}
		copy(dst.Words[do/8:do/8+l], src.Words[so/8:so/8+l])
		return unit(), nil
	}
	if so < 0 || do < 0 || so+l > len(src.Bytes) || do+l > len(dst.Bytes) {
		return nil, errorf("%s of %d bytes out of range", n.Kind, l)
	}
	a, b := src.Bytes[so:so+l], dst.Bytes[do:do+l]
	switch n.Kind {
	case ir.BlockMoveBytes:
		if !dst.Mutable() {
			return nil, errorf("move into immutable cell")
		}
		copy(b, a)
		return unit(), nil
	case ir.BlockEqualBytes:
		return boolean(string(a) == string(b)), nil
	}
	switch {
	case string(a) < string(b):
		return ir.Int(-1), nil
	case string(a) > string(b):
		return ir.Int(1), nil
	}
	return ir.Int(0), nil
}
