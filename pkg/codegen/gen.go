package codegen

import (
	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

// Fixed stack items of every frame.
const (
	itemLR      = 1
	itemClosure = 2
	itemArgs    = 3
)

func (g *generator) stackArgs() int { return max(g.arity-len(cpu.ArgRegs), 0) }

func (g *generator) argItem(i int) int {
	if i < len(cpu.ArgRegs) {
		return itemArgs + i
	}
	return -(g.arity - 1 - i)
}

// function generates the whole body: prologue, code, epilogue and the
// shared raise sequences.
func (g *generator) function() {
	g.checkArgTypes(g.lambda.ArgTypes, g.lambda.Result)
	frameSize := g.prologue()
	g.gen(g.lambda.Body, true, true)
	g.ret()
	g.raises()
	if frameSize >= 0 {
		if g.stack.max > 0xFFFF {
			g.unsupported(stubFrameSize)
		}
		g.fn.Patch(frameSize, int64(g.stack.max))
	}
}

// prologue saves the return address, closure and register arguments,
// then checks the stack limit and the interrupt flag. It returns the
// instruction to patch with the frame size, or -1.
func (g *generator) prologue() int {
	regs := min(g.arity, len(cpu.ArgRegs))
	g.adjust(-8 * int64(itemArgs-1+regs))
	g.stack.grow(itemArgs - 1 + regs)
	g.storeItem(cpu.RegLR, itemLR)
	g.storeItem(cpu.RegClosure, itemClosure)
	for i := 0; i < regs; i++ {
		g.storeItem(cpu.ArgRegs[i], g.argItem(i))
	}

	patch := -1
	if g.opts.checkStack {
		ok := g.fn.NewLabel()
		patch = g.emit(asm.Inst{Op: cpu.OpMOVZ, Rd: s1})
		g.opImm(cpu.OpLSLI, s1, s1, 3)
		g.op3(cpu.OpSUB, s0, sp, s1)
		g.ldr(s1, cpu.RegThread, cpu.TDStackLimit)
		g.emit(asm.Inst{Op: cpu.OpCMP, Rn: s0, Rm: s1})
		g.branchIf(cpu.HS, ok)
		g.ldr(s0, cpu.RegThread, cpu.TDStackOverflow)
		g.emit(asm.Inst{Op: cpu.OpBLR, Rn: s0})
		g.place(ok)
	}

	cont := g.fn.NewLabel()
	g.ldr(s0, cpu.RegThread, cpu.TDInterrupt)
	g.emit(asm.Inst{Op: cpu.OpCBZ, Rn: s0, Target: cont})
	g.ldr(s0, cpu.RegThread, cpu.TDInterruptEntry)
	g.emit(asm.Inst{Op: cpu.OpBLR, Rn: s0})
	g.place(cont)
	return patch
}

// ret returns the top item, popping the whole frame and the stack
// arguments the caller pushed.
func (g *generator) ret() {
	g.pop(cpu.X0)
	g.loadItem(cpu.RegLR, itemLR)
	g.adjust(8 * int64(g.stack.depth+g.stackArgs()))
	g.emit(asm.Inst{Op: cpu.OpRET})
}

func (g *generator) raises() {
	if g.raisesOverflow {
		g.place(g.overflow)
		g.literal(cpu.X0, ir.OverflowPacket)
		g.raiseX0()
	}
	if g.raisesDivide {
		g.place(g.divide)
		g.literal(cpu.X0, ir.DivPacket)
		g.raiseX0()
	}
}

// raiseX0 unwinds to the innermost handler frame with the packet in X0.
func (g *generator) raiseX0() {
	g.ldr(sp, cpu.RegThread, cpu.TDHandler)
	g.ldr(s0, sp, 0)
	g.emit(asm.Inst{Op: cpu.OpBR, Rn: s0})
}

func (g *generator) overflowLabel() asm.Label {
	g.raisesOverflow = true
	return g.overflow
}

func (g *generator) divideLabel() asm.Label {
	g.raisesDivide = true
	return g.divide
}

// gen generates e. With want the value is left in a new top item;
// without, nothing is left. In tail position a call reuses the frame.
func (g *generator) gen(e ir.Expr, want, tail bool) {
	before := g.stack.depth
	g.expr(e, want, tail)
	after := before
	if want {
		after++
	}
	if g.stack.depth != after {
		g.invariant("stack at %d after %T, want %d", g.stack.depth, e, after)
	}
}

func (g *generator) value(e ir.Expr)  { g.gen(e, true, false) }
func (g *generator) effect(e ir.Expr) { g.gen(e, false, false) }

func (g *generator) expr(e ir.Expr, want, tail bool) {
	switch n := e.(type) {
	case *ir.Constant, *ir.Ref:
		if want {
			g.leaf(rA, n)
			g.push(rA)
		}
	case *ir.Lambda:
		if want {
			g.lambdaValue(n)
		}
	case *ir.Eval:
		g.call(n, want, tail)
	case *ir.Unary:
		g.unary(n, want)
	case *ir.Binary:
		g.binary(n, want)
	case *ir.Arbitrary:
		g.arbitrary(n, want)
	case *ir.Tuple:
		g.tuple(n, want)
	case *ir.Field:
		g.field(n, want)
	case *ir.Cond:
		g.cond(n, want, tail)
	case *ir.Let:
		g.let(n, want, tail)
	case *ir.Loop:
		g.loop(n, want, tail)
	case *ir.Continue:
		g.continueLoop(n, want)
	case *ir.Handle:
		g.handle(n, want, tail)
	case *ir.Raise:
		g.raise(n, want)
	case *ir.TagTest:
		g.tagTest(n, want)
	case *ir.Case:
		g.dispatch(n, want, tail)
	case *ir.Load:
		g.load(n, want)
	case *ir.Store:
		g.store(n, want)
	case *ir.BlockOp:
		g.blockOp(n, want)
	case *ir.Alloc:
		g.alloc(n, want)
	case *ir.SetContainer:
		g.setContainer(n, want)
	default:
		g.invariant("unknown node %T", e)
	}
}

// loadVar loads a variable of the current function into r.
func (g *generator) loadVar(r cpu.Reg, v ir.Var) {
	switch v.Kind {
	case ir.Local:
		item, ok := g.frame.Lookup(v.Index)
		if !ok {
			g.invariant("local L%d not in scope", v.Index)
		}
		g.loadItem(r, item)
	case ir.Argument:
		if v.Index < 0 || v.Index >= g.arity {
			g.invariant("argument A%d of a %d-argument function", v.Index, g.arity)
		}
		g.loadItem(r, g.argItem(v.Index))
	case ir.Closure:
		if v.Index < 0 || v.Index >= len(g.lambda.Closure) {
			g.invariant("closure entry C%d of %d", v.Index, len(g.lambda.Closure))
		}
		g.loadItem(r, itemClosure)
		g.ldr(r, r, 8*int64(1+v.Index))
	case ir.Recursive:
		g.loadItem(r, itemClosure)
	default:
		g.invariant("variable kind %d", v.Kind)
	}
}

// leaf loads a constant or variable into r.
func (g *generator) leaf(r cpu.Reg, e ir.Expr) {
	switch n := e.(type) {
	case *ir.Constant:
		g.literal(r, n.Value)
	case *ir.Ref:
		g.loadVar(r, n.Var)
	default:
		g.invariant("%T is not a leaf", e)
	}
}

// source is where an operand can be loaded from: a leaf expression,
// loaded directly, or a stack item holding a computed value.
type source struct {
	leaf ir.Expr
	item int
}

// operands evaluates es in order. Leaves cost nothing until loaded.
func (g *generator) operands(es ...ir.Expr) []source {
	srcs := make([]source, len(es))
	for i, e := range es {
		if ir.IsSimple(e) {
			srcs[i] = source{leaf: e}
			continue
		}
		g.value(e)
		srcs[i] = source{item: g.stack.top()}
	}
	return srcs
}

func (g *generator) fetch(r cpu.Reg, s source) {
	if s.leaf != nil {
		g.leaf(r, s.leaf)
		return
	}
	g.loadItem(r, s.item)
}

func pushed(srcs []source) int {
	n := 0
	for _, s := range srcs {
		if s.leaf == nil {
			n++
		}
	}
	return n
}

// release drops the items operands pushed.
func (g *generator) release(srcs []source) { g.drop(pushed(srcs)) }

func (g *generator) pushUnit(want bool) {
	if want {
		g.movImm(rA, ir.Tag(0))
		g.push(rA)
	}
}
