package codegen

import (
	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

// maxTable bounds the span of tags dispatched through one jump table.
const maxTable = 1024

func (g *generator) cond(n *ir.Cond, want, tail bool) {
	base := g.stack.depth
	elseL, done := g.fn.NewLabel(), g.fn.NewLabel()
	g.test(n.Test, elseL)
	g.gen(n.Then, want, tail)
	g.branch(done)
	g.place(elseL)
	g.settle(base)
	g.gen(n.Else, want, tail)
	g.place(done)
}

// test branches to falseL when the boolean e is false and falls through
// when it is true. Comparisons set the flags directly.
func (g *generator) test(e ir.Expr, falseL asm.Label) {
	switch n := e.(type) {
	case *ir.Constant:
		if v, ok := n.Value.(ir.Int); ok && v == ir.True {
			return
		}
		g.branch(falseL)
		return
	case *ir.Binary:
		if c, ok := conditions[n.Op]; ok {
			srcs := g.operands(n.Left, n.Right)
			g.fetch(rA, srcs[0])
			g.fetch(rB, srcs[1])
			g.release(srcs)
			g.emit(asm.Inst{Op: cpu.OpCMP, Rn: rA, Rm: rB})
			g.branchIf(c.Invert(), falseL)
			return
		}
	}
	srcs := g.operands(e)
	g.fetch(rA, srcs[0])
	g.release(srcs)
	g.emit(asm.Inst{Op: cpu.OpCMPI, Rn: rA, Imm: int64(ir.Tag(int64(ir.False)))})
	g.branchIf(cpu.EQ, falseL)
}

func (g *generator) let(n *ir.Let, want, tail bool) {
	base := g.stack.depth
	g.frame.EnterScope()
	for _, d := range n.Bindings {
		g.binding(d)
	}
	bound := g.stack.depth - base
	g.gen(n.Result, want, tail)
	g.frame.ExitScope()
	if want {
		g.collapse(bound)
	} else {
		g.drop(bound)
	}
}

func (g *generator) binding(d ir.Binding) {
	switch n := d.(type) {
	case *ir.Declar:
		g.value(n.Value)
		g.frame.Define(n.Slot, g.stack.top())
	case *ir.NullBinding:
		g.effect(n.Expr)
	case *ir.RecDecs:
		g.recDecs(n)
	case *ir.Container:
		g.container(n)
	default:
		g.invariant("unknown binding %T", d)
	}
}

func (g *generator) loop(n *ir.Loop, want, tail bool) {
	g.frame.EnterScope()
	info := loopInfo{top: g.fn.NewLabel(), handlers: g.handlers}
	for _, a := range n.Args {
		g.value(a.Init)
		g.frame.Define(a.Slot, g.stack.top())
		info.slots = append(info.slots, g.stack.top())
	}
	info.depth = g.stack.depth
	g.place(info.top)
	g.loops = append(g.loops, info)
	g.gen(n.Body, want, tail)
	g.loops = g.loops[:len(g.loops)-1]
	g.frame.ExitScope()
	if want {
		g.collapse(len(n.Args))
	} else {
		g.drop(len(n.Args))
	}
}

// continueLoop stores the new loop values over the old ones, cuts the
// stack back to the top of the loop body and jumps there.
func (g *generator) continueLoop(n *ir.Continue, want bool) {
	if len(g.loops) == 0 {
		g.invariant("continue outside a loop")
	}
	l := g.loops[len(g.loops)-1]
	if len(n.Args) != len(l.slots) {
		g.invariant("continue with %d values to a loop of %d", len(n.Args), len(l.slots))
	}
	if g.handlers != l.handlers {
		g.unsupported(stubContinueFrame)
	}
	base := g.stack.depth
	for _, a := range n.Args {
		g.value(a)
	}
	for i := len(l.slots) - 1; i >= 0; i-- {
		g.pop(rA)
		g.storeItem(rA, l.slots[i])
	}
	g.drop(g.stack.depth - l.depth)
	g.branch(l.top)
	g.settle(base + boolInt(want))
}

// handle installs a handler frame [handler address, previous handler]
// for the body and removes it again on the normal path. A raise resets
// the stack pointer to the frame and jumps to the handler address.
func (g *generator) handle(n *ir.Handle, want, tail bool) {
	base := g.stack.depth
	handler, done := g.fn.NewLabel(), g.fn.NewLabel()

	g.emit(asm.Inst{Op: cpu.OpADR, Rd: s0, Target: handler})
	g.ldr(s1, cpu.RegThread, cpu.TDHandler)
	g.adjust(-16)
	g.stack.grow(2)
	g.str(s0, sp, 0)
	g.str(s1, sp, 8)
	g.str(sp, cpu.RegThread, cpu.TDHandler)

	g.handlers++
	g.value(n.Body)
	g.handlers--
	g.pop(cpu.X0)
	g.uninstall()
	if want {
		g.push(cpu.X0)
	}
	g.branch(done)

	g.place(handler)
	g.settle(base + 2)
	g.uninstall()
	g.frame.EnterScope()
	g.frame.Define(n.Packet, g.push(cpu.X0))
	g.gen(n.Handler, want, tail)
	g.frame.ExitScope()
	if want {
		g.collapse(1)
	} else {
		g.drop(1)
	}
	g.place(done)
}

// uninstall pops the handler frame on top of the stack.
func (g *generator) uninstall() {
	g.ldr(s0, sp, 8)
	g.str(s0, cpu.RegThread, cpu.TDHandler)
	g.drop(2)
}

func (g *generator) raise(n *ir.Raise, want bool) {
	base := g.stack.depth
	srcs := g.operands(n.Packet)
	g.fetch(cpu.X0, srcs[0])
	g.raiseX0()
	g.settle(base + boolInt(want))
}

func (g *generator) tagTest(n *ir.TagTest, want bool) {
	srcs := g.operands(n.Value)
	g.fetch(rA, srcs[0])
	g.release(srcs)
	if !want {
		return
	}
	g.movImm(rB, ir.Tag(n.Tag))
	g.emit(asm.Inst{Op: cpu.OpCMP, Rn: rA, Rm: rB})
	g.emit(asm.Inst{Op: cpu.OpCSET, Rd: rC, Cond: cpu.EQ})
	g.tagResult(rA, rC)
	g.push(rA)
}

// dispatch jumps to the arm of a case through a table indexed by the tag
// less the smallest tag. Tags outside the table, and holes in it, go to
// the default arm. A span too wide for a table compares arm by arm.
func (g *generator) dispatch(n *ir.Case, want, tail bool) {
	if n.Default == nil {
		g.invariant("case without a default")
	}
	srcs := g.operands(n.Value)
	g.fetch(rA, srcs[0])
	g.release(srcs)
	g.untag(rA, rA)
	base := g.stack.depth

	deflt, done := g.fn.NewLabel(), g.fn.NewLabel()
	arms := make([]asm.Label, len(n.Arms))
	for i := range arms {
		arms[i] = g.fn.NewLabel()
	}

	if len(n.Arms) == 0 {
		g.branch(deflt)
	} else {
		lo, hi := n.Arms[0].Tag, n.Arms[0].Tag
		for _, a := range n.Arms {
			lo, hi = min(lo, a.Tag), max(hi, a.Tag)
		}
		if span := uint64(hi) - uint64(lo); span < maxTable {
			table := make([]asm.Label, span+1)
			for i := range table {
				table[i] = deflt
			}
			// Earlier arms win over later ones with the same tag.
			for i := len(n.Arms) - 1; i >= 0; i-- {
				table[n.Arms[i].Tag-lo] = arms[i]
			}
			g.addImm(rA, rA, -lo)
			g.emit(asm.Inst{Op: cpu.OpTBR, Rn: rA, Table: table, Target: deflt})
		} else {
			for i, a := range n.Arms {
				g.movImm(rB, uint64(a.Tag))
				g.emit(asm.Inst{Op: cpu.OpCMP, Rn: rA, Rm: rB})
				g.branchIf(cpu.EQ, arms[i])
			}
			g.branch(deflt)
		}
	}

	for i, a := range n.Arms {
		g.place(arms[i])
		g.settle(base)
		g.gen(a.Body, want, tail)
		g.branch(done)
	}
	g.place(deflt)
	g.settle(base)
	g.gen(n.Default, want, tail)
	g.place(done)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
