package codegen

import (
	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

// call pushes the closure and every argument, loads the closure and the
// register arguments, and leaves the last pushes as the callee's stack
// arguments. The callee pops those; the caller drops the rest.
func (g *generator) call(n *ir.Eval, want, tail bool) {
	for _, a := range n.Args {
		if a.Type != ir.General {
			g.unsupported(stubArgType)
		}
	}
	if n.Result != ir.General {
		g.unsupported(stubArgType)
	}

	base := g.stack.depth
	g.value(n.Fn)
	for _, a := range n.Args {
		g.value(a.Value)
	}
	m := len(n.Args)
	fnItem := base + 1
	argItem := func(j int) int { return base + 2 + j }
	regs := min(m, len(cpu.ArgRegs))

	if tail && g.handlers == 0 {
		g.tailCall(fnItem, argItem, m)
		g.settle(base + 1)
		return
	}

	g.loadItem(cpu.RegClosure, fnItem)
	for j := 0; j < regs; j++ {
		g.loadItem(cpu.ArgRegs[j], argItem(j))
	}
	g.ldr(s0, cpu.RegClosure, 0)
	g.emit(asm.Inst{Op: cpu.OpBLR, Rn: s0})
	g.stack.shrink(m - regs)
	g.drop(1 + regs)
	if want {
		g.push(cpu.X0)
	}
}

// tailCall replaces the current frame with the callee's arguments and
// jumps to it with the caller's return address. New stack arguments are
// copied into place from the first one on; each copy only overwrites
// items already read.
func (g *generator) tailCall(fnItem int, argItem func(int) int, m int) {
	regs := min(m, len(cpu.ArgRegs))
	g.loadItem(cpu.RegLR, itemLR)
	g.loadItem(cpu.RegClosure, fnItem)
	for j := 0; j < regs; j++ {
		g.loadItem(cpu.ArgRegs[j], argItem(j))
	}
	// Bytes from the stack pointer now to the callee's stack pointer.
	shift := 8 * int64(g.stack.depth+g.stackArgs()-(m-regs))
	for j := regs; j < m; j++ {
		g.loadItem(s0, argItem(j))
		g.str(s0, sp, shift+8*int64(m-1-j))
	}
	g.adjust(shift)
	g.ldr(s0, cpu.RegClosure, 0)
	g.emit(asm.Inst{Op: cpu.OpBR, Rn: s0})
}
