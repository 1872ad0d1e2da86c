package codegen

import (
	"math/bits"

	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

// allocFixed bumps the heap pointer past a header and words, trapping to
// the runtime until the heap limit allows it. dst gets the object address
// with the header written.
func (g *generator) allocFixed(words int, flags byte, dst cpu.Reg) {
	retry, ok := g.fn.NewLabel(), g.fn.NewLabel()
	g.place(retry)
	g.mov(dst, cpu.RegHeap)
	g.addImm(cpu.RegHeap, cpu.RegHeap, 8*int64(1+words))
	g.heapCheck(dst, retry, ok)
	g.movImm(s0, asm.Header(words, flags))
	g.str(s0, dst, 0)
	g.opImm(cpu.OpADDI, dst, dst, 8)
}

// allocDynamic is allocFixed for a word count held untagged in words.
func (g *generator) allocDynamic(words cpu.Reg, flags byte, dst cpu.Reg) {
	retry, ok := g.fn.NewLabel(), g.fn.NewLabel()
	g.opImm(cpu.OpADDI, rF, words, 1)
	g.opImm(cpu.OpLSLI, rF, rF, 3)
	g.place(retry)
	g.mov(dst, cpu.RegHeap)
	g.op3(cpu.OpADD, cpu.RegHeap, cpu.RegHeap, rF)
	g.heapCheck(dst, retry, ok)
	g.movImm(s0, uint64(flags)<<56)
	g.op3(cpu.OpORR, s0, s0, words)
	g.str(s0, dst, 0)
	g.opImm(cpu.OpADDI, dst, dst, 8)
}

func (g *generator) heapCheck(start cpu.Reg, retry, ok asm.Label) {
	g.emit(asm.Inst{Op: cpu.OpCMP, Rn: cpu.RegHeap, Rm: cpu.RegHeapLimit})
	g.branchIf(cpu.LS, ok)
	g.mov(cpu.RegHeap, start)
	g.ldr(s0, cpu.RegThread, cpu.TDHeapOverflow)
	g.emit(asm.Inst{Op: cpu.OpBLR, Rn: s0})
	g.branch(retry)
	g.place(ok)
}

func (g *generator) tuple(n *ir.Tuple, want bool) {
	srcs := g.operands(n.Fields...)
	if want {
		g.allocFixed(len(n.Fields), 0, rObj)
		for i, s := range srcs {
			g.fetch(rA, s)
			g.str(rA, rObj, 8*int64(i))
		}
	}
	g.release(srcs)
	if want {
		g.push(rObj)
	}
}

func (g *generator) field(n *ir.Field, want bool) {
	srcs := g.operands(n.Base)
	if !want {
		g.release(srcs)
		return
	}
	g.fetch(rA, srcs[0])
	g.release(srcs)
	g.ldr(rA, rA, 8*int64(n.Index))
	g.push(rA)
}

func (g *generator) container(n *ir.Container) {
	g.allocFixed(n.Size, cpu.FlagMutable, rObj)
	g.movImm(rA, ir.Tag(0))
	for i := 0; i < n.Size; i++ {
		g.str(rA, rObj, 8*int64(i))
	}
	g.frame.Define(n.Slot, g.push(rObj))
	g.effect(n.Setter)
}

// setContainer copies Size words into a container. A literal tuple is
// stored field by field without being built.
func (g *generator) setContainer(n *ir.SetContainer, want bool) {
	if t, ok := n.Tuple.(*ir.Tuple); ok && len(t.Fields) >= n.Size {
		srcs := g.operands(append([]ir.Expr{n.Container}, t.Fields...)...)
		g.fetch(rObj, srcs[0])
		for i := 0; i < n.Size; i++ {
			g.fetch(rA, srcs[1+i])
			g.str(rA, rObj, 8*int64(i))
		}
		g.release(srcs)
	} else {
		srcs := g.operands(n.Container, n.Tuple)
		g.fetch(rObj, srcs[0])
		g.fetch(rB, srcs[1])
		g.release(srcs)
		for i := 0; i < n.Size; i++ {
			g.ldr(rA, rB, 8*int64(i))
			g.str(rA, rObj, 8*int64(i))
		}
	}
	g.pushUnit(want)
}

// address leaves Base + Index*width in base and returns the constant
// byte offset still to add. A literal index folds into the offset.
func (g *generator) address(a ir.Address, base, index cpu.Reg, width int) int64 {
	if k, ok := ir.IntValue(a.Index); ok {
		return k*int64(width) + int64(a.Offset)
	}
	g.untag(index, index)
	if width > 1 {
		g.opImm(cpu.OpLSLI, index, index, int64(bits.TrailingZeros(uint(width))))
	}
	g.op3(cpu.OpADD, base, base, index)
	return int64(a.Offset)
}

var (
	loads  = map[int]cpu.Op{1: cpu.OpLDRB, 2: cpu.OpLDRH, 4: cpu.OpLDRW, 8: cpu.OpLDR}
	stores = map[int]cpu.Op{1: cpu.OpSTRB, 2: cpu.OpSTRH, 4: cpu.OpSTRW, 8: cpu.OpSTR}
)

func (g *generator) memOp(op cpu.Op, width int, rd, rn cpu.Reg, off int64) {
	g.emit(asm.Inst{Op: op, Rd: rd, Rn: rn, Imm: g.offset(width, off)})
}

func (g *generator) load(n *ir.Load, want bool) {
	srcs := g.operands(n.Addr.Base, n.Addr.Index)
	g.fetch(rA, srcs[0])
	g.fetch(rB, srcs[1])
	g.release(srcs)
	if !want {
		return
	}
	w := n.Kind.Width()
	off := g.address(n.Addr, rA, rB, w)
	if n.Kind == ir.MLWord {
		g.memOp(cpu.OpLDR, 8, rC, rA, off)
		g.push(rC)
		return
	}
	g.memOp(loads[w], w, rC, rA, off)
	g.tagResult(rC, rC)
	g.push(rC)
}

func (g *generator) store(n *ir.Store, want bool) {
	srcs := g.operands(n.Addr.Base, n.Addr.Index, n.Value)
	g.fetch(rA, srcs[0])
	g.fetch(rB, srcs[1])
	g.fetch(rC, srcs[2])
	g.release(srcs)
	w := n.Kind.Width()
	off := g.address(n.Addr, rA, rB, w)
	if n.Kind != ir.MLWord {
		g.untag(rC, rC)
	}
	g.memOp(stores[w], w, rC, rA, off)
	g.pushUnit(want)
}

// blockOp moves or compares Length elements. Moves copy backwards when
// the destination starts above the source, so overlapping ranges work.
func (g *generator) blockOp(n *ir.BlockOp, want bool) {
	if n.Kind == ir.BlockCompareBytes {
		g.unsupported(stubCompareBytes)
	}
	w := 1
	if n.Kind == ir.BlockMoveWords {
		w = 8
	}
	srcs := g.operands(n.Src.Base, n.Src.Index, n.Dst.Base, n.Dst.Index, n.Length)
	g.fetch(rA, srcs[0])
	g.fetch(rB, srcs[1])
	g.fetch(rC, srcs[2])
	g.fetch(rD, srcs[3])
	g.fetch(rE, srcs[4])
	g.release(srcs)
	g.addImm(rA, rA, g.address(n.Src, rA, rB, w))
	g.addImm(rC, rC, g.address(n.Dst, rC, rD, w))
	g.untag(rE, rE)

	done := g.fn.NewLabel()
	if n.Kind == ir.BlockEqualBytes {
		differ := g.fn.NewLabel()
		next := g.fn.NewLabel()
		g.movImm(rF, ir.Tag(int64(ir.True)))
		g.place(next)
		g.emit(asm.Inst{Op: cpu.OpCBZ, Rn: rE, Target: done})
		g.memOp(cpu.OpLDRB, 1, rB, rA, 0)
		g.memOp(cpu.OpLDRB, 1, rD, rC, 0)
		g.emit(asm.Inst{Op: cpu.OpCMP, Rn: rB, Rm: rD})
		g.branchIf(cpu.NE, differ)
		g.opImm(cpu.OpADDI, rA, rA, 1)
		g.opImm(cpu.OpADDI, rC, rC, 1)
		g.opImm(cpu.OpSUBI, rE, rE, 1)
		g.branch(next)
		g.place(differ)
		g.movImm(rF, ir.Tag(int64(ir.False)))
		g.place(done)
		if want {
			g.push(rF)
		}
		return
	}

	ld, st := loads[w], stores[w]
	forward, backward, back := g.fn.NewLabel(), g.fn.NewLabel(), g.fn.NewLabel()
	g.emit(asm.Inst{Op: cpu.OpCMP, Rn: rC, Rm: rA})
	g.branchIf(cpu.HI, back)
	g.place(forward)
	g.emit(asm.Inst{Op: cpu.OpCBZ, Rn: rE, Target: done})
	g.memOp(ld, w, rD, rA, 0)
	g.memOp(st, w, rD, rC, 0)
	g.opImm(cpu.OpADDI, rA, rA, int64(w))
	g.opImm(cpu.OpADDI, rC, rC, int64(w))
	g.opImm(cpu.OpSUBI, rE, rE, 1)
	g.branch(forward)

	g.place(back)
	g.opImm(cpu.OpLSLI, rF, rE, int64(bits.TrailingZeros(uint(w))))
	g.op3(cpu.OpADD, rA, rA, rF)
	g.op3(cpu.OpADD, rC, rC, rF)
	g.place(backward)
	g.emit(asm.Inst{Op: cpu.OpCBZ, Rn: rE, Target: done})
	g.opImm(cpu.OpSUBI, rA, rA, int64(w))
	g.opImm(cpu.OpSUBI, rC, rC, int64(w))
	g.memOp(ld, w, rD, rA, 0)
	g.memOp(st, w, rD, rC, 0)
	g.opImm(cpu.OpSUBI, rE, rE, 1)
	g.branch(backward)
	g.place(done)
	g.pushUnit(want)
}

// alloc builds a mutable cell of a run-time size, every word set to Init
// or, for byte cells, every byte set to the low byte of Init.
func (g *generator) alloc(n *ir.Alloc, want bool) {
	srcs := g.operands(n.Size, n.Init)
	g.fetch(rA, srcs[0])
	g.fetch(rB, srcs[1])
	g.release(srcs)
	g.untag(rA, rA)
	g.allocDynamic(rA, n.Flags|cpu.FlagMutable, rObj)
	if n.Flags&cpu.FlagBytes != 0 {
		g.untag(rB, rB)
		g.opImm(cpu.OpANDI, rB, rB, 0xFF)
		g.movImm(rC, 0x0101010101010101)
		g.op3(cpu.OpMUL, rB, rB, rC)
	}
	next, done := g.fn.NewLabel(), g.fn.NewLabel()
	g.mov(rC, rObj)
	g.mov(rD, rA)
	g.place(next)
	g.emit(asm.Inst{Op: cpu.OpCBZ, Rn: rD, Target: done})
	g.str(rB, rC, 0)
	g.opImm(cpu.OpADDI, rC, rC, 8)
	g.opImm(cpu.OpSUBI, rD, rD, 1)
	g.branch(next)
	g.place(done)
	if want {
		g.push(rObj)
	}
}
