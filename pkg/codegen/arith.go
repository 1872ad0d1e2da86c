package codegen

import (
	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

var conditions = map[ir.BinaryOp]cpu.Cond{
	ir.Eq: cpu.EQ, ir.Ne: cpu.NE, ir.PtrEq: cpu.EQ,
	ir.Lt: cpu.LT, ir.Le: cpu.LE, ir.Gt: cpu.GT, ir.Ge: cpu.GE,
	ir.ULt: cpu.LO, ir.ULe: cpu.LS, ir.UGt: cpu.HI, ir.UGe: cpu.HS,
}

func (g *generator) binary(n *ir.Binary, want bool) {
	srcs := g.operands(n.Left, n.Right)
	g.fetch(rA, srcs[0])
	g.fetch(rB, srcs[1])
	g.release(srcs)
	ovf, div := asm.NoLabel, asm.NoLabel
	if n.Op.CanRaise() {
		ovf, div = g.overflowLabel(), g.divideLabel()
	}
	g.binaryOp(n.Op, cpu.X0, rA, rB, ovf, div)
	if want {
		g.push(cpu.X0)
	}
}

// binaryOp computes op on the tagged words in a and b into dst. Fixed
// precision overflow branches to ovf, a zero divisor to div. rC to rE
// are clobbered.
func (g *generator) binaryOp(op ir.BinaryOp, dst, a, b cpu.Reg, ovf, div asm.Label) {
	if c, ok := conditions[op]; ok {
		g.emit(asm.Inst{Op: cpu.OpCMP, Rn: a, Rm: b})
		g.emit(asm.Inst{Op: cpu.OpCSET, Rd: rC, Cond: c})
		g.tagResult(dst, rC)
		return
	}
	switch op {
	case ir.Add:
		// (2x+1) - 1 + (2y+1); V is set exactly when x+y leaves the range.
		g.opImm(cpu.OpSUBI, rC, a, 1)
		g.op3(cpu.OpADDS, dst, rC, b)
		g.branchIf(cpu.VS, ovf)
	case ir.Sub:
		g.op3(cpu.OpSUBS, rC, a, b)
		g.branchIf(cpu.VS, ovf)
		g.opImm(cpu.OpADDI, dst, rC, 1)
	case ir.Mul:
		g.untag(rC, a)
		g.opImm(cpu.OpSUBI, rD, b, 1)
		g.op3(cpu.OpSMULH, rE, rC, rD)
		g.op3(cpu.OpMUL, rC, rC, rD)
		g.opImm(cpu.OpASRI, rD, rC, 63)
		g.emit(asm.Inst{Op: cpu.OpCMP, Rn: rE, Rm: rD})
		g.branchIf(cpu.NE, ovf)
		g.opImm(cpu.OpORRI, dst, rC, 1)
	case ir.Quot, ir.Rem:
		g.emit(asm.Inst{Op: cpu.OpCMPI, Rn: b, Imm: int64(ir.Tag(0))})
		g.branchIf(cpu.EQ, div)
		g.untag(rC, a)
		g.untag(rD, b)
		g.op3(cpu.OpSDIV, rE, rC, rD)
		if op == ir.Rem {
			g.emit(asm.Inst{Op: cpu.OpMSUB, Rd: rE, Rn: rE, Rm: rD, Ra: rC})
			g.tagResult(dst, rE)
			return
		}
		// MinTagged / -1 is the one quotient that does not fit.
		g.op3(cpu.OpADDS, dst, rE, rE)
		g.branchIf(cpu.VS, ovf)
		g.opImm(cpu.OpORRI, dst, dst, 1)

	case ir.WordAdd:
		g.opImm(cpu.OpSUBI, rC, a, 1)
		g.op3(cpu.OpADD, dst, rC, b)
	case ir.WordSub:
		g.op3(cpu.OpSUB, rC, a, b)
		g.opImm(cpu.OpADDI, dst, rC, 1)
	case ir.WordMul:
		g.untag(rC, a)
		g.opImm(cpu.OpSUBI, rD, b, 1)
		g.op3(cpu.OpMUL, rC, rC, rD)
		g.opImm(cpu.OpORRI, dst, rC, 1)
	case ir.WordDiv, ir.WordMod:
		g.emit(asm.Inst{Op: cpu.OpCMPI, Rn: b, Imm: int64(ir.Tag(0))})
		g.branchIf(cpu.EQ, div)
		g.opImm(cpu.OpLSRI, rC, a, 1)
		g.opImm(cpu.OpLSRI, rD, b, 1)
		g.op3(cpu.OpUDIV, rE, rC, rD)
		if op == ir.WordMod {
			g.emit(asm.Inst{Op: cpu.OpMSUB, Rd: rE, Rn: rE, Rm: rD, Ra: rC})
		}
		g.tagResult(dst, rE)

	case ir.And:
		g.op3(cpu.OpAND, dst, a, b)
	case ir.Or:
		g.op3(cpu.OpORR, dst, a, b)
	case ir.Xor:
		g.op3(cpu.OpEOR, rC, a, b)
		g.opImm(cpu.OpORRI, dst, rC, 1)
	case ir.Shl:
		g.opImm(cpu.OpSUBI, rC, a, 1)
		g.untag(rD, b)
		g.op3(cpu.OpLSL, rC, rC, rD)
		g.opImm(cpu.OpORRI, dst, rC, 1)
	case ir.Shr:
		g.opImm(cpu.OpLSRI, rC, a, 1)
		g.untag(rD, b)
		g.op3(cpu.OpLSR, rC, rC, rD)
		g.tagResult(dst, rC)
	case ir.Sar:
		g.untag(rC, a)
		g.untag(rD, b)
		g.op3(cpu.OpASR, rC, rC, rD)
		g.tagResult(dst, rC)
	default:
		g.invariant("binary operation %s", op)
	}
}

func (g *generator) unary(n *ir.Unary, want bool) {
	srcs := g.operands(n.Arg)
	g.fetch(rA, srcs[0])
	g.release(srcs)
	switch n.Op {
	case ir.NotBoolean:
		g.opImm(cpu.OpEORI, cpu.X0, rA, int64(ir.Tag(1)^ir.Tag(0)))
	case ir.IsTagged:
		g.opImm(cpu.OpANDI, rC, rA, 1)
		g.tagResult(cpu.X0, rC)
	case ir.CellLength:
		g.ldr(rC, rA, -8)
		g.opImm(cpu.OpLSLI, rC, rC, 8)
		g.opImm(cpu.OpLSRI, rC, rC, 8)
		g.tagResult(cpu.X0, rC)
	case ir.CellFlags:
		g.ldr(rC, rA, -8)
		g.opImm(cpu.OpLSRI, rC, rC, 56)
		g.tagResult(cpu.X0, rC)
	case ir.ClearMutable:
		g.ldr(rC, rA, -8)
		keep := ^(uint64(cpu.FlagMutable) << 56)
		g.opImm(cpu.OpANDI, rC, rC, int64(keep))
		g.str(rC, rA, -8)
		g.movImm(cpu.X0, ir.Tag(0))
	default:
		g.invariant("unary operation %s", n.Op)
	}
	if want {
		g.push(cpu.X0)
	}
}

// arbitrary tries the fixed-precision operation when both operands are
// tagged and calls Long(left, right) when they are not or it overflows.
func (g *generator) arbitrary(n *ir.Arbitrary, want bool) {
	base := g.stack.depth
	srcs := g.operands(n.Left, n.Right, n.Long)
	slow, done := g.fn.NewLabel(), g.fn.NewLabel()

	g.fetch(rA, srcs[0])
	g.fetch(rB, srcs[1])
	g.op3(cpu.OpAND, rC, rA, rB)
	g.opImm(cpu.OpANDI, rC, rC, 1)
	g.emit(asm.Inst{Op: cpu.OpCBZ, Rn: rC, Target: slow})
	g.binaryOp(n.Op.Fixed(), cpu.X0, rA, rB, slow, asm.NoLabel)
	g.release(srcs)
	if want {
		g.push(cpu.X0)
	}
	g.branch(done)

	g.place(slow)
	g.settle(base + pushed(srcs))
	g.fetch(cpu.RegClosure, srcs[2])
	g.fetch(cpu.X0, srcs[0])
	g.fetch(cpu.X1, srcs[1])
	g.ldr(s0, cpu.RegClosure, 0)
	g.emit(asm.Inst{Op: cpu.OpBLR, Rn: s0})
	g.release(srcs)
	if want {
		g.push(cpu.X0)
	}
	g.place(done)
}
