package codegen

import (
	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

// Registers free for temporaries between pushes.
const (
	rA   = cpu.X9
	rB   = cpu.X10
	rC   = cpu.X11
	rD   = cpu.X12
	rE   = cpu.X13
	rF   = cpu.X14
	rObj = cpu.X15 // object under construction
	s0   = cpu.RegScratch0
	s1   = cpu.RegScratch1
	sp   = cpu.RegSP
)

// loopInfo is a loop whose body is being generated.
type loopInfo struct {
	top      asm.Label
	slots    []int // stack items of the loop variables
	depth    int   // depth at the top of the body
	handlers int
}

// generator holds the state of one function being generated.
type generator struct {
	fn    *asm.Func
	prog  *asm.Program
	opts  options
	name  string
	arity int

	lambda *ir.Lambda
	frame  *frame
	stack  stack

	loops    []loopInfo
	handlers int // handler frames currently installed

	overflow, divide asm.Label
	raisesOverflow   bool
	raisesDivide     bool

	objects map[ir.Value]int
}

func newGenerator(fn *ir.Lambda, prog *asm.Program, name string, o options) *generator {
	g := &generator{
		fn:      asm.NewFunc(name),
		prog:    prog,
		opts:    o,
		name:    name,
		arity:   fn.Arity(),
		lambda:  fn,
		frame:   newFrame(),
		objects: make(map[ir.Value]int),
	}
	g.overflow = g.fn.NewLabel()
	g.divide = g.fn.NewLabel()
	return g
}

func (g *generator) emit(in asm.Inst) int { return g.fn.Emit(in) }

func (g *generator) op3(op cpu.Op, rd, rn, rm cpu.Reg) {
	g.emit(asm.Inst{Op: op, Rd: rd, Rn: rn, Rm: rm})
}

func (g *generator) opImm(op cpu.Op, rd, rn cpu.Reg, imm int64) {
	g.emit(asm.Inst{Op: op, Rd: rd, Rn: rn, Imm: imm})
}

func (g *generator) mov(rd, rn cpu.Reg) {
	if rd != rn {
		g.emit(asm.Inst{Op: cpu.OpMOV, Rd: rd, Rn: rn})
	}
}

func (g *generator) ldr(rd, rn cpu.Reg, off int64) {
	g.emit(asm.Inst{Op: cpu.OpLDR, Rd: rd, Rn: rn, Imm: g.offset(8, off)})
}

func (g *generator) str(rd, rn cpu.Reg, off int64) {
	g.emit(asm.Inst{Op: cpu.OpSTR, Rd: rd, Rn: rn, Imm: g.offset(8, off)})
}

func (g *generator) branch(l asm.Label) {
	g.emit(asm.Inst{Op: cpu.OpB, Target: l})
}

func (g *generator) branchIf(c cpu.Cond, l asm.Label) {
	g.emit(asm.Inst{Op: cpu.OpBCOND, Cond: c, Target: l})
}

func (g *generator) place(l asm.Label) { g.fn.Place(l) }

// addImm adds a constant of any size to rn into rd.
func (g *generator) addImm(rd, rn cpu.Reg, n int64) {
	switch {
	case n == 0:
		g.mov(rd, rn)
	case asm.FitsArith(n):
		g.opImm(cpu.OpADDI, rd, rn, n)
	case n < 0 && asm.FitsArith(-n):
		g.opImm(cpu.OpSUBI, rd, rn, -n)
	default:
		g.movImm(s1, uint64(n))
		g.op3(cpu.OpADD, rd, rn, s1)
	}
}

// adjust moves the stack pointer by bytes, keeping each step encodable.
func (g *generator) adjust(bytes int64) {
	const step = 4088
	for bytes > 0 {
		n := min(bytes, step)
		g.opImm(cpu.OpADDI, sp, sp, n)
		bytes -= n
	}
	for bytes < 0 {
		n := min(-bytes, step)
		g.opImm(cpu.OpSUBI, sp, sp, n)
		bytes += n
	}
}

// push stores r in a new stack item.
func (g *generator) push(r cpu.Reg) int {
	g.opImm(cpu.OpSUBI, sp, sp, 8)
	g.emit(asm.Inst{Op: cpu.OpSTR, Rd: r, Rn: sp})
	g.stack.grow(1)
	return g.stack.top()
}

// pop loads the top item into r and removes it.
func (g *generator) pop(r cpu.Reg) {
	g.emit(asm.Inst{Op: cpu.OpLDR, Rd: r, Rn: sp})
	g.opImm(cpu.OpADDI, sp, sp, 8)
	g.stack.shrink(1)
}

// drop removes the top n items.
func (g *generator) drop(n int) {
	if n == 0 {
		return
	}
	g.adjust(8 * int64(n))
	g.stack.shrink(n)
}

// collapse removes the n items under the top one, keeping the top.
func (g *generator) collapse(n int) {
	if n == 0 {
		return
	}
	g.ldr(s0, sp, 0)
	g.str(s0, sp, 8*int64(n))
	g.drop(n)
}

func (g *generator) loadItem(r cpu.Reg, item int) {
	g.ldr(r, sp, g.stack.offset(item))
}

func (g *generator) storeItem(r cpu.Reg, item int) {
	g.str(r, sp, g.stack.offset(item))
}

// settle records that control does not fall through the code just
// emitted. The abstract depth is set to what the code after it expects.
func (g *generator) settle(depth int) {
	g.stack.depth = depth
}

// tagResult turns the raw integer in r into a tagged word in rd.
func (g *generator) tagResult(rd, r cpu.Reg) {
	g.opImm(cpu.OpLSLI, rd, r, 1)
	g.opImm(cpu.OpORRI, rd, rd, 1)
}

// untag puts the integer held by the tagged word in r into rd.
func (g *generator) untag(rd, r cpu.Reg) {
	g.opImm(cpu.OpASRI, rd, r, 1)
}
