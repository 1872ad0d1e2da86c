package cpu

import (
	"fmt"
	"strings"
)

// Reg names one of the 64-bit integer registers.
type Reg uint8

const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	XZR // reads as zero, writes are discarded
)

// Register roles used by generated code.
const (
	RegClosure   = X8
	RegScratch0  = X16
	RegScratch1  = X17
	RegHeapLimit = X25
	RegThread    = X26
	RegHeap      = X27
	RegSP        = X28 // ML stack pointer, grows down
	RegLR        = X30
)

// ArgRegs carry the first arguments of a call; X0 also carries the result.
var ArgRegs = [...]Reg{X0, X1, X2, X3, X4, X5, X6, X7}

func (r Reg) String() string {
	switch r {
	case XZR:
		return "XZR"
	case RegSP:
		return "SP"
	case RegLR:
		return "LR"
	}
	return fmt.Sprintf("X%d", uint8(r))
}

// Cond is the condition of B.cond and CSET, evaluated against NZCV.
type Cond uint8

const (
	EQ Cond = iota
	NE
	HS // unsigned >=
	LO // unsigned <
	MI
	PL
	VS // signed overflow
	VC
	HI // unsigned >
	LS // unsigned <=
	GE
	LT
	GT
	LE
	AL
)

var condNames = [...]string{"EQ", "NE", "HS", "LO", "MI", "PL", "VS", "VC", "HI", "LS", "GE", "LT", "GT", "LE", "AL"}

func (c Cond) String() string { return condNames[c] }

// Invert returns the opposite condition.
func (c Cond) Invert() Cond {
	if c == AL {
		return AL
	}
	return c ^ 1
}

// Op is an instruction opcode.
type Op uint8

const (
	OpNOP Op = iota
	OpBRK    // trap with Imm

	OpMOVZ // Rd = Imm << 16*Shift
	OpMOVN // Rd = ^(Imm << 16*Shift)
	OpMOVK // insert Imm at 16*Shift, keep other bits
	OpMOV  // Rd = Rn
	OpLDRLIT
	OpADR

	OpADD // Rd = Rn + Rm
	OpADDS
	OpSUB
	OpSUBS
	OpADDI // Rd = Rn + Imm
	OpADDSI
	OpSUBI
	OpSUBSI
	OpMUL
	OpSMULH // high 64 bits of the signed 128-bit product
	OpSDIV  // zero divisor gives zero
	OpUDIV
	OpMSUB // Rd = Ra - Rn*Rm

	OpAND
	OpORR
	OpEOR
	OpANDI
	OpORRI
	OpEORI
	OpLSL
	OpLSR
	OpASR
	OpLSLI
	OpLSRI
	OpASRI

	OpCMP  // flags of Rn - Rm
	OpCMPI // flags of Rn - Imm
	OpCSET // Rd = 1 if Cond holds, else 0

	OpLDR // Rd = [Rn + Imm], 64 bits
	OpSTR
	OpLDRW // 32 bits, zero extended
	OpSTRW
	OpLDRH
	OpSTRH
	OpLDRB
	OpSTRB

	OpB
	OpBCOND
	OpCBZ
	OpCBNZ
	OpBL
	OpBLR
	OpBR
	OpRET
	OpTBR // jump table on Rn, out-of-range values go to the default target
)

var opNames = [...]string{
	OpNOP: "NOP", OpBRK: "BRK",
	OpMOVZ: "MOVZ", OpMOVN: "MOVN", OpMOVK: "MOVK", OpMOV: "MOV", OpLDRLIT: "LDR=", OpADR: "ADR",
	OpADD: "ADD", OpADDS: "ADDS", OpSUB: "SUB", OpSUBS: "SUBS",
	OpADDI: "ADD", OpADDSI: "ADDS", OpSUBI: "SUB", OpSUBSI: "SUBS",
	OpMUL: "MUL", OpSMULH: "SMULH", OpSDIV: "SDIV", OpUDIV: "UDIV", OpMSUB: "MSUB",
	OpAND: "AND", OpORR: "ORR", OpEOR: "EOR", OpANDI: "AND", OpORRI: "ORR", OpEORI: "EOR",
	OpLSL: "LSL", OpLSR: "LSR", OpASR: "ASR", OpLSLI: "LSL", OpLSRI: "LSR", OpASRI: "ASR",
	OpCMP: "CMP", OpCMPI: "CMP", OpCSET: "CSET",
	OpLDR: "LDR", OpSTR: "STR", OpLDRW: "LDRW", OpSTRW: "STRW",
	OpLDRH: "LDRH", OpSTRH: "STRH", OpLDRB: "LDRB", OpSTRB: "STRB",
	OpB: "B", OpBCOND: "B.", OpCBZ: "CBZ", OpCBNZ: "CBNZ", OpBL: "BL", OpBLR: "BLR", OpBR: "BR",
	OpRET: "RET", OpTBR: "TBR",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// Inst is one linked instruction. Branch targets and literal addresses are
// absolute.
type Inst struct {
	Op         Op
	Rd, Rn, Rm Reg
	Ra         Reg
	Imm        int64
	Shift      uint8
	Cond       Cond
	Target     uint64
	Table      []uint64
}

// Operands formats the operand list of an instruction, using target to
// print branch destinations.
func Operands(op Op, rd, rn, rm, ra Reg, imm int64, shift uint8, cond Cond, target string) string {
	switch op {
	case OpNOP, OpRET:
		return ""
	case OpBRK:
		return fmt.Sprintf("#%d", imm)
	case OpMOVZ, OpMOVN, OpMOVK:
		if shift == 0 {
			return fmt.Sprintf("%s, #%d", rd, imm)
		}
		return fmt.Sprintf("%s, #%d, LSL #%d", rd, imm, 16*int(shift))
	case OpMOV:
		return fmt.Sprintf("%s, %s", rd, rn)
	case OpLDRLIT:
		return fmt.Sprintf("%s, =obj%d", rd, imm)
	case OpADR:
		return fmt.Sprintf("%s, %s", rd, target)
	case OpADDI, OpADDSI, OpSUBI, OpSUBSI, OpANDI, OpORRI, OpEORI, OpLSLI, OpLSRI, OpASRI:
		return fmt.Sprintf("%s, %s, #%d", rd, rn, imm)
	case OpMSUB:
		return fmt.Sprintf("%s, %s, %s, %s", rd, rn, rm, ra)
	case OpCMP:
		return fmt.Sprintf("%s, %s", rn, rm)
	case OpCMPI:
		return fmt.Sprintf("%s, #%d", rn, imm)
	case OpCSET:
		return fmt.Sprintf("%s, %s", rd, cond)
	case OpLDR, OpSTR, OpLDRW, OpSTRW, OpLDRH, OpSTRH, OpLDRB, OpSTRB:
		if imm == 0 {
			return fmt.Sprintf("%s, [%s]", rd, rn)
		}
		return fmt.Sprintf("%s, [%s, #%d]", rd, rn, imm)
	case OpB, OpBL, OpBCOND:
		return target
	case OpCBZ, OpCBNZ:
		return fmt.Sprintf("%s, %s", rn, target)
	case OpBLR, OpBR:
		return rn.String()
	case OpTBR:
		return fmt.Sprintf("%s, %s", rn, target)
	}
	return fmt.Sprintf("%s, %s, %s", rd, rn, rm)
}

func (in Inst) String() string {
	target := fmt.Sprintf("0x%x", in.Target)
	if in.Op == OpTBR {
		parts := make([]string, len(in.Table))
		for i, t := range in.Table {
			parts[i] = fmt.Sprintf("0x%x", t)
		}
		target = "[" + strings.Join(parts, " ") + "] else " + target
	}
	ops := Operands(in.Op, in.Rd, in.Rn, in.Rm, in.Ra, in.Imm, in.Shift, in.Cond, target)
	if ops == "" {
		return Mnemonic(in.Op, in.Cond)
	}
	return Mnemonic(in.Op, in.Cond) + " " + ops
}

// Mnemonic is the printed opcode, including the condition of B.cond.
func Mnemonic(op Op, cond Cond) string {
	if op == OpBCOND {
		return "B." + cond.String()
	}
	return op.String()
}
