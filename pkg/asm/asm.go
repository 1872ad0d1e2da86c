// Package asm is the instruction buffer the code generator writes into.
// A Func collects abstract instructions with symbolic labels; a Program
// owns the functions and static objects of a unit and links them in two
// passes into a cpu.Image.
package asm

import (
	"fmt"
	"strings"

	"mlback/pkg/cpu"
)

// Label is a position in a Func, created unplaced and placed once.
type Label int

// NoLabel marks an instruction without a label operand.
const NoLabel Label = -1

// Inst is one instruction with label operands still symbolic. For LDRLIT,
// Imm is the index of a static object in the Program.
type Inst struct {
	Op         cpu.Op
	Rd, Rn, Rm cpu.Reg
	Ra         cpu.Reg
	Imm        int64
	Shift      uint8
	Cond       cpu.Cond
	Target     Label
	Table      []Label
}

// Func is the instruction buffer of one function.
type Func struct {
	Name   string
	Insts  []Inst
	labels []int // instruction index per label, -1 until placed
}

func NewFunc(name string) *Func {
	return &Func{Name: name}
}

// Emit appends an instruction and returns its index.
func (f *Func) Emit(in Inst) int {
	if in.Target == 0 && !usesLabel(in.Op) {
		in.Target = NoLabel
	}
	f.Insts = append(f.Insts, in)
	return len(f.Insts) - 1
}

func usesLabel(op cpu.Op) bool {
	switch op {
	case cpu.OpB, cpu.OpBCOND, cpu.OpCBZ, cpu.OpCBNZ, cpu.OpBL, cpu.OpADR, cpu.OpTBR:
		return true
	}
	return false
}

// NewLabel creates an unplaced label.
func (f *Func) NewLabel() Label {
	f.labels = append(f.labels, -1)
	return Label(len(f.labels) - 1)
}

// Place binds l to the next instruction emitted.
func (f *Func) Place(l Label) {
	if f.labels[l] >= 0 {
		panic(fmt.Sprintf("asm: label L%d placed twice in %s", l, f.Name))
	}
	f.labels[l] = len(f.Insts)
}

// Placed reports whether l has been placed.
func (f *Func) Placed(l Label) bool { return f.labels[l] >= 0 }

// Patch replaces the immediate of instruction i.
func (f *Func) Patch(i int, imm int64) { f.Insts[i].Imm = imm }

// Len is the number of instructions emitted so far.
func (f *Func) Len() int { return len(f.Insts) }

// Reset discards everything emitted, keeping the name.
func (f *Func) Reset() {
	f.Insts = f.Insts[:0]
	f.labels = f.labels[:0]
}

func (f *Func) labelName(l Label) string { return fmt.Sprintf("L%d", l) }

// Listing prints the function as assembly text.
func (f *Func) Listing() string {
	at := make(map[int][]Label)
	for l, idx := range f.labels {
		if idx >= 0 {
			at[idx] = append(at[idx], Label(l))
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", f.Name)
	for i := 0; i <= len(f.Insts); i++ {
		for _, l := range at[i] {
			fmt.Fprintf(&sb, "%s:\n", f.labelName(l))
		}
		if i == len(f.Insts) {
			break
		}
		sb.WriteString("\t")
		sb.WriteString(f.format(f.Insts[i]))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *Func) format(in Inst) string {
	target := ""
	if in.Target >= 0 {
		target = f.labelName(in.Target)
	}
	if in.Op == cpu.OpTBR {
		names := make([]string, len(in.Table))
		for i, l := range in.Table {
			names[i] = f.labelName(l)
		}
		target = "[" + strings.Join(names, " ") + "] else " + target
	}
	ops := cpu.Operands(in.Op, in.Rd, in.Rn, in.Rm, in.Ra, in.Imm, in.Shift, in.Cond, target)
	if ops == "" {
		return cpu.Mnemonic(in.Op, in.Cond)
	}
	return cpu.Mnemonic(in.Op, in.Cond) + " " + ops
}
