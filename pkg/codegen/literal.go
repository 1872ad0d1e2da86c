package codegen

import (
	"math/big"

	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

// literalKind is how a constant reaches a register.
type literalKind int

const (
	shortLiteral literalKind = iota // one MOVZ or MOVN
	wideLiteral                     // MOVZ followed by MOVKs
	boxedLiteral                    // address of a static object, LDRLIT
)

func classify(v ir.Value) literalKind {
	n, ok := v.(ir.Int)
	if !ok {
		return boxedLiteral
	}
	w := ir.Tag(int64(n))
	if w <= 0xFFFF || ^w <= 0xFFFF {
		return shortLiteral
	}
	return wideLiteral
}

// movImm loads the 64-bit pattern w into r.
func (g *generator) movImm(r cpu.Reg, w uint64) {
	switch {
	case w <= 0xFFFF:
		g.emit(asm.Inst{Op: cpu.OpMOVZ, Rd: r, Imm: int64(w)})
		return
	case ^w <= 0xFFFF:
		g.emit(asm.Inst{Op: cpu.OpMOVN, Rd: r, Imm: int64(^w)})
		return
	}
	g.emit(asm.Inst{Op: cpu.OpMOVZ, Rd: r, Imm: int64(w & 0xFFFF)})
	for sh := uint8(1); sh < 4; sh++ {
		if part := w >> (16 * sh) & 0xFFFF; part != 0 {
			g.emit(asm.Inst{Op: cpu.OpMOVK, Rd: r, Imm: int64(part), Shift: sh})
		}
	}
}

// literal loads the run-time word of v into r.
func (g *generator) literal(r cpu.Reg, v ir.Value) {
	if n, ok := v.(ir.Int); ok {
		g.movImm(r, ir.Tag(int64(n)))
		return
	}
	g.emit(asm.Inst{Op: cpu.OpLDRLIT, Rd: r, Imm: int64(g.object(v))})
}

// object returns the static object holding a boxed constant.
func (g *generator) object(v ir.Value) int {
	if i, ok := g.objects[v]; ok {
		return i
	}
	var o asm.Object
	switch c := v.(type) {
	case *ir.Block:
		o.Words = make([]asm.Word, len(c.Fields))
		for i, f := range c.Fields {
			if n, ok := f.(ir.Int); ok {
				o.Words[i] = asm.Word{Value: ir.Tag(int64(n))}
			} else {
				o.Words[i] = asm.Word{Kind: asm.ObjAddr, Object: g.object(f)}
			}
		}
	case *ir.Big:
		o = bigObject(c.V)
	default:
		g.invariant("no static form for %T", v)
	}
	i := g.prog.AddObject(o)
	g.objects[v] = i
	return i
}

// bigObject lays out an arbitrary-precision literal as a byte object: a
// sign word followed by the magnitude, least significant word first.
func bigObject(v *big.Int) asm.Object {
	words := []asm.Word{{Value: uint64(int64(v.Sign()))}}
	for _, w := range new(big.Int).Abs(v).Bits() {
		words = append(words, asm.Word{Value: uint64(w)})
	}
	return asm.Object{Flags: cpu.FlagBytes, Words: words}
}
