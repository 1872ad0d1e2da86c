package asm

import (
	"encoding/binary"
	"fmt"

	"mlback/pkg/cpu"
)

// WordKind says how a static word is resolved at link time.
type WordKind uint8

const (
	Raw      WordKind = iota // Value as is
	FuncAddr                 // entry address of function Func
	ObjAddr                  // address of static object Object
)

// Word is one word of a static object.
type Word struct {
	Kind   WordKind
	Value  uint64
	Func   string
	Object int
}

// Object is a static heap object. Its header records len(Words); byte
// objects keep their payload in Words as packed little-endian bytes.
type Object struct {
	Flags byte
	Words []Word
}

// Header returns the header word of a static object.
func Header(length int, flags byte) uint64 {
	return uint64(length) | uint64(flags)<<56
}

// Program owns the functions and static objects of one unit.
type Program struct {
	Funcs   []*Func
	Objects []Object

	funcs    map[string]int
	closures map[string]int
	names    map[string]int
}

func NewProgram() *Program {
	return &Program{funcs: make(map[string]int), closures: make(map[string]int), names: make(map[string]int)}
}

// Reserve returns a function name based on base that no earlier call
// returned and no added function uses.
func (p *Program) Reserve(base string) string {
	if base == "" {
		base = "fn"
	}
	name := base
	for {
		_, used := p.funcs[name]
		if p.names[name] == 0 && !used {
			break
		}
		p.names[base]++
		name = fmt.Sprintf("%s#%d", base, p.names[base])
	}
	p.names[name]++
	return name
}

// Add registers a generated function. Names are unique within a program.
func (p *Program) Add(f *Func) error {
	if _, dup := p.funcs[f.Name]; dup {
		return fmt.Errorf("asm: duplicate function %q", f.Name)
	}
	p.funcs[f.Name] = len(p.Funcs)
	p.Funcs = append(p.Funcs, f)
	return nil
}

// Func returns a registered function by name.
func (p *Program) Func(name string) (*Func, bool) {
	i, ok := p.funcs[name]
	if !ok {
		return nil, false
	}
	return p.Funcs[i], true
}

// AddObject adds a static object and returns its index for LDRLIT.
func (p *Program) AddObject(o Object) int {
	p.Objects = append(p.Objects, o)
	return len(p.Objects) - 1
}

// Closure returns the static closure of a function without free
// variables, creating it on first use.
func (p *Program) Closure(fn string) int {
	if i, ok := p.closures[fn]; ok {
		return i
	}
	i := p.AddObject(Object{Flags: cpu.FlagClosure, Words: []Word{{Kind: FuncAddr, Func: fn}}})
	p.closures[fn] = i
	return i
}

// Merge moves the functions and objects of q into p, renumbering q's
// object references. q must not be used afterwards.
func (p *Program) Merge(q *Program) error {
	base := len(p.Objects)
	for _, o := range q.Objects {
		words := make([]Word, len(o.Words))
		for i, w := range o.Words {
			if w.Kind == ObjAddr {
				w.Object += base
			}
			words[i] = w
		}
		p.Objects = append(p.Objects, Object{Flags: o.Flags, Words: words})
	}
	for fn, i := range q.closures {
		if _, ok := p.closures[fn]; !ok {
			p.closures[fn] = i + base
		}
	}
	for name, n := range q.names {
		p.names[name] += n
	}
	for _, f := range q.Funcs {
		for i := range f.Insts {
			if f.Insts[i].Op == cpu.OpLDRLIT {
				f.Insts[i].Imm += int64(base)
			}
		}
		if err := p.Add(f); err != nil {
			return err
		}
	}
	return nil
}

// Link lays out code and data and resolves every label, function and
// object reference. Pass one assigns addresses; pass two emits.
func (p *Program) Link() (*cpu.Image, error) {
	img := &cpu.Image{Symbols: make(map[string]uint64)}

	// Pass 1: code and data addresses.
	start := make([]int, len(p.Funcs))
	n := 0
	for i, f := range p.Funcs {
		start[i] = n
		img.Symbols[f.Name] = cpu.CodeBase + 4*uint64(n)
		for l, idx := range f.labels {
			if idx < 0 && f.referenced(Label(l)) {
				return nil, fmt.Errorf("asm: %s: label L%d used but never placed", f.Name, l)
			}
		}
		n += len(f.Insts)
	}
	img.Objects = make([]uint64, len(p.Objects))
	size := 0
	for i, o := range p.Objects {
		img.Objects[i] = cpu.DataBase + uint64(size) + 8
		size += 8 * (1 + len(o.Words))
	}

	// Pass 2: instructions.
	img.Code = make([]cpu.Inst, 0, n)
	for i, f := range p.Funcs {
		addr := func(l Label) uint64 { return cpu.CodeBase + 4*uint64(start[i]+f.labels[l]) }
		for j, in := range f.Insts {
			if err := checkEncoding(in); err != nil {
				return nil, fmt.Errorf("asm: %s+%d: %w", f.Name, j, err)
			}
			out := cpu.Inst{Op: in.Op, Rd: in.Rd, Rn: in.Rn, Rm: in.Rm, Ra: in.Ra, Imm: in.Imm, Shift: in.Shift, Cond: in.Cond}
			if usesLabel(in.Op) {
				out.Target = addr(in.Target)
			}
			if in.Op == cpu.OpTBR {
				out.Table = make([]uint64, len(in.Table))
				for k, l := range in.Table {
					out.Table[k] = addr(l)
				}
			}
			if in.Op == cpu.OpLDRLIT {
				if in.Imm < 0 || int(in.Imm) >= len(p.Objects) {
					return nil, fmt.Errorf("asm: %s+%d: no static object %d", f.Name, j, in.Imm)
				}
				out.Imm = int64(img.Objects[in.Imm])
			}
			img.Code = append(img.Code, out)
		}
	}

	// Pass 2: data.
	img.Data = make([]byte, size)
	off := 0
	for i, o := range p.Objects {
		binary.LittleEndian.PutUint64(img.Data[off:], Header(len(o.Words), o.Flags))
		off += 8
		for _, w := range o.Words {
			v := w.Value
			switch w.Kind {
			case FuncAddr:
				a, ok := img.Symbols[w.Func]
				if !ok {
					return nil, fmt.Errorf("asm: object %d refers to undefined function %q", i, w.Func)
				}
				v = a
			case ObjAddr:
				if w.Object < 0 || w.Object >= len(p.Objects) {
					return nil, fmt.Errorf("asm: object %d refers to missing object %d", i, w.Object)
				}
				v = img.Objects[w.Object]
			}
			binary.LittleEndian.PutUint64(img.Data[off:], v)
			off += 8
		}
	}
	return img, nil
}

func (f *Func) referenced(l Label) bool {
	for _, in := range f.Insts {
		if usesLabel(in.Op) && in.Target == l {
			return true
		}
		for _, t := range in.Table {
			if t == l {
				return true
			}
		}
	}
	return false
}

// FitsArith reports whether n is encodable as an add/sub/compare immediate.
func FitsArith(n int64) bool { return n >= 0 && n <= 4095 }

// FitsOffset reports whether off is encodable as a load/store offset for
// an access of width bytes: either unscaled in [-256, 255] or a scaled
// unsigned 12-bit multiple of width.
func FitsOffset(width int, off int64) bool {
	if off >= -256 && off <= 255 {
		return true
	}
	return off >= 0 && off%int64(width) == 0 && off/int64(width) <= 4095
}

func checkEncoding(in Inst) error {
	switch in.Op {
	case cpu.OpADDI, cpu.OpADDSI, cpu.OpSUBI, cpu.OpSUBSI, cpu.OpCMPI:
		if !FitsArith(in.Imm) {
			return fmt.Errorf("%s immediate %d out of range", in.Op, in.Imm)
		}
	case cpu.OpMOVZ, cpu.OpMOVN, cpu.OpMOVK:
		if in.Imm < 0 || in.Imm > 0xFFFF || in.Shift > 3 {
			return fmt.Errorf("%s immediate %d, shift %d out of range", in.Op, in.Imm, in.Shift)
		}
	case cpu.OpLSLI, cpu.OpLSRI, cpu.OpASRI:
		if in.Imm < 0 || in.Imm > 63 {
			return fmt.Errorf("shift amount %d out of range", in.Imm)
		}
	case cpu.OpLDR, cpu.OpSTR:
		return checkOffset(8, in.Imm)
	case cpu.OpLDRW, cpu.OpSTRW:
		return checkOffset(4, in.Imm)
	case cpu.OpLDRH, cpu.OpSTRH:
		return checkOffset(2, in.Imm)
	case cpu.OpLDRB, cpu.OpSTRB:
		return checkOffset(1, in.Imm)
	}
	return nil
}

func checkOffset(width int, off int64) error {
	if !FitsOffset(width, off) {
		return fmt.Errorf("offset %d not encodable for a %d-byte access", off, width)
	}
	return nil
}
