// Package cpu is a reference machine for the code generator's target: a
// 64-bit load/store architecture with condition flags, executed one
// instruction at a time, plus the small runtime the generated code calls
// through the thread data block.
package cpu

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Image is a linked program ready to load.
type Image struct {
	Code    []Inst
	Data    []byte            // loaded at DataBase
	Symbols map[string]uint64 // function entry addresses
	Objects []uint64          // address of each static object
}

// Config sizes the machine.
type Config struct {
	MemSize   int
	StackSize int
	HeapChunk int // the heap limit advances by this much per overflow trap
	MaxSteps  int // 0 means no limit
}

// DefaultConfig is a 16 MiB machine with a 1 MiB stack.
func DefaultConfig() Config {
	return Config{
		MemSize:   16 << 20,
		StackSize: 1 << 20,
		HeapChunk: 64 << 10,
		MaxSteps:  50_000_000,
	}
}

type Machine struct {
	X  [32]uint64
	PC uint64

	N, Z, C, V bool

	Mem []byte

	Steps      int
	Halted     bool
	Interrupts int // interrupt traps serviced
	HeapTraps  int // heap overflow traps serviced

	// LowWater is the lowest stack pointer seen since the last Call.
	LowWater uint64

	code []Inst
	cfg  Config
	img  *Image

	stackTop   uint64
	stackLimit uint64
	heapStart  uint64
	heapEnd    uint64

	err error
}

// New loads img into a fresh machine.
func New(img *Image, cfg Config) (*Machine, error) {
	if cfg.MemSize == 0 {
		cfg = DefaultConfig()
	}
	if uint64(len(img.Code))*4 > DataBase-CodeBase {
		return nil, fmt.Errorf("cpu: %d instructions do not fit below the data area", len(img.Code))
	}
	dataEnd := DataBase + uint64(len(img.Data))
	stackLimit := uint64(cfg.MemSize - cfg.StackSize)
	if dataEnd > stackLimit {
		return nil, fmt.Errorf("cpu: static data (%d bytes) overlaps the stack", len(img.Data))
	}

	m := &Machine{
		Mem:        make([]byte, cfg.MemSize),
		code:       img.Code,
		cfg:        cfg,
		img:        img,
		stackTop:   uint64(cfg.MemSize),
		stackLimit: stackLimit,
		heapStart:  (dataEnd + 7) &^ 7,
		heapEnd:    stackLimit,
	}
	copy(m.Mem[DataBase:], img.Data)
	m.reset()
	return m, nil
}

// reset restores the runtime registers and the thread data block.
func (m *Machine) reset() {
	m.X = [32]uint64{}
	m.X[RegThread] = ThreadBase
	m.X[RegHeap] = m.heapStart
	limit := m.heapStart + uint64(m.cfg.HeapChunk)
	if limit > m.heapEnd {
		limit = m.heapEnd
	}
	m.X[RegHeapLimit] = limit
	m.X[RegSP] = m.stackTop

	td := ThreadBase
	m.store(td+TDHandler, 8, 0)
	m.store(td+TDStackLimit, 8, m.stackLimit)
	m.store(td+TDInterrupt, 8, 0)
	m.store(td+TDHeapOverflow, 8, EntryAddr(EntryHeapOverflow))
	m.store(td+TDStackOverflow, 8, EntryAddr(EntryStackOverflow))
	m.store(td+TDInterruptEntry, 8, EntryAddr(EntryInterrupt))
	m.store(td+TDFallbackEntry, 8, EntryAddr(EntryFallback))
}

// Symbol returns the entry address of a linked function.
func (m *Machine) Symbol(name string) (uint64, bool) {
	a, ok := m.img.Symbols[name]
	return a, ok
}

// RequestInterrupt raises the interrupt flag polled by function prologues.
func (m *Machine) RequestInterrupt() { m.store(ThreadBase+TDInterrupt, 8, 1) }

// SetStackLimit moves the stack limit seen by prologue checks. The limit
// may not be below the real stack area.
func (m *Machine) SetStackLimit(limit uint64) {
	if limit < m.stackLimit {
		limit = m.stackLimit
	}
	m.store(ThreadBase+TDStackLimit, 8, limit)
}

// StackTop is the stack pointer at the start of a Call.
func (m *Machine) StackTop() uint64 { return m.stackTop }

// Call runs the closure at address closure with the given argument words
// and returns the word left in X0. Arguments beyond the register set are
// pushed first to last, so the last one ends up at the lowest address.
// A bottom handler frame turns an escaping raise into an UncaughtError.
func (m *Machine) Call(closure uint64, args ...uint64) (uint64, error) {
	m.err = nil
	m.Halted = false

	sp := m.stackTop - 16
	m.store(sp, 8, EntryAddr(EntryUncaught))
	m.store(sp+8, 8, 0)
	m.store(ThreadBase+TDHandler, 8, sp)
	base := sp

	for i, a := range args {
		if i < len(ArgRegs) {
			m.X[ArgRegs[i]] = a
			continue
		}
		sp -= 8
		m.store(sp, 8, a)
	}
	m.X[RegSP] = sp
	m.LowWater = sp
	m.X[RegClosure] = closure
	m.X[RegLR] = EntryAddr(EntryReturn)
	m.PC = m.load(closure, 8)
	if m.err != nil {
		return 0, m.err
	}

	if err := m.Run(); err != nil {
		return 0, err
	}
	if m.X[RegSP] != base {
		return m.X[X0], fmt.Errorf("%w: sp 0x%x, want 0x%x", ErrImbalance, m.X[RegSP], base)
	}
	return m.X[X0], nil
}

// Run steps until the machine halts or fails.
func (m *Machine) Run() error {
	for !m.Halted && m.err == nil {
		m.Step()
	}
	return m.err
}

func (m *Machine) fail(err error) {
	if m.err == nil {
		m.err = err
	}
	m.Halted = true
}

func (m *Machine) fault(addr uint64, what string) {
	m.fail(&FaultError{PC: m.PC, Addr: addr, What: what})
}

// Load reads a little-endian value of width bytes from the host side. It
// leaves the machine state alone, so it works after a failed Call.
func (m *Machine) Load(addr uint64, width int) (uint64, error) {
	if addr < nullPage || addr+uint64(width) > uint64(len(m.Mem)) {
		return 0, &FaultError{PC: m.PC, Addr: addr, What: "load outside memory"}
	}
	b := m.Mem[addr:]
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *Machine) load(addr uint64, width int) uint64 {
	if addr < nullPage || addr+uint64(width) > uint64(len(m.Mem)) {
		m.fault(addr, "load outside memory")
		return 0
	}
	b := m.Mem[addr:]
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func (m *Machine) store(addr uint64, width int, v uint64) {
	if addr < nullPage || addr+uint64(width) > uint64(len(m.Mem)) {
		m.fault(addr, "store outside memory")
		return
	}
	b := m.Mem[addr:]
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (m *Machine) reg(r Reg) uint64 {
	if r == XZR {
		return 0
	}
	return m.X[r]
}

func (m *Machine) set(r Reg, v uint64) {
	if r != XZR {
		m.X[r] = v
	}
}

func (m *Machine) setNZ(v uint64) {
	m.N = int64(v) < 0
	m.Z = v == 0
}

func (m *Machine) addFlags(a, b uint64) uint64 {
	r := a + b
	m.setNZ(r)
	m.C = r < a
	m.V = ((a^r)&(b^r))>>63 == 1
	return r
}

func (m *Machine) subFlags(a, b uint64) uint64 {
	r := a - b
	m.setNZ(r)
	m.C = a >= b
	m.V = ((a^b)&(a^r))>>63 == 1
	return r
}

func (m *Machine) holds(c Cond) bool {
	switch c {
	case EQ:
		return m.Z
	case NE:
		return !m.Z
	case HS:
		return m.C
	case LO:
		return !m.C
	case MI:
		return m.N
	case PL:
		return !m.N
	case VS:
		return m.V
	case VC:
		return !m.V
	case HI:
		return m.C && !m.Z
	case LS:
		return !m.C || m.Z
	case GE:
		return m.N == m.V
	case LT:
		return m.N != m.V
	case GT:
		return !m.Z && m.N == m.V
	case LE:
		return m.Z || m.N != m.V
	}
	return true
}

var widths = map[Op]int{
	OpLDR: 8, OpSTR: 8, OpLDRW: 4, OpSTRW: 4, OpLDRH: 2, OpSTRH: 2, OpLDRB: 1, OpSTRB: 1,
}

// Step executes one instruction.
func (m *Machine) Step() {
	if m.Halted {
		return
	}
	if m.cfg.MaxSteps > 0 && m.Steps >= m.cfg.MaxSteps {
		m.fail(ErrStepLimit)
		return
	}
	m.Steps++

	if m.PC >= RuntimeBase && m.PC < RuntimeBase+4*numEntries {
		m.runtime(int(m.PC-RuntimeBase) / 4)
		return
	}
	idx := (m.PC - CodeBase) / 4
	if m.PC < CodeBase || m.PC%4 != 0 || idx >= uint64(len(m.code)) {
		m.fault(m.PC, "fetch outside code")
		return
	}
	in := &m.code[idx]
	next := m.PC + 4

	switch in.Op {
	case OpNOP:

	case OpBRK:
		m.fail(&BreakError{PC: m.PC, Code: in.Imm})
		return

	case OpMOVZ:
		m.set(in.Rd, uint64(in.Imm)<<(16*in.Shift))
	case OpMOVN:
		m.set(in.Rd, ^(uint64(in.Imm) << (16 * in.Shift)))
	case OpMOVK:
		sh := 16 * in.Shift
		v := m.reg(in.Rd) &^ (0xFFFF << sh)
		m.set(in.Rd, v|uint64(in.Imm)<<sh)
	case OpMOV:
		m.set(in.Rd, m.reg(in.Rn))
	case OpLDRLIT:
		m.set(in.Rd, uint64(in.Imm))
	case OpADR:
		m.set(in.Rd, in.Target)

	case OpADD:
		m.set(in.Rd, m.reg(in.Rn)+m.reg(in.Rm))
	case OpADDS:
		m.set(in.Rd, m.addFlags(m.reg(in.Rn), m.reg(in.Rm)))
	case OpSUB:
		m.set(in.Rd, m.reg(in.Rn)-m.reg(in.Rm))
	case OpSUBS:
		m.set(in.Rd, m.subFlags(m.reg(in.Rn), m.reg(in.Rm)))
	case OpADDI:
		m.set(in.Rd, m.reg(in.Rn)+uint64(in.Imm))
	case OpADDSI:
		m.set(in.Rd, m.addFlags(m.reg(in.Rn), uint64(in.Imm)))
	case OpSUBI:
		m.set(in.Rd, m.reg(in.Rn)-uint64(in.Imm))
	case OpSUBSI:
		m.set(in.Rd, m.subFlags(m.reg(in.Rn), uint64(in.Imm)))
	case OpMUL:
		m.set(in.Rd, m.reg(in.Rn)*m.reg(in.Rm))
	case OpSMULH:
		a, b := m.reg(in.Rn), m.reg(in.Rm)
		hi, _ := bits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
		m.set(in.Rd, hi)
	case OpSDIV:
		a, b := int64(m.reg(in.Rn)), int64(m.reg(in.Rm))
		if b == 0 {
			m.set(in.Rd, 0)
		} else {
			m.set(in.Rd, uint64(a/b))
		}
	case OpUDIV:
		a, b := m.reg(in.Rn), m.reg(in.Rm)
		if b == 0 {
			m.set(in.Rd, 0)
		} else {
			m.set(in.Rd, a/b)
		}
	case OpMSUB:
		m.set(in.Rd, m.reg(in.Ra)-m.reg(in.Rn)*m.reg(in.Rm))

	case OpAND:
		m.set(in.Rd, m.reg(in.Rn)&m.reg(in.Rm))
	case OpORR:
		m.set(in.Rd, m.reg(in.Rn)|m.reg(in.Rm))
	case OpEOR:
		m.set(in.Rd, m.reg(in.Rn)^m.reg(in.Rm))
	case OpANDI:
		m.set(in.Rd, m.reg(in.Rn)&uint64(in.Imm))
	case OpORRI:
		m.set(in.Rd, m.reg(in.Rn)|uint64(in.Imm))
	case OpEORI:
		m.set(in.Rd, m.reg(in.Rn)^uint64(in.Imm))
	case OpLSL:
		m.set(in.Rd, m.reg(in.Rn)<<(m.reg(in.Rm)&63))
	case OpLSR:
		m.set(in.Rd, m.reg(in.Rn)>>(m.reg(in.Rm)&63))
	case OpASR:
		m.set(in.Rd, uint64(int64(m.reg(in.Rn))>>(m.reg(in.Rm)&63)))
	case OpLSLI:
		m.set(in.Rd, m.reg(in.Rn)<<(uint64(in.Imm)&63))
	case OpLSRI:
		m.set(in.Rd, m.reg(in.Rn)>>(uint64(in.Imm)&63))
	case OpASRI:
		m.set(in.Rd, uint64(int64(m.reg(in.Rn))>>(uint64(in.Imm)&63)))

	case OpCMP:
		m.subFlags(m.reg(in.Rn), m.reg(in.Rm))
	case OpCMPI:
		m.subFlags(m.reg(in.Rn), uint64(in.Imm))
	case OpCSET:
		if m.holds(in.Cond) {
			m.set(in.Rd, 1)
		} else {
			m.set(in.Rd, 0)
		}

	case OpLDR, OpLDRW, OpLDRH, OpLDRB:
		m.set(in.Rd, m.load(m.reg(in.Rn)+uint64(in.Imm), widths[in.Op]))
	case OpSTR, OpSTRW, OpSTRH, OpSTRB:
		m.store(m.reg(in.Rn)+uint64(in.Imm), widths[in.Op], m.reg(in.Rd))

	case OpB:
		next = in.Target
	case OpBCOND:
		if m.holds(in.Cond) {
			next = in.Target
		}
	case OpCBZ:
		if m.reg(in.Rn) == 0 {
			next = in.Target
		}
	case OpCBNZ:
		if m.reg(in.Rn) != 0 {
			next = in.Target
		}
	case OpBL:
		m.X[RegLR] = next
		next = in.Target
	case OpBLR:
		target := m.reg(in.Rn)
		m.X[RegLR] = next
		next = target
	case OpBR:
		next = m.reg(in.Rn)
	case OpRET:
		next = m.X[RegLR]
	case OpTBR:
		i := m.reg(in.Rn)
		if i < uint64(len(in.Table)) {
			next = in.Table[i]
		} else {
			next = in.Target
		}

	default:
		m.fail(&FaultError{PC: m.PC, Addr: m.PC, What: fmt.Sprintf("illegal opcode %d", in.Op)})
		return
	}

	if sp := m.X[RegSP]; sp < m.LowWater {
		m.LowWater = sp
	}
	m.PC = next
}
