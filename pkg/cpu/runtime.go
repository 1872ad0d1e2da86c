package cpu

import (
	"errors"
	"fmt"
)

// Address map of the reference machine.
const (
	RuntimeBase uint64 = 0x100    // runtime entry points, 4 bytes apart
	ThreadBase  uint64 = 0x1000   // thread data block
	CodeBase    uint64 = 0x10000  // instruction i of the image lives at CodeBase+4*i
	DataBase    uint64 = 0x400000 // static objects

	nullPage uint64 = 0x1000
)

// Thread data offsets from RegThread.
const (
	TDHandler        = 0  // SP of the innermost handler frame
	TDStackLimit     = 8  // lowest legal SP
	TDInterrupt      = 16 // non-zero when an interrupt is pending
	TDHeapOverflow   = 24 // entry called when the heap pointer passes the limit
	TDStackOverflow  = 32
	TDInterruptEntry = 40
	TDFallbackEntry  = 48 // entry of functions left to the general generator
	TDSize           = 56
)

// Object header flags, in the top byte of the header word that precedes
// every heap object. The low 56 bits hold the length in words.
const (
	FlagBytes   byte = 0x01
	FlagCode    byte = 0x02
	FlagClosure byte = 0x03
	FlagMutable byte = 0x40
)

// Runtime entries.
const (
	EntryReturn = iota
	EntryHeapOverflow
	EntryStackOverflow
	EntryInterrupt
	EntryUncaught
	EntryFallback
	numEntries
)

// EntryAddr returns the address of runtime entry e.
func EntryAddr(e int) uint64 { return RuntimeBase + 4*uint64(e) }

var (
	ErrStackOverflow = errors.New("cpu: stack overflow")
	ErrHeapExhausted = errors.New("cpu: heap exhausted")
	ErrStepLimit     = errors.New("cpu: step limit reached")
	ErrImbalance     = errors.New("cpu: stack pointer not restored by callee")
)

// FaultError reports an access outside mapped memory or code.
type FaultError struct {
	PC   uint64
	Addr uint64
	What string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("cpu: %s at 0x%x (pc 0x%x)", e.What, e.Addr, e.PC)
}

// UncaughtError is returned when a raise reaches the bottom handler frame.
type UncaughtError struct {
	Packet uint64
}

func (e *UncaughtError) Error() string {
	return fmt.Sprintf("cpu: uncaught exception, packet 0x%x", e.Packet)
}

// FallbackError is returned when execution enters a function that was
// left to the general code generator. ID is the value in X17.
type FallbackError struct {
	ID int64
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("cpu: function %d has no target code", e.ID)
}

// BreakError is returned by BRK.
type BreakError struct {
	PC   uint64
	Code int64
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("cpu: break #%d at 0x%x", e.Code, e.PC)
}

// runtime services a jump into the runtime entry area.
func (m *Machine) runtime(entry int) {
	switch entry {
	case EntryReturn:
		m.Halted = true

	case EntryHeapOverflow:
		m.HeapTraps++
		limit := m.X[RegHeapLimit]
		if limit >= m.heapEnd {
			m.fail(ErrHeapExhausted)
			return
		}
		limit += uint64(m.cfg.HeapChunk)
		if limit > m.heapEnd {
			limit = m.heapEnd
		}
		m.X[RegHeapLimit] = limit
		m.PC = m.X[RegLR]

	case EntryStackOverflow:
		m.fail(ErrStackOverflow)

	case EntryInterrupt:
		m.Interrupts++
		m.store(ThreadBase+TDInterrupt, 8, 0)
		m.PC = m.X[RegLR]

	case EntryUncaught:
		m.fail(&UncaughtError{Packet: m.X[X0]})

	case EntryFallback:
		m.fail(&FallbackError{ID: int64(m.X[RegScratch1])})

	default:
		m.fail(&FaultError{PC: m.PC, Addr: m.PC, What: "jump into runtime area"})
	}
}
