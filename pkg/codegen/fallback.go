package codegen

import (
	"sync"

	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

// Fallback generates functions the generator gave up on.
type Fallback interface {
	Generate(fn *ir.Lambda, name string) (*asm.Func, error)
}

// Pending is a function left for the general code generator.
type Pending struct {
	ID      int
	Name    string
	Body    ir.Expr
	Params  []ir.ArgType
	Closure []ir.Var
}

// Deferred records each function it is given and emits an entry stub that
// passes the record's ID to the runtime's fallback entry. It is safe for
// concurrent use.
type Deferred struct {
	mu      sync.Mutex
	pending []Pending
}

func (d *Deferred) Generate(fn *ir.Lambda, name string) (*asm.Func, error) {
	d.mu.Lock()
	id := len(d.pending)
	d.pending = append(d.pending, Pending{ID: id, Name: name, Body: fn.Body, Params: fn.ArgTypes, Closure: fn.Closure})
	d.mu.Unlock()

	f := asm.NewFunc(name)
	f.Emit(asm.Inst{Op: cpu.OpMOVZ, Rd: cpu.RegScratch1, Imm: int64(id & 0xFFFF)})
	if id > 0xFFFF {
		f.Emit(asm.Inst{Op: cpu.OpMOVK, Rd: cpu.RegScratch1, Imm: int64(id >> 16 & 0xFFFF), Shift: 1})
	}
	f.Emit(asm.Inst{Op: cpu.OpLDR, Rd: cpu.RegScratch0, Rn: cpu.RegThread, Imm: cpu.TDFallbackEntry})
	f.Emit(asm.Inst{Op: cpu.OpBR, Rn: cpu.RegScratch0})
	return f, nil
}

// Pending returns the functions recorded so far, in order.
func (d *Deferred) Pending() []Pending {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Pending(nil), d.pending...)
}
