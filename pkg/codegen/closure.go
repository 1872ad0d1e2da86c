package codegen

import (
	"errors"

	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
)

// closureRecord tracks one closure while it is built: allocated, then
// filled once every closure it may capture exists, then sealed.
type closureRecord struct {
	slot   int // -1 for an anonymous lambda
	lambda *ir.Lambda
	name   string
	item   int
	sealed bool
}

// arena holds the closures of one binding group, indexed by handle.
type arena struct {
	records []closureRecord
}

func (a *arena) add(slot int, l *ir.Lambda) int {
	a.records = append(a.records, closureRecord{slot: slot, lambda: l})
	return len(a.records) - 1
}

func (a *arena) get(h int) *closureRecord { return &a.records[h] }

func (a *arena) handles() []int {
	hs := make([]int, len(a.records))
	for i := range hs {
		hs[i] = i
	}
	return hs
}

func (g *generator) lambdaValue(l *ir.Lambda) {
	a := &arena{}
	h := a.add(-1, l)
	g.compileNested(a)
	g.allocClosure(a.get(h))
	g.fillClosure(a.get(h))
	g.sealClosure(a.get(h))
}

// recDecs allocates every member before filling any, so members can
// capture each other.
func (g *generator) recDecs(n *ir.RecDecs) {
	a := &arena{}
	for _, rd := range n.Decs {
		a.add(rd.Slot, rd.Lambda)
	}
	g.compileNested(a)
	for _, h := range a.handles() {
		r := a.get(h)
		g.allocClosure(r)
		g.frame.Define(r.slot, r.item)
	}
	for _, h := range a.handles() {
		g.fillClosure(a.get(h))
	}
	for _, h := range a.handles() {
		g.sealClosure(a.get(h))
	}
}

// compileNested generates the code of each lambda in the arena as a
// function of its own.
func (g *generator) compileNested(a *arena) {
	for _, h := range a.handles() {
		r := a.get(h)
		base := r.lambda.Name
		if base == "" {
			base = "fn"
		}
		res, err := Compile(r.lambda, g.prog, g.opts.fallback,
			WithName(g.name+"/"+base), WithStackCheck(g.opts.checkStack))
		if err != nil {
			var ie *InvariantError
			if errors.As(err, &ie) {
				panic(ie)
			}
			g.invariant("%s: %v", base, err)
		}
		r.name = res.Func.Name
	}
}

// allocClosure pushes the closure object of r. A lambda without free
// variables gets its static closure.
func (g *generator) allocClosure(r *closureRecord) {
	if len(r.lambda.Closure) == 0 {
		g.emit(asm.Inst{Op: cpu.OpLDRLIT, Rd: rA, Imm: int64(g.prog.Closure(r.name))})
		r.item = g.push(rA)
		r.sealed = true
		return
	}
	g.allocFixed(1+len(r.lambda.Closure), cpu.FlagClosure|cpu.FlagMutable, rObj)
	r.item = g.push(rObj)
}

func (g *generator) fillClosure(r *closureRecord) {
	if r.sealed {
		return
	}
	g.loadItem(rObj, r.item)
	g.emit(asm.Inst{Op: cpu.OpLDRLIT, Rd: s0, Imm: int64(g.prog.Closure(r.name))})
	g.ldr(s0, s0, 0)
	g.str(s0, rObj, 0)
	for i, v := range r.lambda.Closure {
		g.loadVar(rA, v)
		g.str(rA, rObj, 8*int64(1+i))
	}
}

// sealClosure clears the mutable flag of a filled closure.
func (g *generator) sealClosure(r *closureRecord) {
	if r.sealed {
		return
	}
	g.loadItem(rObj, r.item)
	g.movImm(s0, asm.Header(1+len(r.lambda.Closure), cpu.FlagClosure))
	g.str(s0, rObj, -8)
	r.sealed = true
}
