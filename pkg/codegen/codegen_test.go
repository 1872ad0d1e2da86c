package codegen

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlback/pkg/asm"
	"mlback/pkg/cpu"
	"mlback/pkg/interp"
	"mlback/pkg/ir"
	"mlback/pkg/irtext"
)

// machine is a linked program with the closures of its top-level
// functions, keyed by name.
type machine struct {
	*cpu.Machine
	img     *cpu.Image
	entries map[string]int
}

func (m *machine) call(t *testing.T, name string, args ...int64) (int64, error) {
	t.Helper()
	e, ok := m.entries[name]
	require.True(t, ok, "no function %s", name)
	words := make([]uint64, len(args))
	for i, a := range args {
		words[i] = ir.Tag(a)
	}
	w, err := m.Call(m.img.Objects[e], words...)
	return ir.Untag(w), err
}

func (m *machine) mustCall(t *testing.T, name string, args ...int64) int64 {
	t.Helper()
	r, err := m.call(t, name, args...)
	require.NoError(t, err)
	return r
}

// packet returns the exception id carried by an uncaught raise.
func (m *machine) packet(t *testing.T, err error) int64 {
	t.Helper()
	var ue *cpu.UncaughtError
	require.True(t, errors.As(err, &ue), "want an uncaught exception, got %v", err)
	w, lerr := m.Load(ue.Packet, 8)
	require.NoError(t, lerr)
	return ir.Untag(w)
}

func build(t *testing.T, cfg cpu.Config, srcs ...string) *machine {
	t.Helper()
	prog := asm.NewProgram()
	entries := make(map[string]int)
	for _, src := range srcs {
		l, err := irtext.ParseLambda(src)
		require.NoError(t, err, src)
		res, err := Generate(l, prog, WithName(l.Name))
		require.NoError(t, err, src)
		require.Equal(t, Generated, res.Status, "%s: %v", src, res.Reason)
		entries[l.Name] = Entry(prog, res)
	}
	img, err := prog.Link()
	require.NoError(t, err)
	m, err := cpu.New(img, cfg)
	require.NoError(t, err)
	return &machine{Machine: m, img: img, entries: entries}
}

func fn(name, args string, locals int, body string) string {
	return fmt.Sprintf("(lambda %s :args (%s) :locals %d :inline never %s)", name, args, locals, body)
}

func TestConstantArithmetic(t *testing.T) {
	m := build(t, cpu.DefaultConfig(), fn("f", "", 0, "(add 3 4)"))
	assert.Equal(t, int64(7), m.mustCall(t, "f"))
}

func TestLiterals(t *testing.T) {
	tests := []struct {
		value int64
		kind  literalKind
	}{
		{0, shortLiteral},
		{-1, shortLiteral},
		{0x7FFF, shortLiteral},
		{-0x8000, shortLiteral},
		{1 << 40, wideLiteral},
		{ir.MaxTagged, wideLiteral},
		{ir.MinTagged, wideLiteral},
	}
	var srcs []string
	for i, tc := range tests {
		assert.Equal(t, tc.kind, classify(ir.Int(tc.value)), "%d", tc.value)
		srcs = append(srcs, fn(fmt.Sprintf("lit%d", i), "", 0, fmt.Sprint(tc.value)))
	}
	assert.Equal(t, boxedLiteral, classify(ir.OverflowPacket))

	m := build(t, cpu.DefaultConfig(), srcs...)
	for i, tc := range tests {
		assert.Equal(t, tc.value, m.mustCall(t, fmt.Sprintf("lit%d", i)))
	}
}

func TestBlockLiteral(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("inner", "", 0, "(field 0 (field 1 {1 {2 3} 4}))"),
		fn("len", "", 0, "(cell-length {1 {2 3} 4})"),
	)
	assert.Equal(t, int64(2), m.mustCall(t, "inner"))
	assert.Equal(t, int64(3), m.mustCall(t, "len"))
}

var binaryOps = []ir.BinaryOp{
	ir.Add, ir.Sub, ir.Mul, ir.Quot, ir.Rem,
	ir.WordAdd, ir.WordSub, ir.WordMul, ir.WordDiv, ir.WordMod,
	ir.And, ir.Or, ir.Xor, ir.Shl, ir.Shr, ir.Sar,
	ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge, ir.ULt, ir.ULe, ir.UGt, ir.UGe,
}

// Generated arithmetic must agree with constant folding, including which
// exception it raises.
func TestBinaryMatchesFolding(t *testing.T) {
	var srcs []string
	for _, op := range binaryOps {
		srcs = append(srcs, fn(op.String(), "g g", 0, fmt.Sprintf("(%s A0 A1)", op)))
	}
	m := build(t, cpu.DefaultConfig(), srcs...)

	operand := gen.OneGenOf(
		gen.Int64Range(-40, 40),
		gen.Int64Range(ir.MinTagged, ir.MaxTagged),
		gen.OneConstOf(ir.MinTagged, ir.MaxTagged, int64(-1), int64(0), int64(63), int64(64)),
	)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	for _, op := range binaryOps {
		properties.Property(op.String(), prop.ForAll(
			func(a, b int64) bool {
				want, exn := ir.EvalBinary(op, a, b)
				got, err := m.call(t, op.String(), a, b)
				if exn != 0 {
					var ue *cpu.UncaughtError
					if !errors.As(err, &ue) {
						return false
					}
					w, lerr := m.Load(ue.Packet, 8)
					return lerr == nil && ir.Untag(w) == exn
				}
				return err == nil && got == want
			},
			operand, operand,
		))
	}
	properties.TestingRun(t)
}

func TestConditions(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("lt", "g g", 0, "(if (lt A0 A1) 10 20)"),
		fn("ugt", "g g", 0, "(if (ugt A0 A1) 10 20)"),
		fn("truthy", "g", 0, "(if A0 10 20)"),
		fn("not", "g", 0, "(if (not (eq A0 3)) 10 20)"),
	)
	assert.Equal(t, int64(10), m.mustCall(t, "lt", -5, 3))
	assert.Equal(t, int64(20), m.mustCall(t, "lt", 3, 3))
	assert.Equal(t, int64(10), m.mustCall(t, "ugt", -1, 3), "negative numbers are large unsigned")
	assert.Equal(t, int64(10), m.mustCall(t, "truthy", 1))
	assert.Equal(t, int64(20), m.mustCall(t, "truthy", 0))
	assert.Equal(t, int64(20), m.mustCall(t, "not", 3))
	assert.Equal(t, int64(10), m.mustCall(t, "not", 4))
}

func TestLetAndEffects(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("f", "g g", 2, "(let ((val 0 (add A0 A1)) (do (add A0 1)) (val 1 (mul L0 2))) (sub L1 A0))"),
	)
	assert.Equal(t, int64(2*(5+7)-5), m.mustCall(t, "f", 5, 7))
}

func TestTailRecursionRunsInConstantSpace(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("sum", "g g", 0, "(if (eq A0 0) A1 (call SELF (sub A0 1) (add A1 A0)))"),
	)
	var depth uint64
	for _, n := range []int64{1, 10, 100, 1000} {
		assert.Equal(t, n*(n+1)/2, m.mustCall(t, "sum", n, 0))
		used := m.StackTop() - m.LowWater
		if depth == 0 {
			depth = used
		}
		assert.Equal(t, depth, used, "stack used for n=%d", n)
	}
}

func TestTailCallWithStackArguments(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("last", "g g g g g g g g g g", 0, "(sub A9 A8)"),
		fn("count", "g g g g g g g g g g", 0,
			"(if (eq A0 0) (sub A9 A8) (call SELF (sub A0 1) A1 A2 A3 A4 A5 A6 A7 (add A8 1) (add A9 3)))"),
		fn("few", "g", 0, "(if (eq A0 0) 0 (call SELF (sub A0 1)))"),
	)
	assert.Equal(t, int64(9), m.mustCall(t, "last", 0, 1, 2, 3, 4, 5, 6, 7, 1, 10))
	assert.Equal(t, int64(2*100+5), m.mustCall(t, "count", 100, 0, 0, 0, 0, 0, 0, 0, 0, 5))
	assert.Equal(t, int64(0), m.mustCall(t, "few", 50))
}

func TestStackOverflow(t *testing.T) {
	cfg := cpu.DefaultConfig()
	cfg.StackSize = 16 << 10
	m := build(t, cfg,
		fn("depth", "g", 0, "(if (eq A0 0) 0 (add 1 (call SELF (sub A0 1))))"),
	)
	assert.Equal(t, int64(50), m.mustCall(t, "depth", 50))

	_, err := m.call(t, "depth", 100000)
	assert.ErrorIs(t, err, cpu.ErrStackOverflow)
}

func TestInterruptCheck(t *testing.T) {
	m := build(t, cpu.DefaultConfig(), fn("f", "g", 0, "(add A0 1)"))
	m.RequestInterrupt()
	assert.Equal(t, int64(2), m.mustCall(t, "f", 1))
	assert.Equal(t, 1, m.Interrupts)
	assert.Equal(t, int64(3), m.mustCall(t, "f", 2))
	assert.Equal(t, 1, m.Interrupts)
}

func TestCaseDispatch(t *testing.T) {
	lows := []int64{0, 7, -4}
	name := func(k, i int) string { return fmt.Sprintf("case%d_%d", k, i) }
	var srcs []string
	for i, lo := range lows {
		for k := 1; k <= 6; k++ {
			var arms strings.Builder
			for j := 0; j < k; j++ {
				fmt.Fprintf(&arms, " (%d %d)", lo+int64(j), 100+j)
			}
			srcs = append(srcs, fn(name(k, i), "g", 0, fmt.Sprintf("(case A0%s (default -1))", arms.String())))
		}
	}
	srcs = append(srcs,
		fn("sparse", "g", 0, "(case A0 (-3 1) (4 2) (4 3) (default 0))"),
		fn("wide", "g", 0, "(case A0 (0 1) (5000 2) (default 0))"),
	)
	m := build(t, cpu.DefaultConfig(), srcs...)

	for i, lo := range lows {
		for k := 1; k <= 6; k++ {
			for tag := lo - 2; tag <= lo+int64(k)+1; tag++ {
				want := int64(-1)
				if tag >= lo && tag < lo+int64(k) {
					want = 100 + tag - lo
				}
				assert.Equal(t, want, m.mustCall(t, name(k, i), tag), "lo=%d k=%d tag=%d", lo, k, tag)
			}
		}
	}
	assert.Equal(t, int64(1), m.mustCall(t, "sparse", -3))
	assert.Equal(t, int64(2), m.mustCall(t, "sparse", 4), "the first arm for a tag wins")
	assert.Equal(t, int64(0), m.mustCall(t, "sparse", 0))
	assert.Equal(t, int64(2), m.mustCall(t, "wide", 5000))
	assert.Equal(t, int64(1), m.mustCall(t, "wide", 0))
	assert.Equal(t, int64(0), m.mustCall(t, "wide", 7))
}

func TestTagTest(t *testing.T) {
	m := build(t, cpu.DefaultConfig(), fn("f", "g", 0, "(tag-test 2 3 A0)"))
	assert.Equal(t, int64(1), m.mustCall(t, "f", 2))
	assert.Equal(t, int64(0), m.mustCall(t, "f", 1))
}

func TestLoop(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("sum", "g", 2, "(loop ((0 A0) (1 0)) (if (eq L0 0) L1 (continue (sub L0 1) (add L1 L0))))"),
		fn("effect", "g", 3, "(let ((do (loop ((0 A0)) (if (eq L0 0) 0 (continue (sub L0 1)))))) A0)"),
	)
	assert.Equal(t, int64(5050), m.mustCall(t, "sum", 100))
	assert.Equal(t, int64(0), m.mustCall(t, "sum", 0))
	assert.Equal(t, int64(7), m.mustCall(t, "effect", 7))
}

func TestHandlers(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("catch", "g g", 1, "(handle 0 (add A0 A1) (sub 0 (field 0 L0)))"),
		fn("div", "g g", 1, "(handle 0 (quot A0 A1) (sub 0 (field 0 L0)))"),
		fn("thrower", "g", 0, "(if (eq A0 0) (raise {7}) A0)"),
		fn("nested", "g", 2, "(handle 0 (add 1 (handle 1 (raise (tuple A0)) (raise (tuple (add (field 0 L1) 1))))) (field 0 L0))"),
		fn("uncaught", "g g", 0, "(add A0 A1)"),
	)
	assert.Equal(t, int64(7), m.mustCall(t, "catch", 3, 4))
	assert.Equal(t, -ir.ExnOverflow, m.mustCall(t, "catch", ir.MaxTagged, 1))
	assert.Equal(t, int64(3), m.mustCall(t, "div", 7, 2))
	assert.Equal(t, -ir.ExnDiv, m.mustCall(t, "div", 7, 0))
	assert.Equal(t, int64(5), m.mustCall(t, "thrower", 5))
	assert.Equal(t, int64(6), m.mustCall(t, "nested", 5))

	_, err := m.call(t, "thrower", 0)
	assert.Equal(t, int64(7), m.packet(t, err))
	_, err = m.call(t, "uncaught", ir.MinTagged, -1)
	assert.Equal(t, ir.ExnOverflow, m.packet(t, err))
}

func TestRaiseAcrossCalls(t *testing.T) {
	srcs := []string{
		fn("caller", "g", 2, "(let ((val 1 (lambda boom :args (g) :locals 0 :inline never (if (eq A0 0) (raise {9}) A0)))) (handle 0 (add 100 (call L1 A0)) (field 0 L0)))"),
	}
	m := build(t, cpu.DefaultConfig(), srcs...)
	assert.Equal(t, int64(105), m.mustCall(t, "caller", 5))
	assert.Equal(t, int64(9), m.mustCall(t, "caller", 0))
}

func TestClosures(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("adder", "g g", 1, "(let ((val 0 (lambda add :args (g) :locals 0 :inline never :closure (A0) (add A0 C0)))) (call L0 A1))"),
		fn("parity", "g", 2, "(let ((rec "+
			"(0 (lambda even :args (g) :locals 0 :inline never :closure (L1) (if (eq A0 0) 1 (call C0 (sub A0 1))))) "+
			"(1 (lambda odd :args (g) :locals 0 :inline never :closure (L0) (if (eq A0 0) 0 (call C0 (sub A0 1))))))) "+
			"(call L0 A0))"),
		fn("static", "g", 1, "(let ((val 0 (lambda twice :args (g) :locals 0 :inline never (mul A0 2)))) (call L0 (call L0 A0)))"),
	)
	assert.Equal(t, int64(42), m.mustCall(t, "adder", 40, 2))
	assert.Equal(t, int64(1), m.mustCall(t, "parity", 10))
	assert.Equal(t, int64(0), m.mustCall(t, "parity", 7))
	assert.Equal(t, int64(12), m.mustCall(t, "static", 3))
}

func TestClosureIsSealed(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("flags", "g", 1, "(let ((val 0 (lambda k :args () :locals 0 :inline never :closure (A0) C0))) (cell-flags L0))"),
	)
	assert.Equal(t, int64(cpu.FlagClosure), m.mustCall(t, "flags", 1))
}

func TestMemory(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("tuple", "g g", 1, "(let ((val 0 (tuple A0 A1 3))) (add (field 0 L0) (field 2 L0)))"),
		fn("cells", "g", 1, "(let ((val 0 (alloc 4 0 7)) (do (store word (@ L0 2 0) 9))) (add (load word (@ L0 2 0)) (load word (@ L0 A0 0))))"),
		fn("length", "", 1, "(let ((val 0 (alloc 4 0 7))) (cell-length L0))"),
		fn("bytes", "g", 1, "(let ((val 0 (alloc 1 1 65)) (do (store byte (@ L0 3 0) 300))) (load byte (@ L0 A0 0)))"),
		fn("mutable", "", 1, "(let ((val 0 (alloc 1 0 0)) (do (clear-mutable L0))) (cell-flags L0))"),
	)
	assert.Equal(t, int64(5+3), m.mustCall(t, "tuple", 5, 6))
	assert.Equal(t, int64(16), m.mustCall(t, "cells", 1))
	assert.Equal(t, int64(18), m.mustCall(t, "cells", 2))
	assert.Equal(t, int64(4), m.mustCall(t, "length"))
	assert.Equal(t, int64(65), m.mustCall(t, "bytes", 0))
	assert.Equal(t, int64(300&0xFF), m.mustCall(t, "bytes", 3))
	assert.Equal(t, int64(0), m.mustCall(t, "mutable"))
}

func TestBlockOps(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("copy", "g", 2, "(let ((val 0 (tuple 1 2 3 4)) (val 1 (alloc 4 0 0)) "+
			"(do (block-op move-words (@ L0 0 0) (@ L1 0 0) 4))) (load word (@ L1 A0 0)))"),
		fn("overlap", "g", 1, "(let ((val 0 (alloc 4 0 0)) "+
			"(do (store word (@ L0 0 0) 1)) (do (store word (@ L0 1 0) 2)) (do (store word (@ L0 2 0) 3)) (do (store word (@ L0 3 0) 4)) "+
			"(do (block-op move-words (@ L0 0 0) (@ L0 1 0) 3))) (load word (@ L0 A0 0)))"),
		fn("equal", "g", 2, "(let ((val 0 (alloc 2 1 5)) (val 1 (alloc 2 1 5)) (do (store byte (@ L1 9 0) 6))) "+
			"(block-op equal-bytes (@ L0 0 0) (@ L1 0 0) A0))"),
	)
	for i, want := range []int64{1, 2, 3, 4} {
		assert.Equal(t, want, m.mustCall(t, "copy", int64(i)))
	}
	for i, want := range []int64{1, 1, 2, 3} {
		assert.Equal(t, want, m.mustCall(t, "overlap", int64(i)))
	}
	assert.Equal(t, int64(1), m.mustCall(t, "equal", 9))
	assert.Equal(t, int64(0), m.mustCall(t, "equal", 10))
}

func TestContainers(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("direct", "g g", 1, "(let ((container 0 2 (set-container L0 2 (tuple A0 A1)))) (sub (cfield 1 L0) (cfield 0 L0)))"),
		fn("copied", "g", 2, "(let ((val 1 (tuple A0 7)) (container 0 2 (set-container L0 2 L1))) (add (cfield 1 L0) (cfield 0 L0)))"),
	)
	assert.Equal(t, int64(9-4), m.mustCall(t, "direct", 4, 9))
	assert.Equal(t, int64(10), m.mustCall(t, "copied", 3))
}

func TestHeapGrowsOnDemand(t *testing.T) {
	cfg := cpu.DefaultConfig()
	cfg.HeapChunk = 4 << 10
	m := build(t, cfg,
		fn("churn", "g", 2, "(loop ((0 A0) (1 0)) (if (eq L0 0) L1 (continue (sub L0 1) (add L1 (field 1 (tuple L0 1 L1))))))"),
	)
	assert.Equal(t, int64(2000), m.mustCall(t, "churn", 2000))
	assert.Positive(t, m.HeapTraps)
}

func TestArbitraryPrecision(t *testing.T) {
	m := build(t, cpu.DefaultConfig(),
		fn("add", "g g", 1, "(let ((val 0 (lambda long :args (g g) :locals 0 :inline never -1))) (arb-add A0 A1 L0))"),
	)
	assert.Equal(t, int64(3), m.mustCall(t, "add", 1, 2))
	assert.Equal(t, int64(-1), m.mustCall(t, "add", ir.MaxTagged, 1), "overflow takes the long path")
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"float argument", fn("f", "d", 0, "A0")},
		{"compare bytes", fn("f", "g g", 0, "(block-op compare-bytes (@ A0 0 0) (@ A1 0 0) 1)")},
		{"float call", fn("f", "g", 0, "(call A0 (double 1))")},
		{"continue across handler", fn("f", "g", 2, "(loop ((0 A0)) (handle 1 (continue 0) 0))")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, err := irtext.ParseLambda(tc.src)
			require.NoError(t, err)

			prog := asm.NewProgram()
			res, err := Generate(l, prog)
			require.NoError(t, err)
			assert.Equal(t, NeedsFallback, res.Status)
			assert.ErrorIs(t, res.Reason, ErrNeedsFallback)
			assert.Empty(t, prog.Funcs)

			fb := &Deferred{}
			res, err = Compile(l, prog, fb)
			require.NoError(t, err)
			require.NotNil(t, res.Func)
			require.Len(t, fb.Pending(), 1)

			entry := Entry(prog, res)
			img, err := prog.Link()
			require.NoError(t, err)
			m, err := cpu.New(img, cpu.DefaultConfig())
			require.NoError(t, err)
			_, err = m.Call(img.Objects[entry], ir.Tag(1), ir.Tag(2))
			var fe *cpu.FallbackError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, int64(fb.Pending()[0].ID), fe.ID)
		})
	}
}

func TestInvariantErrors(t *testing.T) {
	for _, src := range []string{
		fn("f", "g", 0, "L3"),
		fn("f", "g", 0, "A4"),
		fn("f", "g", 0, "(continue 1)"),
	} {
		l, err := irtext.ParseLambda(src)
		require.NoError(t, err)
		_, err = Generate(l, asm.NewProgram())
		var ie *InvariantError
		assert.ErrorAs(t, err, &ie, src)
	}
}

func TestBookkeepingFailuresAreInvariants(t *testing.T) {
	caught := func(f func()) (ie *InvariantError) {
		defer func() {
			ie, _ = recover().(*InvariantError)
		}()
		f()
		return nil
	}

	var s stack
	s.grow(1)
	ie := caught(func() { s.shrink(2) })
	require.NotNil(t, ie, "stack underflow")
	assert.Contains(t, ie.Msg, "underflow")

	fr := newFrame()
	fr.EnterScope()
	fr.ExitScope()
	require.NotNil(t, caught(fr.ExitScope), "exit from the function scope")
}

// exprGen builds random expressions that cannot raise, over the
// arguments A0 and A1 and the locals bound around them.
type exprGen struct {
	seed   []int
	pos    int
	slots  int
	scope  []int
	budget int
}

func (b *exprGen) next(n int) int {
	v := b.seed[b.pos%len(b.seed)]
	b.pos++
	return v % n
}

var safeOps = []string{"wadd", "wsub", "wmul", "and", "or", "xor", "sar", "lt", "eq", "ule"}

func (b *exprGen) expr(depth int) string {
	b.budget--
	if depth == 0 || b.budget <= 0 {
		switch b.next(3) {
		case 0:
			return fmt.Sprint(b.next(41) - 20)
		case 1:
			return fmt.Sprintf("A%d", b.next(2))
		default:
			if len(b.scope) == 0 {
				return "A0"
			}
			return fmt.Sprintf("L%d", b.scope[b.next(len(b.scope))])
		}
	}
	switch b.next(5) {
	case 0, 1:
		return fmt.Sprintf("(%s %s %s)", safeOps[b.next(len(safeOps))], b.expr(depth-1), b.expr(depth-1))
	case 2:
		cmp := []string{"lt", "eq", "ule"}[b.next(3)]
		return fmt.Sprintf("(if (%s %s %s) %s %s)", cmp, b.expr(depth-1), b.expr(depth-1), b.expr(depth-1), b.expr(depth-1))
	case 3:
		s := b.slots
		b.slots++
		init := b.expr(depth - 1)
		b.scope = append(b.scope, s)
		body := b.expr(depth - 1)
		b.scope = b.scope[:len(b.scope)-1]
		return fmt.Sprintf("(let ((val %d %s)) %s)", s, init, body)
	default:
		return fmt.Sprintf("(field %d (tuple %s %s))", b.next(2), b.expr(depth-1), b.expr(depth-1))
	}
}

// Generated code computes what the interpreter computes.
func TestAgreesWithInterpreter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("random expressions", prop.ForAll(
		func(seed []int, a, b int64) bool {
			if len(seed) == 0 {
				return true
			}
			g := &exprGen{seed: seed, budget: 40}
			body := g.expr(4)
			src := fn("f", "g g", g.slots, body)
			l, err := irtext.ParseLambda(src)
			if err != nil {
				t.Logf("%s: %v", src, err)
				return false
			}
			want, err := (&interp.Interp{}).Eval(l.Body, ir.Int(a), ir.Int(b))
			if err != nil {
				t.Logf("%s: interp: %v", src, err)
				return false
			}
			m := build(t, cpu.DefaultConfig(), src)
			got, err := m.call(t, "f", a, b)
			if err != nil {
				t.Logf("%s: %v", src, err)
				return false
			}
			n, ok := want.(ir.Int)
			return ok && int64(n) == got
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(ir.MinTagged, ir.MaxTagged),
	))
	properties.TestingRun(t)
}
