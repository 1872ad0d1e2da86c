package simplify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlback/pkg/ir"
	"mlback/pkg/irtext"
)

func once(t *testing.T, src string, locals int) Outcome {
	t.Helper()
	out, err := Simplify(irtext.MustParse(src), locals, 10)
	require.NoError(t, err, src)
	return out
}

type rewriteCase struct {
	name   string
	input  string
	locals int
	want   string
}

func runRewrites(t *testing.T, tests []rewriteCase) {
	t.Helper()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := once(t, tc.input, tc.locals)
			assert.Equal(t, tc.want, out.Expr().String())
		})
	}
}

func TestFolding(t *testing.T) {
	runRewrites(t, []rewriteCase{
		{"Add", "(add 3 4)", 0, "7"},
		{"Overflow", "(add 4611686018427387903 1)", 0, "(raise {1})"},
		{"Div by zero", "(rem 7 0)", 0, "(raise {2})"},
		{"Word wraps", "(wadd 4611686018427387903 1)", 0, "-4611686018427387904"},
		{"Compare", "(lt 1 2)", 0, "1"},
		{"Nested", "(mul (sub 10 4) (add 1 1))", 0, "12"},
		{"Same variable", "(eq A0 A0)", 0, "1"},
		{"Not literal", "(not 0)", 0, "1"},
		{"Double negation", "(not (not (eq A0 A1)))", 0, "(eq A0 A1)"},
		{"Is tagged", "(is-tagged 5)", 0, "1"},
		{"Cell length", "(cell-length {1 2 3})", 0, "3"},
		{"Tag test", "(tag-test 2 3 2)", 0, "1"},
		{"Literal case", "(case 2 (1 10) (2 20) (default 0))", 0, "20"},
		{"Literal case default", "(case 5 (1 10) (default 0))", 0, "0"},
		{"Block field", "(field 1 {7 8})", 0, "8"},
	})
}

func TestCopyPropagation(t *testing.T) {
	runRewrites(t, []rewriteCase{
		{"Variables", "(let ((val 0 A0) (val 1 L0)) (add L1 1))", 2, "(add A0 1)"},
		{"Constants", "(let ((val 0 3) (val 1 (add L0 L0))) (mul L1 2))", 2, "12"},
		{"Flatten", "(let ((val 0 (let ((val 1 (call A0 1))) L1))) (tuple L0 L0))", 2,
			"(let ((val 1 (call A0 1))) (tuple L1 L1))"},
	})
}

func TestCommonSubexpressions(t *testing.T) {
	runRewrites(t, []rewriteCase{
		{"Commuted", "(let ((val 0 (wadd A0 A1)) (val 1 (wadd A1 A0))) (tuple L0 L1))", 2,
			"(let ((val 0 (wadd A0 A1))) (tuple L0 L0))"},
		{"Not across arms", "(if A2 (let ((val 0 (xor A0 A1))) L0) (let ((val 1 (xor A0 A1))) L1))", 2,
			"(if A2 (let ((val 0 (xor A0 A1))) L0) (let ((val 1 (xor A0 A1))) L1))"},
		{"Raising ops are not shared", "(let ((val 0 (add A0 A1)) (val 1 (add A0 A1))) (tuple L0 L1))", 2,
			"(let ((val 0 (add A0 A1)) (val 1 (add A0 A1))) (tuple L0 L1))"},
	})
}

func TestConditionals(t *testing.T) {
	runRewrites(t, []rewriteCase{
		{"Literal test", "(if 1 A0 A1)", 0, "A0"},
		{"Then true else false", "(if A0 1 0)", 0, "A0"},
		{"Then false else true", "(if A0 0 1)", 0, "(not A0)"},
		{"Equal arms", "(if (eq A0 A1) 5 5)", 0, "5"},
		{"Equal arms keep effects", "(if (call A0 1) 5 5)", 0, "(let ((do (call A0 1))) 5)"},
		{"Negated test", "(if (not (lt A0 A1)) 1 2)", 0, "(if (lt A0 A1) 2 1)"},
		{"Negated shape", "(let ((val 0 (not A0))) (if L0 1 2))", 1, "(let ((val 0 (not A0))) (if A0 2 1))"},
		{"Raising arm", "(if A1 (raise {1}) (add A0 1))", 0, "(let ((do (if A1 (raise {1}) 0))) (add A0 1))"},
		{"Raising else", "(if A1 (wadd A0 1) (raise {2}))", 0, "(let ((do (if A1 0 (raise {2})))) (wadd A0 1))"},
		{"Same case arms", "(case A0 (1 5) (1 6) (2 5) (default 5))", 0, "5"},
		{"Duplicate tags", "(case A0 (1 5) (1 6) (default 7))", 0, "(case A0 (1 5) (default 7))"},
	})

	// A compound test is bound first, so the guard still leaves the other
	// arm in tail position.
	out := once(t, "(if (lt A0 A1) (raise {1}) (add A0 1))", 0)
	got := out.Expr().String()
	assert.True(t, strings.HasPrefix(got, "(let ("), got)
	assert.True(t, strings.HasSuffix(got, ") (add A0 1))"), got)
	assert.Contains(t, got, "(lt A0 A1)")
	assert.Contains(t, got, "(raise {1}) 0)")
}

func TestTuples(t *testing.T) {
	runRewrites(t, []rewriteCase{
		{"Projection binds fields in order", "(field 1 (tuple (call A0 1) (call A0 2) 3))", 0,
			"(let ((val 0 (call A0 1)) (val 1 (call A0 2))) L1)"},
		{"Literal tuple", "(tuple 1 (add 1 1) 3)", 0, "{1 2 3}"},
		{"Known tuple", "(let ((val 0 (tuple A0 A1))) (field 0 L0))", 1, "(let ((val 0 (tuple A0 A1))) A0)"},
		{"Container", "(let ((container 0 2 (set-container L0 2 (tuple A0 A1)))) (cfield 1 L0))", 1,
			"(let ((container 0 2 (set-container L0 2 (tuple A0 A1)))) A1)"},
	})
}

func TestHandlers(t *testing.T) {
	runRewrites(t, []rewriteCase{
		{"Known raise", "(handle 0 (raise {5}) (field 0 L0))", 1, "5"},
		{"Cannot raise", "(handle 0 (wadd A0 1) 9)", 1, "(wadd A0 1)"},
		{"Kept", "(handle 0 (add A0 1) 9)", 1, "(handle 0 (add A0 1) 9)"},
	})
}

func TestArbitraryPrecision(t *testing.T) {
	runRewrites(t, []rewriteCase{
		{"Constants", "(arb-add 2 3 A0)", 0, "5"},
		{"Constants beyond tagged range", "(arb-add 4611686018427387903 1 A0)", 0, "4611686018427387904"},
		{"Compare small literal", "(arb-lt A1 5 A0)", 0, "(if (is-tagged A1) (lt A1 5) (call A0 A1 5))"},
		{"Add small literal", "(arb-add A1 1 A0)", 0,
			"(if (is-tagged A1) (if (le A1 4611686018427387902) (add A1 1) (call A0 A1 1)) (call A0 A1 1))"},
		{"Equal to boxed literal", "(arb-eq A1 4611686018427387904 A0)", 0,
			"(if (is-tagged A1) 0 (call A0 A1 4611686018427387904))"},
		{"Multiply stays", "(arb-mul A1 3 A0)", 0, "(arb-mul A1 3 A0)"},
	})
}

func TestInline(t *testing.T) {
	out := once(t, "(let ((val 0 (lambda inc :args (g) :locals 0 :inline maybe (add A0 1)))) (call L0 A1))", 1)
	assert.Equal(t, "(let ((val 0 (lambda inc :args (g) :locals 0 :inline small (add A0 1)))) (add A1 1))", out.Expr().String())
	assert.True(t, out.Reprocess)

	// The callee's locals are moved past the caller's.
	out = once(t, "(let ((val 0 (lambda f :args (g) :locals 1 :inline maybe (let ((val 0 (call A0 1))) (tuple L0 L0))))) (call L0 A1))", 1)
	assert.Equal(t, 2, out.LocalCount)
	assert.Contains(t, out.Expr().String(), "(val 1 (call A1 1))) (tuple L1 L1))")
}

func TestInlineThreshold(t *testing.T) {
	src := "(let ((val 0 (lambda f :args (g) :locals 0 :inline maybe (tuple A0 A0 A0 A0 A0 A0 A0 A0 A0 A0)))) (call L0 1))"
	out, err := Simplify(irtext.MustParse(src), 1, 5)
	require.NoError(t, err)
	assert.Contains(t, out.Expr().String(), ":inline maybe")
	assert.Contains(t, out.Expr().String(), "(call L0 1)")
	assert.False(t, out.Reprocess)

	// A function already found small is withdrawn once it outgrows ten
	// times the threshold.
	src = "(lambda f :args (g) :locals 0 :inline small (tuple A0 A0 A0 A0 A0 A0 A0 A0 A0 A0))"
	out, err = Simplify(irtext.MustParse(src), 0, 1)
	require.NoError(t, err)
	assert.Contains(t, out.Expr().String(), ":inline never")
}

func TestInlineContainment(t *testing.T) {
	apply := "(lambda apply :args (g) :locals 0 :inline maybe (call A0 1))"
	tests := []struct {
		name  string
		input string
	}{
		{"Self as argument", "(let ((val 0 " + apply + ")) (call L0 L0))"},
		{"Captured by argument", "(let ((val 0 " + apply + ") (val 1 (lambda g :args (g) :locals 0 :inline never :closure (L0) (tuple C0 A0)))) (call L0 L1))"},
		{"Inside a tuple", "(let ((val 0 " + apply + ")) (call L0 (tuple 1 L0)))"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := once(t, tc.input, 2)
			assert.Contains(t, out.Expr().String(), "(call L0 ")
			assert.False(t, out.Reprocess)
		})
	}

	t.Run("Captured function applied to itself", func(t *testing.T) {
		out := once(t, "(let ((val 0 "+apply+")) (lambda outer :args () :locals 0 :inline never :closure (L0) (call C0 C0)))", 1)
		assert.Contains(t, out.Expr().String(), "(call C0 C0)")
		assert.False(t, out.Reprocess)
	})
}

func TestSelfReferenceNotInlined(t *testing.T) {
	out := once(t, "(let ((val 0 (lambda f :args (g) :locals 0 :inline maybe (call SELF A0)))) (call L0 1))", 1)
	assert.Contains(t, out.Expr().String(), "(call L0 1)")
	assert.False(t, out.Reprocess)
}

func TestRecursiveGroupStaysCall(t *testing.T) {
	src := `(let ((rec
	  (0 (lambda even :args (g) :locals 0 :inline maybe :closure (L1) (if (eq A0 0) 1 (call C0 (sub A0 1)))))
	  (1 (lambda odd :args (g) :locals 0 :inline maybe :closure (L0) (if (eq A0 0) 0 (call C0 (sub A0 1)))))))
	  (call L0 4))`
	out := once(t, src, 2)
	assert.Contains(t, out.Expr().String(), "(call L0 4)")
	assert.False(t, out.Reprocess)
}

func TestClosureConstants(t *testing.T) {
	out := once(t, "(let ((val 0 7)) (lambda f :args (g) :locals 0 :inline never :closure (L0 A1) (add A0 C0)))", 1)
	assert.Equal(t, "(lambda f :args (g) :locals 0 :inline never (add A0 7))", out.Expr().String())
}

func TestLoops(t *testing.T) {
	runRewrites(t, []rewriteCase{
		{"Runs once", "(loop ((0 0)) (if (eq L0 0) 7 (continue (add L0 1))))", 1, "7"},
		{"Invariant argument", "(loop ((0 A0) (1 10) (2 0)) (if (eq L1 0) L2 (continue L0 (sub L1 1) (add L2 L0))))", 3,
			"(let ((val 0 A0)) (loop ((1 10) (2 0)) (if (eq L1 0) L2 (continue (sub L1 1) (add L2 L0)))))"},
		{"No back-edge", "(loop ((0 A0)) (add L0 1))", 1, "(add A0 1)"},
	})

	out := once(t, "(loop ((0 A0) (1 10)) (if (eq L1 0) L0 (continue L0 (sub L1 1))))", 2)
	assert.True(t, out.Reprocess, "hoisting asks for another pass")
}

func TestInvariantViolations(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		locals int
	}{
		{"Unbound slot", "(add L5 1)", 6},
		{"Arity", "(let ((val 0 (lambda f :args (g) :locals 0 :inline maybe A0))) (call L0 1 2))", 1},
		{"Container size", "(let ((container 0 2 (set-container L0 3 (tuple 1 2 3)))) 0)", 1},
		{"Empty container", "(let ((container 0 0 0)) 0)", 1},
		{"Continue outside loop", "(continue 1)", 0},
		{"Continue arity", "(loop ((0 A0)) (if A1 L0 (continue 1 2)))", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Simplify(irtext.MustParse(tc.input), tc.locals, 10)
			require.Error(t, err)
			assert.True(t, IsInvariant(err), "%v", err)
		})
	}
}

func TestForwardInnerContainer(t *testing.T) {
	src := "(let ((container 0 2 (let ((container 1 2 (set-container L1 2 (call A0 1)))) (set-container L0 2 L1)))) (cfield 0 L0))"
	out := once(t, src, 2)
	assert.Equal(t, "(let ((container 0 2 (let ((do (set-container L0 2 (call A0 1)))) 0))) (cfield 0 L0))", out.Expr().String())
	assert.True(t, out.Reprocess)
}

func TestKnownTupleFillsContainer(t *testing.T) {
	src := "(let ((val 0 (tuple A0 A1)) (container 1 2 (set-container L1 2 L0))) (cfield 1 L1))"
	out := once(t, src, 2)
	assert.Equal(t, "(let ((val 0 (tuple A0 A1)) (container 1 2 (set-container L1 2 (tuple A0 A1)))) A1)", out.Expr().String())
	assert.True(t, out.Reprocess)
}

func TestRun(t *testing.T) {
	res, err := Run(irtext.MustParse("(let ((val 0 (lambda inc :args (g) :locals 0 :inline maybe (add A0 1)))) (call L0 A1))"), 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, "(add A1 1)", res.Expr.String())
	assert.Equal(t, 2, res.Passes)
	assert.True(t, res.Quiescent)

	res, err = Run(irtext.MustParse("(add 1 2)"), 0, Options{MaxPasses: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Passes)
	assert.True(t, res.Quiescent)

	_, err = Run(irtext.MustParse("L3"), 1, Options{})
	assert.True(t, IsInvariant(err))
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunContext(ctx, irtext.MustParse("(add A0 1)"), 0, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStopsAtMaxPasses(t *testing.T) {
	res, err := Run(irtext.MustParse("(let ((val 0 (lambda inc :args (g) :locals 0 :inline maybe (add A0 1)))) (call L0 A1))"), 1, Options{MaxPasses: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Passes)
	assert.False(t, res.Quiescent)
}

type countingCleaner struct {
	calls int
}

func (c *countingCleaner) Clean(body ir.Expr, usage Usage, remap func(int) int, localCount int) ir.Expr {
	c.calls++
	return DeadBindings{}.Clean(body, usage, remap, localCount)
}

func TestCleanerIsUsed(t *testing.T) {
	cl := &countingCleaner{}
	_, err := Simplify(irtext.MustParse("(lambda f :args (g) :locals 0 :inline maybe A0)"), 0, 10, WithCleaner(cl))
	require.NoError(t, err)
	assert.Equal(t, 1, cl.calls)

	res, err := Run(irtext.MustParse("(add A0 1)"), 0, Options{Cleaner: cl})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Passes)
	assert.Equal(t, 2, cl.calls)
}
