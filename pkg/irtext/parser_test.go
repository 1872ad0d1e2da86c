package irtext

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlback/pkg/ir"
)

func TestLex(t *testing.T) {
	tokens, err := Lex("(add L0 -3) ; comment\n{1 2} :args")
	require.NoError(t, err)

	want := []TokenType{LPAREN, SYMBOL, SYMBOL, INTEGER, RPAREN, LBRACE, INTEGER, INTEGER, RBRACE, KEYWORD, EOF}
	got := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		got[i] = tok.Type
	}
	assert.Equal(t, want, got)
	assert.Equal(t, "-3", tokens[3].Lexeme)
	assert.Equal(t, 2, tokens[5].Line)
}

func TestLexErrors(t *testing.T) {
	for _, src := range []string{"(add 1 #)", ": x", "[1]"} {
		_, err := Lex(src)
		assert.Error(t, err, src)
	}
}

func TestParseNodes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ir.Expr
	}{
		{"Literal", "42", ir.Lit(42)},
		{"Negative", "-7", ir.Lit(-7)},
		{"Local", "L3", ir.LocalRef(3)},
		{"Self", "SELF", ir.SelfRef()},
		{"Binary", "(add A0 1)", &ir.Binary{Op: ir.Add, Left: ir.ArgRef(0), Right: ir.Lit(1)}},
		{"Unary", "(not C1)", &ir.Unary{Op: ir.NotBoolean, Arg: ir.ClosureRef(1)}},
		{"Tuple field", "(field 1 (tuple 1 2))", &ir.Field{Base: &ir.Tuple{Fields: []ir.Expr{ir.Lit(1), ir.Lit(2)}}, Index: 1}},
		{"If", "(if L0 1 0)", &ir.Cond{Test: ir.LocalRef(0), Then: ir.Lit(1), Else: ir.Lit(0)}},
		{"Raise", "(raise {1})", ir.RaiseOverflow()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want.String(), got.String())
		})
	}
}

func TestParseLambda(t *testing.T) {
	l, err := ParseLambda("(lambda f :args (g g d) :result d :locals 2 :inline maybe :closure (L1 A0) (add A0 C0))")
	require.NoError(t, err)

	assert.Equal(t, "f", l.Name)
	assert.Equal(t, []ir.ArgType{ir.General, ir.General, ir.Double}, l.ArgTypes)
	assert.Equal(t, ir.Double, l.Result)
	assert.Equal(t, 2, l.LocalCount)
	assert.Equal(t, ir.MaybeInline, l.Inline)
	assert.Equal(t, []ir.Var{ir.LocalVar(1), {Kind: ir.Argument, Index: 0}}, l.Closure)

	_, err = ParseLambda("(add 1 2)")
	assert.Error(t, err)
}

func TestParseBig(t *testing.T) {
	e, err := Parse("4611686018427387904")
	require.NoError(t, err)

	c, ok := e.(*ir.Constant)
	require.True(t, ok)
	b, ok := c.Value.(*ir.Big)
	require.True(t, ok, "2^62 does not fit a tagged word")
	assert.Equal(t, 0, b.V.Cmp(new(big.Int).Lsh(big.NewInt(1), 62)))

	e, err = Parse("4611686018427387903")
	require.NoError(t, err)
	assert.Equal(t, ir.Lit(ir.MaxTagged).String(), e.String())
}

// Every printed form must read back to the same tree.
func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"(lambda _ :args () :locals 0 :inline never 0)",
		"(call :result d L0 1 (double A1) (single 2))",
		"(let ((val 0 (add A0 1)) (do (store word (@ A1 0 8) L0)) (container 1 2 (set-container L1 2 (tuple 1 2)))) (cfield 0 L1))",
		"(let ((rec (0 (lambda even :args (g) :locals 0 :inline never :closure (L1) (call C0 A0))) (1 (lambda odd :args (g) :locals 0 :inline never :closure (L0) (call C0 A0))))) L0)",
		"(loop ((0 A0) (1 0)) (if (eq L0 0) L1 (continue (sub L0 1) (add L1 L0))))",
		"(handle 3 (raise {2}) L3)",
		"(case A0 (0 10) (2 12) (-1 9) (default 0))",
		"(tag-test 1 3 A0)",
		"(vfield 2 A0)",
		"(block-op move-bytes (@ A0 0 0) (@ A1 L2 16) 8)",
		"(load c32 (@ A0 1 -4))",
		"(alloc 3 64 0)",
		"(arb-add A0 1 C0)",
		"{1 {2 3} 4611686018427387904}",
		"(ptr-eq A0 A1)",
		"(clear-mutable L0)",
	}
	for _, in := range inputs {
		e, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, in, e.String())

		again, err := Parse(e.String())
		require.NoError(t, err)
		assert.Equal(t, e.String(), again.String())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		msg   string
	}{
		{"(frobnicate 1)", "unknown form"},
		{"(add 1", "expected"},
		{"X9", "unknown variable"},
		{"(case 1 (0 1))", "case without default"},
		{"(let ((bogus 1)) 0)", "unknown binding"},
		{"(load huge (@ A0 0 0))", "unknown access kind"},
		{"1 2", "after expression"},
		{"(lambda f :args (q) 0)", "unknown argument type"},
	}
	for _, tc := range tests {
		_, err := Parse(tc.input)
		require.Error(t, err, tc.input)
		assert.True(t, strings.Contains(err.Error(), tc.msg), "%q: %v", tc.input, err)
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("(") })
}

func TestParseUnit(t *testing.T) {
	fns, err := ParseUnit(`
; two functions
(lambda one :args () :locals 0 :inline never 1)
(lambda inc :args (g) :locals 0 :inline never (add A0 1))
`)
	require.NoError(t, err)
	require.Len(t, fns, 2)
	assert.Equal(t, "one", fns[0].Name)
	assert.Equal(t, 1, fns[1].Arity())

	_, err = ParseUnit("(lambda one :args () 1) (add 1 2)")
	assert.ErrorContains(t, err, "expected a lambda")

	fns, err = ParseUnit("")
	require.NoError(t, err)
	assert.Empty(t, fns)
}
