package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlback/pkg/codegen"
	"mlback/pkg/cpu"
	"mlback/pkg/ir"
	"mlback/pkg/irtext"
)

const unitSource = `
(lambda sum :args (g g) :locals 0 :inline never
  (if (eq A0 0) A1 (call SELF (sub A0 1) (add A1 A0))))

(lambda seven :args () :locals 2 :inline never
  (let ((val 0 (lambda inc :args (g) :locals 0 :inline maybe (add A0 1)))
        (val 1 (tuple 3 4)))
    (call L0 (add (field 0 L1) 2))))

(lambda float :args (d) :locals 0 :inline never A0)
`

func parseUnit(t *testing.T) Unit {
	t.Helper()
	fns, err := irtext.ParseUnit(unitSource)
	require.NoError(t, err)
	return Unit{Name: "test", Funcs: fns}
}

func run(t *testing.T, out *Output, name string, args ...int64) (int64, error) {
	t.Helper()
	img, err := out.Link()
	require.NoError(t, err)
	m, err := cpu.New(img, cpu.DefaultConfig())
	require.NoError(t, err)
	words := make([]uint64, len(args))
	for i, a := range args {
		words[i] = ir.Tag(a)
	}
	w, err := m.Call(img.Objects[out.Entries[name]], words...)
	return ir.Untag(w), err
}

func TestCompileUnit(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	out, err := CompileUnit(context.Background(), parseUnit(t), Options{Logger: logger})
	require.NoError(t, err)
	require.Len(t, out.Reports, 3)

	assert.Equal(t, codegen.Generated, out.Reports[0].Status)
	assert.Equal(t, codegen.Generated, out.Reports[1].Status)
	assert.Equal(t, codegen.NeedsFallback, out.Reports[2].Status)
	assert.Positive(t, out.Reports[1].Passes)
	require.NotNil(t, out.Deferred)
	assert.Len(t, out.Deferred.Pending(), 1)

	got, err := run(t, out, "sum", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5050), got)

	got, err = run(t, out, "seven")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)

	_, err = run(t, out, "float", 1)
	var fe *cpu.FallbackError
	assert.ErrorAs(t, err, &fe)

	assert.Contains(t, logs.String(), "unit compiled")
	assert.Contains(t, logs.String(), "routed to fallback")
	assert.Contains(t, logs.String(), out.ID.String())
}

func TestInlining(t *testing.T) {
	out, err := CompileUnit(context.Background(), parseUnit(t), Options{})
	require.NoError(t, err)
	assert.NotContains(t, out.Reports[1].Simplified.String(), "lambda inc", "a small function used once is inlined")

	out, err = CompileUnit(context.Background(), parseUnit(t), Options{NoSimplify: true})
	require.NoError(t, err)
	assert.Contains(t, out.Reports[1].Simplified.String(), "lambda inc")
	got, err := run(t, out, "seven")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)
}

func TestParallelIsDeterministic(t *testing.T) {
	listing := func(parallel int) string {
		out, err := CompileUnit(context.Background(), parseUnit(t), Options{Parallel: parallel})
		require.NoError(t, err)
		var sb strings.Builder
		for _, f := range out.Program.Funcs {
			sb.WriteString(f.Listing())
		}
		return sb.String()
	}
	assert.Equal(t, listing(1), listing(4))
}

func TestNoFallback(t *testing.T) {
	_, err := CompileUnit(context.Background(), parseUnit(t), Options{NoFallback: true, Parallel: 2})
	assert.ErrorIs(t, err, ErrFallbackDisabled)
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CompileUnit(ctx, parseUnit(t), Options{})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestFreeVariables(t *testing.T) {
	l, err := irtext.ParseLambda("(lambda f :args () :locals 0 :inline never :closure (L0) C0)")
	require.NoError(t, err)
	_, err = CompileUnit(context.Background(), Unit{Name: "bad", Funcs: []*ir.Lambda{l}}, Options{})
	assert.ErrorContains(t, err, "free variables")
}
