package simplify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mlback/pkg/irtext"
)

func clean(src string) string {
	e := irtext.MustParse(src)
	return DeadBindings{}.Clean(e, CountUsage(e), nil, 0).String()
}

func TestCountUsage(t *testing.T) {
	e := irtext.MustParse("(let ((val 0 A0) (val 1 (lambda f :args () :locals 0 :inline never :closure (L0 L0) (add C0 C1)))) (tuple L0 L1))")
	u := CountUsage(e)
	assert.Equal(t, 3, u[0])
	assert.Equal(t, 1, u[1])
}

func TestDeadBindings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Chain", "(let ((val 0 (wadd A0 1)) (val 1 (call A0 2)) (val 2 L0)) 3)", "(let ((val 1 (call A0 2))) 3)"},
		{"Pure effect", "(let ((do (eq A0 A1)) (do (call A0 1))) 0)", "(let ((do (call A0 1))) 0)"},
		{"Raising value kept", "(let ((val 0 (add A0 1))) 0)", "(let ((val 0 (add A0 1))) 0)"},
		{"Empty let", "(let ((val 0 A1)) A0)", "A0"},
		{"Nested lambda", "(lambda f :args (g) :locals 1 :inline never (let ((val 0 (tuple A0))) A0))",
			"(lambda f :args (g) :locals 1 :inline never A0)"},
		{"Unreachable group members", `(let ((rec
		  (0 (lambda a :args (g) :locals 0 :inline never :closure (L1) (call C0 A0)))
		  (1 (lambda b :args (g) :locals 0 :inline never :closure (L0) (call C0 A0)))
		  (2 (lambda c :args (g) :locals 0 :inline never A0))))
		  (call L2 1))`,
			"(let ((rec (2 (lambda c :args (g) :locals 0 :inline never A0)))) (call L2 1))"},
		{"Reached through closure", `(let ((rec
		  (0 (lambda a :args (g) :locals 0 :inline never :closure (L1) (call C0 A0)))
		  (1 (lambda b :args (g) :locals 0 :inline never A0))))
		  (call L0 1))`,
			"(let ((rec (0 (lambda a :args (g) :locals 0 :inline never :closure (L1) (call C0 A0))) (1 (lambda b :args (g) :locals 0 :inline never A0)))) (call L0 1))"},
		{"Filled only", "(let ((container 0 2 (set-container L0 2 (tuple A0 A1)))) A1)", "A1"},
		{"Container read", "(let ((container 0 2 (set-container L0 2 (tuple A0 A1)))) (cfield 0 L0))",
			"(let ((container 0 2 (set-container L0 2 (tuple A0 A1)))) (cfield 0 L0))"},
		{"Container setter has effects", "(let ((container 0 1 (set-container L0 1 (tuple (call A0 1))))) 0)",
			"(let ((container 0 1 (set-container L0 1 (tuple (call A0 1))))) 0)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, clean(tc.input))
		})
	}
}

func TestCleanRemap(t *testing.T) {
	e := irtext.MustParse("(let ((val 4 (call A0 1))) (tuple L4))")
	out := DeadBindings{}.Clean(e, CountUsage(e), func(s int) int { return s - 4 }, 5)
	assert.Equal(t, "(let ((val 0 (call A0 1))) (tuple L0))", out.String())
}
