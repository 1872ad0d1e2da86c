package codegen

import (
	"fmt"

	"mlback/pkg/asm"
	"mlback/pkg/ir"
)

// unsupported aborts generation of the current function.
type unsupported string

const (
	stubArgType       unsupported = "non-general argument or result type"
	stubCompareBytes  unsupported = "byte block comparison"
	stubContinueFrame unsupported = "continue across an exception handler"
	stubOffset        unsupported = "immediate offset out of range"
	stubFrameSize     unsupported = "frame too large for the stack check"
)

func (g *generator) unsupported(s unsupported) {
	panic(s)
}

func (g *generator) checkArgTypes(ts []ir.ArgType, result ir.ArgType) {
	if result != ir.General {
		g.unsupported(stubArgType)
	}
	for _, t := range ts {
		if t != ir.General {
			g.unsupported(stubArgType)
		}
	}
}

// offset checks that off is encodable for an access of width bytes.
func (g *generator) offset(width int, off int64) int64 {
	if !asm.FitsOffset(width, off) {
		g.unsupported(stubOffset)
	}
	return off
}

func (g *generator) invariant(format string, args ...any) {
	panic(&InvariantError{Func: g.fn.Name, Msg: fmt.Sprintf(format, args...)})
}
