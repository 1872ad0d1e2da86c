package interp

import (
	"fmt"
	"strings"

	"mlback/pkg/ir"
)

// Value is a run-time value: ir.Int, *ir.Big, *Cell, *Closure or *Builtin.
type Value any

// Cell is a heap object. Word cells hold Words; byte cells (FlagBytes)
// hold Bytes, a multiple of eight long.
type Cell struct {
	Flags byte
	Words []Value
	Bytes []byte
}

// Mutable reports whether stores into the cell are allowed.
func (c *Cell) Mutable() bool { return c.Flags&ir.FlagMutable != 0 }

// Length is the cell length in words.
func (c *Cell) Length() int {
	if c.Flags&ir.FlagBytes != 0 {
		return len(c.Bytes) / 8
	}
	return len(c.Words)
}

// Closure is a function value: code plus captured variables.
type Closure struct {
	Fn  *ir.Lambda
	Env []Value
}

// Builtin is a host function callable from IR. Tests use builtins to
// observe evaluation order and to supply the long arbitrary-precision path.
type Builtin struct {
	Name  string
	Arity int
	Fn    func(args []Value) (Value, error)
}

// FromConstant converts a literal to a run-time value. Blocks become
// immutable cells.
func FromConstant(v ir.Value) Value {
	switch x := v.(type) {
	case ir.Int, *ir.Big:
		return x
	case *ir.Block:
		ws := make([]Value, len(x.Fields))
		for i, f := range x.Fields {
			ws[i] = FromConstant(f)
		}
		return &Cell{Words: ws}
	}
	panic(fmt.Sprintf("interp: unknown constant %T", v))
}

// Equal compares values structurally. Cells compare by contents,
// functions by identity.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case ir.Int:
		y, ok := b.(ir.Int)
		return ok && x == y
	case *ir.Big:
		y, ok := b.(*ir.Big)
		return ok && x.V.Cmp(y.V) == 0
	case *Cell:
		y, ok := b.(*Cell)
		if !ok || x.Flags&ir.FlagBytes != y.Flags&ir.FlagBytes {
			return false
		}
		if x == y {
			return true
		}
		if x.Flags&ir.FlagBytes != 0 {
			return string(x.Bytes) == string(y.Bytes)
		}
		if len(x.Words) != len(y.Words) {
			return false
		}
		for i := range x.Words {
			if !Equal(x.Words[i], y.Words[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// Format prints a value in the constant syntax of the text IR.
func Format(v Value) string {
	var b strings.Builder
	format(&b, v)
	return b.String()
}

func format(b *strings.Builder, v Value) {
	switch x := v.(type) {
	case ir.Int, *ir.Big:
		b.WriteString(ir.FormatValue(x.(ir.Value)))
	case *Cell:
		if x.Flags&ir.FlagBytes != 0 {
			fmt.Fprintf(b, "#bytes%q", x.Bytes)
			return
		}
		b.WriteByte('{')
		for i, w := range x.Words {
			if i > 0 {
				b.WriteByte(' ')
			}
			format(b, w)
		}
		b.WriteByte('}')
	case *Closure:
		name := x.Fn.Name
		if name == "" {
			name = "_"
		}
		fmt.Fprintf(b, "#fn<%s>", name)
	case *Builtin:
		fmt.Fprintf(b, "#builtin<%s>", x.Name)
	case nil:
		b.WriteString("#unset")
	default:
		fmt.Fprintf(b, "#?%T", v)
	}
}

// Raised is the error returned when evaluation ends in an uncaught raise.
type Raised struct {
	Packet Value
}

func (r *Raised) Error() string { return "interp: uncaught exception " + Format(r.Packet) }

// Is lets errors.Is match two raises of equal packets.
func (r *Raised) Is(target error) bool {
	t, ok := target.(*Raised)
	return ok && Equal(r.Packet, t.Packet)
}

// Error reports a malformed program: a type confusion, an unbound slot,
// an arity mismatch. Well-formed IR never produces one.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "interp: " + e.Msg }

func errorf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}
