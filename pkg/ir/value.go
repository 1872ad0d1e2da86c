package ir

import (
	"math/big"
)

// Tagged integers carry one marker bit, so a 64-bit word holds 63 bits.
const (
	MaxTagged int64 = 1<<62 - 1
	MinTagged int64 = -1 << 62
)

// Value is the payload of a Constant.
type Value interface {
	value()
}

// Int is a small integer held as a tagged word.
type Int int64

// Big is an arbitrary-precision literal outside the tagged range. Use
// NewBig, which returns an Int when the value fits.
type Big struct {
	V *big.Int
}

// Block is an immutable literal tuple.
type Block struct {
	Fields []Value
}

func (Int) value()    {}
func (*Big) value()   {}
func (*Block) value() {}

const (
	False Int = 0
	True  Int = 1
)

// Tagable reports whether n fits a tagged word.
func Tagable(n int64) bool { return n >= MinTagged && n <= MaxTagged }

// Tag returns the machine word representing the tagged integer n.
func Tag(n int64) uint64 { return uint64(n)<<1 | 1 }

// Untag recovers the integer from a tagged word.
func Untag(w uint64) int64 { return int64(w) >> 1 }

// NewBig normalises an arbitrary-precision value.
func NewBig(v *big.Int) Value {
	if v.IsInt64() && Tagable(v.Int64()) {
		return Int(v.Int64())
	}
	return &Big{V: new(big.Int).Set(v)}
}

// BigOf widens a Value to a big.Int when it is numeric.
func BigOf(v Value) (*big.Int, bool) {
	switch n := v.(type) {
	case Int:
		return big.NewInt(int64(n)), true
	case *Big:
		return n.V, true
	}
	return nil, false
}

// Exception identifiers of the packets the back end raises by itself.
const (
	ExnOverflow int64 = 1
	ExnDiv      int64 = 2
)

var (
	// OverflowPacket is raised by fixed-precision arithmetic that leaves
	// the tagged range.
	OverflowPacket = &Block{Fields: []Value{Int(ExnOverflow)}}
	// DivPacket is raised by division or remainder by zero.
	DivPacket = &Block{Fields: []Value{Int(ExnDiv)}}
)

// RaiseOverflow builds the deferred raise used when folding overflows.
func RaiseOverflow() *Raise { return &Raise{Packet: &Constant{Value: OverflowPacket}} }

// RaiseDiv builds the deferred raise used when folding divides by zero.
func RaiseDiv() *Raise { return &Raise{Packet: &Constant{Value: DivPacket}} }

// EqualValues compares two constant values structurally.
func EqualValues(a, b Value) bool {
	switch x := a.(type) {
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case *Big:
		y, ok := b.(*Big)
		return ok && x.V.Cmp(y.V) == 0
	case *Block:
		y, ok := b.(*Block)
		if !ok || len(x.Fields) != len(y.Fields) {
			return false
		}
		for i := range x.Fields {
			if !EqualValues(x.Fields[i], y.Fields[i]) {
				return false
			}
		}
		return true
	}
	return false
}
