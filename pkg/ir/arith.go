package ir

import "math/big"

const mask63 = 1<<63 - 1

// wrap63 truncates n to the 63-bit word range.
func wrap63(n int64) int64 { return n << 1 >> 1 }

// EvalBinary computes op on two tagged integers the way generated code
// does. exn is zero on success, ExnOverflow or ExnDiv when the operation
// raises instead of producing a result.
//
// Word operations work modulo 2^63; unsigned operations view the 63-bit
// pattern as unsigned. Shift amounts are taken modulo 64.
func EvalBinary(op BinaryOp, a, b int64) (r int64, exn int64) {
	switch op {
	case Add, Sub, Mul:
		x, y := big.NewInt(a), big.NewInt(b)
		switch op {
		case Add:
			x.Add(x, y)
		case Sub:
			x.Sub(x, y)
		default:
			x.Mul(x, y)
		}
		if !x.IsInt64() || !Tagable(x.Int64()) {
			return 0, ExnOverflow
		}
		return x.Int64(), 0
	case Quot:
		if b == 0 {
			return 0, ExnDiv
		}
		if q := a / b; Tagable(q) {
			return q, 0
		}
		return 0, ExnOverflow
	case Rem:
		if b == 0 {
			return 0, ExnDiv
		}
		return a % b, 0

	case WordAdd:
		return wrap63(a + b), 0
	case WordSub:
		return wrap63(a - b), 0
	case WordMul:
		return wrap63(a * b), 0
	case WordDiv, WordMod:
		ua, ub := uint64(a)&mask63, uint64(b)&mask63
		if ub == 0 {
			return 0, ExnDiv
		}
		if op == WordDiv {
			return wrap63(int64(ua / ub)), 0
		}
		return wrap63(int64(ua % ub)), 0

	case And:
		return a & b, 0
	case Or:
		return a | b, 0
	case Xor:
		return a ^ b, 0
	case Shl:
		return wrap63(a << (uint64(b) & 63)), 0
	case Shr:
		return wrap63(int64((uint64(a) & mask63) >> (uint64(b) & 63))), 0
	case Sar:
		return a >> (uint64(b) & 63), 0
	}
	return boolInt(Compare(op, a, b)), 0
}

// Compare evaluates a comparison operator on two tagged integers.
func Compare(op BinaryOp, a, b int64) bool {
	ua, ub := uint64(a)&mask63, uint64(b)&mask63
	switch op {
	case Eq, PtrEq:
		return a == b
	case Ne:
		return a != b
	case Lt:
		return a < b
	case Le:
		return a <= b
	case Gt:
		return a > b
	case Ge:
		return a >= b
	case ULt:
		return ua < ub
	case ULe:
		return ua <= ub
	case UGt:
		return ua > ub
	case UGe:
		return ua >= ub
	}
	panic("ir: not a comparison: " + op.String())
}

func boolInt(b bool) int64 {
	if b {
		return int64(True)
	}
	return int64(False)
}

// EvalArbitrary computes an arbitrary-precision operation exactly.
func EvalArbitrary(op ArbOp, a, b *big.Int) Value {
	r := new(big.Int)
	switch op {
	case ArbAdd:
		return NewBig(r.Add(a, b))
	case ArbSub:
		return NewBig(r.Sub(a, b))
	case ArbMul:
		return NewBig(r.Mul(a, b))
	}
	c := a.Cmp(b)
	var res bool
	switch op {
	case ArbEq:
		res = c == 0
	case ArbLt:
		res = c < 0
	case ArbLe:
		res = c <= 0
	case ArbGt:
		res = c > 0
	default:
		res = c >= 0
	}
	return Int(boolInt(res))
}

// PacketFor returns the well-known packet of an arithmetic exception.
func PacketFor(exn int64) *Block {
	if exn == ExnDiv {
		return DivPacket
	}
	return OverflowPacket
}
