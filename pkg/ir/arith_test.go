package ir

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalBinary(t *testing.T) {
	tests := []struct {
		name string
		op   BinaryOp
		a, b int64
		want int64
		exn  int64
	}{
		{"add", Add, 40, 2, 42, 0},
		{"add overflows", Add, MaxTagged, 1, 0, ExnOverflow},
		{"sub overflows", Sub, MinTagged, 1, 0, ExnOverflow},
		{"mul overflows", Mul, MaxTagged, 2, 0, ExnOverflow},
		{"quot truncates", Quot, -7, 2, -3, 0},
		{"quot by zero", Quot, 7, 0, 0, ExnDiv},
		{"quot overflows", Quot, MinTagged, -1, 0, ExnOverflow},
		{"rem sign follows dividend", Rem, -7, 2, -1, 0},
		{"rem by zero", Rem, 7, 0, 0, ExnDiv},
		{"word add wraps", WordAdd, MaxTagged, 1, MinTagged, 0},
		{"word sub wraps", WordSub, MinTagged, 1, MaxTagged, 0},
		{"word div is unsigned", WordDiv, -1, MaxTagged, 2, 0},
		{"word mod by zero", WordMod, 1, 0, 0, ExnDiv},
		{"and", And, 12, 10, 8, 0},
		{"xor", Xor, 12, 10, 6, 0},
		{"shl", Shl, 3, 4, 48, 0},
		{"shr is logical", Shr, -1, 1, MaxTagged, 0},
		{"sar keeps sign", Sar, -8, 1, -4, 0},
		{"lt", Lt, -1, 0, 1, 0},
		{"ult sees negatives as large", ULt, -1, 0, 0, 0},
		{"ge", Ge, 3, 3, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, exn := EvalBinary(tt.op, tt.a, tt.b)
			assert.Equal(t, tt.exn, exn)
			if tt.exn == 0 {
				assert.Equal(t, tt.want, got)
				assert.True(t, Tagable(got))
			}
		})
	}
}

func TestEvalArbitrary(t *testing.T) {
	top := big.NewInt(MaxTagged)
	one := big.NewInt(1)

	sum := EvalArbitrary(ArbAdd, top, one)
	b, ok := sum.(*Big)
	require.True(t, ok, "leaving the tagged range gives a Big")
	assert.Equal(t, "4611686018427387904", b.V.String())
	assert.Equal(t, Int(MaxTagged), EvalArbitrary(ArbSub, b.V, one), "back in range normalises to Int")
	assert.Equal(t, True, EvalArbitrary(ArbLt, top, b.V))
	assert.Equal(t, False, EvalArbitrary(ArbEq, top, b.V))
}

func TestTagging(t *testing.T) {
	for _, n := range []int64{0, 1, -1, MaxTagged, MinTagged} {
		w := Tag(n)
		assert.Equal(t, uint64(1), w&1)
		assert.Equal(t, n, Untag(w))
	}
	assert.False(t, Tagable(MaxTagged+1))
	assert.False(t, Tagable(MinTagged-1))
}

func TestValues(t *testing.T) {
	assert.True(t, EqualValues(&Block{Fields: []Value{Int(1), Int(2)}}, &Block{Fields: []Value{Int(1), Int(2)}}))
	assert.False(t, EqualValues(&Block{Fields: []Value{Int(1)}}, Int(1)))
	assert.Same(t, DivPacket, PacketFor(ExnDiv))
	assert.Same(t, OverflowPacket, PacketFor(ExnOverflow))

	n, ok := IntValue(Lit(5))
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)

	seq := Seq(Lit(1), Lit(2))
	assert.True(t, SideEffectFree(seq))
	assert.False(t, AlwaysRaises(seq))
	assert.True(t, AlwaysRaises(Seq(Lit(1), RaiseDiv())))
}
