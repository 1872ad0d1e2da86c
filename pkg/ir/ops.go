package ir

// UnaryOp is the operation of a Unary node.
type UnaryOp uint8

const (
	NotBoolean UnaryOp = iota
	IsTagged
	CellLength
	CellFlags
	ClearMutable
)

var unaryNames = [...]string{
	NotBoolean:   "not",
	IsTagged:     "is-tagged",
	CellLength:   "cell-length",
	CellFlags:    "cell-flags",
	ClearMutable: "clear-mutable",
}

func (op UnaryOp) String() string { return unaryNames[op] }

// BinaryOp is the operation of a Binary node.
type BinaryOp uint8

const (
	// Fixed precision: raise Overflow when the result leaves the tagged range.
	Add BinaryOp = iota
	Sub
	Mul
	Quot // truncating; raises Div on zero
	Rem

	// Word arithmetic modulo 2^63.
	WordAdd
	WordSub
	WordMul
	WordDiv // unsigned; raises Div on zero
	WordMod

	And
	Or
	Xor
	Shl
	Shr // logical
	Sar // arithmetic

	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	ULt
	ULe
	UGt
	UGe
	PtrEq
)

var binaryNames = [...]string{
	Add: "add", Sub: "sub", Mul: "mul", Quot: "quot", Rem: "rem",
	WordAdd: "wadd", WordSub: "wsub", WordMul: "wmul", WordDiv: "wdiv", WordMod: "wmod",
	And: "and", Or: "or", Xor: "xor", Shl: "shl", Shr: "shr", Sar: "sar",
	Eq: "eq", Ne: "ne", Lt: "lt", Le: "le", Gt: "gt", Ge: "ge",
	ULt: "ult", ULe: "ule", UGt: "ugt", UGe: "uge", PtrEq: "ptr-eq",
}

func (op BinaryOp) String() string { return binaryNames[op] }

// IsComparison reports whether op yields a boolean.
func (op BinaryOp) IsComparison() bool { return op >= Eq }

// CanRaise reports whether op may raise Overflow or Div at run time.
func (op BinaryOp) CanRaise() bool {
	switch op {
	case Add, Sub, Mul, Quot, Rem, WordDiv, WordMod:
		return true
	}
	return false
}

// Commutative reports whether the operands may be swapped.
func (op BinaryOp) Commutative() bool {
	switch op {
	case Add, Mul, WordAdd, WordMul, And, Or, Xor, Eq, Ne, PtrEq:
		return true
	}
	return false
}

// ArbOp is the operation of an Arbitrary node.
type ArbOp uint8

const (
	ArbAdd ArbOp = iota
	ArbSub
	ArbMul
	ArbEq
	ArbLt
	ArbLe
	ArbGt
	ArbGe
)

var arbNames = [...]string{
	ArbAdd: "arb-add", ArbSub: "arb-sub", ArbMul: "arb-mul",
	ArbEq: "arb-eq", ArbLt: "arb-lt", ArbLe: "arb-le", ArbGt: "arb-gt", ArbGe: "arb-ge",
}

func (op ArbOp) String() string { return arbNames[op] }

// IsComparison reports whether op yields a boolean.
func (op ArbOp) IsComparison() bool { return op >= ArbEq }

// Fixed returns the fixed-precision operation with the same meaning on
// tagged operands.
func (op ArbOp) Fixed() BinaryOp {
	switch op {
	case ArbAdd:
		return Add
	case ArbSub:
		return Sub
	case ArbMul:
		return Mul
	case ArbEq:
		return Eq
	case ArbLt:
		return Lt
	case ArbLe:
		return Le
	case ArbGt:
		return Gt
	}
	return Ge
}

var accessNames = [...]string{MLWord: "word", MLByte: "byte", C8: "c8", C16: "c16", C32: "c32", C64: "c64"}

func (k AccessKind) String() string { return accessNames[k] }

var blockNames = [...]string{
	BlockMoveWords: "move-words", BlockMoveBytes: "move-bytes",
	BlockEqualBytes: "equal-bytes", BlockCompareBytes: "compare-bytes",
}

func (k BlockKind) String() string { return blockNames[k] }

var inlineNames = [...]string{NeverInline: "never", MaybeInline: "maybe", SmallInline: "small", AlwaysInline: "always"}

func (k InlineKind) String() string { return inlineNames[k] }

var argTypeNames = [...]string{General: "g", Double: "d", Single: "s"}

func (t ArgType) String() string { return argTypeNames[t] }

// Lookup tables used by the text reader.
var (
	UnaryOps  = invert(unaryNames[:], func(i int) UnaryOp { return UnaryOp(i) })
	BinaryOps = invert(binaryNames[:], func(i int) BinaryOp { return BinaryOp(i) })
	ArbOps    = invert(arbNames[:], func(i int) ArbOp { return ArbOp(i) })
	Accesses  = invert(accessNames[:], func(i int) AccessKind { return AccessKind(i) })
	BlockOps  = invert(blockNames[:], func(i int) BlockKind { return BlockKind(i) })
	Inlines   = invert(inlineNames[:], func(i int) InlineKind { return InlineKind(i) })
	ArgTypes  = invert(argTypeNames[:], func(i int) ArgType { return ArgType(i) })
)

func invert[T any](names []string, mk func(int) T) map[string]T {
	m := make(map[string]T, len(names))
	for i, n := range names {
		m[n] = mk(i)
	}
	return m
}
