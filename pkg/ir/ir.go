// Package ir defines the tree intermediate representation consumed by the
// simplifier and the code generator.
//
// Expr and Binding are closed sum types: every implementation lives in this
// package and carries an unexported marker method, so a type switch over the
// cases listed here is exhaustive. Nodes are immutable once built; passes
// construct new trees instead of mutating old ones.
package ir

// Expr is an IR expression node.
type Expr interface {
	exprNode()
	String() string
}

// Binding is one entry in a Let block.
type Binding interface {
	bindingNode()
	String() string
}

// VarKind says where a variable lives.
type VarKind uint8

const (
	Local     VarKind = iota // slot in the current function's locals
	Argument                 // positional argument
	Closure                  // captured entry of the current closure
	Recursive                // the function's own closure
)

// Var identifies a variable relative to the function that references it.
type Var struct {
	Kind  VarKind
	Index int
}

// ArgType is the machine representation of an argument or result.
type ArgType uint8

const (
	General ArgType = iota
	Double
	Single
)

// InlineKind classifies a function for the inliner.
type InlineKind uint8

const (
	NeverInline  InlineKind = iota
	MaybeInline             // decided by the simplifier against the size threshold
	SmallInline             // inlineable while it stays under ten times the threshold
	AlwaysInline
)

// FieldKind says what a projection reads from.
type FieldKind uint8

const (
	FromTuple FieldKind = iota
	FromVariant
	FromContainer
)

// AccessKind is the type of a memory load or store.
type AccessKind uint8

const (
	MLWord AccessKind = iota // tagged word in managed memory
	MLByte                   // untyped byte in managed memory
	C8                       // foreign memory, 1 byte
	C16
	C32
	C64
)

// Width is the size in bytes of one element of the access kind.
func (k AccessKind) Width() int {
	switch k {
	case MLWord, C64:
		return 8
	case MLByte, C8:
		return 1
	case C16:
		return 2
	case C32:
		return 4
	}
	return 8
}

// BlockKind selects a block memory operation.
type BlockKind uint8

const (
	BlockMoveWords BlockKind = iota
	BlockMoveBytes
	BlockEqualBytes
	BlockCompareBytes
)

// Object header flags, stored in the top byte of the length word.
const (
	FlagBytes   byte = 0x01
	FlagCode    byte = 0x02
	FlagClosure byte = 0x03
	FlagMutable byte = 0x40
)

type (
	// Constant is a literal value.
	Constant struct {
		Value Value
	}

	// Ref reads a variable.
	Ref struct {
		Var Var
	}

	// Lambda is a function literal. Closure lists the captured variables as
	// seen from the defining scope; inside Body they are Closure refs.
	Lambda struct {
		Name       string
		Body       Expr
		Closure    []Var
		ArgTypes   []ArgType
		Result     ArgType
		Inline     InlineKind
		LocalCount int
	}

	// Arg is one actual argument of an application.
	Arg struct {
		Value Expr
		Type  ArgType
	}

	// Eval applies a function to arguments.
	Eval struct {
		Fn     Expr
		Args   []Arg
		Result ArgType
	}

	Unary struct {
		Op  UnaryOp
		Arg Expr
	}

	Binary struct {
		Op          BinaryOp
		Left, Right Expr
	}

	// Arbitrary is an arbitrary-precision operation. Long is the general
	// big-integer function called when the fixed-width path cannot apply.
	Arbitrary struct {
		Op          ArbOp
		Left, Right Expr
		Long        Expr
	}

	Tuple struct {
		Fields []Expr
	}

	Field struct {
		Base  Expr
		Index int
		Kind  FieldKind
	}

	Cond struct {
		Test, Then, Else Expr
	}

	Let struct {
		Bindings []Binding
		Result   Expr
	}

	LoopArg struct {
		Slot int
		Init Expr
	}

	// Loop binds its arguments and evaluates Body; a Continue inside Body
	// rebinds the arguments and jumps back to the start.
	Loop struct {
		Args []LoopArg
		Body Expr
	}

	Continue struct {
		Args []Expr
	}

	// Handle evaluates Body; if it raises, the packet is bound to local
	// slot Packet and Handler is evaluated instead.
	Handle struct {
		Body    Expr
		Handler Expr
		Packet  int
	}

	Raise struct {
		Packet Expr
	}

	// TagTest is true when Value is the tagged constructor Tag.
	TagTest struct {
		Value  Expr
		Tag    int64
		MaxTag int64
	}

	CaseArm struct {
		Tag  int64
		Body Expr
	}

	Case struct {
		Value   Expr
		Arms    []CaseArm
		Default Expr
	}

	// Address is Base + Index*width + Offset bytes. Index is a tagged integer.
	Address struct {
		Base   Expr
		Index  Expr
		Offset int
	}

	Load struct {
		Kind AccessKind
		Addr Address
	}

	Store struct {
		Kind  AccessKind
		Addr  Address
		Value Expr
	}

	BlockOp struct {
		Kind   BlockKind
		Src    Address
		Dst    Address
		Length Expr
	}

	// Alloc allocates a mutable cell of Size words. Word cells are filled
	// with Init; byte cells (FlagBytes) have every byte set to Init.
	Alloc struct {
		Size  Expr
		Flags byte
		Init  Expr
	}

	SetContainer struct {
		Container Expr
		Tuple     Expr
		Size      int
	}
)

func (*Constant) exprNode()     {}
func (*Ref) exprNode()          {}
func (*Lambda) exprNode()       {}
func (*Eval) exprNode()         {}
func (*Unary) exprNode()        {}
func (*Binary) exprNode()       {}
func (*Arbitrary) exprNode()    {}
func (*Tuple) exprNode()        {}
func (*Field) exprNode()        {}
func (*Cond) exprNode()         {}
func (*Let) exprNode()          {}
func (*Loop) exprNode()         {}
func (*Continue) exprNode()     {}
func (*Handle) exprNode()       {}
func (*Raise) exprNode()        {}
func (*TagTest) exprNode()      {}
func (*Case) exprNode()         {}
func (*Load) exprNode()         {}
func (*Store) exprNode()        {}
func (*BlockOp) exprNode()      {}
func (*Alloc) exprNode()        {}
func (*SetContainer) exprNode() {}

type (
	// Declar binds the value of an expression to a local slot.
	Declar struct {
		Slot  int
		Value Expr
	}

	// NullBinding evaluates an expression for its effects only.
	NullBinding struct {
		Expr Expr
	}

	RecDec struct {
		Slot   int
		Lambda *Lambda
	}

	// RecDecs is a group of mutually recursive function declarations.
	RecDecs struct {
		Decs []RecDec
	}

	// Container declares a fixed-size mutable aggregate in Slot and runs
	// Setter, which must fill it.
	Container struct {
		Slot   int
		Size   int
		Setter Expr
	}
)

func (*Declar) bindingNode()      {}
func (*NullBinding) bindingNode() {}
func (*RecDecs) bindingNode()     {}
func (*Container) bindingNode()   {}

// Arity is the number of parameters.
func (l *Lambda) Arity() int { return len(l.ArgTypes) }

// Lit builds a tagged integer constant.
func Lit(n int64) *Constant { return &Constant{Value: Int(n)} }

// Bool builds a boolean constant.
func Bool(b bool) *Constant {
	if b {
		return &Constant{Value: True}
	}
	return &Constant{Value: False}
}

// Unit is the value of effect-only expressions.
func Unit() *Constant { return &Constant{Value: Int(0)} }

func LocalRef(slot int) *Ref { return &Ref{Var: Var{Kind: Local, Index: slot}} }
func ArgRef(i int) *Ref { return &Ref{Var: Var{Kind: Argument, Index: i}} }
func ClosureRef(i int) *Ref { return &Ref{Var: Var{Kind: Closure, Index: i}} }
func SelfRef() *Ref { return &Ref{Var: Var{Kind: Recursive}} }
func LocalVar(slot int) Var { return Var{Kind: Local, Index: slot} }
func GeneralArgs(n int) []ArgType { return make([]ArgType, n) }

// Call builds an application with general arguments and result.
func Call(fn Expr, args ...Expr) *Eval {
	as := make([]Arg, len(args))
	for i, a := range args {
		as[i] = Arg{Value: a}
	}
	return &Eval{Fn: fn, Args: as}
}

// Seq evaluates each expression for effect, then returns the last one.
func Seq(exprs ...Expr) Expr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	bs := make([]Binding, 0, len(exprs)-1)
	for _, e := range exprs[:len(exprs)-1] {
		bs = append(bs, &NullBinding{Expr: e})
	}
	return &Let{Bindings: bs, Result: exprs[len(exprs)-1]}
}

// IsConstant reports whether e is a literal.
func IsConstant(e Expr) bool {
	_, ok := e.(*Constant)
	return ok
}

// IntValue returns the tagged integer held by e, if it is one.
func IntValue(e Expr) (int64, bool) {
	c, ok := e.(*Constant)
	if !ok {
		return 0, false
	}
	n, ok := c.Value.(Int)
	return int64(n), ok
}
