package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// The printed form is the s-expression syntax read back by package irtext.

func (c *Constant) String() string     { return printExpr(c) }
func (r *Ref) String() string          { return r.Var.String() }
func (l *Lambda) String() string       { return printExpr(l) }
func (e *Eval) String() string         { return printExpr(e) }
func (u *Unary) String() string        { return printExpr(u) }
func (b *Binary) String() string       { return printExpr(b) }
func (a *Arbitrary) String() string    { return printExpr(a) }
func (t *Tuple) String() string        { return printExpr(t) }
func (f *Field) String() string        { return printExpr(f) }
func (c *Cond) String() string         { return printExpr(c) }
func (l *Let) String() string          { return printExpr(l) }
func (l *Loop) String() string         { return printExpr(l) }
func (c *Continue) String() string     { return printExpr(c) }
func (h *Handle) String() string       { return printExpr(h) }
func (r *Raise) String() string        { return printExpr(r) }
func (t *TagTest) String() string      { return printExpr(t) }
func (c *Case) String() string         { return printExpr(c) }
func (l *Load) String() string         { return printExpr(l) }
func (s *Store) String() string        { return printExpr(s) }
func (b *BlockOp) String() string      { return printExpr(b) }
func (a *Alloc) String() string        { return printExpr(a) }
func (s *SetContainer) String() string { return printExpr(s) }

func (d *Declar) String() string      { return printBinding(d) }
func (n *NullBinding) String() string { return printBinding(n) }
func (r *RecDecs) String() string     { return printBinding(r) }
func (c *Container) String() string   { return printBinding(c) }

func (v Var) String() string {
	switch v.Kind {
	case Local:
		return "L" + strconv.Itoa(v.Index)
	case Argument:
		return "A" + strconv.Itoa(v.Index)
	case Closure:
		return "C" + strconv.Itoa(v.Index)
	}
	return "SELF"
}

// FormatValue prints a constant value.
func FormatValue(v Value) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v Value) {
	switch x := v.(type) {
	case Int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case *Big:
		b.WriteString(x.V.String())
	case *Block:
		b.WriteByte('{')
		for i, f := range x.Fields {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeValue(b, f)
		}
		b.WriteByte('}')
	}
}

type printer struct {
	b strings.Builder
}

func printExpr(e Expr) string {
	var p printer
	p.expr(e)
	return p.b.String()
}

func printBinding(d Binding) string {
	var p printer
	p.binding(d)
	return p.b.String()
}

func (p *printer) open(head string) {
	p.b.WriteByte('(')
	p.b.WriteString(head)
}

func (p *printer) close() { p.b.WriteByte(')') }

func (p *printer) sp() { p.b.WriteByte(' ') }

func (p *printer) int(n int64) {
	p.sp()
	p.b.WriteString(strconv.FormatInt(n, 10))
}

func (p *printer) sub(e Expr) {
	p.sp()
	p.expr(e)
}

func (p *printer) expr(e Expr) {
	switch n := e.(type) {
	case *Constant:
		writeValue(&p.b, n.Value)
	case *Ref:
		p.b.WriteString(n.Var.String())
	case *Lambda:
		p.lambda(n)
	case *Eval:
		p.open("call")
		if n.Result != General {
			p.b.WriteString(" :result " + n.Result.String())
		}
		p.sub(n.Fn)
		for _, a := range n.Args {
			switch a.Type {
			case Double:
				p.sp()
				p.open("double")
				p.sub(a.Value)
				p.close()
			case Single:
				p.sp()
				p.open("single")
				p.sub(a.Value)
				p.close()
			default:
				p.sub(a.Value)
			}
		}
		p.close()
	case *Unary:
		p.open(n.Op.String())
		p.sub(n.Arg)
		p.close()
	case *Binary:
		p.open(n.Op.String())
		p.sub(n.Left)
		p.sub(n.Right)
		p.close()
	case *Arbitrary:
		p.open(n.Op.String())
		p.sub(n.Left)
		p.sub(n.Right)
		p.sub(n.Long)
		p.close()
	case *Tuple:
		p.open("tuple")
		for _, f := range n.Fields {
			p.sub(f)
		}
		p.close()
	case *Field:
		switch n.Kind {
		case FromVariant:
			p.open("vfield")
		case FromContainer:
			p.open("cfield")
		default:
			p.open("field")
		}
		p.int(int64(n.Index))
		p.sub(n.Base)
		p.close()
	case *Cond:
		p.open("if")
		p.sub(n.Test)
		p.sub(n.Then)
		p.sub(n.Else)
		p.close()
	case *Let:
		p.open("let (")
		for i, d := range n.Bindings {
			if i > 0 {
				p.sp()
			}
			p.binding(d)
		}
		p.close()
		p.sub(n.Result)
		p.close()
	case *Loop:
		p.open("loop (")
		for i, a := range n.Args {
			if i > 0 {
				p.sp()
			}
			p.b.WriteByte('(')
			p.b.WriteString(strconv.Itoa(a.Slot))
			p.sub(a.Init)
			p.close()
		}
		p.close()
		p.sub(n.Body)
		p.close()
	case *Continue:
		p.open("continue")
		for _, a := range n.Args {
			p.sub(a)
		}
		p.close()
	case *Handle:
		p.open("handle")
		p.int(int64(n.Packet))
		p.sub(n.Body)
		p.sub(n.Handler)
		p.close()
	case *Raise:
		p.open("raise")
		p.sub(n.Packet)
		p.close()
	case *TagTest:
		p.open("tag-test")
		p.int(n.Tag)
		p.int(n.MaxTag)
		p.sub(n.Value)
		p.close()
	case *Case:
		p.open("case")
		p.sub(n.Value)
		for _, a := range n.Arms {
			p.sp()
			p.b.WriteByte('(')
			p.b.WriteString(strconv.FormatInt(a.Tag, 10))
			p.sub(a.Body)
			p.close()
		}
		p.b.WriteString(" (default")
		p.sub(n.Default)
		p.close()
		p.close()
	case *Load:
		p.open("load " + n.Kind.String())
		p.address(n.Addr)
		p.close()
	case *Store:
		p.open("store " + n.Kind.String())
		p.address(n.Addr)
		p.sub(n.Value)
		p.close()
	case *BlockOp:
		p.open("block-op " + n.Kind.String())
		p.address(n.Src)
		p.address(n.Dst)
		p.sub(n.Length)
		p.close()
	case *Alloc:
		p.open("alloc")
		p.sub(n.Size)
		p.int(int64(n.Flags))
		p.sub(n.Init)
		p.close()
	case *SetContainer:
		p.open("set-container")
		p.sub(n.Container)
		p.int(int64(n.Size))
		p.sub(n.Tuple)
		p.close()
	default:
		panic(fmt.Sprintf("ir: cannot print %T", e))
	}
}

func (p *printer) address(a Address) {
	p.b.WriteString(" (@")
	p.sub(a.Base)
	p.sub(a.Index)
	p.int(int64(a.Offset))
	p.close()
}

func (p *printer) lambda(l *Lambda) {
	p.open("lambda ")
	if l.Name == "" {
		p.b.WriteByte('_')
	} else {
		p.b.WriteString(l.Name)
	}
	p.b.WriteString(" :args (")
	for i, t := range l.ArgTypes {
		if i > 0 {
			p.sp()
		}
		p.b.WriteString(t.String())
	}
	p.close()
	if l.Result != General {
		p.b.WriteString(" :result " + l.Result.String())
	}
	p.b.WriteString(" :locals")
	p.int(int64(l.LocalCount))
	p.b.WriteString(" :inline " + l.Inline.String())
	if len(l.Closure) > 0 {
		p.b.WriteString(" :closure (")
		for i, v := range l.Closure {
			if i > 0 {
				p.sp()
			}
			p.b.WriteString(v.String())
		}
		p.close()
	}
	p.sub(l.Body)
	p.close()
}

func (p *printer) binding(d Binding) {
	switch n := d.(type) {
	case *Declar:
		p.open("val")
		p.int(int64(n.Slot))
		p.sub(n.Value)
		p.close()
	case *NullBinding:
		p.open("do")
		p.sub(n.Expr)
		p.close()
	case *RecDecs:
		p.open("rec")
		for _, r := range n.Decs {
			p.b.WriteString(" (")
			p.b.WriteString(strconv.Itoa(r.Slot))
			p.sp()
			p.lambda(r.Lambda)
			p.close()
		}
		p.close()
	case *Container:
		p.open("container")
		p.int(int64(n.Slot))
		p.int(int64(n.Size))
		p.sub(n.Setter)
		p.close()
	default:
		panic(fmt.Sprintf("ir: cannot print %T", d))
	}
}
