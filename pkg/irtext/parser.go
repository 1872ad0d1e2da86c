// Package irtext reads the s-expression form of the IR printed by the
// String methods in package ir.
//
// Grammar:
//
//	expr     = INTEGER | value-block | var | "(" form ")"
//	var      = "L" n | "A" n | "C" n | "SELF"
//	block    = "{" (INTEGER | block)* "}"
//	form     = "lambda" name attr* expr
//	         | "call" (":result" type)? expr arg*
//	         | "if" expr expr expr
//	         | "let" "(" binding* ")" expr
//	         | "loop" "(" ("(" n expr ")")* ")" expr
//	         | "case" expr ("(" n expr ")")* "(" "default" expr ")"
//	         | op expr+ | ...
//	binding  = "(" "val" n expr ")" | "(" "do" expr ")"
//	         | "(" "rec" ("(" n lambda ")")* ")" | "(" "container" n n expr ")"
//
// A ';' starts a comment that runs to the end of the line.
package irtext

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"mlback/pkg/ir"
)

// Parser consumes the flat token slice produced by the Lexer and builds IR.
type Parser struct {
	tokens      []Token
	pos         int
	sourceLines []string
}

func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{tokens: tokens, sourceLines: strings.Split(rawSource, "\n")}
}

// Parse reads exactly one expression from src.
func Parse(src string) (ir.Expr, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := NewParser(tokens, src)
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != EOF {
		return nil, p.fmtError(tok, "unexpected %s after expression", tok.Type)
	}
	return e, nil
}

// MustParse is Parse for literals in tests and tables. It panics on error.
func MustParse(src string) ir.Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// ParseLambda reads a single lambda form.
func ParseLambda(src string) (*ir.Lambda, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	l, ok := e.(*ir.Lambda)
	if !ok {
		return nil, fmt.Errorf("expected a lambda, got %T", e)
	}
	return l, nil
}

// ParseUnit reads a compilation unit: a sequence of lambda forms.
func ParseUnit(src string) ([]*ir.Lambda, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := NewParser(tokens, src)
	var fns []*ir.Lambda
	for p.peek().Type != EOF {
		tok := p.peek()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		l, ok := e.(*ir.Lambda)
		if !ok {
			return nil, p.fmtError(tok, "expected a lambda at top level, got %T", e)
		}
		fns = append(fns, l)
	}
	return fns, nil
}

// fmtError wraps an error message with the source line where the token appears.
func (p *Parser) fmtError(tok Token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	lineIdx := tok.Line - 1

	snippet := "<source unavailable>"
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}
	return fmt.Errorf("line %d: %s\n  |> %s", tok.Line, msg, snippet)
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.fmtError(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
	}
	return tok, nil
}

func (p *Parser) expectSymbol(name string) error {
	tok := p.advance()
	if tok.Type != SYMBOL || tok.Lexeme != name {
		return p.fmtError(tok, "expected %q, got %q", name, tok.Lexeme)
	}
	return nil
}

func (p *Parser) parseInt() (int64, error) {
	tok, err := p.expect(INTEGER)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(tok.Lexeme, 10, 64)
	if err != nil {
		return 0, p.fmtError(tok, "bad integer %q", tok.Lexeme)
	}
	return n, nil
}

func (p *Parser) parseSmall() (int, error) {
	n, err := p.parseInt()
	return int(n), err
}

func (p *Parser) parseExprs() ([]ir.Expr, error) {
	var es []ir.Expr
	for p.peek().Type != RPAREN {
		if p.peek().Type == EOF {
			return nil, p.fmtError(p.peek(), "unexpected end of input")
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		es = append(es, e)
	}
	return es, nil
}

func (p *Parser) parseExpr() (ir.Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case INTEGER, LBRACE:
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &ir.Constant{Value: v}, nil
	case SYMBOL:
		p.advance()
		v, err := p.varOf(tok)
		if err != nil {
			return nil, err
		}
		return &ir.Ref{Var: v}, nil
	case LPAREN:
		p.advance()
		e, err := p.parseForm()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, p.fmtError(tok, "unexpected %s (%q)", tok.Type, tok.Lexeme)
}

// parseValue reads an integer or a brace-delimited literal block.
func (p *Parser) parseValue() (ir.Value, error) {
	tok := p.advance()
	switch tok.Type {
	case INTEGER:
		n, ok := new(big.Int).SetString(tok.Lexeme, 10)
		if !ok {
			return nil, p.fmtError(tok, "bad integer %q", tok.Lexeme)
		}
		return ir.NewBig(n), nil
	case LBRACE:
		b := &ir.Block{}
		for p.peek().Type != RBRACE {
			f, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			b.Fields = append(b.Fields, f)
		}
		p.advance()
		return b, nil
	}
	return nil, p.fmtError(tok, "expected a constant, got %s", tok.Type)
}

func (p *Parser) varOf(tok Token) (ir.Var, error) {
	s := tok.Lexeme
	if s == "SELF" {
		return ir.Var{Kind: ir.Recursive}, nil
	}
	if len(s) > 1 {
		if n, err := strconv.Atoi(s[1:]); err == nil && n >= 0 {
			switch s[0] {
			case 'L':
				return ir.Var{Kind: ir.Local, Index: n}, nil
			case 'A':
				return ir.Var{Kind: ir.Argument, Index: n}, nil
			case 'C':
				return ir.Var{Kind: ir.Closure, Index: n}, nil
			}
		}
	}
	return ir.Var{}, p.fmtError(tok, "unknown variable %q", s)
}

// parseForm parses the inside of a parenthesised form; the caller consumes
// the closing paren.
func (p *Parser) parseForm() (ir.Expr, error) {
	head, err := p.expect(SYMBOL)
	if err != nil {
		return nil, err
	}
	switch head.Lexeme {
	case "lambda":
		return p.parseLambdaRest()
	case "call":
		return p.parseCall()
	case "tuple":
		fs, err := p.parseExprs()
		if err != nil {
			return nil, err
		}
		return &ir.Tuple{Fields: fs}, nil
	case "field", "vfield", "cfield":
		kind := map[string]ir.FieldKind{"field": ir.FromTuple, "vfield": ir.FromVariant, "cfield": ir.FromContainer}[head.Lexeme]
		idx, err := p.parseSmall()
		if err != nil {
			return nil, err
		}
		base, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ir.Field{Base: base, Index: idx, Kind: kind}, nil
	case "if":
		es, err := p.parseN(3)
		if err != nil {
			return nil, err
		}
		return &ir.Cond{Test: es[0], Then: es[1], Else: es[2]}, nil
	case "let":
		return p.parseLet()
	case "loop":
		return p.parseLoop()
	case "continue":
		as, err := p.parseExprs()
		if err != nil {
			return nil, err
		}
		return &ir.Continue{Args: as}, nil
	case "handle":
		slot, err := p.parseSmall()
		if err != nil {
			return nil, err
		}
		es, err := p.parseN(2)
		if err != nil {
			return nil, err
		}
		return &ir.Handle{Body: es[0], Handler: es[1], Packet: slot}, nil
	case "raise":
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ir.Raise{Packet: e}, nil
	case "tag-test":
		tag, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		maxTag, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ir.TagTest{Value: v, Tag: tag, MaxTag: maxTag}, nil
	case "case":
		return p.parseCase()
	case "load":
		kind, err := p.parseAccess()
		if err != nil {
			return nil, err
		}
		a, err := p.parseAddress()
		if err != nil {
			return nil, err
		}
		return &ir.Load{Kind: kind, Addr: a}, nil
	case "store":
		kind, err := p.parseAccess()
		if err != nil {
			return nil, err
		}
		a, err := p.parseAddress()
		if err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ir.Store{Kind: kind, Addr: a, Value: v}, nil
	case "block-op":
		return p.parseBlockOp()
	case "alloc":
		size, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		flags, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		init, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ir.Alloc{Size: size, Flags: byte(flags), Init: init}, nil
	case "set-container":
		c, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		size, err := p.parseSmall()
		if err != nil {
			return nil, err
		}
		t, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ir.SetContainer{Container: c, Tuple: t, Size: size}, nil
	}

	if op, ok := ir.UnaryOps[head.Lexeme]; ok {
		es, err := p.parseN(1)
		if err != nil {
			return nil, err
		}
		return &ir.Unary{Op: op, Arg: es[0]}, nil
	}
	if op, ok := ir.BinaryOps[head.Lexeme]; ok {
		es, err := p.parseN(2)
		if err != nil {
			return nil, err
		}
		return &ir.Binary{Op: op, Left: es[0], Right: es[1]}, nil
	}
	if op, ok := ir.ArbOps[head.Lexeme]; ok {
		es, err := p.parseN(3)
		if err != nil {
			return nil, err
		}
		return &ir.Arbitrary{Op: op, Left: es[0], Right: es[1], Long: es[2]}, nil
	}
	return nil, p.fmtError(head, "unknown form %q", head.Lexeme)
}

func (p *Parser) parseN(n int) ([]ir.Expr, error) {
	es := make([]ir.Expr, n)
	for i := range es {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		es[i] = e
	}
	return es, nil
}

func (p *Parser) parseArgType() (ir.ArgType, error) {
	tok, err := p.expect(SYMBOL)
	if err != nil {
		return 0, err
	}
	t, ok := ir.ArgTypes[tok.Lexeme]
	if !ok {
		return 0, p.fmtError(tok, "unknown argument type %q", tok.Lexeme)
	}
	return t, nil
}

func (p *Parser) parseCall() (ir.Expr, error) {
	call := &ir.Eval{}
	if p.peek().Type == KEYWORD && p.peek().Lexeme == ":result" {
		p.advance()
		t, err := p.parseArgType()
		if err != nil {
			return nil, err
		}
		call.Result = t
	}
	fn, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	call.Fn = fn
	for p.peek().Type != RPAREN {
		arg := ir.Arg{}
		next := p.peekAt(1)
		if p.peek().Type == LPAREN && next.Type == SYMBOL && (next.Lexeme == "double" || next.Lexeme == "single") {
			p.advance()
			p.advance()
			arg.Type = ir.Double
			if next.Lexeme == "single" {
				arg.Type = ir.Single
			}
			if arg.Value, err = p.parseExpr(); err != nil {
				return nil, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
		} else if arg.Value, err = p.parseExpr(); err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
	return call, nil
}

func (p *Parser) parseLambdaRest() (*ir.Lambda, error) {
	name, err := p.expect(SYMBOL)
	if err != nil {
		return nil, err
	}
	l := &ir.Lambda{}
	if name.Lexeme != "_" {
		l.Name = name.Lexeme
	}
	for p.peek().Type == KEYWORD {
		kw := p.advance()
		switch kw.Lexeme {
		case ":args":
			if _, err := p.expect(LPAREN); err != nil {
				return nil, err
			}
			l.ArgTypes = []ir.ArgType{}
			for p.peek().Type != RPAREN {
				t, err := p.parseArgType()
				if err != nil {
					return nil, err
				}
				l.ArgTypes = append(l.ArgTypes, t)
			}
			p.advance()
		case ":result":
			if l.Result, err = p.parseArgType(); err != nil {
				return nil, err
			}
		case ":locals":
			if l.LocalCount, err = p.parseSmall(); err != nil {
				return nil, err
			}
		case ":inline":
			tok, err := p.expect(SYMBOL)
			if err != nil {
				return nil, err
			}
			k, ok := ir.Inlines[tok.Lexeme]
			if !ok {
				return nil, p.fmtError(tok, "unknown inline kind %q", tok.Lexeme)
			}
			l.Inline = k
		case ":closure":
			if _, err := p.expect(LPAREN); err != nil {
				return nil, err
			}
			for p.peek().Type != RPAREN {
				tok, err := p.expect(SYMBOL)
				if err != nil {
					return nil, err
				}
				v, err := p.varOf(tok)
				if err != nil {
					return nil, err
				}
				l.Closure = append(l.Closure, v)
			}
			p.advance()
		default:
			return nil, p.fmtError(kw, "unknown lambda attribute %q", kw.Lexeme)
		}
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	l.Body = body
	return l, nil
}

func (p *Parser) parseLet() (ir.Expr, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	let := &ir.Let{}
	for p.peek().Type != RPAREN {
		d, err := p.parseBinding()
		if err != nil {
			return nil, err
		}
		let.Bindings = append(let.Bindings, d)
	}
	p.advance()
	res, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	let.Result = res
	return let, nil
}

func (p *Parser) parseBinding() (ir.Binding, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	head, err := p.expect(SYMBOL)
	if err != nil {
		return nil, err
	}
	var d ir.Binding
	switch head.Lexeme {
	case "val":
		slot, err := p.parseSmall()
		if err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d = &ir.Declar{Slot: slot, Value: v}
	case "do":
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d = &ir.NullBinding{Expr: e}
	case "rec":
		rs := &ir.RecDecs{}
		for p.peek().Type == LPAREN {
			p.advance()
			slot, err := p.parseSmall()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(LPAREN); err != nil {
				return nil, err
			}
			if err := p.expectSymbol("lambda"); err != nil {
				return nil, err
			}
			l, err := p.parseLambdaRest()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			rs.Decs = append(rs.Decs, ir.RecDec{Slot: slot, Lambda: l})
		}
		d = rs
	case "container":
		slot, err := p.parseSmall()
		if err != nil {
			return nil, err
		}
		size, err := p.parseSmall()
		if err != nil {
			return nil, err
		}
		setter, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d = &ir.Container{Slot: slot, Size: size, Setter: setter}
	default:
		return nil, p.fmtError(head, "unknown binding %q", head.Lexeme)
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *Parser) parseLoop() (ir.Expr, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	loop := &ir.Loop{}
	for p.peek().Type == LPAREN {
		p.advance()
		slot, err := p.parseSmall()
		if err != nil {
			return nil, err
		}
		init, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		loop.Args = append(loop.Args, ir.LoopArg{Slot: slot, Init: init})
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	loop.Body = body
	return loop, nil
}

func (p *Parser) parseCase() (ir.Expr, error) {
	v, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	c := &ir.Case{Value: v}
	for p.peek().Type == LPAREN {
		p.advance()
		if p.peek().Type == SYMBOL && p.peek().Lexeme == "default" {
			p.advance()
			if c.Default, err = p.parseExpr(); err != nil {
				return nil, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			continue
		}
		tag, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		body, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		c.Arms = append(c.Arms, ir.CaseArm{Tag: tag, Body: body})
	}
	if c.Default == nil {
		return nil, p.fmtError(p.peek(), "case without default")
	}
	return c, nil
}

func (p *Parser) parseAccess() (ir.AccessKind, error) {
	tok, err := p.expect(SYMBOL)
	if err != nil {
		return 0, err
	}
	k, ok := ir.Accesses[tok.Lexeme]
	if !ok {
		return 0, p.fmtError(tok, "unknown access kind %q", tok.Lexeme)
	}
	return k, nil
}

func (p *Parser) parseAddress() (ir.Address, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return ir.Address{}, err
	}
	if err := p.expectSymbol("@"); err != nil {
		return ir.Address{}, err
	}
	es, err := p.parseN(2)
	if err != nil {
		return ir.Address{}, err
	}
	off, err := p.parseSmall()
	if err != nil {
		return ir.Address{}, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return ir.Address{}, err
	}
	return ir.Address{Base: es[0], Index: es[1], Offset: off}, nil
}

func (p *Parser) parseBlockOp() (ir.Expr, error) {
	tok, err := p.expect(SYMBOL)
	if err != nil {
		return nil, err
	}
	kind, ok := ir.BlockOps[tok.Lexeme]
	if !ok {
		return nil, p.fmtError(tok, "unknown block operation %q", tok.Lexeme)
	}
	src, err := p.parseAddress()
	if err != nil {
		return nil, err
	}
	dst, err := p.parseAddress()
	if err != nil {
		return nil, err
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ir.BlockOp{Kind: kind, Src: src, Dst: dst, Length: n}, nil
}
