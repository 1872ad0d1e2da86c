package irtext

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	INTEGER // signed decimal literal, any size
	SYMBOL  // operator name, variable or lambda name
	KEYWORD // :args, :result, ...

	LPAREN // (
	RPAREN // )
	LBRACE // {
	RBRACE // }
)

var tokenNames = [...]string{
	EOF:     "EOF",
	INTEGER: "INTEGER",
	SYMBOL:  "SYMBOL",
	KEYWORD: "KEYWORD",
	LPAREN:  "LPAREN",
	RPAREN:  "RPAREN",
	LBRACE:  "LBRACE",
	RBRACE:  "RBRACE",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // the exact source text that was matched
	Line   int    // 1-based source line
}

func (t Token) String() string {
	return fmt.Sprintf("%-8s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
