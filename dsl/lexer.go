// Package dsl compiles the textual predicate language into filter trees.
//
//	name = 'john' AND phone > 300
//	phone BETWEEN 200-400 OR name LIKE 'pa%'
//	id KEYIN picked
//
// Clauses are combined strictly left to right with no precedence:
// "a AND b OR c AND d" means ((a AND b) OR c) AND d.
package dsl

import (
	"fmt"
	"strings"

	"coltable-go/types"
)

var ErrUnterminatedQuote = func(pos int) error {
	return types.ErrInvalidPredicate(fmt.Sprintf("unterminated quote starting at %d", pos))
}

// Token is one whitespace-separated word of a predicate. Raw keeps quotes
// and escapes exactly as written.
type Token struct {
	Raw string
	Pos int
}

// Lexer splits predicate text into tokens; whitespace inside quotes does not
// split.
type Lexer struct {
	input string
	pos   int
	ch    byte
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.pos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.pos]
	}
	l.pos++
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// skipQuoted advances past a quoted run, honouring backslash escapes.
func (l *Lexer) skipQuoted() error {
	quote, start := l.ch, l.pos-1
	l.readChar()
	for l.ch != quote {
		if l.ch == 0 {
			return ErrUnterminatedQuote(start)
		}
		if l.ch == '\\' {
			l.readChar()
			if l.ch == 0 {
				return ErrUnterminatedQuote(start)
			}
		}
		l.readChar()
	}
	l.readChar()
	return nil
}

// Next returns the next token, or ok=false at the end of input.
func (l *Lexer) Next() (tok Token, ok bool, err error) {
	l.skipWhitespace()
	if l.ch == 0 {
		return Token{}, false, nil
	}
	start := l.pos - 1
	for l.ch != 0 && l.ch != ' ' && l.ch != '\t' && l.ch != '\n' && l.ch != '\r' {
		if l.ch == '\'' || l.ch == '"' {
			if err := l.skipQuoted(); err != nil {
				return Token{}, false, err
			}
			continue
		}
		l.readChar()
	}
	end := l.pos - 1
	if end > len(l.input) {
		end = len(l.input)
	}
	return Token{Raw: l.input[start:end], Pos: start}, true, nil
}

// Tokenize splits text into tokens.
func Tokenize(text string) ([]Token, error) {
	l := NewLexer(text)
	var out []Token
	for {
		tok, ok, err := l.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, tok)
	}
}

func isQuote(c byte) bool { return c == '\'' || c == '"' }

// Quoted reports whether the whole token is a single quoted string.
func (t Token) Quoted() bool {
	if len(t.Raw) < 2 || !isQuote(t.Raw[0]) {
		return false
	}
	end, ok := closingQuote(t.Raw, 0)
	return ok && end == len(t.Raw)-1
}

// closingQuote finds the quote closing the one at open.
func closingQuote(s string, open int) (int, bool) {
	q := s[open]
	for i := open + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case q:
			return i, true
		}
	}
	return 0, false
}

// unquote strips the surrounding quotes and resolves escapes.
func unquote(raw string) string {
	var b strings.Builder
	q := raw[0]
	body := raw[1 : len(raw)-1]
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case q, '\\':
			b.WriteByte(body[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(body[i])
		}
	}
	return b.String()
}

// splitRange splits a BETWEEN operand at the first '-' that is outside
// quotes and not a leading sign.
func splitRange(raw string) (string, string, bool) {
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if isQuote(c) {
			end, ok := closingQuote(raw, i)
			if !ok {
				return "", "", false
			}
			i = end
			continue
		}
		if c == '-' && i > 0 {
			return raw[:i], raw[i+1:], true
		}
	}
	return "", "", false
}
