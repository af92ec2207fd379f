package command

import (
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrSyntax = func(text string, pos int, info string) error {
		return fmt.Errorf("command syntax error at %d in %q: %s", pos, text, info)
	}
)

type scanner struct {
	input string
	pos   int
}

func (s *scanner) skipWhitespace() {
	for s.pos < len(s.input) && unicode.IsSpace(rune(s.input[s.pos])) {
		s.pos++
	}
}

func (s *scanner) peek() byte {
	if s.pos >= len(s.input) {
		return 0
	}
	return s.input[s.pos]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (s *scanner) readIdent() string {
	start := s.pos
	for s.pos < len(s.input) && isIdentByte(s.input[s.pos]) {
		s.pos++
	}
	return s.input[start:s.pos]
}

// readString reads a single-quoted literal, unescaping \' \\ \n \t.
func (s *scanner) readString() (string, error) {
	start := s.pos
	s.pos++ // opening quote
	var b strings.Builder
	for s.pos < len(s.input) {
		c := s.input[s.pos]
		switch c {
		case '\\':
			s.pos++
			if s.pos >= len(s.input) {
				return "", ErrSyntax(s.input, start, "unterminated escape")
			}
			switch s.input[s.pos] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s.input[s.pos])
			}
		case '\'':
			s.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
		s.pos++
	}
	return "", ErrSyntax(s.input, start, "unterminated string")
}

func (s *scanner) readArg() (Arg, error) {
	s.skipWhitespace()
	c := s.peek()
	switch {
	case c == '\'':
		str, err := s.readString()
		if err != nil {
			return Arg{}, err
		}
		return S(str), nil
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		start := s.pos
		s.pos++
		for s.pos < len(s.input) && strings.IndexByte("0123456789.eE+-", s.input[s.pos]) >= 0 {
			s.pos++
		}
		return N(s.input[start:s.pos]), nil
	case isIdentByte(c):
		id := s.readIdent()
		switch id {
		case "nil":
			return Null, nil
		case "true":
			return B(true), nil
		case "false":
			return B(false), nil
		}
		return H(id), nil
	default:
		return Arg{}, ErrSyntax(s.input, s.pos, fmt.Sprintf("unexpected %q", string(c)))
	}
}

// Parse reads one command in the form produced by Command.String.
func Parse(text string) (Command, error) {
	s := &scanner{input: text}
	var cmd Command

	// optional target list; a bare identifier followed by '(' is the op
	var idents []string
	for {
		s.skipWhitespace()
		id := s.readIdent()
		if id == "" {
			return Command{}, ErrSyntax(text, s.pos, "expected identifier")
		}
		idents = append(idents, id)
		s.skipWhitespace()
		if s.peek() == ',' {
			s.pos++
			continue
		}
		break
	}
	if strings.HasPrefix(text[s.pos:], ":=") {
		s.pos += 2
		cmd.Targets = idents
		s.skipWhitespace()
		cmd.Op = s.readIdent()
		if cmd.Op == "" {
			return Command{}, ErrSyntax(text, s.pos, "expected operation")
		}
	} else {
		if len(idents) != 1 {
			return Command{}, ErrSyntax(text, s.pos, "target list without ':='")
		}
		cmd.Op = idents[0]
	}

	s.skipWhitespace()
	if s.peek() != '(' {
		return Command{}, ErrSyntax(text, s.pos, "expected '('")
	}
	s.pos++
	s.skipWhitespace()
	if s.peek() == ')' {
		s.pos++
	} else {
		for {
			arg, err := s.readArg()
			if err != nil {
				return Command{}, err
			}
			cmd.Args = append(cmd.Args, arg)
			s.skipWhitespace()
			c := s.peek()
			s.pos++
			if c == ',' {
				continue
			}
			if c == ')' {
				break
			}
			return Command{}, ErrSyntax(text, s.pos-1, "expected ',' or ')'")
		}
	}
	s.skipWhitespace()
	if s.peek() == ';' {
		s.pos++
		s.skipWhitespace()
	}
	if s.pos < len(text) {
		return Command{}, ErrSyntax(text, s.pos, "trailing input")
	}
	return cmd, nil
}
