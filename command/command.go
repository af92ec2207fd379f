// Package command holds the textual contract between the table layer and the
// array engine. The table layer only ever builds Command values and sends
// their String form; the engine parses that text back with Parse.
//
//	t_3 := select(t_1, '>', 300)
//	t_4, t_5 := aggr('sum', t_1, t_2)
//	free(t_3)
package command

import (
	"fmt"
	"strconv"
	"strings"
)

type ArgKind int

const (
	Ident ArgKind = iota // handle name
	Str                  // quoted literal
	Num                  // numeric literal, kept as text
	Nil                  // the null literal
	Bool
)

func (k ArgKind) String() string {
	switch k {
	case Ident:
		return "ident"
	case Str:
		return "string"
	case Num:
		return "number"
	case Nil:
		return "nil"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

type Arg struct {
	Kind ArgKind
	Text string
}

// H references a handle.
func H(name string) Arg { return Arg{Kind: Ident, Text: name} }

// S is a quoted string literal.
func S(s string) Arg { return Arg{Kind: Str, Text: s} }

func Int(v int64) Arg   { return Arg{Kind: Num, Text: strconv.FormatInt(v, 10)} }
func Uint(v uint64) Arg { return Arg{Kind: Num, Text: strconv.FormatUint(v, 10)} }

// N is a numeric literal given as text; callers validate it first.
func N(text string) Arg { return Arg{Kind: Num, Text: text} }

func B(v bool) Arg { return Arg{Kind: Bool, Text: strconv.FormatBool(v)} }

var Null = Arg{Kind: Nil, Text: "nil"}

func (a Arg) String() string {
	switch a.Kind {
	case Str:
		return quote(a.Text)
	default:
		return a.Text
	}
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// Command is one backend statement. Targets are the handle names the engine
// binds the results to; a command without targets mutates in place or
// returns rows/counts/scalars.
type Command struct {
	Targets []string
	Op      string
	Args    []Arg
}

func New(op string, args ...Arg) Command {
	return Command{Op: op, Args: args}
}

// Into binds the command's results to the given handle names.
func (c Command) Into(targets ...string) Command {
	c.Targets = targets
	return c
}

func (c Command) String() string {
	var b strings.Builder
	if len(c.Targets) > 0 {
		b.WriteString(strings.Join(c.Targets, ", "))
		b.WriteString(" := ")
	}
	b.WriteString(c.Op)
	b.WriteByte('(')
	for i, a := range c.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Handles lists every handle the command reads.
func (c Command) Handles() []string {
	var out []string
	for _, a := range c.Args {
		if a.Kind == Ident {
			out = append(out, a.Text)
		}
	}
	return out
}

// Arity checks the argument count and returns a descriptive error.
func (c Command) Arity(min, max int) error {
	n := len(c.Args)
	if n < min || (max >= 0 && n > max) {
		if min == max {
			return fmt.Errorf("%s expects %d arguments, got %d", c.Op, min, n)
		}
		return fmt.Errorf("%s expects %d..%d arguments, got %d", c.Op, min, max, n)
	}
	return nil
}
