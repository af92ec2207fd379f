package dsl

import (
	"fmt"
	"strconv"
	"strings"

	"coltable-go/filter"
	"coltable-go/types"
)

var (
	ErrIncompleteClause = func(pos int) error {
		return types.ErrInvalidPredicate(fmt.Sprintf("incomplete clause at %d: expected column operator operand", pos))
	}
	ErrUnknownOperator = func(tok Token) error {
		return types.ErrInvalidPredicate(fmt.Sprintf("unknown operator %q at %d", tok.Raw, tok.Pos))
	}
	ErrBadOperand = func(op string, tok Token, want string) error {
		return types.ErrInvalidPredicate(fmt.Sprintf("%s needs %s, got %q at %d", op, want, tok.Raw, tok.Pos))
	}
	ErrLiteralType = func(column string, dt types.DataType, v filter.Value, err error) error {
		return types.ErrInvalidPredicate(fmt.Sprintf("%s is not a %s value for column %s: %v", v, dt, column, err))
	}
)

// IsAll reports whether text selects every row.
func IsAll(text string) bool {
	t := strings.TrimSpace(text)
	return t == "" || t == "*"
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isNil(s string) bool { return strings.EqualFold(s, "nil") }

// Column is a column a predicate may name. Literals compared against it
// must parse as Type; types.Invalid leaves them unchecked.
type Column struct {
	Name string
	Type types.DataType
}

type parser struct {
	tokens  []Token
	pos     int
	columns []string
	types   map[string]types.DataType
}

// Compile parses text into a filter tree; it returns nil for "*". columns,
// when given, are the names an unquoted operand may refer to and every
// clause column must be one of them.
func Compile(text string, columns []string) (filter.Filter, error) {
	return compile(text, columns, nil)
}

// CompileSchema is Compile over typed columns: a literal that cannot be a
// value of its column's type is rejected here rather than by the backend.
func CompileSchema(text string, schema []Column) (filter.Filter, error) {
	names := make([]string, len(schema))
	dts := make(map[string]types.DataType, len(schema))
	for i, c := range schema {
		names[i] = c.Name
		dts[c.Name] = c.Type
	}
	return compile(text, names, dts)
}

func compile(text string, columns []string, dts map[string]types.DataType) (filter.Filter, error) {
	if IsAll(text) {
		return nil, nil
	}
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, columns: columns, types: dts}
	acc, err := p.clause()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		conn, ok := types.ParseConnector(tok.Raw)
		if !ok {
			return nil, types.ErrInvalidPredicate(fmt.Sprintf("expected AND or OR at %d, got %q", tok.Pos, tok.Raw))
		}
		p.pos++
		next, err := p.clause()
		if err != nil {
			return nil, err
		}
		if acc, err = filter.Compose(conn, acc, next); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// column resolves name against the known columns, returning the declared
// spelling.
func (p *parser) column(name string) (string, bool) {
	if p.columns == nil {
		return name, true
	}
	for _, c := range p.columns {
		if types.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

func (p *parser) clause() (filter.Filter, error) {
	if p.pos+3 > len(p.tokens) {
		at := len(p.tokens)
		if p.pos < len(p.tokens) {
			at = p.tokens[p.pos].Pos
		}
		return nil, ErrIncompleteClause(at)
	}
	colTok, opTok, arg := p.tokens[p.pos], p.tokens[p.pos+1], p.tokens[p.pos+2]
	p.pos += 3

	if colTok.Quoted() {
		return nil, types.ErrInvalidPredicate(fmt.Sprintf("column name expected at %d, got literal %s", colTok.Pos, colTok.Raw))
	}
	col, ok := p.column(colTok.Raw)
	if !ok {
		return nil, types.ErrColumnMissing(colTok.Raw, p.columns)
	}

	if kw, ok := types.ParseKeyword(opTok.Raw); ok {
		return p.keywordClause(col, kw, arg)
	}
	op, ok := types.ParseCmpOp(opTok.Raw)
	if !ok {
		return nil, ErrUnknownOperator(opTok)
	}
	if !arg.Quoted() {
		if other, ok := p.column(arg.Raw); ok && p.columns != nil {
			return &filter.ColumnCompare{Left: col, Op: op, Right: other}, nil
		}
	}
	v, ok := literal(arg)
	if !ok {
		if p.columns == nil {
			return &filter.ColumnCompare{Left: col, Op: op, Right: arg.Raw}, nil
		}
		return nil, ErrBadOperand(op.String(), arg, "a quoted string, a number, nil or a column")
	}
	if err := p.check(col, v); err != nil {
		return nil, err
	}
	f, err := filter.NewValueCompare(col, op, v)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// check rejects a literal that no value of col's type can equal. nil is
// always accepted here.
func (p *parser) check(col string, v filter.Value) error {
	dt, ok := p.types[col]
	if !ok || dt == types.Invalid || v.IsNull() {
		return nil
	}
	if _, err := types.ParseValue(dt, v.Text); err != nil {
		return ErrLiteralType(col, dt, v, err)
	}
	return nil
}

// literal classifies an operand that is a value rather than a column.
func literal(tok Token) (filter.Value, bool) {
	switch {
	case tok.Quoted():
		return filter.Str(unquote(tok.Raw)), true
	case isNil(tok.Raw):
		return filter.NullValue(), true
	case isNumber(tok.Raw):
		return filter.Num(tok.Raw), true
	case strings.EqualFold(tok.Raw, "true"):
		return filter.Bool(true), true
	case strings.EqualFold(tok.Raw, "false"):
		return filter.Bool(false), true
	}
	return filter.Value{}, false
}

func (p *parser) keywordClause(col string, kw types.Keyword, arg Token) (filter.Filter, error) {
	switch kw {
	case types.Distinct:
		if arg.Raw == "*" {
			return &filter.Distinct{Cols: []string{col}}, nil
		}
		other, ok := p.column(arg.Raw)
		if arg.Quoted() || !ok {
			return nil, ErrBadOperand(kw.String(), arg, "* or a column")
		}
		return &filter.Distinct{Cols: []string{col, other}}, nil
	case types.Like:
		pattern := arg.Raw
		if arg.Quoted() {
			pattern = unquote(arg.Raw)
		}
		return &filter.Like{Column: col, Pattern: pattern}, nil
	case types.Between:
		lo, hi, ok := splitRange(arg.Raw)
		if !ok || lo == "" || hi == "" {
			return nil, ErrBadOperand(kw.String(), arg, "a lower-upper pair")
		}
		lv, hv := boundValue(lo), boundValue(hi)
		for _, v := range []filter.Value{lv, hv} {
			if err := p.check(col, v); err != nil {
				return nil, err
			}
		}
		return filter.NewRange(col, lv, hv), nil
	case types.Random:
		n, err := strconv.ParseInt(arg.Raw, 10, 64)
		if err != nil || n < 0 {
			return nil, ErrBadOperand(kw.String(), arg, "a non-negative integer")
		}
		return &filter.Random{Column: col, N: n}, nil
	default:
		if arg.Quoted() || isNumber(arg.Raw) || isNil(arg.Raw) {
			return nil, ErrBadOperand(kw.String(), arg, "the name of a key set")
		}
		f, err := filter.NewMembership(col, kw, arg.Raw)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// boundValue classifies one side of a BETWEEN pair; unquoted words are
// literal text.
func boundValue(raw string) filter.Value {
	tok := Token{Raw: raw}
	if v, ok := literal(tok); ok {
		return v
	}
	return filter.Str(raw)
}
