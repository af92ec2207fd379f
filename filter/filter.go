// Package filter is the predicate algebra. A Filter names columns, never
// handles: it is resolved against whichever table it is rendered for, so one
// Filter serves any table exposing the referenced columns.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"coltable-go/command"
	"coltable-go/session"
	"coltable-go/types"
)

var (
	ErrDistinctComposed = func(conn types.Connector) error {
		return types.ErrInvalidPredicate(fmt.Sprintf("DISTINCT cannot be combined with %s", conn))
	}
	ErrNotAString = func(column string, dt types.DataType) error {
		return types.ErrMismatch(fmt.Sprintf("LIKE needs a string column, %s is %s", column, dt))
	}
)

// Target is the table a filter is rendered against.
type Target interface {
	// Column resolves a column name to its backing handle and type.
	Column(name string) (handle string, dt types.DataType, err error)
}

// Filter renders itself into backend commands that bind a key set: the
// keys of the target rows it selects. Every handle it creates, the result
// included, is tracked by sc.
type Filter interface {
	Render(t Target, sc *session.Scope) (string, error)
	Columns() []string
	String() string
}

type ValueKind int

const (
	Text ValueKind = iota
	Number
	Null
	Boolean
)

// Value is a literal operand.
type Value struct {
	Kind ValueKind
	Text string
}

func Str(s string) Value     { return Value{Kind: Text, Text: s} }
func Num(s string) Value     { return Value{Kind: Number, Text: s} }
func Bool(b bool) Value      { return Value{Kind: Boolean, Text: strconv.FormatBool(b)} }
func NullValue() Value       { return Value{Kind: Null, Text: "nil"} }
func (v Value) IsNull() bool { return v.Kind == Null }

func (v Value) Arg() command.Arg {
	switch v.Kind {
	case Number:
		return command.N(v.Text)
	case Null:
		return command.Null
	case Boolean:
		return command.Arg{Kind: command.Bool, Text: v.Text}
	default:
		return command.S(v.Text)
	}
}

// String renders the value the way the predicate language writes it.
func (v Value) String() string {
	if v.Kind == Text {
		return "'" + strings.ReplaceAll(v.Text, "'", `\'`) + "'"
	}
	return v.Text
}

func keysOf(sc *session.Scope, handle string) (string, error) {
	return sc.Bind(command.New("keys", command.H(handle)))
}

// complement binds the keys of handle that are not in sel.
func complement(sc *session.Scope, handle, sel string) (string, error) {
	all, err := keysOf(sc, handle)
	if err != nil {
		return "", err
	}
	return sc.Bind(command.New("kdiff", command.H(all), command.H(sel)))
}

// ValueCompare is column op literal.
type ValueCompare struct {
	Column string
	Op     types.CmpOp
	Value  Value
}

func NewValueCompare(column string, op types.CmpOp, v Value) (*ValueCompare, error) {
	if op.Ordering() && v.IsNull() {
		return nil, types.ErrInvalidPredicate(fmt.Sprintf("%s %s nil has no ordering", column, op))
	}
	return &ValueCompare{Column: column, Op: op, Value: v}, nil
}

// Render uses membership for EQ and key difference for NE so that null rows
// are matched or excluded exactly; ordering operators bound with select.
func (f *ValueCompare) Render(t Target, sc *session.Scope) (string, error) {
	h, _, err := t.Column(f.Column)
	if err != nil {
		return "", err
	}
	switch f.Op {
	case types.EQ:
		return sc.Bind(command.New("member", command.H(h), f.Value.Arg()))
	case types.NE:
		eq, err := sc.Bind(command.New("member", command.H(h), f.Value.Arg()))
		if err != nil {
			return "", err
		}
		return complement(sc, h, eq)
	default:
		return sc.Bind(command.New("select", command.H(h), command.S(f.Op.Symbol()), f.Value.Arg()))
	}
}

func (f *ValueCompare) Columns() []string { return []string{f.Column} }
func (f *ValueCompare) String() string {
	return fmt.Sprintf("%s %s %s", f.Column, f.Op.Symbol(), f.Value)
}

// ColumnCompare is column op column. Numeric operands are widened to a
// common type first.
type ColumnCompare struct {
	Left  string
	Op    types.CmpOp
	Right string
}

func (f *ColumnCompare) Render(t Target, sc *session.Scope) (string, error) {
	lh, lt, err := t.Column(f.Left)
	if err != nil {
		return "", err
	}
	rh, rt, err := t.Column(f.Right)
	if err != nil {
		return "", err
	}
	if lt != rt {
		wide, err := types.Widen(lt, rt)
		if err != nil {
			return "", err
		}
		if lh, err = widenTo(sc, lh, lt, wide); err != nil {
			return "", err
		}
		if rh, err = widenTo(sc, rh, rt, wide); err != nil {
			return "", err
		}
	}
	return sc.Bind(command.New("cmpcol", command.H(lh), command.S(f.Op.Symbol()), command.H(rh)))
}

func widenTo(sc *session.Scope, h string, from, to types.DataType) (string, error) {
	if from == to {
		return h, nil
	}
	return sc.Bind(command.New("convert", command.H(h), command.S(to.String())))
}

func (f *ColumnCompare) Columns() []string { return []string{f.Left, f.Right} }
func (f *ColumnCompare) String() string {
	return fmt.Sprintf("%s %s %s", f.Left, f.Op.Symbol(), f.Right)
}

// Range selects Lo <= column <= Hi; a null bound is open.
type Range struct {
	Column string
	Lo, Hi Value
}

func NewRange(column string, lo, hi Value) *Range {
	return &Range{Column: column, Lo: lo, Hi: hi}
}

func (f *Range) Render(t Target, sc *session.Scope) (string, error) {
	h, _, err := t.Column(f.Column)
	if err != nil {
		return "", err
	}
	return sc.Bind(command.New("range", command.H(h), f.Lo.Arg(), f.Hi.Arg()))
}

func (f *Range) Columns() []string { return []string{f.Column} }
func (f *Range) String() string {
	return fmt.Sprintf("%s BETWEEN %s-%s", f.Column, f.Lo, f.Hi)
}

// Like matches a string column against a pattern with % and _ wildcards.
type Like struct {
	Column  string
	Pattern string
}

func (f *Like) Render(t Target, sc *session.Scope) (string, error) {
	h, dt, err := t.Column(f.Column)
	if err != nil {
		return "", err
	}
	if dt != types.String && dt != types.Char {
		return "", ErrNotAString(f.Column, dt)
	}
	return sc.Bind(command.New("like", command.H(h), command.S(f.Pattern)))
}

func (f *Like) Columns() []string { return []string{f.Column} }
func (f *Like) String() string    { return fmt.Sprintf("%s LIKE %s", f.Column, Str(f.Pattern)) }

// Distinct keeps one row, the lowest key, per distinct tuple of Columns.
type Distinct struct {
	Cols []string
}

func (f *Distinct) Render(t Target, sc *session.Scope) (string, error) {
	args := make([]command.Arg, 0, len(f.Cols))
	for _, c := range f.Cols {
		h, _, err := t.Column(c)
		if err != nil {
			return "", err
		}
		args = append(args, command.H(h))
	}
	return sc.Bind(command.New("distinct", args...))
}

func (f *Distinct) Columns() []string { return f.Cols }
func (f *Distinct) String() string {
	if len(f.Cols) == 1 {
		return f.Cols[0] + " DISTINCT *"
	}
	return f.Cols[0] + " DISTINCT " + f.Cols[1]
}

// Membership tests a column's values (IN, NOTIN) or the row keys themselves
// (KEYIN, KEYNOTIN) against a foreign key set bound under Set.
type Membership struct {
	Column  string
	Keyword types.Keyword
	Set     string
}

func NewMembership(column string, kw types.Keyword, set string) (*Membership, error) {
	if !kw.ForeignSet() {
		return nil, types.ErrInvalidPredicate(fmt.Sprintf("%s is not a membership operator", kw))
	}
	return &Membership{Column: column, Keyword: kw, Set: set}, nil
}

func (f *Membership) Render(t Target, sc *session.Scope) (string, error) {
	h, _, err := t.Column(f.Column)
	if err != nil {
		return "", err
	}
	op := "intail"
	if f.Keyword == types.KeyIn || f.Keyword == types.KeyNotIn {
		op = "inhead"
	}
	in, err := sc.Bind(command.New(op, command.H(h), command.H(f.Set)))
	if err != nil {
		return "", err
	}
	if f.Keyword == types.In || f.Keyword == types.KeyIn {
		return in, nil
	}
	return complement(sc, h, in)
}

func (f *Membership) Columns() []string { return []string{f.Column} }
func (f *Membership) String() string {
	return fmt.Sprintf("%s %s %s", f.Column, f.Keyword, f.Set)
}

// Random samples N rows.
type Random struct {
	Column string
	N      int64
}

func (f *Random) Render(t Target, sc *session.Scope) (string, error) {
	h, _, err := t.Column(f.Column)
	if err != nil {
		return "", err
	}
	return sc.Bind(command.New("sample", command.H(h), command.Int(f.N)))
}

func (f *Random) Columns() []string { return []string{f.Column} }
func (f *Random) String() string    { return fmt.Sprintf("%s RANDOM %d", f.Column, f.N) }

// Composite is the AND (key intersection) or OR (key union) of two filters.
type Composite struct {
	Conn        types.Connector
	Left, Right Filter
}

// Compose joins two filters; DISTINCT refuses to take part.
func Compose(conn types.Connector, left, right Filter) (*Composite, error) {
	for _, f := range []Filter{left, right} {
		if _, ok := f.(*Distinct); ok {
			return nil, ErrDistinctComposed(conn)
		}
	}
	if conn != types.And && conn != types.Or {
		return nil, types.ErrInvalidPredicate(fmt.Sprintf("unknown connector %d", conn))
	}
	return &Composite{Conn: conn, Left: left, Right: right}, nil
}

func NewAnd(left, right Filter) (*Composite, error) { return Compose(types.And, left, right) }
func NewOr(left, right Filter) (*Composite, error)  { return Compose(types.Or, left, right) }

func (f *Composite) Render(t Target, sc *session.Scope) (string, error) {
	l, err := f.Left.Render(t, sc)
	if err != nil {
		return "", err
	}
	r, err := f.Right.Render(t, sc)
	if err != nil {
		return "", err
	}
	op := "kinter"
	if f.Conn == types.Or {
		op = "kunion"
	}
	return sc.Bind(command.New(op, command.H(l), command.H(r)))
}

func (f *Composite) Columns() []string {
	return append(append([]string{}, f.Left.Columns()...), f.Right.Columns()...)
}

func (f *Composite) String() string {
	return fmt.Sprintf("%s %s %s", f.Left, f.Conn, f.Right)
}
