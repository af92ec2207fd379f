package table

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"coltable-go/command"
	"coltable-go/types"
)

var (
	ErrBadName = func(kind, name string) error {
		return fmt.Errorf("%w: invalid %s name %q", types.ErrValidation, kind, name)
	}
	ErrDuplicateColumn = func(name string) error {
		return fmt.Errorf("%w: column %q appears twice", types.ErrValidation, name)
	}
	ErrBadSpec = func(kind, spec string) error {
		return fmt.Errorf("%w: malformed %s %q", types.ErrValidation, kind, spec)
	}
)

var (
	// table names become handle names, so they must read as identifiers
	tableNamePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	columnNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

func validTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return ErrBadName("table", name)
	}
	return nil
}

func validColumnName(name string) error {
	if !columnNamePattern.MatchString(name) {
		return ErrBadName("column", name)
	}
	return nil
}

// ColumnSpec declares one column of a schema.
type ColumnSpec struct {
	Name string
	Type types.DataType
}

func (c ColumnSpec) String() string { return c.Name + ":" + c.Type.String() }

// ParseSchema reads "name:type, name:type, ...". An empty schema declares no
// columns.
func ParseSchema(spec string) ([]ColumnSpec, error) {
	var out []ColumnSpec
	for _, part := range splitList(spec) {
		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			return nil, ErrBadSpec("column declaration", part)
		}
		name = strings.TrimSpace(name)
		if err := validColumnName(name); err != nil {
			return nil, err
		}
		dt, err := types.ParseDataType(strings.TrimSpace(typ))
		if err != nil {
			return nil, err
		}
		for _, prev := range out {
			if types.EqualFold(prev.Name, name) {
				return nil, ErrDuplicateColumn(name)
			}
		}
		out = append(out, ColumnSpec{Name: name, Type: dt})
	}
	return out, nil
}

func splitList(spec string) []string {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	parts := strings.Split(spec, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Projection is one entry of a projection spec: column Name, output As.
type Projection struct {
	Name string
	As   string
}

// ParseProjection reads "a, b AS c". "*" (or nothing) returns nil, meaning
// every column under its own name.
func ParseProjection(spec string) ([]Projection, error) {
	s := strings.TrimSpace(spec)
	if s == "" || s == "*" {
		return nil, nil
	}
	var out []Projection
	for _, part := range splitList(s) {
		fields := strings.Fields(part)
		var p Projection
		switch {
		case len(fields) == 1:
			p = Projection{Name: fields[0], As: fields[0]}
		case len(fields) == 3 && strings.EqualFold(fields[1], "AS"):
			p = Projection{Name: fields[0], As: fields[2]}
		default:
			return nil, ErrBadSpec("projection", part)
		}
		if err := validColumnName(p.As); err != nil {
			return nil, err
		}
		for _, prev := range out {
			if types.EqualFold(prev.As, p.As) {
				return nil, ErrDuplicateColumn(p.As)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseJoinColumns reads "a = x AND b = y" into the left and right column
// lists.
func ParseJoinColumns(spec string) (left, right []string, err error) {
	for _, clause := range splitAnd(spec) {
		l, r, ok := strings.Cut(clause, "=")
		l, r = strings.TrimSpace(l), strings.TrimSpace(strings.TrimPrefix(r, "="))
		if !ok || l == "" || r == "" || strings.ContainsAny(l+r, " \t") {
			return nil, nil, ErrBadSpec("join condition", clause)
		}
		left = append(left, l)
		right = append(right, r)
	}
	if len(left) == 0 {
		return nil, nil, ErrBadSpec("join condition", spec)
	}
	return left, right, nil
}

func splitAnd(spec string) []string {
	fields := strings.Fields(spec)
	var (
		out []string
		cur []string
	)
	for _, f := range fields {
		if strings.EqualFold(f, "AND") {
			out = append(out, strings.Join(cur, " "))
			cur = nil
			continue
		}
		cur = append(cur, f)
	}
	if len(cur) > 0 || len(out) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

// SortKey is one entry of a sort spec.
type SortKey struct {
	Column string
	Desc   bool
}

func (k SortKey) direction() string {
	if k.Desc {
		return "desc"
	}
	return "asc"
}

// ParseSortKeys reads "a, b DESC, c ASC".
func ParseSortKeys(spec string) ([]SortKey, error) {
	var out []SortKey
	for _, part := range splitList(spec) {
		fields := strings.Fields(part)
		switch {
		case len(fields) == 1:
			out = append(out, SortKey{Column: fields[0]})
		case len(fields) == 2 && strings.EqualFold(fields[1], "DESC"):
			out = append(out, SortKey{Column: fields[0], Desc: true})
		case len(fields) == 2 && strings.EqualFold(fields[1], "ASC"):
			out = append(out, SortKey{Column: fields[0]})
		default:
			return nil, ErrBadSpec("sort key", part)
		}
	}
	if len(out) == 0 {
		return nil, ErrBadSpec("sort key", spec)
	}
	return out, nil
}

// RowRange is a parsed row-range spec: every row, a zero-based inclusive
// window in key order, or a random sample.
type RowRange struct {
	All      bool
	From, To int64
	Random   bool
	Sample   int64
}

// ParseRowRange reads "*", "from-to" or "?N".
func ParseRowRange(spec string) (RowRange, error) {
	s := strings.TrimSpace(spec)
	switch {
	case s == "" || s == "*":
		return RowRange{All: true}, nil
	case strings.HasPrefix(s, "?"):
		n, err := strconv.ParseInt(strings.TrimSpace(s[1:]), 10, 64)
		if err != nil || n < 0 {
			return RowRange{}, ErrBadSpec("row range", spec)
		}
		return RowRange{Random: true, Sample: n}, nil
	}
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return RowRange{}, ErrBadSpec("row range", spec)
	}
	from, err1 := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	to, err2 := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err1 != nil || err2 != nil || from < 0 || to < from {
		return RowRange{}, ErrBadSpec("row range", spec)
	}
	return RowRange{From: from, To: to}, nil
}

const (
	dateLayout      = types.DateLayout
	timestampLayout = types.TimestampLayout
)

// valueArg renders a Go value as a literal of type dt.
func valueArg(column string, dt types.DataType, v any) (command.Arg, error) {
	numeric := dt.IsNumeric() || dt == types.Oid
	mismatch := func() (command.Arg, error) {
		return command.Arg{}, types.ErrMismatch(fmt.Sprintf("column %s is %s, got %T", column, dt, v))
	}
	switch x := v.(type) {
	case string:
		return command.S(x), nil
	case bool:
		if dt != types.Boolean {
			return mismatch()
		}
		return command.B(x), nil
	case int:
		return intArg(numeric, int64(x), mismatch)
	case int32:
		return intArg(numeric, int64(x), mismatch)
	case int64:
		return intArg(numeric, x, mismatch)
	case uint64:
		if !numeric {
			return mismatch()
		}
		return command.Uint(x), nil
	case float32:
		if dt != types.Float && dt != types.Double {
			return mismatch()
		}
		return command.N(strconv.FormatFloat(float64(x), 'g', -1, 32)), nil
	case float64:
		if dt != types.Float && dt != types.Double {
			return mismatch()
		}
		return command.N(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case time.Time:
		switch dt {
		case types.Date:
			return command.S(x.UTC().Format(dateLayout)), nil
		case types.Timestamp:
			return command.S(x.UTC().Format(timestampLayout)), nil
		}
		return mismatch()
	default:
		return mismatch()
	}
}

func intArg(numeric bool, v int64, mismatch func() (command.Arg, error)) (command.Arg, error) {
	if !numeric {
		return mismatch()
	}
	return command.Int(v), nil
}
