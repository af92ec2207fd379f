package table

import (
	"fmt"

	"coltable-go/command"
	"coltable-go/session"
	"coltable-go/types"
)

var ErrJoinArity = func(left, right int) error {
	return types.ErrMismatch(fmt.Sprintf("%d left join columns against %d right join columns", left, right))
}

// side says which input a joined output column is read from.
type side int

const (
	leftSide side = iota
	rightSide
)

type joinOutput struct {
	output
	from side
}

// joinOutputs lists the columns of a join result. Names both inputs share
// are prefixed "A." (left) and "B." (right); the projection then picks and
// renames among the resulting names.
func joinOutputs(left, right *Table, projection string) ([]joinOutput, error) {
	shared := func(name string, other *Table) bool {
		_, _, err := other.lookup(name)
		return err == nil
	}
	var all []joinOutput
	for _, c := range left.columns {
		name := c.Name
		if shared(name, right) {
			name = "A." + name
		}
		all = append(all, joinOutput{output{src: c, name: name}, leftSide})
	}
	for _, c := range right.columns {
		name := c.Name
		if shared(name, left) {
			name = "B." + name
		}
		all = append(all, joinOutput{output{src: c, name: name}, rightSide})
	}

	proj, err := ParseProjection(projection)
	if err != nil || proj == nil {
		return all, err
	}
	names := make([]string, len(all))
	for i, o := range all {
		names[i] = o.name
	}
	out := make([]joinOutput, 0, len(proj))
	for _, p := range proj {
		found := false
		for _, o := range all {
			if types.EqualFold(o.name, p.Name) {
				o.name = p.As
				out = append(out, o)
				found = true
				break
			}
		}
		if !found {
			return nil, types.ErrColumnMissing(p.Name, names)
		}
	}
	return out, nil
}

// alignTypes widens two numeric join columns to a common type; any other
// type difference is a mismatch.
func alignTypes(sc *session.Scope, lh string, lt types.DataType, rh string, rt types.DataType) (string, string, error) {
	if lt == rt {
		return lh, rh, nil
	}
	if !lt.IsNumeric() || !rt.IsNumeric() {
		return "", "", types.ErrMismatch(fmt.Sprintf("cannot match %s against %s", lt, rt))
	}
	wide, err := types.Widen(lt, rt)
	if err != nil {
		return "", "", err
	}
	widen := func(h string, dt types.DataType) (string, error) {
		if dt == wide {
			return h, nil
		}
		return sc.Bind(command.New("convert", command.H(h), command.S(wide.String())))
	}
	if lh, err = widen(lh, lt); err != nil {
		return "", "", err
	}
	if rh, err = widen(rh, rt); err != nil {
		return "", "", err
	}
	return lh, rh, nil
}

// mapping binds the key pairs of t and other matching on every column pair
// (combine "pinter") or on any of them ("punion").
func (t *Table) mapping(sc *session.Scope, other *Table, leftCols, rightCols []string, combine string) (string, error) {
	if len(leftCols) != len(rightCols) {
		return "", ErrJoinArity(len(leftCols), len(rightCols))
	}
	if len(leftCols) == 0 {
		return "", types.ErrInvalidPredicate("join needs at least one column pair")
	}
	var acc string
	for i := range leftCols {
		lh, lt, err := t.Column(leftCols[i])
		if err != nil {
			return "", err
		}
		rh, rt, err := other.Column(rightCols[i])
		if err != nil {
			return "", err
		}
		if lh, rh, err = alignTypes(sc, lh, lt, rh, rt); err != nil {
			return "", err
		}
		m, err := sc.Bind(command.New("join", command.H(lh), command.H(rh)))
		if err != nil {
			return "", err
		}
		if acc == "" {
			acc = m
			continue
		}
		if acc, err = sc.Bind(command.New(combine, command.H(acc), command.H(m))); err != nil {
			return "", err
		}
	}
	return acc, nil
}

// fetchAll re-keys every output column through the per-side maps.
func fetchAll(sc *session.Scope, s *session.Session, outs []joinOutput, maps [2]string) ([]*Column, error) {
	cols := make([]*Column, 0, len(outs))
	for _, o := range outs {
		h, err := o.src.resolve(s)
		if err != nil {
			return nil, err
		}
		f, err := sc.Bind(command.New("fetch", command.H(h), command.H(maps[o.from])))
		if err != nil {
			return nil, err
		}
		cols = append(cols, newColumn(o.name, o.src.Type, f))
	}
	return cols, nil
}

func joinSpecs(outs []joinOutput) []ColumnSpec {
	specs := make([]ColumnSpec, len(outs))
	for i, o := range outs {
		specs[i] = ColumnSpec{Name: o.name, Type: o.src.Type}
	}
	return specs
}

func (t *Table) checkJoinable(other *Table) error {
	if err := t.live(); err != nil {
		return err
	}
	if other == nil {
		return types.ErrIllegal("join against a nil table")
	}
	return other.live()
}

// Join is the equality join of t and other on leftCols[i] = rightCols[i]
// for every i. Result rows are keyed 0..n-1 in (left key, right key) order.
func (t *Table) Join(other *Table, leftCols, rightCols []string, projection string) (*Table, error) {
	return t.innerJoin(other, leftCols, rightCols, nil, nil, projection)
}

// JoinUnless joins on the join columns but drops every pair that also
// matches on any unless column pair.
func (t *Table) JoinUnless(other *Table, leftCols, rightCols, unlessLeft, unlessRight []string, projection string) (*Table, error) {
	if len(unlessLeft) == 0 {
		return nil, types.ErrInvalidPredicate("join unless needs at least one unless column pair")
	}
	return t.innerJoin(other, leftCols, rightCols, unlessLeft, unlessRight, projection)
}

func (t *Table) innerJoin(other *Table, leftCols, rightCols, unlessLeft, unlessRight []string, projection string) (*Table, error) {
	if err := t.checkJoinable(other); err != nil {
		return nil, err
	}
	outs, err := joinOutputs(t, other, projection)
	if err != nil {
		return nil, err
	}
	var (
		cols []*Column
		n    int64
	)
	err = t.scoped(func(sc *session.Scope) error {
		m, err := t.mapping(sc, other, leftCols, rightCols, "pinter")
		if err != nil {
			return err
		}
		if len(unlessLeft) > 0 {
			u, err := t.mapping(sc, other, unlessLeft, unlessRight, "punion")
			if err != nil {
				return err
			}
			if m, err = sc.Bind(command.New("pdiff", command.H(m), command.H(u))); err != nil {
				return err
			}
		}
		if n, err = t.sess.Count(m); err != nil {
			return err
		}
		if n == 0 {
			cols, err = freshColumns(sc, joinSpecs(outs))
		} else {
			var maps [2]string
			for i, s := range []string{"l", "r"} {
				if maps[i], err = sc.Bind(command.New("renumber", command.H(m), command.S(s), command.Int(0))); err != nil {
					return err
				}
			}
			cols, err = fetchAll(sc, t.sess, outs, maps)
		}
		if err != nil {
			return err
		}
		keep(sc, cols)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.log.Debug("join", "with", other.label(), "pairs", n)
	return t.derive(cols, uint64(n)), nil
}

// LeftOuterJoin is Join plus every row of t without a partner, carried with
// null right-hand values after the matched rows.
func (t *Table) LeftOuterJoin(other *Table, leftCols, rightCols []string, projection string) (*Table, error) {
	if err := t.checkJoinable(other); err != nil {
		return nil, err
	}
	outs, err := joinOutputs(t, other, projection)
	if err != nil {
		return nil, err
	}
	var (
		cols  []*Column
		total int64
	)
	err = t.scoped(func(sc *session.Scope) error {
		m, err := t.mapping(sc, other, leftCols, rightCols, "pinter")
		if err != nil {
			return err
		}
		n, err := t.sess.Count(m)
		if err != nil {
			return err
		}
		base, err := t.first()
		if err != nil {
			return err
		}
		all, err := sc.Bind(command.New("keys", command.H(base)))
		if err != nil {
			return err
		}
		unmatched, err := sc.Bind(command.New("kdiff", command.H(all), command.H(m)))
		if err != nil {
			return err
		}
		u, err := t.sess.Count(unmatched)
		if err != nil {
			return err
		}
		total = n + u
		if total == 0 {
			cols, err = freshColumns(sc, joinSpecs(outs))
			if err != nil {
				return err
			}
			keep(sc, cols)
			return nil
		}

		var matched []*Column
		if n > 0 {
			var maps [2]string
			for i, s := range []string{"l", "r"} {
				if maps[i], err = sc.Bind(command.New("renumber", command.H(m), command.S(s), command.Int(0))); err != nil {
					return err
				}
			}
			if matched, err = fetchAll(sc, t.sess, outs, maps); err != nil {
				return err
			}
		}
		if u == 0 {
			cols = matched
			keep(sc, cols)
			return nil
		}

		um, err := sc.Bind(command.New("renumber", command.H(unmatched), command.S("l"), command.Int(n)))
		if err != nil {
			return err
		}
		cols = make([]*Column, 0, len(outs))
		for i, o := range outs {
			h, err := o.src.resolve(t.sess)
			if err != nil {
				return err
			}
			op := "fetch"
			if o.from == rightSide {
				op = "nulls"
			}
			rest, err := sc.Bind(command.New(op, command.H(h), command.H(um)))
			if err != nil {
				return err
			}
			if matched != nil {
				if rest, err = sc.Bind(command.New("concat", command.H(matched[i].mustHandle()), command.H(rest))); err != nil {
					return err
				}
			}
			cols = append(cols, newColumn(o.name, o.src.Type, rest))
		}
		keep(sc, cols)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.log.Debug("left outer join", "with", other.label(), "rows", total)
	return t.derive(cols, uint64(total)), nil
}
