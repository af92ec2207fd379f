package table

import (
	"fmt"

	"coltable-go/command"
	"coltable-go/session"
	"coltable-go/types"
)

// matching binds the key set of t's rows whose on-columns tuple also occurs
// in other. One column pair is a plain membership test; several pairs
// compare whole tuples instead of building a pair mapping.
func (t *Table) matching(sc *session.Scope, other *Table, on string) (string, error) {
	leftCols, rightCols, err := ParseJoinColumns(on)
	if err != nil {
		return "", err
	}
	lhs := make([]command.Arg, len(leftCols))
	rhs := make([]command.Arg, len(rightCols))
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
		lhs[i], rhs[i] = command.H(lh), command.H(rh)
	}
	if len(lhs) == 1 {
		return sc.Bind(command.New("intail", lhs[0], rhs[0]))
	}
	return sc.Bind(command.New("intuple", append(lhs, rhs...)...))
}

// semiJoin keeps or drops the rows of t that match other.
func (t *Table) semiJoin(other *Table, on, projection string, keepMatches bool) (*Table, error) {
	if err := t.checkJoinable(other); err != nil {
		return nil, err
	}
	outs, err := t.project(projection)
	if err != nil {
		return nil, err
	}
	var cols []*Column
	err = t.scoped(func(sc *session.Scope) error {
		ks, err := t.matching(sc, other, on)
		if err != nil {
			return err
		}
		if !keepMatches {
			base, err := t.first()
			if err != nil {
				return err
			}
			if ks, err = sc.Bind(command.New("kdiff", command.H(base), command.H(ks))); err != nil {
				return err
			}
		}
		if cols, err = t.restrictTo(sc, outs, ks); err != nil {
			return err
		}
		keep(sc, cols)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.derive(cols, t.nextKey), nil
}

// Intersect keeps the rows of t whose on-columns ("a = x AND b = y") match
// some row of other. Row keys are kept.
func (t *Table) Intersect(other *Table, on, projection string) (*Table, error) {
	return t.semiJoin(other, on, projection, true)
}

// Difference keeps the rows of t that match no row of other.
func (t *Table) Difference(other *Table, on, projection string) (*Table, error) {
	return t.semiJoin(other, on, projection, false)
}

// Union returns every row of t followed by the rows of other that match no
// row of t on the on-columns. other must carry every column of t with the
// same type. Rows are keyed 0..n-1.
func (t *Table) Union(other *Table, on, projection string) (*Table, error) {
	if err := t.checkJoinable(other); err != nil {
		return nil, err
	}
	outs, err := t.project(projection)
	if err != nil {
		return nil, err
	}
	partners := make([]*Column, len(outs))
	for i, o := range outs {
		c, _, err := other.lookup(o.src.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s has no column %s", types.ErrSchemaMismatch, other.label(), o.src.Name)
		}
		if c.Type != o.src.Type {
			return nil, fmt.Errorf("%w: column %s is %s in %s and %s in %s",
				types.ErrSchemaMismatch, o.src.Name, o.src.Type, t.label(), c.Type, other.label())
		}
		partners[i] = c
	}
	var (
		cols  []*Column
		total int64
	)
	err = t.scoped(func(sc *session.Scope) error {
		lbase, err := t.first()
		if err != nil {
			return err
		}
		rbase, err := other.first()
		if err != nil {
			return err
		}
		// rows of other that t already covers
		covered, err := other.matching(sc, t, flipOn(on))
		if err != nil {
			return err
		}
		extra, err := sc.Bind(command.New("kdiff", command.H(rbase), command.H(covered)))
		if err != nil {
			return err
		}
		n1, err := t.sess.Count(lbase)
		if err != nil {
			return err
		}
		n2, err := t.sess.Count(extra)
		if err != nil {
			return err
		}
		total = n1 + n2
		if total == 0 {
			if cols, err = freshColumns(sc, specsOf(outs)); err != nil {
				return err
			}
			keep(sc, cols)
			return nil
		}
		lkeys, err := sc.Bind(command.New("keys", command.H(lbase)))
		if err != nil {
			return err
		}
		lmap, err := sc.Bind(command.New("renumber", command.H(lkeys), command.S("l"), command.Int(0)))
		if err != nil {
			return err
		}
		rmap, err := sc.Bind(command.New("renumber", command.H(extra), command.S("l"), command.Int(n1)))
		if err != nil {
			return err
		}
		for i, o := range outs {
			var parts []string
			for _, side := range []struct {
				c *Column
				m string
				n int64
			}{{o.src, lmap, n1}, {partners[i], rmap, n2}} {
				if side.n == 0 {
					continue
				}
				h, err := side.c.resolve(t.sess)
				if err != nil {
					return err
				}
				f, err := sc.Bind(command.New("fetch", command.H(h), command.H(side.m)))
				if err != nil {
					return err
				}
				parts = append(parts, f)
			}
			h := parts[0]
			if len(parts) == 2 {
				if h, err = sc.Bind(command.New("concat", command.H(parts[0]), command.H(parts[1]))); err != nil {
					return err
				}
			}
			cols = append(cols, newColumn(o.name, o.src.Type, h))
		}
		keep(sc, cols)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.log.Debug("union", "with", other.label(), "rows", total)
	return t.derive(cols, uint64(total)), nil
}

// flipOn swaps the sides of a join condition.
func flipOn(on string) string {
	left, right, err := ParseJoinColumns(on)
	if err != nil {
		return on
	}
	out := ""
	for i := range left {
		if i > 0 {
			out += " AND "
		}
		out += right[i] + " = " + left[i]
	}
	return out
}
