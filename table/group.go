package table

import (
	"fmt"
	"strings"

	"coltable-go/command"
	"coltable-go/session"
	"coltable-go/types"
)

// DefaultGroupColumn names the group column GroupBy adds when none is given.
const DefaultGroupColumn = "group"

var ErrUnknownAggregate = func(op string) error {
	return fmt.Errorf("%w: %s is not an aggregate (sum, count, avg, min, max, mode)", types.ErrValidation, op)
}

// columnsOf looks up every name of a comma-separated list; "*" and the empty
// list mean every column.
func (t *Table) columnsOf(list string) ([]*Column, error) {
	names := splitList(list)
	if len(names) == 0 || (len(names) == 1 && names[0] == "*") {
		return t.columns, nil
	}
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c, _, err := t.lookup(n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// order sorts by the first key and refines by every following one. The
// returned order handle is owned by sc.
func (t *Table) order(sc *session.Scope, keys []*Column, dirs []string) (string, error) {
	var o string
	for i, c := range keys {
		h, err := c.resolve(t.sess)
		if err != nil {
			return "", err
		}
		if i == 0 {
			o, err = sc.Bind(command.New("sort", command.H(h), command.S(dirs[i])))
		} else {
			o, err = sc.Bind(command.New("refine", command.H(o), command.H(h), command.S(dirs[i])))
		}
		if err != nil {
			return "", err
		}
	}
	return o, nil
}

// groupRuns binds a long column holding, for every row, the id of its
// distinct tuple over cols.
func (t *Table) groupRuns(sc *session.Scope, cols []*Column) (string, error) {
	dirs := make([]string, len(cols))
	for i := range dirs {
		dirs[i] = "asc"
	}
	o, err := t.order(sc, cols, dirs)
	if err != nil {
		return "", err
	}
	return sc.Bind(command.New("runs", command.H(o)))
}

// GroupBy adds a long column called name that numbers the distinct tuples of
// cols, and returns how many groups there are. Rows sharing a tuple share an
// id; ids follow the ascending order of the tuples.
func (t *Table) GroupBy(cols, name string) (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	if name == "" {
		name = DefaultGroupColumn
	}
	if err := validColumnName(name); err != nil {
		return 0, err
	}
	if _, _, err := t.lookup(name); err == nil {
		return 0, ErrDuplicateColumn(name)
	}
	keys, err := t.columnsOf(cols)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, types.ErrIllegal(fmt.Sprintf("table %s has no columns to group by", t.label()))
	}
	var (
		runs   string
		groups int64
	)
	err = t.scoped(func(sc *session.Scope) error {
		r, err := t.groupRuns(sc, keys)
		if err != nil {
			return err
		}
		firsts, err := sc.Bind(command.New("distinct", command.H(r)))
		if err != nil {
			return err
		}
		if groups, err = t.sess.Count(firsts); err != nil {
			return err
		}
		sc.Keep(r)
		runs = r
		return nil
	})
	if err != nil {
		return 0, err
	}
	c := newColumn(name, types.Long, runs)
	t.columns = append(t.columns, c)
	if t.persisted {
		durable := columnHandle(t.name, name)
		if err := t.persistAs(runs, durable); err != nil {
			return 0, err
		}
		c.state = Materialized{Handle: durable}
		if err := t.writeCatalog(); err != nil {
			return 0, err
		}
	}
	t.log.Debug("group by", "columns", cols, "groups", groups)
	return groups, nil
}

// aggregateType is the type of the reduced column, or an error when op cannot
// reduce values of type dt.
func aggregateType(op string, dt types.DataType) (types.DataType, error) {
	invalid := func() (types.DataType, error) {
		return types.Invalid, types.ErrMismatch(fmt.Sprintf("%s cannot aggregate a %s column", op, dt))
	}
	switch op {
	case "count":
		return types.Long, nil
	case "sum":
		switch dt {
		case types.Int, types.Long:
			return types.Long, nil
		case types.Float, types.Double:
			return types.Double, nil
		}
		return invalid()
	case "avg":
		if !dt.IsNumeric() && dt != types.Oid {
			return invalid()
		}
		return types.Double, nil
	case "min", "max":
		if dt == types.Bat {
			return invalid()
		}
		return dt, nil
	case "mode":
		return dt, nil
	default:
		return types.Invalid, ErrUnknownAggregate(op)
	}
}

// Aggregate reduces valueCol per distinct value of groupCol. The result has
// the group column and a column named "<op>_<valueCol>", one row per group in
// ascending group order. When base is given every value of base's groupCol
// gets a row too: 0 for sum and count, null otherwise.
func (t *Table) Aggregate(op, groupCol, valueCol string, base *Table) (*Table, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	op = strings.ToLower(strings.TrimSpace(op))
	if op == "mode" && base != nil {
		return nil, types.ErrIllegal("mode cannot be combined with a base table")
	}
	g, _, err := t.lookup(groupCol)
	if err != nil {
		return nil, err
	}
	v, _, err := t.lookup(valueCol)
	if err != nil {
		return nil, err
	}
	resType, err := aggregateType(op, v.Type)
	if err != nil {
		return nil, err
	}
	var baseHandle string
	if base != nil {
		bh, bt, err := base.Column(groupCol)
		if err != nil {
			return nil, err
		}
		if bt != g.Type {
			return nil, fmt.Errorf("%w: base column %s is %s, group column is %s", types.ErrSchemaMismatch, groupCol, bt, g.Type)
		}
		baseHandle = bh
	}
	resName := op + "_" + v.Name
	if types.EqualFold(resName, g.Name) {
		resName = op + "_" + resName
	}

	var (
		cols []*Column
		n    int64
	)
	err = t.scoped(func(sc *session.Scope) error {
		gh, err := g.resolve(t.sess)
		if err != nil {
			return err
		}
		vh, err := v.resolve(t.sess)
		if err != nil {
			return err
		}
		args := []command.Arg{command.S(op), command.H(gh), command.H(vh)}
		if baseHandle != "" {
			args = append(args, command.H(baseHandle))
		}
		groups, values, err := sc.Bind2(command.New("aggr", args...))
		if err != nil {
			return err
		}
		if n, err = t.sess.Count(groups); err != nil {
			return err
		}
		cols = keep(sc, []*Column{
			newColumn(g.Name, g.Type, groups),
			newColumn(resName, resType, values),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.log.Debug("aggregate", "op", op, "group", g.Name, "value", v.Name, "groups", n)
	return t.derive(cols, uint64(n)), nil
}

// Sort returns the rows ordered by keySpec ("a, b DESC"), keyed 0..n-1 in
// that order. Ties keep ascending key order.
func (t *Table) Sort(keySpec, projection string) (*Table, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	sk, err := ParseSortKeys(keySpec)
	if err != nil {
		return nil, err
	}
	keys := make([]*Column, len(sk))
	dirs := make([]string, len(sk))
	for i, k := range sk {
		if keys[i], _, err = t.lookup(k.Column); err != nil {
			return nil, err
		}
		dirs[i] = k.direction()
	}
	outs, err := t.project(projection)
	if err != nil {
		return nil, err
	}
	var (
		cols []*Column
		n    int64
	)
	err = t.scoped(func(sc *session.Scope) error {
		o, err := t.order(sc, keys, dirs)
		if err != nil {
			return err
		}
		if n, err = t.sess.Count(o); err != nil {
			return err
		}
		if n == 0 {
			if cols, err = freshColumns(sc, specsOf(outs)); err != nil {
				return err
			}
			keep(sc, cols)
			return nil
		}
		m, err := sc.Bind(command.New("positions", command.H(o), command.Int(0)))
		if err != nil {
			return err
		}
		for _, out := range outs {
			h, err := out.src.resolve(t.sess)
			if err != nil {
				return err
			}
			f, err := sc.Bind(command.New("fetch", command.H(h), command.H(m)))
			if err != nil {
				return err
			}
			cols = append(cols, newColumn(out.name, out.src.Type, f))
		}
		keep(sc, cols)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.log.Debug("sort", "keys", keySpec, "rows", n)
	return t.derive(cols, uint64(n)), nil
}

// Distinct keeps the first row (lowest key) of every distinct tuple over
// cols. Row keys are kept.
func (t *Table) Distinct(cols string) (*Table, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	keys, err := t.columnsOf(cols)
	if err != nil {
		return nil, err
	}
	outs, err := t.project("*")
	if err != nil {
		return nil, err
	}
	var out []*Column
	err = t.scoped(func(sc *session.Scope) error {
		if len(keys) == 0 {
			return nil
		}
		var ks string
		switch {
		case len(keys) == 1:
			h, err := keys[0].resolve(t.sess)
			if err != nil {
				return err
			}
			if ks, err = sc.Bind(command.New("distinct", command.H(h))); err != nil {
				return err
			}
		case len(keys) == 2 && len(t.columns) == 2:
			view, err := t.pairView(keys[0], keys[1])
			if err != nil {
				return err
			}
			if ks, err = sc.Bind(command.New("pairdistinct", command.H(view))); err != nil {
				return err
			}
		default:
			r, err := t.groupRuns(sc, keys)
			if err != nil {
				return err
			}
			if ks, err = sc.Bind(command.New("distinct", command.H(r))); err != nil {
				return err
			}
		}
		var err error
		if out, err = t.restrictTo(sc, outs, ks); err != nil {
			return err
		}
		keep(sc, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.derive(out, t.nextKey), nil
}
