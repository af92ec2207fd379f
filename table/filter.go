package table

import (
	"coltable-go/command"
	"coltable-go/dsl"
	"coltable-go/filter"
	"coltable-go/session"
	"coltable-go/types"
)

// output is one column of an operator's result: where it comes from and
// what it is called.
type output struct {
	src  *Column
	name string
}

func specsOf(outs []output) []ColumnSpec {
	specs := make([]ColumnSpec, len(outs))
	for i, o := range outs {
		specs[i] = ColumnSpec{Name: o.name, Type: o.src.Type}
	}
	return specs
}

// project resolves a projection spec against t's columns.
func (t *Table) project(spec string) ([]output, error) {
	proj, err := ParseProjection(spec)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		outs := make([]output, len(t.columns))
		for i, c := range t.columns {
			outs[i] = output{src: c, name: c.Name}
		}
		return outs, nil
	}
	outs := make([]output, 0, len(proj))
	for _, p := range proj {
		c, _, err := t.lookup(p.Name)
		if err != nil {
			return nil, err
		}
		outs = append(outs, output{src: c, name: p.As})
	}
	return outs, nil
}

// compile turns predicate text into a filter over t's columns; nil means
// every row.
func (t *Table) compile(predicate string) (filter.Filter, error) {
	schema := make([]dsl.Column, len(t.columns))
	for i, c := range t.columns {
		schema[i] = dsl.Column{Name: c.Name, Type: c.Type}
	}
	return dsl.CompileSchema(predicate, schema)
}

// selection renders f into a key set owned by sc. A nil filter selects the
// keys of the first column.
func (t *Table) selection(sc *session.Scope, f filter.Filter) (string, error) {
	if f == nil {
		h, err := t.first()
		if err != nil {
			return "", err
		}
		return sc.Bind(command.New("keys", command.H(h)))
	}
	return f.Render(t, sc)
}

// restrictTo builds the projected columns restricted to key set ks, or
// fresh empty columns when ks is empty.
func (t *Table) restrictTo(sc *session.Scope, outs []output, ks string) ([]*Column, error) {
	n, err := t.sess.Count(ks)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return freshColumns(sc, specsOf(outs))
	}
	cols := make([]*Column, 0, len(outs))
	for _, o := range outs {
		h, err := o.src.resolve(t.sess)
		if err != nil {
			return nil, err
		}
		r, err := sc.Bind(command.New("restrict", command.H(h), command.H(ks)))
		if err != nil {
			return nil, err
		}
		cols = append(cols, newColumn(o.name, o.src.Type, r))
	}
	return cols, nil
}

// Filter returns the rows selected by predicate, projected by projection.
// Row keys are kept, so filtering twice selects the same keys as once.
func (t *Table) Filter(predicate, projection string) (*Table, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	outs, err := t.project(projection)
	if err != nil {
		return nil, err
	}
	f, err := t.compile(predicate)
	if err != nil {
		return nil, err
	}
	return t.filterBy(f, outs)
}

// filterBy applies an already built filter; nil selects every row.
func (t *Table) filterBy(f filter.Filter, outs []output) (*Table, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	if outs == nil {
		var err error
		if outs, err = t.project("*"); err != nil {
			return nil, err
		}
	}
	var cols []*Column
	err := t.scoped(func(sc *session.Scope) error {
		if len(t.columns) == 0 {
			return nil
		}
		ks, err := t.selection(sc, f)
		if err != nil {
			return err
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
	t.log.Debug("filter", "predicate", filterText(f), "columns", len(cols))
	return t.derive(cols, t.nextKey), nil
}

func filterText(f filter.Filter) string {
	if f == nil {
		return "*"
	}
	return f.String()
}

// DeleteRows removes the rows selected by predicate from every column and
// returns how many went.
func (t *Table) DeleteRows(predicate string) (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	f, err := t.compile(predicate)
	if err != nil {
		return 0, err
	}
	var n int64
	err = t.scoped(func(sc *session.Scope) error {
		if len(t.columns) == 0 {
			return nil
		}
		ks, err := t.selection(sc, f)
		if err != nil {
			return err
		}
		if n, err = t.sess.Count(ks); err != nil || n == 0 {
			return err
		}
		t.touchAll()
		for _, c := range t.columns {
			h, err := c.resolve(t.sess)
			if err != nil {
				return err
			}
			if _, err := t.sess.Exec(command.New("delete", command.H(h), command.H(ks))); err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

// Replace sets column to value on the rows selected by predicate and
// returns how many rows changed.
func (t *Table) Replace(predicate, column string, value any) (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	c, _, err := t.lookup(column)
	if err != nil {
		return 0, err
	}
	arg, err := c.arg(value)
	if err != nil {
		return 0, err
	}
	f, err := t.compile(predicate)
	if err != nil {
		return 0, err
	}
	var n int64
	err = t.scoped(func(sc *session.Scope) error {
		ks, err := t.selection(sc, f)
		if err != nil {
			return err
		}
		h, err := c.resolve(t.sess)
		if err != nil {
			return err
		}
		t.touch(c.Name)
		res, err := t.sess.Exec(command.New("update", command.H(h), command.H(ks), arg))
		if err != nil {
			return err
		}
		n = res.Count
		return nil
	})
	return n, err
}

// RenameColumn renames a column in place.
func (t *Table) RenameColumn(from, to string) error {
	if err := t.live(); err != nil {
		return err
	}
	if err := validColumnName(to); err != nil {
		return err
	}
	c, _, err := t.lookup(from)
	if err != nil {
		return err
	}
	if other, _, err := t.lookup(to); err == nil && other != c {
		return ErrDuplicateColumn(to)
	}
	t.touch(c.Name)
	if t.persisted {
		h, err := c.resolve(t.sess)
		if err != nil {
			return err
		}
		durable := columnHandle(t.name, to)
		if durable != h {
			if err := t.persistAs(h, durable); err != nil {
				return err
			}
		}
		c.state = Materialized{Handle: durable}
		c.Name = to
		return t.writeCatalog()
	}
	c.Name = to
	return nil
}

// AddColumn attaches a column computed by commandText (for example
// "convert(h, 'double')"). The command runs on first access.
func (t *Table) AddColumn(name string, dt types.DataType, commandText string) error {
	if err := t.live(); err != nil {
		return err
	}
	if err := validColumnName(name); err != nil {
		return err
	}
	if _, _, err := t.lookup(name); err == nil {
		return ErrDuplicateColumn(name)
	}
	cmd, err := command.Parse(commandText)
	if err != nil {
		return types.ErrInvalidPredicate(err.Error())
	}
	if len(cmd.Targets) != 0 {
		return types.ErrInvalidPredicate("column command must not bind targets itself")
	}
	c := &Column{Name: name, Type: dt, state: Pending{Command: cmd}}
	t.columns = append(t.columns, c)
	if t.persisted {
		h, err := c.resolve(t.sess)
		if err != nil {
			return err
		}
		if err := t.persistAs(h, columnHandle(t.name, name)); err != nil {
			return err
		}
		c.state = Materialized{Handle: columnHandle(t.name, name)}
		return t.writeCatalog()
	}
	return nil
}

// DropColumn removes a column and frees its handle.
func (t *Table) DropColumn(name string) error {
	if err := t.live(); err != nil {
		return err
	}
	c, i, err := t.lookup(name)
	if err != nil {
		return err
	}
	t.touch(c.Name)
	t.columns = append(t.columns[:i], t.columns[i+1:]...)
	if h, ok := c.handle(); ok {
		if _, err := t.sess.Exec(command.New("free", command.H(h))); err != nil {
			return err
		}
	}
	if t.persisted {
		return t.writeCatalog()
	}
	return nil
}
