package table

import (
	"fmt"
	"strings"

	"coltable-go/command"
	"coltable-go/session"
	"coltable-go/types"
)

var ErrTableExists = func(name string) error {
	return types.ErrIllegal(fmt.Sprintf("a table named %s already exists", name))
}

var ErrNoSuchTable = func(name string) error {
	return fmt.Errorf("%w: table %s", types.ErrNotFound, name)
}

// columnHandle is the durable handle name of a saved table's column.
func columnHandle(table, column string) string {
	return table + "_" + column
}

// persistAs rebinds h under name and marks it durable.
func (t *Table) persistAs(h, name string) error {
	if h != name {
		if _, err := t.sess.Exec(command.New("rename", command.H(h), command.S(name))); err != nil {
			return err
		}
	}
	_, err := t.sess.Exec(command.New("persist", command.H(name)))
	return err
}

// Exists reports whether a saved table called name is present.
func Exists(sess *session.Session, name string) (bool, error) {
	return sess.Exists(name)
}

// Save makes t a named, durable table. Saving again under the current name
// is a no-op; a saved table saved under a new name moves.
func (t *Table) Save(name string) error {
	if err := t.live(); err != nil {
		return err
	}
	if err := validTableName(name); err != nil {
		return err
	}
	if t.persisted && t.name == name {
		return nil
	}
	taken, err := t.sess.Exists(name)
	if err != nil {
		return err
	}
	if taken {
		return ErrTableExists(name)
	}
	for _, c := range t.columns {
		taken, err := t.sess.Exists(columnHandle(name, c.Name))
		if err != nil {
			return err
		}
		if taken {
			return ErrTableExists(columnHandle(name, c.Name))
		}
	}

	oldName, wasSaved := t.name, t.persisted
	t.touchAll()
	for _, c := range t.columns {
		h, err := c.resolve(t.sess)
		if err != nil {
			return err
		}
		durable := columnHandle(name, c.Name)
		if err := t.persistAs(h, durable); err != nil {
			return err
		}
		c.state = Materialized{Handle: durable}
	}
	if wasSaved {
		t.sess.Free(oldName)
	}
	t.name = name
	t.persisted = true
	t.log = t.sess.Logger().With("table", name)
	if err := t.writeCatalog(); err != nil {
		return err
	}
	t.log.Info("saved table", "columns", len(t.columns), "previous", oldName)
	return nil
}

// writeCatalog (re)writes the catalog handle: one "name:type" entry per
// column, in column order.
func (t *Table) writeCatalog() error {
	ok, err := t.sess.Exists(t.name)
	if err != nil {
		return err
	}
	if ok {
		if _, err := t.sess.Exec(command.New("free", command.H(t.name))); err != nil {
			return err
		}
	}
	h, err := t.sess.Bind(command.New("new", command.S(types.String.String())))
	if err != nil {
		return err
	}
	for i, c := range t.columns {
		entry := ColumnSpec{Name: c.Name, Type: c.Type}.String()
		if _, err := t.sess.Exec(command.New("insert", command.H(h), command.Int(int64(i)), command.S(entry))); err != nil {
			t.sess.Free(h)
			return err
		}
	}
	return t.persistAs(h, t.name)
}

// Open attaches the saved table called name.
func Open(sess *session.Session, name string, opts ...Option) (*Table, error) {
	if err := validTableName(name); err != nil {
		return nil, err
	}
	ok, err := sess.Exists(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSuchTable(name)
	}
	res, err := sess.Exec(command.New("rows", command.H(name)))
	if err != nil {
		return nil, err
	}
	var (
		cols    []*Column
		nextKey uint64
	)
	for _, row := range res.Rows {
		entry, _ := row[0].(string)
		colName, typ, found := strings.Cut(entry, ":")
		if !found {
			return nil, ErrBadSpec("catalog entry", entry)
		}
		dt, err := types.ParseDataType(typ)
		if err != nil {
			return nil, err
		}
		h := columnHandle(name, colName)
		mk, err := sess.Exec(command.New("maxkey", command.H(h)))
		if err != nil {
			return nil, err
		}
		if k, ok := mk.Scalar.(uint64); ok && k+1 > nextKey {
			nextKey = k + 1
		}
		cols = append(cols, newColumn(colName, dt, h))
	}
	t := attach(sess, name, cols, nextKey, DefaultOptions())
	t.persisted = true
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Delete removes a saved table with all its columns. The table is released
// afterwards.
func (t *Table) Delete() error {
	if err := t.live(); err != nil {
		return err
	}
	if !t.persisted {
		return types.ErrIllegal(fmt.Sprintf("table %s is not saved", t.label()))
	}
	ok, err := t.sess.Exists(t.name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSuchTable(t.name)
	}
	t.dropPair()
	for _, c := range t.columns {
		h, isMat := c.handle()
		if !isMat {
			continue
		}
		present, err := t.sess.Exists(h)
		if err != nil {
			return err
		}
		if present {
			if _, err := t.sess.Exec(command.New("free", command.H(h))); err != nil {
				return err
			}
		}
	}
	if _, err := t.sess.Exec(command.New("free", command.H(t.name))); err != nil {
		return err
	}
	t.log.Info("deleted table")
	t.persisted = false
	t.released = true
	t.sess.Unregister(t)
	return nil
}
