package table

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coltable-go/command"
	"coltable-go/engine"
	"coltable-go/session"
	"coltable-go/storage"
	"coltable-go/types"
)

var ErrRowWidth = func(want, got int) error {
	return types.ErrMismatch(fmt.Sprintf("row has %d values, table has %d columns", got, want))
}

// ResultSet is a block of rows read back from a table.
type ResultSet struct {
	Columns []ColumnSpec
	Keys    []uint64
	Rows    [][]any
}

func (r *ResultSet) Len() int { return len(r.Rows) }

// handles resolves every column.
func (t *Table) handles(cols []*Column) ([]string, error) {
	hs := make([]string, len(cols))
	for i, c := range cols {
		h, err := c.resolve(t.sess)
		if err != nil {
			return nil, err
		}
		hs[i] = h
	}
	return hs, nil
}

// InsertRow appends one row under the next key. values follow column order;
// nil stores null. A failed row leaves no trace in any column.
func (t *Table) InsertRow(values ...any) error {
	if err := t.live(); err != nil {
		return err
	}
	if len(values) != len(t.columns) {
		return ErrRowWidth(len(t.columns), len(values))
	}
	args := make([]command.Arg, len(values))
	for i, v := range values {
		a, err := t.columns[i].arg(v)
		if err != nil {
			return err
		}
		args[i] = a
	}
	hs, err := t.handles(t.columns)
	if err != nil {
		return err
	}
	key := t.nextKey
	t.touchAll()
	for i, h := range hs {
		if _, err := t.sess.Exec(command.New("insert", command.H(h), command.Uint(key), args[i])); err != nil {
			t.undoInsert(hs[:i], key)
			return err
		}
	}
	t.nextKey++
	return nil
}

// undoInsert removes key from the columns a failed InsertRow already wrote.
func (t *Table) undoInsert(hs []string, key uint64) {
	if len(hs) == 0 {
		return
	}
	err := t.scoped(func(sc *session.Scope) error {
		ks, err := sc.Bind(command.New("new", command.S(types.Oid.String())))
		if err != nil {
			return err
		}
		if _, err := t.sess.Exec(command.New("insert", command.H(ks), command.Uint(key), command.Uint(key))); err != nil {
			return err
		}
		for _, h := range hs {
			if _, err := t.sess.Exec(command.New("delete", command.H(h), command.H(ks))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.log.Error("failed to roll back partial row", "key", key, "err", err)
	}
}

// InsertRows appends rows in order and returns how many went in. Above the
// fast insert threshold the rows are bulk-loaded through a temp file.
func (t *Table) InsertRows(rows [][]any) (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	if len(rows) > t.opts.FastInsertThreshold {
		return t.FastInsert(rows)
	}
	for i, row := range rows {
		if err := t.InsertRow(row...); err != nil {
			return int64(i), fmt.Errorf("row %d: %w", i, err)
		}
	}
	return int64(len(rows)), nil
}

// fieldText renders v the way load reads it back for column c.
func fieldText(c *Column, v any) (string, error) {
	a, err := c.arg(v)
	if err != nil {
		return "", err
	}
	if a.Kind == command.Nil {
		return engine.NullText, nil
	}
	return engine.EscapeField(a.Text), nil
}

// FastInsert writes rows to a temporary tab-delimited file and loads it with
// one command.
func (t *Table) FastInsert(rows [][]any) (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	records := make([][]string, len(rows))
	for i, row := range rows {
		if len(row) != len(t.columns) {
			return 0, fmt.Errorf("row %d: %w", i, ErrRowWidth(len(t.columns), len(row)))
		}
		rec := make([]string, len(row))
		for j, v := range row {
			s, err := fieldText(t.columns[j], v)
			if err != nil {
				return 0, fmt.Errorf("row %d: %w", i, err)
			}
			rec[j] = s
		}
		records[i] = rec
	}

	f, err := storage.TempFile(t.opts.TempDir, "rows.tsv")
	if err != nil {
		return 0, err
	}
	path := f.Name()
	defer removeQuietly(t.log, path)
	w := engine.NewTSVWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	n, err := t.load(path)
	if err != nil {
		return 0, err
	}
	if n != int64(len(rows)) {
		return n, fmt.Errorf("%w: fast insert loaded %d of %d rows", types.ErrBackendFault, n, len(rows))
	}
	t.log.Debug("fast insert", "rows", n)
	return n, nil
}

// load bulk-loads a local file into every column from the next key on.
func (t *Table) load(path string) (int64, error) {
	hs, err := t.handles(t.columns)
	if err != nil {
		return 0, err
	}
	args := []command.Arg{command.S(path), command.Uint(t.nextKey)}
	for _, h := range hs {
		args = append(args, command.H(h))
	}
	t.touchAll()
	res, err := t.sess.Exec(command.New("load", args...))
	if err != nil {
		return 0, err
	}
	t.nextKey += uint64(res.Count)
	return res.Count, nil
}

// LoadFile appends the rows of a tab-delimited or parquet file, local or
// s3://bucket/key, and returns how many were read.
func (t *Table) LoadFile(path string) (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	if len(t.columns) == 0 {
		return 0, types.ErrIllegal(fmt.Sprintf("table %s has no columns to load into", t.label()))
	}
	store, key, err := storage.Resolve(path, t.opts.S3)
	if err != nil {
		return 0, err
	}
	local, cleanup, err := store.Fetch(t.sess.Context(), key)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer cleanup()
	n, err := t.load(local)
	if err != nil {
		return 0, err
	}
	t.log.Info("loaded file", "path", path, "rows", n)
	return n, nil
}

// FromFile creates a table with the given schema and loads path into it.
func FromFile(sess *session.Session, name, schema, path string, opts ...Option) (*Table, error) {
	t, err := New(sess, name, schema, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := t.LoadFile(path); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// FromSlices builds a transient table from one slice per column. Slices must
// have equal length; nil entries are nulls.
func FromSlices(sess *session.Session, schema string, columns ...[]any) (*Table, error) {
	t, err := New(sess, "", schema)
	if err != nil {
		return nil, err
	}
	if len(columns) != len(t.columns) {
		t.Release()
		return nil, ErrRowWidth(len(t.columns), len(columns))
	}
	if len(columns) == 0 {
		return t, nil
	}
	n := len(columns[0])
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = make([]any, len(columns))
	}
	for j, col := range columns {
		if len(col) != n {
			t.Release()
			return nil, types.ErrMismatch(fmt.Sprintf("column %s has %d values, expected %d", t.columns[j].Name, len(col), n))
		}
		for i, v := range col {
			rows[i][j] = v
		}
	}
	if _, err := t.InsertRows(rows); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// ToFile writes every row to path, local or s3://bucket/key. Paths ending in
// .parquet are written as parquet, anything else as tab-delimited text with
// "nil" for nulls.
func (t *Table) ToFile(path string) error {
	if err := t.live(); err != nil {
		return err
	}
	store, key, err := storage.Resolve(path, t.opts.S3)
	if err != nil {
		return err
	}
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		return t.writeParquet(store, path, key)
	}
	out, err := store.Create(t.sess.Context(), key)
	if err != nil {
		return err
	}
	if err := t.WriteTSV(out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	t.log.Info("wrote file", "path", path)
	return nil
}

// WriteTSV writes every row to w as tab-delimited text.
func (t *Table) WriteTSV(w io.Writer) error {
	rs, err := t.Rows("*")
	if err != nil {
		return err
	}
	tw := engine.NewTSVWriter(w)
	rec := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i, v := range row {
			rec[i] = formatField(rs.Columns[i].Type, v)
		}
		if err := tw.Write(rec); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func formatField(dt types.DataType, v any) string {
	if v == nil {
		return engine.NullText
	}
	if tm, ok := v.(time.Time); ok {
		switch dt {
		case types.Date:
			return tm.Format(dateLayout)
		case types.Timestamp:
			return tm.Format(timestampLayout)
		}
	}
	return engine.EscapeField(engine.FormatValue(v))
}

// writeParquet has the engine write a local parquet file and, for remote
// paths, uploads it.
func (t *Table) writeParquet(store storage.Store, path, key string) error {
	local := key
	remote := storage.IsRemote(path)
	if remote {
		f, err := storage.TempFile(t.opts.TempDir, key)
		if err != nil {
			return err
		}
		local = f.Name()
		f.Close()
		defer removeQuietly(t.log, local)
	} else if dir := filepath.Dir(local); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	hs, err := t.handles(t.columns)
	if err != nil {
		return err
	}
	args := []command.Arg{command.S(local), command.S(strings.Join(t.Columns(), ","))}
	for _, h := range hs {
		args = append(args, command.H(h))
	}
	if _, err := t.sess.Exec(command.New("writeparquet", args...)); err != nil {
		return err
	}
	if remote {
		if err := upload(t, store, local, key); err != nil {
			return err
		}
	}
	t.log.Info("wrote parquet", "path", path)
	return nil
}

func upload(t *Table, store storage.Store, local, key string) error {
	in, err := os.Open(local)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := store.Create(t.sess.Context(), key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Rows reads rows back by a row-range spec: "*" for every row, "from-to" for
// the zero-based inclusive positions in key order, "?N" for N random rows.
// columns picks what to read; none means every column.
func (t *Table) Rows(rangeSpec string, columns ...string) (*ResultSet, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	rr, err := ParseRowRange(rangeSpec)
	if err != nil {
		return nil, err
	}
	cols, err := t.columnsOf(strings.Join(columns, ","))
	if err != nil {
		return nil, err
	}
	rs := &ResultSet{Columns: make([]ColumnSpec, len(cols))}
	for i, c := range cols {
		rs.Columns[i] = ColumnSpec{Name: c.Name, Type: c.Type}
	}
	if len(cols) == 0 {
		return rs, nil
	}
	err = t.scoped(func(sc *session.Scope) error {
		hs, err := t.handles(cols)
		if err != nil {
			return err
		}
		var args []command.Arg
		if !rr.All {
			base, err := t.first()
			if err != nil {
				return err
			}
			var sel command.Command
			if rr.Random {
				sel = command.New("sample", command.H(base), command.Int(rr.Sample))
			} else {
				sel = command.New("window", command.H(base), command.Int(rr.From), command.Int(rr.To))
			}
			ks, err := sc.Bind(sel)
			if err != nil {
				return err
			}
			args = append(args, command.H(ks))
		}
		for _, h := range hs {
			args = append(args, command.H(h))
		}
		res, err := t.sess.Exec(command.New("rows", args...))
		if err != nil {
			return err
		}
		rs.Keys, rs.Rows = res.Keys, res.Rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Pairs reads columns a and b through the table's cached two-column view.
func (t *Table) Pairs(a, b string) (*ResultSet, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	ca, _, err := t.lookup(a)
	if err != nil {
		return nil, err
	}
	cb, _, err := t.lookup(b)
	if err != nil {
		return nil, err
	}
	view, err := t.pairView(ca, cb)
	if err != nil {
		return nil, err
	}
	res, err := t.sess.Exec(command.New("rows", command.H(view)))
	if err != nil {
		return nil, err
	}
	return &ResultSet{
		Columns: []ColumnSpec{{Name: ca.Name, Type: ca.Type}, {Name: cb.Name, Type: cb.Type}},
		Keys:    res.Keys,
		Rows:    res.Rows,
	}, nil
}
