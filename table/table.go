// Package table implements tables as sets of independently stored columns
// that share one row-key space. Every relational operator compiles into
// backend commands sent through a session; the returned tables own their
// column handles and register with the caller's current scope.
package table

import (
	"fmt"
	"log/slog"
	"os"

	"coltable-go/command"
	"coltable-go/config"
	"coltable-go/session"
	"coltable-go/storage"
	"coltable-go/types"
)

// Options tune the bulk paths of a table. Derived tables inherit them.
type Options struct {
	// InsertRows switches to a temp file and one load above this many rows
	FastInsertThreshold int
	TempDir             string
	S3                  storage.S3Options
}

// DefaultOptions reads the process configuration.
func DefaultOptions() Options {
	cfg := config.GetConfig()
	return Options{
		FastInsertThreshold: cfg.Table.FastInsertThreshold,
		TempDir:             cfg.Table.TempDir,
		S3: storage.S3Options{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
		},
	}
}

type Option func(*Table)

func WithOptions(o Options) Option {
	return func(t *Table) { t.opts = o }
}

// AsCore marks a built-in table that Release never frees.
func AsCore() Option {
	return func(t *Table) { t.core = true }
}

// pairCache is the cached two-column view of columns a and b. Its handle is
// owned by the table alone, never by a scope.
type pairCache struct {
	a, b   string
	handle string
}

type Table struct {
	sess      *session.Session
	name      string
	columns   []*Column
	nextKey   uint64
	released  bool
	persisted bool
	core      bool
	pair      *pairCache
	opts      Options
	log       *slog.Logger
}

// New creates an empty table with the given schema ("name:type, ...").
func New(sess *session.Session, name, schema string, opts ...Option) (*Table, error) {
	if name != "" {
		if err := validTableName(name); err != nil {
			return nil, err
		}
	}
	specs, err := ParseSchema(schema)
	if err != nil {
		return nil, err
	}
	cols := make([]*Column, 0, len(specs))
	for _, spec := range specs {
		h, err := sess.Bind(command.New("new", command.S(spec.Type.String())))
		if err != nil {
			for _, c := range cols {
				sess.Free(c.mustHandle())
			}
			return nil, err
		}
		cols = append(cols, newColumn(spec.Name, spec.Type, h))
	}
	t := attach(sess, name, cols, 0, DefaultOptions())
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// attach wraps owned column handles into a table registered with the
// session's current scope.
func attach(sess *session.Session, name string, cols []*Column, nextKey uint64, opts Options) *Table {
	t := &Table{
		sess:    sess,
		name:    name,
		columns: cols,
		nextKey: nextKey,
		opts:    opts,
	}
	t.log = sess.Logger().With("table", t.label())
	sess.Register(t)
	return t
}

// derive builds a transient result table sharing t's session and options.
func (t *Table) derive(cols []*Column, nextKey uint64) *Table {
	return attach(t.sess, "", cols, nextKey, t.opts)
}

func (c *Column) mustHandle() string {
	h, _ := c.handle()
	return h
}

func (t *Table) label() string {
	if t.name == "" {
		return "transient"
	}
	return t.name
}

func (t *Table) live() error {
	if t.released {
		return types.ErrReleased(t.label())
	}
	return nil
}

func (t *Table) Name() string              { return t.name }
func (t *Table) Persisted() bool           { return t.persisted }
func (t *Table) Released() bool            { return t.released }
func (t *Table) Session() *session.Session { return t.sess }

// Columns lists the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Name
	}
	return out
}

// Schema lists the column declarations in order.
func (t *Table) Schema() []ColumnSpec {
	out := make([]ColumnSpec, len(t.columns))
	for i, c := range t.columns {
		out[i] = ColumnSpec{Name: c.Name, Type: c.Type}
	}
	return out
}

func (t *Table) lookup(name string) (*Column, int, error) {
	for i, c := range t.columns {
		if types.EqualFold(c.Name, name) {
			return c, i, nil
		}
	}
	return nil, -1, types.ErrColumnMissing(name, t.Columns())
}

// Column resolves name to its backing handle and type, materializing a
// pending column on first use.
func (t *Table) Column(name string) (string, types.DataType, error) {
	if err := t.live(); err != nil {
		return "", types.Invalid, err
	}
	c, _, err := t.lookup(name)
	if err != nil {
		return "", types.Invalid, err
	}
	h, err := c.resolve(t.sess)
	if err != nil {
		return "", types.Invalid, err
	}
	return h, c.Type, nil
}

// first returns the handle that stands for the table's key set.
func (t *Table) first() (string, error) {
	if len(t.columns) == 0 {
		return "", types.ErrIllegal(fmt.Sprintf("table %s has no columns", t.label()))
	}
	return t.columns[0].resolve(t.sess)
}

// Count returns the number of rows.
func (t *Table) Count() (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	if len(t.columns) == 0 {
		return 0, nil
	}
	h, err := t.first()
	if err != nil {
		return 0, err
	}
	return t.sess.Count(h)
}

// scoped runs fn with a scope that owns its temporaries. fn moves the
// handles it hands back out of the scope with Keep.
func (t *Table) scoped(fn func(sc *session.Scope) error) error {
	sc := t.sess.Open()
	defer sc.Close()
	return fn(sc)
}

// freshColumns allocates empty columns of the given shapes.
func freshColumns(sc *session.Scope, specs []ColumnSpec) ([]*Column, error) {
	cols := make([]*Column, 0, len(specs))
	for _, spec := range specs {
		h, err := sc.Bind(command.New("new", command.S(spec.Type.String())))
		if err != nil {
			return nil, err
		}
		cols = append(cols, newColumn(spec.Name, spec.Type, h))
	}
	return cols, nil
}

// keep moves every column handle out of sc.
func keep(sc *session.Scope, cols []*Column) []*Column {
	for _, c := range cols {
		sc.Keep(c.mustHandle())
	}
	return cols
}

// Release frees every column handle and the pair cache. It is idempotent;
// core tables stay intact and saved tables only let go of their columns.
func (t *Table) Release() error {
	if t.released || t.core {
		return nil
	}
	t.released = true
	t.sess.Unregister(t)
	t.dropPair()
	if t.persisted {
		t.log.Debug("detached saved table")
		return nil
	}
	for _, c := range t.columns {
		if h, ok := c.handle(); ok {
			t.sess.Free(h)
		}
	}
	t.log.Debug("released", "columns", len(t.columns))
	return nil
}

// Check verifies that every column holds exactly the key set of the first.
func (t *Table) Check() error {
	if err := t.live(); err != nil {
		return err
	}
	if len(t.columns) < 2 {
		return nil
	}
	return t.scoped(func(sc *session.Scope) error {
		base, err := t.first()
		if err != nil {
			return err
		}
		for _, c := range t.columns[1:] {
			h, err := c.resolve(t.sess)
			if err != nil {
				return err
			}
			for _, pair := range [][2]string{{base, h}, {h, base}} {
				d, err := sc.Bind(command.New("kdiff", command.H(pair[0]), command.H(pair[1])))
				if err != nil {
					return err
				}
				n, err := t.sess.Count(d)
				if err != nil {
					return err
				}
				if n != 0 {
					return types.ErrIllegal(fmt.Sprintf("column %s of %s is out of sync with %s", c.Name, t.label(), t.columns[0].Name))
				}
			}
		}
		return nil
	})
}

// Optimize re-keys every column densely as 0..n-1 in key order.
func (t *Table) Optimize() error {
	if err := t.live(); err != nil {
		return err
	}
	if len(t.columns) == 0 {
		return nil
	}
	var (
		fresh []string
		n     int64
	)
	err := t.scoped(func(sc *session.Scope) error {
		base, err := t.first()
		if err != nil {
			return err
		}
		ks, err := sc.Bind(command.New("keys", command.H(base)))
		if err != nil {
			return err
		}
		if n, err = t.sess.Count(ks); err != nil {
			return err
		}
		m, err := sc.Bind(command.New("renumber", command.H(ks), command.S("l"), command.Int(0)))
		if err != nil {
			return err
		}
		for _, c := range t.columns {
			h, err := c.resolve(t.sess)
			if err != nil {
				return err
			}
			nh, err := sc.Bind(command.New("fetch", command.H(h), command.H(m)))
			if err != nil {
				return err
			}
			fresh = append(fresh, nh)
		}
		sc.Keep(fresh...)
		return nil
	})
	if err != nil {
		return err
	}
	t.dropPair()
	if !t.persisted {
		olds := make([]string, 0, len(t.columns))
		for i, c := range t.columns {
			if old, ok := c.handle(); ok {
				olds = append(olds, old)
			}
			c.state = Materialized{Handle: fresh[i]}
		}
		t.sess.Free(olds...)
		t.nextKey = uint64(n)
		return nil
	}
	for i, c := range t.columns {
		if err := t.replaceHandle(c, fresh[i]); err != nil {
			t.sess.Free(fresh[i+1:]...)
			return fmt.Errorf("optimize %s stopped at column %s: %w", t.label(), c.Name, err)
		}
	}
	t.nextKey = uint64(n)
	return nil
}

// replaceHandle swaps c's backing handle for h, keeping a saved table's
// handle names stable.
func (t *Table) replaceHandle(c *Column, h string) error {
	old, _ := c.handle()
	if old != "" {
		if _, err := t.sess.Exec(command.New("free", command.H(old))); err != nil {
			t.sess.Free(h)
			return err
		}
	}
	if t.persisted {
		durable := columnHandle(t.name, c.Name)
		if err := t.persistAs(h, durable); err != nil {
			for _, name := range []string{h, durable} {
				if ok, _ := t.sess.Exists(name); ok {
					t.sess.Free(name)
				}
			}
			return err
		}
		h = durable
	}
	c.state = Materialized{Handle: h}
	return nil
}

// dropPair frees the pair cache.
func (t *Table) dropPair() {
	if t.pair == nil {
		return
	}
	t.sess.Free(t.pair.handle)
	t.pair = nil
}

// touch drops the pair cache when it covers any of the named columns.
func (t *Table) touch(names ...string) {
	if t.pair == nil {
		return
	}
	for _, n := range names {
		if types.EqualFold(n, t.pair.a) || types.EqualFold(n, t.pair.b) {
			t.dropPair()
			return
		}
	}
}

func (t *Table) touchAll() { t.dropPair() }

// pairView returns the cached view over columns a and b, building it when
// missing.
func (t *Table) pairView(a, b *Column) (string, error) {
	if t.pair != nil && types.EqualFold(t.pair.a, a.Name) && types.EqualFold(t.pair.b, b.Name) {
		return t.pair.handle, nil
	}
	t.dropPair()
	ha, err := a.resolve(t.sess)
	if err != nil {
		return "", err
	}
	hb, err := b.resolve(t.sess)
	if err != nil {
		return "", err
	}
	h, err := t.sess.Bind(command.New("pair", command.H(ha), command.H(hb)))
	if err != nil {
		return "", err
	}
	t.pair = &pairCache{a: a.Name, b: b.Name, handle: h}
	return h, nil
}

func removeQuietly(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove temp file", "path", path, "err", err)
	}
}
