package table

import (
	"context"
	"errors"
	"strings"
	"testing"

	"coltable-go/engine"
	"coltable-go/session"
	"coltable-go/types"

	"github.com/stretchr/testify/require"
)

func TestSaveOpenDelete(t *testing.T) {
	dir := t.TempDir()
	s, e := newTestSession(t, engine.WithDataDir(dir))

	tbl, err := FromSlices(s, "name:string, phone:int",
		[]any{"john", "paul", "john"},
		[]any{253, 471, 324},
	)
	require.NoError(t, err)
	require.NoError(t, tbl.Save("phones"))
	require.NoError(t, tbl.Save("phones"))
	require.True(t, tbl.Persisted())
	ok, err := Exists(s, "phones")
	require.NoError(t, err)
	require.True(t, ok)
	require.ElementsMatch(t, []string{"phones", "phones_name", "phones_phone"}, e.Handles())

	clash, err := FromSlices(s, "x:int", []any{1})
	require.NoError(t, err)
	defer clash.Release()
	require.ErrorIs(t, clash.Save("phones"), types.ErrIllegalOperation)
	require.ErrorIs(t, clash.Save("bad name"), types.ErrValidation)

	// in-place changes reach the durable copy
	require.NoError(t, tbl.InsertRow("ringo", 1))
	_, err = tbl.GroupBy("name", "g")
	require.NoError(t, err)
	require.NoError(t, tbl.Release())
	require.NoError(t, e.Close())

	reopened, err := engine.New(engine.WithDataDir(dir))
	require.NoError(t, err)
	defer reopened.Close()
	s2 := session.New(context.Background(), reopened)

	back, err := Open(s2, "phones")
	require.NoError(t, err)
	require.Equal(t, []string{"name", "phone", "g"}, back.Columns())
	require.Equal(t, types.Long, back.Schema()[2].Type)
	require.Equal(t, []uint64{0, 1, 2, 3}, keys(t, back))
	require.Equal(t, []any{"john", "paul", "john", "ringo"}, column(t, back, "name"))
	require.NoError(t, back.Check())

	require.NoError(t, back.InsertRow("george", 2, int64(9)))
	require.Equal(t, uint64(4), keys(t, back)[4])

	require.NoError(t, back.Delete())
	require.True(t, back.Released())
	require.Empty(t, reopened.Handles())
	_, err = Open(s2, "phones")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestSaveUnderNewName(t *testing.T) {
	s, e := newTestSession(t, engine.WithDataDir(t.TempDir()))
	tbl := phones(t, s)
	require.NoError(t, tbl.Save("first"))
	require.NoError(t, tbl.Save("second"))
	require.Equal(t, "second", tbl.Name())
	require.ElementsMatch(t, []string{"second", "second_name", "second_phone"}, e.Handles())

	require.NoError(t, tbl.RenameColumn("phone", "tel"))
	require.ElementsMatch(t, []string{"second", "second_name", "second_tel"}, e.Handles())

	reopened, err := Open(s, "second")
	require.NoError(t, err)
	require.Equal(t, []string{"name", "tel"}, reopened.Columns())

	transient, err := New(s, "", "a:int")
	require.NoError(t, err)
	defer transient.Release()
	require.ErrorIs(t, transient.Delete(), types.ErrIllegalOperation)
}

// flakyBackend fails the command containing op once skip matching commands
// have gone through.
type flakyBackend struct {
	*engine.ArrowEngine
	op   string
	skip int
}

func (b *flakyBackend) Exec(ctx context.Context, cmd string) (*engine.Result, error) {
	if b.op != "" && strings.Contains(cmd, b.op) {
		if b.skip == 0 {
			b.op = ""
			return nil, errors.New("disk full")
		}
		b.skip--
	}
	return b.ArrowEngine.Exec(ctx, cmd)
}

func TestOptimizeSavedTable(t *testing.T) {
	s, e := newTestSession(t, engine.WithDataDir(t.TempDir()))
	tbl := phones(t, s)
	require.NoError(t, tbl.Save("phones"))
	_, err := tbl.DeleteRows("name = 'paul'")
	require.NoError(t, err)

	require.NoError(t, tbl.Optimize())
	require.Equal(t, []uint64{0, 1}, keys(t, tbl))
	require.ElementsMatch(t, []string{"phones", "phones_name", "phones_phone"}, e.Handles())
	require.NoError(t, tbl.Check())
}

func TestOptimizeFailureFreesRekeyedColumns(t *testing.T) {
	e, err := engine.New(engine.WithDataDir(t.TempDir()))
	require.NoError(t, err)
	defer e.Close()
	backend := &flakyBackend{ArrowEngine: e}
	s := session.New(context.Background(), backend)

	tbl, err := FromSlices(s, "a:int, b:int, c:int", []any{1, 2}, []any{3, 4}, []any{5, 6})
	require.NoError(t, err)
	require.NoError(t, tbl.Save("abc"))

	backend.op, backend.skip = "persist(", 0
	require.ErrorIs(t, tbl.Optimize(), types.ErrBackendFault)
	// only the untouched columns and the catalog remain
	require.ElementsMatch(t, []string{"abc", "abc_b", "abc_c"}, e.Handles())
}
