package table

import (
	"context"
	"testing"

	"coltable-go/engine"
	"coltable-go/filter"
	"coltable-go/session"
	"coltable-go/types"

	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, opts ...engine.Option) (*session.Session, *engine.ArrowEngine) {
	t.Helper()
	e, err := engine.New(append([]engine.Option{engine.WithSeed(7)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return session.New(context.Background(), e), e
}

// phones is T(name, phone) = {john 253, paul 471, john 324} under keys 0..2.
func phones(t *testing.T, s *session.Session) *Table {
	t.Helper()
	tbl, err := FromSlices(s, "name:string, phone:int",
		[]any{"john", "paul", "john"},
		[]any{253, 471, 324},
	)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Release() })
	return tbl
}

func column(t *testing.T, tbl *Table, name string) []any {
	t.Helper()
	rs, err := tbl.Rows("*", name)
	require.NoError(t, err)
	out := make([]any, len(rs.Rows))
	for i, row := range rs.Rows {
		out[i] = row[0]
	}
	return out
}

func keys(t *testing.T, tbl *Table) []uint64 {
	t.Helper()
	rs, err := tbl.Rows("*")
	require.NoError(t, err)
	return rs.Keys
}

func TestNewTable(t *testing.T) {
	s, _ := newTestSession(t)
	tbl, err := New(s, "people", "name:string, phone:int")
	require.NoError(t, err)
	defer tbl.Release()

	require.Equal(t, "people", tbl.Name())
	require.Equal(t, []string{"name", "phone"}, tbl.Columns())
	n, err := tbl.Count()
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = New(s, "no spaces", "a:int")
	require.ErrorIs(t, err, types.ErrValidation)
	_, err = New(s, "", "a:int, a:long")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestPhoneExample(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)

	johns, err := tbl.Filter("name = 'john'", "phone")
	require.NoError(t, err)
	defer johns.Release()
	require.Equal(t, []any{int32(253), int32(324)}, column(t, johns, "phone"))

	big, err := tbl.Filter("phone > 300", "*")
	require.NoError(t, err)
	defer big.Release()
	require.Equal(t, []any{int32(471), int32(324)}, column(t, big, "phone"))
	require.Equal(t, []uint64{1, 2}, keys(t, big))

	sorted, err := tbl.Sort("phone", "*")
	require.NoError(t, err)
	defer sorted.Release()
	require.Equal(t, []any{int32(253), int32(324), int32(471)}, column(t, sorted, "phone"))
	require.Equal(t, []uint64{0, 1, 2}, keys(t, sorted))

	between, err := tbl.Filter("phone BETWEEN 200-400", "phone")
	require.NoError(t, err)
	defer between.Release()
	require.Equal(t, []any{int32(253), int32(324)}, column(t, between, "phone"))

	ranged, err := tbl.filterBy(filter.NewRange("phone", filter.Num("200"), filter.Num("400")), nil)
	require.NoError(t, err)
	defer ranged.Release()
	require.Equal(t, []uint64{0, 2}, keys(t, ranged))

	groups, err := tbl.GroupBy("name", "")
	require.NoError(t, err)
	require.Equal(t, int64(2), groups)
	require.Equal(t, []any{int64(0), int64(1), int64(0)}, column(t, tbl, DefaultGroupColumn))
	require.NoError(t, tbl.Check())
}

func TestFilterProjectionRenames(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)

	out, err := tbl.Filter("*", "phone AS tel, name")
	require.NoError(t, err)
	defer out.Release()
	require.Equal(t, []string{"tel", "name"}, out.Columns())
	require.Equal(t, []any{int32(253), int32(471), int32(324)}, column(t, out, "tel"))

	_, err = tbl.Filter("*", "nosuch")
	require.ErrorIs(t, err, types.ErrColumnNotFound)
	_, err = tbl.Filter("name ~ 1", "*")
	require.ErrorIs(t, err, types.ErrValidation)
	_, err = tbl.Filter("phone > 'abc'", "*")
	require.ErrorIs(t, err, types.ErrValidation)
	require.NotErrorIs(t, err, types.ErrBackendFault)
}

func TestFilterIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	const pred = "phone > 200 AND name = 'john'"

	once, err := tbl.Filter(pred, "*")
	require.NoError(t, err)
	defer once.Release()
	twice, err := once.Filter(pred, "*")
	require.NoError(t, err)
	defer twice.Release()
	require.Equal(t, keys(t, once), keys(t, twice))
	require.Equal(t, []uint64{0, 2}, keys(t, twice))
}

func TestFilterIsLeftAssociative(t *testing.T) {
	s, _ := newTestSession(t)
	tbl, err := FromSlices(s, "a:int, b:int, c:int",
		[]any{1, 1, 0, 0},
		[]any{2, 0, 0, 2},
		[]any{0, 3, 3, 0},
	)
	require.NoError(t, err)
	defer tbl.Release()

	out, err := tbl.Filter("a EQ 1 AND b EQ 2 OR c EQ 3", "*")
	require.NoError(t, err)
	defer out.Release()
	// a=1 AND (b=2 OR c=3) would select 0 and 1 only
	require.Equal(t, []uint64{0, 1, 2}, keys(t, out))
}

func TestZeroRowResultsKeepSchema(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)

	none, err := tbl.Filter("name = 'nobody'", "phone AS tel, name")
	require.NoError(t, err)
	defer none.Release()
	require.Equal(t, []ColumnSpec{{Name: "tel", Type: types.Int}, {Name: "name", Type: types.String}}, none.Schema())
	n, err := none.Count()
	require.NoError(t, err)
	require.Zero(t, n)

	// a zero-row result joins like any other table
	joined, err := none.Join(tbl, []string{"name"}, []string{"name"}, "*")
	require.NoError(t, err)
	defer joined.Release()
	require.Equal(t, []string{"tel", "A.name", "B.name", "phone"}, joined.Columns())
	n, err = joined.Count()
	require.NoError(t, err)
	require.Zero(t, n)

	sorted, err := none.Sort("tel DESC", "*")
	require.NoError(t, err)
	defer sorted.Release()
	require.Equal(t, none.Schema(), sorted.Schema())
}

func TestReleaseIsIdempotent(t *testing.T) {
	s, e := newTestSession(t)
	base := e.Live()
	tbl, err := FromSlices(s, "name:string, phone:int", []any{"a"}, []any{1})
	require.NoError(t, err)
	_, err = tbl.Pairs("name", "phone")
	require.NoError(t, err)

	require.NoError(t, tbl.Release())
	require.NoError(t, tbl.Release())
	require.True(t, tbl.Released())
	require.Equal(t, base, e.Live())

	_, err = tbl.Filter("*", "*")
	require.ErrorIs(t, err, types.ErrIllegalOperation)
	_, err = tbl.Count()
	require.ErrorIs(t, err, types.ErrIllegalOperation)
	require.ErrorIs(t, tbl.InsertRow("b", 2), types.ErrIllegalOperation)
	_, _, err = tbl.Column("name")
	require.ErrorIs(t, err, types.ErrIllegalOperation)
}

func TestCoreTablesSurviveRelease(t *testing.T) {
	s, _ := newTestSession(t)
	tbl, err := New(s, "objects", "id:oid", AsCore())
	require.NoError(t, err)
	require.NoError(t, tbl.Release())
	require.False(t, tbl.Released())
	require.NoError(t, tbl.InsertRow(uint64(9)))
}

func TestScopeReleasesTables(t *testing.T) {
	s, e := newTestSession(t)
	base := e.Live()

	sc := s.Open()
	tbl, err := FromSlices(s, "name:string, phone:int",
		[]any{"john", "paul", "john"},
		[]any{253, 471, 324},
	)
	require.NoError(t, err)
	other, err := FromSlices(s, "name:string, city:string", []any{"john"}, []any{"york"})
	require.NoError(t, err)

	_, err = tbl.Filter("phone > 300", "*")
	require.NoError(t, err)
	_, err = tbl.LeftOuterJoin(other, []string{"name"}, []string{"name"}, "*")
	require.NoError(t, err)
	_, err = tbl.Aggregate("sum", "name", "phone", nil)
	require.NoError(t, err)
	_, err = tbl.Distinct("name")
	require.NoError(t, err)
	_, err = tbl.GroupBy("name, phone", "g")
	require.NoError(t, err)
	_, err = tbl.Pairs("name", "g")
	require.NoError(t, err)
	sc.Close()

	require.True(t, tbl.Released())
	require.Equal(t, base, e.Live())
}

func TestInsertRowRoundTrip(t *testing.T) {
	s, _ := newTestSession(t)
	tbl, err := New(s, "", "name:string, phone:int, score:double, ok:boolean, id:oid")
	require.NoError(t, err)
	defer tbl.Release()

	require.NoError(t, tbl.InsertRow("john", 253, 2.5, true, uint64(11)))
	require.NoError(t, tbl.InsertRow(nil, nil, nil, nil, nil))

	all, err := tbl.Filter("*", "*")
	require.NoError(t, err)
	defer all.Release()
	rs, err := all.Rows("*")
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1}, rs.Keys)
	require.Equal(t, [][]any{
		{"john", int32(253), 2.5, true, uint64(11)},
		{nil, nil, nil, nil, nil},
	}, rs.Rows)

	require.ErrorIs(t, tbl.InsertRow("too", "few"), types.ErrSchemaMismatch)
	require.ErrorIs(t, tbl.InsertRow("x", 2.5, 1.0, true, uint64(1)), types.ErrSchemaMismatch)
}

func TestInsertRowRollsBackPartialRows(t *testing.T) {
	s, _ := newTestSession(t)
	tbl, err := New(s, "", "name:string, phone:int")
	require.NoError(t, err)
	defer tbl.Release()

	err = tbl.InsertRow("john", "not a number")
	require.ErrorIs(t, err, types.ErrBackendFault)
	n, err := tbl.Count()
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, tbl.Check())

	require.NoError(t, tbl.InsertRow("john", 1))
	require.Equal(t, []uint64{0}, keys(t, tbl))
}

func TestDeleteAndReplace(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)

	n, err := tbl.Replace("name = 'paul'", "phone", 500)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, []any{int32(253), int32(500), int32(324)}, column(t, tbl, "phone"))

	_, err = tbl.Replace("*", "phone", "x")
	require.ErrorIs(t, err, types.ErrBackendFault)

	n, err = tbl.DeleteRows("name = 'john'")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, []uint64{1}, keys(t, tbl))
	require.NoError(t, tbl.Check())

	// keys are never reused
	require.NoError(t, tbl.InsertRow("ringo", 1))
	require.Equal(t, []uint64{1, 3}, keys(t, tbl))
}

func TestColumnManagement(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)

	require.NoError(t, tbl.RenameColumn("phone", "tel"))
	require.Equal(t, []string{"name", "tel"}, tbl.Columns())
	require.ErrorIs(t, tbl.RenameColumn("tel", "NAME"), types.ErrValidation)

	h, _, err := tbl.Column("tel")
	require.NoError(t, err)
	require.NoError(t, tbl.AddColumn("wide", types.Double, "convert("+h+", 'double')"))
	c, _, err := tbl.lookup("wide")
	require.NoError(t, err)
	_, pending := c.State().(Pending)
	require.True(t, pending)

	require.Equal(t, []any{253.0, 471.0, 324.0}, column(t, tbl, "wide"))
	_, materialized := c.State().(Materialized)
	require.True(t, materialized)
	require.NoError(t, tbl.Check())

	require.ErrorIs(t, tbl.AddColumn("wide", types.Double, "copy("+h+")"), types.ErrValidation)
	require.ErrorIs(t, tbl.AddColumn("bad", types.Double, "x := copy("+h+")"), types.ErrValidation)

	require.NoError(t, tbl.DropColumn("wide"))
	require.Equal(t, []string{"name", "tel"}, tbl.Columns())
	require.ErrorIs(t, tbl.DropColumn("wide"), types.ErrColumnNotFound)
}

func TestPairsFollowUpdates(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)

	rs, err := tbl.Pairs("name", "phone")
	require.NoError(t, err)
	require.Equal(t, []any{"paul", int32(471)}, rs.Rows[1])
	view := tbl.pair.handle

	again, err := tbl.Pairs("name", "phone")
	require.NoError(t, err)
	require.Equal(t, rs.Rows, again.Rows)
	require.Equal(t, view, tbl.pair.handle)

	_, err = tbl.Replace("name = 'paul'", "phone", 1)
	require.NoError(t, err)
	require.Nil(t, tbl.pair)
	rs, err = tbl.Pairs("name", "phone")
	require.NoError(t, err)
	require.Equal(t, []any{"paul", int32(1)}, rs.Rows[1])
}

func TestRowsRanges(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)

	rs, err := tbl.Rows("1-5", "phone")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, rs.Keys)
	require.Equal(t, []ColumnSpec{{Name: "phone", Type: types.Int}}, rs.Columns)

	rs, err = tbl.Rows("?2")
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())

	rs, err = tbl.Rows("?0")
	require.NoError(t, err)
	require.Zero(t, rs.Len())

	_, err = tbl.Rows("3-1")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestOptimizeRekeysDensely(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	_, err := tbl.DeleteRows("name = 'paul'")
	require.NoError(t, err)

	require.NoError(t, tbl.Optimize())
	require.Equal(t, []uint64{0, 1}, keys(t, tbl))
	require.Equal(t, []any{int32(253), int32(324)}, column(t, tbl, "phone"))
	require.NoError(t, tbl.InsertRow("ringo", 7))
	require.Equal(t, []uint64{0, 1, 2}, keys(t, tbl))
	require.NoError(t, tbl.Check())
}
