package table

import (
	"testing"

	"coltable-go/types"

	"github.com/stretchr/testify/require"
)

func cities(t *testing.T, tbl *Table) *Table {
	t.Helper()
	out, err := FromSlices(tbl.Session(), "name:string, city:string",
		[]any{"john", "ringo"},
		[]any{"york", "liverpool"},
	)
	require.NoError(t, err)
	t.Cleanup(func() { out.Release() })
	return out
}

func TestJoin(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	other := cities(t, tbl)

	joined, err := tbl.Join(other, []string{"name"}, []string{"name"}, "*")
	require.NoError(t, err)
	defer joined.Release()
	require.Equal(t, []string{"A.name", "phone", "B.name", "city"}, joined.Columns())
	rs, err := joined.Rows("*")
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1}, rs.Keys)
	require.Equal(t, [][]any{
		{"john", int32(253), "john", "york"},
		{"john", int32(324), "john", "york"},
	}, rs.Rows)
	require.NoError(t, joined.Check())

	projected, err := tbl.Join(other, []string{"name"}, []string{"name"}, "A.name AS who, city")
	require.NoError(t, err)
	defer projected.Release()
	require.Equal(t, []string{"who", "city"}, projected.Columns())

	_, err = tbl.Join(other, []string{"name", "phone"}, []string{"name"}, "*")
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
	_, err = tbl.Join(other, []string{"phone"}, []string{"city"}, "*")
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
	_, err = tbl.Join(other, []string{"name"}, []string{"nosuch"}, "*")
	require.ErrorIs(t, err, types.ErrColumnNotFound)
}

func TestJoinWidensNumericColumns(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	prices, err := FromSlices(s, "amount:double, label:string",
		[]any{253.0, 324.5, 471.0},
		[]any{"a", "b", "c"},
	)
	require.NoError(t, err)
	defer prices.Release()

	joined, err := tbl.Join(prices, []string{"phone"}, []string{"amount"}, "name, label")
	require.NoError(t, err)
	defer joined.Release()
	rs, err := joined.Rows("*")
	require.NoError(t, err)
	require.Equal(t, [][]any{{"john", "a"}, {"paul", "c"}}, rs.Rows)
}

func TestLeftOuterJoin(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	other := cities(t, tbl)

	inner, err := tbl.Join(other, []string{"name"}, []string{"name"}, "*")
	require.NoError(t, err)
	defer inner.Release()
	outer, err := tbl.LeftOuterJoin(other, []string{"name"}, []string{"name"}, "*")
	require.NoError(t, err)
	defer outer.Release()

	ni, err := inner.Count()
	require.NoError(t, err)
	no, err := outer.Count()
	require.NoError(t, err)
	require.GreaterOrEqual(t, no, ni)

	rs, err := outer.Rows("*")
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, rs.Keys)
	require.Equal(t, [][]any{
		{"john", int32(253), "john", "york"},
		{"john", int32(324), "john", "york"},
		{"paul", int32(471), nil, nil},
	}, rs.Rows)
	require.NoError(t, outer.Check())
}

func TestLeftOuterJoinWithoutMatches(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	nobody, err := FromSlices(s, "name:string, city:string", []any{"ringo"}, []any{"liverpool"})
	require.NoError(t, err)
	defer nobody.Release()

	outer, err := tbl.LeftOuterJoin(nobody, []string{"name"}, []string{"name"}, "A.name, city")
	require.NoError(t, err)
	defer outer.Release()
	rs, err := outer.Rows("*")
	require.NoError(t, err)
	require.Equal(t, [][]any{{"john", nil}, {"paul", nil}, {"john", nil}}, rs.Rows)

	empty, err := tbl.Filter("name = 'nobody'", "*")
	require.NoError(t, err)
	defer empty.Release()
	none, err := empty.LeftOuterJoin(nobody, []string{"name"}, []string{"name"}, "*")
	require.NoError(t, err)
	defer none.Release()
	n, err := none.Count()
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, []string{"A.name", "phone", "B.name", "city"}, none.Columns())
}

func TestJoinUnless(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)

	self, err := tbl.Join(tbl, []string{"name"}, []string{"name"}, "*")
	require.NoError(t, err)
	defer self.Release()
	n, err := self.Count()
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	// same name, different phone
	pairs, err := tbl.JoinUnless(tbl, []string{"name"}, []string{"name"}, []string{"phone"}, []string{"phone"}, "A.phone, B.phone")
	require.NoError(t, err)
	defer pairs.Release()
	rs, err := pairs.Rows("*")
	require.NoError(t, err)
	require.Equal(t, [][]any{{int32(253), int32(324)}, {int32(324), int32(253)}}, rs.Rows)

	_, err = tbl.JoinUnless(tbl, []string{"name"}, []string{"name"}, nil, nil, "*")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestSetOperations(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	more, err := FromSlices(s, "name:string, phone:int",
		[]any{"john", "george"},
		[]any{253, 111},
	)
	require.NoError(t, err)
	defer more.Release()

	both, err := tbl.Intersect(more, "name = name", "phone")
	require.NoError(t, err)
	defer both.Release()
	require.Equal(t, []uint64{0, 2}, keys(t, both))

	exact, err := tbl.Intersect(more, "name = name AND phone = phone", "*")
	require.NoError(t, err)
	defer exact.Release()
	require.Equal(t, []uint64{0}, keys(t, exact))

	rest, err := tbl.Difference(more, "name = name", "*")
	require.NoError(t, err)
	defer rest.Release()
	require.Equal(t, []any{"paul"}, column(t, rest, "name"))

	union, err := tbl.Union(more, "name = name AND phone = phone", "*")
	require.NoError(t, err)
	defer union.Release()
	require.Equal(t, []uint64{0, 1, 2, 3}, keys(t, union))
	require.Equal(t, []any{int32(253), int32(471), int32(324), int32(111)}, column(t, union, "phone"))

	other := cities(t, tbl)
	_, err = tbl.Union(other, "name = name", "*")
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
}

func TestTupleMatchingIsExact(t *testing.T) {
	s, _ := newTestSession(t)
	left, err := FromSlices(s, "p:string, q:string",
		[]any{"a\x1fb", "a", "x|y", "x"},
		[]any{"c", "b\x1fc", "z", "y|z"},
	)
	require.NoError(t, err)
	defer left.Release()
	right, err := FromSlices(s, "p:string, q:string",
		[]any{"a", "x"},
		[]any{"b\x1fc", "y|z"},
	)
	require.NoError(t, err)
	defer right.Release()

	both, err := left.Intersect(right, "p = p AND q = q", "*")
	require.NoError(t, err)
	defer both.Release()
	require.Equal(t, []uint64{1, 3}, keys(t, both))

	rest, err := left.Difference(right, "p = p AND q = q", "*")
	require.NoError(t, err)
	defer rest.Release()
	require.Equal(t, []uint64{0, 2}, keys(t, rest))

	distinct, err := left.Filter("p DISTINCT q", "*")
	require.NoError(t, err)
	defer distinct.Release()
	require.Equal(t, []uint64{0, 1, 2, 3}, keys(t, distinct))
}
