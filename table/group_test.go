package table

import (
	"testing"

	"coltable-go/types"

	"github.com/stretchr/testify/require"
)

func orders(t *testing.T) *Table {
	t.Helper()
	s, _ := newTestSession(t)
	tbl, err := FromSlices(s, "cust:string, item:string, qty:int, price:double",
		[]any{"ann", "bob", "ann", "ann", "bob", nil},
		[]any{"pen", "ink", "pen", "cap", "ink", "pen"},
		[]any{2, 1, 3, 1, 5, 4},
		[]any{1.5, 2.0, 1.5, 3.0, nil, 1.0},
	)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Release() })
	return tbl
}

func TestGroupByRefinesOverColumns(t *testing.T) {
	tbl := orders(t)

	n, err := tbl.GroupBy("cust, item", "g")
	require.NoError(t, err)
	// (nil,pen) (ann,cap) (ann,pen) (bob,ink)
	require.Equal(t, int64(4), n)
	require.Equal(t, []any{int64(2), int64(3), int64(2), int64(1), int64(3), int64(0)}, column(t, tbl, "g"))
	require.NoError(t, tbl.Check())

	_, err = tbl.GroupBy("cust", "G")
	require.ErrorIs(t, err, types.ErrValidation)
	_, err = tbl.GroupBy("nosuch", "h")
	require.ErrorIs(t, err, types.ErrColumnNotFound)
}

func TestAggregate(t *testing.T) {
	tbl := orders(t)

	sums, err := tbl.Aggregate("SUM", "cust", "qty", nil)
	require.NoError(t, err)
	defer sums.Release()
	require.Equal(t, []string{"cust", "sum_qty"}, sums.Columns())
	rs, err := sums.Rows("*")
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, rs.Keys)
	require.Equal(t, [][]any{{nil, int64(4)}, {"ann", int64(6)}, {"bob", int64(6)}}, rs.Rows)

	avg, err := tbl.Aggregate("avg", "item", "price", nil)
	require.NoError(t, err)
	defer avg.Release()
	require.Equal(t, types.Double, avg.Schema()[1].Type)
	rs, err = avg.Rows("*")
	require.NoError(t, err)
	require.Equal(t, [][]any{{"cap", 3.0}, {"ink", 2.0}, {"pen", 4.0 / 3}}, rs.Rows)

	maxes, err := tbl.Aggregate("max", "cust", "item", nil)
	require.NoError(t, err)
	defer maxes.Release()
	require.Equal(t, []any{"pen", "pen", "ink"}, column(t, maxes, "max_item"))

	mode, err := tbl.Aggregate("mode", "cust", "item", nil)
	require.NoError(t, err)
	defer mode.Release()
	require.Equal(t, []any{"pen", "pen", "ink"}, column(t, mode, "mode_item"))
}

func TestAggregateWithBase(t *testing.T) {
	tbl := orders(t)
	everyone, err := FromSlices(tbl.Session(), "cust:string", []any{"ann", "bob", "cat"})
	require.NoError(t, err)
	defer everyone.Release()

	counts, err := tbl.Aggregate("count", "cust", "qty", everyone)
	require.NoError(t, err)
	defer counts.Release()
	rs, err := counts.Rows("*")
	require.NoError(t, err)
	require.Equal(t, [][]any{{nil, int64(1)}, {"ann", int64(3)}, {"bob", int64(2)}, {"cat", int64(0)}}, rs.Rows)

	mins, err := tbl.Aggregate("min", "cust", "qty", everyone)
	require.NoError(t, err)
	defer mins.Release()
	require.Equal(t, []any{int32(4), int32(1), int32(1), nil}, column(t, mins, "min_qty"))

	_, err = tbl.Aggregate("mode", "cust", "qty", everyone)
	require.ErrorIs(t, err, types.ErrIllegalOperation)

	wrong, err := FromSlices(tbl.Session(), "cust:int", []any{1})
	require.NoError(t, err)
	defer wrong.Release()
	_, err = tbl.Aggregate("sum", "cust", "qty", wrong)
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
}

func TestAggregateRejects(t *testing.T) {
	tbl := orders(t)
	_, err := tbl.Aggregate("median", "cust", "qty", nil)
	require.ErrorIs(t, err, types.ErrValidation)
	_, err = tbl.Aggregate("sum", "cust", "item", nil)
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
	_, err = tbl.Aggregate("sum", "cust", "nosuch", nil)
	require.ErrorIs(t, err, types.ErrColumnNotFound)
}

func TestSortMultipleKeys(t *testing.T) {
	tbl := orders(t)

	sorted, err := tbl.Sort("item, qty DESC", "item, qty")
	require.NoError(t, err)
	defer sorted.Release()
	rs, err := sorted.Rows("*")
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2, 3, 4, 5}, rs.Keys)
	require.Equal(t, [][]any{
		{"cap", int32(1)},
		{"ink", int32(5)},
		{"ink", int32(1)},
		{"pen", int32(4)},
		{"pen", int32(3)},
		{"pen", int32(2)},
	}, rs.Rows)

	// nulls sort lowest
	byPrice, err := tbl.Sort("price", "price")
	require.NoError(t, err)
	defer byPrice.Release()
	require.Equal(t, []any{nil, 1.0, 1.5, 1.5, 2.0, 3.0}, column(t, byPrice, "price"))

	_, err = tbl.Sort("nosuch", "*")
	require.ErrorIs(t, err, types.ErrColumnNotFound)
}

func TestDistinct(t *testing.T) {
	tbl := orders(t)

	// single column
	one, err := tbl.Distinct("item")
	require.NoError(t, err)
	defer one.Release()
	require.Equal(t, []uint64{0, 1, 3}, keys(t, one))
	require.Equal(t, tbl.Columns(), one.Columns())

	// general case over several columns
	many, err := tbl.Distinct("cust, item")
	require.NoError(t, err)
	defer many.Release()
	require.Equal(t, []uint64{0, 1, 3, 5}, keys(t, many))

	again, err := many.Distinct("cust, item")
	require.NoError(t, err)
	defer again.Release()
	require.Equal(t, keys(t, many), keys(t, again))

	// two columns of a two-column table go through the pair view
	narrow, err := tbl.Filter("*", "cust, item")
	require.NoError(t, err)
	defer narrow.Release()
	pairs, err := narrow.Distinct("cust, item")
	require.NoError(t, err)
	defer pairs.Release()
	require.Equal(t, []uint64{0, 1, 3, 5}, keys(t, pairs))
	require.NotNil(t, narrow.pair)

	twice, err := pairs.Distinct("cust, item")
	require.NoError(t, err)
	defer twice.Release()
	require.Equal(t, keys(t, pairs), keys(t, twice))
}
