package table

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coltable-go/types"

	"github.com/stretchr/testify/require"
)

func TestFastInsertAboveThreshold(t *testing.T) {
	s, _ := newTestSession(t)
	opts := DefaultOptions()
	opts.FastInsertThreshold = 4
	opts.TempDir = t.TempDir()
	tbl, err := New(s, "", "name:string, n:long, day:date", WithOptions(opts))
	require.NoError(t, err)
	defer tbl.Release()

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	rows := make([][]any, 10)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("row %d", i), int64(i * 10), day}
	}
	rows[3] = []any{nil, nil, nil}
	n, err := tbl.InsertRows(rows)
	require.NoError(t, err)
	require.Equal(t, int64(10), n)

	rs, err := tbl.Rows("*")
	require.NoError(t, err)
	require.Len(t, rs.Rows, 10)
	require.Equal(t, uint64(9), rs.Keys[9])
	require.Equal(t, []any{"row 2", int64(20)}, rs.Rows[2][:2])
	require.True(t, day.Equal(rs.Rows[2][2].(time.Time)))
	require.Equal(t, []any{nil, nil, nil}, rs.Rows[3])

	// the temp file is gone
	entries, err := os.ReadDir(opts.TempDir)
	require.NoError(t, err)
	require.Empty(t, entries)

	// keys continue after the bulk load
	require.NoError(t, tbl.InsertRow("last", int64(1), nil))
	require.Equal(t, uint64(10), keys(t, tbl)[10])
}

func TestInsertRowsBelowThreshold(t *testing.T) {
	s, _ := newTestSession(t)
	tbl, err := New(s, "", "name:string, n:int")
	require.NoError(t, err)
	defer tbl.Release()

	n, err := tbl.InsertRows([][]any{{"a", 1}, {"b", 2}, {"c"}})
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
	require.Equal(t, int64(2), n)
	require.Equal(t, []uint64{0, 1}, keys(t, tbl))
}

func TestWriteTSV(t *testing.T) {
	s, _ := newTestSession(t)
	tbl, err := FromSlices(s, "name:string, phone:int, seen:date",
		[]any{"john", nil},
		[]any{253, 471},
		[]any{time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), nil},
	)
	require.NoError(t, err)
	defer tbl.Release()

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteTSV(&buf))
	require.Equal(t, "john\t253\t2024-01-02\n\\N\t471\t\\N\n", buf.String())
}

func TestFileRoundTrip(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	dir := t.TempDir()

	for _, name := range []string{"phones.tsv", "phones.parquet"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "out", name)
			require.NoError(t, tbl.ToFile(path))

			back, err := FromFile(s, "", "name:string, phone:int", path)
			require.NoError(t, err)
			defer back.Release()
			rs, err := back.Rows("*")
			require.NoError(t, err)
			require.Equal(t, []uint64{0, 1, 2}, rs.Keys)
			require.Equal(t, [][]any{
				{"john", int32(253)},
				{"paul", int32(471)},
				{"john", int32(324)},
			}, rs.Rows)
		})
	}
}

func TestLoadFileAppends(t *testing.T) {
	s, _ := newTestSession(t)
	tbl := phones(t, s)
	path := filepath.Join(t.TempDir(), "more.tsv")
	require.NoError(t, os.WriteFile(path, []byte("george\t111\nringo\t\\N\n"), 0o644))

	n, err := tbl.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, []uint64{0, 1, 2, 3, 4}, keys(t, tbl))
	require.Equal(t, []any{int32(253), int32(471), int32(324), int32(111), nil}, column(t, tbl, "phone"))

	_, err = tbl.LoadFile(filepath.Join(t.TempDir(), "missing.tsv"))
	require.Error(t, err)
	_, err = tbl.LoadFile("s3://bucket-only")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestFromSlicesValidates(t *testing.T) {
	s, e := newTestSession(t)
	base := e.Live()
	_, err := FromSlices(s, "a:int, b:int", []any{1, 2}, []any{1})
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
	_, err = FromSlices(s, "a:int, b:int", []any{1})
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
	require.Equal(t, base, e.Live())
}

func TestFastInsertEmptyStrings(t *testing.T) {
	s, _ := newTestSession(t)
	opts := DefaultOptions()
	opts.FastInsertThreshold = 4
	opts.TempDir = t.TempDir()
	tbl, err := New(s, "", "v:string", WithOptions(opts))
	require.NoError(t, err)
	defer tbl.Release()

	rows := make([][]any, 10)
	for i := range rows {
		rows[i] = []any{""}
	}
	n, err := tbl.InsertRows(rows)
	require.NoError(t, err)
	require.Equal(t, int64(10), n)
	count, err := tbl.Count()
	require.NoError(t, err)
	require.Equal(t, int64(10), count)
	require.Equal(t, uint64(9), keys(t, tbl)[9])
}

func TestInsertRowsKeepsValuesOnBothPaths(t *testing.T) {
	s, _ := newTestSession(t)
	values := []any{"nil", `\N`, "tab\there", "two\nlines", `back\slash`, "", nil}
	for _, threshold := range []int{100, 2} {
		t.Run(fmt.Sprintf("threshold %d", threshold), func(t *testing.T) {
			opts := DefaultOptions()
			opts.FastInsertThreshold = threshold
			opts.TempDir = t.TempDir()
			tbl, err := New(s, "", "v:string", WithOptions(opts))
			require.NoError(t, err)
			defer tbl.Release()

			rows := make([][]any, len(values))
			for i, v := range values {
				rows[i] = []any{v}
			}
			n, err := tbl.InsertRows(rows)
			require.NoError(t, err)
			require.Equal(t, int64(len(values)), n)
			require.Equal(t, values, column(t, tbl, "v"))

			// and through a file
			path := filepath.Join(t.TempDir(), "v.tsv")
			require.NoError(t, tbl.ToFile(path))
			back, err := FromFile(s, "", "v:string", path)
			require.NoError(t, err)
			defer back.Release()
			require.Equal(t, values, column(t, back, "v"))
		})
	}
}
