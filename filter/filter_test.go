package filter

import (
	"context"
	"fmt"
	"testing"

	"coltable-go/command"
	"coltable-go/engine"
	"coltable-go/session"
	"coltable-go/types"

	"github.com/stretchr/testify/require"
)

type column struct {
	handle string
	dt     types.DataType
}

type fakeTable map[string]column

func (f fakeTable) Column(name string) (string, types.DataType, error) {
	c, ok := f[name]
	if !ok {
		return "", types.Invalid, types.ErrColumnMissing(name, nil)
	}
	return c.handle, c.dt, nil
}

// people builds name/phone/score over keys 0..3:
//
//	0 john  253  2.5
//	1 paul  471  nil
//	2 john  324  400.0
//	3 nil   100  1.0
func people(t *testing.T) (*session.Session, *engine.ArrowEngine, fakeTable) {
	t.Helper()
	e, err := engine.New(engine.WithSeed(1))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	s := session.New(context.Background(), e)
	ctx := context.Background()
	exec := func(text string) {
		_, err := e.Exec(ctx, text)
		require.NoError(t, err, text)
	}
	exec("name := new('string')")
	exec("phone := new('int')")
	exec("score := new('double')")
	rows := []struct {
		name  string
		phone int
		score string
	}{{"'john'", 253, "2.5"}, {"'paul'", 471, "nil"}, {"'john'", 324, "400.0"}, {"nil", 100, "1.0"}}
	for i, r := range rows {
		exec(fmt.Sprintf("insert(name, %d, %s)", i, r.name))
		exec(fmt.Sprintf("insert(phone, %d, %d)", i, r.phone))
		exec(fmt.Sprintf("insert(score, %d, %s)", i, r.score))
	}
	exec("vip := new('string')")
	exec("insert(vip, 0, 'paul')")
	exec("picked := new('int')")
	exec("insert(picked, 2, 0)")
	exec("insert(picked, 3, 0)")
	return s, e, fakeTable{
		"name":  {"name", types.String},
		"phone": {"phone", types.Int},
		"score": {"score", types.Double},
	}
}

func selected(t *testing.T, s *session.Session, tbl fakeTable, f Filter) []uint64 {
	t.Helper()
	sc := s.Open()
	defer sc.Close()
	ks, err := f.Render(tbl, sc)
	require.NoError(t, err, f.String())
	res, err := s.Exec(command.New("rows", command.H(ks), command.H("phone")))
	require.NoError(t, err)
	if res.Keys == nil {
		return []uint64{}
	}
	return res.Keys
}

func mustCompare(t *testing.T, col string, op types.CmpOp, v Value) Filter {
	t.Helper()
	f, err := NewValueCompare(col, op, v)
	require.NoError(t, err)
	return f
}

func TestValueCompare(t *testing.T) {
	s, _, tbl := people(t)
	tests := []struct {
		name string
		f    Filter
		want []uint64
	}{
		{"eq", mustCompare(t, "name", types.EQ, Str("john")), []uint64{0, 2}},
		{"ne keeps null rows", mustCompare(t, "name", types.NE, Str("john")), []uint64{1, 3}},
		{"eq nil", mustCompare(t, "name", types.EQ, NullValue()), []uint64{3}},
		{"ne nil", mustCompare(t, "name", types.NE, NullValue()), []uint64{0, 1, 2}},
		{"gt", mustCompare(t, "phone", types.GT, Num("300")), []uint64{1, 2}},
		{"le", mustCompare(t, "phone", types.LE, Num("253")), []uint64{0, 3}},
		{"lt skips nulls", mustCompare(t, "score", types.LT, Num("1000")), []uint64{0, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, selected(t, s, tbl, tt.f))
		})
	}
}

func TestOrderingAgainstNilIsInvalid(t *testing.T) {
	_, err := NewValueCompare("phone", types.GT, NullValue())
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestColumnCompareWidens(t *testing.T) {
	s, _, tbl := people(t)
	f := &ColumnCompare{Left: "phone", Op: types.LT, Right: "score"}
	require.Equal(t, []uint64{2}, selected(t, s, tbl, f))

	sc := s.Open()
	defer sc.Close()
	_, err := (&ColumnCompare{Left: "name", Op: types.EQ, Right: "phone"}).Render(tbl, sc)
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
}

func TestRangeLikeRandom(t *testing.T) {
	s, _, tbl := people(t)
	require.Equal(t, []uint64{0, 2}, selected(t, s, tbl, NewRange("phone", Num("200"), Num("400"))))
	require.Equal(t, []uint64{1, 2}, selected(t, s, tbl, NewRange("phone", Num("300"), NullValue())))
	require.Equal(t, []uint64{0, 2}, selected(t, s, tbl, &Like{Column: "name", Pattern: "jo%"}))
	require.Len(t, selected(t, s, tbl, &Random{Column: "phone", N: 2}), 2)

	sc := s.Open()
	defer sc.Close()
	_, err := (&Like{Column: "phone", Pattern: "2%"}).Render(tbl, sc)
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
}

func TestMembership(t *testing.T) {
	s, _, tbl := people(t)
	tests := []struct {
		kw   types.Keyword
		set  string
		want []uint64
	}{
		{types.In, "vip", []uint64{1}},
		{types.NotIn, "vip", []uint64{0, 2, 3}},
		{types.KeyIn, "picked", []uint64{2, 3}},
		{types.KeyNotIn, "picked", []uint64{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.kw.String(), func(t *testing.T) {
			f, err := NewMembership("name", tt.kw, tt.set)
			require.NoError(t, err)
			require.Equal(t, tt.want, selected(t, s, tbl, f))
		})
	}
	_, err := NewMembership("name", types.Like, "vip")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestDistinct(t *testing.T) {
	s, _, tbl := people(t)
	require.Equal(t, []uint64{0, 1, 3}, selected(t, s, tbl, &Distinct{Cols: []string{"name"}}))
}

func TestComposite(t *testing.T) {
	s, _, tbl := people(t)
	john := mustCompare(t, "name", types.EQ, Str("john"))
	cheap := mustCompare(t, "phone", types.LT, Num("300"))

	and, err := NewAnd(john, cheap)
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, selected(t, s, tbl, and))

	or, err := NewOr(john, cheap)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2, 3}, selected(t, s, tbl, or))
	require.Equal(t, []string{"name", "phone"}, or.Columns())

	_, err = NewAnd(&Distinct{Cols: []string{"name"}}, cheap)
	require.ErrorIs(t, err, types.ErrValidation)
	_, err = NewOr(cheap, &Distinct{Cols: []string{"name"}})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestRenderReusableAcrossTables(t *testing.T) {
	s, e, tbl := people(t)
	_, err := e.Exec(context.Background(), "phone2 := copy(phone)")
	require.NoError(t, err)
	other := fakeTable{"phone": {"phone2", types.Int}}

	f := mustCompare(t, "phone", types.GT, Num("300"))
	require.Equal(t, selected(t, s, tbl, f), selected(t, s, other, f))
}

func TestRenderLeavesNoTemporaries(t *testing.T) {
	s, e, tbl := people(t)
	before := e.Live()
	f, err := NewOr(mustCompare(t, "name", types.NE, Str("john")), &ColumnCompare{Left: "phone", Op: types.GT, Right: "score"})
	require.NoError(t, err)
	selected(t, s, tbl, f)
	require.Equal(t, before, e.Live())
}

func TestString(t *testing.T) {
	f, err := NewAnd(mustCompare(t, "name", types.EQ, Str("o'neil")), NewRange("phone", Num("1"), Num("9")))
	require.NoError(t, err)
	require.Equal(t, `name = 'o\'neil' AND phone BETWEEN 1-9`, f.String())
}
