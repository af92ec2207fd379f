package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandString(t *testing.T) {
	t.Run("assignment with literals", func(t *testing.T) {
		cmd := New("select", H("t_1"), S(">"), Int(300)).Into("t_2")
		require.Equal(t, "t_2 := select(t_1, '>', 300)", cmd.String())
	})
	t.Run("multiple targets", func(t *testing.T) {
		cmd := New("aggr", S("sum"), H("g"), H("v")).Into("a", "b")
		require.Equal(t, "a, b := aggr('sum', g, v)", cmd.String())
	})
	t.Run("no targets and nil", func(t *testing.T) {
		cmd := New("insert", H("t_1"), Uint(7), Null)
		require.Equal(t, "insert(t_1, 7, nil)", cmd.String())
	})
	t.Run("escapes quotes", func(t *testing.T) {
		require.Equal(t, `'it\'s\tok'`, S("it's\tok").String())
	})
}

func TestParseRoundTrip(t *testing.T) {
	cmds := []Command{
		New("select", H("t_1"), S(">="), N("-3.5")).Into("t_2"),
		New("aggr", S("sum"), H("g"), H("v"), H("base")).Into("x_1", "x_2"),
		New("insert", H("people_name"), Uint(0), S("o'brien")),
		New("update", H("h"), H("ks"), Null),
		New("exists", S("people")),
		New("sample", H("h"), Int(10), B(true)).Into("r"),
		New("keys"),
	}
	for _, want := range cmds {
		got, err := Parse(want.String())
		require.NoError(t, err, want.String())
		require.Equal(t, want.String(), got.String())
		require.Equal(t, want.Op, got.Op)
		require.Equal(t, len(want.Args), len(got.Args))
		for i := range want.Args {
			require.Equal(t, want.Args[i].Kind, got.Args[i].Kind)
			require.Equal(t, want.Args[i].Text, got.Args[i].Text)
		}
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"t_1 := ",
		"select t_1",
		"select(t_1",
		"select('abc)",
		"a, b select(x)",
		"select(x) extra",
		"select(x,, y)",
	}
	for _, text := range bad {
		if _, err := Parse(text); err == nil {
			t.Fatalf("expected syntax error for %q", text)
		}
	}
}

func TestHandlesAndArity(t *testing.T) {
	cmd := New("cmpcol", H("a"), S("<"), H("b"))
	require.Equal(t, []string{"a", "b"}, cmd.Handles())
	require.NoError(t, cmd.Arity(3, 3))
	require.Error(t, cmd.Arity(1, 2))
	require.NoError(t, cmd.Arity(1, -1))
}
