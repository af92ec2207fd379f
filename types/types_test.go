package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDataType(t *testing.T) {
	t.Run("canonical names round trip", func(t *testing.T) {
		for _, dt := range AllDataTypes() {
			got, err := ParseDataType(dt.String())
			require.NoError(t, err)
			require.Equal(t, dt, got)
		}
	})
	t.Run("case insensitive and aliases", func(t *testing.T) {
		got, err := ParseDataType("  LNG ")
		require.NoError(t, err)
		require.Equal(t, Long, got)
		got, err = ParseDataType("Row-Id")
		require.NoError(t, err)
		require.Equal(t, Oid, got)
	})
	t.Run("unknown type is a validation error", func(t *testing.T) {
		_, err := ParseDataType("decimal")
		require.True(t, errors.Is(err, ErrValidation))
	})
}

func TestParseCmpOp(t *testing.T) {
	cases := map[string]CmpOp{
		"=": EQ, "==": EQ, "eq": EQ, "Ne": NE, "!=": NE,
		"<": LT, "lt": LT, "<=": LE, "LE": LE, ">": GT, "gt": GT, ">=": GE, "ge": GE,
	}
	for in, want := range cases {
		got, ok := ParseCmpOp(in)
		if !ok || got != want {
			t.Fatalf("ParseCmpOp(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseCmpOp("=>"); ok {
		t.Fatalf("expected => to be rejected")
	}
	require.Equal(t, "<=", LE.Symbol())
	require.True(t, GT.Ordering())
	require.False(t, NE.Ordering())
}

func TestKeywordsAndConnectors(t *testing.T) {
	kw, ok := ParseKeyword("keynotin")
	require.True(t, ok)
	require.Equal(t, KeyNotIn, kw)
	require.True(t, kw.ForeignSet())
	require.False(t, Between.ForeignSet())
	require.Equal(t, "BETWEEN", Between.String())

	c, ok := ParseConnector("or")
	require.True(t, ok)
	require.Equal(t, Or, c)
	_, ok = ParseConnector("xor")
	require.False(t, ok)
}

func TestWiden(t *testing.T) {
	tests := []struct {
		a, b, want DataType
	}{
		{Int, Int, Int},
		{Int, Float, Float},
		{Float, Int, Float},
		{Int, Double, Double},
		{Float, Double, Double},
		{Int, Long, Long},
		{Long, Float, Double},
		{Double, Long, Double},
		{String, String, String},
	}
	for _, tc := range tests {
		got, err := Widen(tc.a, tc.b)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%s/%s", tc.a, tc.b)
	}
	_, err := Widen(String, Int)
	require.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestFold(t *testing.T) {
	require.True(t, EqualFold("Phone", "PHONE"))
	require.False(t, EqualFold("phone", "phones"))
}
