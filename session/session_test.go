package session

import (
	"context"
	"errors"
	"testing"

	"coltable-go/command"
	"coltable-go/engine"
	"coltable-go/types"

	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *engine.ArrowEngine) {
	t.Helper()
	e, err := engine.New()
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return New(context.Background(), e), e
}

type fakeResource struct {
	released int
	err      error
}

func (f *fakeResource) Release() error {
	f.released++
	return f.err
}

func TestNewNameIsFresh(t *testing.T) {
	s, _ := newTestSession(t)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		n := s.NewName()
		require.False(t, seen[n], n)
		seen[n] = true
	}
	other, _ := newTestSession(t)
	require.NotEqual(t, s.NewName(), other.NewName())
}

func TestNamesParseAsHandles(t *testing.T) {
	s, _ := newTestSession(t)
	cmd, err := command.Parse(command.New("keys", command.H(s.NewName())).String())
	require.NoError(t, err)
	require.Equal(t, command.Ident, cmd.Args[0].Kind)
}

func TestExecWrapsBackendErrors(t *testing.T) {
	s, _ := newTestSession(t)
	_, err := s.Exec(command.New("keys", command.H("missing")))
	require.ErrorIs(t, err, types.ErrBackendFault)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestScopeFreesTrackedHandles(t *testing.T) {
	s, e := newTestSession(t)
	sc := s.Open()
	require.Same(t, sc, s.Current())

	kept, err := sc.Bind(command.New("new", command.S("int")))
	require.NoError(t, err)
	_, err = sc.Bind(command.New("new", command.S("string")))
	require.NoError(t, err)
	sc.Keep(kept)
	require.Equal(t, 2, e.Live())

	sc.Close()
	require.Nil(t, s.Current())
	require.Equal(t, []string{kept}, e.Handles())

	// second close is a no-op
	sc.Close()
	require.Equal(t, 1, e.Live())
}

func TestScopeReleasesResources(t *testing.T) {
	s, _ := newTestSession(t)
	outer := s.Open()
	inner := s.Open()

	a, b := &fakeResource{}, &fakeResource{err: errors.New("boom")}
	s.Register(a)
	s.Register(b)
	outer.Register(&fakeResource{})

	inner.Close()
	require.Equal(t, 1, a.released)
	require.Equal(t, 1, b.released)
	require.Same(t, outer, s.Current())

	c := &fakeResource{}
	s.Register(c)
	s.Unregister(c)
	outer.Close()
	require.Zero(t, c.released)
}

func TestRegisterWithoutScope(t *testing.T) {
	s, _ := newTestSession(t)
	r := &fakeResource{}
	s.Register(r)
	require.Nil(t, s.Current())
	require.Zero(t, r.released)
}

func TestFreeIsBestEffort(t *testing.T) {
	s, e := newTestSession(t)
	h, err := s.Bind(command.New("new", command.S("int")))
	require.NoError(t, err)
	s.Free("missing", h, "")
	require.Zero(t, e.Live())

	ok, err := s.Exists(h)
	require.NoError(t, err)
	require.False(t, ok)
}
