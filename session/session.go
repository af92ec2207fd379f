// Package session owns the per-session side of the backend boundary: fresh
// handle names, command dispatch and scoped ownership of temporary handles.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"coltable-go/command"
	"coltable-go/engine"
	"coltable-go/types"

	"github.com/google/uuid"
)

// Resource is anything a scope can reclaim when it closes.
type Resource interface {
	Release() error
}

type Session struct {
	id      uuid.UUID
	prefix  string
	backend engine.Backend
	ctx     context.Context
	counter atomic.Uint64
	scopes  []*Scope
	log     *slog.Logger
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New starts a session on backend. ctx bounds every command the session
// sends.
func New(ctx context.Context, backend engine.Backend, opts ...Option) *Session {
	id := uuid.New()
	s := &Session{
		id:      id,
		prefix:  "s" + strings.ReplaceAll(id.String(), "-", "")[:8],
		backend: backend,
		ctx:     ctx,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.prefix)
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Logger() *slog.Logger { return s.log }

// Context is the context every command of the session runs under.
func (s *Session) Context() context.Context { return s.ctx }

// NewName returns a handle name never returned before in this session.
func (s *Session) NewName() string {
	return fmt.Sprintf("%s_%d", s.prefix, s.counter.Add(1))
}

// Exec sends cmd to the backend. Failures are wrapped as backend faults.
func (s *Session) Exec(cmd command.Command) (*engine.Result, error) {
	text := cmd.String()
	s.log.Debug("exec", "cmd", text)
	res, err := s.backend.Exec(s.ctx, text)
	if err != nil {
		return nil, types.ErrBackend(text, err)
	}
	return res, nil
}

// Bind runs cmd into a fresh handle name.
func (s *Session) Bind(cmd command.Command) (string, error) {
	name := s.NewName()
	if _, err := s.Exec(cmd.Into(name)); err != nil {
		return "", err
	}
	return name, nil
}

// Count returns the number of rows behind handle.
func (s *Session) Count(handle string) (int64, error) {
	res, err := s.Exec(command.New("count", command.H(handle)))
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Exists reports whether the backend has a handle bound under name.
func (s *Session) Exists(name string) (bool, error) {
	res, err := s.Exec(command.New("exists", command.S(name)))
	if err != nil {
		return false, err
	}
	ok, _ := res.Scalar.(bool)
	return ok, nil
}

// Free drops handles, logging failures instead of returning them. Teardown
// paths use it so cleanup never replaces the error that caused it.
func (s *Session) Free(names ...string) {
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, err := s.Exec(command.New("free", command.H(n))); err != nil {
			s.log.Warn("failed to free handle", "handle", n, "err", err)
		}
	}
}

// Open pushes a new scope; it becomes the current scope until closed.
func (s *Session) Open() *Scope {
	sc := &Scope{s: s}
	s.scopes = append(s.scopes, sc)
	return sc
}

// Current returns the innermost open scope, nil when none is open.
func (s *Session) Current() *Scope {
	if len(s.scopes) == 0 {
		return nil
	}
	return s.scopes[len(s.scopes)-1]
}

// Register hands r to the current scope. Without an open scope the caller
// keeps sole ownership.
func (s *Session) Register(r Resource) {
	if sc := s.Current(); sc != nil {
		sc.Register(r)
	}
}

// Unregister removes r from every open scope.
func (s *Session) Unregister(r Resource) {
	for _, sc := range s.scopes {
		sc.Unregister(r)
	}
}

func (s *Session) pop(sc *Scope) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if s.scopes[i] == sc {
			s.scopes = append(s.scopes[:i], s.scopes[i+1:]...)
			return
		}
	}
}
