package session

import (
	"slices"

	"coltable-go/command"
)

// Scope owns temporary handles and registered resources until Close. Handles
// a caller wants to outlive the scope are moved out with Keep.
type Scope struct {
	s         *Session
	handles   []string
	resources []Resource
	closed    bool
}

// Track hands ownership of names to the scope.
func (sc *Scope) Track(names ...string) {
	sc.handles = append(sc.handles, names...)
}

// Keep takes names back out of the scope; the caller owns them again.
func (sc *Scope) Keep(names ...string) {
	sc.handles = slices.DeleteFunc(sc.handles, func(h string) bool {
		return slices.Contains(names, h)
	})
}

func (sc *Scope) Register(r Resource) {
	sc.resources = append(sc.resources, r)
}

func (sc *Scope) Unregister(r Resource) {
	sc.resources = slices.DeleteFunc(sc.resources, func(x Resource) bool { return x == r })
}

// Bind runs cmd into a fresh tracked handle.
func (sc *Scope) Bind(cmd command.Command) (string, error) {
	name, err := sc.s.Bind(cmd)
	if err != nil {
		return "", err
	}
	sc.Track(name)
	return name, nil
}

// Bind2 runs a two-result command into two fresh tracked handles.
func (sc *Scope) Bind2(cmd command.Command) (string, string, error) {
	a, b := sc.s.NewName(), sc.s.NewName()
	if _, err := sc.s.Exec(cmd.Into(a, b)); err != nil {
		return "", "", err
	}
	sc.Track(a, b)
	return a, b, nil
}

// Close frees every tracked handle and releases every registered resource.
// It is safe to call more than once; failures are logged, never returned.
func (sc *Scope) Close() {
	if sc.closed {
		return
	}
	sc.closed = true
	sc.s.pop(sc)
	sc.s.Free(sc.handles...)
	sc.handles = nil
	for _, r := range sc.resources {
		if err := r.Release(); err != nil {
			sc.s.log.Warn("failed to release resource", "err", err)
		}
	}
	sc.resources = nil
}
