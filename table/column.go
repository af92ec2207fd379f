package table

import (
	"fmt"

	"coltable-go/command"
	"coltable-go/session"
	"coltable-go/types"
)

// State is where a column's values live: Materialized or Pending.
type State interface {
	isState()
}

// Materialized columns are backed by a bound handle.
type Materialized struct {
	Handle string
}

// Pending columns are backed by a command that has not run yet.
type Pending struct {
	Command command.Command
}

func (Materialized) isState() {}
func (Pending) isState()      {}

// Column is one named, typed value sequence of a table.
type Column struct {
	Name  string
	Type  types.DataType
	state State
}

func newColumn(name string, dt types.DataType, handle string) *Column {
	return &Column{Name: name, Type: dt, state: Materialized{Handle: handle}}
}

// HoldsRefs reports whether the values are names of other tables' handles
// rather than literals.
func (c *Column) HoldsRefs() bool { return c.Type == types.Bat }

func (c *Column) State() State { return c.state }

// handle returns the backing handle without resolving.
func (c *Column) handle() (string, bool) {
	m, ok := c.state.(Materialized)
	return m.Handle, ok
}

// resolve runs a pending column's command once and materializes it. It is
// the only place a column changes state.
func (c *Column) resolve(s *session.Session) (string, error) {
	switch st := c.state.(type) {
	case Materialized:
		return st.Handle, nil
	case Pending:
		h, err := s.Bind(st.Command)
		if err != nil {
			return "", fmt.Errorf("resolve column %s: %w", c.Name, err)
		}
		c.state = Materialized{Handle: h}
		return h, nil
	default:
		return "", types.ErrIllegal(fmt.Sprintf("column %s has no backing state", c.Name))
	}
}

// arg renders a Go value as an insert literal for the column.
func (c *Column) arg(v any) (command.Arg, error) {
	if v == nil {
		return command.Null, nil
	}
	if c.HoldsRefs() {
		switch x := v.(type) {
		case string:
			return command.H(x), nil
		case *Table:
			if !x.persisted {
				return command.Arg{}, types.ErrIllegal("only saved tables can be referenced")
			}
			return command.H(x.name), nil
		}
		return command.Arg{}, types.ErrMismatch(fmt.Sprintf("column %s holds table references, got %T", c.Name, v))
	}
	return valueArg(c.Name, c.Type, v)
}
