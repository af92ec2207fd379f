package engine

import (
	"context"
	"fmt"
	"sort"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow/array"
)

var (
	ErrUnsupportedAggrFunc = func(name string) error {
		return fmt.Errorf("%s is an unsupported aggregate function", name)
	}
	ErrInvalidAggrColumnType = func(name string, dt types.DataType) error {
		return fmt.Errorf("%s cannot aggregate a %s column", name, dt)
	}
)

// accumulator folds the non-null values of one group. Finalize returns nil
// when the group saw no values and the reduction has no identity.
type accumulator interface {
	Update(value any)
	Finalize() any
}

type countAccumulator struct{ count int64 }

func (c *countAccumulator) Update(_ any)  { c.count++ }
func (c *countAccumulator) Finalize() any { return c.count }

type sumAccumulator struct {
	floating bool
	isum     int64
	fsum     float64
}

func (s *sumAccumulator) Update(value any) {
	switch v := value.(type) {
	case int32:
		s.isum += int64(v)
	case int64:
		s.isum += v
	case float32:
		s.fsum += float64(v)
	case float64:
		s.fsum += v
	}
}

func (s *sumAccumulator) Finalize() any {
	if s.floating {
		return s.fsum
	}
	return s.isum
}

type avgAccumulator struct {
	sum   float64
	count float64
}

func (a *avgAccumulator) Update(value any) {
	a.sum += toFloat(value)
	a.count++
}

func (a *avgAccumulator) Finalize() any {
	// empty group has no average
	if a.count == 0 {
		return nil
	}
	return a.sum / a.count
}

type extremeAccumulator struct {
	max bool
	v   any
}

func (m *extremeAccumulator) Update(value any) {
	if m.v == nil {
		m.v = value
		return
	}
	cmp := compareValues(value, m.v)
	if (m.max && cmp > 0) || (!m.max && cmp < 0) {
		m.v = value
	}
}
func (m *extremeAccumulator) Finalize() any { return m.v }

// modeAccumulator picks the most frequent value; ties go to the smallest.
type modeAccumulator struct {
	counts map[any]int
	first  map[any]any
}

func (m *modeAccumulator) Update(value any) {
	if m.counts == nil {
		m.counts = make(map[any]int)
		m.first = make(map[any]any)
	}
	h := hashable(value)
	m.counts[h]++
	if _, ok := m.first[h]; !ok {
		m.first[h] = value
	}
}

func (m *modeAccumulator) Finalize() any {
	var best any
	bestCount := 0
	for h, c := range m.counts {
		v := m.first[h]
		if c > bestCount || (c == bestCount && compareValues(v, best) < 0) {
			best, bestCount = v, c
		}
	}
	return best
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	default:
		return 0
	}
}

// aggrResultType validates op against the value type and returns the type of
// the aggregate column together with an accumulator factory.
func aggrResultType(op string, dt types.DataType) (types.DataType, func() accumulator, error) {
	numeric := dt == types.Int || dt == types.Long || dt == types.Float || dt == types.Double
	switch op {
	case "count":
		return types.Long, func() accumulator { return &countAccumulator{} }, nil
	case "sum":
		if !numeric {
			return types.Invalid, nil, ErrInvalidAggrColumnType(op, dt)
		}
		if dt == types.Float || dt == types.Double {
			return types.Double, func() accumulator { return &sumAccumulator{floating: true} }, nil
		}
		return types.Long, func() accumulator { return &sumAccumulator{} }, nil
	case "avg":
		if !numeric && dt != types.Oid {
			return types.Invalid, nil, ErrInvalidAggrColumnType(op, dt)
		}
		return types.Double, func() accumulator { return &avgAccumulator{} }, nil
	case "min", "max":
		if dt == types.Bat {
			return types.Invalid, nil, ErrInvalidAggrColumnType(op, dt)
		}
		isMax := op == "max"
		return dt, func() accumulator { return &extremeAccumulator{max: isMax} }, nil
	case "mode":
		return dt, func() accumulator { return &modeAccumulator{} }, nil
	default:
		return types.Invalid, nil, ErrUnsupportedAggrFunc(op)
	}
}

// identity is the value a group with no rows reports.
func identity(op string, dt types.DataType) any {
	switch op {
	case "count":
		return int64(0)
	case "sum":
		if dt == types.Double {
			return float64(0)
		}
		return int64(0)
	default:
		return nil
	}
}

// g, v := aggr('op', grp, vals[, base]) reduces vals per distinct value of
// grp. g holds the group values keyed 0..n-1 in ascending value order (null
// group first) and v the reduction under the same keys. Every non-null value
// of base appears as a group even when grp lacks it.
func opAggr(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 4); err != nil {
		return nil, nil, err
	}
	op, err := stringArg(cmd, 0)
	if err != nil {
		return nil, nil, err
	}
	op = types.Fold(op)
	grp, err := e.column(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	vals, err := e.column(cmd.Args[2])
	if err != nil {
		return nil, nil, err
	}
	var base *bat
	if len(cmd.Args) == 4 {
		if op == "mode" {
			return nil, nil, types.ErrIllegal("mode cannot be combined with a base table")
		}
		if base, err = e.column(cmd.Args[3]); err != nil {
			return nil, nil, err
		}
		if base.typ != grp.typ {
			return nil, nil, fmt.Errorf("%w: aggregate base is %s, groups are %s", types.ErrSchemaMismatch, base.typ, grp.typ)
		}
	}
	resType, newAcc, err := aggrResultType(op, vals.typ)
	if err != nil {
		return nil, nil, err
	}

	type group struct {
		value any
		acc   accumulator
	}
	groups := make(map[any]*group)
	nullGroup := &group{}
	lookup := func(v any) *group {
		if v == nil {
			return nullGroup
		}
		h := hashable(v)
		g, ok := groups[h]
		if !ok {
			g = &group{value: v}
			groups[h] = g
		}
		return g
	}

	valIdx := vals.index()
	for i := 0; i < grp.Len(); i++ {
		g := lookup(valueAt(grp.tail, i))
		if g.acc == nil {
			g.acc = newAcc()
		}
		p, ok := valIdx[grp.head.Value(i)]
		if !ok || vals.tail.IsNull(p) {
			continue
		}
		g.acc.Update(valueAt(vals.tail, p))
	}
	if base != nil {
		for i := 0; i < base.Len(); i++ {
			if !base.tail.IsNull(i) {
				lookup(valueAt(base.tail, i))
			}
		}
	}

	ordered := make([]*group, 0, len(groups)+1)
	if nullGroup.acc != nil {
		ordered = append(ordered, nullGroup)
	}
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].value, ordered[j].value
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return compareValues(a, b) < 0
	})

	gt, err := arrowType(grp.typ)
	if err != nil {
		return nil, nil, err
	}
	vt, err := arrowType(resType)
	if err != nil {
		return nil, nil, err
	}
	gb := array.NewBuilder(e.mem, gt)
	defer gb.Release()
	vb := array.NewBuilder(e.mem, vt)
	defer vb.Release()
	keys := make([]uint64, len(ordered))
	for i, g := range ordered {
		keys[i] = uint64(i)
		if err := appendValue(gb, g.value); err != nil {
			return nil, nil, err
		}
		var out any
		if g.acc == nil {
			out = identity(op, resType)
		} else {
			out = g.acc.Finalize()
		}
		if err := appendValue(vb, out); err != nil {
			return nil, nil, err
		}
	}
	groupCol := &bat{kind: kindColumn, typ: grp.typ, head: newUint64Array(e.mem, keys), tail: gb.NewArray()}
	valueCol := &bat{kind: kindColumn, typ: resType, head: newUint64Array(e.mem, keys), tail: vb.NewArray()}
	return &Result{Count: int64(len(keys))}, []*bat{groupCol, valueCol}, nil
}
