package engine

import (
	"context"
	"fmt"
	"sort"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

type keyPair struct{ l, r uint64 }

// newMapping builds a mapping bat; pairs are sorted by left then right key
// and duplicates dropped.
func newMapping(mem memory.Allocator, pairs []keyPair) *bat {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].l != pairs[j].l {
			return pairs[i].l < pairs[j].l
		}
		return pairs[i].r < pairs[j].r
	})
	hb := array.NewUint64Builder(mem)
	defer hb.Release()
	tb := array.NewUint64Builder(mem)
	defer tb.Release()
	for i, p := range pairs {
		if i > 0 && p == pairs[i-1] {
			continue
		}
		hb.Append(p.l)
		tb.Append(p.r)
	}
	return &bat{kind: kindMapping, typ: types.Oid, head: hb.NewUint64Array(), tail: tb.NewArray()}
}

func mappingPairs(m *bat) []keyPair {
	tail := m.tail.(*array.Uint64)
	out := make([]keyPair, m.Len())
	for i := range out {
		out[i] = keyPair{m.head.Value(i), tail.Value(i)}
	}
	return out
}

// t := join(a, b) maps every key of a to every key of b holding an equal,
// non-null value. The right side is hashed and the left side is looked up in it.
func opJoin(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	left, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	right, err := e.column(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	if left.typ != right.typ && !(left.typ.IsNumeric() && right.typ.IsNumeric()) {
		return nil, nil, fmt.Errorf("%w: join %s with %s", types.ErrSchemaMismatch, left.typ, right.typ)
	}

	// build phase
	hashTable := make(map[any][]uint64, right.Len())
	for i := 0; i < right.Len(); i++ {
		if right.tail.IsNull(i) {
			continue
		}
		v := hashable(valueAt(right.tail, i))
		hashTable[v] = append(hashTable[v], right.head.Value(i))
	}
	// lookup phase
	pairs := make([]keyPair, 0)
	for i := 0; i < left.Len(); i++ {
		if left.tail.IsNull(i) {
			continue
		}
		for _, rk := range hashTable[hashable(valueAt(left.tail, i))] {
			pairs = append(pairs, keyPair{left.head.Value(i), rk})
		}
	}
	return nil, []*bat{newMapping(e.mem, pairs)}, nil
}

// pinter / punion / pdiff combine two mappings as sets of key pairs.
func opPairAlgebra(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	a, err := e.getKind(cmd.Args[0], kindMapping)
	if err != nil {
		return nil, nil, err
	}
	b, err := e.getKind(cmd.Args[1], kindMapping)
	if err != nil {
		return nil, nil, err
	}
	inB := make(map[keyPair]struct{}, b.Len())
	for _, p := range mappingPairs(b) {
		inB[p] = struct{}{}
	}
	var out []keyPair
	switch cmd.Op {
	case "pinter":
		for _, p := range mappingPairs(a) {
			if _, ok := inB[p]; ok {
				out = append(out, p)
			}
		}
	case "punion":
		out = append(mappingPairs(a), mappingPairs(b)...)
	case "pdiff":
		for _, p := range mappingPairs(a) {
			if _, ok := inB[p]; !ok {
				out = append(out, p)
			}
		}
	}
	return nil, []*bat{newMapping(e.mem, out)}, nil
}

// renumberKeys maps base+i to src[i].
func (e *ArrowEngine) renumberKeys(src []uint64, base uint64) *bat {
	hb := array.NewUint64Builder(e.mem)
	defer hb.Release()
	for i := range src {
		hb.Append(base + uint64(i))
	}
	return &bat{kind: kindMapping, typ: types.Oid, head: hb.NewUint64Array(), tail: newUint64Array(e.mem, src)}
}

// t := renumber(m, 'l'|'r', base) turns pair i of mapping m into a mapping
// from base+i to the left (or right) key of that pair. A key set or order
// may stand in for m; its keys serve as both sides.
func opRenumber(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 3); err != nil {
		return nil, nil, err
	}
	m, err := e.getKind(cmd.Args[0], kindMapping, kindKeySet, kindOrder)
	if err != nil {
		return nil, nil, err
	}
	side, err := stringArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	base, err := intArg(cmd, 2)
	if err != nil {
		return nil, nil, err
	}
	if base < 0 {
		return nil, nil, fmt.Errorf("renumber base must not be negative, got %d", base)
	}
	var src []uint64
	switch side {
	case "l":
		src = m.keys()
	case "r":
		if m.kind != kindMapping {
			src = m.keys()
			break
		}
		tail := m.tail.(*array.Uint64)
		src = make([]uint64, m.Len())
		copy(src, tail.Uint64Values())
	default:
		return nil, nil, fmt.Errorf("renumber side must be 'l' or 'r', got %q", side)
	}
	return nil, []*bat{e.renumberKeys(src, uint64(base))}, nil
}

// t := positions(order, base) maps base+i to the key at position i of order.
func opPositions(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	o, err := e.getKind(cmd.Args[0], kindOrder)
	if err != nil {
		return nil, nil, err
	}
	base, err := intArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	if base < 0 {
		return nil, nil, fmt.Errorf("positions base must not be negative, got %d", base)
	}
	return nil, []*bat{e.renumberKeys(o.keys(), uint64(base))}, nil
}
