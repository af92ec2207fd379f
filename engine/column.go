package engine

import (
	"context"
	"fmt"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
)

// t := new('type')
func opNew(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	name, err := stringArg(cmd, 0)
	if err != nil {
		return nil, nil, err
	}
	dt, err := types.ParseDataType(name)
	if err != nil {
		return nil, nil, err
	}
	b, err := emptyColumn(e.mem, dt)
	if err != nil {
		return nil, nil, err
	}
	return nil, []*bat{b}, nil
}

// appendRows replaces b's arrays with b plus the given key/value rows.
// Keys must stay ascending.
func (e *ArrowEngine) appendRows(b *bat, keys []uint64, vals []any) error {
	n := b.Len()
	if len(keys) == 0 {
		return nil
	}
	if n > 0 && keys[0] <= b.head.Value(n-1) {
		return fmt.Errorf("key %d is not above the last key %d", keys[0], b.head.Value(n-1))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			return fmt.Errorf("keys must ascend: %d after %d", keys[i], keys[i-1])
		}
	}
	at, err := arrowType(b.typ)
	if err != nil {
		return err
	}
	vb := array.NewBuilder(e.mem, at)
	defer vb.Release()
	for _, v := range vals {
		if err := appendValue(vb, v); err != nil {
			return err
		}
	}
	extra := vb.NewArray()
	defer extra.Release()
	extraKeys := newUint64Array(e.mem, keys)
	defer extraKeys.Release()

	head, err := array.Concatenate([]arrow.Array{b.head, extraKeys}, e.mem)
	if err != nil {
		return err
	}
	tail, err := array.Concatenate([]arrow.Array{b.tail, extra}, e.mem)
	if err != nil {
		head.Release()
		return err
	}
	b.head.Release()
	b.tail.Release()
	b.head = head.(*array.Uint64)
	b.tail = tail
	return nil
}

// insert(h, key, value)
func opInsert(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 3); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	key, err := intArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	v, err := literal(b.typ, cmd.Args[2])
	if err != nil {
		return nil, nil, err
	}
	if b.typ == types.Bat && v != nil {
		if _, ok := e.handles[v.(string)]; !ok && cmd.Args[2].Kind == command.Ident {
			return nil, nil, ErrUnknownHandle(v.(string))
		}
	}
	if err := e.appendRows(b, []uint64{uint64(key)}, []any{v}); err != nil {
		return nil, nil, err
	}
	return &Result{Count: 1}, nil, nil
}

// update(h, keyset, value) sets value on every key of h in keyset.
func opUpdate(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 3); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	ks, err := e.get(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	v, err := literal(b.typ, cmd.Args[2])
	if err != nil {
		return nil, nil, err
	}
	sel := ks.index()
	at, err := arrowType(b.typ)
	if err != nil {
		return nil, nil, err
	}
	vb := array.NewBuilder(e.mem, at)
	defer vb.Release()
	var changed int64
	for i := 0; i < b.Len(); i++ {
		cur := valueAt(b.tail, i)
		if _, hit := sel[b.head.Value(i)]; hit {
			cur = v
			changed++
		}
		if err := appendValue(vb, cur); err != nil {
			return nil, nil, err
		}
	}
	b.tail.Release()
	b.tail = vb.NewArray()
	return &Result{Count: changed}, nil, nil
}

// delete(h, keyset) drops every key of h in keyset.
func opDelete(e *ArrowEngine, ctx context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	ks, err := e.get(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	drop := ks.index()
	keep := make([]bool, b.Len())
	var removed int64
	for i := range keep {
		_, hit := drop[b.head.Value(i)]
		keep[i] = !hit
		if hit {
			removed++
		}
	}
	if removed == 0 {
		return &Result{}, nil, nil
	}
	head, tail, err := e.applyMask(ctx, b, keep)
	if err != nil {
		return nil, nil, err
	}
	b.head.Release()
	b.tail.Release()
	b.head, b.tail = head, tail
	return &Result{Count: removed}, nil, nil
}

// applyMask keeps the rows of b where keep is true.
func (e *ArrowEngine) applyMask(ctx context.Context, b *bat, keep []bool) (*array.Uint64, arrow.Array, error) {
	mb := array.NewBooleanBuilder(e.mem)
	mb.AppendValues(keep, nil)
	mask := mb.NewBooleanArray()
	mb.Release()
	defer mask.Release()

	head, err := applyBooleanMask(ctx, b.head, mask)
	if err != nil {
		return nil, nil, err
	}
	tail, err := applyBooleanMask(ctx, b.tail, mask)
	if err != nil {
		head.Release()
		return nil, nil, err
	}
	return head.(*array.Uint64), tail, nil
}

func applyBooleanMask(ctx context.Context, col arrow.Array, mask *array.Boolean) (arrow.Array, error) {
	datum, err := compute.Filter(ctx, compute.NewDatum(col), compute.NewDatum(mask), *compute.DefaultFilterOptions())
	if err != nil {
		return nil, err
	}
	defer datum.Release()
	return datum.(*compute.ArrayDatum).MakeArray(), nil
}

// t := keys(h)
func opKeys(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	if b.kind == kindColumn || b.kind == kindKeySet {
		b.head.Retain()
		return nil, []*bat{{kind: kindKeySet, head: b.head}}, nil
	}
	return nil, []*bat{newKeySet(e.mem, b.keys())}, nil
}

func opCount(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	return &Result{Count: int64(b.Len())}, nil, nil
}

// maxkey(h) returns the largest key, nil when h is empty.
func opMaxKey(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	res := &Result{Count: int64(b.Len())}
	for i := 0; i < b.Len(); i++ {
		k := b.head.Value(i)
		if res.Scalar == nil || k > res.Scalar.(uint64) {
			res.Scalar = k
		}
	}
	return res, nil, nil
}

// t := copy(h)
func opCopy(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	out := &bat{kind: b.kind, typ: b.typ, typ2: b.typ2, head: b.head, tail: b.tail, tail2: b.tail2}
	for _, a := range []arrow.Array{out.head, out.tail, out.tail2} {
		if a != nil {
			a.Retain()
		}
	}
	return nil, []*bat{out}, nil
}

// t := restrict(h, keyset) keeps the rows of column h whose key is in keyset.
func opRestrict(e *ArrowEngine, ctx context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	ks, err := e.get(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	sel := ks.index()
	keep := make([]bool, b.Len())
	for i := range keep {
		_, keep[i] = sel[b.head.Value(i)]
	}
	head, tail, err := e.applyMask(ctx, b, keep)
	if err != nil {
		return nil, nil, err
	}
	return nil, []*bat{{kind: kindColumn, typ: b.typ, head: head, tail: tail}}, nil
}

// t := convert(h, 'type') casts the tail with the compute cast kernel.
func opConvert(e *ArrowEngine, ctx context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	name, err := stringArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	dt, err := types.ParseDataType(name)
	if err != nil {
		return nil, nil, err
	}
	at, err := arrowType(dt)
	if err != nil {
		return nil, nil, err
	}
	tail, err := compute.CastArray(ctx, b.tail, compute.SafeCastOptions(at))
	if err != nil {
		return nil, nil, fmt.Errorf("cast error: cannot cast %s to %s: %w", b.typ, dt, err)
	}
	b.head.Retain()
	return nil, []*bat{{kind: kindColumn, typ: dt, head: b.head, tail: tail}}, nil
}

// t := fetch(col, map) re-keys col: row i of the result has key map.head[i]
// and col's value at key map.tail[i], null when col has no such key.
func opFetch(e *ArrowEngine, ctx context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	m, err := e.getKind(cmd.Args[1], kindMapping)
	if err != nil {
		return nil, nil, err
	}
	idx := b.index()
	src := m.tail.(*array.Uint64)
	pos := make([]int, m.Len())
	complete := true
	for i := range pos {
		p, ok := idx[src.Value(i)]
		if !ok {
			p = -1
			complete = false
		}
		pos[i] = p
	}

	var tail arrow.Array
	if complete {
		ib := array.NewInt64Builder(e.mem)
		for _, p := range pos {
			ib.Append(int64(p))
		}
		indices := ib.NewArray()
		ib.Release()
		tail, err = compute.TakeArray(ctx, b.tail, indices)
		indices.Release()
	} else {
		tail, err = gather(e.mem, b.typ, b.tail, pos)
	}
	if err != nil {
		return nil, nil, err
	}
	m.head.Retain()
	return nil, []*bat{{kind: kindColumn, typ: b.typ, head: m.head, tail: tail}}, nil
}

// t := nulls(col, map) is an all-null column of col's type keyed by map.head.
func opNulls(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	m, err := e.get(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	pos := make([]int, m.Len())
	for i := range pos {
		pos[i] = -1
	}
	tail, err := gather(e.mem, b.typ, b.tail, pos)
	if err != nil {
		return nil, nil, err
	}
	m.head.Retain()
	return nil, []*bat{{kind: kindColumn, typ: b.typ, head: m.head, tail: tail}}, nil
}

// t := concat(a, b) appends column b after column a; b's keys must all be
// above a's.
func opConcat(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	a, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	if a.typ != b.typ {
		return nil, nil, fmt.Errorf("%w: concat %s with %s", types.ErrSchemaMismatch, a.typ, b.typ)
	}
	if a.Len() > 0 && b.Len() > 0 && b.head.Value(0) <= a.head.Value(a.Len()-1) {
		return nil, nil, fmt.Errorf("concat keys overlap at %d", b.head.Value(0))
	}
	head, err := array.Concatenate([]arrow.Array{a.head, b.head}, e.mem)
	if err != nil {
		return nil, nil, err
	}
	tail, err := array.Concatenate([]arrow.Array{a.tail, b.tail}, e.mem)
	if err != nil {
		head.Release()
		return nil, nil, err
	}
	return nil, []*bat{{kind: kindColumn, typ: a.typ, head: head.(*array.Uint64), tail: tail}}, nil
}

// t := pair(a, b) is a two-column view over the keys both columns hold.
func opPair(e *ArrowEngine, ctx context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	a, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	idx := b.index()
	keys := make([]uint64, 0, a.Len())
	posA := make([]int, 0, a.Len())
	posB := make([]int, 0, a.Len())
	for i := 0; i < a.Len(); i++ {
		if j, ok := idx[a.head.Value(i)]; ok {
			keys = append(keys, a.head.Value(i))
			posA = append(posA, i)
			posB = append(posB, j)
		}
	}
	t1, err := gather(e.mem, a.typ, a.tail, posA)
	if err != nil {
		return nil, nil, err
	}
	t2, err := gather(e.mem, b.typ, b.tail, posB)
	if err != nil {
		t1.Release()
		return nil, nil, err
	}
	return nil, []*bat{{kind: kindView, typ: a.typ, typ2: b.typ, head: newUint64Array(e.mem, keys), tail: t1, tail2: t2}}, nil
}

// rows([keyset,] h1, ..., hn) returns one row per key of the first column
// (restricted to keyset when given), values aligned by key.
func opRows(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, -1); err != nil {
		return nil, nil, err
	}
	args := cmd.Args
	var sel map[uint64]int
	first, err := e.get(args[0])
	if err != nil {
		return nil, nil, err
	}
	if first.kind == kindKeySet {
		sel = first.index()
		args = args[1:]
		if len(args) == 0 {
			return nil, nil, fmt.Errorf("rows needs at least one column after the key set")
		}
	}

	type source struct {
		arr arrow.Array
		idx map[uint64]int
	}
	var (
		cols  []source
		dts   []types.DataType
		order *bat
	)
	for i, a := range args {
		b, err := e.get(a)
		if err != nil {
			return nil, nil, err
		}
		switch b.kind {
		case kindColumn:
			cols = append(cols, source{arr: b.tail, idx: b.index()})
			dts = append(dts, b.typ)
		case kindView:
			idx := b.index()
			cols = append(cols, source{arr: b.tail, idx: idx}, source{arr: b.tail2, idx: idx})
			dts = append(dts, b.typ, b.typ2)
		default:
			return nil, nil, ErrWrongKind(a.Text, b.kind, kindColumn)
		}
		if i == 0 {
			order = b
		}
	}

	res := &Result{Types: dts}
	for i := 0; i < order.Len(); i++ {
		k := order.head.Value(i)
		if sel != nil {
			if _, ok := sel[k]; !ok {
				continue
			}
		}
		row := make([]any, len(cols))
		for c, src := range cols {
			if p, ok := src.idx[k]; ok {
				row[c] = valueAt(src.arr, p)
			}
		}
		res.Keys = append(res.Keys, k)
		res.Rows = append(res.Rows, row)
	}
	res.Count = int64(len(res.Rows))
	return res, nil, nil
}
