package engine

import (
	"context"
	"fmt"
	"sort"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

func direction(cmd command.Command, i int) (bool, error) {
	dir, err := stringArg(cmd, i)
	if err != nil {
		return false, err
	}
	switch types.Fold(dir) {
	case "asc":
		return true, nil
	case "desc":
		return false, nil
	default:
		return false, fmt.Errorf("sort direction must be 'asc' or 'desc', got %q", dir)
	}
}

// compareMaybe compares positions of col; a negative position stands for a
// key col does not hold and compares like null.
func compareMaybe(col arrow.Array, i, j int) int {
	switch {
	case i < 0 && j < 0:
		return 0
	case i < 0:
		if col.IsNull(j) {
			return 0
		}
		return -1
	case j < 0:
		if col.IsNull(i) {
			return 0
		}
		return 1
	}
	return compareAt(col, i, j)
}

// orderBy sorts every run of keys on col, leaving the runs where they are,
// and returns the new key order with fresh run ids splitting every run at
// each value change.
func orderBy(keys []uint64, runs []int64, col *bat, ascending bool) ([]uint64, []int64) {
	idx := col.index()
	type entry struct {
		key uint64
		run int64
		pos int
	}
	entries := make([]entry, len(keys))
	for i, k := range keys {
		p, ok := idx[k]
		if !ok {
			p = -1
		}
		entries[i] = entry{k, runs[i], p}
	}
	// runs are contiguous in an order; each is sorted in place on its own
	for lo := 0; lo < len(entries); {
		hi := lo + 1
		for hi < len(entries) && entries[hi].run == entries[lo].run {
			hi++
		}
		if run := entries[lo:hi]; len(run) > 1 {
			sort.SliceStable(run, func(a, b int) bool {
				cmp := compareMaybe(col.tail, run[a].pos, run[b].pos)
				if ascending {
					return cmp < 0
				}
				return cmp > 0
			})
		}
		lo = hi
	}

	outKeys := make([]uint64, len(entries))
	outRuns := make([]int64, len(entries))
	var run int64
	for i, en := range entries {
		if i > 0 {
			prev := entries[i-1]
			if prev.run != en.run || compareMaybe(col.tail, prev.pos, en.pos) != 0 {
				run++
			}
		}
		outKeys[i] = en.key
		outRuns[i] = run
	}
	return outKeys, outRuns
}

func (e *ArrowEngine) newOrder(keys []uint64, runs []int64) *bat {
	rb := array.NewInt64Builder(e.mem)
	defer rb.Release()
	rb.AppendValues(runs, nil)
	return &bat{kind: kindOrder, typ: types.Long, head: newUint64Array(e.mem, keys), tail: rb.NewArray()}
}

// t := sort(h, 'asc'|'desc') orders the keys of column h by value; equal
// values share a run id. Nulls sort lowest.
func opSort(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	asc, err := direction(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	keys, runs := orderBy(b.keys(), make([]int64, b.Len()), b, asc)
	return nil, []*bat{e.newOrder(keys, runs)}, nil
}

// t := refine(order, h, 'asc'|'desc') sorts inside every run of order by the
// values of h, splitting runs where h differs. Runs never move relative to
// each other.
func opRefine(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 3); err != nil {
		return nil, nil, err
	}
	o, err := e.getKind(cmd.Args[0], kindOrder)
	if err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	asc, err := direction(cmd, 2)
	if err != nil {
		return nil, nil, err
	}
	runs := make([]int64, o.Len())
	copy(runs, o.tail.(*array.Int64).Int64Values())
	keys, runs := orderBy(o.keys(), runs, b, asc)
	return nil, []*bat{e.newOrder(keys, runs)}, nil
}

// t := runs(order) is a long column keyed by the order's keys in ascending
// key order whose value is the run id of the key.
func opRuns(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	o, err := e.getKind(cmd.Args[0], kindOrder)
	if err != nil {
		return nil, nil, err
	}
	tail := o.tail.(*array.Int64)
	pos := make([]int, o.Len())
	for i := range pos {
		pos[i] = i
	}
	sort.Slice(pos, func(a, b int) bool { return o.head.Value(pos[a]) < o.head.Value(pos[b]) })
	keys := make([]uint64, len(pos))
	rb := array.NewInt64Builder(e.mem)
	defer rb.Release()
	for i, p := range pos {
		keys[i] = o.head.Value(p)
		rb.Append(tail.Value(p))
	}
	return nil, []*bat{{kind: kindColumn, typ: types.Long, head: newUint64Array(e.mem, keys), tail: rb.NewArray()}}, nil
}
