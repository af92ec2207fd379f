package engine

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/zeebo/xxh3"
)

// selectKeys collects the keys of column b whose value satisfies keep;
// null values never reach keep.
func (e *ArrowEngine) selectKeys(b *bat, keep func(v any) bool) *bat {
	keys := make([]uint64, 0)
	for i := 0; i < b.Len(); i++ {
		if b.tail.IsNull(i) {
			continue
		}
		if keep(valueAt(b.tail, i)) {
			keys = append(keys, b.head.Value(i))
		}
	}
	return newKeySet(e.mem, keys)
}

func holds(op types.CmpOp, cmp int) bool {
	switch op {
	case types.EQ:
		return cmp == 0
	case types.NE:
		return cmp != 0
	case types.LT:
		return cmp < 0
	case types.LE:
		return cmp <= 0
	case types.GT:
		return cmp > 0
	case types.GE:
		return cmp >= 0
	default:
		return false
	}
}

// t := select(h, '<op>', literal) bounds against an ordering operator; null
// rows never qualify.
func opSelect(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 3); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	sym, err := stringArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	op, ok := types.ParseCmpOp(sym)
	if !ok || !op.Ordering() {
		return nil, nil, fmt.Errorf("select takes an ordering operator, got %q", sym)
	}
	v, err := literal(b.typ, cmd.Args[2])
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		return nil, []*bat{newKeySet(e.mem, nil)}, nil
	}
	return nil, []*bat{e.selectKeys(b, func(x any) bool { return holds(op, compareValues(x, v)) })}, nil
}

// t := member(h, literal) is the key set whose value equals literal; the
// nil literal selects the null rows.
func opMember(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	v, err := literal(b.typ, cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		keys := make([]uint64, 0)
		for i := 0; i < b.Len(); i++ {
			if b.tail.IsNull(i) {
				keys = append(keys, b.head.Value(i))
			}
		}
		return nil, []*bat{newKeySet(e.mem, keys)}, nil
	}
	want := hashable(v)
	return nil, []*bat{e.selectKeys(b, func(x any) bool { return hashable(x) == want })}, nil
}

// t := range(h, lo, hi), inclusive on both ends
func opRange(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 3); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	lo, err := literal(b.typ, cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	hi, err := literal(b.typ, cmd.Args[2])
	if err != nil {
		return nil, nil, err
	}
	return nil, []*bat{e.selectKeys(b, func(x any) bool {
		if lo != nil && compareValues(x, lo) < 0 {
			return false
		}
		if hi != nil && compareValues(x, hi) > 0 {
			return false
		}
		return true
	})}, nil
}

// t := like(h, 'pattern') with % and _ wildcards
func opLike(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	if _, ok := b.tail.(*array.String); !ok {
		return nil, nil, fmt.Errorf("like only works on string columns, got %s", b.typ)
	}
	pattern, err := stringArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	re, err := regexp.Compile(compileLikePattern(pattern))
	if err != nil {
		return nil, nil, err
	}
	return nil, []*bat{e.selectKeys(b, func(x any) bool { return re.MatchString(x.(string)) })}, nil
}

func compileLikePattern(s string) string {
	var buf bytes.Buffer
	startsWithWildcard := len(s) > 0 && s[0] == '%'
	endsWithWildcard := len(s) > 0 && s[len(s)-1] == '%'
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '_':
			buf.WriteString(".")
		case '%':
			buf.WriteString(".*")
		default:
			if strings.ContainsRune(`.^$|()[]*+?{}\`, rune(s[i])) {
				buf.WriteByte('\\')
			}
			buf.WriteByte(s[i])
		}
	}
	regex := "(?s)" + buf.String()
	if !startsWithWildcard {
		regex = "(?s)^" + buf.String()
	}
	if !endsWithWildcard {
		regex += "$"
	}
	return regex
}

// t := cmpcol(a, '<op>', b) compares two columns of the same type key by
// key; rows missing from either side or null on either side never qualify.
func opCmpCol(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 3); err != nil {
		return nil, nil, err
	}
	a, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	sym, err := stringArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	op, ok := types.ParseCmpOp(sym)
	if !ok {
		return nil, nil, fmt.Errorf("unknown comparison %q", sym)
	}
	b, err := e.column(cmd.Args[2])
	if err != nil {
		return nil, nil, err
	}
	if a.typ != b.typ {
		return nil, nil, fmt.Errorf("%w: cmpcol over %s and %s", types.ErrSchemaMismatch, a.typ, b.typ)
	}
	idx := b.index()
	keys := make([]uint64, 0)
	for i := 0; i < a.Len(); i++ {
		j, ok := idx[a.head.Value(i)]
		if !ok || a.tail.IsNull(i) || b.tail.IsNull(j) {
			continue
		}
		if holds(op, compareValues(valueAt(a.tail, i), valueAt(b.tail, j))) {
			keys = append(keys, a.head.Value(i))
		}
	}
	return nil, []*bat{newKeySet(e.mem, keys)}, nil
}

// tupleColumns resolves column handles together with their key indexes.
func (e *ArrowEngine) tupleColumns(args []command.Arg) ([]*bat, []map[uint64]int, error) {
	cols := make([]*bat, len(args))
	idx := make([]map[uint64]int, len(args))
	for i, a := range args {
		b, err := e.column(a)
		if err != nil {
			return nil, nil, err
		}
		cols[i] = b
		idx[i] = b.index()
	}
	return cols, idx, nil
}

// t := distinct(h1, ..., hn) keeps the first key of every distinct tuple;
// nulls compare equal to each other here.
func opDistinct(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, -1); err != nil {
		return nil, nil, err
	}
	cols, idx, err := e.tupleColumns(cmd.Args)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]struct{}, cols[0].Len())
	keys := make([]uint64, 0)
	var buf []byte
	for i := 0; i < cols[0].Len(); i++ {
		k := cols[0].head.Value(i)
		var ok bool
		buf, _, ok = encodeTuple(buf[:0], cols, idx, k)
		if !ok {
			continue
		}
		if _, dup := seen[string(buf)]; dup {
			continue
		}
		seen[string(buf)] = struct{}{}
		keys = append(keys, k)
	}
	return nil, []*bat{newKeySet(e.mem, keys)}, nil
}

// t := pairdistinct(view)
func opPairDistinct(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	v, err := e.getKind(cmd.Args[0], kindView)
	if err != nil {
		return nil, nil, err
	}
	type pair struct{ a, b any }
	seen := make(map[pair]struct{}, v.Len())
	keys := make([]uint64, 0)
	for i := 0; i < v.Len(); i++ {
		p := pair{hashable(valueAt(v.tail, i)), hashable(valueAt(v.tail2, i))}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		keys = append(keys, v.head.Value(i))
	}
	return nil, []*bat{newKeySet(e.mem, keys)}, nil
}

// setValues returns the membership set a foreign handle stands for: its tail
// values for columns, its keys otherwise.
func setValues(b *bat) map[any]struct{} {
	set := make(map[any]struct{}, b.Len())
	if b.kind == kindColumn {
		for i := 0; i < b.Len(); i++ {
			if !b.tail.IsNull(i) {
				set[hashable(valueAt(b.tail, i))] = struct{}{}
			}
		}
		return set
	}
	for i := 0; i < b.Len(); i++ {
		set[hashable(b.head.Value(i))] = struct{}{}
	}
	return set
}

// t := intail(h, set) keys of h whose value is a member of set
func opInTail(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.column(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	s, err := e.get(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	set := setValues(s)
	return nil, []*bat{e.selectKeys(b, func(x any) bool {
		_, ok := set[hashable(x)]
		return ok
	})}, nil
}

// t := inhead(h, set) keys of h that are also keys of set
func opInHead(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	s, err := e.get(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	idx := s.index()
	keys := make([]uint64, 0)
	for i := 0; i < b.Len(); i++ {
		if _, ok := idx[b.head.Value(i)]; ok {
			keys = append(keys, b.head.Value(i))
		}
	}
	return nil, []*bat{newKeySet(e.mem, keys)}, nil
}

// t := sample(h, n) draws n keys without replacement.
func opSample(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	n, err := intArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	if n < 0 {
		return nil, nil, fmt.Errorf("sample size must not be negative, got %d", n)
	}
	keys := b.keys()
	if int(n) < len(keys) {
		e.rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		keys = keys[:n]
	}
	return nil, []*bat{newKeySet(e.mem, keys)}, nil
}

// t := window(h, from, to) keys at positions from..to (inclusive) in key order.
func opWindow(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, 3); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	from, err := intArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	to, err := intArg(cmd, 2)
	if err != nil {
		return nil, nil, err
	}
	keys := newKeySet(e.mem, b.keys())
	defer keys.release()
	out := make([]uint64, 0)
	for i := from; i <= to && i < int64(keys.Len()); i++ {
		if i >= 0 {
			out = append(out, keys.head.Value(int(i)))
		}
	}
	return nil, []*bat{newKeySet(e.mem, out)}, nil
}

// kinter / kunion / kdiff over the keys of any two handles
func opKeySetAlgebra(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	a, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[1])
	if err != nil {
		return nil, nil, err
	}
	inB := b.index()
	var keys []uint64
	switch cmd.Op {
	case "kinter":
		for _, k := range a.keys() {
			if _, ok := inB[k]; ok {
				keys = append(keys, k)
			}
		}
	case "kunion":
		keys = append(a.keys(), b.keys()...)
	case "kdiff":
		for _, k := range a.keys() {
			if _, ok := inB[k]; !ok {
				keys = append(keys, k)
			}
		}
	}
	return nil, []*bat{newKeySet(e.mem, keys)}, nil
}

// t := hashkey(h1, ..., hn) is an oid column holding the xxh3 hash of every
// row's encoded tuple; a tuple with a null component hashes to null. Equal
// hashes do not prove equal tuples, see intuple.
func opHashKey(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, -1); err != nil {
		return nil, nil, err
	}
	cols, idx, err := e.tupleColumns(cmd.Args)
	if err != nil {
		return nil, nil, err
	}
	first := cols[0]
	keys := make([]uint64, 0, first.Len())
	hb := array.NewUint64Builder(e.mem)
	defer hb.Release()
	var buf []byte
	for i := 0; i < first.Len(); i++ {
		k := first.head.Value(i)
		var null, ok bool
		buf, null, ok = encodeTuple(buf[:0], cols, idx, k)
		if !ok {
			continue
		}
		keys = append(keys, k)
		if null {
			hb.AppendNull()
			continue
		}
		hb.Append(xxh3.Hash(buf))
	}
	return nil, []*bat{{kind: kindColumn, typ: types.Oid, head: newUint64Array(e.mem, keys), tail: hb.NewArray()}}, nil
}

// t := intuple(a1, ..., an, b1, ..., bn) is the key set of a1 whose tuple
// (a1..an) equals some tuple (b1..bn). The b tuples are bucketed by xxh3
// hash and every candidate is compared in full. Tuples with a null part
// never match.
func opInTuple(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, -1); err != nil {
		return nil, nil, err
	}
	if len(cmd.Args)%2 != 0 {
		return nil, nil, fmt.Errorf("intuple needs two tuples of equal width, got %d handles", len(cmd.Args))
	}
	n := len(cmd.Args) / 2
	left, lidx, err := e.tupleColumns(cmd.Args[:n])
	if err != nil {
		return nil, nil, err
	}
	right, ridx, err := e.tupleColumns(cmd.Args[n:])
	if err != nil {
		return nil, nil, err
	}
	for i := range left {
		if left[i].typ != right[i].typ {
			return nil, nil, fmt.Errorf("%w: intuple part %d compares %s with %s", types.ErrSchemaMismatch, i+1, left[i].typ, right[i].typ)
		}
	}

	buckets := make(map[uint64][]string, right[0].Len())
	var buf []byte
	for i := 0; i < right[0].Len(); i++ {
		var null, ok bool
		buf, null, ok = encodeTuple(buf[:0], right, ridx, right[0].head.Value(i))
		if !ok || null {
			continue
		}
		h := xxh3.Hash(buf)
		buckets[h] = append(buckets[h], string(buf))
	}
	keys := make([]uint64, 0)
	for i := 0; i < left[0].Len(); i++ {
		k := left[0].head.Value(i)
		var null, ok bool
		buf, null, ok = encodeTuple(buf[:0], left, lidx, k)
		if !ok || null {
			continue
		}
		for _, cand := range buckets[xxh3.Hash(buf)] {
			if cand == string(buf) {
				keys = append(keys, k)
				break
			}
		}
	}
	return nil, []*bat{newKeySet(e.mem, keys)}, nil
}
