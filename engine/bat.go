package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

type batKind int

const (
	kindColumn  batKind = iota // head: ascending unique keys, tail: values
	kindKeySet                 // head: ascending unique keys, no tail
	kindMapping                // head: left keys, tail: right keys (pairs)
	kindOrder                  // head: keys in sort order, tail: run ids
	kindView                   // head: keys, tail + tail2: two aligned columns
)

func (k batKind) String() string {
	switch k {
	case kindColumn:
		return "column"
	case kindKeySet:
		return "keyset"
	case kindMapping:
		return "mapping"
	case kindOrder:
		return "order"
	case kindView:
		return "view"
	default:
		return "unknown"
	}
}

// bat is a binary association table: a head of row keys paired with a tail
// of values. Every handle the engine hands out names exactly one bat.
type bat struct {
	kind    batKind
	typ     types.DataType // tail type for columns
	typ2    types.DataType // second tail type for views
	head    *array.Uint64
	tail    arrow.Array
	tail2   arrow.Array
	durable bool
}

func (b *bat) Len() int {
	if b.head == nil {
		return 0
	}
	return b.head.Len()
}

func (b *bat) release() {
	if b.head != nil {
		b.head.Release()
		b.head = nil
	}
	if b.tail != nil {
		b.tail.Release()
		b.tail = nil
	}
	if b.tail2 != nil {
		b.tail2.Release()
		b.tail2 = nil
	}
}

// index maps each head key to its position. Only meaningful for bats with
// unique keys.
func (b *bat) index() map[uint64]int {
	idx := make(map[uint64]int, b.Len())
	for i := 0; i < b.Len(); i++ {
		idx[b.head.Value(i)] = i
	}
	return idx
}

func (b *bat) keys() []uint64 {
	if b.head == nil {
		return nil
	}
	out := make([]uint64, b.Len())
	copy(out, b.head.Uint64Values())
	return out
}

func arrowType(dt types.DataType) (arrow.DataType, error) {
	switch dt {
	case types.Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case types.Char, types.String, types.Bat:
		return arrow.BinaryTypes.String, nil
	case types.Date:
		return arrow.FixedWidthTypes.Date32, nil
	case types.Double:
		return arrow.PrimitiveTypes.Float64, nil
	case types.Float:
		return arrow.PrimitiveTypes.Float32, nil
	case types.Int:
		return arrow.PrimitiveTypes.Int32, nil
	case types.Long:
		return arrow.PrimitiveTypes.Int64, nil
	case types.Oid:
		return arrow.PrimitiveTypes.Uint64, nil
	case types.Timestamp:
		return arrow.FixedWidthTypes.Timestamp_ms, nil
	default:
		return nil, fmt.Errorf("no storage type for %s", dt)
	}
}

func newUint64Array(mem memory.Allocator, vals []uint64) *array.Uint64 {
	b := array.NewUint64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, nil)
	return b.NewUint64Array()
}

func newKeySet(mem memory.Allocator, keys []uint64) *bat {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		out = append(out, k)
	}
	return &bat{kind: kindKeySet, head: newUint64Array(mem, out)}
}

func emptyColumn(mem memory.Allocator, dt types.DataType) (*bat, error) {
	at, err := arrowType(dt)
	if err != nil {
		return nil, err
	}
	b := array.NewBuilder(mem, at)
	defer b.Release()
	return &bat{kind: kindColumn, typ: dt, head: newUint64Array(mem, nil), tail: b.NewArray()}, nil
}

// gather builds a new tail holding arr[pos[i]] for every i; a negative
// position yields null.
func gather(mem memory.Allocator, dt types.DataType, arr arrow.Array, pos []int) (arrow.Array, error) {
	at, err := arrowType(dt)
	if err != nil {
		return nil, err
	}
	b := array.NewBuilder(mem, at)
	defer b.Release()
	b.Reserve(len(pos))
	for _, p := range pos {
		if p < 0 || arr.IsNull(p) {
			b.AppendNull()
			continue
		}
		if err := appendValue(b, valueAt(arr, p)); err != nil {
			return nil, err
		}
	}
	return b.NewArray(), nil
}

// valueAt returns the Go value stored at position i, nil for null.
func valueAt(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.Int32:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Uint64:
		return a.Value(i)
	case *array.Float32:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Date32:
		return a.Value(i).ToTime().UTC()
	case *array.Timestamp:
		return a.Value(i).ToTime(arrow.Millisecond).UTC()
	default:
		return a.ValueStr(i)
	}
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.BooleanBuilder:
		bv, ok := v.(bool)
		if !ok {
			return fmt.Errorf("cannot append %T to boolean column", v)
		}
		bb.Append(bv)
	case *array.StringBuilder:
		sv, ok := v.(string)
		if !ok {
			return fmt.Errorf("cannot append %T to string column", v)
		}
		bb.Append(sv)
	case *array.Int32Builder:
		iv, ok := v.(int32)
		if !ok {
			return fmt.Errorf("cannot append %T to int column", v)
		}
		bb.Append(iv)
	case *array.Int64Builder:
		iv, ok := v.(int64)
		if !ok {
			return fmt.Errorf("cannot append %T to long column", v)
		}
		bb.Append(iv)
	case *array.Uint64Builder:
		uv, ok := v.(uint64)
		if !ok {
			return fmt.Errorf("cannot append %T to oid column", v)
		}
		bb.Append(uv)
	case *array.Float32Builder:
		fv, ok := v.(float32)
		if !ok {
			return fmt.Errorf("cannot append %T to float column", v)
		}
		bb.Append(fv)
	case *array.Float64Builder:
		fv, ok := v.(float64)
		if !ok {
			return fmt.Errorf("cannot append %T to double column", v)
		}
		bb.Append(fv)
	case *array.Date32Builder:
		tv, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("cannot append %T to date column", v)
		}
		bb.Append(arrow.Date32FromTime(tv))
	case *array.TimestampBuilder:
		tv, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("cannot append %T to timestamp column", v)
		}
		bb.Append(arrow.Timestamp(tv.UnixMilli()))
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

const (
	dateLayout      = types.DateLayout
	timestampLayout = types.TimestampLayout
)

// ParseValue converts text to the Go representation of dt. The empty string
// and "nil" are not special here; callers decide what null looks like.
func ParseValue(dt types.DataType, s string) (any, error) {
	return types.ParseValue(dt, s)
}

// FormatValue renders a value the way the delimited file format stores it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		if x.Equal(x.Truncate(24 * time.Hour)) {
			return x.Format(dateLayout)
		}
		return x.Format(timestampLayout)
	default:
		return fmt.Sprint(x)
	}
}

// literal converts a command argument to a value of the column type.
func literal(dt types.DataType, a command.Arg) (any, error) {
	switch a.Kind {
	case command.Nil:
		return nil, nil
	case command.Ident:
		if dt == types.Bat {
			return a.Text, nil
		}
		return nil, fmt.Errorf("handle %s is not a %s literal", a.Text, dt)
	default:
		return ParseValue(dt, a.Text)
	}
}

// compareValues orders two non-null values of the same Go type.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		if x == y {
			return 0
		}
		if !x && y {
			return -1
		}
		return 1
	case string:
		return strings.Compare(x, b.(string))
	case int32:
		return compareNumeric(x, b.(int32))
	case int64:
		return compareNumeric(x, b.(int64))
	case uint64:
		return compareNumeric(x, b.(uint64))
	case float32:
		return compareFloat(x, b.(float32))
	case float64:
		return compareFloat(x, b.(float64))
	case time.Time:
		return x.Compare(b.(time.Time))
	default:
		panic(fmt.Sprintf("unsupported value type %T in compareValues", a))
	}
}

func compareNumeric[T int64 | int32 | uint64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// NaN sorts above every number so ordering stays total.
func compareFloat[T float32 | float64](a, b T) int {
	an, bn := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareAt orders positions i and j of one array; nulls sort lowest.
func compareAt(arr arrow.Array, i, j int) int {
	ni, nj := arr.IsNull(i), arr.IsNull(j)
	switch {
	case ni && nj:
		return 0
	case ni:
		return -1
	case nj:
		return 1
	}
	return compareValues(valueAt(arr, i), valueAt(arr, j))
}

// hashable normalizes a value into a comparable map key so that integer
// widths and float widths meet in membership tests.
func hashable(v any) any {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case time.Time:
		return x.UnixMilli()
	default:
		return v
	}
}

// appendTuplePart appends an unambiguous encoding of v: a type tag followed
// by a fixed-width value or a length-prefixed string. Two encoded tuples are
// equal exactly when their parts are equal, null included.
func appendTuplePart(buf []byte, v any) []byte {
	switch x := hashable(v).(type) {
	case nil:
		return append(buf, 0)
	case bool:
		if x {
			return append(buf, 1, 1)
		}
		return append(buf, 1, 0)
	case int64:
		return binary.LittleEndian.AppendUint64(append(buf, 2), uint64(x))
	case uint64:
		return binary.LittleEndian.AppendUint64(append(buf, 3), x)
	case float64:
		if x == 0 {
			x = 0 // -0 == 0
		}
		return binary.LittleEndian.AppendUint64(append(buf, 4), math.Float64bits(x))
	case string:
		buf = binary.AppendUvarint(append(buf, 5), uint64(len(x)))
		return append(buf, x...)
	default:
		s := fmt.Sprint(x)
		buf = binary.AppendUvarint(append(buf, 6), uint64(len(s)))
		return append(buf, s...)
	}
}

// encodeTuple appends the tuple of cols at key k to buf. ok is false when
// some column lacks k; hasNull reports a null part.
func encodeTuple(buf []byte, cols []*bat, idx []map[uint64]int, k uint64) (out []byte, hasNull, ok bool) {
	for c, col := range cols {
		p, found := idx[c][k]
		if !found {
			return buf, false, false
		}
		if col.tail.IsNull(p) {
			hasNull = true
			buf = appendTuplePart(buf, nil)
			continue
		}
		buf = appendTuplePart(buf, valueAt(col.tail, p))
	}
	return buf, hasNull, true
}
