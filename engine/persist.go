package engine

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

/*
Durable handle file, one per persisted handle, named <handle>.bat

	uint8    kind
	uint32   typeLength      bytes[] typeName
	uint32   type2Length     bytes[] type2Name
	uint8    numArrays       (head, tail, tail2 as present)
	per array:
	  int64    length
	  int64    nullCount
	  uint32   numBuffers
	  per buffer:
	    uint64   bufferLength   bytes[] bufferBytes

Buffers are written raw, so arrays are normalized to offset zero first.
*/

const durableExt = ".bat"

var ErrCorruptHandleFile = func(path, info string) error {
	return fmt.Errorf("corrupt handle file %s: %s", path, info)
}

type serializer struct {
	mem memory.Allocator
}

func (s serializer) writeBat(w io.Writer, b *bat) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(b.kind)); err != nil {
		return err
	}
	for _, dt := range []types.DataType{b.typ, b.typ2} {
		name := []byte(dt.String())
		if dt == types.Invalid {
			name = nil
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(name))); err != nil {
			return err
		}
		if _, err := w.Write(name); err != nil {
			return err
		}
	}
	arrays := []arrow.Array{b.head}
	if b.tail != nil {
		arrays = append(arrays, b.tail)
	}
	if b.tail2 != nil {
		arrays = append(arrays, b.tail2)
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(len(arrays))); err != nil {
		return err
	}
	for _, arr := range arrays {
		if err := s.writeArray(w, arr); err != nil {
			return err
		}
	}
	return nil
}

func (s serializer) writeArray(w io.Writer, arr arrow.Array) error {
	if arr.Data().Offset() != 0 {
		flat, err := array.Concatenate([]arrow.Array{arr}, s.mem)
		if err != nil {
			return err
		}
		defer flat.Release()
		arr = flat
	}
	data := arr.Data()
	if err := binary.Write(w, binary.LittleEndian, int64(data.Len())); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int64(data.NullN())); err != nil {
		return err
	}
	buffers := data.Buffers()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(buffers))); err != nil {
		return err
	}
	for _, buf := range buffers {
		if buf == nil || buf.Len() == 0 {
			if err := binary.Write(w, binary.LittleEndian, uint64(0)); err != nil {
				return err
			}
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(buf.Len())); err != nil {
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (s serializer) readBat(r io.Reader) (*bat, error) {
	var kind uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return nil, err
	}
	b := &bat{kind: batKind(kind), durable: true}
	dts := make([]types.DataType, 2)
	for i := range dts {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		dt, err := types.ParseDataType(string(name))
		if err != nil {
			return nil, err
		}
		dts[i] = dt
	}
	b.typ, b.typ2 = dts[0], dts[1]

	var count uint8
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count == 0 || count > 3 {
		return nil, fmt.Errorf("%d arrays in handle", count)
	}
	arrowTypes := []arrow.DataType{arrow.PrimitiveTypes.Uint64}
	for _, dt := range []types.DataType{b.typ, b.typ2}[:count-1] {
		if b.kind == kindMapping {
			arrowTypes = append(arrowTypes, arrow.PrimitiveTypes.Uint64)
			continue
		}
		if b.kind == kindOrder {
			arrowTypes = append(arrowTypes, arrow.PrimitiveTypes.Int64)
			continue
		}
		at, err := arrowType(dt)
		if err != nil {
			return nil, err
		}
		arrowTypes = append(arrowTypes, at)
	}
	arrays := make([]arrow.Array, 0, count)
	for _, at := range arrowTypes {
		arr, err := s.readArray(r, at)
		if err != nil {
			for _, a := range arrays {
				a.Release()
			}
			return nil, err
		}
		arrays = append(arrays, arr)
	}
	head, ok := arrays[0].(*array.Uint64)
	if !ok {
		for _, a := range arrays {
			a.Release()
		}
		return nil, errors.New("head is not a key array")
	}
	b.head = head
	if count > 1 {
		b.tail = arrays[1]
	}
	if count > 2 {
		b.tail2 = arrays[2]
	}
	return b, nil
}

func (s serializer) readArray(r io.Reader, dt arrow.DataType) (arrow.Array, error) {
	var length, nulls int64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &nulls); err != nil {
		return nil, err
	}
	var numBuffers uint32
	if err := binary.Read(r, binary.LittleEndian, &numBuffers); err != nil {
		return nil, err
	}
	buffers := make([]*memory.Buffer, numBuffers)
	for i := range buffers {
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		if size == 0 {
			continue
		}
		raw := make([]byte, size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}
		buffers[i] = memory.NewBufferBytes(raw)
	}
	data := array.NewData(dt, int(length), buffers, nil, int(nulls), 0)
	defer data.Release()
	return array.MakeFromData(data), nil
}

func (e *ArrowEngine) durablePath(name string) string {
	return filepath.Join(e.dataDir, name+durableExt)
}

func (e *ArrowEngine) writeDurable(name string, b *bat) error {
	if e.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(e.dataDir, name+".*.tmp")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	err = serializer{mem: e.mem}.writeBat(w, b)
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), e.durablePath(name))
}

func (e *ArrowEngine) removeDurable(name string) error {
	if e.dataDir == "" {
		return nil
	}
	err := os.Remove(e.durablePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// loadDurable binds every handle file found in the data directory.
func (e *ArrowEngine) loadDurable() error {
	entries, err := os.ReadDir(e.dataDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), durableExt) {
			continue
		}
		name := strings.TrimSuffix(ent.Name(), durableExt)
		path := filepath.Join(e.dataDir, ent.Name())
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		b, err := serializer{mem: e.mem}.readBat(bufio.NewReader(f))
		f.Close()
		if err != nil {
			return ErrCorruptHandleFile(path, err.Error())
		}
		e.handles[name] = b
	}
	e.log.Debug("loaded durable handles", "dir", e.dataDir, "count", len(e.handles))
	e.metrics.live.Set(float64(len(e.handles)))
	return nil
}

// rename(h, 'name') rebinds h under name.
func opRename(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(2, 2); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	to, err := stringArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	from := cmd.Args[0].Text
	if to == from {
		return &Result{}, nil, nil
	}
	if _, taken := e.handles[to]; taken {
		return nil, nil, fmt.Errorf("handle %s is already bound", to)
	}
	if b.durable {
		if err := e.writeDurable(to, b); err != nil {
			return nil, nil, err
		}
		if err := e.removeDurable(from); err != nil {
			return nil, nil, err
		}
	}
	delete(e.handles, from)
	e.handles[to] = b
	return &Result{}, nil, nil
}

// persist(h) marks h durable and mirrors it to the data directory.
func opPersist(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	if err := e.writeDurable(cmd.Args[0].Text, b); err != nil {
		return nil, nil, err
	}
	b.durable = true
	return &Result{}, nil, nil
}

// free(h) unbinds h and drops its durable copy.
func opFree(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	b, err := e.get(cmd.Args[0])
	if err != nil {
		return nil, nil, err
	}
	name := cmd.Args[0].Text
	if b.durable {
		if err := e.removeDurable(name); err != nil {
			return nil, nil, err
		}
	}
	b.release()
	delete(e.handles, name)
	return &Result{}, nil, nil
}

// exists('name') reports whether a handle is bound under name.
func opExists(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(1, 1); err != nil {
		return nil, nil, err
	}
	name, err := stringArg(cmd, 0)
	if err != nil {
		return nil, nil, err
	}
	_, ok := e.handles[name]
	return &Result{Scalar: ok}, nil, nil
}
