package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"golang.org/x/sync/errgroup"
)

/*
Tab-delimited row format, one record per line, fields separated by a tab.

	\N        the whole field is null
	\\        backslash
	\t \n \r  tab, newline, carriage return

Every other byte stands for itself. A value never encodes to \N, and an
empty line is a record with one empty field.
*/

// NullText marks a null field.
const NullText = `\N`

var ErrBadEscape = func(field string) error {
	return fmt.Errorf("bad escape in field %q", field)
}

// EscapeField renders s as a field of the tab-delimited format.
func EscapeField(s string) string {
	if !strings.ContainsAny(s, "\\\t\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// UnescapeField reverses EscapeField; null reports the NullText marker.
func UnescapeField(raw string) (s string, null bool, err error) {
	if raw == NullText {
		return "", true, nil
	}
	if !strings.Contains(raw, `\`) {
		return raw, false, nil
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(raw) {
			return "", false, ErrBadEscape(raw)
		}
		switch raw[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", false, ErrBadEscape(raw)
		}
	}
	return b.String(), false, nil
}

// TSVWriter writes records of already escaped fields.
type TSVWriter struct {
	w *bufio.Writer
}

func NewTSVWriter(w io.Writer) *TSVWriter {
	return &TSVWriter{w: bufio.NewWriter(w)}
}

func (tw *TSVWriter) Write(record []string) error {
	for i, f := range record {
		if i > 0 {
			if err := tw.w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := tw.w.WriteString(f); err != nil {
			return err
		}
	}
	return tw.w.WriteByte('\n')
}

// WriteAll writes every record and flushes.
func (tw *TSVWriter) WriteAll(records [][]string) error {
	for _, rec := range records {
		if err := tw.Write(rec); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func (tw *TSVWriter) Flush() error {
	return tw.w.Flush()
}

// TSVReader splits lines into raw, still escaped fields.
type TSVReader struct {
	r    *bufio.Reader
	line int
}

func NewTSVReader(r io.Reader) *TSVReader {
	return &TSVReader{r: bufio.NewReader(r)}
}

// Read returns the fields of the next record, or io.EOF after the last one.
// A final line without a newline still counts.
func (tr *TSVReader) Read() ([]string, error) {
	line, err := tr.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if errors.Is(err, io.EOF) && line == "" {
		return nil, io.EOF
	}
	tr.line++
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return strings.Split(line, "\t"), nil
}

// Line is the number of records read so far.
func (tr *TSVReader) Line() int { return tr.line }

// n := load('path', base, h1, ..., hn) appends the rows of a tab-delimited
// or parquet file to columns h1..hn under keys base, base+1, ...
func opLoad(e *ArrowEngine, ctx context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, -1); err != nil {
		return nil, nil, err
	}
	path, err := stringArg(cmd, 0)
	if err != nil {
		return nil, nil, err
	}
	base, err := intArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	if base < 0 {
		return nil, nil, fmt.Errorf("load base must not be negative, got %d", base)
	}
	cols := make([]*bat, 0, len(cmd.Args)-2)
	for _, a := range cmd.Args[2:] {
		b, err := e.column(a)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, b)
	}

	var values [][]any
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		values, err = e.readParquet(ctx, path, cols)
	} else {
		values, err = readTSV(ctx, path, cols)
	}
	if err != nil {
		return nil, nil, err
	}
	n := 0
	if len(values) > 0 {
		n = len(values[0])
	}
	keys := make([]uint64, n)
	for i := range keys {
		keys[i] = uint64(base) + uint64(i)
	}
	for c, b := range cols {
		if err := e.appendRows(b, keys, values[c]); err != nil {
			return nil, nil, fmt.Errorf("load %s column %d: %w", path, c+1, err)
		}
	}
	return &Result{Count: int64(n)}, nil, nil
}

// readTSV reads every record up front and then converts each column on its
// own goroutine.
func readTSV(ctx context.Context, path string, cols []*bat) ([][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := NewTSVReader(f)
	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(rec) != len(cols) {
			return nil, fmt.Errorf("%w: %s line %d has %d fields, want %d", types.ErrSchemaMismatch, path, r.Line(), len(rec), len(cols))
		}
		records = append(records, rec)
	}

	values := make([][]any, len(cols))
	g, ctx := errgroup.WithContext(ctx)
	for c, b := range cols {
		g.Go(func() error {
			out := make([]any, len(records))
			for i, rec := range records {
				if i%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				field, null, err := UnescapeField(rec[c])
				if err != nil {
					return fmt.Errorf("%s line %d field %d: %w", path, i+1, c+1, err)
				}
				if null {
					continue
				}
				v, err := ParseValue(b.typ, field)
				if err != nil {
					return fmt.Errorf("%s line %d field %d: %w", path, i+1, c+1, err)
				}
				out[i] = v
			}
			values[c] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// readParquet reads the first len(cols) columns of a parquet file and casts
// them to the column types.
func (e *ArrowEngine) readParquet(ctx context.Context, path string, cols []*bat) ([][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := pf.Close(); err != nil {
			e.log.Warn("failed to close parquet reader", "path", path, "err", err)
		}
	}()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{Parallel: true, BatchSize: 1024}, e.mem)
	if err != nil {
		return nil, err
	}
	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	if int(tbl.NumCols()) < len(cols) {
		return nil, fmt.Errorf("%w: %s has %d columns, %d requested", types.ErrSchemaMismatch, path, tbl.NumCols(), len(cols))
	}

	values := make([][]any, len(cols))
	for c, b := range cols {
		chunks := tbl.Column(c).Data().Chunks()
		var whole arrow.Array
		if len(chunks) == 0 {
			values[c] = nil
			continue
		}
		whole, err = array.Concatenate(chunks, e.mem)
		if err != nil {
			return nil, err
		}
		at, err := arrowType(b.typ)
		if err != nil {
			whole.Release()
			return nil, err
		}
		if !arrow.TypeEqual(whole.DataType(), at) {
			cast, err := compute.CastArray(ctx, whole, compute.SafeCastOptions(at))
			whole.Release()
			if err != nil {
				return nil, fmt.Errorf("cast error: column %d of %s: %w", c+1, path, err)
			}
			whole = cast
		}
		out := make([]any, whole.Len())
		for i := range out {
			out[i] = valueAt(whole, i)
		}
		whole.Release()
		values[c] = out
	}
	return values, nil
}

// writeparquet('path', 'a,b,...', h1, ..., hn) writes the columns as one
// parquet row group, rows in the key order of h1.
func opWriteParquet(e *ArrowEngine, _ context.Context, cmd command.Command) (*Result, []*bat, error) {
	if err := cmd.Arity(3, -1); err != nil {
		return nil, nil, err
	}
	path, err := stringArg(cmd, 0)
	if err != nil {
		return nil, nil, err
	}
	names, err := stringArg(cmd, 1)
	if err != nil {
		return nil, nil, err
	}
	fieldNames := strings.Split(names, ",")
	if len(fieldNames) != len(cmd.Args)-2 {
		return nil, nil, fmt.Errorf("writeparquet: %d names for %d columns", len(fieldNames), len(cmd.Args)-2)
	}

	var (
		fields []arrow.Field
		arrays []arrow.Array
		order  *bat
	)
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()
	for i, a := range cmd.Args[2:] {
		b, err := e.column(a)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			order = b
		}
		idx := b.index()
		pos := make([]int, order.Len())
		for r := range pos {
			p, ok := idx[order.head.Value(r)]
			if !ok {
				p = -1
			}
			pos[r] = p
		}
		arr, err := gather(e.mem, b.typ, b.tail, pos)
		if err != nil {
			return nil, nil, err
		}
		arrays = append(arrays, arr)
		fields = append(fields, arrow.Field{Name: strings.TrimSpace(fieldNames[i]), Type: arr.DataType(), Nullable: true})
	}

	schema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(schema, arrays, int64(order.Len()))
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	fw, err := pqarrow.NewFileWriter(schema, f, parquet.NewWriterProperties(parquet.WithAllocator(e.mem)), pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, nil, err
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return nil, nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, nil, err
	}
	return &Result{Count: int64(order.Len())}, nil, nil
}
