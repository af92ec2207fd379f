// Package engine executes the textual commands emitted by the table layer
// against Arrow arrays. Each handle names one bat: a head of uint64 row keys
// and an optional tail of values.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"coltable-go/command"
	"coltable-go/types"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrUnknownHandle = func(name string) error {
		return fmt.Errorf("%w: handle %s", types.ErrNotFound, name)
	}
	ErrUnknownOp = func(op string) error {
		return fmt.Errorf("unknown operation %q", op)
	}
	ErrWrongKind = func(name string, got, want batKind) error {
		return fmt.Errorf("handle %s is a %s, expected %s", name, got, want)
	}
	ErrTargetCount = func(op string, got, want int) error {
		return fmt.Errorf("%s binds %d results, %d targets given", op, want, got)
	}
)

// Backend is the command boundary the table layer depends on.
type Backend interface {
	Exec(ctx context.Context, cmd string) (*Result, error)
}

// Result carries whatever a command returns besides bound handles.
type Result struct {
	Count  int64
	Scalar any
	Types  []types.DataType
	Keys   []uint64
	Rows   [][]any
}

type opFunc func(e *ArrowEngine, ctx context.Context, cmd command.Command) (*Result, []*bat, error)

var ops map[string]opFunc

func init() {
	ops = map[string]opFunc{
		"new":          opNew,
		"insert":       opInsert,
		"update":       opUpdate,
		"delete":       opDelete,
		"load":         opLoad,
		"keys":         opKeys,
		"count":        opCount,
		"maxkey":       opMaxKey,
		"select":       opSelect,
		"member":       opMember,
		"range":        opRange,
		"like":         opLike,
		"cmpcol":       opCmpCol,
		"convert":      opConvert,
		"distinct":     opDistinct,
		"intail":       opInTail,
		"inhead":       opInHead,
		"sample":       opSample,
		"window":       opWindow,
		"kinter":       opKeySetAlgebra,
		"kunion":       opKeySetAlgebra,
		"kdiff":        opKeySetAlgebra,
		"restrict":     opRestrict,
		"copy":         opCopy,
		"join":         opJoin,
		"pinter":       opPairAlgebra,
		"punion":       opPairAlgebra,
		"pdiff":        opPairAlgebra,
		"renumber":     opRenumber,
		"fetch":        opFetch,
		"nulls":        opNulls,
		"concat":       opConcat,
		"sort":         opSort,
		"refine":       opRefine,
		"runs":         opRuns,
		"positions":    opPositions,
		"hashkey":      opHashKey,
		"intuple":      opInTuple,
		"aggr":         opAggr,
		"rename":       opRename,
		"persist":      opPersist,
		"free":         opFree,
		"exists":       opExists,
		"rows":         opRows,
		"pair":         opPair,
		"pairdistinct": opPairDistinct,
		"writeparquet": opWriteParquet,
	}
}

// ArrowEngine keeps every bat in memory; durable bats are mirrored to
// dataDir when one is configured.
type ArrowEngine struct {
	mu      sync.Mutex
	mem     memory.Allocator
	handles map[string]*bat
	dataDir string
	rng     *rand.Rand
	metrics *metrics
	log     *slog.Logger
}

type Option func(*ArrowEngine)

func WithAllocator(mem memory.Allocator) Option {
	return func(e *ArrowEngine) { e.mem = mem }
}

// WithDataDir mirrors persisted handles to dir and reloads them on start.
func WithDataDir(dir string) Option {
	return func(e *ArrowEngine) { e.dataDir = dir }
}

func WithSeed(seed uint64) Option {
	return func(e *ArrowEngine) { e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *ArrowEngine) { e.metrics = newMetrics(reg) }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *ArrowEngine) { e.log = l }
}

func New(opts ...Option) (*ArrowEngine, error) {
	e := &ArrowEngine{
		mem:     memory.NewGoAllocator(),
		handles: make(map[string]*bat),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if e.metrics == nil {
		e.metrics = newMetrics(nil)
	}
	if e.dataDir != "" {
		if err := e.loadDurable(); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// Exec parses and runs a single command.
func (e *ArrowEngine) Exec(ctx context.Context, text string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd, err := command.Parse(text)
	if err != nil {
		e.metrics.errors.WithLabelValues("parse").Inc()
		return nil, err
	}
	fn, ok := ops[cmd.Op]
	if !ok {
		e.metrics.errors.WithLabelValues(cmd.Op).Inc()
		return nil, ErrUnknownOp(cmd.Op)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range cmd.Targets {
		if _, exists := e.handles[t]; exists {
			e.metrics.errors.WithLabelValues(cmd.Op).Inc()
			return nil, fmt.Errorf("handle %s is already bound", t)
		}
	}
	res, out, err := fn(e, ctx, cmd)
	if err != nil {
		for _, b := range out {
			b.release()
		}
		e.metrics.errors.WithLabelValues(cmd.Op).Inc()
		return nil, err
	}
	if len(out) != len(cmd.Targets) {
		for _, b := range out {
			b.release()
		}
		e.metrics.errors.WithLabelValues(cmd.Op).Inc()
		return nil, ErrTargetCount(cmd.Op, len(cmd.Targets), len(out))
	}
	for i, t := range cmd.Targets {
		e.handles[t] = out[i]
	}
	if err := e.syncDurable(cmd); err != nil {
		e.metrics.errors.WithLabelValues(cmd.Op).Inc()
		return nil, err
	}
	e.metrics.commands.WithLabelValues(cmd.Op).Inc()
	e.metrics.live.Set(float64(len(e.handles)))
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

// mutating lists, per in-place operation, the argument positions of the
// handles it changes.
var mutating = map[string]func(n int) []int{
	"insert": func(int) []int { return []int{0} },
	"update": func(int) []int { return []int{0} },
	"delete": func(int) []int { return []int{0} },
	"load": func(n int) []int {
		out := make([]int, 0, n)
		for i := 2; i < n; i++ {
			out = append(out, i)
		}
		return out
	},
}

// syncDurable rewrites the durable copy of every handle cmd changed in place.
func (e *ArrowEngine) syncDurable(cmd command.Command) error {
	positions, ok := mutating[cmd.Op]
	if !ok || e.dataDir == "" {
		return nil
	}
	for _, i := range positions(len(cmd.Args)) {
		name := cmd.Args[i].Text
		if b := e.handles[name]; b != nil && b.durable {
			if err := e.writeDurable(name, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// Live returns the number of bound handles.
func (e *ArrowEngine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// Handles lists bound handle names in sorted order.
func (e *ArrowEngine) Handles() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.handles))
	for n := range e.handles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close releases every array. Durable files stay on disk.
func (e *ArrowEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, b := range e.handles {
		b.release()
		delete(e.handles, name)
	}
	e.metrics.live.Set(0)
	return nil
}

func (e *ArrowEngine) get(a command.Arg) (*bat, error) {
	if a.Kind != command.Ident {
		return nil, fmt.Errorf("expected handle, got %s %s", a.Kind, a)
	}
	b, ok := e.handles[a.Text]
	if !ok {
		return nil, ErrUnknownHandle(a.Text)
	}
	return b, nil
}

func (e *ArrowEngine) getKind(a command.Arg, kinds ...batKind) (*bat, error) {
	b, err := e.get(a)
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		if b.kind == k {
			return b, nil
		}
	}
	return nil, ErrWrongKind(a.Text, b.kind, kinds[0])
}

func (e *ArrowEngine) column(a command.Arg) (*bat, error) {
	return e.getKind(a, kindColumn)
}

func stringArg(cmd command.Command, i int) (string, error) {
	a := cmd.Args[i]
	if a.Kind != command.Str {
		return "", fmt.Errorf("%s argument %d must be a quoted string", cmd.Op, i+1)
	}
	return a.Text, nil
}

func intArg(cmd command.Command, i int) (int64, error) {
	a := cmd.Args[i]
	if a.Kind != command.Num {
		return 0, fmt.Errorf("%s argument %d must be a number", cmd.Op, i+1)
	}
	v, err := ParseValue(types.Long, a.Text)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}
