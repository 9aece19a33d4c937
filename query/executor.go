package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"colreduce/catalog"
	"colreduce/columnar"
	"colreduce/reduction"
)

// Result is the single row an aggregate query produces
type Result struct {
	Columns []string
	Values  []reduction.Scalar
}

// Get returns the value of the named result column
func (r *Result) Get(name string) (reduction.Scalar, bool) {
	for i, col := range r.Columns {
		if col == name {
			return r.Values[i], true
		}
	}
	return reduction.Scalar{}, false
}

func (r *Result) String() string {
	var b strings.Builder
	for i, col := range r.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", col, r.Values[i].Text())
	}
	return b.String()
}

// Executor runs aggregate queries against dictionary columns in a catalog
type Executor struct {
	catalog *catalog.Catalog
	reducer *reduction.Reducer
	logger  *zap.Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

func WithReducer(r *reduction.Reducer) ExecutorOption {
	return func(e *Executor) { e.reducer = r }
}

func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor over cat
func NewExecutor(cat *catalog.Catalog, opts ...ExecutorOption) *Executor {
	e := &Executor{catalog: cat, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.reducer == nil {
		e.reducer = reduction.New(reduction.WithLogger(e.logger))
	}
	return e
}

// Execute parses and runs sql
func (e *Executor) Execute(ctx context.Context, sql string) (*Result, error) {
	q, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, q)
}

// Run evaluates a parsed query. Each referenced column is loaded once.
func (e *Executor) Run(ctx context.Context, q *Query) (*Result, error) {
	start := time.Now()
	columns := make(map[string]*columnar.DictionaryColumn)
	load := func(name string) (*columnar.DictionaryColumn, error) {
		if d, ok := columns[name]; ok {
			return d, nil
		}
		d, err := e.catalog.Get(ctx, q.Table, name)
		if err != nil {
			return nil, err
		}
		columns[name] = d
		return d, nil
	}

	result := &Result{
		Columns: make([]string, 0, len(q.Aggregates)),
		Values:  make([]reduction.Scalar, 0, len(q.Aggregates)),
	}
	for _, agg := range q.Aggregates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := agg.Column
		if agg.Star {
			// count(*) counts the rows of any column
			metas, err := e.catalog.List(ctx, q.Table)
			if err != nil {
				return nil, err
			}
			if len(metas) == 0 {
				return nil, fmt.Errorf("table %q: %w", q.Table, catalog.ErrNotFound)
			}
			name = metas[0].Column
		}
		d, err := load(name)
		if err != nil {
			return nil, err
		}

		var opts []reduction.DescriptorOption
		if agg.HasOutput {
			opts = append(opts, reduction.WithOutputType(agg.Output))
		}
		if agg.Star {
			opts = append(opts, reduction.WithNullPolicy(reduction.IncludeNulls))
		}
		desc, err := reduction.NewDescriptor(agg.Kind, d.DataType(), opts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", agg.Alias, err)
		}
		value, err := e.reducer.ReduceDefault(d, desc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", agg.Alias, err)
		}

		result.Columns = append(result.Columns, agg.Alias)
		result.Values = append(result.Values, value)
	}

	e.logger.Debug("query executed",
		zap.String("table", q.Table),
		zap.Int("aggregates", len(q.Aggregates)),
		zap.Int("columns", len(columns)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}
