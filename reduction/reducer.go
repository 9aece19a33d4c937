package reduction

import (
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"colreduce/columnar"
)

// Observer receives one call per completed Reduce
type Observer interface {
	ObserveReduce(kind Kind, input columnar.DataType, dictionary bool, rows int, elapsed time.Duration, err error)
}

// Reducer computes aggregates over plain and dictionary columns. It holds
// only configuration and is safe for concurrent use.
type Reducer struct {
	partitionSize int
	parallelism   int
	logger        *zap.Logger
	observer      Observer
}

// ReducerOption configures a Reducer
type ReducerOption func(*Reducer)

// WithPartitionSize sets the rows reduced by one worker
func WithPartitionSize(rows int) ReducerOption {
	return func(r *Reducer) {
		if rows > 0 {
			r.partitionSize = rows
		}
	}
}

// WithParallelism bounds the number of concurrently reduced partitions
func WithParallelism(n int) ReducerOption {
	return func(r *Reducer) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

func WithLogger(logger *zap.Logger) ReducerOption {
	return func(r *Reducer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithObserver(o Observer) ReducerOption {
	return func(r *Reducer) {
		r.observer = o
	}
}

// New creates a Reducer
func New(opts ...ReducerOption) *Reducer {
	r := &Reducer{
		partitionSize: columnar.DefaultPartitionSize,
		parallelism:   runtime.GOMAXPROCS(0),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultReducer = New()

// Reduce reduces input with the default Reducer
func Reduce(input columnar.Data, d Descriptor, output columnar.DataType) (Scalar, error) {
	return defaultReducer.Reduce(input, d, output)
}

// ReduceDefault reduces input into the descriptor's output type with the
// default Reducer
func ReduceDefault(input columnar.Data, d Descriptor) (Scalar, error) {
	return defaultReducer.ReduceDefault(input, d)
}

// ReduceDefault reduces input into d.OutputType()
func (r *Reducer) ReduceDefault(input columnar.Data, d Descriptor) (Scalar, error) {
	return r.Reduce(input, d, d.OutputType())
}

// Reduce aggregates the valid elements of input into a scalar of type
// output. Dictionary columns are reduced from their keys and per-key
// occurrence counts without being decoded. When no valid element remains the
// result is an invalid scalar, except for COUNT which is always valid.
func (r *Reducer) Reduce(input columnar.Data, d Descriptor, output columnar.DataType) (Scalar, error) {
	start := time.Now()
	result, dictionary, err := r.reduce(input, d, output)

	rows := 0
	if input != nil {
		rows = input.Len()
	}
	if err != nil {
		r.logger.Debug("reduction failed",
			zap.Stringer("kind", d.kind),
			zap.Stringer("element_type", d.elementType),
			zap.Stringer("output_type", output),
			zap.Error(err))
	} else {
		r.logger.Debug("reduction complete",
			zap.Stringer("kind", d.kind),
			zap.Stringer("element_type", d.elementType),
			zap.Bool("dictionary", dictionary),
			zap.Int("rows", rows),
			zap.Bool("valid", result.Valid()),
			zap.Duration("elapsed", time.Since(start)))
	}
	if r.observer != nil {
		r.observer.ObserveReduce(d.kind, d.elementType, dictionary, rows, time.Since(start), err)
	}
	return result, err
}

func (r *Reducer) reduce(input columnar.Data, d Descriptor, output columnar.DataType) (Scalar, bool, error) {
	if input == nil {
		return Scalar{}, false, errors.New("reduce: nil input")
	}
	_, dictionary := input.(*columnar.DictionaryColumn)

	if input.DataType() != d.elementType {
		return Scalar{}, dictionary, &TypeMismatchError{
			Kind:   d.kind,
			Input:  input.DataType(),
			Output: output,
			Reason: "descriptor was built for " + d.elementType.String(),
		}
	}
	if !SupportsInput(d.kind, d.elementType) {
		return Scalar{}, dictionary, &columnar.TypeError{Op: "reduce", DataType: d.elementType, Reason: d.kind.String()}
	}
	if err := checkOutput(d.kind, d.elementType, output); err != nil {
		return Scalar{}, dictionary, err
	}

	if d.kind == KindCount {
		n := input.Len()
		if d.nulls == ExcludeNulls {
			n -= input.NullCount()
		}
		return integerScalar(output, int64(n)), dictionary, nil
	}

	var (
		result Scalar
		err    error
	)
	switch d.elementType {
	case columnar.DataTypeInt8:
		result, err = reduceTyped(r, input, d, output, signedKernel[int8](d.kind))
	case columnar.DataTypeInt16:
		result, err = reduceTyped(r, input, d, output, signedKernel[int16](d.kind))
	case columnar.DataTypeInt32:
		result, err = reduceTyped(r, input, d, output, signedKernel[int32](d.kind))
	case columnar.DataTypeInt64:
		result, err = reduceTyped(r, input, d, output, signedKernel[int64](d.kind))
	case columnar.DataTypeUint8:
		result, err = reduceTyped(r, input, d, output, unsignedKernel[uint8](d.kind))
	case columnar.DataTypeUint16:
		result, err = reduceTyped(r, input, d, output, unsignedKernel[uint16](d.kind))
	case columnar.DataTypeUint32:
		result, err = reduceTyped(r, input, d, output, unsignedKernel[uint32](d.kind))
	case columnar.DataTypeUint64:
		result, err = reduceTyped(r, input, d, output, unsignedKernel[uint64](d.kind))
	case columnar.DataTypeFloat32:
		result, err = reduceTyped(r, input, d, output, floatKernel(d.kind, columnar.LessFloat32))
	case columnar.DataTypeFloat64:
		result, err = reduceTyped(r, input, d, output, floatKernel(d.kind, columnar.LessFloat64))
	case columnar.DataTypeBool:
		result, err = reduceTyped(r, input, d, output, boolKernel(d.kind))
	case columnar.DataTypeString:
		result, err = reduceTyped(r, input, d, output, stringKernel(d.kind))
	default:
		err = &columnar.TypeError{Op: "reduce", DataType: d.elementType}
	}
	return result, dictionary, err
}

func reduceTyped[T columnar.Element](r *Reducer, input columnar.Data, d Descriptor, output columnar.DataType, k *kernel[T]) (Scalar, error) {
	var st state[T]
	switch in := input.(type) {
	case *columnar.Column:
		values, err := columnar.Values[T](in)
		if err != nil {
			return Scalar{}, err
		}
		if st, err = foldColumn(r, in, values, k); err != nil {
			return Scalar{}, err
		}
	case *columnar.DictionaryColumn:
		keys, err := columnar.Values[T](in.Keys())
		if err != nil {
			return Scalar{}, err
		}
		counts, err := countKeys(r, in)
		if err != nil {
			return Scalar{}, err
		}
		st = foldDictionary(keys, counts, k)
	default:
		return Scalar{}, errors.New("reduce: unsupported column representation")
	}
	return finalize(st, d, output), nil
}

// foldColumn reduces each partition's valid runs concurrently and merges the
// partials in partition order.
func foldColumn[T any](r *Reducer, col *columnar.Column, values []T, k *kernel[T]) (state[T], error) {
	spans := columnar.Partitions(col.Len(), r.partitionSize)
	if len(spans) <= 1 {
		var st state[T]
		col.ValidRuns(0, col.Len(), func(from, to int) {
			k.addRun(&st, values[from:to])
		})
		return st, nil
	}

	partials := make([]state[T], len(spans))
	g := new(errgroup.Group)
	g.SetLimit(r.parallelism)
	for p, span := range spans {
		g.Go(func() error {
			col.ValidRuns(span.Lo, span.Hi, func(from, to int) {
				k.addRun(&partials[p], values[from:to])
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return state[T]{}, err
	}

	var st state[T]
	for p := range partials {
		k.merge(&st, &partials[p])
	}
	return st, nil
}

// countKeys returns how many rows reference each key. At most parallelism
// count vectors are live at once.
func countKeys(r *Reducer, d *columnar.DictionaryColumn) ([]int64, error) {
	indices := d.Indices()
	cardinality := d.Cardinality()

	size := max(r.partitionSize, (len(indices)+r.parallelism-1)/r.parallelism)
	spans := columnar.Partitions(len(indices), size)
	if len(spans) <= 1 {
		return countRange(indices, cardinality), nil
	}

	partials := make([][]int64, len(spans))
	g := new(errgroup.Group)
	g.SetLimit(r.parallelism)
	for p, span := range spans {
		g.Go(func() error {
			partials[p] = countRange(indices[span.Lo:span.Hi], cardinality)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := partials[0]
	for _, partial := range partials[1:] {
		for i, n := range partial {
			counts[i] += n
		}
	}
	return counts, nil
}

func countRange(indices []int32, cardinality int) []int64 {
	counts := make([]int64, cardinality)
	for _, idx := range indices {
		if idx != columnar.NullIndex {
			counts[idx]++
		}
	}
	return counts
}

// foldDictionary folds keys weighted by their counts. Keys are sorted, so
// MIN and MAX are the first and last keys that occur.
func foldDictionary[T any](keys []T, counts []int64, k *kernel[T]) state[T] {
	var st state[T]
	switch k.kind {
	case KindMin:
		for i, n := range counts {
			if n > 0 {
				k.add(&st, keys[i], n)
				break
			}
		}
	case KindMax:
		for i := len(counts) - 1; i >= 0; i-- {
			if counts[i] > 0 {
				k.add(&st, keys[i], counts[i])
				break
			}
		}
	default:
		for i, n := range counts {
			k.add(&st, keys[i], n)
		}
	}
	return st
}

// finalize converts a merged state into the requested output type.
func finalize[T any](st state[T], d Descriptor, output columnar.DataType) Scalar {
	if st.count == 0 {
		return NullScalar(output)
	}

	switch d.kind {
	case KindMin:
		return scalarOf(output, st.min)
	case KindMax:
		return scalarOf(output, st.max)
	case KindAny:
		return BoolScalar(st.any)
	case KindAll:
		return BoolScalar(!st.falsy)
	case KindSum:
		switch d.elementType.Family() {
		case columnar.FamilySigned:
			return SignedScalar(output, st.sumI)
		case columnar.FamilyUnsigned:
			return UnsignedScalar(output, st.sumU)
		default:
			return FloatScalar(output, st.sumF.value())
		}
	case KindMean:
		var sum float64
		switch d.elementType.Family() {
		case columnar.FamilySigned:
			sum = float64(st.sumI)
		case columnar.FamilyUnsigned:
			sum = float64(st.sumU)
		default:
			sum = st.sumF.value()
		}
		if output == columnar.DataTypeFloat32 {
			return FloatScalar(output, float64(float32(sum)/float32(st.count)))
		}
		return FloatScalar(output, sum/float64(st.count))
	}
	return NullScalar(output)
}
