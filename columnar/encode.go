package columnar

import (
	"cmp"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Span is a half-open row range [Lo, Hi)
type Span struct {
	Lo, Hi int
}

// Len returns the number of rows in the span
func (s Span) Len() int { return s.Hi - s.Lo }

// Partitions splits n rows into consecutive spans of at most size rows.
func Partitions(n, size int) []Span {
	if size <= 0 {
		size = DefaultPartitionSize
	}
	if n == 0 {
		return nil
	}
	spans := make([]Span, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		spans = append(spans, Span{Lo: lo, Hi: min(lo+size, n)})
	}
	return spans
}

// EncodeOptions controls how Encode splits work across goroutines
type EncodeOptions struct {
	PartitionSize int // rows per local dictionary (default: DefaultPartitionSize)
	Parallelism   int // concurrent partitions (default: GOMAXPROCS)
}

func (o EncodeOptions) withDefaults() EncodeOptions {
	if o.PartitionSize <= 0 {
		o.PartitionSize = DefaultPartitionSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	return o
}

// Encode builds a dictionary column from c. Decoding the result reproduces c
// value for value, nulls included. BINARY columns are rejected with a
// TypeError.
func Encode(c *Column) (*DictionaryColumn, error) {
	return EncodeWithOptions(c, EncodeOptions{})
}

// EncodeWithOptions is Encode with explicit partitioning
func EncodeWithOptions(c *Column, opts EncodeOptions) (*DictionaryColumn, error) {
	opts = opts.withDefaults()

	switch data := c.data.(type) {
	case []int8:
		return encodeTyped(c, data, identity[int8], cmp.Less[int8], opts)
	case []int16:
		return encodeTyped(c, data, identity[int16], cmp.Less[int16], opts)
	case []int32:
		return encodeTyped(c, data, identity[int32], cmp.Less[int32], opts)
	case []int64:
		return encodeTyped(c, data, identity[int64], cmp.Less[int64], opts)
	case []uint8:
		return encodeTyped(c, data, identity[uint8], cmp.Less[uint8], opts)
	case []uint16:
		return encodeTyped(c, data, identity[uint16], cmp.Less[uint16], opts)
	case []uint32:
		return encodeTyped(c, data, identity[uint32], cmp.Less[uint32], opts)
	case []uint64:
		return encodeTyped(c, data, identity[uint64], cmp.Less[uint64], opts)
	case []float32:
		// keyed by bit pattern so NaN and -0.0 survive the round trip
		return encodeTyped(c, data, math.Float32bits, LessFloat32, opts)
	case []float64:
		return encodeTyped(c, data, math.Float64bits, LessFloat64, opts)
	case []bool:
		return encodeTyped(c, data, identity[bool], lessBool, opts)
	case []string:
		return encodeTyped(c, data, identity[string], cmp.Less[string], opts)
	}
	return nil, &TypeError{Op: "encode", DataType: c.dataType, Reason: "values are not orderable"}
}

type localDictionary[T any, K comparable] struct {
	keys []T
	ids  []int32 // local key id per row, NullIndex for nulls
}

func encodeTyped[T Element, K comparable](c *Column, values []T, key func(T) K, less func(a, b T) bool, opts EncodeOptions) (*DictionaryColumn, error) {
	parts := Partitions(c.length, opts.PartitionSize)
	locals := make([]localDictionary[T, K], len(parts))

	// 1. Local dictionaries, one per partition
	g := new(errgroup.Group)
	g.SetLimit(opts.Parallelism)
	for p, part := range parts {
		g.Go(func() error {
			locals[p] = buildLocalDictionary(c, values, part, key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 2. Merge into one global dictionary
	lookup := make(map[K]int32)
	var keys []T
	remaps := make([][]int32, len(parts))
	for p := range locals {
		remap := make([]int32, len(locals[p].keys))
		for lid, v := range locals[p].keys {
			k := key(v)
			gid, ok := lookup[k]
			if !ok {
				if len(keys) == math.MaxInt32 {
					return nil, fmt.Errorf("dictionary exceeds %d keys", math.MaxInt32)
				}
				gid = int32(len(keys))
				keys = append(keys, v)
				lookup[k] = gid
			}
			remap[lid] = gid
		}
		remaps[p] = remap
	}

	// 3. Sort keys and fold the sort rank into each remap table
	order := make([]int32, len(keys))
	for i := range order {
		order[i] = int32(i)
	}
	sort.Slice(order, func(a, b int) bool {
		return less(keys[order[a]], keys[order[b]])
	})
	sorted := make([]T, len(keys))
	rank := make([]int32, len(keys))
	for r, old := range order {
		sorted[r] = keys[old]
		rank[old] = int32(r)
	}
	for _, remap := range remaps {
		for lid, gid := range remap {
			remap[lid] = rank[gid]
		}
	}

	// 4. Rewrite local ids into global indices
	indices := make([]int32, c.length)
	g = new(errgroup.Group)
	g.SetLimit(opts.Parallelism)
	for p, part := range parts {
		g.Go(func() error {
			remap := remaps[p]
			out := indices[part.Lo:part.Hi]
			for i, lid := range locals[p].ids {
				if lid == NullIndex {
					out[i] = NullIndex
					continue
				}
				out[i] = remap[lid]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &DictionaryColumn{
		keys:    newColumn(c.dataType, sorted, nil, len(sorted)),
		indices: indices,
		nulls:   c.nulls.Clone(),
	}, nil
}

func buildLocalDictionary[T Element, K comparable](c *Column, values []T, part Span, key func(T) K) localDictionary[T, K] {
	local := localDictionary[T, K]{ids: make([]int32, part.Len())}
	for i := range local.ids {
		local.ids[i] = NullIndex
	}

	lookup := make(map[K]int32)
	c.ValidRuns(part.Lo, part.Hi, func(from, to int) {
		for i := from; i < to; i++ {
			v := values[i]
			k := key(v)
			id, ok := lookup[k]
			if !ok {
				id = int32(len(local.keys))
				local.keys = append(local.keys, v)
				lookup[k] = id
			}
			local.ids[i-part.Lo] = id
		}
	})
	return local
}

// Decode materializes a dictionary column back into a plain column.
func Decode(d *DictionaryColumn) (*Column, error) {
	switch keys := d.keys.data.(type) {
	case []int8:
		return decodeTyped(d, keys), nil
	case []int16:
		return decodeTyped(d, keys), nil
	case []int32:
		return decodeTyped(d, keys), nil
	case []int64:
		return decodeTyped(d, keys), nil
	case []uint8:
		return decodeTyped(d, keys), nil
	case []uint16:
		return decodeTyped(d, keys), nil
	case []uint32:
		return decodeTyped(d, keys), nil
	case []uint64:
		return decodeTyped(d, keys), nil
	case []float32:
		return decodeTyped(d, keys), nil
	case []float64:
		return decodeTyped(d, keys), nil
	case []bool:
		return decodeTyped(d, keys), nil
	case []string:
		return decodeTyped(d, keys), nil
	}
	return nil, &TypeError{Op: "decode", DataType: d.keys.dataType}
}

func decodeTyped[T Element](d *DictionaryColumn, keys []T) *Column {
	out := make([]T, len(d.indices))
	for i, idx := range d.indices {
		if idx != NullIndex {
			out[i] = keys[idx]
		}
	}
	return newColumn(d.keys.dataType, out, d.nulls.Clone(), len(out))
}

func identity[T comparable](v T) T { return v }

func lessBool(a, b bool) bool { return !a && b }

// LessFloat32 is the total order of float32 dictionary keys: NaN first,
// -0.0 before +0.0, NaN payloads by bit pattern.
func LessFloat32(a, b float32) bool {
	if c := cmp.Compare(a, b); c != 0 {
		return c < 0
	}
	if sa, sb := math.Signbit(float64(a)), math.Signbit(float64(b)); sa != sb {
		return sa
	}
	return math.Float32bits(a) < math.Float32bits(b)
}

// LessFloat64 is LessFloat32 for float64
func LessFloat64(a, b float64) bool {
	if c := cmp.Compare(a, b); c != 0 {
		return c < 0
	}
	if sa, sb := math.Signbit(a), math.Signbit(b); sa != sb {
		return sa
	}
	return math.Float64bits(a) < math.Float64bits(b)
}
