package columnar

import (
	"cmp"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// DictionaryColumn stores a column as sorted unique keys plus one index per
// row. Null rows carry NullIndex and are mirrored in the nulls bitmap.
type DictionaryColumn struct {
	keys    *Column
	indices []int32
	nulls   *roaring.Bitmap
}

func (*DictionaryColumn) isData() {}

// NewDictionaryColumn assembles a dictionary column from its parts and
// validates it. keys must be sorted, unique and free of nulls; indices are
// copied.
func NewDictionaryColumn(keys *Column, indices []int32) (*DictionaryColumn, error) {
	owned := make([]int32, len(indices))
	copy(owned, indices)

	nulls := roaring.New()
	for i, idx := range owned {
		if idx == NullIndex {
			nulls.Add(uint32(i))
		}
	}

	d := &DictionaryColumn{keys: keys, indices: owned, nulls: nulls}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// DataType returns the element type of the keys
func (d *DictionaryColumn) DataType() DataType { return d.keys.dataType }

// Len returns the number of rows
func (d *DictionaryColumn) Len() int { return len(d.indices) }

// NullCount returns the number of null rows
func (d *DictionaryColumn) NullCount() int { return int(d.nulls.GetCardinality()) }

// IsNull reports whether row i is null
func (d *DictionaryColumn) IsNull(i int) bool { return d.indices[i] == NullIndex }

// Keys returns the dictionary keys. The column is shared and must not be
// modified.
func (d *DictionaryColumn) Keys() *Column { return d.keys }

// Indices returns the per-row key indices, shared with the column.
func (d *DictionaryColumn) Indices() []int32 { return d.indices }

// Nulls returns a copy of the null position bitmap
func (d *DictionaryColumn) Nulls() *roaring.Bitmap { return d.nulls.Clone() }

// Cardinality returns the number of keys
func (d *DictionaryColumn) Cardinality() int { return d.keys.length }

// ValidRuns calls fn for every maximal run [from, to) of non-null rows inside
// [lo, hi).
func (d *DictionaryColumn) ValidRuns(lo, hi int, fn func(from, to int)) {
	validRuns(d.nulls, lo, hi, fn)
}

// Slice returns rows [offset, offset+length) as a new dictionary column
// sharing keys and indices with d. Keys that do not occur in the window stay
// in the dictionary.
func (d *DictionaryColumn) Slice(offset, length int) (*DictionaryColumn, error) {
	if offset < 0 || length < 0 || offset+length > len(d.indices) {
		return nil, fmt.Errorf("slice [%d:%d] out of range for %d rows", offset, offset+length, len(d.indices))
	}

	nulls := roaring.New()
	if !d.nulls.IsEmpty() {
		window := d.nulls.Clone()
		window.RemoveRange(0, uint64(offset))
		window.RemoveRange(uint64(offset+length), math.MaxUint32+1)
		it := window.Iterator()
		for it.HasNext() {
			nulls.Add(it.Next() - uint32(offset))
		}
	}

	return &DictionaryColumn{
		keys:    d.keys,
		indices: d.indices[offset : offset+length : offset+length],
		nulls:   nulls,
	}, nil
}

// Validate checks the dictionary invariants: null-free, strictly ascending
// keys, every index in range or NullIndex, and a consistent null bitmap.
func (d *DictionaryColumn) Validate() error {
	if d.keys == nil {
		return fmt.Errorf("%w: missing keys", ErrCorruptColumn)
	}
	if !d.keys.dataType.IsOrderable() {
		return &TypeError{Op: "dictionary", DataType: d.keys.dataType, Reason: "keys must be orderable"}
	}
	if d.keys.NullCount() != 0 {
		return fmt.Errorf("%w: dictionary keys contain %d nulls", ErrCorruptColumn, d.keys.NullCount())
	}
	if !keysAscending(d.keys) {
		return fmt.Errorf("%w: dictionary keys are not strictly ascending", ErrCorruptColumn)
	}

	cardinality := int32(d.keys.length)
	nulls := 0
	for i, idx := range d.indices {
		switch {
		case idx == NullIndex:
			nulls++
			if !d.nulls.Contains(uint32(i)) {
				return fmt.Errorf("%w: row %d has null index but valid flag", ErrCorruptColumn, i)
			}
		case idx < 0 || idx >= cardinality:
			return fmt.Errorf("%w: row %d index %d, %d keys", ErrIndexRange, i, idx, cardinality)
		}
	}
	if nulls != d.NullCount() {
		return fmt.Errorf("%w: %d null indices, %d null flags", ErrCorruptColumn, nulls, d.NullCount())
	}
	return nil
}

func keysAscending(keys *Column) bool {
	switch keys.dataType {
	case DataTypeInt8:
		return ascending(keys.data.([]int8), cmp.Less[int8])
	case DataTypeInt16:
		return ascending(keys.data.([]int16), cmp.Less[int16])
	case DataTypeInt32:
		return ascending(keys.data.([]int32), cmp.Less[int32])
	case DataTypeInt64:
		return ascending(keys.data.([]int64), cmp.Less[int64])
	case DataTypeUint8:
		return ascending(keys.data.([]uint8), cmp.Less[uint8])
	case DataTypeUint16:
		return ascending(keys.data.([]uint16), cmp.Less[uint16])
	case DataTypeUint32:
		return ascending(keys.data.([]uint32), cmp.Less[uint32])
	case DataTypeUint64:
		return ascending(keys.data.([]uint64), cmp.Less[uint64])
	case DataTypeFloat32:
		return ascending(keys.data.([]float32), LessFloat32)
	case DataTypeFloat64:
		return ascending(keys.data.([]float64), LessFloat64)
	case DataTypeBool:
		return ascending(keys.data.([]bool), lessBool)
	case DataTypeString:
		return ascending(keys.data.([]string), cmp.Less[string])
	}
	return false
}

func ascending[T any](values []T, less func(a, b T) bool) bool {
	for i := 1; i < len(values); i++ {
		if !less(values[i-1], values[i]) {
			return false
		}
	}
	return true
}

// MemorySize estimates the bytes held by the keys, indices and null bitmap.
func (d *DictionaryColumn) MemorySize() int64 {
	size := int64(len(d.indices))*4 + int64(d.nulls.GetSizeInBytes())
	if strs, ok := d.keys.data.([]string); ok {
		for _, s := range strs {
			size += int64(len(s)) + 16
		}
		return size
	}
	return size + int64(d.keys.length*GetDataTypeSize(d.keys.dataType))
}
