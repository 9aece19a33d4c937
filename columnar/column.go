package columnar

import (
	"bytes"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// Element is the set of Go types a Column can hold, one per DataType
// (BINARY columns hold [][]byte and are built with NewBinaryColumn).
type Element interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | bool | string
}

// MaxRows is the largest row count a column can hold; row positions are
// tracked in 32-bit roaring bitmaps.
const MaxRows = math.MaxUint32

// Data is a column in either plain or dictionary representation.
type Data interface {
	DataType() DataType
	Len() int
	NullCount() int
	isData()
}

// Column is an immutable typed column with a validity flag per row.
// Values at null positions are unspecified.
type Column struct {
	dataType DataType
	data     any             // []T for the Go type matching dataType
	nulls    *roaring.Bitmap // positions of null rows
	length   int
}

func (*Column) isData() {}

// DataTypeOf returns the DataType stored for Go element type T
func DataTypeOf[T Element]() DataType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return DataTypeInt8
	case int16:
		return DataTypeInt16
	case int32:
		return DataTypeInt32
	case int64:
		return DataTypeInt64
	case uint8:
		return DataTypeUint8
	case uint16:
		return DataTypeUint16
	case uint32:
		return DataTypeUint32
	case uint64:
		return DataTypeUint64
	case float32:
		return DataTypeFloat32
	case float64:
		return DataTypeFloat64
	case bool:
		return DataTypeBool
	default:
		return DataTypeString
	}
}

// FromSlice creates a column without nulls. The values are copied.
func FromSlice[T Element](values []T) *Column {
	data := make([]T, len(values))
	copy(data, values)
	return &Column{
		dataType: DataTypeOf[T](),
		data:     data,
		nulls:    roaring.New(),
		length:   len(values),
	}
}

// FromNullable creates a column where row i is null when valid[i] is false.
// The values are copied.
func FromNullable[T Element](values []T, valid []bool) (*Column, error) {
	if len(values) != len(valid) {
		return nil, fmt.Errorf("%w: %d values, %d validity flags", ErrLengthMismatch, len(values), len(valid))
	}
	if uint64(len(values)) > MaxRows {
		return nil, fmt.Errorf("column of %d rows exceeds limit of %d", len(values), MaxRows)
	}

	col := FromSlice(values)
	for i, ok := range valid {
		if !ok {
			col.nulls.Add(uint32(i))
		}
	}
	return col, nil
}

// FromPointers creates a column where nil entries are null.
func FromPointers[T Element](values []*T) *Column {
	data := make([]T, len(values))
	nulls := roaring.New()
	for i, v := range values {
		if v == nil {
			nulls.Add(uint32(i))
			continue
		}
		data[i] = *v
	}
	return &Column{dataType: DataTypeOf[T](), data: data, nulls: nulls, length: len(values)}
}

// NewBinaryColumn creates a BINARY column. A nil valid slice means no nulls.
func NewBinaryColumn(values [][]byte, valid []bool) (*Column, error) {
	if valid != nil && len(valid) != len(values) {
		return nil, fmt.Errorf("%w: %d values, %d validity flags", ErrLengthMismatch, len(values), len(valid))
	}
	data := make([][]byte, len(values))
	nulls := roaring.New()
	for i, v := range values {
		if valid != nil && !valid[i] {
			nulls.Add(uint32(i))
			continue
		}
		data[i] = bytes.Clone(v)
	}
	return &Column{dataType: DataTypeBinary, data: data, nulls: nulls, length: len(values)}, nil
}

// newColumn wraps already-owned storage; used by Decode and the codec.
func newColumn(dt DataType, data any, nulls *roaring.Bitmap, length int) *Column {
	if nulls == nil {
		nulls = roaring.New()
	}
	return &Column{dataType: dt, data: data, nulls: nulls, length: length}
}

// DataType returns the element type
func (c *Column) DataType() DataType { return c.dataType }

// Len returns the number of rows, nulls included
func (c *Column) Len() int { return c.length }

// NullCount returns the number of null rows
func (c *Column) NullCount() int { return int(c.nulls.GetCardinality()) }

// IsNull reports whether row i is null
func (c *Column) IsNull(i int) bool { return c.nulls.Contains(uint32(i)) }

// Nulls returns a copy of the null position bitmap
func (c *Column) Nulls() *roaring.Bitmap { return c.nulls.Clone() }

// Values returns the typed backing slice of c. The slice is shared with the
// column and must not be modified.
func Values[T Element](c *Column) ([]T, error) {
	values, ok := c.data.([]T)
	if !ok {
		return nil, &TypeError{Op: "values", DataType: c.dataType,
			Reason: fmt.Sprintf("column does not hold %s", DataTypeOf[T]())}
	}
	return values, nil
}

// BinaryValues returns the backing slice of a BINARY column, shared with the
// column.
func (c *Column) BinaryValues() ([][]byte, error) {
	values, ok := c.data.([][]byte)
	if !ok {
		return nil, &TypeError{Op: "values", DataType: c.dataType, Reason: "column is not BINARY"}
	}
	return values, nil
}

// Value returns row i boxed in an interface, and false when the row is null.
func (c *Column) Value(i int) (any, bool) {
	if i < 0 || i >= c.length || c.IsNull(i) {
		return nil, false
	}
	switch data := c.data.(type) {
	case []int8:
		return data[i], true
	case []int16:
		return data[i], true
	case []int32:
		return data[i], true
	case []int64:
		return data[i], true
	case []uint8:
		return data[i], true
	case []uint16:
		return data[i], true
	case []uint32:
		return data[i], true
	case []uint64:
		return data[i], true
	case []float32:
		return data[i], true
	case []float64:
		return data[i], true
	case []bool:
		return data[i], true
	case []string:
		return data[i], true
	case [][]byte:
		return data[i], true
	}
	return nil, false
}

// ValidRuns calls fn for every maximal run [from, to) of non-null rows inside
// [lo, hi).
func (c *Column) ValidRuns(lo, hi int, fn func(from, to int)) {
	validRuns(c.nulls, lo, hi, fn)
}

func validRuns(nulls *roaring.Bitmap, lo, hi int, fn func(from, to int)) {
	if lo >= hi {
		return
	}
	if nulls.IsEmpty() {
		fn(lo, hi)
		return
	}

	it := nulls.Iterator()
	it.AdvanceIfNeeded(uint32(lo))
	pos := lo
	for it.HasNext() {
		n := int(it.Next())
		if n >= hi {
			break
		}
		if n > pos {
			fn(pos, n)
		}
		pos = n + 1
	}
	if pos < hi {
		fn(pos, hi)
	}
}

// Equal reports whether two columns hold the same type, length, null
// positions and values at valid positions. Floats compare by bit pattern.
func (c *Column) Equal(other *Column) bool {
	if c.dataType != other.dataType || c.length != other.length || !c.nulls.Equals(other.nulls) {
		return false
	}
	equal := true
	c.ValidRuns(0, c.length, func(from, to int) {
		for i := from; i < to && equal; i++ {
			equal = c.sameValue(other, i)
		}
	})
	return equal
}

func (c *Column) sameValue(other *Column, i int) bool {
	switch data := c.data.(type) {
	case []float32:
		return math.Float32bits(data[i]) == math.Float32bits(other.data.([]float32)[i])
	case []float64:
		return math.Float64bits(data[i]) == math.Float64bits(other.data.([]float64)[i])
	case [][]byte:
		return bytes.Equal(data[i], other.data.([][]byte)[i])
	}
	a, _ := c.Value(i)
	b, _ := other.Value(i)
	return a == b
}

func (c *Column) String() string {
	return fmt.Sprintf("Column(%s, rows=%d, nulls=%d)", c.dataType, c.length, c.NullCount())
}
