package columnar

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Concat appends columns of one data type into a new column, in argument
// order.
func Concat(cols ...*Column) (*Column, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("concat needs at least one column")
	}

	dt := cols[0].dataType
	total := 0
	for _, c := range cols {
		if c.dataType != dt {
			return nil, &TypeError{Op: "concat", DataType: c.dataType,
				Reason: fmt.Sprintf("cannot append to %s column", dt)}
		}
		total += c.length
	}
	if uint64(total) > MaxRows {
		return nil, fmt.Errorf("column of %d rows exceeds limit of %d", total, MaxRows)
	}

	switch cols[0].data.(type) {
	case []int8:
		return concatTyped[int8](dt, cols, total), nil
	case []int16:
		return concatTyped[int16](dt, cols, total), nil
	case []int32:
		return concatTyped[int32](dt, cols, total), nil
	case []int64:
		return concatTyped[int64](dt, cols, total), nil
	case []uint8:
		return concatTyped[uint8](dt, cols, total), nil
	case []uint16:
		return concatTyped[uint16](dt, cols, total), nil
	case []uint32:
		return concatTyped[uint32](dt, cols, total), nil
	case []uint64:
		return concatTyped[uint64](dt, cols, total), nil
	case []float32:
		return concatTyped[float32](dt, cols, total), nil
	case []float64:
		return concatTyped[float64](dt, cols, total), nil
	case []bool:
		return concatTyped[bool](dt, cols, total), nil
	case []string:
		return concatTyped[string](dt, cols, total), nil
	case [][]byte:
		return concatTyped[[]byte](dt, cols, total), nil
	}
	return nil, &TypeError{Op: "concat", DataType: dt}
}

func concatTyped[T any](dt DataType, cols []*Column, total int) *Column {
	data := make([]T, 0, total)
	nulls := roaring.New()
	for _, c := range cols {
		offset := uint32(len(data))
		it := c.nulls.Iterator()
		for it.HasNext() {
			nulls.Add(it.Next() + offset)
		}
		data = append(data, c.data.([]T)...)
	}
	return newColumn(dt, data, nulls, total)
}
