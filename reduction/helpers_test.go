package reduction

import (
	"math/rand"

	"colreduce/columnar"
)

// uniformColumn returns n values drawn uniformly from [lo, hi]; each row is
// null with probability nullRate.
func uniformColumn[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64](rng *rand.Rand, n int, lo, hi int64, nullRate float64) *columnar.Column {
	values := make([]T, n)
	valid := make([]bool, n)
	for i := range values {
		values[i] = T(lo + rng.Int63n(hi-lo+1))
		valid[i] = rng.Float64() >= nullRate
	}
	col, err := columnar.FromNullable(values, valid)
	if err != nil {
		panic(err)
	}
	return col
}

// fractionalColumn returns n values with a random integer part in [lo, hi]
// and one of a few fractional parts that are not exact in binary.
func fractionalColumn[T float32 | float64](rng *rand.Rand, n int, lo, hi int64, nullRate float64) *columnar.Column {
	fractions := []float64{0.1, 0.2, 0.3, 0.7, 1.0 / 3}
	values := make([]T, n)
	valid := make([]bool, n)
	for i := range values {
		values[i] = T(float64(lo+rng.Int63n(hi-lo+1)) + fractions[rng.Intn(len(fractions))])
		valid[i] = rng.Float64() >= nullRate
	}
	return mustNullable(values, valid)
}

func mustEncode(col *columnar.Column) *columnar.DictionaryColumn {
	d, err := columnar.Encode(col)
	if err != nil {
		panic(err)
	}
	return d
}

func mustNullable[T columnar.Element](values []T, valid []bool) *columnar.Column {
	col, err := columnar.FromNullable(values, valid)
	if err != nil {
		panic(err)
	}
	return col
}
