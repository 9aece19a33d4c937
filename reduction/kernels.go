package reduction

import (
	"cmp"

	"golang.org/x/exp/constraints"
)

// state is the partial aggregate of one partition. Every kind keeps count;
// the remaining fields are used by the kinds that need them.
type state[T any] struct {
	count int64
	min   T
	max   T
	sumI  int64
	sumU  uint64
	sumF  exactSum
	any   bool // a truthy value was seen
	falsy bool // a falsy value was seen
}

// kernel folds elements of type T into a state for one kind.
type kernel[T any] struct {
	kind   Kind
	less   func(a, b T) bool
	truthy func(v T) bool
	sum    func(s *state[T], v T, n int64)
}

func signedKernel[T constraints.Signed](kind Kind) *kernel[T] {
	return &kernel[T]{
		kind:   kind,
		less:   cmp.Less[T],
		truthy: nonZero[T],
		sum: func(s *state[T], v T, n int64) {
			s.sumI += int64(v) * n
		},
	}
}

func unsignedKernel[T constraints.Unsigned](kind Kind) *kernel[T] {
	return &kernel[T]{
		kind:   kind,
		less:   cmp.Less[T],
		truthy: nonZero[T],
		sum: func(s *state[T], v T, n int64) {
			s.sumU += uint64(v) * uint64(n)
		},
	}
}

// floatKernel orders values the way dictionary keys are sorted, so MIN and
// MAX pick the same bits from a plain column as from its encoding.
func floatKernel[T constraints.Float](kind Kind, less func(a, b T) bool) *kernel[T] {
	return &kernel[T]{
		kind:   kind,
		less:   less,
		truthy: nonZero[T],
		sum: func(s *state[T], v T, n int64) {
			s.sumF.addScaled(float64(v), n)
		},
	}
}

func boolKernel(kind Kind) *kernel[bool] {
	return &kernel[bool]{
		kind:   kind,
		less:   func(a, b bool) bool { return !a && b },
		truthy: func(v bool) bool { return v },
	}
}

func stringKernel(kind Kind) *kernel[string] {
	return &kernel[string]{kind: kind, less: cmp.Less[string]}
}

func nonZero[T constraints.Integer | constraints.Float](v T) bool { return v != 0 }

// addRun folds a run of consecutive valid values.
func (k *kernel[T]) addRun(s *state[T], values []T) {
	if len(values) == 0 {
		return
	}

	switch k.kind {
	case KindMin:
		if s.count == 0 {
			s.min = values[0]
		}
		for _, v := range values {
			if k.less(v, s.min) {
				s.min = v
			}
		}
	case KindMax:
		if s.count == 0 {
			s.max = values[0]
		}
		for _, v := range values {
			if k.less(s.max, v) {
				s.max = v
			}
		}
	case KindSum, KindMean:
		for _, v := range values {
			k.sum(s, v, 1)
		}
	case KindAny:
		if !s.any {
			for _, v := range values {
				if k.truthy(v) {
					s.any = true
					break
				}
			}
		}
	case KindAll:
		if !s.falsy {
			for _, v := range values {
				if !k.truthy(v) {
					s.falsy = true
					break
				}
			}
		}
	}
	s.count += int64(len(values))
}

// add folds value v occurring n times.
func (k *kernel[T]) add(s *state[T], v T, n int64) {
	if n <= 0 {
		return
	}

	switch k.kind {
	case KindMin:
		if s.count == 0 || k.less(v, s.min) {
			s.min = v
		}
	case KindMax:
		if s.count == 0 || k.less(s.max, v) {
			s.max = v
		}
	case KindSum, KindMean:
		k.sum(s, v, n)
	case KindAny:
		if k.truthy(v) {
			s.any = true
		}
	case KindAll:
		if !k.truthy(v) {
			s.falsy = true
		}
	}
	s.count += n
}

// merge folds src into dst.
func (k *kernel[T]) merge(dst *state[T], src *state[T]) {
	if src.count == 0 {
		return
	}
	if dst.count == 0 {
		*dst = *src
		dst.sumF = src.sumF.clone()
		return
	}

	switch k.kind {
	case KindMin:
		if k.less(src.min, dst.min) {
			dst.min = src.min
		}
	case KindMax:
		if k.less(dst.max, src.max) {
			dst.max = src.max
		}
	}
	dst.count += src.count
	dst.sumI += src.sumI
	dst.sumU += src.sumU
	dst.sumF.merge(&src.sumF)
	dst.any = dst.any || src.any
	dst.falsy = dst.falsy || src.falsy
}
