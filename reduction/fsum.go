package reduction

import "math"

// exactSum accumulates float64 values without intermediate rounding. The
// running total is kept as non-overlapping partials in increasing magnitude
// and rounded once by value, so the result does not depend on the order in
// which values, or partial sums, were added.
type exactSum struct {
	partials []float64
	special  float64 // sum of the Inf and NaN inputs
	hasSpecial bool   // special holds a value
}

func (s *exactSum) add(x float64) {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		s.addSpecial(x)
		return
	}

	i := 0
	for _, y := range s.partials {
		if math.Abs(x) < math.Abs(y) {
			x, y = y, x
		}
		hi := x + y
		if math.IsInf(hi, 0) {
			s.partials = s.partials[:0]
			s.addSpecial(hi)
			return
		}
		lo := y - (hi - x)
		if lo != 0 {
			s.partials[i] = lo
			i++
		}
		x = hi
	}
	s.partials = append(s.partials[:i], x)
}

func (s *exactSum) addSpecial(x float64) {
	if !s.hasSpecial {
		s.special, s.hasSpecial = x, true
		return
	}
	s.special += x
}

// addScaled adds v*n. The product is split into its rounded value and the
// rounding error so that nothing is lost.
func (s *exactSum) addScaled(v float64, n int64) {
	if n == 1 || v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		s.add(v)
		return
	}
	fn := float64(n)
	p := v * fn
	if math.IsInf(p, 0) {
		s.add(p)
		return
	}
	s.add(p)
	if e := math.FMA(v, fn, -p); e != 0 {
		s.add(e)
	}
}

func (s *exactSum) merge(other *exactSum) {
	for _, p := range other.partials {
		s.add(p)
	}
	if other.hasSpecial {
		s.addSpecial(other.special)
	}
}

func (s exactSum) clone() exactSum {
	if s.partials != nil {
		s.partials = append([]float64(nil), s.partials...)
	}
	return s
}

// value rounds the exact total to the nearest float64, ties to even.
func (s *exactSum) value() float64 {
	if s.hasSpecial {
		if math.IsNaN(s.special) {
			return math.NaN()
		}
		return s.special
	}

	n := len(s.partials)
	if n == 0 {
		return 0
	}

	n--
	hi := s.partials[n]
	var lo float64
	for n > 0 {
		x := hi
		n--
		y := s.partials[n]
		hi = x + y
		lo = y - (hi - x)
		if lo != 0 {
			break
		}
	}
	// hi+lo is exact; when the remaining partials push lo past a halfway
	// point, round away from hi
	if n > 0 && ((lo < 0 && s.partials[n-1] < 0) || (lo > 0 && s.partials[n-1] > 0)) {
		y := lo * 2
		x := hi + y
		if y == x-hi {
			hi = x
		}
	}
	return hi
}
