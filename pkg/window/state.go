package window

import (
	"math"

	"github.com/tidwall/btree"
)

type point struct {
	v   float64
	seq int
}

func lessPoint(a, b point) bool {
	if a.v != b.v {
		return a.v < b.v
	}
	return a.seq < b.seq
}

// state holds the running aggregates of one sliding window. Power sums are
// kept on values shifted by the first value seen (ref) so that higher
// moments stay well conditioned; times are in hours since the partition
// origin for the same reason.
type state struct {
	n      int
	ref    float64
	hasRef bool

	s1, s2, s3, s4 float64
	lnSum          float64
	lnBad          int

	u1, u2, ud float64

	tree *btree.BTreeG[point]
}

func newState() *state {
	return &state{
		tree: btree.NewBTreeGOptions(lessPoint, btree.Options{NoLocks: true}),
	}
}

func (s *state) add(seq int, x, u float64) {
	if !s.hasRef {
		s.ref, s.hasRef = x, true
	}
	d := x - s.ref
	d2 := d * d
	s.n++
	s.s1 += d
	s.s2 += d2
	s.s3 += d2 * d
	s.s4 += d2 * d2
	if x > -1 {
		s.lnSum += math.Log1p(x)
	} else {
		s.lnBad++
	}
	s.u1 += u
	s.u2 += u * u
	s.ud += u * d
	s.tree.Set(point{v: x, seq: seq})
}

func (s *state) remove(seq int, x, u float64) {
	d := x - s.ref
	d2 := d * d
	s.n--
	s.tree.Delete(point{v: x, seq: seq})
	if s.n == 0 {
		// Start from exact zeros again so rounding does not accumulate
		// across gaps in the series.
		*s = state{tree: s.tree}
		return
	}
	s.s1 -= d
	s.s2 -= d2
	s.s3 -= d2 * d
	s.s4 -= d2 * d2
	if x > -1 {
		s.lnSum -= math.Log1p(x)
	} else {
		s.lnBad--
	}
	s.u1 -= u
	s.u2 -= u * u
	s.ud -= u * d
}

// emit writes the statistics of the current window into out, in the order
// of statNames. NaN marks a null statistic.
func (s *state) emit(out []float64, quantiles []float64) {
	for i := range out {
		out[i] = math.NaN()
	}
	if s.n == 0 {
		return
	}
	n := float64(s.n)
	k := 0
	put := func(v float64) {
		out[k] = v
		k++
	}

	a := s.s1 / n
	lo, _ := s.tree.Min()
	hi, _ := s.tree.Max()
	put(s.ref + a)
	put(lo.v)
	put(hi.v)
	for _, q := range quantiles {
		p, _ := s.tree.GetAt(quantileIndex(q, s.n))
		put(p.v)
	}

	raw2 := s.s2 / n
	m2 := raw2 - a*a
	flat := m2 <= 1e-12*raw2
	if m2 < 0 {
		m2 = 0
	}

	// std
	if s.n >= 2 {
		put(math.Sqrt(m2 * n / (n - 1)))
	} else {
		put(math.NaN())
	}
	// skew
	if s.n >= 3 && !flat {
		m3 := s.s3/n - 3*a*raw2 + 2*a*a*a
		put(math.Sqrt(n*(n-1)) / (n - 2) * m3 / math.Pow(m2, 1.5))
	} else {
		put(math.NaN())
	}
	// kurt
	if s.n >= 4 && !flat {
		m4 := s.s4/n - 4*a*s.s3/n + 6*a*a*raw2 - 3*a*a*a*a
		put((n - 1) / ((n - 2) * (n - 3)) * ((n+1)*m4/(m2*m2) - 3*(n-1)))
	} else {
		put(math.NaN())
	}
	// geomean
	if s.lnBad == 0 {
		put(math.Expm1(s.lnSum / n))
	} else {
		put(math.NaN())
	}
	// sum and abs_energy from the shifted sums
	put(n*s.ref + s.s1)
	put(s.s2 + 2*s.ref*s.s1 + n*s.ref*s.ref)
	// slope per second
	den := n*s.u2 - s.u1*s.u1
	if s.n >= 2 && den > 1e-12*n*s.u2 {
		put((n*s.ud - s.u1*s.s1) / den / 3600)
	} else {
		put(math.NaN())
	}
}
