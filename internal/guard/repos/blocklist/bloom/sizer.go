package bloom

import "math"

// minCapacity keeps tiny or empty blocklists from producing a filter that
// saturates after a handful of runtime inserts.
const minCapacity = 64

// headroom returns the number of keys to size a filter for when n keys are
// present: twice the current count, at least minCapacity.
func headroom(n uint64) uint64 {
	c := n * 2
	if c < minCapacity {
		c = minCapacity
	}
	return c
}

// size computes bit count m and hash count k using the standard formulas:
//
//	m = - (n * ln p) / (ln 2)^2
//	k = (m / n) * ln 2
//
// Results are clamped to at least 1.
func size(n uint64, p float64) (uint64, uint8) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = 0.01 // default 1% if invalid
	}
	ln2 := math.Ln2
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	if m == 0 {
		m = 1
	}
	k := uint8(math.Max(1, math.Round((float64(m)/float64(n))*ln2)))
	return m, k
}
