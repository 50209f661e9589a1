package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/callguard/internal/guard/repos/blocklist"
)

// factory implements blocklist.BloomFactory.
type factory struct{}

// NewFactory returns a BloomFactory that sizes filters with growth headroom
// over the requested count.
func NewFactory() blocklist.BloomFactory { return factory{} }

// New constructs a filter for n current identifiers at the target
// false-positive rate and reports the capacity it was sized for.
func (factory) New(n uint64, fpRate float64) (blocklist.BloomFilter, uint64) {
	capacity := headroom(n)
	m, k := size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}, capacity
}
