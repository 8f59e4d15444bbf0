package coupon

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// bloomFPR is the target false-positive rate for the code filter. False
// positives only cost one extra storage lookup.
const bloomFPR = 0.001

// BloomCodeFilter is a bloom-filter backed CodeFilter built from the full set
// of issued coupon codes. It is immutable after construction; rebuild it when
// the coupon set changes.
type BloomCodeFilter struct {
	filter *bloom.BloomFilter
}

var _ CodeFilter = (*BloomCodeFilter)(nil)

// NewBloomCodeFilter builds a filter sized for the given codes. Codes are
// normalized before insertion so lookups are case-insensitive.
func NewBloomCodeFilter(codes []string) *BloomCodeFilter {
	n := uint(len(codes))
	if n == 0 {
		n = 1
	}
	f := bloom.NewWithEstimates(n, bloomFPR)
	for _, code := range codes {
		f.AddString(NormalizeCode(code))
	}
	return &BloomCodeFilter{filter: f}
}

// MayContain reports whether code might be an issued coupon code. A false
// result is definitive.
func (b *BloomCodeFilter) MayContain(code string) bool {
	return b.filter.TestString(code)
}
