package coupon

import (
	"context"
	"strings"
)

// CodeFilter is a fast membership pre-check for coupon codes, used to reject
// definitely-unknown codes before paying for a storage lookup on the hot
// checkout path. Implementations may report false positives but never false
// negatives.
type CodeFilter interface {
	MayContain(code string) bool
}

// FilteredLedger decorates a Ledger with a CodeFilter: lookups for codes the
// filter has never seen fail immediately with ErrNotFound. All other calls
// pass through.
type FilteredLedger struct {
	Ledger
	filter CodeFilter
}

// NewFilteredLedger wraps next with the given code filter.
func NewFilteredLedger(next Ledger, filter CodeFilter) *FilteredLedger {
	return &FilteredLedger{Ledger: next, filter: filter}
}

// FindByCode short-circuits with ErrNotFound when the filter rules the code
// out, otherwise delegates to the wrapped ledger.
func (l *FilteredLedger) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	if !l.filter.MayContain(NormalizeCode(code)) {
		return nil, ErrNotFound
	}
	return l.Ledger.FindByCode(ctx, code)
}

// NormalizeCode canonicalizes a coupon code for lookup: trimmed and
// upper-cased, matching how codes are stored.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
