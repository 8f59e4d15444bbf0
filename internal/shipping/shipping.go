// Package shipping defines the carrier fee-quotation boundary. The fee is
// mandatory input to order pricing; quoting failures abort checkout.
package shipping

import (
	"context"

	"github.com/shopspring/decimal"
)

// QuoteRequest describes a shipment for fee calculation. District and ward
// identifiers follow the carrier's address master data.
type QuoteRequest struct {
	FromDistrictID int             `json:"from_district_id"`
	ToDistrictID   int             `json:"to_district_id"`
	ToWardCode     string          `json:"to_ward_code"`
	WeightGrams    int             `json:"weight"`
	ServiceTypeID  int             `json:"service_type_id,omitempty"`
	InsuranceValue decimal.Decimal `json:"insurance_value,omitempty"`
}

// Quoter returns the shipping fee for a shipment.
type Quoter interface {
	QuoteFee(ctx context.Context, req QuoteRequest) (decimal.Decimal, error)
}

// FixedQuoter returns a flat fee regardless of destination. Used in
// development and tests when no carrier credentials are configured.
type FixedQuoter struct {
	Fee decimal.Decimal
}

// QuoteFee returns the configured flat fee.
func (f FixedQuoter) QuoteFee(context.Context, QuoteRequest) (decimal.Decimal, error) {
	return f.Fee, nil
}
