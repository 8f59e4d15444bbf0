package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shoozy/storefront/internal/domain/catalog"
	"github.com/shoozy/storefront/internal/domain/coupon"
	"github.com/shoozy/storefront/internal/domain/promotion"
)

// Sentinel errors for checkout input validation.
var (
	ErrEmptyItems = errors.New("order items required")
)

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	VariantID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for variant %d", e.VariantID)
}

// LineInput is one checkout line before pricing.
type LineInput struct {
	Variant  catalog.Variant
	Quantity int
}

// Quote is the fully priced monetary snapshot of an order, ready for
// persistence. Once persisted, later edits to promotion or coupon master
// data never alter it.
type Quote struct {
	Lines             []Detail
	Subtotal          decimal.Decimal // sum of pre-discount line totals
	PromotionDiscount decimal.Decimal
	CouponDiscount    decimal.Decimal
	ShippingFee       decimal.Decimal
	FinalPrice        decimal.Decimal
	// ClampedToZero is set when the discount arithmetic would have produced a
	// negative payable total. The order still prices successfully.
	ClampedToZero bool
}

// Engine computes order totals from variant prices, per-variant promotion
// overrides, and an optional coupon. It holds no mutable state; pricing the
// same inputs with the same instant yields identical figures.
type Engine struct {
	promotions promotion.Repository
}

// NewEngine creates a pricing engine resolving promotions from the given
// repository.
func NewEngine(promotions promotion.Repository) *Engine {
	return &Engine{promotions: promotions}
}

// Price computes the monetary snapshot for the given lines at the given
// instant. The shipping fee is supplied by the external carrier collaborator
// and never computed here. A nil coupon means no order-level discount.
func (e *Engine) Price(ctx context.Context, lines []LineInput, cpn *coupon.Coupon, shippingFee decimal.Decimal, now time.Time) (*Quote, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyItems
	}

	q := &Quote{
		Lines:       make([]Detail, 0, len(lines)),
		ShippingFee: shippingFee,
	}

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{VariantID: line.Variant.ID}
		}

		attached, err := e.promotions.AttachedToVariant(ctx, line.Variant.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve promotions for variant %d", line.Variant.ID)
		}

		detail := priceLine(line, attached, now)
		q.Subtotal = q.Subtotal.Add(detail.TotalMoney)
		q.PromotionDiscount = q.PromotionDiscount.Add(detail.PromotionDiscount)
		q.Lines = append(q.Lines, detail)
	}

	if cpn != nil {
		if err := cpn.CheckEligible(q.Subtotal, now); err != nil {
			return nil, err
		}
		q.CouponDiscount = cpn.Discount(q.Subtotal)
	}

	final := q.Subtotal.Sub(q.PromotionDiscount).Sub(q.CouponDiscount).Add(shippingFee)
	if final.IsNegative() {
		final = decimal.Zero
		q.ClampedToZero = true
	}
	q.FinalPrice = final

	return q, nil
}

// priceLine prices one line, applying the single best active promotion.
func priceLine(line LineInput, attached []promotion.Attached, now time.Time) Detail {
	unit := line.Variant.SellPrice
	qty := decimal.NewFromInt(int64(line.Quantity))
	total := unit.Mul(qty)

	detail := Detail{
		VariantID:    line.Variant.ID,
		ProductName:  line.Variant.ProductName,
		UnitPrice:    unit,
		Quantity:     line.Quantity,
		TotalMoney:   total,
		FinalPrice:   total,
		RefundStatus: RefundNone,
	}

	best, ok := promotion.Best(attached, unit, now)
	if !ok {
		return detail
	}

	discount := promotion.DiscountPerUnit(best.EffectiveValue, unit).Mul(qty)
	detail.PromotionCode = best.Promotion.Code
	detail.PromotionName = best.Promotion.Name
	detail.PromotionValue = best.EffectiveValue
	detail.PromotionDiscount = discount
	detail.FinalPrice = total.Sub(discount)

	return detail
}
