// Package promotion implements variant-level discount campaigns and the
// selection of the effective discount to apply at checkout.
package promotion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a promotion, derived from its validity
// window. Deleted is an admin override and is never derived.
type Status int

const (
	StatusUpcoming  Status = 0
	StatusLaunching Status = 1
	StatusExpired   Status = 2
	StatusDeleted   Status = 3
)

// String returns the status label.
func (s Status) String() string {
	switch s {
	case StatusUpcoming:
		return "UPCOMING"
	case StatusLaunching:
		return "LAUNCHING"
	case StatusExpired:
		return "EXPIRED"
	case StatusDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// Promotion is a discount campaign attachable to many product variants.
//
// Value carries a dual encoding: a value below 1 is a fractional percentage
// of the unit price (0.2 means 20% off), a value of 1 or more is an absolute
// amount subtracted from the unit price. There is no separate type field.
type Promotion struct {
	ID             int64
	Name           string
	Code           string
	Value          decimal.Decimal
	StartDate      time.Time
	ExpirationDate time.Time
	Deleted        bool
}

// DeriveStatus computes the promotion's status at the given instant. The
// window is inclusive on both ends.
func (p *Promotion) DeriveStatus(now time.Time) Status {
	if p.Deleted {
		return StatusDeleted
	}
	if p.StartDate.After(now) {
		return StatusUpcoming
	}
	if p.ExpirationDate.Before(now) {
		return StatusExpired
	}
	return StatusLaunching
}

// Attached is a variant↔promotion link. CustomValue, when set, overrides the
// promotion's default value for that specific variant.
type Attached struct {
	Promotion   Promotion
	CustomValue *decimal.Decimal
}

// EffectiveValue returns the link's custom value if present, else the
// promotion's own value.
func (a Attached) EffectiveValue() decimal.Decimal {
	if a.CustomValue != nil {
		return *a.CustomValue
	}
	return a.Promotion.Value
}

// Active pairs a currently-active promotion with the value that applies to
// the variant it was resolved for.
type Active struct {
	Promotion      Promotion
	EffectiveValue decimal.Decimal
}

// Repository resolves the promotions attached to a variant. Links are created
// and removed by promotion management; the pricing path only reads them.
type Repository interface {
	AttachedToVariant(ctx context.Context, variantID int64) ([]Attached, error)
}

var one = decimal.NewFromInt(1)

// DiscountPerUnit computes the per-unit discount a promotion value yields at
// the given unit price, honoring the dual encoding. Fractional discounts are
// rounded to whole currency units; absolute discounts never exceed the unit
// price.
func DiscountPerUnit(value, unitPrice decimal.Decimal) decimal.Decimal {
	if value.LessThan(one) {
		return unitPrice.Mul(value).Round(0)
	}
	return decimal.Min(value, unitPrice)
}

// ActiveAt filters attached promotions down to those active at the given
// instant and resolves their effective values. It has no side effects and is
// safe to call repeatedly.
func ActiveAt(attached []Attached, now time.Time) []Active {
	active := make([]Active, 0, len(attached))
	for _, a := range attached {
		if a.Promotion.DeriveStatus(now) != StatusLaunching {
			continue
		}
		active = append(active, Active{
			Promotion:      a.Promotion,
			EffectiveValue: a.EffectiveValue(),
		})
	}
	return active
}

// Best picks the single winning promotion for a variant at the given unit
// price: the one with the maximum per-unit discount, ties broken by the
// lowest promotion ID so the result is deterministic. The second return is
// false when no promotion is active.
func Best(attached []Attached, unitPrice decimal.Decimal, now time.Time) (Active, bool) {
	var (
		best         Active
		bestDiscount decimal.Decimal
		found        bool
	)
	for _, a := range ActiveAt(attached, now) {
		d := DiscountPerUnit(a.EffectiveValue, unitPrice)
		switch {
		case !found,
			d.GreaterThan(bestDiscount),
			d.Equal(bestDiscount) && a.Promotion.ID < best.Promotion.ID:
			best = a
			bestDiscount = d
			found = true
		}
	}
	return best, found
}
