// Package coupon implements order-level discount codes with limited total
// uses, eligibility windows, and atomic use reservation during checkout.
package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is a coupon's derived lifecycle state. It is a projection of
// (quantity, startDate, expirationDate, admin delete flag) recomputed on
// read, never a freely settable field during checkout. The numeric values
// are the wire/storage encoding.
type Status int

const (
	StatusUpcoming  Status = 0
	StatusLaunching Status = 1
	StatusExpired   Status = 2
	StatusDeleted   Status = 3
	StatusExhausted Status = 4
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
	case StatusExhausted:
		return "EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrNotFound is returned when a coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrExhausted is returned when a reservation finds no uses left or the
	// coupon is not in a reservable state.
	ErrExhausted = errors.New("coupon has no uses left")
)

// IneligibleError explains why a coupon cannot be applied to an order.
type IneligibleError struct {
	Code   string
	Reason string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("coupon %s not eligible: %s", e.Code, e.Reason)
}

// Coupon is an order-level discount code. Percentage determines the value
// semantics: when true, Value is a fraction of the order subtotal (0.2 means
// 20%) capped at ValueLimit; when false, Value is a fixed amount capped at
// the subtotal.
type Coupon struct {
	ID             int64
	Name           string
	Code           string
	Percentage     bool
	Value          decimal.Decimal
	Condition      decimal.Decimal // minimum order subtotal to qualify
	ValueLimit     decimal.Decimal // max absolute discount for percentage coupons
	Quantity       int             // remaining uses
	Deleted        bool            // admin override, terminal
	StartDate      time.Time
	ExpirationDate time.Time
}

// DeriveStatus computes the coupon's status at the given instant. The admin
// delete override wins from any state; exhaustion is checked before the
// validity window.
func (c *Coupon) DeriveStatus(now time.Time) Status {
	if c.Deleted {
		return StatusDeleted
	}
	if c.Quantity <= 0 {
		return StatusExhausted
	}
	if c.StartDate.After(now) {
		return StatusUpcoming
	}
	if c.ExpirationDate.Before(now) {
		return StatusExpired
	}
	return StatusLaunching
}

// CheckEligible verifies the coupon may be applied to an order with the given
// pre-discount subtotal at the given instant. It returns *IneligibleError
// naming the violated rule.
func (c *Coupon) CheckEligible(subtotal decimal.Decimal, now time.Time) error {
	if st := c.DeriveStatus(now); st != StatusLaunching {
		return &IneligibleError{Code: c.Code, Reason: fmt.Sprintf("status is %s", st)}
	}
	if subtotal.LessThan(c.Condition) {
		return &IneligibleError{
			Code:   c.Code,
			Reason: fmt.Sprintf("order subtotal %s below minimum %s", subtotal, c.Condition),
		}
	}
	return nil
}

// Discount computes the coupon discount for the given subtotal. Percentage
// discounts are rounded to whole currency units and capped at ValueLimit;
// fixed discounts never exceed the subtotal.
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if c.Percentage {
		d := subtotal.Mul(c.Value).Round(0)
		if c.ValueLimit.IsPositive() && d.GreaterThan(c.ValueLimit) {
			return c.ValueLimit
		}
		return d
	}
	return decimal.Min(c.Value, subtotal)
}

// Snapshot is the point-in-time copy of coupon terms persisted on an order.
// Later edits to the coupon master record never alter it.
type Snapshot struct {
	ID         int64
	Code       string
	Name       string
	Percentage bool
	Value      decimal.Decimal
	ValueLimit decimal.Decimal
}

// TakeSnapshot captures the coupon's current terms for order persistence.
func (c *Coupon) TakeSnapshot() Snapshot {
	return Snapshot{
		ID:         c.ID,
		Code:       c.Code,
		Name:       c.Name,
		Percentage: c.Percentage,
		Value:      c.Value,
		ValueLimit: c.ValueLimit,
	}
}

// DecrementedEvent is emitted after a successful reservation, strictly after
// the owning order transaction commits.
type DecrementedEvent struct {
	CouponID int64  `json:"coupon_id"`
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
	Status   Status `json:"status"`
}

// KindDecremented is the event kind for DecrementedEvent.
const KindDecremented = "coupon.decremented"

// Ledger owns the shared remaining-use counter. Reserve and Release must be
// called inside the transaction that persists the order change they belong
// to, so a rolled-back checkout never leaks a decrement.
type Ledger interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// Reserve atomically consumes one use and returns the remaining quantity.
	// It fails with ErrExhausted when no uses are left or the coupon is
	// deleted or outside its validity window; the conditional decrement is
	// the serialization point under concurrent checkouts.
	Reserve(ctx context.Context, id int64) (remaining int, err error)
	// Release returns one use, compensating a cancellation before fulfillment.
	Release(ctx context.Context, id int64) error
}
