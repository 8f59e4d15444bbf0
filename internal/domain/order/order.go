// Package order implements checkout pricing, the order status state machine,
// and the checkout service that ties catalog, promotions, coupons, shipping
// and persistence together in one transaction.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shoozy/storefront/internal/domain/coupon"
)

// Status labels an order's position in its lifecycle.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusConfirmed       Status = "CONFIRMED"
	StatusShipping        Status = "SHIPPING"
	StatusDelivered       Status = "DELIVERED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
	StatusReturnRequested Status = "RETURN_REQUESTED"
	StatusReturned        Status = "RETURNED"
)

// transitions is the allowed adjacency set of the order state machine.
// CANCELLED is reachable from every pre-delivery state; the return states are
// reachable only once the order has been delivered or completed.
var transitions = map[Status][]Status{
	StatusPending:         {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusShipping, StatusCancelled},
	StatusShipping:        {StatusDelivered, StatusCancelled},
	StatusDelivered:       {StatusCompleted, StatusReturnRequested},
	StatusCompleted:       {StatusReturnRequested},
	StatusReturnRequested: {StatusReturned, StatusCompleted},
}

// CanTransitionTo reports whether moving from s to target is allowed.
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Mutable reports whether monetary fields and line items may still change.
// Everything except status, refund bookkeeping and the timeline freezes once
// the order leaves PENDING.
func (s Status) Mutable() bool {
	return s == StatusPending
}

// Returnable reports whether a return request may be opened against an order
// in this state. RETURN_REQUESTED stays returnable so further lines can be
// claimed while earlier requests are open; the per-line claim sums bound the
// total.
func (s Status) Returnable() bool {
	return s == StatusDelivered || s == StatusCompleted || s == StatusReturnRequested
}

// InvalidTransitionError indicates an attempted transition outside the
// allowed adjacency set. Existing state is left untouched.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// ErrImmutable guards the frozen-order invariant.
var ErrImmutable = fmt.Errorf("order is no longer mutable")

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = fmt.Errorf("order not found")

// RefundStatus tracks how much of an order line has been refunded.
type RefundStatus string

const (
	RefundNone    RefundStatus = "NONE"
	RefundPartial RefundStatus = "PARTIAL"
	RefundFull    RefundStatus = "FULL"
)

// Detail is one order line: a variant, the quantity sold, and the monetary
// snapshot taken at time of sale. The promotion fields capture the single
// winning promotion, if any; they are denormalized so later promotion edits
// never alter a priced order.
type Detail struct {
	ID                int64
	VariantID         int64
	ProductName       string
	UnitPrice         decimal.Decimal
	Quantity          int
	TotalMoney        decimal.Decimal // unit price * quantity, before discounts
	PromotionCode     string
	PromotionName     string
	PromotionValue    decimal.Decimal
	PromotionDiscount decimal.Decimal
	FinalPrice        decimal.Decimal // line total after promotion discount
	RefundStatus      RefundStatus
	Voided            bool
}

// PaymentRecord is a payment-gateway transaction attached to an order. The
// gateway integration records these through its own path; the order core
// only carries them.
type PaymentRecord struct {
	ID        int64
	OrderID   int64
	Amount    decimal.Decimal
	Method    string
	Reference string
	Status    string
	CreatedAt time.Time
}

// Order is a customer order. Customer fields are a snapshot taken at order
// time so later profile edits don't retroactively alter history; the coupon
// snapshot is captured the same way.
type Order struct {
	ID          int64
	Code        string
	UserID      int64
	Fullname    string
	PhoneNumber string
	Address     string
	Note        string

	Coupon         *coupon.Snapshot
	CouponDiscount decimal.Decimal
	TotalMoney     decimal.Decimal // sum of line totals before discounts
	ShippingFee    decimal.Decimal
	FinalPrice     decimal.Decimal

	Status    Status
	Details   []Detail
	Payments  []PaymentRecord
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimelineEntry is one append-only audit record of an order transition.
type TimelineEntry struct {
	OrderID     int64
	ActorID     int64
	Type        string
	Description string
	CreatedAt   time.Time
}

// CreatedEvent is emitted after an order is committed.
type CreatedEvent struct {
	OrderID   int64  `json:"order_id"`
	OrderCode string `json:"order_code"`
}

// KindCreated is the event kind for CreatedEvent.
const KindCreated = "order.created"

// Repository defines persistence for orders, their lines, and the transition
// timeline.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	AppendTimeline(ctx context.Context, entry TimelineEntry) error
	// UpdateDetailRefundStatus records refund bookkeeping on a single line,
	// the only line mutation permitted after the order freezes.
	UpdateDetailRefundStatus(ctx context.Context, detailID int64, status RefundStatus) error
	// UpdateCustomerInfo rewrites the customer snapshot of a draft order.
	UpdateCustomerInfo(ctx context.Context, id int64, fullname, phone, address, note string) error
}

// PaymentRecorder appends gateway transaction records to existing orders.
// Implementations must reject records for unknown orders with ErrNotFound.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, p *PaymentRecord) error
}

// TxRunner runs fn inside a single storage transaction. Repositories called
// with the context fn receives join that transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
