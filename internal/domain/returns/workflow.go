package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shoozy/storefront/internal/domain/catalog"
	"github.com/shoozy/storefront/internal/domain/order"
)

// ReturnWindow is how long after delivery/completion a return may be opened.
const ReturnWindow = 7 * 24 * time.Hour

// conflictRetries bounds the internal retry loop for transient serialization
// conflicts. Business-rule failures are never retried.
const (
	conflictRetries = 3
	conflictBackoff = 25 * time.Millisecond
)

// ItemRequest is one requested return line.
type ItemRequest struct {
	OrderDetailID int64
	Quantity      int
	Note          string
	ImageURLs     []string
}

// CreateRequest is the input for opening a return request.
type CreateRequest struct {
	OrderID int64
	UserID  int64
	Reason  string
	Note    string
	Items   []ItemRequest
	Info    RefundInfo
}

// Workflow owns return-request creation, per-line quantity reconciliation
// against the originating order, and refund execution.
type Workflow struct {
	orders   order.Repository
	variants catalog.Repository
	store    Repository
	tx       order.TxRunner
	now      func() time.Time
	lg       *zap.Logger
}

// NewWorkflow creates a return/refund workflow with the required
// collaborators.
func NewWorkflow(
	orders order.Repository,
	variants catalog.Repository,
	store Repository,
	tx order.TxRunner,
	now func() time.Time,
	lg *zap.Logger,
) *Workflow {
	return &Workflow{
		orders:   orders,
		variants: variants,
		store:    store,
		tx:       tx,
		now:      now,
		lg:       lg,
	}
}

// withConflictRetry runs fn, retrying with backoff when it fails with
// ErrConflict. Conflicts reflect a transient race on the shared line
// counters, not a business violation.
func (w *Workflow) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := range conflictRetries {
		err = w.tx.RunInTx(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * conflictBackoff):
		}
	}
	return err
}

// Create validates and persists a new return request. Quantity validation
// holds row locks on the referenced order lines so two concurrent requests
// cannot jointly over-claim a line.
func (w *Workflow) Create(ctx context.Context, req CreateRequest) (*Request, error) {
	if len(req.Items) == 0 {
		return nil, errors.New("return items required")
	}
	if err := req.Info.Validate(); err != nil {
		return nil, err
	}

	now := w.now()

	var created *Request
	err := w.withConflictRetry(ctx, func(ctx context.Context) error {
		o, err := w.orders.GetByID(ctx, req.OrderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		if o.UserID != req.UserID {
			return ErrNotOwner
		}
		if !o.Status.Returnable() {
			return ErrOrderNotReturnable
		}
		if o.UpdatedAt.Add(ReturnWindow).Before(now) {
			return ErrReturnWindowClosed
		}

		details := make(map[int64]order.Detail, len(o.Details))
		for _, d := range o.Details {
			details[d.ID] = d
		}

		detailIDs := make([]int64, 0, len(req.Items))
		seen := make(map[int64]bool, len(req.Items))
		for _, item := range req.Items {
			if seen[item.OrderDetailID] {
				return ErrDuplicateLines
			}
			seen[item.OrderDetailID] = true
			if _, ok := details[item.OrderDetailID]; !ok {
				return ErrLineNotInOrder
			}
			detailIDs = append(detailIDs, item.OrderDetailID)
		}

		if err := w.store.LockOrderDetails(ctx, detailIDs); err != nil {
			return errors.Wrap(err, "lock order lines")
		}
		claimed, err := w.store.ClaimedQuantities(ctx, detailIDs)
		if err != nil {
			return errors.Wrap(err, "sum claimed quantities")
		}

		r := &Request{
			OrderID:   req.OrderID,
			UserID:    req.UserID,
			Reason:    req.Reason,
			Note:      req.Note,
			Status:    StatusPending,
			Info:      req.Info,
			CreatedAt: now,
			UpdatedAt: now,
		}

		refund := decimal.Zero
		for _, item := range req.Items {
			d := details[item.OrderDetailID]
			remaining := d.Quantity - claimed[item.OrderDetailID]
			if item.Quantity <= 0 || item.Quantity > remaining {
				return &OverReturnQuantityError{
					OrderDetailID: item.OrderDetailID,
					Requested:     item.Quantity,
					Remaining:     remaining,
				}
			}

			unit := unitRefundPrice(o, d)
			refund = refund.Add(unit.Mul(decimal.NewFromInt(int64(item.Quantity))))

			r.Items = append(r.Items, Item{
				OrderDetailID: item.OrderDetailID,
				Quantity:      item.Quantity,
				Note:          item.Note,
				ImageURLs:     item.ImageURLs,
			})
		}
		// Merchandise value only; the shipping fee is never refunded.
		r.RefundAmount = refund.Round(0)

		if err := w.store.Create(ctx, r); err != nil {
			return errors.Wrap(err, "create return request")
		}

		if o.Status.CanTransitionTo(order.StatusReturnRequested) {
			if err := w.orders.UpdateStatus(ctx, o.ID, order.StatusReturnRequested); err != nil {
				return errors.Wrap(err, "mark order return requested")
			}
			if err := w.orders.AppendTimeline(ctx, order.TimelineEntry{
				OrderID:     o.ID,
				ActorID:     req.UserID,
				Type:        "RETURN_REQUESTED",
				Description: fmt.Sprintf("Return request opened for order %s", o.Code),
				CreatedAt:   now,
			}); err != nil {
				return errors.Wrap(err, "append timeline")
			}
		}

		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.lg.Info("return request created",
		zap.Int64("return_request_id", created.ID),
		zap.Int64("order_id", created.OrderID),
		zap.String("refund_amount", created.RefundAmount.String()),
	)
	return created, nil
}

// unitRefundPrice computes the per-unit refund value for an order line: the
// line total after its promotion discount, minus the order-level coupon
// discount allocated proportionally across lines, divided by quantity.
func unitRefundPrice(o *order.Order, d order.Detail) decimal.Decimal {
	if d.Quantity <= 0 {
		return decimal.Zero
	}

	sumLines := decimal.Zero
	for _, line := range o.Details {
		sumLines = sumLines.Add(line.FinalPrice)
	}

	allocated := decimal.Zero
	if o.CouponDiscount.IsPositive() && sumLines.IsPositive() {
		allocated = o.CouponDiscount.Mul(d.FinalPrice).Div(sumLines).Round(2)
	}

	net := d.FinalPrice.Sub(allocated)
	return net.Div(decimal.NewFromInt(int64(d.Quantity))).Round(2)
}

// Approve moves a pending request to APPROVED. A positive amount overrides
// the refund computed at creation; zero keeps it.
func (w *Workflow) Approve(ctx context.Context, requestID int64, amount decimal.Decimal) error {
	return w.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := w.store.GetByID(ctx, requestID)
		if err != nil {
			return errors.Wrap(err, "load return request")
		}
		if !r.Status.CanTransitionTo(StatusApproved) {
			return &InvalidTransitionError{From: r.Status, To: StatusApproved}
		}
		if amount.IsPositive() {
			if err := w.store.SetRefundAmount(ctx, requestID, amount.Round(0)); err != nil {
				return errors.Wrap(err, "set refund amount")
			}
		}
		return w.store.UpdateStatus(ctx, requestID, StatusApproved)
	})
}

// Reject closes a pending request. The quantities it claimed become
// returnable again because claim sums exclude rejected requests. When no
// other open request remains, the order returns to COMPLETED.
func (w *Workflow) Reject(ctx context.Context, requestID int64, reason string) error {
	now := w.now()
	return w.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := w.store.GetByID(ctx, requestID)
		if err != nil {
			return errors.Wrap(err, "load return request")
		}
		if !r.Status.CanTransitionTo(StatusRejected) {
			return &InvalidTransitionError{From: r.Status, To: StatusRejected}
		}
		if err := w.store.UpdateStatus(ctx, requestID, StatusRejected); err != nil {
			return errors.Wrap(err, "update return status")
		}

		open, err := w.store.OpenRequestCount(ctx, r.OrderID)
		if err != nil {
			return errors.Wrap(err, "count open requests")
		}
		if open > 0 {
			return nil
		}

		o, err := w.orders.GetByID(ctx, r.OrderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		if o.Status.CanTransitionTo(order.StatusCompleted) {
			if err := w.orders.UpdateStatus(ctx, o.ID, order.StatusCompleted); err != nil {
				return errors.Wrap(err, "restore order status")
			}
			return w.orders.AppendTimeline(ctx, order.TimelineEntry{
				OrderID:     o.ID,
				Type:        "RETURN_REJECTED",
				Description: fmt.Sprintf("Return request %d rejected: %s", requestID, reason),
				CreatedAt:   now,
			})
		}
		return nil
	})
}

// ExecuteRefund records the refund for an approved request: exactly one
// refund transaction, per-line refund bookkeeping, restocked inventory, and
// the order moved to RETURNED. A zero amount refunds the stored amount.
func (w *Workflow) ExecuteRefund(ctx context.Context, requestID int64, amount decimal.Decimal, method Method, referenceCode, note, actor string) (*Transaction, error) {
	now := w.now()

	var executed *Transaction
	err := w.withConflictRetry(ctx, func(ctx context.Context) error {
		r, err := w.store.GetByID(ctx, requestID)
		if err != nil {
			return errors.Wrap(err, "load return request")
		}
		if !r.Status.CanTransitionTo(StatusRefunded) {
			return &InvalidTransitionError{From: r.Status, To: StatusRefunded}
		}

		if amount.IsZero() {
			amount = r.RefundAmount
		}
		if referenceCode == "" && method == MethodCash {
			referenceCode = cashRefundCode()
		}

		tx := &Transaction{
			RequestID:     requestID,
			Amount:        amount,
			Method:        method,
			ReferenceCode: referenceCode,
			Note:          note,
			CreatedBy:     actor,
			CreatedAt:     now,
		}
		if err := w.store.CreateRefundTransaction(ctx, tx); err != nil {
			return errors.Wrap(err, "create refund transaction")
		}

		if err := w.store.UpdateStatus(ctx, requestID, StatusRefunded); err != nil {
			return errors.Wrap(err, "update return status")
		}

		if err := w.settleOrderLines(ctx, r, now); err != nil {
			return err
		}

		executed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.lg.Info("refund executed",
		zap.Int64("return_request_id", requestID),
		zap.String("amount", executed.Amount.String()),
		zap.String("method", string(executed.Method)),
	)
	return executed, nil
}

// settleOrderLines updates per-line refund bookkeeping, restocks returned
// units, and moves the order to RETURNED.
func (w *Workflow) settleOrderLines(ctx context.Context, r *Request, now time.Time) error {
	o, err := w.orders.GetByID(ctx, r.OrderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}
	details := make(map[int64]order.Detail, len(o.Details))
	for _, d := range o.Details {
		details[d.ID] = d
	}

	detailIDs := make([]int64, 0, len(r.Items))
	for _, item := range r.Items {
		detailIDs = append(detailIDs, item.OrderDetailID)
	}
	refunded, err := w.store.RefundedQuantities(ctx, detailIDs)
	if err != nil {
		return errors.Wrap(err, "sum refunded quantities")
	}

	for _, item := range r.Items {
		d, ok := details[item.OrderDetailID]
		if !ok {
			return ErrLineNotInOrder
		}

		status := order.RefundPartial
		if refunded[item.OrderDetailID] >= d.Quantity {
			status = order.RefundFull
		}
		if err := w.orders.UpdateDetailRefundStatus(ctx, item.OrderDetailID, status); err != nil {
			return errors.Wrap(err, "update line refund status")
		}

		if err := w.variants.AdjustStock(ctx, d.VariantID, item.Quantity); err != nil {
			return errors.Wrapf(err, "restock variant %d", d.VariantID)
		}
	}

	if o.Status.CanTransitionTo(order.StatusReturned) {
		if err := w.orders.UpdateStatus(ctx, o.ID, order.StatusReturned); err != nil {
			return errors.Wrap(err, "mark order returned")
		}
		return w.orders.AppendTimeline(ctx, order.TimelineEntry{
			OrderID:     o.ID,
			Type:        "ORDER_RETURNED",
			Description: fmt.Sprintf("Refund executed for return request %d", r.ID),
			CreatedAt:   now,
		})
	}
	return nil
}

// Get returns a request with its items and refund info.
func (w *Workflow) Get(ctx context.Context, requestID int64) (*Request, error) {
	return w.store.GetByID(ctx, requestID)
}

// cashRefundCode generates a reference for cash payouts recorded without one.
func cashRefundCode() string {
	return "CASH-" + uuid.NewString()[:8]
}
