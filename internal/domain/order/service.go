package order

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/shoozy/storefront/internal/domain/catalog"
	"github.com/shoozy/storefront/internal/domain/coupon"
	"github.com/shoozy/storefront/internal/outbox"
	"github.com/shoozy/storefront/internal/shipping"
)

// CheckoutItem is one requested line: a variant and how many units.
type CheckoutItem struct {
	VariantID int64
	Quantity  int
}

// CheckoutRequest holds the input for placing an order. Customer fields are
// stored as a snapshot on the order.
type CheckoutRequest struct {
	UserID      int64
	Fullname    string
	PhoneNumber string
	Address     string
	Note        string
	CouponCode  string
	Items       []CheckoutItem
	Shipment    shipping.QuoteRequest
}

// Service implements checkout and the order lifecycle. All persistence for a
// single checkout happens in one transaction: stock decrements, the coupon
// reservation, the order rows and the staged events commit or roll back
// together.
type Service struct {
	variants  catalog.Repository
	engine    *Engine
	coupons   coupon.Ledger
	orders    Repository
	events    outbox.Staging
	shipping  shipping.Quoter
	addresses shipping.AddressResolver
	tx        TxRunner
	now       func() time.Time
	lg        *zap.Logger
}

// NewService creates an order Service with the required collaborators.
func NewService(
	variants catalog.Repository,
	engine *Engine,
	coupons coupon.Ledger,
	orders Repository,
	events outbox.Staging,
	quoter shipping.Quoter,
	addresses shipping.AddressResolver,
	tx TxRunner,
	now func() time.Time,
	lg *zap.Logger,
) *Service {
	return &Service{
		variants:  variants,
		engine:    engine,
		coupons:   coupons,
		orders:    orders,
		events:    events,
		shipping:  quoter,
		addresses: addresses,
		tx:        tx,
		now:       now,
		lg:        lg,
	}
}

// Checkout prices and persists a new order. The shipping fee is quoted up
// front; a carrier failure aborts the checkout since the fee is mandatory
// input to the payable total.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	fee, err := s.shipping.QuoteFee(ctx, req.Shipment)
	if err != nil {
		return nil, errors.Wrap(err, "quote shipping fee")
	}

	if req.Address == "" {
		req.Address, err = s.composeAddress(ctx, req.Shipment)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()

	var placed *Order
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var cpn *coupon.Coupon
		if req.CouponCode != "" {
			cpn, err = s.coupons.FindByCode(ctx, req.CouponCode)
			if err != nil {
				return errors.Wrap(err, "lookup coupon")
			}
		}

		lines, err := s.consumeStock(ctx, req.Items)
		if err != nil {
			return err
		}

		quote, err := s.engine.Price(ctx, lines, cpn, fee, now)
		if err != nil {
			return err
		}
		if quote.ClampedToZero {
			s.lg.Warn("order total clamped to zero",
				zap.String("coupon", req.CouponCode),
				zap.String("subtotal", quote.Subtotal.String()),
			)
		}

		o := &Order{
			UserID:         req.UserID,
			Fullname:       req.Fullname,
			PhoneNumber:    req.PhoneNumber,
			Address:        req.Address,
			Note:           req.Note,
			CouponDiscount: quote.CouponDiscount,
			TotalMoney:     quote.Subtotal,
			ShippingFee:    quote.ShippingFee,
			FinalPrice:     quote.FinalPrice,
			Status:         StatusPending,
			Details:        quote.Lines,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		var decremented *coupon.DecrementedEvent
		if cpn != nil {
			snap := cpn.TakeSnapshot()
			o.Coupon = &snap

			remaining, err := s.coupons.Reserve(ctx, cpn.ID)
			if err != nil {
				return errors.Wrap(err, "reserve coupon use")
			}

			after := *cpn
			after.Quantity = remaining
			decremented = &coupon.DecrementedEvent{
				CouponID: cpn.ID,
				Code:     cpn.Code,
				Quantity: remaining,
				Status:   after.DeriveStatus(now),
			}
		}

		o.Code, err = s.generateOrderCode(ctx, now)
		if err != nil {
			return err
		}

		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		if err := s.orders.AppendTimeline(ctx, TimelineEntry{
			OrderID:     o.ID,
			ActorID:     req.UserID,
			Type:        "ORDER_CREATED",
			Description: fmt.Sprintf("Order %s created", o.Code),
			CreatedAt:   now,
		}); err != nil {
			return errors.Wrap(err, "append timeline")
		}

		if err := s.stageEvent(ctx, KindCreated, CreatedEvent{OrderID: o.ID, OrderCode: o.Code}); err != nil {
			return err
		}
		if decremented != nil {
			if err := s.stageEvent(ctx, coupon.KindDecremented, decremented); err != nil {
				return err
			}
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.lg.Info("order placed",
		zap.Int64("order_id", placed.ID),
		zap.String("order_code", placed.Code),
		zap.String("final_price", placed.FinalPrice.String()),
	)
	return placed, nil
}

// consumeStock locks each variant row, verifies availability, and decrements
// quantity on hand. Runs inside the checkout transaction, so a later failure
// restores the stock.
func (s *Service) consumeStock(ctx context.Context, items []CheckoutItem) ([]LineInput, error) {
	lines := make([]LineInput, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{VariantID: item.VariantID}
		}

		v, err := s.variants.GetForUpdate(ctx, item.VariantID)
		if err != nil {
			return nil, errors.Wrapf(err, "load variant %d", item.VariantID)
		}
		if v.QuantityOnHand < item.Quantity {
			return nil, &catalog.OutOfStockError{
				VariantID: item.VariantID,
				Requested: item.Quantity,
				Available: v.QuantityOnHand,
			}
		}
		if err := s.variants.AdjustStock(ctx, item.VariantID, -item.Quantity); err != nil {
			return nil, errors.Wrapf(err, "decrement stock for variant %d", item.VariantID)
		}

		lines = append(lines, LineInput{Variant: *v, Quantity: item.Quantity})
	}
	return lines, nil
}

// composeAddress builds the display address snapshot from the carrier
// address codes when the client did not submit a formatted string.
func (s *Service) composeAddress(ctx context.Context, shipment shipping.QuoteRequest) (string, error) {
	addr, err := s.addresses.ResolveNames(ctx, shipment.ToDistrictID, shipment.ToWardCode)
	if err != nil {
		return "", errors.Wrap(err, "resolve address names")
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{addr.Ward, addr.District, addr.Province} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", "), nil
}

func (s *Service) stageEvent(ctx context.Context, kind string, payload any) error {
	ev, err := outbox.NewEvent(kind, payload)
	if err != nil {
		return err
	}
	if err := s.events.Enqueue(ctx, ev); err != nil {
		return errors.Wrapf(err, "stage %s event", kind)
	}
	return nil
}

// generateOrderCode produces a unique HD<yymmdd><nnn> invoice code,
// regenerating on collision.
func (s *Service) generateOrderCode(ctx context.Context, now time.Time) (string, error) {
	const maxAttempts = 1000
	datePart := now.Format("060102")
	for range maxAttempts {
		code := fmt.Sprintf("HD%s%03d", datePart, rand.IntN(1000))
		exists, err := s.orders.CodeExists(ctx, code)
		if err != nil {
			return "", errors.Wrap(err, "check order code")
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique order code")
}

// Transition moves an order to a new lifecycle status, appending one
// timeline entry. Cancelling a not-yet-shipped order restocks its lines and
// releases the coupon use.
func (s *Service) Transition(ctx context.Context, orderID int64, target Status, actorID int64, description string) (*Order, error) {
	now := s.now()

	var updated *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		if !o.Status.CanTransitionTo(target) {
			return &InvalidTransitionError{From: o.Status, To: target}
		}

		if target == StatusCancelled {
			if err := s.compensateCancellation(ctx, o); err != nil {
				return err
			}
		}

		if err := s.orders.UpdateStatus(ctx, orderID, target); err != nil {
			return errors.Wrap(err, "update order status")
		}

		if description == "" {
			description = fmt.Sprintf("Order %s moved from %s to %s", o.Code, o.Status, target)
		}
		if err := s.orders.AppendTimeline(ctx, TimelineEntry{
			OrderID:     orderID,
			ActorID:     actorID,
			Type:        "ORDER_" + string(target),
			Description: description,
			CreatedAt:   now,
		}); err != nil {
			return errors.Wrap(err, "append timeline")
		}

		o.Status = target
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// compensateCancellation restores stock for every non-voided line and
// returns the coupon use consumed at checkout.
func (s *Service) compensateCancellation(ctx context.Context, o *Order) error {
	for _, d := range o.Details {
		if d.Voided {
			continue
		}
		if err := s.variants.AdjustStock(ctx, d.VariantID, d.Quantity); err != nil {
			return errors.Wrapf(err, "restock variant %d", d.VariantID)
		}
	}
	if o.Coupon != nil {
		if err := s.coupons.Release(ctx, o.Coupon.ID); err != nil {
			return errors.Wrap(err, "release coupon use")
		}
	}
	return nil
}

// UpdateDraftInfo rewrites the customer snapshot of an order that has not
// yet left PENDING. Totals, coupon linkage and lines are frozen afterwards.
func (s *Service) UpdateDraftInfo(ctx context.Context, orderID int64, fullname, phone, address, note string) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		if !o.Status.Mutable() {
			return ErrImmutable
		}
		return s.orders.UpdateCustomerInfo(ctx, orderID, fullname, phone, address, note)
	})
}

// Get returns an order with its lines and payment records.
func (s *Service) Get(ctx context.Context, orderID int64) (*Order, error) {
	return s.orders.GetByID(ctx, orderID)
}
