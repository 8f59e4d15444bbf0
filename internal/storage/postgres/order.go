package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shoozy/storefront/internal/domain/coupon"
	"github.com/shoozy/storefront/internal/domain/order"
)

var (
	_ order.Repository      = (*OrderRepository)(nil)
	_ order.PaymentRecorder = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL. Orders,
// their lines and the timeline are separate tables; the coupon snapshot is
// denormalized onto the orders row.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository using the given handle.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists an order and its lines, filling in the generated IDs.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	const insertOrder = `
		INSERT INTO orders (
			code, user_id, fullname, phone_number, address, note,
			coupon_id, coupon_code, coupon_name, coupon_percentage, coupon_value, coupon_value_limit,
			coupon_discount, total_money, shipping_fee, final_price, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		RETURNING id`

	var (
		couponID         *int64
		couponCode       *string
		couponName       *string
		couponPercentage *bool
		couponValue      *decimal.Decimal
		couponLimit      *decimal.Decimal
	)
	if o.Coupon != nil {
		couponID = &o.Coupon.ID
		couponCode = &o.Coupon.Code
		couponName = &o.Coupon.Name
		couponPercentage = &o.Coupon.Percentage
		couponValue = &o.Coupon.Value
		couponLimit = &o.Coupon.ValueLimit
	}

	q := r.db.conn(ctx)
	err := q.QueryRow(ctx, insertOrder,
		o.Code, o.UserID, o.Fullname, o.PhoneNumber, o.Address, o.Note,
		couponID, couponCode, couponName, couponPercentage, couponValue, couponLimit,
		o.CouponDiscount, o.TotalMoney, o.ShippingFee, o.FinalPrice, string(o.Status),
		o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return errors.Wrapf(err, "inserting order %s", o.Code)
	}

	const insertDetail = `
		INSERT INTO order_details (
			order_id, variant_id, product_name, unit_price, quantity, total_money,
			promotion_code, promotion_name, promotion_value, promotion_discount,
			final_price, refund_status, voided
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	for i := range o.Details {
		d := &o.Details[i]
		err := q.QueryRow(ctx, insertDetail,
			o.ID, d.VariantID, d.ProductName, d.UnitPrice, d.Quantity, d.TotalMoney,
			d.PromotionCode, d.PromotionName, d.PromotionValue, d.PromotionDiscount,
			d.FinalPrice, string(d.RefundStatus), d.Voided,
		).Scan(&d.ID)
		if err != nil {
			return errors.Wrapf(err, "inserting order line for variant %d", d.VariantID)
		}
	}
	return nil
}

// GetByID loads an order with its lines and payment records.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	const selectOrder = `
		SELECT id, code, user_id, fullname, phone_number, address, note,
		       coupon_id, coupon_code, coupon_name, coupon_percentage, coupon_value, coupon_value_limit,
		       coupon_discount, total_money, shipping_fee, final_price, status,
		       created_at, updated_at
		FROM orders
		WHERE id = $1`

	q := r.db.conn(ctx)

	var (
		o                order.Order
		status           string
		couponID         *int64
		couponCode       *string
		couponName       *string
		couponPercentage *bool
		couponValue      *decimal.Decimal
		couponLimit      *decimal.Decimal
	)
	err := q.QueryRow(ctx, selectOrder, id).Scan(
		&o.ID, &o.Code, &o.UserID, &o.Fullname, &o.PhoneNumber, &o.Address, &o.Note,
		&couponID, &couponCode, &couponName, &couponPercentage, &couponValue, &couponLimit,
		&o.CouponDiscount, &o.TotalMoney, &o.ShippingFee, &o.FinalPrice, &status,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "loading order %d", id)
	}
	o.Status = order.Status(status)
	if couponID != nil {
		o.Coupon = &coupon.Snapshot{
			ID:         *couponID,
			Code:       *couponCode,
			Name:       *couponName,
			Percentage: *couponPercentage,
			Value:      *couponValue,
			ValueLimit: *couponLimit,
		}
	}

	if o.Details, err = r.loadDetails(ctx, id); err != nil {
		return nil, err
	}
	if o.Payments, err = r.loadPayments(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) loadDetails(ctx context.Context, orderID int64) ([]order.Detail, error) {
	const q = `
		SELECT id, variant_id, product_name, unit_price, quantity, total_money,
		       promotion_code, promotion_name, promotion_value, promotion_discount,
		       final_price, refund_status, voided
		FROM order_details
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.db.conn(ctx).Query(ctx, q, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading lines for order %d", orderID)
	}
	defer rows.Close()

	var details []order.Detail
	for rows.Next() {
		var (
			d            order.Detail
			refundStatus string
		)
		err := rows.Scan(
			&d.ID, &d.VariantID, &d.ProductName, &d.UnitPrice, &d.Quantity, &d.TotalMoney,
			&d.PromotionCode, &d.PromotionName, &d.PromotionValue, &d.PromotionDiscount,
			&d.FinalPrice, &refundStatus, &d.Voided,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scanning order line")
		}
		d.RefundStatus = order.RefundStatus(refundStatus)
		details = append(details, d)
	}
	return details, rows.Err()
}

func (r *OrderRepository) loadPayments(ctx context.Context, orderID int64) ([]order.PaymentRecord, error) {
	const q = `
		SELECT id, order_id, amount, method, reference, status, created_at
		FROM transactions
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.db.conn(ctx).Query(ctx, q, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading payments for order %d", orderID)
	}
	defer rows.Close()

	var payments []order.PaymentRecord
	for rows.Next() {
		var p order.PaymentRecord
		err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Reference, &p.Status, &p.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scanning payment record")
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// RecordPayment appends a gateway transaction record to an order.
func (r *OrderRepository) RecordPayment(ctx context.Context, p *order.PaymentRecord) error {
	const q = `
		INSERT INTO transactions (order_id, amount, method, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.conn(ctx).QueryRow(ctx, q,
		p.OrderID, p.Amount, p.Method, p.Reference, p.Status, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return order.ErrNotFound
		}
		return errors.Wrapf(err, "recording payment for order %d", p.OrderID)
	}
	return nil
}

// CodeExists reports whether an order already uses the given invoice code.
func (r *OrderRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE code = $1)`, code,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "checking order code %s", code)
	}
	return exists, nil
}

// UpdateStatus moves an order to a new status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status order.Status) error {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return errors.Wrapf(err, "updating status of order %d", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// AppendTimeline records one audit entry.
func (r *OrderRepository) AppendTimeline(ctx context.Context, entry order.TimelineEntry) error {
	_, err := r.db.conn(ctx).Exec(ctx,
		`INSERT INTO order_timelines (order_id, actor_id, type, description, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.OrderID, entry.ActorID, entry.Type, entry.Description, entry.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "appending timeline for order %d", entry.OrderID)
	}
	return nil
}

// UpdateDetailRefundStatus records refund bookkeeping on one line.
func (r *OrderRepository) UpdateDetailRefundStatus(ctx context.Context, detailID int64, status order.RefundStatus) error {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE order_details SET refund_status = $2 WHERE id = $1`,
		detailID, string(status),
	)
	if err != nil {
		return errors.Wrapf(err, "updating refund status of order line %d", detailID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdateCustomerInfo rewrites the customer snapshot of a draft order.
func (r *OrderRepository) UpdateCustomerInfo(ctx context.Context, id int64, fullname, phone, address, note string) error {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE orders
		 SET fullname = $2, phone_number = $3, address = $4, note = $5, updated_at = now()
		 WHERE id = $1`,
		id, fullname, phone, address, note,
	)
	if err != nil {
		return errors.Wrapf(err, "updating customer info of order %d", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}
