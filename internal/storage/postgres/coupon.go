package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/shoozy/storefront/internal/domain/coupon"
)

var _ coupon.Ledger = (*CouponLedger)(nil)

// CouponLedger implements coupon.Ledger backed by PostgreSQL. The remaining-use
// counter lives in the coupons.quantity column; Reserve is a conditional
// decrement, so over-redemption is impossible regardless of how many checkouts
// race.
type CouponLedger struct {
	db *DB
}

// NewCouponLedger returns a CouponLedger using the given handle.
func NewCouponLedger(db *DB) *CouponLedger {
	return &CouponLedger{db: db}
}

// FindByCode looks up a coupon by its normalized code. Derived status is not
// filtered here; eligibility is the pricing engine's call.
func (l *CouponLedger) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	const q = `
		SELECT id, name, code, percentage, value, condition, value_limit,
		       quantity, deleted, start_date, expiration_date
		FROM coupons
		WHERE code = $1`

	var c coupon.Coupon
	err := l.db.conn(ctx).QueryRow(ctx, q, coupon.NormalizeCode(code)).Scan(
		&c.ID, &c.Name, &c.Code, &c.Percentage, &c.Value, &c.Condition, &c.ValueLimit,
		&c.Quantity, &c.Deleted, &c.StartDate, &c.ExpirationDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "finding coupon by code %q", code)
	}
	return &c, nil
}

// Reserve consumes one use. The quantity > 0 predicate makes the decrement
// atomic: of N concurrent reservations against a coupon with Q uses left,
// exactly Q succeed. The window predicate keeps deleted, upcoming and
// expired coupons untouchable even without a prior eligibility check.
func (l *CouponLedger) Reserve(ctx context.Context, id int64) (int, error) {
	const q = `
		UPDATE coupons
		SET quantity = quantity - 1, updated_at = now()
		WHERE id = $1 AND quantity > 0 AND NOT deleted
		  AND start_date <= now() AND expiration_date >= now()
		RETURNING quantity`

	var remaining int
	err := l.db.conn(ctx).QueryRow(ctx, q, id).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, coupon.ErrExhausted
		}
		return 0, errors.Wrapf(err, "reserving coupon %d", id)
	}
	return remaining, nil
}

// Release returns one use, compensating an order cancellation.
func (l *CouponLedger) Release(ctx context.Context, id int64) error {
	const q = `
		UPDATE coupons
		SET quantity = quantity + 1, updated_at = now()
		WHERE id = $1`

	tag, err := l.db.conn(ctx).Exec(ctx, q, id)
	if err != nil {
		return errors.Wrapf(err, "releasing coupon %d", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// ListCodes returns every issued coupon code, deleted ones included. Used at
// startup to seed the code filter.
func (l *CouponLedger) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := l.db.conn(ctx).Query(ctx, `SELECT code FROM coupons`)
	if err != nil {
		return nil, errors.Wrap(err, "listing coupon codes")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "scanning coupon code")
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating coupon codes")
	}
	return codes, nil
}
