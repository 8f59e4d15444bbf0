package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shoozy/storefront/internal/domain/promotion"
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	db *DB
}

// NewPromotionRepository returns a PromotionRepository using the given handle.
func NewPromotionRepository(db *DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

// AttachedToVariant loads every promotion linked to the variant together with
// its per-variant value override. Status filtering is done by the caller, so
// the query stays a plain join.
func (r *PromotionRepository) AttachedToVariant(ctx context.Context, variantID int64) ([]promotion.Attached, error) {
	const q = `
		SELECT p.id, p.name, p.code, p.value, p.start_date, p.expiration_date, p.deleted,
		       pp.custom_value
		FROM promotions p
		JOIN product_promotions pp ON pp.promotion_id = p.id
		WHERE pp.variant_id = $1`

	rows, err := r.db.conn(ctx).Query(ctx, q, variantID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading promotions for variant %d", variantID)
	}
	defer rows.Close()

	var attached []promotion.Attached
	for rows.Next() {
		var (
			a      promotion.Attached
			custom *decimal.Decimal
		)
		err := rows.Scan(
			&a.Promotion.ID, &a.Promotion.Name, &a.Promotion.Code, &a.Promotion.Value,
			&a.Promotion.StartDate, &a.Promotion.ExpirationDate, &a.Promotion.Deleted,
			&custom,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scanning promotion row")
		}
		a.CustomValue = custom
		attached = append(attached, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating promotion rows")
	}
	return attached, nil
}
