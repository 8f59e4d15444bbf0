package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/shoozy/storefront/internal/domain/catalog"
)

var _ catalog.Repository = (*VariantRepository)(nil)

// VariantRepository implements catalog.Repository backed by PostgreSQL.
type VariantRepository struct {
	db *DB
}

// NewVariantRepository returns a VariantRepository using the given handle.
func NewVariantRepository(db *DB) *VariantRepository {
	return &VariantRepository{db: db}
}

// GetForUpdate loads a variant with FOR UPDATE, so concurrent checkouts
// against the same variant serialize on its row lock.
func (r *VariantRepository) GetForUpdate(ctx context.Context, id int64) (*catalog.Variant, error) {
	const q = `
		SELECT v.id, v.product_id, p.name, v.quantity, v.cost_price, v.sell_price
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = $1
		FOR UPDATE OF v`

	var v catalog.Variant
	err := r.db.conn(ctx).QueryRow(ctx, q, id).Scan(
		&v.ID, &v.ProductID, &v.ProductName, &v.QuantityOnHand, &v.CostPrice, &v.SellPrice,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrVariantNotFound
		}
		return nil, errors.Wrapf(err, "loading variant %d", id)
	}
	return &v, nil
}

// AdjustStock changes quantity on hand by delta. The WHERE clause guards the
// non-negative invariant, so a concurrent consumer can never drive the
// counter below zero even if the caller's availability check raced.
func (r *VariantRepository) AdjustStock(ctx context.Context, id int64, delta int) error {
	const q = `
		UPDATE product_variants
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1 AND quantity + $2 >= 0`

	tag, err := r.db.conn(ctx).Exec(ctx, q, id, delta)
	if err != nil {
		return errors.Wrapf(err, "adjusting stock for variant %d", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Guard rejected the update: either the variant is gone or the decrement
	// would overdraw. Re-read to tell the cases apart.
	var available int
	err = r.db.conn(ctx).QueryRow(ctx, `SELECT quantity FROM product_variants WHERE id = $1`, id).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ErrVariantNotFound
		}
		return errors.Wrapf(err, "loading variant %d", id)
	}
	return &catalog.OutOfStockError{VariantID: id, Requested: -delta, Available: available}
}
