// Package catalog holds the product catalog entities consumed by checkout:
// products and their sellable variants. Variants are the unit of inventory
// and pricing.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrVariantNotFound is returned when a requested product variant does not exist.
var ErrVariantNotFound = errors.New("product variant not found")

// OutOfStockError indicates a checkout requested more units than are on hand.
type OutOfStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("variant %d out of stock: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

// Product represents a catalog item. Only the fields the order core needs are
// carried here; media, branding and sizing master data live elsewhere.
type Product struct {
	ID   int64
	Name string
}

// Variant is a specific size/color combination of a product. Sell price and
// quantity on hand are non-negative by invariant (enforced in storage).
type Variant struct {
	ID             int64
	ProductID      int64
	ProductName    string
	QuantityOnHand int
	CostPrice      decimal.Decimal
	SellPrice      decimal.Decimal
}

// Repository defines catalog reads and the stock mutations checkout needs.
//
// GetForUpdate must acquire a row lock when called inside a transaction so
// that concurrent checkouts against the same variant serialize on the stock
// counter.
type Repository interface {
	GetForUpdate(ctx context.Context, id int64) (*Variant, error)
	// AdjustStock changes quantity on hand by delta (negative to consume,
	// positive to restock). It fails with *OutOfStockError when the adjustment
	// would drive the counter below zero.
	AdjustStock(ctx context.Context, id int64, delta int) error
}
