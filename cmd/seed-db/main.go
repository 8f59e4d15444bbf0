// Command seed-db loads a catalog fixture into the database: products with
// their variants, promotions with variant links, and coupons. Intended for
// development and demo environments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shoozy/storefront/internal/storage/postgres"
)

type variantJSON struct {
	Quantity  int             `json:"quantity"`
	CostPrice decimal.Decimal `json:"cost_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
}

type productJSON struct {
	Name     string        `json:"name"`
	Variants []variantJSON `json:"variants"`
}

type promotionJSON struct {
	Name           string          `json:"name"`
	Code           string          `json:"code"`
	Value          decimal.Decimal `json:"value"`
	StartDate      time.Time       `json:"start_date"`
	ExpirationDate time.Time       `json:"expiration_date"`
	// Variant indexes into the flattened variant list, in file order.
	VariantRefs []int `json:"variant_refs"`
}

type couponJSON struct {
	Name           string          `json:"name"`
	Code           string          `json:"code"`
	Percentage     bool            `json:"percentage"`
	Value          decimal.Decimal `json:"value"`
	Condition      decimal.Decimal `json:"condition"`
	ValueLimit     decimal.Decimal `json:"value_limit"`
	Quantity       int             `json:"quantity"`
	StartDate      time.Time       `json:"start_date"`
	ExpirationDate time.Time       `json:"expiration_date"`
}

type seedFile struct {
	Products   []productJSON   `json:"products"`
	Promotions []promotionJSON `json:"promotions"`
	Coupons    []couponJSON    `json:"coupons"`
}

func main() {
	var (
		databaseURL string
		fixtureFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&fixtureFile, "fixture-file", "db/seed/catalog.json", "path to catalog fixture JSON")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, fixtureFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed complete")
}

func run(ctx context.Context, databaseURL, fixtureFile string) error {
	raw, err := os.ReadFile(fixtureFile)
	if err != nil {
		return errors.Wrap(err, "read fixture file")
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return errors.Wrap(err, "parse fixture file")
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	variantIDs, err := seedCatalog(ctx, pool, seed.Products)
	if err != nil {
		return err
	}
	if err := seedPromotions(ctx, pool, seed.Promotions, variantIDs); err != nil {
		return err
	}
	return seedCoupons(ctx, pool, seed.Coupons)
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, products []productJSON) ([]int64, error) {
	slog.Info("seeding products", slog.Int("count", len(products)))

	var variantIDs []int64
	for _, p := range products {
		var productID int64
		err := pool.QueryRow(ctx,
			`INSERT INTO products (name) VALUES ($1) RETURNING id`, p.Name,
		).Scan(&productID)
		if err != nil {
			return nil, errors.Wrapf(err, "insert product %s", p.Name)
		}

		for _, v := range p.Variants {
			var variantID int64
			err := pool.QueryRow(ctx,
				`INSERT INTO product_variants (product_id, quantity, cost_price, sell_price)
				 VALUES ($1, $2, $3, $4) RETURNING id`,
				productID, v.Quantity, v.CostPrice, v.SellPrice,
			).Scan(&variantID)
			if err != nil {
				return nil, errors.Wrapf(err, "insert variant of %s", p.Name)
			}
			variantIDs = append(variantIDs, variantID)
		}

		slog.Info("seeded product", slog.String("name", p.Name), slog.Int("variants", len(p.Variants)))
	}
	return variantIDs, nil
}

func seedPromotions(ctx context.Context, pool *pgxpool.Pool, promotions []promotionJSON, variantIDs []int64) error {
	slog.Info("seeding promotions", slog.Int("count", len(promotions)))

	for _, p := range promotions {
		var promotionID int64
		err := pool.QueryRow(ctx,
			`INSERT INTO promotions (name, code, value, start_date, expiration_date)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (code) DO UPDATE SET
			   name = EXCLUDED.name, value = EXCLUDED.value,
			   start_date = EXCLUDED.start_date, expiration_date = EXCLUDED.expiration_date,
			   updated_at = now()
			 RETURNING id`,
			p.Name, p.Code, p.Value, p.StartDate, p.ExpirationDate,
		).Scan(&promotionID)
		if err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.Code)
		}

		for _, ref := range p.VariantRefs {
			if ref < 0 || ref >= len(variantIDs) {
				return errors.Errorf("promotion %s references unknown variant index %d", p.Code, ref)
			}
			_, err := pool.Exec(ctx,
				`INSERT INTO product_promotions (variant_id, promotion_id)
				 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				variantIDs[ref], promotionID,
			)
			if err != nil {
				return errors.Wrapf(err, "link promotion %s", p.Code)
			}
		}

		slog.Info("seeded promotion", slog.String("code", p.Code), slog.Int("variants", len(p.VariantRefs)))
	}
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, coupons []couponJSON) error {
	slog.Info("seeding coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		_, err := pool.Exec(ctx,
			`INSERT INTO coupons (name, code, percentage, value, condition, value_limit, quantity, start_date, expiration_date)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (code) DO UPDATE SET
			   name = EXCLUDED.name, percentage = EXCLUDED.percentage, value = EXCLUDED.value,
			   condition = EXCLUDED.condition, value_limit = EXCLUDED.value_limit,
			   quantity = EXCLUDED.quantity, start_date = EXCLUDED.start_date,
			   expiration_date = EXCLUDED.expiration_date, updated_at = now()`,
			c.Name, c.Code, c.Percentage, c.Value, c.Condition, c.ValueLimit,
			c.Quantity, c.StartDate, c.ExpirationDate,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		slog.Info("seeded coupon", slog.String("code", c.Code))
	}
	return nil
}
