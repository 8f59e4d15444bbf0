// Command coupon-ingest bulk-imports campaign coupon codes into the coupons
// table. Input is one or more gzip-compressed text files with one code per
// line, as delivered by the marketing campaign tooling. Every imported code
// gets the same terms, configured by flags; codes already present are left
// untouched.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/shoozy/storefront/internal/domain/coupon"
	"github.com/shoozy/storefront/internal/storage/postgres"
)

const (
	minCodeLen    = 6
	maxCodeLen    = 12
	insertBatch   = 5_000
	progressEvery = 100_000
)

type campaign struct {
	name       string
	percentage bool
	value      decimal.Decimal
	condition  decimal.Decimal
	valueLimit decimal.Decimal
	usesPer    int
	start      time.Time
	end        time.Time
}

func main() {
	var (
		dataDir     string
		databaseURL string
		name        string
		percentage  bool
		value       string
		condition   string
		valueLimit  string
		usesPer     int
		days        int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.gz code files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&name, "name", "Campaign coupon", "coupon display name")
	flag.BoolVar(&percentage, "percentage", true, "treat value as a fraction of the subtotal")
	flag.StringVar(&value, "value", "0.1", "discount value (fraction when --percentage, amount otherwise)")
	flag.StringVar(&condition, "condition", "0", "minimum order subtotal")
	flag.StringVar(&valueLimit, "value-limit", "0", "maximum discount for percentage coupons")
	flag.IntVar(&usesPer, "uses", 1, "uses per imported code")
	flag.IntVar(&days, "days", 30, "validity window in days, starting now")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	now := time.Now()
	c := campaign{
		name:       name,
		percentage: percentage,
		value:      decimal.RequireFromString(value),
		condition:  decimal.RequireFromString(condition),
		valueLimit: decimal.RequireFromString(valueLimit),
		usesPer:    usesPer,
		start:      now,
		end:        now.AddDate(0, 0, days),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, dataDir, c); err != nil {
		slog.Error("ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, dataDir string, c campaign) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list code files")
	}
	if len(files) == 0 {
		return errors.Errorf("no .gz files found in %s", dataDir)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Read all files concurrently, dedupe into one set.
	var (
		mu    sync.Mutex
		codes = make(map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			return readCodes(gctx, file, func(code string) {
				mu.Lock()
				codes[code] = struct{}{}
				mu.Unlock()
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("codes collected", slog.Int("unique", len(codes)), slog.Int("files", len(files)))

	return insertCodes(ctx, pool, codes, c)
}

// readCodes streams one gzip file, passing every well-formed code to emit.
func readCodes(ctx context.Context, path string, emit func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gunzip %s", path)
	}
	defer gz.Close()

	var read int
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		code := coupon.NormalizeCode(scanner.Text())
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		emit(code)

		read++
		if read%progressEvery == 0 {
			slog.Info("reading codes", slog.String("file", filepath.Base(path)), slog.Int("read", read))
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return errors.Wrapf(scanner.Err(), "scan %s", path)
}

// insertCodes writes the deduplicated codes in batches.
func insertCodes(ctx context.Context, pool *pgxpool.Pool, codes map[string]struct{}, c campaign) error {
	const q = `
		INSERT INTO coupons (name, code, percentage, value, condition, value_limit, quantity, start_date, expiration_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO NOTHING`

	var batch pgx.Batch
	inserted := 0
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := pool.SendBatch(ctx, &batch).Close(); err != nil {
			return errors.Wrap(err, "insert coupon batch")
		}
		inserted += batch.Len()
		batch = pgx.Batch{}
		slog.Info("inserting coupons", slog.Int("inserted", inserted))
		return nil
	}

	for code := range codes {
		batch.Queue(q, c.name, code, c.percentage, c.value, c.condition, c.valueLimit, c.usesPer, c.start, c.end)
		if batch.Len() >= insertBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("ingest complete", slog.Int("coupons", inserted))
	return nil
}
