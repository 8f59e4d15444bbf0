// Package app wires configuration, storage, domain services, the outbox
// relay, and the HTTP server into a running process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shoozy/storefront/internal/domain/coupon"
	"github.com/shoozy/storefront/internal/domain/order"
	"github.com/shoozy/storefront/internal/domain/returns"
	"github.com/shoozy/storefront/internal/event"
	"github.com/shoozy/storefront/internal/httpapi"
	"github.com/shoozy/storefront/internal/outbox"
	"github.com/shoozy/storefront/internal/shipping"
	"github.com/shoozy/storefront/internal/storage/postgres"
	"github.com/shoozy/storefront/pkg/health"
	"github.com/shoozy/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, _ *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	db := postgres.NewDB(pool)
	variantRepo := postgres.NewVariantRepository(db)
	promotionRepo := postgres.NewPromotionRepository(db)
	couponLedger := postgres.NewCouponLedger(db)
	orderRepo := postgres.NewOrderRepository(db)
	returnRepo := postgres.NewReturnRepository(db)
	outboxStore := postgres.NewOutboxStore(db)

	// Code filter: unknown coupon codes fail before touching storage.
	codes, err := couponLedger.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list coupon codes")
	}
	coupons := coupon.NewFilteredLedger(couponLedger, coupon.NewBloomCodeFilter(codes))

	// Shipping quoter: real carrier when configured, flat fee otherwise.
	var quoter shipping.Quoter
	if cfg.Shipping.BaseURL != "" {
		quoter = shipping.NewClient(cfg.Shipping.BaseURL, cfg.Shipping.Token, cfg.Shipping.ShopID, cfg.Shipping.Timeout, lg.Named("shipping"))
	} else {
		quoter = shipping.FixedQuoter{Fee: cfg.Shipping.FallbackFee}
	}

	// Domain services.
	engine := order.NewEngine(promotionRepo)
	orderService := order.NewService(
		variantRepo, engine, coupons, orderRepo, outboxStore, quoter, shipping.NoopResolver{}, db,
		time.Now, lg.Named("order"),
	)
	returnWorkflow := returns.NewWorkflow(
		orderRepo, variantRepo, returnRepo, db,
		time.Now, lg.Named("returns"),
	)

	// Outbox relay: Kafka when brokers are configured, log otherwise.
	var dispatcher outbox.Dispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaDispatcher := event.NewKafkaDispatcher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaDispatcher.Close() //nolint:errcheck // shutdown path
		dispatcher = kafkaDispatcher
	} else {
		dispatcher = event.NewLogDispatcher(lg.Named("events"))
	}
	relay := outbox.NewRelay(outboxStore, dispatcher, cfg.Outbox.Interval, cfg.Outbox.BatchSize, lg.Named("outbox"))

	// HTTP server.
	api := httpapi.NewServer(orderService, returnWorkflow, orderRepo, lg.Named("api"))
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", api.Router())

	var handler http.Handler = mux
	handler = httpmiddleware.LogRequests(zctx.From(ctx))(handler)
	handler = httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})(handler)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Run(gctx)
	})

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
