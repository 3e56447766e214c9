// Openship routing core. Serves the order routing API, platform webhooks,
// OAuth installs and the MCP endpoint.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/cart"
	"github.com/openshiporg/openship-sub005/internal/config"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/filter"
	"github.com/openshiporg/openship-sub005/internal/handler"
	"github.com/openshiporg/openship-sub005/internal/lifecycle"
	"github.com/openshiporg/openship-sub005/internal/linking"
	"github.com/openshiporg/openship-sub005/internal/lock"
	"github.com/openshiporg/openship-sub005/internal/matching"
	"github.com/openshiporg/openship-sub005/internal/middleware"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/orders"
	"github.com/openshiporg/openship-sub005/internal/placement"
	"github.com/openshiporg/openship-sub005/internal/shopify"
	"github.com/openshiporg/openship-sub005/internal/store"
	"github.com/openshiporg/openship-sub005/internal/transport"
	"github.com/openshiporg/openship-sub005/internal/woocommerce"
)

// lockTTL bounds how long a crashed placement can hold an order.
const lockTTL = 2 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("database", cfg.Database.Driver),
		zap.Bool("redis_lock", cfg.RedisURL != ""),
		zap.Int("placement_concurrency", cfg.PlacementConcurrency),
	)

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLock, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLock()

	registry := adapter.NewRegistry()
	registry.Register("shopify", shopify.New(shopify.Config{
		Fingerprint: cfg.ChromeTLS,
		Timeout:     cfg.AdapterTimeout,
		Logger:      logger.Named("shopify"),
	}))
	registry.Register("woocommerce", woocommerce.New(woocommerce.Config{
		Fingerprint: cfg.ChromeTLS,
		Timeout:     cfg.AdapterTimeout,
		AppName:     "Openship",
		Logger:      logger.Named("woocommerce"),
	}))

	exec := executor.New(executor.Options{
		Registry: registry,
		HTTPClient: transport.NewClient(transport.Options{
			Timeout:     cfg.AdapterTimeout,
			Fingerprint: cfg.ChromeTLS,
			UserAgent:   "Openship/1.0",
		}),
		Timeout:         cfg.AdapterTimeout,
		RemoteRateLimit: cfg.AdapterRateLimit,
		RemoteRateBurst: int(cfg.AdapterRateLimit) + 1,
		Tokens:          st,
		Logger:          logger.Named("executor"),
	})

	eval, err := filter.NewEvaluator()
	if err != nil {
		return fmt.Errorf("creating filter evaluator: %w", err)
	}
	matcher := matching.New(st, logger.Named("matching"))
	carts := cart.New(st, exec, logger.Named("cart"))
	placer := placement.New(st, exec, placement.Options{
		Concurrency: cfg.PlacementConcurrency,
		Locker:      locker,
		Logger:      logger.Named("placement"),
	})
	hook := lifecycle.New(st, linking.New(st, eval, logger.Named("linking")), matcher, carts, placer, logger.Named("lifecycle"))

	stateSecret := []byte(cfg.StateSecret)
	if len(stateSecret) == 0 {
		stateSecret = randomBytes(32)
		logger.Warn("STATE_SECRET not set; OAuth installs will not survive a restart")
	}

	h := handler.New(handler.Services{
		Store:     st,
		Orders:    orders.New(st, hook, exec, logger.Named("orders")),
		Routing:   hook,
		Placement: placer,
		Matcher:   matcher,
		Carts:     carts,
		Adapters:  exec,
	}, handler.Options{
		BaseURL:     cfg.BaseURL(),
		StateSecret: stateSecret,
		RateLimit:   cfg.RateLimit.RPS,
		RateBurst:   cfg.RateLimit.Burst,
		Logger:      logger.Named("api"),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("public_url", cfg.BaseURL()))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give in-flight placements time to record their outcome
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// openStore opens the configured store. The memory store gets a development
// user whose API key is logged.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres, config.DriverSQLite:
		dialect := store.Postgres
		if cfg.Database.Driver == config.DriverSQLite {
			dialect = store.SQLite
		}
		db, err := store.Open(ctx, dialect, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
		}
		return db, func() { db.Close() }, nil
	default:
		mem := store.NewMemory()
		dev := &model.User{Name: "developer", Email: "dev@localhost", APIKey: hex.EncodeToString(randomBytes(16))}
		if err := mem.CreateUser(ctx, dev); err != nil {
			return nil, nil, fmt.Errorf("creating development user: %w", err)
		}
		logger.Warn("using in-memory store; data is lost on restart",
			zap.String("user_id", dev.ID),
			zap.String("api_key", dev.APIKey),
		)
		return mem, func() {}, nil
	}
}

func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewMemory(), func() {}, nil
	}
	r, err := lock.NewRedis(cfg.RedisURL, lockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("creating redis lock: %w", err)
	}
	if err := r.Ping(ctx); err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return r, func() { r.Close() }, nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
