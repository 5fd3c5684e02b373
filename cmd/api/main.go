package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/safar/go-order-core/internal/config"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/httpx"
	"github.com/safar/go-order-core/internal/inventory"
	"github.com/safar/go-order-core/internal/kafka"
	"github.com/safar/go-order-core/internal/logging"
	"github.com/safar/go-order-core/internal/memstore"
	"github.com/safar/go-order-core/internal/orders"
	"github.com/safar/go-order-core/internal/redisx"
	"github.com/safar/go-order-core/internal/store"
	"github.com/safar/go-order-core/internal/telemetry"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Order core stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("Flush traces", zap.Error(err))
		}
	}()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to database")

	pg := store.New(db)

	ledger, closeLedger, err := buildLedger(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	var events orders.EventPublisher
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(
			kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			cfg.Kafka.BufferSize,
			logger.Named("kafka"),
		)
		producer.Start()
		defer producer.Close()
		events = kafka.NewOrderEvents(producer, cfg.Telemetry.ServiceName)
		logger.Info("Publishing order events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	svc := orders.NewService(orders.Deps{
		Catalog: pg,
		Ledger:  inventory.Traced(ledger),
		Writer:  pg,
		Orders:  pg,
		Carts:   pg,
		Events:  events,
		Logger:  logger.Named("orders"),
	}, orders.Config{
		MaxLineQuantity:     cfg.Orders.MaxLineQuantity,
		PersistTimeout:      cfg.Orders.PersistTimeout,
		CompensationTimeout: cfg.Orders.CompensationTimeout,
	})

	var wg sync.WaitGroup
	if cfg.Orders.PendingTTL > 0 && cfg.Orders.SweepInterval > 0 {
		sweeper := orders.NewSweeper(svc, cfg.Orders.PendingTTL, cfg.Orders.SweepInterval, cfg.Orders.SweepBatchSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}

	router := httpx.NewRouter(httpx.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		UserIDHeader:   cfg.Server.UserIDHeader,
	}, httpx.Deps{
		Products: pg,
		Orders:   svc,
		Carts:    pg,
		Users:    pg,
		Logger:   logger.Named("http"),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", server.Addr), zap.String("ledger", cfg.Orders.Ledger))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn("Shutdown http server", zap.Error(err))
	}
	wg.Wait()
	return nil
}

// buildLedger selects the stock ledger. The Redis and memory ledgers are seeded from the
// products table; the Postgres ledger works on it directly.
func buildLedger(ctx context.Context, cfg *config.Config, db *sql.DB, logger *zap.Logger) (inventory.Ledger, func(), error) {
	noop := func() {}

	switch cfg.Orders.Ledger {
	case config.LedgerRedis:
		rdb, err := redisx.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		ledger := redisx.NewLedger(rdb, cfg.Orders.ReserveMaxRetries)

		products, err := store.AllProducts(ctx, db)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		quantities := make(map[int64]int, len(products))
		for _, p := range products {
			quantities[p.ID] = p.AvailableQuantity
		}
		seeded, err := ledger.SeedMissing(ctx, quantities)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("seed redis ledger: %w", err)
		}
		logger.Info("Redis ledger ready", zap.Int("products", len(products)), zap.Int("seeded", seeded))
		return ledger, func() { _ = rdb.Close() }, nil

	case config.LedgerMemory:
		products, err := store.AllProducts(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		mem := memstore.New()
		for _, p := range products {
			mem.PutProduct(p)
		}
		logger.Warn("In-process ledger: stock is not shared between instances", zap.Int("products", len(products)))
		return mem, noop, nil

	default:
		return store.NewLedger(db, cfg.Orders.ReserveMaxRetries), noop, nil
	}
}
