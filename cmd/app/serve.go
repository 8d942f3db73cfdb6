package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"adslot/internal/analytics"
	"adslot/internal/availability"
	"adslot/internal/booking"
	"adslot/internal/config"
	"adslot/internal/db"
	"adslot/internal/ledger"
	"adslot/internal/logger"
	"adslot/internal/payment"
	"adslot/internal/queue"
	"adslot/internal/server"
	"adslot/internal/slot"
	"adslot/internal/sweeper"
	"adslot/internal/tracing"
	"adslot/internal/valuation"
	"adslot/internal/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	version           = "0.1.0"
	depthReportPeriod = 15 * time.Second
)

func newServeCommand() *cobra.Command {
	var migrationsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the analytics batcher and expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg, migrationsPath)
		},
	}
	cmd.Flags().StringVar(&migrationsPath, "migrations", "migrations", "directory holding migration files, empty to skip")
	return cmd
}

func serve(cfg *config.Config, migrationsPath string) error {
	logger.Info("starting adslot", "version", version, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName:    "adslot",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
		SamplingRatio:  cfg.TraceSamplingRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	pricing, err := cfg.Pricing()
	if err != nil {
		return err
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Info("database connected")

	if migrationsPath != "" {
		if err := db.RunMigrations(database, migrationsPath); err != nil {
			return err
		}
		logger.Info("migrations completed")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	events, err := newQueue(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer events.Close()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}

	payments, err := newPayments(cfg)
	if err != nil {
		return err
	}

	tx := db.NewTransactor(database)
	slots := slot.NewRepository()
	wallets := wallet.NewRepository()

	cache, err := newAvailability(cfg, rdb, slots, database)
	if err != nil {
		return err
	}

	bookings := booking.NewService(
		tx,
		database,
		slots,
		wallets,
		booking.NewRateTable(pricing.DailyRates, pricing.DefaultDailyRate),
		valuation.NewStaticGateway(pricing.RoleRates, pricing.DefaultRoleRate, cfg.CoinsPerGoodRating),
		payments,
		cache,
		booking.Options{ActivateOnSettlement: cfg.ActivateOnSettlement},
	)
	stats := ledger.NewService(ledger.NewRepository(node), database, tx)

	srv := server.New(ctx, cfg, server.Handlers{
		Booking:   booking.NewHandler(bookings, cache),
		Analytics: analytics.NewHandler(analytics.NewTracker(events), stats, bookings),
		Wallet:    wallet.NewHandler(wallets, database, tx),
	},
		server.HealthCheck{Name: "database", Check: database.PingContext},
		server.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		return analytics.NewBatcher(events, stats, cfg.BatchSize, cfg.BatchWindow).Run(gctx)
	})
	g.Go(func() error {
		return sweeper.New(slots, database, cache, cfg.SweepInterval).Run(gctx)
	})
	g.Go(func() error {
		analytics.ReportDepth(gctx, events, cfg.QueueName, depthReportPeriod)
		return nil
	})

	err = g.Wait()
	logger.Info("adslot stopped")
	return err
}

func newQueue(ctx context.Context, cfg *config.Config, rdb *redis.Client) (queue.Queue, error) {
	switch cfg.QueueDriver {
	case "redis":
		q := queue.NewRedisQueue(rdb, cfg.QueueName, cfg.QueueMaxTries)
		n, err := q.Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("recover in-flight events: %w", err)
		}
		if n > 0 {
			logger.Info("requeued in-flight tracking events", "count", n)
		}
		return q, nil
	case "rabbitmq":
		return queue.NewRabbitQueue(cfg.RabbitURL, "adslot.tracking", cfg.QueueName, cfg.BatchSize)
	case "memory":
		logger.Warn("using in-process tracking queue, events are lost on restart")
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_DRIVER %q", cfg.QueueDriver)
	}
}

func newAvailability(cfg *config.Config, rdb *redis.Client, slots slot.Repository, database *sqlx.DB) (*availability.Cache, error) {
	var backend availability.Backend
	switch cfg.CacheDriver {
	case "redis":
		backend = availability.NewRedisBackend(rdb)
	case "memory":
		backend = availability.NewMemoryBackend(cfg.CacheSize, cfg.CacheTTL)
	default:
		return nil, fmt.Errorf("unknown CACHE_DRIVER %q", cfg.CacheDriver)
	}

	load := func(ctx context.Context, slotType string, slotKey *string) ([]slot.Booking, error) {
		return slots.ListActive(ctx, database, slotType, slotKey, time.Now())
	}
	return availability.New(backend, load, cfg.CacheTTL), nil
}

func newPayments(cfg *config.Config) (payment.Gateway, error) {
	if cfg.OmisePublicKey == "" || cfg.OmiseSecretKey == "" {
		logger.Warn("payment provider not configured, external bookings will fail")
		return payment.Disabled{}, nil
	}
	return payment.NewOmiseGateway(payment.OmiseConfig{
		PublicKey:  cfg.OmisePublicKey,
		SecretKey:  cfg.OmiseSecretKey,
		Currency:   cfg.PaymentCurrency,
		SourceType: cfg.PaymentSource,
		ReturnURI:  cfg.PaymentReturnURI,
	})
}
