package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/config"
	"github.com/ariefcatur/go-order-payments/internal/gateway"
	"github.com/ariefcatur/go-order-payments/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-payments/internal/kafka"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/postgres"
	"github.com/ariefcatur/go-order-payments/internal/reconciler"
	"github.com/ariefcatur/go-order-payments/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "payment-reconciler",
		Usage: "retry payment notifications that could not be reconciled inline",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Usage: "override RECONCILER_WORKERS"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if w := c.Int("workers"); w > 0 {
		cfg.ReconcilerWorkers = w
	}
	log, err := logging.New(cfg.ServiceName+"-reconciler", cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 10)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	store := &postgres.Store{DB: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer: events + requeue ke retry topic
	prod := kafkax.NewProducer(cfg.Brokers(), 1024, log)
	prod.Start(ctx)
	events := kafkax.NewEventPublisher(prod)

	gw := gateway.New(gateway.Config{
		ServerKey:   cfg.GatewayServerKey,
		APIURL:      cfg.GatewayAPIURL,
		SnapURL:     cfg.GatewaySnapURL,
		FrontendURL: cfg.FrontendURL,
		Timeout:     cfg.GatewayTimeout,
	}, log, m)
	orderSvc := &orders.Service{
		Store:   store,
		Ledger:  inventory.NewLedger(log, m),
		Events:  events,
		Cache:   &redisx.StatusCache{RDB: rdb},
		Log:     log,
		Metrics: m,
	}
	retrier := &reconciler.Retrier{
		Reconciler:  reconciler.New(store, orderSvc, gw, log, m),
		Events:      events,
		Dedup:       &redisx.Dedup{RDB: rdb, Service: "reconciler"},
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff:     reconciler.ExpBackoff,
		Log:         log,
	}

	handle := func(ctx context.Context, msg kafka.Message) error {
		env, err := kafkax.DecodeEnvelope(msg)
		if err != nil {
			// poison message, commit and move on
			log.Error("retry_envelope_invalid", zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		return retrier.Handle(ctx, env)
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics_listen_failed", zap.Error(err))
		}
	}()

	cons := kafkax.NewConsumer(cfg.Brokers(), cfg.ReconcilerGroup, orders.TopicNotificationRetry, cfg.ReconcilerWorkers, log)
	go func() {
		log.Info("reconciler_consumer_started",
			zap.String("group", cfg.ReconcilerGroup),
			zap.String("topic", orders.TopicNotificationRetry),
			zap.Int("workers", cfg.ReconcilerWorkers),
		)
		if err := cons.Start(ctx, handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer_exit", zap.Error(err))
		}
		cancel()
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting_down", zap.String("signal", s.String()))
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)
	prod.Close()
	prod.WaitClosed()
	return nil
}
