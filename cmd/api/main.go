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

	"github.com/ariefcatur/go-order-payments/internal/auth"
	"github.com/ariefcatur/go-order-payments/internal/config"
	"github.com/ariefcatur/go-order-payments/internal/gateway"
	"github.com/ariefcatur/go-order-payments/internal/httpx"
	"github.com/ariefcatur/go-order-payments/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-payments/internal/kafka"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/memstore"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/payments"
	"github.com/ariefcatur/go-order-payments/internal/postgres"
	"github.com/ariefcatur/go-order-payments/internal/reconciler"
	"github.com/ariefcatur/go-order-payments/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "order-api",
		Usage: "orders, payments and payment notifications over HTTP",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back the schema",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "roll every migration back"},
				},
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.Bool("down") {
		return postgres.MigrateDown(cfg.PostgresDSN)
	}
	return postgres.Migrate(cfg.PostgresDSN)
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on exit")
		store = memstore.New()
	default:
		if cfg.AutoMigrate {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, 20)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		store = &postgres.Store{DB: db}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, satu untuk semua topic
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
	rec := reconciler.New(store, orderSvc, gw, log, m)
	retrier := &reconciler.Retrier{
		Reconciler:  rec,
		Events:      events,
		MaxAttempts: cfg.RetryMaxAttempts,
		Log:         log,
	}
	paySvc := &payments.Service{
		Store:      store,
		Orders:     orderSvc,
		Gateway:    gw,
		Reconciler: rec,
		Log:        log,
	}

	router := httpx.NewRouter(httpx.RouterDeps{
		Log:      log,
		Auth:     auth.Verifier{Secret: []byte(cfg.JWTSecret)},
		Gatherer: reg,
		Orders:   &httpx.OrdersHandler{Orders: orderSvc},
		Payments: &httpx.PaymentsHandler{Payments: paySvc},
		Webhooks: &httpx.WebhookHandler{Reconciler: rec, Retry: retrier},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting_down", zap.String("signal", s.String()))
	case err := <-errCh:
		log.Error("http_listen_failed", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
	return nil
}
