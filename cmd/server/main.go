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
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/roadlabs/roadpay/internal"
	"github.com/roadlabs/roadpay/internal/billing"
	"github.com/roadlabs/roadpay/internal/dispatch"
	"github.com/roadlabs/roadpay/internal/domain"
	"github.com/roadlabs/roadpay/internal/handler/admin"
	"github.com/roadlabs/roadpay/internal/handler/webhook"
	"github.com/roadlabs/roadpay/internal/memory"
	"github.com/roadlabs/roadpay/internal/middleware"
	"github.com/roadlabs/roadpay/internal/notify"
	"github.com/roadlabs/roadpay/internal/postgres"
	"github.com/roadlabs/roadpay/internal/router"
	"github.com/roadlabs/roadpay/internal/telemetry"
	"github.com/roadlabs/roadpay/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Stores: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		events        domain.EventStore
		payments      domain.PaymentStore
		subscriptions domain.SubscriptionStore
		invoices      domain.InvoiceStore
	)
	if cfg.DatabaseURL != "" {
		logger.Info("Connecting to database...")
		sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer sqlDB.Close()

		if err := sqlDB.Ping(); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		logger.Info("Running database migrations...")
		if err := internal.RunMigrations(sqlDB); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database migrations completed successfully")

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		events = postgres.NewEventStore(pool)
		payments = postgres.NewPaymentStore(pool)
		subscriptions = postgres.NewSubscriptionStore(pool)
		invoices = postgres.NewInvoiceStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores; state is lost on restart")
		events = memory.NewEventStore()
		payments = memory.NewPaymentStore()
		subscriptions = memory.NewSubscriptionStore()
		invoices = memory.NewInvoiceStore()
	}

	logger.Info("Initializing Stripe billing provider...")
	provider := billing.NewStripeProvider(billing.StripeConfig{
		APIKey:             cfg.Stripe.SecretKey,
		WebhookSecret:      cfg.Stripe.WebhookSecret,
		SignatureTolerance: cfg.Stripe.SignatureTolerance,
	})

	// Notifications: NATS when configured, log-only otherwise.
	var notifier notify.Notifier
	if cfg.NATSURL != "" {
		n, err := notify.NewNATSNotifier(cfg.NATSURL, "roadpay-server")
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		notifier = n
		logger.Info("NATS notifier connected", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, notifications are log-only")
		notifier = notify.NewLogNotifier(logger)
	}
	defer notifier.Close()

	telemetry.InitBusinessMetrics("roadpay")

	dispatcher := dispatch.New(events, payments, subscriptions, invoices, notifier, logger)

	reconciler := worker.NewReconciler(
		events, payments, subscriptions, invoices,
		provider, dispatcher,
		worker.Config{
			Interval:          cfg.Reconcile.Interval,
			Staleness:         cfg.Reconcile.Staleness,
			GatewayTimeout:    cfg.Reconcile.GatewayTimeout,
			MaxGatewayRetries: uint64(cfg.Reconcile.MaxGatewayRetries),
			BatchSize:         cfg.Reconcile.BatchSize,
		},
		logger,
	)
	go func() {
		if err := reconciler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler stopped", "error", err)
		}
	}()

	stripeWebhook := webhook.NewStripeHandler(provider, dispatcher, logger)
	adminEvents := admin.NewEventsHandler(events, dispatcher, logger)

	metrics := middleware.NewMetrics("roadpay")

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
		middleware.MaxBodySize(middleware.WebhookMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
		router.Logger(logger),
	)

	r.Post("/webhooks/stripe", stripeWebhook.HandleWebhook)

	r.Get("/admin/events/stats", adminEvents.Stats)
	r.Get("/admin/events/unprocessed", adminEvents.ListUnprocessed)
	r.Get("/admin/events/{id}", adminEvents.GetEvent)
	r.Post("/admin/events/{id}/redispatch", adminEvents.Redispatch)

	// Should be protected in production via firewall
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		metrics.Handler().ServeHTTP(w, req)
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete")

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
