package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-checkout/internal/accounts"
	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/ariefcatur/storefront-checkout/internal/checkout"
	"github.com/ariefcatur/storefront-checkout/internal/config"
	"github.com/ariefcatur/storefront-checkout/internal/httpx"
	kafkax "github.com/ariefcatur/storefront-checkout/internal/kafka"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/ariefcatur/storefront-checkout/internal/notify"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/postgres"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
	"github.com/ariefcatur/storefront-checkout/internal/shipping"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{
		MaxConns:          cfg.PostgresMaxConns,
		MinConns:          cfg.PostgresMinConns,
		MaxConnLifetime:   cfg.PostgresMaxConnLifetime,
		HealthCheckPeriod: cfg.PostgresHealthCheck,
	})
	if err != nil {
		log.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db_migrate_failed", zap.Error(err))
		}
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicNotificationRequested, 1024, log)
	prod.Start()
	notifier := notify.NewPublisher(prod, cfg.ServiceName)

	reg := prometheus.DefaultRegisterer
	orderRepo := &orders.Repo{DB: db}
	accountRepo := &accounts.Repo{DB: db}
	statusCache := &redisx.StatusCache{RDB: rdb}

	svc := checkout.NewService(checkout.Deps{
		Catalog:  catalog.NewResolver(&catalog.Repo{DB: db}),
		Shipping: shipping.NewLookupResolver(cfg.PostalLookupURL, cfg.PostalLookupTimeout, &shipping.RulesRepo{DB: db}),
		Stock:    &orders.Inventory{DB: db},
		Payloads: payment.Builder{
			StatementDescriptor: cfg.GatewayStatementDescriptor,
			ShippingDescription: cfg.ShippingDescription,
		},
		Gateway:        payment.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayTimeout),
		GatewayTimeout: cfg.GatewayTimeout,
		Orders:         orderRepo,
		Profiles:       accountRepo,
		Admins:         accountRepo,
		Notifier:       notifier,
		Metrics:        metrics.NewCheckout(reg),
		Log:            log,
	})

	if cfg.WebhookSecret == "" {
		log.Warn("webhook_signature_disabled", zap.String("hint", "set WEBHOOK_SECRET to require Pagarme-Signature"))
	}

	router := httpx.NewRouter(log, metrics.NewHTTP(reg))
	(&httpx.CheckoutHandler{Service: svc, Idempotency: &redisx.Idempotency{RDB: rdb}}).Register(router)
	(&httpx.OrdersHandler{Orders: orderRepo, Cache: statusCache, Accounts: accountRepo, Notifier: notifier}).Register(router)
	(&httpx.WebhookHandler{
		Secret:   cfg.WebhookSecret,
		Orders:   orderRepo,
		Cache:    statusCache,
		Profiles: accountRepo,
		Notifier: notifier,
	}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http_listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpx.RequestTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown", zap.Error(err))
	}
	prod.Close()
	prod.WaitClosed()
}
