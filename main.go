package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	appaccount "github.com/Zhima-Mochi/storefront/internal/application/account"
	appgiftcard "github.com/Zhima-Mochi/storefront/internal/application/giftcard"
	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	apporder "github.com/Zhima-Mochi/storefront/internal/application/order"
	apppayment "github.com/Zhima-Mochi/storefront/internal/application/payment"
	"github.com/Zhima-Mochi/storefront/internal/application/plugin"
	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
	"github.com/Zhima-Mochi/storefront/internal/config"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/cache"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/email"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/id"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/observability/telemetry"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/persistence"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/token"
	webhooktransport "github.com/Zhima-Mochi/storefront/internal/infrastructure/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	httppresentation "github.com/Zhima-Mochi/storefront/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/storefront/internal/presentation/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := zaplogger.New(cfg.Log.Level,
		observability.F("service", cfg.App.Name),
		observability.F("env", cfg.App.Env),
	)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	counters, histograms := prometrics.Standard(prometrics.New("", "", registry))
	tel := telemetry.New(oteltrace.New(cfg.App.Name), logger, counters, histograms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.close()

	var locker dompay.Locker = memory.NewLocker()
	var orderLocker apporder.Locker = memory.NewLocker()
	if cfg.Redis.Enabled() {
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		locker = cache.NewRedisLocker(client)
		orderLocker = cache.NewRedisLocker(client, cache.WithKeyPrefix("order:lock:"))
	}

	bus := outbox.NewBus(tel,
		outbox.WithConcurrency(cfg.Events.Workers),
		outbox.WithQueueSize(cfg.Events.QueueSize),
		outbox.WithHandlerTimeout(cfg.Events.HandlerTimeout),
		outbox.WithEventScope(workerpresentation.EventContext(tel)),
	)

	ids := id.NewUUIDGenerator()
	site := notification.Site{Name: cfg.Site.Name, Domain: cfg.Site.Domain}
	tokens, err := token.NewGenerator(tokenSecret(cfg), token.WithTTL(cfg.Token.TTL), token.WithIssuer(cfg.App.Name))
	if err != nil {
		return err
	}

	manager := plugin.NewManager(tel)
	webhooks := appwebhook.NewService(store.webhooks, store.deliveries, ids, bus, tel)
	if err := registerPlugins(manager, cfg, bus, webhooks, tel); err != nil {
		return err
	}

	payments := apppayment.NewService(store.payments, locker, manager, ids, bus, tel, apppayment.WithLockTTL(cfg.Redis.LockTTL))
	accounts := appaccount.NewService(store.accounts, ids, tokens, manager, tel,
		appaccount.WithSite(site),
		appaccount.WithWebhooks(manager),
	)
	orders := apporder.NewService(store.orders, orderLocker, payments, manager, manager, bus, tel,
		apporder.WithSite(site),
		apporder.WithStaffEmails(cfg.Email.StaffEmails...),
		apporder.WithStaffDirectory(store.accounts),
	)
	giftCards := appgiftcard.NewService(store.giftCards, ids, manager, site, tel)

	kafkaTransport := webhooktransport.NewKafkaTransport()
	defer func() { _ = kafkaTransport.Close() }()
	transport := webhooktransport.NewRouter(webhooktransport.NewHTTPTransport(cfg.Webhook.Timeout), kafkaTransport)

	apporder.NewWorker(orders, bus, tel).Start()
	apppayment.NewWorker(bus, manager, tel).Start()
	notification.NewEmailWorker(bus, email.NewSender(), tel).Start()
	appwebhook.NewWorker(store.webhooks, store.deliveries, transport, ids, bus, bus, tel,
		appwebhook.WithDomain(cfg.Site.Domain),
		appwebhook.WithRetryPolicy(cfg.Webhook.MaxRetries, cfg.Webhook.BackoffBase, cfg.Webhook.MaxBackoff),
	).Start()

	bus.Start(ctx)

	handler := httppresentation.NewHandler(httppresentation.Services{
		CreateOrder: apporder.NewCreateOrderUseCase(store.orders, ids, bus, tel),
		Orders:      orders,
		Payments:    payments,
		Plugins:     manager,
		Accounts:    accounts,
		GiftCards:   giftCards,
		Webhooks:    webhooks,
	}, tel, httppresentation.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			logger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
		} else {
			logger.Info("http_server_stopped")
		}
		bus.Stop(shutdownCtx)
		_ = tp.Shutdown(shutdownCtx)
		return err
	})
	return g.Wait()
}

// tokenSecret falls back to a fixed development secret; config validation
// rejects an empty secret outside dev.
func tokenSecret(cfg *config.Config) string {
	if cfg.Token.Secret != "" {
		return cfg.Token.Secret
	}
	return "storefront-dev-secret"
}

type storage struct {
	orders     *memory.OrderRepository
	accounts   *memory.AccountRepository
	giftCards  *memory.GiftCardRepository
	payments   dompay.Repository
	webhooks   domwebhook.Repository
	deliveries domwebhook.DeliveryRepository
	db         *gorm.DB
}

// openStorage keeps payments and webhook deliveries in the configured
// database. Orders, accounts and gift cards always live in memory.
func openStorage(cfg config.StorageConfig) (*storage, error) {
	s := &storage{
		orders:    memory.NewOrderRepository(),
		accounts:  memory.NewAccountRepository(),
		giftCards: memory.NewGiftCardRepository(),
	}
	if cfg.Driver == "memory" {
		hooks := memory.NewWebhookRepository()
		s.payments, s.webhooks, s.deliveries = memory.NewPaymentRepository(), hooks, hooks
		return s, nil
	}
	db, err := persistence.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	hooks := persistence.NewGormWebhookRepository(db)
	s.db = db
	s.payments, s.webhooks, s.deliveries = persistence.NewGormPaymentRepository(db), hooks, hooks
	return s, nil
}

func (s *storage) close() {
	if s.db != nil {
		_ = persistence.Close(s.db)
	}
}
