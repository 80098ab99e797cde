package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"refaccess/internal/access/adapters"
	accesshandler "refaccess/internal/access/handler"
	accessmetrics "refaccess/internal/access/metrics"
	accessservice "refaccess/internal/access/service"
	"refaccess/internal/access/workers/expiry"
	"refaccess/internal/audit"
	audithandler "refaccess/internal/audit/handler"
	"refaccess/internal/identity"
	"refaccess/internal/platform/config"
	"refaccess/internal/platform/database"
	"refaccess/internal/platform/health"
	"refaccess/internal/platform/kafka/producer"
	"refaccess/internal/platform/logger"
	platformredis "refaccess/internal/platform/redis"
	"refaccess/internal/pricing/calculator"
	pricinghandler "refaccess/internal/pricing/handler"
	pricingmetrics "refaccess/internal/pricing/metrics"
	"refaccess/internal/pricing/profile"
	pricingservice "refaccess/internal/pricing/service"
	"refaccess/internal/pricing/tracer"
	"refaccess/internal/ratelimit"
	httptransport "refaccess/internal/transport/http"
	"refaccess/pkg/platform/circuit"
	"refaccess/pkg/platform/middleware/request"
	"refaccess/pkg/platform/outbox"
	"refaccess/pkg/platform/outbox/worker"
)

const (
	redisStatsInterval  = 15 * time.Second
	outboxDepthInterval = 15 * time.Second
)

// relayProducer is what the outbox relay and the readiness probe need from
// the Kafka producer or its no-op stand-in.
type relayProducer interface {
	worker.Producer
	Check(ctx context.Context) error
	Close() error
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	log.Info("initializing refaccess",
		"addr", cfg.Addr,
		"env", cfg.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	prod, err := buildProducer(cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer func() { _ = prod.Close() }()

	st := buildStores(pool, redisClient, log)

	// Pricing
	pricingMetrics := pricingmetrics.New()
	otelTracer := tracer.NewOTel()
	profiles := profile.NewClient(st.profiles,
		profile.WithBreaker(circuit.New("profile-store")),
		profile.WithTracer(otelTracer),
		profile.WithMetrics(pricingMetrics),
		profile.WithLogger(log),
	)
	prices := pricingservice.New(
		calculator.New(calculator.Policy{
			Base:     cfg.Pricing.Base,
			Min:      cfg.Pricing.Min,
			Max:      cfg.Pricing.Max,
			Currency: cfg.Pricing.Currency,
			ValidFor: cfg.Pricing.QuoteTTL,
		}),
		st.quotes,
		profiles,
		pricingservice.WithLockTTL(cfg.Pricing.LockTTL),
		pricingservice.WithLockWait(cfg.Pricing.LockWait),
		pricingservice.WithMetrics(pricingMetrics),
		pricingservice.WithTracer(otelTracer),
		pricingservice.WithLogger(log),
	)

	// Audit + notifications
	auditPublisher := audit.NewPublisher(st.audit,
		audit.WithAsyncBuffer(cfg.Audit.AsyncBuffer),
		audit.WithPublisherLogger(log),
		audit.WithPublisherMetrics(audit.NewMetrics()),
	)
	outboxMetrics := outbox.NewMetrics()
	relay := worker.New(st.outbox, prod,
		worker.Config{
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Outbox.BatchSize,
			PollInterval: cfg.Outbox.PollInterval,
		},
		worker.WithMetrics(outboxMetrics),
		worker.WithLogger(log),
	)

	// Access requests
	accessMetrics := accessmetrics.New()
	manager := accessservice.New(st.access, prices, profiles,
		adapters.NewOutboxNotifier(st.outbox, nil),
		auditPublisher,
		accessservice.WithMetrics(accessMetrics),
		accessservice.WithLogger(log),
		accessservice.WithRequestWindow(cfg.Access.RequestWindow),
		accessservice.WithSweepBatch(cfg.Access.SweepBatchSize),
	)
	sweeper, err := expiry.New(manager,
		expiry.WithInterval(cfg.Access.SweepInterval),
		expiry.WithLogger(log),
		expiry.WithMetrics(accessMetrics),
	)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(st.limits, log, ratelimit.NewMetrics())
	createLimit := limiter.PerActor("access_create", ratelimit.Policy{
		Limit:  cfg.Limits.CreateLimit,
		Window: cfg.Limits.CreateWindow,
	})

	healthHandler := health.New(cfg.Env)
	if pool != nil {
		healthHandler.RegisterCheck("database", pool.Health)
	}
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", redisClient.Health)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		healthHandler.RegisterCheck("kafka", prod.Check)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Logger:         log,
		Validator:      identity.NewTokenService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience),
		Health:         healthHandler,
		Metrics:        promhttp.Handler(),
		Latency:        request.NewMetrics(),
		RequestTimeout: cfg.RequestTimeout,
		API: []httptransport.Registrar{
			accesshandler.New(manager, log, accesshandler.WithCreateLimit(createLimit)),
		},
		Admin: []httptransport.Registrar{
			pricinghandler.New(prices, log),
			audithandler.New(audit.NewReporter(st.audit), log),
		},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Start(workersCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(workersCtx)
	})
	if redisClient != nil {
		go redisClient.ReportPoolStats(workersCtx, redisStatsInterval)
	}
	go reportOutboxDepth(workersCtx, relay, log)

	<-gctx.Done()
	log.Info("shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then the workers that act on stored state, then the
	// sinks they write to. The relay drains on its own deadline.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	stopWorkers()
	err = g.Wait()
	auditPublisher.Close()
	return err
}

func buildProducer(cfg config.KafkaConfig, log *slog.Logger) (relayProducer, error) {
	if len(cfg.Brokers) == 0 {
		log.Warn("KAFKA_BROKERS not set, outbox events are discarded after relay")
		return producer.NewNoopProducer(log), nil
	}
	prod, err := producer.New(producer.Config{
		Brokers:         cfg.Brokers,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, log)
	if err != nil {
		return nil, err
	}
	log.Info("kafka producer configured", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return prod, nil
}

func reportOutboxDepth(ctx context.Context, relay *worker.Relay, log *slog.Logger) {
	ticker := time.NewTicker(outboxDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := relay.ReportDepth(ctx); err != nil {
				log.WarnContext(ctx, "failed to update outbox depth", "error", err)
			}
		}
	}
}
