package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/holds"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	loc, err := time.LoadLocation(config.String("BOOKING_TIMEZONE", "UTC"))
	if err != nil {
		logger.Error("invalid BOOKING_TIMEZONE", "err", err)
		panic(err)
	}

	var (
		store       booking.Store
		putService  func(context.Context, model.Service) error
		readyChecks []runtime.ReadyCheck
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
			MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
		})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		if config.Bool("DB_MIGRATE", true) {
			if err := storage.EnsureSchema(ctx, pool); err != nil {
				logger.Error("schema migration failed", "err", err)
				panic(err)
			}
		}

		outboxRepo := outbox.NewRepository()
		pg := storage.NewPostgresStore(pool, outboxRepo)
		store, putService = pg, pg.UpsertService

		brokers := config.String("KAFKA_BROKERS", "")
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: 2 * time.Second,
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		go publisher.Run(ctx)

		readyChecks = append(readyChecks,
			runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
			runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers), Optional: brokers == ""},
		)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store, data is lost on restart")
		mem := storage.NewMemoryStore(storage.OnEmit(func(evt outbox.Event) {
			logger.Info("booking event", "event_type", evt.EventType, "aggregate_id", evt.AggregateID, "payload", string(evt.Payload))
		}))
		store = mem
		putService = func(_ context.Context, svc model.Service) error {
			mem.PutService(svc)
			return nil
		}
	}

	engine := booking.NewEngine(store, logger, booking.Config{
		SlotStep: config.Minutes("SLOT_STEP_MINUTES", 30*time.Minute),
		Location: loc,
	})

	if path := config.String("CATALOG_FILE", ""); path != "" {
		if err := loadCatalog(ctx, path, engine, putService); err != nil {
			logger.Error("catalog load failed", "err", err, "path", path)
			panic(err)
		}
		logger.Info("catalog loaded", "path", path)
	}

	var gateway payments.Gateway
	if key := config.String("STRIPE_SECRET_KEY", ""); key != "" {
		gateway = payments.NewStripeGateway(key, nil)

		if ttl := config.Minutes("PAYMENT_HOLD_MINUTES", 15*time.Minute); ttl > 0 {
			sweeper, err := holds.New(engine, logger, holds.Config{
				Schedule: config.String("HOLD_SWEEP_SCHEDULE", "@every 1m"),
				TTL:      ttl,
			})
			if err != nil {
				logger.Error("hold sweeper init failed", "err", err)
				panic(err)
			}
			go sweeper.Run(ctx)
		}
	} else {
		logger.Info("STRIPE_SECRET_KEY not set; bookings stay pending until confirmed")
	}
	webhookHandler := handlers.NewStripeWebhookHandler(engine,
		config.String("STRIPE_WEBHOOK_SECRET", ""),
		time.Duration(config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300))*time.Second,
		logger,
	)

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	var limiter httpx.Limiter
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb), Optional: true})
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		limiter = httpx.NewMemoryRateLimiter(limitPerMinute, time.Minute)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.Register(mux,
		handlers.NewBookingHandler(engine, gateway, logger),
		webhookHandler,
		jwtSecret,
		httpx.RateLimit(limiter, "booking", logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)),
	)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10))*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := startGrpcServer(ctx, logger); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
