package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gramin-health/sehatsetu/libs/config"
	"github.com/gramin-health/sehatsetu/libs/db"
	"github.com/gramin-health/sehatsetu/libs/httpx"
	"github.com/gramin-health/sehatsetu/libs/kafkax"
	otelx "github.com/gramin-health/sehatsetu/libs/otel"
	"github.com/gramin-health/sehatsetu/libs/runtime"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/allocation"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/consumer"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/handlers"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/inbox"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/jobs"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/observability"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/outbox"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/registry"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/storage"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/triage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	service := config.String("SERVICE_NAME", "allocation-service")
	port, err := config.Port("PORT", "8086")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, int32(config.Int("DB_MAX_CONNS", 10)))
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	metrics := observability.New()

	doctorRepo := registry.NewRepository(pool)
	patientRepo := storage.NewPatientRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo, doctorRepo)

	var triageProvider allocation.TriageProvider
	if url := config.String("SYMPTOM_CHECKER_URL", ""); url != "" {
		triageProvider = triage.NewProvider(url, config.Duration("SYMPTOM_CHECKER_TIMEOUT", 3*time.Second), logger)
	} else {
		triageProvider = triage.Static{}
	}

	allocCfg := allocation.ConfigFromEnv()
	allocator := allocation.NewService(
		doctorRepo, patientRepo, apptRepo, triageProvider,
		allocation.DefaultDistricts(), allocCfg, logger, metrics,
	)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, metrics, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	feedback := consumer.NewFeedbackConsumer(
		logger, inboxRepo, doctorRepo, metrics,
		brokers, config.String("KAFKA_GROUP_ID", service),
	)
	go feedback.Run(ctx)

	jobCfg := jobs.DefaultConfig()
	jobCfg.ResetSpec = config.String("WORKLOAD_RESET_SPEC", jobCfg.ResetSpec)
	jobCfg.SweepSpec = config.String("NOSHOW_SWEEP_SPEC", jobCfg.SweepSpec)
	jobCfg.NoShowGrace = config.Duration("NOSHOW_GRACE", jobCfg.NoShowGrace)
	jobRunner, err := jobs.New(jobCfg, doctorRepo, apptRepo, logger)
	if err != nil {
		logger.Error("job setup failed", "err", err)
		panic(err)
	}
	jobRunner.Start()
	defer func() { <-jobRunner.Stop().Done() }()

	allocHandler := handlers.NewAllocationHandler(allocator, logger)
	apptHandler := handlers.NewAppointmentHandler(apptRepo, logger)
	doctorHandler := handlers.NewDoctorHandler(doctorRepo, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(doctorRepo, patientRepo, logger)

	// Doctor presence and admin analytics are internal surfaces; they stay
	// behind bearer auth when a secret is configured.
	protect := func(h http.HandlerFunc) http.Handler { return h }
	if secret := config.String("JWT_SECRET", ""); secret != "" {
		authMW := httpx.WithBearerAuth(secret, "doctor", "admin")
		protect = func(h http.HandlerFunc) http.Handler { return authMW(h) }
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/api/v1/allocate", allocHandler.Allocate)
	mux.HandleFunc("/api/v1/appointments", apptHandler.List)
	mux.HandleFunc("/api/v1/appointments/get", apptHandler.Get)
	mux.HandleFunc("/api/v1/appointments/confirm", apptHandler.Confirm)
	mux.HandleFunc("/api/v1/appointments/start", apptHandler.Start)
	mux.HandleFunc("/api/v1/appointments/complete", apptHandler.Complete)
	mux.HandleFunc("/api/v1/appointments/cancel", apptHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/no-show", apptHandler.MarkNoShow)
	mux.HandleFunc("/api/v1/appointments/reschedule", apptHandler.Reschedule)
	mux.HandleFunc("/api/v1/doctors/get", doctorHandler.Get)
	mux.Handle("/api/v1/doctors/status", protect(doctorHandler.SetStatus))
	mux.Handle("/api/v1/analytics/workload", protect(analyticsHandler.Workload))
	mux.Handle("/api/v1/analytics/no-show-risk", protect(analyticsHandler.NoShowRisk))

	middleware := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         10 * time.Minute,
		}),
	}
	rateLimit := config.Int("RATE_LIMIT", 60)
	rateWindow := config.Duration("RATE_LIMIT_WINDOW", time.Minute)
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, rateWindow, service)
		middleware = append(middleware, limiter.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)))
	} else {
		// Single-instance fallback keeps abusive clients off the allocator
		// even without redis.
		middleware = append(middleware, httpx.NewRateLimiter(rateLimit, rateWindow).Middleware())
	}

	httpHandler := httpx.Chain(mux, middleware...)
	httpHandler = otelhttp.NewHandler(httpHandler, "allocation")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
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
