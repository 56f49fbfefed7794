// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voicegate/internal/capture"
	"voicegate/internal/descriptor"
	"voicegate/internal/enrollment"
	"voicegate/internal/jwttoken"
	"voicegate/internal/ledger"
	"voicegate/internal/lockout"
	"voicegate/internal/platform/config"
	"voicegate/internal/platform/httpserver"
	"voicegate/internal/platform/kafka"
	"voicegate/internal/platform/logger"
	"voicegate/internal/platform/postgres"
	"voicegate/internal/platform/redis"
	"voicegate/internal/stepup"
	"voicegate/internal/subject"
	httptransport "voicegate/internal/transport/http"
	"voicegate/internal/verification"
	vmetrics "voicegate/internal/verification/metrics"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Open(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	cache, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if cache != nil {
		defer cache.Close()
	}

	producer, err := kafka.NewProducer(cfg.Kafka, log.With("component", "kafka"))
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	defer producer.Close()
	if producer != nil {
		topicCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := producer.EnsureTopic(topicCtx, cfg.Kafka.AttemptsTopic, cfg.Kafka.Partitions); err != nil {
			return fmt.Errorf("ensure attempts topic: %w", err)
		}
	}

	attemptStore := ledger.NewPostgres(pool)
	publisher := ledger.NewPublisher(producer, cfg.Kafka.AttemptsTopic)
	recorder := ledger.NewRecorder(attemptStore, publisher, cfg.Verify, log.With("component", "ledger"))

	subjects := subject.NewPostgres(pool)
	lockouts := lockout.New(cache, attemptStore, cfg.Verify, log.With("component", "lockout"))

	captureCfg := capture.Config{
		MinDuration:      cfg.Capture.MinDuration,
		SilenceDuration:  cfg.Capture.SilenceDuration,
		MaxDuration:      cfg.Capture.MaxDuration,
		ConnectTimeout:   cfg.Capture.ConnectTimeout,
		SilenceThreshold: cfg.Capture.SilenceThreshold,
		SampleRate:       cfg.Capture.SampleRate,
	}

	generator := descriptor.Shared(cfg.Model)

	coordinator, err := stepup.New(stepup.NewHTTPProvider(cfg.StepUp), stepup.Config{
		DispatchAttempts: cfg.StepUp.DispatchAttempts,
		DispatchBackoff:  cfg.StepUp.DispatchBackoff,
		PollInterval:     cfg.StepUp.PollInterval,
		PollTimeout:      cfg.StepUp.PollTimeout,
		Deadline:         cfg.StepUp.Deadline,
	}, log.With("component", "stepup"))
	if err != nil {
		return fmt.Errorf("build step-up coordinator: %w", err)
	}

	verifier, err := verification.New(
		verification.StreamDialer{HandshakeTimeout: cfg.Capture.ConnectTimeout},
		generator,
		subjects,
		coordinator,
		recorder,
		verification.Config{
			Capture:        captureCfg,
			Threshold:      cfg.Verify.Threshold,
			ScoringTimeout: cfg.Verify.ScoringTimeout,
		},
		log.With("component", "verification"),
		verification.WithGate(pool),
		verification.WithLockout(lockouts),
		verification.WithMetrics(vmetrics.New()),
	)
	if err != nil {
		return fmt.Errorf("build verification service: %w", err)
	}

	enroller, err := enrollment.New(generator, subjects, captureCfg, log.With("component", "enrollment"))
	if err != nil {
		return fmt.Errorf("build enrollment service: %w", err)
	}

	tokens := jwttoken.New(cfg.Auth)
	handler := httptransport.NewHandler(verifier, enroller, attemptStore, lockouts, log.With("component", "http"))

	checks := map[string]httptransport.HealthChecker{"postgres": pool}
	if cache != nil {
		checks["redis"] = cache
	}
	router := httptransport.NewRouter(handler, tokens, cfg.Auth.APIKeyHash, log.With("component", "http"), checks)

	srv := httpserver.New(cfg.Server.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
