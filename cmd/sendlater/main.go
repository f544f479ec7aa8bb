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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"sendlater/internal/api"
	"sendlater/internal/config"
	"sendlater/internal/metrics"
	"sendlater/internal/notify"
	"sendlater/internal/render"
	"sendlater/internal/scheduler"
	"sendlater/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	setupLogging(cfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("sendlater stopped")
	}
	log.Info().Msg("sendlater stopped")
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func run(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	renderer := render.New()
	notifier, err := notify.New(cfg.Notifier, renderer, log.With().Str("component", "notifier").Logger())
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	var (
		sink           metrics.Sink = metrics.NewNoopSink()
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	engine := scheduler.New(scheduler.Config{
		Overdue:  scheduler.OverduePolicy(cfg.OverduePolicy),
		Recovery: scheduler.RecoveryPolicy(cfg.RecoveryPolicy),
	}, st, notifier, sink, log.With().Str("component", "scheduler").Logger())

	// Recovery finishes before the listener accepts new tasks.
	report, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	log.Info().
		Int("loaded", report.Loaded).
		Int("armed", report.Armed).
		Int("overdue", report.Overdue).
		Int("dropped", report.Dropped).
		Int("skipped", report.Skipped).
		Msg("recovered persisted tasks")

	var (
		auditor *scheduler.Auditor
		drift   func() []string
	)
	if cfg.AuditSpec != "" {
		auditor, err = scheduler.NewAuditor(engine, cfg.AuditSpec, log.With().Str("component", "audit").Logger())
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		auditor.Start()
		drift = auditor.LastDrift
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewServer(engine, api.Options{
			Renderer:     renderer,
			Drift:        drift,
			Metrics:      metricsHandler,
			EnableDebug:  cfg.Debug,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Logger:       log.With().Str("component", "http").Logger(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
		if auditor != nil {
			auditor.Stop()
		}
		if err := engine.Close(shutdownCtx); err != nil {
			return fmt.Errorf("close scheduler: %w", err)
		}
		return nil
	})
	return g.Wait()
}
