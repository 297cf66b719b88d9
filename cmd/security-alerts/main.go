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

	"github.com/afikmenashe/security-alerting/internal/communication"
	"github.com/afikmenashe/security-alerting/internal/config"
	"github.com/afikmenashe/security-alerting/internal/dispatcher"
	"github.com/afikmenashe/security-alerting/internal/ingest"
	internalmetrics "github.com/afikmenashe/security-alerting/internal/metrics"
	"github.com/afikmenashe/security-alerting/internal/webhook"
	"github.com/afikmenashe/security-alerting/pkg/metrics"
	"github.com/afikmenashe/security-alerting/pkg/shared"
)

const (
	serviceName     = "security-alerts"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	slog.Info("Starting security alerts service",
		"http_addr", cfg.HTTPAddr,
		"alarm_cooldown", cfg.Alerts.AlarmCooldown,
		"retry_max", cfg.Alerts.RetryMax,
		"concurrency_limit", cfg.Alerts.ConcurrencyLimit,
		"pending_store", cfg.Pending.Store,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Security alerts service failed", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("Security alerts service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	collector, closeMetrics, err := newCollector(ctx, cfg.MetricsRedisAddr)
	if err != nil {
		return err
	}
	defer closeMetrics()
	collector.Start(ctx)
	defer collector.Stop()
	recorder := internalmetrics.NewCollectorAdapter(collector)

	store, closeStore, err := openStore(ctx, cfg.Pending, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open pending store: %w", err)
	}
	defer closeStore()

	registry, err := communication.NewRegistry(
		providerBuilders(ctx, cfg, slog.Default()),
		communication.Options{
			RetryMax: cfg.Alerts.RetryMax,
			Backoff: communication.Backoff{
				Base: cfg.Alerts.RetryBaseDelay,
				Max:  cfg.Alerts.RetryMaxDelay,
			},
			Logger: slog.Default().With("component", "communication_registry"),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to build communication registry: %w", err)
	}
	slog.Info("Communication providers ready", "providers", registry.Names())

	d, err := dispatcher.New(registry, dispatcher.Options{
		Cooldown:         cfg.Alerts.AlarmCooldown,
		ConcurrencyLimit: cfg.Alerts.ConcurrencyLimit,
		QueueSize:        cfg.Alerts.QueueSize,
		Store:            store,
		Metrics:          recorder,
		Logger:           slog.Default().With("component", "dispatcher"),
	})
	if err != nil {
		return err
	}
	defer d.Close()
	sender := d.Sender()

	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher must never stop while the process keeps running.
	g.Go(func() error {
		err := d.Run(gctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("alert dispatcher exited: %w", err)
	})

	if cfg.Kafka.Brokers != "" {
		src, err := ingest.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, sender,
			slog.Default().With("component", "kafka-ingest"))
		if err != nil {
			return fmt.Errorf("failed to create Kafka source: %w", err)
		}
		defer src.Close()
		g.Go(func() error { return src.Run(gctx) })
	}

	if cfg.NATS.URL != "" {
		src, err := ingest.NewNATSSource(cfg.NATS.URL, cfg.NATS.Subject, sender,
			slog.Default().With("component", "nats-ingest"))
		if err != nil {
			return fmt.Errorf("failed to create NATS source: %w", err)
		}
		defer src.Close()
		g.Go(func() error { return src.Run(gctx) })
	}

	if cfg.WebhookToken == "" {
		slog.Info("CCTV webhook disabled, no token configured")
	}
	srv := webhook.NewServer(cfg.HTTPAddr, webhook.NewHandler(webhook.Options{
		Sender:    sender,
		Token:     cfg.WebhookToken,
		Collector: collector,
		Logger:    slog.Default().With("component", "webhook"),
	}))
	g.Go(func() error {
		slog.Info("HTTP listener started", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newCollector creates the metrics collector. Without a Redis address the
// counters stay in memory and are only served on /metrics.
func newCollector(ctx context.Context, redisAddr string) (*metrics.Collector, func(), error) {
	if redisAddr == "" {
		return metrics.NewCollector(serviceName, nil), func() {}, nil
	}

	client, err := shared.ConnectRedis(ctx, redisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect metrics Redis: %w", err)
	}
	slog.Info("Reporting metrics to Redis", "addr", redisAddr)
	return metrics.NewCollector(serviceName, client), func() { client.Close() }, nil
}
