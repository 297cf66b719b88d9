// Package main provides a CLI that publishes alert envelopes to the bus the
// security alerts service consumes. It stands in for a monitor when testing
// a deployment end to end.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/internal/ingest"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	var (
		kafkaBrokers = flag.String("kafka-brokers", os.Getenv("SECURITY_KAFKA_BROKERS"), "Kafka broker addresses (comma-separated)")
		topic        = flag.String("topic", "security.alerts", "Kafka topic")
		natsURL      = flag.String("nats-url", os.Getenv("SECURITY_NATS_URL"), "NATS server URL (used when no Kafka brokers are set)")
		subject      = flag.String("subject", "security.alerts", "NATS subject")
		source       = flag.String("source", "alert-producer", "Alert source")
		message      = flag.String("message", "Test alert", "Alert message")
		severityFlag = flag.String("severity", "info", "Alert severity (info, warning, critical, alarm)")
		count        = flag.Int("count", 1, "Number of alerts to publish")
		interval     = flag.Duration("interval", time.Second, "Delay between alerts")
		mock         = flag.Bool("mock", false, "Log alerts instead of publishing them")
	)
	flag.Parse()

	severity, err := alert.ParseSeverity(*severityFlag)
	if err != nil {
		slog.Error("Invalid severity", "error", err)
		os.Exit(1)
	}
	if *count < 1 {
		slog.Error("Invalid count", "count", *count)
		os.Exit(1)
	}

	var publisher ingest.Publisher
	switch {
	case *mock:
		publisher = ingest.NewLogPublisher(slog.Default())
	case *kafkaBrokers != "":
		publisher, err = ingest.NewKafkaPublisher(*kafkaBrokers, *topic)
	case *natsURL != "":
		publisher, err = ingest.NewNATSPublisher(*natsURL, *subject)
	default:
		slog.Error("No bus configured, set -kafka-brokers, -nats-url or -mock")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to create publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	published := 0
	for i := 0; i < *count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(*interval):
			}
		}
		if ctx.Err() != nil {
			break
		}

		ev, err := alert.New(*source, *message, severity)
		if err != nil {
			slog.Error("Failed to create alert", "error", err)
			break
		}
		if err := publisher.Publish(ctx, ev); err != nil {
			slog.Error("Failed to publish alert", "error", err)
			break
		}
		published++
	}

	slog.Info("Alert producer finished", "published", published, "requested", *count)
	if published != *count {
		publisher.Close()
		stop()
		os.Exit(1)
	}
}
