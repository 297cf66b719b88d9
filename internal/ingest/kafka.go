package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	kafkautil "github.com/afikmenashe/security-alerting/pkg/kafka"
)

// messageReader is the subset of *kafka.Reader the source uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes alert envelopes from a Kafka topic. Offsets are
// committed only after the alert was accepted by the dispatcher. Together
// with a pending store, which keeps the dispatcher's backlog on shutdown,
// alerts are delivered at least once across restarts.
type KafkaSource struct {
	reader messageReader
	sender Submitter
	topic  string
	logger *slog.Logger
	now    func() time.Time
}

// NewKafkaSource creates a consumer-group reader for topic.
func NewKafkaSource(brokers, topic, groupID string, sender Submitter, logger *slog.Logger) (*KafkaSource, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	if logger == nil {
		logger = slog.Default().With("component", "kafka-ingest")
	}

	cfg := kafkautil.NewReaderConfig(kafkautil.ParseBrokers(brokers), topic, groupID)
	kafkautil.LogReaderConfig(logger, cfg)

	return newKafkaSource(kafka.NewReader(cfg), topic, sender, logger), nil
}

func newKafkaSource(reader messageReader, topic string, sender Submitter, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{
		reader: reader,
		sender: sender,
		topic:  topic,
		logger: logger,
		now:    time.Now,
	}
}

// Run consumes until ctx is cancelled or the dispatcher stops accepting alerts.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.Info("Kafka alert ingestion started", "topic", s.topic)
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read message from Kafka: %w", err)
		}

		if err := s.handle(msg); err != nil {
			if ctx.Err() != nil {
				// Shutdown closed the queue; the uncommitted message is redelivered.
				return nil
			}
			return err
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("Failed to commit offset",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle submits one message. Malformed envelopes are logged and skipped so
// their offset is still committed.
func (s *KafkaSource) handle(msg kafka.Message) error {
	ev, err := Decode(msg.Value, s.now())
	if err != nil {
		s.logger.Error("Skipping malformed alert envelope",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	if err := s.sender.Submit(ev); err != nil {
		return fmt.Errorf("failed to submit alert from Kafka: %w", err)
	}
	s.logger.Debug("Alert received from Kafka",
		"source", ev.Source,
		"severity", ev.Severity.String(),
		"offset", msg.Offset,
	)
	return nil
}

// Close releases the Kafka reader.
func (s *KafkaSource) Close() error {
	s.logger.Info("Closing Kafka consumer", "topic", s.topic)
	if err := s.reader.Close(); err != nil {
		s.logger.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	return nil
}
