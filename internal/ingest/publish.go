package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"github.com/afikmenashe/security-alerting/internal/alert"
	kafkautil "github.com/afikmenashe/security-alerting/pkg/kafka"
)

// writeTimeout is the maximum time to wait for a Kafka write operation.
const writeTimeout = 10 * time.Second

// Publisher sends alert envelopes to a bus. Monitors running outside the
// service use it to reach the dispatcher.
type Publisher interface {
	Publish(ctx context.Context, event alert.Event) error
	Close() error
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)

// Encode renders an event as an alert envelope.
func Encode(event alert.Event) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(event)
}

// KafkaPublisher writes envelopes keyed by source, so alerts from one
// producer stay on one partition and keep their order.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher creates a synchronous writer for topic.
func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	brokerList := kafkautil.ParseBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, errors.New("brokers cannot be empty")
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	slog.Info("Kafka producer configured",
		"brokers", brokerList,
		"topic", topic,
		"write_timeout", writeTimeout,
	)
	return &KafkaPublisher{writer: writer, topic: topic}, nil
}

// Publish writes one envelope and waits for the leader ack.
func (p *KafkaPublisher) Publish(ctx context.Context, event alert.Event) error {
	payload, err := Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.Source), Value: payload}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write alert to Kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NATSPublisher publishes envelopes on a subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the server at url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		return nil, errors.New("nats subject cannot be empty")
	}
	conn, err := nats.Connect(url, nats.Name("security-alerts-producer"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish sends one envelope and flushes so the server has it on return.
func (p *NATSPublisher) Publish(ctx context.Context, event alert.Event) error {
	payload, err := Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", p.subject, err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// LogPublisher logs envelopes instead of sending them. Useful without a broker.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher writing to logger.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the encoded envelope.
func (p *LogPublisher) Publish(_ context.Context, event alert.Event) error {
	payload, err := Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	p.logger.Info("Mock publish (alert logged, not sent)",
		"source", event.Source,
		"severity", event.Severity.String(),
		"alert_json", string(payload),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
