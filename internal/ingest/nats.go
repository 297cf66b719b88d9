package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSource subscribes to a subject and submits every alert envelope it
// receives. Core NATS has no redelivery, so an alert published while the
// service is down is lost.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	sender  Submitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewNATSSource connects to the server at url.
func NewNATSSource(url, subject string, sender Submitter, logger *slog.Logger) (*NATSSource, error) {
	if url == "" {
		return nil, errors.New("nats url cannot be empty")
	}
	if subject == "" {
		return nil, errors.New("nats subject cannot be empty")
	}
	if sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	if logger == nil {
		logger = slog.Default().With("component", "nats-ingest")
	}

	conn, err := nats.Connect(
		url,
		nats.Name("security-alerts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
				return
			}
			logger.Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &NATSSource{
		conn:    conn,
		subject: subject,
		sender:  sender,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run subscribes and blocks until ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		s.handle(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	defer sub.Unsubscribe()
	s.logger.Info("NATS alert ingestion started", "subject", s.subject)

	<-ctx.Done()
	return nil
}

func (s *NATSSource) handle(data []byte) {
	ev, err := Decode(data, s.now())
	if err != nil {
		s.logger.Error("Skipping malformed alert envelope", "subject", s.subject, "error", err)
		return
	}
	if err := s.sender.Submit(ev); err != nil {
		s.logger.Error("Failed to submit alert from NATS",
			"source", ev.Source,
			"severity", ev.Severity.String(),
			"error", err,
		)
	}
}

// Close drains the connection.
func (s *NATSSource) Close() error {
	return s.conn.Drain()
}
