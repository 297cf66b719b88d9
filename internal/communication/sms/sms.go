// Package sms provides text message delivery through an HTTP SMS gateway.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/internal/communication"
)

// Name is the registry key of the SMS provider.
const Name = "sms"

// Config holds the SMS provider settings.
type Config struct {
	Gateway          ClientConfig
	Recipients       []communication.Recipient
	MaxMessageLength int // characters; zero disables the check
	Logger           *slog.Logger
}

// Provider sends messages one recipient at a time through a shared gateway client.
type Provider struct {
	client     *Client
	recipients []communication.Recipient
	maxLength  int
	counter    atomic.Uint64
	logger     *slog.Logger
}

// New creates an SMS provider and its gateway client.
func New(cfg Config) (*Provider, error) {
	if cfg.Gateway.BaseURL == "" && len(cfg.Recipients) == 0 {
		return nil, communication.ErrNotConfigured
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("sms recipients cannot be empty")
	}
	client, err := NewClient(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("failed to create sms gateway client: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a provider around an existing gateway client.
// A nil client makes every send report communication.ErrUnavailable.
func NewWithClient(client *Client, cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "sms")
	}
	return &Provider{
		client:     client,
		recipients: append([]communication.Recipient(nil), cfg.Recipients...),
		maxLength:  cfg.MaxMessageLength,
		logger:     logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Recipients returns the configured phone numbers.
func (p *Provider) Recipients() []communication.Recipient {
	return p.recipients
}

// nextReference returns a correlation id for the next outgoing message.
func (p *Provider) nextReference() string {
	return fmt.Sprintf("alarm-%d", p.counter.Add(1)-1)
}

// Send delivers the event sequentially to the targeted recipients.
func (p *Provider) Send(ctx context.Context, event alert.Event, targets []int) (communication.Results, error) {
	if p.client == nil {
		return nil, fmt.Errorf("sms gateway client missing: %w", communication.ErrUnavailable)
	}

	body := event.String()
	if p.maxLength > 0 && utf8.RuneCountInString(body) > p.maxLength {
		return nil, fmt.Errorf("sms body has %d characters, limit is %d: %w",
			utf8.RuneCountInString(body), p.maxLength, communication.ErrInvalid)
	}

	results := make(communication.Results, len(targets))
	for _, idx := range targets {
		if err := ctx.Err(); err != nil {
			results[idx] = err
			continue
		}
		if idx < 0 || idx >= len(p.recipients) {
			results[idx] = fmt.Errorf("recipient index %d out of range", idx)
			continue
		}

		msg := OutgoingMessage{
			To:        p.recipients[idx].Target,
			Content:   body,
			Reference: p.nextReference(),
		}
		if err := p.client.SendSMS(ctx, msg); err != nil {
			p.logger.Warn("Failed to send SMS message",
				"reference", msg.Reference,
				"error", err,
			)
			results[idx] = err
			continue
		}
		results[idx] = nil
		p.logger.Debug("Successfully sent SMS message", "reference", msg.Reference)
	}
	return results, nil
}
