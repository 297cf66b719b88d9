// Package email provides alert delivery by email through a pluggable backend (SES or Resend).
package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/internal/communication"
)

// Name is the registry key of the email provider.
const Name = "email"

// Supported backends.
const (
	BackendSES    = "ses"
	BackendResend = "resend"
)

// Config holds the email provider settings.
type Config struct {
	Backend      string // ses or resend
	From         string
	Recipients   []communication.Recipient
	AWSRegion    string
	ResendAPIKey string
	Logger       *slog.Logger
}

// Provider sends one email per targeted recipient, sequentially.
type Provider struct {
	mailer     Mailer
	from       string
	recipients []communication.Recipient
	logger     *slog.Logger
}

// New creates an email provider and the configured backend.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.From == "" && len(cfg.Recipients) == 0 {
		return nil, communication.ErrNotConfigured
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "email")
	}

	var (
		mailer Mailer
		err    error
	)
	switch strings.ToLower(cfg.Backend) {
	case BackendSES, "":
		mailer, err = NewSESMailer(ctx, cfg.AWSRegion, logger)
	case BackendResend:
		mailer, err = NewResendMailer(cfg.ResendAPIKey, logger)
	default:
		return nil, fmt.Errorf("unknown email backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	cfg.Logger = logger
	return NewWithMailer(mailer, cfg), nil
}

// NewWithMailer creates a provider around an existing backend.
// A nil mailer makes every send report communication.ErrUnavailable.
func NewWithMailer(mailer Mailer, cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "email")
	}
	return &Provider{
		mailer:     mailer,
		from:       cfg.From,
		recipients: append([]communication.Recipient(nil), cfg.Recipients...),
		logger:     logger,
	}
}

func validate(cfg Config) error {
	if cfg.From == "" {
		return errors.New("email from address cannot be empty")
	}
	if len(cfg.Recipients) == 0 {
		return errors.New("email recipients cannot be empty")
	}
	for _, r := range cfg.Recipients {
		if !strings.Contains(r.Target, "@") {
			return fmt.Errorf("invalid email address format: %q (missing @ symbol)", r.Target)
		}
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Recipients returns the configured addresses.
func (p *Provider) Recipients() []communication.Recipient {
	return p.recipients
}

// Send emails the event to each targeted recipient in turn.
func (p *Provider) Send(ctx context.Context, event alert.Event, targets []int) (communication.Results, error) {
	if p.mailer == nil {
		return nil, fmt.Errorf("email backend missing: %w", communication.ErrUnavailable)
	}

	text := buildText(event)
	htmlBody := buildHTML(event)

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

		msg := &Message{
			From:    p.from,
			To:      p.recipients[idx].Target,
			Subject: event.Title(),
			Text:    text,
			HTML:    htmlBody,
		}
		if err := p.mailer.Send(ctx, msg); err != nil {
			p.logger.Warn("Failed to send email",
				"backend", p.mailer.Name(),
				"recipient_index", idx,
				"error", err,
			)
			results[idx] = err
			continue
		}
		results[idx] = nil
	}
	return results, nil
}

func buildText(event alert.Event) string {
	var sb strings.Builder
	sb.WriteString("Security Alert\n")
	sb.WriteString("==============\n\n")
	sb.WriteString(fmt.Sprintf("Severity: %s\n", strings.ToUpper(event.Severity.String())))
	sb.WriteString(fmt.Sprintf("Source: %s\n", event.Source))
	if event.Timestamp != nil {
		sb.WriteString(fmt.Sprintf("Time: %s\n", event.Time().Format(time.RFC1123)))
	}
	sb.WriteString("\n")
	sb.WriteString(event.Message)
	sb.WriteString("\n")
	return sb.String()
}

func buildHTML(event alert.Event) string {
	var sb strings.Builder
	sb.WriteString("<h2>Security Alert</h2>\n<table>\n")
	sb.WriteString(fmt.Sprintf("<tr><th>Severity</th><td>%s</td></tr>\n", html.EscapeString(strings.ToUpper(event.Severity.String()))))
	sb.WriteString(fmt.Sprintf("<tr><th>Source</th><td>%s</td></tr>\n", html.EscapeString(event.Source)))
	if event.Timestamp != nil {
		sb.WriteString(fmt.Sprintf("<tr><th>Time</th><td>%s</td></tr>\n", event.Time().Format(time.RFC1123)))
	}
	sb.WriteString("</table>\n")
	sb.WriteString(fmt.Sprintf("<p>%s</p>\n", html.EscapeString(event.Message)))
	return sb.String()
}
