// Package slack provides alert delivery to Slack via Incoming Webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/internal/communication"
)

// Name is the registry key of the Slack provider.
const Name = "slack"

// Payload is the Incoming Webhook message body.
type Payload struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a Slack message attachment.
type Attachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	Text      string  `json:"text,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	Timestamp int64   `json:"ts,omitempty"`
}

// Field is a field in a Slack attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Config holds the Slack provider settings.
type Config struct {
	Recipients []communication.Recipient // webhook URLs
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Provider posts one webhook message per targeted recipient, sequentially.
type Provider struct {
	recipients []communication.Recipient
	httpClient *http.Client
	logger     *slog.Logger
}

func isValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// maskURL masks the secret path of a webhook URL for logging.
func maskURL(url string) string {
	if len(url) > 50 {
		return url[:30] + "..." + url[len(url)-10:]
	}
	return url
}

// New creates a Slack provider.
func New(cfg Config) (*Provider, error) {
	if len(cfg.Recipients) == 0 {
		return nil, communication.ErrNotConfigured
	}
	for _, r := range cfg.Recipients {
		if !isValidURL(r.Target) {
			return nil, fmt.Errorf("invalid Slack webhook URL: %q (must be a valid HTTP/HTTPS URL, not a channel name)", maskURL(r.Target))
		}
	}

	p := &Provider{
		recipients: append([]communication.Recipient(nil), cfg.Recipients...),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "slack")
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Recipients returns the configured webhook URLs.
func (p *Provider) Recipients() []communication.Recipient {
	return p.recipients
}

// BuildPayload builds the webhook message for an event.
func BuildPayload(event alert.Event) Payload {
	fields := []Field{
		{Title: "Severity", Value: strings.ToUpper(event.Severity.String()), Short: true},
		{Title: "Source", Value: event.Source, Short: true},
	}
	var ts int64
	if event.Timestamp != nil {
		ts = *event.Timestamp
	}
	return Payload{
		Attachments: []Attachment{
			{
				Color:     severityColor(event.Severity),
				Title:     event.Title(),
				Text:      event.Message,
				Fields:    fields,
				Timestamp: ts,
			},
		},
	}
}

func severityColor(severity alert.Severity) string {
	switch severity {
	case alert.Alarm, alert.Critical:
		return "danger"
	case alert.Warning:
		return "warning"
	default:
		return "good"
	}
}

// Send posts the event to each targeted webhook in turn.
func (p *Provider) Send(ctx context.Context, event alert.Event, targets []int) (communication.Results, error) {
	if p.httpClient == nil {
		return nil, fmt.Errorf("slack http client missing: %w", communication.ErrUnavailable)
	}

	jsonData, err := json.Marshal(BuildPayload(event))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Slack payload: %w", errors.Join(err, communication.ErrInvalid))
	}

	results := make(communication.Results, len(targets))
	for _, idx := range targets {
		if idx < 0 || idx >= len(p.recipients) {
			results[idx] = fmt.Errorf("recipient index %d out of range", idx)
			continue
		}
		results[idx] = p.post(ctx, p.recipients[idx].Target, jsonData)
	}
	return results, nil
}

func (p *Provider) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("Failed to send Slack notification",
			"error", err,
			"webhook_url", maskURL(url),
		)
		return fmt.Errorf("failed to send Slack notification to %s: %w", maskURL(url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error("Slack webhook returned error status",
			"status_code", resp.StatusCode,
			"webhook_url", maskURL(url),
		)
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
