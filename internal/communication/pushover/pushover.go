// Package pushover provides push notification delivery through the Pushover messages API.
package pushover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/internal/communication"
)

// Name is the registry key of the push provider.
const Name = "pushover"

// DefaultEndpoint is the Pushover messages API.
const DefaultEndpoint = "https://api.pushover.net/1/messages.json"

// Emergency priority payloads are re-sent by Pushover every retryInterval
// until acknowledged or until expireAfter has passed.
const (
	retryInterval = 60 * time.Second
	expireAfter   = 3 * time.Hour
)

// Config holds the push provider settings.
type Config struct {
	Token      string // application token
	Recipients []communication.Recipient
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Provider sends one concurrent HTTP request per targeted recipient.
type Provider struct {
	token      string
	recipients []communication.Recipient
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a push provider. It returns communication.ErrNotConfigured when
// neither a token nor recipients are set.
func New(cfg Config) (*Provider, error) {
	if cfg.Token == "" && len(cfg.Recipients) == 0 {
		return nil, communication.ErrNotConfigured
	}
	if cfg.Token == "" {
		return nil, errors.New("pushover token cannot be empty")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("pushover recipients cannot be empty")
	}

	p := &Provider{
		token:      cfg.Token,
		recipients: append([]communication.Recipient(nil), cfg.Recipients...),
		endpoint:   cfg.Endpoint,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if p.endpoint == "" {
		p.endpoint = DefaultEndpoint
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "pushover")
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Recipients returns the configured user tokens.
func (p *Provider) Recipients() []communication.Recipient {
	return p.recipients
}

// message is the JSON body accepted by the messages API.
type message struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Priority  int    `json:"priority"`
	Retry     int    `json:"retry,omitempty"`
	Expire    int    `json:"expire,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Priority maps a severity onto the Pushover priority scale.
func Priority(severity alert.Severity) int {
	switch severity {
	case alert.Info:
		return -1
	case alert.Warning:
		return 0
	case alert.Critical:
		return 1
	case alert.Alarm:
		return 2
	default:
		return 0
	}
}

func (p *Provider) buildMessage(user string, event alert.Event) message {
	msg := message{
		Token:     p.token,
		User:      user,
		Title:     event.Title(),
		Message:   event.Message,
		Priority:  Priority(event.Severity),
		Timestamp: event.Timestamp,
	}
	if msg.Priority == 2 {
		msg.Retry = int(retryInterval.Seconds())
		msg.Expire = int(expireAfter.Seconds())
	}
	return msg
}

// Send posts the event to every targeted recipient in parallel.
func (p *Provider) Send(ctx context.Context, event alert.Event, targets []int) (communication.Results, error) {
	results := make(communication.Results, len(targets))
	var mu sync.Mutex

	var g errgroup.Group
	for _, idx := range targets {
		if idx < 0 || idx >= len(p.recipients) {
			mu.Lock()
			results[idx] = fmt.Errorf("recipient index %d out of range", idx)
			mu.Unlock()
			continue
		}
		idx := idx
		recipient := p.recipients[idx]
		g.Go(func() error {
			err := p.post(ctx, p.buildMessage(recipient.Target, event))
			mu.Lock()
			results[idx] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (p *Provider) post(ctx context.Context, msg message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal pushover payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("Failed to send push notification",
			"error", err,
			"priority", msg.Priority,
		)
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error("Pushover returned error status",
			"status_code", resp.StatusCode,
			"priority", msg.Priority,
		)
		return fmt.Errorf("pushover returned status %d", resp.StatusCode)
	}

	p.logger.Debug("Successfully sent push notification", "priority", msg.Priority)
	return nil
}
