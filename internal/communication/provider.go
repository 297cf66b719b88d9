// Package communication defines the provider contract for outbound notification
// channels and the registry that broadcasts alerts across them.
// Each provider is registered once at startup and keyed by its name.
package communication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

var (
	// ErrNotConfigured marks a provider whose configuration is absent entirely.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnavailable marks a transport-level failure that makes retrying pointless
	// for the current alert (e.g. a missing client). It aborts that provider's loop.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrInvalid marks an alert that the provider can never deliver on its channel.
	// The provider is skipped for that alert and excluded from failure accounting.
	ErrInvalid = errors.New("alert invalid for provider")

	// ErrNoProviders is returned when no provider could be constructed.
	ErrNoProviders = errors.New("no communication providers configured")
)

// Recipient is a configured destination within a provider.
// It receives every alert whose severity is at or above Level.
type Recipient struct {
	Target string
	Level  alert.Severity
}

// Accepts reports whether the recipient is subscribed to the given severity.
func (r Recipient) Accepts(severity alert.Severity) bool {
	return severity.Rank() >= r.Level.Rank()
}

// Results maps each attempted recipient index to its delivery error.
// A nil error means the recipient was delivered.
type Results map[int]error

// Failed returns the attempted indices that were not delivered, in attempt order.
// Indices missing from the results are treated as failed.
func (r Results) Failed(attempted []int) []int {
	var failed []int
	for _, idx := range attempted {
		if err, ok := r[idx]; !ok || err != nil {
			failed = append(failed, idx)
		}
	}
	return failed
}

// Provider is the interface every outbound notification channel implements.
type Provider interface {
	// Name returns the canonical provider name used for registration and logging.
	Name() string

	// Recipients returns the configured recipients in a stable order.
	Recipients() []Recipient

	// Send delivers the event to the recipients at the given indices of Recipients().
	// Per-recipient failures are reported in Results and never as the returned error.
	// A non-nil error (wrapping ErrUnavailable or ErrInvalid) applies to the whole provider.
	Send(ctx context.Context, event alert.Event, targets []int) (Results, error)
}

// Targets returns the indices of recipients subscribed to the severity.
func Targets(recipients []Recipient, severity alert.Severity) []int {
	var targets []int
	for i, r := range recipients {
		if r.Accepts(severity) {
			targets = append(targets, i)
		}
	}
	return targets
}

// ParseRecipients parses a comma-separated list of level:target entries,
// e.g. "warning:+447700900001,alarm:+447700900002".
func ParseRecipients(value string) ([]Recipient, error) {
	var recipients []Recipient
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		level, target, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid recipient %q: expected level:target", entry)
		}
		severity, err := alert.ParseSeverity(level)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", entry, err)
		}
		target = strings.TrimSpace(target)
		if target == "" {
			return nil, fmt.Errorf("invalid recipient %q: target is empty", entry)
		}
		recipients = append(recipients, Recipient{Target: target, Level: severity})
	}
	return recipients, nil
}
