package communication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

// Status summarizes how a single provider handled one alert.
type Status string

const (
	StatusDelivered    Status = "delivered"     // every targeted recipient succeeded
	StatusPartial      Status = "partial"       // retries exhausted, some recipients delivered
	StatusFailed       Status = "failed"        // retries exhausted, nothing delivered
	StatusNoRecipients Status = "no_recipients" // no recipient subscribed to the severity
	StatusInvalid      Status = "invalid"       // provider rejected the alert for its channel
	StatusUnavailable  Status = "unavailable"   // provider aborted on a transport failure
)

// ProviderOutcome records the result of one provider's retry loop.
type ProviderOutcome struct {
	Provider  string
	Status    Status
	Targeted  int
	Delivered int
	Unsent    int
	Attempts  int
	Err       error
}

// skipped reports whether the provider is excluded from failure accounting.
func (o ProviderOutcome) skipped() bool {
	return o.Status == StatusNoRecipients || o.Status == StatusInvalid
}

// Outcome aggregates the per-provider results of a broadcast.
type Outcome struct {
	Providers []ProviderOutcome
}

// Delivered returns the number of recipients delivered across all providers.
func (o Outcome) Delivered() int {
	total := 0
	for _, p := range o.Providers {
		total += p.Delivered
	}
	return total
}

// Unsent returns the number of recipients never delivered across all providers.
func (o Outcome) Unsent() int {
	total := 0
	for _, p := range o.Providers {
		total += p.Unsent
	}
	return total
}

// Attempted reports whether at least one provider tried to deliver the alert.
func (o Outcome) Attempted() bool {
	for _, p := range o.Providers {
		if !p.skipped() {
			return true
		}
	}
	return false
}

// Failed reports a total failure: some provider was attempted and no recipient
// anywhere received the alert.
func (o Outcome) Failed() bool {
	return o.Attempted() && o.Delivered() == 0
}

// Builder constructs one provider from configuration.
type Builder struct {
	Name  string
	Build func() (Provider, error)
}

// Options configures the registry retry policy.
type Options struct {
	RetryMax int // total send attempts per provider and alert
	Backoff  Backoff
	Logger   *slog.Logger
}

// Registry owns the configured providers and broadcasts alerts across them.
type Registry struct {
	providers map[string]Provider
	names     []string
	retryMax  int
	backoff   Backoff
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRegistry builds every provider. Providers that fail to build are logged
// and excluded; if none remain, ErrNoProviders is returned.
func NewRegistry(builders []Builder, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "communication_registry")
	}

	providers := make([]Provider, 0, len(builders))
	for _, b := range builders {
		if b.Build == nil {
			continue
		}
		p, err := b.Build()
		switch {
		case errors.Is(err, ErrNotConfigured):
			logger.Info("Communication provider not configured, skipping", "provider", b.Name)
			continue
		case err != nil:
			logger.Warn("Communication provider has invalid configuration, skipping",
				"provider", b.Name,
				"error", err,
			)
			continue
		case p == nil:
			continue
		}
		logger.Debug("Created communication provider", "provider", p.Name(), "recipients", len(p.Recipients()))
		providers = append(providers, p)
	}

	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return NewRegistryWithProviders(providers, opts)
}

// NewRegistryWithProviders creates a registry from already constructed providers.
// This is useful for testing or custom provider sets.
func NewRegistryWithProviders(providers []Provider, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "communication_registry")
	}

	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		retryMax:  max(opts.RetryMax, 1),
		backoff:   opts.Backoff,
		logger:    logger,
		sleep:     sleepContext,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, dup := r.providers[name]; dup {
			return nil, fmt.Errorf("provider %q registered twice", name)
		}
		r.providers[name] = p
		r.names = append(r.names, name)
	}
	if len(r.names) == 0 {
		return nil, ErrNoProviders
	}
	return r, nil
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Broadcast delivers the event through every provider in parallel.
// A slow or failing provider never delays the others.
func (r *Registry) Broadcast(ctx context.Context, event alert.Event) Outcome {
	outcomes := make([]ProviderOutcome, len(r.names))

	var g errgroup.Group
	for i, name := range r.names {
		i := i
		p := r.providers[name]
		g.Go(func() error {
			outcomes[i] = r.deliver(ctx, p, event)
			return nil
		})
	}
	_ = g.Wait()

	return Outcome{Providers: outcomes}
}

// deliver runs the retry loop for a single provider. Recipients that succeed are
// dropped from the work set so each attempt only targets the remaining failures.
func (r *Registry) deliver(ctx context.Context, p Provider, event alert.Event) ProviderOutcome {
	name := p.Name()
	out := ProviderOutcome{Provider: name}

	pending := Targets(p.Recipients(), event.Severity)
	out.Targeted = len(pending)
	if len(pending) == 0 {
		out.Status = StatusNoRecipients
		r.logger.Debug("No recipients for alert severity",
			"provider", name,
			"severity", event.Severity.String(),
		)
		return out
	}

	for attempt := 1; attempt <= r.retryMax; attempt++ {
		out.Attempts = attempt
		results, err := p.Send(ctx, event, pending)

		if err != nil {
			out.Unsent = len(pending)
			out.Err = err
			if errors.Is(err, ErrInvalid) {
				out.Status = StatusInvalid
				r.logger.Warn("Alert is invalid for provider, skipping",
					"provider", name,
					"source", event.Source,
					"error", err,
				)
				return out
			}
			out.Status = StatusUnavailable
			r.logger.Error("Communication provider unavailable, aborting delivery",
				"provider", name,
				"source", event.Source,
				"attempt", attempt,
				"unsent", out.Unsent,
				"error", err,
			)
			return out
		}

		failed := results.Failed(pending)
		out.Delivered += len(pending) - len(failed)
		for _, idx := range failed {
			if ferr := results[idx]; ferr != nil {
				r.logger.Debug("Recipient delivery failed",
					"provider", name,
					"recipient_index", idx,
					"attempt", attempt,
					"error", ferr,
				)
			}
		}
		pending = failed

		if len(pending) == 0 {
			out.Status = StatusDelivered
			if attempt > 1 {
				r.logger.Info("Alert delivered after retry", "provider", name, "attempt", attempt)
			}
			return out
		}
		if attempt == r.retryMax {
			break
		}

		delay := r.backoff.Delay(attempt)
		r.logger.Warn("Alert delivery incomplete, retrying",
			"provider", name,
			"attempt", attempt,
			"max_attempts", r.retryMax,
			"failed", len(pending),
			"backoff", delay,
		)
		if err := r.sleep(ctx, delay); err != nil {
			out.Unsent = len(pending)
			out.Err = err
			out.Status = exhaustedStatus(out)
			return out
		}
	}

	out.Unsent = len(pending)
	out.Status = exhaustedStatus(out)
	r.logger.Error("Retries exhausted, alert not delivered to all recipients",
		"provider", name,
		"source", event.Source,
		"attempts", out.Attempts,
		"unsent", out.Unsent,
	)
	return out
}

func exhaustedStatus(out ProviderOutcome) Status {
	if out.Delivered > 0 {
		return StatusPartial
	}
	return StatusFailed
}
