package communication

import (
	"context"
	"time"
)

// maxBackoffExponent caps the doubling so delays stay bounded even without a max delay.
const maxBackoffExponent = 6

// Backoff defines the delay between retry attempts of a provider.
type Backoff struct {
	Base time.Duration // delay after the first failed attempt
	Max  time.Duration // cap for exponential growth; zero means fixed delay
}

// DefaultBackoff returns the production backoff settings.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 2 * time.Second,
		Max:  90 * time.Second,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
// Exponential: min(base * 2^(attempt-1), max). Fixed base when Max is zero.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if b.Max <= 0 {
		return b.Base
	}

	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}

	delay := b.Base * time.Duration(1<<exp)
	if delay > b.Max {
		delay = b.Max
	}
	return delay
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
