// Package ingest bridges external message buses into the alert dispatcher.
// Producers publish a JSON envelope:
//
//	{"source":"ping-monitor","message":"gateway unreachable","severity":"critical","timestamp":1700000000}
//
// The timestamp is optional and defaults to the time the envelope was decoded.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

// Submitter accepts alerts for dispatch. *dispatcher.Sender implements it.
type Submitter interface {
	Submit(event alert.Event) error
}

// ErrMalformed marks envelopes that can never be dispatched.
var ErrMalformed = errors.New("malformed alert envelope")

type envelope struct {
	Source    string          `json:"source"`
	Message   string          `json:"message"`
	Severity  *alert.Severity `json:"severity"`
	Timestamp *int64          `json:"timestamp,omitempty"`
}

// Decode parses an alert envelope. now stamps envelopes without a timestamp.
func Decode(data []byte, now time.Time) (alert.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return alert.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Severity == nil {
		return alert.Event{}, fmt.Errorf("%w: severity is required", ErrMalformed)
	}

	ev, err := alert.NewAt(env.Source, env.Message, *env.Severity, now)
	if err != nil {
		return alert.Event{}, err
	}
	if env.Timestamp != nil {
		ts := *env.Timestamp
		ev.Timestamp = &ts
	}
	if err := ev.Validate(); err != nil {
		return alert.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}
