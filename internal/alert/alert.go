// Package alert defines the alert event model shared by producers, the dispatcher
// and every communication provider.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity is the ordered urgency of an alert. Higher values are more urgent.
type Severity int

const (
	Info Severity = iota
	Warning
	Critical
	Alarm
)

// ErrClock is returned when the system clock reports a time before the unix epoch.
var ErrClock = errors.New("system clock is before unix epoch")

// Rank returns the integer used for threshold comparisons.
func (s Severity) Rank() int {
	return int(s)
}

// IsAlarm reports whether the severity is subject to the alarm cooldown gate.
func (s Severity) IsAlarm() bool {
	return s == Alarm
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s >= Info && s <= Alarm
}

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Alarm:
		return "alarm"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts a case-insensitive severity name into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "critical":
		return Critical, nil
	case "alarm":
		return Alarm, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Event is one alert produced by a monitor or webhook.
// It is treated as immutable once created and is shared read-only by every provider.
type Event struct {
	Source    string   `json:"source"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Timestamp *int64   `json:"timestamp,omitempty"` // unix seconds at creation
}

// New creates an event stamped with the current time.
func New(source, message string, severity Severity) (Event, error) {
	return NewAt(source, message, severity, time.Now())
}

// NewAt creates an event stamped with the given instant.
func NewAt(source, message string, severity Severity, now time.Time) (Event, error) {
	ts := now.Unix()
	if ts < 0 {
		return Event{}, ErrClock
	}
	return Event{
		Source:    source,
		Message:   message,
		Severity:  severity,
		Timestamp: &ts,
	}, nil
}

// IsAlarm reports whether the event has alarm severity.
func (e Event) IsAlarm() bool {
	return e.Severity.IsAlarm()
}

// Time returns the creation time, or the zero time when no timestamp was captured.
func (e Event) Time() time.Time {
	if e.Timestamp == nil {
		return time.Time{}
	}
	return time.Unix(*e.Timestamp, 0).UTC()
}

// Equal reports whether two events carry the same values.
func (e Event) Equal(other Event) bool {
	if e.Source != other.Source || e.Message != other.Message || e.Severity != other.Severity {
		return false
	}
	if e.Timestamp == nil || other.Timestamp == nil {
		return e.Timestamp == nil && other.Timestamp == nil
	}
	return *e.Timestamp == *other.Timestamp
}

// Validate checks the fields required before an event can be dispatched.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Source) == "" {
		return errors.New("source is required")
	}
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("message is required")
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("invalid severity %d", int(e.Severity))
	}
	return nil
}

// Title is the short heading used by channels that support one.
func (e Event) Title() string {
	return fmt.Sprintf("%s alert from %s", strings.ToUpper(e.Severity.String()), e.Source)
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(e.Severity.String()), e.Source, e.Message)
}
