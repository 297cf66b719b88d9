package communication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

// fakeProvider is a scripted Provider. fail decides per recipient and attempt
// whether delivery fails; sendErr short-circuits the whole call.
type fakeProvider struct {
	name       string
	recipients []Recipient
	fail       func(idx, attempt int) error
	sendErr    error

	mu    sync.Mutex
	calls [][]int
}

func (f *fakeProvider) Name() string            { return f.name }
func (f *fakeProvider) Recipients() []Recipient { return f.recipients }

func (f *fakeProvider) Send(_ context.Context, _ alert.Event, targets []int) (Results, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]int(nil), targets...))
	attempt := len(f.calls)
	f.mu.Unlock()

	if f.sendErr != nil {
		return nil, f.sendErr
	}
	results := make(Results, len(targets))
	for _, idx := range targets {
		if f.fail != nil {
			results[idx] = f.fail(idx, attempt)
		} else {
			results[idx] = nil
		}
	}
	return results, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestRegistry(t *testing.T, retryMax int, providers ...Provider) *Registry {
	t.Helper()
	r, err := NewRegistryWithProviders(providers, Options{
		RetryMax: retryMax,
		Backoff:  Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewRegistryWithProviders() error = %v", err)
	}
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func testEvent(severity alert.Severity) alert.Event {
	ev, _ := alert.NewAt("test-monitor", "something happened", severity, time.Unix(1700000000, 0))
	return ev
}

func TestTargets_SeverityFiltering(t *testing.T) {
	recipients := []Recipient{
		{Target: "A", Level: alert.Warning},
		{Target: "B", Level: alert.Alarm},
	}

	tests := []struct {
		severity alert.Severity
		want     []int
	}{
		{alert.Info, nil},
		{alert.Warning, []int{0}},
		{alert.Critical, []int{0}},
		{alert.Alarm, []int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.severity.String(), func(t *testing.T) {
			got := Targets(recipients, tt.severity)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Targets() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRecipients(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		want      []Recipient
		wantErr   bool
	}{
		{
			name:  "two recipients",
			value: "warning:+447700900001, alarm:+447700900002",
			want: []Recipient{
				{Target: "+447700900001", Level: alert.Warning},
				{Target: "+447700900002", Level: alert.Alarm},
			},
		},
		{
			name:  "url target keeps its colons",
			value: "critical:https://hooks.slack.com/services/T0/B0/X",
			want:  []Recipient{{Target: "https://hooks.slack.com/services/T0/B0/X", Level: alert.Critical}},
		},
		{name: "empty", value: "", want: nil},
		{name: "trailing comma", value: "info:user,", want: []Recipient{{Target: "user", Level: alert.Info}}},
		{name: "missing level", value: "+447700900001", wantErr: true},
		{name: "unknown level", value: "urgent:+447700900001", wantErr: true},
		{name: "empty target", value: "alarm: ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecipients(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRecipients() error = %v, wantErr %v", err, tt.wantErr)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ParseRecipients() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRegistry_ExcludesBrokenProviders(t *testing.T) {
	good := &fakeProvider{name: "good", recipients: []Recipient{{Target: "a"}}}

	r, err := NewRegistry([]Builder{
		{Name: "missing", Build: func() (Provider, error) { return nil, ErrNotConfigured }},
		{Name: "broken", Build: func() (Provider, error) { return nil, errors.New("empty recipient list") }},
		{Name: "good", Build: func() (Provider, error) { return good, nil }},
		{Name: "nil-builder"},
	}, Options{RetryMax: 3})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	names := r.Names()
	if len(names) != 1 || names[0] != "good" {
		t.Errorf("Names() = %v, want [good]", names)
	}
	if _, ok := r.Get("broken"); ok {
		t.Error("broken provider should not be registered")
	}
}

func TestNewRegistry_NoProviders(t *testing.T) {
	_, err := NewRegistry([]Builder{
		{Name: "broken", Build: func() (Provider, error) { return nil, errors.New("missing credential") }},
	}, Options{})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("NewRegistry() error = %v, want ErrNoProviders", err)
	}
}

func TestNewRegistryWithProviders_Duplicate(t *testing.T) {
	_, err := NewRegistryWithProviders([]Provider{
		&fakeProvider{name: "sms"},
		&fakeProvider{name: "sms"},
	}, Options{})
	if err == nil {
		t.Fatal("expected error for duplicate provider names")
	}
}

func TestBroadcast_RetriesOnlyFailedRecipients(t *testing.T) {
	p := &fakeProvider{
		name:       "push",
		recipients: []Recipient{{Target: "A"}, {Target: "B"}},
		fail: func(idx, attempt int) error {
			if idx == 0 && attempt < 3 {
				return errors.New("503 service unavailable")
			}
			return nil
		},
	}
	r := newTestRegistry(t, 5, p)

	out := r.Broadcast(context.Background(), testEvent(alert.Critical))

	po := out.Providers[0]
	if po.Status != StatusDelivered {
		t.Fatalf("Status = %s, want delivered", po.Status)
	}
	if po.Delivered != 2 || po.Unsent != 0 {
		t.Errorf("Delivered = %d, Unsent = %d, want 2 and 0", po.Delivered, po.Unsent)
	}
	if po.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", po.Attempts)
	}
	if fmt.Sprint(p.calls) != "[[0 1] [0] [0]]" {
		t.Errorf("calls = %v, want [[0 1] [0] [0]]", p.calls)
	}
}

func TestBroadcast_ExhaustsRetryBudget(t *testing.T) {
	p := &fakeProvider{
		name:       "sms",
		recipients: []Recipient{{Target: "A"}},
		fail:       func(int, int) error { return errors.New("gateway timeout") },
	}
	r := newTestRegistry(t, 3, p)

	out := r.Broadcast(context.Background(), testEvent(alert.Warning))

	po := out.Providers[0]
	if p.callCount() != 3 {
		t.Errorf("send called %d times, want 3", p.callCount())
	}
	if po.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", po.Status)
	}
	if po.Unsent != 1 {
		t.Errorf("Unsent = %d, want 1", po.Unsent)
	}
	if !out.Failed() {
		t.Error("Outcome.Failed() = false, want true")
	}
}

func TestBroadcast_PartialDeliveryAfterExhaustion(t *testing.T) {
	p := &fakeProvider{
		name:       "email",
		recipients: []Recipient{{Target: "A"}, {Target: "B"}},
		fail: func(idx, _ int) error {
			if idx == 1 {
				return errors.New("mailbox full")
			}
			return nil
		},
	}
	r := newTestRegistry(t, 2, p)

	out := r.Broadcast(context.Background(), testEvent(alert.Alarm))

	po := out.Providers[0]
	if po.Status != StatusPartial || po.Delivered != 1 || po.Unsent != 1 {
		t.Errorf("outcome = %+v, want partial with 1 delivered and 1 unsent", po)
	}
	if out.Failed() {
		t.Error("partial delivery should not be a total failure")
	}
}

func TestBroadcast_UnavailableProviderDoesNotAffectOthers(t *testing.T) {
	down := &fakeProvider{
		name:       "sms",
		recipients: []Recipient{{Target: "A"}},
		sendErr:    fmt.Errorf("sms client missing: %w", ErrUnavailable),
	}
	up := &fakeProvider{
		name:       "push",
		recipients: []Recipient{{Target: "B"}, {Target: "C"}},
	}
	r := newTestRegistry(t, 4, down, up)

	out := r.Broadcast(context.Background(), testEvent(alert.Critical))

	if down.callCount() != 1 {
		t.Errorf("unavailable provider called %d times, want 1", down.callCount())
	}
	byName := map[string]ProviderOutcome{}
	for _, po := range out.Providers {
		byName[po.Provider] = po
	}
	if byName["sms"].Status != StatusUnavailable {
		t.Errorf("sms status = %s, want unavailable", byName["sms"].Status)
	}
	if byName["push"].Status != StatusDelivered || byName["push"].Delivered != 2 {
		t.Errorf("push outcome = %+v, want full delivery", byName["push"])
	}
	if out.Failed() {
		t.Error("broadcast reported total failure although one provider delivered")
	}
}

func TestBroadcast_NoRecipientsIsNoOp(t *testing.T) {
	p := &fakeProvider{
		name:       "sms",
		recipients: []Recipient{{Target: "A", Level: alert.Alarm}},
	}
	r := newTestRegistry(t, 3, p)

	out := r.Broadcast(context.Background(), testEvent(alert.Info))

	if p.callCount() != 0 {
		t.Errorf("send called %d times, want 0", p.callCount())
	}
	if out.Providers[0].Status != StatusNoRecipients {
		t.Errorf("Status = %s, want no_recipients", out.Providers[0].Status)
	}
	if out.Failed() {
		t.Error("no-op broadcast should not be a failure")
	}
}

func TestBroadcast_InvalidIsSkipped(t *testing.T) {
	invalid := &fakeProvider{
		name:       "sms",
		recipients: []Recipient{{Target: "A"}},
		sendErr:    fmt.Errorf("body too long: %w", ErrInvalid),
	}
	ok := &fakeProvider{name: "push", recipients: []Recipient{{Target: "B"}}}
	r := newTestRegistry(t, 3, invalid, ok)

	out := r.Broadcast(context.Background(), testEvent(alert.Critical))

	if invalid.callCount() != 1 {
		t.Errorf("invalid provider called %d times, want 1", invalid.callCount())
	}
	if out.Providers[0].Status != StatusInvalid {
		t.Errorf("Status = %s, want invalid", out.Providers[0].Status)
	}
	if out.Failed() {
		t.Error("invalid provider should be excluded from failure accounting")
	}
}

func TestBroadcast_ProvidersRunInParallel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)

	blocking := func(name string) *blockingProvider {
		return &blockingProvider{name: name, started: started, release: release}
	}
	r := newTestRegistry(t, 1, blocking("a"), blocking("b"))

	done := make(chan Outcome)
	go func() { done <- r.Broadcast(context.Background(), testEvent(alert.Warning)) }()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("providers did not start concurrently")
		}
	}
	close(release)

	out := <-done
	if out.Delivered() != 2 {
		t.Errorf("Delivered() = %d, want 2", out.Delivered())
	}
}

type blockingProvider struct {
	name    string
	started chan string
	release chan struct{}
}

func (b *blockingProvider) Name() string            { return b.name }
func (b *blockingProvider) Recipients() []Recipient { return []Recipient{{Target: b.name}} }

func (b *blockingProvider) Send(_ context.Context, _ alert.Event, targets []int) (Results, error) {
	b.started <- b.name
	<-b.release
	return Results{targets[0]: nil}, nil
}

func TestBroadcast_CancelledDuringBackoff(t *testing.T) {
	p := &fakeProvider{
		name:       "push",
		recipients: []Recipient{{Target: "A"}},
		fail:       func(int, int) error { return errors.New("timeout") },
	}
	r, err := NewRegistryWithProviders([]Provider{p}, Options{
		RetryMax: 10,
		Backoff:  Backoff{Base: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewRegistryWithProviders() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out := r.Broadcast(ctx, testEvent(alert.Warning))

	if p.callCount() != 1 {
		t.Errorf("send called %d times, want 1", p.callCount())
	}
	if !errors.Is(out.Providers[0].Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Providers[0].Err)
	}
}

func TestBackoff_Delay(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{name: "first attempt", backoff: Backoff{Base: 2 * time.Second, Max: 90 * time.Second}, attempt: 1, want: 2 * time.Second},
		{name: "doubles", backoff: Backoff{Base: 2 * time.Second, Max: 90 * time.Second}, attempt: 3, want: 8 * time.Second},
		{name: "capped by max", backoff: Backoff{Base: 2 * time.Second, Max: 90 * time.Second}, attempt: 6, want: 64 * time.Second},
		{name: "max reached", backoff: Backoff{Base: 2 * time.Second, Max: 30 * time.Second}, attempt: 5, want: 30 * time.Second},
		{name: "exponent capped", backoff: Backoff{Base: time.Second, Max: time.Hour}, attempt: 20, want: 64 * time.Second},
		{name: "fixed without max", backoff: Backoff{Base: 3 * time.Second}, attempt: 4, want: 3 * time.Second},
		{name: "zero base", backoff: Backoff{}, attempt: 2, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.backoff.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}
