package pushover

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/internal/communication"
)

func TestNew(t *testing.T) {
	recipients := []communication.Recipient{{Target: "u1", Level: alert.Warning}}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		anyErr  bool
	}{
		{name: "not configured", cfg: Config{}, wantErr: communication.ErrNotConfigured},
		{name: "missing token", cfg: Config{Recipients: recipients}, anyErr: true},
		{name: "empty recipients", cfg: Config{Token: "app"}, anyErr: true},
		{name: "valid", cfg: Config{Token: "app", Recipients: recipients}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("New() expected error")
				}
				if errors.Is(err, communication.ErrNotConfigured) {
					t.Errorf("New() error = %v, should not be ErrNotConfigured", err)
				}
			default:
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}
				if p.Name() != Name {
					t.Errorf("Name() = %q, want %q", p.Name(), Name)
				}
				if p.endpoint != DefaultEndpoint {
					t.Errorf("endpoint = %q, want %q", p.endpoint, DefaultEndpoint)
				}
				if p.httpClient.Timeout != 30*time.Second {
					t.Errorf("httpClient timeout = %v, want 30s", p.httpClient.Timeout)
				}
			}
		})
	}
}

func TestPriority(t *testing.T) {
	tests := []struct {
		severity alert.Severity
		want     int
	}{
		{alert.Info, -1},
		{alert.Warning, 0},
		{alert.Critical, 1},
		{alert.Alarm, 2},
	}
	for _, tt := range tests {
		if got := Priority(tt.severity); got != tt.want {
			t.Errorf("Priority(%s) = %d, want %d", tt.severity, got, tt.want)
		}
	}
}

// recordingServer captures every decoded request and fails users listed in reject.
func recordingServer(t *testing.T, reject map[string]bool) (*httptest.Server, func() []message) {
	t.Helper()
	var mu sync.Mutex
	var got []message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var msg message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()

		if reject[msg.User] {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":0,"errors":["user identifier is invalid"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":1}`))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []message {
		mu.Lock()
		defer mu.Unlock()
		return append([]message(nil), got...)
	}
}

func TestProvider_Send(t *testing.T) {
	srv, requests := recordingServer(t, map[string]bool{"bad": true})

	p, err := New(Config{
		Token: "app-token",
		Recipients: []communication.Recipient{
			{Target: "good", Level: alert.Info},
			{Target: "bad", Level: alert.Info},
			{Target: "other", Level: alert.Info},
		},
		Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ev, _ := alert.NewAt("network", "router unreachable", alert.Critical, time.Unix(1700000000, 0))
	results, err := p.Send(context.Background(), ev, []int{0, 1})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if results[0] != nil {
		t.Errorf("results[0] = %v, want nil", results[0])
	}
	if results[1] == nil {
		t.Error("results[1] = nil, want error for rejected user")
	}
	if _, ok := results[2]; ok {
		t.Error("untargeted recipient should not appear in results")
	}

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("server received %d requests, want 2", len(reqs))
	}
	for _, msg := range reqs {
		if msg.Token != "app-token" {
			t.Errorf("token = %q, want app-token", msg.Token)
		}
		if msg.Priority != 1 {
			t.Errorf("priority = %d, want 1", msg.Priority)
		}
		if msg.Retry != 0 || msg.Expire != 0 {
			t.Errorf("retry/expire = %d/%d, want unset for non-alarm", msg.Retry, msg.Expire)
		}
		if msg.Title != "CRITICAL alert from network" {
			t.Errorf("title = %q", msg.Title)
		}
		if msg.Timestamp == nil || *msg.Timestamp != 1700000000 {
			t.Errorf("timestamp = %v, want 1700000000", msg.Timestamp)
		}
	}
}

func TestProvider_Send_AlarmSetsRetryAndExpire(t *testing.T) {
	srv, requests := recordingServer(t, nil)

	p, err := New(Config{
		Token:      "app-token",
		Recipients: []communication.Recipient{{Target: "guard", Level: alert.Alarm}},
		Endpoint:   srv.URL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ev, _ := alert.New("cctv-webhook", "motion detected", alert.Alarm)
	if _, err := p.Send(context.Background(), ev, []int{0}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("server received %d requests, want 1", len(reqs))
	}
	if reqs[0].Priority != 2 || reqs[0].Retry != 60 || reqs[0].Expire != 10800 {
		t.Errorf("emergency fields = priority %d retry %d expire %d", reqs[0].Priority, reqs[0].Retry, reqs[0].Expire)
	}
}

func TestProvider_Send_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	p, err := New(Config{
		Token:      "app-token",
		Recipients: []communication.Recipient{{Target: "u1"}},
		Endpoint:   endpoint,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ev, _ := alert.New("test", "message", alert.Warning)
	results, err := p.Send(context.Background(), ev, []int{0})
	if err != nil {
		t.Fatalf("Send() error = %v, per-recipient failures must not be returned", err)
	}
	if results[0] == nil {
		t.Error("results[0] = nil, want transport error")
	}
}

func TestProvider_Send_WithRegistry(t *testing.T) {
	srv, requests := recordingServer(t, nil)

	p, err := New(Config{
		Token: "app-token",
		Recipients: []communication.Recipient{
			{Target: "night-shift", Level: alert.Warning},
			{Target: "owner", Level: alert.Alarm},
		},
		Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r, err := communication.NewRegistryWithProviders([]communication.Provider{p}, communication.Options{RetryMax: 2})
	if err != nil {
		t.Fatalf("NewRegistryWithProviders() error = %v", err)
	}

	ev, _ := alert.New("systemd", "nginx restarted", alert.Warning)
	out := r.Broadcast(context.Background(), ev)

	if out.Delivered() != 1 {
		t.Errorf("Delivered() = %d, want 1", out.Delivered())
	}
	reqs := requests()
	if len(reqs) != 1 || reqs[0].User != "night-shift" {
		t.Errorf("requests = %+v, want one to night-shift", reqs)
	}
}
