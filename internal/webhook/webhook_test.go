package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/pkg/metrics"
)

const testToken = "s3cret"

type recordingSubmitter struct {
	events []alert.Event
	err    error
}

func (r *recordingSubmitter) Submit(ev alert.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func newTestHandler(sub Submitter, collector *metrics.Collector) http.Handler {
	return NewHandler(Options{
		Sender:    sub,
		Token:     testToken,
		Collector: collector,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestCCTV(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		auth         string
		body         string
		wantStatus   int
		wantSeverity alert.Severity
		wantError    string
	}{
		{
			name:         "input triggers alarm",
			method:       http.MethodPost,
			auth:         testToken,
			body:         `{"Input1":"test","ExtraText":"Camera 3 line crossing"}`,
			wantStatus:   http.StatusOK,
			wantSeverity: alert.Alarm,
		},
		{
			name:         "no input is critical",
			method:       http.MethodPost,
			auth:         testToken,
			body:         `{"ExtraText":"Camera 3 video loss"}`,
			wantStatus:   http.StatusOK,
			wantSeverity: alert.Critical,
		},
		{
			name:         "empty input is critical",
			method:       http.MethodPost,
			auth:         testToken,
			body:         `{"Input1":"","ExtraText":"Disk error"}`,
			wantStatus:   http.StatusOK,
			wantSeverity: alert.Critical,
		},
		{
			name:       "missing authorization",
			method:     http.MethodPost,
			body:       `{"ExtraText":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required header",
		},
		{
			name:       "wrong authorization",
			method:     http.MethodPost,
			auth:       "guess",
			body:       `{"ExtraText":"x"}`,
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid Authorization header",
		},
		{
			name:       "invalid body",
			method:     http.MethodPost,
			auth:       testToken,
			body:       `{"ExtraText":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "wrong method",
			method:     http.MethodGet,
			auth:       testToken,
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "Method not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &recordingSubmitter{}
			h := newTestHandler(sub, nil)

			req := httptest.NewRequest(tt.method, "/cctv", strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decodeBody(t, rec)

			if tt.wantError != "" {
				if body["success"] != false || body["error_message"] != tt.wantError {
					t.Errorf("body = %v, want error %q", body, tt.wantError)
				}
				if len(sub.events) != 0 {
					t.Errorf("submitted %d alerts, want 0", len(sub.events))
				}
				return
			}

			if body["status"] != "success" || body["message"] != "CCTV webhook processed" {
				t.Errorf("body = %v", body)
			}
			if len(sub.events) != 1 {
				t.Fatalf("submitted %d alerts, want 1", len(sub.events))
			}
			ev := sub.events[0]
			if ev.Source != CCTVSource || ev.Severity != tt.wantSeverity {
				t.Errorf("alert = %+v, want source %s severity %s", ev, CCTVSource, tt.wantSeverity)
			}
			if ev.Timestamp == nil || *ev.Timestamp != 1700000000 {
				t.Errorf("alert timestamp = %v, want 1700000000", ev.Timestamp)
			}
		})
	}
}

func TestCCTV_DispatcherClosed(t *testing.T) {
	h := newTestHandler(&recordingSubmitter{err: errors.New("alert queue closed")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/cctv", strings.NewReader(`{"ExtraText":"x"}`))
	req.Header.Set("Authorization", testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestCCTV_DisabledWithoutToken(t *testing.T) {
	h := NewHandler(Options{Sender: &recordingSubmitter{}})

	req := httptest.NewRequest(http.MethodPost, "/cctv", strings.NewReader(`{"ExtraText":"x"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(&recordingSubmitter{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestMetrics(t *testing.T) {
	collector := metrics.NewCollector("security-alerts", nil)
	collector.RecordReceived()
	collector.RecordReceived()

	t.Run("snapshot", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestHandler(&recordingSubmitter{}, collector).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var snap metrics.ServiceMetrics
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.ServiceName != "security-alerts" || snap.AlertsReceived != 2 {
			t.Errorf("snapshot = %+v", snap)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestHandler(&recordingSubmitter{}, nil).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestNewServer(t *testing.T) {
	srv := NewServer("127.0.0.1:9050", http.NewServeMux())
	if srv.Addr != "127.0.0.1:9050" || srv.ReadHeaderTimeout == 0 {
		t.Errorf("server = %+v", srv)
	}
}
