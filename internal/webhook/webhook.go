// Package webhook exposes the HTTP listener that turns CCTV recorder
// callbacks into alerts, along with health and metrics endpoints.
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/pkg/metrics"
)

// CCTVSource is the source recorded on alerts raised by the CCTV webhook.
const CCTVSource = "cctv-webhook"

const maxBodyBytes = 64 << 10

// Submitter accepts alerts for dispatch. *dispatcher.Sender implements it.
type Submitter interface {
	Submit(event alert.Event) error
}

// Options configures the handler.
type Options struct {
	Sender    Submitter
	Token     string // empty disables /cctv
	Collector *metrics.Collector
	Logger    *slog.Logger
	Now       func() time.Time
}

// cctvEvent is the recorder's callback body.
type cctvEvent struct {
	Input1    *string `json:"Input1"`
	ExtraText string  `json:"ExtraText"`
}

type handler struct {
	sender    Submitter
	token     string
	collector *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler returns the mux serving /cctv, /healthz and /metrics.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "webhook")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &handler{
		sender:    opts.Sender,
		token:     opts.Token,
		collector: opts.Collector,
		logger:    opts.Logger,
		now:       opts.Now,
	}

	mux := http.NewServeMux()
	if h.token != "" && h.sender != nil {
		mux.HandleFunc("/cctv", h.handleCCTV)
	}
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/metrics", h.handleMetrics)
	return mux
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (h *handler) handleCCTV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		writeError(w, http.StatusBadRequest, "Missing required header")
		return
	}
	if subtle.ConstantTimeCompare([]byte(auth), []byte(h.token)) != 1 {
		h.logger.Warn("Rejected CCTV webhook with invalid authorization", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "Invalid Authorization header")
		return
	}

	var payload cctvEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	severity := alert.Critical
	if payload.Input1 != nil && *payload.Input1 != "" {
		severity = alert.Alarm
	}
	h.logger.Info("Received CCTV webhook",
		"severity", severity.String(),
		"extra_text", payload.ExtraText,
	)

	ev, err := alert.NewAt(CCTVSource, payload.ExtraText, severity, h.now())
	if err != nil {
		h.logger.Error("Failed to create CCTV alert", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if err := h.sender.Submit(ev); err != nil {
		h.logger.Error("Failed to submit CCTV alert", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Alert dispatcher unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "CCTV webhook processed",
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.collector == nil {
		writeError(w, http.StatusNotFound, "Metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.collector.GetSnapshot())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success":       false,
		"error_message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
