// Package server exposes Echo's localhost HTTP surface: hook intake, health
// introspection, diagnostic SSE streams, manual responses, a test-TTS probe,
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/echovoice/echo/internal/bus"
	"github.com/echovoice/echo/internal/event"
	"github.com/echovoice/echo/internal/health"
	"github.com/echovoice/echo/internal/ingest"
	"github.com/echovoice/echo/internal/observe"
)

// maxBodyBytes caps hook and respond request bodies. Hook payloads carry tool
// output previews and stay well under this.
const maxBodyBytes = 1 << 20

// Speaker exercises the synthesis+playback path for the test-tts diagnostic.
type Speaker interface {
	TestSpeak(ctx context.Context, text string) (int, error)
}

// Responder accepts manual text responses typed through the HTTP surface.
type Responder interface {
	HandleManualResponse(ctx context.Context, sessionID, text string) error
}

// Health is the GET /health response body. Every subsystem reports its state
// truthfully; degraded providers show up as false here, never as errors.
type Health struct {
	Status               string `json:"status"`
	Version              string `json:"version"`
	Subscribers          int    `json:"subscribers"`
	NarrationSubscribers int    `json:"narration_subscribers"`
	EventsDropped        uint64 `json:"events_dropped"`

	LLMAvailable bool   `json:"llm_available"`
	TTSProvider  string `json:"tts_provider"`
	TTSState     string `json:"tts_state"`
	TTSAvailable bool   `json:"tts_available"`

	AudioAvailable  bool `json:"audio_available"`
	RemoteConnected bool `json:"remote_connected"`

	STTProvider       string `json:"stt_provider"`
	STTState          string `json:"stt_state"`
	STTAvailable      bool   `json:"stt_available"`
	MicAvailable      bool   `json:"mic_available"`
	Listening         bool   `json:"listening"`
	DispatchAvailable bool   `json:"dispatch_available"`
	DispatchMethod    string `json:"dispatch_method,omitempty"`

	AlertActive bool `json:"alert_active"`
}

// StatusFunc reports current subsystem availability. The server fills in the
// overall status and the bus counters itself.
type StatusFunc func(ctx context.Context) Health

// Deps carries everything the HTTP surface needs from the pipeline.
type Deps struct {
	Activity   *bus.Bus[event.Activity]
	Narrations *bus.Bus[event.Narration]
	Responses  *bus.Bus[event.Response]

	Speaker     Speaker
	Responder   Responder
	TTSProvider string

	Status  StatusFunc
	Metrics *observe.Metrics

	// Checkers feed the /readyz readiness probe.
	Checkers []health.Checker

	Version string
}

// Server is the localhost HTTP front of the pipeline.
type Server struct {
	deps Deps
	srv  *http.Server
}

// New builds the server for the given listen address.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /event", s.handleEvent)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /respond", s.handleRespond)
	mux.HandleFunc("POST /test-tts", s.handleTestTTS)
	mux.HandleFunc("GET /events", streamSSE(deps.Activity, func(ev event.Activity) string {
		return string(ev.Type)
	}))
	mux.HandleFunc("GET /narrations", streamSSE(deps.Narrations, func(n event.Narration) string {
		return string(n.SourceEventType)
	}))
	mux.HandleFunc("GET /responses", streamSSE(deps.Responses, func(event.Response) string {
		return "response"
	}))
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(deps.Checkers...).Register(mux)

	var handler http.Handler = mux
	if deps.Metrics != nil {
		handler = observe.Middleware(deps.Metrics)(mux)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving in the background. The returned channel yields the
// terminal serve error, nil on clean shutdown.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()
	return errc
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleEvent ingests one raw hook payload. The body shape varies per hook,
// so parsing failures are reported in the response instead of a 4xx: the hook
// shell script must never make the assistant retry.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "reason": "read body"})
		return
	}

	ev, err := ingest.ParseHook(raw)
	switch {
	case errors.Is(err, ingest.ErrUnrecognizedHook):
		slog.Warn("unrecognized hook event")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unrecognized event"})
		return
	case err != nil:
		slog.Warn("malformed hook payload", "err", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "reason": "invalid json"})
		return
	}

	s.deps.Activity.Emit(ev)
	s.countIngested(r.Context(), ev.Type)
	slog.Info("hook event ingested", "type", ev.Type, "session_id", ev.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "event_type": string(ev.Type)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var h Health
	if s.deps.Status != nil {
		h = s.deps.Status(r.Context())
	}
	h.Status = "ok"
	h.Version = s.deps.Version
	h.Subscribers = s.deps.Activity.SubscriberCount()
	h.NarrationSubscribers = s.deps.Narrations.SubscriberCount()
	h.EventsDropped = s.deps.Activity.DropCount() + s.deps.Narrations.DropCount() + s.deps.Responses.DropCount()
	writeJSON(w, http.StatusOK, h)
}

// respondRequest is the POST /respond body.
type respondRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// handleRespond types a manual text answer into the assistant's terminal.
// Like /event it always answers 200 with a status field.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "reason": "invalid json"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "reason": "missing session_id"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "reason": "missing text"})
		return
	}

	status := "ok"
	if err := s.deps.Responder.HandleManualResponse(r.Context(), req.SessionID, req.Text); err != nil {
		slog.Warn("manual response dispatch failed", "err", err, "session_id", req.SessionID)
		status = "dispatch_failed"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     status,
		"text":       req.Text,
		"session_id": req.SessionID,
	})
}

// testTTSRequest is the POST /test-tts body. Text is optional.
type testTTSRequest struct {
	Text string `json:"text"`
}

// handleTestTTS exercises the synthesize+play path end to end and reports the
// synthesized byte count.
func (s *Server) handleTestTTS(w http.ResponseWriter, r *http.Request) {
	var req testTTSRequest
	// An empty body is fine; the default phrase is used.
	_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if req.Text == "" {
		req.Text = "Echo test. One, two, three."
	}

	n, err := s.deps.Speaker.TestSpeak(r.Context(), req.Text)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "error", "provider": s.deps.TTSProvider, "reason": err.Error(),
		})
		return
	}
	status := "ok"
	if n == 0 {
		status = "no_audio"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status, "provider": s.deps.TTSProvider, "bytes": n,
	})
}

func (s *Server) countIngested(ctx context.Context, typ event.Type) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.EventsIngested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", string(typ))))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
