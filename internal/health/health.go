// Package health serves the liveness and readiness probes of the sidecar.
//
//   - GET /healthz answers 200 whenever the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] and answers 200 only when
//     all of them pass.
//
// The readiness body is a JSON object with a "status" field ("ok" or "fail")
// and a per-check result map, so a failing probe names the subsystem at
// fault.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each individual readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil while the subsystem
// can do useful work and an error describing the failure otherwise.
type Checker struct {
	// Name keys the check's entry in the /readyz response (e.g. "audio",
	// "tts").
	Name string

	// Check probes the subsystem. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// checkResult is one entry of the /readyz response.
type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// probeResponse is the JSON body of both probe endpoints.
type probeResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction; Handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200. A process that reached the handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResponse{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under its own timeout, and
// answers 503 if any of them fail.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]checkResult, len(h.checkers))
		allOK  = true
	)

	g, gctx := errgroup.WithContext(r.Context())
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{Status: "ok", ElapsedMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}

			mu.Lock()
			checks[c.Name] = res
			if err != nil {
				allOK = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := probeResponse{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		resp.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Register adds both probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
