// Package health provides the HTTP liveness, readiness and status handlers of
// the diagnostics listener.
//
// The package exposes three endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /status: the detector's counters as JSON, when a [StatusSource] is set.
//
// Health responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/micvad/internal/detector"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the component is
// healthy and an error describing the failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "detector"). It appears as a
	// key in the JSON response.
	Name string

	// Check probes the component. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusSource exposes a detector status snapshot. [*detector.Detector]
// implements it.
type StatusSource interface {
	Status() detector.Status
}

// DetectorCheck returns a [Checker] that passes while the detector is running
// and its last cycle completed within stallAfter. A cycle normally completes
// every window, so a longer gap means the source stopped delivering samples.
func DetectorCheck(src StatusSource, stallAfter time.Duration, now func() time.Time) Checker {
	if now == nil {
		now = time.Now
	}
	return Checker{
		Name: "detector",
		Check: func(context.Context) error {
			st := src.Status()
			if st.State != detector.StateRunning {
				return fmt.Errorf("detector is %s", st.State)
			}
			if st.LastCycle.IsZero() {
				return fmt.Errorf("no capture cycle completed yet")
			}
			if age := now().Sub(st.LastCycle); age > stallAfter {
				return fmt.Errorf("last capture cycle completed %s ago", age.Round(time.Millisecond))
			}
			return nil
		},
	}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// statusBody is the JSON response body for /status.
type statusBody struct {
	State       string     `json:"state"`
	Cycles      uint64     `json:"cycles"`
	Frames      uint64     `json:"frames"`
	VoiceFrames uint64     `json:"voice_frames"`
	LastCycle   *time.Time `json:"last_cycle,omitempty"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	status   StatusSource
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// WithStatus makes the handler serve src's snapshot on /status.
func (h *Handler) WithStatus(src StatusSource) *Handler {
	h.status = src
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every registered [Checker] passes. Each
// checker is given a context with a [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Status writes the detector snapshot, or 404 when no source is set.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.NotFound(w, r)
		return
	}
	st := h.status.Status()
	body := statusBody{
		State:       st.State.String(),
		Cycles:      st.Cycles,
		Frames:      st.Frames,
		VoiceFrames: st.VoiceFrames,
	}
	if !st.LastCycle.IsZero() {
		body.LastCycle = &st.LastCycle
	}
	writeJSON(w, http.StatusOK, body)
}

// Register adds the /healthz, /readyz and /status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
