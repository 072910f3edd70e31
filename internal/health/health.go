// Package health serves the liveness and readiness probes for the captioning
// service.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// runs every registered [Checker], typically the transcript database and the
// configured provider backends, and answers 200 only when all of them pass.
// Both endpoints reply with a JSON body carrying a "status" field and, for
// readiness, a per-check "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve traffic and must honor context cancellation.
type Checker struct {
	// Name keys the check's entry in the readiness response, for example
	// "database".
	Name string

	Check func(ctx context.Context) error
}

// result is the JSON body of both probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. The check list is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checks []Checker
}

// New creates a Handler running the given checkers, in order, on every
// readiness request.
func New(checks ...Checker) *Handler {
	own := make([]Checker, len(checks))
	copy(own, checks)
	return &Handler{checks: own}
}

// Healthz is the liveness probe. It unconditionally reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe. Every check runs with its own
// [checkTimeout] deadline; one failing check fails the whole probe with 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for _, c := range h.checks {
		if err := h.runCheck(r.Context(), c); err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	h.respond(w, status, res)
}

func (h *Handler) runCheck(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) respond(w http.ResponseWriter, status int, res result) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
