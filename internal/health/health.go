// Package health serves the liveness and readiness probes of a hark process.
//
// /healthz answers 200 while the process can serve HTTP. /readyz runs every
// registered [Check] concurrently and answers 200 unless a required check
// fails. A failing optional check, such as the wake journal, marks the
// process degraded: detection still works, so it stays ready.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// DefaultTimeout bounds each probe unless [WithTimeout] says otherwise.
const DefaultTimeout = 3 * time.Second

// ErrNotRunning is reported by [Flag] checks whose flag is false.
var ErrNotRunning = errors.New("health: not running")

// Check is one readiness probe.
type Check struct {
	// Name labels the probe in the report, e.g. "detector".
	Name string

	// Probe returns nil when the dependency is usable. It must return once
	// ctx is done.
	Probe func(ctx context.Context) error

	// Optional checks degrade the report instead of failing it.
	Optional bool
}

// Flag returns a required check that passes while running reports true.
func Flag(name string, running func() bool) Check {
	return Check{
		Name: name,
		Probe: func(context.Context) error {
			if !running() {
				return ErrNotRunning
			}
			return nil
		},
	}
}

// Result is the outcome of one check.
type Result struct {
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Error   string  `json:"error,omitempty"`
	Seconds float64 `json:"seconds"`
}

// Report is the /readyz response body.
type Report struct {
	Status string   `json:"status"`
	Checks []Result `json:"checks,omitempty"`
}

// Handler evaluates a fixed set of checks.
type Handler struct {
	checks  []Check
	timeout time.Duration
}

// Option configures a [Handler].
type Option func(*Handler)

// WithTimeout bounds each probe. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New returns a handler for checks. The slice is copied.
func New(checks []Check, opts ...Option) *Handler {
	h := &Handler{checks: append([]Check(nil), checks...), timeout: DefaultTimeout}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Evaluate runs every check concurrently and returns the results in
// registration order.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]Result, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			start := time.Now()
			err := c.Probe(cctx)
			r := Result{Name: c.Name, Status: StatusOK, Seconds: time.Since(start).Seconds()}
			if err != nil {
				r.Status, r.Error = StatusFail, err.Error()
				if c.Optional {
					r.Status = StatusDegraded
				}
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Checks: results}
	for _, r := range results {
		switch {
		case r.Status == StatusFail:
			rep.Status = StatusFail
		case r.Status == StatusDegraded && rep.Status == StatusOK:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Report{Status: StatusOK})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		rep := h.Evaluate(r.Context())
		code := http.StatusOK
		if rep.Status == StatusFail {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
