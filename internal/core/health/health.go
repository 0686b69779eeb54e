// Package health serves liveness and run-progress probes.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ProgressReporter interface {
	Progress() (stage string, done bool, err error)
}

// Tracker records the current stage of one run. The zero value is ready to use.
type Tracker struct {
	mu    sync.Mutex
	stage string
	done  bool
	err   error
}

func (t *Tracker) SetStage(stage string) {
	t.mu.Lock()
	t.stage = stage
	t.mu.Unlock()
}

// Finish marks the run over; err is the run's outcome.
func (t *Tracker) Finish(err error) {
	t.mu.Lock()
	t.done, t.err = true, err
	t.mu.Unlock()
}

func (t *Tracker) Progress() (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage, t.done, t.err
}

// Readiness answers 200 while the run is healthy (running or finished
// cleanly) and 503 once it has failed.
func Readiness(pr ProgressReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Stage  string `json:"stage,omitempty"`
			Error  string `json:"error,omitempty"`
		}
		stage, done, err := pr.Progress()
		out := resp{Status: "running", Stage: stage}
		switch {
		case done && err != nil:
			out.Status, out.Error = "failed", err.Error()
		case done:
			out.Status = "done"
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status == "failed" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
