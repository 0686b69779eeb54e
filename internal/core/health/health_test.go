package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

func readiness(t *testing.T, tr *Tracker) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	Readiness(tr)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rr.Code, body
}

func TestReadiness_FollowsTracker(t *testing.T) {
	var tr Tracker
	tr.SetStage("fuse")
	code, body := readiness(t, &tr)
	if code != http.StatusOK || body["status"] != "running" || body["stage"] != "fuse" {
		t.Fatalf("running: code=%d body=%v", code, body)
	}

	tr.Finish(nil)
	if code, body = readiness(t, &tr); code != http.StatusOK || body["status"] != "done" {
		t.Fatalf("done: code=%d body=%v", code, body)
	}

	tr.Finish(errors.New("clip failed"))
	code, body = readiness(t, &tr)
	if code != http.StatusServiceUnavailable || body["error"] != "clip failed" {
		t.Fatalf("failed: code=%d body=%v", code, body)
	}
}
