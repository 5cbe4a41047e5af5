package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aetherframe/aetherframe/internal/pipeline"
	"github.com/aetherframe/aetherframe/internal/queue"
	"github.com/aetherframe/aetherframe/internal/storage"
	"github.com/aetherframe/aetherframe/internal/store"
)

type testEnv struct {
	srv   *Server
	store *store.Store
	queue *queue.MemoryQueue
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	q := queue.NewMemory(16)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(st, q, pipeline.Builtin(), log)

	samples, err := storage.NewLocalSampleStore(t.TempDir())
	if err != nil {
		t.Fatalf("sample store: %v", err)
	}
	srv.SetSampleStore(samples)

	return &testEnv{srv: srv, store: st, queue: q}
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestAPI_Health(t *testing.T) {
	env := newTestServer(t)
	w := doJSON(t, env.srv, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("body: got %v", resp)
	}
}

func TestAPI_Landing(t *testing.T) {
	env := newTestServer(t)
	w := doJSON(t, env.srv, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["service"] != "aetherframe" {
		t.Errorf("service: got %q", resp["service"])
	}
	for _, key := range []string{"jobs", "pipelines", "samples", "metrics"} {
		if resp[key] == "" {
			t.Errorf("landing missing %q", key)
		}
	}
}

func TestAPI_Status(t *testing.T) {
	env := newTestServer(t)
	doJSON(t, env.srv, "POST", "/jobs", `{"target": "/samples/a.bin"}`)

	w := doJSON(t, env.srv, "GET", "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["service"] != "aetherframe" {
		t.Errorf("service: got %v", resp["service"])
	}
	if resp["queue"] != "reachable" {
		t.Errorf("queue: got %v, want reachable", resp["queue"])
	}
	metrics, _ := resp["metrics"].(map[string]any)
	if metrics == nil {
		t.Fatal("missing metrics block")
	}
	if metrics["jobs_total"] != float64(1) {
		t.Errorf("jobs_total: got %v, want 1", metrics["jobs_total"])
	}
	byStatus, _ := metrics["jobs_by_status"].(map[string]any)
	if byStatus["pending"] != float64(1) {
		t.Errorf("pending count: got %v, want 1", byStatus["pending"])
	}
	if _, ok := byStatus["cancelled"]; !ok {
		t.Error("jobs_by_status should enumerate every status")
	}
}

func TestAPI_StatusQueueUnreachable(t *testing.T) {
	env := newTestServer(t)
	env.queue.Close()

	w := doJSON(t, env.srv, "GET", "/status", "")
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["queue"] != "unreachable" {
		t.Errorf("queue: got %v, want unreachable", resp["queue"])
	}
}

func TestAPI_Metrics(t *testing.T) {
	env := newTestServer(t)
	doJSON(t, env.srv, "POST", "/jobs", `{"target": "/samples/a.bin"}`)
	doJSON(t, env.srv, "POST", "/jobs", `{"target": "/samples/b.bin"}`)

	w := doJSON(t, env.srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "aether_jobs_total 2") {
		t.Errorf("missing total gauge:\n%s", body)
	}
	if !strings.Contains(body, `aether_jobs_status_total{status="pending"} 2`) {
		t.Errorf("missing pending gauge:\n%s", body)
	}
	if !strings.Contains(body, `aether_jobs_status_total{status="failed"} 0`) {
		t.Errorf("missing zero-valued failed gauge:\n%s", body)
	}
}

func TestAPI_UnknownRouteUnderJobs(t *testing.T) {
	env := newTestServer(t)
	w := doJSON(t, env.srv, "GET", "/jobs/not-a-number", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", w.Code)
	}
}
