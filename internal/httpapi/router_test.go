package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/swarmguard/gateway/internal/actor"
	"github.com/swarmguard/gateway/internal/audit"
	"github.com/swarmguard/gateway/internal/backend"
	"github.com/swarmguard/gateway/internal/config"
	"github.com/swarmguard/gateway/internal/domain"
	"github.com/swarmguard/gateway/internal/store"
)

const testSecret = "test-secret"

func newTestAPI(t *testing.T) (http.Handler, *actor.System) {
	t.Helper()

	boltStore, err := store.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open bbolt store: %v", err)
	}
	t.Cleanup(func() { boltStore.Close() })

	statsStore, err := store.OpenStats(filepath.Join(t.TempDir(), "stats"))
	if err != nil {
		t.Fatalf("open badger store: %v", err)
	}
	t.Cleanup(func() { statsStore.Close() })

	cfg := config.Config{
		WorkerURL:                "http://unused",
		JWTSecret:                testSecret,
		ServerStaleThresholdMs:   3_600_000,
		ServerCleanupIntervalMs:  3_600_000,
		MinHealthCheckIntervalMs: 3_600_000,
		MaxHealthCheckIntervalMs: 3_600_000,
		TaskTimeoutMs:            60_000,
		CleanupDelayMs:           60_000,
		MaxRetries:               2,
	}
	sys := actor.NewSystem(boltStore, statsStore, backend.NewClient(), cfg, audit.NewLog())
	reloadable := config.NewReloadable("")
	return NewAPI(sys, reloadable, testSecret), sys
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func userToken(t *testing.T) string {
	return signToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})
}

func adminToken(t *testing.T) string {
	return signToken(t, jwt.MapClaims{"sub": "admin-1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()})
}

func doRequest(h http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateTaskWithoutTokenIsUnauthorized(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodPost, "/api/task", "", []byte(`{"type":"predict","payload":{}}`))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateTaskNoAvailableServersReturnsFailedTask(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodPost, "/api/task", userToken(t), []byte(`{"type":"predict","payload":{}}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with a FAILED task snapshot, got %d: %s", w.Code, w.Body.String())
	}
	var task domain.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Status != domain.TaskFailed || task.Error != "No available servers" {
		t.Fatalf("expected FAILED with \"No available servers\", got status %s error %q", task.Status, task.Error)
	}
}

func TestCreateTaskRejectsMissingRequiredFields(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodPost, "/api/task", userToken(t), []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRegisterServerRequiresAdminRole(t *testing.T) {
	h, _ := newTestAPI(t)
	body := []byte(`{"name":"worker-1","endpoints":{"predict":"http://x/predict","health":"http://x/health"},"maxConcurrency":4}`)

	w := doRequest(h, http.MethodPost, "/api/servers", userToken(t), body)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-admin token, got %d", w.Code)
	}

	w = doRequest(h, http.MethodPost, "/api/servers", adminToken(t), body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for an admin token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterThenListServers(t *testing.T) {
	h, _ := newTestAPI(t)
	body := []byte(`{"name":"worker-1","endpoints":{"predict":"http://x/predict","health":"http://x/health"},"maxConcurrency":4}`)
	w := doRequest(h, http.MethodPost, "/api/servers", adminToken(t), body)
	if w.Code != http.StatusOK {
		t.Fatalf("register server: %d %s", w.Code, w.Body.String())
	}

	w = doRequest(h, http.MethodGet, "/api/servers", userToken(t), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list servers: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Servers []map[string]any `json:"servers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Servers) != 1 {
		t.Fatalf("expected exactly one server listed, got %d", len(out.Servers))
	}
}

func TestMaintenanceEndpointRequiresAdminRole(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodPut, "/api/servers/srv-1/maintenance", userToken(t), []byte(`{"enabled":true}`))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestGetUnknownTaskReturnsNotFound(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodGet, "/api/task/does-not-exist", userToken(t), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestLoadBalancerStatusReportsEmptyFleet(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodGet, "/api/loadbalancer/status", userToken(t), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["totalServers"].(float64) != 0 {
		t.Fatalf("expected zero servers, got %+v", out)
	}
}

func TestSetAlgorithmRejectsUnknownAlgorithmOverHTTP(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodPut, "/api/loadbalancer/algorithm", adminToken(t), []byte(`{"algorithm":"not-real"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSetAlgorithmRequiresAdmin(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodPut, "/api/loadbalancer/algorithm", userToken(t), []byte(`{"algorithm":"round-robin"}`))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestInvalidTokenIsRejected(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodGet, "/api/servers", "not-a-real-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStatsEndpointReturnsTodaysAggregate(t *testing.T) {
	h, _ := newTestAPI(t)
	w := doRequest(h, http.MethodGet, "/api/stats", userToken(t), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
