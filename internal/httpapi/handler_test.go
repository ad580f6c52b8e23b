package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"policyengine.dev/core/internal/httpapi"
	"policyengine.dev/core/internal/store"
)

type fakeSnapshotReader struct {
	rows map[string]store.TaskSnapshotRow
}

func (f fakeSnapshotReader) GetSnapshot(_ context.Context, instanceID string) (store.TaskSnapshotRow, error) {
	row, ok := f.rows[instanceID]
	if !ok {
		return store.TaskSnapshotRow{}, store.ErrNotFound
	}
	return row, nil
}

func newTestEngine(h *httpapi.Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	httpapi.SetupRoutes(engine, h)
	return engine
}

func TestHealthzReturnsOK(t *testing.T) {
	engine := newTestEngine(&httpapi.Handler{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestGetSnapshotReturnsServiceUnavailableWhenStoreNotConfigured(t *testing.T) {
	engine := newTestEngine(&httpapi.Handler{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/django__django-12325/snapshot", nil)

	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestGetSnapshotReturnsNotFoundForUnknownInstance(t *testing.T) {
	h := &httpapi.Handler{Snapshots: fakeSnapshotReader{rows: map[string]store.TaskSnapshotRow{}}}
	engine := newTestEngine(h)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/no-such-instance/snapshot", nil)

	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetSnapshotReturnsStoredPayload(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"state": "VERIFY"})
	h := &httpapi.Handler{Snapshots: fakeSnapshotReader{
		rows: map[string]store.TaskSnapshotRow{
			"django__django-12325": {InstanceID: "django__django-12325", Snapshot: payload},
		},
	}}
	engine := newTestEngine(h)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/django__django-12325/snapshot", nil)

	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != string(payload) {
		t.Errorf("body = %s, want %s", rec.Body.String(), payload)
	}
}

func TestStreamEventsReturnsServiceUnavailableWhenRedisNotConfigured(t *testing.T) {
	engine := newTestEngine(&httpapi.Handler{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/django__django-12325/events", nil)

	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
