package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/voicekeeper/db"
	"github.com/onnwee/voicekeeper/registry"
	"github.com/onnwee/voicekeeper/server"
	"github.com/onnwee/voicekeeper/testutil"
)

func TestHealthz(t *testing.T) {
	mux := server.NewMux(testutil.SetupSQLite(t), registry.New())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestReadyzNotReadyBeforeGatewayUp(t *testing.T) {
	mux := server.NewMux(testutil.SetupSQLite(t), registry.New())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["failed_check"] != "gateway" {
		t.Errorf("failed_check = %q, want gateway", body["failed_check"])
	}
}

func TestReadyzReadyOnceGatewayUp(t *testing.T) {
	database := testutil.SetupSQLite(t)
	if err := db.SetKV(context.Background(), database, "gateway_state", "up"); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	mux := server.NewMux(database, registry.New())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusReportsActiveChannels(t *testing.T) {
	database := testutil.SetupSQLite(t)
	members := registry.New()
	members.Set("u1", "chan-1")
	members.Set("u2", "chan-2")
	if err := db.SetKV(context.Background(), database, "last_sweep_removed", "3"); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	mux := server.NewMux(database, members)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["active_channels"].(float64) != 2 {
		t.Errorf("active_channels = %v, want 2", body["active_channels"])
	}
	if body["last_sweep_removed"] != "3" {
		t.Errorf("last_sweep_removed = %v, want 3", body["last_sweep_removed"])
	}
	if body["gateway"] != "down" {
		t.Errorf("gateway = %v, want down default", body["gateway"])
	}
}

func TestCorrelationHeader(t *testing.T) {
	mux := server.NewMux(testutil.SetupSQLite(t), registry.New())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("correlation id not generated")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q, want passthrough corr-123", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := server.NewMux(testutil.SetupSQLite(t), registry.New())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
