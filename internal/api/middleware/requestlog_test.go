package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger_LogsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/products/{id}/fused", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	h := RequestLogger{Logger: zap.New(core), Next: mux}

	req := httptest.NewRequest(http.MethodGet, "/v1/products/42/fused", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeaderKey) == "" {
		t.Fatalf("expected request id header")
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "GET /v1/products/{id}/fused" {
		t.Fatalf("unexpected route field: %v", fields["route"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected status field: %v", fields["status"])
	}
}

func TestRequestLogger_KeepsIncomingRequestID(t *testing.T) {
	h := RequestLogger{Next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeaderKey, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeaderKey); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
}
