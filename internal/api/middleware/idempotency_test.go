package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ETAnderson/catalogsync/internal/api/actorctx"
	"github.com/ETAnderson/catalogsync/internal/state"
)

func countingHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	})
}

func postWithKey(t *testing.T, h http.Handler, actor string, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", bytes.NewBufferString(`{"supplier_id":1}`))
	req = req.WithContext(actorctx.WithActor(req.Context(), actor))
	if key != "" {
		req.Header.Set(IdempotencyHeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int32
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusOK),
	}

	rec1 := postWithKey(t, mw, "ops", "abc123")
	rec2 := postWithKey(t, mw, "ops", "abc123")

	if calls != 1 {
		t.Fatalf("expected underlying handler called once, got %d", calls)
	}
	if rec1.Body.String() != rec2.Body.String() {
		t.Fatalf("expected cached response match")
	}
	if rec2.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
}

func TestIdempotencyMiddleware_NoKeyPassesThrough(t *testing.T) {
	var calls int32
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusOK),
	}

	postWithKey(t, mw, "ops", "")
	postWithKey(t, mw, "ops", "")

	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestIdempotencyMiddleware_IsActorScoped(t *testing.T) {
	var calls int32
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusOK),
	}

	a := postWithKey(t, mw, "alice", "same-key")
	b := postWithKey(t, mw, "bob", "same-key")

	if calls != 2 {
		t.Fatalf("expected separate executions per actor, got %d", calls)
	}
	if a.Body.String() == b.Body.String() {
		t.Fatalf("expected different bodies, got %s", a.Body.String())
	}
}

func TestIdempotencyMiddleware_DoesNotStoreServerErrors(t *testing.T) {
	var calls int32
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusServiceUnavailable),
	}

	postWithKey(t, mw, "ops", "k")
	rec := postWithKey(t, mw, "ops", "k")

	if calls != 2 {
		t.Fatalf("expected retry to reach handler, got %d calls", calls)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestIdempotencyMiddleware_GetIsNotCached(t *testing.T) {
	var calls int32
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusOK),
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/imports", nil)
		req.Header.Set(IdempotencyHeaderKey, "k")
		mw.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
