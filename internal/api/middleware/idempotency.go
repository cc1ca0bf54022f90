package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/api/actorctx"
	"github.com/ETAnderson/catalogsync/internal/state"
)

// HTTP header used for idempotent requests
const IdempotencyHeaderKey = "Idempotency-Key"

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Keys are scoped to the endpoint and the actor; server
// errors are not stored so the client can retry them.
type IdempotencyMiddleware struct {
	Store  state.IdempotencyStore
	TTL    time.Duration
	Logger *zap.Logger
	Next   http.Handler
}

func (m IdempotencyMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Next == nil || m.Store == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		// continue
	default:
		m.Next.ServeHTTP(w, r)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get(IdempotencyHeaderKey))
	if idemKey == "" {
		m.Next.ServeHTTP(w, r)
		return
	}

	endpoint := r.Method + " " + strings.TrimSpace(r.URL.Path)
	keyHash := state.HashIdempotencyKey(actorctx.Actor(r.Context()) + "\x00" + idemKey)

	rec, ok, err := m.Store.GetIdempotency(r.Context(), endpoint, keyHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "idempotency_lookup_failed", err.Error())
		return
	}

	if ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Idempotent-Replayed", "true")

		status := rec.StatusCode
		if status == 0 {
			status = http.StatusOK
		}

		w.WriteHeader(status)
		_, _ = w.Write(rec.BodyJSON)
		return
	}

	if r.Body != nil {
		reqBody, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "read_failed", err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	rr := httptest.NewRecorder()
	m.Next.ServeHTTP(rr, r)

	for k, vals := range rr.Header() {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}

	status := rr.Code
	if status == 0 {
		status = http.StatusOK
	}

	w.WriteHeader(status)
	_, _ = w.Write(rr.Body.Bytes())

	if status >= http.StatusInternalServerError {
		return
	}

	ttl := m.TTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	now := time.Now().UTC()
	respRec := state.IdempotencyRecord{
		StatusCode: status,
		BodyJSON:   rr.Body.Bytes(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	// The response is already written; a failed write only costs the replay.
	if err := m.Store.PutIdempotency(r.Context(), endpoint, keyHash, respRec); err != nil && m.Logger != nil {
		m.Logger.Warn("idempotency store failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
