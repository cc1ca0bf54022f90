package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/api/actorctx"
	"github.com/ETAnderson/catalogsync/internal/metrics"
)

const RequestIDHeaderKey = "X-Request-ID"

// RequestLogger tags every request with an id, logs it and records its
// latency under the matched route pattern.
type RequestLogger struct {
	Logger *zap.Logger
	Next   http.Handler
}

func (m RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Next == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	requestID := r.Header.Get(RequestIDHeaderKey)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeaderKey, requestID)

	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	m.Next.ServeHTTP(sw, r)
	latency := time.Since(start)

	// ServeMux fills in Pattern on the way through.
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	metrics.ObserveRequest(r.Method, route, sw.code(), latency)

	if m.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("route", route),
		zap.Int("status", sw.code()),
		zap.Duration("latency", latency),
		zap.String("actor", actorctx.Actor(r.Context())),
	}
	if sw.code() >= http.StatusInternalServerError {
		m.Logger.Error("request failed", fields...)
		return
	}
	m.Logger.Info("request", fields...)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
