package middleware

import (
	"net/http"
	"strings"

	"github.com/ETAnderson/catalogsync/internal/api/actorctx"
)

const ActorHeaderKey = "X-Actor"

// ActorMiddleware seeds the request actor. Only dev honours the X-Actor
// header; elsewhere the actor comes from the bearer token.
type ActorMiddleware struct {
	Env  string
	Next http.Handler
}

func (m ActorMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Next == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	actor := actorctx.DefaultActor
	if isDev(m.Env) {
		if raw := strings.TrimSpace(r.Header.Get(ActorHeaderKey)); raw != "" {
			if len(raw) > 128 {
				writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor must be at most 128 characters")
				return
			}
			actor = raw
		}
	}

	ctx := actorctx.WithActor(r.Context(), actor)
	m.Next.ServeHTTP(w, r.WithContext(ctx))
}

func isDev(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "dev")
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":` + quote(code) + `,"message":` + quote(message) + `}`))
}
