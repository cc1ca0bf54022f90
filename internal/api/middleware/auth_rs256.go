package middleware

import (
	"crypto/rsa"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/api/actorctx"
	"github.com/ETAnderson/catalogsync/internal/api/auth"
)

type AuthMiddleware struct {
	Env       string
	PublicKey *rsa.PublicKey
	Logger    *zap.Logger
	Next      http.Handler
}

func (m AuthMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Next == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))

	// In dev, requests without a token keep the actor ActorMiddleware chose.
	if isDev(m.Env) && authz == "" {
		m.Next.ServeHTTP(w, r)
		return
	}

	if !strings.HasPrefix(authz, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	if tokenString == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "empty bearer token")
		return
	}

	claims, err := auth.ParseAndValidateRS256(tokenString, m.PublicKey)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}

	ctx := actorctx.WithActor(r.Context(), claims.Actor())
	m.Next.ServeHTTP(w, r.WithContext(ctx))
}
