package handlers

import (
	"database/sql"
	"net/http"

	"github.com/ETAnderson/catalogsync/internal/db"
)

// HealthHandler answers liveness checks. With a DB set it also pings the
// database and reports 503 when that fails.
type HealthHandler struct {
	DB *sql.DB
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := db.Ping(r.Context(), h.DB); err != nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db unavailable\n"))
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
