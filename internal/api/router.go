// Package api assembles the admin and import HTTP surface.
package api

import (
	"crypto/rsa"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/api/handlers"
	"github.com/ETAnderson/catalogsync/internal/api/middleware"
	"github.com/ETAnderson/catalogsync/internal/metrics"
	"github.com/ETAnderson/catalogsync/internal/state"
)

type Deps struct {
	Env       string
	PublicKey *rsa.PublicKey
	Logger    *zap.Logger

	Store state.Store
	// DB is pinged by /healthz; nil for the memory backend.
	DB *sql.DB

	Importer    handlers.Importer
	Fusion      handlers.Fuser
	Gate        handlers.Gate
	Publisher   handlers.Publisher
	Housekeeper handlers.Requeuer

	MaxRetries     int
	IdempotencyTTL time.Duration
	MaxImportBytes int64
}

// NewRouter serves /healthz and /metrics without authentication; everything
// under /v1/ goes through actor resolution, auth and request logging.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	v1 := http.NewServeMux()

	v1.Handle("POST /v1/imports", middleware.IdempotencyMiddleware{
		Store:  d.Store,
		TTL:    d.IdempotencyTTL,
		Logger: logger,
		Next: handlers.ImportHandler{
			Importer: d.Importer,
			MaxBytes: d.MaxImportBytes,
			Logger:   logger,
		},
	})
	v1.Handle("GET /v1/imports", handlers.ImportListHandler{Store: d.Store})
	v1.Handle("GET /v1/imports/{session}", handlers.ImportDetailHandler{Store: d.Store})

	v1.Handle("GET /v1/products/{id}/fused", handlers.FusedProductHandler{
		Store:  d.Store,
		Fusion: d.Fusion,
	})
	v1.Handle("POST /v1/products/{id}/contributions", handlers.ContributionHandler{
		Store:     d.Store,
		Fusion:    d.Fusion,
		Gate:      d.Gate,
		Publisher: d.Publisher,
		Logger:    logger,
	})
	v1.Handle("GET /v1/products/{id}/readiness", handlers.ReadinessHandler{
		Store:     d.Store,
		Gate:      d.Gate,
		Publisher: d.Publisher,
	})
	v1.Handle("POST /v1/products/{id}/unpublish", handlers.UnpublishHandler{
		Store:     d.Store,
		Publisher: d.Publisher,
		Logger:    logger,
	})

	v1.Handle("PUT /v1/requirements", handlers.RequirementHandler{Gate: d.Gate})

	v1.Handle("GET /v1/outbox", handlers.OutboxListHandler{Publisher: d.Publisher})
	v1.Handle("POST /v1/outbox/requeue", handlers.OutboxRequeueHandler{
		Housekeeper: d.Housekeeper,
		MaxRetries:  d.MaxRetries,
	})

	var chain http.Handler = middleware.RequestLogger{Logger: logger, Next: v1}
	chain = middleware.AuthMiddleware{
		Env:       d.Env,
		PublicKey: d.PublicKey,
		Logger:    logger,
		Next:      chain,
	}
	chain = middleware.ActorMiddleware{Env: d.Env, Next: chain}

	root := http.NewServeMux()
	root.Handle("GET /healthz", handlers.HealthHandler{DB: d.DB})
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("/v1/", chain)

	return root
}
