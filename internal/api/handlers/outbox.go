package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/state"
)

type OutboxListHandler struct {
	Publisher Publisher
}

func (h OutboxListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := state.OutboxFilter{Limit: parseLimit(r, defaultListLimit, maxListLimit)}

	if v := strings.TrimSpace(q.Get("status")); v != "" {
		status := domain.OutboxStatus(v)
		switch status {
		case domain.OutboxPending, domain.OutboxProcessing, domain.OutboxSuccess, domain.OutboxError:
			f.Status = status
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be pending, processing, success or error")
			return
		}
	}

	if v := strings.TrimSpace(q.Get("product_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
			return
		}
		f.ProductID = id
	}

	events, err := h.Publisher.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_outbox_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": events,
	})
}

// Requeuer is satisfied by *outbox.Housekeeper.
type Requeuer interface {
	RequeueErrors(ctx context.Context, maxRetries int) (int64, error)
}

// OutboxRequeueHandler moves errored events back to pending. The body is
// optional; {"max_retries": N} overrides the configured ceiling.
type OutboxRequeueHandler struct {
	Housekeeper Requeuer
	MaxRetries  int
}

func (h OutboxRequeueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxRetries *int `json:"max_retries"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	maxRetries := h.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	if maxRetries < 0 {
		writeError(w, http.StatusBadRequest, "invalid_max_retries", "max_retries must not be negative")
		return
	}

	n, err := h.Housekeeper.RequeueErrors(r.Context(), maxRetries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "requeue_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requeued":    n,
		"max_retries": maxRetries,
	})
}
