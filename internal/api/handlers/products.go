package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/api/actorctx"
	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/outbox"
	"github.com/ETAnderson/catalogsync/internal/state"
)

type ProductStore interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, bool, error)
	ListVariants(ctx context.Context, productID int64) ([]domain.Variant, error)
	ListContributions(ctx context.Context, productID int64) ([]domain.SourceContribution, error)
	SetProductActive(ctx context.Context, id int64, active bool) error
}

// Fuser is satisfied by *fusion.Service.
type Fuser interface {
	Merge(ctx context.Context, productID int64) (map[string]any, error)
	Contribute(ctx context.Context, c domain.SourceContribution) (domain.SourceContribution, error)
}

// Gate is satisfied by *readiness.Gate.
type Gate interface {
	Evaluate(ctx context.Context, productID int64, channel string, forceRefresh bool) (domain.ReadinessResult, error)
	SetRequirement(ctx context.Context, r domain.ChannelRequirement) error
}

// Publisher is satisfied by *outbox.Emitter.
type Publisher interface {
	Emit(ctx context.Context, req outbox.EmitRequest) (bool, error)
	List(ctx context.Context, f state.OutboxFilter) ([]domain.OutboxEvent, error)
	Channel() string
}

// loadProduct resolves {id} and writes the error response itself when the
// product cannot be served.
func loadProduct(w http.ResponseWriter, r *http.Request, store ProductStore) (domain.Product, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_product_id", "product id missing or invalid")
		return domain.Product{}, false
	}

	p, found, err := store.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_product_failed", err.Error())
		return domain.Product{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "product not found")
		return domain.Product{}, false
	}
	return p, true
}

type FusedProductHandler struct {
	Store  ProductStore
	Fusion Fuser
}

func (h FusedProductHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProduct(w, r, h.Store)
	if !ok {
		return
	}

	fused, err := h.Fusion.Merge(r.Context(), p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "merge_failed", err.Error())
		return
	}

	variants, err := h.Store.ListVariants(r.Context(), p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_variants_failed", err.Error())
		return
	}

	contributions, err := h.Store.ListContributions(r.Context(), p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_contributions_failed", err.Error())
		return
	}

	p.FusedAttributes = fused
	writeJSON(w, http.StatusOK, map[string]any{
		"product":       p,
		"variants":      variants,
		"contributions": contributions,
	})
}

type contributionRequest struct {
	SourceType domain.SourceType `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Attributes map[string]any    `json:"attributes"`
	Confidence *float64          `json:"confidence"`
}

// ContributionHandler records a manual or enrichment contribution for a
// product, re-evaluates readiness and queues an update when the product is
// ready. Supplier contributions only arrive through imports.
type ContributionHandler struct {
	Store     ProductStore
	Fusion    Fuser
	Gate      Gate
	Publisher Publisher
	Logger    *zap.Logger
}

func (h ContributionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProduct(w, r, h.Store)
	if !ok {
		return
	}

	var req contributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	actor := actorctx.Actor(r.Context())

	if req.SourceType == "" {
		req.SourceType = domain.SourceManual
	}
	req.SourceID = strings.TrimSpace(req.SourceID)
	switch req.SourceType {
	case domain.SourceManual:
		if req.SourceID == "" {
			req.SourceID = actor
		}
	case domain.SourceEnrichment:
		if req.SourceID == "" {
			writeError(w, http.StatusBadRequest, "invalid_source_id", "source_id is required for enrichment")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_source_type", "source_type must be manual or enrichment")
		return
	}
	if len(req.Attributes) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_attributes", "attributes must not be empty")
		return
	}

	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 1 {
		writeError(w, http.StatusBadRequest, "invalid_confidence", "confidence must be within [0, 1]")
		return
	}

	saved, err := h.Fusion.Contribute(r.Context(), domain.SourceContribution{
		ProductID:  p.ID,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Attributes: req.Attributes,
		Confidence: confidence,
		Author:     actor,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "contribute_failed", err.Error())
		return
	}

	resp := map[string]any{
		"contribution": saved,
		"emitted":      false,
	}

	channel := h.Publisher.Channel()
	res, err := h.Gate.Evaluate(r.Context(), p.ID, channel, true)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("readiness evaluation failed",
				zap.Int64("product_id", p.ID),
				zap.String("channel", channel),
				zap.Error(err),
			)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp["readiness"] = res

	if res.Ready {
		emitted, err := h.Publisher.Emit(r.Context(), outbox.EmitRequest{
			EventType:  domain.EventUpdated,
			EntityType: domain.EntityProduct,
			ProductID:  p.ID,
			Payload: map[string]any{
				"source_type": saved.SourceType,
				"source_id":   saved.SourceID,
				"author":      actor,
			},
			BypassGate: true,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "emit_failed", err.Error())
			return
		}
		resp["emitted"] = emitted
	}

	writeJSON(w, http.StatusOK, resp)
}

// ReadinessHandler serves the cached verdict for ?channel= (default: the
// publishing channel). ?refresh=true forces a fresh evaluation.
type ReadinessHandler struct {
	Store     ProductStore
	Gate      Gate
	Publisher Publisher
}

func (h ReadinessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProduct(w, r, h.Store)
	if !ok {
		return
	}

	q := r.URL.Query()
	channel := strings.TrimSpace(q.Get("channel"))
	if channel == "" {
		channel = h.Publisher.Channel()
	}

	refresh := false
	if v := q.Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_refresh", "refresh must be a boolean")
			return
		}
		refresh = b
	}

	res, err := h.Gate.Evaluate(r.Context(), p.ID, channel, refresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "readiness_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// UnpublishHandler deactivates a product and queues a delete event, which is
// never held back by the readiness gate.
type UnpublishHandler struct {
	Store     ProductStore
	Publisher Publisher
	Logger    *zap.Logger
}

func (h UnpublishHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProduct(w, r, h.Store)
	if !ok {
		return
	}

	if err := h.Store.SetProductActive(r.Context(), p.ID, false); err != nil {
		writeError(w, http.StatusInternalServerError, "unpublish_failed", err.Error())
		return
	}

	actor := actorctx.Actor(r.Context())
	emitted, err := h.Publisher.Emit(r.Context(), outbox.EmitRequest{
		EventType:  domain.EventDeleted,
		EntityType: domain.EntityProduct,
		ProductID:  p.ID,
		Payload:    map[string]any{"actor": actor},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "emit_failed", err.Error())
		return
	}

	if h.Logger != nil {
		h.Logger.Info("product unpublished", zap.Int64("product_id", p.ID), zap.String("actor", actor))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"product_id": p.ID,
		"active":     false,
		"emitted":    emitted,
	})
}
