package state

import (
	"context"
	"errors"
	"time"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

var ErrNotFound = errors.New("not found")

type IdempotencyRecord struct {
	StatusCode int
	BodyJSON   []byte
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

type BrandStore interface {
	GetBrand(ctx context.Context, id int64) (domain.Brand, bool, error)
	// FindBrandByName matches on the brand slug.
	FindBrandByName(ctx context.Context, name string) (domain.Brand, bool, error)
	FindBrandByAlias(ctx context.Context, alias string) (domain.Brand, bool, error)
	CreateBrand(ctx context.Context, b domain.Brand) (domain.Brand, error)
	AddBrandAlias(ctx context.Context, a domain.BrandAlias) error
}

type ProductStore interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, bool, error)
	// Exact lookups compare model keys; an empty family matches any family.
	FindProductByModel(ctx context.Context, brandID int64, family string, modelKey string) (domain.Product, bool, error)
	FindProductByManufacturerModel(ctx context.Context, manufacturer string, family string, modelKey string) (domain.Product, bool, error)
	// FindSimilarProduct returns the single best trigram match within a brand
	// and family whose similarity is at least threshold.
	FindSimilarProduct(ctx context.Context, brandID int64, family string, modelName string, threshold float64) (domain.Product, float64, bool, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	UpdateProductFusion(ctx context.Context, id int64, fused map[string]any, rollup domain.Rollup) error
	SetProductActive(ctx context.Context, id int64, active bool) error
}

type VariantStore interface {
	GetVariant(ctx context.Context, id int64) (domain.Variant, bool, error)
	FindVariantByGTIN(ctx context.Context, gtin string) (domain.Variant, bool, error)
	// FindVariantsByMPN lists variants carrying mpn, restricted to products of
	// brandID unless brandID is zero. Ordered by variant id.
	FindVariantsByMPN(ctx context.Context, mpn string, brandID int64) ([]domain.Variant, error)
	// FindVariantByAxes returns the lowest-id variant of the product whose
	// attributes contain every given axis value.
	FindVariantByAxes(ctx context.Context, productID int64, axes map[string]string) (domain.Variant, bool, error)
	ListVariants(ctx context.Context, productID int64) ([]domain.Variant, error)
	CreateVariant(ctx context.Context, v domain.Variant) (domain.Variant, error)
}

type OfferStore interface {
	GetOffer(ctx context.Context, supplierID int64, supplierSKU string) (domain.SupplierOffer, bool, error)
	UpsertOffer(ctx context.Context, o domain.SupplierOffer) (domain.SupplierOffer, error)
	ListOffers(ctx context.Context, productID int64) ([]domain.SupplierOffer, error)
}

type ContributionStore interface {
	// UpsertContribution replaces the row for (product, source type, source id)
	// in place.
	UpsertContribution(ctx context.Context, c domain.SourceContribution) (domain.SourceContribution, error)
	// ListContributions returns rows in insertion order.
	ListContributions(ctx context.Context, productID int64) ([]domain.SourceContribution, error)
}

type RequirementStore interface {
	GetRequirement(ctx context.Context, channel string, family string) (domain.ChannelRequirement, bool, error)
	UpsertRequirement(ctx context.Context, r domain.ChannelRequirement) error
}

type ReadinessStore interface {
	GetReadiness(ctx context.Context, productID int64, channel string) (domain.ReadinessResult, bool, error)
	PutReadiness(ctx context.Context, r domain.ReadinessResult) error
	InvalidateProductReadiness(ctx context.Context, productID int64) error
	InvalidateChannelReadiness(ctx context.Context, channel string) error
}

type OutboxFilter struct {
	Status    domain.OutboxStatus
	ProductID int64
	Limit     int
}

type OutboxStore interface {
	InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) (domain.OutboxEvent, error)
	// ClaimOutboxEvents atomically moves up to limit pending events that are
	// available at now into processing. Concurrent callers never receive the
	// same event.
	ClaimOutboxEvents(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEvent, error)
	MarkOutboxSuccess(ctx context.Context, ids []int64) error
	MarkOutboxError(ctx context.Context, ids []int64, message string) error
	// ReleaseOutboxEvents returns processing events to pending after a
	// transient failure, bumping their retry count.
	ReleaseOutboxEvents(ctx context.Context, ids []int64, availableAt time.Time, message string) error
	RequeueErroredEvents(ctx context.Context, maxRetries int) (int64, error)
	ResetStuckEvents(ctx context.Context, claimedBefore time.Time) (int64, error)
	PurgeSucceededEvents(ctx context.Context, processedBefore time.Time) (int64, error)
	ListOutboxEvents(ctx context.Context, f OutboxFilter) ([]domain.OutboxEvent, error)
}

type MatchLogStore interface {
	InsertMatchLog(ctx context.Context, e domain.MatchLogEntry) error
	ListMatchLog(ctx context.Context, sessionID string, limit int) ([]domain.MatchLogEntry, error)
}

type SessionStore interface {
	InsertImportSession(ctx context.Context, s domain.ImportSession) error
	GetImportSession(ctx context.Context, sessionID string) (domain.ImportSession, bool, error)
	ListImportSessions(ctx context.Context, limit int) ([]domain.ImportSession, error)
}

type IdempotencyStore interface {
	GetIdempotency(ctx context.Context, endpoint string, idemKeyHash string) (IdempotencyRecord, bool, error)
	PutIdempotency(ctx context.Context, endpoint string, idemKeyHash string, rec IdempotencyRecord) error
}

type Store interface {
	BrandStore
	ProductStore
	VariantStore
	OfferStore
	ContributionStore
	RequirementStore
	ReadinessStore
	OutboxStore
	MatchLogStore
	SessionStore
	IdempotencyStore
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
