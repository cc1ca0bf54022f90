// Package ingest turns normalized supplier records into catalog state: it
// matches each record, creates what is missing, stores the offer, refreshes
// fusion and readiness, and emits the resulting change when the product is
// publishable.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/matching"
	"github.com/ETAnderson/catalogsync/internal/metrics"
	"github.com/ETAnderson/catalogsync/internal/outbox"
	"github.com/ETAnderson/catalogsync/internal/rules"
	"github.com/ETAnderson/catalogsync/internal/textnorm"
)

// createdConfidence is recorded on supplier contributions for records that
// created their own product or variant.
const createdConfidence = 1.0

type Store interface {
	FindBrandByName(ctx context.Context, name string) (domain.Brand, bool, error)
	FindBrandByAlias(ctx context.Context, alias string) (domain.Brand, bool, error)
	CreateBrand(ctx context.Context, b domain.Brand) (domain.Brand, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, bool, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	FindProductByModel(ctx context.Context, brandID int64, family string, modelKey string) (domain.Product, bool, error)
	FindVariantByAxes(ctx context.Context, productID int64, axes map[string]string) (domain.Variant, bool, error)
	CreateVariant(ctx context.Context, v domain.Variant) (domain.Variant, error)
	GetOffer(ctx context.Context, supplierID int64, supplierSKU string) (domain.SupplierOffer, bool, error)
	UpsertOffer(ctx context.Context, o domain.SupplierOffer) (domain.SupplierOffer, error)
	InsertImportSession(ctx context.Context, s domain.ImportSession) error
}

// Matcher is satisfied by *matching.Engine.
type Matcher interface {
	Match(ctx context.Context, rec domain.NormalizedRecord, mc matching.MatchContext) (matching.Result, error)
}

// Fuser is satisfied by *fusion.Service.
type Fuser interface {
	Contribute(ctx context.Context, c domain.SourceContribution) (domain.SourceContribution, error)
	Refresh(ctx context.Context, productID int64) (domain.Product, error)
}

// Evaluator is satisfied by *readiness.Gate.
type Evaluator interface {
	Evaluate(ctx context.Context, productID int64, channel string, forceRefresh bool) (domain.ReadinessResult, error)
}

// Emitter is satisfied by *outbox.Emitter.
type Emitter interface {
	Emit(ctx context.Context, req outbox.EmitRequest) (bool, error)
	Channel() string
}

type RecordResult struct {
	Index       int                      `json:"index"`
	SupplierSKU string                   `json:"supplier_sku"`
	Disposition domain.RecordDisposition `json:"disposition"`
	Change      OfferChange              `json:"change,omitempty"`

	ProductID  int64   `json:"product_id,omitempty"`
	VariantID  int64   `json:"variant_id,omitempty"`
	OfferID    int64   `json:"offer_id,omitempty"`
	Matcher    string  `json:"matcher,omitempty"`
	Confidence float64 `json:"confidence"`

	Ready   bool `json:"ready"`
	Emitted bool `json:"emitted"`

	Reason string            `json:"reason,omitempty"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

type ImportOutput struct {
	Session domain.ImportSession `json:"session"`
	Records []RecordResult       `json:"records"`
}

type Importer struct {
	store   Store
	catalog rules.Catalog
	matcher Matcher
	fusion  Fuser
	gate    Evaluator
	emitter Emitter
	hasher  Hasher
	log     *zap.Logger
	now     func() time.Time
}

func NewImporter(store Store, catalog rules.Catalog, matcher Matcher, fuser Fuser, gate Evaluator, emitter Emitter, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		store:   store,
		catalog: catalog,
		matcher: matcher,
		fusion:  fuser,
		gate:    gate,
		emitter: emitter,
		hasher:  Hasher{},
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (im *Importer) Import(ctx context.Context, supplierID int64, records []domain.NormalizedRecord) (ImportOutput, error) {
	return im.ImportParsed(ctx, ParseResult{SupplierID: supplierID, Records: records})
}

// ImportParsed runs every record through the pipeline. A failing record is
// reported in its RecordResult and never stops the rest; the returned error
// covers only the session itself (bad supplier, cancellation, session write).
func (im *Importer) ImportParsed(ctx context.Context, in ParseResult) (ImportOutput, error) {
	if in.SupplierID <= 0 {
		return ImportOutput{}, fmt.Errorf("supplier_id must be positive")
	}

	sess := domain.ImportSession{
		SessionID:  NewSessionID(),
		SupplierID: in.SupplierID,
		Received:   len(in.Records),
		Warnings:   unknownKeyWarnings(in.Warnings),
		CreatedAt:  im.now(),
	}
	log := im.log.With(zap.String("session_id", sess.SessionID), zap.Int64("supplier_id", in.SupplierID))

	out := ImportOutput{Records: make([]RecordResult, 0, len(in.Records))}
	for i, rec := range in.Records {
		if err := ctx.Err(); err != nil {
			return ImportOutput{}, err
		}

		res, err := im.processRecord(ctx, sess.SessionID, in.SupplierID, rec)
		res.Index = i
		res.SupplierSKU = rec.SupplierSKU
		if err != nil {
			res.Disposition = domain.RecordFailed
			res.Reason = err.Error()
			log.Warn("import record failed",
				zap.Int("index", i),
				zap.String("supplier_sku", rec.SupplierSKU),
				zap.Error(err),
			)
		}
		metrics.ImportRecord(string(res.Disposition))
		tally(&sess, res)
		out.Records = append(out.Records, res)
	}

	sess.Status = sessionStatus(sess)
	if err := im.store.InsertImportSession(ctx, sess); err != nil {
		return ImportOutput{}, fmt.Errorf("insert import session: %w", err)
	}

	log.Info("import finished",
		zap.String("status", string(sess.Status)),
		zap.Int("received", sess.Received),
		zap.Int("rejected", sess.Rejected),
		zap.Int("failed", sess.Failed),
		zap.Int("unchanged", sess.Unchanged),
		zap.Int("emitted", sess.Emitted),
	)

	out.Session = sess
	return out, nil
}

func (im *Importer) processRecord(ctx context.Context, sessionID string, supplierID int64, rec domain.NormalizedRecord) (RecordResult, error) {
	var res RecordResult

	if v := ValidateRecord(rec); !v.IsValid() {
		res.Disposition = domain.RecordRejected
		res.Reason = "validation_failed"
		res.Issues = v.Issues
		return res, nil
	}

	hash, err := im.hasher.HashRecord(rec)
	if err != nil {
		return res, fmt.Errorf("hash record: %w", err)
	}

	prev, hasPrev, err := im.store.GetOffer(ctx, supplierID, rec.SupplierSKU)
	if err != nil {
		return res, fmt.Errorf("get offer: %w", err)
	}
	if hasPrev && prev.Hash == hash {
		res.Disposition = domain.RecordUnchanged
		res.Change = OfferUnchanged
		res.ProductID = prev.ProductID
		res.VariantID = prev.VariantID
		res.OfferID = prev.ID
		return res, nil
	}

	family := im.catalog.DetectFamily(rec.CategoryPath, rec.Name)
	brand, hasBrand, err := matching.ResolveBrand(ctx, im.store, rec.Manufacturer)
	if err != nil {
		return res, fmt.Errorf("resolve brand: %w", err)
	}

	mc := matching.MatchContext{SessionID: sessionID, SupplierID: supplierID, Family: family}
	if hasBrand {
		mc.BrandID = brand.ID
	}
	m, err := im.matcher.Match(ctx, rec, mc)
	if err != nil {
		return res, err
	}
	res.Matcher = m.Matcher
	res.Confidence = m.Confidence

	var place placement
	switch {
	case m.Kind == matching.FoundVariant:
		place = placement{productID: m.ProductID, variantID: m.VariantID, disposition: domain.RecordMatched}
	case m.Kind == matching.FoundProductOnly:
		place, err = im.placeOnProduct(ctx, rec, m.ProductID)
	case hasPrev:
		// The record no longer matches anything; keep the offer where it was.
		place = placement{productID: prev.ProductID, variantID: prev.VariantID, disposition: domain.RecordMatched}
	default:
		place, err = im.createProduct(ctx, rec, family, brand, hasBrand)
		res.Confidence = createdConfidence
	}
	if err != nil {
		return res, err
	}
	res.ProductID = place.productID
	res.VariantID = place.variantID
	res.Disposition = place.disposition

	var prevPtr *domain.SupplierOffer
	if hasPrev {
		prevPtr = &prev
	}
	price, stock := offerFigures(rec, prevPtr)
	delta := ComputeDelta(prevPtr, hash, price, stock)
	res.Change = delta.Change

	offer, err := im.store.UpsertOffer(ctx, domain.SupplierOffer{
		SupplierID:  supplierID,
		SupplierSKU: rec.SupplierSKU,
		ProductID:   place.productID,
		VariantID:   place.variantID,
		Price:       price,
		Stock:       stock,
		Payload:     offerPayload(rec),
		Hash:        hash,
	})
	if err != nil {
		return res, fmt.Errorf("upsert offer: %w", err)
	}
	res.OfferID = offer.ID

	confidence := res.Confidence
	if confidence == 0 {
		confidence = createdConfidence
	}
	if _, err := im.fusion.Contribute(ctx, domain.SourceContribution{
		ProductID:  place.productID,
		SourceType: domain.SourceSupplier,
		SourceID:   domain.SupplierSourceID(supplierID),
		Attributes: im.supplierAttributes(rec, family),
		Confidence: confidence,
		Author:     sessionID,
	}); err != nil {
		return res, fmt.Errorf("fusion: %w", err)
	}
	if hasPrev && prev.ProductID != place.productID {
		// the offer moved; the old product's rollup still counts it
		if _, err := im.fusion.Refresh(ctx, prev.ProductID); err != nil {
			im.log.Warn("refresh of previous product failed",
				zap.Int64("product_id", prev.ProductID),
				zap.Error(err),
			)
		}
	}

	channel := im.emitter.Channel()
	verdict, err := im.gate.Evaluate(ctx, place.productID, channel, true)
	if err != nil {
		im.log.Warn("readiness evaluation failed, treating as not ready",
			zap.Int64("product_id", place.productID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return res, nil
	}
	res.Ready = verdict.Ready
	if !verdict.Ready {
		return res, nil
	}

	eventType, entityType, entityID := eventFor(place, delta, offer.ID)
	emitted, err := im.emitter.Emit(ctx, outbox.EmitRequest{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		ProductID:  place.productID,
		Payload: map[string]any{
			"session_id":   sessionID,
			"supplier_id":  supplierID,
			"supplier_sku": rec.SupplierSKU,
			"change":       string(delta.Change),
		},
		BypassGate: true,
	})
	if err != nil {
		return res, fmt.Errorf("emit %s: %w", eventType, err)
	}
	res.Emitted = emitted
	return res, nil
}

type placement struct {
	productID   int64
	variantID   int64
	disposition domain.RecordDisposition
}

// placeOnProduct attaches the record to a known product: to a new variant when
// the record carries the family's axes, otherwise as an orphan offer.
func (im *Importer) placeOnProduct(ctx context.Context, rec domain.NormalizedRecord, productID int64) (placement, error) {
	p, ok, err := im.store.GetProduct(ctx, productID)
	if err != nil {
		return placement{}, fmt.Errorf("get product: %w", err)
	}
	if !ok {
		return placement{}, fmt.Errorf("matched product %d not found", productID)
	}

	fam, _ := im.catalog.Family(p.Family)
	axes := matching.ExtractAxes(rec, fam)
	if len(axes) == 0 {
		return placement{productID: productID, disposition: domain.RecordMatched}, nil
	}

	v, created, err := im.ensureVariant(ctx, productID, rec, axes)
	if err != nil {
		return placement{}, err
	}
	disp := domain.RecordMatched
	if created {
		disp = domain.RecordCreatedVariant
	}
	return placement{productID: productID, variantID: v.ID, disposition: disp}, nil
}

func (im *Importer) createProduct(ctx context.Context, rec domain.NormalizedRecord, family string, brand domain.Brand, hasBrand bool) (placement, error) {
	if !hasBrand && rec.Manufacturer != "" {
		b, err := im.store.CreateBrand(ctx, domain.Brand{Name: rec.Manufacturer, Active: true})
		if err != nil {
			return placement{}, fmt.Errorf("create brand: %w", err)
		}
		brand, hasBrand = b, true
	}

	model := matching.ModelName(rec)
	p := domain.Product{
		Family:       family,
		Name:         model,
		ModelName:    model,
		ModelKey:     textnorm.Key(model),
		Manufacturer: rec.Manufacturer,
		Active:       true,
	}
	if hasBrand {
		p.BrandID = brand.ID
	}
	created, err := im.store.CreateProduct(ctx, p)
	if errors.Is(err, domain.ErrDuplicateProduct) {
		// another import created the same model first
		existing, ok, ferr := im.store.FindProductByModel(ctx, p.BrandID, family, p.ModelKey)
		if ferr != nil {
			return placement{}, fmt.Errorf("find product: %w", ferr)
		}
		if ok {
			return im.placeOnProduct(ctx, rec, existing.ID)
		}
	}
	if err != nil {
		return placement{}, fmt.Errorf("create product: %w", err)
	}
	p = created

	fam, _ := im.catalog.Family(family)
	v, _, err := im.ensureVariant(ctx, p.ID, rec, matching.ExtractAxes(rec, fam))
	if err != nil {
		return placement{}, err
	}
	return placement{productID: p.ID, variantID: v.ID, disposition: domain.RecordCreatedProduct}, nil
}

// ensureVariant creates the variant, falling back to the existing one when the
// axes are already taken.
func (im *Importer) ensureVariant(ctx context.Context, productID int64, rec domain.NormalizedRecord, axes map[string]string) (domain.Variant, bool, error) {
	gtin, _ := matching.ExtractGTIN(rec)
	v, err := im.store.CreateVariant(ctx, domain.Variant{
		ProductID:  productID,
		GTIN:       gtin,
		MPN:        matching.ExtractMPN(rec),
		Attributes: axes,
	})
	if err == nil {
		return v, true, nil
	}
	if !errors.Is(err, domain.ErrDuplicateVariant) {
		return domain.Variant{}, false, fmt.Errorf("create variant: %w", err)
	}

	existing, ok, ferr := im.store.FindVariantByAxes(ctx, productID, axes)
	if ferr != nil {
		return domain.Variant{}, false, fmt.Errorf("find variant: %w", ferr)
	}
	if !ok {
		return domain.Variant{}, false, fmt.Errorf("create variant: %w", err)
	}
	return existing, false, nil
}

// supplierAttributes is the product-level part of the record. Variant axes
// stay on the variant.
func (im *Importer) supplierAttributes(rec domain.NormalizedRecord, family string) map[string]any {
	fam, _ := im.catalog.Family(family)

	out := make(map[string]any, len(rec.Attributes)+4)
	for k, v := range rec.Attributes {
		if _, isAxis := fam.AxisKey(k); isAxis {
			continue
		}
		out[k] = v
	}
	out["name"] = matching.ModelName(rec)
	if rec.Manufacturer != "" {
		out["manufacturer"] = rec.Manufacturer
	}
	if rec.Model != "" {
		out["model"] = rec.Model
	}
	if len(rec.CategoryPath) > 0 {
		out["category_path"] = rec.CategoryPath
	}
	return out
}

// offerFigures keeps the stored price or stock when the record omits it.
func offerFigures(rec domain.NormalizedRecord, prev *domain.SupplierOffer) (decimal.Decimal, int) {
	price := decimal.Zero
	stock := 0
	if prev != nil {
		price, stock = prev.Price, prev.Stock
	}
	if rec.Price != nil {
		price = *rec.Price
	}
	if rec.Stock != nil {
		stock = *rec.Stock
	}
	return price, stock
}

func offerPayload(rec domain.NormalizedRecord) map[string]any {
	payload := map[string]any{"name": rec.Name}
	if len(rec.Attributes) > 0 {
		payload["attributes"] = rec.Attributes
	}
	if len(rec.Variants) > 0 {
		payload["variants"] = rec.Variants
	}
	return payload
}

func eventFor(place placement, delta DeltaDecision, offerID int64) (domain.EventType, domain.EntityType, int64) {
	switch place.disposition {
	case domain.RecordCreatedProduct:
		return domain.EventCreated, domain.EntityProduct, place.productID
	case domain.RecordCreatedVariant:
		return domain.EventCreated, domain.EntityVariant, place.variantID
	}
	return delta.Change.EventType(), domain.EntityOffer, offerID
}

func tally(sess *domain.ImportSession, res RecordResult) {
	switch res.Disposition {
	case domain.RecordRejected:
		sess.Rejected++
	case domain.RecordFailed:
		sess.Failed++
	case domain.RecordUnchanged:
		sess.Unchanged++
	case domain.RecordMatched:
		sess.Matched++
	case domain.RecordCreatedVariant:
		sess.CreatedVariant++
	case domain.RecordCreatedProduct:
		sess.CreatedProduct++
	}
	if res.Emitted {
		sess.Emitted++
	}
}

func sessionStatus(sess domain.ImportSession) domain.SessionStatus {
	changed := sess.Matched + sess.CreatedVariant + sess.CreatedProduct
	switch {
	case changed > 0:
		return domain.SessionHasChanges
	case sess.Rejected == 0 && sess.Failed == 0:
		return domain.SessionNoChangeDetected
	default:
		return domain.SessionCompleted
	}
}

func unknownKeyWarnings(w UnknownKeyWarning) []string {
	out := make([]string, 0, len(w.UnknownKeys))
	for _, k := range w.UnknownKeys {
		out = append(out, "unknown key: "+k)
	}
	return out
}
