// Package execute turns claimed outbox events into channel calls: it builds
// the product's projection from current canonical state and pushes it.
package execute

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ETAnderson/catalogsync/internal/channels"
	"github.com/ETAnderson/catalogsync/internal/domain"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrNotAccepted     = errors.New("channel did not accept the request")
	ErrUnknownChannel  = errors.New("unknown channel")
)

type Store interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, bool, error)
	GetBrand(ctx context.Context, id int64) (domain.Brand, bool, error)
	ListVariants(ctx context.Context, productID int64) ([]domain.Variant, error)
	ListOffers(ctx context.Context, productID int64) ([]domain.SupplierOffer, error)
}

type Outcome string

const (
	OutcomePushed  Outcome = "pushed"
	OutcomeDeleted Outcome = "deleted"
	// OutcomeSkipped means there was nothing to send: the product is gone or
	// inactive and no delete was requested.
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	// OutcomeRetry means the projection could not be read locally. The
	// channel was not called and the events should be tried again.
	OutcomeRetry Outcome = "retry"
)

// Result is the outcome for one product. Err is set when Outcome is
// OutcomeFailed or OutcomeRetry; channels.IsUnavailable tells transient
// channel failures apart.
type Result struct {
	Outcome Outcome
	Err     error
}

func failed(err error) Result { return Result{Outcome: OutcomeFailed, Err: err} }

func retry(err error) Result { return Result{Outcome: OutcomeRetry, Err: err} }

type Executor struct {
	Store    Store
	Registry channels.Registry
	Channel  string
}

func (e Executor) client() (channels.Client, error) {
	if e.Store == nil {
		return nil, errors.New("store is nil")
	}
	c, ok := e.Registry.Get(e.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, e.Channel)
	}
	return c, nil
}

// Project builds the outbound projection for productID. Missing and inactive
// products both yield ErrProductNotFound.
func (e Executor) Project(ctx context.Context, productID int64) (channels.Projection, error) {
	p, ok, err := e.Store.GetProduct(ctx, productID)
	if err != nil {
		return channels.Projection{}, fmt.Errorf("get product: %w", err)
	}
	if !ok || !p.Active {
		return channels.Projection{}, ErrProductNotFound
	}

	var brand *domain.Brand
	if p.BrandID != 0 {
		b, ok, err := e.Store.GetBrand(ctx, p.BrandID)
		if err != nil {
			return channels.Projection{}, fmt.Errorf("get brand: %w", err)
		}
		if ok {
			brand = &b
		}
	}

	variants, err := e.Store.ListVariants(ctx, productID)
	if err != nil {
		return channels.Projection{}, fmt.Errorf("list variants: %w", err)
	}
	offers, err := e.Store.ListOffers(ctx, productID)
	if err != nil {
		return channels.Projection{}, fmt.Errorf("list offers: %w", err)
	}

	return channels.BuildProjection(p, brand, variants, offers), nil
}

// Sync sends the current state of productID on behalf of its queued events:
// one push, or one delete when the product is gone and a delete was queued.
func (e Executor) Sync(ctx context.Context, productID int64, events []domain.OutboxEvent) Result {
	client, err := e.client()
	if err != nil {
		return failed(err)
	}

	proj, err := e.Project(ctx, productID)
	if errors.Is(err, ErrProductNotFound) {
		return e.remove(ctx, client, productID, events)
	}
	if err != nil {
		return retry(err)
	}

	ok, err := client.PushOne(ctx, productID, proj)
	if err != nil {
		return failed(err)
	}
	if !ok {
		return failed(fmt.Errorf("push product %d: %w", productID, ErrNotAccepted))
	}
	return Result{Outcome: OutcomePushed}
}

// SyncBatch is Sync for several products, sending every live projection in
// one PushBatch call. A failed batch call fails every product in it.
func (e Executor) SyncBatch(ctx context.Context, groups map[int64][]domain.OutboxEvent) map[int64]Result {
	out := make(map[int64]Result, len(groups))

	client, err := e.client()
	if err != nil {
		for id := range groups {
			out[id] = failed(err)
		}
		return out
	}

	ids := make([]int64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	batch := map[int64]channels.Projection{}
	for _, id := range ids {
		proj, err := e.Project(ctx, id)
		switch {
		case errors.Is(err, ErrProductNotFound):
			out[id] = e.remove(ctx, client, id, groups[id])
		case err != nil:
			out[id] = retry(err)
		default:
			batch[id] = proj
		}
	}
	if len(batch) == 0 {
		return out
	}

	accepted, err := client.PushBatch(ctx, batch)
	for id := range batch {
		switch {
		case err != nil:
			out[id] = failed(err)
		case !accepted[id]:
			out[id] = failed(fmt.Errorf("push product %d: %w", id, ErrNotAccepted))
		default:
			out[id] = Result{Outcome: OutcomePushed}
		}
	}
	return out
}

func (e Executor) remove(ctx context.Context, client channels.Client, productID int64, events []domain.OutboxEvent) Result {
	if !hasDelete(events) {
		return Result{Outcome: OutcomeSkipped}
	}
	ok, err := client.Delete(ctx, productID)
	if err != nil {
		return failed(err)
	}
	if !ok {
		return failed(fmt.Errorf("delete product %d: %w", productID, ErrNotAccepted))
	}
	return Result{Outcome: OutcomeDeleted}
}

func hasDelete(events []domain.OutboxEvent) bool {
	for _, ev := range events {
		if ev.EventType == domain.EventDeleted {
			return true
		}
	}
	return false
}
