package state

import (
	"context"
	"sort"
	"time"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

func (s *MemoryStore) InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) (domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e.ID = s.nextID()
	if e.Status == "" {
		e.Status = domain.OutboxPending
	}
	if e.AvailableAt.IsZero() {
		e.AvailableAt = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Payload = append([]byte(nil), e.Payload...)

	s.outbox = append(s.outbox, e)
	return e, nil
}

func (s *MemoryStore) ClaimOutboxEvents(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEvent, error) {
	_ = ctx

	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// s.outbox is in id order, so the oldest events are claimed first.
	out := make([]domain.OutboxEvent, 0, limit)
	for i := range s.outbox {
		if len(out) >= limit {
			break
		}
		e := &s.outbox[i]
		if e.Status != domain.OutboxPending || e.AvailableAt.After(now) {
			continue
		}

		e.Status = domain.OutboxProcessing
		e.UpdatedAt = s.now()

		out = append(out, *e)
	}

	return out, nil
}

func (s *MemoryStore) MarkOutboxSuccess(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.eachOutbox(ids, func(e *domain.OutboxEvent) {
		e.Status = domain.OutboxSuccess
		e.LastError = ""
		e.UpdatedAt = now
		processed := now
		e.ProcessedAt = &processed
	})
	return nil
}

func (s *MemoryStore) MarkOutboxError(ctx context.Context, ids []int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.eachOutbox(ids, func(e *domain.OutboxEvent) {
		e.Status = domain.OutboxError
		e.LastError = message
		e.UpdatedAt = now
		processed := now
		e.ProcessedAt = &processed
	})
	return nil
}

func (s *MemoryStore) ReleaseOutboxEvents(ctx context.Context, ids []int64, availableAt time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.eachOutbox(ids, func(e *domain.OutboxEvent) {
		if e.Status != domain.OutboxProcessing {
			return
		}
		e.Status = domain.OutboxPending
		e.RetryCount++
		e.LastError = message
		e.AvailableAt = availableAt
		e.UpdatedAt = now
	})
	return nil
}

func (s *MemoryStore) RequeueErroredEvents(ctx context.Context, maxRetries int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for i := range s.outbox {
		e := &s.outbox[i]
		if e.Status != domain.OutboxError || e.RetryCount >= maxRetries {
			continue
		}
		e.Status = domain.OutboxPending
		e.RetryCount++
		e.AvailableAt = now
		e.ProcessedAt = nil
		e.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) ResetStuckEvents(ctx context.Context, claimedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for i := range s.outbox {
		e := &s.outbox[i]
		if e.Status != domain.OutboxProcessing || !e.UpdatedAt.Before(claimedBefore) {
			continue
		}
		e.Status = domain.OutboxPending
		e.AvailableAt = now
		e.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) PurgeSucceededEvents(ctx context.Context, processedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.outbox[:0]
	var n int64
	for _, e := range s.outbox {
		if e.Status == domain.OutboxSuccess && e.ProcessedAt != nil && e.ProcessedAt.Before(processedBefore) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.outbox = kept
	return n, nil
}

func (s *MemoryStore) ListOutboxEvents(ctx context.Context, f OutboxFilter) ([]domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.OutboxEvent{}
	for _, e := range s.outbox {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.ProductID != 0 && e.ProductID != f.ProductID {
			continue
		}
		out = append(out, e)
	}

	// newest first, like the SQL backends
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) eachOutbox(ids []int64, fn func(e *domain.OutboxEvent)) {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range s.outbox {
		if _, ok := want[s.outbox[i].ID]; ok {
			fn(&s.outbox[i])
		}
	}
}
