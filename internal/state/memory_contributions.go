package state

import (
	"context"
	"strconv"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

func (s *MemoryStore) UpsertContribution(ctx context.Context, c domain.SourceContribution) (domain.SourceContribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c.Attributes = cloneAnyMap(c.Attributes)
	c.UpdatedAt = now

	for i, existing := range s.contributions {
		if existing.ProductID == c.ProductID && existing.SourceType == c.SourceType && existing.SourceID == c.SourceID {
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
			s.contributions[i] = c
			return c, nil
		}
	}

	c.ID = s.nextID()
	c.CreatedAt = now
	s.contributions = append(s.contributions, c)
	return c, nil
}

func (s *MemoryStore) ListContributions(ctx context.Context, productID int64) ([]domain.SourceContribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.SourceContribution{}
	for _, c := range s.contributions {
		if c.ProductID == productID {
			c.Attributes = cloneAnyMap(c.Attributes)
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetRequirement(ctx context.Context, channel string, family string) (domain.ChannelRequirement, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requirements[channel+"/"+family]
	return r, ok, nil
}

func (s *MemoryStore) UpsertRequirement(ctx context.Context, r domain.ChannelRequirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.UpdatedAt = s.now()
	s.requirements[r.Channel+"/"+r.Family] = r
	return nil
}

func (s *MemoryStore) GetReadiness(ctx context.Context, productID int64, channel string) (domain.ReadinessResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.readiness[readinessKey(productID, channel)]
	if ok {
		r.Missing = append([]string(nil), r.Missing...)
	}
	return r, ok, nil
}

func (s *MemoryStore) PutReadiness(ctx context.Context, r domain.ReadinessResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.Missing = append([]string(nil), r.Missing...)
	s.readiness[readinessKey(r.ProductID, r.Channel)] = r
	return nil
}

func (s *MemoryStore) InvalidateProductReadiness(ctx context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, r := range s.readiness {
		if r.ProductID == productID {
			delete(s.readiness, k)
		}
	}
	return nil
}

func (s *MemoryStore) InvalidateChannelReadiness(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, r := range s.readiness {
		if r.Channel == channel {
			delete(s.readiness, k)
		}
	}
	return nil
}

func readinessKey(productID int64, channel string) string {
	return strconv.FormatInt(productID, 10) + "/" + channel
}
