package state

import (
	"context"
	"fmt"
	"sort"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

func (s *MemoryStore) InsertMatchLog(ctx context.Context, e domain.MatchLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Matcher == "" {
		e.Matcher = domain.MatcherNone
	}
	e.Details = cloneAnyMap(e.Details)
	s.matchLog = append(s.matchLog, e)
	return nil
}

func (s *MemoryStore) ListMatchLog(ctx context.Context, sessionID string, limit int) ([]domain.MatchLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.MatchLogEntry{}
	for _, e := range s.matchLog {
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		e.Details = cloneAnyMap(e.Details)
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertImportSession(ctx context.Context, sess domain.ImportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.SessionID]; exists {
		return fmt.Errorf("import session %s already exists", sess.SessionID)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	sess.Warnings = append([]string(nil), sess.Warnings...)
	s.sessions[sess.SessionID] = sess
	return nil
}

func (s *MemoryStore) GetImportSession(ctx context.Context, sessionID string) (domain.ImportSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	return sess, ok, nil
}

func (s *MemoryStore) ListImportSessions(ctx context.Context, limit int) ([]domain.ImportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ImportSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID > out[j].SessionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
