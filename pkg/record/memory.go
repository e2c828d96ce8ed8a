package record

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	feedback map[string]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		feedback: make(map[string]int),
	}
}

// Persist stores a copy of s.
func (m *MemoryStore) Persist(_ context.Context, s *Session) error {
	if err := CheckPersistable(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Get returns the session with any recorded feedback.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rating, ok := m.feedback[id]; ok {
		return s.WithFeedback(rating), nil
	}
	return s.Clone(), nil
}

// List returns the newest sessions first.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.sessions))
	for id, s := range m.sessions {
		sum := Summarize(s)
		if rating, ok := m.feedback[id]; ok {
			r := rating
			sum.Feedback = &r
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordFeedback stores a rating for a persisted session.
func (m *MemoryStore) RecordFeedback(_ context.Context, id string, rating int) error {
	if err := ValidateRating(rating); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	m.feedback[id] = rating
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
