package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/model"
)

// MemoryStore keeps baselines and a bounded attempt log in memory.
// Baselines are deep-copied on the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	baselines map[enrollment.Key]*enrollment.Baseline
	attempts  []model.Attempt
	stats     map[string]*model.AttemptStats
	retention int
	closed    bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		baselines: make(map[enrollment.Key]*enrollment.Baseline),
		stats:     make(map[string]*model.AttemptStats),
		retention: o.attemptRetention,
	}
}

// Load implements enrollment.Store.
func (s *MemoryStore) Load(_ context.Context, key enrollment.Key) (*enrollment.Baseline, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	b, ok := s.baselines[key]
	if !ok {
		return nil, false, nil
	}
	return b.Clone(), true, nil
}

// Save implements enrollment.Store.
func (s *MemoryStore) Save(_ context.Context, b *enrollment.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.baselines[b.Key] = b.Clone()
	return nil
}

// Delete implements enrollment.Store.
func (s *MemoryStore) Delete(_ context.Context, key enrollment.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.baselines[key]; !ok {
		return ErrNotFound
	}
	delete(s.baselines, key)
	return nil
}

// RecordAttempt implements Store. The oldest attempts fall off the log once
// the retention is reached; stats keep counting them.
func (s *MemoryStore) RecordAttempt(_ context.Context, a model.Attempt) error { //nolint:gocritic // hugeParam: stored by value
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(s.attempts) >= s.retention {
		drop := len(s.attempts) - s.retention + 1
		s.attempts = append(s.attempts[:0], s.attempts[drop:]...)
	}
	s.attempts = append(s.attempts, a)

	st, ok := s.stats[a.BiometricType]
	if !ok {
		st = &model.AttemptStats{BiometricType: a.BiometricType}
		s.stats[a.BiometricType] = st
	}
	st.Add(a)
	return nil
}

// RecentAttempts implements Store.
func (s *MemoryStore) RecentAttempts(_ context.Context, userID string, n int) ([]model.Attempt, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Attempt, 0, n)
	for i := len(s.attempts) - 1; i >= 0 && len(out) < n; i-- {
		if s.attempts[i].UserID == userID {
			out = append(out, s.attempts[i])
		}
	}
	return out, nil
}

// AttemptStats implements Store.
func (s *MemoryStore) AttemptStats(_ context.Context) ([]model.AttemptStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.AttemptStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BiometricType < out[j].BiometricType })
	return out, nil
}

// Baselines implements Store.
func (s *MemoryStore) Baselines(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
