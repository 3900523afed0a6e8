package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// SettlementStore is an in-memory implementation of storage.SettlementStore.
type SettlementStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.Settlement // keyed by signature
	order []string                      // insert order
}

// NewSettlementStore creates a new in-memory settlement journal.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{data: make(map[string]*domain.Settlement)}
}

func copySettlement(st *domain.Settlement) *domain.Settlement {
	c := *st
	if st.ResolvedAt != nil {
		at := *st.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}

// Insert journals a submitted signature. Returns ErrDuplicateKey if signature exists.
func (s *SettlementStore) Insert(_ context.Context, st *domain.Settlement) error {
	if st == nil || st.Signature == "" || !st.Side.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[st.Signature]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[st.Signature] = copySettlement(st)
	s.order = append(s.order, st.Signature)
	return nil
}

// GetBySignature retrieves a journal entry. Returns ErrNotFound if not exists.
func (s *SettlementStore) GetBySignature(_ context.Context, signature string) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.data[signature]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copySettlement(st), nil
}

// ListUnrecorded retrieves every submitted or confirmed entry, oldest first.
func (s *SettlementStore) ListUnrecorded(_ context.Context) ([]*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Settlement
	for _, sig := range s.order {
		if st := s.data[sig]; st.Status.Unrecorded() {
			result = append(result, copySettlement(st))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Resolve sets the status of an entry. Returns ErrNotFound if not exists.
func (s *SettlementStore) Resolve(_ context.Context, signature string, status domain.SettlementStatus, at time.Time) error {
	if status == domain.SettlementSubmitted {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.data[signature]
	if !exists {
		return storage.ErrNotFound
	}
	st.Status = status
	st.ResolvedAt = &at
	return nil
}

var _ storage.SettlementStore = (*SettlementStore)(nil)
