package memory

import (
	"context"
	"sort"
	"sync"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Token // keyed by token_id
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		data: make(map[string]*domain.Token),
	}
}

// Insert adds a new token. Returns ErrDuplicateKey if token_id or mint exists.
func (s *TokenStore) Insert(_ context.Context, t *domain.Token) error {
	if t == nil || t.TokenID == "" || t.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TokenID]; exists {
		return storage.ErrDuplicateKey
	}
	for _, existing := range s.data {
		if existing.Mint == t.Mint {
			return storage.ErrDuplicateKey
		}
	}

	tokenCopy := *t
	s.data[t.TokenID] = &tokenCopy
	return nil
}

// GetByID retrieves a token by its ID. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(_ context.Context, tokenID string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[tokenID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	tokenCopy := *t
	return &tokenCopy, nil
}

// ListActive retrieves active tokens ordered by token_id ASC.
func (s *TokenStore) ListActive(_ context.Context) ([]*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Token
	for _, t := range s.data {
		if t.Active {
			tokenCopy := *t
			result = append(result, &tokenCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TokenID < result[j].TokenID })
	return result, nil
}

var _ storage.TokenStore = (*TokenStore)(nil)
