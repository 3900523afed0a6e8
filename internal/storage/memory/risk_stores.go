package memory

import (
	"context"
	"strings"
	"sync"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// ClassificationStore is an in-memory implementation of storage.ClassificationStore.
type ClassificationStore struct {
	mu     sync.RWMutex
	data   []*domain.TokenClassification // append-only, in insert order
	nextID int64
}

// NewClassificationStore creates a new in-memory classification store.
func NewClassificationStore() *ClassificationStore {
	return &ClassificationStore{}
}

// Insert appends a classification and sets its ID.
func (s *ClassificationStore) Insert(_ context.Context, c *domain.TokenClassification) error {
	if c == nil || c.TokenID == "" || c.PatternCode == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	c.ID = s.nextID
	cCopy := *c
	s.data = append(s.data, &cCopy)
	return nil
}

// GetByTokenID retrieves all classifications for a token in insert order.
func (s *ClassificationStore) GetByTokenID(_ context.Context, tokenID string) ([]*domain.TokenClassification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenClassification
	for _, c := range s.data {
		if c.TokenID == tokenID {
			cCopy := *c
			result = append(result, &cCopy)
		}
	}
	return result, nil
}

// HasAnyPattern reports whether any classification of the token has a
// lower-cased pattern_code in codes.
func (s *ClassificationStore) HasAnyPattern(_ context.Context, tokenID string, codes []string) (bool, error) {
	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		want[strings.ToLower(c)] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.data {
		if c.TokenID != tokenID {
			continue
		}
		if _, ok := want[strings.ToLower(c.PatternCode)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.AuditSnapshot // keyed by token_id, insert order
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{data: make(map[string][]*domain.AuditSnapshot)}
}

// Insert adds an audit snapshot.
func (s *AuditStore) Insert(_ context.Context, a *domain.AuditSnapshot) error {
	if a == nil || a.TokenID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	aCopy := *a
	s.data[a.TokenID] = append(s.data[a.TokenID], &aCopy)
	return nil
}

// GetLatest retrieves the snapshot with the newest fetched_at; ties go to
// the later insert. Returns ErrNotFound if none.
func (s *AuditStore) GetLatest(_ context.Context, tokenID string) (*domain.AuditSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.AuditSnapshot
	for _, a := range s.data[tokenID] {
		if latest == nil || !a.FetchedAt.Before(latest.FetchedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	aCopy := *latest
	return &aCopy, nil
}

// RiskAssessmentStore is an in-memory implementation of storage.RiskAssessmentStore.
type RiskAssessmentStore struct {
	mu     sync.RWMutex
	data   []*domain.RiskAssessment
	nextID int64
}

// NewRiskAssessmentStore creates a new in-memory risk assessment store.
func NewRiskAssessmentStore() *RiskAssessmentStore {
	return &RiskAssessmentStore{}
}

func copyAssessment(r *domain.RiskAssessment) *domain.RiskAssessment {
	c := *r
	c.Flags = append([]string(nil), r.Flags...)
	return &c
}

// Insert appends an assessment and sets its ID.
func (s *RiskAssessmentStore) Insert(_ context.Context, r *domain.RiskAssessment) error {
	if r == nil || r.TokenID == "" || !r.Tier.IsValid() || r.Score < 0 || r.Score > 1 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	s.data = append(s.data, copyAssessment(r))
	return nil
}

// GetLatest retrieves the most recent assessment. Returns ErrNotFound if none.
func (s *RiskAssessmentStore) GetLatest(_ context.Context, tokenID string) (*domain.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.data) - 1; i >= 0; i-- {
		if s.data[i].TokenID == tokenID {
			return copyAssessment(s.data[i]), nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetByTokenID retrieves all assessments for a token ordered by id ASC.
func (s *RiskAssessmentStore) GetByTokenID(_ context.Context, tokenID string) ([]*domain.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RiskAssessment
	for _, r := range s.data {
		if r.TokenID == tokenID {
			result = append(result, copyAssessment(r))
		}
	}
	return result, nil
}

var (
	_ storage.ClassificationStore = (*ClassificationStore)(nil)
	_ storage.AuditStore          = (*AuditStore)(nil)
	_ storage.RiskAssessmentStore = (*RiskAssessmentStore)(nil)
)
