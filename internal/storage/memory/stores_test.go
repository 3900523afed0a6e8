package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

func TestClassificationStore_HasAnyPattern(t *testing.T) {
	store := NewClassificationStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.TokenClassification{TokenID: "t1", PatternCode: "DEATH_SPIKE"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	found, _ := store.HasAnyPattern(ctx, "t1", []string{"death_spike"})
	if !found {
		t.Error("expected case-insensitive match")
	}
	found, _ = store.HasAnyPattern(ctx, "t2", []string{"death_spike"})
	if found {
		t.Error("unexpected match for other token")
	}
	if err := store.Insert(ctx, &domain.TokenClassification{TokenID: "t1"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestAuditStore_GetLatest(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	if _, err := store.GetLatest(ctx, "t1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	now := time.Now()
	_ = store.Insert(ctx, &domain.AuditSnapshot{TokenID: "t1", TopHoldersPct: 10, FetchedAt: now.Add(time.Minute)})
	_ = store.Insert(ctx, &domain.AuditSnapshot{TokenID: "t1", TopHoldersPct: 20, FetchedAt: now})

	got, err := store.GetLatest(ctx, "t1")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if got.TopHoldersPct != 10 {
		t.Errorf("expected newest fetched_at snapshot, got %+v", got)
	}
}

func TestRiskAssessmentStore_Latest(t *testing.T) {
	store := NewRiskAssessmentStore()
	ctx := context.Background()

	first := &domain.RiskAssessment{TokenID: "t1", Score: 0.8, Tier: domain.RiskTierHigh, Flags: []string{domain.RiskFlagRugpull}}
	second := &domain.RiskAssessment{TokenID: "t1", Score: 0.2, Tier: domain.RiskTierLow}
	_ = store.Insert(ctx, first)
	_ = store.Insert(ctx, second)

	latest, err := store.GetLatest(ctx, "t1")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.ID != second.ID || latest.Tier != domain.RiskTierLow {
		t.Errorf("unexpected latest: %+v", latest)
	}

	all, _ := store.GetByTokenID(ctx, "t1")
	if len(all) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(all))
	}
	all[0].Flags[0] = "mutated"
	again, _ := store.GetByTokenID(ctx, "t1")
	if again[0].Flags[0] != domain.RiskFlagRugpull {
		t.Error("flags mutated through returned copy")
	}

	if err := store.Insert(ctx, &domain.RiskAssessment{TokenID: "t1", Score: 2, Tier: domain.RiskTierHigh}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestLiquidityTimeseriesStore_GetLatest(t *testing.T) {
	store := NewLiquidityTimeseriesStore()
	ctx := context.Background()

	var samples []*domain.LiquiditySample
	for i := int64(1); i <= 5; i++ {
		samples = append(samples, &domain.LiquiditySample{TokenID: "t1", TimestampMs: i * 1000, LiquidityUSD: float64(i)})
	}
	if err := store.InsertBulk(ctx, samples); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	if err := store.InsertBulk(ctx, samples[:1]); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetLatest(ctx, "t1", 3)
	if len(got) != 3 || got[0].TimestampMs != 3000 || got[2].TimestampMs != 5000 {
		t.Errorf("unexpected latest window: %+v", got)
	}

	ranged, _ := store.GetByTimeRange(ctx, "t1", 2000, 3000)
	if len(ranged) != 2 {
		t.Errorf("expected 2 samples in range, got %d", len(ranged))
	}
}

func TestSettlementStore_UnrecordedAndResolve(t *testing.T) {
	store := NewSettlementStore()
	ctx := context.Background()

	now := time.Now()
	_ = store.Insert(ctx, &domain.Settlement{Signature: "s2", WalletID: 1, TokenID: "t1", Side: domain.SideSell, Status: domain.SettlementSubmitted, Reason: "TIMEOUT", CreatedAt: now.Add(time.Second)})
	_ = store.Insert(ctx, &domain.Settlement{Signature: "s1", WalletID: 1, TokenID: "t1", Side: domain.SideBuy, Status: domain.SettlementSubmitted, CreatedAt: now})

	list, err := store.ListUnrecorded(ctx)
	if err != nil || len(list) != 2 || list[0].Signature != "s1" || list[1].Signature != "s2" {
		t.Fatalf("expected [s1 s2], got %+v err=%v", list, err)
	}
	if list[1].Reason != "TIMEOUT" {
		t.Errorf("expected reason TIMEOUT, got %q", list[1].Reason)
	}

	// Confirmed entries still wait for the ledger.
	if err := store.Resolve(ctx, "s1", domain.SettlementConfirmed, now); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if list, _ = store.ListUnrecorded(ctx); len(list) != 2 {
		t.Errorf("expected confirmed entry to stay unrecorded, got %d entries", len(list))
	}

	_ = store.Resolve(ctx, "s1", domain.SettlementRecorded, now)
	_ = store.Resolve(ctx, "s2", domain.SettlementFailed, now)
	if list, _ = store.ListUnrecorded(ctx); len(list) != 0 {
		t.Errorf("expected no unrecorded entries, got %+v", list)
	}

	if err := store.Resolve(ctx, "missing", domain.SettlementConfirmed, now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
