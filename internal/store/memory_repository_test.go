package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payout-service/internal/domain"
)

func newTestRecord(payoutID string) domain.PayoutRecord {
	customer := time.Date(2000, time.March, 9, 17, 33, 0, 0, time.UTC)
	created, received := domain.DeriveTimestamps(customer, 29*time.Second, time.Second)
	return domain.PayoutRecord{
		TransactionID:       uuid.New(),
		PayoutID:            payoutID,
		Status:              domain.StatusAccepted,
		Amount:              "15.21",
		Currency:            "ZMW",
		Recipient:           domain.FinancialAddress{Type: "MSISDN", Address: domain.Address{Value: "260763456789"}},
		Correspondent:       "MTN_MOMO_ZMB",
		Country:             "ZMB",
		CustomerTimestamp:   customer,
		Created:             created,
		ReceivedByRecipient: received,
		CorrespondentIDs:    map[string]string{},
	}
}

func TestMemoryRepositoryGetOrCreateIsAtomic(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		txIDs   = make(map[uuid.UUID]struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, isNew, err := repo.GetOrCreate(ctx, newTestRecord("2"))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if isNew {
				created++
			}
			txIDs[rec.TransactionID] = struct{}{}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one creator, got %d", created)
	}
	if len(txIDs) != 1 {
		t.Fatalf("expected every caller to observe one transaction id, got %d", len(txIDs))
	}

	history, err := repo.History(ctx, "2")
	if err != nil {
		t.Fatalf("unexpected history error: %v", err)
	}
	if len(history) != 1 || history[0].Status != domain.StatusAccepted {
		t.Fatalf("expected single ACCEPTED snapshot, got %+v", history)
	}
}

func TestMemoryRepositoryAdvance(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if _, _, err := repo.GetOrCreate(ctx, newTestRecord("2")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, changed, err := repo.Advance(ctx, "2", domain.StatusSubmitted, AdvanceFields{
		CorrespondentIDs: map[string]string{"MTN_INIT": "ABC123"},
	})
	if err != nil || !changed {
		t.Fatalf("expected SUBMITTED advance, changed=%t err=%v", changed, err)
	}
	if rec.CorrespondentIDs["MTN_INIT"] != "ABC123" {
		t.Fatalf("expected correspondent id to be merged, got %+v", rec.CorrespondentIDs)
	}

	if _, changed, err := repo.Advance(ctx, "2", domain.StatusSubmitted, AdvanceFields{}); err != nil || changed {
		t.Fatalf("expected idempotent replay, changed=%t err=%v", changed, err)
	}

	if _, _, err := repo.Advance(ctx, "2", domain.StatusPending, AdvanceFields{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for backward move, got %v", err)
	}

	rec, changed, err = repo.Advance(ctx, "2", domain.StatusCompleted, AdvanceFields{
		CorrespondentIDs: map[string]string{"MTN_FINAL": "DEF456"},
	})
	if err != nil || !changed {
		t.Fatalf("expected COMPLETED advance, changed=%t err=%v", changed, err)
	}
	if len(rec.CorrespondentIDs) != 2 {
		t.Fatalf("expected both correspondent ids, got %+v", rec.CorrespondentIDs)
	}

	if _, _, err := repo.Advance(ctx, "2", domain.StatusFailed, AdvanceFields{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected terminal record to refuse transition, got %v", err)
	}

	got, err := repo.Get(ctx, "2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}

	history, err := repo.History(ctx, "2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []domain.PayoutStatus{domain.StatusAccepted, domain.StatusSubmitted, domain.StatusCompleted}
	if len(history) != len(want) {
		t.Fatalf("expected %d snapshots, got %d", len(want), len(history))
	}
	for i, status := range want {
		if history[i].Status != status {
			t.Fatalf("snapshot %d: expected %s, got %s", i, status, history[i].Status)
		}
	}
	if _, ok := history[1].CorrespondentIDs["MTN_FINAL"]; ok {
		t.Fatal("earlier snapshot must not see later correspondent ids")
	}
}

func TestMemoryRepositoryNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrPayoutNotFound) {
		t.Fatalf("expected ErrPayoutNotFound from Get, got %v", err)
	}
	if _, err := repo.History(ctx, "missing"); !errors.Is(err, ErrPayoutNotFound) {
		t.Fatalf("expected ErrPayoutNotFound from History, got %v", err)
	}
	if _, _, err := repo.Advance(ctx, "missing", domain.StatusCompleted, AdvanceFields{}); !errors.Is(err, ErrPayoutNotFound) {
		t.Fatalf("expected ErrPayoutNotFound from Advance, got %v", err)
	}
}

func TestMemoryRepositoryReadsAreSnapshots(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if _, _, err := repo.GetOrCreate(ctx, newTestRecord("7")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, _ := repo.Get(ctx, "7")
	rec.CorrespondentIDs["MTN_INIT"] = "TAMPERED"
	rec.Status = domain.StatusCompleted

	again, _ := repo.Get(ctx, "7")
	if again.Status != domain.StatusAccepted || len(again.CorrespondentIDs) != 0 {
		t.Fatalf("stored record was mutated through a read: %+v", again)
	}
}

func TestMemoryRepositoryListNonTerminal(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := repo.GetOrCreate(ctx, newTestRecord(id)); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
		clock = clock.Add(time.Minute)
	}
	if _, _, err := repo.Advance(ctx, "b", domain.StatusCompleted, AdvanceFields{}); err != nil {
		t.Fatalf("advance b: %v", err)
	}

	stale, err := repo.ListNonTerminal(ctx, base.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 2 || stale[0].PayoutID != "a" || stale[1].PayoutID != "c" {
		t.Fatalf("expected a and c in update order, got %+v", stale)
	}

	limited, _ := repo.ListNonTerminal(ctx, base.Add(10*time.Minute), 1)
	if len(limited) != 1 || limited[0].PayoutID != "a" {
		t.Fatalf("expected limit to keep oldest record, got %+v", limited)
	}

	none, _ := repo.ListNonTerminal(ctx, base, 10)
	if len(none) != 0 {
		t.Fatalf("expected nothing older than base, got %d", len(none))
	}
}
