package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/transfa/payout-service/internal/domain"
)

type memoryEntry struct {
	record  domain.PayoutRecord
	history []domain.StatusSnapshot
}

// MemoryRepository keeps payouts in process memory. Every read returns a deep copy.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (r *MemoryRepository) GetOrCreate(ctx context.Context, rec domain.PayoutRecord) (domain.PayoutRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PayoutRecord{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[rec.PayoutID]; ok {
		return existing.record.Clone(), false, nil
	}

	now := r.now().UTC()
	stored := rec.Clone()
	stored.UpdatedAt = now
	r.entries[rec.PayoutID] = &memoryEntry{
		record:  stored,
		history: []domain.StatusSnapshot{stored.Snapshot(now)},
	}
	return stored.Clone(), true, nil
}

func (r *MemoryRepository) Advance(ctx context.Context, payoutID string, next domain.PayoutStatus, fields AdvanceFields) (domain.PayoutRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PayoutRecord{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[payoutID]
	if !ok {
		return domain.PayoutRecord{}, false, ErrPayoutNotFound
	}

	changed, err := checkTransition(entry.record.Status, next)
	if err != nil || !changed {
		return entry.record.Clone(), false, err
	}

	now := r.now().UTC()
	updated := entry.record.Clone()
	fields.apply(&updated, next, now)
	entry.record = updated
	entry.history = append(entry.history, updated.Snapshot(now))
	return updated.Clone(), true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, payoutID string) (domain.PayoutRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.PayoutRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[payoutID]
	if !ok {
		return domain.PayoutRecord{}, ErrPayoutNotFound
	}
	return entry.record.Clone(), nil
}

func (r *MemoryRepository) History(ctx context.Context, payoutID string) ([]domain.StatusSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}

	out := make([]domain.StatusSnapshot, 0, len(entry.history))
	for _, snap := range entry.history {
		ids := make(map[string]string, len(snap.CorrespondentIDs))
		for k, v := range snap.CorrespondentIDs {
			ids[k] = v
		}
		snap.CorrespondentIDs = ids
		out = append(out, snap)
	}
	return out, nil
}

func (r *MemoryRepository) ListNonTerminal(ctx context.Context, olderThan time.Time, limit int) ([]domain.PayoutRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]domain.PayoutRecord, 0)
	for _, entry := range r.entries {
		if entry.record.Status.IsTerminal() || !entry.record.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, entry.record.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
