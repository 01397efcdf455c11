/**
 * @description
 * This file defines the `Repository` interface, the contract for every payout
 * persistence operation. The app layer depends only on this interface so the
 * in-memory and PostgreSQL stores are interchangeable.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/payout-service/internal/domain"
)

var (
	ErrPayoutNotFound    = errors.New("payout not found")
	ErrInvalidTransition = errors.New("invalid payout status transition")
)

// Repository defines the set of methods for interacting with payout storage.
type Repository interface {
	// GetOrCreate atomically returns the existing record for rec.PayoutID or stores rec.
	// Exactly one concurrent caller for a payoutId observes created=true.
	GetOrCreate(ctx context.Context, rec domain.PayoutRecord) (domain.PayoutRecord, bool, error)
	// Advance moves a record forward. Re-applying the current status is a no-op (changed=false).
	Advance(ctx context.Context, payoutID string, next domain.PayoutStatus, fields AdvanceFields) (domain.PayoutRecord, bool, error)
	Get(ctx context.Context, payoutID string) (domain.PayoutRecord, error)
	// History returns every recorded snapshot, oldest first.
	History(ctx context.Context, payoutID string) ([]domain.StatusSnapshot, error)
	// ListNonTerminal returns records still in flight whose last update is before olderThan.
	ListNonTerminal(ctx context.Context, olderThan time.Time, limit int) ([]domain.PayoutRecord, error)
}

// AdvanceFields carries optional data merged into the record during a transition.
type AdvanceFields struct {
	CorrespondentIDs map[string]string
	ErrorMessage     *string
}

// apply merges the fields into rec and sets the new status.
func (f AdvanceFields) apply(rec *domain.PayoutRecord, next domain.PayoutStatus, now time.Time) {
	rec.Status = next
	if rec.CorrespondentIDs == nil {
		rec.CorrespondentIDs = make(map[string]string, len(f.CorrespondentIDs))
	}
	for k, v := range f.CorrespondentIDs {
		rec.CorrespondentIDs[k] = v
	}
	if f.ErrorMessage != nil {
		msg := *f.ErrorMessage
		rec.ErrorMessage = &msg
	}
	rec.UpdatedAt = now
}

// checkTransition reports whether moving from current to next changes anything.
func checkTransition(current, next domain.PayoutStatus) (bool, error) {
	if current == next {
		return false, nil
	}
	if !current.CanTransitionTo(next) {
		return false, ErrInvalidTransition
	}
	return true, nil
}
