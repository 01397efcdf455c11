package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/internal/store"
)

// CorrespondentStatusRoutingKey is the binding used for correspondent network updates.
const CorrespondentStatusRoutingKey = "correspondent.status.*"

type statusAdvancer interface {
	Query(ctx context.Context, payoutID string) (domain.PayoutRecord, error)
	Advance(ctx context.Context, payoutID string, next domain.PayoutStatus, fields store.AdvanceFields) (domain.PayoutRecord, bool, error)
}

// CorrespondentStatusConsumer applies status events reported by the correspondent network.
type CorrespondentStatusConsumer struct {
	payouts statusAdvancer
}

func NewCorrespondentStatusConsumer(payouts statusAdvancer) *CorrespondentStatusConsumer {
	return &CorrespondentStatusConsumer{payouts: payouts}
}

// HandleMessage returns false only when the event should be redelivered.
func (c *CorrespondentStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.CorrespondentStatusEvent
	if err := sonic.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	if strings.TrimSpace(event.PayoutID) == "" {
		log.Printf("level=warn component=consumer msg=\"missing payout id\" event_id=%s", event.EventID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=error component=consumer msg=\"processing error\" payout_id=%s err=%v", event.PayoutID, err)
		return false
	}
	return true
}

func (c *CorrespondentStatusConsumer) processEvent(ctx context.Context, event domain.CorrespondentStatusEvent) error {
	payoutID := strings.TrimSpace(event.PayoutID)
	status, ok := normalizeStatus(event.Status)
	if !ok {
		log.Printf("level=warn component=consumer msg=\"unsupported status; acknowledging\" payout_id=%s status=%q", payoutID, event.Status)
		return nil
	}

	rec, err := c.payouts.Query(ctx, payoutID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			log.Printf("level=info component=consumer msg=\"no payout found; acknowledging\" payout_id=%s", payoutID)
			return nil
		}
		return fmt.Errorf("lookup payout: %w", err)
	}

	fields := store.AdvanceFields{}
	if ref := strings.TrimSpace(event.Reference); ref != "" {
		fields.CorrespondentIDs = map[string]string{stageKey(rec.Correspondent, event.Stage, status): ref}
	}
	if status == domain.StatusUnknownError {
		msg := domain.UnknownInternalErrorMessage
		fields.ErrorMessage = &msg
	}

	_, changed, err := c.payouts.Advance(ctx, payoutID, status, fields)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Printf("level=info component=consumer msg=\"stale status ignored\" payout_id=%s current=%s reported=%s", payoutID, rec.Status, status)
			return nil
		}
		if errors.Is(err, store.ErrPayoutNotFound) {
			return nil
		}
		return fmt.Errorf("advance payout: %w", err)
	}
	if !changed {
		log.Printf("level=debug component=consumer msg=\"status replay ignored\" payout_id=%s status=%s", payoutID, status)
	}
	return nil
}

func normalizeStatus(status string) (domain.PayoutStatus, bool) {
	switch strings.TrimSpace(strings.ToLower(status)) {
	case "successful", "success", "completed":
		return domain.StatusCompleted, true
	case "failed", "failure", "rejected":
		return domain.StatusFailed, true
	case "cancelled", "canceled":
		return domain.StatusCancelled, true
	case "initiated", "processing", "submitted":
		return domain.StatusSubmitted, true
	case "pending", "enqueued":
		return domain.StatusPending, true
	case "error", "unknown_error":
		return domain.StatusUnknownError, true
	default:
		return "", false
	}
}

// stageKey names the correspondentIds entry, e.g. MTN_INIT.
func stageKey(correspondent, stage string, status domain.PayoutStatus) string {
	suffix := strings.ToUpper(strings.TrimSpace(stage))
	if suffix == "" {
		switch status {
		case domain.StatusSubmitted, domain.StatusPending:
			suffix = "INIT"
		case domain.StatusCompleted:
			suffix = "FINAL"
		default:
			suffix = string(status)
		}
	}
	return operatorOf(correspondent) + "_" + suffix
}
