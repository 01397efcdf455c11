/**
 * @description
 * This file contains the core business logic for the payout-service. The `Service`
 * struct orchestrates the payout lifecycle, coordinating between the payout repository,
 * the submission validator, the callback dispatcher and the message broker.
 *
 * Key features:
 * - Idempotent submission keyed by the caller's payoutId (DUPLICATE_IGNORED on replay).
 * - Business-rule classification into ACCEPTED, REJECTED or UNKNOWN_ERROR.
 * - Forward-only status advancement with one callback per new reportable transition.
 * - Publishes a status event to RabbitMQ for every transition.
 *
 * @dependencies
 * - github.com/google/uuid: For transaction id generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For broker events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/internal/store"
	"github.com/transfa/payout-service/pkg/rabbitmq"
)

var (
	ErrInternalFault            = errors.New("internal fault")
	ErrInvalidCustomerTimestamp = errors.New("invalid customerTimestamp")
)

const (
	DefaultCreatedOffset  = 29 * time.Second
	DefaultReceivedOffset = time.Second
	DefaultEventsExchange = "transfa.events"

	eventPublishTimeout = 5 * time.Second
)

// CallbackNotifier queues a callback body for asynchronous delivery.
type CallbackNotifier interface {
	Enqueue(key string, payload interface{}) bool
}

// ServiceOptions tunes the lifecycle behaviour of a Service.
type ServiceOptions struct {
	CreatedOffset  time.Duration
	ReceivedOffset time.Duration
	EventsExchange string
	// CallbackStatuses restricts which transitions trigger callbacks. Empty means all.
	CallbackStatuses []domain.PayoutStatus
	Progression      ProgressionPolicy
}

// Service provides the core business logic for payouts.
type Service struct {
	repo          store.Repository
	validator     *Validator
	notifier      CallbackNotifier
	eventProducer rabbitmq.Publisher
	progressor    *Progressor

	createdOffset  time.Duration
	receivedOffset time.Duration
	eventsExchange string
	reportable     map[domain.PayoutStatus]bool
}

// NewService creates a new payout service instance.
func NewService(repo store.Repository, validator *Validator, notifier CallbackNotifier, producer rabbitmq.Publisher, opts ServiceOptions) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	if opts.CreatedOffset <= 0 {
		opts.CreatedOffset = DefaultCreatedOffset
	}
	if opts.ReceivedOffset <= 0 {
		opts.ReceivedOffset = DefaultReceivedOffset
	}
	if strings.TrimSpace(opts.EventsExchange) == "" {
		opts.EventsExchange = DefaultEventsExchange
	}

	var reportable map[domain.PayoutStatus]bool
	if len(opts.CallbackStatuses) > 0 {
		reportable = make(map[domain.PayoutStatus]bool, len(opts.CallbackStatuses))
		for _, status := range opts.CallbackStatuses {
			reportable[status] = true
		}
	}

	s := &Service{
		repo:           repo,
		validator:      validator,
		notifier:       notifier,
		eventProducer:  producer,
		createdOffset:  opts.CreatedOffset,
		receivedOffset: opts.ReceivedOffset,
		eventsExchange: opts.EventsExchange,
		reportable:     reportable,
	}
	s.progressor = NewProgressor(s, opts.Progression)
	return s
}

// Submit handles a payout submission. Every business outcome is returned as a result;
// the error is reserved for requests that cannot be interpreted at all.
func (s *Service) Submit(ctx context.Context, p domain.Payout) (domain.SubmissionResult, error) {
	p.PayoutID = strings.TrimSpace(p.PayoutID)

	// A known payoutId is answered before anything in the body is looked at.
	if p.PayoutID != "" {
		if _, err := s.repo.Get(ctx, p.PayoutID); err == nil {
			log.Printf("level=info component=app msg=\"duplicate payout ignored\" payout_id=%s", p.PayoutID)
			return duplicateResult(p.PayoutID), nil
		} else if !errors.Is(err, store.ErrPayoutNotFound) {
			log.Printf("level=error component=app msg=\"payout lookup failed\" payout_id=%s err=%v", p.PayoutID, err)
			return unknownErrorResult(p.PayoutID), nil
		}
	}

	customerTime, err := domain.ParseCustomerTimestamp(p.CustomerTimestamp)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("%w: %v", ErrInvalidCustomerTimestamp, err)
	}

	classification, err := s.validator.Classify(ctx, p)
	if err != nil {
		log.Printf("level=error component=app msg=\"payout classification failed\" payout_id=%s err=%v", p.PayoutID, fmt.Errorf("%w: %v", ErrInternalFault, err))
		msg := domain.UnknownInternalErrorMessage
		classification = Classification{Status: domain.StatusUnknownError}
		return s.persistOutcome(ctx, p, customerTime, classification, &msg)
	}

	if p.PayoutID == "" {
		// Nothing to key a record on.
		return domain.SubmissionResult{
			PayoutID:        p.PayoutID,
			Status:          classification.Status,
			RejectionReason: classification.Reason,
		}, nil
	}

	return s.persistOutcome(ctx, p, customerTime, classification, nil)
}

func (s *Service) persistOutcome(ctx context.Context, p domain.Payout, customerTime time.Time, c Classification, errorMessage *string) (domain.SubmissionResult, error) {
	created, received := domain.DeriveTimestamps(customerTime, s.createdOffset, s.receivedOffset)
	record := domain.PayoutRecord{
		TransactionID:        uuid.New(),
		PayoutID:             p.PayoutID,
		Status:               c.Status,
		Amount:               strings.TrimSpace(p.Amount),
		Currency:             strings.ToUpper(strings.TrimSpace(p.Currency)),
		Recipient:            p.Recipient,
		Correspondent:        strings.ToUpper(strings.TrimSpace(p.Correspondent)),
		Country:              strings.ToUpper(strings.TrimSpace(p.Country)),
		StatementDescription: p.StatementDescription,
		CustomerTimestamp:    customerTime,
		Created:              created,
		ReceivedByRecipient:  received,
		CorrespondentIDs:     map[string]string{},
		RejectionReason:      c.Reason,
		ErrorMessage:         errorMessage,
	}

	stored, isNew, err := s.repo.GetOrCreate(ctx, record)
	if err != nil {
		log.Printf("level=error component=app msg=\"persist payout failed\" payout_id=%s err=%v", p.PayoutID, err)
		return unknownErrorResult(p.PayoutID), nil
	}
	if !isNew {
		log.Printf("level=info component=app msg=\"duplicate payout ignored\" payout_id=%s", p.PayoutID)
		return duplicateResult(p.PayoutID), nil
	}

	log.Printf("level=info component=app msg=\"payout recorded\" payout_id=%s transaction_id=%s status=%s correspondent=%s", stored.PayoutID, stored.TransactionID, stored.Status, stored.Correspondent)
	s.publishStatusEvent(stored, "")

	switch stored.Status {
	case domain.StatusAccepted:
		s.notify(stored)
		s.progressor.Schedule(stored)
		createdAt := stored.Created
		return domain.SubmissionResult{PayoutID: stored.PayoutID, Status: stored.Status, Created: &createdAt}, nil
	case domain.StatusRejected:
		return domain.SubmissionResult{PayoutID: stored.PayoutID, Status: stored.Status, RejectionReason: stored.RejectionReason}, nil
	default:
		return unknownErrorResult(stored.PayoutID), nil
	}
}

// Query returns the latest state of a payout.
func (s *Service) Query(ctx context.Context, payoutID string) (domain.PayoutRecord, error) {
	rec, err := s.repo.Get(ctx, strings.TrimSpace(payoutID))
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			return domain.PayoutRecord{}, err
		}
		return domain.PayoutRecord{}, fmt.Errorf("%w: query payout: %v", ErrInternalFault, err)
	}
	return rec, nil
}

// History returns every status the payout has passed through, oldest first.
func (s *Service) History(ctx context.Context, payoutID string) ([]domain.StatusSnapshot, error) {
	history, err := s.repo.History(ctx, strings.TrimSpace(payoutID))
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: payout history: %v", ErrInternalFault, err)
	}
	return history, nil
}

// Advance moves a payout forward and reports the change. Re-applying the current status
// returns changed=false and emits nothing.
func (s *Service) Advance(ctx context.Context, payoutID string, next domain.PayoutStatus, fields store.AdvanceFields) (domain.PayoutRecord, bool, error) {
	before, err := s.repo.Get(ctx, payoutID)
	if err != nil {
		return domain.PayoutRecord{}, false, err
	}

	rec, changed, err := s.repo.Advance(ctx, payoutID, next, fields)
	if err != nil || !changed {
		return rec, changed, err
	}

	log.Printf("level=info component=app msg=\"payout advanced\" payout_id=%s from=%s to=%s", payoutID, before.Status, rec.Status)
	s.publishStatusEvent(rec, before.Status)
	s.notify(rec)
	return rec, true, nil
}

// ResumeStale re-schedules progression for in-flight payouts not updated since olderThan.
func (s *Service) ResumeStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	records, err := s.repo.ListNonTerminal(ctx, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("list non-terminal payouts: %w", err)
	}
	scheduled := 0
	for _, rec := range records {
		if s.progressor.Schedule(rec) {
			scheduled++
		}
	}
	return scheduled, nil
}

// Stop cancels pending progression and waits for it to exit.
func (s *Service) Stop() {
	s.progressor.Stop()
}

func (s *Service) isReportable(status domain.PayoutStatus) bool {
	if s.reportable == nil {
		return true
	}
	return s.reportable[status]
}

func (s *Service) notify(rec domain.PayoutRecord) {
	if s.notifier == nil || !s.isReportable(rec.Status) {
		return
	}
	key := rec.PayoutID + ":" + string(rec.Status)
	if !s.notifier.Enqueue(key, domain.NewCallbackPayload(rec)) {
		log.Printf("level=debug component=app msg=\"callback not queued\" payout_id=%s status=%s", rec.PayoutID, rec.Status)
	}
}

func (s *Service) publishStatusEvent(rec domain.PayoutRecord, previous domain.PayoutStatus) {
	event := domain.PayoutStatusEvent{
		EventID:          uuid.NewString(),
		EventType:        "payout.status." + strings.ToLower(string(rec.Status)),
		TransactionID:    rec.TransactionID.String(),
		PayoutID:         rec.PayoutID,
		Status:           rec.Status,
		PreviousStatus:   previous,
		Correspondent:    rec.Correspondent,
		Amount:           rec.Amount,
		Currency:         rec.Currency,
		CorrespondentIDs: rec.CorrespondentIDs,
		OccurredAt:       time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()
	if err := s.eventProducer.Publish(ctx, s.eventsExchange, event.EventType, event); err != nil {
		log.Printf("level=warn component=app msg=\"status event publish failed\" payout_id=%s status=%s err=%v", rec.PayoutID, rec.Status, err)
	}
}

func duplicateResult(payoutID string) domain.SubmissionResult {
	return domain.SubmissionResult{PayoutID: payoutID, Status: domain.StatusDuplicateIgnored}
}

func unknownErrorResult(payoutID string) domain.SubmissionResult {
	msg := domain.UnknownInternalErrorMessage
	return domain.SubmissionResult{PayoutID: payoutID, ErrorMessage: &msg}
}
