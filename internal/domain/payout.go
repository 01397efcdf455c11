/**
 * @description
 * This file defines the core domain models for the payout-service.
 * These structs represent the payout request submitted by callers, the server-side
 * record that tracks a payout through its lifecycle, and the status vocabulary shared
 * by the API, the store, the callback notifier and the broker events.
 *
 * @notes
 * - Amounts travel as decimal strings exactly as the caller sent them; validation
 *   happens in the app layer and the store never reformats them.
 * - `PayoutID` is the caller's idempotency key. `TransactionID` is assigned by the
 *   service once and never changes.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PayoutStatus is the wire representation of a payout lifecycle state.
type PayoutStatus string

const (
	StatusAccepted         PayoutStatus = "ACCEPTED"
	StatusRejected         PayoutStatus = "REJECTED"
	StatusDuplicateIgnored PayoutStatus = "DUPLICATE_IGNORED"
	StatusPending          PayoutStatus = "PENDING"
	StatusSubmitted        PayoutStatus = "SUBMITTED"
	StatusCompleted        PayoutStatus = "COMPLETED"
	StatusCancelled        PayoutStatus = "CANCELLED"
	StatusFailed           PayoutStatus = "FAILED"
	StatusUnknownError     PayoutStatus = "UNKNOWN_ERROR"
)

// UnknownInternalErrorMessage is the only error text ever exposed for unclassified faults.
const UnknownInternalErrorMessage = "Unknown Internal Error"

// Rejection reason codes returned with REJECTED submissions.
const (
	ReasonPayoutsNotAllowed    = "PAYOUTS_NOT_ALLOWED"
	ReasonInvalidAmount        = "INVALID_AMOUNT"
	ReasonInvalidCurrency      = "INVALID_CURRENCY"
	ReasonInvalidRecipient     = "INVALID_RECIPIENT"
	ReasonInvalidCorrespondent = "INVALID_CORRESPONDENT"
	ReasonInvalidPayoutID      = "INVALID_PAYOUT_ID"
)

// statusRank orders the non-terminal states; every terminal state ranks above them.
var statusRank = map[PayoutStatus]int{
	StatusAccepted:  0,
	StatusPending:   1,
	StatusSubmitted: 2,
}

// IsTerminal reports whether no further transition can leave this status.
func (s PayoutStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusRejected, StatusDuplicateIgnored, StatusUnknownError:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is part of the status vocabulary.
func (s PayoutStatus) IsValid() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusDuplicateIgnored, StatusPending, StatusSubmitted,
		StatusCompleted, StatusCancelled, StatusFailed, StatusUnknownError:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a record in status s may move to next.
// REJECTED and DUPLICATE_IGNORED are submission outcomes and are never reached by advancing.
func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == StatusRejected || next == StatusDuplicateIgnored {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// ParseStatus converts a wire string into a PayoutStatus.
func ParseStatus(raw string) (PayoutStatus, bool) {
	status := PayoutStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.IsValid() {
		return "", false
	}
	return status, true
}

// FinancialAddress references the destination account of a payout.
type FinancialAddress struct {
	Type    string  `json:"type"`
	Address Address `json:"address"`
}

// Address holds the account reference value, e.g. an MSISDN.
type Address struct {
	Value string `json:"value"`
}

// Payout is the DTO for incoming payout submissions.
type Payout struct {
	PayoutID             string           `json:"payoutId"`
	Amount               string           `json:"amount"`
	Currency             string           `json:"currency"`
	Recipient            FinancialAddress `json:"recipient"`
	Correspondent        string           `json:"correspondent"`
	Country              string           `json:"country"`
	StatementDescription string           `json:"statementDescription"`
	CustomerTimestamp    string           `json:"customerTimestamp"`
}

// RejectionReason explains why a submission was rejected.
type RejectionReason struct {
	RejectionReason  string `json:"rejectionReason"`
	RejectionMessage string `json:"rejectionMessage,omitempty"`
}

// PayoutRecord is the server-side state of a payout. It is created on the first
// submission of a payoutId and only ever moves forward.
type PayoutRecord struct {
	TransactionID        uuid.UUID         `json:"transactionId"`
	PayoutID             string            `json:"payoutId"`
	Status               PayoutStatus      `json:"status"`
	Amount               string            `json:"amount"`
	Currency             string            `json:"currency"`
	Recipient            FinancialAddress  `json:"recipient"`
	Correspondent        string            `json:"correspondent"`
	Country              string            `json:"country"`
	StatementDescription string            `json:"statementDescription"`
	CustomerTimestamp    time.Time         `json:"customerTimestamp"`
	Created              time.Time         `json:"created"`
	ReceivedByRecipient  time.Time         `json:"receivedByRecipient"`
	CorrespondentIDs     map[string]string `json:"correspondentIds"`
	RejectionReason      *RejectionReason  `json:"rejectionReason,omitempty"`
	ErrorMessage         *string           `json:"errorMessage,omitempty"`
	UpdatedAt            time.Time         `json:"-"`
}

// Clone returns a deep copy so callers can never mutate stored state.
func (r PayoutRecord) Clone() PayoutRecord {
	out := r
	out.CorrespondentIDs = make(map[string]string, len(r.CorrespondentIDs))
	for k, v := range r.CorrespondentIDs {
		out.CorrespondentIDs[k] = v
	}
	if r.RejectionReason != nil {
		reason := *r.RejectionReason
		out.RejectionReason = &reason
	}
	if r.ErrorMessage != nil {
		msg := *r.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}

// Snapshot captures the record's current state as a history entry.
func (r PayoutRecord) Snapshot(recordedAt time.Time) StatusSnapshot {
	c := r.Clone()
	return StatusSnapshot{
		PayoutID:         c.PayoutID,
		Status:           c.Status,
		CorrespondentIDs: c.CorrespondentIDs,
		RejectionReason:  c.RejectionReason,
		ErrorMessage:     c.ErrorMessage,
		RecordedAt:       recordedAt.UTC(),
	}
}

// StatusSnapshot is one ordered entry of a payout's status history.
type StatusSnapshot struct {
	PayoutID         string            `json:"payoutId"`
	Status           PayoutStatus      `json:"status"`
	CorrespondentIDs map[string]string `json:"correspondentIds"`
	RejectionReason  *RejectionReason  `json:"rejectionReason,omitempty"`
	ErrorMessage     *string           `json:"errorMessage,omitempty"`
	RecordedAt       time.Time         `json:"recordedAt"`
}

// SubmissionResult is the synchronous answer to a payout submission.
// Status is empty only for the UNKNOWN_ERROR outcome, which carries ErrorMessage instead.
type SubmissionResult struct {
	PayoutID        string           `json:"payoutId"`
	Status          PayoutStatus     `json:"status,omitempty"`
	Created         *time.Time       `json:"created,omitempty"`
	RejectionReason *RejectionReason `json:"rejectionReason,omitempty"`
	ErrorMessage    *string          `json:"errorMessage,omitempty"`
}

// CallbackPayload is the body POSTed to the registered callback URL on each reportable transition.
type CallbackPayload struct {
	TransactionID        string            `json:"transactionId"`
	PayoutID             string            `json:"payoutId"`
	Created              string            `json:"created"`
	Amount               string            `json:"amount"`
	Currency             string            `json:"currency"`
	Recipient            FinancialAddress  `json:"recipient"`
	Correspondent        string            `json:"correspondent"`
	Country              string            `json:"country"`
	StatementDescription string            `json:"statementDescription"`
	CustomerTimestamp    string            `json:"customerTimestamp"`
	ReceivedByRecipient  string            `json:"receivedByRecipient"`
	CorrespondentIDs     map[string]string `json:"correspondentIds"`
	Status               PayoutStatus      `json:"status"`
	ErrorMessage         *string           `json:"errorMessage,omitempty"`
}

// NewCallbackPayload renders a record into the callback wire format.
func NewCallbackPayload(r PayoutRecord) CallbackPayload {
	c := r.Clone()
	return CallbackPayload{
		TransactionID:        c.TransactionID.String(),
		PayoutID:             c.PayoutID,
		Created:              FormatTimestamp(c.Created),
		Amount:               c.Amount,
		Currency:             c.Currency,
		Recipient:            c.Recipient,
		Correspondent:        c.Correspondent,
		Country:              c.Country,
		StatementDescription: c.StatementDescription,
		CustomerTimestamp:    FormatTimestamp(c.CustomerTimestamp),
		ReceivedByRecipient:  FormatTimestamp(c.ReceivedByRecipient),
		CorrespondentIDs:     c.CorrespondentIDs,
		Status:               c.Status,
		ErrorMessage:         c.ErrorMessage,
	}
}
