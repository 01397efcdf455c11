package domain

import "time"

// PayoutStatusEvent is published to the events exchange whenever a payout changes status.
type PayoutStatusEvent struct {
	EventID          string            `json:"event_id"`
	EventType        string            `json:"event_type"`
	TransactionID    string            `json:"transaction_id"`
	PayoutID         string            `json:"payout_id"`
	Status           PayoutStatus      `json:"status"`
	PreviousStatus   PayoutStatus      `json:"previous_status,omitempty"`
	Correspondent    string            `json:"correspondent"`
	Amount           string            `json:"amount"`
	Currency         string            `json:"currency"`
	CorrespondentIDs map[string]string `json:"correspondent_ids,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

// CorrespondentStatusEvent is emitted by the correspondent network integration when a
// payout progresses on the operator side.
type CorrespondentStatusEvent struct {
	EventID    string    `json:"event_id"`
	PayoutID   string    `json:"payout_id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	Reference  string    `json:"reference"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
