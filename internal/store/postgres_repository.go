/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Payouts live in `payouts`; every status a payout passes through is appended to
 * `payout_status_history` inside the same transaction as the state change.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/bytedance/sonic: Encoding of the correspondent_ids JSONB column.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/payout-service/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS payouts (
	payout_id              TEXT PRIMARY KEY,
	transaction_id         UUID NOT NULL UNIQUE,
	status                 TEXT NOT NULL,
	amount                 TEXT NOT NULL,
	currency               TEXT NOT NULL,
	recipient_type         TEXT NOT NULL,
	recipient_value        TEXT NOT NULL,
	correspondent          TEXT NOT NULL,
	country                TEXT NOT NULL,
	statement_description  TEXT NOT NULL DEFAULT '',
	customer_timestamp     TIMESTAMPTZ NOT NULL,
	created                TIMESTAMPTZ NOT NULL,
	received_by_recipient  TIMESTAMPTZ NOT NULL,
	correspondent_ids      JSONB NOT NULL DEFAULT '{}'::jsonb,
	rejection_reason       TEXT,
	rejection_message      TEXT,
	error_message          TEXT,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payouts_status_updated_at ON payouts (status, updated_at);

CREATE TABLE IF NOT EXISTS payout_status_history (
	id                 BIGSERIAL PRIMARY KEY,
	payout_id          TEXT NOT NULL REFERENCES payouts (payout_id) ON DELETE CASCADE,
	status             TEXT NOT NULL,
	correspondent_ids  JSONB NOT NULL DEFAULT '{}'::jsonb,
	rejection_reason   TEXT,
	rejection_message  TEXT,
	error_message      TEXT,
	recorded_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payout_status_history_payout_id ON payout_status_history (payout_id, id);
`

const payoutColumns = `
	payout_id, transaction_id, status, amount, currency, recipient_type, recipient_value,
	correspondent, country, statement_description, customer_timestamp, created,
	received_by_recipient, correspondent_ids, rejection_reason, rejection_message,
	error_message, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the payout tables when they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply payout schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOrCreate(ctx context.Context, rec domain.PayoutRecord) (domain.PayoutRecord, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.PayoutRecord{}, false, err
	}
	defer tx.Rollback(ctx)

	ids, err := marshalCorrespondentIDs(rec.CorrespondentIDs)
	if err != nil {
		return domain.PayoutRecord{}, false, err
	}
	rejectionReason, rejectionMessage := splitRejection(rec.RejectionReason)

	insert := `
		INSERT INTO payouts (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		ON CONFLICT (payout_id) DO NOTHING
		RETURNING ` + payoutColumns

	stored, err := scanPayout(tx.QueryRow(ctx, insert,
		rec.PayoutID,
		rec.TransactionID,
		string(rec.Status),
		rec.Amount,
		rec.Currency,
		rec.Recipient.Type,
		rec.Recipient.Address.Value,
		rec.Correspondent,
		rec.Country,
		rec.StatementDescription,
		rec.CustomerTimestamp,
		rec.Created,
		rec.ReceivedByRecipient,
		ids,
		rejectionReason,
		rejectionMessage,
		rec.ErrorMessage,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Another submission already owns this payoutId.
			existing, getErr := r.Get(ctx, rec.PayoutID)
			if getErr != nil {
				return domain.PayoutRecord{}, false, getErr
			}
			return existing, false, nil
		}
		return domain.PayoutRecord{}, false, fmt.Errorf("insert payout: %w", err)
	}

	if err := insertHistory(ctx, tx, stored); err != nil {
		return domain.PayoutRecord{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.PayoutRecord{}, false, err
	}
	return stored, true, nil
}

func (r *PostgresRepository) Advance(ctx context.Context, payoutID string, next domain.PayoutStatus, fields AdvanceFields) (domain.PayoutRecord, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.PayoutRecord{}, false, err
	}
	defer tx.Rollback(ctx)

	// Lock the row so concurrent advances are serialized.
	current, err := scanPayout(tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE payout_id = $1 FOR UPDATE`, payoutID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PayoutRecord{}, false, ErrPayoutNotFound
		}
		return domain.PayoutRecord{}, false, err
	}

	changed, err := checkTransition(current.Status, next)
	if err != nil || !changed {
		return current, false, err
	}

	updated := current.Clone()
	fields.apply(&updated, next, time.Now().UTC())

	ids, err := marshalCorrespondentIDs(updated.CorrespondentIDs)
	if err != nil {
		return domain.PayoutRecord{}, false, err
	}

	query := `
		UPDATE payouts
		SET status = $2, correspondent_ids = $3, error_message = $4, updated_at = NOW()
		WHERE payout_id = $1
		RETURNING ` + payoutColumns
	stored, err := scanPayout(tx.QueryRow(ctx, query, payoutID, string(next), ids, updated.ErrorMessage))
	if err != nil {
		return domain.PayoutRecord{}, false, fmt.Errorf("update payout status: %w", err)
	}

	if err := insertHistory(ctx, tx, stored); err != nil {
		return domain.PayoutRecord{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.PayoutRecord{}, false, err
	}
	return stored, true, nil
}

func (r *PostgresRepository) Get(ctx context.Context, payoutID string) (domain.PayoutRecord, error) {
	rec, err := scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE payout_id = $1`, payoutID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PayoutRecord{}, ErrPayoutNotFound
		}
		return domain.PayoutRecord{}, err
	}
	return rec, nil
}

func (r *PostgresRepository) History(ctx context.Context, payoutID string) ([]domain.StatusSnapshot, error) {
	query := `
		SELECT payout_id, status, correspondent_ids, rejection_reason, rejection_message, error_message, recorded_at
		FROM payout_status_history
		WHERE payout_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.Query(ctx, query, payoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.StatusSnapshot, 0)
	for rows.Next() {
		var (
			snap             domain.StatusSnapshot
			status           string
			rawIDs           []byte
			rejectionReason  *string
			rejectionMessage *string
		)
		if err := rows.Scan(&snap.PayoutID, &status, &rawIDs, &rejectionReason, &rejectionMessage, &snap.ErrorMessage, &snap.RecordedAt); err != nil {
			return nil, err
		}
		snap.Status = domain.PayoutStatus(status)
		if snap.CorrespondentIDs, err = unmarshalCorrespondentIDs(rawIDs); err != nil {
			return nil, err
		}
		snap.RejectionReason = joinRejection(rejectionReason, rejectionMessage)
		snap.RecordedAt = snap.RecordedAt.UTC()
		history = append(history, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrPayoutNotFound
	}
	return history, nil
}

func (r *PostgresRepository) ListNonTerminal(ctx context.Context, olderThan time.Time, limit int) ([]domain.PayoutRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE status IN ($1, $2, $3)
		  AND updated_at < $4
		ORDER BY updated_at ASC
		LIMIT $5
	`
	rows, err := r.db.Query(ctx, query,
		string(domain.StatusAccepted),
		string(domain.StatusPending),
		string(domain.StatusSubmitted),
		olderThan,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.PayoutRecord, 0)
	for rows.Next() {
		rec, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, rec domain.PayoutRecord) error {
	ids, err := marshalCorrespondentIDs(rec.CorrespondentIDs)
	if err != nil {
		return err
	}
	rejectionReason, rejectionMessage := splitRejection(rec.RejectionReason)
	_, err = tx.Exec(ctx, `
		INSERT INTO payout_status_history (payout_id, status, correspondent_ids, rejection_reason, rejection_message, error_message, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.PayoutID, string(rec.Status), ids, rejectionReason, rejectionMessage, rec.ErrorMessage, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payout history: %w", err)
	}
	return nil
}

func scanPayout(row pgx.Row) (domain.PayoutRecord, error) {
	var (
		rec              domain.PayoutRecord
		status           string
		rawIDs           []byte
		rejectionReason  *string
		rejectionMessage *string
	)
	err := row.Scan(
		&rec.PayoutID,
		&rec.TransactionID,
		&status,
		&rec.Amount,
		&rec.Currency,
		&rec.Recipient.Type,
		&rec.Recipient.Address.Value,
		&rec.Correspondent,
		&rec.Country,
		&rec.StatementDescription,
		&rec.CustomerTimestamp,
		&rec.Created,
		&rec.ReceivedByRecipient,
		&rawIDs,
		&rejectionReason,
		&rejectionMessage,
		&rec.ErrorMessage,
		&rec.UpdatedAt,
	)
	if err != nil {
		return domain.PayoutRecord{}, err
	}

	rec.Status = domain.PayoutStatus(status)
	if rec.CorrespondentIDs, err = unmarshalCorrespondentIDs(rawIDs); err != nil {
		return domain.PayoutRecord{}, err
	}
	rec.RejectionReason = joinRejection(rejectionReason, rejectionMessage)
	rec.CustomerTimestamp = rec.CustomerTimestamp.UTC()
	rec.Created = rec.Created.UTC()
	rec.ReceivedByRecipient = rec.ReceivedByRecipient.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func marshalCorrespondentIDs(ids map[string]string) ([]byte, error) {
	if ids == nil {
		ids = map[string]string{}
	}
	raw, err := sonic.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode correspondent ids: %w", err)
	}
	return raw, nil
}

func unmarshalCorrespondentIDs(raw []byte) (map[string]string, error) {
	ids := make(map[string]string)
	if len(raw) == 0 {
		return ids, nil
	}
	if err := sonic.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode correspondent ids: %w", err)
	}
	return ids, nil
}

func splitRejection(reason *domain.RejectionReason) (*string, *string) {
	if reason == nil {
		return nil, nil
	}
	code := reason.RejectionReason
	if reason.RejectionMessage == "" {
		return &code, nil
	}
	msg := reason.RejectionMessage
	return &code, &msg
}

func joinRejection(code, message *string) *domain.RejectionReason {
	if code == nil {
		return nil
	}
	reason := &domain.RejectionReason{RejectionReason: *code}
	if message != nil {
		reason.RejectionMessage = *message
	}
	return reason
}
