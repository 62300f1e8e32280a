package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clubledger/billing-service/internal/domain"
)

const notificationColumns = `resource_id, topic, user_id, application_id, api_version, sent_at,
       processing_status, processing_error, raw_payload, transaction_id, created_at, updated_at`

// InsertNotificationRecord attempts to claim the (resource_id, topic) pair in
// the dedup ledger. ON CONFLICT DO NOTHING makes the claim race-free: under
// concurrent deliveries of the same notification, exactly one caller observes
// created=true and proceeds to apply side effects.
func (r *PostgresRepository) InsertNotificationRecord(ctx context.Context, record *domain.NotificationRecord) (bool, error) {
	status := record.ProcessingStatus
	if status == "" {
		status = domain.NotificationStatusPending
	}
	query := `
		INSERT INTO gateway_notifications (resource_id, topic, user_id, application_id, api_version, sent_at, processing_status, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (resource_id, topic) DO NOTHING
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		record.ResourceID, record.Topic, record.UserID, record.ApplicationID,
		record.APIVersion, record.SentAt, status, record.RawPayload,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict: this (resource_id, topic) pair was already claimed.
			return false, nil
		}
		return false, err
	}
	record.ProcessingStatus = status
	return true, nil
}

// GetNotificationRecord retrieves one row of the dedup ledger.
func (r *PostgresRepository) GetNotificationRecord(ctx context.Context, resourceID, topic string) (*domain.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM gateway_notifications WHERE resource_id = $1 AND topic = $2`
	var record domain.NotificationRecord
	err := r.db.QueryRow(ctx, query, resourceID, topic).Scan(
		&record.ResourceID, &record.Topic, &record.UserID, &record.ApplicationID,
		&record.APIVersion, &record.SentAt, &record.ProcessingStatus,
		&record.ProcessingError, &record.RawPayload, &record.TransactionID,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return &record, nil
}

// MarkNotificationProcessed finalizes a ledger row after side effects were
// applied, optionally linking it to the payment attempt it resolved to.
func (r *PostgresRepository) MarkNotificationProcessed(ctx context.Context, resourceID, topic string, transactionID *string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE gateway_notifications
		SET processing_status = 'processed', processing_error = NULL, transaction_id = $3, updated_at = NOW()
		WHERE resource_id = $1 AND topic = $2
	`, resourceID, topic, transactionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkNotificationError records a processing failure on a ledger row. The row
// stays in the ledger; the gateway's redelivery of the same pair is the retry
// mechanism, and the error marker is what lets the retry through the dedup
// check.
func (r *PostgresRepository) MarkNotificationError(ctx context.Context, resourceID, topic, message string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE gateway_notifications
		SET processing_status = 'error', processing_error = $3, updated_at = NOW()
		WHERE resource_id = $1 AND topic = $2
	`, resourceID, topic, message)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
