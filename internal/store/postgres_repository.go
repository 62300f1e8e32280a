/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface for charges and payment attempts, including the atomic
 * charge+attempt paid transition that the reconciliation engine depends on.
 *
 * Two storage-level guarantees carry the subsystem's concurrency story:
 *   - the unique index on payment_attempts.gateway_payment_id, which makes
 *     concurrent recovery-path creations collapse into one row, and
 *   - single-transaction updates of attempt + charge, so a crash can never
 *     leave the ledger half-applied.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubledger/billing-service/internal/domain"
)

var (
	ErrChargeNotFound          = errors.New("charge not found")
	ErrPaymentAttemptNotFound  = errors.New("payment attempt not found")
	ErrNotificationNotFound    = errors.New("notification record not found")
	ErrPublicLinkNotFound      = errors.New("public payment link not found")
	ErrDuplicateGatewayPayment = errors.New("gateway payment id already recorded")
	ErrPaidAttemptDowngrade    = errors.New("attempt already paid; refusing downgrade")
	ErrChargeNotCancellable    = errors.New("charge cannot be cancelled in its current status")
)

const chargeColumns = `id, concept, amount, issue_date, due_date, status, receipt_reference,
       notes, gateway_preference_id, paid_at, club_id, team_id, created_at, updated_at`

const attemptColumns = `id, charge_id, amount, status, gateway_payment_id, gateway_preference_id,
       payment_method, extra, paid_at, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateCharge inserts a new charge in status pending and fills the generated
// id and timestamps on the passed struct.
func (r *PostgresRepository) CreateCharge(ctx context.Context, charge *domain.Charge) error {
	query := `
		INSERT INTO charges (concept, amount, issue_date, due_date, status, notes, club_id, team_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, issue_date, created_at, updated_at
	`
	if charge.Status == "" {
		charge.Status = domain.ChargeStatusPending
	}
	issueDate := charge.IssueDate
	if issueDate.IsZero() {
		issueDate = time.Now().UTC()
	}

	return r.db.QueryRow(ctx, query,
		charge.Concept, charge.Amount, issueDate, charge.DueDate,
		charge.Status, charge.Notes, charge.ClubID, charge.TeamID,
	).Scan(&charge.ID, &charge.IssueDate, &charge.CreatedAt, &charge.UpdatedAt)
}

// GetChargeByID retrieves a single charge.
func (r *PostgresRepository) GetChargeByID(ctx context.Context, chargeID int64) (*domain.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE id = $1`
	return r.scanCharge(r.db.QueryRow(ctx, query, chargeID))
}

// ListCharges retrieves charges for a club, optionally filtered by team and status.
func (r *PostgresRepository) ListCharges(ctx context.Context, opts domain.ChargeListOptions) ([]domain.Charge, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + chargeColumns + ` FROM charges WHERE club_id = $1`
	args := []any{opts.ClubID}
	if opts.TeamID != nil {
		args = append(args, *opts.TeamID)
		query += fmt.Sprintf(" AND team_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []domain.Charge
	for rows.Next() {
		charge, err := r.scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, *charge)
	}
	return charges, rows.Err()
}

// MarkChargeOverdueIfDue applies the lazy pending->overdue transition. The
// status guard in the WHERE clause makes the write idempotent and guarantees
// it can never clobber a concurrently-applied paid transition.
func (r *PostgresRepository) MarkChargeOverdueIfDue(ctx context.Context, chargeID int64) (*domain.Charge, error) {
	query := `
		UPDATE charges
		SET status = 'overdue', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND due_date IS NOT NULL AND due_date < NOW()
	`
	if _, err := r.db.Exec(ctx, query, chargeID); err != nil {
		return nil, err
	}
	return r.GetChargeByID(ctx, chargeID)
}

// SetChargePreference stamps the charge with the gateway preference created for it.
func (r *PostgresRepository) SetChargePreference(ctx context.Context, chargeID int64, preferenceID string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE charges SET gateway_preference_id = $1, updated_at = NOW() WHERE id = $2`,
		preferenceID, chargeID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrChargeNotFound
	}
	return nil
}

// CancelCharge marks a charge cancelled. This is an explicit administrative
// action; paid charges are never cancellable through it.
func (r *PostgresRepository) CancelCharge(ctx context.Context, chargeID int64) (*domain.Charge, error) {
	result, err := r.db.Exec(ctx,
		`UPDATE charges SET status = 'cancelled', updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'overdue')`,
		chargeID,
	)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		charge, getErr := r.GetChargeByID(ctx, chargeID)
		if getErr != nil {
			return nil, getErr
		}
		if charge.Status == domain.ChargeStatusCancelled {
			return charge, nil
		}
		return nil, ErrChargeNotCancellable
	}
	return r.GetChargeByID(ctx, chargeID)
}

// CreatePaymentAttempt inserts a pending attempt created on the initiate-payment path.
func (r *PostgresRepository) CreatePaymentAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	extra, err := marshalExtra(attempt.Extra)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO payment_attempts (charge_id, amount, status, gateway_payment_id, gateway_preference_id, payment_method, extra, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		attempt.ChargeID, attempt.Amount, attempt.Status, attempt.GatewayPaymentID,
		attempt.GatewayPreferenceID, attempt.PaymentMethod, extra, attempt.PaidAt,
	).Scan(&attempt.ID, &attempt.CreatedAt, &attempt.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateGatewayPayment
	}
	return err
}

// FindPaymentAttemptByGatewayPaymentID locates an attempt by the gateway's payment id.
func (r *PostgresRepository) FindPaymentAttemptByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE gateway_payment_id = $1`
	return r.scanAttempt(r.db.QueryRow(ctx, query, gatewayPaymentID))
}

// FindPaymentAttemptsByChargeID returns every attempt recorded against a charge.
func (r *PostgresRepository) FindPaymentAttemptsByChargeID(ctx context.Context, chargeID int64) ([]domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE charge_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, chargeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.PaymentAttempt
	for rows.Next() {
		attempt, err := r.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}

// ApplyPaymentResult updates an attempt with confirmed gateway data. When the
// new status is paid it also transitions the charge (status, paid_at and
// receipt_reference) inside the same transaction, so a crash between the two
// writes cannot leave the ledger inconsistent.
func (r *PostgresRepository) ApplyPaymentResult(ctx context.Context, params ApplyPaymentResultParams) (*domain.PaymentAttempt, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var currentStatus domain.PaymentAttemptStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM payment_attempts WHERE id = $1 FOR UPDATE`,
		params.AttemptID,
	).Scan(&currentStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentAttemptNotFound
		}
		return nil, err
	}

	// A paid attempt is terminal with respect to downgrades; stale
	// out-of-order notifications must not move it backwards.
	if currentStatus == domain.PaymentStatusPaid && params.Status != domain.PaymentStatusPaid {
		return nil, ErrPaidAttemptDowngrade
	}

	var paidAt *time.Time
	if params.Status == domain.PaymentStatusPaid {
		t := params.PaidAt.UTC()
		paidAt = &t
	}

	_, err = tx.Exec(ctx, `
		UPDATE payment_attempts
		SET status = $2, gateway_payment_id = $3, amount = $4,
		    payment_method = COALESCE($5, payment_method), paid_at = $6, updated_at = NOW()
		WHERE id = $1
	`, params.AttemptID, params.Status, params.GatewayPaymentID, params.Amount, params.PaymentMethod, paidAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateGatewayPayment
		}
		return nil, err
	}

	if params.Status == domain.PaymentStatusPaid {
		if err := markChargePaid(ctx, tx, params.ChargeID, params.GatewayPaymentID, *paidAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return r.findAttemptByID(ctx, params.AttemptID)
}

// CreatePaymentAttemptWithResult inserts a fully resolved attempt on the
// recovery path (notification seen before any local attempt existed). The
// unique index on gateway_payment_id collapses concurrent creations into one
// row; the loser observes ErrDuplicateGatewayPayment.
func (r *PostgresRepository) CreatePaymentAttemptWithResult(ctx context.Context, attempt *domain.PaymentAttempt) error {
	extra, err := marshalExtra(attempt.Extra)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO payment_attempts (charge_id, amount, status, gateway_payment_id, gateway_preference_id, payment_method, extra, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		attempt.ChargeID, attempt.Amount, attempt.Status, attempt.GatewayPaymentID,
		attempt.GatewayPreferenceID, attempt.PaymentMethod, extra, attempt.PaidAt,
	).Scan(&attempt.ID, &attempt.CreatedAt, &attempt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateGatewayPayment
		}
		return err
	}

	if attempt.Status == domain.PaymentStatusPaid {
		paidAt := time.Now().UTC()
		if attempt.PaidAt != nil {
			paidAt = attempt.PaidAt.UTC()
		}
		gatewayPaymentID := ""
		if attempt.GatewayPaymentID != nil {
			gatewayPaymentID = *attempt.GatewayPaymentID
		}
		if err := markChargePaid(ctx, tx, attempt.ChargeID, gatewayPaymentID, paidAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// markChargePaid applies the charge side of a paid transition inside the
// caller's transaction. The status guard keeps cancelled charges untouched
// and preserves the first receipt on an already-paid charge.
func markChargePaid(ctx context.Context, tx pgx.Tx, chargeID int64, gatewayPaymentID string, paidAt time.Time) error {
	receipt := domain.BuildReceiptReference(gatewayPaymentID, paidAt)
	result, err := tx.Exec(ctx, `
		UPDATE charges
		SET status = 'paid', paid_at = $2, receipt_reference = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'overdue')
	`, chargeID, paidAt, receipt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Already paid or cancelled. Not an error: the attempt row still
		// records the confirmed gateway state.
		var status domain.ChargeStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM charges WHERE id = $1`, chargeID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrChargeNotFound
			}
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) findAttemptByID(ctx context.Context, attemptID int64) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE id = $1`
	return r.scanAttempt(r.db.QueryRow(ctx, query, attemptID))
}

func (r *PostgresRepository) scanCharge(row pgx.Row) (*domain.Charge, error) {
	var charge domain.Charge
	err := row.Scan(
		&charge.ID, &charge.Concept, &charge.Amount, &charge.IssueDate, &charge.DueDate,
		&charge.Status, &charge.ReceiptReference, &charge.Notes, &charge.GatewayPreferenceID,
		&charge.PaidAt, &charge.ClubID, &charge.TeamID, &charge.CreatedAt, &charge.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}
	return &charge, nil
}

func (r *PostgresRepository) scanAttempt(row pgx.Row) (*domain.PaymentAttempt, error) {
	var attempt domain.PaymentAttempt
	var extra []byte
	err := row.Scan(
		&attempt.ID, &attempt.ChargeID, &attempt.Amount, &attempt.Status,
		&attempt.GatewayPaymentID, &attempt.GatewayPreferenceID, &attempt.PaymentMethod,
		&extra, &attempt.PaidAt, &attempt.CreatedAt, &attempt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentAttemptNotFound
		}
		return nil, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &attempt.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode attempt extra data: %w", err)
		}
	}
	return &attempt, nil
}

func marshalExtra(extra map[string]any) ([]byte, error) {
	if extra == nil {
		return nil, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attempt extra data: %w", err)
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
