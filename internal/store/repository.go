/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the billing-service. Defining an
 * interface decouples the business logic from the PostgreSQL implementation
 * and lets the reconciliation engine be tested against in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/clubledger/billing-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Charge methods
	CreateCharge(ctx context.Context, charge *domain.Charge) error
	GetChargeByID(ctx context.Context, chargeID int64) (*domain.Charge, error)
	ListCharges(ctx context.Context, opts domain.ChargeListOptions) ([]domain.Charge, error)
	// MarkChargeOverdueIfDue applies the lazy pending->overdue transition and
	// returns the refreshed charge. The guard lives in the UPDATE's WHERE
	// clause, so concurrent callers and a concurrent paid transition are safe.
	MarkChargeOverdueIfDue(ctx context.Context, chargeID int64) (*domain.Charge, error)
	SetChargePreference(ctx context.Context, chargeID int64, preferenceID string) error
	CancelCharge(ctx context.Context, chargeID int64) (*domain.Charge, error)

	// Payment attempt methods
	CreatePaymentAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	FindPaymentAttemptByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.PaymentAttempt, error)
	FindPaymentAttemptsByChargeID(ctx context.Context, chargeID int64) ([]domain.PaymentAttempt, error)
	// ApplyPaymentResult updates an attempt with confirmed gateway data and,
	// when the new status is paid, applies the charge-side transition in the
	// same transaction. Refuses to downgrade an attempt already paid.
	ApplyPaymentResult(ctx context.Context, params ApplyPaymentResultParams) (*domain.PaymentAttempt, error)
	// CreatePaymentAttemptWithResult covers the recovery path: a notification
	// for a gateway payment id this service has never recorded. The attempt
	// insert and (for paid) the charge transition are one transaction.
	CreatePaymentAttemptWithResult(ctx context.Context, attempt *domain.PaymentAttempt) error

	// Notification dedup ledger
	InsertNotificationRecord(ctx context.Context, record *domain.NotificationRecord) (created bool, err error)
	GetNotificationRecord(ctx context.Context, resourceID, topic string) (*domain.NotificationRecord, error)
	MarkNotificationProcessed(ctx context.Context, resourceID, topic string, transactionID *string) error
	MarkNotificationError(ctx context.Context, resourceID, topic, message string) error

	// Public payment links
	CreatePublicPaymentLink(ctx context.Context, link *domain.PublicPaymentLink) error
	FindPublicPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PublicPaymentLink, error)
	IncrementPublicLinkAccess(ctx context.Context, slug string) (int64, error)
	DeactivatePublicPaymentLink(ctx context.Context, slug string) error
}

// ApplyPaymentResultParams carries the confirmed gateway data applied to an
// existing payment attempt (and, on paid, to its charge).
type ApplyPaymentResultParams struct {
	AttemptID        int64
	ChargeID         int64
	Status           domain.PaymentAttemptStatus
	GatewayPaymentID string
	Amount           int64 // in cents
	PaymentMethod    *string
	PaidAt           time.Time
}
