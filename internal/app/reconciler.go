/**
 * @description
 * This file contains the reconciliation engine for inbound gateway webhook
 * notifications. `ProcessNotification` is the single entry point: it claims
 * the notification in the dedup ledger, fetches gateway ground truth, and
 * applies the resulting state transition to the local ledger.
 *
 * Key properties:
 * - Idempotent under redelivery: the (resource id, topic) unique key in the
 *   ledger makes N deliveries indistinguishable from one.
 * - Webhook payloads are routing hints only; every mutation is preceded by a
 *   confirmatory GetPayment call.
 * - The handler always acks (HTTP 200). Failures are recorded on the ledger
 *   row and retried through the gateway's own redelivery cadence.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/mercadopago, pkg/rabbitmq: For gateway communication and events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/clubledger/billing-service/internal/domain"
	"github.com/clubledger/billing-service/internal/store"
	"github.com/clubledger/billing-service/pkg/mercadopago"
	"github.com/clubledger/billing-service/pkg/rabbitmq"
)

// ProcessOutcome describes what a notification delivery resulted in. It is
// returned to the webhook handler purely for the diagnostic response body;
// the HTTP status is 200 regardless.
type ProcessOutcome string

const (
	OutcomeIgnored   ProcessOutcome = "ignored"   // non-payment topic or empty resource id
	OutcomeDuplicate ProcessOutcome = "duplicate" // already processed, side effects skipped
	OutcomeProcessed ProcessOutcome = "processed"
	OutcomeError     ProcessOutcome = "error" // recorded on the ledger row, will be retried on redelivery
)

// Reconciler drives webhook notifications to a consistent ledger state.
type Reconciler struct {
	repo          store.Repository
	gateway       GatewayClient
	eventProducer rabbitmq.Publisher
}

// NewReconciler creates a reconciliation engine. producer may be nil; paid
// transitions are then applied without emitting an event.
func NewReconciler(repo store.Repository, gateway GatewayClient, producer rabbitmq.Publisher) *Reconciler {
	return &Reconciler{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
	}
}

// ProcessNotification reconciles one inbound gateway notification against the
// local ledger. The returned error is for logging only; callers ack the
// delivery either way.
func (r *Reconciler) ProcessNotification(ctx context.Context, n domain.GatewayNotification) (ProcessOutcome, error) {
	// 1. Filter. Only payment notifications drive state; everything else
	// (merchant orders, chargebacks we do not model) is acknowledged and
	// dropped.
	if n.ResourceID == "" {
		return OutcomeIgnored, nil
	}
	if n.Topic != domain.TopicPayment {
		log.Printf("level=info component=reconciler resource_id=%s topic=%s msg=\"non-payment topic ignored\"", n.ResourceID, n.Topic)
		return OutcomeIgnored, nil
	}

	// 2. Claim the (resource id, topic) pair in the dedup ledger. When the
	// claim fails the pair is already known: skip side effects only if the
	// earlier delivery completed, otherwise this redelivery is the retry.
	record := &domain.NotificationRecord{
		ResourceID:       n.ResourceID,
		Topic:            n.Topic,
		ProcessingStatus: domain.NotificationStatusPending,
		RawPayload:       n.RawPayload,
		SentAt:           n.SentAt,
	}
	if n.UserID != "" {
		record.UserID = &n.UserID
	}
	if n.ApplicationID != "" {
		record.ApplicationID = &n.ApplicationID
	}
	if n.APIVersion != "" {
		record.APIVersion = &n.APIVersion
	}
	created, err := r.repo.InsertNotificationRecord(ctx, record)
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to record notification: %w", err)
	}
	if !created {
		existing, err := r.repo.GetNotificationRecord(ctx, n.ResourceID, n.Topic)
		if err != nil {
			return OutcomeError, fmt.Errorf("failed to load notification record: %w", err)
		}
		if existing.ProcessingStatus == domain.NotificationStatusProcessed {
			log.Printf("level=info component=reconciler resource_id=%s msg=\"duplicate delivery, already processed\"", n.ResourceID)
			return OutcomeDuplicate, nil
		}
		// pending or error: an earlier delivery did not finish; fall through
		// and reprocess.
	}

	// 3. Fetch ground truth from the gateway. The notification body is never
	// trusted for status or amount.
	payment, err := r.gateway.GetPayment(ctx, n.ResourceID)
	if err != nil {
		return r.failNotification(ctx, n, fmt.Errorf("gateway payment fetch failed: %w", err))
	}

	// 4. Map the gateway status and apply it to the local ledger.
	status := domain.MapGatewayStatus(payment.Status)
	attempt, err := r.repo.FindPaymentAttemptByGatewayPaymentID(ctx, n.ResourceID)
	switch {
	case err == nil:
		attempt, err = r.applyToExistingAttempt(ctx, attempt, status, payment, n.ResourceID)
	case errors.Is(err, store.ErrPaymentAttemptNotFound):
		attempt, err = r.recoverAttempt(ctx, status, payment, n.ResourceID)
	}
	if err != nil {
		return r.failNotification(ctx, n, err)
	}

	// 5. Finalize the ledger row, linking it to the attempt it resolved.
	var transactionID *string
	if attempt != nil {
		id := fmt.Sprintf("%d", attempt.ID)
		transactionID = &id
	}
	if err := r.repo.MarkNotificationProcessed(ctx, n.ResourceID, n.Topic, transactionID); err != nil {
		return OutcomeError, fmt.Errorf("failed to finalize notification record: %w", err)
	}

	// 6. Emit the completed-payment event on a paid transition. Broker
	// failures never affect reconciliation: the database already committed.
	if status == domain.PaymentStatusPaid && attempt != nil {
		r.publishPaymentConfirmed(ctx, attempt, n.ResourceID)
	}

	log.Printf("level=info component=reconciler resource_id=%s status=%s msg=\"notification processed\"", n.ResourceID, status)
	return OutcomeProcessed, nil
}

// applyToExistingAttempt moves a known attempt to the confirmed gateway
// state. Equal status is a no-op; a downgrade from paid is refused by the
// store and treated as already settled.
func (r *Reconciler) applyToExistingAttempt(ctx context.Context, attempt *domain.PaymentAttempt, status domain.PaymentAttemptStatus, payment *mercadopago.PaymentResponse, gatewayPaymentID string) (*domain.PaymentAttempt, error) {
	if attempt.Status == status {
		return attempt, nil
	}

	var method *string
	if payment.PaymentMethodID != "" {
		method = &payment.PaymentMethodID
	}
	updated, err := r.repo.ApplyPaymentResult(ctx, store.ApplyPaymentResultParams{
		AttemptID:        attempt.ID,
		ChargeID:         attempt.ChargeID,
		Status:           status,
		GatewayPaymentID: gatewayPaymentID,
		Amount:           payment.AmountCents(),
		PaymentMethod:    method,
		PaidAt:           paymentPaidAt(payment),
	})
	if err != nil {
		if errors.Is(err, store.ErrPaidAttemptDowngrade) {
			log.Printf("level=warn component=reconciler attempt_id=%d gateway_status=%s msg=\"stale notification for settled attempt ignored\"", attempt.ID, payment.Status)
			return attempt, nil
		}
		return nil, err
	}
	return updated, nil
}

// recoverAttempt handles a notification for a payment this service never
// recorded locally, e.g. after a crash between preference creation and
// attempt insert. The external reference token is the only way back to the
// charge; a token that does not parse or resolve is a data-integrity warning,
// recorded and acked.
func (r *Reconciler) recoverAttempt(ctx context.Context, status domain.PaymentAttemptStatus, payment *mercadopago.PaymentResponse, gatewayPaymentID string) (*domain.PaymentAttempt, error) {
	ref, err := domain.ParseExternalReference(payment.ExternalReference)
	if err != nil {
		log.Printf("level=warn component=reconciler gateway_payment_id=%s msg=\"DataIntegrityWarning: unparsable external reference\" external_reference=%q", gatewayPaymentID, payment.ExternalReference)
		return nil, fmt.Errorf("unresolvable external reference: %w", err)
	}
	charge, err := r.repo.GetChargeByID(ctx, ref.ChargeID)
	if err != nil {
		if errors.Is(err, store.ErrChargeNotFound) {
			log.Printf("level=warn component=reconciler gateway_payment_id=%s charge_id=%d msg=\"DataIntegrityWarning: external reference points at unknown charge\"", gatewayPaymentID, ref.ChargeID)
		}
		return nil, fmt.Errorf("failed to resolve charge %d from external reference: %w", ref.ChargeID, err)
	}

	var method *string
	if payment.PaymentMethodID != "" {
		method = &payment.PaymentMethodID
	}
	var paidAt *time.Time
	if status == domain.PaymentStatusPaid {
		t := paymentPaidAt(payment)
		paidAt = &t
	}
	attempt := &domain.PaymentAttempt{
		ChargeID:         charge.ID,
		Amount:           payment.AmountCents(),
		Status:           status,
		GatewayPaymentID: &gatewayPaymentID,
		PaymentMethod:    method,
		PaidAt:           paidAt,
	}
	err = r.repo.CreatePaymentAttemptWithResult(ctx, attempt)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateGatewayPayment) {
			// A concurrent delivery won the race; its row is the truth.
			return r.repo.FindPaymentAttemptByGatewayPaymentID(ctx, gatewayPaymentID)
		}
		return nil, err
	}
	log.Printf("level=info component=reconciler gateway_payment_id=%s charge_id=%d msg=\"recovered attempt from external reference\"", gatewayPaymentID, charge.ID)
	return attempt, nil
}

// failNotification records a processing failure on the ledger row and still
// reports an ackable outcome. The row stays non-processed, so the gateway's
// redelivery gets through the dedup check and retries.
func (r *Reconciler) failNotification(ctx context.Context, n domain.GatewayNotification, cause error) (ProcessOutcome, error) {
	log.Printf("level=error component=reconciler resource_id=%s topic=%s msg=\"processing failed\" err=%v", n.ResourceID, n.Topic, cause)
	if markErr := r.repo.MarkNotificationError(ctx, n.ResourceID, n.Topic, cause.Error()); markErr != nil {
		log.Printf("level=error component=reconciler resource_id=%s msg=\"failed to mark notification error\" err=%v", n.ResourceID, markErr)
	}
	return OutcomeError, cause
}

func (r *Reconciler) publishPaymentConfirmed(ctx context.Context, attempt *domain.PaymentAttempt, gatewayPaymentID string) {
	if r.eventProducer == nil {
		return
	}
	charge, err := r.repo.GetChargeByID(ctx, attempt.ChargeID)
	if err != nil {
		log.Printf("level=warn component=reconciler charge_id=%d msg=\"event skipped, charge load failed\" err=%v", attempt.ChargeID, err)
		return
	}
	event := rabbitmq.PaymentConfirmedEvent{
		ChargeID:         charge.ID,
		ClubID:           charge.ClubID,
		TeamID:           charge.TeamID,
		GatewayPaymentID: gatewayPaymentID,
		Amount:           attempt.Amount,
		PaidAt:           charge.PaidAt,
	}
	if err := r.eventProducer.PublishPaymentConfirmed(ctx, event); err != nil {
		log.Printf("level=warn component=reconciler charge_id=%d msg=\"event publish failed\" err=%v", charge.ID, err)
	}
}

// paymentPaidAt extracts the gateway's approval instant, falling back to now
// when the gateway omits or mangles it.
func paymentPaidAt(payment *mercadopago.PaymentResponse) time.Time {
	if payment.DateApproved != "" {
		if t, err := time.Parse(time.RFC3339, payment.DateApproved); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
