/**
 * @description
 * This file contains the core business logic for the billing-service. The
 * `Service` struct orchestrates charge lifecycle operations, coordinating
 * between the database repository and the payment gateway client.
 *
 * Key features:
 * - Implements the main use cases: charge creation, payment initiation,
 *   payment verification and public payment links.
 * - Applies the lazy overdue evaluation on every read path, so overdue is
 *   always consistent with the clock without a background job.
 * - Keeps validation and error taxonomy here so HTTP handlers stay thin.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/mercadopago: For payment gateway communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/clubledger/billing-service/internal/domain"
	"github.com/clubledger/billing-service/internal/store"
	"github.com/clubledger/billing-service/pkg/mercadopago"
)

var (
	ErrInvalidChargeInput = errors.New("invalid charge input")
	ErrChargeAlreadyPaid  = errors.New("charge is already paid")
	ErrChargeCancelled    = errors.New("charge is cancelled")
	ErrPayerEmailRequired = errors.New("payer email is required")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrLinkExpired        = errors.New("public payment link expired")
)

// GatewayClient is the subset of the gateway API the service depends on.
// Declared here so business logic can be tested against stubs.
type GatewayClient interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.PreferenceResponse, error)
	GetPayment(ctx context.Context, gatewayPaymentID string) (*mercadopago.PaymentResponse, error)
}

// Service provides the core business logic for billing. Paid transitions are
// not its job: those belong to the Reconciler, which is the only component
// allowed to mutate state from gateway ground truth.
type Service struct {
	repo          store.Repository
	gateway       GatewayClient
	publicBaseURL string
	currency      string
}

// NewService creates a new billing service instance.
func NewService(repo store.Repository, gateway GatewayClient, publicBaseURL, currency string) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		currency:      currency,
	}
}

// CreateCharge validates and persists a new charge in status pending.
func (s *Service) CreateCharge(ctx context.Context, input domain.CreateChargeInput) (*domain.Charge, error) {
	if strings.TrimSpace(input.Concept) == "" {
		return nil, fmt.Errorf("%w: concept is required", ErrInvalidChargeInput)
	}
	if input.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidChargeInput)
	}
	if input.ClubID <= 0 {
		return nil, fmt.Errorf("%w: club id is required", ErrInvalidChargeInput)
	}

	charge := &domain.Charge{
		Concept:   strings.TrimSpace(input.Concept),
		Amount:    input.Amount,
		IssueDate: time.Now().UTC(),
		DueDate:   input.DueDate,
		Status:    domain.ChargeStatusPending,
		Notes:     input.Notes,
		ClubID:    input.ClubID,
		TeamID:    input.TeamID,
	}
	if err := s.repo.CreateCharge(ctx, charge); err != nil {
		return nil, fmt.Errorf("failed to create charge: %w", err)
	}
	log.Printf("level=info component=service op=create_charge charge_id=%d club_id=%d amount=%d", charge.ID, charge.ClubID, charge.Amount)
	return charge, nil
}

// GetCharge retrieves a charge, applying the lazy overdue transition first
// when the due date has elapsed.
func (s *Service) GetCharge(ctx context.Context, chargeID int64) (*domain.Charge, error) {
	charge, err := s.repo.GetChargeByID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if charge.IsDuePast(time.Now().UTC()) {
		return s.repo.MarkChargeOverdueIfDue(ctx, chargeID)
	}
	return charge, nil
}

// ListCharges lists a club's charges, persisting the overdue transition for
// any pending charge whose due date has elapsed before returning.
func (s *Service) ListCharges(ctx context.Context, opts domain.ChargeListOptions) ([]domain.Charge, error) {
	charges, err := s.repo.ListCharges(ctx, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range charges {
		if !charges[i].IsDuePast(now) {
			continue
		}
		refreshed, err := s.repo.MarkChargeOverdueIfDue(ctx, charges[i].ID)
		if err != nil {
			log.Printf("level=warn component=service op=list_charges charge_id=%d msg=\"overdue transition failed\" err=%v", charges[i].ID, err)
			continue
		}
		charges[i] = *refreshed
	}
	return charges, nil
}

// CancelCharge marks a charge cancelled by administrative action.
func (s *Service) CancelCharge(ctx context.Context, chargeID int64) (*domain.Charge, error) {
	return s.repo.CancelCharge(ctx, chargeID)
}

// InitiatePaymentResult is what a successful payment initiation returns to
// the caller: the redirect target plus the pending attempt that tracks it.
type InitiatePaymentResult struct {
	PreferenceID string                 `json:"preference_id"`
	InitPoint    string                 `json:"init_point"`
	Attempt      *domain.PaymentAttempt `json:"attempt"`
}

// InitiatePayment creates a gateway checkout preference for a charge and
// records a pending payment attempt against it.
func (s *Service) InitiatePayment(ctx context.Context, chargeID int64, payer domain.PayerInfo) (*InitiatePaymentResult, error) {
	// 1. Load the charge and refuse terminal states.
	charge, err := s.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	switch charge.Status {
	case domain.ChargeStatusPaid:
		return nil, ErrChargeAlreadyPaid
	case domain.ChargeStatusCancelled:
		return nil, ErrChargeCancelled
	}
	if strings.TrimSpace(payer.Email) == "" {
		return nil, ErrPayerEmailRequired
	}

	// 2. Create the checkout preference at the gateway. The external
	// reference token is how webhook reconciliation finds its way back to
	// this charge.
	ref := domain.ExternalReference{ChargeID: charge.ID, ClubID: charge.ClubID, TeamID: charge.TeamID}
	prefReq := mercadopago.PreferenceRequest{
		Items: []mercadopago.PreferenceItem{{
			Title:      charge.Concept,
			Quantity:   1,
			UnitPrice:  float64(charge.Amount) / 100,
			CurrencyID: s.currency,
		}},
		Payer: mercadopago.PreferencePayer{
			Name:    payer.Name,
			Surname: payer.Surname,
			Email:   strings.TrimSpace(payer.Email),
		},
		ExternalReference: ref.Encode(),
		BackURLs: mercadopago.BackURLs{
			Success: s.publicBaseURL + "/billing/payments/return/success",
			Failure: s.publicBaseURL + "/billing/payments/return/failure",
			Pending: s.publicBaseURL + "/billing/payments/return/pending",
		},
		AutoReturn:      "approved",
		NotificationURL: s.publicBaseURL + "/billing/webhooks/gateway",
	}
	pref, err := s.gateway.CreatePreference(ctx, prefReq)
	if err != nil {
		log.Printf("level=error component=service op=initiate_payment charge_id=%d msg=\"preference creation failed\" err=%v", charge.ID, err)
		if errors.Is(err, mercadopago.ErrUnreachable) || errors.Is(err, mercadopago.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("failed to create checkout preference: %w", err)
	}

	// 3. Record the pending attempt and stamp the charge with the preference.
	attempt := &domain.PaymentAttempt{
		ChargeID:            charge.ID,
		Amount:              charge.Amount,
		Status:              domain.PaymentStatusPending,
		GatewayPreferenceID: &pref.ID,
	}
	if err := s.repo.CreatePaymentAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}
	if err := s.repo.SetChargePreference(ctx, charge.ID, pref.ID); err != nil {
		log.Printf("level=warn component=service op=initiate_payment charge_id=%d msg=\"failed to stamp preference on charge\" err=%v", charge.ID, err)
	}

	log.Printf("level=info component=service op=initiate_payment charge_id=%d attempt_id=%d preference_id=%s", charge.ID, attempt.ID, pref.ID)
	return &InitiatePaymentResult{
		PreferenceID: pref.ID,
		InitPoint:    pref.InitPoint,
		Attempt:      attempt,
	}, nil
}

// VerifyPaymentResult pairs gateway ground truth with whatever the local
// ledger knows about the same payment.
type VerifyPaymentResult struct {
	GatewayStatus string                      `json:"gateway_status"`
	MappedStatus  domain.PaymentAttemptStatus `json:"mapped_status"`
	Amount        int64                       `json:"amount"`
	Attempt       *domain.PaymentAttempt      `json:"attempt,omitempty"`
}

// VerifyPayment is the polling fallback to the webhook: it fetches the
// gateway's view of a payment and reads (without mutating) the local attempt.
// State mutation stays the reconciler's job.
func (s *Service) VerifyPayment(ctx context.Context, gatewayPaymentID string) (*VerifyPaymentResult, error) {
	payment, err := s.gateway.GetPayment(ctx, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, mercadopago.ErrUnreachable) || errors.Is(err, mercadopago.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	result := &VerifyPaymentResult{
		GatewayStatus: payment.Status,
		MappedStatus:  domain.MapGatewayStatus(payment.Status),
		Amount:        payment.AmountCents(),
	}
	attempt, err := s.repo.FindPaymentAttemptByGatewayPaymentID(ctx, gatewayPaymentID)
	if err == nil {
		result.Attempt = attempt
	} else if !errors.Is(err, store.ErrPaymentAttemptNotFound) {
		return nil, err
	}
	return result, nil
}

// ListChargeAttempts returns the payment attempt history of a charge.
func (s *Service) ListChargeAttempts(ctx context.Context, chargeID int64) ([]domain.PaymentAttempt, error) {
	if _, err := s.repo.GetChargeByID(ctx, chargeID); err != nil {
		return nil, err
	}
	return s.repo.FindPaymentAttemptsByChargeID(ctx, chargeID)
}

// CreatePublicLink creates a sharable unauthenticated link for a charge.
// Settled and cancelled charges have nothing left to collect, so they never
// get a link.
func (s *Service) CreatePublicLink(ctx context.Context, chargeID int64, expiresAt *time.Time) (*domain.PublicPaymentLink, error) {
	charge, err := s.repo.GetChargeByID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	switch charge.Status {
	case domain.ChargeStatusPaid:
		return nil, ErrChargeAlreadyPaid
	case domain.ChargeStatusCancelled:
		return nil, ErrChargeCancelled
	}

	link := &domain.PublicPaymentLink{
		ChargeID:  charge.ID,
		Slug:      domain.BuildPublicLinkSlug(charge.Concept, charge.ID),
		ExpiresAt: expiresAt,
	}
	if err := s.repo.CreatePublicPaymentLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to create public link: %w", err)
	}
	log.Printf("level=info component=service op=create_public_link charge_id=%d slug=%s", charge.ID, link.Slug)
	return link, nil
}

// PublicChargeView is the unauthenticated projection of a charge exposed
// through a public link. Internal fields (notes, preference ids) stay out.
type PublicChargeView struct {
	Slug             string              `json:"slug"`
	Concept          string              `json:"concept"`
	Amount           int64               `json:"amount"`
	Status           domain.ChargeStatus `json:"status"`
	DueDate          *time.Time          `json:"due_date,omitempty"`
	ReceiptReference *string             `json:"receipt_reference,omitempty"`
}

// ResolvePublicLink maps a slug to the public view of its charge. Unknown and
// inactive slugs are indistinguishable to callers; expired links are reported
// distinctly so the API can answer 410.
func (s *Service) ResolvePublicLink(ctx context.Context, slug string) (*PublicChargeView, error) {
	link, err := s.repo.FindPublicPaymentLinkBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !link.Active {
		return nil, store.ErrPublicLinkNotFound
	}
	if link.IsExpired(time.Now().UTC()) {
		return nil, ErrLinkExpired
	}

	charge, err := s.GetCharge(ctx, link.ChargeID)
	if err != nil {
		return nil, err
	}
	return &PublicChargeView{
		Slug:             link.Slug,
		Concept:          charge.Concept,
		Amount:           charge.Amount,
		Status:           charge.Status,
		DueDate:          charge.DueDate,
		ReceiptReference: charge.ReceiptReference,
	}, nil
}

// RegisterPublicLinkAccess bumps a link's access counter and returns the new
// count. Counting is best effort from the caller's point of view but the
// increment itself is atomic.
func (s *Service) RegisterPublicLinkAccess(ctx context.Context, slug string) (int64, error) {
	link, err := s.repo.FindPublicPaymentLinkBySlug(ctx, slug)
	if err != nil {
		return 0, err
	}
	if !link.Active {
		return 0, store.ErrPublicLinkNotFound
	}
	if link.IsExpired(time.Now().UTC()) {
		return 0, ErrLinkExpired
	}
	return s.repo.IncrementPublicLinkAccess(ctx, slug)
}

// DeactivatePublicLink revokes a link.
func (s *Service) DeactivatePublicLink(ctx context.Context, slug string) error {
	return s.repo.DeactivatePublicPaymentLink(ctx, slug)
}
