package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clubledger/billing-service/internal/domain"
	"github.com/clubledger/billing-service/internal/store"
	"github.com/clubledger/billing-service/pkg/mercadopago"
)

func TestCreateChargeValidation(t *testing.T) {
	svc := NewService(&stubRepository{
		createChargeFn: func(ctx context.Context, charge *domain.Charge) error {
			charge.ID = 1
			return nil
		},
	}, &stubGateway{}, "https://billing.test", "ARS")

	tests := []struct {
		name  string
		input domain.CreateChargeInput
	}{
		{name: "empty concept", input: domain.CreateChargeInput{Concept: "  ", Amount: 1000, ClubID: 7}},
		{name: "zero amount", input: domain.CreateChargeInput{Concept: "Fee", Amount: 0, ClubID: 7}},
		{name: "negative amount", input: domain.CreateChargeInput{Concept: "Fee", Amount: -100, ClubID: 7}},
		{name: "missing club", input: domain.CreateChargeInput{Concept: "Fee", Amount: 1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateCharge(context.Background(), tt.input); !errors.Is(err, ErrInvalidChargeInput) {
				t.Fatalf("expected ErrInvalidChargeInput, got %v", err)
			}
		})
	}
}

func TestCreateChargeTrimsConceptAndDefaultsPending(t *testing.T) {
	svc := NewService(&stubRepository{
		createChargeFn: func(ctx context.Context, charge *domain.Charge) error {
			charge.ID = 42
			return nil
		},
	}, &stubGateway{}, "https://billing.test", "ARS")

	charge, err := svc.CreateCharge(context.Background(), domain.CreateChargeInput{
		Concept: "  Spring Season Fee  ",
		Amount:  1500000,
		ClubID:  7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.Concept != "Spring Season Fee" {
		t.Fatalf("expected trimmed concept, got %q", charge.Concept)
	}
	if charge.Status != domain.ChargeStatusPending {
		t.Fatalf("expected pending status, got %q", charge.Status)
	}
}

func TestGetChargeAppliesLazyOverdue(t *testing.T) {
	past := time.Now().UTC().Add(-24 * time.Hour)
	marked := false
	repo := &stubRepository{
		getChargeByIDFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
			return &domain.Charge{ID: chargeID, Status: domain.ChargeStatusPending, DueDate: &past}, nil
		},
		markOverdueFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
			marked = true
			return &domain.Charge{ID: chargeID, Status: domain.ChargeStatusOverdue, DueDate: &past}, nil
		},
	}
	svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

	charge, err := svc.GetCharge(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !marked {
		t.Fatal("expected the overdue transition to be persisted on read")
	}
	if charge.Status != domain.ChargeStatusOverdue {
		t.Fatalf("expected overdue status, got %q", charge.Status)
	}
}

func TestGetChargeLeavesPaidChargesAlone(t *testing.T) {
	past := time.Now().UTC().Add(-24 * time.Hour)
	repo := &stubRepository{
		getChargeByIDFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
			return &domain.Charge{ID: chargeID, Status: domain.ChargeStatusPaid, DueDate: &past}, nil
		},
		markOverdueFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
			t.Fatal("paid charges must not be touched by overdue evaluation")
			return nil, nil
		},
	}
	svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

	charge, err := svc.GetCharge(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.Status != domain.ChargeStatusPaid {
		t.Fatalf("expected paid status, got %q", charge.Status)
	}
}

func TestInitiatePaymentConflictsAndValidation(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.ChargeStatus
		payer   domain.PayerInfo
		wantErr error
	}{
		{name: "already paid", status: domain.ChargeStatusPaid, payer: domain.PayerInfo{Email: "a@b.com"}, wantErr: ErrChargeAlreadyPaid},
		{name: "cancelled", status: domain.ChargeStatusCancelled, payer: domain.PayerInfo{Email: "a@b.com"}, wantErr: ErrChargeCancelled},
		{name: "missing payer email", status: domain.ChargeStatusPending, payer: domain.PayerInfo{Name: "Ana"}, wantErr: ErrPayerEmailRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepository{
				getChargeByIDFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
					return &domain.Charge{ID: chargeID, Status: tt.status, Amount: 1500000, ClubID: 7}, nil
				},
			}
			svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

			if _, err := svc.InitiatePayment(context.Background(), 42, tt.payer); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInitiatePaymentCreatesPreferenceAndAttempt(t *testing.T) {
	teamID := int64(3)
	var capturedReq mercadopago.PreferenceRequest
	var createdAttempt *domain.PaymentAttempt
	var stampedPreference string

	repo := &stubRepository{
		getChargeByIDFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
			return &domain.Charge{ID: 42, Status: domain.ChargeStatusPending, Concept: "Spring Season Fee", Amount: 1500000, ClubID: 7, TeamID: &teamID}, nil
		},
		createAttemptFn: func(ctx context.Context, attempt *domain.PaymentAttempt) error {
			attempt.ID = 5
			createdAttempt = attempt
			return nil
		},
		setChargePreferenceFn: func(ctx context.Context, chargeID int64, preferenceID string) error {
			stampedPreference = preferenceID
			return nil
		},
	}
	gateway := &stubGateway{
		createPreferenceFn: func(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.PreferenceResponse, error) {
			capturedReq = req
			return &mercadopago.PreferenceResponse{ID: "pref-123", InitPoint: "https://gateway.test/checkout/pref-123"}, nil
		},
	}
	svc := NewService(repo, gateway, "https://billing.test/", "ARS")

	result, err := svc.InitiatePayment(context.Background(), 42, domain.PayerInfo{Name: "Ana", Email: "ana@club.test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedReq.ExternalReference != "charge_42_unit_7_subunit_3" {
		t.Fatalf("unexpected external reference %q", capturedReq.ExternalReference)
	}
	if len(capturedReq.Items) != 1 || capturedReq.Items[0].UnitPrice != 15000.00 {
		t.Fatalf("expected unit price 15000.00, got %+v", capturedReq.Items)
	}
	if capturedReq.NotificationURL != "https://billing.test/billing/webhooks/gateway" {
		t.Fatalf("unexpected notification url %q", capturedReq.NotificationURL)
	}
	if result.PreferenceID != "pref-123" || result.InitPoint == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if createdAttempt == nil || createdAttempt.Status != domain.PaymentStatusPending {
		t.Fatalf("expected a pending attempt, got %+v", createdAttempt)
	}
	if createdAttempt.GatewayPreferenceID == nil || *createdAttempt.GatewayPreferenceID != "pref-123" {
		t.Fatalf("expected attempt stamped with preference id, got %v", createdAttempt.GatewayPreferenceID)
	}
	if stampedPreference != "pref-123" {
		t.Fatalf("expected charge stamped with preference id, got %q", stampedPreference)
	}
}

func TestInitiatePaymentGatewayUnreachable(t *testing.T) {
	repo := &stubRepository{
		getChargeByIDFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
			return &domain.Charge{ID: 42, Status: domain.ChargeStatusPending, Amount: 1500000, ClubID: 7}, nil
		},
	}
	gateway := &stubGateway{
		createPreferenceFn: func(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.PreferenceResponse, error) {
			return nil, mercadopago.ErrUnreachable
		},
	}
	svc := NewService(repo, gateway, "https://billing.test", "ARS")

	if _, err := svc.InitiatePayment(context.Background(), 42, domain.PayerInfo{Email: "a@b.com"}); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestVerifyPaymentCombinesGatewayAndLocalState(t *testing.T) {
	gatewayID := "987"
	gateway := &stubGateway{
		getPaymentFn: func(ctx context.Context, id string) (*mercadopago.PaymentResponse, error) {
			return &mercadopago.PaymentResponse{ID: 987, Status: "approved", TransactionAmount: 15000.00, ExternalReference: "charge_42_unit_7"}, nil
		},
	}
	repo := &stubRepository{
		findAttemptByGatewayFn: func(ctx context.Context, id string) (*domain.PaymentAttempt, error) {
			return &domain.PaymentAttempt{ID: 5, ChargeID: 42, Status: domain.PaymentStatusPaid, GatewayPaymentID: &gatewayID}, nil
		},
	}
	svc := NewService(repo, gateway, "https://billing.test", "ARS")

	result, err := svc.VerifyPayment(context.Background(), "987")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MappedStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected mapped status paid, got %q", result.MappedStatus)
	}
	if result.Amount != 1500000 {
		t.Fatalf("expected 1500000 cents, got %d", result.Amount)
	}
	if result.Attempt == nil || result.Attempt.ID != 5 {
		t.Fatalf("expected local attempt attached, got %+v", result.Attempt)
	}
}

func TestVerifyPaymentWithoutLocalAttempt(t *testing.T) {
	gateway := &stubGateway{
		getPaymentFn: func(ctx context.Context, id string) (*mercadopago.PaymentResponse, error) {
			return &mercadopago.PaymentResponse{ID: 987, Status: "pending", TransactionAmount: 15000.00}, nil
		},
	}
	repo := &stubRepository{
		findAttemptByGatewayFn: func(ctx context.Context, id string) (*domain.PaymentAttempt, error) {
			return nil, store.ErrPaymentAttemptNotFound
		},
	}
	svc := NewService(repo, gateway, "https://billing.test", "ARS")

	result, err := svc.VerifyPayment(context.Background(), "987")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempt != nil {
		t.Fatalf("expected no local attempt, got %+v", result.Attempt)
	}
}

func TestResolvePublicLinkLifecycle(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	t.Run("inactive link is not found", func(t *testing.T) {
		repo := &stubRepository{
			findPublicLinkFn: func(ctx context.Context, slug string) (*domain.PublicPaymentLink, error) {
				return &domain.PublicPaymentLink{Slug: slug, ChargeID: 42, Active: false}, nil
			},
		}
		svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

		if _, err := svc.ResolvePublicLink(context.Background(), "spring-season-fee-42"); !errors.Is(err, store.ErrPublicLinkNotFound) {
			t.Fatalf("expected ErrPublicLinkNotFound, got %v", err)
		}
	})

	t.Run("expired link reported distinctly", func(t *testing.T) {
		repo := &stubRepository{
			findPublicLinkFn: func(ctx context.Context, slug string) (*domain.PublicPaymentLink, error) {
				return &domain.PublicPaymentLink{Slug: slug, ChargeID: 42, Active: true, ExpiresAt: &past}, nil
			},
		}
		svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

		if _, err := svc.ResolvePublicLink(context.Background(), "spring-season-fee-42"); !errors.Is(err, ErrLinkExpired) {
			t.Fatalf("expected ErrLinkExpired, got %v", err)
		}
	})

	t.Run("active link exposes public view only", func(t *testing.T) {
		notes := "internal remark"
		repo := &stubRepository{
			findPublicLinkFn: func(ctx context.Context, slug string) (*domain.PublicPaymentLink, error) {
				return &domain.PublicPaymentLink{Slug: slug, ChargeID: 42, Active: true}, nil
			},
			getChargeByIDFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
				return &domain.Charge{ID: 42, Concept: "Spring Season Fee", Amount: 1500000, Status: domain.ChargeStatusPending, Notes: &notes, ClubID: 7}, nil
			},
		}
		svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

		view, err := svc.ResolvePublicLink(context.Background(), "spring-season-fee-42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if view.Concept != "Spring Season Fee" || view.Amount != 1500000 {
			t.Fatalf("unexpected public view: %+v", view)
		}
	})
}

func TestRegisterPublicLinkAccess(t *testing.T) {
	repo := &stubRepository{
		findPublicLinkFn: func(ctx context.Context, slug string) (*domain.PublicPaymentLink, error) {
			return &domain.PublicPaymentLink{Slug: slug, ChargeID: 42, Active: true, AccessCount: 2}, nil
		},
		incrementLinkAccessFn: func(ctx context.Context, slug string) (int64, error) {
			return 3, nil
		},
	}
	svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

	count, err := svc.RegisterPublicLinkAccess(context.Background(), "spring-season-fee-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected access count 3, got %d", count)
	}
}

func TestCreatePublicLinkRefusesCancelledCharge(t *testing.T) {
	repo := &stubRepository{
		getChargeByIDFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
			return &domain.Charge{ID: chargeID, Status: domain.ChargeStatusCancelled, ClubID: 7}, nil
		},
	}
	svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

	if _, err := svc.CreatePublicLink(context.Background(), 42, nil); !errors.Is(err, ErrChargeCancelled) {
		t.Fatalf("expected ErrChargeCancelled, got %v", err)
	}
}

func TestCreatePublicLinkRefusesPaidCharge(t *testing.T) {
	repo := &stubRepository{
		getChargeByIDFn: func(ctx context.Context, chargeID int64) (*domain.Charge, error) {
			return &domain.Charge{ID: chargeID, Concept: "Season Fee", Status: domain.ChargeStatusPaid, ClubID: 7}, nil
		},
		createPublicLinkFn: func(ctx context.Context, link *domain.PublicPaymentLink) error {
			t.Fatal("no link must be created for a paid charge")
			return nil
		},
	}
	svc := NewService(repo, &stubGateway{}, "https://billing.test", "ARS")

	if _, err := svc.CreatePublicLink(context.Background(), 42, nil); !errors.Is(err, ErrChargeAlreadyPaid) {
		t.Fatalf("expected ErrChargeAlreadyPaid, got %v", err)
	}
}
