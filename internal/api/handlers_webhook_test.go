package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clubledger/billing-service/internal/app"
	"github.com/clubledger/billing-service/internal/domain"
	"github.com/clubledger/billing-service/internal/store"
	"github.com/clubledger/billing-service/pkg/mercadopago"
)

// fakeRepo is an in-memory Repository covering the paths the HTTP tests
// exercise. Unused methods are inherited from the embedded interface and
// panic if reached.
type fakeRepo struct {
	store.Repository

	charges       map[int64]*domain.Charge
	attempts      map[string]*domain.PaymentAttempt
	notifications map[string]*domain.NotificationRecord
	links         map[string]*domain.PublicPaymentLink
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		charges:       map[int64]*domain.Charge{},
		attempts:      map[string]*domain.PaymentAttempt{},
		notifications: map[string]*domain.NotificationRecord{},
		links:         map[string]*domain.PublicPaymentLink{},
	}
}

func (f *fakeRepo) GetChargeByID(ctx context.Context, chargeID int64) (*domain.Charge, error) {
	charge, ok := f.charges[chargeID]
	if !ok {
		return nil, store.ErrChargeNotFound
	}
	copy := *charge
	return &copy, nil
}

func (f *fakeRepo) MarkChargeOverdueIfDue(ctx context.Context, chargeID int64) (*domain.Charge, error) {
	charge, ok := f.charges[chargeID]
	if !ok {
		return nil, store.ErrChargeNotFound
	}
	if charge.IsDuePast(time.Now().UTC()) {
		charge.Status = domain.ChargeStatusOverdue
	}
	copy := *charge
	return &copy, nil
}

func (f *fakeRepo) FindPaymentAttemptByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.PaymentAttempt, error) {
	attempt, ok := f.attempts[gatewayPaymentID]
	if !ok {
		return nil, store.ErrPaymentAttemptNotFound
	}
	copy := *attempt
	return &copy, nil
}

func (f *fakeRepo) ApplyPaymentResult(ctx context.Context, params store.ApplyPaymentResultParams) (*domain.PaymentAttempt, error) {
	attempt, ok := f.attempts[params.GatewayPaymentID]
	if !ok {
		return nil, store.ErrPaymentAttemptNotFound
	}
	if attempt.Status == domain.PaymentStatusPaid && params.Status != domain.PaymentStatusPaid {
		return nil, store.ErrPaidAttemptDowngrade
	}
	attempt.Status = params.Status
	attempt.Amount = params.Amount
	if params.Status == domain.PaymentStatusPaid {
		if charge, ok := f.charges[params.ChargeID]; ok && charge.Status != domain.ChargeStatusCancelled {
			charge.Status = domain.ChargeStatusPaid
			paidAt := params.PaidAt
			charge.PaidAt = &paidAt
			receipt := domain.BuildReceiptReference(params.GatewayPaymentID, params.PaidAt)
			charge.ReceiptReference = &receipt
		}
	}
	copy := *attempt
	return &copy, nil
}

func (f *fakeRepo) CreatePaymentAttemptWithResult(ctx context.Context, attempt *domain.PaymentAttempt) error {
	if attempt.GatewayPaymentID != nil {
		if _, exists := f.attempts[*attempt.GatewayPaymentID]; exists {
			return store.ErrDuplicateGatewayPayment
		}
	}
	attempt.ID = int64(len(f.attempts) + 1)
	stored := *attempt
	f.attempts[*attempt.GatewayPaymentID] = &stored
	if attempt.Status == domain.PaymentStatusPaid {
		if charge, ok := f.charges[attempt.ChargeID]; ok && charge.Status != domain.ChargeStatusCancelled {
			charge.Status = domain.ChargeStatusPaid
		}
	}
	return nil
}

func (f *fakeRepo) InsertNotificationRecord(ctx context.Context, record *domain.NotificationRecord) (bool, error) {
	key := record.ResourceID + "|" + record.Topic
	if _, exists := f.notifications[key]; exists {
		return false, nil
	}
	stored := *record
	f.notifications[key] = &stored
	return true, nil
}

func (f *fakeRepo) GetNotificationRecord(ctx context.Context, resourceID, topic string) (*domain.NotificationRecord, error) {
	record, ok := f.notifications[resourceID+"|"+topic]
	if !ok {
		return nil, store.ErrNotificationNotFound
	}
	copy := *record
	return &copy, nil
}

func (f *fakeRepo) MarkNotificationProcessed(ctx context.Context, resourceID, topic string, transactionID *string) error {
	record, ok := f.notifications[resourceID+"|"+topic]
	if !ok {
		return store.ErrNotificationNotFound
	}
	record.ProcessingStatus = domain.NotificationStatusProcessed
	record.TransactionID = transactionID
	return nil
}

func (f *fakeRepo) MarkNotificationError(ctx context.Context, resourceID, topic, message string) error {
	record, ok := f.notifications[resourceID+"|"+topic]
	if !ok {
		return store.ErrNotificationNotFound
	}
	record.ProcessingStatus = domain.NotificationStatusError
	record.ProcessingError = &message
	return nil
}

func (f *fakeRepo) FindPublicPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PublicPaymentLink, error) {
	link, ok := f.links[slug]
	if !ok {
		return nil, store.ErrPublicLinkNotFound
	}
	copy := *link
	return &copy, nil
}

func (f *fakeRepo) IncrementPublicLinkAccess(ctx context.Context, slug string) (int64, error) {
	link, ok := f.links[slug]
	if !ok {
		return 0, store.ErrPublicLinkNotFound
	}
	link.AccessCount++
	return link.AccessCount, nil
}

type fakeGateway struct {
	payments  map[string]*mercadopago.PaymentResponse
	err       error
	createErr error
}

func (g *fakeGateway) CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.PreferenceResponse, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &mercadopago.PreferenceResponse{ID: "pref-123", InitPoint: "https://gateway.test/checkout/pref-123"}, nil
}

func (g *fakeGateway) GetPayment(ctx context.Context, gatewayPaymentID string) (*mercadopago.PaymentResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	payment, ok := g.payments[gatewayPaymentID]
	if !ok {
		return nil, mercadopago.ErrPaymentNotFound
	}
	return payment, nil
}

const testInternalKey = "test-internal-key"

func newTestServer(repo *fakeRepo, gateway *fakeGateway) http.Handler {
	service := app.NewService(repo, gateway, "https://billing.test", "ARS")
	reconciler := app.NewReconciler(repo, gateway, nil)
	handlers := NewBillingHandlers(service, reconciler, nil, 0, 0)
	return BillingRoutes(handlers, testInternalKey)
}

func webhookOutcome(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode webhook response: %v", err)
	}
	return body["outcome"]
}

func TestWebhookAcceptsQueryParameterShape(t *testing.T) {
	repo := newFakeRepo()
	repo.charges[42] = &domain.Charge{ID: 42, Status: domain.ChargeStatusPending, Amount: 1500000, ClubID: 7}
	gateway := &fakeGateway{payments: map[string]*mercadopago.PaymentResponse{
		"987": {ID: 987, Status: "approved", TransactionAmount: 15000.00, ExternalReference: "charge_42_unit_7"},
	}}
	server := newTestServer(repo, gateway)

	req := httptest.NewRequest("POST", "/billing/webhooks/gateway?id=987&topic=payment", nil)
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if outcome := webhookOutcome(t, recorder); outcome != "processed" {
		t.Fatalf("expected processed outcome, got %q", outcome)
	}
	if repo.charges[42].Status != domain.ChargeStatusPaid {
		t.Fatalf("expected charge paid after webhook, got %q", repo.charges[42].Status)
	}
}

func TestWebhookAcceptsJSONBodyShapes(t *testing.T) {
	bodies := []string{
		`{"data":{"id":"987"},"type":"payment"}`,
		`{"id":987,"type":"payment"}`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			repo := newFakeRepo()
			repo.charges[42] = &domain.Charge{ID: 42, Status: domain.ChargeStatusPending, Amount: 1500000, ClubID: 7}
			gateway := &fakeGateway{payments: map[string]*mercadopago.PaymentResponse{
				"987": {ID: 987, Status: "approved", TransactionAmount: 15000.00, ExternalReference: "charge_42_unit_7"},
			}}
			server := newTestServer(repo, gateway)

			req := httptest.NewRequest("POST", "/billing/webhooks/gateway", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			recorder := httptest.NewRecorder()
			server.ServeHTTP(recorder, req)

			if recorder.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", recorder.Code)
			}
			if outcome := webhookOutcome(t, recorder); outcome != "processed" {
				t.Fatalf("expected processed outcome, got %q", outcome)
			}
		})
	}
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.charges[42] = &domain.Charge{ID: 42, Status: domain.ChargeStatusPending, Amount: 1500000, ClubID: 7}
	gateway := &fakeGateway{payments: map[string]*mercadopago.PaymentResponse{
		"987": {ID: 987, Status: "approved", TransactionAmount: 15000.00, ExternalReference: "charge_42_unit_7"},
	}}
	server := newTestServer(repo, gateway)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/billing/webhooks/gateway?id=987&topic=payment", nil)
		recorder := httptest.NewRecorder()
		server.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, recorder.Code)
		}
	}

	if len(repo.attempts) != 1 {
		t.Fatalf("expected exactly one attempt after three deliveries, got %d", len(repo.attempts))
	}
	if repo.charges[42].Status != domain.ChargeStatusPaid {
		t.Fatalf("expected charge paid, got %q", repo.charges[42].Status)
	}
}

func TestWebhookUnreachableGatewayStillAcks(t *testing.T) {
	repo := newFakeRepo()
	gateway := &fakeGateway{err: mercadopago.ErrUnreachable}
	server := newTestServer(repo, gateway)

	req := httptest.NewRequest("POST", "/billing/webhooks/gateway?id=987&topic=payment", nil)
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 even on gateway failure, got %d", recorder.Code)
	}
	if outcome := webhookOutcome(t, recorder); outcome != "error" {
		t.Fatalf("expected error outcome, got %q", outcome)
	}
	record := repo.notifications["987|payment"]
	if record == nil || record.ProcessingStatus != domain.NotificationStatusError {
		t.Fatalf("expected notification marked error, got %+v", record)
	}
}

func TestWebhookNonPaymentTopicIgnored(t *testing.T) {
	repo := newFakeRepo()
	server := newTestServer(repo, &fakeGateway{})

	req := httptest.NewRequest("POST", "/billing/webhooks/gateway?id=555&topic=merchant_order", nil)
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if outcome := webhookOutcome(t, recorder); outcome != "ignored" {
		t.Fatalf("expected ignored outcome, got %q", outcome)
	}
	if len(repo.notifications) != 0 {
		t.Fatalf("expected no ledger rows for ignored topics, got %d", len(repo.notifications))
	}
}

func TestWebhookEmptyDeliveryAckedAsIgnored(t *testing.T) {
	repo := newFakeRepo()
	server := newTestServer(repo, &fakeGateway{})

	for _, method := range []string{"POST", "GET"} {
		req := httptest.NewRequest(method, "/billing/webhooks/gateway", nil)
		recorder := httptest.NewRecorder()
		server.ServeHTTP(recorder, req)

		if recorder.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for an empty delivery, got %d", method, recorder.Code)
		}
		if outcome := webhookOutcome(t, recorder); outcome != "ignored" {
			t.Fatalf("%s: expected ignored outcome, got %q", method, outcome)
		}
	}
	if len(repo.notifications) != 0 {
		t.Fatalf("expected no ledger rows for empty deliveries, got %d", len(repo.notifications))
	}
}

func TestWebhookUnparsableBodyRejected(t *testing.T) {
	server := newTestServer(newFakeRepo(), &fakeGateway{})

	req := httptest.NewRequest("POST", "/billing/webhooks/gateway", bytes.NewBufferString("not json at all"))
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for transport-level garbage, got %d", recorder.Code)
	}
}
