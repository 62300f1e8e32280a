/**
 * @description
 * This file contains the HTTP handlers for the billing-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clubledger/billing-service/internal/app"
	"github.com/clubledger/billing-service/internal/domain"
	"github.com/clubledger/billing-service/internal/store"
)

// BillingHandlers holds the application service and reconciler that handlers use.
type BillingHandlers struct {
	service     *app.Service
	reconciler  *app.Reconciler
	rateLimiter *app.RedisPublicRateLimiter
	rateLimit   int
	rateWindow  time.Duration
}

// NewBillingHandlers creates the handler set. limiter may be nil; the public
// endpoints then run without rate limiting.
func NewBillingHandlers(service *app.Service, reconciler *app.Reconciler, limiter *app.RedisPublicRateLimiter, rateLimit int, rateWindow time.Duration) *BillingHandlers {
	return &BillingHandlers{
		service:     service,
		reconciler:  reconciler,
		rateLimiter: limiter,
		rateLimit:   rateLimit,
		rateWindow:  rateWindow,
	}
}

// CreateChargeHandler handles POST /billing/charges.
func (h *BillingHandlers) CreateChargeHandler(w http.ResponseWriter, r *http.Request) {
	var input domain.CreateChargeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	charge, err := h.service.CreateCharge(r.Context(), input)
	if err != nil {
		if errors.Is(err, app.ErrInvalidChargeInput) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api op=create_charge err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to create charge")
		return
	}
	h.writeJSON(w, http.StatusCreated, charge)
}

// GetChargeHandler handles GET /billing/charges/{id}.
func (h *BillingHandlers) GetChargeHandler(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := h.chargeIDParam(w, r)
	if !ok {
		return
	}

	charge, err := h.service.GetCharge(r.Context(), chargeID)
	if err != nil {
		if errors.Is(err, store.ErrChargeNotFound) {
			h.writeError(w, http.StatusNotFound, "Charge not found")
			return
		}
		log.Printf("level=error component=api op=get_charge charge_id=%d err=%v", chargeID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load charge")
		return
	}
	h.writeJSON(w, http.StatusOK, charge)
}

// ListChargesHandler handles GET /billing/charges?club_id=&team_id=&status=.
func (h *BillingHandlers) ListChargesHandler(w http.ResponseWriter, r *http.Request) {
	clubID, err := strconv.ParseInt(r.URL.Query().Get("club_id"), 10, 64)
	if err != nil || clubID <= 0 {
		h.writeError(w, http.StatusBadRequest, "Query parameter club_id is required")
		return
	}

	opts := domain.ChargeListOptions{ClubID: clubID}
	if rawTeam := r.URL.Query().Get("team_id"); rawTeam != "" {
		teamID, err := strconv.ParseInt(rawTeam, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid team_id")
			return
		}
		opts.TeamID = &teamID
	}
	if rawStatus := r.URL.Query().Get("status"); rawStatus != "" {
		opts.Status = domain.ChargeStatus(rawStatus)
	}
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		if limit, err := strconv.Atoi(rawLimit); err == nil {
			opts.Limit = limit
		}
	}
	if rawOffset := r.URL.Query().Get("offset"); rawOffset != "" {
		if offset, err := strconv.Atoi(rawOffset); err == nil {
			opts.Offset = offset
		}
	}

	charges, err := h.service.ListCharges(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api op=list_charges club_id=%d err=%v", clubID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list charges")
		return
	}
	if charges == nil {
		charges = []domain.Charge{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"charges": charges})
}

// CancelChargeHandler handles POST /billing/charges/{id}/cancel.
func (h *BillingHandlers) CancelChargeHandler(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := h.chargeIDParam(w, r)
	if !ok {
		return
	}

	charge, err := h.service.CancelCharge(r.Context(), chargeID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrChargeNotFound):
			h.writeError(w, http.StatusNotFound, "Charge not found")
		case errors.Is(err, store.ErrChargeNotCancellable):
			h.writeError(w, http.StatusConflict, "Charge cannot be cancelled in its current status")
		default:
			log.Printf("level=error component=api op=cancel_charge charge_id=%d err=%v", chargeID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to cancel charge")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, charge)
}

// InitiatePaymentHandler handles POST /billing/charges/{id}/pay.
func (h *BillingHandlers) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := h.chargeIDParam(w, r)
	if !ok {
		return
	}

	var payer domain.PayerInfo
	if err := json.NewDecoder(r.Body).Decode(&payer); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.InitiatePayment(r.Context(), chargeID, payer)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrChargeNotFound):
			h.writeError(w, http.StatusNotFound, "Charge not found")
		case errors.Is(err, app.ErrChargeAlreadyPaid):
			h.writeError(w, http.StatusConflict, "Charge is already paid")
		case errors.Is(err, app.ErrChargeCancelled):
			h.writeError(w, http.StatusConflict, "Charge is cancelled")
		case errors.Is(err, app.ErrPayerEmailRequired):
			h.writeError(w, http.StatusBadRequest, "Payer email is required")
		case errors.Is(err, app.ErrGatewayUnavailable):
			h.writeError(w, http.StatusBadGateway, "Payment gateway unavailable, try again later")
		default:
			log.Printf("level=error component=api op=initiate_payment charge_id=%d err=%v", chargeID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to initiate payment")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ListChargeAttemptsHandler handles GET /billing/charges/{id}/attempts.
func (h *BillingHandlers) ListChargeAttemptsHandler(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := h.chargeIDParam(w, r)
	if !ok {
		return
	}

	attempts, err := h.service.ListChargeAttempts(r.Context(), chargeID)
	if err != nil {
		if errors.Is(err, store.ErrChargeNotFound) {
			h.writeError(w, http.StatusNotFound, "Charge not found")
			return
		}
		log.Printf("level=error component=api op=list_attempts charge_id=%d err=%v", chargeID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list payment attempts")
		return
	}
	if attempts == nil {
		attempts = []domain.PaymentAttempt{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
}

// VerifyPaymentHandler handles GET /billing/payments/{gatewayPaymentID}.
func (h *BillingHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	gatewayPaymentID := chi.URLParam(r, "gatewayPaymentID")
	if gatewayPaymentID == "" {
		h.writeError(w, http.StatusBadRequest, "Gateway payment id is required")
		return
	}

	result, err := h.service.VerifyPayment(r.Context(), gatewayPaymentID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrGatewayUnavailable):
			h.writeError(w, http.StatusBadGateway, "Payment gateway unavailable, try again later")
		default:
			log.Printf("level=error component=api op=verify_payment gateway_payment_id=%s err=%v", gatewayPaymentID, err)
			h.writeError(w, http.StatusNotFound, "Payment not found")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *BillingHandlers) chargeIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chargeID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || chargeID <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid charge id")
		return 0, false
	}
	return chargeID, true
}

// writeJSON is a helper for writing JSON responses.
func (h *BillingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BillingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
