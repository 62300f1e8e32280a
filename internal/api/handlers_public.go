/**
 * @description
 * This file contains the handlers for the unauthenticated public payment link
 * surface: resolving a slug to a redacted charge view, counting link
 * accesses, and the internal management endpoints for creating and revoking
 * links.
 *
 * @dependencies
 * - encoding/json, net/http, time: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clubledger/billing-service/internal/app"
	"github.com/clubledger/billing-service/internal/store"
)

type createPublicLinkRequest struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreatePublicLinkHandler handles POST /billing/charges/{id}/public-link.
func (h *BillingHandlers) CreatePublicLinkHandler(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := h.chargeIDParam(w, r)
	if !ok {
		return
	}

	var req createPublicLinkRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	link, err := h.service.CreatePublicLink(r.Context(), chargeID, req.ExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrChargeNotFound):
			h.writeError(w, http.StatusNotFound, "Charge not found")
		case errors.Is(err, app.ErrChargeAlreadyPaid):
			h.writeError(w, http.StatusConflict, "Charge is already paid")
		case errors.Is(err, app.ErrChargeCancelled):
			h.writeError(w, http.StatusConflict, "Charge is cancelled")
		default:
			log.Printf("level=error component=api op=create_public_link charge_id=%d err=%v", chargeID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to create public link")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, link)
}

// DeactivatePublicLinkHandler handles DELETE /billing/public-links/{slug}.
func (h *BillingHandlers) DeactivatePublicLinkHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.service.DeactivatePublicLink(r.Context(), slug); err != nil {
		if errors.Is(err, store.ErrPublicLinkNotFound) {
			h.writeError(w, http.StatusNotFound, "Public link not found")
			return
		}
		log.Printf("level=error component=api op=deactivate_public_link slug=%s err=%v", slug, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to deactivate public link")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "slug": slug})
}

// ResolvePublicChargeHandler handles GET /billing/public/charges/{slug}.
// Unknown and inactive slugs answer 404; expired links answer 410.
func (h *BillingHandlers) ResolvePublicChargeHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	view, err := h.service.ResolvePublicLink(r.Context(), slug)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPublicLinkNotFound):
			h.writeError(w, http.StatusNotFound, "Payment link not found")
		case errors.Is(err, app.ErrLinkExpired):
			h.writeError(w, http.StatusGone, "Payment link expired")
		default:
			log.Printf("level=error component=api op=resolve_public_link slug=%s err=%v", slug, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to resolve payment link")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// RegisterPublicAccessHandler handles POST /billing/public/charges/{slug}/access.
func (h *BillingHandlers) RegisterPublicAccessHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	count, err := h.service.RegisterPublicLinkAccess(r.Context(), slug)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPublicLinkNotFound):
			h.writeError(w, http.StatusNotFound, "Payment link not found")
		case errors.Is(err, app.ErrLinkExpired):
			h.writeError(w, http.StatusGone, "Payment link expired")
		default:
			log.Printf("level=error component=api op=register_public_access slug=%s err=%v", slug, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to register access")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"slug": slug, "access_count": count})
}
