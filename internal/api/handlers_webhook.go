/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from
 * the payment gateway. It acts as the entry point for all asynchronous
 * payment notifications.
 *
 * Key features:
 * - Accepts both delivery shapes the gateway uses: query parameters
 *   (`?id=...&topic=...`) and a JSON body (`{"data":{"id":...},"type":...}`
 *   or the older `{"id":...,"type":...}`).
 * - Always responds 200 with a short JSON diagnostic so the gateway stops
 *   redelivering; processing failures are recorded in the notification ledger
 *   and retried through the gateway's own redelivery cadence.
 *
 * @dependencies
 * - encoding/json, io, net/http: Standard Go libraries.
 * - internal/domain: For the notification model handed to the reconciler.
 */

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/clubledger/billing-service/internal/domain"
)

// webhookBody covers both JSON shapes the gateway delivers.
type webhookBody struct {
	ID   json.Number `json:"id"`
	Type string      `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
}

// GatewayWebhookHandler handles POST|GET /billing/webhooks/gateway.
func (h *BillingHandlers) GatewayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	notification, err := parseGatewayNotification(r)
	if err != nil {
		// Transport-level garbage is the one case that gets a 400: there is
		// nothing to record and nothing a redelivery would change.
		h.writeError(w, http.StatusBadRequest, "Unparsable notification")
		return
	}

	outcome, procErr := h.reconciler.ProcessNotification(r.Context(), notification)
	if procErr != nil {
		log.Printf("level=warn component=api op=webhook resource_id=%s outcome=%s msg=\"processing failed, acknowledged anyway\" err=%v", notification.ResourceID, outcome, procErr)
	}

	// Always ack. The dedup ledger carries the real processing state.
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":      "received",
		"resource_id": notification.ResourceID,
		"topic":       notification.Topic,
		"outcome":     string(outcome),
	})
}

// parseGatewayNotification normalizes the gateway's delivery shapes into a
// single notification struct. Query parameters win when present; otherwise
// the JSON body is consulted.
func parseGatewayNotification(r *http.Request) (domain.GatewayNotification, error) {
	query := r.URL.Query()
	notification := domain.GatewayNotification{
		ResourceID: strings.TrimSpace(query.Get("id")),
		Topic:      strings.TrimSpace(query.Get("topic")),
	}
	if notification.ResourceID == "" {
		notification.ResourceID = strings.TrimSpace(query.Get("data.id"))
	}
	if notification.Topic == "" {
		notification.Topic = strings.TrimSpace(query.Get("type"))
	}

	var raw []byte
	if r.Body != nil {
		raw, _ = io.ReadAll(io.LimitReader(r.Body, 1<<20))
	}
	notification.RawPayload = raw

	if notification.ResourceID != "" && notification.Topic != "" {
		return notification, nil
	}

	if len(raw) > 0 {
		var body webhookBody
		if err := json.Unmarshal(raw, &body); err != nil {
			if notification.ResourceID == "" && notification.Topic == "" {
				return domain.GatewayNotification{}, fmt.Errorf("unparsable webhook body: %w", err)
			}
			return notification, nil
		}
		if notification.ResourceID == "" {
			if id := body.Data.ID.String(); id != "" {
				notification.ResourceID = id
			} else {
				notification.ResourceID = body.ID.String()
			}
		}
		if notification.Topic == "" {
			switch {
			case body.Type != "":
				notification.Topic = body.Type
			case body.Topic != "":
				notification.Topic = body.Topic
			}
		}
	}

	// An empty delivery (no params, no body) yields an empty notification.
	// The reconciler answers it with an ignored outcome; only a body that is
	// present but unparsable gets a 400.
	return notification, nil
}
