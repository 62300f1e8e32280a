package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentAttemptStatus enumerates the states of a payment attempt.
type PaymentAttemptStatus string

const (
	PaymentStatusPending   PaymentAttemptStatus = "pending"
	PaymentStatusPaid      PaymentAttemptStatus = "paid"
	PaymentStatusInProcess PaymentAttemptStatus = "in_process"
	PaymentStatusRejected  PaymentAttemptStatus = "rejected"
)

// PaymentAttempt is one recorded try to settle a Charge through the external
// gateway. A charge may accumulate many attempts; attempts are never deleted.
//
// GatewayPaymentID is nil until the gateway confirms a payment; once set it is
// unique across all attempts (enforced by a unique index), which is what makes
// reconciliation idempotent at the storage layer.
type PaymentAttempt struct {
	ID                  int64                `json:"id"`
	ChargeID            int64                `json:"charge_id"`
	Amount              int64                `json:"amount"` // in cents
	Status              PaymentAttemptStatus `json:"status"`
	GatewayPaymentID    *string              `json:"gateway_payment_id,omitempty"`
	GatewayPreferenceID *string              `json:"gateway_preference_id,omitempty"`
	PaymentMethod       *string              `json:"payment_method,omitempty"`
	Extra               map[string]any       `json:"extra,omitempty"`
	PaidAt              *time.Time           `json:"paid_at,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// MapGatewayStatus translates a raw gateway payment status into the internal
// attempt status. Unknown statuses map to pending so that a later, clearer
// notification can still move the attempt forward.
func MapGatewayStatus(gatewayStatus string) PaymentAttemptStatus {
	switch strings.TrimSpace(strings.ToLower(gatewayStatus)) {
	case "approved":
		return PaymentStatusPaid
	case "in_process":
		return PaymentStatusInProcess
	case "rejected", "cancelled":
		return PaymentStatusRejected
	case "pending":
		return PaymentStatusPending
	default:
		return PaymentStatusPending
	}
}

// BuildReceiptReference produces the receipt string stamped on a charge when
// it is paid. It embeds the gateway payment id so a receipt can always be
// traced back to the gateway's record.
func BuildReceiptReference(gatewayPaymentID string, paidAt time.Time) string {
	return fmt.Sprintf("RCPT-%s-%s", paidAt.UTC().Format("20060102"), gatewayPaymentID)
}
