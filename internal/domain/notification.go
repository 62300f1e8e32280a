package domain

import "time"

// NotificationProcessingStatus tracks how far an inbound gateway notification
// has been processed.
type NotificationProcessingStatus string

const (
	NotificationStatusPending   NotificationProcessingStatus = "pending"
	NotificationStatusProcessed NotificationProcessingStatus = "processed"
	NotificationStatusError     NotificationProcessingStatus = "error"
)

// GatewayNotification is the parsed form of one inbound gateway callback.
// The gateway delivers notifications in two shapes (query parameters
// `id`+`topic`, or a JSON body `{data:{id}, type}` / `{id, type}`); the API
// layer normalizes both into this struct. Its fields are routing hints only;
// state mutations always go through a confirmatory gateway fetch.
type GatewayNotification struct {
	ResourceID    string
	Topic         string
	UserID        string
	ApplicationID string
	APIVersion    string
	SentAt        *time.Time
	RawPayload    []byte
}

// NotificationRecord is one row of the dedup ledger. The unique key
// (resource id, topic) is the sole idempotency mechanism of the
// reconciliation engine: a second delivery of the same pair must not
// re-apply side effects. Rows are never deleted.
type NotificationRecord struct {
	ResourceID       string                       `json:"resource_id"`
	Topic            string                       `json:"topic"`
	UserID           *string                      `json:"user_id,omitempty"`
	ApplicationID    *string                      `json:"application_id,omitempty"`
	APIVersion       *string                      `json:"api_version,omitempty"`
	SentAt           *time.Time                   `json:"sent_at,omitempty"`
	ProcessingStatus NotificationProcessingStatus `json:"processing_status"`
	ProcessingError  *string                      `json:"processing_error,omitempty"`
	RawPayload       []byte                       `json:"raw_payload,omitempty"`
	TransactionID    *string                      `json:"transaction_id,omitempty"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// TopicPayment is the only notification topic that drives state transitions.
// Other topics (e.g. merchant orders) are informational and are expected to
// be superseded by a payment notification for the same checkout.
const TopicPayment = "payment"
