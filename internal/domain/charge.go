/**
 * @description
 * This file defines the core domain models for the billing-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout
 * the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in cents (the smallest currency unit), which
 *   avoids floating-point inaccuracies with financial data. The payment gateway
 *   reports decimal amounts; the gateway client converts at the boundary.
 * - A Charge references its owning club (and optionally a team) by id only.
 *   Club and team records are owned by sibling services.
 */

package domain

import "time"

// ChargeStatus enumerates the lifecycle states of a Charge.
type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "pending"
	ChargeStatusPaid      ChargeStatus = "paid"
	ChargeStatusOverdue   ChargeStatus = "overdue"
	ChargeStatusCancelled ChargeStatus = "cancelled"
)

// Charge represents a billable obligation owed by a club or one of its teams.
// This struct maps directly to the `charges` table in the database.
//
// Invariants maintained by the store layer:
//   - PaidAt is set if and only if Status == paid.
//   - ReceiptReference is set only when Status == paid.
//   - Cancelled is only ever set by explicit administrative action; the
//     reconciliation logic never moves a charge into or out of cancelled.
type Charge struct {
	ID                  int64        `json:"id"`
	Concept             string       `json:"concept"`
	Amount              int64        `json:"amount"` // in cents
	IssueDate           time.Time    `json:"issue_date"`
	DueDate             *time.Time   `json:"due_date,omitempty"`
	Status              ChargeStatus `json:"status"`
	ReceiptReference    *string      `json:"receipt_reference,omitempty"`
	Notes               *string      `json:"notes,omitempty"`
	GatewayPreferenceID *string      `json:"gateway_preference_id,omitempty"`
	PaidAt              *time.Time   `json:"paid_at,omitempty"`
	ClubID              int64        `json:"club_id"`
	TeamID              *int64       `json:"team_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// IsDuePast reports whether the charge is still pending and its due date has
// elapsed at the given instant. Used by the lazy overdue evaluation on read
// paths; charges without a due date never expire.
func (c *Charge) IsDuePast(now time.Time) bool {
	return c.Status == ChargeStatusPending && c.DueDate != nil && c.DueDate.Before(now)
}

// CreateChargeInput is the DTO for creating a new charge. Amount/due date
// policy is decided by the calling service; this service only validates shape.
type CreateChargeInput struct {
	Concept string     `json:"concept"`
	Amount  int64      `json:"amount"` // in cents
	DueDate *time.Time `json:"due_date,omitempty"`
	Notes   *string    `json:"notes,omitempty"`
	ClubID  int64      `json:"club_id"`
	TeamID  *int64     `json:"team_id,omitempty"`
}

// PayerInfo carries the payer identity forwarded to the gateway when a
// checkout preference is created.
type PayerInfo struct {
	Name           string `json:"name"`
	Surname        string `json:"surname"`
	Email          string `json:"email"`
	Identification string `json:"identification,omitempty"`
}

// ChargeListOptions controls filtering and pagination for charge listings.
type ChargeListOptions struct {
	ClubID int64
	TeamID *int64
	Status ChargeStatus
	Limit  int
	Offset int
}
