package claim

import (
	"time"

	"github.com/google/uuid"
)

// Status is the insurer-side claim lifecycle.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPending           Status = "pending"
	StatusSubmitted         Status = "submitted"
	StatusProcessing        Status = "processing"
	StatusApproved          Status = "approved"
	StatusPartiallyApproved Status = "partially-approved"
	StatusRejected          Status = "rejected"
	StatusAppealed          Status = "appealed"
	StatusPaid              Status = "paid"
	StatusClosed            Status = "closed"
)

// validTransitions is the full claim state machine. Appeals loop a rejected
// claim back into processing.
var validTransitions = map[Status][]Status{
	StatusDraft:             {StatusPending, StatusSubmitted},
	StatusPending:           {StatusSubmitted},
	StatusSubmitted:         {StatusProcessing},
	StatusProcessing:        {StatusApproved, StatusPartiallyApproved, StatusRejected},
	StatusApproved:          {StatusPaid},
	StatusPartiallyApproved: {StatusPaid},
	StatusRejected:          {StatusAppealed, StatusClosed},
	StatusAppealed:          {StatusProcessing},
	StatusPaid:              {StatusClosed},
	StatusClosed:            {},
}

// CanTransition reports whether the move is allowed by the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ServiceLine is one billed act submitted to the insurer.
type ServiceLine struct {
	Code          string `json:"code"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	Total         int64  `json:"total"`
	ClaimedAmount int64  `json:"claimed_amount"`
}

// Amounts tracks the claim's money through adjudication. The invariant
// TotalCharged >= TotalClaimed >= ApprovedAmount >= PaidAmount holds at
// every stage.
type Amounts struct {
	TotalCharged          int64 `json:"total_charged"`
	TotalClaimed          int64 `json:"total_claimed"`
	ApprovedAmount        int64 `json:"approved_amount"`
	PaidAmount            int64 `json:"paid_amount"`
	Adjustments           int64 `json:"adjustments"`
	PatientResponsibility int64 `json:"patient_responsibility"`
}

// StatusChange is an append-only audit entry.
type StatusChange struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
	By   string    `json:"by,omitempty"`
	Note string    `json:"note,omitempty"`
}

type Denial struct {
	Reason string    `json:"reason"`
	Code   string    `json:"code,omitempty"`
	At     time.Time `json:"at"`
}

type Appeal struct {
	Note    string    `json:"note"`
	FiledAt time.Time `json:"filed_at"`
	FiledBy string    `json:"filed_by,omitempty"`
}

type Claim struct {
	ID            uuid.UUID      `json:"id"`
	ClaimNumber   string         `json:"claim_number"`
	InvoiceID     uuid.UUID      `json:"invoice_id"`
	PatientID     uuid.UUID      `json:"patient_id"`
	InsurerName   string         `json:"insurer_name"`
	PolicyNumber  string         `json:"policy_number,omitempty"`
	ServiceLines  []ServiceLine  `json:"service_lines"`
	Amounts       Amounts        `json:"amounts"`
	Status        Status         `json:"status"`
	StatusHistory []StatusChange `json:"status_history,omitempty"`
	Denial        *Denial        `json:"denial,omitempty"`
	Appeals       []Appeal       `json:"appeals,omitempty"`
	CheckNumber   string         `json:"check_number,omitempty"`
	ERANumber     string         `json:"era_number,omitempty"`
	SubmittedAt   *time.Time     `json:"submitted_at,omitempty"`
	Version       int            `json:"version"`
	CreatedBy     string         `json:"created_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// transition moves the claim and records the audit entry; callers must have
// validated the move first.
func (c *Claim) transition(to Status, at time.Time, by, note string) {
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		From: c.Status, To: to, At: at, By: by, Note: note,
	})
	c.Status = to
}
