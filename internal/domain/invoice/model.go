package invoice

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the invoice lifecycle state. Financial states (partial, paid,
// overdue, refunded) are derived from amounts; delivery states (draft,
// issued, sent, viewed) progress explicitly; cancelled is terminal.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusSent      Status = "sent"
	StatusViewed    Status = "viewed"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further financial mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// Category classifies a billable item. Categories drive coverage rules and
// usage-cap aggregation.
type Category string

const (
	CategoryConsultation    Category = "consultation"
	CategoryExamination     Category = "examination"
	CategoryProcedure       Category = "procedure"
	CategoryLaboratory      Category = "laboratory"
	CategoryImaging         Category = "imaging"
	CategoryMedication      Category = "medication"
	CategoryHospitalization Category = "hospitalization"
	CategoryOther           Category = "other"
)

var validCategories = map[Category]bool{
	CategoryConsultation: true, CategoryExamination: true, CategoryProcedure: true,
	CategoryLaboratory: true, CategoryImaging: true, CategoryMedication: true,
	CategoryHospitalization: true, CategoryOther: true,
}

func ValidCategory(c Category) bool { return validCategories[c] }

type PaymentMethod string

const (
	MethodCash        PaymentMethod = "cash"
	MethodCard        PaymentMethod = "card"
	MethodCheque      PaymentMethod = "cheque"
	MethodTransfer    PaymentMethod = "transfer"
	MethodMobileMoney PaymentMethod = "mobile_money"
	MethodInsurance   PaymentMethod = "insurance"
)

var validMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCard: true, MethodCheque: true,
	MethodTransfer: true, MethodMobileMoney: true, MethodInsurance: true,
}

func ValidMethod(m PaymentMethod) bool { return validMethods[m] }

// Item is a billable line. All amounts are minor currency units. Items
// arrive pre-totaled from the clinical caller; this layer sums them but
// never recomputes totals from unit price and quantity.
type Item struct {
	Description   string   `json:"description"`
	Category      Category `json:"category"`
	Code          string   `json:"code"`
	Quantity      int      `json:"quantity"`
	UnitPrice     int64    `json:"unit_price"`
	Discount      int64    `json:"discount"`
	Subtotal      int64    `json:"subtotal"`
	Tax           int64    `json:"tax"`
	Total         int64    `json:"total"`
	CompanyShare  int64    `json:"company_share"`
	PatientShare  int64    `json:"patient_share"`
	NeedsApproval bool     `json:"needs_approval,omitempty"`
}

// Payment is a ledger entry. Amount is signed: positive for receipts,
// negative for refunds.
type Payment struct {
	PaymentID  string        `json:"payment_id"`
	Amount     int64         `json:"amount"`
	Method     PaymentMethod `json:"method"`
	Date       time.Time     `json:"date"`
	Reference  string        `json:"reference,omitempty"`
	ReceivedBy string        `json:"received_by,omitempty"`
	Cleared    bool          `json:"cleared"`
	Reason     string        `json:"reason,omitempty"`
}

func (p Payment) IsRefund() bool { return p.Amount < 0 }

type Summary struct {
	Subtotal      int64 `json:"subtotal"`
	DiscountTotal int64 `json:"discount_total"`
	TaxTotal      int64 `json:"tax_total"`
	Total         int64 `json:"total"`
	AmountPaid    int64 `json:"amount_paid"`
	AmountDue     int64 `json:"amount_due"`
	CompanyShare  int64 `json:"company_share"`
	PatientShare  int64 `json:"patient_share"`
}

// CompanyBilling records the convention split applied to this invoice.
type CompanyBilling struct {
	CompanyID       uuid.UUID `json:"company_id"`
	CoveragePct     float64   `json:"coverage_pct"`
	CompanyShare    int64     `json:"company_share"`
	PatientShare    int64     `json:"patient_share"`
	InvoiceStatus   string    `json:"invoice_status"` // pending | invoiced | settled
	ApprovalPending bool      `json:"approval_pending"`
	CappedByBudget  bool      `json:"capped_by_budget"`
	AppliedAt       time.Time `json:"applied_at"`
}

// InsuranceSummary mirrors the latest insurer adjudication of this invoice.
type InsuranceSummary struct {
	ClaimNumber           string    `json:"claim_number"`
	Outcome               string    `json:"outcome"`
	ApprovedAmount        int64     `json:"approved_amount"`
	PatientResponsibility int64     `json:"patient_responsibility"`
	Adjustments           int64     `json:"adjustments"`
	DenialReason          string    `json:"denial_reason,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type Reminder struct {
	SentAt  time.Time `json:"sent_at"`
	Channel string    `json:"channel"`
	Note    string    `json:"note,omitempty"`
}

type Invoice struct {
	ID          uuid.UUID         `json:"id"`
	Number      string            `json:"number"`
	PatientID   uuid.UUID         `json:"patient_id"`
	VisitID     *uuid.UUID        `json:"visit_id,omitempty"`
	ClinicID    *uuid.UUID        `json:"clinic_id,omitempty"`
	Currency    string            `json:"currency"`
	Status      Status            `json:"status"`
	DueDate     *time.Time        `json:"due_date,omitempty"`
	IssuedAt    *time.Time        `json:"issued_at,omitempty"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
	Items       []Item            `json:"items"`
	Summary     Summary           `json:"summary"`
	Payments    []Payment         `json:"payments"`
	Reminders   []Reminder        `json:"reminders,omitempty"`
	Company     *CompanyBilling   `json:"company_billing,omitempty"`
	Insurance   *InsuranceSummary `json:"insurance,omitempty"`
	Version     int               `json:"version"`
	CreatedBy   string            `json:"created_by,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// GrossPaid is the sum of positive payments.
func (inv *Invoice) GrossPaid() int64 {
	var sum int64
	for _, p := range inv.Payments {
		if p.Amount > 0 {
			sum += p.Amount
		}
	}
	return sum
}

// ClearedPaid is the sum of positive payments that have cleared.
func (inv *Invoice) ClearedPaid() int64 {
	var sum int64
	for _, p := range inv.Payments {
		if p.Amount > 0 && p.Cleared {
			sum += p.Amount
		}
	}
	return sum
}

// RefundedTotal is the absolute sum of negative payments.
func (inv *Invoice) RefundedTotal() int64 {
	var sum int64
	for _, p := range inv.Payments {
		if p.Amount < 0 {
			sum -= p.Amount
		}
	}
	return sum
}

// HasPaymentReferencing reports whether any payment reference contains the
// given token. Claim sync uses this as its idempotency guard.
func (inv *Invoice) HasPaymentReferencing(token string) bool {
	if token == "" {
		return false
	}
	for _, p := range inv.Payments {
		if strings.Contains(p.Reference, token) {
			return true
		}
	}
	return false
}

// SummarizeItems sums pre-totaled items into the financial summary fields.
func SummarizeItems(items []Item) Summary {
	var s Summary
	for _, it := range items {
		s.Subtotal += it.Subtotal
		s.DiscountTotal += it.Discount
		s.TaxTotal += it.Tax
		s.Total += it.Total
		s.CompanyShare += it.CompanyShare
		s.PatientShare += it.PatientShare
	}
	return s
}

// Recompute re-derives the summary and status from items and payments.
// Every mutation calls this before persisting so the invariants
// (total == sum of item totals, due == total - paid) hold at all times.
func (inv *Invoice) Recompute(now time.Time) {
	s := SummarizeItems(inv.Items)
	var paid int64
	for _, p := range inv.Payments {
		paid += p.Amount
	}
	s.AmountPaid = paid
	s.AmountDue = s.Total - paid
	inv.Summary = s
	inv.Status = DeriveStatus(inv, now)
}
