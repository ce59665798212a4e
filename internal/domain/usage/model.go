package usage

import (
	"time"

	"github.com/google/uuid"
)

// FiscalYearOf maps an instant to its fiscal year. Conventions run on
// calendar years.
func FiscalYearOf(t time.Time) int { return t.Year() }

// CategoryUsage accumulates what a company has covered for one patient in
// one billing category.
type CategoryUsage struct {
	TotalBilled       int64 `json:"total_billed"`
	TotalCovered      int64 `json:"total_covered"`
	TotalPatientShare int64 `json:"total_patient_share"`
	ItemCount         int   `json:"item_count"`
}

type Totals struct {
	TotalBilled       int64 `json:"total_billed"`
	TotalCovered      int64 `json:"total_covered"`
	TotalPatientShare int64 `json:"total_patient_share"`
	InvoiceCount      int   `json:"invoice_count"`
}

// Adjustment is an audit entry for every correction to the aggregate:
// reversals, rebuilds, manual fixes.
type Adjustment struct {
	At              time.Time `json:"at"`
	InvoiceID       uuid.UUID `json:"invoice_id,omitempty"`
	InvoiceNumber   string    `json:"invoice_number,omitempty"`
	Reason          string    `json:"reason"`
	Category        string    `json:"category,omitempty"`
	PreviousCovered int64     `json:"previous_covered"`
	NewCovered      int64     `json:"new_covered"`
	AmountChange    int64     `json:"amount_change"`
}

// Record is the per-patient, per-company, per-fiscal-year usage aggregate
// that annual category caps are enforced against.
type Record struct {
	ID          uuid.UUID                 `json:"id"`
	PatientID   uuid.UUID                 `json:"patient_id"`
	CompanyID   uuid.UUID                 `json:"company_id"`
	FiscalYear  int                       `json:"fiscal_year"`
	Categories  map[string]*CategoryUsage `json:"categories"`
	Totals      Totals                    `json:"totals"`
	Adjustments []Adjustment              `json:"adjustments,omitempty"`
	Version     int                       `json:"version"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Category returns the bucket for a category, creating it on first touch.
func (r *Record) Category(name string) *CategoryUsage {
	if r.Categories == nil {
		r.Categories = make(map[string]*CategoryUsage)
	}
	cu, ok := r.Categories[name]
	if !ok {
		cu = &CategoryUsage{}
		r.Categories[name] = cu
	}
	return cu
}

// CoveredIn is the company spend already consumed in the category. A nil
// record consumed nothing.
func (r *Record) CoveredIn(category string) int64 {
	if r == nil || r.Categories == nil {
		return 0
	}
	if cu, ok := r.Categories[category]; ok {
		return cu.TotalCovered
	}
	return 0
}

// RemainingBudget returns how much company money is left in the category
// under the given annual limit. limited is false when the limit is zero,
// meaning unlimited.
func RemainingBudget(r *Record, category string, annualLimit int64) (remaining int64, limited bool) {
	if annualLimit <= 0 {
		return 0, false
	}
	rem := annualLimit - r.CoveredIn(category)
	if rem < 0 {
		rem = 0
	}
	return rem, true
}
