package fees

import (
	"time"

	"github.com/google/uuid"
)

// Source tells which layer of the pricing hierarchy produced a price.
type Source string

const (
	SourceConventionItem    Source = "convention-item"
	SourceConventionDefault Source = "convention-default"
	SourceClinicSchedule    Source = "clinic-schedule"
	SourceCentralSchedule   Source = "central-schedule"
	SourceBasePrice         Source = "base-price"
)

// ResolvedPrice is the outcome of a price lookup. Amount is in minor
// currency units.
type ResolvedPrice struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Source   Source `json:"source"`
}

// Query identifies what is being priced and for whom.
type Query struct {
	Code      string
	ClinicID  *uuid.UUID
	CompanyID *uuid.UUID
	AsOf      time.Time
}

// BillingCode is a chargeable act with its catalogue base price.
type BillingCode struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	BasePrice   int64     `json:"base_price"`
	Currency    string    `json:"currency"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScheduleEntry overrides a code's price for one clinic, or for the whole
// network when ClinicID is nil.
type ScheduleEntry struct {
	ID            uuid.UUID  `json:"id"`
	Code          string     `json:"code"`
	ClinicID      *uuid.UUID `json:"clinic_id,omitempty"`
	Price         int64      `json:"price"`
	Currency      string     `json:"currency"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ActiveAt reports whether the entry is in force at the given instant.
func (e *ScheduleEntry) ActiveAt(t time.Time) bool {
	if t.Before(e.EffectiveFrom) {
		return false
	}
	return e.EffectiveTo == nil || t.Before(*e.EffectiveTo)
}

// ConventionPrice is a company-negotiated price for one code.
type ConventionPrice struct {
	ID            uuid.UUID  `json:"id"`
	CompanyID     uuid.UUID  `json:"company_id"`
	Code          string     `json:"code"`
	Price         int64      `json:"price"`
	Currency      string     `json:"currency"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ActiveAt reports whether the negotiated price is in force at the given
// instant.
func (cp *ConventionPrice) ActiveAt(t time.Time) bool {
	if t.Before(cp.EffectiveFrom) {
		return false
	}
	return cp.EffectiveTo == nil || t.Before(*cp.EffectiveTo)
}

// ConventionDefaults applies when a company has no negotiated price for a
// code: fall back to the standard schedule price, optionally discounted.
type ConventionDefaults struct {
	CompanyID         uuid.UUID `json:"company_id"`
	UseStandardPrices bool      `json:"use_standard_prices"`
	DiscountPct       float64   `json:"discount_pct"`
}
