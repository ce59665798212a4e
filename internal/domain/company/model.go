package company

import (
	"time"

	"github.com/google/uuid"
)

// CategoryRule overrides coverage for one billing category.
type CategoryRule struct {
	Category              string  `json:"category"`
	CoveragePct           float64 `json:"coverage_pct"`
	NotCovered            bool    `json:"not_covered"`
	RequiresApproval      bool    `json:"requires_approval"`
	AdditionalDiscountPct float64 `json:"additional_discount_pct"`
	// AnnualLimit caps the company's spend for this category per patient and
	// fiscal year, in minor units. Zero means unlimited.
	AnnualLimit int64 `json:"annual_limit"`
}

// ApprovalRules shape how settlements treat items for this company.
type ApprovalRules struct {
	GlobalDiscountPct     float64  `json:"global_discount_pct"`
	ExcludeCategories     []string `json:"exclude_categories,omitempty"`
	AutoApproveUnderCents int64    `json:"auto_approve_under,omitempty"`
}

// Excluded reports whether the global discount skips the category.
func (r ApprovalRules) Excluded(category string) bool {
	for _, c := range r.ExcludeCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Company is a convention partner whose employees get part of their care
// billed to the employer.
type Company struct {
	ID                 uuid.UUID      `json:"id"`
	Name               string         `json:"name"`
	RegistrationNumber string         `json:"registration_number,omitempty"`
	ContactEmail       string         `json:"contact_email,omitempty"`
	Active             bool           `json:"active"`
	DefaultCoveragePct float64        `json:"default_coverage_pct"`
	CoveredCategories  []CategoryRule `json:"covered_categories,omitempty"`
	ApprovalRules      ApprovalRules  `json:"approval_rules"`
	UseStandardPrices  bool           `json:"use_standard_prices"`
	ConventionDiscount float64        `json:"convention_discount_pct"`
	Version            int            `json:"version"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Rule returns the category override, or nil when the default applies.
func (c *Company) Rule(category string) *CategoryRule {
	for i := range c.CoveredCategories {
		if c.CoveredCategories[i].Category == category {
			return &c.CoveredCategories[i]
		}
	}
	return nil
}

// CoverageFor resolves the effective coverage percentage for a category:
// an explicit not-covered rule yields 0, an override yields its percentage,
// otherwise the company default applies.
func (c *Company) CoverageFor(category string) float64 {
	if r := c.Rule(category); r != nil {
		if r.NotCovered {
			return 0
		}
		return r.CoveragePct
	}
	return c.DefaultCoveragePct
}

// ApprovalStatus of a prior-approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalGranted  ApprovalStatus = "granted"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Approval is a company's prior authorization for a specific act on a
// specific patient.
type Approval struct {
	ID        uuid.UUID      `json:"id"`
	CompanyID uuid.UUID      `json:"company_id"`
	PatientID uuid.UUID      `json:"patient_id"`
	Code      string         `json:"code"`
	MaxAmount int64          `json:"max_amount"`
	Status    ApprovalStatus `json:"status"`
	GrantedBy string         `json:"granted_by,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ActiveAt reports whether the approval authorizes billing at the instant.
func (a *Approval) ActiveAt(t time.Time) bool {
	if a.Status != ApprovalGranted {
		return false
	}
	return a.ExpiresAt == nil || t.Before(*a.ExpiresAt)
}
