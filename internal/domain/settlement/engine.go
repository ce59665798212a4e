package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/company"
	"github.com/medibill/medibill/internal/domain/invoice"
	"github.com/medibill/medibill/internal/domain/usage"
	"github.com/medibill/medibill/pkg/errs"
)

// CapOverflowPolicy decides what happens when an item's company share would
// blow past the category's annual limit.
type CapOverflowPolicy string

const (
	// CapOverflowCap bills the remaining budget to the company and shifts
	// the excess to the patient.
	CapOverflowCap CapOverflowPolicy = "cap"
	// CapOverflowManual refuses the settlement so a human can decide.
	CapOverflowManual CapOverflowPolicy = "manual"
)

type Config struct {
	CapOverflow CapOverflowPolicy
}

// ItemSplit is the per-line settlement outcome, index-aligned with the
// input items.
type ItemSplit struct {
	EffectiveTotal int64 `json:"effective_total"`
	DiscountDelta  int64 `json:"discount_delta"`
	CompanyShare   int64 `json:"company_share"`
	PatientShare   int64 `json:"patient_share"`
	NeedsApproval  bool  `json:"needs_approval"`
	CappedByBudget bool  `json:"capped_by_budget"`
}

type Result struct {
	Items           []ItemSplit `json:"items"`
	Total           int64       `json:"total"`
	CompanyShare    int64       `json:"company_share"`
	PatientShare    int64       `json:"patient_share"`
	ApprovalPending bool        `json:"approval_pending"`
	CappedByBudget  bool        `json:"capped_by_budget"`
}

// Settle runs the convention pipeline over a snapshot of the usage
// aggregate. Per item: global discount, category discount, coverage split,
// approval gate, then annual budget cap. Items held for approval are billed
// entirely to the patient and consume no budget; budget consumption within
// one settlement is tracked so later items see what earlier items took.
func Settle(items []invoice.Item, comp *company.Company, rec *usage.Record, approvals []*company.Approval, cfg Config) (*Result, error) {
	if !comp.Active {
		return nil, errs.PolicyViolation(fmt.Sprintf("company %q is inactive", comp.Name))
	}
	if cfg.CapOverflow == "" {
		cfg.CapOverflow = CapOverflowCap
	}

	res := &Result{Items: make([]ItemSplit, len(items))}
	budgets := make(map[string]int64)

	for i, it := range items {
		cat := string(it.Category)
		rule := comp.Rule(cat)

		effective := it.Total
		if pct := comp.ApprovalRules.GlobalDiscountPct; pct > 0 && !comp.ApprovalRules.Excluded(cat) {
			effective = discount(effective, pct)
		}
		if rule != nil && rule.AdditionalDiscountPct > 0 {
			effective = discount(effective, rule.AdditionalDiscountPct)
		}

		split := ItemSplit{
			EffectiveTotal: effective,
			DiscountDelta:  it.Total - effective,
		}
		split.CompanyShare, split.PatientShare = splitShares(effective, comp.CoverageFor(cat))

		// Approval gate runs before the cap: an item held for approval must
		// not eat budget another item could legitimately use. Shares at or
		// under the company's auto-approval threshold skip the gate entirely.
		autoApproved := comp.ApprovalRules.AutoApproveUnderCents > 0 &&
			split.CompanyShare <= comp.ApprovalRules.AutoApproveUnderCents
		if rule != nil && rule.RequiresApproval && split.CompanyShare > 0 && !autoApproved {
			granted := matchApproval(approvals, it.Code)
			switch {
			case granted == nil:
				split.NeedsApproval = true
				split.CompanyShare, split.PatientShare = 0, effective
				res.ApprovalPending = true
			case granted.MaxAmount > 0 && split.CompanyShare > granted.MaxAmount:
				split.PatientShare += split.CompanyShare - granted.MaxAmount
				split.CompanyShare = granted.MaxAmount
			}
		}

		if rule != nil && rule.AnnualLimit > 0 && split.CompanyShare > 0 {
			remaining, ok := budgets[cat]
			if !ok {
				remaining, _ = usage.RemainingBudget(rec, cat, rule.AnnualLimit)
			}
			if split.CompanyShare > remaining {
				if cfg.CapOverflow == CapOverflowManual {
					return nil, errs.PolicyViolation(fmt.Sprintf(
						"annual limit for category %q exhausted: %d requested, %d remaining", cat, split.CompanyShare, remaining))
				}
				split.PatientShare += split.CompanyShare - remaining
				split.CompanyShare = remaining
				split.CappedByBudget = true
				res.CappedByBudget = true
			}
			budgets[cat] = remaining - split.CompanyShare
		}

		res.Items[i] = split
		res.Total += effective
		res.CompanyShare += split.CompanyShare
		res.PatientShare += split.PatientShare
	}
	return res, nil
}

func matchApproval(approvals []*company.Approval, code string) *company.Approval {
	if code == "" {
		return nil
	}
	for _, a := range approvals {
		if a.Code == code {
			return a
		}
	}
	return nil
}

// splitShares divides an amount by a coverage percentage, flooring the
// company share so the leftover minor unit always lands on the patient.
func splitShares(total int64, pct float64) (companyShare, patientShare int64) {
	if total <= 0 || pct <= 0 {
		return 0, total
	}
	if pct >= 100 {
		return total, 0
	}
	cs := decimal.NewFromInt(total).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Floor().IntPart()
	return cs, total - cs
}

func discount(amount int64, pct float64) int64 {
	if pct <= 0 {
		return amount
	}
	if pct >= 100 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(100).Sub(decimal.NewFromFloat(pct))).
		Div(decimal.NewFromInt(100)).
		Floor().IntPart()
}
