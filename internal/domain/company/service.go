package company

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/pkg/errs"
)

type Service struct {
	repo      Repository
	approvals ApprovalRepository
	log       zerolog.Logger
}

func NewService(repo Repository, approvals ApprovalRepository, log zerolog.Logger) *Service {
	return &Service{repo: repo, approvals: approvals, log: log}
}

func validatePct(field string, pct float64) error {
	if pct < 0 || pct > 100 {
		return errs.Validation(fmt.Sprintf("%s must be between 0 and 100", field))
	}
	return nil
}

func validateCompany(c *Company) error {
	if c.Name == "" {
		return errs.Validation("company name is required")
	}
	if err := validatePct("default_coverage_pct", c.DefaultCoveragePct); err != nil {
		return err
	}
	if err := validatePct("convention_discount_pct", c.ConventionDiscount); err != nil {
		return err
	}
	if err := validatePct("global_discount_pct", c.ApprovalRules.GlobalDiscountPct); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.CoveredCategories))
	for _, rule := range c.CoveredCategories {
		if rule.Category == "" {
			return errs.Validation("category rule without a category")
		}
		if seen[rule.Category] {
			return errs.Validation(fmt.Sprintf("duplicate rule for category %q", rule.Category))
		}
		seen[rule.Category] = true
		if err := validatePct(fmt.Sprintf("coverage_pct for %q", rule.Category), rule.CoveragePct); err != nil {
			return err
		}
		if err := validatePct(fmt.Sprintf("additional_discount_pct for %q", rule.Category), rule.AdditionalDiscountPct); err != nil {
			return err
		}
		if rule.AnnualLimit < 0 {
			return errs.Validation(fmt.Sprintf("annual_limit for %q must not be negative", rule.Category))
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, c *Company) error {
	if err := validateCompany(c); err != nil {
		return err
	}
	c.Active = true
	if err := s.repo.Create(ctx, c); err != nil {
		return fmt.Errorf("create company: %w", err)
	}
	s.log.Info().Str("company", c.Name).Float64("default_coverage", c.DefaultCoveragePct).Msg("company created")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Company, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, c *Company) error {
	if err := validateCompany(c); err != nil {
		return err
	}
	return s.repo.Update(ctx, c)
}

func (s *Service) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Company, int, error) {
	return s.repo.List(ctx, activeOnly, limit, offset)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !c.Active {
		return errs.Validation("company is already inactive")
	}
	c.Active = false
	return s.repo.Update(ctx, c)
}

type ApprovalInput struct {
	CompanyID uuid.UUID  `json:"company_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Code      string     `json:"code"`
	MaxAmount int64      `json:"max_amount"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// RequestApproval opens a prior-authorization request. Requests under the
// company's auto-approve threshold are granted immediately.
func (s *Service) RequestApproval(ctx context.Context, in ApprovalInput) (*Approval, error) {
	if in.CompanyID == uuid.Nil || in.PatientID == uuid.Nil {
		return nil, errs.Validation("company_id and patient_id are required")
	}
	if in.Code == "" {
		return nil, errs.Validation("billing code is required")
	}
	if in.MaxAmount < 0 {
		return nil, errs.Validation("max_amount must not be negative")
	}

	c, err := s.repo.GetByID(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}
	a := &Approval{
		CompanyID: in.CompanyID,
		PatientID: in.PatientID,
		Code:      in.Code,
		MaxAmount: in.MaxAmount,
		Status:    ApprovalPending,
		ExpiresAt: in.ExpiresAt,
	}
	if t := c.ApprovalRules.AutoApproveUnderCents; t > 0 && in.MaxAmount > 0 && in.MaxAmount < t {
		a.Status = ApprovalGranted
		a.GrantedBy = "auto"
	}
	if err := s.approvals.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return a, nil
}

func (s *Service) DecideApproval(ctx context.Context, id uuid.UUID, grant bool, decidedBy string) (*Approval, error) {
	a, err := s.approvals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != ApprovalPending {
		return nil, errs.Validation(fmt.Sprintf("approval is already %s", a.Status))
	}
	if grant {
		a.Status = ApprovalGranted
	} else {
		a.Status = ApprovalRejected
	}
	a.GrantedBy = decidedBy
	if err := s.approvals.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) ActiveApprovals(ctx context.Context, companyID, patientID uuid.UUID) ([]*Approval, error) {
	return s.approvals.ListActive(ctx, companyID, patientID)
}
