package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/internal/domain/company"
	"github.com/medibill/medibill/internal/domain/invoice"
	"github.com/medibill/medibill/internal/domain/usage"
)

// InvoiceLedger is the slice of the invoice service a settlement needs.
type InvoiceLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error)
	ApplyCompanySplit(ctx context.Context, id uuid.UUID, split invoice.CompanySplit) (*invoice.Invoice, error)
}

type CompanyDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*company.Company, error)
	ActiveApprovals(ctx context.Context, companyID, patientID uuid.UUID) ([]*company.Approval, error)
}

type UsageReader interface {
	Get(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) (*usage.Record, error)
}

// Coordinator wires the settlement engine to live invoices: it snapshots the
// company rules, active approvals and usage aggregate, runs the engine, and
// writes the resulting split back onto the invoice.
type Coordinator struct {
	invoices  InvoiceLedger
	companies CompanyDirectory
	usage     UsageReader
	cfg       Config
	log       zerolog.Logger
}

func NewCoordinator(invoices InvoiceLedger, companies CompanyDirectory, usageReader UsageReader, cfg Config, log zerolog.Logger) *Coordinator {
	return &Coordinator{invoices: invoices, companies: companies, usage: usageReader, cfg: cfg, log: log}
}

// ApplyConvention settles one invoice against one company and persists the
// split. The write path records budget consumption; a concurrent settlement
// racing the same aggregate is resolved by the invoice's version check.
func (c *Coordinator) ApplyConvention(ctx context.Context, invoiceID, companyID uuid.UUID) (*invoice.Invoice, error) {
	inv, err := c.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	comp, err := c.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	rec, err := c.usage.Get(ctx, inv.PatientID, companyID, usage.FiscalYearOf(inv.CreatedAt))
	if err != nil {
		return nil, err
	}
	approvals, err := c.companies.ActiveApprovals(ctx, companyID, inv.PatientID)
	if err != nil {
		return nil, err
	}

	res, err := Settle(inv.Items, comp, rec, approvals, c.cfg)
	if err != nil {
		return nil, err
	}

	split := invoice.CompanySplit{
		CompanyID:       companyID,
		CoveragePct:     comp.DefaultCoveragePct,
		Items:           make([]invoice.ItemShare, len(res.Items)),
		CompanyShare:    res.CompanyShare,
		PatientShare:    res.PatientShare,
		ApprovalPending: res.ApprovalPending,
		CappedByBudget:  res.CappedByBudget,
	}
	for i, sh := range res.Items {
		split.Items[i] = invoice.ItemShare{
			EffectiveTotal: sh.EffectiveTotal,
			DiscountDelta:  sh.DiscountDelta,
			CompanyShare:   sh.CompanyShare,
			PatientShare:   sh.PatientShare,
			NeedsApproval:  sh.NeedsApproval,
			CappedByBudget: sh.CappedByBudget,
		}
	}

	settled, err := c.invoices.ApplyCompanySplit(ctx, invoiceID, split)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("invoice", settled.Number).Str("company", comp.Name).
		Int64("company_share", res.CompanyShare).Int64("patient_share", res.PatientShare).
		Bool("capped", res.CappedByBudget).Bool("approval_pending", res.ApprovalPending).
		Msg("convention settled")
	return settled, nil
}
