package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/internal/domain/invoice"
	"github.com/medibill/medibill/pkg/errs"
)

// InvoiceSource replays the invoices a rebuild derives the aggregate from.
type InvoiceSource interface {
	ListByCompanyYear(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) ([]*invoice.Invoice, error)
}

type Service struct {
	repo     Repository
	invoices InvoiceSource
	log      zerolog.Logger
	retries  int
	now      func() time.Time
}

func NewService(repo Repository, invoices InvoiceSource, log zerolog.Logger, conflictRetries int) *Service {
	if conflictRetries < 1 {
		conflictRetries = 1
	}
	return &Service{repo: repo, invoices: invoices, log: log, retries: conflictRetries, now: time.Now}
}

func (s *Service) Get(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) (*Record, error) {
	return s.repo.Get(ctx, patientID, companyID, fiscalYear)
}

func (s *Service) ListByCompany(ctx context.Context, companyID uuid.UUID, fiscalYear, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByCompany(ctx, companyID, fiscalYear, limit, offset)
}

// Remaining reports the unconsumed company budget for a category under an
// annual limit. limited is false when the limit is zero (unlimited).
func (s *Service) Remaining(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int, category string, annualLimit int64) (int64, bool, error) {
	rec, err := s.repo.Get(ctx, patientID, companyID, fiscalYear)
	if err != nil {
		return 0, false, err
	}
	remaining, limited := RemainingBudget(rec, category, annualLimit)
	return remaining, limited, nil
}

// getOrCreate loads the aggregate, materializing an empty one on first
// touch. A create racing another writer falls back to the winner's row.
func (s *Service) getOrCreate(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) (*Record, error) {
	rec, err := s.repo.Get(ctx, patientID, companyID, fiscalYear)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	rec = &Record{
		PatientID:  patientID,
		CompanyID:  companyID,
		FiscalYear: fiscalYear,
		Categories: make(map[string]*CategoryUsage),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errs.IsConflict(err) {
			return s.repo.Get(ctx, patientID, companyID, fiscalYear)
		}
		return nil, err
	}
	return rec, nil
}

// mutate applies fn to the aggregate under bounded optimistic retry.
func (s *Service) mutate(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int, fn func(rec *Record) error) (*Record, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		rec, err := s.getOrCreate(ctx, patientID, companyID, fiscalYear)
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, rec); err != nil {
			if errs.IsConflict(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return rec, nil
	}
	return nil, lastErr
}

// RecordInvoiceUsage folds one settled invoice into the aggregate. Only
// items the company actually covers consume budget.
func (s *Service) RecordInvoiceUsage(ctx context.Context, inv *invoice.Invoice) error {
	if inv.Company == nil {
		return errs.Validation("invoice has no company billing to record")
	}
	year := FiscalYearOf(inv.CreatedAt)
	rec, err := s.mutate(ctx, inv.PatientID, inv.Company.CompanyID, year, func(rec *Record) error {
		applyInvoice(rec, inv)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record usage for invoice %s: %w", inv.Number, err)
	}
	s.log.Info().Str("invoice", inv.Number).Int("fiscal_year", year).
		Int64("total_covered", rec.Totals.TotalCovered).Msg("convention usage recorded")
	return nil
}

func applyInvoice(rec *Record, inv *invoice.Invoice) {
	touched := false
	for _, it := range inv.Items {
		if it.CompanyShare <= 0 {
			continue
		}
		cu := rec.Category(string(it.Category))
		cu.TotalBilled += it.Total
		cu.TotalCovered += it.CompanyShare
		cu.TotalPatientShare += it.PatientShare
		cu.ItemCount++
		rec.Totals.TotalBilled += it.Total
		rec.Totals.TotalCovered += it.CompanyShare
		rec.Totals.TotalPatientShare += it.PatientShare
		touched = true
	}
	if touched {
		rec.Totals.InvoiceCount++
	}
}

// ReverseInvoiceUsage backs one invoice's consumption out of the aggregate,
// flooring every counter at zero. Each touched category gets an audit
// adjustment recording the correction.
func (s *Service) ReverseInvoiceUsage(ctx context.Context, inv *invoice.Invoice, reason string) error {
	if inv.Company == nil {
		return errs.Validation("invoice has no company billing to reverse")
	}
	year := FiscalYearOf(inv.CreatedAt)
	_, err := s.mutate(ctx, inv.PatientID, inv.Company.CompanyID, year, func(rec *Record) error {
		now := s.now()
		touched := false
		for _, it := range inv.Items {
			if it.CompanyShare <= 0 {
				continue
			}
			cu := rec.Category(string(it.Category))
			prev := cu.TotalCovered
			cu.TotalBilled = floorZero(cu.TotalBilled - it.Total)
			cu.TotalCovered = floorZero(cu.TotalCovered - it.CompanyShare)
			cu.TotalPatientShare = floorZero(cu.TotalPatientShare - it.PatientShare)
			if cu.ItemCount > 0 {
				cu.ItemCount--
			}
			rec.Totals.TotalBilled = floorZero(rec.Totals.TotalBilled - it.Total)
			rec.Totals.TotalCovered = floorZero(rec.Totals.TotalCovered - it.CompanyShare)
			rec.Totals.TotalPatientShare = floorZero(rec.Totals.TotalPatientShare - it.PatientShare)
			rec.Adjustments = append(rec.Adjustments, Adjustment{
				At:              now,
				InvoiceID:       inv.ID,
				InvoiceNumber:   inv.Number,
				Reason:          reason,
				Category:        string(it.Category),
				PreviousCovered: prev,
				NewCovered:      cu.TotalCovered,
				AmountChange:    cu.TotalCovered - prev,
			})
			touched = true
		}
		if touched {
			if rec.Totals.InvoiceCount > 0 {
				rec.Totals.InvoiceCount--
			}
		} else {
			// Nothing to back out, but the attempt itself is audit-worthy.
			rec.Adjustments = append(rec.Adjustments, Adjustment{
				At: now, InvoiceID: inv.ID, InvoiceNumber: inv.Number, Reason: reason,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reverse usage for invoice %s: %w", inv.Number, err)
	}
	s.log.Info().Str("invoice", inv.Number).Str("reason", reason).Msg("convention usage reversed")
	return nil
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// RebuildFromInvoices recomputes the aggregate from the invoice ledger,
// the recovery path when counters have drifted. Cancelled and fully
// refunded invoices contribute nothing.
func (s *Service) RebuildFromInvoices(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) (*Record, error) {
	if s.invoices == nil {
		return nil, errs.Validation("no invoice source configured for rebuild")
	}
	invoices, err := s.invoices.ListByCompanyYear(ctx, patientID, companyID, fiscalYear)
	if err != nil {
		return nil, fmt.Errorf("list invoices for rebuild: %w", err)
	}

	rec, err := s.mutate(ctx, patientID, companyID, fiscalYear, func(rec *Record) error {
		prev := rec.Totals.TotalCovered
		rec.Categories = make(map[string]*CategoryUsage)
		rec.Totals = Totals{}
		for _, inv := range invoices {
			if inv.Status == invoice.StatusCancelled || inv.Status == invoice.StatusRefunded {
				continue
			}
			if inv.Company == nil || inv.Company.CompanyID != companyID {
				continue
			}
			applyInvoice(rec, inv)
		}
		rec.Adjustments = append(rec.Adjustments, Adjustment{
			At:              s.now(),
			Reason:          "rebuild",
			PreviousCovered: prev,
			NewCovered:      rec.Totals.TotalCovered,
			AmountChange:    rec.Totals.TotalCovered - prev,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("patient_id", patientID.String()).Str("company_id", companyID.String()).
		Int("fiscal_year", fiscalYear).Int("invoices", len(invoices)).Msg("usage aggregate rebuilt")
	return rec, nil
}
