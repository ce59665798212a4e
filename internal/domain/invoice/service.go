package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/pkg/errs"
)

// UsageRecorder propagates invoice-level convention consumption into the
// per-company usage aggregate. The usage service satisfies this.
type UsageRecorder interface {
	RecordInvoiceUsage(ctx context.Context, inv *Invoice) error
	ReverseInvoiceUsage(ctx context.Context, inv *Invoice, reason string) error
}

// ServiceConfig carries the knobs the service reads from configuration.
type ServiceConfig struct {
	// ConflictRetries bounds reload-and-retry loops on optimistic version
	// conflicts. Minimum 1.
	ConflictRetries int
	// BlockCancelOnUnclearedCheques counts uncleared cheque receipts toward
	// the cancel guard when true; otherwise only cleared money blocks.
	BlockCancelOnUnclearedCheques bool
	DefaultCurrency               string
}

type Service struct {
	repo  Repository
	usage UsageRecorder
	log   zerolog.Logger
	cfg   ServiceConfig
	now   func() time.Time
}

func NewService(repo Repository, usage UsageRecorder, log zerolog.Logger, cfg ServiceConfig) *Service {
	if cfg.ConflictRetries < 1 {
		cfg.ConflictRetries = 1
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "XOF"
	}
	return &Service{repo: repo, usage: usage, log: log, cfg: cfg, now: time.Now}
}

type CreateInput struct {
	PatientID uuid.UUID  `json:"patient_id"`
	VisitID   *uuid.UUID `json:"visit_id,omitempty"`
	ClinicID  *uuid.UUID `json:"clinic_id,omitempty"`
	Currency  string     `json:"currency,omitempty"`
	Items     []Item     `json:"items"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedBy string     `json:"created_by,omitempty"`
}

// Create opens a draft invoice from pre-totaled items. When the invoice is
// tied to a visit, a per-visit invoicing lock guarantees at most one
// concurrent invoicing run per visit.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Invoice, error) {
	if in.PatientID == uuid.Nil {
		return nil, errs.Validation("patient_id is required")
	}
	if len(in.Items) == 0 {
		return nil, errs.Validation("invoice requires at least one item")
	}
	for i, it := range in.Items {
		if err := validateItem(i, it); err != nil {
			return nil, err
		}
		// Items with no split default the full amount to the patient.
		if it.CompanyShare == 0 && it.PatientShare == 0 {
			in.Items[i].PatientShare = it.Total
		}
	}

	if in.VisitID != nil {
		if err := s.repo.AcquireInvoicingLock(ctx, *in.VisitID); err != nil {
			return nil, err
		}
		defer func() {
			if err := s.repo.ReleaseInvoicingLock(ctx, *in.VisitID); err != nil {
				s.log.Error().Err(err).Str("visit_id", in.VisitID.String()).Msg("release invoicing lock")
			}
		}()
	}

	currency := in.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	// Requests arriving through a clinic carry its id on the context.
	if in.ClinicID == nil {
		if raw := db.ClinicFromContext(ctx); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				in.ClinicID = &id
			}
		}
	}

	now := s.now()
	inv := &Invoice{
		ID:        uuid.New(),
		PatientID: in.PatientID,
		VisitID:   in.VisitID,
		ClinicID:  in.ClinicID,
		Currency:  currency,
		Status:    StatusDraft,
		DueDate:   in.DueDate,
		Items:     in.Items,
		Payments:  []Payment{},
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inv.Number = newInvoiceNumber(inv.ID, now)
	inv.Recompute(now)

	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.log.Info().Str("invoice", inv.Number).Str("patient_id", in.PatientID.String()).
		Int64("total", inv.Summary.Total).Msg("invoice created")
	return inv, nil
}

func validateItem(i int, it Item) error {
	if it.Description == "" {
		return errs.Validation(fmt.Sprintf("item %d: description is required", i))
	}
	if !ValidCategory(it.Category) {
		return errs.Validation(fmt.Sprintf("item %d: unknown category %q", i, it.Category))
	}
	if it.Quantity <= 0 {
		return errs.Validation(fmt.Sprintf("item %d: quantity must be positive", i))
	}
	if it.Total < 0 || it.Subtotal < 0 || it.Tax < 0 || it.Discount < 0 {
		return errs.Validation(fmt.Sprintf("item %d: amounts must not be negative", i))
	}
	if it.CompanyShare < 0 || it.PatientShare < 0 {
		return errs.Validation(fmt.Sprintf("item %d: shares must not be negative", i))
	}
	if it.CompanyShare+it.PatientShare != 0 && it.CompanyShare+it.PatientShare != it.Total {
		return errs.Validation(fmt.Sprintf("item %d: company and patient shares must sum to the item total", i))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return s.repo.GetByNumber(ctx, number)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// RemainingBalance is the open amount claims are allowed to target.
func (s *Service) RemainingBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return inv.Summary.AmountDue, nil
}

// withRetry reloads, mutates and compare-and-swaps the invoice, retrying a
// bounded number of times when a concurrent writer wins the version race.
func (s *Service) withRetry(ctx context.Context, id uuid.UUID, mutate func(inv *Invoice) error) (*Invoice, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		inv, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(inv); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, inv); err != nil {
			if errs.IsConflict(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return inv, nil
	}
	return nil, lastErr
}

// Issue moves a draft invoice to issued, stamping the issue date and,
// when none was set at creation, the due date.
func (s *Service) Issue(ctx context.Context, id uuid.UUID, dueDate *time.Time) (*Invoice, error) {
	return s.withRetry(ctx, id, func(inv *Invoice) error {
		if inv.Status != StatusDraft {
			return errs.Validation(fmt.Sprintf("cannot issue invoice in status %q", inv.Status))
		}
		now := s.now()
		inv.Status = StatusIssued
		inv.IssuedAt = &now
		if dueDate != nil {
			inv.DueDate = dueDate
		}
		inv.Recompute(now)
		return nil
	})
}

func (s *Service) MarkSent(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.stageTo(ctx, id, StatusSent, map[Status]bool{StatusIssued: true, StatusOverdue: true})
}

func (s *Service) MarkViewed(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.stageTo(ctx, id, StatusViewed, map[Status]bool{StatusIssued: true, StatusSent: true, StatusOverdue: true})
}

func (s *Service) stageTo(ctx context.Context, id uuid.UUID, to Status, from map[Status]bool) (*Invoice, error) {
	return s.withRetry(ctx, id, func(inv *Invoice) error {
		if !from[inv.Status] {
			return errs.Validation(fmt.Sprintf("cannot move invoice from %q to %q", inv.Status, to))
		}
		inv.Status = to
		inv.Recompute(s.now())
		return nil
	})
}

type PaymentInput struct {
	Amount     int64         `json:"amount"`
	Method     PaymentMethod `json:"method"`
	Reference  string        `json:"reference,omitempty"`
	ReceivedBy string        `json:"received_by,omitempty"`
}

// AddPayment records a receipt against the open balance. Overpayment is
// rejected; issue a separate credit instead.
func (s *Service) AddPayment(ctx context.Context, id uuid.UUID, in PaymentInput) (*Invoice, error) {
	if in.Amount <= 0 {
		return nil, errs.Validation("payment amount must be positive")
	}
	if !ValidMethod(in.Method) {
		return nil, errs.Validation(fmt.Sprintf("unknown payment method %q", in.Method))
	}
	return s.withRetry(ctx, id, func(inv *Invoice) error {
		if inv.Status == StatusCancelled {
			return errs.Validation("cannot record payment on a cancelled invoice")
		}
		if in.Amount > inv.Summary.AmountDue {
			return errs.Validation(fmt.Sprintf("payment %d exceeds amount due %d", in.Amount, inv.Summary.AmountDue))
		}
		now := s.now()
		inv.Payments = append(inv.Payments, Payment{
			PaymentID:  nextPaymentID(inv, "PAY"),
			Amount:     in.Amount,
			Method:     in.Method,
			Date:       now,
			Reference:  in.Reference,
			ReceivedBy: in.ReceivedBy,
			Cleared:    in.Method != MethodCheque,
		})
		inv.Recompute(now)
		return nil
	})
}

// ClearPayment marks a cheque as honored by the bank.
func (s *Service) ClearPayment(ctx context.Context, id uuid.UUID, paymentID string) (*Invoice, error) {
	return s.withRetry(ctx, id, func(inv *Invoice) error {
		for i := range inv.Payments {
			if inv.Payments[i].PaymentID == paymentID {
				inv.Payments[i].Cleared = true
				return nil
			}
		}
		return errs.NotFound(fmt.Sprintf("payment %s not found on invoice", paymentID))
	})
}

// Cancel voids an invoice that has taken no money. Any recorded receipt
// blocks cancellation; depending on policy, uncleared cheques count too.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.withRetry(ctx, id, func(inv *Invoice) error {
		if inv.Status == StatusCancelled {
			return errs.Validation("invoice is already cancelled")
		}
		blocking := inv.GrossPaid()
		if !s.cfg.BlockCancelOnUnclearedCheques {
			blocking = inv.ClearedPaid()
		}
		if blocking > 0 {
			return errs.Validation("Cannot cancel invoice with payments")
		}
		now := s.now()
		inv.Status = StatusCancelled
		inv.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if inv.Company != nil && s.usage != nil {
		if err := s.usage.ReverseInvoiceUsage(ctx, inv, "invoice cancelled"); err != nil {
			s.log.Error().Err(err).Str("invoice", inv.Number).Msg("reverse convention usage after cancel")
			return nil, err
		}
	}
	s.log.Info().Str("invoice", inv.Number).Msg("invoice cancelled")
	return inv, nil
}

type RefundInput struct {
	Amount int64         `json:"amount"`
	Method PaymentMethod `json:"method"`
	Reason string        `json:"reason"`
}

// IssueRefund returns money to the payer as a negative ledger entry. The
// refund can never exceed the net amount paid so far.
func (s *Service) IssueRefund(ctx context.Context, id uuid.UUID, in RefundInput) (*Invoice, error) {
	if in.Amount <= 0 {
		return nil, errs.Validation("refund amount must be positive")
	}
	if in.Reason == "" {
		return nil, errs.Validation("refund reason is required")
	}
	method := in.Method
	if method == "" {
		method = MethodCash
	}
	inv, err := s.withRetry(ctx, id, func(inv *Invoice) error {
		if inv.Status == StatusCancelled {
			return errs.Validation("cannot refund a cancelled invoice")
		}
		if in.Amount > inv.Summary.AmountPaid {
			return errs.Validation(fmt.Sprintf("refund %d exceeds amount paid %d", in.Amount, inv.Summary.AmountPaid))
		}
		now := s.now()
		inv.Payments = append(inv.Payments, Payment{
			PaymentID: nextPaymentID(inv, "REF"),
			Amount:    -in.Amount,
			Method:    method,
			Date:      now,
			Reason:    in.Reason,
			Cleared:   true,
		})
		inv.Recompute(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A full reversal also unwinds the convention usage this invoice consumed.
	if inv.Status == StatusRefunded && inv.Company != nil && s.usage != nil {
		if err := s.usage.ReverseInvoiceUsage(ctx, inv, "invoice refunded"); err != nil {
			s.log.Error().Err(err).Str("invoice", inv.Number).Msg("reverse convention usage after refund")
			return nil, err
		}
	}
	s.log.Info().Str("invoice", inv.Number).Int64("amount", in.Amount).Msg("refund issued")
	return inv, nil
}

// SendReminder appends a dunning entry. Reminders never change amounts.
func (s *Service) SendReminder(ctx context.Context, id uuid.UUID, channel, note string) (*Invoice, error) {
	if channel == "" {
		channel = "email"
	}
	return s.withRetry(ctx, id, func(inv *Invoice) error {
		if inv.Status.Terminal() {
			return errs.Validation(fmt.Sprintf("cannot send reminder for %q invoice", inv.Status))
		}
		if inv.Summary.AmountDue <= 0 {
			return errs.Validation("invoice has no outstanding balance")
		}
		inv.Reminders = append(inv.Reminders, Reminder{SentAt: s.now(), Channel: channel, Note: note})
		return nil
	})
}

// ItemShare is the per-line outcome of a convention settlement, aligned by
// index with the invoice's items.
type ItemShare struct {
	EffectiveTotal int64 `json:"effective_total"`
	DiscountDelta  int64 `json:"discount_delta"`
	CompanyShare   int64 `json:"company_share"`
	PatientShare   int64 `json:"patient_share"`
	NeedsApproval  bool  `json:"needs_approval"`
	CappedByBudget bool  `json:"capped_by_budget"`
}

type CompanySplit struct {
	CompanyID       uuid.UUID
	CoveragePct     float64
	Items           []ItemShare
	CompanyShare    int64
	PatientShare    int64
	ApprovalPending bool
	CappedByBudget  bool
}

// ApplyCompanySplit writes a settlement result onto the invoice and records
// the consumed budget in the usage aggregate.
func (s *Service) ApplyCompanySplit(ctx context.Context, id uuid.UUID, split CompanySplit) (*Invoice, error) {
	if split.CompanyID == uuid.Nil {
		return nil, errs.Validation("company_id is required")
	}
	inv, err := s.withRetry(ctx, id, func(inv *Invoice) error {
		if inv.Status.Terminal() {
			return errs.Validation(fmt.Sprintf("cannot apply convention to %q invoice", inv.Status))
		}
		if inv.Summary.AmountPaid != 0 {
			return errs.Validation("cannot apply convention after payments were recorded")
		}
		if len(split.Items) != len(inv.Items) {
			return errs.Validation("settlement result does not match invoice items")
		}
		for i, sh := range split.Items {
			if sh.CompanyShare+sh.PatientShare != sh.EffectiveTotal {
				return errs.Validation(fmt.Sprintf("item %d: shares do not sum to the effective total", i))
			}
			it := &inv.Items[i]
			if sh.DiscountDelta > 0 {
				it.Discount += sh.DiscountDelta
			}
			it.Total = sh.EffectiveTotal
			it.CompanyShare = sh.CompanyShare
			it.PatientShare = sh.PatientShare
			it.NeedsApproval = sh.NeedsApproval
		}
		now := s.now()
		inv.Company = &CompanyBilling{
			CompanyID:       split.CompanyID,
			CoveragePct:     split.CoveragePct,
			CompanyShare:    split.CompanyShare,
			PatientShare:    split.PatientShare,
			InvoiceStatus:   "pending",
			ApprovalPending: split.ApprovalPending,
			CappedByBudget:  split.CappedByBudget,
			AppliedAt:       now,
		}
		inv.Recompute(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.usage != nil && inv.Summary.CompanyShare > 0 {
		if err := s.usage.RecordInvoiceUsage(ctx, inv); err != nil {
			s.log.Error().Err(err).Str("invoice", inv.Number).Msg("record convention usage")
			return nil, err
		}
	}
	s.log.Info().Str("invoice", inv.Number).Str("company_id", split.CompanyID.String()).
		Int64("company_share", inv.Summary.CompanyShare).Msg("convention split applied")
	return inv, nil
}

// ClaimAdjudication is the insurer outcome pushed onto the invoice by the
// claims module.
type ClaimAdjudication struct {
	ClaimNumber           string
	Outcome               string // approved | partially-approved | denied | paid
	ApprovedAmount        int64
	PatientResponsibility int64
	Adjustments           int64
	PaidAmount            int64
	CheckNumber           string
	ERANumber             string
	DenialReason          string
}

// ApplyClaimAdjudication mirrors a claim outcome onto the invoice. A "paid"
// outcome posts an insurer payment capped at the open balance; replaying the
// same claim number is a no-op.
func (s *Service) ApplyClaimAdjudication(ctx context.Context, id uuid.UUID, adj ClaimAdjudication) (*Invoice, error) {
	if adj.ClaimNumber == "" {
		return nil, errs.Validation("claim number is required")
	}
	return s.withRetry(ctx, id, func(inv *Invoice) error {
		if inv.Status == StatusCancelled {
			return errs.Validation("cannot adjudicate a cancelled invoice")
		}
		now := s.now()
		inv.Insurance = &InsuranceSummary{
			ClaimNumber:           adj.ClaimNumber,
			Outcome:               adj.Outcome,
			ApprovedAmount:        adj.ApprovedAmount,
			PatientResponsibility: adj.PatientResponsibility,
			Adjustments:           adj.Adjustments,
			DenialReason:          adj.DenialReason,
			UpdatedAt:             now,
		}

		if adj.Outcome == "paid" && adj.PaidAmount > 0 {
			ref := "claim:" + adj.ClaimNumber
			if inv.HasPaymentReferencing(ref) {
				// Already posted; repeated notifications are harmless.
				inv.Recompute(now)
				return nil
			}
			effective := adj.PaidAmount
			if effective > inv.Summary.AmountDue {
				effective = inv.Summary.AmountDue
				s.log.Warn().Str("invoice", inv.Number).Str("claim", adj.ClaimNumber).
					Int64("paid", adj.PaidAmount).Int64("due", inv.Summary.AmountDue).
					Msg("insurer payment exceeds open balance; surplus needs manual reconciliation")
			}
			if effective > 0 {
				if adj.CheckNumber != "" {
					ref += " chk:" + adj.CheckNumber
				}
				if adj.ERANumber != "" {
					ref += " era:" + adj.ERANumber
				}
				inv.Payments = append(inv.Payments, Payment{
					PaymentID: nextPaymentID(inv, "INS"),
					Amount:    effective,
					Method:    MethodInsurance,
					Date:      now,
					Reference: ref,
					Cleared:   true,
				})
			}
		}
		inv.Recompute(now)
		return nil
	})
}

func nextPaymentID(inv *Invoice, prefix string) string {
	n := 0
	for _, p := range inv.Payments {
		if len(p.PaymentID) > len(prefix) && p.PaymentID[:len(prefix)] == prefix {
			n++
		}
	}
	return fmt.Sprintf("%s-%s-%03d", prefix, inv.Number, n+1)
}

func newInvoiceNumber(id uuid.UUID, now time.Time) string {
	short := id.String()[:8]
	return fmt.Sprintf("INV-%d-%s", now.Year(), short)
}
