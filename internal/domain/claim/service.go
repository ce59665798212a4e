package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/pkg/errs"
)

type Service struct {
	repo    Repository
	ledger  InvoiceLedger
	log     zerolog.Logger
	retries int
	now     func() time.Time
}

func NewService(repo Repository, ledger InvoiceLedger, log zerolog.Logger, conflictRetries int) *Service {
	if conflictRetries < 1 {
		conflictRetries = 1
	}
	return &Service{repo: repo, ledger: ledger, log: log, retries: conflictRetries, now: time.Now}
}

type CreateInput struct {
	InvoiceID    uuid.UUID     `json:"invoice_id"`
	PatientID    uuid.UUID     `json:"patient_id"`
	InsurerName  string        `json:"insurer_name"`
	PolicyNumber string        `json:"policy_number,omitempty"`
	ServiceLines []ServiceLine `json:"service_lines"`
	CreatedBy    string        `json:"created_by,omitempty"`
}

// Create opens a draft claim against an invoice's open balance. The total
// claimed can never exceed what the invoice still owes.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Claim, error) {
	if in.InvoiceID == uuid.Nil || in.PatientID == uuid.Nil {
		return nil, errs.Validation("invoice_id and patient_id are required")
	}
	if in.InsurerName == "" {
		return nil, errs.Validation("insurer name is required")
	}
	if len(in.ServiceLines) == 0 {
		return nil, errs.Validation("claim requires at least one service line")
	}

	var charged, claimed int64
	for i := range in.ServiceLines {
		line := &in.ServiceLines[i]
		if line.Quantity <= 0 {
			return nil, errs.Validation(fmt.Sprintf("service line %d: quantity must be positive", i))
		}
		if line.Total < 0 || line.ClaimedAmount < 0 {
			return nil, errs.Validation(fmt.Sprintf("service line %d: amounts must not be negative", i))
		}
		if line.ClaimedAmount == 0 {
			line.ClaimedAmount = line.Total
		}
		if line.ClaimedAmount > line.Total {
			return nil, errs.Validation(fmt.Sprintf("service line %d: claimed amount exceeds line total", i))
		}
		charged += line.Total
		claimed += line.ClaimedAmount
	}

	remaining, err := s.ledger.RemainingBalance(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if claimed > remaining {
		return nil, errs.Validation("claimed amount cannot exceed remaining balance")
	}

	now := s.now()
	c := &Claim{
		ID:           uuid.New(),
		InvoiceID:    in.InvoiceID,
		PatientID:    in.PatientID,
		InsurerName:  in.InsurerName,
		PolicyNumber: in.PolicyNumber,
		ServiceLines: in.ServiceLines,
		Amounts:      Amounts{TotalCharged: charged, TotalClaimed: claimed},
		Status:       StatusDraft,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.ClaimNumber = newClaimNumber(c.ID, now)

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	s.log.Info().Str("claim", c.ClaimNumber).Str("insurer", in.InsurerName).
		Int64("claimed", claimed).Msg("claim created")
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*Claim, error) {
	return s.repo.GetByNumber(ctx, number)
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Claim, error) {
	return s.repo.ListByInvoice(ctx, invoiceID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Claim, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) withRetry(ctx context.Context, id uuid.UUID, mutate func(c *Claim) error) (*Claim, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		c, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(c); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, c); err != nil {
			if errs.IsConflict(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return c, nil
	}
	return nil, lastErr
}

func transitionErr(from, to Status) error {
	return errs.Validation(fmt.Sprintf("cannot move claim from %q to %q", from, to))
}

// MarkPending queues a draft claim for submission without sending it yet.
func (s *Service) MarkPending(ctx context.Context, id uuid.UUID, by string) (*Claim, error) {
	return s.withRetry(ctx, id, func(c *Claim) error {
		if !CanTransition(c.Status, StatusPending) {
			return transitionErr(c.Status, StatusPending)
		}
		c.transition(StatusPending, s.now(), by, "")
		return nil
	})
}

func (s *Service) Submit(ctx context.Context, id uuid.UUID, by string) (*Claim, error) {
	return s.withRetry(ctx, id, func(c *Claim) error {
		if !CanTransition(c.Status, StatusSubmitted) {
			return transitionErr(c.Status, StatusSubmitted)
		}
		now := s.now()
		c.SubmittedAt = &now
		c.transition(StatusSubmitted, now, by, "")
		return nil
	})
}

func (s *Service) StartProcessing(ctx context.Context, id uuid.UUID, by string) (*Claim, error) {
	return s.withRetry(ctx, id, func(c *Claim) error {
		if !CanTransition(c.Status, StatusProcessing) {
			return transitionErr(c.Status, StatusProcessing)
		}
		c.transition(StatusProcessing, s.now(), by, "")
		return nil
	})
}

// Approve records the insurer's decision. An approval below the claimed
// amount lands in partially-approved; whatever the insurer assigns to the
// patient is patient responsibility, the rest of the gap is contractual
// adjustments.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approvedAmount, patientResponsibility int64, by string) (*Claim, error) {
	if approvedAmount <= 0 {
		return nil, errs.Validation("approved amount must be positive")
	}
	if patientResponsibility < 0 {
		return nil, errs.Validation("patient responsibility must not be negative")
	}
	c, err := s.withRetry(ctx, id, func(c *Claim) error {
		if approvedAmount+patientResponsibility > c.Amounts.TotalClaimed {
			return errs.Validation(fmt.Sprintf("approved %d plus patient responsibility %d exceeds claimed %d",
				approvedAmount, patientResponsibility, c.Amounts.TotalClaimed))
		}
		to := StatusApproved
		if approvedAmount < c.Amounts.TotalClaimed {
			to = StatusPartiallyApproved
		}
		if !CanTransition(c.Status, to) {
			return transitionErr(c.Status, to)
		}
		c.Amounts.ApprovedAmount = approvedAmount
		c.Amounts.PatientResponsibility = patientResponsibility
		c.Amounts.Adjustments = c.Amounts.TotalClaimed - approvedAmount - patientResponsibility
		c.Denial = nil
		c.transition(to, s.now(), by, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.sync(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Deny rejects the claim; the whole claimed amount becomes the patient's
// responsibility.
func (s *Service) Deny(ctx context.Context, id uuid.UUID, reason, code, by string) (*Claim, error) {
	if reason == "" {
		return nil, errs.Validation("denial reason is required")
	}
	c, err := s.withRetry(ctx, id, func(c *Claim) error {
		if !CanTransition(c.Status, StatusRejected) {
			return transitionErr(c.Status, StatusRejected)
		}
		now := s.now()
		c.Amounts.PatientResponsibility = c.Amounts.TotalClaimed
		c.Amounts.ApprovedAmount = 0
		c.Denial = &Denial{Reason: reason, Code: code, At: now}
		c.transition(StatusRejected, now, by, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.sync(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkPaid books the insurer's remittance. The paid amount is clamped to
// the approved amount; replaying an identical notification is a no-op apart
// from re-emitting the sync, which the invoice side ignores.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, paidAmount int64, checkNumber, eraNumber, by string) (*Claim, error) {
	if paidAmount <= 0 {
		return nil, errs.Validation("paid amount must be positive")
	}
	var replay bool
	c, err := s.withRetry(ctx, id, func(c *Claim) error {
		effective := paidAmount
		if effective > c.Amounts.ApprovedAmount {
			effective = c.Amounts.ApprovedAmount
		}
		if c.Status == StatusPaid {
			if c.Amounts.PaidAmount == effective {
				replay = true
				return nil
			}
			return errs.Validation("claim is already paid with a different amount")
		}
		if !CanTransition(c.Status, StatusPaid) {
			return transitionErr(c.Status, StatusPaid)
		}
		if paidAmount > c.Amounts.ApprovedAmount {
			s.log.Warn().Str("claim", c.ClaimNumber).Int64("paid", paidAmount).
				Int64("approved", c.Amounts.ApprovedAmount).Msg("remittance exceeds approved amount; clamping")
		}
		c.Amounts.PaidAmount = effective
		c.CheckNumber = checkNumber
		c.ERANumber = eraNumber
		c.transition(StatusPaid, s.now(), by, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay {
		s.log.Info().Str("claim", c.ClaimNumber).Msg("duplicate payment notification ignored")
	}
	if err := s.sync(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// FileAppeal contests a rejection and queues the claim for another review.
func (s *Service) FileAppeal(ctx context.Context, id uuid.UUID, note, by string) (*Claim, error) {
	if note == "" {
		return nil, errs.Validation("appeal note is required")
	}
	return s.withRetry(ctx, id, func(c *Claim) error {
		if !CanTransition(c.Status, StatusAppealed) {
			return transitionErr(c.Status, StatusAppealed)
		}
		now := s.now()
		c.Appeals = append(c.Appeals, Appeal{Note: note, FiledAt: now, FiledBy: by})
		c.transition(StatusAppealed, now, by, note)
		return nil
	})
}

func (s *Service) Close(ctx context.Context, id uuid.UUID, by string) (*Claim, error) {
	return s.withRetry(ctx, id, func(c *Claim) error {
		if !CanTransition(c.Status, StatusClosed) {
			return transitionErr(c.Status, StatusClosed)
		}
		c.transition(StatusClosed, s.now(), by, "")
		return nil
	})
}

// sync mirrors the claim's current outcome onto its invoice.
func (s *Service) sync(ctx context.Context, c *Claim) error {
	adj := Adjudication{
		ClaimNumber:           c.ClaimNumber,
		ApprovedAmount:        c.Amounts.ApprovedAmount,
		PatientResponsibility: c.Amounts.PatientResponsibility,
		Adjustments:           c.Amounts.Adjustments,
		PaidAmount:            c.Amounts.PaidAmount,
		CheckNumber:           c.CheckNumber,
		ERANumber:             c.ERANumber,
	}
	switch c.Status {
	case StatusApproved:
		adj.Outcome = "approved"
	case StatusPartiallyApproved:
		adj.Outcome = "partially-approved"
	case StatusRejected:
		adj.Outcome = "denied"
		if c.Denial != nil {
			adj.DenialReason = c.Denial.Reason
		}
	case StatusPaid:
		adj.Outcome = "paid"
	default:
		return nil
	}
	if err := s.ledger.ApplyAdjudication(ctx, c.InvoiceID, adj); err != nil {
		return fmt.Errorf("sync claim %s to invoice: %w", c.ClaimNumber, err)
	}
	return nil
}

func newClaimNumber(id uuid.UUID, now time.Time) string {
	return fmt.Sprintf("CLM-%d-%s", now.Year(), id.String()[:8])
}
