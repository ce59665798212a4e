package claim

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/pkg/errs"
)

type mockRepo struct {
	claims map[uuid.UUID]*Claim

	forceConflicts int
}

func newMockRepo() *mockRepo {
	return &mockRepo{claims: make(map[uuid.UUID]*Claim)}
}

func cloneClaim(c *Claim) *Claim {
	cp := *c
	cp.ServiceLines = append([]ServiceLine(nil), c.ServiceLines...)
	cp.StatusHistory = append([]StatusChange(nil), c.StatusHistory...)
	cp.Appeals = append([]Appeal(nil), c.Appeals...)
	if c.Denial != nil {
		d := *c.Denial
		cp.Denial = &d
	}
	return &cp
}

func (m *mockRepo) Create(ctx context.Context, c *Claim) error {
	c.Version = 1
	m.claims[c.ID] = cloneClaim(c)
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, ok := m.claims[id]
	if !ok {
		return nil, errs.NotFound("claim not found")
	}
	return cloneClaim(c), nil
}

func (m *mockRepo) GetByNumber(ctx context.Context, number string) (*Claim, error) {
	for _, c := range m.claims {
		if c.ClaimNumber == number {
			return cloneClaim(c), nil
		}
	}
	return nil, errs.NotFound("claim not found")
}

func (m *mockRepo) Update(ctx context.Context, c *Claim) error {
	if m.forceConflicts > 0 {
		m.forceConflicts--
		return errs.Conflict("claim was modified concurrently")
	}
	stored, ok := m.claims[c.ID]
	if !ok {
		return errs.NotFound("claim not found")
	}
	if stored.Version != c.Version {
		return errs.Conflict("claim was modified concurrently")
	}
	c.Version++
	m.claims[c.ID] = cloneClaim(c)
	return nil
}

func (m *mockRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Claim, error) {
	var out []*Claim
	for _, c := range m.claims {
		if c.InvoiceID == invoiceID {
			out = append(out, cloneClaim(c))
		}
	}
	return out, nil
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Claim, int, error) {
	var out []*Claim
	for _, c := range m.claims {
		if c.PatientID == patientID {
			out = append(out, cloneClaim(c))
		}
	}
	return out, len(out), nil
}

// mockLedger plays the invoice side of the adjudication events.
type mockLedger struct {
	balance int64
	events  []Adjudication
}

func (m *mockLedger) RemainingBalance(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	return m.balance, nil
}

func (m *mockLedger) ApplyAdjudication(ctx context.Context, invoiceID uuid.UUID, adj Adjudication) error {
	m.events = append(m.events, adj)
	return nil
}

func newTestService(ledger *mockLedger) (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, ledger, zerolog.Nop(), 3)
	svc.now = func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo
}

func line(code string, total int64) ServiceLine {
	return ServiceLine{Code: code, Description: code, Quantity: 1, UnitPrice: total, Total: total}
}

func validInput() CreateInput {
	return CreateInput{
		InvoiceID:   uuid.New(),
		PatientID:   uuid.New(),
		InsurerName: "NSIA Assurances",
		ServiceLines: []ServiceLine{
			line("CONS-01", 75000),
			line("EXAM-01", 50000),
		},
	}
}

func TestCreateClaimValidation(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, _ := newTestService(ledger)
	ctx := context.Background()

	in := validInput()
	in.InsurerName = ""
	if _, err := svc.Create(ctx, in); !errs.IsValidation(err) {
		t.Errorf("missing insurer: %v", err)
	}

	in = validInput()
	in.ServiceLines = nil
	if _, err := svc.Create(ctx, in); !errs.IsValidation(err) {
		t.Errorf("no lines: %v", err)
	}

	in = validInput()
	in.ServiceLines[0].ClaimedAmount = 80000
	if _, err := svc.Create(ctx, in); !errs.IsValidation(err) {
		t.Errorf("claimed above line total: %v", err)
	}
}

// A claim can never target more than the invoice still owes.
func TestCreateClaimAgainstRemainingBalance(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, _ := newTestService(ledger)
	ctx := context.Background()

	in := validInput()
	in.ServiceLines = []ServiceLine{line("SURG-01", 200000)}
	_, err := svc.Create(ctx, in)
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err.Error() != "claimed amount cannot exceed remaining balance" {
		t.Errorf("message = %q", err.Error())
	}

	in = validInput()
	c, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusDraft || c.Amounts.TotalClaimed != 125000 || c.Amounts.TotalCharged != 125000 {
		t.Fatalf("claim = %+v", c.Amounts)
	}
}

func TestClaimLifecycle(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, _ := newTestService(ledger)
	ctx := context.Background()

	c, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}

	// Approving a draft claim violates the state machine.
	if _, err := svc.Approve(ctx, c.ID, 100000, 0, "adjuster"); !errs.IsValidation(err) {
		t.Fatalf("approve from draft: %v", err)
	}

	c, err = svc.Submit(ctx, c.ID, "billing.clerk")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusSubmitted || c.SubmittedAt == nil {
		t.Fatalf("after submit: %+v", c.Status)
	}

	c, _ = svc.StartProcessing(ctx, c.ID, "")
	c, err = svc.Approve(ctx, c.ID, 100000, 0, "adjuster")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusPartiallyApproved {
		t.Fatalf("status = %q, want partially-approved below claimed", c.Status)
	}
	if c.Amounts.ApprovedAmount != 100000 || c.Amounts.Adjustments != 25000 {
		t.Fatalf("amounts = %+v", c.Amounts)
	}
	if len(ledger.events) != 1 || ledger.events[0].Outcome != "partially-approved" {
		t.Fatalf("events = %+v", ledger.events)
	}

	c, err = svc.MarkPaid(ctx, c.ID, 100000, "CHK-42", "ERA-7", "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusPaid || c.Amounts.PaidAmount != 100000 || c.CheckNumber != "CHK-42" {
		t.Fatalf("after payment: %+v", c)
	}
	if ledger.events[len(ledger.events)-1].Outcome != "paid" {
		t.Fatalf("last event = %+v", ledger.events[len(ledger.events)-1])
	}

	c, err = svc.Close(ctx, c.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusClosed {
		t.Fatalf("status = %q", c.Status)
	}
	if len(c.StatusHistory) != 5 {
		t.Errorf("history entries = %d, want 5", len(c.StatusHistory))
	}
}

func TestPendingQueuesBeforeSubmission(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, _ := newTestService(ledger)
	ctx := context.Background()

	c, _ := svc.Create(ctx, validInput())
	c, err := svc.MarkPending(ctx, c.ID, "billing.clerk")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusPending {
		t.Fatalf("status = %q", c.Status)
	}

	// Pending claims cannot be adjudicated, only submitted.
	if _, err := svc.StartProcessing(ctx, c.ID, ""); !errs.IsValidation(err) {
		t.Fatalf("process from pending: %v", err)
	}
	c, err = svc.Submit(ctx, c.ID, "billing.clerk")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusSubmitted || c.SubmittedAt == nil {
		t.Fatalf("after submit: %+v", c.Status)
	}

	// A submitted claim cannot be queued again.
	if _, err := svc.MarkPending(ctx, c.ID, ""); !errs.IsValidation(err) {
		t.Fatalf("pend after submit: %v", err)
	}
}

func TestApproveWithPatientResponsibility(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, _ := newTestService(ledger)
	ctx := context.Background()

	c, _ := svc.Create(ctx, validInput())
	c, _ = svc.Submit(ctx, c.ID, "")
	c, _ = svc.StartProcessing(ctx, c.ID, "")

	// Approved plus responsibility can never exceed the claimed total.
	if _, err := svc.Approve(ctx, c.ID, 100000, 30000, "adjuster"); !errs.IsValidation(err) {
		t.Fatalf("overcommitted approval: %v", err)
	}
	if _, err := svc.Approve(ctx, c.ID, 100000, -1, "adjuster"); !errs.IsValidation(err) {
		t.Fatalf("negative responsibility: %v", err)
	}

	// 125000 claimed = 100000 insurer + 20000 copay + 5000 written off.
	c, err := svc.Approve(ctx, c.ID, 100000, 20000, "adjuster")
	if err != nil {
		t.Fatal(err)
	}
	if c.Amounts.PatientResponsibility != 20000 || c.Amounts.Adjustments != 5000 {
		t.Fatalf("amounts = %+v", c.Amounts)
	}
	ev := ledger.events[len(ledger.events)-1]
	if ev.PatientResponsibility != 20000 || ev.ApprovedAmount != 100000 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestMarkPaidIdempotent(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, _ := newTestService(ledger)
	ctx := context.Background()

	c, _ := svc.Create(ctx, validInput())
	c, _ = svc.Submit(ctx, c.ID, "")
	c, _ = svc.StartProcessing(ctx, c.ID, "")
	c, _ = svc.Approve(ctx, c.ID, 125000, 0, "")
	c, err := svc.MarkPaid(ctx, c.ID, 125000, "CHK-1", "", "")
	if err != nil {
		t.Fatal(err)
	}

	// Duplicate remittance notification: same amount, no state change, event
	// re-emitted for the invoice side to ignore.
	events := len(ledger.events)
	c2, err := svc.MarkPaid(ctx, c.ID, 125000, "CHK-1", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if c2.Amounts.PaidAmount != 125000 || c2.Status != StatusPaid {
		t.Fatalf("replay changed state: %+v", c2.Amounts)
	}
	if len(ledger.events) != events+1 {
		t.Errorf("replay should re-emit the sync event")
	}

	// Different amount is a real inconsistency, not a replay.
	if _, err := svc.MarkPaid(ctx, c.ID, 100000, "CHK-2", "", ""); !errs.IsValidation(err) {
		t.Fatalf("conflicting repeat payment: %v", err)
	}
}

func TestMarkPaidClampsToApproved(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, _ := newTestService(ledger)
	ctx := context.Background()

	c, _ := svc.Create(ctx, validInput())
	c, _ = svc.Submit(ctx, c.ID, "")
	c, _ = svc.StartProcessing(ctx, c.ID, "")
	c, _ = svc.Approve(ctx, c.ID, 80000, 0, "")

	c, err := svc.MarkPaid(ctx, c.ID, 90000, "CHK-9", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Amounts.PaidAmount != 80000 {
		t.Fatalf("paid = %d, want clamp at approved 80000", c.Amounts.PaidAmount)
	}
}

func TestDenyAndAppeal(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, _ := newTestService(ledger)
	ctx := context.Background()

	c, _ := svc.Create(ctx, validInput())
	c, _ = svc.Submit(ctx, c.ID, "")
	c, _ = svc.StartProcessing(ctx, c.ID, "")

	if _, err := svc.Deny(ctx, c.ID, "", "", ""); !errs.IsValidation(err) {
		t.Fatalf("denial without reason: %v", err)
	}
	c, err := svc.Deny(ctx, c.ID, "service not covered by policy", "CO-96", "adjuster")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusRejected || c.Denial == nil || c.Amounts.PatientResponsibility != 125000 {
		t.Fatalf("after denial: %+v", c)
	}
	if last := ledger.events[len(ledger.events)-1]; last.Outcome != "denied" || last.DenialReason == "" {
		t.Fatalf("denial event = %+v", last)
	}

	c, err = svc.FileAppeal(ctx, c.ID, "coverage confirmed by policy rider 12", "billing.clerk")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusAppealed || len(c.Appeals) != 1 {
		t.Fatalf("after appeal: %+v", c)
	}

	// An appealed claim re-enters processing and can be approved.
	c, _ = svc.StartProcessing(ctx, c.ID, "")
	c, err = svc.Approve(ctx, c.ID, 125000, 0, "adjuster")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusApproved || c.Denial != nil {
		t.Fatalf("after re-approval: status=%q denial=%+v", c.Status, c.Denial)
	}
}

func TestConflictRetry(t *testing.T) {
	ledger := &mockLedger{balance: 125000}
	svc, repo := newTestService(ledger)
	ctx := context.Background()

	c, _ := svc.Create(ctx, validInput())
	repo.forceConflicts = 2
	if _, err := svc.Submit(ctx, c.ID, ""); err != nil {
		t.Fatalf("two conflicts within three retries should succeed, got %v", err)
	}

	c2, _ := svc.Create(ctx, validInput())
	repo.forceConflicts = 3
	if _, err := svc.Submit(ctx, c2.ID, ""); !errs.IsConflict(err) {
		t.Fatalf("exhausted retries should surface conflict, got %v", err)
	}
}
