package invoice

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/pkg/errs"
)

type mockRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
	locks    map[uuid.UUID]bool

	// forceConflicts makes the next N Update calls fail with a version
	// conflict.
	forceConflicts int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		locks:    make(map[uuid.UUID]bool),
	}
}

func cloneInvoice(inv *Invoice) *Invoice {
	cp := *inv
	cp.Items = append([]Item(nil), inv.Items...)
	cp.Payments = append([]Payment(nil), inv.Payments...)
	cp.Reminders = append([]Reminder(nil), inv.Reminders...)
	if inv.Company != nil {
		c := *inv.Company
		cp.Company = &c
	}
	if inv.Insurance != nil {
		i := *inv.Insurance
		cp.Insurance = &i
	}
	return &cp
}

func (m *mockRepo) Create(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.Version = 1
	m.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, errs.NotFound("invoice not found")
	}
	return cloneInvoice(inv), nil
}

func (m *mockRepo) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.Number == number {
			return cloneInvoice(inv), nil
		}
	}
	return nil, errs.NotFound("invoice not found")
}

func (m *mockRepo) Update(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forceConflicts > 0 {
		m.forceConflicts--
		return errs.Conflict("invoice was modified concurrently")
	}
	stored, ok := m.invoices[inv.ID]
	if !ok {
		return errs.NotFound("invoice not found")
	}
	if stored.Version != inv.Version {
		return errs.Conflict("invoice was modified concurrently")
	}
	inv.Version++
	m.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.PatientID == patientID {
			out = append(out, cloneInvoice(inv))
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByCompanyYear(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) ([]*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.PatientID == patientID && inv.Company != nil && inv.Company.CompanyID == companyID && inv.CreatedAt.Year() == fiscalYear {
			out = append(out, cloneInvoice(inv))
		}
	}
	return out, nil
}

func (m *mockRepo) AcquireInvoicingLock(ctx context.Context, visitID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[visitID] {
		return errs.Conflict("invoicing already in progress for visit")
	}
	m.locks[visitID] = true
	return nil
}

func (m *mockRepo) ReleaseInvoicingLock(ctx context.Context, visitID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, visitID)
	return nil
}

type mockUsage struct {
	recorded []*Invoice
	reversed []string
}

func (m *mockUsage) RecordInvoiceUsage(ctx context.Context, inv *Invoice) error {
	m.recorded = append(m.recorded, inv)
	return nil
}

func (m *mockUsage) ReverseInvoiceUsage(ctx context.Context, inv *Invoice, reason string) error {
	m.reversed = append(m.reversed, reason)
	return nil
}

func newTestService(repo *mockRepo, usage UsageRecorder) *Service {
	svc := NewService(repo, usage, zerolog.Nop(), ServiceConfig{
		ConflictRetries:               3,
		BlockCancelOnUnclearedCheques: true,
		DefaultCurrency:               "XOF",
	})
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC) }
	return svc
}

func consultation(total int64) Item {
	return Item{
		Description: "General consultation",
		Category:    CategoryConsultation,
		Quantity:    1,
		UnitPrice:   total,
		Subtotal:    total,
		Total:       total,
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{Items: []Item{consultation(1000)}}); !errs.IsValidation(err) {
		t.Fatalf("expected validation error for missing patient, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{PatientID: uuid.New()}); !errs.IsValidation(err) {
		t.Fatalf("expected validation error for empty items, got %v", err)
	}

	bad := consultation(1000)
	bad.CompanyShare = 600
	bad.PatientShare = 300
	if _, err := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{bad}}); !errs.IsValidation(err) {
		t.Fatalf("expected validation error for share mismatch, got %v", err)
	}
}

func TestCreateDefaultsPatientShare(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	inv, err := svc.Create(context.Background(), CreateInput{
		PatientID: uuid.New(),
		Items:     []Item{consultation(25000)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusDraft {
		t.Errorf("status = %q, want draft", inv.Status)
	}
	if inv.Summary.Total != 25000 || inv.Summary.AmountDue != 25000 {
		t.Errorf("summary = %+v", inv.Summary)
	}
	if inv.Items[0].PatientShare != 25000 || inv.Items[0].CompanyShare != 0 {
		t.Errorf("default split = company %d / patient %d", inv.Items[0].CompanyShare, inv.Items[0].PatientShare)
	}
	if inv.Currency != "XOF" {
		t.Errorf("currency = %q, want default XOF", inv.Currency)
	}
	if !strings.HasPrefix(inv.Number, "INV-2025-") {
		t.Errorf("number = %q", inv.Number)
	}
}

func TestCreateDefaultsClinicFromContext(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	clinicID := uuid.New()
	ctx := db.WithClinic(context.Background(), clinicID.String())

	inv, err := svc.Create(ctx, CreateInput{
		PatientID: uuid.New(),
		Items:     []Item{consultation(25000)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if inv.ClinicID == nil || *inv.ClinicID != clinicID {
		t.Errorf("clinic = %v, want %s from request scope", inv.ClinicID, clinicID)
	}

	// An explicit clinic on the input wins over the request scope.
	explicit := uuid.New()
	inv, err = svc.Create(ctx, CreateInput{
		PatientID: uuid.New(),
		ClinicID:  &explicit,
		Items:     []Item{consultation(25000)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if inv.ClinicID == nil || *inv.ClinicID != explicit {
		t.Errorf("clinic = %v, want explicit %s", inv.ClinicID, explicit)
	}
}

func TestInvoicingLockPerVisit(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil)
	visitID := uuid.New()

	// Simulate another invoicing run holding the lock.
	if err := repo.AcquireInvoicingLock(context.Background(), visitID); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Create(context.Background(), CreateInput{
		PatientID: uuid.New(),
		VisitID:   &visitID,
		Items:     []Item{consultation(1000)},
	})
	if !errs.IsConflict(err) {
		t.Fatalf("expected conflict while lock is held, got %v", err)
	}

	// Released lock allows invoicing, and the run releases it afterwards.
	if err := repo.ReleaseInvoicingLock(context.Background(), visitID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{
		PatientID: uuid.New(),
		VisitID:   &visitID,
		Items:     []Item{consultation(1000)},
	}); err != nil {
		t.Fatal(err)
	}
	if repo.locks[visitID] {
		t.Error("lock not released after invoicing")
	}
}

func TestPaymentLifecycle(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(50000)}})
	if err != nil {
		t.Fatal(err)
	}
	if inv, err = svc.Issue(ctx, inv.ID, nil); err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusIssued {
		t.Fatalf("status = %q, want issued", inv.Status)
	}

	inv, err = svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 20000, Method: MethodCash})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusPartial || inv.Summary.AmountDue != 30000 {
		t.Fatalf("after partial payment: status=%q due=%d", inv.Status, inv.Summary.AmountDue)
	}

	if _, err := svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 30001, Method: MethodCash}); !errs.IsValidation(err) {
		t.Fatalf("expected overpayment rejection, got %v", err)
	}

	inv, err = svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 30000, Method: MethodCard})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusPaid || inv.Summary.AmountDue != 0 {
		t.Fatalf("after full payment: status=%q due=%d", inv.Status, inv.Summary.AmountDue)
	}
	if len(inv.Payments) != 2 {
		t.Fatalf("payments = %d, want 2", len(inv.Payments))
	}
}

func TestOverdueDerivation(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	ctx := context.Background()

	past := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	inv, err := svc.Create(ctx, CreateInput{
		PatientID: uuid.New(),
		Items:     []Item{consultation(10000)},
		DueDate:   &past,
	})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusDraft {
		t.Fatalf("draft invoices never go overdue, got %q", inv.Status)
	}

	inv, err = svc.Issue(ctx, inv.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusOverdue {
		t.Fatalf("status = %q, want overdue", inv.Status)
	}
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	if !inv.IsOverdue(now) || inv.DaysOverdue(now) != 45 {
		t.Errorf("IsOverdue=%v DaysOverdue=%d", inv.IsOverdue(now), inv.DaysOverdue(now))
	}

	// Partial payment supersedes overdue.
	inv, err = svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 1000, Method: MethodCash})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusPartial {
		t.Errorf("status = %q, want partial", inv.Status)
	}
}

func TestCancelGuards(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	ctx := context.Background()

	inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})
	inv, _ = svc.Issue(ctx, inv.ID, nil)
	if _, err := svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 5000, Method: MethodCash}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Cancel(ctx, inv.ID)
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err.Error() != "Cannot cancel invoice with payments" {
		t.Errorf("message = %q", err.Error())
	}

	clean, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})
	clean, err = svc.Cancel(ctx, clean.ID)
	if err != nil {
		t.Fatal(err)
	}
	if clean.Status != StatusCancelled || clean.CancelledAt == nil {
		t.Errorf("status = %q, cancelledAt = %v", clean.Status, clean.CancelledAt)
	}
	if _, err := svc.Cancel(ctx, clean.ID); !errs.IsValidation(err) {
		t.Errorf("double cancel should fail, got %v", err)
	}
}

func TestCancelUnclearedChequePolicy(t *testing.T) {
	ctx := context.Background()

	setup := func(block bool) (*Service, uuid.UUID) {
		repo := newMockRepo()
		svc := NewService(repo, nil, zerolog.Nop(), ServiceConfig{
			ConflictRetries:               3,
			BlockCancelOnUnclearedCheques: block,
		})
		inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})
		inv, _ = svc.Issue(ctx, inv.ID, nil)
		if _, err := svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 5000, Method: MethodCheque}); err != nil {
			t.Fatal(err)
		}
		return svc, inv.ID
	}

	svc, id := setup(true)
	if _, err := svc.Cancel(ctx, id); !errs.IsValidation(err) {
		t.Errorf("strict policy should block cancel on uncleared cheque, got %v", err)
	}

	svc, id = setup(false)
	if _, err := svc.Cancel(ctx, id); err != nil {
		t.Errorf("lenient policy should allow cancel on uncleared cheque, got %v", err)
	}
}

func TestRefunds(t *testing.T) {
	repo := newMockRepo()
	usage := &mockUsage{}
	svc := newTestService(repo, usage)
	ctx := context.Background()

	inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(20000)}})
	inv, _ = svc.Issue(ctx, inv.ID, nil)
	inv, _ = svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 20000, Method: MethodCash})

	if _, err := svc.IssueRefund(ctx, inv.ID, RefundInput{Amount: 25000, Reason: "duplicate charge"}); !errs.IsValidation(err) {
		t.Fatalf("refund above paid amount must fail, got %v", err)
	}
	if _, err := svc.IssueRefund(ctx, inv.ID, RefundInput{Amount: 5000}); !errs.IsValidation(err) {
		t.Fatalf("refund without reason must fail, got %v", err)
	}

	inv, err := svc.IssueRefund(ctx, inv.ID, RefundInput{Amount: 5000, Reason: "billing error"})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusPartial || inv.Summary.AmountPaid != 15000 || inv.Summary.AmountDue != 5000 {
		t.Fatalf("after partial refund: status=%q summary=%+v", inv.Status, inv.Summary)
	}
	if !strings.HasPrefix(inv.Payments[1].PaymentID, "REF-") || inv.Payments[1].Amount != -5000 {
		t.Errorf("refund entry = %+v", inv.Payments[1])
	}

	inv, err = svc.IssueRefund(ctx, inv.ID, RefundInput{Amount: 15000, Reason: "visit voided"})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != StatusRefunded {
		t.Fatalf("status = %q, want refunded", inv.Status)
	}
}

func TestApplyCompanySplit(t *testing.T) {
	repo := newMockRepo()
	usage := &mockUsage{}
	svc := newTestService(repo, usage)
	ctx := context.Background()

	inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})
	companyID := uuid.New()

	_, err := svc.ApplyCompanySplit(ctx, inv.ID, CompanySplit{
		CompanyID: companyID,
		Items:     []ItemShare{{EffectiveTotal: 10000, CompanyShare: 7000, PatientShare: 2000}},
	})
	if !errs.IsValidation(err) {
		t.Fatalf("mismatched shares must fail, got %v", err)
	}

	inv, err = svc.ApplyCompanySplit(ctx, inv.ID, CompanySplit{
		CompanyID:    companyID,
		CoveragePct:  80,
		Items:        []ItemShare{{EffectiveTotal: 10000, CompanyShare: 8000, PatientShare: 2000}},
		CompanyShare: 8000,
		PatientShare: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Summary.CompanyShare != 8000 || inv.Summary.PatientShare != 2000 {
		t.Fatalf("summary shares = %+v", inv.Summary)
	}
	if inv.Company == nil || inv.Company.InvoiceStatus != "pending" {
		t.Fatalf("company billing = %+v", inv.Company)
	}
	if len(usage.recorded) != 1 {
		t.Fatalf("usage recorded %d times, want 1", len(usage.recorded))
	}

	// A settlement discount shrinks the effective total.
	inv2, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})
	inv2, err = svc.ApplyCompanySplit(ctx, inv2.ID, CompanySplit{
		CompanyID:    companyID,
		CoveragePct:  50,
		Items:        []ItemShare{{EffectiveTotal: 9000, DiscountDelta: 1000, CompanyShare: 4500, PatientShare: 4500}},
		CompanyShare: 4500,
		PatientShare: 4500,
	})
	if err != nil {
		t.Fatal(err)
	}
	if inv2.Summary.Total != 9000 || inv2.Items[0].Discount != 1000 {
		t.Fatalf("discounted total = %d, discount = %d", inv2.Summary.Total, inv2.Items[0].Discount)
	}
}

func TestCancelReversesUsage(t *testing.T) {
	repo := newMockRepo()
	usage := &mockUsage{}
	svc := newTestService(repo, usage)
	ctx := context.Background()

	inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})
	inv, err := svc.ApplyCompanySplit(ctx, inv.ID, CompanySplit{
		CompanyID:    uuid.New(),
		CoveragePct:  100,
		Items:        []ItemShare{{EffectiveTotal: 10000, CompanyShare: 10000}},
		CompanyShare: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Cancel(ctx, inv.ID); err != nil {
		t.Fatal(err)
	}
	if len(usage.reversed) != 1 || usage.reversed[0] != "invoice cancelled" {
		t.Fatalf("reversals = %v", usage.reversed)
	}
}

func TestClaimAdjudicationIdempotent(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	ctx := context.Background()

	inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(100000)}})
	inv, _ = svc.Issue(ctx, inv.ID, nil)

	adj := ClaimAdjudication{
		ClaimNumber: "CLM-2025-0001",
		Outcome:     "paid",
		PaidAmount:  60000,
		CheckNumber: "CHK-881",
	}
	inv, err := svc.ApplyClaimAdjudication(ctx, inv.ID, adj)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Summary.AmountPaid != 60000 || inv.Status != StatusPartial {
		t.Fatalf("after first sync: paid=%d status=%q", inv.Summary.AmountPaid, inv.Status)
	}
	if inv.Payments[0].Method != MethodInsurance {
		t.Errorf("method = %q", inv.Payments[0].Method)
	}

	// Replaying the same adjudication must not double-post.
	inv, err = svc.ApplyClaimAdjudication(ctx, inv.ID, adj)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Summary.AmountPaid != 60000 || len(inv.Payments) != 1 {
		t.Fatalf("after replay: paid=%d payments=%d", inv.Summary.AmountPaid, len(inv.Payments))
	}
}

func TestClaimPaymentClampedToBalance(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	ctx := context.Background()

	inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(50000)}})
	inv, _ = svc.Issue(ctx, inv.ID, nil)
	inv, _ = svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 30000, Method: MethodCash})

	inv, err := svc.ApplyClaimAdjudication(ctx, inv.ID, ClaimAdjudication{
		ClaimNumber: "CLM-2025-0002",
		Outcome:     "paid",
		PaidAmount:  40000, // only 20000 open
	})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Summary.AmountPaid != 50000 || inv.Status != StatusPaid {
		t.Fatalf("paid=%d status=%q, surplus must be clamped", inv.Summary.AmountPaid, inv.Status)
	}
}

func TestConflictRetry(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})

	repo.forceConflicts = 2
	if _, err := svc.Issue(ctx, inv.ID, nil); err != nil {
		t.Fatalf("two conflicts within three retries should succeed, got %v", err)
	}

	inv2, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})
	repo.forceConflicts = 3
	if _, err := svc.Issue(ctx, inv2.ID, nil); !errs.IsConflict(err) {
		t.Fatalf("exhausted retries should surface the conflict, got %v", err)
	}
}

func TestReminderGuards(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)
	ctx := context.Background()

	inv, _ := svc.Create(ctx, CreateInput{PatientID: uuid.New(), Items: []Item{consultation(10000)}})
	inv, _ = svc.Issue(ctx, inv.ID, nil)

	inv, err := svc.SendReminder(ctx, inv.ID, "", "first notice")
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.Reminders) != 1 || inv.Reminders[0].Channel != "email" {
		t.Fatalf("reminders = %+v", inv.Reminders)
	}
	if inv.Summary.AmountDue != 10000 {
		t.Error("reminder must not change amounts")
	}

	inv, _ = svc.AddPayment(ctx, inv.ID, PaymentInput{Amount: 10000, Method: MethodCash})
	if _, err := svc.SendReminder(ctx, inv.ID, "sms", ""); !errs.IsValidation(err) {
		t.Errorf("reminder on settled invoice should fail, got %v", err)
	}
}
