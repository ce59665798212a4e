package company

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/pkg/errs"
)

type mockRepo struct {
	companies map[uuid.UUID]*Company
}

func (m *mockRepo) Create(ctx context.Context, c *Company) error {
	c.ID = uuid.New()
	c.Version = 1
	m.companies[c.ID] = c
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return nil, errs.NotFound("company not found")
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Update(ctx context.Context, c *Company) error {
	if _, ok := m.companies[c.ID]; !ok {
		return errs.NotFound("company not found")
	}
	c.Version++
	m.companies[c.ID] = c
	return nil
}

func (m *mockRepo) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Company, int, error) {
	var out []*Company
	for _, c := range m.companies {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

type mockApprovals struct {
	approvals map[uuid.UUID]*Approval
}

func (m *mockApprovals) Create(ctx context.Context, a *Approval) error {
	a.ID = uuid.New()
	m.approvals[a.ID] = a
	return nil
}

func (m *mockApprovals) GetByID(ctx context.Context, id uuid.UUID) (*Approval, error) {
	a, ok := m.approvals[id]
	if !ok {
		return nil, errs.NotFound("approval not found")
	}
	cp := *a
	return &cp, nil
}

func (m *mockApprovals) Update(ctx context.Context, a *Approval) error {
	m.approvals[a.ID] = a
	return nil
}

func (m *mockApprovals) ListActive(ctx context.Context, companyID, patientID uuid.UUID) ([]*Approval, error) {
	var out []*Approval
	now := time.Now()
	for _, a := range m.approvals {
		if a.CompanyID == companyID && a.PatientID == patientID && a.ActiveAt(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestService() (*Service, *mockRepo, *mockApprovals) {
	repo := &mockRepo{companies: make(map[uuid.UUID]*Company)}
	apps := &mockApprovals{approvals: make(map[uuid.UUID]*Approval)}
	return NewService(repo, apps, zerolog.Nop()), repo, apps
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		c    Company
	}{
		{"missing name", Company{DefaultCoveragePct: 80}},
		{"coverage above 100", Company{Name: "ACME", DefaultCoveragePct: 120}},
		{"negative coverage", Company{Name: "ACME", DefaultCoveragePct: -1}},
		{"bad category pct", Company{Name: "ACME", CoveredCategories: []CategoryRule{
			{Category: "imaging", CoveragePct: 101},
		}}},
		{"duplicate category", Company{Name: "ACME", CoveredCategories: []CategoryRule{
			{Category: "imaging", CoveragePct: 50},
			{Category: "imaging", CoveragePct: 60},
		}}},
		{"negative annual limit", Company{Name: "ACME", CoveredCategories: []CategoryRule{
			{Category: "imaging", CoveragePct: 50, AnnualLimit: -1},
		}}},
	}
	for _, tc := range cases {
		if err := svc.Create(ctx, &tc.c); !errs.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	ok := Company{Name: "ACME", DefaultCoveragePct: 62.5}
	if err := svc.Create(ctx, &ok); err != nil {
		t.Fatal(err)
	}
	if !ok.Active {
		t.Error("new companies start active")
	}
}

func TestCoverageFor(t *testing.T) {
	c := &Company{
		DefaultCoveragePct: 80,
		CoveredCategories: []CategoryRule{
			{Category: "imaging", CoveragePct: 50},
			{Category: "medication", NotCovered: true, CoveragePct: 90},
		},
	}
	if got := c.CoverageFor("consultation"); got != 80 {
		t.Errorf("default coverage = %v, want 80", got)
	}
	if got := c.CoverageFor("imaging"); got != 50 {
		t.Errorf("override coverage = %v, want 50", got)
	}
	// not_covered beats the rule's own percentage.
	if got := c.CoverageFor("medication"); got != 0 {
		t.Errorf("not-covered coverage = %v, want 0", got)
	}
}

func TestApprovalAutoGrant(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	comp := &Company{Name: "ACME", ApprovalRules: ApprovalRules{AutoApproveUnderCents: 50000}}
	if err := svc.Create(ctx, comp); err != nil {
		t.Fatal(err)
	}
	_ = repo

	small, err := svc.RequestApproval(ctx, ApprovalInput{
		CompanyID: comp.ID, PatientID: uuid.New(), Code: "IMG-01", MaxAmount: 30000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if small.Status != ApprovalGranted || small.GrantedBy != "auto" {
		t.Errorf("small request = %+v, want auto-granted", small)
	}

	big, err := svc.RequestApproval(ctx, ApprovalInput{
		CompanyID: comp.ID, PatientID: uuid.New(), Code: "IMG-02", MaxAmount: 90000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if big.Status != ApprovalPending {
		t.Errorf("big request status = %q, want pending", big.Status)
	}
}

func TestDecideApproval(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	comp := &Company{Name: "ACME"}
	if err := svc.Create(ctx, comp); err != nil {
		t.Fatal(err)
	}
	a, err := svc.RequestApproval(ctx, ApprovalInput{
		CompanyID: comp.ID, PatientID: uuid.New(), Code: "IMG-01", MaxAmount: 90000,
	})
	if err != nil {
		t.Fatal(err)
	}

	granted, err := svc.DecideApproval(ctx, a.ID, true, "dr.keita")
	if err != nil {
		t.Fatal(err)
	}
	if granted.Status != ApprovalGranted || granted.GrantedBy != "dr.keita" {
		t.Errorf("decision = %+v", granted)
	}
	if !granted.ActiveAt(time.Now()) {
		t.Error("granted approval should be active")
	}

	if _, err := svc.DecideApproval(ctx, a.ID, false, "dr.keita"); !errs.IsValidation(err) {
		t.Errorf("double decision should fail, got %v", err)
	}
}

func TestApprovalExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	a := &Approval{Status: ApprovalGranted, ExpiresAt: &past}
	if a.ActiveAt(time.Now()) {
		t.Error("expired approval must not be active")
	}
}
