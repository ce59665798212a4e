package company

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Company) error
	GetByID(ctx context.Context, id uuid.UUID) (*Company, error)
	Update(ctx context.Context, c *Company) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Company, int, error)
}

type ApprovalRepository interface {
	Create(ctx context.Context, a *Approval) error
	GetByID(ctx context.Context, id uuid.UUID) (*Approval, error)
	Update(ctx context.Context, a *Approval) error
	// ListActive returns granted, unexpired approvals for the patient at the
	// company.
	ListActive(ctx context.Context, companyID, patientID uuid.UUID) ([]*Approval, error)
}
