package claim

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists claims. Update compare-and-swaps on Version and
// returns errs.Conflict when the row moved underneath.
type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByNumber(ctx context.Context, number string) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Claim, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Claim, int, error)
}
