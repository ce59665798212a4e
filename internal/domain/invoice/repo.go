package invoice

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists invoices. Update must compare-and-swap on Version and
// return errs.Conflict when the stored row has moved on.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	ListByCompanyYear(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) ([]*Invoice, error)

	// AcquireInvoicingLock claims the single-invoicer slot for a visit,
	// returning errs.Conflict when another invoicing run holds it.
	AcquireInvoicingLock(ctx context.Context, visitID uuid.UUID) error
	ReleaseInvoicingLock(ctx context.Context, visitID uuid.UUID) error
}
