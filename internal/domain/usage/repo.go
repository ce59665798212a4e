package usage

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists usage aggregates. Get returns (nil, nil) when no
// record exists yet; Update compare-and-swaps on Version and returns
// errs.Conflict when it loses the race.
type Repository interface {
	Get(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) (*Record, error)
	Create(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
	ListByCompany(ctx context.Context, companyID uuid.UUID, fiscalYear int, limit, offset int) ([]*Record, int, error)
}
