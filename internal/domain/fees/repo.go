package fees

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository reads the pricing catalogue. Lookups return (nil, nil) when no
// row exists; the resolver treats absence as "try the next layer", never as
// an error.
type Repository interface {
	// ConventionPrice returns the negotiated price in force at asOf.
	ConventionPrice(ctx context.Context, companyID uuid.UUID, code string, asOf time.Time) (*ConventionPrice, error)
	ConventionDefaults(ctx context.Context, companyID uuid.UUID) (*ConventionDefaults, error)
	// ScheduleEntry with a nil clinicID reads the central schedule. Only
	// entries in force at asOf are returned.
	ScheduleEntry(ctx context.Context, code string, clinicID *uuid.UUID, asOf time.Time) (*ScheduleEntry, error)
	BillingCode(ctx context.Context, code string) (*BillingCode, error)

	UpsertBillingCode(ctx context.Context, bc *BillingCode) error
	UpsertScheduleEntry(ctx context.Context, e *ScheduleEntry) error
	UpsertConventionPrice(ctx context.Context, cp *ConventionPrice) error
}
