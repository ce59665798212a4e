package claim

import (
	"context"

	"github.com/google/uuid"
)

// Adjudication is the typed event pushed to the invoice ledger whenever an
// insurer decision changes a claim.
type Adjudication struct {
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

// InvoiceLedger is how the claims module talks to invoices without coupling
// the two state machines: balances are read before a claim is opened, and
// adjudication outcomes are pushed as events.
type InvoiceLedger interface {
	RemainingBalance(ctx context.Context, invoiceID uuid.UUID) (int64, error)
	ApplyAdjudication(ctx context.Context, invoiceID uuid.UUID, adj Adjudication) error
}
