package invoice

import "time"

// DeriveStatus computes the lifecycle status from the invoice's financial
// state. Delivery stages (draft, issued, sent, viewed) are kept as-is until
// money moves; cancelled always wins.
func DeriveStatus(inv *Invoice, now time.Time) Status {
	if inv.Status == StatusCancelled {
		return StatusCancelled
	}

	paid := inv.Summary.AmountPaid
	due := inv.Summary.AmountDue

	switch {
	case inv.RefundedTotal() > 0 && paid == 0 && inv.GrossPaid() > 0:
		return StatusRefunded
	case inv.Summary.Total > 0 && due <= 0 && paid > 0:
		return StatusPaid
	case paid > 0 && due > 0:
		return StatusPartial
	}

	stage := inv.Status
	switch stage {
	case StatusDraft, StatusIssued, StatusSent, StatusViewed:
	default:
		// Was in a derived financial state (e.g. a fully refunded payment
		// was just re-added); fall back to issued.
		stage = StatusIssued
	}

	if stage != StatusDraft && paid == 0 && due > 0 &&
		inv.DueDate != nil && now.After(*inv.DueDate) {
		return StatusOverdue
	}
	return stage
}

// IsOverdue reports whether the invoice carries an unpaid balance past its
// due date. Computed on read, never stored.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	if inv.Status.Terminal() || inv.DueDate == nil {
		return false
	}
	return inv.Summary.AmountDue > 0 && now.After(*inv.DueDate)
}

// DaysOverdue is the whole number of days past the due date, zero when the
// invoice is not overdue.
func (inv *Invoice) DaysOverdue(now time.Time) int {
	if !inv.IsOverdue(now) {
		return 0
	}
	return int(now.Sub(*inv.DueDate).Hours() / 24)
}
