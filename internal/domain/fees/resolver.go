package fees

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Resolver walks the pricing hierarchy for a billing code:
//
//  1. company convention price for the exact code
//  2. company convention defaults over the standard price
//  3. clinic-specific schedule entry
//  4. central schedule entry
//  5. billing-code base price
//
// A nil result with a nil error means the code is simply not priced; callers
// decide whether that is acceptable.
type Resolver struct {
	repo Repository
	log  zerolog.Logger
}

func NewResolver(repo Repository, log zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, q Query) (*ResolvedPrice, error) {
	asOf := q.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	if q.CompanyID != nil {
		cp, err := r.repo.ConventionPrice(ctx, *q.CompanyID, q.Code, asOf)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			return &ResolvedPrice{Amount: cp.Price, Currency: cp.Currency, Source: SourceConventionItem}, nil
		}

		def, err := r.repo.ConventionDefaults(ctx, *q.CompanyID)
		if err != nil {
			return nil, err
		}
		if def != nil && def.UseStandardPrices {
			std, err := r.standardPrice(ctx, q, asOf)
			if err != nil {
				return nil, err
			}
			if std != nil {
				return &ResolvedPrice{
					Amount:   applyDiscount(std.Amount, def.DiscountPct),
					Currency: std.Currency,
					Source:   SourceConventionDefault,
				}, nil
			}
		}
	}

	return r.standardPrice(ctx, q, asOf)
}

// standardPrice resolves outside any convention: clinic schedule, then
// central schedule, then catalogue base price.
func (r *Resolver) standardPrice(ctx context.Context, q Query, asOf time.Time) (*ResolvedPrice, error) {
	if q.ClinicID != nil {
		e, err := r.repo.ScheduleEntry(ctx, q.Code, q.ClinicID, asOf)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return &ResolvedPrice{Amount: e.Price, Currency: e.Currency, Source: SourceClinicSchedule}, nil
		}
	}

	e, err := r.repo.ScheduleEntry(ctx, q.Code, nil, asOf)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return &ResolvedPrice{Amount: e.Price, Currency: e.Currency, Source: SourceCentralSchedule}, nil
	}

	bc, err := r.repo.BillingCode(ctx, q.Code)
	if err != nil {
		return nil, err
	}
	if bc != nil && bc.Active && bc.BasePrice > 0 {
		return &ResolvedPrice{Amount: bc.BasePrice, Currency: bc.Currency, Source: SourceBasePrice}, nil
	}

	r.log.Debug().Str("code", q.Code).Msg("no price found in any schedule layer")
	return nil, nil
}

// applyDiscount reduces the amount by pct percent, flooring so the payer is
// never charged a rounded-up fraction.
func applyDiscount(amount int64, pct float64) int64 {
	if pct <= 0 {
		return amount
	}
	if pct >= 100 {
		return 0
	}
	d := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(100).Sub(decimal.NewFromFloat(pct))).
		Div(decimal.NewFromInt(100))
	return d.Floor().IntPart()
}
