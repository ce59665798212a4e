package fees

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibill/medibill/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) ConventionPrice(ctx context.Context, companyID uuid.UUID, code string, asOf time.Time) (*ConventionPrice, error) {
	var cp ConventionPrice
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, company_id, code, price, currency, effective_from, effective_to, created_at
		FROM convention_prices
		WHERE company_id = $1 AND code = $2 AND effective_from <= $3
		  AND (effective_to IS NULL OR effective_to > $3)`,
		companyID, code, asOf).
		Scan(&cp.ID, &cp.CompanyID, &cp.Code, &cp.Price, &cp.Currency, &cp.EffectiveFrom, &cp.EffectiveTo, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (r *repoPG) ConventionDefaults(ctx context.Context, companyID uuid.UUID) (*ConventionDefaults, error) {
	var def ConventionDefaults
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, use_standard_prices, convention_discount_pct
		FROM companies WHERE id = $1`,
		companyID).
		Scan(&def.CompanyID, &def.UseStandardPrices, &def.DiscountPct)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *repoPG) ScheduleEntry(ctx context.Context, code string, clinicID *uuid.UUID, asOf time.Time) (*ScheduleEntry, error) {
	// Newest effective entry wins when ranges overlap.
	query := `
		SELECT id, code, clinic_id, price, currency, effective_from, effective_to, created_at
		FROM fee_schedule_entries
		WHERE code = $1 AND effective_from <= $2
		  AND (effective_to IS NULL OR effective_to > $2)`
	args := []interface{}{code, asOf}
	if clinicID != nil {
		query += ` AND clinic_id = $3`
		args = append(args, *clinicID)
	} else {
		query += ` AND clinic_id IS NULL`
	}
	query += ` ORDER BY effective_from DESC LIMIT 1`

	var e ScheduleEntry
	err := r.conn(ctx).QueryRow(ctx, query, args...).
		Scan(&e.ID, &e.Code, &e.ClinicID, &e.Price, &e.Currency, &e.EffectiveFrom, &e.EffectiveTo, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) BillingCode(ctx context.Context, code string) (*BillingCode, error) {
	var bc BillingCode
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, description, category, base_price, currency, active, created_at, updated_at
		FROM billing_codes WHERE code = $1`,
		code).
		Scan(&bc.ID, &bc.Code, &bc.Description, &bc.Category, &bc.BasePrice, &bc.Currency, &bc.Active, &bc.CreatedAt, &bc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bc, nil
}

func (r *repoPG) UpsertBillingCode(ctx context.Context, bc *BillingCode) error {
	if bc.ID == uuid.Nil {
		bc.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_codes (id, code, description, category, base_price, currency, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			base_price = EXCLUDED.base_price,
			currency = EXCLUDED.currency,
			active = EXCLUDED.active,
			updated_at = NOW()`,
		bc.ID, bc.Code, bc.Description, bc.Category, bc.BasePrice, bc.Currency, bc.Active)
	return err
}

func (r *repoPG) UpsertScheduleEntry(ctx context.Context, e *ScheduleEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO fee_schedule_entries (id, code, clinic_id, price, currency, effective_from, effective_to)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			effective_from = EXCLUDED.effective_from,
			effective_to = EXCLUDED.effective_to`,
		e.ID, e.Code, e.ClinicID, e.Price, e.Currency, e.EffectiveFrom, e.EffectiveTo)
	return err
}

func (r *repoPG) UpsertConventionPrice(ctx context.Context, cp *ConventionPrice) error {
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO convention_prices (id, company_id, code, price, currency, effective_from, effective_to)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (company_id, code) DO UPDATE SET
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			effective_from = EXCLUDED.effective_from,
			effective_to = EXCLUDED.effective_to`,
		cp.ID, cp.CompanyID, cp.Code, cp.Price, cp.Currency, cp.EffectiveFrom, cp.EffectiveTo)
	return err
}
