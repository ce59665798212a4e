package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/pkg/errs"
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

const usageCols = `id, patient_id, company_id, fiscal_year, categories, totals, adjustments, version, created_at, updated_at`

func (r *repoPG) scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.CompanyID, &rec.FiscalYear,
		&rec.Categories, &rec.Totals, &rec.Adjustments,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	return &rec, err
}

func (r *repoPG) Get(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) (*Record, error) {
	rec, err := r.scanRecord(r.conn(ctx).QueryRow(ctx, `
		SELECT `+usageCols+` FROM company_usage
		WHERE patient_id = $1 AND company_id = $2 AND fiscal_year = $3`,
		patientID, companyID, fiscalYear))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Version = 1
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO company_usage (id, patient_id, company_id, fiscal_year, categories, totals, adjustments, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (patient_id, company_id, fiscal_year) DO NOTHING`,
		rec.ID, rec.PatientID, rec.CompanyID, rec.FiscalYear,
		rec.Categories, rec.Totals, rec.Adjustments, rec.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Another writer created the record first; caller reloads and retries.
		return errs.Conflict("usage record already exists")
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, rec *Record) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE company_usage SET categories=$3, totals=$4, adjustments=$5,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		rec.ID, rec.Version, rec.Categories, rec.Totals, rec.Adjustments)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict(fmt.Sprintf("usage record %s was modified concurrently", rec.ID))
	}
	rec.Version++
	return nil
}

func (r *repoPG) ListByCompany(ctx context.Context, companyID uuid.UUID, fiscalYear int, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM company_usage WHERE company_id = $1 AND fiscal_year = $2`,
		companyID, fiscalYear).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+usageCols+` FROM company_usage
		WHERE company_id = $1 AND fiscal_year = $2
		ORDER BY updated_at DESC LIMIT $3 OFFSET $4`,
		companyID, fiscalYear, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, nil
}
