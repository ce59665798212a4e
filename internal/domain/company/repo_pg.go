package company

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

const companyCols = `id, name, registration_number, contact_email, active,
	default_coverage_pct, covered_categories, approval_rules,
	use_standard_prices, convention_discount_pct,
	version, created_at, updated_at`

func (r *repoPG) scanCompany(row pgx.Row) (*Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.RegistrationNumber, &c.ContactEmail, &c.Active,
		&c.DefaultCoveragePct, &c.CoveredCategories, &c.ApprovalRules,
		&c.UseStandardPrices, &c.ConventionDiscount,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("company not found")
	}
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Company) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO companies (id, name, registration_number, contact_email, active,
			default_coverage_pct, covered_categories, approval_rules,
			use_standard_prices, convention_discount_pct, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.Name, c.RegistrationNumber, c.ContactEmail, c.Active,
		c.DefaultCoveragePct, c.CoveredCategories, c.ApprovalRules,
		c.UseStandardPrices, c.ConventionDiscount, c.Version)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Company, error) {
	return r.scanCompany(r.conn(ctx).QueryRow(ctx, `SELECT `+companyCols+` FROM companies WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Company) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE companies SET name=$3, registration_number=$4, contact_email=$5, active=$6,
			default_coverage_pct=$7, covered_categories=$8, approval_rules=$9,
			use_standard_prices=$10, convention_discount_pct=$11,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		c.ID, c.Version, c.Name, c.RegistrationNumber, c.ContactEmail, c.Active,
		c.DefaultCoveragePct, c.CoveredCategories, c.ApprovalRules,
		c.UseStandardPrices, c.ConventionDiscount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict(fmt.Sprintf("company %s was modified concurrently", c.ID))
	}
	c.Version++
	return nil
}

func (r *repoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Company, int, error) {
	where := ""
	if activeOnly {
		where = " WHERE active"
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM companies`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+companyCols+` FROM companies`+where+` ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Company
	for rows.Next() {
		c, err := r.scanCompany(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

type approvalRepoPG struct{ pool *pgxpool.Pool }

func NewApprovalRepoPG(pool *pgxpool.Pool) ApprovalRepository { return &approvalRepoPG{pool: pool} }

func (r *approvalRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const approvalCols = `id, company_id, patient_id, code, max_amount, status, granted_by, expires_at, created_at, updated_at`

func (r *approvalRepoPG) scanApproval(row pgx.Row) (*Approval, error) {
	var a Approval
	err := row.Scan(&a.ID, &a.CompanyID, &a.PatientID, &a.Code, &a.MaxAmount,
		&a.Status, &a.GrantedBy, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("approval not found")
	}
	return &a, err
}

func (r *approvalRepoPG) Create(ctx context.Context, a *Approval) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO approvals (id, company_id, patient_id, code, max_amount, status, granted_by, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.CompanyID, a.PatientID, a.Code, a.MaxAmount, a.Status, a.GrantedBy, a.ExpiresAt)
	return err
}

func (r *approvalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Approval, error) {
	return r.scanApproval(r.conn(ctx).QueryRow(ctx, `SELECT `+approvalCols+` FROM approvals WHERE id = $1`, id))
}

func (r *approvalRepoPG) Update(ctx context.Context, a *Approval) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE approvals SET status=$2, max_amount=$3, granted_by=$4, expires_at=$5, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.MaxAmount, a.GrantedBy, a.ExpiresAt)
	return err
}

func (r *approvalRepoPG) ListActive(ctx context.Context, companyID, patientID uuid.UUID) ([]*Approval, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+approvalCols+` FROM approvals
		WHERE company_id = $1 AND patient_id = $2 AND status = 'granted'
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC`, companyID, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Approval
	for rows.Next() {
		a, err := r.scanApproval(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, nil
}
