package claim

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

const claimCols = `id, claim_number, invoice_id, patient_id, insurer_name, policy_number,
	service_lines, amounts, status, status_history, denial, appeals,
	check_number, era_number, submitted_at,
	version, created_by, created_at, updated_at`

func (r *repoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.InvoiceID, &c.PatientID, &c.InsurerName, &c.PolicyNumber,
		&c.ServiceLines, &c.Amounts, &c.Status, &c.StatusHistory, &c.Denial, &c.Appeals,
		&c.CheckNumber, &c.ERANumber, &c.SubmittedAt,
		&c.Version, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("claim not found")
	}
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, claim_number, invoice_id, patient_id, insurer_name, policy_number,
			service_lines, amounts, status, status_history, denial, appeals,
			check_number, era_number, submitted_at, version, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.ID, c.ClaimNumber, c.InvoiceID, c.PatientID, c.InsurerName, c.PolicyNumber,
		c.ServiceLines, c.Amounts, c.Status, c.StatusHistory, c.Denial, c.Appeals,
		c.CheckNumber, c.ERANumber, c.SubmittedAt, c.Version, c.CreatedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE claim_number = $1`, number))
}

func (r *repoPG) Update(ctx context.Context, c *Claim) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET insurer_name=$3, policy_number=$4,
			service_lines=$5, amounts=$6, status=$7, status_history=$8, denial=$9, appeals=$10,
			check_number=$11, era_number=$12, submitted_at=$13,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		c.ID, c.Version, c.InsurerName, c.PolicyNumber,
		c.ServiceLines, c.Amounts, c.Status, c.StatusHistory, c.Denial, c.Appeals,
		c.CheckNumber, c.ERANumber, c.SubmittedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict(fmt.Sprintf("claim %s was modified concurrently", c.ID))
	}
	c.Version++
	return nil
}

func (r *repoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claims WHERE invoice_id = $1 ORDER BY created_at DESC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Claim, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claims WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}
