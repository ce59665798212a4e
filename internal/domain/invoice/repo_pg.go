package invoice

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

const invCols = `id, number, patient_id, visit_id, clinic_id, currency, status,
	due_date, issued_at, cancelled_at,
	items, summary, payments, reminders, company_billing, insurance,
	version, created_by, created_at, updated_at`

func (r *repoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.VisitID, &inv.ClinicID, &inv.Currency, &inv.Status,
		&inv.DueDate, &inv.IssuedAt, &inv.CancelledAt,
		&inv.Items, &inv.Summary, &inv.Payments, &inv.Reminders, &inv.Company, &inv.Insurance,
		&inv.Version, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("invoice not found")
	}
	return &inv, err
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoices (id, number, patient_id, visit_id, clinic_id, currency, status,
			due_date, issued_at, cancelled_at,
			items, summary, payments, reminders, company_billing, insurance,
			version, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		inv.ID, inv.Number, inv.PatientID, inv.VisitID, inv.ClinicID, inv.Currency, inv.Status,
		inv.DueDate, inv.IssuedAt, inv.CancelledAt,
		inv.Items, inv.Summary, inv.Payments, inv.Reminders, inv.Company, inv.Insurance,
		inv.Version, inv.CreatedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE id = $1`, id))
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE number = $1`, number))
}

// Update compare-and-swaps on version: the row is only written when nobody
// else bumped it since this invoice was loaded.
func (r *repoPG) Update(ctx context.Context, inv *Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET status=$3, due_date=$4, issued_at=$5, cancelled_at=$6,
			items=$7, summary=$8, payments=$9, reminders=$10,
			company_billing=$11, insurance=$12,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		inv.ID, inv.Version, inv.Status, inv.DueDate, inv.IssuedAt, inv.CancelledAt,
		inv.Items, inv.Summary, inv.Payments, inv.Reminders,
		inv.Company, inv.Insurance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict(fmt.Sprintf("invoice %s was modified concurrently", inv.ID))
	}
	inv.Version++
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invCols+` FROM invoices WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, nil
}

// ListByCompanyYear returns the patient's convention invoices for a fiscal
// year, oldest first. Usage rebuilds replay these in order.
func (r *repoPG) ListByCompanyYear(ctx context.Context, patientID, companyID uuid.UUID, fiscalYear int) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+invCols+` FROM invoices
		WHERE patient_id = $1
		  AND company_billing->>'company_id' = $2
		  AND EXTRACT(YEAR FROM created_at) = $3
		ORDER BY created_at ASC`,
		patientID, companyID.String(), fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	return items, nil
}

func (r *repoPG) AcquireInvoicingLock(ctx context.Context, visitID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoicing_locks (visit_id) VALUES ($1)
		ON CONFLICT (visit_id) DO NOTHING`, visitID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict(fmt.Sprintf("invoicing already in progress for visit %s", visitID))
	}
	return nil
}

func (r *repoPG) ReleaseInvoicingLock(ctx context.Context, visitID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoicing_locks WHERE visit_id = $1`, visitID)
	return err
}
