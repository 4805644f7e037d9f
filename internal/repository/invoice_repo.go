package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"invoicing-backend/internal/models"
)

const invoiceSelect = `
	SELECT i.id, i.invoice_no, i.client_name, i.amount::text, i.date, i.status,
	       i.description, i.is_done, i.created_by, u.email
	FROM invoices i
	JOIN users u ON u.id = i.created_by`

type InvoiceRepo struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepo(pool *pgxpool.Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool}
}

func (r *InvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO invoices (invoice_no, client_name, amount, date, status, description, is_done, created_by)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
		RETURNING id
	`, inv.InvoiceNo, inv.ClientName, inv.Amount, inv.Date, inv.Status, inv.Description, inv.IsDone, inv.CreatedBy).Scan(&inv.ID)
	return errors.Wrap(err, "create invoice")
}

func (r *InvoiceRepo) List(ctx context.Context, limit, offset int) ([]*models.Invoice, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices").Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count invoices")
	}

	rows, err := r.pool.Query(ctx, invoiceSelect+`
		ORDER BY i.date DESC, i.id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list invoices")
	}
	defer rows.Close()

	invoices := make([]*models.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

func (r *InvoiceRepo) GetByID(ctx context.Context, id int64) (*models.Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, invoiceSelect+` WHERE i.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

func (r *InvoiceRepo) Update(ctx context.Context, inv *models.Invoice) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET invoice_no = $1, client_name = $2, amount = $3::numeric, date = $4,
		    status = $5, description = $6, is_done = $7
		WHERE id = $8
	`, inv.InvoiceNo, inv.ClientName, inv.Amount, inv.Date, inv.Status, inv.Description, inv.IsDone, inv.ID)
	if err != nil {
		return errors.Wrap(err, "update invoice")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *InvoiceRepo) ToggleDone(ctx context.Context, id int64) (bool, error) {
	var done bool
	err := r.pool.QueryRow(ctx,
		"UPDATE invoices SET is_done = NOT is_done WHERE id = $1 RETURNING is_done", id,
	).Scan(&done)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return done, errors.Wrap(err, "toggle invoice")
}

func (r *InvoiceRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM invoices WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "delete invoice")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	inv := &models.Invoice{}
	err := row.Scan(
		&inv.ID, &inv.InvoiceNo, &inv.ClientName, &inv.Amount, &inv.Date, &inv.Status,
		&inv.Description, &inv.IsDone, &inv.CreatedBy, &inv.CreatedByEmail,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}
