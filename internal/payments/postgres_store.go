package payments

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `
	id, assignment_id, escrow_id, provider, COALESCE(external_tx_id, ''),
	status, amount, fee, net_amount, currency, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *ShiftPayment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shift_payments
			(id, assignment_id, escrow_id, provider, external_tx_id,
			 status, amount, fee, net_amount, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.AssignmentID, p.EscrowID, p.Provider, p.ExternalTxID,
		string(p.Status), p.Amount, p.Fee, p.NetAmount, p.Currency, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*ShiftPayment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM shift_payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (s *PostgresStore) GetByAssignment(ctx context.Context, assignmentID string) (*ShiftPayment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM shift_payments WHERE assignment_id = $1`, assignmentID)
	return scanPayment(row)
}

func (s *PostgresStore) GetByEscrow(ctx context.Context, escrowID string) (*ShiftPayment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM shift_payments WHERE escrow_id = $1`, escrowID)
	return scanPayment(row)
}

func (s *PostgresStore) GetByExternalTx(ctx context.Context, provider, externalTxID string) (*ShiftPayment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM shift_payments WHERE provider = $1 AND external_tx_id = $2`,
		provider, externalTxID)
	return scanPayment(row)
}

func (s *PostgresStore) Update(ctx context.Context, p *ShiftPayment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shift_payments
		SET status = $1, external_tx_id = $2, fee = $3, net_amount = $4, updated_at = $5
		WHERE id = $6
	`, string(p.Status), p.ExternalTxID, p.Fee, p.NetAmount, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*ShiftPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM shift_payments WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ShiftPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*ShiftPayment, error) {
	var (
		p      ShiftPayment
		status string
	)
	if err := row.Scan(&p.ID, &p.AssignmentID, &p.EscrowID, &p.Provider, &p.ExternalTxID,
		&status, &p.Amount, &p.Fee, &p.NetAmount, &p.Currency, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}
