package escrow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/workbridge/paycore/internal/ledger"
)

// PostgresStore implements Store with PostgreSQL.
//
// ApplyTransition relies on two storage-level guards rather than any
// in-process lock: a compare-and-swap on the version column, and the
// unique idempotency-key constraint on ledger_entries. Both the record
// update and the entry insert commit in one transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new escrow record. The unique constraint on
// assignment_id rejects a second escrow for the same assignment.
func (p *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows
			(id, assignment_id, provider, currency, captured_amount,
			 current_balance, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.AssignmentID, rec.Provider, rec.Currency, rec.CapturedAmount,
		rec.CurrentBalance, string(rec.State), rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEscrowExists
		}
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

// Get returns an escrow record by ID.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, assignment_id, provider, currency, captured_amount,
		       current_balance, state, version, created_at, updated_at
		FROM escrows WHERE id = $1
	`, id))
}

// GetByAssignment returns the escrow record for an assignment.
func (p *PostgresStore) GetByAssignment(ctx context.Context, assignmentID string) (*Record, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, assignment_id, provider, currency, captured_amount,
		       current_balance, state, version, created_at, updated_at
		FROM escrows WHERE assignment_id = $1
	`, assignmentID))
}

// ApplyTransition commits the version-checked record update and the
// ledger append in one transaction.
func (p *PostgresStore) ApplyTransition(ctx context.Context, rec *Record, expectedVersion int64, entry *ledger.Entry) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE escrows SET
			state           = $1,
			current_balance = $2,
			captured_amount = $3,
			version         = $4,
			updated_at      = $5
		WHERE id = $6 AND version = $7
	`, string(rec.State), rec.CurrentBalance, rec.CapturedAmount,
		rec.Version, rec.UpdatedAt, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update escrow: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the record vanished (impossible: never deleted) or a
		// concurrent writer bumped the version first.
		return ErrVersionConflict
	}

	if entry != nil {
		if err := ledger.AppendTx(ctx, tx, entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// List returns escrow records in creation order.
func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, assignment_id, provider, currency, captured_amount,
		       current_balance, state, version, created_at, updated_at
		FROM escrows
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			rec   Record
			state string
		)
		if err := rows.Scan(&rec.ID, &rec.AssignmentID, &rec.Provider, &rec.Currency,
			&rec.CapturedAmount, &rec.CurrentBalance, &state, &rec.Version,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.State = State(state)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Record, error) {
	var (
		rec   Record
		state string
	)
	err := row.Scan(&rec.ID, &rec.AssignmentID, &rec.Provider, &rec.Currency,
		&rec.CapturedAmount, &rec.CurrentBalance, &state, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.State = State(state)
	return &rec, nil
}
