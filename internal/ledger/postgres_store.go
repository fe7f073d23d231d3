package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/workbridge/paycore/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// The ledger_entries table carries two unique constraints that do the
// heavy lifting: UNIQUE(idempotency_key) for double-processing, and
// UNIQUE(escrow_id, sequence) so concurrent appenders cannot interleave
// sequence numbers.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts an entry, assigning the next sequence number for the
// escrow inside a serializable transaction.
func (p *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := AppendTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendTx inserts an entry within an existing transaction. The escrow
// store uses this to pair the append with the escrow state update in the
// same atomic commit.
func AppendTx(ctx context.Context, tx *sql.Tx, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = idgen.WithPrefix("le_")
	}

	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entry metadata: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries
			(id, escrow_id, sequence, from_state, to_state, amount_delta,
			 idempotency_key, actor, metadata, created_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(sequence), 0) + 1 FROM ledger_entries WHERE escrow_id = $2),
			$3, $4, $5, $6, $7, $8, NOW())
		RETURNING sequence, created_at
	`, entry.ID, entry.EscrowID, entry.FromState, entry.ToState, entry.AmountDelta,
		entry.IdempotencyKey, string(entry.Actor), meta).Scan(&entry.Sequence, &entry.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if pqErr.Constraint == "ledger_entries_idempotency_key_key" {
				return ErrDuplicateIdempotencyKey
			}
			// Sequence collision from a concurrent appender; surfaced as a
			// serialization failure for the caller to retry.
			return fmt.Errorf("ledger append sequence conflict: %w", err)
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// ListByEscrow returns entries for an escrow in sequence order.
func (p *PostgresStore) ListByEscrow(ctx context.Context, escrowID string, limit, offset int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, escrow_id, sequence, from_state, to_state, amount_delta,
		       idempotency_key, actor, metadata, created_at
		FROM ledger_entries
		WHERE escrow_id = $1
		ORDER BY sequence ASC
		LIMIT $2 OFFSET $3
	`, escrowID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Balance folds the signed deltas for an escrow.
func (p *PostgresStore) Balance(ctx context.Context, escrowID string) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_delta), 0) FROM ledger_entries WHERE escrow_id = $1
	`, escrowID).Scan(&balance)
	return balance, err
}

// HasKey reports whether an idempotency key has been used.
func (p *PostgresStore) HasKey(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)
	`, idempotencyKey).Scan(&exists)
	return exists, err
}

// EscrowIDs returns every escrow ID that has at least one entry.
func (p *PostgresStore) EscrowIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT escrow_id FROM ledger_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e     Entry
		actor string
		meta  []byte
	)
	if err := row.Scan(&e.ID, &e.EscrowID, &e.Sequence, &e.FromState, &e.ToState,
		&e.AmountDelta, &e.IdempotencyKey, &actor, &meta, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	e.Actor = Actor(actor)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	return &e, nil
}
