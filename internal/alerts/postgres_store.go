package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal alert metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, kind, escrow_id, provider, message, metadata, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
	`, a.ID, a.Kind, a.EscrowID, a.Provider, a.Message, meta, a.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, COALESCE(escrow_id, ''), COALESCE(provider, ''), message,
		       COALESCE(metadata, '{}'), acknowledged, created_at
		FROM alerts WHERE id = $1
	`, id)
	return scanAlert(row)
}

func (s *PostgresStore) List(ctx context.Context, unackedOnly bool, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, COALESCE(escrow_id, ''), COALESCE(provider, ''), message,
		       COALESCE(metadata, '{}'), acknowledged, created_at
		FROM alerts
		WHERE NOT $1 OR NOT acknowledged
		ORDER BY created_at DESC LIMIT $2
	`, unackedOnly, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Acknowledge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	a := &Alert{}
	var meta []byte
	if err := row.Scan(&a.ID, &a.Kind, &a.EscrowID, &a.Provider, &a.Message,
		&meta, &a.Acknowledged, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal alert metadata: %w", err)
		}
	}
	return a, nil
}
