package webhooks

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL. The UNIQUE(provider,
// event_id) constraint on webhook_events is the replay gate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, ev *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_id, payload_hash, received_at)
		VALUES ($1, $2, $3, $4)
	`, ev.Provider, ev.EventID, ev.PayloadHash, ev.ReceivedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, provider, eventID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, event_id, payload_hash, received_at, processed_at, COALESCE(outcome, '')
		FROM webhook_events WHERE provider = $1 AND event_id = $2
	`, provider, eventID)
	return scanEvent(row)
}

func (s *PostgresStore) SetOutcome(ctx context.Context, provider, eventID string, outcome Outcome, processedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET outcome = $1, processed_at = $2
		WHERE provider = $3 AND event_id = $4
	`, string(outcome), processedAt, provider, eventID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, provider string, before time.Time, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var beforeArg any
	if !before.IsZero() {
		beforeArg = before
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, event_id, payload_hash, received_at, processed_at, COALESCE(outcome, '')
		FROM webhook_events
		WHERE ($1 = '' OR provider = $1)
		  AND ($2::timestamptz IS NULL OR received_at < $2)
		ORDER BY received_at DESC LIMIT $3
	`, provider, beforeArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev        Event
		processed sql.NullTime
		outcome   string
	)
	if err := row.Scan(&ev.Provider, &ev.EventID, &ev.PayloadHash,
		&ev.ReceivedAt, &processed, &outcome); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	if processed.Valid {
		t := processed.Time
		ev.ProcessedAt = &t
	}
	ev.Outcome = Outcome(outcome)
	return &ev, nil
}
