// Package webhooks ingests gateway callbacks. Providers deliver
// at-least-once with no ordering guarantees, so every event passes a
// signature check and a (provider, event_id) dedup gate before it is
// allowed anywhere near the escrow state machine.
package webhooks

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEventNotFound   = errors.New("webhooks: event not found")
	ErrDuplicateEvent  = errors.New("webhooks: event already recorded")
	ErrPayloadMismatch = errors.New("webhooks: redelivered event carries a different payload")
)

// Outcome is the recorded result of processing an event. Replays return
// the stored outcome instead of reprocessing.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeRejected  Outcome = "rejected"
)

// Event is the dedup record for one provider callback.
type Event struct {
	Provider    string     `json:"provider"`
	EventID     string     `json:"eventId"`
	PayloadHash string     `json:"payloadHash"` // sha256 hex of the raw body
	ReceivedAt  time.Time  `json:"receivedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	Outcome     Outcome    `json:"outcome,omitempty"`
}

// Store persists webhook dedup records. Insert must enforce uniqueness
// of (provider, event_id) and return ErrDuplicateEvent on conflict;
// that constraint is the replay protection.
type Store interface {
	Insert(ctx context.Context, ev *Event) error
	Get(ctx context.Context, provider, eventID string) (*Event, error)
	SetOutcome(ctx context.Context, provider, eventID string, outcome Outcome, processedAt time.Time) error
	// List returns events newest first. A non-zero before bounds the
	// page to events received strictly earlier, for cursor pagination.
	List(ctx context.Context, provider string, before time.Time, limit int) ([]*Event, error)
}
