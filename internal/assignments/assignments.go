// Package assignments is the read-only contract against the staffing
// system that owns shift assignments. Payment orchestration never
// mutates assignments; it only needs the parties, the agreed amount,
// and the lifecycle status.
package assignments

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrAssignmentNotFound = errors.New("assignments: not found")

// Status is the staffing-side lifecycle of an assignment.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ShiftAssignment is the slice of the staffing record that payments
// care about. Amount is in minor units of Currency.
type ShiftAssignment struct {
	ID          string     `json:"id"`
	WorkerID    string     `json:"workerId"`
	BusinessID  string     `json:"businessId"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Reader resolves assignments by ID. CompletedSince supports the
// scheduled release batch: assignments completed after the cutoff whose
// payout has not run yet.
type Reader interface {
	Get(ctx context.Context, id string) (*ShiftAssignment, error)
	CompletedSince(ctx context.Context, cutoff time.Time, limit int) ([]*ShiftAssignment, error)
}

// MemoryReader is an in-memory Reader for development and tests.
type MemoryReader struct {
	mu   sync.RWMutex
	byID map[string]*ShiftAssignment
}

func NewMemoryReader() *MemoryReader {
	return &MemoryReader{byID: make(map[string]*ShiftAssignment)}
}

// Put inserts or replaces an assignment.
func (r *MemoryReader) Put(a *ShiftAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.byID[a.ID] = &cp
}

func (r *MemoryReader) Get(_ context.Context, id string) (*ShiftAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryReader) CompletedSince(_ context.Context, cutoff time.Time, limit int) ([]*ShiftAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ShiftAssignment
	for _, a := range r.byID {
		if a.Status != StatusCompleted || a.CompletedAt == nil || a.CompletedAt.Before(cutoff) {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
