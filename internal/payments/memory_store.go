package payments

import (
	"context"
	"sync"
)

// MemoryStore implements Store for demo/testing.
type MemoryStore struct {
	mu           sync.RWMutex
	byID         map[string]*ShiftPayment
	byAssignment map[string]string // assignmentID -> paymentID
	byEscrow     map[string]string // escrowID -> paymentID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[string]*ShiftPayment),
		byAssignment: make(map[string]string),
		byEscrow:     make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, p *ShiftPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.byID[p.ID] = &cp
	s.byAssignment[p.AssignmentID] = p.ID
	s.byEscrow[p.EscrowID] = p.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*ShiftPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *MemoryStore) GetByAssignment(_ context.Context, assignmentID string) (*ShiftPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAssignment[assignmentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return s.get(id)
}

func (s *MemoryStore) GetByEscrow(_ context.Context, escrowID string) (*ShiftPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEscrow[escrowID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return s.get(id)
}

func (s *MemoryStore) GetByExternalTx(_ context.Context, provider, externalTxID string) (*ShiftPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if p.Provider == provider && p.ExternalTxID == externalTxID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *MemoryStore) Update(_ context.Context, p *ShiftPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*ShiftPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ShiftPayment
	for _, p := range s.byID {
		if p.Status != status {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) get(id string) (*ShiftPayment, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}
