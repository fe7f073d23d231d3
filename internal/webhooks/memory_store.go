package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store for demo/testing.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event // key: provider + "\x00" + eventID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

func key(provider, eventID string) string {
	return provider + "\x00" + eventID
}

func (s *MemoryStore) Insert(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(ev.Provider, ev.EventID)
	if _, ok := s.events[k]; ok {
		return ErrDuplicateEvent
	}
	cp := *ev
	s.events[k] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, provider, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[key(provider, eventID)]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) SetOutcome(_ context.Context, provider, eventID string, outcome Outcome, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[key(provider, eventID)]
	if !ok {
		return ErrEventNotFound
	}
	ev.Outcome = outcome
	ev.ProcessedAt = &processedAt
	return nil
}

func (s *MemoryStore) List(_ context.Context, provider string, before time.Time, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, ev := range s.events {
		if provider != "" && ev.Provider != provider {
			continue
		}
		if !before.IsZero() && !ev.ReceivedAt.Before(before) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
