package audit

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) ListBySurvey(_ context.Context, surveyID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.SurveyID == surveyID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Snapshot captures store state for the memory transaction runner.
func (s *MemoryStore) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Restore rolls the store back to a previously captured snapshot.
func (s *MemoryStore) Restore(v any) {
	snap, ok := v.([]Event)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = snap
}
