// Package store persists survey records: a mutex-guarded memory
// implementation for tests and a Postgres implementation whose Complete joins
// the aggregate writer's transaction.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"censo/internal/survey"
	"censo/pkg/platform/sentinel"
)

type Memory struct {
	mu      sync.Mutex
	records map[uuid.UUID]*survey.Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[uuid.UUID]*survey.Record)}
}

func (s *Memory) Insert(_ context.Context, r *survey.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.ID]; exists {
		return sentinel.ErrConflict
	}
	s.records[r.ID] = cloneRecord(r)
	return nil
}

func (s *Memory) Get(_ context.Context, id uuid.UUID) (*survey.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(r), nil
}

// Update replaces the stored record when the caller saw the current version.
// expectedVersion is the version the caller loaded; the incoming record
// already carries the bumped one.
func (s *Memory) Update(_ context.Context, r *survey.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return sentinel.ErrStaleVersion
	}
	s.records[r.ID] = cloneRecord(r)
	return nil
}

// Complete flips the record to completed and pins the family id. Rejected for
// terminal records so a cancel that lands first wins.
func (s *Memory) Complete(_ context.Context, id uuid.UUID, familyID int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !r.CanResume() {
		return sentinel.ErrInvalidState
	}
	r.Status = survey.StatusCompleted
	r.FamilyID = &familyID
	r.Version++
	r.UpdatedAt = now
	return nil
}

// Snapshot captures store state for the memory transaction runner.
func (s *Memory) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[uuid.UUID]*survey.Record, len(s.records))
	for id, r := range s.records {
		snap[id] = cloneRecord(r)
	}
	return snap
}

// Restore rolls the store back to a previously captured snapshot.
func (s *Memory) Restore(v any) {
	snap, ok := v.(map[uuid.UUID]*survey.Record)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = snap
}

func cloneRecord(r *survey.Record) *survey.Record {
	cp := *r
	cp.Stages = make([]survey.StageData, len(r.Stages))
	copy(cp.Stages, r.Stages)
	for i := range cp.Stages {
		if r.Stages[i].Datos != nil {
			cp.Stages[i].Datos = append([]byte(nil), r.Stages[i].Datos...)
		}
	}
	if r.LastAutoSaveAt != nil {
		t := *r.LastAutoSaveAt
		cp.LastAutoSaveAt = &t
	}
	if r.FamilyID != nil {
		id := *r.FamilyID
		cp.FamilyID = &id
	}
	return &cp
}
