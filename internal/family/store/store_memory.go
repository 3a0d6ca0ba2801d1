// Package store provides the family aggregate stores: a thread-safe in-memory
// implementation backing unit tests and a Postgres implementation whose
// uniqueness guarantees live in the schema's unique indexes.
package store

import (
	"context"
	"sync"

	"censo/internal/family"
	"censo/pkg/platform/sentinel"
)

// Memory keeps the whole aggregate in maps under one mutex. It enforces the
// same uniqueness rules the Postgres indexes do, so concurrency tests exercise
// the storage-level guarantee rather than the pre-check alone.
type Memory struct {
	mu sync.Mutex

	nextFamilyID  int64
	nextPersonID  int64
	nextLinkID    int64
	nextHousingID int64

	families         map[int64]*family.Family
	byFingerprint    map[string]int64
	persons          map[int64]*family.Person
	byIdentificacion map[string]int64
	links            []family.RelationshipLink
	housing          map[int64]*family.HousingRecord
}

func NewMemory() *Memory {
	return &Memory{
		families:         make(map[int64]*family.Family),
		byFingerprint:    make(map[string]int64),
		persons:          make(map[int64]*family.Person),
		byIdentificacion: make(map[string]int64),
		housing:          make(map[int64]*family.HousingRecord),
	}
}

// InsertFamily assigns the surrogate id and indexes the fingerprint. A second
// reliable fingerprint is rejected, mirroring the partial unique index.
func (s *Memory) InsertFamily(_ context.Context, f *family.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.FingerprintReliable {
		if _, exists := s.byFingerprint[f.Fingerprint]; exists {
			return family.ErrDuplicateFingerprint
		}
	}

	s.nextFamilyID++
	f.ID = s.nextFamilyID
	cp := *f
	s.families[f.ID] = &cp
	if f.FingerprintReliable {
		s.byFingerprint[f.Fingerprint] = f.ID
	}
	return nil
}

func (s *Memory) GetFamily(_ context.Context, id int64) (*family.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

// FindByFingerprint matches the exact key value, reliable or not. Only
// reliable keys are indexed (the unique guarantee covers only those), so
// unreliable keys fall back to a scan.
func (s *Memory) FindByFingerprint(_ context.Context, key string) (*family.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byFingerprint[key]; ok {
		cp := *s.families[id]
		return &cp, nil
	}
	for _, f := range s.families {
		if f.Fingerprint == key {
			cp := *f
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// FindByContact matches on normalized phone or normalized address. Empty
// inputs never match so households without contact data don't collide.
func (s *Memory) FindByContact(_ context.Context, telefonoNorm, direccionNorm string) (*family.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.families {
		if telefonoNorm != "" && f.TelefonoNorm == telefonoNorm {
			cp := *f
			return &cp, nil
		}
		if direccionNorm != "" && f.DireccionNorm == direccionNorm {
			cp := *f
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Memory) InsertPerson(_ context.Context, p *family.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byIdentificacion[p.Identificacion]; exists {
		return family.ErrDuplicateIdentificacion
	}
	if _, ok := s.families[p.FamilyID]; !ok {
		return sentinel.ErrNotFound
	}

	s.nextPersonID++
	p.ID = s.nextPersonID
	cp := *p
	s.persons[p.ID] = &cp
	s.byIdentificacion[p.Identificacion] = p.ID
	return nil
}

func (s *Memory) InsertLink(_ context.Context, l *family.RelationshipLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.links {
		if existing.PersonID == l.PersonID && existing.FamilyID == l.FamilyID {
			return family.ErrDuplicateLink
		}
		if l.JefeHogar && existing.FamilyID == l.FamilyID && existing.JefeHogar {
			return family.ErrSecondJefeHogar
		}
	}

	s.nextLinkID++
	l.ID = s.nextLinkID
	s.links = append(s.links, *l)
	return nil
}

func (s *Memory) InsertHousing(_ context.Context, h *family.HousingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.families[h.FamilyID]; !ok {
		return sentinel.ErrNotFound
	}

	s.nextHousingID++
	h.ID = s.nextHousingID
	cp := *h
	s.housing[h.ID] = &cp
	return nil
}

// Counts reports row counts for atomicity assertions in tests.
func (s *Memory) Counts() (families, persons, links, housing int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.families), len(s.persons), len(s.links), len(s.housing)
}

type memorySnapshot struct {
	nextFamilyID  int64
	nextPersonID  int64
	nextLinkID    int64
	nextHousingID int64

	families         map[int64]*family.Family
	byFingerprint    map[string]int64
	persons          map[int64]*family.Person
	byIdentificacion map[string]int64
	links            []family.RelationshipLink
	housing          map[int64]*family.HousingRecord
}

// Snapshot captures store state for the memory transaction runner.
func (s *Memory) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memorySnapshot{
		nextFamilyID:     s.nextFamilyID,
		nextPersonID:     s.nextPersonID,
		nextLinkID:       s.nextLinkID,
		nextHousingID:    s.nextHousingID,
		families:         make(map[int64]*family.Family, len(s.families)),
		byFingerprint:    make(map[string]int64, len(s.byFingerprint)),
		persons:          make(map[int64]*family.Person, len(s.persons)),
		byIdentificacion: make(map[string]int64, len(s.byIdentificacion)),
		links:            append([]family.RelationshipLink(nil), s.links...),
		housing:          make(map[int64]*family.HousingRecord, len(s.housing)),
	}
	for id, f := range s.families {
		cp := *f
		snap.families[id] = &cp
	}
	for k, v := range s.byFingerprint {
		snap.byFingerprint[k] = v
	}
	for id, p := range s.persons {
		cp := *p
		snap.persons[id] = &cp
	}
	for k, v := range s.byIdentificacion {
		snap.byIdentificacion[k] = v
	}
	for id, h := range s.housing {
		cp := *h
		snap.housing[id] = &cp
	}
	return snap
}

// Restore rolls the store back to a previously captured snapshot.
func (s *Memory) Restore(v any) {
	snap, ok := v.(memorySnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextFamilyID = snap.nextFamilyID
	s.nextPersonID = snap.nextPersonID
	s.nextLinkID = snap.nextLinkID
	s.nextHousingID = snap.nextHousingID
	s.families = snap.families
	s.byFingerprint = snap.byFingerprint
	s.persons = snap.persons
	s.byIdentificacion = snap.byIdentificacion
	s.links = snap.links
	s.housing = snap.housing
}
