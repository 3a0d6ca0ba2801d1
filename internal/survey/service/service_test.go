package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"censo/internal/audit"
	"censo/internal/survey"
	"censo/internal/survey/store"
	dErrors "censo/pkg/domain-errors"
	"censo/pkg/platform/sentinel"
)

// fakeCache is an in-memory stand-in for the Redis draft cache.
type fakeCache struct {
	mu      sync.Mutex
	drafts  map[uuid.UUID]*survey.Record
	failing bool
	evicts  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{drafts: make(map[uuid.UUID]*survey.Record)}
}

func (c *fakeCache) Put(_ context.Context, r *survey.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("cache down")
	}
	c.drafts[r.ID] = r
	return nil
}

func (c *fakeCache) Get(_ context.Context, id uuid.UUID) (*survey.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return nil, errors.New("cache down")
	}
	r, ok := c.drafts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r, nil
}

func (c *fakeCache) Evict(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("cache down")
	}
	c.evicts++
	delete(c.drafts, id)
	return nil
}

func newService(cache DraftCache) (*Service, *store.Memory, *audit.MemoryStore) {
	st := store.NewMemory()
	audits := audit.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, cache, audit.NewPublisher(audits), nil, logger, survey.DefaultTotalStages), st, audits
}

var generalInfoJSON = json.RawMessage(`{
	"apellido_familiar": "García",
	"direccion": "Calle 10 # 4-22",
	"id_municipio": 1,
	"id_vereda": 10,
	"id_sector": 100
}`)

func TestStartCreatesDraftAndAudits(t *testing.T) {
	svc, _, audits := newService(nil)

	r, err := svc.Start(context.Background(), "surveyor-1")
	require.NoError(t, err)
	assert.Equal(t, survey.StatusDraft, r.Status)
	assert.Equal(t, "surveyor-1", r.SurveyorID)

	events, err := audits.ListBySurvey(context.Background(), r.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionSurveyStarted, events[0].Action)
}

func TestGetPrefersCache(t *testing.T) {
	cache := newFakeCache()
	svc, st, _ := newService(cache)

	r, err := svc.Start(context.Background(), "surveyor-1")
	require.NoError(t, err)

	// Poison the store copy; a cache hit must not reach it.
	stored, err := st.Get(context.Background(), r.ID)
	require.NoError(t, err)
	stored.SurveyorID = "someone-else"
	require.NoError(t, st.Update(context.Background(), stored, stored.Version))

	got, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "surveyor-1", got.SurveyorID)
}

func TestGetFallsBackWhenCacheFails(t *testing.T) {
	cache := newFakeCache()
	svc, _, _ := newService(cache)

	r, err := svc.Start(context.Background(), "surveyor-1")
	require.NoError(t, err)

	cache.failing = true
	got, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err, "cache trouble must not fail the read")
	assert.Equal(t, r.ID, got.ID)
}

func TestSaveStageExplicit(t *testing.T) {
	cache := newFakeCache()
	svc, _, audits := newService(cache)

	r, err := svc.Start(context.Background(), "surveyor-1")
	require.NoError(t, err)

	saved, err := svc.SaveStage(context.Background(), r.ID, 1, generalInfoJSON, r.Version, false)
	require.NoError(t, err)
	assert.Equal(t, survey.StatusInProgress, saved.Status)
	assert.Equal(t, 2, saved.CurrentStage)
	assert.Equal(t, r.Version+1, saved.Version)

	events, err := audits.ListBySurvey(context.Background(), r.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionStageSaved, events[1].Action)
	assert.Equal(t, survey.SectionGeneralInfo, events[1].Detail)
}

func TestSaveStageAutoSaveSkipsAudit(t *testing.T) {
	svc, _, audits := newService(nil)

	r, err := svc.Start(context.Background(), "surveyor-1")
	require.NoError(t, err)

	partial := json.RawMessage(`{"apellido_familiar": "García"}`)
	saved, err := svc.SaveStage(context.Background(), r.ID, 1, partial, r.Version, true)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.CurrentStage)
	assert.NotNil(t, saved.LastAutoSaveAt)

	events, err := audits.ListBySurvey(context.Background(), r.ID.String())
	require.NoError(t, err)
	assert.Len(t, events, 1, "auto-saves are not audited")
}

func TestSaveStageStaleVersion(t *testing.T) {
	svc, _, _ := newService(nil)

	r, err := svc.Start(context.Background(), "surveyor-1")
	require.NoError(t, err)

	_, err = svc.SaveStage(context.Background(), r.ID, 1, generalInfoJSON, r.Version, false)
	require.NoError(t, err)

	_, err = svc.SaveStage(context.Background(), r.ID, 1, generalInfoJSON, r.Version, false)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestCancelEvictsDraft(t *testing.T) {
	cache := newFakeCache()
	svc, _, audits := newService(cache)

	r, err := svc.Start(context.Background(), "surveyor-1")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, survey.StatusCancelled, cancelled.Status)
	assert.Equal(t, 1, cache.evicts)
	assert.NotContains(t, cache.drafts, r.ID)

	events, err := audits.ListBySurvey(context.Background(), r.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionSurveyCancelled, events[1].Action)

	_, err = svc.Cancel(context.Background(), r.ID)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestGetUnknownSurvey(t *testing.T) {
	svc, _, _ := newService(nil)

	_, err := svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
}
