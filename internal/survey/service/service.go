// Package service orchestrates the survey wizard lifecycle: start, stage
// saves, auto-saves, resume, and cancellation. The submission itself belongs
// to the intake orchestrator.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"censo/internal/audit"
	"censo/internal/platform/metrics"
	"censo/internal/survey"
	dErrors "censo/pkg/domain-errors"
	"censo/pkg/platform/sentinel"
)

// Store persists survey records with optimistic concurrency on Version.
type Store interface {
	Insert(ctx context.Context, r *survey.Record) error
	Get(ctx context.Context, id uuid.UUID) (*survey.Record, error)
	Update(ctx context.Context, r *survey.Record, expectedVersion int64) error
}

// DraftCache is the optional snapshot cache in front of the store.
type DraftCache interface {
	Put(ctx context.Context, r *survey.Record) error
	Get(ctx context.Context, id uuid.UUID) (*survey.Record, error)
	Evict(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	store       Store
	cache       DraftCache
	audit       *audit.Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	totalStages int
}

func NewService(store Store, cache DraftCache, auditPub *audit.Publisher, m *metrics.Metrics, logger *slog.Logger, totalStages int) *Service {
	return &Service{
		store:       store,
		cache:       cache,
		audit:       auditPub,
		metrics:     m,
		logger:      logger,
		totalStages: totalStages,
	}
}

// Start opens a fresh draft for the surveyor.
func (s *Service) Start(ctx context.Context, surveyorID string) (*survey.Record, error) {
	r := survey.NewRecord(surveyorID, s.totalStages, time.Now())
	if err := s.store.Insert(ctx, r); err != nil {
		return nil, s.translate(err, "start survey")
	}
	s.cachePut(ctx, r)
	s.emit(ctx, r, audit.ActionSurveyStarted, "ok", "")
	return r, nil
}

// Get loads a record for resume, preferring the draft cache. Terminal records
// are still readable; they just reject mutation.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*survey.Record, error) {
	if s.cache != nil {
		if r, err := s.cache.Get(ctx, id); err == nil {
			return r, nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			// Cache trouble is not fatal; fall through to the store.
			s.logger.WarnContext(ctx, "draft cache read failed", "survey_id", id, "error", err.Error())
		}
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.translate(err, "get survey")
	}
	s.cachePut(ctx, r)
	return r, nil
}

// SaveStage persists one stage payload. version must match the record's
// current version; autoSave accepts partial data and skips advancement.
func (s *Service) SaveStage(ctx context.Context, id uuid.UUID, stage int, data json.RawMessage, version int64, autoSave bool) (*survey.Record, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.translate(err, "load survey")
	}
	if r.Version != version {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "stale version %d, current is %d", version, r.Version)
	}

	if err := r.ApplyStageSave(stage, data, autoSave, time.Now()); err != nil {
		return nil, s.translate(err, "save stage")
	}
	if err := s.store.Update(ctx, r, version); err != nil {
		return nil, s.translate(err, "persist stage")
	}
	s.cachePut(ctx, r)

	if autoSave {
		s.metrics.AutoSave()
	} else {
		s.metrics.StageSave()
		s.emit(ctx, r, audit.ActionStageSaved, "ok", r.Stages[stage-1].Seccion)
	}
	return r, nil
}

// Cancel abandons a draft or in-progress survey.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*survey.Record, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.translate(err, "load survey")
	}
	loadedVersion := r.Version
	if err := r.Cancel(time.Now()); err != nil {
		return nil, s.translate(err, "cancel survey")
	}
	if err := s.store.Update(ctx, r, loadedVersion); err != nil {
		return nil, s.translate(err, "persist cancel")
	}
	s.cacheEvict(ctx, id)
	s.emit(ctx, r, audit.ActionSurveyCancelled, "ok", "")
	return r, nil
}

func (s *Service) cachePut(ctx context.Context, r *survey.Record) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, r); err != nil {
		s.logger.WarnContext(ctx, "draft cache write failed", "survey_id", r.ID, "error", err.Error())
	}
}

func (s *Service) cacheEvict(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Evict(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "draft cache evict failed", "survey_id", id, "error", err.Error())
	}
}

func (s *Service) emit(ctx context.Context, r *survey.Record, action, outcome, detail string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Emit(ctx, audit.Event{
		SurveyorID: r.SurveyorID,
		SurveyID:   r.ID.String(),
		Action:     action,
		Outcome:    outcome,
		Detail:     detail,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "survey_id", r.ID, "action", action, "error", err.Error())
	}
}

// translate maps sentinels and passes domain errors through untouched.
func (s *Service) translate(err error, op string) error {
	if de := dErrors.From(err); de != nil {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "survey not found")
	case errors.Is(err, sentinel.ErrStaleVersion):
		return dErrors.New(dErrors.CodeInvalidState, "survey was modified concurrently, reload and retry")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidState, "survey no longer accepts changes")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, op+" temporarily unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
	}
}
