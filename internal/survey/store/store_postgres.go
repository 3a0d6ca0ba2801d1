package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pgplatform "censo/internal/platform/postgres"
	"censo/internal/survey"
	"censo/pkg/platform/sentinel"
	txcontext "censo/pkg/platform/tx"
)

// Postgres persists survey records. Stage snapshots live in a jsonb column;
// the version column backs the optimistic-concurrency check.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if dbtx, ok := txcontext.From(ctx); ok {
		return dbtx
	}
	return s.db
}

func (s *Postgres) Insert(ctx context.Context, r *survey.Record) error {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	query := `
		INSERT INTO encuestas (
			id, encuestador_id, estado, etapa_actual, total_etapas,
			etapas, version, ultima_etapa_guardada, ultimo_autosave_at,
			familia_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		r.ID, r.SurveyorID, string(r.Status), r.CurrentStage, r.TotalStages,
		stages, r.Version, r.LastSavedStage, r.LastAutoSaveAt,
		r.FamilyID, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return s.translate(err, "insert survey")
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*survey.Record, error) {
	query := `
		SELECT id, encuestador_id, estado, etapa_actual, total_etapas,
			   etapas, version, ultima_etapa_guardada, ultimo_autosave_at,
			   familia_id, created_at, updated_at
		FROM encuestas
		WHERE id = $1
	`
	var (
		r      survey.Record
		status string
		stages []byte
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.SurveyorID, &status, &r.CurrentStage, &r.TotalStages,
		&stages, &r.Version, &r.LastSavedStage, &r.LastAutoSaveAt,
		&r.FamilyID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, s.translate(err, "get survey")
	}
	r.Status = survey.Status(status)
	if err := json.Unmarshal(stages, &r.Stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	return &r, nil
}

// Update persists the record guarded by the version the caller loaded. Zero
// rows affected means another save won the race.
func (s *Postgres) Update(ctx context.Context, r *survey.Record, expectedVersion int64) error {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	query := `
		UPDATE encuestas
		SET estado = $1, etapa_actual = $2, etapas = $3, version = $4,
			ultima_etapa_guardada = $5, ultimo_autosave_at = $6, updated_at = $7
		WHERE id = $8 AND version = $9
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(r.Status), r.CurrentStage, stages, r.Version,
		r.LastSavedStage, r.LastAutoSaveAt, r.UpdatedAt,
		r.ID, expectedVersion,
	)
	if err != nil {
		return s.translate(err, "update survey")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update survey: %w", err)
	}
	if affected == 0 {
		// Either the record is gone or the version moved underneath us.
		if _, getErr := s.Get(ctx, r.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrStaleVersion
	}
	return nil
}

// Complete flips the record to completed inside the writer's transaction. The
// status guard keeps a concurrent cancel from being silently overwritten.
func (s *Postgres) Complete(ctx context.Context, id uuid.UUID, familyID int64, now time.Time) error {
	query := `
		UPDATE encuestas
		SET estado = $1, familia_id = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND estado IN ($5, $6)
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(survey.StatusCompleted), familyID, now,
		id, string(survey.StatusDraft), string(survey.StatusInProgress),
	)
	if err != nil {
		return s.translate(err, "complete survey")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete survey: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Postgres) translate(err error, op string) error {
	if _, ok := pgplatform.UniqueViolation(err); ok {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	if pgplatform.Transient(err) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
