package audit

import (
	"context"
	"database/sql"
	"fmt"

	txcontext "censo/pkg/platform/tx"
)

// PostgresStore appends audit events. Writes go through execer(ctx) so the
// submission-outcome event commits or rolls back with the aggregate itself.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if dbtx, ok := txcontext.From(ctx); ok {
		return dbtx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_eventos (timestamp, encuestador_id, encuesta_id, accion, resultado, detalle)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.Timestamp, event.SurveyorID, event.SurveyID,
		event.Action, event.Outcome, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySurvey(ctx context.Context, surveyID string) ([]Event, error) {
	query := `
		SELECT timestamp, encuestador_id, encuesta_id, accion, resultado, detalle
		FROM audit_eventos
		WHERE encuesta_id = $1
		ORDER BY timestamp
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, surveyID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Timestamp, &e.SurveyorID, &e.SurveyID, &e.Action, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
