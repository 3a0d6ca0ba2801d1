package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"censo/internal/audit"
	"censo/internal/family"
	"censo/internal/family/dedup"
	"censo/internal/family/fingerprint"
	"censo/internal/family/writer"
	"censo/internal/platform/metrics"
	"censo/internal/survey"
	dErrors "censo/pkg/domain-errors"
	"censo/pkg/platform/sentinel"
)

// SurveyStore is the read side of the survey store the orchestrator needs.
type SurveyStore interface {
	Get(ctx context.Context, id uuid.UUID) (*survey.Record, error)
}

// DraftEvictor drops the cached draft snapshot once a survey is committed.
type DraftEvictor interface {
	Evict(ctx context.Context, id uuid.UUID) error
}

// DuplicateError carries the matched family so the conflict response can show
// it. It unwraps to a CodeDuplicateFamily domain error.
type DuplicateError struct {
	inner  *dErrors.Error
	Match  *family.Summary
	Reason string
}

func (e *DuplicateError) Error() string { return e.inner.Error() }
func (e *DuplicateError) Unwrap() error { return e.inner }

func newDuplicateError(match *family.Summary, reason string) *DuplicateError {
	return &DuplicateError{
		inner:  dErrors.New(dErrors.CodeDuplicateFamily, "household already registered"),
		Match:  match,
		Reason: reason,
	}
}

// SubmitResult is handed back to the surveyor on success.
type SubmitResult struct {
	FamiliaID       int64   `json:"familia_id"`
	CodigoFamilia   string  `json:"codigo_familia"`
	PersonasCreadas int     `json:"personas_creadas"`
	PersonIDs       []int64 `json:"persona_ids"`
}

// Orchestrator sequences a submission: survey state check, terminal-stage
// validation, duplicate detection, and the all-or-nothing commit.
type Orchestrator struct {
	surveys  SurveyStore
	detector *dedup.Detector
	writer   *writer.Writer
	audit    *audit.Publisher
	evictor  DraftEvictor
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewOrchestrator(
	surveys SurveyStore,
	detector *dedup.Detector,
	w *writer.Writer,
	auditPub *audit.Publisher,
	evictor DraftEvictor,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		surveys:  surveys,
		detector: detector,
		writer:   w,
		audit:    auditPub,
		evictor:  evictor,
		metrics:  m,
		logger:   logger,
	}
}

// Submit materializes a completed survey as a family aggregate. A duplicate
// verdict leaves the survey untouched so the surveyor can correct and
// resubmit.
func (o *Orchestrator) Submit(ctx context.Context, surveyID uuid.UUID, payload *SubmissionPayload) (*SubmitResult, error) {
	rec, err := o.surveys.Get(ctx, surveyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "survey not found")
		}
		if errors.Is(err, sentinel.ErrUnavailable) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "survey lookup unavailable")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "survey lookup failed")
	}
	if !rec.CanResume() {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "survey is %s", rec.Status)
	}

	members, err := payload.Validate()
	if err != nil {
		o.metrics.RejectSubmission("validation")
		return nil, err
	}

	fp := fingerprint.Build(fingerprint.Input{
		Apellido:  payload.InformacionGeneral.ApellidoFamiliar,
		Telefono:  payload.InformacionGeneral.Telefono,
		Direccion: payload.InformacionGeneral.Direccion,
		Email:     payload.InformacionGeneral.Email,
	})

	verdict, err := o.detector.Check(ctx, fp)
	if err != nil {
		// Never fail open: a lookup problem is a transient failure, not a
		// clean bill.
		o.metrics.RejectSubmission("detector_unavailable")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "duplicate check unavailable")
	}
	if verdict.IsDuplicate {
		o.metrics.RejectSubmission("duplicate")
		o.emitRejected(ctx, rec, "duplicate: "+verdict.Reason)
		return nil, newDuplicateError(verdict.Match, verdict.Reason)
	}
	if verdict.Reason == dedup.ReasonUnreliableKey {
		o.logger.WarnContext(ctx, "submission with unreliable fingerprint resembles existing family",
			"survey_id", surveyID,
			"matched_family", verdict.Match.ID,
		)
	}

	in := writer.CommitInput{
		SurveyID:   surveyID,
		SurveyorID: rec.SurveyorID,
		Family: family.Family{
			Apellido:            payload.InformacionGeneral.ApellidoFamiliar,
			Direccion:           payload.InformacionGeneral.Direccion,
			Telefono:            payload.InformacionGeneral.Telefono,
			Email:               payload.InformacionGeneral.Email,
			TipoViviendaID:      payload.Vivienda.TipoViviendaID,
			MunicipioID:         payload.InformacionGeneral.MunicipioID,
			VeredaID:            payload.InformacionGeneral.VeredaID,
			SectorID:            payload.InformacionGeneral.SectorID,
			Fingerprint:         fp.Key,
			FingerprintReliable: fp.Reliable,
			TelefonoNorm:        fp.Telefono,
			DireccionNorm:       fp.Direccion,
		},
		Housing: family.HousingRecord{
			DisposicionBasura:  compactJSON(payload.Vivienda.DisposicionBasura),
			SistemaAcueductoID: payload.ServiciosAgua.SistemaAcueductoID,
			AguasResidualesID:  payload.ServiciosAgua.AguasResidualesID,
		},
		Members: members,
		Refs:    payload.Refs(),
	}

	result, err := o.writer.Commit(ctx, in)
	if err != nil {
		reason := "commit_failed"
		if de := dErrors.From(err); de != nil {
			reason = string(de.Code)
		}
		o.metrics.RejectSubmission(reason)
		o.emitRejected(ctx, rec, reason)

		// A race loser hits the fingerprint index after the detector saw
		// nothing; re-run the lookup so the conflict still names the winner.
		if dErrors.Is(err, dErrors.CodeDuplicateFamily) {
			if verdict, checkErr := o.detector.Check(ctx, fp); checkErr == nil && verdict.Match != nil {
				return nil, newDuplicateError(verdict.Match, verdict.Reason)
			}
			return nil, newDuplicateError(nil, "storage_unique_index")
		}
		return nil, err
	}

	o.metrics.AcceptSubmission()
	if o.evictor != nil {
		if err := o.evictor.Evict(ctx, surveyID); err != nil {
			o.logger.WarnContext(ctx, "draft cache evict failed", "survey_id", surveyID, "error", err.Error())
		}
	}

	return &SubmitResult{
		FamiliaID:       result.FamilyID,
		CodigoFamilia:   result.Codigo,
		PersonasCreadas: len(result.PersonIDs),
		PersonIDs:       result.PersonIDs,
	}, nil
}

// emitRejected records the rejection outside any transaction; a failure to
// audit must not mask the original outcome.
func (o *Orchestrator) emitRejected(ctx context.Context, rec *survey.Record, detail string) {
	if o.audit == nil {
		return
	}
	err := o.audit.Emit(ctx, audit.Event{
		Timestamp:  time.Now(),
		SurveyorID: rec.SurveyorID,
		SurveyID:   rec.ID.String(),
		Action:     audit.ActionSubmissionRejected,
		Outcome:    "rejected",
		Detail:     detail,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "audit emit failed", "survey_id", rec.ID, "error", err.Error())
	}
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf []byte
	if json.Valid(raw) {
		buf = raw
	} else {
		buf, _ = json.Marshal(string(raw))
	}
	return string(buf)
}
