package survey

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	dErrors "censo/pkg/domain-errors"
	"censo/pkg/platform/sentinel"
)

// NewRecord creates a fresh draft with empty stage slots.
func NewRecord(surveyorID string, totalStages int, now time.Time) *Record {
	if totalStages <= 0 {
		totalStages = DefaultTotalStages
	}
	stages := make([]StageData, totalStages)
	for i := range stages {
		if i < len(Sections) {
			stages[i].Seccion = Sections[i]
		} else {
			stages[i].Seccion = fmt.Sprintf("etapa_%d", i+1)
		}
	}
	return &Record{
		ID:           uuid.New(),
		SurveyorID:   surveyorID,
		Status:       StatusDraft,
		CurrentStage: 1,
		TotalStages:  totalStages,
		Stages:       stages,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ValidateStage checks one stage payload against its section predicate.
// Unknown extra stages beyond the four sections only require non-empty data.
func ValidateStage(section string, data json.RawMessage) error {
	if len(data) == 0 {
		return dErrors.Newf(dErrors.CodeBadRequest, "%s: empty stage payload", section)
	}
	switch section {
	case SectionGeneralInfo:
		var g GeneralInfo
		if err := json.Unmarshal(data, &g); err != nil {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed informacion_general")
		}
		return g.Validate()
	case SectionHousing:
		var h Housing
		if err := json.Unmarshal(data, &h); err != nil {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed vivienda")
		}
		return h.Validate()
	case SectionWaterServices:
		var w WaterServices
		if err := json.Unmarshal(data, &w); err != nil {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed servicios_agua")
		}
		return w.Validate()
	case SectionObservations:
		var o Observations
		if err := json.Unmarshal(data, &o); err != nil {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed observaciones")
		}
		return o.Validate()
	default:
		if !json.Valid(data) {
			return dErrors.Newf(dErrors.CodeBadRequest, "%s: invalid JSON", section)
		}
		return nil
	}
}

// ApplyStageSave records a stage payload on the record. An explicit save
// requires the stage to validate and advances CurrentStage when the active
// stage was saved; an auto-save accepts partial data, marks the stage's
// validity, and never advances. Both bump Version and LastSavedStage.
func (r *Record) ApplyStageSave(stage int, data json.RawMessage, autoSave bool, now time.Time) error {
	if !r.CanResume() {
		return fmt.Errorf("survey %s is %s: %w", r.ID, r.Status, sentinel.ErrInvalidState)
	}
	if stage < 1 || stage > r.TotalStages {
		return dErrors.Newf(dErrors.CodeBadRequest, "stage %d out of range 1..%d", stage, r.TotalStages)
	}

	validationErr := ValidateStage(r.Stages[stage-1].Seccion, data)
	if !autoSave && validationErr != nil {
		return validationErr
	}

	slot := &r.Stages[stage-1]
	slot.Datos = data
	slot.Valido = validationErr == nil
	slot.SavedAt = now

	if !autoSave && stage == r.CurrentStage && r.CurrentStage < r.TotalStages {
		r.CurrentStage++
	}
	if autoSave {
		t := now
		r.LastAutoSaveAt = &t
	}

	r.Version++
	r.LastSavedStage = stage
	r.Status = StatusInProgress
	r.UpdatedAt = now
	return nil
}

// Cancel moves a draft or in-progress record to cancelled.
func (r *Record) Cancel(now time.Time) error {
	if !r.CanResume() {
		return fmt.Errorf("survey %s is %s: %w", r.ID, r.Status, sentinel.ErrInvalidState)
	}
	r.Status = StatusCancelled
	r.Version++
	r.UpdatedAt = now
	return nil
}

// ValidateForSubmission enforces the terminal-stage rules: every stage must be
// present and valid. Errors aggregate field detail across stages.
func (r *Record) ValidateForSubmission() error {
	agg := dErrors.New(dErrors.CodeBadRequest, "survey incomplete")
	ok := true
	for i := range r.Stages {
		s := &r.Stages[i]
		if err := ValidateStage(s.Seccion, s.Datos); err != nil {
			ok = false
			if de := dErrors.From(err); de != nil && len(de.Fields) > 0 {
				for path, problem := range de.Fields {
					agg.WithField(path, problem)
				}
			} else {
				agg.WithField(s.Seccion, "invalid")
			}
		}
	}
	if !ok {
		return agg
	}
	return nil
}

// Section returns the decoded payload of one named section.
func (r *Record) Section(name string, out any) error {
	for i := range r.Stages {
		if r.Stages[i].Seccion == name {
			if len(r.Stages[i].Datos) == 0 {
				return dErrors.Newf(dErrors.CodeBadRequest, "%s: no data saved", name)
			}
			if err := json.Unmarshal(r.Stages[i].Datos, out); err != nil {
				return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed "+name)
			}
			return nil
		}
	}
	return dErrors.Newf(dErrors.CodeBadRequest, "unknown section %s", name)
}
