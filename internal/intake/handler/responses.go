package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"censo/internal/family"
	"censo/internal/survey"
	dErrors "censo/pkg/domain-errors"
)

// errorResponse is the uniform failure envelope. Detail carries field-level
// problems for validation failures; FamiliaExistente is set only on duplicate
// conflicts so the surveyor can show the matched household.
type errorResponse struct {
	Error            string            `json:"error"`
	Message          string            `json:"message,omitempty"`
	Detail           map[string]string `json:"detail,omitempty"`
	FamiliaExistente *family.Summary   `json:"familia_existente,omitempty"`
}

// surveyResponse is the wizard-facing view of a survey record.
type surveyResponse struct {
	ID             string          `json:"id"`
	Status         survey.Status   `json:"status"`
	CurrentStage   int             `json:"current_stage"`
	TotalStages    int             `json:"total_stages"`
	Version        int64           `json:"version"`
	Progress       int             `json:"progress"`
	LastSavedStage int             `json:"last_saved_stage"`
	Stages         []stageResponse `json:"stages"`
	FamilyID       *int64          `json:"family_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type stageResponse struct {
	Seccion string    `json:"seccion"`
	Valido  bool      `json:"valido"`
	SavedAt time.Time `json:"saved_at,omitempty"`
}

func toSurveyResponse(r *survey.Record) surveyResponse {
	stages := make([]stageResponse, 0, len(r.Stages))
	for _, s := range r.Stages {
		stages = append(stages, stageResponse{Seccion: s.Seccion, Valido: s.Valido, SavedAt: s.SavedAt})
	}
	return surveyResponse{
		ID:             r.ID.String(),
		Status:         r.Status,
		CurrentStage:   r.CurrentStage,
		TotalStages:    r.TotalStages,
		Version:        r.Version,
		Progress:       r.Progress(),
		LastSavedStage: r.LastSavedStage,
		Stages:         stages,
		FamilyID:       r.FamilyID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a domain error onto the envelope. Errors without a domain
// code are treated as internal and their text never leaves the process.
func writeError(w http.ResponseWriter, err error) {
	de := dErrors.From(err)
	if de == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   string(dErrors.CodeInternal),
			Message: "internal error",
		})
		return
	}
	writeJSON(w, dErrors.ToHTTPStatus(de.Code), errorResponse{
		Error:   string(de.Code),
		Message: de.Message,
		Detail:  de.Fields,
	})
}
