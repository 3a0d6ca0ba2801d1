// Package audit records what happened to each survey: who started it, saved
// it, cancelled it, and how its submission ended. The Postgres store joins the
// commit transaction so a rolled-back submission leaves no audit row claiming
// success.
package audit

import "time"

// Actions recorded by the intake pipeline.
const (
	ActionSurveyStarted       = "survey_started"
	ActionStageSaved          = "stage_saved"
	ActionSurveyCancelled     = "survey_cancelled"
	ActionSubmissionCommitted = "submission_committed"
	ActionSubmissionRejected  = "submission_rejected"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time
	SurveyorID string
	SurveyID   string
	Action     string
	Outcome    string
	Detail     string
}
