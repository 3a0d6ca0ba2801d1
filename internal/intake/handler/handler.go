// Package handler exposes the survey wizard and submission endpoints over
// chi. It owns request decoding, the error envelope, and nothing else; every
// rule lives in the services behind it.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"censo/internal/intake"
	"censo/internal/platform/middleware"
	"censo/internal/survey"
	dErrors "censo/pkg/domain-errors"
)

// SurveyService is the wizard lifecycle the handler drives.
type SurveyService interface {
	Start(ctx context.Context, surveyorID string) (*survey.Record, error)
	Get(ctx context.Context, id uuid.UUID) (*survey.Record, error)
	SaveStage(ctx context.Context, id uuid.UUID, stage int, data json.RawMessage, version int64, autoSave bool) (*survey.Record, error)
	Cancel(ctx context.Context, id uuid.UUID) (*survey.Record, error)
}

// Submitter commits a finished survey.
type Submitter interface {
	Submit(ctx context.Context, surveyID uuid.UUID, payload *intake.SubmissionPayload) (*intake.SubmitResult, error)
}

// HealthCheck probes one dependency for /healthz.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	surveys SurveyService
	intake  Submitter
	checks  map[string]HealthCheck
	logger  *slog.Logger
	timeout time.Duration
}

func New(surveys SurveyService, submitter Submitter, checks map[string]HealthCheck, logger *slog.Logger) *Handler {
	return &Handler{
		surveys: surveys,
		intake:  submitter,
		checks:  checks,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Routes assembles the router with the full middleware chain.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(h.timeout))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/encuestas", func(r chi.Router) {
		r.Use(middleware.SurveyorIdentity)
		r.Post("/", h.startSurvey)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getSurvey)
			r.Put("/etapas/{stage}", h.saveStage)
			r.Post("/cancelar", h.cancelSurvey)
			r.Post("/enviar", h.submit)
		})
	})
	return r
}

func (h *Handler) startSurvey(w http.ResponseWriter, r *http.Request) {
	surveyorID := middleware.GetSurveyorID(r.Context())
	if surveyorID == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "missing surveyor identity").
			WithField("header.X-Surveyor-ID", "required"))
		return
	}
	rec, err := h.surveys.Start(r.Context(), surveyorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSurveyResponse(rec))
}

func (h *Handler) getSurvey(w http.ResponseWriter, r *http.Request) {
	id, err := surveyID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.surveys.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSurveyResponse(rec))
}

type saveStageRequest struct {
	Version int64           `json:"version"`
	Datos   json.RawMessage `json:"datos"`
}

func (h *Handler) saveStage(w http.ResponseWriter, r *http.Request) {
	id, err := surveyID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stage, err := strconv.Atoi(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "stage must be a number"))
		return
	}
	var req saveStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}
	autoSave := r.URL.Query().Get("autosave") == "true"

	rec, err := h.surveys.SaveStage(r.Context(), id, stage, req.Datos, req.Version, autoSave)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSurveyResponse(rec))
}

func (h *Handler) cancelSurvey(w http.ResponseWriter, r *http.Request) {
	id, err := surveyID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.surveys.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSurveyResponse(rec))
}

type submitResponse struct {
	FamiliaID       int64  `json:"familia_id"`
	CodigoFamilia   string `json:"codigo_familia"`
	PersonasCreadas int    `json:"personas_creadas"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, err := surveyID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload intake.SubmissionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	res, err := h.intake.Submit(r.Context(), id, &payload)
	if err != nil {
		var dup *intake.DuplicateError
		if errors.As(err, &dup) {
			writeJSON(w, http.StatusConflict, errorResponse{
				Error:            string(dErrors.CodeDuplicateFamily),
				Message:          "household already registered",
				FamiliaExistente: dup.Match,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		FamiliaID:       res.FamiliaID,
		CodigoFamilia:   res.CodigoFamilia,
		PersonasCreadas: res.PersonasCreadas,
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = "down"
			h.logger.WarnContext(r.Context(), "health check failed", "dependency", name, "error", err.Error())
			continue
		}
		report[name] = "ok"
	}
	writeJSON(w, status, report)
}

func surveyID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "survey id must be a uuid")
	}
	return id, nil
}
