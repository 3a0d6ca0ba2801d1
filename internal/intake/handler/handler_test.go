package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"censo/internal/audit"
	"censo/internal/catalog"
	"censo/internal/family/dedup"
	famstore "censo/internal/family/store"
	"censo/internal/family/writer"
	"censo/internal/intake"
	surveysvc "censo/internal/survey/service"
	surveystore "censo/internal/survey/store"
	dErrors "censo/pkg/domain-errors"
	"censo/pkg/platform/tx"
	"censo/pkg/testutil"
)

func newRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	families := famstore.NewMemory()
	surveys := surveystore.NewMemory()
	audits := audit.NewMemoryStore()
	runner := tx.NewMemoryRunner(families, surveys, audits)
	publisher := audit.NewPublisher(audits)

	svc := surveysvc.NewService(surveys, nil, publisher, nil, logger, 4)
	w := writer.New(families, surveys, audits, catalog.DefaultFixture(), runner, nil, time.Second)
	orch := intake.NewOrchestrator(surveys, dedup.NewDetector(families), w, publisher, nil, nil, logger)

	return New(svc, orch, checks, logger).Routes()
}

func asSurveyor(req *http.Request) *http.Request {
	req.Header.Set("X-Surveyor-ID", "surveyor-1")
	return req
}

func startSurvey(t *testing.T, router http.Handler) *surveyResponse {
	t.Helper()
	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t, http.MethodPost, "/api/encuestas", nil)))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	return testutil.UnmarshalResponse[surveyResponse](t, rr)
}

func stageBody(version int64, datos any) map[string]any {
	return map[string]any{"version": version, "datos": datos}
}

func generalInfo() map[string]any {
	return map[string]any{
		"apellido_familiar": "García",
		"direccion":         "Calle 10 # 4-22",
		"telefono":          "311 222 3344",
		"id_municipio":      1,
		"id_vereda":         10,
		"id_sector":         100,
	}
}

func submission(id1, id2 string) map[string]any {
	return map[string]any{
		"informacionGeneral": generalInfo(),
		"vivienda":           map[string]any{"tipo_vivienda_id": 1},
		"serviciosAgua":      map[string]any{"sistema_acueducto_id": 1, "aguas_residuales_id": 1},
		"observaciones":      map[string]any{"autorizacion_datos": true},
		"familyMembers": []map[string]any{
			{
				"primer_nombre":          "Ana",
				"primer_apellido":        "García",
				"tipo_identificacion_id": 1,
				"identificacion":         id1,
				"fecha_nacimiento":       "1980-05-01",
				"parentesco":             "cabeza de hogar",
				"jefe_hogar":             true,
			},
			{
				"primer_nombre":          "Luis",
				"primer_apellido":        "García",
				"tipo_identificacion_id": 1,
				"identificacion":         id2,
				"fecha_nacimiento":       "2010-03-15",
				"parentesco":             "hijo",
			},
		},
	}
}

func TestStartSurvey(t *testing.T) {
	router := newRouter(t, nil)

	rec := startSurvey(t, router)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "draft", string(rec.Status))
	assert.Equal(t, 1, rec.CurrentStage)
	assert.Equal(t, 4, rec.TotalStages)
	assert.Equal(t, int64(1), rec.Version)
	assert.Zero(t, rec.Progress)
}

func TestStartSurveyWithoutIdentity(t *testing.T) {
	router := newRouter(t, nil)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/encuestas", nil))
	testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
}

func TestSaveStageAdvancesWizard(t *testing.T) {
	router := newRouter(t, nil)
	rec := startSurvey(t, router)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPut, "/api/encuestas/"+rec.ID+"/etapas/1", stageBody(rec.Version, generalInfo()))))
	testutil.AssertStatus(t, rr, http.StatusOK)

	saved := testutil.UnmarshalResponse[surveyResponse](t, rr)
	assert.Equal(t, "in_progress", string(saved.Status))
	assert.Equal(t, 2, saved.CurrentStage)
	assert.Equal(t, rec.Version+1, saved.Version)
	assert.Equal(t, 25, saved.Progress)
	require.Len(t, saved.Stages, 4)
	assert.True(t, saved.Stages[0].Valido)
}

func TestSaveStageIncompleteDataRejected(t *testing.T) {
	router := newRouter(t, nil)
	rec := startSurvey(t, router)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPut, "/api/encuestas/"+rec.ID+"/etapas/1",
		stageBody(rec.Version, map[string]any{"apellido_familiar": "García"}))))
	testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))

	env := testutil.UnmarshalResponse[testutil.ErrorEnvelope](t, rr)
	assert.Contains(t, env.Detail, "informacionGeneral.direccion")
}

func TestAutoSaveAcceptsPartialData(t *testing.T) {
	router := newRouter(t, nil)
	rec := startSurvey(t, router)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPut, "/api/encuestas/"+rec.ID+"/etapas/1?autosave=true",
		stageBody(rec.Version, map[string]any{"apellido_familiar": "García"}))))
	testutil.AssertStatus(t, rr, http.StatusOK)

	saved := testutil.UnmarshalResponse[surveyResponse](t, rr)
	assert.Equal(t, 1, saved.CurrentStage, "auto-save must not advance the wizard")
	assert.Equal(t, rec.Version+1, saved.Version)
	assert.False(t, saved.Stages[0].Valido)
}

func TestSaveStageStaleVersion(t *testing.T) {
	router := newRouter(t, nil)
	rec := startSurvey(t, router)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPut, "/api/encuestas/"+rec.ID+"/etapas/1", stageBody(rec.Version, generalInfo()))))
	testutil.AssertStatus(t, rr, http.StatusOK)

	// Replay with the old version: another device wrote in between.
	rr = testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPut, "/api/encuestas/"+rec.ID+"/etapas/1", stageBody(rec.Version, generalInfo()))))
	testutil.AssertErrorCode(t, rr, http.StatusConflict, string(dErrors.CodeInvalidState))
}

func TestGetUnknownSurvey(t *testing.T) {
	router := newRouter(t, nil)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewRequest(t,
		http.MethodGet, "/api/encuestas/6f1e1d5e-76fb-4dc0-a0b4-5d1f0a94f3a1")))
	testutil.AssertErrorCode(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func TestMalformedSurveyID(t *testing.T) {
	router := newRouter(t, nil)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewRequest(t, http.MethodGet, "/api/encuestas/not-a-uuid")))
	testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
}

func TestCancelSurvey(t *testing.T) {
	router := newRouter(t, nil)
	rec := startSurvey(t, router)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPost, "/api/encuestas/"+rec.ID+"/cancelar", nil)))
	testutil.AssertStatus(t, rr, http.StatusOK)

	cancelled := testutil.UnmarshalResponse[surveyResponse](t, rr)
	assert.Equal(t, "cancelled", string(cancelled.Status))

	// A terminal survey rejects further saves.
	rr = testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPut, "/api/encuestas/"+rec.ID+"/etapas/1", stageBody(cancelled.Version, generalInfo()))))
	testutil.AssertErrorCode(t, rr, http.StatusConflict, string(dErrors.CodeInvalidState))
}

func TestSubmitFullFlow(t *testing.T) {
	router := newRouter(t, nil)
	rec := startSurvey(t, router)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPost, "/api/encuestas/"+rec.ID+"/enviar", submission("1001", "1002"))))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	res := testutil.UnmarshalResponse[submitResponse](t, rr)
	assert.NotZero(t, res.FamiliaID)
	assert.NotEmpty(t, res.CodigoFamilia)
	assert.Equal(t, 2, res.PersonasCreadas)

	rr = testutil.DoRequest(router, asSurveyor(testutil.NewRequest(t, http.MethodGet, "/api/encuestas/"+rec.ID)))
	testutil.AssertStatus(t, rr, http.StatusOK)
	stored := testutil.UnmarshalResponse[surveyResponse](t, rr)
	assert.Equal(t, "completed", string(stored.Status))
	require.NotNil(t, stored.FamilyID)
	assert.Equal(t, res.FamiliaID, *stored.FamilyID)
}

func TestSubmitDuplicateHousehold(t *testing.T) {
	router := newRouter(t, nil)
	first := startSurvey(t, router)
	second := startSurvey(t, router)

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPost, "/api/encuestas/"+first.ID+"/enviar", submission("1001", "1002"))))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[submitResponse](t, rr)

	rr = testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPost, "/api/encuestas/"+second.ID+"/enviar", submission("2001", "2002"))))
	testutil.AssertErrorCode(t, rr, http.StatusConflict, string(dErrors.CodeDuplicateFamily))

	env := testutil.UnmarshalResponse[testutil.ErrorEnvelope](t, rr)
	require.NotNil(t, env.FamiliaExistente)
	assert.Equal(t, float64(created.FamiliaID), env.FamiliaExistente["id"])
	assert.Equal(t, "García", env.FamiliaExistente["apellido"])
}

func TestSubmitIncompletePayload(t *testing.T) {
	router := newRouter(t, nil)
	rec := startSurvey(t, router)

	payload := submission("1001", "1002")
	payload["observaciones"] = map[string]any{"autorizacion_datos": false}

	rr := testutil.DoRequest(router, asSurveyor(testutil.NewJSONRequest(t,
		http.MethodPost, "/api/encuestas/"+rec.ID+"/enviar", payload)))
	testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))

	env := testutil.UnmarshalResponse[testutil.ErrorEnvelope](t, rr)
	assert.Contains(t, env.Detail, "observaciones.autorizacion_datos")
}

func TestHealthz(t *testing.T) {
	router := newRouter(t, map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
	})
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatus(t, rr, http.StatusOK)

	router = newRouter(t, map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)

	report := testutil.UnmarshalResponse[map[string]string](t, rr)
	assert.Equal(t, "down", (*report)["redis"])
}
