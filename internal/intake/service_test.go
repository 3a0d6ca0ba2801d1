package intake

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"censo/internal/audit"
	"censo/internal/catalog"
	"censo/internal/family/dedup"
	famstore "censo/internal/family/store"
	"censo/internal/family/writer"
	"censo/internal/survey"
	surveystore "censo/internal/survey/store"
	dErrors "censo/pkg/domain-errors"
	"censo/pkg/platform/tx"
)

type fixture struct {
	orch     *Orchestrator
	families *famstore.Memory
	surveys  *surveystore.Memory
	audits   *audit.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	families := famstore.NewMemory()
	surveys := surveystore.NewMemory()
	audits := audit.NewMemoryStore()
	runner := tx.NewMemoryRunner(families, surveys, audits)
	w := writer.New(families, surveys, audits, catalog.DefaultFixture(), runner, nil, time.Second)
	orch := NewOrchestrator(
		surveys,
		dedup.NewDetector(families),
		w,
		audit.NewPublisher(audits),
		nil,
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return &fixture{orch: orch, families: families, surveys: surveys, audits: audits}
}

func (f *fixture) startSurvey(t *testing.T) *survey.Record {
	t.Helper()
	r := survey.NewRecord("surveyor-1", survey.DefaultTotalStages, time.Now())
	require.NoError(t, f.surveys.Insert(context.Background(), r))
	return r
}

func validSubmission() *SubmissionPayload {
	return &SubmissionPayload{
		InformacionGeneral: survey.GeneralInfo{
			ApellidoFamiliar: "García",
			Direccion:        "Calle 10 # 4-22",
			Telefono:         "311 222 3344",
			MunicipioID:      1,
			VeredaID:         10,
			SectorID:         100,
		},
		Vivienda: survey.Housing{
			TipoViviendaID:    1,
			DisposicionBasura: []byte(`{"recoleccion":true}`),
		},
		ServiciosAgua: survey.WaterServices{
			SistemaAcueductoID: 1,
			AguasResidualesID:  1,
		},
		Observaciones: survey.Observations{AutorizacionDatos: true},
		FamilyMembers: []MemberPayload{
			{
				PrimerNombre:         "Ana",
				PrimerApellido:       "García",
				TipoIdentificacionID: 1,
				Identificacion:       "1001",
				FechaNacimiento:      "1980-05-01",
				Parentesco:           "cabeza de hogar",
				JefeHogar:            true,
			},
			{
				PrimerNombre:         "Luis",
				PrimerApellido:       "García",
				TipoIdentificacionID: 1,
				Identificacion:       "1002",
				FechaNacimiento:      "2010-03-15",
				Parentesco:           "hijo",
			},
		},
	}
}

func TestSubmitHappyPath(t *testing.T) {
	f := newFixture(t)
	rec := f.startSurvey(t)

	res, err := f.orch.Submit(context.Background(), rec.ID, validSubmission())
	require.NoError(t, err)

	assert.NotZero(t, res.FamiliaID)
	assert.NotEmpty(t, res.CodigoFamilia)
	assert.Equal(t, 2, res.PersonasCreadas)
	assert.Len(t, res.PersonIDs, 2)

	stored, err := f.surveys.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, survey.StatusCompleted, stored.Status)
	require.NotNil(t, stored.FamilyID)
	assert.Equal(t, res.FamiliaID, *stored.FamilyID)
}

func TestSubmitIdenticalHouseholdRejected(t *testing.T) {
	f := newFixture(t)
	first := f.startSurvey(t)
	second := f.startSurvey(t)

	res, err := f.orch.Submit(context.Background(), first.ID, validSubmission())
	require.NoError(t, err)

	payload := validSubmission()
	payload.FamilyMembers[0].Identificacion = "2001"
	payload.FamilyMembers[1].Identificacion = "2002"
	preVersion := mustGet(t, f, second.ID).Version

	_, err = f.orch.Submit(context.Background(), second.ID, payload)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeDuplicateFamily))

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	require.NotNil(t, dup.Match)
	assert.Equal(t, res.FamiliaID, dup.Match.ID, "conflict must name the existing family")
	assert.Equal(t, dedup.ReasonExactFingerprint, dup.Reason)

	stored := mustGet(t, f, second.ID)
	assert.Equal(t, survey.StatusDraft, stored.Status, "rejected survey stays resumable")
	assert.Equal(t, preVersion, stored.Version, "rejection must not mutate the survey")

	families, _, _, _ := f.families.Counts()
	assert.Equal(t, 1, families)

	events, err := f.audits.ListBySurvey(context.Background(), second.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionSubmissionRejected, events[0].Action)
}

func TestSubmitContactHeuristicCatchesSpellingDrift(t *testing.T) {
	f := newFixture(t)
	first := f.startSurvey(t)
	second := f.startSurvey(t)

	_, err := f.orch.Submit(context.Background(), first.ID, validSubmission())
	require.NoError(t, err)

	// Surname spelled without the accent and phone omitted: the exact key
	// misses, the shared address must still flag it.
	payload := validSubmission()
	payload.InformacionGeneral.ApellidoFamiliar = "Garcia Lopez"
	payload.InformacionGeneral.Telefono = ""
	payload.FamilyMembers[0].Identificacion = "2001"
	payload.FamilyMembers[1].Identificacion = "2002"

	_, err = f.orch.Submit(context.Background(), second.ID, payload)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeDuplicateFamily))

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, dedup.ReasonContactHeuristic, dup.Reason)
}

func TestSubmitConcurrentIdenticalHouseholds(t *testing.T) {
	f := newFixture(t)

	const contenders = 8
	surveys := make([]*survey.Record, contenders)
	for i := range surveys {
		surveys[i] = f.startSurvey(t)
	}

	var accepted atomic.Int64
	var rejected atomic.Int64
	var g errgroup.Group
	for i := 0; i < contenders; i++ {
		id := surveys[i].ID
		g.Go(func() error {
			payload := validSubmission()
			payload.FamilyMembers[0].Identificacion = uuid.NewString()
			payload.FamilyMembers[1].Identificacion = uuid.NewString()
			_, err := f.orch.Submit(context.Background(), id, payload)
			if err == nil {
				accepted.Add(1)
				return nil
			}
			if dErrors.Is(err, dErrors.CodeDuplicateFamily) {
				rejected.Add(1)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), accepted.Load(), "exactly one contender may win")
	assert.Equal(t, int64(contenders-1), rejected.Load())

	families, _, _, _ := f.families.Counts()
	assert.Equal(t, 1, families)
}

func TestSubmitValidationAggregatesFieldErrors(t *testing.T) {
	f := newFixture(t)
	rec := f.startSurvey(t)

	payload := validSubmission()
	payload.InformacionGeneral.ApellidoFamiliar = ""
	payload.Observaciones.AutorizacionDatos = false
	payload.FamilyMembers[1].FechaNacimiento = "15/03/2010"

	_, err := f.orch.Submit(context.Background(), rec.ID, payload)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))

	de := dErrors.From(err)
	require.NotNil(t, de)
	assert.Contains(t, de.Fields, "informacionGeneral.apellido_familiar")
	assert.Contains(t, de.Fields, "observaciones.autorizacion_datos")
	assert.Contains(t, de.Fields, "familyMembers[1].fecha_nacimiento")
}

func TestSubmitUnknownSurvey(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Submit(context.Background(), uuid.New(), validSubmission())
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
}

func TestSubmitCancelledSurvey(t *testing.T) {
	f := newFixture(t)
	rec := f.startSurvey(t)
	require.NoError(t, rec.Cancel(time.Now()))
	require.NoError(t, f.surveys.Update(context.Background(), rec, rec.Version-1))

	_, err := f.orch.Submit(context.Background(), rec.ID, validSubmission())
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func mustGet(t *testing.T, f *fixture, id uuid.UUID) *survey.Record {
	t.Helper()
	r, err := f.surveys.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}
