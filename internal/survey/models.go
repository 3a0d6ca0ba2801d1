// Package survey holds the in-progress wizard state: the survey record, its
// ordered stage snapshots, and the state machine that gates advancement and
// completion. A record is created when a surveyor starts a submission, mutated
// on every save and auto-save, and frozen once it reaches a terminal status.
package survey

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	dErrors "censo/pkg/domain-errors"
)

// Status of a survey record. Completed and cancelled are terminal.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Stage section names, in wizard order. Members ride on the submit payload
// rather than a stage of their own.
const (
	SectionGeneralInfo   = "informacion_general"
	SectionHousing       = "vivienda"
	SectionWaterServices = "servicios_agua"
	SectionObservations  = "observaciones"
)

// Sections lists the default wizard layout.
var Sections = []string{SectionGeneralInfo, SectionHousing, SectionWaterServices, SectionObservations}

// DefaultTotalStages matches len(Sections).
const DefaultTotalStages = 4

// StageData is one persisted stage snapshot.
type StageData struct {
	Seccion string          `json:"seccion"`
	Datos   json.RawMessage `json:"datos,omitempty"`
	Valido  bool            `json:"valido"`
	SavedAt time.Time       `json:"saved_at"`
}

// Record is the wizard state prior to commit.
type Record struct {
	ID           uuid.UUID   `json:"id"`
	SurveyorID   string      `json:"surveyor_id"`
	Status       Status      `json:"status"`
	CurrentStage int         `json:"current_stage"` // 1-based, the stage being filled
	TotalStages  int         `json:"total_stages"`
	Stages       []StageData `json:"stages"`

	// Version increases on every persisted save, including auto-saves. A save
	// referencing a stale version is rejected.
	Version        int64      `json:"version"`
	LastSavedStage int        `json:"last_saved_stage"`
	LastAutoSaveAt *time.Time `json:"last_auto_save_at,omitempty"`

	// FamilyID is set when the aggregate writer commits the survey.
	FamilyID *int64 `json:"family_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the record reached a final status.
func (r *Record) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}

// CanResume reports whether the record still accepts saves and submission.
func (r *Record) CanResume() bool {
	return r.Status == StatusDraft || r.Status == StatusInProgress
}

// Progress returns completion as a 0-100 percentage of valid stages.
func (r *Record) Progress() int {
	if r.TotalStages == 0 {
		return 0
	}
	valid := 0
	for _, s := range r.Stages {
		if s.Valido {
			valid++
		}
	}
	return valid * 100 / r.TotalStages
}

// GeneralInfo is stage 1: household identification and geography.
type GeneralInfo struct {
	ApellidoFamiliar string `json:"apellido_familiar"`
	Direccion        string `json:"direccion"`
	Telefono         string `json:"telefono"`
	Email            string `json:"email"`
	MunicipioID      int64  `json:"id_municipio"`
	VeredaID         int64  `json:"id_vereda"`
	SectorID         int64  `json:"id_sector"`
}

// Validate enforces the stage-1 required fields. Telefono stays optional;
// direccion is required so every accepted household carries at least one
// contact attribute for deduplication.
func (g GeneralInfo) Validate() error {
	e := dErrors.New(dErrors.CodeBadRequest, "informacion_general incomplete")
	ok := true
	if g.ApellidoFamiliar == "" {
		e.WithField("informacionGeneral.apellido_familiar", "required")
		ok = false
	}
	if g.Direccion == "" {
		e.WithField("informacionGeneral.direccion", "required")
		ok = false
	}
	if g.MunicipioID <= 0 {
		e.WithField("informacionGeneral.id_municipio", "required")
		ok = false
	}
	if g.VeredaID <= 0 {
		e.WithField("informacionGeneral.id_vereda", "required")
		ok = false
	}
	if g.SectorID <= 0 {
		e.WithField("informacionGeneral.id_sector", "required")
		ok = false
	}
	if !ok {
		return e
	}
	return nil
}

// Housing is stage 2: dwelling type and waste disposal.
type Housing struct {
	TipoViviendaID    int64           `json:"tipo_vivienda_id"`
	DisposicionBasura json.RawMessage `json:"disposicion_basura,omitempty"`
}

func (h Housing) Validate() error {
	if h.TipoViviendaID <= 0 {
		return dErrors.New(dErrors.CodeBadRequest, "vivienda incomplete").
			WithField("vivienda.tipo_vivienda_id", "required")
	}
	return nil
}

// WaterServices is stage 3: aqueduct and wastewater references.
type WaterServices struct {
	SistemaAcueductoID int64 `json:"sistema_acueducto_id"`
	AguasResidualesID  int64 `json:"aguas_residuales_id"`
}

func (w WaterServices) Validate() error {
	e := dErrors.New(dErrors.CodeBadRequest, "servicios_agua incomplete")
	ok := true
	if w.SistemaAcueductoID <= 0 {
		e.WithField("serviciosAgua.sistema_acueducto_id", "required")
		ok = false
	}
	if w.AguasResidualesID <= 0 {
		e.WithField("serviciosAgua.aguas_residuales_id", "required")
		ok = false
	}
	if !ok {
		return e
	}
	return nil
}

// Observations is stage 4: free text plus the data-handling authorization.
type Observations struct {
	Texto             string `json:"texto"`
	AutorizacionDatos bool   `json:"autorizacion_datos"`
}

func (o Observations) Validate() error {
	if !o.AutorizacionDatos {
		return dErrors.New(dErrors.CodeBadRequest, "observaciones incomplete").
			WithField("observaciones.autorizacion_datos", "must be true")
	}
	return nil
}
