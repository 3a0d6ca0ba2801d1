// Package intake is the submission entry point: it sequences survey-state
// validation, duplicate detection, and the aggregate writer, and owns the
// submission payload shape.
package intake

import (
	"fmt"
	"time"

	"censo/internal/catalog"
	"censo/internal/family"
	"censo/internal/family/writer"
	"censo/internal/survey"
	dErrors "censo/pkg/domain-errors"
)

// SubmissionPayload is the completed household survey as posted by the
// wizard's final step.
type SubmissionPayload struct {
	InformacionGeneral survey.GeneralInfo   `json:"informacionGeneral"`
	Vivienda           survey.Housing       `json:"vivienda"`
	ServiciosAgua      survey.WaterServices `json:"serviciosAgua"`
	Observaciones      survey.Observations  `json:"observaciones"`
	FamilyMembers      []MemberPayload      `json:"familyMembers"`
}

// MemberPayload is one household member as submitted.
type MemberPayload struct {
	PrimerNombre         string `json:"primer_nombre"`
	SegundoNombre        string `json:"segundo_nombre"`
	PrimerApellido       string `json:"primer_apellido"`
	SegundoApellido      string `json:"segundo_apellido"`
	TipoIdentificacionID int64  `json:"tipo_identificacion_id"`
	Identificacion       string `json:"identificacion"`
	FechaNacimiento      string `json:"fecha_nacimiento"` // YYYY-MM-DD
	Telefono             string `json:"telefono"`
	Parentesco           string `json:"parentesco"`
	JefeHogar            bool   `json:"jefe_hogar"`
	TallaCamisa          string `json:"talla_camisa"`
	TallaPantalon        string `json:"talla_pantalon"`
	TallaZapatos         string `json:"talla_zapatos"`
	Rol                  string `json:"rol"`
	Habilidades          string `json:"habilidades"`
}

const birthDateLayout = "2006-01-02"

// Validate enforces the terminal-stage rules over the whole payload and
// converts members into their persisted shape. All problems are aggregated
// into one field-addressable CodeBadRequest error.
func (p *SubmissionPayload) Validate() ([]writer.Member, error) {
	agg := dErrors.New(dErrors.CodeBadRequest, "submission incomplete")
	ok := true

	collect := func(err error) {
		if err == nil {
			return
		}
		ok = false
		if de := dErrors.From(err); de != nil && len(de.Fields) > 0 {
			for path, problem := range de.Fields {
				agg.WithField(path, problem)
			}
			return
		}
		agg.WithField("payload", err.Error())
	}

	collect(p.InformacionGeneral.Validate())
	collect(p.Vivienda.Validate())
	collect(p.ServiciosAgua.Validate())
	collect(p.Observaciones.Validate())

	if len(p.FamilyMembers) == 0 {
		ok = false
		agg.WithField("familyMembers", "at least one member required")
	}

	members := make([]writer.Member, 0, len(p.FamilyMembers))
	heads := 0
	for i, m := range p.FamilyMembers {
		path := func(field string) string { return fmt.Sprintf("familyMembers[%d].%s", i, field) }
		if m.PrimerNombre == "" {
			ok = false
			agg.WithField(path("primer_nombre"), "required")
		}
		if m.PrimerApellido == "" {
			ok = false
			agg.WithField(path("primer_apellido"), "required")
		}
		if m.TipoIdentificacionID <= 0 {
			ok = false
			agg.WithField(path("tipo_identificacion_id"), "required")
		}
		if m.Identificacion == "" {
			ok = false
			agg.WithField(path("identificacion"), "required")
		}
		if m.Parentesco == "" {
			ok = false
			agg.WithField(path("parentesco"), "required")
		}
		var born time.Time
		if m.FechaNacimiento == "" {
			ok = false
			agg.WithField(path("fecha_nacimiento"), "required")
		} else {
			var err error
			born, err = time.Parse(birthDateLayout, m.FechaNacimiento)
			if err != nil {
				ok = false
				agg.WithField(path("fecha_nacimiento"), "expected YYYY-MM-DD")
			}
		}
		if m.JefeHogar {
			heads++
		}

		members = append(members, writer.Member{
			Person: family.Person{
				PrimerNombre:         m.PrimerNombre,
				SegundoNombre:        m.SegundoNombre,
				PrimerApellido:       m.PrimerApellido,
				SegundoApellido:      m.SegundoApellido,
				TipoIdentificacionID: m.TipoIdentificacionID,
				Identificacion:       m.Identificacion,
				FechaNacimiento:      born,
				Telefono:             m.Telefono,
				TallaCamisa:          m.TallaCamisa,
				TallaPantalon:        m.TallaPantalon,
				TallaZapatos:         m.TallaZapatos,
				Rol:                  m.Rol,
				Habilidades:          m.Habilidades,
			},
			Parentesco: m.Parentesco,
			JefeHogar:  m.JefeHogar,
			Index:      i,
		})
	}

	if len(p.FamilyMembers) > 0 && heads != 1 {
		ok = false
		agg.WithField("familyMembers", "exactly one member must be marked jefe_hogar")
	}

	if !ok {
		return nil, agg
	}
	return members, nil
}

// Refs collects every catalog reference in the payload for gateway validation.
func (p *SubmissionPayload) Refs() catalog.Refs {
	ids := make([]int64, 0, len(p.FamilyMembers))
	for _, m := range p.FamilyMembers {
		ids = append(ids, m.TipoIdentificacionID)
	}
	return catalog.Refs{
		MunicipioID:           p.InformacionGeneral.MunicipioID,
		VeredaID:              p.InformacionGeneral.VeredaID,
		SectorID:              p.InformacionGeneral.SectorID,
		TipoViviendaID:        p.Vivienda.TipoViviendaID,
		SistemaAcueductoID:    p.ServiciosAgua.SistemaAcueductoID,
		AguasResidualesID:     p.ServiciosAgua.AguasResidualesID,
		TipoIdentificacionIDs: ids,
	}
}
