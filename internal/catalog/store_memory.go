package catalog

import "context"

// Fixture is the in-memory gateway used by tests and local runs. Veredas map
// to their owning municipio so the belongs-to check matches the real catalogs.
type Fixture struct {
	Municipios          map[int64]bool
	Veredas             map[int64]int64 // vereda id -> municipio id
	Sectores            map[int64]bool
	TiposVivienda       map[int64]bool
	SistemasAcueducto   map[int64]bool
	AguasResiduales     map[int64]bool
	TiposIdentificacion map[int64]bool
}

// DefaultFixture returns a small consistent catalog for tests.
func DefaultFixture() *Fixture {
	return &Fixture{
		Municipios:          map[int64]bool{1: true, 2: true},
		Veredas:             map[int64]int64{10: 1, 11: 1, 20: 2},
		Sectores:            map[int64]bool{100: true, 101: true},
		TiposVivienda:       map[int64]bool{1: true, 2: true, 3: true},
		SistemasAcueducto:   map[int64]bool{1: true, 2: true},
		AguasResiduales:     map[int64]bool{1: true, 2: true},
		TiposIdentificacion: map[int64]bool{1: true, 2: true, 3: true},
	}
}

func (f *Fixture) ValidateReferences(_ context.Context, refs Refs) error {
	if !f.Municipios[refs.MunicipioID] {
		return missingRef("informacionGeneral.id_municipio")
	}
	municipio, ok := f.Veredas[refs.VeredaID]
	if !ok || municipio != refs.MunicipioID {
		return missingRef("informacionGeneral.id_vereda")
	}
	if !f.Sectores[refs.SectorID] {
		return missingRef("informacionGeneral.id_sector")
	}
	if !f.TiposVivienda[refs.TipoViviendaID] {
		return missingRef("vivienda.tipo_vivienda_id")
	}
	if !f.SistemasAcueducto[refs.SistemaAcueductoID] {
		return missingRef("serviciosAgua.sistema_acueducto_id")
	}
	if !f.AguasResiduales[refs.AguasResidualesID] {
		return missingRef("serviciosAgua.aguas_residuales_id")
	}
	for _, id := range refs.TipoIdentificacionIDs {
		if !f.TiposIdentificacion[id] {
			return missingRef("familyMembers.tipo_identificacion_id")
		}
	}
	return nil
}
