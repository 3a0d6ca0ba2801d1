// Package family holds the household aggregate: the Family row, its Persons,
// housing attributes, and the relationship links that tie members to the
// household. The aggregate is owned transactionally — persons and links never
// outlive their family.
package family

import "time"

// Estado values for a family record.
const (
	EstadoActiva = "activa"
)

// Family is one household.
type Family struct {
	ID             int64
	Codigo         string // public code handed back to the surveyor
	Apellido       string
	Direccion      string
	Telefono       string
	Email          string
	TipoViviendaID int64
	MunicipioID    int64
	VeredaID       int64
	SectorID       int64
	NumIntegrantes int
	Estado         string

	// Fingerprint is the deduplication key derived from normalized surname,
	// phone, and address. Two families must never share a reliable fingerprint.
	Fingerprint         string
	FingerprintReliable bool

	// Normalized contact columns backing the heuristic duplicate lookup.
	TelefonoNorm  string
	DireccionNorm string

	FechaRegistro time.Time
}

// Person is one household member, owned exclusively by one Family.
type Person struct {
	ID                   int64
	FamilyID             int64
	PrimerNombre         string
	SegundoNombre        string
	PrimerApellido       string
	SegundoApellido      string
	TipoIdentificacionID int64
	Identificacion       string // globally unique
	FechaNacimiento      time.Time
	Telefono             string
	TallaCamisa          string
	TallaPantalon        string
	TallaZapatos         string
	Rol                  string
	Habilidades          string
}

// RelationshipLink associates a Person to a Family with a role. At most one
// link per family carries JefeHogar.
type RelationshipLink struct {
	ID         int64
	PersonID   int64
	FamilyID   int64
	Parentesco string
	JefeHogar  bool
}

// HousingRecord captures the housing and utility attributes of a family.
type HousingRecord struct {
	ID                 int64
	FamilyID           int64
	DisposicionBasura  string
	SistemaAcueductoID int64
	AguasResidualesID  int64
}

// Summary is the slice of an existing family surfaced on a duplicate conflict.
type Summary struct {
	ID            int64     `json:"id"`
	Apellido      string    `json:"apellido"`
	Telefono      string    `json:"telefono"`
	FechaRegistro time.Time `json:"fecha_registro"`
}

// Summarize projects a family into its conflict-response shape.
func (f *Family) Summarize() *Summary {
	return &Summary{
		ID:            f.ID,
		Apellido:      f.Apellido,
		Telefono:      f.Telefono,
		FechaRegistro: f.FechaRegistro,
	}
}
