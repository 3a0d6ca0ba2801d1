package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"censo/internal/family"
	pgplatform "censo/internal/platform/postgres"
	"censo/pkg/platform/sentinel"
	txcontext "censo/pkg/platform/tx"
)

// Constraint names from migrations/0001_init.sql. The writer's conflict
// classification depends on these staying in sync with the schema ledger.
const (
	constraintFingerprint    = "familias_fingerprint_uidx"
	constraintIdentificacion = "personas_identificacion_key"
	constraintLinkPair       = "parentesco_links_persona_familia_key"
	constraintJefeHogar      = "parentesco_links_jefe_uidx"
)

// Postgres persists the family aggregate. Every statement goes through
// execer(ctx) so inserts join the writer's transaction when one is in flight.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if dbtx, ok := txcontext.From(ctx); ok {
		return dbtx
	}
	return s.db
}

// InsertFamily inserts the family row and fills in the generated id. The
// partial unique index on fingerprint is the authority on duplicates: a
// violation surfaces as family.ErrDuplicateFingerprint even when the
// synchronous detector saw nothing.
func (s *Postgres) InsertFamily(ctx context.Context, f *family.Family) error {
	query := `
		INSERT INTO familias (
			codigo, apellido, direccion, telefono, email,
			tipo_vivienda_id, municipio_id, vereda_id, sector_id,
			num_integrantes, estado,
			fingerprint, fingerprint_confiable, telefono_norm, direccion_norm,
			fecha_registro
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		f.Codigo, f.Apellido, f.Direccion, f.Telefono, f.Email,
		f.TipoViviendaID, f.MunicipioID, f.VeredaID, f.SectorID,
		f.NumIntegrantes, f.Estado,
		f.Fingerprint, f.FingerprintReliable, f.TelefonoNorm, f.DireccionNorm,
		f.FechaRegistro,
	).Scan(&f.ID)
	if err != nil {
		return s.translate(err, "insert family")
	}
	return nil
}

func (s *Postgres) GetFamily(ctx context.Context, id int64) (*family.Family, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

// FindByFingerprint matches the exact key value, reliable or not; the partial
// unique index only guarantees uniqueness for reliable keys but lookups treat
// the column uniformly.
func (s *Postgres) FindByFingerprint(ctx context.Context, key string) (*family.Family, error) {
	return s.findOne(ctx, `WHERE fingerprint = $1 ORDER BY id LIMIT 1`, key)
}

// FindByContact matches on normalized phone or normalized address. Empty
// inputs are excluded so missing contact data never matches missing contact
// data.
func (s *Postgres) FindByContact(ctx context.Context, telefonoNorm, direccionNorm string) (*family.Family, error) {
	return s.findOne(ctx, `
		WHERE ($1 <> '' AND telefono_norm = $1)
		   OR ($2 <> '' AND direccion_norm = $2)
		ORDER BY id
		LIMIT 1`, telefonoNorm, direccionNorm)
}

func (s *Postgres) findOne(ctx context.Context, where string, args ...any) (*family.Family, error) {
	query := `
		SELECT id, codigo, apellido, direccion, telefono, email,
			   tipo_vivienda_id, municipio_id, vereda_id, sector_id,
			   num_integrantes, estado,
			   fingerprint, fingerprint_confiable, telefono_norm, direccion_norm,
			   fecha_registro
		FROM familias ` + where

	var f family.Family
	err := s.execer(ctx).QueryRowContext(ctx, query, args...).Scan(
		&f.ID, &f.Codigo, &f.Apellido, &f.Direccion, &f.Telefono, &f.Email,
		&f.TipoViviendaID, &f.MunicipioID, &f.VeredaID, &f.SectorID,
		&f.NumIntegrantes, &f.Estado,
		&f.Fingerprint, &f.FingerprintReliable, &f.TelefonoNorm, &f.DireccionNorm,
		&f.FechaRegistro,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, s.translate(err, "find family")
	}
	return &f, nil
}

func (s *Postgres) InsertPerson(ctx context.Context, p *family.Person) error {
	query := `
		INSERT INTO personas (
			familia_id, primer_nombre, segundo_nombre, primer_apellido, segundo_apellido,
			tipo_identificacion_id, identificacion, fecha_nacimiento,
			telefono, talla_camisa, talla_pantalon, talla_zapatos, rol, habilidades
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		p.FamilyID, p.PrimerNombre, p.SegundoNombre, p.PrimerApellido, p.SegundoApellido,
		p.TipoIdentificacionID, p.Identificacion, p.FechaNacimiento,
		p.Telefono, p.TallaCamisa, p.TallaPantalon, p.TallaZapatos, p.Rol, p.Habilidades,
	).Scan(&p.ID)
	if err != nil {
		return s.translate(err, "insert person")
	}
	return nil
}

func (s *Postgres) InsertLink(ctx context.Context, l *family.RelationshipLink) error {
	query := `
		INSERT INTO parentesco_links (persona_id, familia_id, parentesco, jefe_hogar)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		l.PersonID, l.FamilyID, l.Parentesco, l.JefeHogar,
	).Scan(&l.ID)
	if err != nil {
		return s.translate(err, "insert relationship link")
	}
	return nil
}

func (s *Postgres) InsertHousing(ctx context.Context, h *family.HousingRecord) error {
	query := `
		INSERT INTO vivienda_registros (familia_id, disposicion_basura, sistema_acueducto_id, aguas_residuales_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		h.FamilyID, h.DisposicionBasura, h.SistemaAcueductoID, h.AguasResidualesID,
	).Scan(&h.ID)
	if err != nil {
		return s.translate(err, "insert housing record")
	}
	return nil
}

// translate maps driver errors onto the store's error vocabulary: unique
// violations become the aggregate's typed conflicts, transient failures wrap
// sentinel.ErrUnavailable.
func (s *Postgres) translate(err error, op string) error {
	if constraint, ok := pgplatform.UniqueViolation(err); ok {
		switch constraint {
		case constraintFingerprint:
			return family.ErrDuplicateFingerprint
		case constraintIdentificacion:
			return family.ErrDuplicateIdentificacion
		case constraintLinkPair:
			return family.ErrDuplicateLink
		case constraintJefeHogar:
			return family.ErrSecondJefeHogar
		}
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	if pgplatform.Transient(err) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
