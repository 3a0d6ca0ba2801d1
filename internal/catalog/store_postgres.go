package catalog

import (
	"context"
	"database/sql"
	"fmt"

	pgplatform "censo/internal/platform/postgres"
	"censo/pkg/platform/sentinel"
	txcontext "censo/pkg/platform/tx"
)

// Postgres resolves catalog references against the lookup tables. Read-only;
// queries join the writer's transaction when one is in flight so the
// existence check and the insert see the same snapshot.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (g *Postgres) querier(ctx context.Context) rowQuerier {
	if dbtx, ok := txcontext.From(ctx); ok {
		return dbtx
	}
	return g.db
}

func (g *Postgres) ValidateReferences(ctx context.Context, refs Refs) error {
	checks := []struct {
		query string
		args  []any
		field string
	}{
		{`SELECT EXISTS (SELECT 1 FROM municipios WHERE id = $1)`, []any{refs.MunicipioID}, "informacionGeneral.id_municipio"},
		{`SELECT EXISTS (SELECT 1 FROM veredas WHERE id = $1 AND municipio_id = $2)`, []any{refs.VeredaID, refs.MunicipioID}, "informacionGeneral.id_vereda"},
		{`SELECT EXISTS (SELECT 1 FROM sectores WHERE id = $1)`, []any{refs.SectorID}, "informacionGeneral.id_sector"},
		{`SELECT EXISTS (SELECT 1 FROM tipos_vivienda WHERE id = $1)`, []any{refs.TipoViviendaID}, "vivienda.tipo_vivienda_id"},
		{`SELECT EXISTS (SELECT 1 FROM sistemas_acueducto WHERE id = $1)`, []any{refs.SistemaAcueductoID}, "serviciosAgua.sistema_acueducto_id"},
		{`SELECT EXISTS (SELECT 1 FROM aguas_residuales WHERE id = $1)`, []any{refs.AguasResidualesID}, "serviciosAgua.aguas_residuales_id"},
	}

	for _, c := range checks {
		if err := g.checkExists(ctx, c.query, c.args, c.field); err != nil {
			return err
		}
	}
	for _, id := range refs.TipoIdentificacionIDs {
		err := g.checkExists(ctx,
			`SELECT EXISTS (SELECT 1 FROM tipos_identificacion WHERE id = $1)`,
			[]any{id}, "familyMembers.tipo_identificacion_id")
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *Postgres) checkExists(ctx context.Context, query string, args []any, field string) error {
	var exists bool
	if err := g.querier(ctx).QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		if pgplatform.Transient(err) {
			return fmt.Errorf("catalog lookup: %w", sentinel.ErrUnavailable)
		}
		return fmt.Errorf("catalog lookup: %w", err)
	}
	if !exists {
		return missingRef(field)
	}
	return nil
}
