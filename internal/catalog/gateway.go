// Package catalog adapts the read-only reference catalogs (municipios,
// veredas, sectores, housing and identification types, water systems). The
// catalogs themselves are owned elsewhere; this core only resolves ids and
// reports misses as validation failures.
package catalog

import (
	"context"

	dErrors "censo/pkg/domain-errors"
)

// Refs collects every catalog reference one submission carries.
type Refs struct {
	MunicipioID           int64
	VeredaID              int64
	SectorID              int64
	TipoViviendaID        int64
	SistemaAcueductoID    int64
	AguasResidualesID     int64
	TipoIdentificacionIDs []int64
}

// Gateway validates that every referenced catalog row exists. A miss comes
// back as a CodeInvalidReference domain error naming the offending field.
type Gateway interface {
	ValidateReferences(ctx context.Context, refs Refs) error
}

func missingRef(field string) error {
	return dErrors.New(dErrors.CodeInvalidReference, "catalog reference not found").
		WithField(field, "does not exist")
}
