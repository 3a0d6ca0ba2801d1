package family

import (
	"fmt"

	"censo/pkg/platform/sentinel"
)

// Uniqueness facts reported by stores. Both the memory and Postgres
// implementations return these so the writer classifies conflicts the same way
// regardless of backend. All wrap sentinel.ErrConflict.
var (
	ErrDuplicateFingerprint    = fmt.Errorf("family fingerprint already registered: %w", sentinel.ErrConflict)
	ErrDuplicateIdentificacion = fmt.Errorf("identification number already registered: %w", sentinel.ErrConflict)
	ErrDuplicateLink           = fmt.Errorf("person already linked to family: %w", sentinel.ErrConflict)
	ErrSecondJefeHogar         = fmt.Errorf("family already has a head of household: %w", sentinel.ErrConflict)
)
