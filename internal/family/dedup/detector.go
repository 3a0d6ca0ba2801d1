// Package dedup decides whether a submitted household already exists. It is
// read-only: the storage-layer unique index remains the final authority, the
// detector exists to reject obvious duplicates before a transaction is opened.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"censo/internal/family"
	"censo/internal/family/fingerprint"
	"censo/pkg/platform/sentinel"
)

// Store is the read side of the family store the detector needs.
type Store interface {
	FindByFingerprint(ctx context.Context, key string) (*family.Family, error)
	FindByContact(ctx context.Context, telefonoNorm, direccionNorm string) (*family.Family, error)
}

// Result reports the detector's verdict. Match is populated on any hit so the
// caller can build the conflict response; Reason explains the verdict. A match
// against an unreliable fingerprint sets Reason but leaves IsDuplicate false:
// surname alone is too weak to hard-reject on.
type Result struct {
	IsDuplicate bool
	Match       *family.Summary
	Reason      string
}

const (
	ReasonExactFingerprint = "fingerprint_exact"
	ReasonContactHeuristic = "contact_heuristic"
	ReasonUnreliableKey    = "unreliable_fingerprint_warning"
)

type Detector struct {
	store Store
}

func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// Check runs the exact fingerprint lookup, then the contact heuristic. A
// lookup failure is surfaced as an error, never as "no duplicate" — the
// detector must not fail open.
func (d *Detector) Check(ctx context.Context, fp fingerprint.Fingerprint) (Result, error) {
	match, err := d.store.FindByFingerprint(ctx, fp.Key)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return Result{}, fmt.Errorf("fingerprint lookup: %w", err)
	}
	if match != nil {
		if !fp.Reliable {
			return Result{Match: match.Summarize(), Reason: ReasonUnreliableKey}, nil
		}
		return Result{
			IsDuplicate: true,
			Match:       match.Summarize(),
			Reason:      ReasonExactFingerprint,
		}, nil
	}

	// Heuristic pass catches surname-spelling drift: same phone or same
	// address under a differently written apellido.
	match, err = d.store.FindByContact(ctx, fp.Telefono, fp.Direccion)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return Result{}, fmt.Errorf("contact lookup: %w", err)
	}
	if match == nil {
		return Result{}, nil
	}
	return Result{
		IsDuplicate: true,
		Match:       match.Summarize(),
		Reason:      ReasonContactHeuristic,
	}, nil
}
