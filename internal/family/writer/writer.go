// Package writer materializes a validated submission as a Family aggregate in
// one all-or-nothing transaction: family row, housing attributes, persons,
// relationship links, survey completion, and the audit row. Insert order is
// fixed by the foreign keys; any failure rolls the whole aggregate back.
package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"censo/internal/audit"
	"censo/internal/catalog"
	"censo/internal/family"
	"censo/internal/platform/metrics"
	dErrors "censo/pkg/domain-errors"
	"censo/pkg/platform/sentinel"
	"censo/pkg/platform/tx"
)

// AggregateStore is the write side of the family store the writer drives.
type AggregateStore interface {
	InsertFamily(ctx context.Context, f *family.Family) error
	InsertHousing(ctx context.Context, h *family.HousingRecord) error
	InsertPerson(ctx context.Context, p *family.Person) error
	InsertLink(ctx context.Context, l *family.RelationshipLink) error
}

// SurveyCompleter flips the originating survey to completed inside the same
// transaction.
type SurveyCompleter interface {
	Complete(ctx context.Context, id uuid.UUID, familyID int64, now time.Time) error
}

// Member pairs a person with their relationship to the household. Index is
// the position in the submitted familyMembers array, kept for error
// addressing.
type Member struct {
	Person     family.Person
	Parentesco string
	JefeHogar  bool
	Index      int
}

// CommitInput is a fully validated submission ready to persist.
type CommitInput struct {
	SurveyID   uuid.UUID
	SurveyorID string
	Family     family.Family
	Housing    family.HousingRecord
	Members    []Member
	Refs       catalog.Refs
}

// CommitResult reports the identifiers of the new aggregate.
type CommitResult struct {
	FamilyID  int64
	Codigo    string
	PersonIDs []int64
}

const defaultCommitTimeout = 5 * time.Second

type Writer struct {
	store   AggregateStore
	surveys SurveyCompleter
	auditor audit.Store
	gateway catalog.Gateway
	runner  tx.Runner
	metrics *metrics.Metrics
	timeout time.Duration
}

func New(store AggregateStore, surveys SurveyCompleter, auditor audit.Store, gateway catalog.Gateway, runner tx.Runner, m *metrics.Metrics, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = defaultCommitTimeout
	}
	return &Writer{
		store:   store,
		surveys: surveys,
		auditor: auditor,
		gateway: gateway,
		runner:  runner,
		metrics: m,
		timeout: timeout,
	}
}

// Commit persists the aggregate. The fingerprint unique index is the final
// duplicate authority: the loser of a concurrent race receives the same
// CodeDuplicateFamily the synchronous detector produces.
func (w *Writer) Commit(ctx context.Context, in CommitInput) (*CommitResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	var result CommitResult

	err := w.runner.RunInTx(ctx, func(ctx context.Context) error {
		// (1) every catalog reference must resolve before any row is written
		if err := w.gateway.ValidateReferences(ctx, in.Refs); err != nil {
			return err
		}

		// (2) family row; the store fills in the surrogate id
		f := in.Family
		f.Codigo = uuid.NewString()
		f.Estado = family.EstadoActiva
		f.NumIntegrantes = len(in.Members)
		if f.FechaRegistro.IsZero() {
			f.FechaRegistro = time.Now()
		}
		if err := w.store.InsertFamily(ctx, &f); err != nil {
			return err
		}

		// (3) housing attributes reference the family id
		h := in.Housing
		h.FamilyID = f.ID
		if err := w.store.InsertHousing(ctx, &h); err != nil {
			return err
		}

		// (4) persons, identification uniqueness enforced by the store
		personIDs := make([]int64, 0, len(in.Members))
		for _, m := range in.Members {
			p := m.Person
			p.FamilyID = f.ID
			if err := w.store.InsertPerson(ctx, &p); err != nil {
				if errors.Is(err, family.ErrDuplicateIdentificacion) {
					return dErrors.New(dErrors.CodeDuplicateIdentification, "identification number already registered").
						WithField(fmt.Sprintf("familyMembers[%d].identificacion", m.Index), p.Identificacion)
				}
				return err
			}
			personIDs = append(personIDs, p.ID)
		}

		// (5) relationship links, single jefe-hogar enforced by the store
		for i, m := range in.Members {
			l := family.RelationshipLink{
				PersonID:   personIDs[i],
				FamilyID:   f.ID,
				Parentesco: m.Parentesco,
				JefeHogar:  m.JefeHogar,
			}
			if err := w.store.InsertLink(ctx, &l); err != nil {
				if errors.Is(err, family.ErrSecondJefeHogar) {
					return dErrors.New(dErrors.CodeBadRequest, "family already has a head of household").
						WithField(fmt.Sprintf("familyMembers[%d].jefe_hogar", m.Index), "duplicate head of household")
				}
				return err
			}
		}

		// (6) survey completes inside the same transaction
		if err := w.surveys.Complete(ctx, in.SurveyID, f.ID, time.Now()); err != nil {
			return err
		}

		if w.auditor != nil {
			err := w.auditor.Append(ctx, audit.Event{
				Timestamp:  time.Now(),
				SurveyorID: in.SurveyorID,
				SurveyID:   in.SurveyID.String(),
				Action:     audit.ActionSubmissionCommitted,
				Outcome:    "ok",
				Detail:     fmt.Sprintf("familia %d, %d personas", f.ID, len(personIDs)),
			})
			if err != nil {
				return err
			}
		}

		result = CommitResult{FamilyID: f.ID, Codigo: f.Codigo, PersonIDs: personIDs}
		return nil
	})

	w.metrics.ObserveCommit(start)
	if err != nil {
		return nil, w.translate(err)
	}
	return &result, nil
}

// translate maps store facts onto the typed error taxonomy. Domain errors
// built inside the transaction pass through untouched.
func (w *Writer) translate(err error) error {
	if de := dErrors.From(err); de != nil {
		return err
	}
	switch {
	case errors.Is(err, family.ErrDuplicateFingerprint):
		return dErrors.New(dErrors.CodeDuplicateFamily, "household already registered")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidState, "survey no longer accepts submission")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "survey not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "commit did not complete, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit failed")
	}
}
