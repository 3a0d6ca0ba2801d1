package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"censo/internal/family"
	"censo/internal/family/fingerprint"
	famstore "censo/internal/family/store"
	"censo/pkg/platform/sentinel"
)

func seedFamily(t *testing.T, store *famstore.Memory, apellido, telefono, direccion string) *family.Family {
	t.Helper()
	fp := fingerprint.Build(fingerprint.Input{Apellido: apellido, Telefono: telefono, Direccion: direccion})
	f := &family.Family{
		Apellido:            apellido,
		Telefono:            telefono,
		Direccion:           direccion,
		Estado:              family.EstadoActiva,
		Fingerprint:         fp.Key,
		FingerprintReliable: fp.Reliable,
		TelefonoNorm:        fp.Telefono,
		DireccionNorm:       fp.Direccion,
	}
	require.NoError(t, store.InsertFamily(context.Background(), f))
	return f
}

func TestCheckExactFingerprintMatch(t *testing.T) {
	store := famstore.NewMemory()
	existing := seedFamily(t, store, "García", "3001234567", "Calle 1")
	detector := NewDetector(store)

	fp := fingerprint.Build(fingerprint.Input{Apellido: "garcia", Telefono: "300 123 4567", Direccion: "Calle 1"})
	res, err := detector.Check(context.Background(), fp)
	require.NoError(t, err)

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, ReasonExactFingerprint, res.Reason)
	require.NotNil(t, res.Match)
	assert.Equal(t, existing.ID, res.Match.ID)
	assert.Equal(t, "García", res.Match.Apellido)
}

func TestCheckHeuristicPhoneMatch(t *testing.T) {
	store := famstore.NewMemory()
	existing := seedFamily(t, store, "García", "3001234567", "Calle 1")
	detector := NewDetector(store)

	// Same phone, differently spelled surname: exact key misses, heuristic hits.
	fp := fingerprint.Build(fingerprint.Input{Apellido: "Garzia", Telefono: "3001234567", Direccion: "Calle 9"})
	res, err := detector.Check(context.Background(), fp)
	require.NoError(t, err)

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, ReasonContactHeuristic, res.Reason)
	assert.Equal(t, existing.ID, res.Match.ID)
}

func TestCheckHeuristicAddressFallback(t *testing.T) {
	store := famstore.NewMemory()
	existing := seedFamily(t, store, "García", "3001234567", "Calle 1")
	detector := NewDetector(store)

	// Phone omitted, identical address.
	fp := fingerprint.Build(fingerprint.Input{Apellido: "Garzia", Direccion: "calle 1"})
	res, err := detector.Check(context.Background(), fp)
	require.NoError(t, err)

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, ReasonContactHeuristic, res.Reason)
	assert.Equal(t, existing.ID, res.Match.ID)
}

func TestCheckNoMatch(t *testing.T) {
	store := famstore.NewMemory()
	seedFamily(t, store, "García", "3001234567", "Calle 1")
	detector := NewDetector(store)

	fp := fingerprint.Build(fingerprint.Input{Apellido: "Rodríguez", Telefono: "3119998877", Direccion: "Carrera 8"})
	res, err := detector.Check(context.Background(), fp)
	require.NoError(t, err)

	assert.False(t, res.IsDuplicate)
	assert.Nil(t, res.Match)
}

func TestCheckUnreliableKeyDowngradesToWarning(t *testing.T) {
	store := famstore.NewMemory()
	// Existing family registered without any contact data.
	seedFamily(t, store, "García", "", "")
	detector := NewDetector(store)

	fp := fingerprint.Build(fingerprint.Input{Apellido: "García"})
	require.False(t, fp.Reliable)

	res, err := detector.Check(context.Background(), fp)
	require.NoError(t, err)

	assert.False(t, res.IsDuplicate, "surname-only match must not hard-reject")
	assert.Equal(t, ReasonUnreliableKey, res.Reason)
	assert.NotNil(t, res.Match)
}

type failingStore struct{}

func (failingStore) FindByFingerprint(context.Context, string) (*family.Family, error) {
	return nil, sentinel.ErrUnavailable
}

func (failingStore) FindByContact(context.Context, string, string) (*family.Family, error) {
	return nil, sentinel.ErrUnavailable
}

func TestCheckNeverFailsOpen(t *testing.T) {
	detector := NewDetector(failingStore{})

	fp := fingerprint.Build(fingerprint.Input{Apellido: "García", Telefono: "3001234567"})
	_, err := detector.Check(context.Background(), fp)

	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}
