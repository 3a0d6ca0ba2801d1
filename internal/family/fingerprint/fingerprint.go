// Package fingerprint derives the canonical deduplication key for a household.
// It is pure: same logical inputs always yield the same key regardless of
// case, accents, punctuation, or spacing.
package fingerprint

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Input carries the raw identifying fields of a household as submitted.
type Input struct {
	Apellido  string
	Telefono  string
	Direccion string
	Email     string
}

// Fingerprint is the stable matching key. Reliable is false when neither phone
// nor address survived normalization; the duplicate detector downgrades matches
// on unreliable keys to warnings.
type Fingerprint struct {
	Key      string
	Reliable bool

	// Normalized components, kept for the detector's heuristic pass.
	Apellido  string
	Telefono  string
	Direccion string
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Build computes the fingerprint. Phone is the primary disambiguator; address
// takes over when phone is absent.
func Build(in Input) Fingerprint {
	fp := Fingerprint{
		Apellido:  NormalizeText(in.Apellido),
		Telefono:  NormalizePhone(in.Telefono),
		Direccion: NormalizeText(in.Direccion),
	}

	switch {
	case fp.Telefono != "":
		fp.Key = "ap:" + fp.Apellido + "|tel:" + fp.Telefono
		fp.Reliable = true
	case fp.Direccion != "":
		fp.Key = "ap:" + fp.Apellido + "|dir:" + fp.Direccion
		fp.Reliable = true
	default:
		fp.Key = "ap:" + fp.Apellido
		fp.Reliable = false
	}
	return fp
}

// NormalizeText lowercases, strips diacritics and punctuation, and collapses
// runs of whitespace to single spaces.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
		// punctuation and symbols are dropped
	}
	return b.String()
}

// NormalizePhone strips everything but digits.
func NormalizePhone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
