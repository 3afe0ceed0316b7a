package graph

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripPerson removes the person's label from every box in the encounter
// and resyncs the derived membership. Returns true if anything changed.
func StripPerson(e *Encounter, personID uuid.UUID) bool {
	changed := false
	for _, photo := range e.Photos {
		for _, box := range photo.Boxes {
			if box.PersonID != nil && *box.PersonID == personID {
				box.ClearLabel()
				changed = true
			}
		}
	}
	if changed {
		e.SyncPeople()
	}
	return changed
}

// ReassignPerson rewrites every box labeled with oldID to newID/newName
// and resyncs membership. Returns true if anything changed.
func ReassignPerson(e *Encounter, oldID, newID uuid.UUID, newName string) bool {
	changed := false
	for _, photo := range e.Photos {
		for _, box := range photo.Boxes {
			if box.PersonID != nil && *box.PersonID == oldID {
				id := newID
				box.PersonID = &id
				box.PersonName = newName
				changed = true
			}
		}
	}
	if changed {
		e.SyncPeople()
	}
	return changed
}

// RenamePerson fans a person rename out to the denormalized box names.
// Returns true if anything changed.
func RenamePerson(e *Encounter, personID uuid.UUID, newName string) bool {
	changed := false
	for _, photo := range e.Photos {
		for _, box := range photo.Boxes {
			if box.PersonID != nil && *box.PersonID == personID && box.PersonName != newName {
				box.PersonName = newName
				changed = true
			}
		}
	}
	return changed
}

// ClearProfileEmbedding nulls the person's profile reference if it points
// at the given embedding. Returns true if it did.
func ClearProfileEmbedding(p *Person, embeddingID uuid.UUID) bool {
	if p.ProfileEmbeddingID != nil && *p.ProfileEmbeddingID == embeddingID {
		p.ProfileEmbeddingID = nil
		return true
	}
	return false
}

// RemoveDiacritics removes diacritical marks from a string
// (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName normalizes a person name for comparison (lowercase, no
// diacritics, dashes folded to spaces).
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}
