package graph

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/geometry"
)

func testEncounterWith(people ...*Person) *Encounter {
	e := NewEncounter(time.Now())
	photo := NewEncounterPhoto(e.ID, e.Date)
	for i, p := range people {
		box := &FaceBoundingBox{
			ID:      uuid.New(),
			PhotoID: photo.ID,
			Rect:    geometry.Rect{X: float64(i) * 0.2, Y: 0.1, W: 0.1, H: 0.1},
		}
		box.Assign(p.ID, p.Name, nil, false)
		photo.Boxes = append(photo.Boxes, box)
	}
	e.Photos = append(e.Photos, photo)
	e.SyncPeople()
	return e
}

func TestSyncPeople(t *testing.T) {
	alice := NewPerson("Alice")
	bob := NewPerson("Bob")
	e := testEncounterWith(alice, bob, alice) // alice labeled twice

	if len(e.PersonIDs) != 2 {
		t.Fatalf("membership size = %d, want 2 (deduplicated)", len(e.PersonIDs))
	}
	if !e.HasPerson(alice.ID) || !e.HasPerson(bob.ID) {
		t.Error("membership missing labeled person")
	}

	// Clearing a box removes its person from membership.
	e.Photos[0].Boxes[1].ClearLabel()
	e.SyncPeople()
	if e.HasPerson(bob.ID) {
		t.Error("bob still in membership after his only box was cleared")
	}
}

func TestStripPerson(t *testing.T) {
	alice := NewPerson("Alice")
	bob := NewPerson("Bob")
	e := testEncounterWith(alice, bob)

	if !StripPerson(e, alice.ID) {
		t.Fatal("StripPerson reported no change")
	}
	for _, box := range e.Photos[0].Boxes {
		if box.PersonID != nil && *box.PersonID == alice.ID {
			t.Error("box still references stripped person")
		}
	}
	if e.HasPerson(alice.ID) {
		t.Error("membership still contains stripped person")
	}
	if !e.HasPerson(bob.ID) {
		t.Error("unrelated person lost from membership")
	}
	if StripPerson(e, alice.ID) {
		t.Error("second strip should be a no-op")
	}
}

func TestReassignPerson(t *testing.T) {
	old := NewPerson("Old Name")
	target := NewPerson("Target")
	e := testEncounterWith(old)

	if !ReassignPerson(e, old.ID, target.ID, target.Name) {
		t.Fatal("ReassignPerson reported no change")
	}
	box := e.Photos[0].Boxes[0]
	if box.PersonID == nil || *box.PersonID != target.ID {
		t.Error("box not rewritten to target person")
	}
	if box.PersonName != "Target" {
		t.Errorf("denormalized name = %q, want Target", box.PersonName)
	}
	if e.HasPerson(old.ID) || !e.HasPerson(target.ID) {
		t.Error("membership not resynced after reassign")
	}
}

func TestRenamePerson(t *testing.T) {
	p := NewPerson("Before")
	e := testEncounterWith(p)

	if !RenamePerson(e, p.ID, "After") {
		t.Fatal("RenamePerson reported no change")
	}
	if e.Photos[0].Boxes[0].PersonName != "After" {
		t.Error("denormalized box name not updated")
	}
	if RenamePerson(e, p.ID, "After") {
		t.Error("rename to same name should be a no-op")
	}
}

func TestClearProfileEmbedding(t *testing.T) {
	p := NewPerson("Alice")
	embID := uuid.New()
	p.ProfileEmbeddingID = &embID

	if ClearProfileEmbedding(p, uuid.New()) {
		t.Error("unrelated embedding must not clear the reference")
	}
	if !ClearProfileEmbedding(p, embID) {
		t.Error("matching embedding must clear the reference")
	}
	if p.ProfileEmbeddingID != nil {
		t.Error("reference still set after clear")
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Jiří Novák", "jiri novak"},
		{"jan-novak", "jan novak"},
		{"  Alice  ", "alice"},
		{"ALICE", "alice"},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
