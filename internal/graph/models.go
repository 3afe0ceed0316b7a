// Package graph defines the identity data model: people, encounters,
// photos, face bounding boxes, embeddings and tags, plus the invariants
// that tie them together.
package graph

import (
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/geometry"
)

// Person is an identity record. Collections are never nil; empty means
// none.
type Person struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Notes              string     `json:"notes,omitempty"`
	Relationship       string     `json:"relationship,omitempty"`
	Company            string     `json:"company,omitempty"`
	JobTitle           string     `json:"job_title,omitempty"`
	ContextTag         string     `json:"context_tag,omitempty"`
	Favorite           bool       `json:"favorite"`
	IsMe               bool       `json:"is_me"`
	ContactID          string     `json:"contact_id,omitempty"`
	ProfileEmbeddingID *uuid.UUID `json:"profile_embedding_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	LastSeenAt         time.Time  `json:"last_seen_at"`
	TagIDs             []uuid.UUID `json:"tag_ids"`
}

// NewPerson creates a person with initialized collections.
func NewPerson(name string) *Person {
	now := time.Now().UTC()
	return &Person{
		ID:         uuid.New(),
		Name:       name,
		CreatedAt:  now,
		LastSeenAt: now,
		TagIDs:     []uuid.UUID{},
	}
}

// Encounter is a dated gathering where known people were photographed.
// PersonIDs is derived from the photos' labeled bounding boxes and kept in
// sync by SyncPeople.
type Encounter struct {
	ID        uuid.UUID         `json:"id"`
	Date      time.Time         `json:"date"`
	Occasion  string            `json:"occasion,omitempty"`
	Location  string            `json:"location,omitempty"`
	Notes     string            `json:"notes,omitempty"`
	Lat       *float64          `json:"lat,omitempty"`
	Lng       *float64          `json:"lng,omitempty"`
	Favorite  bool              `json:"favorite"`
	Thumbnail []byte            `json:"-"`
	Photos    []*EncounterPhoto `json:"photos"`
	PersonIDs []uuid.UUID       `json:"person_ids"`
	TagIDs    []uuid.UUID       `json:"tag_ids"`
}

// NewEncounter creates an encounter with initialized collections.
func NewEncounter(date time.Time) *Encounter {
	return &Encounter{
		ID:        uuid.New(),
		Date:      date,
		Photos:    []*EncounterPhoto{},
		PersonIDs: []uuid.UUID{},
		TagIDs:    []uuid.UUID{},
	}
}

// HasPerson reports whether the person appears in the encounter's derived
// membership.
func (e *Encounter) HasPerson(personID uuid.UUID) bool {
	for _, id := range e.PersonIDs {
		if id == personID {
			return true
		}
	}
	return false
}

// SyncPeople recomputes the derived membership from the photos' labeled
// boxes. Call after any box mutation.
func (e *Encounter) SyncPeople() {
	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0, len(e.PersonIDs))
	for _, photo := range e.Photos {
		for _, box := range photo.Boxes {
			if box.PersonID == nil || seen[*box.PersonID] {
				continue
			}
			seen[*box.PersonID] = true
			ids = append(ids, *box.PersonID)
		}
	}
	e.PersonIDs = ids
}

// EncounterPhoto is one physical photo belonging to an encounter. AssetID
// is the stable device-library identifier used to deduplicate imports.
type EncounterPhoto struct {
	ID          uuid.UUID          `json:"id"`
	EncounterID uuid.UUID          `json:"encounter_id"`
	Image       []byte             `json:"-"`
	TakenAt     time.Time          `json:"taken_at"`
	Lat         *float64           `json:"lat,omitempty"`
	Lng         *float64           `json:"lng,omitempty"`
	AssetID     string             `json:"asset_id,omitempty"`
	Boxes       []*FaceBoundingBox `json:"boxes"`
}

// NewEncounterPhoto creates a photo with initialized collections.
func NewEncounterPhoto(encounterID uuid.UUID, takenAt time.Time) *EncounterPhoto {
	return &EncounterPhoto{
		ID:          uuid.New(),
		EncounterID: encounterID,
		TakenAt:     takenAt,
		Boxes:       []*FaceBoundingBox{},
	}
}

// FaceBoundingBox is one detected or manually located face region within a
// photo. PersonName is denormalized for display and must be fanned out on
// rename.
type FaceBoundingBox struct {
	ID           uuid.UUID     `json:"id"`
	PhotoID      uuid.UUID     `json:"photo_id"`
	Rect         geometry.Rect `json:"rect"`
	PersonID     *uuid.UUID    `json:"person_id,omitempty"`
	PersonName   string        `json:"person_name,omitempty"`
	Confidence   *float64      `json:"confidence,omitempty"`
	AutoAccepted bool          `json:"auto_accepted"`
}

// Assign labels the box with a person. confidence may be nil for direct
// user labels.
func (b *FaceBoundingBox) Assign(personID uuid.UUID, personName string, confidence *float64, auto bool) {
	id := personID
	b.PersonID = &id
	b.PersonName = personName
	b.Confidence = confidence
	b.AutoAccepted = auto
}

// ClearLabel removes the person label from the box.
func (b *FaceBoundingBox) ClearLabel() {
	b.PersonID = nil
	b.PersonName = ""
	b.Confidence = nil
	b.AutoAccepted = false
}

// FaceEmbedding is a computed face identity sample owned by exactly one
// person. BoundingBoxID and EncounterID record provenance and are used to
// find-and-replace the sample on relabel; provenance may be cleared
// without affecting identity.
type FaceEmbedding struct {
	ID            uuid.UUID  `json:"id"`
	PersonID      uuid.UUID  `json:"person_id"`
	Vector        []float32  `json:"-"`
	Crop          []byte     `json:"-"`
	EncounterID   *uuid.UUID `json:"encounter_id,omitempty"`
	BoundingBoxID *uuid.UUID `json:"bounding_box_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NewFaceEmbedding creates an embedding sample for a person.
func NewFaceEmbedding(personID uuid.UUID, vector []float32, crop []byte) *FaceEmbedding {
	return &FaceEmbedding{
		ID:        uuid.New(),
		PersonID:  personID,
		Vector:    vector,
		Crop:      crop,
		CreatedAt: time.Now().UTC(),
	}
}

// Tag is a name + color label, many-to-many with people and encounters.
// Name uniqueness is advisory.
type Tag struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Color string    `json:"color"`
}

// NewTag creates a tag.
func NewTag(name, color string) *Tag {
	return &Tag{ID: uuid.New(), Name: name, Color: color}
}
