package graph

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistent identity graph. Implementations must serialize
// writes; mutations performed inside WithTx are applied atomically or not
// at all.
type Store interface {
	// People.
	GetPerson(ctx context.Context, id uuid.UUID) (*Person, error)
	ListPeople(ctx context.Context) ([]*Person, error)
	// FindPeopleByName matches on normalized names (lowercase, no
	// diacritics, dashes folded to spaces).
	FindPeopleByName(ctx context.Context, name string) ([]*Person, error)
	SavePerson(ctx context.Context, p *Person) error
	DeletePerson(ctx context.Context, id uuid.UUID) error

	// Encounters are loaded and saved deep: photos and boxes included.
	GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error)
	ListEncounters(ctx context.Context) ([]*Encounter, error)
	// ListEncountersWithPerson returns every encounter containing at
	// least one box labeled with the person.
	ListEncountersWithPerson(ctx context.Context, personID uuid.UUID) ([]*Encounter, error)
	SaveEncounter(ctx context.Context, e *Encounter) error
	DeleteEncounter(ctx context.Context, id uuid.UUID) error

	// ImportedAssetIDs reports which of the given library asset ids
	// already exist as persisted encounter photos.
	ImportedAssetIDs(ctx context.Context, assetIDs []string) (map[string]bool, error)

	// Embeddings.
	GetEmbedding(ctx context.Context, id uuid.UUID) (*FaceEmbedding, error)
	ListEmbeddings(ctx context.Context) ([]*FaceEmbedding, error)
	ListEmbeddingsByPerson(ctx context.Context, personID uuid.UUID) ([]*FaceEmbedding, error)
	// FindEmbeddingByProvenance locates the sample derived from a
	// specific bounding box, used to find-and-replace on relabel.
	FindEmbeddingByProvenance(ctx context.Context, boundingBoxID, encounterID uuid.UUID) (*FaceEmbedding, error)
	// NearestEmbeddings returns the k samples closest to the query
	// vector by cosine distance, nearest first.
	NearestEmbeddings(ctx context.Context, query []float32, k int) ([]*FaceEmbedding, error)
	SaveEmbedding(ctx context.Context, e *FaceEmbedding) error
	// DeleteEmbedding removes the sample and nulls any
	// ProfileEmbeddingID pointing at it.
	DeleteEmbedding(ctx context.Context, id uuid.UUID) error

	// Tags.
	GetTag(ctx context.Context, id uuid.UUID) (*Tag, error)
	ListTags(ctx context.Context) ([]*Tag, error)
	SaveTag(ctx context.Context, t *Tag) error
	DeleteTag(ctx context.Context, id uuid.UUID) error

	// WithTx runs fn against a transactional view of the store. An
	// error from fn rolls every mutation back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
