// Package mock provides an in-memory graph.Store for tests. Entities are
// deep-copied on the way in and out so callers cannot mutate stored state
// behind the store's back; WithTx snapshots the maps and restores them on
// error.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/match"
)

var _ graph.Store = (*Store)(nil)

// Store is an in-memory implementation of graph.Store.
type Store struct {
	mu         sync.RWMutex
	people     map[uuid.UUID]*graph.Person
	encounters map[uuid.UUID]*graph.Encounter
	embeddings map[uuid.UUID]*graph.FaceEmbedding
	tags       map[uuid.UUID]*graph.Tag

	// Error injection.
	SaveError   error
	DeleteError error
	QueryError  error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		people:     make(map[uuid.UUID]*graph.Person),
		encounters: make(map[uuid.UUID]*graph.Encounter),
		embeddings: make(map[uuid.UUID]*graph.FaceEmbedding),
		tags:       make(map[uuid.UUID]*graph.Tag),
	}
}

func clonePerson(p *graph.Person) *graph.Person {
	c := *p
	c.TagIDs = append([]uuid.UUID{}, p.TagIDs...)
	if p.ProfileEmbeddingID != nil {
		id := *p.ProfileEmbeddingID
		c.ProfileEmbeddingID = &id
	}
	return &c
}

func cloneBox(b *graph.FaceBoundingBox) *graph.FaceBoundingBox {
	c := *b
	if b.PersonID != nil {
		id := *b.PersonID
		c.PersonID = &id
	}
	if b.Confidence != nil {
		v := *b.Confidence
		c.Confidence = &v
	}
	return &c
}

func clonePhoto(p *graph.EncounterPhoto) *graph.EncounterPhoto {
	c := *p
	c.Image = append([]byte{}, p.Image...)
	c.Boxes = make([]*graph.FaceBoundingBox, len(p.Boxes))
	for i, b := range p.Boxes {
		c.Boxes[i] = cloneBox(b)
	}
	return &c
}

func cloneEncounter(e *graph.Encounter) *graph.Encounter {
	c := *e
	c.Thumbnail = append([]byte{}, e.Thumbnail...)
	c.PersonIDs = append([]uuid.UUID{}, e.PersonIDs...)
	c.TagIDs = append([]uuid.UUID{}, e.TagIDs...)
	c.Photos = make([]*graph.EncounterPhoto, len(e.Photos))
	for i, p := range e.Photos {
		c.Photos[i] = clonePhoto(p)
	}
	return &c
}

func cloneEmbedding(e *graph.FaceEmbedding) *graph.FaceEmbedding {
	c := *e
	c.Vector = append([]float32{}, e.Vector...)
	c.Crop = append([]byte{}, e.Crop...)
	if e.EncounterID != nil {
		id := *e.EncounterID
		c.EncounterID = &id
	}
	if e.BoundingBoxID != nil {
		id := *e.BoundingBoxID
		c.BoundingBoxID = &id
	}
	return &c
}

// --- People ---

func (s *Store) GetPerson(ctx context.Context, id uuid.UUID) (*graph.Person, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.people[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return clonePerson(p), nil
}

func (s *Store) ListPeople(ctx context.Context) ([]*graph.Person, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Person, 0, len(s.people))
	for _, p := range s.people {
		out = append(out, clonePerson(p))
	}
	return out, nil
}

func (s *Store) FindPeopleByName(ctx context.Context, name string) ([]*graph.Person, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	want := graph.NormalizeName(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Person
	for _, p := range s.people {
		if graph.NormalizeName(p.Name) == want {
			out = append(out, clonePerson(p))
		}
	}
	return out, nil
}

func (s *Store) SavePerson(ctx context.Context, p *graph.Person) error {
	if s.SaveError != nil {
		return s.SaveError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people[p.ID] = clonePerson(p)
	return nil
}

func (s *Store) DeletePerson(ctx context.Context, id uuid.UUID) error {
	if s.DeleteError != nil {
		return s.DeleteError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.people[id]; !ok {
		return graph.ErrNotFound
	}
	delete(s.people, id)
	// Embeddings belong to their person.
	for embID, emb := range s.embeddings {
		if emb.PersonID == id {
			delete(s.embeddings, embID)
		}
	}
	return nil
}

// --- Encounters ---

func (s *Store) GetEncounter(ctx context.Context, id uuid.UUID) (*graph.Encounter, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.encounters[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return cloneEncounter(e), nil
}

func (s *Store) ListEncounters(ctx context.Context) ([]*graph.Encounter, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Encounter, 0, len(s.encounters))
	for _, e := range s.encounters {
		out = append(out, cloneEncounter(e))
	}
	return out, nil
}

func (s *Store) ListEncountersWithPerson(ctx context.Context, personID uuid.UUID) ([]*graph.Encounter, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Encounter
	for _, e := range s.encounters {
		found := false
		for _, photo := range e.Photos {
			for _, box := range photo.Boxes {
				if box.PersonID != nil && *box.PersonID == personID {
					found = true
				}
			}
		}
		if found {
			out = append(out, cloneEncounter(e))
		}
	}
	return out, nil
}

func (s *Store) SaveEncounter(ctx context.Context, e *graph.Encounter) error {
	if s.SaveError != nil {
		return s.SaveError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encounters[e.ID] = cloneEncounter(e)
	return nil
}

func (s *Store) DeleteEncounter(ctx context.Context, id uuid.UUID) error {
	if s.DeleteError != nil {
		return s.DeleteError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.encounters[id]; !ok {
		return graph.ErrNotFound
	}
	delete(s.encounters, id)
	// Encounter deletion loses provenance only, never identity.
	for _, emb := range s.embeddings {
		if emb.EncounterID != nil && *emb.EncounterID == id {
			emb.EncounterID = nil
		}
	}
	return nil
}

func (s *Store) ImportedAssetIDs(ctx context.Context, assetIDs []string) (map[string]bool, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		want[id] = true
	}
	imported := make(map[string]bool)
	for _, e := range s.encounters {
		for _, photo := range e.Photos {
			if photo.AssetID != "" && want[photo.AssetID] {
				imported[photo.AssetID] = true
			}
		}
	}
	return imported, nil
}

// --- Embeddings ---

func (s *Store) GetEmbedding(ctx context.Context, id uuid.UUID) (*graph.FaceEmbedding, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.embeddings[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return cloneEmbedding(e), nil
}

func (s *Store) ListEmbeddings(ctx context.Context) ([]*graph.FaceEmbedding, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.FaceEmbedding, 0, len(s.embeddings))
	for _, e := range s.embeddings {
		out = append(out, cloneEmbedding(e))
	}
	return out, nil
}

func (s *Store) ListEmbeddingsByPerson(ctx context.Context, personID uuid.UUID) ([]*graph.FaceEmbedding, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.FaceEmbedding
	for _, e := range s.embeddings {
		if e.PersonID == personID {
			out = append(out, cloneEmbedding(e))
		}
	}
	return out, nil
}

func (s *Store) NearestEmbeddings(ctx context.Context, query []float32, k int) ([]*graph.FaceEmbedding, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	out := make([]*graph.FaceEmbedding, 0, len(s.embeddings))
	for _, e := range s.embeddings {
		out = append(out, cloneEmbedding(e))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return match.CosineSimilarity(query, out[i].Vector) > match.CosineSimilarity(query, out[j].Vector)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) FindEmbeddingByProvenance(ctx context.Context, boundingBoxID, encounterID uuid.UUID) (*graph.FaceEmbedding, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.embeddings {
		if e.BoundingBoxID != nil && *e.BoundingBoxID == boundingBoxID &&
			e.EncounterID != nil && *e.EncounterID == encounterID {
			return cloneEmbedding(e), nil
		}
	}
	return nil, graph.ErrNotFound
}

func (s *Store) SaveEmbedding(ctx context.Context, e *graph.FaceEmbedding) error {
	if s.SaveError != nil {
		return s.SaveError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[e.ID] = cloneEmbedding(e)
	return nil
}

func (s *Store) DeleteEmbedding(ctx context.Context, id uuid.UUID) error {
	if s.DeleteError != nil {
		return s.DeleteError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.embeddings[id]; !ok {
		return graph.ErrNotFound
	}
	delete(s.embeddings, id)
	// A profile reference must never dangle.
	for _, p := range s.people {
		graph.ClearProfileEmbedding(p, id)
	}
	return nil
}

// --- Tags ---

func (s *Store) GetTag(ctx context.Context, id uuid.UUID) (*graph.Tag, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *Store) ListTags(ctx context.Context) ([]*graph.Tag, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Tag, 0, len(s.tags))
	for _, t := range s.tags {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) SaveTag(ctx context.Context, t *graph.Tag) error {
	if s.SaveError != nil {
		return s.SaveError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.tags[t.ID] = &c
	return nil
}

func (s *Store) DeleteTag(ctx context.Context, id uuid.UUID) error {
	if s.DeleteError != nil {
		return s.DeleteError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tags[id]; !ok {
		return graph.ErrNotFound
	}
	delete(s.tags, id)
	return nil
}

// --- Transactions ---

// WithTx snapshots all maps, runs fn against the store itself and restores
// the snapshot if fn fails. Mutations inside fn are therefore atomic from
// the caller's perspective.
func (s *Store) WithTx(ctx context.Context, fn func(tx graph.Store) error) error {
	s.mu.Lock()
	people := make(map[uuid.UUID]*graph.Person, len(s.people))
	for k, v := range s.people {
		people[k] = clonePerson(v)
	}
	encounters := make(map[uuid.UUID]*graph.Encounter, len(s.encounters))
	for k, v := range s.encounters {
		encounters[k] = cloneEncounter(v)
	}
	embeddings := make(map[uuid.UUID]*graph.FaceEmbedding, len(s.embeddings))
	for k, v := range s.embeddings {
		embeddings[k] = cloneEmbedding(v)
	}
	tags := make(map[uuid.UUID]*graph.Tag, len(s.tags))
	for k, v := range s.tags {
		c := *v
		tags[k] = &c
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.people = people
		s.encounters = encounters
		s.embeddings = embeddings
		s.tags = tags
		s.mu.Unlock()
		return err
	}
	return nil
}
