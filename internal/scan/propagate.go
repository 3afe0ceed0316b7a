package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/match"
	"github.com/kozaktomas/encounters/internal/vision"
)

// ErrSuperseded means a newer propagation started for the same encounter
// while this one was running; its results were discarded unsaved.
var ErrSuperseded = errors.New("propagation superseded")

// PropagationResult reports what a propagation pass did.
type PropagationResult struct {
	Labeled int `json:"labeled"`
	Skipped int `json:"skipped"`
}

// Propagator spreads a fresh user label across the other unlabeled faces
// of an encounter. Each encounter has a generation counter; starting a
// new pass invalidates any still-running one, so stale results never
// reach the store.
type Propagator struct {
	store     graph.Store
	embedder  vision.Embedder
	threshold float64

	mu   sync.Mutex
	gens map[uuid.UUID]uint64
}

func NewPropagator(store graph.Store, embedder vision.Embedder, autoAcceptThreshold float64) *Propagator {
	return &Propagator{
		store:     store,
		embedder:  embedder,
		threshold: autoAcceptThreshold,
		gens:      map[uuid.UUID]uint64{},
	}
}

func (pr *Propagator) begin(encounterID uuid.UUID) uint64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.gens[encounterID]++
	return pr.gens[encounterID]
}

func (pr *Propagator) current(encounterID uuid.UUID, gen uint64) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.gens[encounterID] == gen
}

// Propagate runs after the user labels sourceBoxID as personID. The
// labeled face is embedded once; every other unlabeled box in the
// encounter is compared against it, and boxes at or above the threshold
// inherit the label with a synthesized embedding. Per-face failures skip
// that face only.
func (pr *Propagator) Propagate(ctx context.Context, encounterID, sourceBoxID, personID uuid.UUID) (*PropagationResult, error) {
	gen := pr.begin(encounterID)

	enc, err := pr.store.GetEncounter(ctx, encounterID)
	if err != nil {
		return nil, fmt.Errorf("load encounter: %w", err)
	}
	person, err := pr.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("load person: %w", err)
	}

	sourceVector, sourceCrop, err := pr.embedBox(ctx, enc, sourceBoxID)
	if err != nil {
		return nil, fmt.Errorf("embed labeled face: %w", err)
	}

	result := &PropagationResult{}
	var newEmbeddings []*graph.FaceEmbedding

	// The labeled face itself becomes a gallery sample, unless one
	// already exists for this box.
	if _, err := pr.store.FindEmbeddingByProvenance(ctx, sourceBoxID, encounterID); errors.Is(err, graph.ErrNotFound) {
		emb := graph.NewFaceEmbedding(personID, sourceVector, sourceCrop)
		encID, boxID := encounterID, sourceBoxID
		emb.EncounterID = &encID
		emb.BoundingBoxID = &boxID
		newEmbeddings = append(newEmbeddings, emb)
	} else if err != nil {
		return nil, fmt.Errorf("check existing embedding: %w", err)
	}

	changed := false
	for _, photo := range enc.Photos {
		for _, box := range photo.Boxes {
			if box.ID == sourceBoxID || box.PersonID != nil {
				continue
			}

			vector, crop, err := pr.embedBoxOnPhoto(ctx, photo, box)
			if err != nil {
				result.Skipped++
				continue
			}

			similarity := match.CosineSimilarity(sourceVector, vector)
			if similarity < pr.threshold {
				continue
			}

			score := similarity
			box.Assign(personID, person.Name, &score, true)
			changed = true
			result.Labeled++

			emb := graph.NewFaceEmbedding(personID, vector, crop)
			encID, boxID := encounterID, box.ID
			emb.EncounterID = &encID
			emb.BoundingBoxID = &boxID
			newEmbeddings = append(newEmbeddings, emb)
		}
	}

	if !pr.current(encounterID, gen) {
		return nil, ErrSuperseded
	}

	if !changed && len(newEmbeddings) == 0 {
		return result, nil
	}

	enc.SyncPeople()
	err = pr.store.WithTx(ctx, func(tx graph.Store) error {
		if changed {
			if err := tx.SaveEncounter(ctx, enc); err != nil {
				return fmt.Errorf("save propagated labels: %w", err)
			}
		}
		for _, emb := range newEmbeddings {
			if err := tx.SaveEmbedding(ctx, emb); err != nil {
				return fmt.Errorf("save synthesized embedding: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (pr *Propagator) embedBox(ctx context.Context, enc *graph.Encounter, boxID uuid.UUID) ([]float32, []byte, error) {
	for _, photo := range enc.Photos {
		for _, box := range photo.Boxes {
			if box.ID == boxID {
				return pr.embedBoxOnPhoto(ctx, photo, box)
			}
		}
	}
	return nil, nil, fmt.Errorf("box %s: %w", boxID, graph.ErrNotFound)
}

func (pr *Propagator) embedBoxOnPhoto(ctx context.Context, photo *graph.EncounterPhoto, box *graph.FaceBoundingBox) ([]float32, []byte, error) {
	img, err := vision.DecodeImage(photo.Image)
	if err != nil {
		return nil, nil, fmt.Errorf("decode photo: %w", err)
	}
	crop, err := vision.CropRect(img, box.Rect)
	if err != nil {
		return nil, nil, fmt.Errorf("crop face: %w", err)
	}
	vector, err := pr.embedder.Embed(ctx, crop)
	if err != nil {
		return nil, nil, err
	}
	return vector, crop, nil
}
