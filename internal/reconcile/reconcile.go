// Package reconcile implements the destructive graph operations: merging
// people and encounters, moving photos, and cascading deletes. Every
// operation runs inside a single store transaction and either fully
// applies or returns the error untouched.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/graph"
)

var ErrNothingToMerge = errors.New("merge needs at least one secondary")

// Service reconciles the identity graph after user-driven mutations.
type Service struct {
	store graph.Store
}

func NewService(store graph.Store) *Service {
	return &Service{store: store}
}

// MergePeople folds the secondary people into the primary. Embeddings and
// box labels move to the primary, encounter memberships and tags are
// unioned, and empty scalar fields on the primary are filled from the
// first secondary that has a value. Secondaries are deleted.
func (s *Service) MergePeople(ctx context.Context, primaryID uuid.UUID, secondaryIDs []uuid.UUID, combineNotes bool) error {
	if len(secondaryIDs) == 0 {
		return ErrNothingToMerge
	}

	return s.store.WithTx(ctx, func(tx graph.Store) error {
		primary, err := tx.GetPerson(ctx, primaryID)
		if err != nil {
			return fmt.Errorf("load primary person: %w", err)
		}

		for _, secondaryID := range secondaryIDs {
			if secondaryID == primaryID {
				continue
			}
			secondary, err := tx.GetPerson(ctx, secondaryID)
			if err != nil {
				return fmt.Errorf("load secondary person: %w", err)
			}

			if err := s.foldPerson(ctx, tx, primary, secondary, combineNotes); err != nil {
				return err
			}

			if err := tx.DeletePerson(ctx, secondaryID); err != nil {
				return fmt.Errorf("delete merged person: %w", err)
			}
		}

		if err := tx.SavePerson(ctx, primary); err != nil {
			return fmt.Errorf("save merged person: %w", err)
		}
		return nil
	})
}

func (s *Service) foldPerson(ctx context.Context, tx graph.Store, primary, secondary *graph.Person, combineNotes bool) error {
	// Embeddings follow the person before the cascade delete can claim
	// them.
	embeddings, err := tx.ListEmbeddingsByPerson(ctx, secondary.ID)
	if err != nil {
		return fmt.Errorf("list embeddings of merged person: %w", err)
	}
	for _, emb := range embeddings {
		emb.PersonID = primary.ID
		if err := tx.SaveEmbedding(ctx, emb); err != nil {
			return fmt.Errorf("move embedding: %w", err)
		}
	}

	encounters, err := tx.ListEncountersWithPerson(ctx, secondary.ID)
	if err != nil {
		return fmt.Errorf("list encounters of merged person: %w", err)
	}
	for _, enc := range encounters {
		if graph.ReassignPerson(enc, secondary.ID, primary.ID, primary.Name) {
			if err := tx.SaveEncounter(ctx, enc); err != nil {
				return fmt.Errorf("rewrite encounter labels: %w", err)
			}
		}
	}

	if primary.Relationship == "" {
		primary.Relationship = secondary.Relationship
	}
	if primary.Company == "" {
		primary.Company = secondary.Company
	}
	if primary.JobTitle == "" {
		primary.JobTitle = secondary.JobTitle
	}
	if primary.ContextTag == "" {
		primary.ContextTag = secondary.ContextTag
	}
	if primary.ContactID == "" {
		primary.ContactID = secondary.ContactID
	}
	primary.Favorite = primary.Favorite || secondary.Favorite

	if combineNotes && secondary.Notes != "" {
		if primary.Notes == "" {
			primary.Notes = secondary.Notes
		} else {
			primary.Notes = primary.Notes + "\n\n" + secondary.Notes
		}
	}

	primary.TagIDs = unionIDs(primary.TagIDs, secondary.TagIDs)
	if secondary.LastSeenAt.After(primary.LastSeenAt) {
		primary.LastSeenAt = secondary.LastSeenAt
	}
	return nil
}

// MergeEncounters folds the secondary encounters into the primary. Photos
// and their boxes move over untouched, people and tags are unioned, and
// the primary's scalar fields win.
func (s *Service) MergeEncounters(ctx context.Context, primaryID uuid.UUID, secondaryIDs []uuid.UUID, combineNotes bool) error {
	if len(secondaryIDs) == 0 {
		return ErrNothingToMerge
	}

	return s.store.WithTx(ctx, func(tx graph.Store) error {
		primary, err := tx.GetEncounter(ctx, primaryID)
		if err != nil {
			return fmt.Errorf("load primary encounter: %w", err)
		}

		for _, secondaryID := range secondaryIDs {
			if secondaryID == primaryID {
				continue
			}
			secondary, err := tx.GetEncounter(ctx, secondaryID)
			if err != nil {
				return fmt.Errorf("load secondary encounter: %w", err)
			}

			for _, photo := range secondary.Photos {
				photo.EncounterID = primary.ID
				primary.Photos = append(primary.Photos, photo)
			}
			primary.TagIDs = unionIDs(primary.TagIDs, secondary.TagIDs)

			if primary.Lat == nil && secondary.Lat != nil {
				primary.Lat, primary.Lng = secondary.Lat, secondary.Lng
			}
			if primary.Location == "" {
				primary.Location = secondary.Location
			}
			if primary.Occasion == "" {
				primary.Occasion = secondary.Occasion
			}
			if combineNotes && secondary.Notes != "" {
				if primary.Notes == "" {
					primary.Notes = secondary.Notes
				} else {
					primary.Notes = primary.Notes + "\n\n" + secondary.Notes
				}
			}

			// Embedding provenance follows the photos to the primary.
			if err := s.rewriteProvenance(ctx, tx, secondary, primary.ID); err != nil {
				return err
			}

			// The cascade on delete must not take the moved photos
			// with it.
			secondary.Photos = nil
			secondary.SyncPeople()
			if err := tx.SaveEncounter(ctx, secondary); err != nil {
				return fmt.Errorf("detach photos from merged encounter: %w", err)
			}
			if err := tx.DeleteEncounter(ctx, secondaryID); err != nil {
				return fmt.Errorf("delete merged encounter: %w", err)
			}
		}

		primary.SyncPeople()
		if err := tx.SaveEncounter(ctx, primary); err != nil {
			return fmt.Errorf("save merged encounter: %w", err)
		}
		return nil
	})
}

func (s *Service) rewriteProvenance(ctx context.Context, tx graph.Store, from *graph.Encounter, toID uuid.UUID) error {
	for _, photo := range from.Photos {
		for _, box := range photo.Boxes {
			emb, err := tx.FindEmbeddingByProvenance(ctx, box.ID, from.ID)
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("find embedding provenance: %w", err)
			}
			id := toID
			emb.EncounterID = &id
			if err := tx.SaveEmbedding(ctx, emb); err != nil {
				return fmt.Errorf("rewrite embedding provenance: %w", err)
			}
		}
	}
	return nil
}

// MoveResult reports what MovePhotos did.
type MoveResult struct {
	DestinationID uuid.UUID `json:"destination_id"`
	SourceDeleted bool      `json:"source_deleted"`
}

// MovePhotos detaches the given photos from their encounter and either
// appends them to an existing destination or creates a fresh encounter
// seeded with the earliest photo's date and location. An emptied source
// encounter is deleted.
func (s *Service) MovePhotos(ctx context.Context, fromID uuid.UUID, photoIDs []uuid.UUID, destinationID *uuid.UUID) (*MoveResult, error) {
	if len(photoIDs) == 0 {
		return nil, errors.New("no photos to move")
	}

	var result *MoveResult
	err := s.store.WithTx(ctx, func(tx graph.Store) error {
		source, err := tx.GetEncounter(ctx, fromID)
		if err != nil {
			return fmt.Errorf("load source encounter: %w", err)
		}

		moving := map[uuid.UUID]bool{}
		for _, id := range photoIDs {
			moving[id] = true
		}

		var moved, kept []*graph.EncounterPhoto
		for _, photo := range source.Photos {
			if moving[photo.ID] {
				moved = append(moved, photo)
			} else {
				kept = append(kept, photo)
			}
		}
		if len(moved) != len(photoIDs) {
			return errors.New("photo does not belong to the source encounter")
		}

		var destination *graph.Encounter
		if destinationID != nil {
			destination, err = tx.GetEncounter(ctx, *destinationID)
			if err != nil {
				return fmt.Errorf("load destination encounter: %w", err)
			}
		} else {
			destination = graph.NewEncounter(moved[0].TakenAt)
			for _, photo := range moved {
				if photo.TakenAt.Before(destination.Date) {
					destination.Date = photo.TakenAt
				}
				if destination.Lat == nil && photo.Lat != nil {
					destination.Lat, destination.Lng = photo.Lat, photo.Lng
				}
			}
			destination.Location = source.Location
		}

		for _, photo := range moved {
			photo.EncounterID = destination.ID
			destination.Photos = append(destination.Photos, photo)
		}

		source.Photos = kept
		source.SyncPeople()
		if err := tx.SaveEncounter(ctx, source); err != nil {
			return fmt.Errorf("save source encounter: %w", err)
		}

		destination.SyncPeople()
		if err := tx.SaveEncounter(ctx, destination); err != nil {
			return fmt.Errorf("save destination encounter: %w", err)
		}

		sourceDeleted := false
		if len(kept) == 0 {
			if err := tx.DeleteEncounter(ctx, source.ID); err != nil {
				return fmt.Errorf("delete emptied encounter: %w", err)
			}
			sourceDeleted = true
		}

		result = &MoveResult{DestinationID: destination.ID, SourceDeleted: sourceDeleted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeletePerson removes a person and every trace of them: box labels are
// cleared (the boxes stay), encounter memberships resync, and owned
// embeddings go with the person.
func (s *Service) DeletePerson(ctx context.Context, personID uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx graph.Store) error {
		encounters, err := tx.ListEncountersWithPerson(ctx, personID)
		if err != nil {
			return fmt.Errorf("list encounters of person: %w", err)
		}
		for _, enc := range encounters {
			if graph.StripPerson(enc, personID) {
				if err := tx.SaveEncounter(ctx, enc); err != nil {
					return fmt.Errorf("strip person from encounter: %w", err)
				}
			}
		}

		embeddings, err := tx.ListEmbeddingsByPerson(ctx, personID)
		if err != nil {
			return fmt.Errorf("list embeddings of person: %w", err)
		}
		for _, emb := range embeddings {
			if err := tx.DeleteEmbedding(ctx, emb.ID); err != nil {
				return fmt.Errorf("delete embedding of person: %w", err)
			}
		}

		if err := tx.DeletePerson(ctx, personID); err != nil {
			return fmt.Errorf("delete person: %w", err)
		}
		return nil
	})
}

// DeleteEncounter removes an encounter with its photos and boxes.
// Embeddings harvested from it keep their person; only the provenance
// pointer is cleared, which the store handles.
func (s *Service) DeleteEncounter(ctx context.Context, encounterID uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx graph.Store) error {
		if err := tx.DeleteEncounter(ctx, encounterID); err != nil {
			return fmt.Errorf("delete encounter: %w", err)
		}
		return nil
	})
}

// RenamePerson renames a person and fans the new name out to every box
// that carries the denormalized copy.
func (s *Service) RenamePerson(ctx context.Context, personID uuid.UUID, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return errors.New("name must not be empty")
	}

	return s.store.WithTx(ctx, func(tx graph.Store) error {
		person, err := tx.GetPerson(ctx, personID)
		if err != nil {
			return fmt.Errorf("load person: %w", err)
		}
		person.Name = newName
		if err := tx.SavePerson(ctx, person); err != nil {
			return fmt.Errorf("save renamed person: %w", err)
		}

		encounters, err := tx.ListEncountersWithPerson(ctx, personID)
		if err != nil {
			return fmt.Errorf("list encounters of person: %w", err)
		}
		for _, enc := range encounters {
			if graph.RenamePerson(enc, personID, newName) {
				if err := tx.SaveEncounter(ctx, enc); err != nil {
					return fmt.Errorf("fan out rename: %w", err)
				}
			}
		}
		return nil
	})
}

func unionIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(a))
	out := make([]uuid.UUID, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
