package scan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/vision"
)

const thumbnailSize = 320

// recentCutoff bounds the "seen recently" boost window.
func recentCutoff() time.Time {
	return time.Now().AddDate(0, 0, -30)
}

// haversineMeters is the great-circle distance between two coordinates.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// MergeGroups combines user-selected groups into one: photos are unioned
// and re-sorted by timestamp, and the earliest group's location wins.
func MergeGroups(groups []Group) Group {
	if len(groups) == 1 {
		return groups[0]
	}

	merged := Group{ID: uuid.New()}
	earliest := groups[0]
	for _, g := range groups {
		if groupStart(g).Before(groupStart(earliest)) {
			earliest = g
		}
		for _, photo := range g.Photos {
			merged.addPhoto(photo)
		}
	}
	merged.Location = earliest.Location
	merged.Lat, merged.Lng = earliest.Lat, earliest.Lng

	sort.SliceStable(merged.Photos, func(i, j int) bool {
		return merged.Photos[i].Asset.TakenAt.Before(merged.Photos[j].Asset.TakenAt)
	})
	return merged
}

func groupStart(g Group) time.Time {
	start := g.Photos[0].Asset.TakenAt
	for _, p := range g.Photos[1:] {
		if p.Asset.TakenAt.Before(start) {
			start = p.Asset.TakenAt
		}
	}
	return start
}

// PruneImported strips photos that were persisted since the scan ran
// (another device may have imported them). Groups left empty are dropped
// and reported by id.
func (p *Pipeline) PruneImported(ctx context.Context, groups []Group) ([]Group, []uuid.UUID, error) {
	var ids []string
	for _, g := range groups {
		for _, photo := range g.Photos {
			ids = append(ids, photo.Asset.ID)
		}
	}
	imported, err := p.store.ImportedAssetIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("query imported assets: %w", err)
	}

	var kept []Group
	var discarded []uuid.UUID
	for _, g := range groups {
		fresh := g.Photos[:0]
		for _, photo := range g.Photos {
			if !imported[photo.Asset.ID] {
				fresh = append(fresh, photo)
			}
		}
		g.Photos = fresh
		if len(g.Photos) == 0 {
			discarded = append(discarded, g.ID)
			continue
		}
		kept = append(kept, g)
	}
	return kept, discarded, nil
}

// SaveGroup persists a confirmed group as an encounter with its photos,
// boxes, and embeddings for the auto-accepted faces. People seen in the
// group get their LastSeenAt advanced.
func (p *Pipeline) SaveGroup(ctx context.Context, g Group, occasion string) (*graph.Encounter, error) {
	if len(g.Photos) == 0 {
		return nil, fmt.Errorf("group %s has no photos", g.ID)
	}

	enc := graph.NewEncounter(groupStart(g))
	enc.Occasion = occasion
	enc.Location = g.Location
	enc.Lat, enc.Lng = g.Lat, g.Lng

	if thumb, err := vision.Thumbnail(g.Photos[0].Image, thumbnailSize); err == nil {
		enc.Thumbnail = thumb
	}

	var embeddings []*graph.FaceEmbedding
	for _, photo := range g.Photos {
		ep := &graph.EncounterPhoto{
			ID:          photo.PhotoID,
			EncounterID: enc.ID,
			Image:       photo.Image,
			TakenAt:     photo.Asset.TakenAt,
			Lat:         photo.Asset.Lat,
			Lng:         photo.Asset.Lng,
			AssetID:     photo.Asset.ID,
			Boxes:       []*graph.FaceBoundingBox{},
		}
		for _, face := range photo.Faces {
			ep.Boxes = append(ep.Boxes, face.Box)
			if face.Box.PersonID != nil && len(face.Vector) > 0 {
				emb := graph.NewFaceEmbedding(*face.Box.PersonID, face.Vector, face.Crop)
				encID, boxID := enc.ID, face.Box.ID
				emb.EncounterID = &encID
				emb.BoundingBoxID = &boxID
				embeddings = append(embeddings, emb)
			}
		}
		enc.Photos = append(enc.Photos, ep)
	}
	enc.SyncPeople()

	err := p.store.WithTx(ctx, func(tx graph.Store) error {
		if err := tx.SaveEncounter(ctx, enc); err != nil {
			return fmt.Errorf("save encounter: %w", err)
		}
		for _, emb := range embeddings {
			if err := tx.SaveEmbedding(ctx, emb); err != nil {
				return fmt.Errorf("save embedding: %w", err)
			}
		}
		for _, personID := range enc.PersonIDs {
			person, err := tx.GetPerson(ctx, personID)
			if err != nil {
				return fmt.Errorf("load person for last-seen update: %w", err)
			}
			if enc.Date.After(person.LastSeenAt) {
				person.LastSeenAt = enc.Date
				if err := tx.SavePerson(ctx, person); err != nil {
					return fmt.Errorf("update last seen: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}
