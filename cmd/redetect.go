package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/graph"
)

var redetectCmd = &cobra.Command{
	Use:   "redetect <encounter-id>",
	Short: "Re-run enhanced face detection on an encounter",
	Long: `Re-run detection on every photo of an encounter with the slower
tiled pass that finds small faces in group shots. Existing labels are
transferred to the fresh boxes by overlap.`,
	Args: cobra.ExactArgs(1),
	RunE: runRedetect,
}

func init() {
	rootCmd.AddCommand(redetectCmd)
}

func runRedetect(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	encounterID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid encounter id: %w", err)
	}

	pool, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	detector := tiledDetector(cfg, visionClient(cfg))

	enc, err := store.GetEncounter(ctx, encounterID)
	if err != nil {
		return fmt.Errorf("loading encounter: %w", err)
	}

	var before, after int
	type relabel struct {
		old   []*graph.FaceBoundingBox
		moved map[uuid.UUID]uuid.UUID
	}
	var relabels []relabel
	for _, photo := range enc.Photos {
		before += len(photo.Boxes)

		faces, err := detector.Redetect(ctx, photo.Image)
		if err != nil {
			return fmt.Errorf("redetecting photo %s: %w", photo.ID, err)
		}

		fresh := make([]*graph.FaceBoundingBox, 0, len(faces))
		for _, f := range faces {
			fresh = append(fresh, &graph.FaceBoundingBox{
				ID:      uuid.New(),
				PhotoID: photo.ID,
				Rect:    f.Rect,
			})
		}
		moved := detector.TransferLabels(photo.Boxes, fresh)
		relabels = append(relabels, relabel{old: photo.Boxes, moved: moved})
		photo.Boxes = fresh
		after += len(fresh)
	}

	enc.SyncPeople()
	err = store.WithTx(ctx, func(tx graph.Store) error {
		// Samples cut from the old boxes follow their labels to the
		// fresh boxes, or go away when the label was dropped.
		for _, rl := range relabels {
			for _, prev := range rl.old {
				if prev.PersonID == nil {
					continue
				}
				sample, err := tx.FindEmbeddingByProvenance(ctx, prev.ID, enc.ID)
				if errors.Is(err, graph.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if newID, ok := rl.moved[prev.ID]; ok {
					id := newID
					sample.BoundingBoxID = &id
					if err := tx.SaveEmbedding(ctx, sample); err != nil {
						return err
					}
				} else if err := tx.DeleteEmbedding(ctx, sample.ID); err != nil {
					return err
				}
			}
		}
		return tx.SaveEncounter(ctx, enc)
	})
	if err != nil {
		return fmt.Errorf("saving encounter: %w", err)
	}

	fmt.Printf("Redetected %d photo(s): %d -> %d face(s)\n", len(enc.Photos), before, after)
	return nil
}
