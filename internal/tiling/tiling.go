// Package tiling improves face recall on group photos by re-running the
// detector over overlapping tiles of the image, and by locating a single
// missed face around a user-chosen point.
package tiling

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sort"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/geometry"
	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/vision"
)

// Options tune the tile pass and label transfer.
type Options struct {
	// NMSThreshold is the IoU above which two detections are merged.
	NMSThreshold float64
	// TransferThreshold is the minimum IoU for a new box to inherit a
	// label from an old box.
	TransferThreshold float64
	// MinTilePixels skips tiles smaller than this on either side.
	MinTilePixels int
}

// DefaultOptions returns the tuning used by the scan pipeline.
func DefaultOptions() Options {
	return Options{
		NMSThreshold:      0.4,
		TransferThreshold: 0.25,
		MinTilePixels:     100,
	}
}

// Detector runs tiled detection on top of a plain detector.
type Detector struct {
	detector vision.Detector
	opts     Options
}

func NewDetector(detector vision.Detector, opts Options) *Detector {
	return &Detector{detector: detector, opts: opts}
}

// Locate starts a tap-to-locate session backed by the same detector,
// guarding against re-marking any of the existing boxes.
func (d *Detector) Locate(existing []geometry.Rect) *LocateSession {
	return NewLocateSession(d.detector, existing)
}

// Redetect runs a full-image pass plus a 3x3 grid of overlapping tiles,
// merges the results with non-maximum suppression, and returns the
// surviving faces in full-image coordinates.
func (d *Detector) Redetect(ctx context.Context, imageData []byte) ([]vision.DetectedFace, error) {
	img, err := vision.DecodeImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	faces, err := d.detector.Detect(ctx, imageData, vision.DetectOptions{Accuracy: vision.AccuracyEnhanced})
	if err != nil {
		return nil, fmt.Errorf("full-image detect: %w", err)
	}

	for _, tile := range d.tiles(img.Bounds()) {
		tileData, err := cropExact(img, tile)
		if err != nil {
			return nil, fmt.Errorf("crop tile: %w", err)
		}

		tileFaces, err := d.detector.Detect(ctx, tileData, vision.DetectOptions{Accuracy: vision.AccuracyEnhanced})
		if err != nil {
			return nil, fmt.Errorf("tile detect: %w", err)
		}
		for _, f := range tileFaces {
			f.Rect = geometry.FromTile(f.Rect, tile)
			faces = append(faces, f)
		}
	}

	return suppressFaces(faces, d.opts.NMSThreshold), nil
}

// tiles returns the overlapping tile grid in normalized bottom-left
// coordinates. Tiles are half the image on each side and step by a
// quarter, giving 50% overlap and nine tiles on a large enough image.
func (d *Detector) tiles(bounds image.Rectangle) []geometry.Rect {
	w, h := bounds.Dx(), bounds.Dy()
	if w/2 < d.opts.MinTilePixels || h/2 < d.opts.MinTilePixels {
		return nil
	}

	steps := []float64{0, 0.25, 0.5}
	var tiles []geometry.Rect
	for _, y := range steps {
		for _, x := range steps {
			tiles = append(tiles, geometry.Rect{X: x, Y: y, W: 0.5, H: 0.5})
		}
	}
	return tiles
}

// suppressFaces keeps the largest face of every overlapping cluster,
// mirroring geometry.Suppress but preserving crops and scores.
func suppressFaces(faces []vision.DetectedFace, iouThreshold float64) []vision.DetectedFace {
	sorted := make([]vision.DetectedFace, len(faces))
	copy(sorted, faces)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rect.Area() > sorted[j].Rect.Area()
	})

	kept := []vision.DetectedFace{}
	for _, f := range sorted {
		overlaps := false
		for _, k := range kept {
			if geometry.IoU(f.Rect, k.Rect) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, f)
		}
	}
	return kept
}

// TransferLabels carries person labels from the previous boxes of a photo
// onto freshly detected ones. Each labeled old box claims its best
// overlapping unlabeled new box; labels that find no home are dropped.
// The returned map records which new box took over each old box, so
// callers can carry box-scoped state (embedding provenance) along with
// the label.
func (d *Detector) TransferLabels(old, fresh []*graph.FaceBoundingBox) map[uuid.UUID]uuid.UUID {
	claimed := make(map[int]bool, len(fresh))
	moved := make(map[uuid.UUID]uuid.UUID, len(old))

	for _, prev := range old {
		if prev.PersonID == nil {
			continue
		}

		bestIdx := -1
		bestIoU := d.opts.TransferThreshold
		for i, next := range fresh {
			if claimed[i] || next.PersonID != nil {
				continue
			}
			if iou := geometry.IoU(prev.Rect, next.Rect); iou >= bestIoU {
				bestIoU = iou
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			claimed[bestIdx] = true
			fresh[bestIdx].Assign(*prev.PersonID, prev.PersonName, prev.Confidence, prev.AutoAccepted)
			moved[prev.ID] = fresh[bestIdx].ID
		}
	}
	return moved
}

// cropExact cuts the normalized bottom-left-origin region out of the image
// without padding and encodes it as JPEG.
func cropExact(img image.Image, r geometry.Rect) ([]byte, error) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	px := r.FlipOrigin()

	x0 := b.Min.X + int(px.X*w)
	y0 := b.Min.Y + int(px.Y*h)
	x1 := b.Min.X + int((px.X+px.W)*w)
	y1 := b.Min.Y + int((px.Y+px.H)*h)
	if x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("degenerate crop region")
	}

	out := image.NewRGBA(image.Rect(0, 0, x1-x0, y1-y0))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			out.Set(x-x0, y-y0, img.At(x, y))
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode tile: %w", err)
	}
	return buf.Bytes(), nil
}
