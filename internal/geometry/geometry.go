// Package geometry provides normalized bounding-box math shared by the
// detection, tiling and matching layers. All rects are fractions of the
// image dimensions with a bottom-left origin, matching the face detector's
// output convention.
package geometry

import "sort"

// Rect is a normalized bounding box [0,1] with bottom-left origin.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the rect area in normalized units.
func (r Rect) Area() float64 {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Clamp constrains the rect to the unit square, shrinking it as needed.
func (r Rect) Clamp() Rect {
	if r.X < 0 {
		r.W += r.X
		r.X = 0
	}
	if r.Y < 0 {
		r.H += r.Y
		r.Y = 0
	}
	if r.X+r.W > 1 {
		r.W = 1 - r.X
	}
	if r.Y+r.H > 1 {
		r.H = 1 - r.Y
	}
	if r.W < 0 {
		r.W = 0
	}
	if r.H < 0 {
		r.H = 0
	}
	return r
}

// FlipOrigin converts between bottom-left and top-left origin. The
// transformation is its own inverse.
func (r Rect) FlipOrigin() Rect {
	return Rect{X: r.X, Y: 1 - r.Y - r.H, W: r.W, H: r.H}
}

// IoU computes Intersection over Union between two rects in the same
// coordinate system. Degenerate rects yield 0.
func IoU(a, b Rect) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.W, b.X+b.W)
	y2 := min(a.Y+a.H, b.Y+b.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Overlap returns the fraction of a covered by b (intersection / area of a).
// Used for the duplicate-region guard where containment matters more than
// symmetric IoU.
func Overlap(a, b Rect) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.W, b.X+b.W)
	y2 := min(a.Y+a.H, b.Y+b.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	area := a.Area()
	if area <= 0 {
		return 0
	}
	return (x2 - x1) * (y2 - y1) / area
}

// FromTile transforms a rect local to a sub-region back into full-image
// coordinates. tile is the sub-region in full-image normalized coordinates;
// local is normalized within the tile.
func FromTile(local, tile Rect) Rect {
	return Rect{
		X: tile.X + local.X*tile.W,
		Y: tile.Y + local.Y*tile.H,
		W: local.W * tile.W,
		H: local.H * tile.H,
	}.Clamp()
}

// Suppress performs non-maximum suppression on candidate boxes. Candidates
// are ordered by area descending (larger detections are the more reliable
// ones for group photos) and a box is kept unless its IoU with an
// already-kept box exceeds iouThreshold. Keep order follows area order, so
// running Suppress on its own output is a no-op.
func Suppress(boxes []Rect, iouThreshold float64) []Rect {
	if len(boxes) <= 1 {
		return boxes
	}

	sorted := make([]Rect, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Area() > sorted[j].Area()
	})

	kept := make([]Rect, 0, len(sorted))
	for _, candidate := range sorted {
		overlaps := false
		for _, k := range kept {
			if IoU(candidate, k) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, candidate)
		}
	}
	return kept
}
