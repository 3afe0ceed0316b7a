package geometry

import (
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name     string
		a        Rect
		b        Rect
		expected float64
	}{
		{
			name:     "identical boxes",
			a:        Rect{0.1, 0.1, 0.2, 0.2},
			b:        Rect{0.1, 0.1, 0.2, 0.2},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			a:        Rect{0, 0, 0.1, 0.1},
			b:        Rect{0.5, 0.5, 0.1, 0.1},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			a:        Rect{0, 0, 0.1, 0.1},
			b:        Rect{0.05, 0.05, 0.1, 0.1},
			expected: 0.0025 / 0.0175, // intersection / (0.01+0.01-0.0025)
		},
		{
			name:     "one inside other",
			a:        Rect{0, 0, 0.2, 0.2},
			b:        Rect{0.05, 0.05, 0.1, 0.1},
			expected: 0.01 / 0.04,
		},
		{
			name:     "degenerate box",
			a:        Rect{0.1, 0.1, 0, 0.2},
			b:        Rect{0.1, 0.1, 0.2, 0.2},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("IoU(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestIoUSymmetric(t *testing.T) {
	a := Rect{0.1, 0.2, 0.3, 0.25}
	b := Rect{0.2, 0.3, 0.3, 0.25}
	if IoU(a, b) != IoU(b, a) {
		t.Errorf("IoU not symmetric: %v vs %v", IoU(a, b), IoU(b, a))
	}
}

func TestOverlap(t *testing.T) {
	// b fully contains a -> overlap of a is 1.
	a := Rect{0.2, 0.2, 0.1, 0.1}
	b := Rect{0.1, 0.1, 0.4, 0.4}
	if got := Overlap(a, b); math.Abs(got-1.0) > 0.0001 {
		t.Errorf("Overlap(contained) = %v, want 1.0", got)
	}
	// Half coverage.
	c := Rect{0.25, 0.2, 0.1, 0.1}
	if got := Overlap(a, c); math.Abs(got-0.5) > 0.0001 {
		t.Errorf("Overlap(half) = %v, want 0.5", got)
	}
}

func TestFlipOrigin(t *testing.T) {
	r := Rect{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}
	flipped := r.FlipOrigin()
	want := Rect{X: 0.1, Y: 0.4, W: 0.3, H: 0.4}
	if flipped != want {
		t.Errorf("FlipOrigin() = %v, want %v", flipped, want)
	}
	if back := flipped.FlipOrigin(); back != r {
		t.Errorf("FlipOrigin not involutive: %v", back)
	}
}

func TestFromTile(t *testing.T) {
	tile := Rect{X: 0.5, Y: 0.5, W: 0.5, H: 0.5}
	local := Rect{X: 0.2, Y: 0.2, W: 0.4, H: 0.4}
	got := FromTile(local, tile)
	want := Rect{X: 0.6, Y: 0.6, W: 0.2, H: 0.2}
	if math.Abs(got.X-want.X) > 0.0001 || math.Abs(got.Y-want.Y) > 0.0001 ||
		math.Abs(got.W-want.W) > 0.0001 || math.Abs(got.H-want.H) > 0.0001 {
		t.Errorf("FromTile() = %v, want %v", got, want)
	}
}

func TestClamp(t *testing.T) {
	r := Rect{X: -0.1, Y: 0.9, W: 0.3, H: 0.3}.Clamp()
	if r.X != 0 || r.W > 0.2001 {
		t.Errorf("Clamp left edge: %v", r)
	}
	if r.Y+r.H > 1.0001 {
		t.Errorf("Clamp top edge: %v", r)
	}
}

func TestSuppress(t *testing.T) {
	boxes := []Rect{
		{0.1, 0.1, 0.2, 0.2},   // large
		{0.12, 0.12, 0.18, 0.18}, // heavy overlap with first, smaller
		{0.6, 0.6, 0.1, 0.1},   // far away
	}
	kept := Suppress(boxes, 0.4)
	if len(kept) != 2 {
		t.Fatalf("Suppress kept %d boxes, want 2: %v", len(kept), kept)
	}
	// Larger box wins within an overlapping cluster.
	if kept[0].W != 0.2 {
		t.Errorf("Suppress should prefer the larger box, got %v", kept[0])
	}
}

func TestSuppressIdempotent(t *testing.T) {
	boxes := []Rect{
		{0.1, 0.1, 0.2, 0.2},
		{0.15, 0.15, 0.2, 0.2},
		{0.5, 0.5, 0.15, 0.15},
		{0.52, 0.52, 0.1, 0.1},
		{0.8, 0.1, 0.1, 0.12},
	}
	once := Suppress(boxes, 0.4)
	twice := Suppress(once, 0.4)
	if len(once) != len(twice) {
		t.Fatalf("second pass changed count: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("box %d changed on second pass: %v -> %v", i, once[i], twice[i])
		}
	}
}
