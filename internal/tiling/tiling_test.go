package tiling

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/geometry"
	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/vision"
)

// fakeDetector answers based on the dimensions of the image it is given,
// so full-image and tile passes can be told apart.
type fakeDetector struct {
	calls  int
	answer func(width, height int) []vision.DetectedFace
	err    error
}

func (f *fakeDetector) Detect(_ context.Context, imageData []byte, _ vision.DetectOptions) ([]vision.DetectedFace, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	img, err := vision.DecodeImage(imageData)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return f.answer(b.Dx(), b.Dy()), nil
}

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestRedetect_FullImageOnly(t *testing.T) {
	face := vision.DetectedFace{Rect: geometry.Rect{X: 0.4, Y: 0.4, W: 0.2, H: 0.2}, Score: 0.9}
	det := &fakeDetector{answer: func(w, h int) []vision.DetectedFace {
		if w == 400 && h == 400 {
			return []vision.DetectedFace{face}
		}
		return nil
	}}

	faces, err := NewDetector(det, DefaultOptions()).Redetect(context.Background(), testImage(t, 400, 400))
	if err != nil {
		t.Fatalf("Redetect failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if faces[0].Rect != face.Rect {
		t.Errorf("face moved: %+v", faces[0].Rect)
	}
	// one full pass plus nine tiles
	if det.calls != 10 {
		t.Errorf("expected 10 detector calls, got %d", det.calls)
	}
}

func TestRedetect_TileCoordinateTransform(t *testing.T) {
	// Only tile passes (200x200 on a 400x400 image) report a face, in
	// the center of the tile.
	det := &fakeDetector{answer: func(w, h int) []vision.DetectedFace {
		if w == 200 && h == 200 {
			return []vision.DetectedFace{{Rect: geometry.Rect{X: 0.4, Y: 0.4, W: 0.2, H: 0.2}, Score: 0.8}}
		}
		return nil
	}}

	faces, err := NewDetector(det, DefaultOptions()).Redetect(context.Background(), testImage(t, 400, 400))
	if err != nil {
		t.Fatalf("Redetect failed: %v", err)
	}
	// Nine tiles each report the same tile-local face; the transforms
	// land far enough apart that all nine survive suppression.
	if len(faces) != 9 {
		t.Fatalf("expected 9 tile faces, got %d", len(faces))
	}
	var xs []float64
	for _, f := range faces {
		if math.Abs(f.Rect.W-0.1) > 1e-9 || math.Abs(f.Rect.H-0.1) > 1e-9 {
			t.Errorf("tile face not rescaled to global coordinates: %+v", f.Rect)
		}
		xs = append(xs, f.Rect.X)
	}
	for _, want := range []float64{0.2, 0.45, 0.7} {
		found := false
		for _, x := range xs {
			if math.Abs(x-want) < 1e-9 {
				found = true
			}
		}
		if !found {
			t.Errorf("expected a tile face at x=%.2f", want)
		}
	}
}

func TestRedetect_SmallImageSkipsTiles(t *testing.T) {
	det := &fakeDetector{answer: func(w, h int) []vision.DetectedFace { return nil }}

	_, err := NewDetector(det, DefaultOptions()).Redetect(context.Background(), testImage(t, 150, 150))
	if err != nil {
		t.Fatalf("Redetect failed: %v", err)
	}
	if det.calls != 1 {
		t.Errorf("expected only the full pass, got %d calls", det.calls)
	}
}

func TestSuppressFaces(t *testing.T) {
	big := vision.DetectedFace{Rect: geometry.Rect{X: 0.1, Y: 0.1, W: 0.4, H: 0.4}}
	dup := vision.DetectedFace{Rect: geometry.Rect{X: 0.12, Y: 0.12, W: 0.38, H: 0.38}}
	far := vision.DetectedFace{Rect: geometry.Rect{X: 0.7, Y: 0.7, W: 0.2, H: 0.2}}

	kept := suppressFaces([]vision.DetectedFace{dup, far, big}, 0.4)
	if len(kept) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(kept))
	}
	if kept[0].Rect != big.Rect {
		t.Error("largest face should win its cluster")
	}
}

func box(r geometry.Rect) *graph.FaceBoundingBox {
	return &graph.FaceBoundingBox{ID: uuid.New(), Rect: r}
}

func TestTransferLabels(t *testing.T) {
	personID := uuid.New()
	conf := 0.9

	old := box(geometry.Rect{X: 0.1, Y: 0.1, W: 0.2, H: 0.2})
	old.Assign(personID, "Anna", &conf, true)
	oldUnlabeled := box(geometry.Rect{X: 0.6, Y: 0.6, W: 0.2, H: 0.2})

	near := box(geometry.Rect{X: 0.12, Y: 0.12, W: 0.2, H: 0.2})
	far := box(geometry.Rect{X: 0.7, Y: 0.1, W: 0.2, H: 0.2})

	d := NewDetector(nil, DefaultOptions())
	moved := d.TransferLabels(
		[]*graph.FaceBoundingBox{old, oldUnlabeled},
		[]*graph.FaceBoundingBox{near, far},
	)

	if near.PersonID == nil || *near.PersonID != personID {
		t.Fatal("overlapping box should inherit the label")
	}
	if near.PersonName != "Anna" || !near.AutoAccepted {
		t.Error("label metadata not carried over")
	}
	if far.PersonID != nil {
		t.Error("distant box must stay unlabeled")
	}
	if len(moved) != 1 || moved[old.ID] != near.ID {
		t.Errorf("expected %s -> %s in the transfer map, got %v", old.ID, near.ID, moved)
	}
}

func TestTransferLabels_OneLabelPerBox(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	oldA := box(geometry.Rect{X: 0.1, Y: 0.1, W: 0.2, H: 0.2})
	oldA.Assign(a, "A", nil, false)
	oldB := box(geometry.Rect{X: 0.15, Y: 0.1, W: 0.2, H: 0.2})
	oldB.Assign(b, "B", nil, false)

	// Just one new box where both old labels lived.
	fresh := box(geometry.Rect{X: 0.1, Y: 0.1, W: 0.2, H: 0.2})

	d := NewDetector(nil, DefaultOptions())
	d.TransferLabels([]*graph.FaceBoundingBox{oldA, oldB}, []*graph.FaceBoundingBox{fresh})

	if fresh.PersonID == nil || *fresh.PersonID != a {
		t.Error("first label should claim the box, second should drop")
	}
}

func TestLocateSession_Flow(t *testing.T) {
	det := &fakeDetector{answer: func(w, h int) []vision.DetectedFace {
		return []vision.DetectedFace{{Rect: geometry.Rect{X: 0.4, Y: 0.4, W: 0.2, H: 0.2}, Score: 0.7}}
	}}

	s := NewLocateSession(det, nil)
	if s.State() != LocateAwaitingTap {
		t.Fatalf("expected awaitingTap, got %s", s.State())
	}

	face, err := s.Tap(context.Background(), testImage(t, 400, 400), 0.5, 0.5, 1)
	if err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if s.State() != LocateApplying {
		t.Fatalf("expected applying, got %s", s.State())
	}
	if face.Rect.W <= 0 || face.Rect.W >= 0.3 {
		t.Errorf("located face not mapped back into the tap region: %+v", face.Rect)
	}

	// a second tap without applying is invalid
	if _, err := s.Tap(context.Background(), nil, 0, 0, 1); err == nil {
		t.Error("expected error for tap in applying state")
	}

	s.Applied()
	if s.State() != LocateIdle {
		t.Errorf("expected idle after apply, got %s", s.State())
	}
}

func TestLocateSession_NoFaceRetry(t *testing.T) {
	det := &fakeDetector{answer: func(w, h int) []vision.DetectedFace { return nil }}

	s := NewLocateSession(det, nil)
	_, err := s.Tap(context.Background(), testImage(t, 400, 400), 0.5, 0.5, 1)
	if !errors.Is(err, vision.ErrNoFaceFound) {
		t.Fatalf("expected ErrNoFaceFound, got %v", err)
	}
	if s.State() != LocateError {
		t.Fatalf("expected error state, got %s", s.State())
	}

	s.Retry()
	if s.State() != LocateAwaitingTap {
		t.Errorf("expected awaitingTap after retry, got %s", s.State())
	}
	if s.Err() != nil {
		t.Error("retry should clear the error")
	}
}

func TestLocateSession_DuplicateRegion(t *testing.T) {
	det := &fakeDetector{answer: func(w, h int) []vision.DetectedFace {
		return []vision.DetectedFace{{Rect: geometry.Rect{X: 0.3, Y: 0.3, W: 0.4, H: 0.4}, Score: 0.7}}
	}}

	// Existing box sits exactly where the located face will land.
	existing := []geometry.Rect{{X: 0.44, Y: 0.44, W: 0.12, H: 0.12}}
	s := NewLocateSession(det, existing)

	_, err := s.Tap(context.Background(), testImage(t, 400, 400), 0.5, 0.5, 1)
	if !errors.Is(err, ErrDuplicateRegion) {
		t.Fatalf("expected ErrDuplicateRegion, got %v", err)
	}
}

func TestLocateSession_DuplicateInsideLargerBox(t *testing.T) {
	det := &fakeDetector{answer: func(w, h int) []vision.DetectedFace {
		return []vision.DetectedFace{{Rect: geometry.Rect{X: 0.3, Y: 0.3, W: 0.4, H: 0.4}, Score: 0.7}}
	}}

	// The located face lands at {0.44,0.44,0.12,0.12}, fully inside this
	// box. Symmetric IoU is tiny here; coverage is what must trip the
	// guard.
	existing := []geometry.Rect{{X: 0.2, Y: 0.2, W: 0.6, H: 0.6}}
	s := NewLocateSession(det, existing)

	_, err := s.Tap(context.Background(), testImage(t, 400, 400), 0.5, 0.5, 1)
	if !errors.Is(err, ErrDuplicateRegion) {
		t.Fatalf("expected ErrDuplicateRegion for contained face, got %v", err)
	}
}
