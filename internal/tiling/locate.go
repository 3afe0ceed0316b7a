package tiling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/kozaktomas/encounters/internal/geometry"
	"github.com/kozaktomas/encounters/internal/vision"
)

// ErrDuplicateRegion is returned when the located face overlaps an
// already-known box too much to be a new face.
var ErrDuplicateRegion = errors.New("located face duplicates an existing box")

// duplicateOverlap is the fraction of the located face covered by an
// existing box above which it is considered a duplicate. Coverage, not
// IoU: a small face inside a big existing box is still a duplicate.
const duplicateOverlap = 0.60

// LocateState tracks where a locate-missing-face flow is.
type LocateState string

const (
	LocateIdle        LocateState = "idle"
	LocateAwaitingTap LocateState = "awaitingTap"
	LocateDetecting   LocateState = "detecting"
	LocateApplying    LocateState = "applying"
	LocateError       LocateState = "error"
)

// LocateSession is a single locate-missing-face flow. The caller starts
// the session, feeds it a tap, and either applies the resulting box or
// retries after an error. Sessions are not safe for concurrent use.
type LocateSession struct {
	detector vision.Detector
	existing []geometry.Rect
	state    LocateState
	lastErr  error
}

// NewLocateSession starts a flow over a photo whose current boxes are
// given in normalized coordinates.
func NewLocateSession(detector vision.Detector, existing []geometry.Rect) *LocateSession {
	return &LocateSession{
		detector: detector,
		existing: existing,
		state:    LocateAwaitingTap,
	}
}

func (s *LocateSession) State() LocateState { return s.state }

// Err returns the failure that put the session into the error state.
func (s *LocateSession) Err() error { return s.lastErr }

// Retry rearms a failed session for another tap. No-face and duplicate
// failures are the expected retry cases.
func (s *LocateSession) Retry() {
	if s.state == LocateError {
		s.state = LocateAwaitingTap
		s.lastErr = nil
	}
}

// Applied marks the located box as consumed and ends the session.
func (s *LocateSession) Applied() {
	if s.state == LocateApplying {
		s.state = LocateIdle
	}
}

// Tap runs detection around the tapped point. tapX/tapY are normalized
// bottom-left coordinates; zoom is the viewer's current zoom factor, so
// a zoomed-in tap searches a proportionally smaller region.
func (s *LocateSession) Tap(ctx context.Context, imageData []byte, tapX, tapY, zoom float64) (*vision.DetectedFace, error) {
	if s.state != LocateAwaitingTap {
		return nil, fmt.Errorf("locate session is %s, not awaiting a tap", s.state)
	}
	s.state = LocateDetecting

	face, err := s.locate(ctx, imageData, tapX, tapY, zoom)
	if err != nil {
		s.state = LocateError
		s.lastErr = err
		return nil, err
	}
	s.state = LocateApplying
	return face, nil
}

func (s *LocateSession) locate(ctx context.Context, imageData []byte, tapX, tapY, zoom float64) (*vision.DetectedFace, error) {
	img, err := vision.DecodeImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if zoom < 1 {
		zoom = 1
	}

	region := tapRegion(img, tapX, tapY, zoom)
	cropData, err := cropExact(img, region)
	if err != nil {
		return nil, fmt.Errorf("crop tap region: %w", err)
	}

	// Small faces are why the full pass missed this one; upscaling the
	// region gives the detector more pixels to work with.
	crop, err := vision.DecodeImage(cropData)
	if err != nil {
		return nil, fmt.Errorf("decode tap region: %w", err)
	}
	upscaled, err := encodeUpscaled(crop)
	if err != nil {
		return nil, err
	}

	faces, err := s.detector.Detect(ctx, upscaled, vision.DetectOptions{Accuracy: vision.AccuracyEnhanced})
	if err != nil {
		return nil, fmt.Errorf("detect in tap region: %w", err)
	}
	if len(faces) == 0 {
		return nil, vision.ErrNoFaceFound
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Score > best.Score {
			best = f
		}
	}
	best.Rect = geometry.FromTile(best.Rect, region)

	for _, ex := range s.existing {
		if geometry.Overlap(best.Rect, ex) > duplicateOverlap {
			return nil, ErrDuplicateRegion
		}
	}
	return &best, nil
}

// tapRegion is a square around the tap, sized to 30% of the shorter image
// dimension and shrunk by the zoom factor, clamped inside the image.
func tapRegion(img image.Image, tapX, tapY, zoom float64) geometry.Rect {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	side := math.Min(w, h) * 0.30 / zoom

	r := geometry.Rect{
		X: tapX - side/w/2,
		Y: tapY - side/h/2,
		W: side / w,
		H: side / h,
	}
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X+r.W > 1 {
		r.X = 1 - r.W
	}
	if r.Y+r.H > 1 {
		r.Y = 1 - r.H
	}
	return r.Clamp()
}

func encodeUpscaled(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, vision.Upscale(img, 3), &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode upscaled region: %w", err)
	}
	return buf.Bytes(), nil
}
