// Package vision provides face detection and face embedding against an
// InsightFace-style inference server. Detection results are normalized
// bottom-left-origin rects plus a local face crop; embeddings are
// fixed-length float32 vectors compared elsewhere via cosine similarity.
package vision

import (
	"context"
	"errors"

	"github.com/kozaktomas/encounters/internal/geometry"
)

// Accuracy selects the detector accuracy mode.
type Accuracy string

const (
	AccuracyFast     Accuracy = "fast"
	AccuracyEnhanced Accuracy = "enhanced"
)

// DetectOptions configures a detection call.
type DetectOptions struct {
	Accuracy Accuracy
}

// DetectedFace is one face found in an image.
type DetectedFace struct {
	// Rect is normalized to image dimensions, bottom-left origin.
	Rect geometry.Rect
	// Crop is the JPEG-encoded face region cut from the source image.
	Crop []byte
	// Score is the detector confidence in [0,1].
	Score float64
}

// Detector finds faces in an image.
type Detector interface {
	Detect(ctx context.Context, imageData []byte, opts DetectOptions) ([]DetectedFace, error)
}

// Embedder converts a face crop into an identity vector. Implementations
// must be deterministic for the same input and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, cropData []byte) ([]float32, error)
	Dim() int
}

var (
	// ErrNoFaceFound indicates the detector produced no usable region.
	// Retryable, non-fatal.
	ErrNoFaceFound = errors.New("no face found")

	// ErrEmbeddingFailed indicates a crop could not be embedded
	// (corrupt or degenerate image). The face stays unlabeled; batch
	// operations skip it and continue.
	ErrEmbeddingFailed = errors.New("embedding failed")
)
