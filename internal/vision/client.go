package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kozaktomas/encounters/internal/geometry"
)

const (
	defaultServerURL = "http://localhost:8000"
	defaultDim       = 512
)

// Client talks to the face inference server over HTTP. It implements both
// Detector and Embedder. The server reports pixel bounding boxes with a
// top-left origin; the client converts them to the normalized
// bottom-left-origin convention used throughout the data model and cuts
// the face crops locally.
type Client struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewClient creates a face inference client. Empty arguments fall back to
// defaults (localhost server, 512-dimensional model).
func NewClient(baseURL string, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultServerURL
	}
	if dim <= 0 {
		dim = defaultDim
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{},
	}
}

// Dim returns the embedding dimension of the configured model.
func (c *Client) Dim() int {
	return c.dim
}

// detectResponse is the JSON shape of the /detect/face endpoint.
type detectResponse struct {
	FacesCount int            `json:"faces_count"`
	Faces      []detectedFace `json:"faces"`
	Model      string         `json:"model"`
}

type detectedFace struct {
	BBox     []float64 `json:"bbox"` // [x1, y1, x2, y2] pixels, top-left origin
	DetScore float64   `json:"det_score"`
}

// embedResponse is the JSON shape of the /embed/face endpoint.
type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// Detect runs face detection on an image and returns normalized boxes with
// locally cut crops. Faces whose crop region turns out degenerate are
// dropped rather than failing the call.
func (c *Client) Detect(ctx context.Context, imageData []byte, opts DetectOptions) ([]DetectedFace, error) {
	img, err := DecodeImage(imageData)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("degenerate image %dx%d", bounds.Dx(), bounds.Dy())
	}

	accuracy := opts.Accuracy
	if accuracy == "" {
		accuracy = AccuracyFast
	}

	body, err := c.postMultipartImage(ctx, "/detect/face?accuracy="+string(accuracy), imageData)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse detect response: %w", err)
	}

	faces := make([]DetectedFace, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		// Pixel top-left corners -> normalized bottom-left rect.
		rect := geometry.Rect{
			X: f.BBox[0] / w,
			Y: f.BBox[1] / h,
			W: (f.BBox[2] - f.BBox[0]) / w,
			H: (f.BBox[3] - f.BBox[1]) / h,
		}.Clamp().FlipOrigin()
		if rect.Area() <= 0 {
			continue
		}

		crop, err := CropRect(img, rect)
		if err != nil {
			continue
		}
		faces = append(faces, DetectedFace{
			Rect:  rect,
			Crop:  crop,
			Score: f.DetScore,
		})
	}

	return faces, nil
}

// Embed computes the identity vector for a face crop.
func (c *Client) Embed(ctx context.Context, cropData []byte) ([]float32, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", cropData)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingFailed, err)
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrEmbeddingFailed)
	}
	if len(resp.Embedding) != c.dim {
		return nil, fmt.Errorf("%w: dimension mismatch: got %d, want %d",
			ErrEmbeddingFailed, len(resp.Embedding), c.dim)
	}

	return resp.Embedding, nil
}

// postMultipartImage posts image data as a multipart form to the given
// endpoint and returns the raw response body.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
