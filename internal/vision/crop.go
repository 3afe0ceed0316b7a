package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/kozaktomas/encounters/internal/geometry"
)

const cropJPEGQuality = 85

// CropRect cuts the given normalized bottom-left-origin rect out of the
// image, with 10% padding on each side, and returns JPEG bytes.
func CropRect(img image.Image, r geometry.Rect) ([]byte, error) {
	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	top := r.FlipOrigin() // pixel space is top-left origin
	x1 := int(top.X * w)
	y1 := int(top.Y * h)
	x2 := int((top.X + top.W) * w)
	y2 := int((top.Y + top.H) * h)

	// Pad by 10% of the box size on each side.
	padX := (x2 - x1) / 10
	padY := (y2 - y1) / 10
	x1 = clampInt(x1-padX, bounds.Min.X, bounds.Max.X)
	y1 = clampInt(y1-padY, bounds.Min.Y, bounds.Max.Y)
	x2 = clampInt(x2+padX, bounds.Min.X, bounds.Max.X)
	y2 = clampInt(y2+padY, bounds.Min.Y, bounds.Max.Y)

	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil, fmt.Errorf("degenerate crop region %v", r)
	}

	dst := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	draw.Draw(dst, dst.Bounds(), img, image.Point{X: x1, Y: y1}, draw.Src)

	return encodeJPEG(dst)
}

// Upscale resizes an image by the given integer factor using CatmullRom
// interpolation. Used to aid detection of small faces in locate mode.
func Upscale(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx()*factor, bounds.Dy()*factor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// Thumbnail resizes image bytes to fit within maxSize while keeping aspect
// ratio and returns JPEG bytes. Input already within bounds is returned
// unchanged.
func Thumbnail(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxSize && height <= maxSize {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = height * maxSize / width
	} else {
		newHeight = maxSize
		newWidth = width * maxSize / height
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return encodeJPEG(dst)
}

// DecodeImage decodes image bytes into an image.Image.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cropJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
