// Package vision decodes uploaded images and re-encodes them for model runtimes.
package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmpty is returned when there are no bytes to decode.
var ErrEmpty = errors.New("empty image payload")

// Image is a decoded upload.
type Image struct {
	image.Image
	// Format is the decoder name, e.g. "jpeg", "png", "webp".
	Format string
}

// Width of the decoded bitmap in pixels.
func (i Image) Width() int { return i.Bounds().Dx() }

// Height of the decoded bitmap in pixels.
func (i Image) Height() int { return i.Bounds().Dy() }

// Decode turns raw upload bytes into an in-memory bitmap.
func Decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrEmpty
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("cannot identify image file: %w", err)
	}
	return Image{Image: img, Format: format}, nil
}

// EncodePNG re-encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI encodes img as a base64 PNG data URI, the form OpenAI-compatible
// runtimes accept in image_url content parts.
func DataURI(img image.Image) (string, error) {
	b, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b), nil
}
