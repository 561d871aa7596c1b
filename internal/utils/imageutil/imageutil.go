package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrNotImage = errors.New("content is not an image")

// DecodeRGB decodes any registered raster format and drops the alpha
// channel without compositing: every pixel ends up fully opaque with its
// original color values.
func DecodeRGB(data []byte) (*image.RGBA, error) {
	mtype := DetectContentType(data)
	if !strings.HasPrefix(mtype, "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mtype)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", mtype, err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("decoded %s image is empty", format)
	}

	flat := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b := straightRGB(img.At(x, y))
			i := flat.PixOffset(x-bounds.Min.X, y-bounds.Min.Y)
			flat.Pix[i+0] = r
			flat.Pix[i+1] = g
			flat.Pix[i+2] = b
			flat.Pix[i+3] = 0xff
		}
	}

	return clone.AsRGBA(flat), nil
}

// straightRGB returns the color channels without alpha applied.
// Non-premultiplied colors pass through untouched.
func straightRGB(c color.Color) (r, g, b uint8) {
	switch c := c.(type) {
	case color.NRGBA:
		return c.R, c.G, c.B
	case color.NRGBA64:
		return uint8(c.R >> 8), uint8(c.G >> 8), uint8(c.B >> 8)
	}

	pr, pg, pb, pa := c.RGBA()
	if pa == 0 {
		return 0, 0, 0
	}
	return uint8(pr * 0xffff / pa >> 8), uint8(pg * 0xffff / pa >> 8), uint8(pb * 0xffff / pa >> 8)
}

func EncodePNG(img image.Image) ([]byte, error) {
	var output bytes.Buffer
	if err := imgio.PNGEncoder()(&output, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}

	return output.Bytes(), nil
}

// DetectContentType reports the sniffed MIME type of data.
func DetectContentType(data []byte) string {
	return mimetype.Detect(data).String()
}
