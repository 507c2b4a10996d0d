// Package still decodes photos, applies their EXIF orientation to the pixels
// and writes a plain JPEG that ffmpeg can loop into a clip.
package still

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"

	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when a still cannot be decoded.
var ErrDecode = errors.New("decode still")

// DefaultQuality is the JPEG quality of normalized stills.
const DefaultQuality = 95

// Normalizer converts any supported still into an upright JPEG.
type Normalizer struct {
	quality int
}

// NewNormalizer creates a Normalizer writing JPEGs at the given quality.
// Values outside 1..100 use DefaultQuality.
func NewNormalizer(quality int) *Normalizer {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Normalizer{quality: quality}
}

// Normalize decodes src, rotates/flips it according to its EXIF orientation
// and writes the result to dst as JPEG. dst is not created on failure.
func (n *Normalizer) Normalize(ctx context.Context, src, dst string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(src) // #nosec G304 - src comes from the directory scan
	if err != nil {
		return fmt.Errorf("open still: %w", err)
	}
	defer func() { _ = f.Close() }()

	heic := strings.EqualFold(filepath.Ext(src), ".heic")

	img, err := decode(f, heic)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrDecode, src, err)
	}

	img = Orient(img, orientation(f, heic))

	if err := imaging.Save(img, dst, imaging.JPEGQuality(n.quality)); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("write normalized still: %w", err)
	}
	return nil
}

func decode(f *os.File, heic bool) (image.Image, error) {
	if heic {
		return goheif.Decode(f)
	}
	// Orientation is applied separately so HEIC and JPEG share one path.
	return imaging.Decode(f, imaging.AutoOrientation(false))
}

// orientation returns the EXIF orientation tag (1..8), or 1 when the file
// carries no readable EXIF block.
func orientation(f *os.File, heic bool) int {
	var r io.Reader
	if heic {
		raw, err := goheif.ExtractExif(f)
		if err != nil {
			return 1
		}
		tiff := tiffHeader(raw)
		if tiff < 0 {
			return 1
		}
		r = bytes.NewReader(raw[tiff:])
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return 1
		}
		r = f
	}

	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// tiffHeader finds the start of the TIFF structure inside a HEIF Exif item,
// which is prefixed by an offset field and usually "Exif\0\0".
func tiffHeader(raw []byte) int {
	start := -1
	for _, magic := range [][]byte{[]byte("II*\x00"), []byte("MM\x00*")} {
		if i := bytes.Index(raw, magic); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	return start
}

// Orient applies an EXIF orientation value so the image displays upright.
func Orient(img image.Image, o int) image.Image {
	switch o {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
