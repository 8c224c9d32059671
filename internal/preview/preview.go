// Package preview loads the image a run wrote and reduces it to the
// last-image summary shown on the dashboard and in metrics.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"time"

	"golang.org/x/image/tiff"
)

// ErrEmpty is returned for an image with no pixels.
var ErrEmpty = errors.New("image has no pixels")

// Image summarizes one written image.
type Image struct {
	Path   string
	Width  int
	Height int
	// Depth is the sample width in bits of the decoded image.
	Depth  int
	Sum    uint64
	Max    uint32
	Loaded time.Time
}

// Pixels returns the pixel count.
func (img Image) Pixels() int {
	return img.Width * img.Height
}

// Mean returns the mean pixel value.
func (img Image) Mean() float64 {
	n := img.Pixels()
	if n == 0 {
		return 0
	}
	return float64(img.Sum) / float64(n)
}

// Load decodes the TIFF at path and summarizes it. 8 and 16-bit grayscale
// samples are summed as stored; other color models are reduced to 16-bit
// gray.
func Load(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, err
	}
	defer f.Close()

	decoded, err := tiff.Decode(f)
	if err != nil {
		return Image{}, fmt.Errorf("decode %s: %w", path, err)
	}

	img, err := Summarize(decoded)
	if err != nil {
		return Image{}, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	img.Loaded = time.Now()
	return img, nil
}

// Summarize computes the pixel statistics of m.
func Summarize(m image.Image) (Image, error) {
	b := m.Bounds()
	img := Image{Width: b.Dx(), Height: b.Dy()}
	if img.Pixels() == 0 {
		return Image{}, ErrEmpty
	}

	add := func(v uint32) {
		img.Sum += uint64(v)
		if v > img.Max {
			img.Max = v
		}
	}

	switch g := m.(type) {
	case *image.Gray:
		img.Depth = 8
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				add(uint32(g.GrayAt(x, y).Y))
			}
		}
	case *image.Gray16:
		img.Depth = 16
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				add(uint32(g.Gray16At(x, y).Y))
			}
		}
	default:
		img.Depth = 16
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				add(uint32(color.Gray16Model.Convert(m.At(x, y)).(color.Gray16).Y))
			}
		}
	}
	return img, nil
}
