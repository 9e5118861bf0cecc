package image

import (
	"errors"
	"image"
)

var ErrSizeMismatch = errors.New("images are not the same size")

type DiffResult struct {
	// Image highlights differing pixels; identical pixels keep the baseline colour.
	Image image.Image
	// DifferentPixels is the number of pixels where any channel differs.
	DifferentPixels int
	// MaxDelta is the largest absolute difference of a single 8-bit channel.
	MaxDelta int
}

type Differ interface {
	Calculate(baseline image.Image, target image.Image) (*DiffResult, error)
}
