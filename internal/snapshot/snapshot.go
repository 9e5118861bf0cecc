package snapshot

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/xerrors"
)

const dataURLPrefix = "data:image/png;base64,"

// Snapshot is a captured raster image of rendered output. It is never
// modified after construction.
type Snapshot struct {
	image image.Image
}

func New(img image.Image) *Snapshot {
	return &Snapshot{
		image: img,
	}
}

// Decode builds a Snapshot from encoded PNG or JPEG bytes.
func Decode(data []byte) (*Snapshot, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode snapshot: %w", err)
	}
	return New(img), nil
}

func (s *Snapshot) Image() image.Image {
	return s.image
}

func (s *Snapshot) Width() int {
	return s.image.Bounds().Dx()
}

func (s *Snapshot) Height() int {
	return s.image.Bounds().Dy()
}

// SameSize reports whether both snapshots have identical width and height.
func (s *Snapshot) SameSize(other *Snapshot) bool {
	return s.Width() == other.Width() && s.Height() == other.Height()
}

// PNG encodes the snapshot losslessly.
func (s *Snapshot) PNG() ([]byte, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, s.image); err != nil {
		return nil, xerrors.Errorf("failed to encode snapshot: %w", err)
	}
	return buffer.Bytes(), nil
}

// DataURL serialises the snapshot as a base64 PNG data URI.
func (s *Snapshot) DataURL() (string, error) {
	data, err := s.PNG()
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(data), nil
}
