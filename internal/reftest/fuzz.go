package reftest

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Fuzz is the tolerance band within which two snapshots still count as equal.
// Both bounds are inclusive.
type Fuzz struct {
	MaxDifferentPixels int
	MaxPixelDelta      int
}

func (f *Fuzz) allows(differentPixels int, maxDelta int) bool {
	return differentPixels <= f.MaxDifferentPixels && maxDelta <= f.MaxPixelDelta
}

// ParseFuzz reads the reftest manifest form "fuzzy(maxDiff,diffCount)" or the
// bare "maxDiff,diffCount". An empty string yields a nil Fuzz.
func ParseFuzz(s string) (*Fuzz, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	body := s
	if strings.HasPrefix(body, "fuzzy(") {
		if !strings.HasSuffix(body, ")") {
			return nil, xerrors.Errorf("invalid fuzz %q: missing closing parenthesis", s)
		}
		body = strings.TrimSuffix(strings.TrimPrefix(body, "fuzzy("), ")")
	}

	parts := strings.Split(body, ",")
	if len(parts) != 2 {
		return nil, xerrors.Errorf("invalid fuzz %q: expected maxDiff,diffCount", s)
	}

	maxDelta, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || maxDelta < 0 {
		return nil, xerrors.Errorf("invalid fuzz %q: bad max difference %q", s, parts[0])
	}
	maxPixels, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || maxPixels < 0 {
		return nil, xerrors.Errorf("invalid fuzz %q: bad pixel count %q", s, parts[1])
	}

	return &Fuzz{
		MaxDifferentPixels: maxPixels,
		MaxPixelDelta:      maxDelta,
	}, nil
}

func (f *Fuzz) String() string {
	if f == nil {
		return ""
	}
	return "fuzzy(" + strconv.Itoa(f.MaxPixelDelta) + "," + strconv.Itoa(f.MaxDifferentPixels) + ")"
}
