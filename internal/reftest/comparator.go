package reftest

import (
	"fmt"
	"image"
	"snapshot-reftest/internal/snapshot"

	"github.com/go-logr/logr"
)

// PixelComparer is the pixel-diff primitive. Implementations return the number
// of differing pixels and the largest per-channel delta of two images that
// share the same dimensions.
type PixelComparer interface {
	ComparePixels(a image.Image, b image.Image) (differentPixels int, maxDelta int, err error)
}

type Reason int

const (
	ReasonNone Reason = iota
	// ReasonDimensionMismatch means the snapshots were never compared.
	ReasonDimensionMismatch
	// ReasonComparisonError means the pixel-diff primitive failed.
	ReasonComparisonError
	// ReasonExpectationMismatch means the comparison ran but equality did not match the expectation.
	ReasonExpectationMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDimensionMismatch:
		return "dimension-mismatch"
	case ReasonComparisonError:
		return "comparison-error"
	case ReasonExpectationMismatch:
		return "expectation-mismatch"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

const dimensionMismatchMessage = "Snapshot canvases are not the same size - comparing them makes no sense"

type Result struct {
	Passed  bool
	Reason  Reason
	Message string

	// SerializedA and SerializedB hold data URLs of both snapshots whenever
	// the comparison failed or the serialized fallback was used.
	SerializedA string
	SerializedB string

	// DifferentPixels and MaxDelta are nil unless the pixel primitive ran.
	DifferentPixels *int
	MaxDelta        *int
}

type Comparator struct {
	pixels PixelComparer
	log    logr.Logger
}

type Option func(*Comparator)

// WithPixelComparer installs the pixel-diff primitive. Without one the
// comparator falls back to comparing serialized snapshots.
func WithPixelComparer(p PixelComparer) Option {
	return func(c *Comparator) {
		c.pixels = p
	}
}

func WithLogger(l logr.Logger) Option {
	return func(c *Comparator) {
		c.log = l
	}
}

func NewComparator(opts ...Option) *Comparator {
	c := &Comparator{
		log: logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasPixelComparer reports whether pixel counts will be available.
func (c *Comparator) HasPixelComparer() bool {
	return c.pixels != nil
}

// Compare checks a against b. A nil fuzz requires exact equality. It never
// panics on primitive failures; every failure is reported through Result.
func (c *Comparator) Compare(a *snapshot.Snapshot, b *snapshot.Snapshot, expectEqual bool, fuzz *Fuzz) *Result {
	if !a.SameSize(b) {
		c.log.V(1).Info("snapshot sizes differ", "widthA", a.Width(), "heightA", a.Height(), "widthB", b.Width(), "heightB", b.Height())
		return &Result{
			Passed:  false,
			Reason:  ReasonDimensionMismatch,
			Message: dimensionMismatchMessage,
		}
	}

	result := &Result{}
	if c.pixels != nil {
		c.comparePixels(result, a, b, expectEqual, fuzz)
		if !result.Passed {
			c.serialize(result, a, b)
		}
	} else {
		c.serialize(result, a, b)
		if result.Reason == ReasonNone {
			equal := result.SerializedA == result.SerializedB
			result.Passed = equal == expectEqual
			if !result.Passed {
				result.Reason = ReasonExpectationMismatch
			}
		}
	}

	c.log.V(1).Info("compared snapshots", "passed", result.Passed, "reason", result.Reason.String(), "expectEqual", expectEqual)
	return result
}

func (c *Comparator) comparePixels(result *Result, a *snapshot.Snapshot, b *snapshot.Snapshot, expectEqual bool, fuzz *Fuzz) {
	defer func() {
		if r := recover(); r != nil {
			*result = Result{
				Passed:  false,
				Reason:  ReasonComparisonError,
				Message: fmt.Sprintf("Pixel comparison panicked: %v", r),
			}
		}
	}()

	differentPixels, maxDelta, err := c.pixels.ComparePixels(a.Image(), b.Image())
	if err != nil {
		c.log.Error(err, "pixel comparison failed")
		result.Passed = false
		result.Reason = ReasonComparisonError
		result.Message = fmt.Sprintf("Pixel comparison failed: %v", err)
		return
	}

	result.DifferentPixels = &differentPixels
	result.MaxDelta = &maxDelta

	var equal bool
	if fuzz == nil {
		equal = differentPixels == 0
	} else {
		equal = fuzz.allows(differentPixels, maxDelta)
	}
	result.Passed = equal == expectEqual
	if !result.Passed {
		result.Reason = ReasonExpectationMismatch
	}
}

func (c *Comparator) serialize(result *Result, a *snapshot.Snapshot, b *snapshot.Snapshot) {
	serializedA, errA := a.DataURL()
	serializedB, errB := b.DataURL()
	result.SerializedA = serializedA
	result.SerializedB = serializedB

	for _, err := range []error{errA, errB} {
		if err == nil {
			continue
		}
		c.log.Error(err, "snapshot serialization failed")
		result.Passed = false
		if result.Reason == ReasonNone {
			result.Reason = ReasonComparisonError
			result.Message = fmt.Sprintf("Snapshot serialization failed: %v", err)
		}
		return
	}
}
