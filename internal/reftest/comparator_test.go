package reftest_test

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"runtime"
	diffimage "snapshot-reftest/internal/diff/image"
	"snapshot-reftest/internal/reftest"
	"snapshot-reftest/internal/snapshot"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type pixelComparerMock struct {
	fakeComparePixels func(a image.Image, b image.Image) (int, int, error)
}

func (m *pixelComparerMock) ComparePixels(a image.Image, b image.Image) (int, int, error) {
	return m.fakeComparePixels(a, b)
}

func fixedDifference(differentPixels int, maxDelta int) *pixelComparerMock {
	return &pixelComparerMock{
		fakeComparePixels: func(image.Image, image.Image) (int, int, error) {
			return differentPixels, maxDelta, nil
		},
	}
}

func createSnapshot(width, height int, c color.Color) *snapshot.Snapshot {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return snapshot.New(img)
}

// withDifferingPixels returns a white 10x10 snapshot whose first n pixels
// are one step darker in the red channel.
func withDifferingPixels(n int) *snapshot.Snapshot {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for i := 0; i < n; i++ {
		img.SetRGBA(i%10, i/10, color.RGBA{R: 254, G: 255, B: 255, A: 255})
	}
	return snapshot.New(img)
}

func intPtr(i int) *int {
	return &i
}

type verdict struct {
	Passed          bool
	Reason          reftest.Reason
	Serialized      bool
	DifferentPixels *int
	MaxDelta        *int
}

func summarize(r *reftest.Result) verdict {
	return verdict{
		Passed:          r.Passed,
		Reason:          r.Reason,
		Serialized:      r.SerializedA != "" && r.SerializedB != "",
		DifferentPixels: r.DifferentPixels,
		MaxDelta:        r.MaxDelta,
	}
}

func TestComparatorCompare(t *testing.T) {
	white := createSnapshot(10, 10, color.White)
	black := createSnapshot(10, 10, color.Black)
	tall := createSnapshot(10, 11, color.White)

	type in struct {
		a           *snapshot.Snapshot
		b           *snapshot.Snapshot
		expectEqual bool
		fuzz        *reftest.Fuzz
	}

	tests := []struct {
		name     string
		receiver *reftest.Comparator
		in       in
		want     verdict
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(0, 0))),
			in{white, tall, true, nil},
			verdict{Passed: false, Reason: reftest.ReasonDimensionMismatch},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(),
			in{white, tall, false, nil},
			verdict{Passed: false, Reason: reftest.ReasonDimensionMismatch},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(0, 0))),
			in{white, white, true, nil},
			verdict{Passed: true, DifferentPixels: intPtr(0), MaxDelta: intPtr(0)},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(0, 0))),
			in{white, white, false, nil},
			verdict{Passed: false, Reason: reftest.ReasonExpectationMismatch, Serialized: true, DifferentPixels: intPtr(0), MaxDelta: intPtr(0)},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(5, 1))),
			in{white, white, true, nil},
			verdict{Passed: false, Reason: reftest.ReasonExpectationMismatch, Serialized: true, DifferentPixels: intPtr(5), MaxDelta: intPtr(1)},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(5, 1))),
			in{white, white, false, nil},
			verdict{Passed: true, DifferentPixels: intPtr(5), MaxDelta: intPtr(1)},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(5, 2))),
			in{white, white, true, &reftest.Fuzz{MaxDifferentPixels: 5, MaxPixelDelta: 2}},
			verdict{Passed: true, DifferentPixels: intPtr(5), MaxDelta: intPtr(2)},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(5, 2))),
			in{white, white, true, &reftest.Fuzz{MaxDifferentPixels: 4, MaxPixelDelta: 2}},
			verdict{Passed: false, Reason: reftest.ReasonExpectationMismatch, Serialized: true, DifferentPixels: intPtr(5), MaxDelta: intPtr(2)},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(5, 2))),
			in{white, white, true, &reftest.Fuzz{MaxDifferentPixels: 5, MaxPixelDelta: 1}},
			verdict{Passed: false, Reason: reftest.ReasonExpectationMismatch, Serialized: true, DifferentPixels: intPtr(5), MaxDelta: intPtr(2)},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(fixedDifference(5, 2))),
			in{white, white, false, &reftest.Fuzz{MaxDifferentPixels: 5, MaxPixelDelta: 2}},
			verdict{Passed: false, Reason: reftest.ReasonExpectationMismatch, Serialized: true, DifferentPixels: intPtr(5), MaxDelta: intPtr(2)},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(&pixelComparerMock{
				fakeComparePixels: func(image.Image, image.Image) (int, int, error) {
					return 0, 0, errors.New("fake")
				},
			})),
			in{white, white, true, nil},
			verdict{Passed: false, Reason: reftest.ReasonComparisonError, Serialized: true},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(&pixelComparerMock{
				fakeComparePixels: func(image.Image, image.Image) (int, int, error) {
					panic("fake")
				},
			})),
			in{white, white, false, nil},
			verdict{Passed: false, Reason: reftest.ReasonComparisonError, Serialized: true},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(),
			in{white, createSnapshot(10, 10, color.White), true, nil},
			verdict{Passed: true, Serialized: true},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(),
			in{white, black, true, &reftest.Fuzz{MaxDifferentPixels: 100, MaxPixelDelta: 255}},
			verdict{Passed: false, Reason: reftest.ReasonExpectationMismatch, Serialized: true},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(),
			in{white, black, false, nil},
			verdict{Passed: true, Serialized: true},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			reftest.NewComparator(reftest.WithPixelComparer(nil)),
			in{white, white, false, nil},
			verdict{Passed: false, Reason: reftest.ReasonExpectationMismatch, Serialized: true},
		},
	}
	for _, tt := range tests {
		name := tt.name
		receiver := tt.receiver
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := summarize(receiver.Compare(in.a, in.b, in.expectEqual, in.fuzz))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestComparatorCompareMessages(t *testing.T) {
	white := createSnapshot(10, 10, color.White)

	mismatch := reftest.NewComparator().Compare(white, createSnapshot(11, 10, color.White), true, nil)
	failing := reftest.NewComparator(reftest.WithPixelComparer(&pixelComparerMock{
		fakeComparePixels: func(image.Image, image.Image) (int, int, error) {
			return 0, 0, errors.New("canvas unavailable")
		},
	})).Compare(white, white, true, nil)

	if mismatch.Message == "" || failing.Message == "" {
		t.Fatalf("Expected both failures to carry a message, got %q and %q", mismatch.Message, failing.Message)
	}
	if mismatch.Message == failing.Message {
		t.Errorf("Expected dimension mismatch to be distinguishable from a primitive error, both were %q", mismatch.Message)
	}
	if diff := cmp.Diff("Pixel comparison failed: canvas unavailable", failing.Message); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestComparatorCompareWithPixelDiff(t *testing.T) {
	c := reftest.NewComparator(reftest.WithPixelComparer(diffimage.NewPixelDiff()))

	t.Run("Identical", func(t *testing.T) {
		got := c.Compare(withDifferingPixels(0), withDifferingPixels(0), true, nil)
		if !got.Passed {
			t.Errorf("Expected identical snapshots to pass, got %+v", got)
		}
		if got.SerializedA != "" || got.SerializedB != "" {
			t.Errorf("Expected no serialized images on success")
		}
	})

	t.Run("WithinTolerance", func(t *testing.T) {
		got := c.Compare(withDifferingPixels(0), withDifferingPixels(5), true, &reftest.Fuzz{MaxDifferentPixels: 10, MaxPixelDelta: 1})
		if !got.Passed {
			t.Errorf("Expected 5 pixels off by 1 to pass fuzzy(1,10), got %+v", got)
		}
	})

	t.Run("OutsideTolerance", func(t *testing.T) {
		got := c.Compare(withDifferingPixels(0), withDifferingPixels(5), true, &reftest.Fuzz{MaxDifferentPixels: 3, MaxPixelDelta: 1})
		if got.Passed {
			t.Errorf("Expected 5 pixels off by 1 to fail fuzzy(1,3)")
		}
		if diff := cmp.Diff(intPtr(5), got.DifferentPixels); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		a := withDifferingPixels(0)
		b := withDifferingPixels(7)
		forward := c.Compare(a, b, true, &reftest.Fuzz{MaxDifferentPixels: 7, MaxPixelDelta: 1})
		backward := c.Compare(b, a, true, &reftest.Fuzz{MaxDifferentPixels: 7, MaxPixelDelta: 1})
		if forward.Passed != backward.Passed {
			t.Errorf("Expected symmetric verdicts, got %v and %v", forward.Passed, backward.Passed)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		a := withDifferingPixels(0)
		b := withDifferingPixels(2)
		first := c.Compare(a, b, true, nil)
		second := c.Compare(a, b, true, nil)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("(-first +second):\n%s", diff)
		}
	})
}
