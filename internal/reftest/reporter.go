package reftest

import (
	"fmt"
	"io"
	"snapshot-reftest/internal/snapshot"
	"strconv"
	"strings"
)

const (
	failMarker       = "REFTEST TEST-UNEXPECTED-FAIL"
	imageTestTag     = "REFTEST   IMAGE 1 (TEST): "
	imageRefTag      = "REFTEST   IMAGE 2 (REFERENCE): "
	imageTag         = "REFTEST   IMAGE: "
	unavailableCount = "unavailable"
)

// Reporter turns comparisons into pass/fail records and, on failure, writes
// the line-tagged block that reftest log analyzers parse.
type Reporter struct {
	comparator *Comparator
	recorder   Recorder
	out        io.Writer
}

func NewReporter(comparator *Comparator, recorder Recorder, out io.Writer) *Reporter {
	if out == nil {
		out = io.Discard
	}
	return &Reporter{
		comparator: comparator,
		recorder:   recorder,
		out:        out,
	}
}

func (r *Reporter) AssertSnapshotsEqual(a *snapshot.Snapshot, b *snapshot.Snapshot, fuzz *Fuzz, nameA string, nameB string) bool {
	return r.AssertSnapshots(a, b, true, fuzz, nameA, nameB)
}

func (r *Reporter) AssertSnapshotsNotEqual(a *snapshot.Snapshot, b *snapshot.Snapshot, fuzz *Fuzz, nameA string, nameB string) bool {
	return r.AssertSnapshots(a, b, false, fuzz, nameA, nameB)
}

// AssertSnapshots compares a with b and returns whether the outcome matched
// expectEqual.
func (r *Reporter) AssertSnapshots(a *snapshot.Snapshot, b *snapshot.Snapshot, expectEqual bool, fuzz *Fuzz, nameA string, nameB string) bool {
	return r.Check(a, b, expectEqual, fuzz, nameA, nameB).Passed
}

// Check reports like AssertSnapshots and returns the full comparison result.
func (r *Reporter) Check(a *snapshot.Snapshot, b *snapshot.Snapshot, expectEqual bool, fuzz *Fuzz, nameA string, nameB string) *Result {
	result := r.comparator.Compare(a, b, expectEqual, fuzz)

	if result.Reason == ReasonDimensionMismatch || result.Reason == ReasonComparisonError {
		r.recorder.Record(false, result.Message)
	}

	r.recorder.Record(result.Passed, ComparisonMessage(expectEqual, nameA, nameB))

	if !result.Passed && result.Reason != ReasonDimensionMismatch {
		// Write errors do not affect the verdict.
		_, _ = io.WriteString(r.out, FormatFailure(result, expectEqual, nameA))
	}

	return result
}

func operator(expectEqual bool) string {
	if expectEqual {
		return "=="
	}
	return "!="
}

func ComparisonMessage(expectEqual bool, nameA string, nameB string) string {
	return "reftest comparison: " + operator(expectEqual) + " " + nameA + " " + nameB
}

// FormatFailure renders the failure block for result. Equality failures carry
// both images, inequality failures only the test image.
func FormatFailure(result *Result, expectEqual bool, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s | image comparison (%s), max difference: %s, number of differing pixels: %s\n",
		failMarker, name, operator(expectEqual), formatCount(result.MaxDelta), formatCount(result.DifferentPixels))
	if expectEqual {
		b.WriteString(imageTestTag + result.SerializedA + "\n")
		b.WriteString(imageRefTag + result.SerializedB + "\n")
	} else {
		b.WriteString(imageTag + result.SerializedA + "\n")
	}
	return b.String()
}

func formatCount(v *int) string {
	if v == nil {
		return unavailableCount
	}
	return strconv.Itoa(*v)
}
