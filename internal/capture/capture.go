package capture

import (
	"context"
	"snapshot-reftest/internal/snapshot"
)

type CaptureOptions struct {
	// WithCaret keeps the text input caret visible in the snapshot.
	WithCaret     bool
	MaskSelectors []string
	Headers       map[string]string
}

type Capturer interface {
	Capture(ctx context.Context, url string, options CaptureOptions) (*snapshot.Snapshot, error)
}
