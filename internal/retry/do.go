package retry

import (
	"context"
	"time"

	"golang.org/x/xerrors"
)

// Do calls fn until it succeeds, the strategy gives up or ctx is done. The
// last error from fn is returned.
func Do(ctx context.Context, strategy Strategy, fn func(ctx context.Context) error) error {
	if strategy == nil {
		strategy = NewNever()
	}

	for attempt := uint(0); ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		sleep, exceeded := strategy.Sleep(attempt)
		if exceeded {
			return xerrors.Errorf("failed after %d attempts: %w", attempt+1, err)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
