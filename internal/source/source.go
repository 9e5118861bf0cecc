package source

import (
	"context"
	"strings"

	"golang.org/x/xerrors"
)

// Source reads encoded snapshot bytes addressed by a URL or path.
type Source interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Router dispatches s3:// URLs to S3 and everything else to Files.
type Router struct {
	Files Source
	S3    Source
}

func (r *Router) Get(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "s3://") {
		if r.S3 == nil {
			return nil, xerrors.Errorf("failed to read %s: no S3 source configured", url)
		}
		return r.S3.Get(ctx, url)
	}
	if r.Files == nil {
		return nil, xerrors.Errorf("failed to read %s: no file source configured", url)
	}
	return r.Files.Get(ctx, url)
}
