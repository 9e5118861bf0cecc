package source

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

type fileSource struct {
	config FileConfig
}

type FileConfig struct {
	// Directory resolves relative paths. Absolute paths are used as is.
	Directory string
}

func NewFileSource(ctx context.Context, f FileConfig) (Source, error) {
	if f.Directory == "" {
		f.Directory = "."
	}

	return &fileSource{
		config: f,
	}, nil
}

func (f *fileSource) Get(ctx context.Context, path string) ([]byte, error) {
	path = filepath.FromSlash(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.config.Directory, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read file: %w", err)
	}

	return data, nil
}
