package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// FileFetcher reads indexes and archives from local repositories
// (file:// URLs or absolute paths).
type FileFetcher struct {
	verifier Verifier
}

// NewFileFetcher creates a FileFetcher. v may be nil.
func NewFileFetcher(v Verifier) *FileFetcher {
	return &FileFetcher{verifier: v}
}

// FetchIndex implements RepositoryFetcher.
func (f *FileFetcher) FetchIndex(ctx context.Context, rawURL string, verify bool) ([]byte, error) {
	data, err := f.read(rawURL)
	if err != nil {
		return nil, err
	}
	if verify && f.verifier != nil {
		if err := f.verifier.VerifyIndex(ctx, data); err != nil {
			return nil, fmt.Errorf("verify %s: %w", rawURL, err)
		}
	}
	return data, nil
}

// FetchArchive implements ArchiveFetcher.
func (f *FileFetcher) FetchArchive(_ context.Context, rawURL string) ([]byte, error) {
	return f.read(rawURL)
}

func (f *FileFetcher) read(rawURL string) ([]byte, error) {
	path, err := localPath(rawURL)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func localPath(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "/") {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("%s: not a local repository: %w", rawURL, ErrBadURL)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%s: empty path: %w", rawURL, ErrBadURL)
	}
	return u.Path, nil
}
