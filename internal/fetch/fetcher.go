// Package fetch downloads repository indexes and package archives over HTTP
// or from the local filesystem, with retry, per-host circuit breaking and
// conditional requests.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrNotModified  = errors.New("resource not modified")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream repository unavailable")
	ErrBadURL       = errors.New("invalid repository URL")
)

// IndexFile is the name of the signed index archive inside a repository architecture directory.
const IndexFile = "APKINDEX.tar.gz"

// RepositoryFetcher retrieves the index of a repository. When verify is set the
// index is checked by the configured Verifier before it is returned.
// ErrNotModified is returned when the index did not change since the last fetch.
type RepositoryFetcher interface {
	FetchIndex(ctx context.Context, url string, verify bool) ([]byte, error)
}

// ArchiveFetcher retrieves package archives.
type ArchiveFetcher interface {
	FetchArchive(ctx context.Context, url string) ([]byte, error)
}

// Fetcher retrieves both indexes and archives.
type Fetcher interface {
	RepositoryFetcher
	ArchiveFetcher
}

// Verifier checks the signature of a downloaded index.
type Verifier interface {
	VerifyIndex(ctx context.Context, data []byte) error
}

// ETagStore persists entity tags per URL for conditional requests.
type ETagStore interface {
	GetETag(url string) (string, error)
	SetETag(url, etag string) error
}

// IndexURL returns the location of the index for a repository and architecture.
func IndexURL(repo, arch string) string {
	return JoinURL(repo, arch, IndexFile)
}

// ArchiveURL returns the location of a package archive in a repository.
func ArchiveURL(repo, arch, filename string) string {
	return JoinURL(repo, arch, filename)
}

// JoinURL appends path elements to a repository URL or path.
func JoinURL(base string, elems ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elems {
		if e == "" {
			continue
		}
		out += "/" + strings.Trim(e, "/")
	}
	return out
}

// Dispatcher routes requests to the HTTP or file fetcher by URL scheme.
type Dispatcher struct {
	HTTP *HTTPFetcher
	File *FileFetcher
}

// NewDispatcher creates a Dispatcher over the given fetchers.
func NewDispatcher(h *HTTPFetcher, f *FileFetcher) *Dispatcher {
	return &Dispatcher{HTTP: h, File: f}
}

// FetchIndex implements RepositoryFetcher.
func (d *Dispatcher) FetchIndex(ctx context.Context, rawURL string, verify bool) ([]byte, error) {
	f, err := d.route(rawURL)
	if err != nil {
		return nil, err
	}
	return f.FetchIndex(ctx, rawURL, verify)
}

// FetchArchive implements ArchiveFetcher.
func (d *Dispatcher) FetchArchive(ctx context.Context, rawURL string) ([]byte, error) {
	f, err := d.route(rawURL)
	if err != nil {
		return nil, err
	}
	return f.FetchArchive(ctx, rawURL)
}

func (d *Dispatcher) route(rawURL string) (Fetcher, error) {
	scheme, err := Scheme(rawURL)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "http", "https":
		if d.HTTP == nil {
			return nil, fmt.Errorf("%s: no http fetcher: %w", rawURL, ErrBadURL)
		}
		return d.HTTP, nil
	case "file":
		if d.File == nil {
			return nil, fmt.Errorf("%s: no file fetcher: %w", rawURL, ErrBadURL)
		}
		return d.File, nil
	}
	return nil, fmt.Errorf("%s: unsupported scheme %q: %w", rawURL, scheme, ErrBadURL)
}

// Scheme returns the URL scheme of a repository location. Absolute paths
// are reported as "file".
func Scheme(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "/") {
		return "file", nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", rawURL, err, ErrBadURL)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%s: missing scheme: %w", rawURL, ErrBadURL)
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return "", fmt.Errorf("%s: missing host: %w", rawURL, ErrBadURL)
	}
	return strings.ToLower(u.Scheme), nil
}
