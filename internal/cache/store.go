// Package cache keeps downloaded package archives on disk, addressed by the
// SHA256 of their content.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a requested archive is not cached.
	ErrNotFound = errors.New("archive not found in cache")
	// ErrHashMismatch is returned when archive data does not match its hash.
	ErrHashMismatch = errors.New("archive hash mismatch")
)

// validHash matches a lowercase hex-encoded SHA256 hash (64 characters).
var validHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Entry describes one cached archive.
type Entry struct {
	Hash    string
	Package string // package ID recorded when the archive was stored
	Size    int64
}

// Store is a filesystem archive cache. Archives live in a two-level
// directory structure using the first two characters of the hash as a
// prefix directory, with a ".pkg" file naming the package next to each.
type Store struct {
	root string
}

// New creates a cache rooted at the given directory.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Store{root: root}, nil
}

// Hash returns the cache key of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Root returns the cache directory.
func (s *Store) Root() string {
	return s.root
}

// Has checks whether an archive is cached.
func (s *Store) Has(_ context.Context, hash string) (bool, error) {
	if !validHash.MatchString(hash) {
		return false, nil
	}
	_, err := os.Stat(s.archivePath(hash))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat archive %s: %w", hash, err)
	}
	return true, nil
}

// Get reads a cached archive. Returns ErrNotFound if it is not cached.
func (s *Store) Get(_ context.Context, hash string) ([]byte, error) {
	if !validHash.MatchString(hash) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.archivePath(hash))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", hash, err)
	}
	return data, nil
}

// Put stores an archive for package pkgID. The data is read from r and
// verified against the hash. Storing an archive that exists is a no-op.
func (s *Store) Put(_ context.Context, hash string, r io.Reader, pkgID string) error {
	if !validHash.MatchString(hash) {
		return fmt.Errorf("invalid archive hash: %q", hash)
	}
	path := s.archivePath(hash)

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	hasher := sha256.New()
	writer := io.MultiWriter(tmpFile, hasher)

	if _, err := io.Copy(writer, r); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write archive data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	computed := hex.EncodeToString(hasher.Sum(nil))
	if computed != hash {
		os.Remove(tmpPath)
		return fmt.Errorf("expected %s, got %s: %w", hash, computed, ErrHashMismatch)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename archive: %w", err)
	}

	if err := os.WriteFile(s.pkgPath(hash), []byte(pkgID), 0644); err != nil {
		return fmt.Errorf("write archive package name: %w", err)
	}

	return nil
}

// Delete removes an archive. Deleting a missing archive is not an error.
func (s *Store) Delete(_ context.Context, hash string) error {
	if !validHash.MatchString(hash) {
		return nil
	}
	if err := os.Remove(s.archivePath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete archive %s: %w", hash, err)
	}
	os.Remove(s.pkgPath(hash))
	return nil
}

// List returns every cached archive, sorted by hash.
func (s *Store) List(_ context.Context) ([]Entry, error) {
	var entries []Entry

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".pkg") || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != 2 {
			return nil
		}
		hash := parts[0] + parts[1]
		if !validHash.MatchString(hash) {
			return nil
		}
		e := Entry{Hash: hash, Size: info.Size()}
		if id, err := os.ReadFile(s.pkgPath(hash)); err == nil {
			e.Package = strings.TrimSpace(string(id))
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Hash < entries[j].Hash })
	return entries, nil
}

func (s *Store) archivePath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func (s *Store) pkgPath(hash string) string {
	return s.archivePath(hash) + ".pkg"
}
