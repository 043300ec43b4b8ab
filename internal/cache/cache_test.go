package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return s
}

type staticRefs map[string]bool

func (r staticRefs) ReferencedHashes(context.Context) (map[string]bool, error) { return r, nil }

type failingRefs struct{}

func (failingRefs) ReferencedHashes(context.Context) (map[string]bool, error) {
	return nil, errors.New("db closed")
}

// ==================== Store Tests ====================

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestCache(t)

	data := []byte("archive bytes")
	hash := Hash(data)

	ok, err := s.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data), "curl-8.5.0-r0.x86_64"))

	ok, err = s.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// idempotent
	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data), "curl-8.5.0-r0.x86_64"))
}

func TestStore_PutHashMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestCache(t)

	err := s.Put(ctx, Hash([]byte("a")), strings.NewReader("b"), "x")
	assert.ErrorIs(t, err, ErrHashMismatch)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_InvalidHash(t *testing.T) {
	ctx := context.Background()
	s := newTestCache(t)

	assert.Error(t, s.Put(ctx, "../../etc/passwd", strings.NewReader("x"), "x"))
	_, err := s.Get(ctx, "nothex")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err := s.Has(ctx, "nothex")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Delete(ctx, "nothex"))
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestCache(t)
	_, err := s.Get(context.Background(), Hash([]byte("nope")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestCache(t)

	a, b := []byte("first"), []byte("second archive")
	require.NoError(t, s.Put(ctx, Hash(a), bytes.NewReader(a), "a-1"))
	require.NoError(t, s.Put(ctx, Hash(b), bytes.NewReader(b), "b-1"))

	// stray files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "README"), []byte("x"), 0644))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byHash := map[string]Entry{}
	for _, e := range entries {
		byHash[e.Hash] = e
	}
	assert.Equal(t, "a-1", byHash[Hash(a)].Package)
	assert.Equal(t, int64(len(b)), byHash[Hash(b)].Size)

	require.NoError(t, s.Delete(ctx, Hash(a)))
	require.NoError(t, s.Delete(ctx, Hash(a)))

	entries, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Hash(b), entries[0].Hash)
}

// ==================== Clean Tests ====================

func TestClean_Empty(t *testing.T) {
	result, err := Clean(context.Background(), newTestCache(t), staticRefs{}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 0, result.Deleted)
}

func TestClean_DeletesUnreferenced(t *testing.T) {
	ctx := context.Background()
	s := newTestCache(t)

	keep, drop := []byte("installed"), []byte("stale archive")
	require.NoError(t, s.Put(ctx, Hash(keep), bytes.NewReader(keep), "keep-1"))
	require.NoError(t, s.Put(ctx, Hash(drop), bytes.NewReader(drop), "drop-1"))

	result, err := Clean(ctx, s, staticRefs{Hash(keep): true}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Referenced)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, int64(len(drop)), result.FreedBytes)

	ok, err := s.Has(ctx, Hash(keep))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Has(ctx, Hash(drop))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClean_ReferencerError(t *testing.T) {
	_, err := Clean(context.Background(), newTestCache(t), failingRefs{}, slog.Default())
	assert.ErrorContains(t, err, "db closed")
}
