// Package store provides bbolt-based persistence for apkdb.
// It keeps the world, the installed set, cached repository indexes and
// HTTP entity tags in a single embedded bbolt database file.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/state"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the store.
var (
	bucketInstalled = []byte("installed")
	bucketIndexes   = []byte("indexes") // repository URL -> cached index
	bucketLocal     = []byte("local")   // package ID -> sideloaded or cached package
	bucketETags     = []byte("etags")
	bucketKV        = []byte("kv")
)

// Key names in the kv bucket.
var (
	keyWorld     = []byte("world")
	keyUpdatedAt = []byte("updated_at")
)

// CachedIndex is the last successfully fetched content of a repository.
type CachedIndex struct {
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Packages    []*models.Package `json:"packages"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// Store represents the bbolt database store.
type Store struct {
	db *bolt.DB
}

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	return open(dbPath, false)
}

// NewReadOnly opens an existing database without taking the write lock.
func NewReadOnly(dbPath string) (*Store, error) {
	return open(dbPath, true)
}

func open(dbPath string, readOnly bool) (*Store, error) {
	if !readOnly {
		dir := filepath.Dir(dbPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets.
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketInstalled,
			bucketIndexes,
			bucketLocal,
			bucketETags,
			bucketKV,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// GetValue gets a value from the key-value bucket.
func (s *Store) GetValue(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

// SetValue sets a value in the key-value bucket.
func (s *Store) SetValue(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return fmt.Errorf("kv bucket not found")
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// LoadWorld returns the persisted world. A fresh database has an empty world.
func (s *Store) LoadWorld() (*state.World, error) {
	var text string
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketKV); b != nil {
			text = string(b.Get(keyWorld))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	world, err := state.ParseWorld(text)
	if err != nil {
		return nil, fmt.Errorf("parse stored world: %w", err)
	}
	return world, nil
}

// LoadInstalled returns the persisted installed set.
func (s *Store) LoadInstalled() (*state.Installed, error) {
	installed := state.NewInstalled()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstalled)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var p models.Package
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshal installed package %s: %w", k, err)
			}
			installed.Set(&p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return installed, nil
}

// SaveState replaces the persisted world and installed set in one transaction.
// A nil world leaves the stored world unchanged.
func (s *Store) SaveState(world *state.World, installed *state.Installed) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if world != nil {
			kv := tx.Bucket(bucketKV)
			if kv == nil {
				return fmt.Errorf("kv bucket not found")
			}
			if err := kv.Put(keyWorld, []byte(world.String())); err != nil {
				return fmt.Errorf("put world: %w", err)
			}
		}

		if tx.Bucket(bucketInstalled) != nil {
			if err := tx.DeleteBucket(bucketInstalled); err != nil {
				return fmt.Errorf("clear installed: %w", err)
			}
		}
		b, err := tx.CreateBucket(bucketInstalled)
		if err != nil {
			return fmt.Errorf("create installed bucket: %w", err)
		}
		for _, p := range installed.Packages() {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal package %s: %w", p.Name, err)
			}
			if err := b.Put([]byte(p.Name), data); err != nil {
				return fmt.Errorf("put package %s: %w", p.Name, err)
			}
		}
		return nil
	})
}

// SaveIndex stores the fetched content of the repository at url.
func (s *Store) SaveIndex(idx *CachedIndex) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexes)
		if b == nil {
			return fmt.Errorf("indexes bucket not found")
		}
		data, err := json.Marshal(idx)
		if err != nil {
			return fmt.Errorf("marshal index: %w", err)
		}
		if err := b.Put([]byte(idx.URL), data); err != nil {
			return err
		}
		return tx.Bucket(bucketKV).Put(keyUpdatedAt, []byte(idx.FetchedAt.UTC().Format(time.RFC3339)))
	})
}

// GetIndex returns the cached index of url. Returns (nil, nil) if the
// repository was never fetched.
func (s *Store) GetIndex(url string) (*CachedIndex, error) {
	var idx *CachedIndex
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexes)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(url))
		if data == nil {
			return nil
		}
		idx = &CachedIndex{}
		return json.Unmarshal(data, idx)
	})
	return idx, err
}

// DeleteIndex forgets the cached index of url.
func (s *Store) DeleteIndex(url string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexes)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(url))
	})
}

// LastUpdate returns when an index was last stored, zero if never.
func (s *Store) LastUpdate() (time.Time, error) {
	v, err := s.GetValue(string(keyUpdatedAt))
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// PutLocal records a package available from the local cache.
func (s *Store) PutLocal(p *models.Package) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocal)
		if b == nil {
			return fmt.Errorf("local bucket not found")
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal package: %w", err)
		}
		return b.Put([]byte(p.ID()), data)
	})
}

// DeleteLocal removes a package from the local cache record.
func (s *Store) DeleteLocal(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocal)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// ListLocal returns the locally available packages sorted by ID.
func (s *Store) ListLocal() ([]*models.Package, error) {
	var pkgs []*models.Package
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocal)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var p models.Package
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshal local package %s: %w", k, err)
			}
			pkgs = append(pkgs, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].ID() < pkgs[j].ID() })
	return pkgs, nil
}

// GetETag returns the entity tag stored for url, empty if none.
func (s *Store) GetETag(url string) (string, error) {
	var etag string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketETags)
		if b == nil {
			return nil
		}
		etag = string(b.Get([]byte(url)))
		return nil
	})
	return etag, err
}

// SetETag stores the entity tag for url. An empty tag deletes the entry.
func (s *Store) SetETag(url, etag string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketETags)
		if b == nil {
			return fmt.Errorf("etags bucket not found")
		}
		if etag == "" {
			return b.Delete([]byte(url))
		}
		return b.Put([]byte(url), []byte(etag))
	})
}
