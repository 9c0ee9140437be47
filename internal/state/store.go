// Package state implements the file-backed key/value store shared by every
// devflow invocation. The document is a single JSON object on disk; all access
// goes through an advisory file lock, and every mutation is a strict
// load -> mutate in memory -> persist sequence under one lock hold.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"devflow/internal/lock"
)

const (
	stateFile = "state.json"
	lockFile  = "state.json.lock"
)

// DefaultLockTimeout bounds lock acquisition for stores created without an
// explicit timeout.
const DefaultLockTimeout = 5 * time.Second

// Store is a handle to the state document in a given directory. It holds no
// in-memory copy of the document: every operation re-reads from disk, so
// concurrent processes always observe each other's writes.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
}

// New returns a store rooted at dir. The directory and document are created
// lazily on first write.
func New(dir string, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		path:        filepath.Join(dir, stateFile),
		lockPath:    filepath.Join(dir, lockFile),
		lockTimeout: lockTimeout,
	}
}

// Path returns the on-disk location of the state document.
func (s *Store) Path() string { return s.path }

// Load reads the full document under a shared lock. A missing file is an
// empty document; invalid JSON is a CorruptError.
func (s *Store) Load(ctx context.Context) (map[string]any, error) {
	g, err := s.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = g.Release() }()
	return s.read()
}

// Save replaces the full document under an exclusive lock. Prefer Update for
// read-modify-write sequences; Save is the escape hatch for callers that have
// already assembled the whole document.
func (s *Store) Save(ctx context.Context, doc map[string]any) error {
	g, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = g.Release() }()
	return s.write(doc)
}

// Update runs fn against the current document and persists the result, all
// under a single exclusive lock hold. This is the only mutation primitive;
// splitting the load and the save across two lock holds would let another
// writer interleave and lose updates.
func (s *Store) Update(ctx context.Context, fn func(doc map[string]any) error) error {
	g, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = g.Release() }()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(doc)
}

// Get returns the value stored under key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

// GetRequired returns the value stored under key, failing with a
// MissingKeyError carrying hint when the key is absent.
func (s *Store) GetRequired(ctx context.Context, key, hint string) (any, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MissingKeyError{Key: key, Hint: hint}
	}
	return v, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.Update(ctx, func(doc map[string]any) error {
		doc[key] = value
		return nil
	})
}

// Delete removes key from the document. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(doc map[string]any) error {
		delete(doc, key)
		return nil
	})
}

// Clear removes every key, including the workflow object.
func (s *Store) Clear(ctx context.Context) error {
	return s.Update(ctx, func(doc map[string]any) error {
		for k := range doc {
			delete(doc, k)
		}
		return nil
	})
}

func (s *Store) acquire(ctx context.Context, exclusive bool) (*lock.Guard, error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		return nil, err
	}
	return lock.Acquire(ctx, s.lockPath, exclusive, s.lockTimeout)
}

func (s *Store) read() (map[string]any, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}
	return doc, nil
}

// write persists via temp file + rename so a reader never sees a torn
// document even if the writer dies mid-write.
func (s *Store) write(doc map[string]any) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b)
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}
