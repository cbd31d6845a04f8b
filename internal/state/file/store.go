// Package file provides the default state backend: a single JSON document on
// local disk with atomic writes and a guard file serializing read-modify-write
// cycles across processes.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
	"github.com/cloudkiln/kiln/internal/state"
)

const (
	guardSuffix   = ".guard"
	guardAttempts = 50
	guardInterval = 100 * time.Millisecond
)

// document is the persisted shape of the whole store.
type document struct {
	Lock      *state.LockInfo               `json:"lock,omitempty"`
	Resources map[string]*resource.Resource `json:"resources"`
	Revisions map[int]*rollout.Revision     `json:"revisions"`
}

func newDocument() *document {
	return &document{
		Resources: make(map[string]*resource.Resource),
		Revisions: make(map[int]*rollout.Revision),
	}
}

// Store is a file-backed implementation of state.Store.
type Store struct {
	path string
}

// New creates a store writing to path. The file is created on first write.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{path: path}, nil
}

// withGuard serializes a read-modify-write against the document. The guard
// file is created O_EXCL so exactly one process mutates at a time; stale
// guards from crashed processes surface as a timeout, not silent corruption.
func (s *Store) withGuard(ctx context.Context, fn func(doc *document) error) error {
	guard := s.path + guardSuffix
	acquired := false
	for attempt := 0; attempt < guardAttempts; attempt++ {
		f, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			acquired = true
			break
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create guard file: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(guardInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("state file busy: guard %s held for more than %v", guard, guardAttempts*guardInterval)
	}
	defer os.Remove(guard)

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return newDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	doc := newDocument()
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode state file %s: %w", s.path, err)
		}
	}
	if doc.Resources == nil {
		doc.Resources = make(map[string]*resource.Resource)
	}
	if doc.Revisions == nil {
		doc.Revisions = make(map[int]*rollout.Revision)
	}
	return doc, nil
}

// save writes the document atomically: temp file in the same directory, fsync,
// then rename over the old state.
func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// AcquireLock implements state.Store.
func (s *Store) AcquireLock(ctx context.Context, holderID string, ttl time.Duration) error {
	return s.withGuard(ctx, func(doc *document) error {
		if doc.Lock != nil {
			return state.ErrLockConflict
		}
		doc.Lock = &state.LockInfo{HolderID: holderID, AcquiredAt: time.Now().UTC(), TTL: ttl}
		return nil
	})
}

// ReleaseLock implements state.Store.
func (s *Store) ReleaseLock(ctx context.Context, holderID string) error {
	return s.withGuard(ctx, func(doc *document) error {
		if doc.Lock == nil || doc.Lock.HolderID != holderID {
			return state.ErrNotHolder
		}
		doc.Lock = nil
		return nil
	})
}

// ForceUnlock implements state.Store.
func (s *Store) ForceUnlock(ctx context.Context) (*state.LockInfo, error) {
	var cleared *state.LockInfo
	err := s.withGuard(ctx, func(doc *document) error {
		if doc.Lock == nil {
			return state.ErrNotFound
		}
		cp := *doc.Lock
		cleared = &cp
		doc.Lock = nil
		return nil
	})
	return cleared, err
}

// Lock implements state.Store.
func (s *Store) Lock(_ context.Context) (*state.LockInfo, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	if doc.Lock == nil {
		return nil, state.ErrNotFound
	}
	cp := *doc.Lock
	return &cp, nil
}

// Get implements state.Store.
func (s *Store) Get(_ context.Context, id string) (*resource.Resource, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	r, ok := doc.Resources[id]
	if !ok {
		return nil, state.ErrNotFound
	}
	return r.Clone(), nil
}

// Put implements state.Store.
func (s *Store) Put(ctx context.Context, r *resource.Resource) error {
	return s.withGuard(ctx, func(doc *document) error {
		doc.Resources[r.ID] = r.Clone()
		return nil
	})
}

// Delete implements state.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.withGuard(ctx, func(doc *document) error {
		if _, ok := doc.Resources[id]; !ok {
			return state.ErrNotFound
		}
		delete(doc.Resources, id)
		return nil
	})
}

// List implements state.Store.
func (s *Store) List(_ context.Context) ([]*resource.Resource, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*resource.Resource, 0, len(doc.Resources))
	for _, r := range doc.Resources {
		out = append(out, r.Clone())
	}
	resource.SortByID(out)
	return out, nil
}

// PutRevision implements state.Store.
func (s *Store) PutRevision(ctx context.Context, rev *rollout.Revision) error {
	return s.withGuard(ctx, func(doc *document) error {
		cp := *rev
		doc.Revisions[rev.Number] = &cp
		return nil
	})
}

// Revision implements state.Store.
func (s *Store) Revision(_ context.Context, number int) (*rollout.Revision, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	rev, ok := doc.Revisions[number]
	if !ok {
		return nil, state.ErrNotFound
	}
	cp := *rev
	return &cp, nil
}

// ListRevisions implements state.Store.
func (s *Store) ListRevisions(_ context.Context) ([]*rollout.Revision, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*rollout.Revision, 0, len(doc.Revisions))
	for _, rev := range doc.Revisions {
		cp := *rev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// DeleteRevision implements state.Store.
func (s *Store) DeleteRevision(ctx context.Context, number int) error {
	return s.withGuard(ctx, func(doc *document) error {
		if _, ok := doc.Revisions[number]; !ok {
			return state.ErrNotFound
		}
		delete(doc.Revisions, number)
		return nil
	})
}

// Close implements state.Store.
func (s *Store) Close() error { return nil }
