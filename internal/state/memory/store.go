// Package memory provides an in-memory state store for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
	"github.com/cloudkiln/kiln/internal/state"
)

// Store is an in-memory implementation of state.Store.
type Store struct {
	mu        sync.RWMutex
	lock      *state.LockInfo
	resources map[string]*resource.Resource
	revisions map[int]*rollout.Revision
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		resources: make(map[string]*resource.Resource),
		revisions: make(map[int]*rollout.Revision),
	}
}

// AcquireLock implements state.Store.
func (s *Store) AcquireLock(_ context.Context, holderID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != nil {
		return state.ErrLockConflict
	}
	s.lock = &state.LockInfo{HolderID: holderID, AcquiredAt: time.Now().UTC(), TTL: ttl}
	return nil
}

// ReleaseLock implements state.Store.
func (s *Store) ReleaseLock(_ context.Context, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil || s.lock.HolderID != holderID {
		return state.ErrNotHolder
	}
	s.lock = nil
	return nil
}

// ForceUnlock implements state.Store.
func (s *Store) ForceUnlock(_ context.Context) (*state.LockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil, state.ErrNotFound
	}
	cleared := *s.lock
	s.lock = nil
	return &cleared, nil
}

// Lock implements state.Store.
func (s *Store) Lock(_ context.Context) (*state.LockInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lock == nil {
		return nil, state.ErrNotFound
	}
	cp := *s.lock
	return &cp, nil
}

// Get implements state.Store.
func (s *Store) Get(_ context.Context, id string) (*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, state.ErrNotFound
	}
	return r.Clone(), nil
}

// Put implements state.Store.
func (s *Store) Put(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = r.Clone()
	return nil
}

// Delete implements state.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[id]; !ok {
		return state.ErrNotFound
	}
	delete(s.resources, id)
	return nil
}

// List implements state.Store.
func (s *Store) List(_ context.Context) ([]*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*resource.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r.Clone())
	}
	resource.SortByID(out)
	return out, nil
}

// PutRevision implements state.Store.
func (s *Store) PutRevision(_ context.Context, rev *rollout.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rev
	s.revisions[rev.Number] = &cp
	return nil
}

// Revision implements state.Store.
func (s *Store) Revision(_ context.Context, number int) (*rollout.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rev, ok := s.revisions[number]
	if !ok {
		return nil, state.ErrNotFound
	}
	cp := *rev
	return &cp, nil
}

// ListRevisions implements state.Store.
func (s *Store) ListRevisions(_ context.Context) ([]*rollout.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rollout.Revision, 0, len(s.revisions))
	for _, rev := range s.revisions {
		cp := *rev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// DeleteRevision implements state.Store.
func (s *Store) DeleteRevision(_ context.Context, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revisions[number]; !ok {
		return state.ErrNotFound
	}
	delete(s.revisions, number)
	return nil
}

// Close implements state.Store.
func (s *Store) Close() error { return nil }
