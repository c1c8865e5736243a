// Package memory provides an in-memory task state store for development
// and testing.
package memory

import (
	"context"
	"sync"

	"github.com/webreport/scrapetask/internal/task"
)

// Store keeps per-task key/value maps behind one lock. Backing storage
// for a task is created on its first write, so read-only probes of
// unknown ids leave the store untouched.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]map[string]string
}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]map[string]string)}
}

// Scope returns a handle over taskID's key/value map. Handles for the
// same id share the same backing storage.
func (s *Store) Scope(taskID string) task.StateScope {
	return &Scope{store: s, taskID: taskID}
}

// Len returns the number of tasks with stored state (test helper).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Scope is a handle over one task's key/value map.
type Scope struct {
	store  *Store
	taskID string
}

// Get returns the value for key and whether it is present.
func (s *Scope) Get(_ context.Context, key string) (string, bool, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	v, ok := s.store.tasks[s.taskID][key]
	return v, ok, nil
}

// SetMulti writes all given keys under one lock acquisition.
func (s *Scope) SetMulti(_ context.Context, values map[string]string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	stored, ok := s.store.tasks[s.taskID]
	if !ok {
		stored = make(map[string]string, len(values))
		s.store.tasks[s.taskID] = stored
	}
	for k, v := range values {
		stored[k] = v
	}
	return nil
}

// DeleteMulti removes the given keys; absent keys are ignored.
func (s *Scope) DeleteMulti(_ context.Context, keys ...string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	stored, ok := s.store.tasks[s.taskID]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(stored, k)
	}
	return nil
}

// Len returns the number of stored keys for this task (test helper).
func (s *Scope) Len() int {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return len(s.store.tasks[s.taskID])
}
