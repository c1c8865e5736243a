// Package memory stores report objects in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/webreport/scrapetask/internal/hash/sha256"
	"github.com/webreport/scrapetask/internal/task"
)

type object struct {
	data        []byte
	contentType string
	etag        string
}

// BlobStore keeps objects in a map and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
	hasher  *sha256.Hasher
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects: make(map[string]object),
		hasher:  sha256.New(),
	}
}

// Put stores a copy of data under key, overwriting any existing object.
func (s *BlobStore) Put(_ context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	etag, err := s.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash object: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		etag:        etag,
	}
	return "memory://" + key, nil
}

// Get returns a copy of the object bytes or task.ErrObjectNotFound.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, task.ErrObjectNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

// Attrs returns the metadata of a stored object.
func (s *BlobStore) Attrs(_ context.Context, key string) (task.ObjectAttrs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return task.ObjectAttrs{}, task.ErrObjectNotFound
	}
	return task.ObjectAttrs{
		Key:         key,
		Size:        int64(len(obj.data)),
		ETag:        obj.etag,
		ContentType: obj.contentType,
	}, nil
}

// List returns the stored keys under prefix in lexical order.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
