package task

import (
	"context"
	"time"
)

// StateStore hands out durable key/value scopes, one per task identifier.
// A scope is strongly consistent within its task and invisible to every
// other task.
type StateStore interface {
	Scope(taskID string) StateScope
}

// StateScope is the per-task key/value contract the actor persists through.
type StateScope interface {
	// Get returns the value for key and whether it is present.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetMulti writes all given keys atomically with respect to readers
	// of the same scope.
	SetMulti(ctx context.Context, values map[string]string) error
	// DeleteMulti removes the given keys; absent keys are not an error.
	DeleteMulti(ctx context.Context, keys ...string) error
}

// ObjectAttrs describes a stored blob object.
type ObjectAttrs struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
}

// BlobStore persists report objects keyed by task identifier.
type BlobStore interface {
	// Put writes the object and returns its URI.
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	// Get returns the object bytes or ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Attrs returns object metadata or ErrObjectNotFound.
	Attrs(ctx context.Context, key string) (ObjectAttrs, error)
	// List returns the keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// FetchResult is the outcome of fetching the target URL.
type FetchResult struct {
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves the raw markup of a single page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Publisher pushes terminal-state notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// GenerateOptions tunes a summary generation call.
type GenerateOptions struct {
	MaxWords int
}

// Generator is the external text-generation capability consumed while
// building a report. Implementations are injected; the actor treats the
// call as opaque and surfaces its failure as a pipeline failure.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
