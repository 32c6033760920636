// Package cache provides the conditional-request cache used by the backend
// client: deterministic request keys, response envelopes carrying ETag and
// Last-Modified validators, and pluggable persistent backends.
package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned by a Backend when no envelope is stored for a key
var ErrNotFound = errors.New("cache entry not found")

// Envelope is the stored unit of a cached response
type Envelope struct {
	ETag         string      `json:"etag,omitempty" msgpack:"etag,omitempty"`
	LastModified string      `json:"last_modified,omitempty" msgpack:"last_modified,omitempty"`
	Body         []byte      `json:"body" msgpack:"body"`
	Header       http.Header `json:"header,omitempty" msgpack:"header,omitempty"`
	StoredAt     time.Time   `json:"stored_at" msgpack:"stored_at"`
}

// HasValidator reports whether the envelope can be replayed as a conditional request
func (e *Envelope) HasValidator() bool {
	return e != nil && (e.ETag != "" || e.LastModified != "")
}

// Request identifies an outgoing request for caching purposes
type Request struct {
	Method        string
	BaseURL       string
	Path          string
	Params        map[string]any
	Authorization string
}

// Retrieval reports whether the request is a safe retrieval (GET)
func (r Request) Retrieval() bool {
	return strings.EqualFold(r.Method, http.MethodGet)
}

// Backend is a single persistent partition of envelopes.
// Implementations must be safe for concurrent use; a Put to an existing key
// replaces it (last write wins).
type Backend interface {
	// Get returns the envelope for key, or ErrNotFound
	Get(ctx context.Context, key string) (*Envelope, error)
	// Put stores the envelope under key
	Put(ctx context.Context, key string, env *Envelope) error
	// Clear empties the partition
	Clear(ctx context.Context) error
}
