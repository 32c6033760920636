package cache

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store is the conditional-request cache. Caching is an optimization only:
// every backend failure is logged and treated as a miss or a no-op.
type Store struct {
	backend Backend
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for swallowed backend errors
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the StoredAt time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore wraps backend. A nil backend yields a store that is always unavailable.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  log.Logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the envelope stored for r, or nil when there is none, the
// store is unavailable, or r is not a retrieval.
func (s *Store) Get(ctx context.Context, r Request) *Envelope {
	if s == nil || s.backend == nil || !r.Retrieval() {
		return nil
	}
	key := RequestKey(r)
	env, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("op", "get").Str("path", r.Path).Msg("error getting from cache")
		return nil
	}
	return env
}

// Put records a successful retrieval response for r. Non-retrievals and
// non-2xx statuses are ignored.
func (s *Store) Put(ctx context.Context, r Request, status int, header http.Header, body []byte) {
	if s == nil || s.backend == nil || !r.Retrieval() {
		return
	}
	if status < 200 || status > 299 {
		return
	}
	env := &Envelope{
		ETag:         header.Get("ETag"),
		LastModified: header.Get("Last-Modified"),
		Body:         body,
		Header:       header.Clone(),
		StoredAt:     s.now(),
	}
	if err := s.backend.Put(ctx, RequestKey(r), env); err != nil {
		s.logger.Warn().Err(err).Str("op", "put").Str("path", r.Path).Msg("error saving to cache")
	}
}

// Clear empties the partition
func (s *Store) Clear(ctx context.Context) {
	if s == nil || s.backend == nil {
		return
	}
	if err := s.backend.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Str("op", "clear").Msg("error clearing cache")
	}
}
