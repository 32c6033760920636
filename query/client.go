// Package query is an in-process query cache with stale-while-revalidate
// semantics. Entries are addressed by hierarchical keys, refetched when
// stale, invalidated by key prefix, and dropped a while after their last
// observer leaves.
package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultStaleTime  = 5 * time.Minute
	DefaultGCTime     = 10 * time.Minute
	DefaultGCInterval = time.Minute
)

// Key identifies a query. A key matches every key it is a prefix of.
type Key []string

func (k Key) String() string { return strings.Join(k, "\x1f") }

// HasPrefix reports whether p is a prefix of k
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

// Query describes how to load and keep one piece of data
type Query[T any] struct {
	Key                Key
	Fn                 func(ctx context.Context) (T, error)
	StaleTime          time.Duration
	GCTime             time.Duration
	RefetchOnFocus     bool
	RefetchOnReconnect bool
	RefetchOnMount     bool
}

func (q Query[T]) def() def {
	return def{
		key:         q.Key,
		fn:          func(ctx context.Context) (any, error) { return q.Fn(ctx) },
		staleTime:   q.StaleTime,
		gcTime:      q.GCTime,
		onFocus:     q.RefetchOnFocus,
		onReconnect: q.RefetchOnReconnect,
		onMount:     q.RefetchOnMount,
	}
}

type def struct {
	key         Key
	fn          func(ctx context.Context) (any, error)
	staleTime   time.Duration
	gcTime      time.Duration
	onFocus     bool
	onReconnect bool
	onMount     bool
}

// State is a snapshot of one cache entry
type State struct {
	Data      any
	HasData   bool
	Err       error
	UpdatedAt time.Time
	Stale     bool
	Observers int
}

type entry struct {
	def           def
	gen           uint64
	data          any
	hasData       bool
	err           error
	updatedAt     time.Time
	invalidated   bool
	observers     int
	inactiveSince time.Time
	listeners     map[int]func(State)
}

// Client owns every query entry
type Client struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  int

	group      singleflight.Group
	staleTime  time.Duration
	gcTime     time.Duration
	gcInterval time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

type Option func(*Client)

// WithStaleTime sets the default staleness window of built queries
func WithStaleTime(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.staleTime = d
		}
	}
}

// WithGCTime sets the default retention of inactive entries
func WithGCTime(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.gcTime = d
		}
	}
}

func WithGCInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.gcInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client whose garbage collector runs until ctx is done
func New(ctx context.Context, opts ...Option) *Client {
	c := &Client{
		entries:    map[string]*entry{},
		staleTime:  DefaultStaleTime,
		gcTime:     DefaultGCTime,
		gcInterval: DefaultGCInterval,
		now:        time.Now,
		logger:     log.Logger,
	}
	for _, o := range opts {
		o(c)
	}
	go c.sweep(ctx)
	return c
}

func (c *Client) StaleTime() time.Duration { return c.staleTime }
func (c *Client) GCTime() time.Duration    { return c.gcTime }

func (c *Client) sweep(ctx context.Context) {
	t := time.NewTicker(c.gcInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.GC()
		}
	}
}

// GC removes entries that have had no observers for longer than their GCTime
func (c *Client) GC() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if e.observers > 0 {
			continue
		}
		if now.Sub(e.inactiveSince) >= e.def.gcTime {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("query gc")
	}
	return removed
}

// entryLocked returns the entry for s, creating it and refreshing its definition
func (c *Client) entryLocked(s def) *entry {
	k := s.key.String()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{inactiveSince: c.now(), listeners: map[int]func(State){}}
		c.entries[k] = e
	}
	if s.fn != nil {
		if s.gcTime <= 0 {
			s.gcTime = c.gcTime
		}
		e.def = s
	}
	return e
}

func (c *Client) staleLocked(e *entry) bool {
	if !e.hasData || e.invalidated {
		return true
	}
	return c.now().Sub(e.updatedAt) >= e.def.staleTime
}

func (c *Client) stateLocked(e *entry) State {
	return State{
		Data:      e.data,
		HasData:   e.hasData,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
		Stale:     c.staleLocked(e),
		Observers: e.observers,
	}
}

// notifyLocked returns the listener calls to make once the lock is released
func (c *Client) notifyLocked(e *entry) func() {
	if len(e.listeners) == 0 {
		return func() {}
	}
	st := c.stateLocked(e)
	fns := make([]func(State), 0, len(e.listeners))
	for _, f := range e.listeners {
		fns = append(fns, f)
	}
	return func() {
		for _, f := range fns {
			f(st)
		}
	}
}

// fetch runs the query function once per key at a time. Callers that give
// up keep the shared fetch running for the others.
func (c *Client) fetch(ctx context.Context, s def) (any, error) {
	k := s.key.String()
	ch := c.group.DoChan(k, func() (any, error) {
		c.mu.Lock()
		e := c.entryLocked(s)
		gen := e.gen
		c.mu.Unlock()

		data, err := s.fn(context.WithoutCancel(ctx))

		c.mu.Lock()
		if c.entries[k] != e || e.gen != gen {
			// written or invalidated while loading; the result is out of date
			c.mu.Unlock()
			c.logger.Debug().Str("key", k).Msg("dropping superseded query result")
			return data, err
		}
		if err != nil {
			e.err = err
		} else {
			e.data, e.hasData, e.err = data, true, nil
			e.updatedAt = c.now()
			e.invalidated = false
		}
		notify := c.notifyLocked(e)
		c.mu.Unlock()
		notify()

		if err != nil {
			c.logger.Debug().Err(err).Str("key", k).Msg("query fetch failed")
		}
		return data, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// Fetch returns fresh cached data, or loads it
func Fetch[T any](ctx context.Context, c *Client, q Query[T]) (T, error) {
	var zero T
	s := q.def()

	c.mu.Lock()
	e := c.entryLocked(s)
	if !c.staleLocked(e) {
		data := e.data
		c.mu.Unlock()
		return cast[T](data)
	}
	c.mu.Unlock()

	data, err := c.fetch(ctx, s)
	if err != nil {
		return zero, err
	}
	return cast[T](data)
}

// Observer is an active subscription to a query
type Observer struct {
	c    *Client
	key  string
	id   int
	once sync.Once
}

// Close removes the observer. The entry starts its GC countdown when its
// last observer leaves.
func (o *Observer) Close() {
	o.once.Do(func() {
		o.c.mu.Lock()
		defer o.c.mu.Unlock()
		e, ok := o.c.entries[o.key]
		if !ok {
			return
		}
		delete(e.listeners, o.id)
		e.observers--
		if e.observers == 0 {
			e.inactiveSince = o.c.now()
		}
	})
}

// Subscribe registers an observer for q and returns the current data. Data
// is loaded when absent, or when stale and the query refetches on mount.
// onChange, if set, is called after every update of the entry.
func Subscribe[T any](ctx context.Context, c *Client, q Query[T], onChange func(State)) (T, *Observer, error) {
	var zero T
	s := q.def()

	c.mu.Lock()
	e := c.entryLocked(s)
	e.observers++
	c.nextID++
	obs := &Observer{c: c, key: s.key.String(), id: c.nextID}
	if onChange != nil {
		e.listeners[obs.id] = onChange
	}
	needFetch := !e.hasData || (s.onMount && c.staleLocked(e))
	data := e.data
	c.mu.Unlock()

	if !needFetch {
		v, err := cast[T](data)
		return v, obs, err
	}
	v, err := c.fetch(ctx, s)
	if err != nil {
		return zero, obs, err
	}
	out, err := cast[T](v)
	return out, obs, err
}

// SetQueryData writes data for key without fetching
func (c *Client) SetQueryData(key Key, data any) {
	c.mu.Lock()
	e := c.entryLocked(def{key: key})
	if e.def.key == nil {
		e.def = def{key: key, staleTime: c.staleTime, gcTime: c.gcTime}
	}
	c.supersedeLocked(e)
	e.data, e.hasData, e.err = data, true, nil
	e.updatedAt = c.now()
	e.invalidated = false
	notify := c.notifyLocked(e)
	c.mu.Unlock()
	notify()
}

// supersedeLocked detaches e from any fetch already in flight, so the next
// fetch starts over and the older result is never stored.
func (c *Client) supersedeLocked(e *entry) {
	e.gen++
	c.group.Forget(e.def.key.String())
}

// GetQueryData returns the cached data for key, fresh or not
func (c *Client) GetQueryData(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || !e.hasData {
		return nil, false
	}
	return e.data, true
}

// Data is the typed form of GetQueryData
func Data[T any](c *Client, key Key) (T, bool) {
	var zero T
	v, ok := c.GetQueryData(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// State returns a snapshot of the entry at key
func (c *Client) State(key Key) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return State{}, false
	}
	return c.stateLocked(e), true
}

// Keys lists every cached key
func (c *Client) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Key, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.def.key)
	}
	return out
}

// Invalidate marks every entry under prefix stale and refetches the ones
// being observed, waiting for those refetches to finish.
func (c *Client) Invalidate(ctx context.Context, prefix Key) error {
	return c.refetch(ctx, func(e *entry) bool {
		if !e.def.key.HasPrefix(prefix) {
			return false
		}
		e.invalidated = true
		c.supersedeLocked(e)
		return true
	})
}

// Focus refetches stale observed entries that refetch on focus
func (c *Client) Focus(ctx context.Context) error {
	return c.refetch(ctx, func(e *entry) bool { return e.def.onFocus })
}

// Reconnect refetches stale observed entries that refetch on reconnect
func (c *Client) Reconnect(ctx context.Context) error {
	return c.refetch(ctx, func(e *entry) bool { return e.def.onReconnect })
}

func (c *Client) refetch(ctx context.Context, match func(*entry) bool) error {
	var defs []def
	c.mu.Lock()
	for _, e := range c.entries {
		if !match(e) {
			continue
		}
		if e.observers > 0 && e.def.fn != nil && c.staleLocked(e) {
			defs = append(defs, e.def)
		}
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range defs {
		s := s
		g.Go(func() error {
			_, err := c.fetch(gctx, s)
			return err
		})
	}
	return g.Wait()
}

var ErrType = errors.New("cached data has unexpected type")

func cast[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, ErrType
	}
	return t, nil
}
