package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/killerwiki/authapi"
	"github.com/briangreenhill/killerwiki/beclient"
	"github.com/briangreenhill/killerwiki/cache"
	"github.com/briangreenhill/killerwiki/crud"
	"github.com/briangreenhill/killerwiki/internal/config"
	"github.com/briangreenhill/killerwiki/query"
	"github.com/briangreenhill/killerwiki/resources"
	"github.com/briangreenhill/killerwiki/session"
)

// app holds everything one CLI invocation needs
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *cache.Store
	http     *beclient.Client
	query    *query.Client
	session  *session.Manager
	auth     *authapi.Client
	set      *resources.Set
	registry *resources.Registry

	closers []func()
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	backend, err := a.cacheBackend(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("cache backend %s: %w", cfg.CacheBackend, err)
	}
	a.store = cache.NewStore(backend, cache.WithLogger(logger))

	persister, err := session.NewFilePersister(cfg.SessionFile)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("session file: %w", err)
	}
	a.session = session.New(session.WithPersister(persister), session.WithLogger(logger))
	if err := a.session.Restore(); err != nil {
		// a corrupt session file is not fatal, the user just has to log in again
		logger.Warn().Err(err).Msg("could not restore session")
	}
	session.SetDefault(a.session)
	a.closers = append(a.closers, func() { session.SetDefault(nil) })

	a.http, err = beclient.New(cfg.APIBaseURL,
		beclient.WithTimeout(cfg.HTTPTimeout),
		beclient.WithLogger(logger),
		beclient.WithHooks(beclient.RequestID(), beclient.Logging(logger)),
		beclient.WithCache(a.store),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	qctx, cancel := context.WithCancel(ctx)
	a.closers = append(a.closers, cancel)
	a.query = query.New(qctx,
		query.WithStaleTime(cfg.StaleTime),
		query.WithGCTime(cfg.GCTime),
		query.WithLogger(logger),
	)

	a.auth = authapi.New(a.http)
	a.set = resources.NewSet(a.http, a.query,
		crud.WithCredentials(crud.TokenFrom(a.session)),
		crud.WithLogger(logger),
	)
	a.registry = a.set.Registry()
	return a, nil
}

// cacheBackend returns nil for the "none" backend, which leaves the store
// unavailable and every request unconditional.
func (a *app) cacheBackend(ctx context.Context) (cache.Backend, error) {
	switch a.cfg.CacheBackend {
	case config.BackendFile:
		return cache.NewFileBackend(a.cfg.CacheDir)
	case config.BackendMemory:
		return cache.NewMemoryBackend(a.cfg.CacheSize)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = client.Close() })
		return cache.NewRedisBackend(client, a.cfg.RedisPrefix), nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		return cache.NewPostgresBackend(ctx, pool)
	case config.BackendNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", a.cfg.CacheBackend)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
