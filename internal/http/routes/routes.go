// Package routes serves an in-memory backend that speaks the killerwiki wire
// contract. It is used for local development and end-to-end tests.
package routes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/briangreenhill/killerwiki/internal/auth"
	appmw "github.com/briangreenhill/killerwiki/internal/http/middleware"
	"github.com/briangreenhill/killerwiki/models"
)

const DefaultPerPage = 20

type Server struct {
	Router   *chi.Mux
	Tokens   *auth.Tokens
	PerPage  int
	logger   zerolog.Logger
	now      func() time.Time
	db       *store
	validate *validator.Validate
}

type ServerOptions struct {
	Tokens  *auth.Tokens
	Logger  *zerolog.Logger
	PerPage int
	// Seed loads the fixture data set
	Seed bool
	Now  func() time.Time
}

func New(opts ServerOptions) *Server {
	s := &Server{
		Tokens:   opts.Tokens,
		PerPage:  opts.PerPage,
		logger:   log.Logger,
		now:      opts.Now,
		db:       newStore(),
		validate: newValidator(),
	}
	if s.Tokens == nil {
		s.Tokens = auth.NewTokens([]byte("dev-secret-change-me"), time.Hour)
	}
	if s.PerPage <= 0 {
		s.PerPage = DefaultPerPage
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Seed {
		s.db.seed(s.now().UTC())
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	s.Router = r

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	r.Get("/uploads/{name}", s.handleUpload)

	requireAuth := appmw.RequireAuth(s.Tokens)
	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", s.handleLogin)
		api.Post("/auth/register", s.handleRegister)
		api.With(requireAuth).Post("/auth/logout", s.handleLogout)

		api.Get("/serial-killers", s.handleListKillers)
		api.Get("/serial-killers/{id}", s.handleReadKiller)
		api.Get("/serial-killers/{id}/answers/{ref}", s.handleProfileAnswer)
		api.Get("/sections", s.handleListSections)
		api.Get("/sections/{id}", s.handleReadSection)

		api.Group(func(pr chi.Router) {
			pr.Use(requireAuth)
			pr.Post("/serial-killers", s.handleSaveKiller)
			pr.Patch("/serial-killers/{id}", s.handleSaveKiller)
			pr.Post("/serial-killers/{id}/answers", s.handleSaveAnswer)
			pr.Patch("/serial-killers/{id}/answers/{ref}", s.handleSaveAnswer)
			pr.Post("/sections", s.handleSaveSection)
			pr.Patch("/sections/{id}", s.handleSaveSection)
			pr.Get("/answers", s.handleListAnswers)
			pr.Get("/answers/{id}", s.handleReadAnswer)
		})
	})

	return s
}

// Handler wraps the router with request logging
func (s *Server) Handler() http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(s.Router)
	h = hlog.RequestIDHandler("req_id", "X-Request-ID")(h)
	return hlog.NewHandler(s.logger)(h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// respond writes v with validators and answers 304 when the client's copy
// is current. If-None-Match takes precedence over If-Modified-Since.
func respond(w http.ResponseWriter, r *http.Request, v any, modified time.Time) {
	body, err := json.Marshal(v)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	sum := sha256.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`
	modified = modified.UTC().Truncate(time.Second)

	w.Header().Set("ETag", etag)
	if !modified.IsZero() {
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if inm == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	} else if ims, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil && !modified.IsZero() && !modified.After(ims) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// paginate slices rows for the requested page. ok is false when the page is
// past the end.
func paginate[T any](r *http.Request, rows []T, perPage int) (models.ListResponse[T], bool) {
	requested, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || requested < 1 {
		requested = 1
	}
	count := len(rows)
	pageCount := max(1, (count+perPage-1)/perPage)
	if requested > pageCount {
		return models.ListResponse[T]{}, false
	}

	start := (requested - 1) * perPage
	end := min(count, start+perPage)
	items := rows[start:end]
	p := models.Pagination{
		Count:         count,
		Current:       len(items),
		PerPage:       perPage,
		Page:          requested,
		RequestedPage: requested,
		PageCount:     pageCount,
		PrevPage:      requested > 1,
		NextPage:      requested < pageCount,
		Sort:          "id",
		Direction:     "asc",
	}
	if len(items) > 0 {
		p.Start = start + 1
		p.End = end
	}
	return models.ListResponse[T]{Pagination: p, Items: items}, true
}

func latest[T any](rows []T, modified func(T) time.Time) time.Time {
	var t time.Time
	for _, row := range rows {
		if m := modified(row); m.After(t) {
			t = m
		}
	}
	return t
}
