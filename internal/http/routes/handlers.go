package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	appmw "github.com/briangreenhill/killerwiki/internal/http/middleware"
	"github.com/briangreenhill/killerwiki/models"
)

type killerInput struct {
	Name        string  `json:"name" validate:"required,max=200"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,isodate"`
}

type sectionInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

type answerInput struct {
	Body       string      `json:"body" validate:"required"`
	QuestionID json.Number `json:"question_id" validate:"required,numeric"`
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type authReply struct {
	models.AuthResponse
	Errors models.FieldErrors `json:"errors,omitempty"`
}

func killerModified(k models.SerialKiller) time.Time { return k.Modified }
func sectionModified(s models.Section) time.Time     { return s.Modified }
func answerModified(a models.Answer) time.Time       { return a.Modified }

func (s *Server) badBody(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Debug().Err(err).Msg("bad request body")
	writeError(w, http.StatusBadRequest, "Invalid request body")
}

// ---- serial killers

func (s *Server) handleListKillers(w http.ResponseWriter, r *http.Request) {
	s.db.mu.RLock()
	rows := s.db.killers.all()
	s.db.mu.RUnlock()

	page, ok := paginate(r, rows, s.PerPage)
	if !ok {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	respond(w, r, page, latest(page.Items, killerModified))
}

func (s *Server) handleReadKiller(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	s.db.mu.RLock()
	k, found := s.db.killers.get(id)
	if found {
		k = s.db.killer(k)
	}
	s.db.mu.RUnlock()
	if !ok || !found {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	modified := latest(k.Answers, answerModified)
	if k.Modified.After(modified) {
		modified = k.Modified
	}
	respond(w, r, k, modified)
}

func (s *Server) handleSaveKiller(w http.ResponseWriter, r *http.Request) {
	b, err := readBody(r)
	if err != nil {
		s.badBody(w, r, err)
		return
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var (
		k  models.SerialKiller
		in killerInput
	)
	if chi.URLParam(r, "id") != "" {
		id, ok := idParam(r, "id")
		existing, found := s.db.killers.get(id)
		if !ok || !found {
			writeError(w, http.StatusNotFound, "Record not found")
			return
		}
		k = existing
		in.Name = k.Name
		if k.DateOfBirth != nil {
			d := k.DateOfBirth.Format(time.RFC3339)
			in.DateOfBirth = &d
		}
	}
	if err := b.decode(&in); err != nil {
		s.badBody(w, r, err)
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, validationError(err))
		return
	}

	var photo *upload
	fh := b.files["photo"]
	if fh != nil {
		f, err := fh.Open()
		if err != nil {
			s.badBody(w, r, err)
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			s.badBody(w, r, err)
			return
		}
		photo = &upload{contentType: fh.Header.Get("Content-Type"), data: data}
	}

	now := s.now().UTC()
	if k.ID == 0 {
		k = s.db.killers.insert(func(id int64) models.SerialKiller {
			return models.SerialKiller{Entity: stamp(id, now)}
		})
	}
	k.Name = in.Name
	k.DateOfBirth = nil
	if in.DateOfBirth != nil {
		k.DateOfBirth, _ = parseDate(*in.DateOfBirth)
	}
	if photo != nil {
		name := fmt.Sprintf("serial-killers-%d-%s", k.ID, path.Base(fh.Filename))
		s.db.uploads[name] = *photo
		photoURL := "/uploads/" + url.PathEscape(name)
		k.PhotoURL = &photoURL
	}
	k.Modified = now
	s.db.killers.put(k.ID, k)

	hlog.FromRequest(r).Info().Int64("id", k.ID).Msg("saved serial killer")
	writeJSON(w, http.StatusOK, s.db.killer(k))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.db.mu.RLock()
	u, ok := s.db.uploads[chi.URLParam(r, "name")]
	s.db.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if u.contentType != "" {
		w.Header().Set("Content-Type", u.contentType)
	}
	_, _ = w.Write(u.data)
}

// ---- sections

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request) {
	s.db.mu.RLock()
	rows := s.db.sections.all()
	for i := range rows {
		rows[i] = s.db.section(rows[i])
	}
	s.db.mu.RUnlock()

	page, ok := paginate(r, rows, s.PerPage)
	if !ok {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	respond(w, r, page, latest(page.Items, sectionModified))
}

func (s *Server) handleReadSection(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	s.db.mu.RLock()
	sec, found := s.db.sections.get(id)
	if found {
		sec = s.db.section(sec)
	}
	s.db.mu.RUnlock()
	if !ok || !found {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	respond(w, r, sec, sec.Modified)
}

func (s *Server) handleSaveSection(w http.ResponseWriter, r *http.Request) {
	b, err := readBody(r)
	if err != nil {
		s.badBody(w, r, err)
		return
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var (
		sec models.Section
		in  sectionInput
	)
	if chi.URLParam(r, "id") != "" {
		id, ok := idParam(r, "id")
		existing, found := s.db.sections.get(id)
		if !ok || !found {
			writeError(w, http.StatusNotFound, "Record not found")
			return
		}
		sec = existing
		in.Name = sec.Name
	}
	if err := b.decode(&in); err != nil {
		s.badBody(w, r, err)
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, validationError(err))
		return
	}

	now := s.now().UTC()
	if sec.ID == 0 {
		sec = s.db.sections.insert(func(id int64) models.Section {
			return models.Section{Entity: stamp(id, now)}
		})
	}
	sec.Name = in.Name
	sec.Modified = now
	s.db.sections.put(sec.ID, sec)

	hlog.FromRequest(r).Info().Int64("id", sec.ID).Msg("saved section")
	writeJSON(w, http.StatusOK, s.db.section(sec))
}

// ---- answers

func (s *Server) handleListAnswers(w http.ResponseWriter, r *http.Request) {
	s.db.mu.RLock()
	rows := s.db.answers.all()
	for i := range rows {
		rows[i] = s.db.answer(rows[i])
	}
	s.db.mu.RUnlock()

	page, ok := paginate(r, rows, s.PerPage)
	if !ok {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	respond(w, r, page, latest(page.Items, answerModified))
}

func (s *Server) handleReadAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	s.db.mu.RLock()
	a, found := s.db.answers.get(id)
	if found {
		a = s.db.answer(a)
	}
	s.db.mu.RUnlock()
	if !ok || !found {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	respond(w, r, a, a.Modified)
}

// handleProfileAnswer looks up a profile's answer by question id
func (s *Server) handleProfileAnswer(w http.ResponseWriter, r *http.Request) {
	pid, okP := idParam(r, "id")
	qid, okQ := idParam(r, "ref")
	s.db.mu.RLock()
	a, found := s.db.answerFor(pid, qid)
	if found {
		a = s.db.answer(a)
	}
	s.db.mu.RUnlock()
	if !okP || !okQ || !found {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	respond(w, r, a, a.Modified)
}

func (s *Server) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	b, err := readBody(r)
	if err != nil {
		s.badBody(w, r, err)
		return
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	pid, ok := idParam(r, "id")
	if _, found := s.db.killers.get(pid); !ok || !found {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}

	var (
		a  models.Answer
		in answerInput
	)
	if chi.URLParam(r, "ref") != "" {
		id, ok := idParam(r, "ref")
		existing, found := s.db.answers.get(id)
		if !ok || !found || existing.ProfileID != pid {
			writeError(w, http.StatusNotFound, "Record not found")
			return
		}
		a = existing
		in = answerInput{Body: a.Body, QuestionID: json.Number(strconv.FormatInt(a.QuestionID, 10))}
	}
	if err := b.decode(&in); err != nil {
		s.badBody(w, r, err)
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, validationError(err))
		return
	}
	qid, err := in.QuestionID.Int64()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, fieldError("question_id", "_numeric", "Must be a number"))
		return
	}
	if _, found := s.db.questions.get(qid); !found {
		writeJSON(w, http.StatusBadRequest, fieldError("question_id", "_existsIn", "This value does not exist"))
		return
	}
	if other, found := s.db.answerFor(pid, qid); found && other.ID != a.ID {
		writeJSON(w, http.StatusBadRequest, fieldError("question_id", "_isUnique", "This question is already answered"))
		return
	}

	now := s.now().UTC()
	if a.ID == 0 {
		a = s.db.answers.insert(func(id int64) models.Answer {
			return models.Answer{Entity: stamp(id, now), ProfileID: pid}
		})
	}
	a.Body = in.Body
	a.QuestionID = qid
	a.Modified = now
	s.db.answers.put(a.ID, a)

	hlog.FromRequest(r).Info().Int64("id", a.ID).Int64("profile_id", pid).Msg("saved answer")
	writeJSON(w, http.StatusOK, s.db.answer(a))
}

// ---- auth

func authError(w http.ResponseWriter, status int, msg string, errs models.FieldErrors) {
	writeJSON(w, status, authReply{
		AuthResponse: models.AuthResponse{Status: models.StatusError, Message: msg},
		Errors:       errs,
	})
}

func (s *Server) authSuccess(w http.ResponseWriter, u user, msg string) {
	tok, _, err := s.Tokens.Sign(u.ID, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	au := u.AuthUser
	writeJSON(w, http.StatusOK, models.AuthResponse{Status: models.StatusSuccess, Message: msg, User: &au, JWT: tok})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		authError(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		authError(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}

	s.db.mu.RLock()
	u, found := s.db.userByEmail(in.Email)
	s.db.mu.RUnlock()
	if !found || !s.Tokens.CheckPassword(u.hash, in.Password) || !u.IsActive {
		hlog.FromRequest(r).Info().Str("email", in.Email).Msg("login failed")
		authError(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}
	s.authSuccess(w, u, "Welcome back, "+u.Name)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		authError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		ve := validationError(err)
		authError(w, http.StatusBadRequest, strings.Join(ve.Messages(), "; "), ve.Errors)
		return
	}

	s.db.mu.Lock()
	if _, taken := s.db.userByEmail(in.Email); taken {
		s.db.mu.Unlock()
		authError(w, http.StatusBadRequest, "Email is already registered",
			models.FieldErrors{"email": {"_isUnique": "Email is already registered"}})
		return
	}
	now := s.now().UTC()
	u := s.db.users.insert(func(id int64) user {
		return user{
			AuthUser: models.AuthUser{ID: id, Name: in.Name, Email: in.Email, IsActive: true, Created: now, Modified: now},
			hash:     s.Tokens.HashPassword(in.Password),
		}
	})
	s.db.mu.Unlock()

	hlog.FromRequest(r).Info().Int64("user_id", u.ID).Msg("registered user")
	s.authSuccess(w, u, "Registration successful")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := appmw.ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication is required to continue")
		return
	}
	s.Tokens.Revoke(claims)
	writeJSON(w, http.StatusOK, models.AuthResponse{Status: models.StatusSuccess, Message: "Logged out"})
}
