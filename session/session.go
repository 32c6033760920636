// Package session holds the authenticated user and bearer token for the
// process, and logs the user out when the token expires.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/briangreenhill/killerwiki/models"
)

// ErrNoSession is returned by Token when nobody is logged in
var ErrNoSession = errors.New("no active session")

// State is the persisted part of a session
type State struct {
	User    *models.AuthUser `json:"user"`
	Token   string           `json:"token"`
	Message string           `json:"message"`
}

// Persister saves session state between runs
type Persister interface {
	Load() (State, error)
	Save(State) error
}

// Manager is the session of record. It owns a single expiry timer, re-armed
// on every successful authentication.
type Manager struct {
	mu       sync.Mutex
	state    State
	expiry   time.Time
	timer    *time.Timer
	onLogout []func()

	persister Persister
	now       func() time.Time
	logger    zerolog.Logger
}

type Option func(*Manager)

func WithPersister(p Persister) Option {
	return func(m *Manager) { m.persister = p }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func New(opts ...Option) *Manager {
	m := &Manager{
		now:    time.Now,
		logger: log.Logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetAuthResponse records the outcome of a login or register call. A
// successful response replaces the session and re-arms the expiry timer;
// anything else clears the session and keeps the message.
func (m *Manager) SetAuthResponse(resp models.AuthResponse) {
	m.mu.Lock()
	if !resp.Succeeded() {
		m.stopTimerLocked()
		m.state = State{Message: resp.Message}
		m.expiry = time.Time{}
		m.persistLocked()
		m.mu.Unlock()
		return
	}
	m.state = State{User: resp.User, Token: resp.JWT}
	m.persistLocked()
	m.mu.Unlock()

	m.schedule(resp.JWT)
}

// Restore loads persisted state and re-arms the expiry timer
func (m *Manager) Restore() error {
	if m.persister == nil {
		return nil
	}
	st, err := m.persister.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	m.mu.Lock()
	m.state = st
	m.mu.Unlock()

	if st.Token != "" {
		m.schedule(st.Token)
	}
	return nil
}

// schedule arms the timer for token, or logs out immediately when the token
// is already expired or has no readable exp claim
func (m *Manager) schedule(token string) {
	exp, err := ExpiresAt(token)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to decode jwt")
		m.logoutIf(token)
		return
	}

	m.mu.Lock()
	if m.state.Token != token {
		// superseded by a newer authentication
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.expiry = exp
	d := exp.Sub(m.now())
	if d <= 0 {
		m.mu.Unlock()
		m.logoutIf(token)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		current := m.timer == t
		m.mu.Unlock()
		if current {
			m.logoutIf(token)
		}
	})
	m.timer = t
	m.mu.Unlock()
}

// logoutIf logs out only when token is still the session token
func (m *Manager) logoutIf(token string) {
	m.mu.Lock()
	if m.state.Token != token {
		m.mu.Unlock()
		return
	}
	hooks := m.clearLocked()
	m.mu.Unlock()
	m.logger.Info().Msg("session expired")
	for _, f := range hooks {
		f()
	}
}

// Logout clears user, token and message
func (m *Manager) Logout() {
	m.mu.Lock()
	hooks := m.clearLocked()
	m.mu.Unlock()
	for _, f := range hooks {
		f()
	}
}

func (m *Manager) clearLocked() []func() {
	m.stopTimerLocked()
	m.state = State{}
	m.expiry = time.Time{}
	m.persistLocked()
	return append([]func(){}, m.onLogout...)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) persistLocked() {
	if m.persister == nil {
		return
	}
	if err := m.persister.Save(m.state); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist session")
	}
}

// OnLogout registers f to run after every logout, including expiry
func (m *Manager) OnLogout(f func()) {
	m.mu.Lock()
	m.onLogout = append(m.onLogout, f)
	m.mu.Unlock()
}

// AccessToken returns the bearer token, or "" when logged out
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Token
}

func (m *Manager) User() *models.AuthUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.User
}

func (m *Manager) Message() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Message
}

func (m *Manager) IsAuthenticated() bool {
	return m.AccessToken() != ""
}

// Expiry returns when the current token expires
func (m *Manager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiry
}

// Token implements oauth2.TokenSource
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Token == "" {
		return nil, ErrNoSession
	}
	return &oauth2.Token{AccessToken: m.state.Token, TokenType: "Bearer", Expiry: m.expiry}, nil
}

var _ oauth2.TokenSource = (*Manager)(nil)

// ExpiresAt reads the exp claim without verifying the signature
func ExpiresAt(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}

var (
	defaultMu sync.RWMutex
	defaultM  *Manager
)

// SetDefault installs m as the process-wide session
func SetDefault(m *Manager) {
	defaultMu.Lock()
	defaultM = m
	defaultMu.Unlock()
}

// Default returns the installed session, or nil
func Default() *Manager {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultM
}
