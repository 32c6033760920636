package session

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/killerwiki/models"
)

func signed(t *testing.T, exp time.Time, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return tok
}

func success(tok string) models.AuthResponse {
	return models.AuthResponse{
		Status: models.StatusSuccess,
		User:   &models.AuthUser{ID: 1, Name: "Ann", Email: "ann@example.com"},
		JWT:    tok,
	}
}

// clockBefore returns a clock that is d before exp, so the expiry timer
// fires after roughly d of real time
func clockBefore(exp time.Time, d time.Duration) func() time.Time {
	start := time.Now()
	return func() time.Time { return exp.Add(-d).Add(time.Since(start)) }
}

func TestSetAuthResponse_Success(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	m := New(WithLogger(zerolog.Nop()))
	tok := signed(t, exp, "1")

	m.SetAuthResponse(success(tok))
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, tok, m.AccessToken())
	assert.Equal(t, "Ann", m.User().Name)
	assert.Empty(t, m.Message())
	assert.True(t, exp.Equal(m.Expiry()))

	ot, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, tok, ot.AccessToken)
	assert.Equal(t, "Bearer", ot.TokenType)
	m.Logout()
}

func TestSetAuthResponse_Failure(t *testing.T) {
	m := New(WithLogger(zerolog.Nop()))
	m.SetAuthResponse(success(signed(t, time.Now().Add(time.Hour), "1")))

	m.SetAuthResponse(models.AuthResponse{Status: models.StatusError, Message: "bad credentials"})
	assert.False(t, m.IsAuthenticated())
	assert.Nil(t, m.User())
	assert.Equal(t, "bad credentials", m.Message())

	_, err := m.Token()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSetAuthResponse_SuccessWithoutToken(t *testing.T) {
	m := New(WithLogger(zerolog.Nop()))
	m.SetAuthResponse(models.AuthResponse{Status: models.StatusSuccess, User: &models.AuthUser{}})
	assert.False(t, m.IsAuthenticated())
}

func TestExpiredTokenLogsOutImmediately(t *testing.T) {
	m := New(WithLogger(zerolog.Nop()))
	m.SetAuthResponse(success(signed(t, time.Now().Add(-time.Minute), "1")))
	assert.False(t, m.IsAuthenticated())
}

func TestUndecodableTokenLogsOut(t *testing.T) {
	m := New(WithLogger(zerolog.Nop()))
	m.SetAuthResponse(success("not-a-jwt"))
	assert.False(t, m.IsAuthenticated())

	m.SetAuthResponse(success(signed(t, time.Time{}, "1")))
	assert.False(t, m.IsAuthenticated())
}

func TestExpiryLogsOutOnce(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	m := New(WithLogger(zerolog.Nop()), WithClock(clockBefore(exp, 50*time.Millisecond)))

	var logouts atomic.Int32
	m.OnLogout(func() { logouts.Add(1) })

	tok := signed(t, exp, "1")
	// re-authenticating with the same token only leaves the latest timer armed
	for i := 0; i < 3; i++ {
		m.SetAuthResponse(success(tok))
	}

	require.Eventually(t, func() bool { return !m.IsAuthenticated() }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), logouts.Load())
	assert.Nil(t, m.User())
}

func TestExpiryIgnoresReplacedToken(t *testing.T) {
	soon := time.Now().Add(time.Hour).Truncate(time.Second)
	m := New(WithLogger(zerolog.Nop()), WithClock(clockBefore(soon, 30*time.Millisecond)))

	m.SetAuthResponse(success(signed(t, soon, "1")))
	later := signed(t, soon.Add(time.Hour), "2")
	m.SetAuthResponse(success(later))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, later, m.AccessToken())
	m.Logout()
}

func TestFilePersisterAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	p, err := NewFilePersister(path)
	require.NoError(t, err)

	st, err := p.Load()
	require.NoError(t, err)
	assert.Empty(t, st.Token)

	tok := signed(t, time.Now().Add(time.Hour), "1")
	m := New(WithPersister(p), WithLogger(zerolog.Nop()))
	m.SetAuthResponse(success(tok))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restored := New(WithPersister(p), WithLogger(zerolog.Nop()))
	require.NoError(t, restored.Restore())
	assert.Equal(t, tok, restored.AccessToken())
	assert.Equal(t, "ann@example.com", restored.User().Email)
	assert.False(t, restored.Expiry().IsZero())

	m.Logout()
	st, err = p.Load()
	require.NoError(t, err)
	assert.Empty(t, st.Token)
	restored.Logout()
}

func TestRestoreExpiredSession(t *testing.T) {
	p, err := NewFilePersister(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	require.NoError(t, p.Save(State{Token: signed(t, time.Now().Add(-time.Second), "1"), User: &models.AuthUser{}}))

	m := New(WithPersister(p), WithLogger(zerolog.Nop()))
	require.NoError(t, m.Restore())
	assert.False(t, m.IsAuthenticated())
}

func TestRestoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	m := New(WithPersister(&FilePersister{Path: path}), WithLogger(zerolog.Nop()))
	assert.Error(t, m.Restore())
}

func TestDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	m := New()
	SetDefault(m)
	assert.Same(t, m, Default())
}
