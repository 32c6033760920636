// Package auth issues and verifies the bearer tokens of the development backend.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrBadToken = errors.New("bad token")
	ErrBadSig   = errors.New("invalid signature")
	ErrExpired  = errors.New("expired")
	ErrRevoked  = errors.New("revoked")
)

// Claims are the verified contents of a token
type Claims struct {
	UserID    int64
	Email     string
	ID        string
	ExpiresAt time.Time
}

// Tokens signs HS256 JWTs and remembers revoked token ids
type Tokens struct {
	Secret []byte
	TTL    time.Duration

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{Secret: secret, TTL: ttl, revoked: map[string]time.Time{}}
}

// Sign issues a token for the user that expires after TTL
func (t *Tokens) Sign(userID int64, email string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		Audience:  jwt.ClaimStrings{email},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// Verify checks signature, expiry and revocation
func (t *Tokens) Verify(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &rc, func(*jwt.Token) (any, error) {
		return t.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Claims{}, ErrBadSig
	case err != nil:
		return Claims{}, ErrBadToken
	}

	uid, err := strconv.ParseInt(rc.Subject, 10, 64)
	if err != nil || len(rc.Audience) != 1 {
		return Claims{}, ErrBadToken
	}

	t.mu.Lock()
	_, revoked := t.revoked[rc.ID]
	t.mu.Unlock()
	if revoked {
		return Claims{}, ErrRevoked
	}

	return Claims{UserID: uid, Email: rc.Audience[0], ID: rc.ID, ExpiresAt: rc.ExpiresAt.Time}, nil
}

// Revoke rejects the token id until it would have expired anyway
func (t *Tokens) Revoke(c Claims) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for id, exp := range t.revoked {
		if now.After(exp) {
			delete(t.revoked, id)
		}
	}
	t.revoked[c.ID] = c.ExpiresAt
}

// HashPassword derives a keyed digest of password
func (t *Tokens) HashPassword(password string) string {
	mac := hmac.New(sha256.New, t.Secret)
	mac.Write([]byte(password))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// CheckPassword compares in constant time
func (t *Tokens) CheckPassword(hash, password string) bool {
	return hmac.Equal([]byte(hash), []byte(t.HashPassword(password)))
}
