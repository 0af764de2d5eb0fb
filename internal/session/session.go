// Package session holds the server-side session records that correlate a
// client-presented cookie with an authenticated principal, the stores that
// persist them, and the signed-cookie codec.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrTokenGeneration = errors.New("failed to generate session token")
)

// Principal is the authenticated identity attached to a session. It is an
// immutable snapshot taken at login time; later edits to the account record
// do not propagate into live sessions.
type Principal struct {
	ID       string   `json:"id" bson:"id"`
	Roles    []string `json:"roles" bson:"roles"`
	Email    string   `json:"email" bson:"email"`
	Fullname string   `json:"fullname" bson:"fullname"`
}

// Session correlates an opaque client token with a Principal. A session
// with a nil Principal is anonymous.
type Session struct {
	Token     string     `bson:"token"`
	Principal *Principal `bson:"principal,omitempty"`
	CSRFToken string     `bson:"csrf_token,omitempty"`
	CreatedAt time.Time  `bson:"created_at"`
	LastSeen  time.Time  `bson:"last_seen"`
}

// Authenticated reports whether the session carries a principal.
func (s *Session) Authenticated() bool {
	return s != nil && s.Principal != nil
}

// New creates an anonymous session with a fresh token.
func New() (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		Token:     token,
		CreatedAt: now,
		LastSeen:  now,
	}, nil
}

// generateToken returns 32 bytes of randomness, base64url encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrTokenGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
