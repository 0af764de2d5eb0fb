package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "authgate"

var (
	ErrEmptyCookie    = errors.New("empty session cookie")
	ErrIssuerMismatch = errors.New("issuer mismatch")
	ErrMissingJTI     = errors.New("token missing jti")
)

// Codec signs and verifies the session cookie. The cookie value is an
// HS256 JWT whose jti claim carries the opaque store token; the secret
// comes from configuration.
type Codec struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
}

func NewCodec(secret, cookieName string, ttl time.Duration, secure bool) (*Codec, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret too short; need >=32 bytes")
	}
	return &Codec{
		secret:     []byte(secret),
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}, nil
}

// Encode mints the signed cookie value for a session token.
func (c *Codec) Encode(token string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		ID:        token,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode verifies a cookie value and returns the session token it carries.
func (c *Codec) Decode(value string) (string, error) {
	if value == "" {
		return "", ErrEmptyCookie
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithStrictDecoding(),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	var claims jwt.RegisteredClaims
	_, err := parser.ParseWithClaims(value, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", ErrMissingJTI
	}
	return claims.ID, nil
}

// TokenFromRequest extracts and verifies the session token from the
// request's cookie. A missing or invalid cookie reads as no session.
func (c *Codec) TokenFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.cookieName)
	if err != nil {
		return "", false
	}
	token, err := c.Decode(cookie.Value)
	if err != nil {
		return "", false
	}
	return token, true
}

// SetCookie writes the signed session cookie for token.
func (c *Codec) SetCookie(w http.ResponseWriter, token string) error {
	value, err := c.Encode(token)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.ttl / time.Second),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie expires the session cookie on the client.
func (c *Codec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
