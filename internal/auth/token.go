// Package auth issues and verifies JetVein session tokens and hashes
// account passwords.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

const (
	DefaultCookieName = "jetvein.session-token"
	DefaultTTL        = 30 * 24 * time.Hour
	issuer            = "jetvein"
	minSecretLen      = 32
)

// ErrInvalidToken covers every reason a token is rejected: malformed,
// expired, wrong signature or wrong algorithm.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the session token claims. ID (jti) keys the server-side
// session record.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// Identity is the minimal account view needed to issue a token.
type Identity struct {
	ID    string
	Name  string
	Email string
}

// TokenManager signs and verifies HS256 session tokens.
type TokenManager struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	now        func() time.Time
}

// NewTokenManager returns an error when secret is shorter than 32 bytes.
func NewTokenManager(secret string, ttl time.Duration, cookieName string) (*TokenManager, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("auth: session secret must be at least %d characters", minSecretLen)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &TokenManager{
		secret:     []byte(secret),
		ttl:        ttl,
		cookieName: cookieName,
		now:        time.Now,
	}, nil
}

func (m *TokenManager) TTL() time.Duration { return m.ttl }

func (m *TokenManager) CookieName() string { return m.cookieName }

// Issue signs a new token for id and returns it with its claims.
func (m *TokenManager) Issue(id Identity) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		Name:  id.Name,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return token, claims, nil
}

// Parse verifies raw and returns its claims. Any failure is ErrInvalidToken.
func (m *TokenManager) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// FromRequest reads the token from the session cookie, falling back to an
// Authorization: Bearer header.
func (m *TokenManager) FromRequest(ctx *fasthttp.RequestCtx) (*Claims, error) {
	raw := string(ctx.Request.Header.Cookie(m.cookieName))
	if raw == "" {
		auth := string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
		if v, ok := strings.CutPrefix(auth, "Bearer "); ok {
			raw = strings.TrimSpace(v)
		}
	}
	return m.Parse(raw)
}

// SetCookie writes the session cookie carrying token.
func (m *TokenManager) SetCookie(ctx *fasthttp.RequestCtx, token string, secure bool) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)

	c.SetKey(m.cookieName)
	c.SetValue(token)
	c.SetPath("/")
	c.SetHTTPOnly(true)
	c.SetSecure(secure)
	c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	c.SetMaxAge(int(m.ttl.Seconds()))
	ctx.Response.Header.SetCookie(c)
}

// ClearCookie expires the session cookie.
func (m *TokenManager) ClearCookie(ctx *fasthttp.RequestCtx) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)

	c.SetKey(m.cookieName)
	c.SetValue("")
	c.SetPath("/")
	c.SetHTTPOnly(true)
	c.SetExpire(fasthttp.CookieExpireDelete)
	ctx.Response.Header.SetCookie(c)
}
