// Package session carries the opaque session token between requests using a
// single HTTP-only cookie.
package session

import (
	"net/http"
	"strings"
	"time"
)

const (
	DefaultCookieName = "auth-token"

	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Cookies reads and writes the session cookie. Secure is a deployment setting
// and should be true whenever the service is reached over TLS.
type Cookies struct {
	Name   string
	Secure bool
	// TTL returns the validity window of a token issued with rememberMe.
	TTL func(rememberMe bool) time.Duration
}

// New returns a cookie adapter. An empty name selects DefaultCookieName.
func New(name string, secure bool, ttl func(rememberMe bool) time.Duration) *Cookies {
	if strings.TrimSpace(name) == "" {
		name = DefaultCookieName
	}
	return &Cookies{Name: name, Secure: secure, TTL: ttl}
}

// Persist sets the session cookie with a Max-Age matching the token window.
func (c *Cookies) Persist(w http.ResponseWriter, token string, rememberMe bool) {
	var maxAge int
	if c.TTL != nil {
		maxAge = int(c.TTL(rememberMe) / time.Second)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read returns the session cookie value, if present and non-empty.
func (c *Cookies) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.Name)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return cookie.Value, true
}

// Clear removes the session cookie on the client immediately.
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the session cookie, falling back to an
// "Authorization: Bearer" header for API clients.
func (c *Cookies) TokenFromRequest(r *http.Request) (string, bool) {
	if token, ok := c.Read(r); ok {
		return token, true
	}
	return bearerToken(r.Header.Get(authHeader))
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
