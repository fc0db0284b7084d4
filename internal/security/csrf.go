// Package security implements the CSRF double-submit guard and client identity helpers.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// csrfTokenBytes gives 256 bits of entropy per token.
const csrfTokenBytes = 32

var (
	ErrCSRFMissing = errors.New("csrf token missing")
	ErrCSRFInvalid = errors.New("csrf token invalid")
)

// CSRFGuard issues and checks double-submit tokens: one copy in an HttpOnly
// cookie, the other echoed back by the client in a request header.
type CSRFGuard struct {
	CookieName string
	HeaderName string
	TTL        time.Duration
	Secure     bool

	now func() time.Time
}

// NewCSRFGuard creates a guard. secure should be true in production.
func NewCSRFGuard(cookieName, headerName string, ttl time.Duration, secure bool) *CSRFGuard {
	return &CSRFGuard{
		CookieName: cookieName,
		HeaderName: headerName,
		TTL:        ttl,
		Secure:     secure,
		now:        time.Now,
	}
}

// Issue returns the caller's current token, minting and setting a new cookie
// only when the request carries no well-formed one.
func (g *CSRFGuard) Issue(w http.ResponseWriter, r *http.Request) (string, error) {
	if existing := g.cookieToken(r); wellFormed(existing) {
		return existing, nil
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  g.now().Add(g.TTL),
		MaxAge:   int(g.TTL.Seconds()),
		HttpOnly: true,
		Secure:   g.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Validate checks a request. Safe methods always pass.
func (g *CSRFGuard) Validate(r *http.Request) error {
	if isSafeMethod(r.Method) {
		return nil
	}
	cookie := g.cookieToken(r)
	header := strings.TrimSpace(r.Header.Get(g.HeaderName))
	if cookie == "" || header == "" {
		return ErrCSRFMissing
	}
	if subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
		return ErrCSRFInvalid
	}
	return nil
}

func (g *CSRFGuard) cookieToken(r *http.Request) string {
	c, err := r.Cookie(g.CookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func newToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func wellFormed(token string) bool {
	if token == "" {
		return false
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(b) == csrfTokenBytes
}
