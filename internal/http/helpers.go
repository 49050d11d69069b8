package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionCookie carries the auth token.
	SessionCookie = "fintrack_session"
	// ClientCookie identifies the browser, so that its dashboard view
	// outlives a logout and the next login picks it up.
	ClientCookie = "fintrack_client"

	clientCookieMaxAge = 365 * 24 * time.Hour
)

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

func (s *Server) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) sessionCookie(token string) *http.Cookie {
	return s.cookie(SessionCookie, token, s.sessionTTL)
}

func (s *Server) expiredSessionCookie() *http.Cookie {
	c := s.cookie(SessionCookie, "", 0)
	c.MaxAge = -1
	return c
}

// sessionToken returns the auth token sent by the browser, if any.
func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// clientID returns the browser id, issuing a new cookie when the request has
// none or a malformed one.
func (s *Server) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ClientCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, s.cookie(ClientCookie, id, clientCookieMaxAge))
	return id
}
