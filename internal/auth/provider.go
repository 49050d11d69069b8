// Package auth is the identity provider: account registration, password login
// and session tokens.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// User-facing failure messages.
const (
	MsgInvalidEmail       = "Invalid email address."
	MsgWeakPassword       = "Password should be at least 6 characters."
	MsgEmailTaken         = "Email already in use."
	MsgInvalidCredentials = "Invalid email or password."
	MsgUnavailable        = "Authentication failed."
)

// Session is an authenticated browser session.
type Session struct {
	Token string
	User  core.User
}

// Provider registers and authenticates users and tracks their sessions in
// an LRU cache with a TTL, so idle sessions expire on their own.
type Provider struct {
	users    store.UserRepository
	sessions *cache.LRUCache[core.User]
	cost     int
	logger   *log.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

func NewProvider(users store.UserRepository, maxSessions int, ttl time.Duration, logger *log.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = log.Discard()
	}
	p := &Provider{
		users:    users,
		sessions: cache.NewLRUCache[core.User](maxSessions, ttl),
		cost:     bcrypt.DefaultCost,
		logger:   logger.WithComponent(log.ComponentAuth),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sessions exposes the session cache so that it can be swept periodically.
func (p *Provider) Sessions() cache.Cleaner {
	return p.sessions
}

// Register creates an account and signs it in.
func (p *Provider) Register(ctx context.Context, email, password string) (Session, error) {
	email, err := validateEmail(email)
	if err != nil {
		return Session{}, err
	}
	if len(password) < MinPasswordLength {
		return Session{}, &core.AuthError{Message: MsgWeakPassword}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return Session{}, &core.AuthError{Message: MsgUnavailable, Err: err}
	}
	u, err := p.users.CreateUser(ctx, email, hash)
	if errors.Is(err, core.ErrEmailTaken) {
		return Session{}, &core.AuthError{Message: MsgEmailTaken, Err: err}
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to create user", log.FieldError, err)
		return Session{}, &core.AuthError{Message: MsgUnavailable, Err: err}
	}

	p.logger.InfoContext(ctx, "User registered",
		log.FieldUserID, u.ID,
		log.FieldOperation, log.OpRegister)
	return p.open(u), nil
}

// Login checks credentials and opens a session.
func (p *Provider) Login(ctx context.Context, email, password string) (Session, error) {
	email, err := validateEmail(email)
	if err != nil {
		return Session{}, err
	}
	creds, err := p.users.UserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		return Session{}, &core.AuthError{Message: MsgInvalidCredentials, Err: err}
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load user", log.FieldError, err)
		return Session{}, &core.AuthError{Message: MsgUnavailable, Err: err}
	}
	if err := bcrypt.CompareHashAndPassword(creds.PasswordHash, []byte(password)); err != nil {
		p.logger.WarnContext(ctx, "Rejected login",
			log.FieldUserID, creds.User.ID,
			log.FieldErrorType, log.ErrorTypeAuth)
		return Session{}, &core.AuthError{Message: MsgInvalidCredentials, Err: err}
	}

	p.logger.InfoContext(ctx, "User signed in",
		log.FieldUserID, creds.User.ID,
		log.FieldOperation, log.OpLogin)
	return p.open(creds.User), nil
}

// Logout ends the session. Unknown tokens are ignored.
func (p *Provider) Logout(token string) {
	if token != "" {
		p.sessions.Delete(token)
	}
}

// CurrentUser resolves a session token.
func (p *Provider) CurrentUser(token string) (core.User, bool) {
	if token == "" {
		return core.User{}, false
	}
	return p.sessions.Get(token)
}

func (p *Provider) open(u core.User) Session {
	token := uuid.NewString()
	p.sessions.Set(token, u)
	return Session{Token: token, User: u}
}

func validateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return "", &core.AuthError{Message: MsgInvalidEmail}
	}
	return email, nil
}
