package http

import (
	"context"
	"errors"
	"net/http"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/session"
)

type userResponse struct {
	User core.User `json:"user"`
}

// userHandler is a handler that runs for a signed-in user with the browser's
// dashboard view already bound to that user.
type userHandler func(w http.ResponseWriter, r *http.Request, user core.User, v *session.View)

// requireUser resolves the session cookie. Without a valid session the
// browser's view, if any, forgets its user and the request fails with 401.
func (s *Server) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.auth.CurrentUser(sessionToken(r))
		if !ok {
			if v, found := s.views.lookup(existingClientID(r)); found {
				v.Unbind()
			}
			ErrorFor(core.ErrNotAuthenticated).Write(w)
			return
		}

		v, err := s.bindView(w, r, user)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "Failed to bind dashboard view",
				log.FieldUserID, user.ID,
				log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, session.MsgLoadFailed).Write(w)
			return
		}

		ctx := log.WithLogger(r.Context(), log.FromContext(r.Context()).With(log.FieldUserID, user.ID))
		next(w, r.WithContext(ctx), user, v)
	}
}

// bindView points the browser's view at user. A view closed by eviction in
// the meantime is replaced once.
func (s *Server) bindView(w http.ResponseWriter, r *http.Request, user core.User) (*session.View, error) {
	clientID := s.clientID(w, r)
	v := s.views.get(clientID)
	err := v.Bind(user)
	if errors.Is(err, session.ErrClosed) {
		s.views.drop(clientID)
		v = s.views.get(clientID)
		err = v.Bind(user)
	}
	return v, err
}

func existingClientID(r *http.Request) string {
	c, err := r.Cookie(ClientCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.signIn(w, r, s.auth.Register, http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.signIn(w, r, s.auth.Login, http.StatusOK)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request, open func(ctx context.Context, email, password string) (auth.Session, error), status int) {
	p, errResp := ParseBodyOrFail(r)
	if errResp != nil {
		errResp.Write(w)
		return
	}

	sess, err := open(r.Context(), p.Get("email"), p.Raw("password"))
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	http.SetCookie(w, s.sessionCookie(sess.Token))
	if _, err := s.bindView(w, r, sess.User); err != nil {
		// The dashboard reports the load failure; the sign-in itself stands.
		s.logger.WarnContext(r.Context(), "Dashboard view not bound after sign-in",
			log.FieldUserID, sess.User.ID,
			log.FieldError, err)
	}

	NewResponse().Status(status).JSON(userResponse{User: sess.User}).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if user, ok := s.auth.CurrentUser(token); ok {
			s.logger.InfoContext(r.Context(), "User signed out",
				log.FieldUserID, user.ID,
				log.FieldOperation, log.OpLogout)
		}
		s.auth.Logout(token)
	}
	if v, found := s.views.lookup(existingClientID(r)); found {
		v.Unbind()
	}
	NewResponse().Status(http.StatusNoContent).Cookie(s.expiredSessionCookie()).Write(w)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.auth.CurrentUser(sessionToken(r))
	if !ok {
		ErrorFor(core.ErrNotAuthenticated).Write(w)
		return
	}
	NewResponse().JSON(userResponse{User: user}).Write(w)
}
