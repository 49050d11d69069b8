package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/dashboard"
	"fintrack/internal/log"
	"fintrack/internal/session"
)

// stateOptions reads presentation hints from the query string.
func stateOptions(r *http.Request) session.StateOptions {
	compact, _ := strconv.ParseBool(r.URL.Query().Get("compact"))
	return session.StateOptions{Compact: compact}
}

// writeState answers a dashboard request with the state after the change.
func writeState(w http.ResponseWriter, r *http.Request, v *session.View) {
	NewResponse().JSON(v.State(stateOptions(r))).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	writeState(w, r, v)
}

// handleSetFilters applies type, sort and date bounds. Keys that are absent
// keep their value; an empty date clears that bound.
func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	p, errResp := ParseBodyOrFail(r)
	if errResp != nil {
		errResp.Write(w)
		return
	}

	var u session.FilterUpdate
	field := func(key string) *string {
		if !p.Has(key) {
			return nil
		}
		val := p.Get(key)
		return &val
	}
	u.Type = field("type")
	u.Sort = field("sort")
	u.Start = field("start")
	u.End = field("end")

	if err := v.SetFilter(u); err != nil {
		if core.IsValidation(err) || errors.Is(err, session.ErrDateRange) {
			ErrorFor(err).Write(w)
			return
		}
		BadRequestError(err.Error()).Write(w)
		return
	}
	writeState(w, r, v)
}

func (s *Server) handleClearDates(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	v.ClearDates()
	writeState(w, r, v)
}

func (s *Server) handleToggleCategory(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	if _, err := v.ToggleCategory(r.PathValue("name")); err != nil {
		NotFoundError("Category not found.").Write(w)
		return
	}
	writeState(w, r, v)
}

func (s *Server) handleSelectAllCategories(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	v.SelectAllCategories()
	writeState(w, r, v)
}

func (s *Server) handleClearCategories(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	v.ClearCategories()
	writeState(w, r, v)
}

// handleSetSearch records the typed term. The table follows once typing has
// paused, or at once when flush is set.
func (s *Server) handleSetSearch(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	p, errResp := ParseBodyOrFail(r)
	if errResp != nil {
		errResp.Write(w)
		return
	}
	v.SetSearch(p.Get("term"))
	if flush, _ := strconv.ParseBool(p.Get("flush")); flush {
		v.FlushSearch()
	}
	writeState(w, r, v)
}

func (s *Server) handlePrevMonth(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	v.PrevMonth()
	writeState(w, r, v)
}

func (s *Server) handleNextMonth(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	v.NextMonth()
	writeState(w, r, v)
}

func (s *Server) handleSwipe(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	p, errResp := ParseBodyOrFail(r)
	if errResp != nil {
		errResp.Write(w)
		return
	}
	switch dir := dashboard.SwipeDirection(p.Get("direction")); dir {
	case dashboard.SwipeLeft, dashboard.SwipeRight:
		v.Swipe(dir)
	default:
		BadRequestError("Direction must be left or right.").Write(w)
		return
	}
	writeState(w, r, v)
}

func (s *Server) handleToggleGroup(w http.ResponseWriter, r *http.Request, _ core.User, v *session.View) {
	v.ToggleGroup(r.PathValue("key"))
	writeState(w, r, v)
}

// handleDashboardStream sends the dashboard state as server-sent events: once
// on connect and again after every change. The stream ends when the client
// goes away, the session is signed out or the server shuts down.
func (s *Server) handleDashboardStream(w http.ResponseWriter, r *http.Request, user core.User, v *session.View) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	rc := http.NewResponseController(w)

	// Streams outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.WarnContext(ctx, "Failed to clear write deadline", log.FieldError, err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.ErrorContext(ctx, "Streaming not supported", log.FieldError, err)
		return
	}

	s.appMetrics.streams.Add(1)
	defer s.appMetrics.streams.Add(-1)

	token := sessionToken(r)
	opts := stateOptions(r)
	changes := v.Watch(ctx)
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			// The browser's view follows whoever signed in last on it, which
			// may no longer be the user this stream was opened for.
			st := v.State(opts)
			current, signedIn := s.auth.CurrentUser(token)
			if !signedIn || current.ID != user.ID || st.User == nil || st.User.ID != user.ID {
				_ = writeEvent(w, "signed_out", struct{}{})
				_ = rc.Flush()
				return
			}
			if err := writeEvent(w, "state", st); err != nil {
				logger.DebugContext(ctx, "Event stream closed", log.FieldError, err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
