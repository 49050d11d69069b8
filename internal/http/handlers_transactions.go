package http

import (
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/session"
)

type createdResponse struct {
	ID string `json:"id"`
}

// handleCreateTransaction adds a transaction. The dashboard picks it up from
// the next snapshot, not from this response.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request, user core.User, v *session.View) {
	p, errResp := ParseBodyOrFail(r)
	if errResp != nil {
		errResp.Write(w)
		return
	}
	form, err := ParseTransactionForm(p)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	id, err := v.Create(r.Context(), user.ID, form)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	s.appMetrics.transactionsWritten.Add(1)
	s.requests.LogTransactionWritten(r.Context(), log.OpCreate, user.ID, id, form.Amount.Cents, form.Category)

	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+id).
		JSON(createdResponse{ID: id}).
		Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request, user core.User, v *session.View) {
	id := r.PathValue("id")
	p, errResp := ParseBodyOrFail(r)
	if errResp != nil {
		errResp.Write(w)
		return
	}
	patch, err := ParseTransactionPatch(p)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	if err := v.Update(r.Context(), user.ID, id, patch); err != nil {
		ErrorFor(err).Write(w)
		return
	}

	s.appMetrics.transactionsWritten.Add(1)
	var cents int64
	if patch.Amount != nil {
		cents = patch.Amount.Cents
	}
	var category string
	if patch.Category != nil {
		category = *patch.Category
	}
	s.requests.LogTransactionWritten(r.Context(), log.OpUpdate, user.ID, id, cents, category)

	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request, user core.User, v *session.View) {
	id := r.PathValue("id")
	if err := v.Delete(r.Context(), user.ID, id); err != nil {
		ErrorFor(err).Write(w)
		return
	}

	s.appMetrics.transactionsWritten.Add(1)
	s.requests.LogTransactionWritten(r.Context(), log.OpDelete, user.ID, id, 0, "")

	NewResponse().Status(http.StatusNoContent).Write(w)
}
