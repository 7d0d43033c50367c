package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cassa/internal/core"
	logx "cassa/internal/log"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, _ *http.Request) {
	expenses := s.svc.Expenses()
	if expenses == nil {
		expenses = []core.Expense{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expenses": expenses,
		"revision": s.svc.Revision(),
	})
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Expense(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, logx.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readExpense(w, r, logx.OpCreate)
	if !ok {
		return
	}
	e, err := s.svc.AddExpense(r.Context(), in)
	if err != nil {
		writeError(w, r, logx.OpCreate, err)
		return
	}
	s.logExpense(r, logx.OpCreate, e)
	w.Header().Set("Location", "/api/expenses/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readExpense(w, r, logx.OpUpdate)
	if !ok {
		return
	}
	e, err := s.svc.UpdateExpense(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, logx.OpUpdate, err)
		return
	}
	s.logExpense(r, logx.OpUpdate, e)
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.DeleteExpense(r.Context(), id); err != nil {
		writeError(w, r, logx.OpDelete, err)
		return
	}
	logx.FromContext(r.Context()).InfoContext(r.Context(), "Expense deleted",
		logx.FieldOperation, logx.OpDelete,
		logx.FieldExpenseID, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readExpense(w http.ResponseWriter, r *http.Request, op string) (core.ExpenseInput, bool) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, op, err)
		return core.ExpenseInput{}, false
	}
	in, err := req.toInput(s.now)
	if err != nil {
		writeError(w, r, op, err)
		return core.ExpenseInput{}, false
	}
	return in, true
}

func (s *Server) logExpense(r *http.Request, op string, e core.Expense) {
	logx.NewStructuredLogger(logx.FromContext(r.Context())).
		LogExpense(r.Context(), op, e.ID, e.Name, int64(e.Amount), e.Payer.String())
}
