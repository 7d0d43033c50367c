package http

import (
	"context"
	"net/http"
	"time"

	"cassa/internal/core"
	logx "cassa/internal/log"
	"cassa/internal/settlement"
)

type memberView struct {
	ID   core.MemberID `json:"id"`
	Name string        `json:"name"`
}

type fundMemberView struct {
	ID      core.MemberID `json:"id"`
	Name    string        `json:"name"`
	Balance int64         `json:"balance"`
}

type fundView struct {
	Balance  int64            `json:"balance"`
	Members  []fundMemberView `json:"members"`
	Revision uint64           `json:"revision"`
}

type settlementView struct {
	settlement.Result
	Revision uint64 `json:"revision"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			logx.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed",
				logx.FieldComponent, logx.ComponentStorage,
				logx.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "revision": s.svc.Revision()})
}

func (s *Server) handleMembers(w http.ResponseWriter, _ *http.Request) {
	dir := s.svc.Members()
	ids := dir.All()
	out := make([]memberView, 0, len(ids))
	for _, id := range ids {
		out = append(out, memberView{ID: id, Name: dir.Name(id)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

// handleFund lists every directory member, including those with no fund
// activity, followed by any unknown ids found in stored balances.
func (s *Server) handleFund(w http.ResponseWriter, _ *http.Request) {
	state := s.svc.Fund()
	dir := s.svc.Members()

	view := fundView{Balance: state.Balance, Revision: s.svc.Revision()}
	seen := make(map[core.MemberID]bool)
	for _, id := range dir.All() {
		seen[id] = true
		view.Members = append(view.Members, fundMemberView{ID: id, Name: dir.Name(id), Balance: state.MemberBalances[id]})
	}
	for _, tx := range state.Transactions {
		if tx.Member == "" || seen[tx.Member] {
			continue
		}
		seen[tx.Member] = true
		view.Members = append(view.Members, fundMemberView{ID: tx.Member, Name: string(tx.Member), Balance: state.MemberBalances[tx.Member]})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFundTransactions(w http.ResponseWriter, _ *http.Request) {
	state := s.svc.Fund()
	txs := state.Transactions
	if txs == nil {
		txs = []core.FundTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, logx.OpDeposit, err)
		return
	}
	member, amount, date, note, err := req.parse(s.now)
	if err != nil {
		writeError(w, r, logx.OpDeposit, err)
		return
	}

	tx, err := s.svc.Deposit(r.Context(), member, amount, date, note)
	if err != nil {
		writeError(w, r, logx.OpDeposit, err)
		return
	}
	logx.NewStructuredLogger(logx.FromContext(r.Context())).LogDeposit(r.Context(), tx.ID, string(tx.Member), int64(tx.Amount))
	writeJSON(w, http.StatusCreated, tx)
}

// handleSettlement serves the settlement for the current revision, reusing
// a cached result when nothing changed since it was computed.
func (s *Server) handleSettlement(w http.ResponseWriter, _ *http.Request) {
	res, rev, hit := s.settlements.Get(s.svc.Revision(), s.svc.Settlement)
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if res.Balances == nil {
		res.Balances = []settlement.MemberBalance{}
	}
	if res.Transfers == nil {
		res.Transfers = []settlement.Transfer{}
	}
	writeJSON(w, http.StatusOK, settlementView{Result: res, Revision: rev})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	rev, err := s.svc.Reload(r.Context())
	if err != nil {
		writeError(w, r, logx.OpReload, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}
