package http

import (
	"context"
	"net/http"
	"sync/atomic"

	"saldo/internal/core"
	"saldo/internal/log"
)

// tagFunc is AddCategory, AddLabel or their Remove counterparts.
type tagFunc func(ctx context.Context, userID, arg string) (core.Tag, error)

type balanceResponse struct {
	UserID  string     `json:"userId"`
	Balance core.Money `json:"balance"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	year, month, err := pathYearMonth(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	snap, err := s.ledger.Snapshot(r.Context(), r.PathValue("userId"), year, month)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	year, month, err := pathYearMonth(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), r.PathValue("userId"), year, month)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request) {
	year, month, err := pathYearMonth(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	ins, err := s.ledger.ListIncomes(r.Context(), r.PathValue("userId"), year, month)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	if ins == nil {
		ins = []core.Income{}
	}
	writeJSON(w, http.StatusOK, ins)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpInsertTransaction, err)
		return
	}
	tx, err := s.ledger.InsertTransaction(r.Context(), r.PathValue("userId"), req.toTransaction())
	if err != nil {
		s.writeError(w, r, log.OpInsertTransaction, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.transactionsAdded, 1)
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r)
	if err != nil {
		s.writeError(w, r, log.OpDeleteTransaction, err)
		return
	}
	tx, err := s.ledger.DeleteTransaction(r.Context(), r.PathValue("userId"), r.PathValue("transactionId"), date)
	if err != nil {
		s.writeError(w, r, log.OpDeleteTransaction, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesDeleted, 1)
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request) {
	var req incomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpInsertIncome, err)
		return
	}
	in, err := s.ledger.InsertIncome(r.Context(), r.PathValue("userId"), req.toIncome())
	if err != nil {
		s.writeError(w, r, log.OpInsertIncome, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.incomesAdded, 1)
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleDeleteIncome(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r)
	if err != nil {
		s.writeError(w, r, log.OpDeleteIncome, err)
		return
	}
	in, err := s.ledger.DeleteIncome(r.Context(), r.PathValue("userId"), r.PathValue("incomeId"), date)
	if err != nil {
		s.writeError(w, r, log.OpDeleteIncome, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesDeleted, 1)
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	tags, err := s.ledger.Categories(r.Context(), r.PathValue("userId"))
	s.writeTags(w, r, tags, err)
}

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	tags, err := s.ledger.Labels(r.Context(), r.PathValue("userId"))
	s.writeTags(w, r, tags, err)
}

func (s *Server) writeTags(w http.ResponseWriter, r *http.Request, tags []core.Tag, err error) {
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	if tags == nil {
		tags = []core.Tag{}
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	s.createTag(w, r, log.OpAddCategory, s.ledger.AddCategory)
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	s.createTag(w, r, log.OpAddLabel, s.ledger.AddLabel)
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request, op string, add tagFunc) {
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, op, err)
		return
	}
	tag, err := add(r.Context(), r.PathValue("userId"), sanitizeInput(req.Name))
	if err != nil {
		s.writeError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	s.deleteTag(w, r, log.OpRemoveCategory, r.PathValue("categoryId"), s.ledger.RemoveCategory)
}

func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	s.deleteTag(w, r, log.OpRemoveLabel, r.PathValue("labelId"), s.ledger.RemoveLabel)
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request, op, id string, remove tagFunc) {
	tag, err := remove(r.Context(), r.PathValue("userId"), id)
	if err != nil {
		s.writeError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	bal, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, Balance: bal})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := s.ledger.Profile(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}
