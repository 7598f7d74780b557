package api

import (
	"net/http"
	"time"

	"github.com/odong444/cap-api/internal/state"
	"github.com/odong444/cap-api/pkg/capapi"
)

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.StartSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	session, workers, err := s.engine.StartSession(req.UserID)
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.StartSessionResponse{
		Success:   true,
		Message:   "session started",
		SessionID: session.ID,
		Workers:   workers,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.EndSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.EndSession(req.UserID)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "session ended"})
}

func (s *Server) handlePollSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	workerID := pathTail(r.URL.Path, "/api/session/poll/")
	if workerID == "" {
		writeError(w, http.StatusBadRequest, "worker id required")
		return
	}
	if !s.limiter.allow(workerID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	session, payload, err := s.engine.PollSession(workerID)
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.PollSessionResponse{
		Success:    true,
		Message:    session.Message,
		Status:     session.Status,
		Screenshot: payload,
		UIDID:      session.CurrentItem,
	})
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.SubmitAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.SubmitAnswer(req.UserID, req.Answer)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "answer recorded"})
}

func (s *Server) handleRewardsHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	workerID := pathTail(r.URL.Path, "/api/rewards/history/")
	if workerID == "" {
		writeError(w, http.StatusBadRequest, "worker id required")
		return
	}
	worker, err := s.engine.Balance(workerID)
	if domainError(w, err) {
		return
	}
	entries, err := s.engine.History(workerID, 100)
	if domainError(w, err) {
		return
	}
	history := make([]capapi.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		history = append(history, capapi.LedgerEntry{
			ID:        e.ID,
			UserID:    e.WorkerID,
			Amount:    e.Amount,
			Reason:    e.Reason,
			CreatedAt: formatTime(e.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, capapi.RewardsHistoryResponse{
		Success: true,
		Balance: worker.Rewards,
		History: history,
	})
}

func (s *Server) handleWorkerWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	workerID := pathTail(r.URL.Path, "/api/withdrawals/")
	if workerID == "" {
		writeError(w, http.StatusBadRequest, "worker id required")
		return
	}
	records, err := s.engine.ListWithdrawals(workerID, "")
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.WithdrawalsResponse{
		Success:     true,
		Withdrawals: toWithdrawals(records),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.engine.RequestWithdrawal(state.WithdrawalRecord{
		WorkerID:      req.UserID,
		Amount:        req.Amount,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountHolder: req.AccountHolder,
	})
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.WithdrawResponse{
		Success:      true,
		Message:      "withdrawal requested",
		WithdrawalID: created.ID,
	})
}

func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	records, err := s.engine.ListKeywords(true)
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.KeywordsResponse{
		Success:  true,
		Keywords: toKeywords(records),
	})
}

func toWithdrawals(records []state.WithdrawalRecord) []capapi.Withdrawal {
	out := make([]capapi.Withdrawal, 0, len(records))
	for _, rec := range records {
		out = append(out, capapi.Withdrawal{
			ID:            rec.ID,
			UserID:        rec.WorkerID,
			Amount:        rec.Amount,
			BankName:      rec.BankName,
			AccountNumber: rec.AccountNumber,
			AccountHolder: rec.AccountHolder,
			Status:        rec.Status,
			CreatedAt:     formatTime(rec.CreatedAt),
		})
	}
	return out
}

func toKeywords(records []state.KeywordRecord) []capapi.Keyword {
	out := make([]capapi.Keyword, 0, len(records))
	for _, rec := range records {
		out = append(out, toKeyword(rec))
	}
	return out
}

func toKeyword(rec state.KeywordRecord) capapi.Keyword {
	return capapi.Keyword{
		ID:             rec.ID,
		Keyword:        rec.Keyword,
		IsActive:       rec.IsActive,
		Priority:       rec.Priority,
		MaxCount:       rec.MaxCount,
		CollectedCount: rec.CollectedCount,
		Status:         rec.Status,
		CreatedAt:      formatTime(rec.CreatedAt),
	}
}
