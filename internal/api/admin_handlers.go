package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/odong444/cap-api/internal/state"
	"github.com/odong444/cap-api/pkg/capapi"
)

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.AdminLoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, ok := s.admin.login(req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleAdminResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	query := state.SolveQuery{
		SolvedBy: strings.TrimSpace(r.URL.Query().Get("user_id")),
		Limit:    parseQueryInt(r, "limit", 100),
		Offset:   parseQueryInt(r, "offset", 0),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("used")); raw != "" {
		used := raw == "true" || raw == "1"
		query.Used = &used
	}
	records, err := s.engine.ListSolves(query)
	if domainError(w, err) {
		return
	}
	results := make([]capapi.SolveResult, 0, len(records))
	for _, rec := range records {
		results = append(results, capapi.SolveResult{
			ID:             rec.ID,
			UIDID:          rec.ItemID,
			StoreName:      rec.StoreName,
			SellerName:     rec.SellerName,
			BusinessNumber: rec.BusinessNumber,
			Representative: rec.Representative,
			Phone:          rec.Phone,
			Email:          rec.Email,
			Address:        rec.Address,
			StoreURL:       rec.StoreURL,
			SolvedBy:       rec.SolvedBy,
			Used:           rec.Used,
			Memo:           rec.Memo,
			CreatedAt:      formatTime(rec.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, capapi.ResultsResponse{Success: true, Results: results})
}

// handleAdminResultByID serves POST /api/admin/results/{id}/update and
// POST /api/admin/results/bulk-update.
func (s *Server) handleAdminResultByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	tail := pathTail(r.URL.Path, "/api/admin/results/")
	if tail == "bulk-update" {
		var req capapi.BulkUpdateResultsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		// Unknown ids must not abort the batch: earlier updates have
		// already been applied, so skip them and report which failed.
		updated := 0
		var missing []int64
		for _, id := range req.IDs {
			err := s.engine.UpdateSolve(id, req.Used, req.Memo)
			if errors.Is(err, state.ErrNotFound) {
				missing = append(missing, id)
				continue
			}
			if domainError(w, err) {
				return
			}
			updated++
		}
		writeJSON(w, http.StatusOK, capapi.BulkUpdateResultsResponse{
			Success:  true,
			Updated:  updated,
			NotFound: missing,
		})
		return
	}
	idRaw, action, _ := strings.Cut(tail, "/")
	if action != "update" {
		writeError(w, http.StatusNotFound, "unknown result action")
		return
	}
	id, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}
	var req capapi.UpdateResultRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.UpdateSolve(id, req.Used, req.Memo)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "result updated"})
}

func (s *Server) handleAdminWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	records, err := s.engine.ListWithdrawals("", status)
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.WithdrawalsResponse{
		Success:     true,
		Withdrawals: toWithdrawals(records),
	})
}

// handleAdminWithdrawalByID serves POST /api/admin/withdrawals/{id}/process.
func (s *Server) handleAdminWithdrawalByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	tail := pathTail(r.URL.Path, "/api/admin/withdrawals/")
	idRaw, action, _ := strings.Cut(tail, "/")
	if action != "process" {
		writeError(w, http.StatusNotFound, "unknown withdrawal action")
		return
	}
	id, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid withdrawal id")
		return
	}
	var req capapi.ProcessWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.ResolveWithdrawal(id, req.Action)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "withdrawal " + req.Action + "d"})
}

func (s *Server) handleAdminKeywords(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		records, err := s.engine.ListKeywords(false)
		if domainError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, capapi.KeywordsResponse{Success: true, Keywords: toKeywords(records)})
	case http.MethodPost:
		var req capapi.AddKeywordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		added, err := s.engine.AddKeywords(req.Keyword, req.Priority, req.MaxCount)
		if domainError(w, err) {
			return
		}
		if added == 0 {
			refuse(w, "keyword already exists")
			return
		}
		writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "keyword added"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAdminKeywordByID serves PUT and DELETE on /api/admin/keywords/{id},
// plus POST /api/admin/keywords/bulk.
func (s *Server) handleAdminKeywordByID(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	tail := pathTail(r.URL.Path, "/api/admin/keywords/")
	if tail == "bulk" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req capapi.BulkAddKeywordsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		added, err := s.engine.AddKeywords(req.Keywords, 0, req.MaxCount)
		if domainError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, capapi.BulkAddKeywordsResponse{Success: true, Added: added})
		return
	}
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req capapi.UpdateKeywordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		current, ok := s.findKeyword(w, id)
		if !ok {
			return
		}
		if req.IsActive != nil {
			current.IsActive = *req.IsActive
		}
		if req.Priority != nil {
			current.Priority = *req.Priority
		}
		if req.MaxCount != nil {
			current.MaxCount = *req.MaxCount
		}
		if domainError(w, s.engine.UpdateKeyword(current)) {
			return
		}
		writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "keyword updated"})
	case http.MethodDelete:
		if domainError(w, s.engine.DeleteKeyword(id)) {
			return
		}
		writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "keyword deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAdminUserSubresource serves POST /api/admin/users/{id}/adjust-rewards.
func (s *Server) handleAdminUserSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	tail := pathTail(r.URL.Path, "/api/admin/users/")
	workerID, action, _ := strings.Cut(tail, "/")
	if action != "adjust-rewards" || workerID == "" {
		writeError(w, http.StatusNotFound, "unknown user action")
		return
	}
	var req capapi.AdjustRewardsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.AdjustRewards(workerID, req.Amount, req.Reason)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "rewards adjusted"})
}

func (s *Server) findKeyword(w http.ResponseWriter, id int64) (state.KeywordRecord, bool) {
	records, err := s.engine.ListKeywords(false)
	if err != nil {
		domainError(w, err)
		return state.KeywordRecord{}, false
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, true
		}
	}
	refuse(w, "not found")
	return state.KeywordRecord{}, false
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
