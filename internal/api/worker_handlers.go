package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/odong444/cap-api/internal/state"
	"github.com/odong444/cap-api/pkg/capapi"
)

func (s *Server) handleGetPendingUID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	workerID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if workerID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	item, err := s.engine.Claim(workerID)
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.PendingUIDResponse{
		Success: true,
		UID:     toWorkItem(item),
	})
}

func (s *Server) handleAddUIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.AddUIDsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	records := make([]state.WorkItemRecord, 0, len(req.UIDs))
	for _, in := range req.UIDs {
		uid := strings.TrimSpace(in.UID)
		if uid == "" {
			continue
		}
		records = append(records, state.WorkItemRecord{
			UID:       uid,
			StoreName: in.StoreName,
			StoreURL:  in.StoreURL,
			Keyword:   in.Keyword,
		})
	}
	if len(records) == 0 {
		refuse(w, "no uids given")
		return
	}
	added, err := s.engine.AddWorkItems(records)
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.AddUIDsResponse{Success: true, Added: added})
}

func (s *Server) handleCompleteUID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.CompleteUIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reward, err := s.engine.SettleSolve(req.SessionID, state.SolveRecord{
		StoreName:      req.SellerInfo.StoreName,
		SellerName:     req.SellerInfo.SellerName,
		BusinessNumber: req.SellerInfo.BusinessNumber,
		Representative: req.SellerInfo.Representative,
		Phone:          req.SellerInfo.Phone,
		Email:          req.SellerInfo.Email,
		Address:        req.SellerInfo.Address,
		StoreURL:       req.SellerInfo.StoreURL,
		SolvedBy:       req.UserID,
	})
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.CompleteUIDResponse{
		Success: true,
		Message: "solve settled",
		Reward:  reward,
	})
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.RetryTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.SettleFailure(req.SessionID)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "task reset for retry"})
}

func (s *Server) handleReleaseUID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.ReleaseUIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if domainError(w, s.engine.ReleaseItem(req.UserID, req.UIDID)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "uid released"})
}

func (s *Server) handleUpdateScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.UpdateScreenshotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.PresentArtifact(req.UserID, req.Screenshot, req.Message)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "screenshot attached"})
}

func (s *Server) handleCheckAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	workerID := pathTail(r.URL.Path, "/api/worker/check-answer/")
	if workerID == "" {
		writeError(w, http.StatusBadRequest, "worker id required")
		return
	}
	if !s.limiter.allow("solver:"+workerID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	answer, err := s.engine.FetchAnswer(workerID)
	if domainError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.CheckAnswerResponse{Success: true, Answer: answer})
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessions, err := s.engine.ActiveSessions()
	if domainError(w, err) {
		return
	}
	infos := make([]capapi.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, capapi.SessionInfo{
			SessionID:    sess.ID,
			UserID:       sess.WorkerID,
			Status:       sess.Status,
			UIDID:        sess.CurrentItem,
			LastActivity: formatTime(sess.LastActivity),
		})
	}
	writeJSON(w, http.StatusOK, capapi.ActiveSessionsResponse{Success: true, Sessions: infos})
}

func (s *Server) handleSessionTimeout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.SessionTimeoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" && strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "session_id or user_id is required")
		return
	}
	if domainError(w, s.engine.ForceTimeout(req.SessionID, req.UserID)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "session timed out"})
}

func toWorkItem(rec state.WorkItemRecord) *capapi.WorkItem {
	return &capapi.WorkItem{
		ID:        rec.ID,
		UID:       rec.UID,
		StoreName: rec.StoreName,
		StoreURL:  rec.StoreURL,
		Keyword:   rec.Keyword,
		Status:    rec.Status,
		ClaimedBy: rec.ClaimedBy,
		CreatedAt: formatTime(rec.CreatedAt),
	}
}
