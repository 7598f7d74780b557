package api

import (
	"net/http"
	"strconv"

	"github.com/odong444/cap-api/pkg/capapi"
)

func (s *Server) handlePendingKeyword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	kw, err := s.engine.ClaimKeyword()
	if domainError(w, err) {
		return
	}
	out := toKeyword(kw)
	writeJSON(w, http.StatusOK, capapi.PendingKeywordResponse{Success: true, Keyword: &out})
}

func (s *Server) handleKeywordProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.KeywordProgressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.ReportKeywordProgress(req.KeywordID, req.CollectedCount)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "progress recorded"})
}

func (s *Server) handleCompleteKeyword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req capapi.KeywordProgressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if domainError(w, s.engine.CompleteKeyword(req.KeywordID, req.CollectedCount)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "keyword completed"})
}

func (s *Server) handleResetKeyword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := pathTail(r.URL.Path, "/api/collector/reset-keyword/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}
	if domainError(w, s.engine.ResetKeyword(id)) {
		return
	}
	writeJSON(w, http.StatusOK, capapi.Ack{Success: true, Message: "keyword reset"})
}
