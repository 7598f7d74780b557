// Package api is the HTTP/JSON surface of the farm. Domain refusals
// (empty queue, wrong session state, insufficient balance) are reported
// with HTTP 200 and success=false plus a message; HTTP status codes are
// reserved for transport-level problems.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/odong444/cap-api/internal/farm"
	"github.com/odong444/cap-api/internal/observability"
	"github.com/odong444/cap-api/internal/state"
	"github.com/odong444/cap-api/pkg/capapi"
)

type Server struct {
	engine  *farm.Engine
	admin   *adminAuth
	limiter *pollLimiter
}

func NewServer(engine *farm.Engine) *Server {
	return &Server{
		engine:  engine,
		admin:   newAdminAuthFromEnv(),
		limiter: newPollLimiterFromEnv(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/metrics/prometheus", s.handleMetricsPrometheus)

	// Worker-facing.
	mux.HandleFunc("/api/session/start", s.handleStartSession)
	mux.HandleFunc("/api/session/end", s.handleEndSession)
	mux.HandleFunc("/api/session/poll/", s.handlePollSession)
	mux.HandleFunc("/api/session/submit-answer", s.handleSubmitAnswer)
	mux.HandleFunc("/api/rewards/history/", s.handleRewardsHistory)
	mux.HandleFunc("/api/withdrawals/", s.handleWorkerWithdrawals)
	mux.HandleFunc("/api/withdraw", s.handleWithdraw)
	mux.HandleFunc("/api/keywords", s.handleListKeywords)

	// Back-office solver.
	mux.HandleFunc("/api/worker/get-pending-uid", s.handleGetPendingUID)
	mux.HandleFunc("/api/worker/add-uids", s.handleAddUIDs)
	mux.HandleFunc("/api/worker/complete-uid", s.handleCompleteUID)
	mux.HandleFunc("/api/worker/retry-task", s.handleRetryTask)
	mux.HandleFunc("/api/worker/release-uid", s.handleReleaseUID)
	mux.HandleFunc("/api/worker/update-screenshot", s.handleUpdateScreenshot)
	mux.HandleFunc("/api/worker/check-answer/", s.handleCheckAnswer)
	mux.HandleFunc("/api/worker/active-sessions", s.handleActiveSessions)
	mux.HandleFunc("/api/worker/session-timeout", s.handleSessionTimeout)

	// Keyword collector.
	mux.HandleFunc("/api/collector/pending-keyword", s.handlePendingKeyword)
	mux.HandleFunc("/api/collector/update-progress", s.handleKeywordProgress)
	mux.HandleFunc("/api/collector/complete-keyword", s.handleCompleteKeyword)
	mux.HandleFunc("/api/collector/reset-keyword/", s.handleResetKeyword)

	// Admin.
	mux.HandleFunc("/api/admin/login", s.handleAdminLogin)
	mux.HandleFunc("/api/admin/stats", s.handleAdminStats)
	mux.HandleFunc("/api/admin/results", s.handleAdminResults)
	mux.HandleFunc("/api/admin/results/", s.handleAdminResultByID)
	mux.HandleFunc("/api/admin/withdrawals", s.handleAdminWithdrawals)
	mux.HandleFunc("/api/admin/withdrawals/", s.handleAdminWithdrawalByID)
	mux.HandleFunc("/api/admin/keywords", s.handleAdminKeywords)
	mux.HandleFunc("/api/admin/keywords/", s.handleAdminKeywordByID)
	mux.HandleFunc("/api/admin/users/", s.handleAdminUserSubresource)

	return withTracing(withLogging(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.engine.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, capapi.StatusResponse{
		Success:         true,
		PendingUIDs:     stats.PendingItems,
		ClaimedUIDs:     stats.ClaimedItems,
		CompletedUIDs:   stats.CompletedItems,
		ActiveSessions:  stats.ActiveSessions,
		PendingKeywords: stats.PendingKeywords,
		TotalWorkers:    stats.TotalWorkers,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

// decodeBody rejects malformed JSON at the transport level; domain
// validation happens in the engine afterwards.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// refuse reports a domain refusal: HTTP 200, success=false, message.
func refuse(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, capapi.Ack{Success: false, Message: msg})
}

// domainError translates engine/store errors into the response contract.
// Returns true when the error was handled.
func domainError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, state.ErrNoPending):
		refuse(w, "no pending work")
	case errors.Is(err, state.ErrNotFound):
		refuse(w, "not found")
	case errors.Is(err, state.ErrInvalidState):
		refuse(w, "operation not valid in the current state")
	case errors.Is(err, state.ErrConflict):
		refuse(w, "already resolved")
	case errors.Is(err, state.ErrInsufficientBalance):
		refuse(w, "insufficient balance")
	case errors.Is(err, farm.ErrBelowMinimum):
		refuse(w, err.Error())
	case errors.Is(err, farm.ErrSessionCapacity):
		refuse(w, "all worker slots are busy, try again later")
	case errors.Is(err, farm.ErrValidation):
		refuse(w, err.Error())
	default:
		log.Printf("api: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathTail(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
