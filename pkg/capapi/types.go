// Package capapi holds the JSON request/response shapes shared by the
// server, the solver agent, and capctl. Domain outcomes are reported with
// the success flag and message; HTTP status stays 200 for refusals.
package capapi

type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type StartSessionRequest struct {
	UserID string `json:"user_id"`
}

type StartSessionResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Workers   int    `json:"workers,omitempty"`
}

type EndSessionRequest struct {
	UserID string `json:"user_id"`
}

type SubmitAnswerRequest struct {
	UserID string `json:"user_id"`
	Answer string `json:"answer"`
}

type PollSessionResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Status     string `json:"status,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	UIDID      int64  `json:"uid_id,omitempty"`
}

type SessionInfo struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	UIDID        int64  `json:"uid_id,omitempty"`
	LastActivity string `json:"last_activity"`
}

type ActiveSessionsResponse struct {
	Success  bool          `json:"success"`
	Sessions []SessionInfo `json:"sessions"`
}

type CheckAnswerResponse struct {
	Success bool    `json:"success"`
	Answer  *string `json:"answer"`
}

type UpdateScreenshotRequest struct {
	UserID     string `json:"user_id"`
	Screenshot string `json:"screenshot"`
	UIDID      int64  `json:"uid_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

type SessionTimeoutRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type WorkItem struct {
	ID        int64  `json:"id"`
	UID       string `json:"uid"`
	StoreName string `json:"store_name,omitempty"`
	StoreURL  string `json:"store_url,omitempty"`
	Keyword   string `json:"keyword,omitempty"`
	Status    string `json:"status"`
	ClaimedBy string `json:"claimed_by,omitempty"`
	CreatedAt string `json:"created_at"`
}

type AddUIDsRequest struct {
	UIDs []AddUIDItem `json:"uids"`
}

type AddUIDItem struct {
	UID       string `json:"uid"`
	StoreName string `json:"store_name,omitempty"`
	StoreURL  string `json:"store_url,omitempty"`
	Keyword   string `json:"keyword,omitempty"`
}

type AddUIDsResponse struct {
	Success bool `json:"success"`
	Added   int  `json:"added"`
}

type PendingUIDResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	UID     *WorkItem `json:"uid,omitempty"`
}

type SellerInfo struct {
	StoreName      string `json:"store_name,omitempty"`
	SellerName     string `json:"seller_name,omitempty"`
	BusinessNumber string `json:"business_number,omitempty"`
	Representative string `json:"representative,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	Address        string `json:"address,omitempty"`
	StoreURL       string `json:"store_url,omitempty"`
}

type CompleteUIDRequest struct {
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	SellerInfo SellerInfo `json:"seller_info"`
}

type CompleteUIDResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Reward  int64  `json:"reward,omitempty"`
}

type RetryTaskRequest struct {
	SessionID string `json:"session_id"`
}

type ReleaseUIDRequest struct {
	UserID string `json:"user_id"`
	UIDID  int64  `json:"uid_id"`
}

type WithdrawRequest struct {
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountHolder string `json:"account_holder,omitempty"`
}

type WithdrawResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	WithdrawalID int64  `json:"withdrawal_id,omitempty"`
}

type Withdrawal struct {
	ID            int64  `json:"id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountHolder string `json:"account_holder,omitempty"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type WithdrawalsResponse struct {
	Success     bool         `json:"success"`
	Withdrawals []Withdrawal `json:"withdrawals"`
}

type ProcessWithdrawalRequest struct {
	Action string `json:"action"` // approve | reject
}

type LedgerEntry struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

type RewardsHistoryResponse struct {
	Success bool          `json:"success"`
	Balance int64         `json:"balance"`
	History []LedgerEntry `json:"history"`
}

type AdjustRewardsRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type Keyword struct {
	ID             int64  `json:"id"`
	Keyword        string `json:"keyword"`
	IsActive       bool   `json:"is_active"`
	Priority       int    `json:"priority"`
	MaxCount       int    `json:"max_count"`
	CollectedCount int    `json:"collected_count"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

type KeywordsResponse struct {
	Success  bool      `json:"success"`
	Keywords []Keyword `json:"keywords"`
}

type AddKeywordRequest struct {
	Keyword  string `json:"keyword"`
	Priority int    `json:"priority,omitempty"`
	MaxCount int    `json:"max_count,omitempty"`
}

type AddKeywordResponse struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id,omitempty"`
}

type BulkAddKeywordsRequest struct {
	Keywords string `json:"keywords"` // newline separated
	MaxCount int    `json:"max_count,omitempty"`
}

type BulkAddKeywordsResponse struct {
	Success bool `json:"success"`
	Added   int  `json:"added"`
}

type UpdateKeywordRequest struct {
	Keyword  *string `json:"keyword,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	MaxCount *int    `json:"max_count,omitempty"`
}

type PendingKeywordResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Keyword *Keyword `json:"keyword,omitempty"`
}

type KeywordProgressRequest struct {
	KeywordID      int64 `json:"keyword_id"`
	CollectedCount int   `json:"collected_count"`
}

type SolveResult struct {
	ID             int64  `json:"id"`
	UIDID          int64  `json:"uid_id,omitempty"`
	StoreName      string `json:"store_name,omitempty"`
	SellerName     string `json:"seller_name,omitempty"`
	BusinessNumber string `json:"business_number,omitempty"`
	Representative string `json:"representative,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	Address        string `json:"address,omitempty"`
	StoreURL       string `json:"store_url,omitempty"`
	SolvedBy       string `json:"solved_by,omitempty"`
	Used           bool   `json:"used"`
	Memo           string `json:"memo,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ResultsResponse struct {
	Success bool          `json:"success"`
	Results []SolveResult `json:"results"`
}

type UpdateResultRequest struct {
	Used *bool   `json:"used,omitempty"`
	Memo *string `json:"memo,omitempty"`
}

type BulkUpdateResultsRequest struct {
	IDs  []int64 `json:"ids"`
	Used *bool   `json:"used,omitempty"`
	Memo *string `json:"memo,omitempty"`
}

type BulkUpdateResultsResponse struct {
	Success  bool    `json:"success"`
	Updated  int     `json:"updated"`
	NotFound []int64 `json:"not_found,omitempty"`
}

type AdminLoginRequest struct {
	Password string `json:"password"`
}

type StatusResponse struct {
	Success         bool `json:"success"`
	PendingUIDs     int  `json:"pending_uids"`
	ClaimedUIDs     int  `json:"claimed_uids"`
	CompletedUIDs   int  `json:"completed_uids"`
	ActiveSessions  int  `json:"active_sessions"`
	PendingKeywords int  `json:"pending_keywords"`
	TotalWorkers    int  `json:"total_workers"`
}
