package state

import "time"

const (
	WorkPending   = "pending"
	WorkClaimed   = "claimed"
	WorkCompleted = "completed"
)

const (
	SessionWaiting   = "waiting"
	SessionWorking   = "working"
	SessionPresented = "captcha_presented"
	SessionAnswered  = "answered"
	SessionTimeout   = "timeout"
	SessionEnded     = "ended"
)

const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalRejected  = "rejected"
)

const (
	KeywordPending    = "pending"
	KeywordCollecting = "collecting"
	KeywordCompleted  = "completed"
)

type WorkItemRecord struct {
	ID        int64
	UID       string
	StoreName string
	StoreURL  string
	Keyword   string
	Status    string
	ClaimedBy string
	CreatedAt time.Time
}

type SessionRecord struct {
	ID           string
	WorkerID     string
	Status       string
	CurrentItem  int64 // 0 when no item is held
	ArtifactRef  string
	Answer       string
	Message      string
	LastActivity time.Time
	CreatedAt    time.Time
}

type WorkerRecord struct {
	WorkerID    string
	Rewards     int64
	SolvedCount int
	CreatedAt   time.Time
}

type LedgerEntryRecord struct {
	ID        int64
	WorkerID  string
	Amount    int64
	Reason    string
	CreatedAt time.Time
}

type WithdrawalRecord struct {
	ID            int64
	WorkerID      string
	Amount        int64
	BankName      string
	AccountNumber string
	AccountHolder string
	Status        string
	CreatedAt     time.Time
}

type SolveRecord struct {
	ID             int64
	ItemID         int64
	StoreName      string
	SellerName     string
	BusinessNumber string
	Representative string
	Phone          string
	Email          string
	Address        string
	StoreURL       string
	SolvedBy       string
	Used           bool
	Memo           string
	CreatedAt      time.Time
}

type KeywordRecord struct {
	ID             int64
	Keyword        string
	IsActive       bool
	Priority       int
	MaxCount       int
	CollectedCount int
	Status         string
	CreatedAt      time.Time
}

// SettleInput carries everything SettleSolve persists in one unit.
type SettleInput struct {
	SessionID string
	Solve     SolveRecord
	Reward    int64
}

type SolveQuery struct {
	SolvedBy string
	Used     *bool
	Limit    int
	Offset   int
}

type Stats struct {
	PendingItems    int
	ClaimedItems    int
	CompletedItems  int
	ActiveSessions  int
	PendingKeywords int
	TotalWorkers    int
}
