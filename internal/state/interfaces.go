package state

import (
	"context"
	"time"
)

// Store is the single source of truth for the farm. Every multi-step
// mutation (claim, settle, withdrawal) is a first-class method executed
// atomically by the implementation, so concurrent callers observe each
// transition fully or not at all.
type Store interface {
	// Work queue.
	InsertWorkItems(ctx context.Context, items []WorkItemRecord) (int, error)
	ClaimWork(ctx context.Context, workerID string) (WorkItemRecord, error)
	// ReleaseWorkItem returns the worker's claimed item to the pending pool
	// and clears the session binding in the same atomic unit. Only the
	// claiming worker may release; a foreign item is ErrInvalidState.
	ReleaseWorkItem(ctx context.Context, workerID string, itemID int64) error
	CompleteWorkItem(ctx context.Context, itemID int64) error
	GetWorkItem(ctx context.Context, itemID int64) (WorkItemRecord, bool, error)

	// Sessions.
	StartSession(ctx context.Context, session SessionRecord) (SessionRecord, error)
	GetSessionByWorker(ctx context.Context, workerID string) (SessionRecord, bool, error)
	GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error)
	TouchSession(ctx context.Context, workerID string, at time.Time) error
	PresentArtifact(ctx context.Context, workerID, artifactRef, message string) error
	RecordAnswer(ctx context.Context, workerID, answer string) error
	SettleFailure(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, workerID string) error
	ListActiveSessions(ctx context.Context, since time.Time) ([]SessionRecord, error)
	ListExpiredSessions(ctx context.Context, cutoff time.Time) ([]SessionRecord, error)
	ExpireSession(ctx context.Context, sessionID, message string) error

	// Ledger.
	CreditWorker(ctx context.Context, workerID string, amount int64, reason string) error
	DebitWorker(ctx context.Context, workerID string, amount int64, reason string) error
	GetWorker(ctx context.Context, workerID string) (WorkerRecord, bool, error)
	ListLedgerEntries(ctx context.Context, workerID string, limit int) ([]LedgerEntryRecord, error)

	// Settlement.
	SettleSolve(ctx context.Context, in SettleInput) error
	ListSolves(ctx context.Context, query SolveQuery) ([]SolveRecord, error)
	UpdateSolve(ctx context.Context, id int64, used *bool, memo *string) error

	// Withdrawals.
	CreateWithdrawal(ctx context.Context, w WithdrawalRecord) (WithdrawalRecord, error)
	ResolveWithdrawal(ctx context.Context, id int64, approve bool) error
	ListWithdrawals(ctx context.Context, workerID, status string) ([]WithdrawalRecord, error)

	// Keyword queue.
	InsertKeywords(ctx context.Context, keywords []KeywordRecord) (int, error)
	ClaimKeyword(ctx context.Context) (KeywordRecord, error)
	UpdateKeywordProgress(ctx context.Context, id int64, collected int) error
	CompleteKeyword(ctx context.Context, id int64, collected int) error
	ResetKeyword(ctx context.Context, id int64) error
	ListKeywords(ctx context.Context, activeOnly bool) ([]KeywordRecord, error)
	UpdateKeyword(ctx context.Context, kw KeywordRecord) error
	DeleteKeyword(ctx context.Context, id int64) error

	// Operational reads.
	Snapshot(ctx context.Context, activeSince time.Time) (Stats, error)
}
