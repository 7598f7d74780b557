// Package farm is the distribution core: it hands work items to at most one
// session at a time, walks each session through the solve flow, and settles
// rewards against the ledger.
package farm

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/odong444/cap-api/internal/artifacts"
	"github.com/odong444/cap-api/internal/observability"
	"github.com/odong444/cap-api/internal/state"
)

const (
	DefaultSolveReward       = 100
	DefaultMinWithdrawal     = 10000
	DefaultSessionTimeout    = 5 * time.Minute
	DefaultMaxActiveSessions = 4
)

// Refusals raised above the store layer.
var (
	ErrBelowMinimum    = errors.New("amount below minimum withdrawal")
	ErrSessionCapacity = errors.New("active session capacity reached")
	ErrValidation      = errors.New("invalid input")
)

type Options struct {
	SessionTimeout    time.Duration
	MaxActiveSessions int
	SolveReward       int64
	MinWithdrawal     int64
	Artifacts         artifacts.Store
}

type Engine struct {
	store          state.Store
	artifacts      artifacts.Store
	sessionTimeout time.Duration
	maxSessions    int
	solveReward    int64
	minWithdrawal  int64
}

func NewEngine(store state.Store, opts Options) *Engine {
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	maxSessions := opts.MaxActiveSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxActiveSessions
	}
	reward := opts.SolveReward
	if reward <= 0 {
		reward = DefaultSolveReward
	}
	minWithdrawal := opts.MinWithdrawal
	if minWithdrawal <= 0 {
		minWithdrawal = DefaultMinWithdrawal
	}
	art := opts.Artifacts
	if art == nil {
		art = artifacts.NewInlineStore()
	}
	return &Engine{
		store:          store,
		artifacts:      art,
		sessionTimeout: timeout,
		maxSessions:    maxSessions,
		solveReward:    reward,
		minWithdrawal:  minWithdrawal,
	}
}

func NewInMemoryEngine() *Engine {
	return NewEngine(state.NewMemoryStore(), Options{})
}

func (e *Engine) SessionTimeout() time.Duration { return e.sessionTimeout }
func (e *Engine) SolveReward() int64            { return e.solveReward }

// AddWorkItems bulk-inserts claimable items, silently skipping duplicates,
// and reports how many were actually added.
func (e *Engine) AddWorkItems(items []state.WorkItemRecord) (int, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.add_work_items",
		attribute.Int("items.count", len(items)),
	)
	defer span.End()
	added, err := e.store.InsertWorkItems(ctx, items)
	if err != nil {
		return 0, err
	}
	observability.Default.IncCounter("farm_work_items_added_total", nil, float64(added))
	span.SetAttributes(attribute.Int("items.added", added))
	return added, nil
}

// Claim atomically assigns the oldest pending item to the worker's waiting
// session. state.ErrNoPending means the queue is drained, not a failure.
func (e *Engine) Claim(workerID string) (state.WorkItemRecord, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.claim",
		attribute.String("worker.id", workerID),
	)
	defer span.End()
	item, err := e.store.ClaimWork(ctx, workerID)
	if err != nil {
		return state.WorkItemRecord{}, err
	}
	observability.Default.IncCounter("farm_claims_total", nil, 1)
	span.SetAttributes(attribute.Int64("item.id", item.ID))
	return item, nil
}

// ReleaseItem puts the worker's claimed item back in the pending pool and
// returns the session to waiting. Releasing an item another worker holds is
// refused; releasing one already pending or completed is a no-op.
func (e *Engine) ReleaseItem(workerID string, itemID int64) error {
	ctx, span := observability.StartSpan(context.Background(), "farm.release_item",
		attribute.String("worker.id", workerID),
		attribute.Int64("item.id", itemID),
	)
	defer span.End()
	if err := e.store.ReleaseWorkItem(ctx, workerID, itemID); err != nil {
		return err
	}
	observability.Default.IncCounter("farm_releases_total", nil, 1)
	return nil
}

func (e *Engine) GetWorkItem(itemID int64) (state.WorkItemRecord, bool, error) {
	return e.store.GetWorkItem(context.Background(), itemID)
}

func (e *Engine) ListSolves(query state.SolveQuery) ([]state.SolveRecord, error) {
	return e.store.ListSolves(context.Background(), query)
}

func (e *Engine) UpdateSolve(id int64, used *bool, memo *string) error {
	return e.store.UpdateSolve(context.Background(), id, used, memo)
}

func (e *Engine) Stats() (state.Stats, error) {
	ctx := context.Background()
	st, err := e.store.Snapshot(ctx, time.Now().UTC().Add(-e.sessionTimeout))
	if err != nil {
		return state.Stats{}, err
	}
	observability.Default.SetGauge("farm_pending_items", nil, float64(st.PendingItems))
	observability.Default.SetGauge("farm_active_sessions", nil, float64(st.ActiveSessions))
	return st, nil
}
