package farm

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/odong444/cap-api/internal/observability"
	"github.com/odong444/cap-api/internal/state"
)

// Balance returns the worker's current balance and lifetime solve count.
// Unknown workers read as zero rather than an error, matching the queue's
// lazy worker creation on first credit.
func (e *Engine) Balance(workerID string) (state.WorkerRecord, error) {
	worker, ok, err := e.store.GetWorker(context.Background(), workerID)
	if err != nil {
		return state.WorkerRecord{}, err
	}
	if !ok {
		return state.WorkerRecord{WorkerID: workerID}, nil
	}
	return worker, nil
}

func (e *Engine) History(workerID string, limit int) ([]state.LedgerEntryRecord, error) {
	return e.store.ListLedgerEntries(context.Background(), workerID, limit)
}

// AdjustRewards applies a signed admin correction to a worker's balance.
// Negative adjustments respect the non-negative floor.
func (e *Engine) AdjustRewards(workerID string, amount int64, reason string) error {
	ctx, span := observability.StartSpan(context.Background(), "farm.adjust_rewards",
		attribute.String("worker.id", workerID),
		attribute.Int64("amount", amount),
	)
	defer span.End()
	if workerID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if amount == 0 {
		return fmt.Errorf("%w: amount must be non-zero", ErrValidation)
	}
	if reason == "" {
		reason = "admin adjustment"
	}
	if amount > 0 {
		return e.store.CreditWorker(ctx, workerID, amount, reason)
	}
	return e.store.DebitWorker(ctx, workerID, -amount, reason)
}

// RequestWithdrawal debits the worker and opens a pending withdrawal in one
// atomic unit. The amount must clear the minimum and the worker's balance.
func (e *Engine) RequestWithdrawal(req state.WithdrawalRecord) (state.WithdrawalRecord, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.request_withdrawal",
		attribute.String("worker.id", req.WorkerID),
		attribute.Int64("amount", req.Amount),
	)
	defer span.End()
	if req.WorkerID == "" {
		return state.WithdrawalRecord{}, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if req.BankName == "" || req.AccountNumber == "" || req.AccountHolder == "" {
		return state.WithdrawalRecord{}, fmt.Errorf("%w: bank account details are required", ErrValidation)
	}
	if req.Amount < e.minWithdrawal {
		return state.WithdrawalRecord{}, fmt.Errorf("%w: minimum is %d", ErrBelowMinimum, e.minWithdrawal)
	}
	created, err := e.store.CreateWithdrawal(ctx, req)
	if err != nil {
		return state.WithdrawalRecord{}, err
	}
	observability.Default.IncCounter("farm_withdrawals_requested_total", nil, 1)
	span.SetAttributes(attribute.Int64("withdrawal.id", created.ID))
	return created, nil
}

// ResolveWithdrawal settles a pending withdrawal. "approve" marks it
// completed; "reject" marks it rejected and refunds the held amount.
// Already-settled withdrawals report state.ErrConflict.
func (e *Engine) ResolveWithdrawal(id int64, action string) error {
	ctx, span := observability.StartSpan(context.Background(), "farm.resolve_withdrawal",
		attribute.Int64("withdrawal.id", id),
		attribute.String("action", action),
	)
	defer span.End()
	var approve bool
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "approve", "complete":
		approve = true
	case "reject":
		approve = false
	default:
		return fmt.Errorf("%w: action must be approve or reject", ErrValidation)
	}
	if err := e.store.ResolveWithdrawal(ctx, id, approve); err != nil {
		return err
	}
	observability.Default.IncCounter("farm_withdrawals_resolved_total",
		map[string]string{"action": action}, 1)
	return nil
}

func (e *Engine) ListWithdrawals(workerID, status string) ([]state.WithdrawalRecord, error) {
	return e.store.ListWithdrawals(context.Background(), workerID, status)
}
