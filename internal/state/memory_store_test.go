package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func seedItems(t *testing.T, m *MemoryStore, n int) {
	t.Helper()
	items := make([]WorkItemRecord, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, WorkItemRecord{UID: fmt.Sprintf("uid-%03d", i)})
	}
	added, err := m.InsertWorkItems(context.Background(), items)
	if err != nil {
		t.Fatalf("insert items: %v", err)
	}
	if added != n {
		t.Fatalf("expected %d items added, got %d", n, added)
	}
}

func startSession(t *testing.T, m *MemoryStore, workerID string) SessionRecord {
	t.Helper()
	s, err := m.StartSession(context.Background(), SessionRecord{ID: "sess-" + workerID, WorkerID: workerID})
	if err != nil {
		t.Fatalf("start session %s: %v", workerID, err)
	}
	return s
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	const workers = 16
	const items = 8
	seedItems(t, m, items)
	for i := 0; i < workers; i++ {
		startSession(t, m, fmt.Sprintf("w%d", i))
	}

	var wg sync.WaitGroup
	claimed := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			item, err := m.ClaimWork(ctx, workerID)
			if err != nil {
				if !errors.Is(err, ErrNoPending) {
					t.Errorf("claim %s: %v", workerID, err)
				}
				return
			}
			claimed <- item.ID
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()
	close(claimed)

	seen := map[int64]bool{}
	for id := range claimed {
		if seen[id] {
			t.Fatalf("item %d claimed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != items {
		t.Fatalf("expected all %d items claimed exactly once, got %d", items, len(seen))
	}
}

func TestClaimRequiresWaitingSession(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, m, 2)
	startSession(t, m, "w1")

	if _, err := m.ClaimWork(ctx, "w1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// Session is now working with a held item: a second claim must refuse.
	if _, err := m.ClaimWork(ctx, "w1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on double claim, got %v", err)
	}
	if _, err := m.ClaimWork(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown worker, got %v", err)
	}
}

func TestSessionReplaceReleasesHeldItem(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, m, 1)
	startSession(t, m, "w1")

	item, err := m.ClaimWork(ctx, "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Worker restarts: the fresh session must not strand the claimed item.
	if _, err := m.StartSession(ctx, SessionRecord{ID: "sess-w1-2", WorkerID: "w1"}); err != nil {
		t.Fatalf("restart session: %v", err)
	}
	got, ok, err := m.GetWorkItem(ctx, item.ID)
	if err != nil || !ok {
		t.Fatalf("get item: ok=%v err=%v", ok, err)
	}
	if got.Status != WorkPending {
		t.Fatalf("expected released item pending, got %s", got.Status)
	}

	// The released item is claimable again by the new session.
	if _, err := m.ClaimWork(ctx, "w1"); err != nil {
		t.Fatalf("reclaim after restart: %v", err)
	}
}

func TestExpireSessionReleasesItem(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, m, 1)
	sess := startSession(t, m, "w1")

	item, err := m.ClaimWork(ctx, "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := m.TouchSession(ctx, "w1", time.Now().Add(-10*time.Minute)); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	expired, err := m.ListExpiredSessions(ctx, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != sess.ID {
		t.Fatalf("expected one expired session, got %+v", expired)
	}

	if err := m.ExpireSession(ctx, sess.ID, "timed out"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, _, _ := m.GetWorkItem(ctx, item.ID)
	if got.Status != WorkPending {
		t.Fatalf("reaped session must release its item, status %s", got.Status)
	}
	after, ok, _ := m.GetSessionByWorker(ctx, "w1")
	if !ok || after.Status != SessionTimeout {
		t.Fatalf("expected timeout status, got %+v", after)
	}

	// Expiring a terminal session again is a no-op.
	if err := m.ExpireSession(ctx, sess.ID, "again"); err != nil {
		t.Fatalf("second expire: %v", err)
	}
}

func TestReleaseClearsSessionBinding(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, m, 1)
	sessA := startSession(t, m, "wA")
	startSession(t, m, "wB")

	item, err := m.ClaimWork(ctx, "wA")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := m.ReleaseWorkItem(ctx, "wA", item.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	after, _, _ := m.GetSessionByWorker(ctx, "wA")
	if after.Status != SessionWaiting || after.CurrentItem != 0 {
		t.Fatalf("release must reset the session binding, got %+v", after)
	}

	// Another worker picks the released item up.
	re, err := m.ClaimWork(ctx, "wB")
	if err != nil || re.ID != item.ID {
		t.Fatalf("expected wB to reclaim item %d, got %+v err=%v", item.ID, re, err)
	}

	// Expiring wA's session later must not pull the item out from under wB.
	if err := m.ExpireSession(ctx, sessA.ID, "timed out"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, _, _ := m.GetWorkItem(ctx, item.ID)
	if got.Status != WorkClaimed || got.ClaimedBy != "wB" {
		t.Fatalf("wB's claim must survive wA's expiry, got %+v", got)
	}
	bSess, _, _ := m.GetSessionByWorker(ctx, "wB")
	if bSess.Status != SessionWorking || bSess.CurrentItem != item.ID {
		t.Fatalf("wB's session must still hold the item, got %+v", bSess)
	}
}

func TestReleaseRefusesForeignItem(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, m, 1)
	startSession(t, m, "wA")
	startSession(t, m, "wB")

	item, err := m.ClaimWork(ctx, "wB")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := m.ReleaseWorkItem(ctx, "wA", item.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state releasing another worker's item, got %v", err)
	}
	got, _, _ := m.GetWorkItem(ctx, item.ID)
	if got.Status != WorkClaimed || got.ClaimedBy != "wB" {
		t.Fatalf("refused release must leave the claim intact, got %+v", got)
	}
	if err := m.ReleaseWorkItem(ctx, "ghost", item.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown worker, got %v", err)
	}
	if err := m.ReleaseWorkItem(ctx, "wB", 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown item, got %v", err)
	}
}

func TestCompleteWorkItemIdempotent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, m, 1)
	startSession(t, m, "w1")

	item, err := m.ClaimWork(ctx, "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := m.CompleteWorkItem(ctx, item.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := m.CompleteWorkItem(ctx, item.ID); err != nil {
		t.Fatalf("completing a completed item must be a no-op, got %v", err)
	}

	if _, err := m.InsertWorkItems(ctx, []WorkItemRecord{{UID: "untouched"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := m.CompleteWorkItem(ctx, item.ID+1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state completing a pending item, got %v", err)
	}
	if err := m.CompleteWorkItem(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSettleSolveIsAtomic(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, m, 1)
	sess := startSession(t, m, "w1")

	item, err := m.ClaimWork(ctx, "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := m.PresentArtifact(ctx, "w1", "ref-1", "solve it"); err != nil {
		t.Fatalf("present: %v", err)
	}
	if err := m.RecordAnswer(ctx, "w1", "8k2p"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	if err := m.SettleSolve(ctx, SettleInput{
		SessionID: sess.ID,
		Solve:     SolveRecord{StoreName: "Some Store"},
		Reward:    100,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	got, _, _ := m.GetWorkItem(ctx, item.ID)
	if got.Status != WorkCompleted {
		t.Fatalf("expected completed item, got %s", got.Status)
	}
	worker, ok, _ := m.GetWorker(ctx, "w1")
	if !ok || worker.Rewards != 100 || worker.SolvedCount != 1 {
		t.Fatalf("expected 100 rewards and 1 solve, got %+v", worker)
	}
	entries, _ := m.ListLedgerEntries(ctx, "w1", 10)
	if len(entries) != 1 || entries[0].Amount != 100 {
		t.Fatalf("expected exactly one +100 ledger entry, got %+v", entries)
	}
	after, _, _ := m.GetSessionByWorker(ctx, "w1")
	if after.Status != SessionWaiting || after.CurrentItem != 0 {
		t.Fatalf("expected session reset to waiting, got %+v", after)
	}

	// Settling again must refuse without touching the ledger.
	err = m.SettleSolve(ctx, SettleInput{SessionID: sess.ID, Reward: 100})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on double settle, got %v", err)
	}
	entries, _ = m.ListLedgerEntries(ctx, "w1", 10)
	if len(entries) != 1 {
		t.Fatalf("double settle must not add ledger entries, got %d", len(entries))
	}
}

func TestLedgerConservationUnderConcurrentSettles(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	const rounds = 20
	seedItems(t, m, rounds)
	sess := startSession(t, m, "w1")

	for i := 0; i < rounds; i++ {
		if _, err := m.ClaimWork(ctx, "w1"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := m.PresentArtifact(ctx, "w1", "ref", ""); err != nil {
			t.Fatalf("present %d: %v", i, err)
		}
		if err := m.RecordAnswer(ctx, "w1", "x"); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if err := m.SettleSolve(ctx, SettleInput{SessionID: sess.ID, Reward: 100}); err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
	}

	worker, _, _ := m.GetWorker(ctx, "w1")
	entries, _ := m.ListLedgerEntries(ctx, "w1", 0)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	if sum != worker.Rewards {
		t.Fatalf("ledger sum %d must equal balance %d", sum, worker.Rewards)
	}
	if worker.Rewards != rounds*100 {
		t.Fatalf("expected balance %d, got %d", rounds*100, worker.Rewards)
	}
}

func TestDebitRefusesNegativeBalance(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.CreditWorker(ctx, "w1", 500, "seed"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.DebitWorker(ctx, "w1", 600, "overdraft"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	entries, _ := m.ListLedgerEntries(ctx, "w1", 0)
	if len(entries) != 1 {
		t.Fatalf("refused debit must not write a ledger entry, got %d entries", len(entries))
	}
}

func TestWithdrawalRejectRefundsExactly(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.CreditWorker(ctx, "w1", 15000, "seed"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	wd, err := m.CreateWithdrawal(ctx, WithdrawalRecord{WorkerID: "w1", Amount: 10000, BankName: "B"})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	if wd.Status != WithdrawalPending {
		t.Fatalf("expected pending, got %s", wd.Status)
	}
	if err := m.ResolveWithdrawal(ctx, wd.ID, false); err != nil {
		t.Fatalf("reject: %v", err)
	}

	worker, _, _ := m.GetWorker(ctx, "w1")
	if worker.Rewards != 15000 {
		t.Fatalf("reject must restore balance, got %d", worker.Rewards)
	}
	entries, _ := m.ListLedgerEntries(ctx, "w1", 0)
	if len(entries) != 3 {
		t.Fatalf("expected seed, debit and refund entries, got %d", len(entries))
	}
	if entries[0].Amount != 10000 || entries[1].Amount != -10000 {
		t.Fatalf("expected refund and debit pair, got %+v", entries)
	}

	if err := m.ResolveWithdrawal(ctx, wd.ID, false); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on double resolve, got %v", err)
	}
}

func TestInsertWorkItemsSkipsDuplicates(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	added, err := m.InsertWorkItems(ctx, []WorkItemRecord{
		{UID: "dup"}, {UID: "dup"}, {UID: "fresh"}, {UID: "  "},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected duplicates and blanks skipped, added %d", added)
	}
	added, err = m.InsertWorkItems(ctx, []WorkItemRecord{{UID: "dup"}})
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if added != 0 {
		t.Fatalf("re-inserting an existing uid must be a no-op, added %d", added)
	}
}

func TestKeywordClaimOrder(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, err := m.InsertKeywords(ctx, []KeywordRecord{
		{Keyword: "low", Priority: 1},
		{Keyword: "high", Priority: 9},
		{Keyword: "mid", Priority: 5},
	})
	if err != nil {
		t.Fatalf("insert keywords: %v", err)
	}

	first, err := m.ClaimKeyword(ctx)
	if err != nil || first.Keyword != "high" {
		t.Fatalf("expected highest priority first, got %+v err=%v", first, err)
	}
	if first.Status != KeywordCollecting {
		t.Fatalf("claimed keyword must be collecting, got %s", first.Status)
	}

	second, err := m.ClaimKeyword(ctx)
	if err != nil || second.Keyword != "mid" {
		t.Fatalf("expected mid next, got %+v err=%v", second, err)
	}

	if err := m.ResetKeyword(ctx, first.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	again, err := m.ClaimKeyword(ctx)
	if err != nil || again.Keyword != "high" {
		t.Fatalf("expected reset keyword claimable again, got %+v err=%v", again, err)
	}
}
