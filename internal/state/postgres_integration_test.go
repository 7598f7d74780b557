package state

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreIntegrationClaimAndSettle(t *testing.T) {
	dsn := os.Getenv("CAP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set CAP_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}

	ctx := context.Background()
	stamp := time.Now().UTC().Format("20060102150405")
	workerID := "w-int-" + stamp
	uid := "uid-int-" + stamp

	added, err := store.InsertWorkItems(ctx, []WorkItemRecord{{UID: uid, StoreName: "Integration Store"}})
	if err != nil {
		t.Fatalf("insert items: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 item added, got %d", added)
	}
	// Duplicate insert is a benign no-op.
	added, err = store.InsertWorkItems(ctx, []WorkItemRecord{{UID: uid}})
	if err != nil || added != 0 {
		t.Fatalf("expected duplicate skipped, added=%d err=%v", added, err)
	}

	sess, err := store.StartSession(ctx, SessionRecord{ID: fmt.Sprintf("sess-int-%s", stamp), WorkerID: workerID})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	item, err := store.ClaimWork(ctx, workerID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if item.ClaimedBy != workerID || item.Status != WorkClaimed {
		t.Fatalf("unexpected claim row: %+v", item)
	}

	if err := store.PresentArtifact(ctx, workerID, "ref-int", "solve"); err != nil {
		t.Fatalf("present: %v", err)
	}
	if err := store.RecordAnswer(ctx, workerID, "abcd"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := store.SettleSolve(ctx, SettleInput{
		SessionID: sess.ID,
		Solve:     SolveRecord{StoreName: "Integration Store", SellerName: "Seller"},
		Reward:    100,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	worker, ok, err := store.GetWorker(ctx, workerID)
	if err != nil || !ok {
		t.Fatalf("get worker: ok=%v err=%v", ok, err)
	}
	if worker.Rewards != 100 || worker.SolvedCount != 1 {
		t.Fatalf("unexpected worker row after settle: %+v", worker)
	}

	got, ok, err := store.GetWorkItem(ctx, item.ID)
	if err != nil || !ok {
		t.Fatalf("get item: ok=%v err=%v", ok, err)
	}
	if got.Status != WorkCompleted {
		t.Fatalf("expected completed item, got %s", got.Status)
	}
}
