package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/odong444/cap-api/internal/farm"
	"github.com/odong444/cap-api/internal/state"
	"github.com/odong444/cap-api/pkg/capapi"
)

func newFundedServer(t *testing.T, workerID string, balance int64) (*httptest.Server, *farm.Engine) {
	t.Helper()
	engine := farm.NewInMemoryEngine()
	if err := engine.AdjustRewards(workerID, balance, "seed"); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	srv := NewServer(engine)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, engine
}

func TestWithdrawBelowMinimumRefused(t *testing.T) {
	ts, _ := newFundedServer(t, "w1", 50000)

	var resp capapi.WithdrawResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/withdraw", capapi.WithdrawRequest{
		UserID:        "w1",
		Amount:        500,
		BankName:      "First Bank",
		AccountNumber: "111-222",
		AccountHolder: "W One",
	}, &resp)
	if resp.Success {
		t.Fatalf("expected below-minimum refusal, got %+v", resp)
	}

	var history capapi.RewardsHistoryResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/rewards/history/w1", nil, &history)
	if history.Balance != 50000 {
		t.Fatalf("refused withdrawal must not touch balance, got %d", history.Balance)
	}
}

func TestWithdrawInsufficientBalanceRefused(t *testing.T) {
	ts, _ := newFundedServer(t, "w1", 5000)

	var resp capapi.WithdrawResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/withdraw", capapi.WithdrawRequest{
		UserID:        "w1",
		Amount:        10000,
		BankName:      "First Bank",
		AccountNumber: "111-222",
		AccountHolder: "W One",
	}, &resp)
	if resp.Success {
		t.Fatalf("expected insufficient-balance refusal, got %+v", resp)
	}
}

func TestWithdrawRejectRoundTrip(t *testing.T) {
	ts, engine := newFundedServer(t, "w1", 30000)

	var resp capapi.WithdrawResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/withdraw", capapi.WithdrawRequest{
		UserID:        "w1",
		Amount:        10000,
		BankName:      "First Bank",
		AccountNumber: "111-222",
		AccountHolder: "W One",
	}, &resp)
	if !resp.Success || resp.WithdrawalID == 0 {
		t.Fatalf("expected withdrawal created, got %+v", resp)
	}

	var afterRequest capapi.RewardsHistoryResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/rewards/history/w1", nil, &afterRequest)
	if afterRequest.Balance != 20000 {
		t.Fatalf("expected funds reserved at request time, balance %d", afterRequest.Balance)
	}

	if err := engine.ResolveWithdrawal(resp.WithdrawalID, "reject"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	var afterReject capapi.RewardsHistoryResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/rewards/history/w1", nil, &afterReject)
	if afterReject.Balance != 30000 {
		t.Fatalf("reject must refund in full, balance %d", afterReject.Balance)
	}

	// Resolving again must not double-refund.
	if err := engine.ResolveWithdrawal(resp.WithdrawalID, "reject"); !errors.Is(err, state.ErrConflict) {
		t.Fatalf("expected conflict on second resolve, got %v", err)
	}

	var list capapi.WithdrawalsResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/withdrawals/w1", nil, &list)
	if len(list.Withdrawals) != 1 || list.Withdrawals[0].Status != state.WithdrawalRejected {
		t.Fatalf("expected one rejected withdrawal, got %+v", list.Withdrawals)
	}
}
