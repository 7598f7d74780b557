package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/odong444/cap-api/internal/farm"
	"github.com/odong444/cap-api/internal/state"
	"github.com/odong444/cap-api/pkg/capapi"
)

func TestAdminLoginAndKeywordManagement(t *testing.T) {
	t.Setenv("CAP_ADMIN_PASSWORD", "hunter2")
	srv := NewServer(farm.NewInMemoryEngine())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// No token: rejected.
	resp, err := http.Get(ts.URL + "/api/admin/keywords")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// Wrong password: rejected.
	body, _ := json.Marshal(capapi.AdminLoginRequest{Password: "wrong"})
	resp, err = http.Post(ts.URL+"/api/admin/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on wrong password, got %d", resp.StatusCode)
	}

	token := adminLogin(t, ts.URL, "hunter2")

	var bulk capapi.BulkAddKeywordsResponse
	doAdminJSON(t, token, http.MethodPost, ts.URL+"/api/admin/keywords/bulk",
		capapi.BulkAddKeywordsRequest{Keywords: "red shoes\nblue hats\n\nred shoes", MaxCount: 50}, &bulk)
	if bulk.Added != 2 {
		t.Fatalf("expected 2 keywords added with duplicate skipped, got %d", bulk.Added)
	}

	var list capapi.KeywordsResponse
	doAdminJSON(t, token, http.MethodGet, ts.URL+"/api/admin/keywords", nil, &list)
	if len(list.Keywords) != 2 {
		t.Fatalf("expected 2 keywords, got %d", len(list.Keywords))
	}
}

func TestAdminProcessWithdrawal(t *testing.T) {
	t.Setenv("CAP_ADMIN_PASSWORD", "hunter2")
	engine := farm.NewInMemoryEngine()
	if err := engine.AdjustRewards("w1", 30000, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := NewServer(engine)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var created capapi.WithdrawResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/withdraw", capapi.WithdrawRequest{
		UserID: "w1", Amount: 10000,
		BankName: "First Bank", AccountNumber: "111", AccountHolder: "W One",
	}, &created)
	if !created.Success {
		t.Fatalf("expected withdrawal created, got %+v", created)
	}

	token := adminLogin(t, ts.URL, "hunter2")

	var ack capapi.Ack
	doAdminJSON(t, token, http.MethodPost,
		ts.URL+"/api/admin/withdrawals/"+strconv.FormatInt(created.WithdrawalID, 10)+"/process",
		capapi.ProcessWithdrawalRequest{Action: "approve"}, &ack)
	if !ack.Success {
		t.Fatalf("expected approval, got %+v", ack)
	}

	// Approval keeps the reservation: balance stays debited.
	var history capapi.RewardsHistoryResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/rewards/history/w1", nil, &history)
	if history.Balance != 20000 {
		t.Fatalf("approve must not change balance, got %d", history.Balance)
	}
}

func TestAdminBulkUpdateSkipsMissingResults(t *testing.T) {
	t.Setenv("CAP_ADMIN_PASSWORD", "hunter2")
	engine := farm.NewInMemoryEngine()
	srv := NewServer(engine)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Settle one solve so there is a result to update.
	if _, err := engine.AddWorkItems([]state.WorkItemRecord{{UID: "store-1"}}); err != nil {
		t.Fatalf("add items: %v", err)
	}
	session, _, err := engine.StartSession("w1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := engine.Claim("w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := engine.PresentArtifact("w1", "img", ""); err != nil {
		t.Fatalf("present: %v", err)
	}
	if err := engine.SubmitAnswer("w1", "8k2p"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := engine.SettleSolve(session.ID, state.SolveRecord{StoreName: "Some Store"}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	solves, err := engine.ListSolves(state.SolveQuery{})
	if err != nil || len(solves) != 1 {
		t.Fatalf("expected one solve, got %d err=%v", len(solves), err)
	}

	token := adminLogin(t, ts.URL, "hunter2")

	used := true
	var bulk capapi.BulkUpdateResultsResponse
	doAdminJSON(t, token, http.MethodPost, ts.URL+"/api/admin/results/bulk-update",
		capapi.BulkUpdateResultsRequest{IDs: []int64{solves[0].ID, 9999}, Used: &used}, &bulk)
	if !bulk.Success || bulk.Updated != 1 {
		t.Fatalf("expected one result updated, got %+v", bulk)
	}
	if len(bulk.NotFound) != 1 || bulk.NotFound[0] != 9999 {
		t.Fatalf("expected 9999 reported missing, got %+v", bulk.NotFound)
	}

	// The known id was applied despite the missing one in the same batch.
	var results capapi.ResultsResponse
	doAdminJSON(t, token, http.MethodGet, ts.URL+"/api/admin/results?used=true", nil, &results)
	if len(results.Results) != 1 || !results.Results[0].Used {
		t.Fatalf("expected the surviving update applied, got %+v", results.Results)
	}
}

func adminLogin(t *testing.T, baseURL, password string) string {
	t.Helper()
	body, _ := json.Marshal(capapi.AdminLoginRequest{Password: password})
	resp, err := http.Post(baseURL+"/api/admin/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with status %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("expected token")
	}
	return out.Token
}

func doAdminJSON(t *testing.T, token, method, url string, reqBody any, respBody any) {
	t.Helper()
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		t.Fatalf("request %s %s failed with status %s", method, url, resp.Status)
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}
