package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/odong444/cap-api/internal/farm"
	"github.com/odong444/cap-api/internal/state"
	"github.com/odong444/cap-api/pkg/capapi"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := NewServer(farm.NewInMemoryEngine())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestEndToEndSolveFlow(t *testing.T) {
	ts := newTestServer(t)

	add := capapi.AddUIDsRequest{UIDs: []capapi.AddUIDItem{
		{UID: "store-100", StoreName: "Some Store"},
		{UID: "store-101"},
	}}
	var addResp capapi.AddUIDsResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/worker/add-uids", add, &addResp)
	if !addResp.Success || addResp.Added != 2 {
		t.Fatalf("expected 2 uids added, got %+v", addResp)
	}

	var started capapi.StartSessionResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/session/start", capapi.StartSessionRequest{UserID: "w1"}, &started)
	if !started.Success || started.SessionID == "" {
		t.Fatalf("expected session start, got %+v", started)
	}

	var claimed capapi.PendingUIDResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/worker/get-pending-uid?user_id=w1", nil, &claimed)
	if !claimed.Success || claimed.UID == nil {
		t.Fatalf("expected claimed uid, got %+v", claimed)
	}
	if claimed.UID.UID != "store-100" {
		t.Fatalf("expected oldest uid first, got %s", claimed.UID.UID)
	}
	if claimed.UID.Status != state.WorkClaimed {
		t.Fatalf("expected claimed status, got %s", claimed.UID.Status)
	}

	screenshot := capapi.UpdateScreenshotRequest{
		UserID:     "w1",
		Screenshot: "base64-captcha-bytes",
		Message:    "solve this",
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/worker/update-screenshot", screenshot, nil)

	var poll capapi.PollSessionResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/session/poll/w1", nil, &poll)
	if poll.Status != state.SessionPresented {
		t.Fatalf("expected captcha_presented, got %s", poll.Status)
	}
	if poll.Screenshot != "base64-captcha-bytes" {
		t.Fatalf("expected artifact payload in poll, got %q", poll.Screenshot)
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/session/submit-answer",
		capapi.SubmitAnswerRequest{UserID: "w1", Answer: "8k2p"}, nil)

	var check capapi.CheckAnswerResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/worker/check-answer/w1", nil, &check)
	if check.Answer == nil || *check.Answer != "8k2p" {
		t.Fatalf("expected pending answer 8k2p, got %+v", check.Answer)
	}

	complete := capapi.CompleteUIDRequest{
		SessionID:  started.SessionID,
		UserID:     "w1",
		SellerInfo: capapi.SellerInfo{StoreName: "Some Store", SellerName: "Seller Co"},
	}
	var completed capapi.CompleteUIDResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/worker/complete-uid", complete, &completed)
	if !completed.Success || completed.Reward != farm.DefaultSolveReward {
		t.Fatalf("expected reward %d, got %+v", farm.DefaultSolveReward, completed)
	}

	var history capapi.RewardsHistoryResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/rewards/history/w1", nil, &history)
	if history.Balance != farm.DefaultSolveReward {
		t.Fatalf("expected balance %d, got %d", farm.DefaultSolveReward, history.Balance)
	}
	if len(history.History) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(history.History))
	}

	// Session is back in waiting, ready for the next item.
	doJSON(t, http.MethodGet, ts.URL+"/api/session/poll/w1", nil, &poll)
	if poll.Status != state.SessionWaiting {
		t.Fatalf("expected waiting after settle, got %s", poll.Status)
	}
}

func TestClaimWithEmptyQueueIsRefusedNotErrored(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/session/start",
		capapi.StartSessionRequest{UserID: "w1"}, nil)

	var resp capapi.PendingUIDResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/worker/get-pending-uid?user_id=w1", nil, &resp)
	if resp.Success {
		t.Fatalf("expected refusal on empty queue, got %+v", resp)
	}
	if resp.UID != nil {
		t.Fatalf("expected no uid on empty queue")
	}
}

func TestSubmitAnswerRequiresPresentedState(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/session/start",
		capapi.StartSessionRequest{UserID: "w1"}, nil)

	var ack capapi.Ack
	doJSON(t, http.MethodPost, ts.URL+"/api/session/submit-answer",
		capapi.SubmitAnswerRequest{UserID: "w1", Answer: "abcd"}, &ack)
	if ack.Success {
		t.Fatalf("expected invalid-state refusal, got %+v", ack)
	}
}

func TestReleasedUIDSurvivesOldSessionTimeout(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/worker/add-uids",
		capapi.AddUIDsRequest{UIDs: []capapi.AddUIDItem{{UID: "store-200"}}}, nil)

	var startedA capapi.StartSessionResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/session/start",
		capapi.StartSessionRequest{UserID: "wA"}, &startedA)
	doJSON(t, http.MethodPost, ts.URL+"/api/session/start",
		capapi.StartSessionRequest{UserID: "wB"}, nil)

	var claimed capapi.PendingUIDResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/worker/get-pending-uid?user_id=wA", nil, &claimed)
	if !claimed.Success || claimed.UID == nil {
		t.Fatalf("expected wA claim, got %+v", claimed)
	}

	// wA's browser dies; the agent gives the uid back.
	doJSON(t, http.MethodPost, ts.URL+"/api/worker/release-uid",
		capapi.ReleaseUIDRequest{UserID: "wA", UIDID: claimed.UID.ID}, nil)

	var reclaimed capapi.PendingUIDResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/worker/get-pending-uid?user_id=wB", nil, &reclaimed)
	if !reclaimed.Success || reclaimed.UID == nil || reclaimed.UID.ID != claimed.UID.ID {
		t.Fatalf("expected wB to reclaim uid %d, got %+v", claimed.UID.ID, reclaimed)
	}

	// Timing out wA's original session must not touch wB's claim.
	doJSON(t, http.MethodPost, ts.URL+"/api/worker/session-timeout",
		capapi.SessionTimeoutRequest{SessionID: startedA.SessionID}, nil)

	var sessions capapi.ActiveSessionsResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/worker/active-sessions", nil, &sessions)
	for _, info := range sessions.Sessions {
		if info.UserID == "wA" {
			t.Fatalf("wA's session should be timed out, got %+v", info)
		}
		if info.UserID == "wB" && (info.Status != state.SessionWorking || info.UIDID != claimed.UID.ID) {
			t.Fatalf("wB must still hold uid %d, got %+v", claimed.UID.ID, info)
		}
	}

	// And the uid stays claimed rather than falling back to pending.
	var third capapi.PendingUIDResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/worker/get-pending-uid?user_id=wA", nil, &third)
	if third.Success {
		t.Fatalf("uid must remain claimed by wB, got %+v", third)
	}
}

func TestSessionCapacity(t *testing.T) {
	ts := newTestServer(t)

	for i, id := range []string{"w1", "w2", "w3", "w4"} {
		var resp capapi.StartSessionResponse
		doJSON(t, http.MethodPost, ts.URL+"/api/session/start",
			capapi.StartSessionRequest{UserID: id}, &resp)
		if !resp.Success {
			t.Fatalf("expected session %d to start, got %+v", i, resp)
		}
	}

	var full capapi.StartSessionResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/session/start",
		capapi.StartSessionRequest{UserID: "w5"}, &full)
	if full.Success {
		t.Fatalf("expected capacity refusal for fifth worker")
	}

	// Restarting an existing worker's session does not count against capacity.
	var restart capapi.StartSessionResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/session/start",
		capapi.StartSessionRequest{UserID: "w2"}, &restart)
	if !restart.Success {
		t.Fatalf("expected restart to succeed, got %+v", restart)
	}
}

func doJSON(t *testing.T, method, url string, reqBody any, respBody any) {
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
