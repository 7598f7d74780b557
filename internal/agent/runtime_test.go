package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/odong444/cap-api/internal/api"
	"github.com/odong444/cap-api/internal/farm"
	"github.com/odong444/cap-api/internal/state"
	"github.com/odong444/cap-api/pkg/capapi"
)

func TestRuntimeSolvesOneItemEndToEnd(t *testing.T) {
	t.Setenv("CAP_POLL_RATE_LIMIT_PER_MIN", "0")
	t.Setenv("CAP_GLOBAL_POLL_RATE_LIMIT_PER_MIN", "0")
	engine := farm.NewInMemoryEngine()
	if _, err := engine.AddWorkItems([]state.WorkItemRecord{{UID: "store-900"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ts := httptest.NewServer(api.NewServer(engine).Handler())
	defer ts.Close()

	cfg := Config{
		ServerBaseURL: ts.URL,
		UserID:        "w1",
		PollInterval:  10 * time.Millisecond,
		AnswerTimeout: 2 * time.Second,
	}
	rt := NewRuntime(cfg, NewClient(ts.URL), NewStubBrowser())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// Play the human: wait for the CAPTCHA to show up, then answer it.
	answered := false
	for i := 0; i < 200 && !answered; i++ {
		resp, err := http.Get(ts.URL + "/api/session/poll/w1")
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		var poll capapi.PollSessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
			t.Fatalf("decode poll: %v", err)
		}
		resp.Body.Close()
		if poll.Status == state.SessionPresented {
			body := `{"user_id":"w1","answer":"8k2p"}`
			sr, err := http.Post(ts.URL+"/api/session/submit-answer", "application/json", strings.NewReader(body))
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			sr.Body.Close()
			answered = true
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !answered {
		t.Fatalf("captcha never presented")
	}

	// Wait for the settle to land in the ledger.
	settled := false
	for i := 0; i < 200 && !settled; i++ {
		worker, err := engine.Balance("w1")
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if worker.Rewards == farm.DefaultSolveReward {
			settled = true
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !settled {
		t.Fatalf("solve never settled")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runtime: %v", err)
	}
}
