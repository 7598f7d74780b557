// Package agent is the back-office solver loop: it keeps a worker session
// alive, hands CAPTCHAs to the session, waits for the human's answer and
// settles the result with the server.
package agent

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerBaseURL string
	UserID        string
	PollInterval  time.Duration
	AnswerTimeout time.Duration
}

func FromEnv() Config {
	pollMs := getenvInt("CAP_AGENT_POLL_MILLIS", 1500)
	answerSec := getenvInt("CAP_AGENT_ANSWER_TIMEOUT_SECONDS", 240)
	return Config{
		ServerBaseURL: getenv("CAP_SERVER_URL", "http://localhost:8080"),
		UserID:        getenv("CAP_AGENT_USER_ID", "solver-local"),
		PollInterval:  time.Duration(pollMs) * time.Millisecond,
		AnswerTimeout: time.Duration(answerSec) * time.Second,
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
