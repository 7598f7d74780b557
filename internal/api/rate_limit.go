package api

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pollLimiter bounds how hard workers may hammer the poll endpoints. Limits
// are per worker and global over a sliding one-minute window; zero disables
// the respective limit.
type pollLimiter struct {
	mu           sync.Mutex
	perWorkerMax int
	globalMax    int
	window       time.Duration
	workers      map[string][]int64
	global       []int64
}

func newPollLimiterFromEnv() *pollLimiter {
	perWorker := getenvIntRL("CAP_POLL_RATE_LIMIT_PER_MIN", 120)
	global := getenvIntRL("CAP_GLOBAL_POLL_RATE_LIMIT_PER_MIN", 2000)
	if perWorker < 0 {
		perWorker = 0
	}
	if global < 0 {
		global = 0
	}
	return &pollLimiter{
		perWorkerMax: perWorker,
		globalMax:    global,
		window:       time.Minute,
		workers:      map[string][]int64{},
		global:       make([]int64, 0, 1024),
	}
}

func (l *pollLimiter) allow(workerID string, now time.Time) bool {
	if l == nil || (l.perWorkerMax == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UTC().Unix()
	cutoff := ts - int64(l.window.Seconds())
	if workerID == "" {
		workerID = "default"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}

	history := trimCutoff(l.workers[workerID], cutoff)
	if l.perWorkerMax > 0 && len(history) >= l.perWorkerMax {
		l.workers[workerID] = history
		return false
	}

	history = append(history, ts)
	l.workers[workerID] = history
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func getenvIntRL(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
