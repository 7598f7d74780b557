package farm

import (
	"context"
	"log"
	"time"

	"github.com/odong444/cap-api/internal/observability"
)

// ReapExpired sweeps sessions idle past the timeout window, marks each
// timeout and releases its held item back to pending. Each session expires
// in its own transaction so one failure cannot strand the rest.
func (e *Engine) ReapExpired() (int, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.reap_expired")
	defer span.End()
	cutoff := time.Now().UTC().Add(-e.sessionTimeout)
	expired, err := e.store.ListExpiredSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, session := range expired {
		if err := e.store.ExpireSession(ctx, session.ID, "no response within the time limit"); err != nil {
			log.Printf("reaper: expire session %s (worker %s): %v", session.ID, session.WorkerID, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		observability.Default.IncCounter("farm_sessions_reaped_total", nil, float64(reaped))
	}
	return reaped, nil
}

// RunReaper sweeps periodically until the context is canceled.
func (e *Engine) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.ReapExpired(); err != nil {
				log.Printf("reaper: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("reaper: expired %d idle session(s)", n)
			}
		}
	}
}
