package farm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/odong444/cap-api/internal/observability"
	"github.com/odong444/cap-api/internal/state"
)

// StartSession opens a fresh waiting session for the worker, replacing any
// prior one. A replaced session's claimed item is released by the store in
// the same transaction, so restarts never strand work. Returns the session
// and the number of sessions now active.
func (e *Engine) StartSession(workerID string) (state.SessionRecord, int, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.start_session",
		attribute.String("worker.id", workerID),
	)
	defer span.End()
	if workerID == "" {
		return state.SessionRecord{}, 0, fmt.Errorf("%w: user_id is required", ErrValidation)
	}

	// The cap is a soft limit: the count and the insert are separate store
	// calls, so simultaneous starts can briefly overshoot it.
	active, err := e.store.ListActiveSessions(ctx, time.Now().UTC().Add(-e.sessionTimeout))
	if err != nil {
		return state.SessionRecord{}, 0, err
	}
	others := 0
	for _, s := range active {
		if s.WorkerID != workerID {
			others++
		}
	}
	if others >= e.maxSessions {
		return state.SessionRecord{}, others, ErrSessionCapacity
	}

	session, err := e.store.StartSession(ctx, state.SessionRecord{
		ID:       uuid.NewString(),
		WorkerID: workerID,
	})
	if err != nil {
		return state.SessionRecord{}, 0, err
	}
	observability.Default.IncCounter("farm_sessions_started_total", nil, 1)
	span.SetAttributes(attribute.String("session.id", session.ID))
	return session, others + 1, nil
}

// PollSession reports the worker's current state and, only while a CAPTCHA
// is presented, the artifact payload. A successful poll counts as liveness
// and refreshes last_activity; terminal sessions are returned untouched.
func (e *Engine) PollSession(workerID string) (state.SessionRecord, string, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.poll_session",
		attribute.String("worker.id", workerID),
	)
	defer span.End()
	session, ok, err := e.store.GetSessionByWorker(ctx, workerID)
	if err != nil {
		return state.SessionRecord{}, "", err
	}
	if !ok {
		return state.SessionRecord{}, "", state.ErrNotFound
	}
	if session.Status == state.SessionTimeout || session.Status == state.SessionEnded {
		return session, "", nil
	}
	if err := e.store.TouchSession(ctx, workerID, time.Now().UTC()); err != nil {
		return state.SessionRecord{}, "", err
	}
	payload := ""
	if session.Status == state.SessionPresented && session.ArtifactRef != "" {
		payload, err = e.artifacts.Get(ctx, session.ArtifactRef)
		if err != nil {
			return state.SessionRecord{}, "", err
		}
	}
	return session, payload, nil
}

// SubmitAnswer is only valid while a CAPTCHA is presented.
func (e *Engine) SubmitAnswer(workerID, answer string) error {
	ctx, span := observability.StartSpan(context.Background(), "farm.submit_answer",
		attribute.String("worker.id", workerID),
	)
	defer span.End()
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fmt.Errorf("%w: answer is required", ErrValidation)
	}
	if err := e.store.RecordAnswer(ctx, workerID, answer); err != nil {
		return err
	}
	observability.Default.IncCounter("farm_answers_submitted_total", nil, 1)
	return nil
}

// PresentArtifact attaches a rendered CAPTCHA to the worker's session and
// moves it to captcha_presented.
func (e *Engine) PresentArtifact(workerID, payload, message string) error {
	ctx, span := observability.StartSpan(context.Background(), "farm.present_artifact",
		attribute.String("worker.id", workerID),
	)
	defer span.End()
	if payload == "" {
		return fmt.Errorf("%w: screenshot is required", ErrValidation)
	}
	ref, err := e.artifacts.Put(ctx, workerID, payload)
	if err != nil {
		return err
	}
	if err := e.store.PresentArtifact(ctx, workerID, ref, message); err != nil {
		return err
	}
	observability.Default.IncCounter("farm_artifacts_presented_total", nil, 1)
	return nil
}

// FetchAnswer returns the worker's submitted answer, or nil while none is
// pending. The answer stays on the session until a settle call resolves it.
func (e *Engine) FetchAnswer(workerID string) (*string, error) {
	ctx := context.Background()
	session, ok, err := e.store.GetSessionByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, state.ErrNotFound
	}
	if session.Status != state.SessionAnswered {
		return nil, nil
	}
	answer := session.Answer
	return &answer, nil
}

// SettleSolve settles a verified answer in one atomic unit: solve record
// written, item completed, reward credited, session reset to waiting.
func (e *Engine) SettleSolve(sessionID string, solve state.SolveRecord) (int64, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.settle_solve",
		attribute.String("session.id", sessionID),
	)
	defer span.End()
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	err := e.store.SettleSolve(ctx, state.SettleInput{
		SessionID: sessionID,
		Solve:     solve,
		Reward:    e.solveReward,
	})
	if err != nil {
		return 0, err
	}
	observability.Default.IncCounter("farm_solves_settled_total", nil, 1)
	return e.solveReward, nil
}

// SettleFailure sends a wrong answer back: the session returns to working
// with the same item, cleared answer and artifact, awaiting re-presentation.
func (e *Engine) SettleFailure(sessionID string) error {
	ctx, span := observability.StartSpan(context.Background(), "farm.settle_failure",
		attribute.String("session.id", sessionID),
	)
	defer span.End()
	if err := e.store.SettleFailure(ctx, sessionID); err != nil {
		return err
	}
	observability.Default.IncCounter("farm_solves_retried_total", nil, 1)
	return nil
}

// EndSession terminates the worker's session and releases any held item.
func (e *Engine) EndSession(workerID string) error {
	ctx, span := observability.StartSpan(context.Background(), "farm.end_session",
		attribute.String("worker.id", workerID),
	)
	defer span.End()
	if err := e.store.EndSession(ctx, workerID); err != nil {
		return err
	}
	observability.Default.IncCounter("farm_sessions_ended_total", nil, 1)
	return nil
}

// ForceTimeout expires a session on a collaborator's request, releasing any
// held item exactly as the reaper would. The session is addressed by id when
// one is given (the solver panel times out a specific row), by worker
// otherwise. Expiring an already-terminal session is a no-op.
func (e *Engine) ForceTimeout(sessionID, workerID string) error {
	ctx := context.Background()
	var session state.SessionRecord
	var ok bool
	var err error
	if sessionID != "" {
		session, ok, err = e.store.GetSession(ctx, sessionID)
	} else {
		session, ok, err = e.store.GetSessionByWorker(ctx, workerID)
	}
	if err != nil {
		return err
	}
	if !ok {
		return state.ErrNotFound
	}
	if session.Status == state.SessionTimeout || session.Status == state.SessionEnded {
		return nil
	}
	return e.store.ExpireSession(ctx, session.ID, "no response within the time limit")
}

func (e *Engine) ActiveSessions() ([]state.SessionRecord, error) {
	return e.store.ListActiveSessions(context.Background(), time.Now().UTC().Add(-e.sessionTimeout))
}

func (e *Engine) GetSessionByWorker(workerID string) (state.SessionRecord, bool, error) {
	return e.store.GetSessionByWorker(context.Background(), workerID)
}
