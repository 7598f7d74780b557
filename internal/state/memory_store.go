package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps the whole farm state behind one mutex, which makes every
// Store method trivially atomic. It backs tests and single-node deployments.
type MemoryStore struct {
	mu            sync.Mutex
	items         map[int64]WorkItemRecord
	uidIndex      map[string]int64
	nextItemID    int64
	sessions      map[string]SessionRecord // keyed by worker id
	sessionOwner  map[string]string        // session id -> worker id
	workers       map[string]WorkerRecord
	ledger        []LedgerEntryRecord
	nextLedgerID  int64
	withdrawals   map[int64]WithdrawalRecord
	nextWdID      int64
	solves        []SolveRecord
	nextSolveID   int64
	keywords      map[int64]KeywordRecord
	keywordIndex  map[string]int64
	nextKeywordID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:         make(map[int64]WorkItemRecord),
		uidIndex:      make(map[string]int64),
		nextItemID:    1,
		sessions:      make(map[string]SessionRecord),
		sessionOwner:  make(map[string]string),
		workers:       make(map[string]WorkerRecord),
		ledger:        make([]LedgerEntryRecord, 0, 128),
		nextLedgerID:  1,
		withdrawals:   make(map[int64]WithdrawalRecord),
		nextWdID:      1,
		solves:        make([]SolveRecord, 0, 64),
		nextSolveID:   1,
		keywords:      make(map[int64]KeywordRecord),
		keywordIndex:  make(map[string]int64),
		nextKeywordID: 1,
	}
}

func (m *MemoryStore) InsertWorkItems(_ context.Context, items []WorkItemRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	now := time.Now().UTC()
	for _, it := range items {
		uid := strings.TrimSpace(it.UID)
		if uid == "" {
			continue
		}
		if _, dup := m.uidIndex[uid]; dup {
			continue
		}
		it.ID = m.nextItemID
		m.nextItemID++
		it.UID = uid
		it.Status = WorkPending
		it.ClaimedBy = ""
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		m.items[it.ID] = it
		m.uidIndex[uid] = it.ID
		added++
	}
	return added, nil
}

func (m *MemoryStore) ClaimWork(_ context.Context, workerID string) (WorkItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[workerID]
	if !ok {
		return WorkItemRecord{}, ErrNotFound
	}
	if session.Status != SessionWaiting || session.CurrentItem != 0 {
		return WorkItemRecord{}, ErrInvalidState
	}
	best, ok := m.oldestPendingLocked()
	if !ok {
		return WorkItemRecord{}, ErrNoPending
	}
	best.Status = WorkClaimed
	best.ClaimedBy = workerID
	m.items[best.ID] = best

	session.Status = SessionWorking
	session.CurrentItem = best.ID
	session.LastActivity = time.Now().UTC()
	m.sessions[workerID] = session
	return best, nil
}

func (m *MemoryStore) oldestPendingLocked() (WorkItemRecord, bool) {
	var best WorkItemRecord
	found := false
	for _, it := range m.items {
		if it.Status != WorkPending {
			continue
		}
		if !found || it.CreatedAt.Before(best.CreatedAt) || (it.CreatedAt.Equal(best.CreatedAt) && it.ID < best.ID) {
			best = it
			found = true
		}
	}
	return best, found
}

func (m *MemoryStore) ReleaseWorkItem(_ context.Context, workerID string, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[workerID]
	if !ok {
		return ErrNotFound
	}
	it, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	if it.Status == WorkClaimed && it.ClaimedBy != workerID {
		return ErrInvalidState
	}
	m.releaseItemLocked(itemID, workerID)
	if s.CurrentItem == itemID {
		// Drop the binding too, or a later expiry of this session would
		// release an item the worker no longer owns.
		s.Status = SessionWaiting
		s.CurrentItem = 0
		s.ArtifactRef = ""
		s.Answer = ""
		s.LastActivity = time.Now().UTC()
		m.sessions[workerID] = s
	}
	return nil
}

// releaseItemLocked returns an item to pending only while workerID still
// holds the claim; anything else is left untouched.
func (m *MemoryStore) releaseItemLocked(itemID int64, workerID string) {
	it, ok := m.items[itemID]
	if !ok || it.Status != WorkClaimed || it.ClaimedBy != workerID {
		return
	}
	it.Status = WorkPending
	it.ClaimedBy = ""
	m.items[itemID] = it
}

func (m *MemoryStore) CompleteWorkItem(_ context.Context, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	switch it.Status {
	case WorkCompleted:
		return nil
	case WorkClaimed:
		it.Status = WorkCompleted
		m.items[itemID] = it
		return nil
	default:
		return ErrInvalidState
	}
}

func (m *MemoryStore) GetWorkItem(_ context.Context, itemID int64) (WorkItemRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	return it, ok, nil
}

func (m *MemoryStore) StartSession(_ context.Context, session SessionRecord) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if prior, ok := m.sessions[session.WorkerID]; ok {
		// A replaced session must not strand its claimed item.
		if prior.CurrentItem != 0 {
			m.releaseItemLocked(prior.CurrentItem, prior.WorkerID)
		}
		delete(m.sessionOwner, prior.ID)
	}
	session.Status = SessionWaiting
	session.CurrentItem = 0
	session.ArtifactRef = ""
	session.Answer = ""
	session.Message = ""
	session.LastActivity = now
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	m.sessions[session.WorkerID] = session
	m.sessionOwner[session.ID] = session.WorkerID
	m.ensureWorkerLocked(session.WorkerID, now)
	return session, nil
}

func (m *MemoryStore) GetSessionByWorker(_ context.Context, workerID string) (SessionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[workerID]
	return s, ok, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (SessionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	workerID, ok := m.sessionOwner[sessionID]
	if !ok {
		return SessionRecord{}, false, nil
	}
	s, ok := m.sessions[workerID]
	return s, ok, nil
}

func (m *MemoryStore) TouchSession(_ context.Context, workerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[workerID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = at.UTC()
	m.sessions[workerID] = s
	return nil
}

func (m *MemoryStore) PresentArtifact(_ context.Context, workerID, artifactRef, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[workerID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != SessionWorking && s.Status != SessionPresented {
		return ErrInvalidState
	}
	s.Status = SessionPresented
	s.ArtifactRef = artifactRef
	s.Answer = ""
	s.Message = message
	s.LastActivity = time.Now().UTC()
	m.sessions[workerID] = s
	return nil
}

func (m *MemoryStore) RecordAnswer(_ context.Context, workerID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[workerID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != SessionPresented {
		return ErrInvalidState
	}
	s.Status = SessionAnswered
	s.Answer = answer
	s.LastActivity = time.Now().UTC()
	m.sessions[workerID] = s
	return nil
}

func (m *MemoryStore) SettleFailure(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	workerID, ok := m.sessionOwner[sessionID]
	if !ok {
		return ErrNotFound
	}
	s := m.sessions[workerID]
	if s.Status != SessionAnswered {
		return ErrInvalidState
	}
	s.Status = SessionWorking
	s.Answer = ""
	s.ArtifactRef = ""
	s.LastActivity = time.Now().UTC()
	m.sessions[workerID] = s
	return nil
}

func (m *MemoryStore) EndSession(_ context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[workerID]
	if !ok {
		return ErrNotFound
	}
	if s.CurrentItem != 0 {
		m.releaseItemLocked(s.CurrentItem, workerID)
	}
	s.Status = SessionEnded
	s.CurrentItem = 0
	s.ArtifactRef = ""
	s.Answer = ""
	s.LastActivity = time.Now().UTC()
	m.sessions[workerID] = s
	return nil
}

func (m *MemoryStore) ListActiveSessions(_ context.Context, since time.Time) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Status == SessionTimeout || s.Status == SessionEnded {
			continue
		}
		if s.LastActivity.Before(since) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (m *MemoryStore) ListExpiredSessions(_ context.Context, cutoff time.Time) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, 0)
	for _, s := range m.sessions {
		if s.Status == SessionTimeout || s.Status == SessionEnded {
			continue
		}
		if s.LastActivity.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (m *MemoryStore) ExpireSession(_ context.Context, sessionID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	workerID, ok := m.sessionOwner[sessionID]
	if !ok {
		return ErrNotFound
	}
	s := m.sessions[workerID]
	if s.Status == SessionTimeout || s.Status == SessionEnded {
		return nil
	}
	if s.CurrentItem != 0 {
		m.releaseItemLocked(s.CurrentItem, workerID)
	}
	s.Status = SessionTimeout
	s.CurrentItem = 0
	s.ArtifactRef = ""
	s.Answer = ""
	s.Message = message
	m.sessions[workerID] = s
	return nil
}

func (m *MemoryStore) ensureWorkerLocked(workerID string, now time.Time) WorkerRecord {
	w, ok := m.workers[workerID]
	if !ok {
		w = WorkerRecord{WorkerID: workerID, CreatedAt: now}
		m.workers[workerID] = w
	}
	return w
}

func (m *MemoryStore) appendLedgerLocked(workerID string, amount int64, reason string, now time.Time) {
	m.ledger = append(m.ledger, LedgerEntryRecord{
		ID:        m.nextLedgerID,
		WorkerID:  workerID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: now,
	})
	m.nextLedgerID++
}

func (m *MemoryStore) CreditWorker(_ context.Context, workerID string, amount int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	w := m.ensureWorkerLocked(workerID, now)
	w.Rewards += amount
	m.workers[workerID] = w
	m.appendLedgerLocked(workerID, amount, reason, now)
	return nil
}

func (m *MemoryStore) DebitWorker(_ context.Context, workerID string, amount int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return ErrNotFound
	}
	if w.Rewards < amount {
		return ErrInsufficientBalance
	}
	now := time.Now().UTC()
	w.Rewards -= amount
	m.workers[workerID] = w
	m.appendLedgerLocked(workerID, -amount, reason, now)
	return nil
}

func (m *MemoryStore) GetWorker(_ context.Context, workerID string) (WorkerRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	return w, ok, nil
}

func (m *MemoryStore) ListLedgerEntries(_ context.Context, workerID string, limit int) ([]LedgerEntryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LedgerEntryRecord, 0, 32)
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].WorkerID != workerID {
			continue
		}
		out = append(out, m.ledger[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) SettleSolve(_ context.Context, in SettleInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	workerID, ok := m.sessionOwner[in.SessionID]
	if !ok {
		return ErrNotFound
	}
	s := m.sessions[workerID]
	if s.Status != SessionAnswered {
		return ErrInvalidState
	}
	if s.CurrentItem == 0 {
		return ErrInvalidState
	}
	it, ok := m.items[s.CurrentItem]
	if !ok {
		return ErrNotFound
	}
	if it.Status != WorkClaimed {
		return ErrInvalidState
	}
	now := time.Now().UTC()

	it.Status = WorkCompleted
	m.items[it.ID] = it

	solve := in.Solve
	solve.ID = m.nextSolveID
	m.nextSolveID++
	solve.ItemID = it.ID
	solve.SolvedBy = workerID
	solve.CreatedAt = now
	m.solves = append(m.solves, solve)

	w := m.ensureWorkerLocked(workerID, now)
	w.Rewards += in.Reward
	w.SolvedCount++
	m.workers[workerID] = w
	m.appendLedgerLocked(workerID, in.Reward, "captcha solve", now)

	s.Status = SessionWaiting
	s.CurrentItem = 0
	s.ArtifactRef = ""
	s.Answer = ""
	s.Message = ""
	s.LastActivity = now
	m.sessions[workerID] = s
	return nil
}

func (m *MemoryStore) ListSolves(_ context.Context, query SolveQuery) ([]SolveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filtered := make([]SolveRecord, 0, len(m.solves))
	for i := len(m.solves) - 1; i >= 0; i-- {
		r := m.solves[i]
		if query.SolvedBy != "" && r.SolvedBy != query.SolvedBy {
			continue
		}
		if query.Used != nil && r.Used != *query.Used {
			continue
		}
		filtered = append(filtered, r)
	}
	offset := query.Offset
	if offset > len(filtered) {
		offset = len(filtered)
	}
	filtered = filtered[offset:]
	if query.Limit > 0 && query.Limit < len(filtered) {
		filtered = filtered[:query.Limit]
	}
	return filtered, nil
}

func (m *MemoryStore) UpdateSolve(_ context.Context, id int64, used *bool, memo *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.solves {
		if m.solves[i].ID != id {
			continue
		}
		if used != nil {
			m.solves[i].Used = *used
		}
		if memo != nil {
			m.solves[i].Memo = *memo
		}
		return nil
	}
	return ErrNotFound
}

func (m *MemoryStore) CreateWithdrawal(_ context.Context, w WithdrawalRecord) (WithdrawalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	worker, ok := m.workers[w.WorkerID]
	if !ok {
		return WithdrawalRecord{}, ErrNotFound
	}
	if worker.Rewards < w.Amount {
		return WithdrawalRecord{}, ErrInsufficientBalance
	}
	now := time.Now().UTC()
	worker.Rewards -= w.Amount
	m.workers[w.WorkerID] = worker
	m.appendLedgerLocked(w.WorkerID, -w.Amount, "withdrawal request", now)

	w.ID = m.nextWdID
	m.nextWdID++
	w.Status = WithdrawalPending
	w.CreatedAt = now
	m.withdrawals[w.ID] = w
	return w, nil
}

func (m *MemoryStore) ResolveWithdrawal(_ context.Context, id int64, approve bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return ErrNotFound
	}
	if w.Status != WithdrawalPending {
		return ErrConflict
	}
	now := time.Now().UTC()
	if approve {
		w.Status = WithdrawalCompleted
	} else {
		worker := m.ensureWorkerLocked(w.WorkerID, now)
		worker.Rewards += w.Amount
		m.workers[w.WorkerID] = worker
		m.appendLedgerLocked(w.WorkerID, w.Amount, "withdrawal refund", now)
		w.Status = WithdrawalRejected
	}
	m.withdrawals[id] = w
	return nil
}

func (m *MemoryStore) ListWithdrawals(_ context.Context, workerID, status string) ([]WithdrawalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WithdrawalRecord, 0, len(m.withdrawals))
	for _, w := range m.withdrawals {
		if workerID != "" && w.WorkerID != workerID {
			continue
		}
		if status != "" && w.Status != status {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) InsertKeywords(_ context.Context, keywords []KeywordRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	now := time.Now().UTC()
	for _, kw := range keywords {
		text := strings.TrimSpace(kw.Keyword)
		if text == "" {
			continue
		}
		if _, dup := m.keywordIndex[text]; dup {
			continue
		}
		kw.ID = m.nextKeywordID
		m.nextKeywordID++
		kw.Keyword = text
		kw.IsActive = true
		kw.Status = KeywordPending
		kw.CollectedCount = 0
		if kw.MaxCount <= 0 {
			kw.MaxCount = 100
		}
		if kw.CreatedAt.IsZero() {
			kw.CreatedAt = now
		}
		m.keywords[kw.ID] = kw
		m.keywordIndex[text] = kw.ID
		added++
	}
	return added, nil
}

func (m *MemoryStore) ClaimKeyword(_ context.Context) (KeywordRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best KeywordRecord
	found := false
	for _, kw := range m.keywords {
		if kw.Status != KeywordPending || !kw.IsActive {
			continue
		}
		if !found {
			best = kw
			found = true
			continue
		}
		if kw.Priority > best.Priority ||
			(kw.Priority == best.Priority && kw.CreatedAt.Before(best.CreatedAt)) ||
			(kw.Priority == best.Priority && kw.CreatedAt.Equal(best.CreatedAt) && kw.ID < best.ID) {
			best = kw
		}
	}
	if !found {
		return KeywordRecord{}, ErrNoPending
	}
	best.Status = KeywordCollecting
	m.keywords[best.ID] = best
	return best, nil
}

func (m *MemoryStore) UpdateKeywordProgress(_ context.Context, id int64, collected int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw, ok := m.keywords[id]
	if !ok {
		return ErrNotFound
	}
	kw.CollectedCount = collected
	m.keywords[id] = kw
	return nil
}

func (m *MemoryStore) CompleteKeyword(_ context.Context, id int64, collected int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw, ok := m.keywords[id]
	if !ok {
		return ErrNotFound
	}
	if kw.Status == KeywordCompleted {
		return nil
	}
	kw.Status = KeywordCompleted
	kw.CollectedCount = collected
	m.keywords[id] = kw
	return nil
}

func (m *MemoryStore) ResetKeyword(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw, ok := m.keywords[id]
	if !ok {
		return ErrNotFound
	}
	kw.Status = KeywordPending
	kw.CollectedCount = 0
	m.keywords[id] = kw
	return nil
}

func (m *MemoryStore) ListKeywords(_ context.Context, activeOnly bool) ([]KeywordRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KeywordRecord, 0, len(m.keywords))
	for _, kw := range m.keywords {
		if activeOnly && !kw.IsActive {
			continue
		}
		out = append(out, kw)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateKeyword(_ context.Context, kw KeywordRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.keywords[kw.ID]
	if !ok {
		return ErrNotFound
	}
	if kw.Keyword != "" && kw.Keyword != existing.Keyword {
		if _, dup := m.keywordIndex[kw.Keyword]; dup {
			return ErrConflict
		}
		delete(m.keywordIndex, existing.Keyword)
		existing.Keyword = kw.Keyword
		m.keywordIndex[existing.Keyword] = existing.ID
	}
	existing.IsActive = kw.IsActive
	existing.Priority = kw.Priority
	if kw.MaxCount > 0 {
		existing.MaxCount = kw.MaxCount
	}
	m.keywords[existing.ID] = existing
	return nil
}

func (m *MemoryStore) DeleteKeyword(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw, ok := m.keywords[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.keywordIndex, kw.Keyword)
	delete(m.keywords, id)
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context, activeSince time.Time) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, it := range m.items {
		switch it.Status {
		case WorkPending:
			st.PendingItems++
		case WorkClaimed:
			st.ClaimedItems++
		case WorkCompleted:
			st.CompletedItems++
		}
	}
	for _, s := range m.sessions {
		if s.Status == SessionTimeout || s.Status == SessionEnded {
			continue
		}
		if s.LastActivity.Before(activeSince) {
			continue
		}
		st.ActiveSessions++
	}
	for _, kw := range m.keywords {
		if kw.Status == KeywordPending && kw.IsActive {
			st.PendingKeywords++
		}
	}
	st.TotalWorkers = len(m.workers)
	return st, nil
}
