package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/odong444/cap-api/db/migrations"
)

// PostgresStore is the durable Store. Claims rely on FOR UPDATE SKIP LOCKED
// so concurrent claimants neither block each other nor receive the same row,
// and every composite method runs inside one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := p.isMigrationApplied(ctx, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) isMigrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

const workItemColumns = `id, uid, store_name, store_url, keyword, status, claimed_by, created_at`

func (p *PostgresStore) InsertWorkItems(ctx context.Context, items []WorkItemRecord) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	added := 0
	for _, it := range items {
		uid := strings.TrimSpace(it.UID)
		if uid == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO uid_queue (uid, store_name, store_url, keyword)
			 VALUES ($1,$2,$3,$4)
			 ON CONFLICT (uid) DO NOTHING`,
			uid, it.StoreName, it.StoreURL, it.Keyword,
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (p *PostgresStore) ClaimWork(ctx context.Context, workerID string) (WorkItemRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return WorkItemRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT status, current_uid_id FROM work_sessions WHERE worker_id=$1 FOR UPDATE`, workerID,
	).Scan(&status, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkItemRecord{}, ErrNotFound
	}
	if err != nil {
		return WorkItemRecord{}, err
	}
	if status != SessionWaiting || current.Valid {
		return WorkItemRecord{}, ErrInvalidState
	}

	row := tx.QueryRowContext(ctx,
		`UPDATE uid_queue SET status=$1, claimed_by=$2
		 WHERE id = (
			SELECT id FROM uid_queue WHERE status=$3
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+workItemColumns,
		WorkClaimed, workerID, WorkPending,
	)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkItemRecord{}, ErrNoPending
	}
	if err != nil {
		return WorkItemRecord{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE work_sessions SET status=$2, current_uid_id=$3, last_activity=$4 WHERE worker_id=$1`,
		workerID, SessionWorking, item.ID, time.Now().UTC(),
	); err != nil {
		return WorkItemRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return WorkItemRecord{}, err
	}
	return item, nil
}

func (p *PostgresStore) ReleaseWorkItem(ctx context.Context, workerID string, itemID int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT current_uid_id FROM work_sessions WHERE worker_id=$1 FOR UPDATE`, workerID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var itemStatus, claimedBy string
	err = tx.QueryRowContext(ctx,
		`SELECT status, claimed_by FROM uid_queue WHERE id=$1 FOR UPDATE`, itemID,
	).Scan(&itemStatus, &claimedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if itemStatus == WorkClaimed && claimedBy != workerID {
		return ErrInvalidState
	}
	if itemStatus == WorkClaimed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE uid_queue SET status=$2, claimed_by='' WHERE id=$1`,
			itemID, WorkPending,
		); err != nil {
			return err
		}
	}
	if current.Valid && current.Int64 == itemID {
		// Drop the binding too, or a later expiry of this session would
		// release an item the worker no longer owns.
		if _, err := tx.ExecContext(ctx,
			`UPDATE work_sessions
			 SET status=$2, current_uid_id=NULL, artifact_ref='', answer='', last_activity=$3
			 WHERE worker_id=$1`,
			workerID, SessionWaiting, time.Now().UTC(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) CompleteWorkItem(ctx context.Context, itemID int64) error {
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM uid_queue WHERE id=$1`, itemID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	switch status {
	case WorkCompleted:
		return nil
	case WorkPending:
		return ErrInvalidState
	}
	_, err = p.db.ExecContext(ctx,
		`UPDATE uid_queue SET status=$2 WHERE id=$1 AND status=$3`,
		itemID, WorkCompleted, WorkClaimed,
	)
	return err
}

func (p *PostgresStore) GetWorkItem(ctx context.Context, itemID int64) (WorkItemRecord, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM uid_queue WHERE id=$1`, itemID)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkItemRecord{}, false, nil
	}
	if err != nil {
		return WorkItemRecord{}, false, err
	}
	return item, true, nil
}

const sessionColumns = `id, worker_id, status, current_uid_id, artifact_ref, answer, message, last_activity, created_at`

func (p *PostgresStore) StartSession(ctx context.Context, session SessionRecord) (SessionRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return SessionRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var priorItem sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT current_uid_id FROM work_sessions WHERE worker_id=$1 FOR UPDATE`, session.WorkerID,
	).Scan(&priorItem)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, err
	}
	if priorItem.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE uid_queue SET status=$2, claimed_by='' WHERE id=$1 AND status=$3 AND claimed_by=$4`,
			priorItem.Int64, WorkPending, WorkClaimed, session.WorkerID,
		); err != nil {
			return SessionRecord{}, err
		}
	}

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		`INSERT INTO work_sessions (id, worker_id, status, last_activity, created_at)
		 VALUES ($1,$2,$3,$4,$4)
		 ON CONFLICT (worker_id) DO UPDATE SET
			id=EXCLUDED.id,
			status=EXCLUDED.status,
			current_uid_id=NULL,
			artifact_ref='',
			answer='',
			message='',
			last_activity=EXCLUDED.last_activity,
			created_at=EXCLUDED.created_at
		 RETURNING `+sessionColumns,
		session.ID, session.WorkerID, SessionWaiting, now,
	)
	created, err := scanSession(row)
	if err != nil {
		return SessionRecord{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workers (worker_id) VALUES ($1) ON CONFLICT (worker_id) DO NOTHING`, session.WorkerID,
	); err != nil {
		return SessionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return SessionRecord{}, err
	}
	return created, nil
}

func (p *PostgresStore) GetSessionByWorker(ctx context.Context, workerID string) (SessionRecord, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE worker_id=$1`, workerID)
	return sessionOrNotFound(row)
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE id=$1`, sessionID)
	return sessionOrNotFound(row)
}

func sessionOrNotFound(row *sql.Row) (SessionRecord, bool, error) {
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return s, true, nil
}

func (p *PostgresStore) TouchSession(ctx context.Context, workerID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE work_sessions SET last_activity=$2 WHERE worker_id=$1`, workerID, at.UTC(),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) PresentArtifact(ctx context.Context, workerID, artifactRef, message string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE work_sessions
		 SET status=$2, artifact_ref=$3, answer='', message=$4, last_activity=$5
		 WHERE worker_id=$1 AND status IN ($6, $2)`,
		workerID, SessionPresented, artifactRef, message, time.Now().UTC(), SessionWorking,
	)
	if err != nil {
		return err
	}
	return p.affectedOrSessionError(ctx, res, workerID)
}

func (p *PostgresStore) RecordAnswer(ctx context.Context, workerID, answer string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE work_sessions
		 SET status=$2, answer=$3, last_activity=$4
		 WHERE worker_id=$1 AND status=$5`,
		workerID, SessionAnswered, answer, time.Now().UTC(), SessionPresented,
	)
	if err != nil {
		return err
	}
	return p.affectedOrSessionError(ctx, res, workerID)
}

// affectedOrSessionError distinguishes a missing session from one in the
// wrong state after a conditional update touched no rows.
func (p *PostgresStore) affectedOrSessionError(ctx context.Context, res sql.Result, workerID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM work_sessions WHERE worker_id=$1)`, workerID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

func (p *PostgresStore) SettleFailure(ctx context.Context, sessionID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE work_sessions
		 SET status=$2, answer='', artifact_ref='', last_activity=$3
		 WHERE id=$1 AND status=$4`,
		sessionID, SessionWorking, time.Now().UTC(), SessionAnswered,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM work_sessions WHERE id=$1)`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

func (p *PostgresStore) EndSession(ctx context.Context, workerID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT current_uid_id FROM work_sessions WHERE worker_id=$1 FOR UPDATE`, workerID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if current.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE uid_queue SET status=$2, claimed_by='' WHERE id=$1 AND status=$3 AND claimed_by=$4`,
			current.Int64, WorkPending, WorkClaimed, workerID,
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE work_sessions
		 SET status=$2, current_uid_id=NULL, artifact_ref='', answer='', last_activity=$3
		 WHERE worker_id=$1`,
		workerID, SessionEnded, time.Now().UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ListActiveSessions(ctx context.Context, since time.Time) ([]SessionRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions
		 WHERE last_activity >= $1 AND status NOT IN ($2, $3)
		 ORDER BY worker_id`,
		since.UTC(), SessionTimeout, SessionEnded,
	)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (p *PostgresStore) ListExpiredSessions(ctx context.Context, cutoff time.Time) ([]SessionRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions
		 WHERE last_activity < $1 AND status NOT IN ($2, $3)
		 ORDER BY last_activity`,
		cutoff.UTC(), SessionTimeout, SessionEnded,
	)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (p *PostgresStore) ExpireSession(ctx context.Context, sessionID, message string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var workerID, status string
	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT worker_id, status, current_uid_id FROM work_sessions WHERE id=$1 FOR UPDATE`, sessionID,
	).Scan(&workerID, &status, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == SessionTimeout || status == SessionEnded {
		return nil
	}
	if current.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE uid_queue SET status=$2, claimed_by='' WHERE id=$1 AND status=$3 AND claimed_by=$4`,
			current.Int64, WorkPending, WorkClaimed, workerID,
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE work_sessions
		 SET status=$2, current_uid_id=NULL, artifact_ref='', answer='', message=$3
		 WHERE id=$1`,
		sessionID, SessionTimeout, message,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CreditWorker(ctx context.Context, workerID string, amount int64, reason string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := creditInTx(ctx, tx, workerID, amount, reason); err != nil {
		return err
	}
	return tx.Commit()
}

func creditInTx(ctx context.Context, tx *sql.Tx, workerID string, amount int64, reason string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workers (worker_id) VALUES ($1) ON CONFLICT (worker_id) DO NOTHING`, workerID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE workers SET rewards = rewards + $2 WHERE worker_id=$1`, workerID, amount,
	); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO rewards_history (worker_id, amount, reason) VALUES ($1,$2,$3)`,
		workerID, amount, reason,
	)
	return err
}

func (p *PostgresStore) DebitWorker(ctx context.Context, workerID string, amount int64, reason string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := debitInTx(ctx, tx, workerID, amount, reason); err != nil {
		return err
	}
	return tx.Commit()
}

func debitInTx(ctx context.Context, tx *sql.Tx, workerID string, amount int64, reason string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE workers SET rewards = rewards - $2 WHERE worker_id=$1 AND rewards >= $2`,
		workerID, amount,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM workers WHERE worker_id=$1)`, workerID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInsufficientBalance
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO rewards_history (worker_id, amount, reason) VALUES ($1,$2,$3)`,
		workerID, -amount, reason,
	)
	return err
}

func (p *PostgresStore) GetWorker(ctx context.Context, workerID string) (WorkerRecord, bool, error) {
	var w WorkerRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT worker_id, rewards, solved_count, created_at FROM workers WHERE worker_id=$1`, workerID,
	).Scan(&w.WorkerID, &w.Rewards, &w.SolvedCount, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkerRecord{}, false, nil
	}
	if err != nil {
		return WorkerRecord{}, false, err
	}
	return w, true, nil
}

func (p *PostgresStore) ListLedgerEntries(ctx context.Context, workerID string, limit int) ([]LedgerEntryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, worker_id, amount, reason, created_at
		 FROM rewards_history WHERE worker_id=$1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		workerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]LedgerEntryRecord, 0, limit)
	for rows.Next() {
		var e LedgerEntryRecord
		if err := rows.Scan(&e.ID, &e.WorkerID, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SettleSolve(ctx context.Context, in SettleInput) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var workerID, status string
	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT worker_id, status, current_uid_id FROM work_sessions WHERE id=$1 FOR UPDATE`, in.SessionID,
	).Scan(&workerID, &status, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != SessionAnswered || !current.Valid {
		return ErrInvalidState
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE uid_queue SET status=$2 WHERE id=$1 AND status=$3`,
		current.Int64, WorkCompleted, WorkClaimed,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidState
	}

	solve := in.Solve
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO results (uid_id, store_name, seller_name, business_number, representative, phone, email, address, store_url, solved_by, memo)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		current.Int64, solve.StoreName, solve.SellerName, solve.BusinessNumber, solve.Representative,
		solve.Phone, solve.Email, solve.Address, solve.StoreURL, workerID, solve.Memo,
	); err != nil {
		return err
	}

	if err := creditInTx(ctx, tx, workerID, in.Reward, "captcha solve"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE workers SET solved_count = solved_count + 1 WHERE worker_id=$1`, workerID,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE work_sessions
		 SET status=$2, current_uid_id=NULL, artifact_ref='', answer='', message='', last_activity=$3
		 WHERE id=$1`,
		in.SessionID, SessionWaiting, time.Now().UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

const solveColumns = `id, uid_id, store_name, seller_name, business_number, representative, phone, email, address, store_url, solved_by, used, memo, created_at`

func (p *PostgresStore) ListSolves(ctx context.Context, query SolveQuery) ([]SolveRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	where := []string{"1=1"}
	args := make([]any, 0, 4)
	argi := 1
	if query.SolvedBy != "" {
		where = append(where, fmt.Sprintf("solved_by=$%d", argi))
		args = append(args, query.SolvedBy)
		argi++
	}
	if query.Used != nil {
		where = append(where, fmt.Sprintf("used=$%d", argi))
		args = append(args, *query.Used)
		argi++
	}
	args = append(args, limit, offset)
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM results WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		solveColumns, strings.Join(where, " AND "), argi, argi+1,
	), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]SolveRecord, 0, limit)
	for rows.Next() {
		var r SolveRecord
		var uidID sql.NullInt64
		if err := rows.Scan(&r.ID, &uidID, &r.StoreName, &r.SellerName, &r.BusinessNumber, &r.Representative,
			&r.Phone, &r.Email, &r.Address, &r.StoreURL, &r.SolvedBy, &r.Used, &r.Memo, &r.CreatedAt); err != nil {
			return nil, err
		}
		if uidID.Valid {
			r.ItemID = uidID.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateSolve(ctx context.Context, id int64, used *bool, memo *string) error {
	sets := make([]string, 0, 2)
	args := []any{id}
	argi := 2
	if used != nil {
		sets = append(sets, fmt.Sprintf("used=$%d", argi))
		args = append(args, *used)
		argi++
	}
	if memo != nil {
		sets = append(sets, fmt.Sprintf("memo=$%d", argi))
		args = append(args, *memo)
		argi++
	}
	if len(sets) == 0 {
		return nil
	}
	res, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE results SET %s WHERE id=$1`, strings.Join(sets, ", ")), args...,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const withdrawalColumns = `id, worker_id, amount, bank_name, account_number, account_holder, status, created_at`

func (p *PostgresStore) CreateWithdrawal(ctx context.Context, w WithdrawalRecord) (WithdrawalRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return WithdrawalRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()
	if err := debitInTx(ctx, tx, w.WorkerID, w.Amount, "withdrawal request"); err != nil {
		return WithdrawalRecord{}, err
	}
	row := tx.QueryRowContext(ctx,
		`INSERT INTO withdrawals (worker_id, amount, bank_name, account_number, account_holder)
		 VALUES ($1,$2,$3,$4,$5)
		 RETURNING `+withdrawalColumns,
		w.WorkerID, w.Amount, w.BankName, w.AccountNumber, w.AccountHolder,
	)
	created, err := scanWithdrawal(row)
	if err != nil {
		return WithdrawalRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return WithdrawalRecord{}, err
	}
	return created, nil
}

func (p *PostgresStore) ResolveWithdrawal(ctx context.Context, id int64, approve bool) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	row := tx.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id=$1 FOR UPDATE`, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if w.Status != WithdrawalPending {
		return ErrConflict
	}
	next := WithdrawalCompleted
	if !approve {
		if err := creditInTx(ctx, tx, w.WorkerID, w.Amount, "withdrawal refund"); err != nil {
			return err
		}
		next = WithdrawalRejected
	}
	if _, err := tx.ExecContext(ctx, `UPDATE withdrawals SET status=$2 WHERE id=$1`, id, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ListWithdrawals(ctx context.Context, workerID, status string) ([]WithdrawalRecord, error) {
	where := []string{"1=1"}
	args := make([]any, 0, 2)
	argi := 1
	if workerID != "" {
		where = append(where, fmt.Sprintf("worker_id=$%d", argi))
		args = append(args, workerID)
		argi++
	}
	if status != "" {
		where = append(where, fmt.Sprintf("status=$%d", argi))
		args = append(args, status)
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM withdrawals WHERE %s ORDER BY created_at DESC, id DESC`,
		withdrawalColumns, strings.Join(where, " AND "),
	), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]WithdrawalRecord, 0, 32)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const keywordColumns = `id, keyword, is_active, priority, max_count, collected_count, status, created_at`

func (p *PostgresStore) InsertKeywords(ctx context.Context, keywords []KeywordRecord) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	added := 0
	for _, kw := range keywords {
		text := strings.TrimSpace(kw.Keyword)
		if text == "" {
			continue
		}
		maxCount := kw.MaxCount
		if maxCount <= 0 {
			maxCount = 100
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO keywords (keyword, priority, max_count)
			 VALUES ($1,$2,$3)
			 ON CONFLICT (keyword) DO NOTHING`,
			text, kw.Priority, maxCount,
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (p *PostgresStore) ClaimKeyword(ctx context.Context) (KeywordRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE keywords SET status=$1
		 WHERE id = (
			SELECT id FROM keywords
			WHERE status=$2 AND is_active
			ORDER BY priority DESC, created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+keywordColumns,
		KeywordCollecting, KeywordPending,
	)
	kw, err := scanKeyword(row)
	if errors.Is(err, sql.ErrNoRows) {
		return KeywordRecord{}, ErrNoPending
	}
	if err != nil {
		return KeywordRecord{}, err
	}
	return kw, nil
}

func (p *PostgresStore) UpdateKeywordProgress(ctx context.Context, id int64, collected int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE keywords SET collected_count=$2 WHERE id=$1`, id, collected,
	)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

func (p *PostgresStore) CompleteKeyword(ctx context.Context, id int64, collected int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE keywords SET status=$2, collected_count=$3 WHERE id=$1`,
		id, KeywordCompleted, collected,
	)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

func (p *PostgresStore) ResetKeyword(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE keywords SET status=$2, collected_count=0 WHERE id=$1`,
		id, KeywordPending,
	)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

func (p *PostgresStore) ListKeywords(ctx context.Context, activeOnly bool) ([]KeywordRecord, error) {
	q := `SELECT ` + keywordColumns + ` FROM keywords`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY priority DESC, id`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]KeywordRecord, 0, 32)
	for rows.Next() {
		kw, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateKeyword(ctx context.Context, kw KeywordRecord) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE keywords SET keyword=$2, is_active=$3, priority=$4, max_count=$5 WHERE id=$1`,
		kw.ID, kw.Keyword, kw.IsActive, kw.Priority, kw.MaxCount,
	)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

func (p *PostgresStore) DeleteKeyword(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM keywords WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

func (p *PostgresStore) Snapshot(ctx context.Context, activeSince time.Time) (Stats, error) {
	var st Stats
	err := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(1) FROM uid_queue WHERE status=$1),
			(SELECT COUNT(1) FROM uid_queue WHERE status=$2),
			(SELECT COUNT(1) FROM uid_queue WHERE status=$3),
			(SELECT COUNT(1) FROM work_sessions WHERE last_activity >= $4 AND status NOT IN ($5,$6)),
			(SELECT COUNT(1) FROM keywords WHERE status=$1 AND is_active),
			(SELECT COUNT(1) FROM workers)`,
		WorkPending, WorkClaimed, WorkCompleted, activeSince.UTC(), SessionTimeout, SessionEnded,
	).Scan(&st.PendingItems, &st.ClaimedItems, &st.CompletedItems, &st.ActiveSessions, &st.PendingKeywords, &st.TotalWorkers)
	return st, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(s scanner) (WorkItemRecord, error) {
	var it WorkItemRecord
	if err := s.Scan(&it.ID, &it.UID, &it.StoreName, &it.StoreURL, &it.Keyword, &it.Status, &it.ClaimedBy, &it.CreatedAt); err != nil {
		return WorkItemRecord{}, err
	}
	return it, nil
}

func scanSession(s scanner) (SessionRecord, error) {
	var sess SessionRecord
	var current sql.NullInt64
	if err := s.Scan(&sess.ID, &sess.WorkerID, &sess.Status, &current, &sess.ArtifactRef, &sess.Answer, &sess.Message, &sess.LastActivity, &sess.CreatedAt); err != nil {
		return SessionRecord{}, err
	}
	if current.Valid {
		sess.CurrentItem = current.Int64
	}
	return sess, nil
}

func collectSessions(rows *sql.Rows) ([]SessionRecord, error) {
	defer rows.Close()
	out := make([]SessionRecord, 0, 16)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanWithdrawal(s scanner) (WithdrawalRecord, error) {
	var w WithdrawalRecord
	if err := s.Scan(&w.ID, &w.WorkerID, &w.Amount, &w.BankName, &w.AccountNumber, &w.AccountHolder, &w.Status, &w.CreatedAt); err != nil {
		return WithdrawalRecord{}, err
	}
	return w, nil
}

func scanKeyword(s scanner) (KeywordRecord, error) {
	var kw KeywordRecord
	if err := s.Scan(&kw.ID, &kw.Keyword, &kw.IsActive, &kw.Priority, &kw.MaxCount, &kw.CollectedCount, &kw.Status, &kw.CreatedAt); err != nil {
		return KeywordRecord{}, err
	}
	return kw, nil
}

func rowsOrNotFound(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
