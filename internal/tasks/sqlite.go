package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists scheduled tasks in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the task database at path. An empty
// path uses an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	trigger_at INTEGER,
	trigger_after INTEGER,
	trigger_cron TEXT,
	handler_name TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	next_run INTEGER NOT NULL,
	last_run INTEGER,
	fired_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_run);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate tasks: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, task *ScheduledTask) error {
	if task == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTrigger)
	}

	now := s.now()
	if err := task.Trigger.Validate(now); err != nil {
		return err
	}
	next, _, err := task.Trigger.Next(now)
	if err != nil {
		return err
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = StatusPending
	task.NextRun = next
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tasks (id, session_id, trigger_kind, trigger_at, trigger_after, trigger_cron,
	handler_name, payload, status, next_run, last_run, fired_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, ?, ?)`,
		task.ID, task.SessionID, string(task.Trigger.Kind),
		nullUnix(task.Trigger.At), int64(task.Trigger.After), task.Trigger.CronExpr,
		task.HandlerName, task.Payload, string(task.Status),
		task.NextRun.UnixNano(), task.CreatedAt.UnixNano(), task.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, selectTask+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return task, err
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]*ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+` WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Cancel(ctx context.Context, sessionID, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = ?, updated_at = ?
WHERE id = ? AND session_id = ? AND status = ?`,
		string(StatusCanceled), s.now().UnixNano(), id, sessionID, string(StatusPending))
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish missing from already-terminal.
		var status string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM tasks WHERE id = ? AND session_id = ?`, id, sessionID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, status)
	}
	return nil
}

func (s *SQLiteStore) Due(ctx context.Context, now time.Time) ([]*ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		selectTask+` WHERE status = ? AND next_run <= ? ORDER BY rowid`,
		string(StatusPending), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkFired(ctx context.Context, id string, now time.Time) error {
	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, task.Status)
	}

	status := StatusFired
	nextRun := task.NextRun
	if task.Trigger.Recurring() {
		next, _, err := task.Trigger.Next(now)
		if err != nil {
			return err
		}
		status = StatusPending
		nextRun = next
	}

	// The status = pending guard makes the claim atomic against a racing
	// cancel or a concurrent scheduler.
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = ?, next_run = ?, last_run = ?, fired_count = fired_count + 1, updated_at = ?
WHERE id = ? AND status = ?`,
		string(status), nextRun.UnixNano(), now.UnixNano(), now.UnixNano(),
		id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, id)
	}
	return nil
}

const selectTask = `
SELECT id, session_id, trigger_kind, trigger_at, trigger_after, trigger_cron,
	handler_name, payload, status, next_run, last_run, fired_count, created_at, updated_at
FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*ScheduledTask, error) {
	var (
		task        ScheduledTask
		kind        string
		status      string
		triggerAt   sql.NullInt64
		triggerDur  int64
		nextRun     int64
		lastRun     sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&task.ID, &task.SessionID, &kind, &triggerAt, &triggerDur,
		&task.Trigger.CronExpr, &task.HandlerName, &task.Payload, &status,
		&nextRun, &lastRun, &task.FiredCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.Trigger.Kind = TriggerKind(kind)
	if triggerAt.Valid {
		task.Trigger.At = time.Unix(0, triggerAt.Int64)
	}
	task.Trigger.After = time.Duration(triggerDur)
	task.Status = TaskStatus(status)
	task.NextRun = time.Unix(0, nextRun)
	if lastRun.Valid {
		task.LastRun = time.Unix(0, lastRun.Int64)
	}
	task.CreatedAt = time.Unix(0, createdAt)
	task.UpdatedAt = time.Unix(0, updatedAt)
	return &task, nil
}

func nullUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
