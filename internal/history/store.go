package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrRecordNotFound is returned for lookups of unknown task ids.
var ErrRecordNotFound = errors.New("task record not found")

// Recorder is the narrow interface sessions write through. The full Store
// additionally serves reads and maintenance for the API layer.
type Recorder interface {
	CreateRecord(ctx context.Context, platform string, settingsSnapshot json.RawMessage) (TaskRecord, error)
	AppendVideoRecord(ctx context.Context, taskID string, v VideoRecord) error
	Finalize(ctx context.Context, taskID string, status Status, errMessage string) error
}

const historySchema = `
CREATE TABLE IF NOT EXISTS task_records (
    id                TEXT PRIMARY KEY,
    platform          TEXT NOT NULL,
    status            TEXT NOT NULL,
    settings_snapshot TEXT NOT NULL,
    comment_count     INTEGER NOT NULL DEFAULT 0,
    error_message     TEXT NOT NULL DEFAULT '',
    started_at        TIMESTAMP NOT NULL,
    finished_at       TIMESTAMP
);
CREATE TABLE IF NOT EXISTS video_records (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id       TEXT NOT NULL REFERENCES task_records(id) ON DELETE CASCADE,
    item_id       TEXT NOT NULL,
    author_name   TEXT NOT NULL,
    description   TEXT NOT NULL,
    tags          TEXT NOT NULL DEFAULT '[]',
    watch_ms      INTEGER NOT NULL DEFAULT 0,
    action        TEXT NOT NULL,
    detail        TEXT NOT NULL DEFAULT '',
    matched_group TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_video_records_task ON video_records(task_id);`

// Store persists task history in sqlite.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore creates the history store and ensures its schema exists.
func NewStore(db *sqlx.DB, logger *zap.Logger) (*Store, error) {
	if _, err := db.Exec(historySchema); err != nil {
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// CreateRecord opens a new running task record and returns it.
func (s *Store) CreateRecord(ctx context.Context, platform string, settingsSnapshot json.RawMessage) (TaskRecord, error) {
	if len(settingsSnapshot) == 0 {
		settingsSnapshot = json.RawMessage(`{}`)
	}
	rec := TaskRecord{
		ID:               uuid.New().String(),
		Platform:         platform,
		Status:           StatusRunning,
		SettingsSnapshot: settingsSnapshot,
		StartedAt:        time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO task_records (id, platform, status, settings_snapshot, comment_count, error_message, started_at)
        VALUES (?, ?, ?, ?, 0, '', ?)`,
		rec.ID, rec.Platform, rec.Status, string(rec.SettingsSnapshot), rec.StartedAt)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("create task record: %w", err)
	}
	s.logger.Info("Task record created",
		zap.String("task_id", rec.ID),
		zap.String("platform", platform))
	return rec, nil
}

// AppendVideoRecord attaches one processed item to a task. A commented
// record also bumps the task's trailing comment counter.
func (s *Store) AppendVideoRecord(ctx context.Context, taskID string, v VideoRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO video_records (task_id, item_id, author_name, description, tags, watch_ms, action, detail, matched_group, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, v.ItemID, v.AuthorName, v.Description, v.Tags, v.WatchMS, v.Action, v.Detail, v.MatchedGroup, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append video record: %w", err)
	}
	if v.Action == ActionCommented {
		if _, err := tx.ExecContext(ctx,
			`UPDATE task_records SET comment_count = comment_count + 1 WHERE id = ?`, taskID); err != nil {
			return fmt.Errorf("bump comment count: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Finalize closes a running task record with a terminal status. Finalizing
// an already finalized record is a no-op so stop racing with natural
// completion stays safe.
func (s *Store) Finalize(ctx context.Context, taskID string, status Status, errMessage string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE task_records SET status = ?, error_message = ?, finished_at = ?
        WHERE id = ? AND status = ?`,
		status, errMessage, time.Now().UTC(), taskID, StatusRunning)
	if err != nil {
		return fmt.Errorf("finalize task record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("Finalize skipped, record not running", zap.String("task_id", taskID))
	}
	return nil
}

// GetRecord returns one task record with its full per-item trail.
func (s *Store) GetRecord(ctx context.Context, taskID string) (TaskRecord, error) {
	var rec TaskRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM task_records WHERE id = ?`, taskID)
	if err == sql.ErrNoRows {
		return TaskRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return TaskRecord{}, fmt.Errorf("get task record: %w", err)
	}
	if err := s.db.SelectContext(ctx, &rec.Videos,
		`SELECT * FROM video_records WHERE task_id = ? ORDER BY id`, taskID); err != nil {
		return TaskRecord{}, fmt.Errorf("get video records: %w", err)
	}
	return rec, nil
}

// ListRecords returns task records newest first, without per-item trails.
// A non-empty platform filters the listing.
func (s *Store) ListRecords(ctx context.Context, platform string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []TaskRecord
	var err error
	if platform == "" {
		err = s.db.SelectContext(ctx, &recs,
			`SELECT * FROM task_records ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &recs,
			`SELECT * FROM task_records WHERE platform = ? ORDER BY started_at DESC LIMIT ?`, platform, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	return recs, nil
}

// DeleteRecord removes a task record and its trail.
func (s *Store) DeleteRecord(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM video_records WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete video records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM task_records WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("delete task record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return tx.Commit()
}

// FixAbnormalRecords closes records left running by a crash. Called once
// at startup before any new session begins.
func (s *Store) FixAbnormalRecords(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE task_records SET status = ?, error_message = ?, finished_at = ?
        WHERE status = ?`,
		StatusError, "interrupted by shutdown", time.Now().UTC(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("fix abnormal records: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("Closed task records left running by a previous crash", zap.Int64("count", n))
	}
	return n, nil
}
