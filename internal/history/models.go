// Package history records what each automation session did: one task
// record per session with a per-item trail of comment and skip decisions.
package history

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Action is what the session did with one content item.
type Action string

const (
	ActionCommented Action = "commented"
	ActionSkipped   Action = "skipped"
)

// TaskRecord is one automation session's history entry. SettingsSnapshot
// holds the settings JSON as captured at session start so later settings
// edits never rewrite history.
type TaskRecord struct {
	ID               string          `db:"id" json:"id"`
	Platform         string          `db:"platform" json:"platform"`
	Status           Status          `db:"status" json:"status"`
	SettingsSnapshot json.RawMessage `db:"settings_snapshot" json:"settingsSnapshot"`
	CommentCount     int             `db:"comment_count" json:"commentCount"`
	ErrorMessage     string          `db:"error_message" json:"errorMessage,omitempty"`
	StartedAt        time.Time       `db:"started_at" json:"startedAt"`
	FinishedAt       *time.Time      `db:"finished_at" json:"finishedAt,omitempty"`

	Videos []VideoRecord `db:"-" json:"videos,omitempty"`
}

// VideoRecord is one processed item within a task.
type VideoRecord struct {
	ID           int64     `db:"id" json:"id"`
	TaskID       string    `db:"task_id" json:"taskId"`
	ItemID       string    `db:"item_id" json:"itemId"`
	AuthorName   string    `db:"author_name" json:"authorName"`
	Description  string    `db:"description" json:"description"`
	Tags         Tags      `db:"tags" json:"tags,omitempty"`
	WatchMS      int64     `db:"watch_ms" json:"watchDurationMs"`
	Action       Action    `db:"action" json:"action"`
	Detail       string    `db:"detail" json:"detail,omitempty"`
	MatchedGroup string    `db:"matched_group" json:"matchedGroup,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Tags stores an item's tag list as a JSON array column.
type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if len(t) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *Tags) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case string:
		if v == "" {
			*t = nil
			return nil
		}
		return json.Unmarshal([]byte(v), t)
	case []byte:
		if len(v) == 0 {
			*t = nil
			return nil
		}
		return json.Unmarshal(v, t)
	default:
		return fmt.Errorf("unsupported tags column type %T", src)
	}
}
