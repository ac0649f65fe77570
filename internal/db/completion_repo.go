package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Completion records that a task_completed event has been published for
// a task_id, so the Task Supervisor can enforce exactly-once delivery
// even across a restart. SessionID is nil when neither id capture nor a
// completion marker ever supplied one.
type Completion struct {
	TaskID      string
	SessionID   *string
	ExitCode    int
	Status      string
	PublishedAt time.Time
}

// CompletionRepo persists published completions.
type CompletionRepo struct {
	db *sql.DB
}

func NewCompletionRepo(db *sql.DB) *CompletionRepo {
	return &CompletionRepo{db: db}
}

// MarkPublished records that task_id's completion event was published.
// It is idempotent: a second call for the same task_id is a no-op and
// returns (false, nil) rather than an error, so callers can branch on
// "did I just publish it" vs "it was already published".
func (r *CompletionRepo) MarkPublished(ctx context.Context, c *Completion) (bool, error) {
	if c.PublishedAt.IsZero() {
		c.PublishedAt = nowUTC()
	}
	res, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO completions (task_id, session_id, exit_code, status, published_at)
VALUES (?, ?, ?, ?, ?)
`, c.TaskID, nullableString(c.SessionID), c.ExitCode, c.Status, formatTimestamp(c.PublishedAt))
	if err != nil {
		return false, fmt.Errorf("failed to record completion for task %q: %w", c.TaskID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected for task %q: %w", c.TaskID, err)
	}
	return rows > 0, nil
}

// Get returns the recorded completion for task_id, or nil if none.
func (r *CompletionRepo) Get(ctx context.Context, taskID string) (*Completion, error) {
	var c Completion
	var sessionID sql.NullString
	var publishedAtRaw string
	err := r.db.QueryRowContext(ctx, `
SELECT task_id, session_id, exit_code, status, published_at
FROM completions
WHERE task_id = ?
`, taskID).Scan(&c.TaskID, &sessionID, &c.ExitCode, &c.Status, &publishedAtRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get completion for task %q: %w", taskID, err)
	}
	if sessionID.Valid {
		c.SessionID = &sessionID.String
	}
	c.PublishedAt, err = parseTimestamp(publishedAtRaw)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// nullableString returns a driver value that stores SQL NULL for a nil or
// empty session id, matching the "no id captured" case rather than
// persisting an empty string that would read back ambiguously.
func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
