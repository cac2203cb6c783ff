package domain

import "time"

// Job queue states.
const (
	JobStatePending = "pending"
	JobStateRunning = "running"
	JobStateDone    = "done"
	JobStateFailed  = "failed"
)

// Job is a queued unit of asynchronous work (notification fan-out
// resumption, search re-indexing). Fire-and-forget: producers enqueue
// and never read results back.
type Job struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Type      string    `gorm:"type:TEXT NOT NULL;index"`
	Payload   string    `gorm:"type:TEXT NOT NULL"` // JSON
	State     string    `gorm:"type:TEXT NOT NULL;default:'pending';index"`
	RunAfter  time.Time `gorm:"type:DATETIME NOT NULL;index"`
	Attempts  int       `gorm:"type:INTEGER NOT NULL;default:0"`
	LastError string    `gorm:"type:TEXT"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (Job) TableName() string { return "jobs" }

// Idempotency represents a recorded result of a previously processed
// moderation request, keyed by (user_id, post_id, key). It enables safe
// retries of merge/delete calls by detecting the originally processed
// request without re-executing side effects.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    int64     `gorm:"not null;uniqueIndex:ux_user_post_key,priority:1"`
	PostID    int64     `gorm:"not null;uniqueIndex:ux_user_post_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_post_key,priority:3"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
