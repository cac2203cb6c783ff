// Package jobs provides the fire-and-forget asynchronous job queue used
// by the content pipeline: a GORM-backed queue table plus a cron-polled
// runner that dispatches to registered handlers.
//
// Producers enqueue after their transaction commits and never read
// results back; a failed job is retried by the runner until the attempt
// budget is exhausted.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
)

// Job type identifiers.
const (
	// TypeNotifyResume continues a notification fan-out whose inline
	// time budget ran out.
	TypeNotifyResume = "notify.resume"
	// TypeSearchReindex updates the search index after content moved or
	// was removed.
	TypeSearchReindex = "search.reindex"
)

// NotifyResumePayload re-enters the notifier with the original post and
// action kind. Alerted/Emailed carry the recipients already handled so
// the resumed run stays idempotent.
type NotifyResumePayload struct {
	PostID  int64   `json:"post_id"`
	Action  string  `json:"action"`
	Alerted []int64 `json:"alerted,omitempty"`
	Emailed []int64 `json:"emailed,omitempty"`
}

// SearchReindexPayload names posts to drop from and re-add to the index.
type SearchReindexPayload struct {
	DeletePostIDs []int64 `json:"delete_post_ids,omitempty"`
	IndexPostIDs  []int64 `json:"index_post_ids,omitempty"`
}

// Queue is the enqueue-only face handed to services.
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload any) error
}

// GormQueue persists jobs in the jobs table.
type GormQueue struct {
	DB *gorm.DB
}

// Enqueue serializes payload and inserts a pending job runnable
// immediately.
func (q *GormQueue) Enqueue(ctx context.Context, jobType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.DB.WithContext(ctx).Create(&domain.Job{
		ID:       uuid.NewString(),
		Type:     jobType,
		Payload:  string(raw),
		State:    domain.JobStatePending,
		RunAfter: time.Now().UTC(),
	}).Error
}
