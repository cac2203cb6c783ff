// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file implements the activity-log rebuilds: pure
// recomputation of a thread's per-day reply and reaction rollups from the
// authoritative child rows. Both passes are idempotent and return no data.
package repo

import (
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
)

const dayFormat = "2006-01-02"

// RebuildReplyMetrics recomputes the per-day reply counts for a thread
// from its post rows. Existing rollup rows for days with no surviving
// posts are reset to zero rather than deleted, so reaction metrics on the
// same row survive.
func RebuildReplyMetrics(db *gorm.DB, threadID int64) error {
	posts, err := PostsInThread(db, threadID)
	if err != nil {
		return err
	}

	perDay := make(map[string]int)
	for _, p := range posts {
		if p.Position == 0 {
			continue // first post is not a reply
		}
		perDay[p.PostDate.UTC().Format(dayFormat)]++
	}

	if err := db.Model(&domain.ThreadActivity{}).
		Where("thread_id = ?", threadID).
		Update("reply_count", 0).Error; err != nil {
		return err
	}
	for day, n := range perDay {
		if err := upsertActivity(db, threadID, day, map[string]any{"reply_count": n}); err != nil {
			return err
		}
	}
	return nil
}

// RebuildReactionMetrics recomputes the per-day counted reaction score
// for a thread from its posts' reaction rows.
func RebuildReactionMetrics(db *gorm.DB, threadID int64) error {
	type row struct {
		Day   string
		Total int64
	}
	var rows []row
	err := db.Model(&domain.Reaction{}).
		Select("strftime('%Y-%m-%d', reactions.created_at) AS day, SUM(reactions.score) AS total").
		Joins("JOIN posts ON posts.id = reactions.post_id").
		Where("posts.thread_id = ? AND reactions.is_counted = ?", threadID, true).
		Group("day").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	if err := db.Model(&domain.ThreadActivity{}).
		Where("thread_id = ?", threadID).
		Update("reaction_score", 0).Error; err != nil {
		return err
	}
	for _, r := range rows {
		if err := upsertActivity(db, threadID, r.Day, map[string]any{"reaction_score": r.Total}); err != nil {
			return err
		}
	}
	return nil
}

func upsertActivity(db *gorm.DB, threadID int64, day string, fields map[string]any) error {
	res := db.Model(&domain.ThreadActivity{}).
		Where("thread_id = ? AND day = ?", threadID, day).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	row := &domain.ThreadActivity{ThreadID: threadID, Day: day}
	if n, ok := fields["reply_count"].(int); ok {
		row.ReplyCount = n
	}
	if s, ok := fields["reaction_score"].(int64); ok {
		row.ReactionScore = s
	}
	err := db.Create(row).Error
	if err != nil && IsDuplicate(err) {
		// Raced with a concurrent rebuild; the other writer's row stands.
		return db.Model(&domain.ThreadActivity{}).
			Where("thread_id = ? AND day = ?", threadID, day).
			Updates(fields).Error
	}
	return err
}
