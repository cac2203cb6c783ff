// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Thread
// model, including the authoritative counter rebuild.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
)

// GetThread fetches a thread by ID with its forum relation hydrated.
func GetThread(ctx context.Context, db *gorm.DB, id int64) (*domain.Thread, error) {
	var t domain.Thread
	err := db.WithContext(ctx).Preload("Forum").First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveThread persists all fields of the thread.
func SaveThread(db *gorm.DB, t *domain.Thread) error {
	return db.Save(t).Error
}

// RebuildThreadCounters recomputes reply_count and the first/last post
// pointers from the thread's surviving post rows. The computation is from
// scratch and order-independent, so running it twice yields identical
// values. The passed thread struct is updated in place and persisted.
func RebuildThreadCounters(db *gorm.DB, t *domain.Thread) error {
	var n int64
	if err := db.Model(&domain.Post{}).Where("thread_id = ?", t.ID).Count(&n).Error; err != nil {
		return err
	}

	if n == 0 {
		t.ReplyCount = 0
		t.FirstPostID = 0
		t.LastPostID = 0
		t.LastPostUserID = 0
		return db.Model(&domain.Thread{}).Where("id = ?", t.ID).Updates(map[string]any{
			"reply_count":       0,
			"first_post_id":     0,
			"last_post_id":      0,
			"last_post_user_id": 0,
		}).Error
	}

	var first, last domain.Post
	if err := db.Where("thread_id = ?", t.ID).
		Order("post_date ASC, id ASC").First(&first).Error; err != nil {
		return err
	}
	if err := db.Where("thread_id = ?", t.ID).
		Order("post_date DESC, id DESC").First(&last).Error; err != nil {
		return err
	}

	t.ReplyCount = int(n) - 1
	t.FirstPostID = first.ID
	t.LastPostID = last.ID
	t.LastPostDate = last.PostDate
	t.LastPostUserID = last.UserID

	return db.Model(&domain.Thread{}).Where("id = ?", t.ID).Updates(map[string]any{
		"reply_count":       t.ReplyCount,
		"first_post_id":     t.FirstPostID,
		"last_post_id":      t.LastPostID,
		"last_post_date":    t.LastPostDate,
		"last_post_user_id": t.LastPostUserID,
	}).Error
}

// RebuildForumCounters recomputes a forum's thread/message totals and last
// post pointer from its visible threads.
func RebuildForumCounters(db *gorm.DB, forumID int64) error {
	var threadCount int64
	if err := db.Model(&domain.Thread{}).
		Where("forum_id = ? AND discussion_state = ?", forumID, domain.MessageStateVisible).
		Count(&threadCount).Error; err != nil {
		return err
	}
	var messageCount int64
	if err := db.Model(&domain.Post{}).
		Joins("JOIN threads ON threads.id = posts.thread_id").
		Where("threads.forum_id = ? AND threads.discussion_state = ? AND posts.message_state = ?",
			forumID, domain.MessageStateVisible, domain.MessageStateVisible).
		Count(&messageCount).Error; err != nil {
		return err
	}

	fields := map[string]any{
		"thread_count":  threadCount,
		"message_count": messageCount,
	}

	var last domain.Post
	err := db.
		Joins("JOIN threads ON threads.id = posts.thread_id").
		Where("threads.forum_id = ? AND threads.discussion_state = ? AND posts.message_state = ?",
			forumID, domain.MessageStateVisible, domain.MessageStateVisible).
		Order("posts.post_date DESC, posts.id DESC").
		First(&last).Error
	switch {
	case err == nil:
		fields["last_post_id"] = last.ID
		fields["last_post_date"] = last.PostDate
	case errors.Is(err, gorm.ErrRecordNotFound):
		fields["last_post_id"] = 0
	default:
		return err
	}

	return db.Model(&domain.Forum{}).Where("id = ?", forumID).Updates(fields).Error
}

// HardDeleteThreadRows removes a thread row and every dependent row:
// posts plus their reactions, votes, attachments and bookmarks, thread
// watches, and the thread's activity rollup. Edit history is preserved
// (append-only audit data).
func HardDeleteThreadRows(db *gorm.DB, threadID int64) error {
	var postIDs []int64
	if err := db.Model(&domain.Post{}).
		Where("thread_id = ?", threadID).
		Pluck("id", &postIDs).Error; err != nil {
		return err
	}
	if len(postIDs) > 0 {
		if err := DeletePostDependents(db, postIDs); err != nil {
			return err
		}
		if err := db.Delete(&domain.Post{}, "thread_id = ?", threadID).Error; err != nil {
			return err
		}
	}
	if err := db.Delete(&domain.ThreadWatch{}, "thread_id = ?", threadID).Error; err != nil {
		return err
	}
	if err := db.Delete(&domain.ThreadActivity{}, "thread_id = ?", threadID).Error; err != nil {
		return err
	}
	return db.Delete(&domain.Thread{}, "id = ?", threadID).Error
}

// DeletePostDependents removes the association rows owned by the given
// posts. Reaction score side effects are the caller's concern; this only
// clears rows.
func DeletePostDependents(db *gorm.DB, postIDs []int64) error {
	if len(postIDs) == 0 {
		return nil
	}
	if err := db.Delete(&domain.Reaction{}, "post_id IN ?", postIDs).Error; err != nil {
		return err
	}
	if err := db.Delete(&domain.Vote{}, "post_id IN ?", postIDs).Error; err != nil {
		return err
	}
	if err := db.Delete(&domain.Bookmark{}, "post_id IN ?", postIDs).Error; err != nil {
		return err
	}
	return db.Delete(&domain.Attachment{},
		"content_type = ? AND content_id IN ?", domain.ContentTypePost, postIDs).Error
}
