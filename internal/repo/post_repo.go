// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Post model
// and the thread-scoped maintenance passes (position and per-user counter
// rebuilds) that run after structural changes.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
)

// GetPost fetches a post by ID with its thread and forum relations
// hydrated. Returns ErrNotFound if the row does not exist.
func GetPost(ctx context.Context, db *gorm.DB, id int64) (*domain.Post, error) {
	var p domain.Post
	err := db.WithContext(ctx).
		Preload("Thread").
		Preload("Thread.Forum").
		First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPosts fetches multiple posts (with relations) preserving the order of
// the given IDs. Missing IDs surface as ErrNotFound.
func GetPosts(ctx context.Context, db *gorm.DB, ids []int64) ([]*domain.Post, error) {
	var rows []domain.Post
	err := db.WithContext(ctx).
		Preload("Thread").
		Preload("Thread.Forum").
		Find(&rows, "id IN ?", ids).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*domain.Post, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	out := make([]*domain.Post, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, p)
	}
	return out, nil
}

// SavePost persists all fields of the post.
func SavePost(db *gorm.DB, p *domain.Post) error {
	return db.Save(p).Error
}

// FastUpdatePost sets individual columns without full-row validation; used
// for denormalized counters.
func FastUpdatePost(db *gorm.DB, postID int64, fields map[string]any) error {
	return db.Model(&domain.Post{}).Where("id = ?", postID).Updates(fields).Error
}

// DeletePostRow hard-deletes a single post row. Dependent rows (reactions,
// votes, attachments, bookmarks) are the caller's responsibility.
func DeletePostRow(db *gorm.DB, postID int64) error {
	return db.Delete(&domain.Post{}, "id = ?", postID).Error
}

// PostsInThread returns all post rows of a thread ordered by position,
// then post date, then ID.
func PostsInThread(db *gorm.DB, threadID int64) ([]domain.Post, error) {
	var out []domain.Post
	err := db.
		Where("thread_id = ?", threadID).
		Order("position ASC, post_date ASC, id ASC").
		Find(&out).Error
	return out, err
}

// RebuildThreadPositions renumbers a thread's posts densely from 0 in
// (post_date, id) order. Idempotent; safe to run repeatedly.
func RebuildThreadPositions(db *gorm.DB, threadID int64) error {
	var rows []domain.Post
	if err := db.
		Select("id", "position").
		Where("thread_id = ?", threadID).
		Order("post_date ASC, id ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	for i, row := range rows {
		if row.Position == i {
			continue
		}
		if err := db.Model(&domain.Post{}).Where("id = ?", row.ID).
			Update("position", i).Error; err != nil {
			return err
		}
	}
	return nil
}

// RebuildUserMessageCounts recomputes the denormalized message_count for
// each given user from their surviving visible posts in visible threads.
func RebuildUserMessageCounts(db *gorm.DB, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	for _, uid := range userIDs {
		var n int64
		err := db.Model(&domain.Post{}).
			Joins("JOIN threads ON threads.id = posts.thread_id").
			Where("posts.user_id = ? AND posts.message_state = ? AND threads.discussion_state = ?",
				uid, domain.MessageStateVisible, domain.MessageStateVisible).
			Count(&n).Error
		if err != nil {
			return err
		}
		if err := db.Model(&domain.User{}).Where("id = ?", uid).
			Update("message_count", n).Error; err != nil {
			return err
		}
	}
	return nil
}

// AdjustUserReactionScore applies a (possibly negative) delta to the
// user's running reaction score.
func AdjustUserReactionScore(db *gorm.DB, userID int64, delta int64) error {
	if delta == 0 {
		return nil
	}
	return db.Model(&domain.User{}).Where("id = ?", userID).
		Update("reaction_score", gorm.Expr("reaction_score + ?", delta)).Error
}

// GetUser fetches a user by ID, ErrNotFound when missing.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUsersByNames resolves usernames to users; unknown names are skipped.
// Matching is case-insensitive.
func FindUsersByNames(db *gorm.DB, names []string) ([]domain.User, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		lowered = append(lowered, strings.ToLower(n))
	}
	var out []domain.User
	err := db.Where("LOWER(username) IN (?)", lowered).Order("id ASC").Find(&out).Error
	return out, err
}

// CreateEditHistory appends one edit-history snapshot. Snapshots are
// append-only; nothing in this layer mutates or deletes them.
func CreateEditHistory(db *gorm.DB, postID, editUserID int64, editDate time.Time, oldMessage, ip string) error {
	return db.Create(&domain.EditHistory{
		PostID:     postID,
		EditUserID: editUserID,
		EditDate:   editDate,
		OldMessage: oldMessage,
		IP:         ip,
	}).Error
}

// ListEditHistoryPage returns a page of a post's edit history, newest first.
func ListEditHistoryPage(ctx context.Context, db *gorm.DB, postID int64, offset, limit int) ([]domain.EditHistory, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.EditHistory{}).
		Where("post_id = ?", postID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []domain.EditHistory
	err := db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("edit_date DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&items).Error
	return items, total, err
}
