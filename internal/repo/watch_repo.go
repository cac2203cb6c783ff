// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers watch subscriptions and delivered user
// alerts, consumed by the notification fan-out.
package repo

import (
	"time"

	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
)

// ForumWatchers returns all watch rows for a forum.
func ForumWatchers(db *gorm.DB, forumID int64) ([]domain.ForumWatch, error) {
	var out []domain.ForumWatch
	err := db.Where("forum_id = ?", forumID).Order("user_id ASC").Find(&out).Error
	return out, err
}

// ThreadWatchers returns all watch rows for a thread.
func ThreadWatchers(db *gorm.DB, threadID int64) ([]domain.ThreadWatch, error) {
	var out []domain.ThreadWatch
	err := db.Where("thread_id = ?", threadID).Order("user_id ASC").Find(&out).Error
	return out, err
}

// CreateUserAlert inserts one delivered alert row.
func CreateUserAlert(db *gorm.DB, userID int64, contentType string, contentID int64, action, detail string, now time.Time) error {
	return db.Create(&domain.UserAlert{
		UserID:      userID,
		ContentType: contentType,
		ContentID:   contentID,
		Action:      action,
		Detail:      detail,
		CreatedAt:   now,
	}).Error
}
