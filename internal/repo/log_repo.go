// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers audit rows: IP provenance, moderator
// actions, spam-classifier decisions, and soft-delete reasons.
package repo

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
)

// LogIP records IP provenance for a content action and returns the row ID.
func LogIP(db *gorm.DB, userID int64, contentType string, contentID int64, action, ip string, now time.Time) (int64, error) {
	row := &domain.IPLog{
		UserID:      userID,
		ContentType: contentType,
		ContentID:   contentID,
		Action:      action,
		IP:          ip,
		LoggedAt:    now,
	}
	if err := db.Create(row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// LogModeratorAction appends one moderator-action audit row.
func LogModeratorAction(db *gorm.DB, userID int64, contentType string, contentID int64, action, detail string, now time.Time) error {
	return db.Create(&domain.ModeratorLog{
		UserID:      userID,
		ContentType: contentType,
		ContentID:   contentID,
		Action:      action,
		Detail:      detail,
		LoggedAt:    now,
	}).Error
}

// LogSpamDecision records a spam-classifier outcome for audit. Every
// decision is logged, including clean ones.
func LogSpamDecision(db *gorm.DB, userID int64, contentType string, contentID int64, decision, detail string, now time.Time) error {
	return db.Create(&domain.SpamTriggerLog{
		UserID:      userID,
		ContentType: contentType,
		ContentID:   contentID,
		Decision:    decision,
		Detail:      detail,
		LoggedAt:    now,
	}).Error
}

// RecordDeletion upserts the soft-delete audit row for a piece of content.
func RecordDeletion(db *gorm.DB, contentType string, contentID int64, actor *domain.User, reason string, now time.Time) error {
	row := &domain.DeletionLog{
		ContentType:   contentType,
		ContentID:     contentID,
		DeletedBy:     actor.ID,
		DeletedByName: actor.Username,
		Reason:        reason,
		DeletedAt:     now,
	}
	err := db.Create(row).Error
	if err != nil && IsDuplicate(err) {
		// Re-deleting already soft-deleted content refreshes the reason.
		return db.Model(&domain.DeletionLog{}).
			Where("content_type = ? AND content_id = ?", contentType, contentID).
			Updates(map[string]any{
				"deleted_by":      actor.ID,
				"deleted_by_name": actor.Username,
				"reason":          reason,
				"deleted_at":      now,
			}).Error
	}
	return err
}

// ClearDeletion removes the soft-delete audit row, if any.
func ClearDeletion(db *gorm.DB, contentType string, contentID int64) error {
	err := db.Delete(&domain.DeletionLog{},
		"content_type = ? AND content_id = ?", contentType, contentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
