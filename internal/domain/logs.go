package domain

import "time"

// IPLog records IP provenance for a content action.
type IPLog struct {
	ID          int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	UserID      int64     `json:"user_id"      gorm:"not null;index"`
	ContentType string    `json:"content_type" gorm:"type:varchar(20);not null"`
	ContentID   int64     `json:"content_id"   gorm:"not null"`
	Action      string    `json:"action"       gorm:"type:varchar(20);not null"`
	IP          string    `json:"ip"           gorm:"type:varchar(45);not null"`
	LoggedAt    time.Time `json:"logged_at"`
}

// TableName returns the database table name for IPLog.
func (IPLog) TableName() string { return "ip_logs" }

// ModeratorLog is the audit trail of moderator actions on content.
type ModeratorLog struct {
	ID          int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	UserID      int64     `json:"user_id"      gorm:"not null;index"`
	ContentType string    `json:"content_type" gorm:"type:varchar(20);not null;index:idx_modlog_content,priority:1"`
	ContentID   int64     `json:"content_id"   gorm:"not null;index:idx_modlog_content,priority:2"`
	Action      string    `json:"action"       gorm:"type:varchar(30);not null"`
	Detail      string    `json:"detail"       gorm:"type:text"`
	LoggedAt    time.Time `json:"logged_at"`
}

// TableName returns the database table name for ModeratorLog.
func (ModeratorLog) TableName() string { return "moderator_logs" }

// SpamTriggerLog records every spam-classifier decision for audit,
// regardless of outcome.
type SpamTriggerLog struct {
	ID          int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	UserID      int64     `json:"user_id"      gorm:"not null;index"`
	ContentType string    `json:"content_type" gorm:"type:varchar(20);not null"`
	ContentID   int64     `json:"content_id"   gorm:"not null"`
	Decision    string    `json:"decision"     gorm:"type:varchar(20);not null"`
	Detail      string    `json:"detail"       gorm:"type:text"`
	LoggedAt    time.Time `json:"logged_at"`
}

// TableName returns the database table name for SpamTriggerLog.
func (SpamTriggerLog) TableName() string { return "spam_trigger_logs" }

// DeletionLog preserves the actor and reason for a soft delete, one row
// per (content_type, content_id).
type DeletionLog struct {
	ID            int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	ContentType   string    `json:"content_type"    gorm:"type:varchar(20);not null;uniqueIndex:ux_deletion_content"`
	ContentID     int64     `json:"content_id"      gorm:"not null;uniqueIndex:ux_deletion_content"`
	DeletedBy     int64     `json:"deleted_by"      gorm:"not null"`
	DeletedByName string    `json:"deleted_by_name" gorm:"type:varchar(50)"`
	Reason        string    `json:"reason"          gorm:"type:varchar(255)"`
	DeletedAt     time.Time `json:"deleted_at"`
}

// TableName returns the database table name for DeletionLog.
func (DeletionLog) TableName() string { return "deletion_logs" }

// ThreadActivity is the per-day activity rollup for a thread, rebuilt
// from posts and reactions after structural changes.
type ThreadActivity struct {
	ID            int64  `json:"id"             gorm:"primaryKey;autoIncrement"`
	ThreadID      int64  `json:"thread_id"      gorm:"not null;index;uniqueIndex:ux_activity_thread_day"`
	Day           string `json:"day"            gorm:"type:varchar(10);not null;uniqueIndex:ux_activity_thread_day"` // YYYY-MM-DD
	ReplyCount    int    `json:"reply_count"    gorm:"not null;default:0"`
	ReactionScore int64  `json:"reaction_score" gorm:"not null;default:0"`
}

// TableName returns the database table name for ThreadActivity.
func (ThreadActivity) TableName() string { return "thread_activity" }
