package domain

import "time"

// Reaction is a single user's reaction to a post.
//
// At most one reaction row exists per (post, user); IsCounted gates
// whether Score contributes to the content author's running
// ReactionScore. A user's reaction to their own content is never
// counted.
type Reaction struct {
	ID            int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	PostID        int64     `json:"post_id"         gorm:"not null;index;uniqueIndex:ux_reaction_post_user"`
	UserID        int64     `json:"user_id"         gorm:"not null;index;uniqueIndex:ux_reaction_post_user"`
	ContentUserID int64     `json:"content_user_id" gorm:"not null;index"`
	Score         int64     `json:"score"           gorm:"not null;default:1"`
	IsCounted     bool      `json:"is_counted"      gorm:"not null;default:true"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for Reaction.
func (Reaction) TableName() string { return "reactions" }

// Vote is a user's vote on a post, unique per (post, user). Votes are
// migrated verbatim when posts are merged and never duplicated.
type Vote struct {
	ID        int64     `json:"id"      gorm:"primaryKey;autoIncrement"`
	PostID    int64     `json:"post_id" gorm:"not null;index;uniqueIndex:ux_vote_post_user"`
	UserID    int64     `json:"user_id" gorm:"not null;index;uniqueIndex:ux_vote_post_user"`
	Value     int       `json:"value"   gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Vote.
func (Vote) TableName() string { return "votes" }

// Attachment is owned by exactly one (content_type, content_id) pair.
// The owning post tracks the denormalized AttachCount.
type Attachment struct {
	ID          int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	ContentType string    `json:"content_type" gorm:"type:varchar(20);not null;index:idx_attach_content,priority:1"`
	ContentID   int64     `json:"content_id"   gorm:"not null;index:idx_attach_content,priority:2"`
	FileName    string    `json:"file_name"    gorm:"type:varchar(255)"`
	FileSize    int64     `json:"file_size"    gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for Attachment.
func (Attachment) TableName() string { return "attachments" }

// Bookmark marks a post for later for one user, unique per (user, post).
type Bookmark struct {
	ID        int64     `json:"id"      gorm:"primaryKey;autoIncrement"`
	UserID    int64     `json:"user_id" gorm:"not null;index;uniqueIndex:ux_bookmark_user_post"`
	PostID    int64     `json:"post_id" gorm:"not null;index;uniqueIndex:ux_bookmark_user_post"`
	Note      string    `json:"note"    gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Bookmark.
func (Bookmark) TableName() string { return "bookmarks" }

// EditHistory is an append-only snapshot of a post's prior message body.
// Rows are never mutated or deleted by this pipeline.
type EditHistory struct {
	ID         int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	PostID     int64     `json:"post_id"      gorm:"not null;index"`
	EditUserID int64     `json:"edit_user_id" gorm:"not null"`
	EditDate   time.Time `json:"edit_date"    gorm:"not null"`
	OldMessage string    `json:"old_message"  gorm:"type:text;not null"`
	IP         string    `json:"-"            gorm:"type:varchar(45)"`
}

// TableName returns the database table name for EditHistory.
func (EditHistory) TableName() string { return "edit_history" }

// ForumWatch subscribes a user to new content in a forum.
type ForumWatch struct {
	ID        int64 `json:"id"         gorm:"primaryKey;autoIncrement"`
	UserID    int64 `json:"user_id"    gorm:"not null;index;uniqueIndex:ux_forum_watch"`
	ForumID   int64 `json:"forum_id"   gorm:"not null;index;uniqueIndex:ux_forum_watch"`
	SendAlert bool  `json:"send_alert" gorm:"not null;default:true"`
	SendEmail bool  `json:"send_email" gorm:"not null;default:false"`
}

// TableName returns the database table name for ForumWatch.
func (ForumWatch) TableName() string { return "forum_watches" }

// ThreadWatch subscribes a user to replies in a thread.
type ThreadWatch struct {
	ID             int64 `json:"id"              gorm:"primaryKey;autoIncrement"`
	UserID         int64 `json:"user_id"         gorm:"not null;index;uniqueIndex:ux_thread_watch"`
	ThreadID       int64 `json:"thread_id"       gorm:"not null;index;uniqueIndex:ux_thread_watch"`
	EmailSubscribe bool  `json:"email_subscribe" gorm:"not null;default:false"`
}

// TableName returns the database table name for ThreadWatch.
func (ThreadWatch) TableName() string { return "thread_watches" }

// UserAlert is a delivered in-app notification.
type UserAlert struct {
	ID          int64      `json:"id"           gorm:"primaryKey;autoIncrement"`
	UserID      int64      `json:"user_id"      gorm:"not null;index"`
	ContentType string     `json:"content_type" gorm:"type:varchar(20);not null"`
	ContentID   int64      `json:"content_id"   gorm:"not null"`
	Action      string     `json:"action"       gorm:"type:varchar(20);not null"`
	Detail      string     `json:"detail"       gorm:"type:varchar(255)"`
	CreatedAt   time.Time  `json:"created_at"`
	ViewedAt    *time.Time `json:"viewed_at,omitempty"`
}

// TableName returns the database table name for UserAlert.
func (UserAlert) TableName() string { return "user_alerts" }
