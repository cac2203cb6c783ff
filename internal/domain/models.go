// Package domain defines the persistence models for the forum content
// pipeline: forums, threads, posts and the association rows hanging off
// them (reactions, votes, attachments, bookmarks, edit history, watches).
// These types are mapped with GORM and form the core data layer of the
// application.
package domain

import "time"

// MessageState is the moderation state of a post (and, mirrored, of a
// thread). Transitions:
//
//	moderated → visible   (approve)
//	visible|moderated → deleted  (soft delete, reversible)
//	any → row removed     (hard delete, irreversible)
type MessageState string

const (
	MessageStateVisible   MessageState = "visible"
	MessageStateModerated MessageState = "moderated"
	MessageStateDeleted   MessageState = "deleted"
)

// Content type discriminators for polymorphic rows (attachments, logs,
// alerts, deletion log).
const (
	ContentTypePost   = "post"
	ContentTypeThread = "thread"
)

// Forum is a container of threads (a "node" in moderation parlance).
type Forum struct {
	ID           int64     `json:"id"            gorm:"primaryKey;autoIncrement"`
	Title        string    `json:"title"         gorm:"type:varchar(150);not null"`
	Description  string    `json:"description"   gorm:"type:text"`
	ThreadCount  int64     `json:"thread_count"  gorm:"not null;default:0"`
	MessageCount int64     `json:"message_count" gorm:"not null;default:0"`
	LastPostID   int64     `json:"last_post_id"  gorm:"not null;default:0"`
	LastPostDate time.Time `json:"last_post_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for Forum.
func (Forum) TableName() string { return "forums" }

// User carries the denormalized per-user running totals this pipeline
// maintains: MessageCount (visible posts authored) and ReactionScore
// (sum of counted reaction scores received).
type User struct {
	ID            int64     `json:"id"             gorm:"primaryKey;autoIncrement"`
	Username      string    `json:"username"       gorm:"type:varchar(50);not null;uniqueIndex"`
	Email         string    `json:"email"          gorm:"type:varchar(120)"`
	IsModerator   bool      `json:"is_moderator"   gorm:"not null;default:false"`
	MessageCount  int64     `json:"message_count"  gorm:"not null;default:0"`
	ReactionScore int64     `json:"reaction_score" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Thread is the container of posts. ReplyCount and the first/last post
// pointers are denormalized aggregates over the thread's surviving rows;
// they are always rebuilt from scratch after structural changes, never
// incrementally adjusted.
//
// Invariant: ReplyCount == (number of post rows in the thread) - 1, and
// FirstPostID/LastPostID point at the extremal surviving posts.
type Thread struct {
	ID             int64        `json:"id"               gorm:"primaryKey;autoIncrement"`
	ForumID        int64        `json:"forum_id"         gorm:"not null;index"`
	UserID         int64        `json:"user_id"          gorm:"not null;index"`
	Username       string       `json:"username"         gorm:"type:varchar(50);not null"`
	Title          string       `json:"title"            gorm:"type:varchar(150);not null"`
	Prefix         string       `json:"prefix"           gorm:"type:varchar(50)"`
	CustomFields   string       `json:"custom_fields"    gorm:"type:text"` // JSON object
	DiscussionState MessageState `json:"discussion_state" gorm:"type:varchar(10);not null;default:'visible'"`
	ReplyCount     int          `json:"reply_count"      gorm:"not null;default:0"`
	FirstPostID    int64        `json:"first_post_id"    gorm:"not null;default:0"`
	LastPostID     int64        `json:"last_post_id"     gorm:"not null;default:0"`
	LastPostDate   time.Time    `json:"last_post_date"`
	LastPostUserID int64        `json:"last_post_user_id" gorm:"not null;default:0"`
	PostDate       time.Time    `json:"post_date"`

	Forum *Forum `json:"-" gorm:"foreignKey:ForumID;references:ID"`
}

// TableName returns the database table name for Thread.
func (Thread) TableName() string { return "threads" }

// IsVisible reports whether the thread itself is in visible state.
func (t *Thread) IsVisible() bool { return t.DiscussionState == MessageStateVisible }

// Post is a message within a thread.
//
// Position is dense and 0-based within the thread; the post at position 0
// is the thread's first post and gates the thread's own visibility. Embeds
// holds JSON-encoded embed metadata extracted from the message body.
type Post struct {
	ID             int64        `json:"id"              gorm:"primaryKey;autoIncrement"`
	ThreadID       int64        `json:"thread_id"       gorm:"not null;index:idx_thread_posts,priority:1"`
	UserID         int64        `json:"user_id"         gorm:"not null;index"`
	Username       string       `json:"username"        gorm:"type:varchar(50);not null"`
	Message        string       `json:"message"         gorm:"type:text;not null"`
	Embeds         string       `json:"embeds"          gorm:"type:text"` // JSON array of EmbedMeta
	MessageState   MessageState `json:"message_state"   gorm:"type:varchar(10);not null;default:'visible'"`
	Position       int          `json:"position"        gorm:"not null;default:0;index:idx_thread_posts,priority:2"`
	PostDate       time.Time    `json:"post_date"`
	EditCount      int          `json:"edit_count"      gorm:"not null;default:0"`
	LastEditDate   *time.Time   `json:"last_edit_date,omitempty"`
	LastEditUserID int64        `json:"last_edit_user_id" gorm:"not null;default:0"`
	AttachCount    int          `json:"attach_count"    gorm:"not null;default:0"`
	ReactionScore  int64        `json:"reaction_score"  gorm:"not null;default:0"`
	IPID           int64        `json:"-"               gorm:"not null;default:0"`

	Thread *Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string { return "posts" }

// IsVisible reports whether the post itself is in visible state.
func (p *Post) IsVisible() bool { return p.MessageState == MessageStateVisible }

// IsFirstPost reports whether this post occupies the first-post slot of
// its thread. The thread relation is consulted when loaded so the check
// stays correct while positions are being rebuilt.
func (p *Post) IsFirstPost() bool {
	if p.Thread != nil && p.Thread.FirstPostID != 0 {
		return p.Thread.FirstPostID == p.ID
	}
	return p.Position == 0
}

// EmbedMeta describes a single embed extracted from a message body.
type EmbedMeta struct {
	URL      string `json:"url"`
	Provider string `json:"provider,omitempty"`
}
