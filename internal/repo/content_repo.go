// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers the association rows that hang off
// posts: reactions, votes, attachments, and bookmarks. These are the rows
// the merge pipeline migrates between posts.
package repo

import (
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
)

// ReactionsOnPost returns every reaction row on a post.
func ReactionsOnPost(db *gorm.DB, postID int64) ([]domain.Reaction, error) {
	var out []domain.Reaction
	err := db.Where("post_id = ?", postID).Order("id ASC").Find(&out).Error
	return out, err
}

// ReactionUserIDsOnPost returns the set of user IDs holding a reaction on
// the post. Used for duplicate collapse during migration.
func ReactionUserIDsOnPost(db *gorm.DB, postID int64) (map[int64]bool, error) {
	var ids []int64
	if err := db.Model(&domain.Reaction{}).
		Where("post_id = ?", postID).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// ReassignReaction moves one reaction row to a new post and content
// author, updating its counted flag.
func ReassignReaction(db *gorm.DB, reactionID, newPostID, newContentUserID int64, isCounted bool) error {
	return db.Model(&domain.Reaction{}).Where("id = ?", reactionID).Updates(map[string]any{
		"post_id":         newPostID,
		"content_user_id": newContentUserID,
		"is_counted":      isCounted,
	}).Error
}

// DeleteReaction removes a single reaction row.
func DeleteReaction(db *gorm.DB, reactionID int64) error {
	return db.Delete(&domain.Reaction{}, "id = ?", reactionID).Error
}

// RebuildPostReactionScore recomputes the denormalized reaction score on
// a post from its counted reaction rows. Idempotent.
func RebuildPostReactionScore(db *gorm.DB, postID int64) error {
	var sum int64
	row := db.Model(&domain.Reaction{}).
		Where("post_id = ? AND is_counted = ?", postID, true).
		Select("COALESCE(SUM(score), 0)").
		Row()
	if err := row.Scan(&sum); err != nil {
		return err
	}
	return db.Model(&domain.Post{}).Where("id = ?", postID).
		Update("reaction_score", sum).Error
}

// VotesOnPost returns every vote row on a post.
func VotesOnPost(db *gorm.DB, postID int64) ([]domain.Vote, error) {
	var out []domain.Vote
	err := db.Where("post_id = ?", postID).Order("id ASC").Find(&out).Error
	return out, err
}

// VoteUserIDsOnPost returns the set of user IDs that voted on the post.
func VoteUserIDsOnPost(db *gorm.DB, postID int64) (map[int64]bool, error) {
	var ids []int64
	if err := db.Model(&domain.Vote{}).
		Where("post_id = ?", postID).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// ReassignVote points one vote row at a new post. A unique-constraint
// violation (the user already voted on the target, racing migration) is
// reported via IsDuplicate by the caller.
func ReassignVote(db *gorm.DB, voteID, newPostID int64) error {
	return db.Model(&domain.Vote{}).Where("id = ?", voteID).
		Update("post_id", newPostID).Error
}

// DeleteVote removes a single vote row.
func DeleteVote(db *gorm.DB, voteID int64) error {
	return db.Delete(&domain.Vote{}, "id = ?", voteID).Error
}

// ReassignAttachments bulk-moves attachment ownership from the source
// posts to the target post and returns the number of rows moved.
func ReassignAttachments(db *gorm.DB, sourcePostIDs []int64, targetPostID int64) (int64, error) {
	if len(sourcePostIDs) == 0 {
		return 0, nil
	}
	res := db.Model(&domain.Attachment{}).
		Where("content_type = ? AND content_id IN ?", domain.ContentTypePost, sourcePostIDs).
		Update("content_id", targetPostID)
	return res.RowsAffected, res.Error
}

// CountAttachments returns the number of attachments owned by a post.
func CountAttachments(db *gorm.DB, postID int64) (int64, error) {
	var n int64
	err := db.Model(&domain.Attachment{}).
		Where("content_type = ? AND content_id = ?", domain.ContentTypePost, postID).
		Count(&n).Error
	return n, err
}

// BookmarksOnPosts returns bookmark rows pointing at any of the given posts.
func BookmarksOnPosts(db *gorm.DB, postIDs []int64) ([]domain.Bookmark, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	var out []domain.Bookmark
	err := db.Where("post_id IN ?", postIDs).Order("id ASC").Find(&out).Error
	return out, err
}

// ReassignBookmark points one bookmark at a new post. Duplicate-key
// failures are expected when the user bookmarked both source and target.
func ReassignBookmark(db *gorm.DB, bookmarkID, newPostID int64) error {
	return db.Model(&domain.Bookmark{}).Where("id = ?", bookmarkID).
		Update("post_id", newPostID).Error
}

// DeleteBookmark removes a single bookmark row.
func DeleteBookmark(db *gorm.DB, bookmarkID int64) error {
	return db.Delete(&domain.Bookmark{}, "id = ?", bookmarkID).Error
}
