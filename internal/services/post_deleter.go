// PostDeleter soft- or hard-deletes a post. Deleting a thread's first
// post cascades to the whole thread; callers can ask WasThreadDeleted to
// redirect appropriately. The optional moderation alert goes out only
// when the delete succeeded, the post was visible immediately before,
// alerting was requested, and the actor is not the author.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/repo"
)

// DeleteKind selects soft (reversible state change) or hard (row
// removal) deletion.
type DeleteKind string

const (
	DeleteSoft DeleteKind = "soft"
	DeleteHard DeleteKind = "hard"
)

// PostDeleter deletes one post. One deleter per operation.
type PostDeleter struct {
	DB     *gorm.DB
	Post   *domain.Post
	Actor  *domain.User
	Now    time.Time
	Alerts AlertDispatcher
	Log    zerolog.Logger

	threadDeleted bool
}

// NewPostDeleter returns a deleter for post acting as actor at now. The
// post must be hydrated with its thread relation.
func NewPostDeleter(db *gorm.DB, post *domain.Post, actor *domain.User, now time.Time) *PostDeleter {
	return &PostDeleter{DB: db, Post: post, Actor: actor, Now: now}
}

// WasThreadDeleted reports whether the delete cascaded to the whole
// thread.
func (d *PostDeleter) WasThreadDeleted() bool { return d.threadDeleted }

// Delete performs the deletion inside one transaction and dispatches the
// moderation alert afterwards when the alert conditions hold.
func (d *PostDeleter) Delete(ctx context.Context, kind DeleteKind, reason string, opts AlertOptions) error {
	tr := otel.Tracer("services/PostDeleter")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.Int64("post.id", d.Post.ID),
			attribute.String("kind", string(kind)),
		),
	)
	defer span.End()

	if d.Post.Thread == nil {
		return ErrThreadNotFound
	}

	wasVisible := d.Post.IsVisible()

	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if d.Post.IsFirstPost() {
			d.threadDeleted = true
			return d.deleteThreadTx(tx, kind, reason)
		}
		return d.deletePostTx(tx, kind, reason)
	})
	if err != nil {
		return err
	}

	if opts.SendAlert && d.Alerts != nil && wasVisible && d.Actor.ID != d.Post.UserID {
		_ = d.Alerts.Send(ctx, ModerationAlert{
			RecipientID: d.Post.UserID,
			ContentType: d.alertContentType(),
			ContentID:   d.alertContentID(),
			Action:      ActionDelete,
			Reason:      reason,
		})
	}
	return nil
}

func (d *PostDeleter) alertContentType() string {
	if d.threadDeleted {
		return domain.ContentTypeThread
	}
	return domain.ContentTypePost
}

func (d *PostDeleter) alertContentID() int64 {
	if d.threadDeleted {
		return d.Post.ThreadID
	}
	return d.Post.ID
}

// deleteThreadTx handles the first-post cascade: the thread is deleted
// instead of the post.
func (d *PostDeleter) deleteThreadTx(tx *gorm.DB, kind DeleteKind, reason string) error {
	thread := d.Post.Thread

	switch kind {
	case DeleteHard:
		authorIDs, err := threadAuthorIDs(tx, thread.ID)
		if err != nil {
			return err
		}
		if err := uncountThreadReactions(tx, thread.ID); err != nil {
			return err
		}
		if err := repo.HardDeleteThreadRows(tx, thread.ID); err != nil {
			return err
		}
		if err := repo.RebuildUserMessageCounts(tx, authorIDs); err != nil {
			return err
		}
	default:
		thread.DiscussionState = domain.MessageStateDeleted
		if err := repo.SaveThread(tx, thread); err != nil {
			return err
		}
		if err := repo.RecordDeletion(tx, domain.ContentTypeThread, thread.ID, d.Actor, reason, d.Now); err != nil {
			return err
		}
		authorIDs, err := threadAuthorIDs(tx, thread.ID)
		if err != nil {
			return err
		}
		if err := repo.RebuildUserMessageCounts(tx, authorIDs); err != nil {
			return err
		}
	}

	return repo.RebuildForumCounters(tx, thread.ForumID)
}

// deletePostTx handles a non-first post.
func (d *PostDeleter) deletePostTx(tx *gorm.DB, kind DeleteKind, reason string) error {
	post := d.Post
	thread := post.Thread

	switch kind {
	case DeleteHard:
		if err := d.removeRowTx(tx); err != nil {
			return err
		}
		if err := repo.RebuildThreadPositions(tx, thread.ID); err != nil {
			return err
		}
	default:
		post.MessageState = domain.MessageStateDeleted
		if err := repo.SavePost(tx, post); err != nil {
			return err
		}
		if err := repo.RecordDeletion(tx, domain.ContentTypePost, post.ID, d.Actor, reason, d.Now); err != nil {
			return err
		}
	}

	if err := repo.RebuildThreadCounters(tx, thread); err != nil {
		return err
	}
	if err := repo.RebuildUserMessageCounts(tx, []int64{post.UserID}); err != nil {
		return err
	}
	return repo.RebuildForumCounters(tx, thread.ForumID)
}

// removeRowTx hard-deletes the post row and its dependents on the shared
// transaction, reversing counted reaction scores first. The merger calls
// this for source posts after migrating what survives; thread-level
// cleanup stays with the caller.
func (d *PostDeleter) removeRowTx(tx *gorm.DB) error {
	reactions, err := repo.ReactionsOnPost(tx, d.Post.ID)
	if err != nil {
		return err
	}
	for _, r := range reactions {
		if r.IsCounted {
			if err := repo.AdjustUserReactionScore(tx, r.ContentUserID, -r.Score); err != nil {
				return err
			}
		}
	}
	if err := repo.DeletePostDependents(tx, []int64{d.Post.ID}); err != nil {
		return err
	}
	return repo.DeletePostRow(tx, d.Post.ID)
}

func threadAuthorIDs(tx *gorm.DB, threadID int64) ([]int64, error) {
	var ids []int64
	err := tx.Model(&domain.Post{}).
		Where("thread_id = ?", threadID).
		Distinct().
		Pluck("user_id", &ids).Error
	return ids, err
}

// uncountThreadReactions reverses the counted reaction scores for every
// post in a thread ahead of hard row removal.
func uncountThreadReactions(tx *gorm.DB, threadID int64) error {
	var reactions []domain.Reaction
	err := tx.
		Joins("JOIN posts ON posts.id = reactions.post_id").
		Where("posts.thread_id = ? AND reactions.is_counted = ?", threadID, true).
		Find(&reactions).Error
	if err != nil {
		return err
	}
	for _, r := range reactions {
		if err := repo.AdjustUserReactionScore(tx, r.ContentUserID, -r.Score); err != nil {
			return err
		}
	}
	return nil
}
