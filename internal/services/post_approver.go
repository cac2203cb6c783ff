// PostApprover transitions a post out of the moderation queue. Approval
// is a no-op unless the post is exactly in moderated state; on success
// the post becomes visible and a reply notification pass runs over the
// approved content with a bounded inline budget.
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

// PostApprover approves one post.
type PostApprover struct {
	DB       *gorm.DB
	Post     *domain.Post
	Actor    *domain.User
	Now      time.Time
	Notifier *Notifier
	Log      zerolog.Logger
}

// NewPostApprover returns an approver for post acting as actor at now.
func NewPostApprover(db *gorm.DB, post *domain.Post, actor *domain.User, now time.Time) *PostApprover {
	return &PostApprover{DB: db, Post: post, Actor: actor, Now: now}
}

// Approve returns false without touching anything when the post is not
// moderated. On success the state change, counter refresh, and audit row
// persist atomically; notification fan-out follows outside the
// transaction.
func (a *PostApprover) Approve(ctx context.Context) (bool, error) {
	tr := otel.Tracer("services/PostApprover")
	ctx, span := tr.Start(ctx, "Approve",
		trace.WithAttributes(attribute.Int64("post.id", a.Post.ID)),
	)
	defer span.End()

	if a.Post.MessageState != domain.MessageStateModerated {
		return false, nil
	}
	if a.Post.Thread == nil {
		return false, ErrThreadNotFound
	}

	err := a.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a.Post.MessageState = domain.MessageStateVisible
		if err := repo.SavePost(tx, a.Post); err != nil {
			return err
		}
		if err := repo.RebuildUserMessageCounts(tx, []int64{a.Post.UserID}); err != nil {
			return err
		}
		if err := repo.RebuildForumCounters(tx, a.Post.Thread.ForumID); err != nil {
			return err
		}
		return repo.LogModeratorAction(tx, a.Actor.ID, domain.ContentTypePost,
			a.Post.ID, ActionApprove, "", a.Now)
	})
	if err != nil {
		// Keep the in-memory entity honest after a rollback.
		a.Post.MessageState = domain.MessageStateModerated
		return false, err
	}

	if a.Notifier != nil {
		if nerr := a.Notifier.NotifyPost(ctx, a.Post, NotifyActionReply); nerr != nil {
			a.Log.Warn().Err(nerr).Int64("post_id", a.Post.ID).Msg("approve notification pass failed")
		}
	}
	return true, nil
}
