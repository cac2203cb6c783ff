// Package perms implements the permission oracle consumed by the content
// pipeline. The pipeline only ever asks yes/no visibility questions; rule
// evaluation lives here so services stay decoupled from policy.
package perms

import (
	"context"

	"github.com/quillforum/backend/internal/domain"
)

// Oracle answers content-visibility questions for a specific viewer.
// A nil viewer means a guest.
type Oracle interface {
	// CanViewPost reports whether viewer may see the post. The post must
	// be hydrated with its thread (and the thread's forum, when forum
	// policy applies).
	CanViewPost(ctx context.Context, post *domain.Post, viewer *domain.User) bool

	// CanViewThread reports whether viewer may see the thread itself.
	CanViewThread(ctx context.Context, thread *domain.Thread, viewer *domain.User) bool
}

// StateOracle is the default policy, derived purely from moderation
// states and the viewer's role:
//
//   - moderators see everything, including deleted content
//   - deleted content is otherwise hidden
//   - moderated content is visible to its own author (awaiting approval)
//   - visible content requires the whole chain (post, thread) visible
type StateOracle struct{}

// CanViewPost implements Oracle.
func (StateOracle) CanViewPost(_ context.Context, post *domain.Post, viewer *domain.User) bool {
	if post == nil {
		return false
	}
	if viewer != nil && viewer.IsModerator {
		return true
	}
	if post.Thread != nil && !threadVisibleTo(post.Thread, viewer) {
		return false
	}
	switch post.MessageState {
	case domain.MessageStateVisible:
		return true
	case domain.MessageStateModerated:
		return viewer != nil && viewer.ID == post.UserID
	default:
		return false
	}
}

// CanViewThread implements Oracle.
func (StateOracle) CanViewThread(_ context.Context, thread *domain.Thread, viewer *domain.User) bool {
	if thread == nil {
		return false
	}
	if viewer != nil && viewer.IsModerator {
		return true
	}
	return threadVisibleTo(thread, viewer)
}

func threadVisibleTo(thread *domain.Thread, viewer *domain.User) bool {
	switch thread.DiscussionState {
	case domain.MessageStateVisible:
		return true
	case domain.MessageStateModerated:
		return viewer != nil && viewer.ID == thread.UserID
	default:
		return false
	}
}
