// PostMerger consolidates N source posts into one target post: votes,
// reactions, and attachments migrate; thread and forum counters rebuild
// from scratch; drained source threads are removed; edit history keeps
// the combined context; and the search index is told to drop the merged
// sources.
//
// Everything up to and including the counter rebuilds runs in a single
// transaction; a failure at any step rolls the whole merge back. Alerts,
// the moderator-action log row, and the re-index enqueue are issued only
// after commit.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/jobs"
	"github.com/quillforum/backend/internal/perms"
	"github.com/quillforum/backend/internal/repo"
)

// MergerOptions are the global merge-behavior knobs, wired from config.
type MergerOptions struct {
	// EditHistory enables the combined-context history entry.
	EditHistory bool
	// EditLogDisplay enables the visible edit marker on the target.
	EditLogDisplay bool
	// EditLogDelay: the marker is stamped when the merge happens within
	// this window of the target's creation.
	EditLogDelay time.Duration
}

// MergeOptions configure one merge call.
type MergeOptions struct {
	// NewMessage, when set, replaces the target's body as part of the
	// merge (normalized, no spam pass; merging is a moderator action).
	NewMessage *string
	// Alert controls moderation alerts to source authors.
	Alert       bool
	AlertReason string
}

// test seam: target validation before the merged target persists.
var validateMergeTarget = func(p *domain.Post) ValidationErrors {
	if strings.TrimSpace(p.Message) == "" {
		errs := ValidationErrors{}
		errs.Add("message", "please enter a valid message")
		return errs
	}
	return nil
}

// PostMerger performs one merge. One merger per operation.
type PostMerger struct {
	DB     *gorm.DB
	Actor  *domain.User
	Now    time.Time
	Perms  perms.Oracle
	Alerts AlertDispatcher
	Queue  jobs.Queue
	Log    zerolog.Logger
	Opts   MergerOptions
}

// authorAlert is the pre-computed alert decision for one source author.
type authorAlert struct {
	user          *domain.User
	sourceVisible bool
	visibleBefore bool
	visibleAfter  bool
}

// Merge consolidates sources into target. Preconditions (non-empty
// source list, hydrated thread relations, target not among sources) are
// hard errors; the caller validates inputs first.
func (m *PostMerger) Merge(ctx context.Context, target *domain.Post, sources []*domain.Post, opts MergeOptions) error {
	tr := otel.Tracer("services/PostMerger")
	ctx, span := tr.Start(ctx, "Merge",
		trace.WithAttributes(
			attribute.Int64("target.id", target.ID),
			attribute.Int("sources", len(sources)),
		),
	)
	defer span.End()

	if len(sources) == 0 {
		return ErrNoSourcePosts
	}
	if target.Thread == nil {
		return ErrThreadNotFound
	}
	sourceIDs := make([]int64, 0, len(sources))
	for _, s := range sources {
		if s.ID == target.ID {
			return ErrTargetIsSource
		}
		if s.Thread == nil {
			return ErrThreadNotFound
		}
		sourceIDs = append(sourceIDs, s.ID)
	}

	originalMessage := target.Message
	if opts.NewMessage != nil {
		target.Message = normalizeBody(*opts.NewMessage)
	}

	// Alert pre-computation happens against pre-merge state, outside the
	// transaction: only permission reads, no writes.
	var alerts []authorAlert
	if opts.Alert {
		var err error
		alerts, err = m.precomputeAlerts(ctx, target, sources)
		if err != nil {
			return err
		}
	}

	deltas := make(map[int64]int64) // per-user reaction score deltas

	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.migrateVotes(tx, target, sources); err != nil {
			return err
		}
		if err := m.migrateReactions(tx, target, sources, deltas); err != nil {
			return err
		}
		if err := m.migrateAttachments(tx, target, sourceIDs); err != nil {
			return err
		}
		if err := m.migrateBookmarks(tx, target, sourceIDs); err != nil {
			return err
		}

		// Sources with position 0 flag their threads for the aggregate
		// rebuild even when the thread survives.
		firstPostThreads := make(map[int64]*domain.Thread)
		for _, s := range sources {
			if s.IsFirstPost() {
				firstPostThreads[s.ThreadID] = s.Thread
			}
			deleter := &PostDeleter{DB: tx, Post: s, Actor: m.Actor, Now: m.Now}
			if err := deleter.removeRowTx(tx); err != nil {
				return err
			}
		}

		if errs := validateMergeTarget(target); errs.HasErrors() {
			return errs
		}
		if err := repo.SavePost(tx, target); err != nil {
			return err
		}

		if err := m.rebuildTarget(tx, target); err != nil {
			return err
		}
		if err := m.cleanupSourceThreads(tx, target, sources); err != nil {
			return err
		}
		if err := m.rebuildAggregates(tx, target, firstPostThreads); err != nil {
			return err
		}

		for userID, delta := range deltas {
			if err := repo.AdjustUserReactionScore(tx, userID, delta); err != nil {
				return err
			}
		}

		if err := m.reconcileHistory(tx, target, sources, originalMessage); err != nil {
			return err
		}

		// Final idempotent maintenance pass on the target's thread.
		if err := repo.RebuildThreadPositions(tx, target.ThreadID); err != nil {
			return err
		}
		authorIDs, err := threadAuthorIDs(tx, target.ThreadID)
		if err != nil {
			return err
		}
		if err := repo.RebuildUserMessageCounts(tx, authorIDs); err != nil {
			return err
		}
		return repo.RebuildPostReactionScore(tx, target.ID)
	})
	if err != nil {
		if opts.NewMessage != nil {
			target.Message = originalMessage
		}
		return err
	}

	m.sendMergeAlerts(ctx, target, alerts, opts.AlertReason)
	m.afterCommit(ctx, target, sourceIDs)
	return nil
}

// precomputeAlerts evaluates, under each source author's own permission
// context, whether the source was visible to them before the move and
// whether the target will be after. Evaluations are memoized per thread
// and author since merges typically drain whole threads.
func (m *PostMerger) precomputeAlerts(ctx context.Context, target *domain.Post, sources []*domain.Post) ([]authorAlert, error) {
	users := make(map[int64]*domain.User)
	type viewKey struct{ threadID, userID int64 }
	threadViews := make(map[viewKey]bool)

	canViewThread := func(t *domain.Thread, u *domain.User) bool {
		k := viewKey{t.ID, u.ID}
		if v, ok := threadViews[k]; ok {
			return v
		}
		v := m.Perms.CanViewThread(ctx, t, u)
		threadViews[k] = v
		return v
	}

	var out []authorAlert
	for _, s := range sources {
		if s.UserID == 0 {
			continue
		}
		author, ok := users[s.UserID]
		if !ok {
			var err error
			author, err = repo.GetUser(ctx, m.DB, s.UserID)
			if err != nil {
				if err == repo.ErrNotFound {
					users[s.UserID] = nil
					continue
				}
				return nil, err
			}
			users[s.UserID] = author
		}
		if author == nil {
			continue
		}
		out = append(out, authorAlert{
			user:          author,
			sourceVisible: s.IsVisible() && s.Thread.IsVisible(),
			visibleBefore: canViewThread(s.Thread, author) && m.Perms.CanViewPost(ctx, s, author),
			visibleAfter:  canViewThread(target.Thread, author) && m.Perms.CanViewPost(ctx, target, author),
		})
	}
	return out, nil
}

// migrateVotes moves vote rows to the target, collapsing duplicates: a
// user voting on several merged sources counts once.
func (m *PostMerger) migrateVotes(tx *gorm.DB, target *domain.Post, sources []*domain.Post) error {
	voters, err := repo.VoteUserIDsOnPost(tx, target.ID)
	if err != nil {
		return err
	}
	for _, s := range sources {
		votes, err := repo.VotesOnPost(tx, s.ID)
		if err != nil {
			return err
		}
		for _, v := range votes {
			if voters[v.UserID] {
				if err := repo.DeleteVote(tx, v.ID); err != nil {
					return err
				}
				continue
			}
			if err := repo.ReassignVote(tx, v.ID, target.ID); err != nil {
				if repo.IsDuplicate(err) {
					if derr := repo.DeleteVote(tx, v.ID); derr != nil {
						return derr
					}
					voters[v.UserID] = true
					continue
				}
				return err
			}
			voters[v.UserID] = true
		}
	}
	return nil
}

// migrateReactions reassigns reaction rows to the target, dropping
// duplicates and self-reactions, recomputing is_counted against the
// target's current visibility, and accumulating per-user score deltas.
func (m *PostMerger) migrateReactions(tx *gorm.DB, target *domain.Post, sources []*domain.Post, deltas map[int64]int64) error {
	reactors, err := repo.ReactionUserIDsOnPost(tx, target.ID)
	if err != nil {
		return err
	}
	targetCounted := target.IsVisible() && target.Thread.IsVisible()

	for _, s := range sources {
		reactions, err := repo.ReactionsOnPost(tx, s.ID)
		if err != nil {
			return err
		}
		for _, r := range reactions {
			drop := reactors[r.UserID] || r.UserID == target.UserID
			if drop {
				if r.IsCounted {
					deltas[r.ContentUserID] -= r.Score
				}
				if err := repo.DeleteReaction(tx, r.ID); err != nil {
					return err
				}
				continue
			}

			if r.IsCounted {
				deltas[r.ContentUserID] -= r.Score
			}
			if targetCounted {
				deltas[target.UserID] += r.Score
			}
			if err := repo.ReassignReaction(tx, r.ID, target.ID, target.UserID, targetCounted); err != nil {
				return err
			}
			reactors[r.UserID] = true
		}
	}
	return nil
}

func (m *PostMerger) migrateAttachments(tx *gorm.DB, target *domain.Post, sourceIDs []int64) error {
	moved, err := repo.ReassignAttachments(tx, sourceIDs, target.ID)
	if err != nil {
		return err
	}
	target.AttachCount += int(moved)
	return nil
}

// migrateBookmarks is best-effort and duplicate-ignoring: a user who
// bookmarked both a source and the target keeps the target bookmark.
func (m *PostMerger) migrateBookmarks(tx *gorm.DB, target *domain.Post, sourceIDs []int64) error {
	marks, err := repo.BookmarksOnPosts(tx, sourceIDs)
	if err != nil {
		return err
	}
	targetMarks, err := repo.BookmarksOnPosts(tx, []int64{target.ID})
	if err != nil {
		return err
	}
	marked := make(map[int64]bool, len(targetMarks))
	for _, b := range targetMarks {
		marked[b.UserID] = true
	}
	for _, b := range marks {
		if marked[b.UserID] {
			if err := repo.DeleteBookmark(tx, b.ID); err != nil {
				return err
			}
			continue
		}
		if err := repo.ReassignBookmark(tx, b.ID, target.ID); err != nil {
			if repo.IsDuplicate(err) {
				if derr := repo.DeleteBookmark(tx, b.ID); derr != nil {
					return derr
				}
				continue
			}
			return err
		}
		marked[b.UserID] = true
	}
	return nil
}

// rebuildTarget recomputes the target thread's counters and enforces the
// first-post visibility invariant: a thread's first post can never stay
// hidden while other content depends on it.
func (m *PostMerger) rebuildTarget(tx *gorm.DB, target *domain.Post) error {
	if err := repo.RebuildThreadCounters(tx, target.Thread); err != nil {
		return err
	}
	if target.Thread.FirstPostID == target.ID && !target.IsVisible() {
		target.MessageState = domain.MessageStateVisible
		return repo.FastUpdatePost(tx, target.ID, map[string]any{
			"message_state": domain.MessageStateVisible,
		})
	}
	return nil
}

// cleanupSourceThreads rebuilds each distinct source thread; drained
// threads (first post merged away, no replies left) are removed, the
// rest get fresh positions and per-user counters.
func (m *PostMerger) cleanupSourceThreads(tx *gorm.DB, target *domain.Post, sources []*domain.Post) error {
	seen := map[int64]bool{target.ThreadID: true}
	for _, s := range sources {
		if seen[s.ThreadID] {
			continue
		}
		seen[s.ThreadID] = true
		thread := s.Thread

		if err := repo.RebuildThreadCounters(tx, thread); err != nil {
			return err
		}
		if thread.FirstPostID == 0 {
			if err := repo.HardDeleteThreadRows(tx, thread.ID); err != nil {
				return err
			}
			if err := repo.RebuildForumCounters(tx, thread.ForumID); err != nil {
				return err
			}
			continue
		}
		if err := repo.RebuildThreadPositions(tx, thread.ID); err != nil {
			return err
		}
		authorIDs, err := threadAuthorIDs(tx, thread.ID)
		if err != nil {
			return err
		}
		if err := repo.RebuildUserMessageCounts(tx, authorIDs); err != nil {
			return err
		}
		if err := repo.RebuildForumCounters(tx, thread.ForumID); err != nil {
			return err
		}
	}
	return nil
}

// rebuildAggregates refreshes the activity rollups for any thread whose
// first post was merged away, and for the target's thread when the
// target sits in the first-post slot.
func (m *PostMerger) rebuildAggregates(tx *gorm.DB, target *domain.Post, firstPostThreads map[int64]*domain.Thread) error {
	threadIDs := make(map[int64]bool)
	for id := range firstPostThreads {
		threadIDs[id] = true
	}
	if target.Thread.FirstPostID == target.ID {
		threadIDs[target.ThreadID] = true
	}
	for id := range threadIDs {
		// Drained threads are gone already; metrics rebuild on a missing
		// thread is a harmless no-op over zero rows.
		if err := repo.RebuildReplyMetrics(tx, id); err != nil {
			return err
		}
		if err := repo.RebuildReactionMetrics(tx, id); err != nil {
			return err
		}
	}
	return nil
}

// reconcileHistory always snapshots the target's pre-merge body; when
// enabled it additionally snapshots the combined context (original body
// plus every source body in merge order) so the merged-away content
// stays recoverable.
func (m *PostMerger) reconcileHistory(tx *gorm.DB, target *domain.Post, sources []*domain.Post, originalMessage string) error {
	if err := repo.CreateEditHistory(tx, target.ID, m.Actor.ID, m.Now, originalMessage, ""); err != nil {
		return err
	}

	if m.Opts.EditLogDisplay && m.Now.Sub(target.PostDate) < m.Opts.EditLogDelay {
		now := m.Now
		target.LastEditDate = &now
		target.LastEditUserID = m.Actor.ID
		target.EditCount++
		if err := repo.FastUpdatePost(tx, target.ID, map[string]any{
			"last_edit_date":    now,
			"last_edit_user_id": m.Actor.ID,
			"edit_count":        target.EditCount,
		}); err != nil {
			return err
		}
	}

	if !m.Opts.EditHistory {
		return nil
	}
	parts := []string{originalMessage}
	for _, s := range sources {
		parts = append(parts, s.Message)
	}
	combined := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if combined == target.Message {
		return nil
	}
	return repo.CreateEditHistory(tx, target.ID, m.Actor.ID, m.Now, combined, "")
}

// sendMergeAlerts notifies each distinct source author at most once.
func (m *PostMerger) sendMergeAlerts(ctx context.Context, target *domain.Post, alerts []authorAlert, reason string) {
	if m.Alerts == nil {
		return
	}
	sent := make(map[int64]bool)
	for _, a := range alerts {
		if a.user.ID == m.Actor.ID || sent[a.user.ID] {
			continue
		}
		if !a.sourceVisible || (!a.visibleBefore && !a.visibleAfter) {
			continue
		}
		sent[a.user.ID] = true
		_ = m.Alerts.Send(ctx, ModerationAlert{
			RecipientID: a.user.ID,
			ContentType: domain.ContentTypePost,
			ContentID:   target.ID,
			Action:      ActionMerge,
			Reason:      reason,
		})
	}
}

// afterCommit issues the deliberately non-transactional side effects:
// search re-index for the removed sources and the moderator-action log.
func (m *PostMerger) afterCommit(ctx context.Context, target *domain.Post, sourceIDs []int64) {
	if m.Queue != nil {
		err := m.Queue.Enqueue(ctx, jobs.TypeSearchReindex, jobs.SearchReindexPayload{
			DeletePostIDs: sourceIDs,
			IndexPostIDs:  []int64{target.ID},
		})
		if err != nil {
			m.Log.Warn().Err(err).Msg("reindex enqueue failed")
		}
	}

	ids := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		ids = append(ids, fmt.Sprintf("%d", id))
	}
	detail := "merged posts: " + strings.Join(ids, ", ")
	if err := repo.LogModeratorAction(m.DB.WithContext(ctx), m.Actor.ID,
		domain.ContentTypePost, target.ID, ActionMerge, detail, m.Now); err != nil {
		m.Log.Warn().Err(err).Msg("moderator log write failed")
	}
}
