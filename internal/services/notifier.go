// Notifier fans out notifications for a post action: quoted users,
// mentioned users, forum watchers, and (when the post is the thread's
// current last post) thread watchers. Each recipient is visited once and
// each channel (alert, email) fires at most once per recipient no matter
// how many strategies target them. Visibility is re-evaluated as each
// recipient before anything is sent.
//
// Execution is time-bounded: when the inline budget runs out, the
// remaining work is handed to the job queue, which re-enters this
// component with the original post id, action kind, and the recipients
// already handled.
package services

import (
	"context"
	"encoding/json"
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

// candidate is one potential recipient produced by a strategy.
type candidate struct {
	userID    int64
	sendAlert bool
	sendEmail bool
	reason    string
}

// Notifier runs one notification pass. Bookkeeping is scoped to a single
// run; resumption re-seeds it from the job payload.
type Notifier struct {
	DB     *gorm.DB
	Perms  perms.Oracle
	Queue  jobs.Queue
	Mailer Mailer
	Log    zerolog.Logger

	// Budget bounds inline execution; zero means unbounded.
	Budget time.Duration
	// Clock supplies wall time for budget checks; defaults to time.Now.
	Clock func() time.Time

	alerted map[int64]bool
	emailed map[int64]bool
}

func (n *Notifier) now() time.Time {
	if n.Clock != nil {
		return n.Clock()
	}
	return time.Now()
}

func (n *Notifier) ensureMaps() {
	if n.alerted == nil {
		n.alerted = make(map[int64]bool)
	}
	if n.emailed == nil {
		n.emailed = make(map[int64]bool)
	}
}

// Seed pre-marks recipients already handled by an earlier (interrupted)
// run of the same pass.
func (n *Notifier) Seed(alerted, emailed []int64) {
	n.ensureMaps()
	for _, id := range alerted {
		n.alerted[id] = true
	}
	for _, id := range emailed {
		n.emailed[id] = true
	}
}

// MarkForumWatchersNotified pre-marks a forum's entire watcher set as
// already handled, so a forum-level digest mechanism does not double-send.
func (n *Notifier) MarkForumWatchersNotified(forumID int64) error {
	n.ensureMaps()
	watches, err := repo.ForumWatchers(n.DB, forumID)
	if err != nil {
		return err
	}
	for _, w := range watches {
		n.alerted[w.UserID] = true
		n.emailed[w.UserID] = true
	}
	return nil
}

// NotifyPost runs the fan-out for one post and action kind. The post
// must be hydrated with its thread.
func (n *Notifier) NotifyPost(ctx context.Context, post *domain.Post, action string) error {
	tr := otel.Tracer("services/Notifier")
	ctx, span := tr.Start(ctx, "NotifyPost",
		trace.WithAttributes(
			attribute.Int64("post.id", post.ID),
			attribute.String("action", action),
		),
	)
	defer span.End()

	if post.Thread == nil {
		return ErrThreadNotFound
	}
	n.ensureMaps()

	cands, err := n.buildCandidates(ctx, post)
	if err != nil {
		return err
	}

	var deadline time.Time
	if n.Budget > 0 {
		deadline = n.now().Add(n.Budget)
	}

	for i, c := range cands {
		if !deadline.IsZero() && n.now().After(deadline) {
			return n.handOff(ctx, post, action, cands[i:])
		}
		n.deliver(ctx, post, action, c)
	}
	return nil
}

// buildCandidates assembles the ordered strategy output: quotes,
// mentions, forum watchers, then thread watchers (last-post gated).
func (n *Notifier) buildCandidates(ctx context.Context, post *domain.Post) ([]candidate, error) {
	var out []candidate

	prep := &ContentPreparer{DB: n.DB, Now: n.now(), Log: n.Log}
	if _, errs := prep.Prepare(post.Message, FormatOptions{}, false); errs.HasErrors() {
		return nil, errs
	}
	captured := prep.Prepared()

	for _, q := range captured.Quotes {
		uid := q.UserID
		if uid == 0 {
			quoted, err := repo.GetPost(ctx, n.DB, q.PostID)
			if err != nil {
				if err == repo.ErrNotFound {
					continue // quoted content merged away or removed
				}
				return nil, err
			}
			uid = quoted.UserID
		}
		out = append(out, candidate{userID: uid, sendAlert: true, reason: "quote"})
	}

	for _, uid := range captured.MentionIDs {
		out = append(out, candidate{userID: uid, sendAlert: true, reason: "mention"})
	}

	forumWatches, err := repo.ForumWatchers(n.DB, post.Thread.ForumID)
	if err != nil {
		return nil, err
	}
	for _, w := range forumWatches {
		out = append(out, candidate{userID: w.UserID, sendAlert: w.SendAlert, sendEmail: w.SendEmail, reason: "forum_watch"})
	}

	if post.Thread.LastPostID == post.ID {
		threadWatches, err := repo.ThreadWatchers(n.DB, post.ThreadID)
		if err != nil {
			return nil, err
		}
		for _, w := range threadWatches {
			out = append(out, candidate{userID: w.UserID, sendAlert: true, sendEmail: w.EmailSubscribe, reason: "thread_watch"})
		}
	}
	return out, nil
}

// deliver sends at most one alert and one email to the candidate,
// re-checking visibility as that recipient first.
func (n *Notifier) deliver(ctx context.Context, post *domain.Post, action string, c candidate) {
	if c.userID == post.UserID {
		return
	}
	wantAlert := c.sendAlert && !n.alerted[c.userID]
	wantEmail := c.sendEmail && !n.emailed[c.userID]
	if !wantAlert && !wantEmail {
		return
	}

	user, err := repo.GetUser(ctx, n.DB, c.userID)
	if err != nil {
		if err != repo.ErrNotFound {
			n.Log.Warn().Err(err).Int64("user_id", c.userID).Msg("notify recipient load failed")
		}
		return
	}
	if !n.Perms.CanViewPost(ctx, post, user) {
		return
	}

	if wantAlert {
		n.alerted[c.userID] = true
		if err := repo.CreateUserAlert(n.DB, c.userID, domain.ContentTypePost, post.ID, action, c.reason, n.now().UTC()); err != nil {
			n.Log.Warn().Err(err).Int64("user_id", c.userID).Msg("alert insert failed")
		}
	}
	if wantEmail && n.Mailer != nil {
		n.emailed[c.userID] = true
		subject := post.Thread.Title
		if err := n.Mailer.Send(ctx, user, subject, post.Message); err != nil {
			n.Log.Warn().Err(err).Int64("user_id", c.userID).Msg("notify email failed")
		}
	}
}

// handOff enqueues the remainder of an over-budget pass.
func (n *Notifier) handOff(ctx context.Context, post *domain.Post, action string, rest []candidate) error {
	if n.Queue == nil {
		// No async path configured; finish inline despite the budget.
		for _, c := range rest {
			n.deliver(ctx, post, action, c)
		}
		return nil
	}
	payload := jobs.NotifyResumePayload{
		PostID:  post.ID,
		Action:  action,
		Alerted: keys(n.alerted),
		Emailed: keys(n.emailed),
	}
	return n.Queue.Enqueue(ctx, jobs.TypeNotifyResume, payload)
}

func keys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// NotifyResumeHandler returns the job handler that re-enters the
// notifier for an interrupted pass. build constructs a fresh Notifier
// per job so bookkeeping never leaks across runs.
func NotifyResumeHandler(db *gorm.DB, build func() *Notifier) jobs.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload jobs.NotifyResumePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		post, err := repo.GetPost(ctx, db, payload.PostID)
		if err != nil {
			if err == repo.ErrNotFound {
				return nil // content removed before the resume ran
			}
			return err
		}
		n := build()
		n.Seed(payload.Alerted, payload.Emailed)
		return n.NotifyPost(ctx, post, payload.Action)
	}
}
