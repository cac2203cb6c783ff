// PostEditor orchestrates editing an existing post: it delegates body
// handling to ContentPreparer, decides whether to stamp a visible "last
// edited" marker and/or write a history snapshot, optionally cascades
// into the owning thread's metadata through a nested ThreadEditor, and
// persists everything atomically.
//
// Session shape per edit: configure (SetMessage & friends) → Validate →
// Save. Spam classification runs inside Validate, before the transaction
// opens, so no lock is held across it.
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
	"github.com/quillforum/backend/internal/spam"
)

// EditorOptions are the global edit-behavior knobs, wired from config.
type EditorOptions struct {
	// EditLogDisplay enables the visible "last edited" marker.
	EditLogDisplay bool
	// EditLogGrace is how long after a post's creation an edit may still
	// go unmarked (quick fixes).
	EditLogGrace time.Duration
	// EditHistory enables pre-edit body snapshots.
	EditHistory bool
	// MaxMessageRunes caps edited bodies; 0 disables the cap.
	MaxMessageRunes int
}

// PostEditor edits one post. Construct with NewPostEditor per edit
// session; a session saves at most once.
type PostEditor struct {
	DB     *gorm.DB
	Post   *domain.Post
	Actor  *domain.User
	Now    time.Time
	Opts   EditorOptions
	Spam   spam.Checker
	Alerts AlertDispatcher
	Log    zerolog.Logger
	IP     string

	oldMessage      *string
	silentEdit      bool
	suppressHistory bool
	graceOverride   *time.Duration
	alert           AlertOptions
	threadEditor    *ThreadEditor
	preparer        *ContentPreparer
	validated       ValidationErrors
	saved           bool
}

// NewPostEditor returns an editor for post acting as actor at now. The
// post must be hydrated with its thread relation.
func NewPostEditor(db *gorm.DB, post *domain.Post, actor *domain.User, now time.Time, opts EditorOptions) *PostEditor {
	return &PostEditor{
		DB:    db,
		Post:  post,
		Actor: actor,
		Now:   now,
		Opts:  opts,
	}
}

// SetMessage replaces the post body. Only the first dirtying call in a
// session snapshots the pre-edit body for history; repeated calls keep
// the original snapshot. Returns field errors from preparation.
func (e *PostEditor) SetMessage(message string) ValidationErrors {
	prep := &ContentPreparer{DB: e.DB, Actor: e.Actor, Now: e.Now, Spam: e.Spam, Log: e.Log}
	body, errs := prep.Prepare(message, FormatOptions{MaxRunes: e.Opts.MaxMessageRunes}, true)
	if errs.HasErrors() {
		return errs
	}
	if e.oldMessage == nil && body != e.Post.Message {
		old := e.Post.Message
		e.oldMessage = &old
	}
	e.Post.Message = body
	e.Post.Embeds = prep.EmbedsJSON()
	e.preparer = prep
	return nil
}

// SetSilent suppresses the visible edit marker for this edit.
func (e *PostEditor) SetSilent(silent bool) { e.silentEdit = silent }

// SuppressHistory skips the history snapshot for this edit.
func (e *PostEditor) SuppressHistory() { e.suppressHistory = true }

// SetGraceOverride replaces the configured marker grace window for this
// edit only.
func (e *PostEditor) SetGraceOverride(d time.Duration) { e.graceOverride = &d }

// SetAlert requests a moderation alert to the post author on save.
func (e *PostEditor) SetAlert(opts AlertOptions) { e.alert = opts }

// ThreadEditor returns the nested editor for the owning thread's
// metadata, creating it on first call. Only the thread's first post may
// cascade into thread edits.
func (e *PostEditor) ThreadEditor() (*ThreadEditor, error) {
	if e.threadEditor != nil {
		return e.threadEditor, nil
	}
	if e.Post.Thread == nil {
		return nil, ErrThreadNotFound
	}
	if !e.Post.IsFirstPost() {
		return nil, nil
	}
	e.threadEditor = NewThreadEditor(e.Post.Thread, e.Actor, e.Now)
	return e.threadEditor, nil
}

// MessageChanged reports whether this session dirtied the body.
func (e *PostEditor) MessageChanged() bool { return e.oldMessage != nil }

// Validate aggregates field errors from the post and the nested thread
// editor, and runs the spam classifier. Must be called (directly or via
// Save) before persisting.
func (e *PostEditor) Validate(ctx context.Context) ValidationErrors {
	errs := ValidationErrors{}

	if e.MessageChanged() && e.preparer != nil {
		if spamErrs := e.preparer.CheckForSpam(ctx, e.Post, e.Post.Thread); spamErrs.HasErrors() {
			errs.Merge(spamErrs)
		}
	}
	if e.threadEditor != nil {
		errs.Merge(e.threadEditor.Validate())
	}

	e.validated = errs
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Save validates and persists the edit. The post save, history insert,
// and thread save share one transaction; any failure aborts all three.
// Returns ValidationErrors (as error) for expected failures.
func (e *PostEditor) Save(ctx context.Context) error {
	tr := otel.Tracer("services/PostEditor")
	ctx, span := tr.Start(ctx, "Save",
		trace.WithAttributes(
			attribute.Int64("post.id", e.Post.ID),
			attribute.Int64("actor.id", e.Actor.ID),
		),
	)
	defer span.End()

	if e.saved {
		return ErrNotEditable
	}
	if errs := e.Validate(ctx); errs.HasErrors() {
		return errs
	}

	if e.MessageChanged() {
		e.applyEditStamps()
	}

	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if e.threadEditor != nil {
			e.threadEditor.SuppressModeratorLog(true)
		}

		if e.preparer != nil {
			if err := e.preparer.LogIP(tx, e.Post, ActionEdit, e.IP); err != nil {
				return err
			}
		}
		if err := repo.SavePost(tx, e.Post); err != nil {
			return err
		}

		if e.shouldLogHistory() {
			if err := repo.CreateEditHistory(tx, e.Post.ID, e.Actor.ID, e.Now, *e.oldMessage, e.IP); err != nil {
				return err
			}
		}

		if e.threadEditor != nil {
			e.threadEditor.SuppressModeratorLog(false)
			if err := e.threadEditor.saveTx(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.saved = true

	if e.alert.SendAlert && e.Alerts != nil &&
		e.Post.MessageState == domain.MessageStateVisible &&
		e.Actor.ID != e.Post.UserID {
		_ = e.Alerts.Send(ctx, ModerationAlert{
			RecipientID: e.Post.UserID,
			ContentType: domain.ContentTypePost,
			ContentID:   e.Post.ID,
			Action:      ActionEdit,
			Reason:      e.alert.Reason,
		})
	}
	return nil
}

// applyEditStamps bumps the edit count and decides whether the visible
// marker applies: globally enabled, not silenced, and past the grace
// window measured from the post's original creation.
func (e *PostEditor) applyEditStamps() {
	e.Post.EditCount++

	grace := e.Opts.EditLogGrace
	if e.graceOverride != nil {
		grace = *e.graceOverride
	}
	if e.Opts.EditLogDisplay && !e.silentEdit && e.Now.Sub(e.Post.PostDate) > grace {
		now := e.Now
		e.Post.LastEditDate = &now
		e.Post.LastEditUserID = e.Actor.ID
	}
}

func (e *PostEditor) shouldLogHistory() bool {
	return e.Opts.EditHistory && !e.suppressHistory && e.oldMessage != nil
}
