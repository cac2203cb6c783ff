// ThreadEditor edits a thread's metadata (title, prefix, custom fields).
// It never persists on its own: it is held by a PostEditor (first-post
// cascade) or driven directly by a caller that owns the transaction.
package services

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/repo"
)

const maxTitleRunes = 150

// ThreadEditor mutates a thread in memory and saves via saveTx inside
// the owning operation's transaction.
type ThreadEditor struct {
	Thread *domain.Thread
	Actor  *domain.User
	Now    time.Time

	dirty          bool
	titleChanged   bool
	suppressModLog bool
	errs           ValidationErrors
}

// NewThreadEditor returns an editor over thread acting as actor at now.
func NewThreadEditor(thread *domain.Thread, actor *domain.User, now time.Time) *ThreadEditor {
	return &ThreadEditor{Thread: thread, Actor: actor, Now: now, errs: ValidationErrors{}}
}

// SetTitle replaces the thread title.
func (te *ThreadEditor) SetTitle(title string) {
	title = strings.TrimSpace(title)
	if title == te.Thread.Title {
		return
	}
	if title == "" {
		te.errs.Add("title", "please enter a valid title")
		return
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		te.errs.Add("title", "title is too long")
		return
	}
	te.Thread.Title = title
	te.dirty = true
	te.titleChanged = true
}

// SetPrefix replaces the thread prefix.
func (te *ThreadEditor) SetPrefix(prefix string) {
	prefix = strings.TrimSpace(prefix)
	if prefix == te.Thread.Prefix {
		return
	}
	te.Thread.Prefix = prefix
	te.dirty = true
}

// SetCustomFields replaces the thread's custom field blob.
func (te *ThreadEditor) SetCustomFields(fields map[string]string) {
	raw, err := json.Marshal(fields)
	if err != nil {
		te.errs.Add("custom_fields", "custom fields could not be encoded")
		return
	}
	if string(raw) == te.Thread.CustomFields {
		return
	}
	te.Thread.CustomFields = string(raw)
	te.dirty = true
}

// SuppressModeratorLog toggles moderator-action logging for the next
// save. The post editor suppresses it while the post itself saves so the
// cascade produces a single audit row.
func (te *ThreadEditor) SuppressModeratorLog(suppress bool) { te.suppressModLog = suppress }

// Validate returns the field errors accumulated while configuring.
func (te *ThreadEditor) Validate() ValidationErrors {
	if te.errs.HasErrors() {
		return te.errs
	}
	return nil
}

// saveTx persists the thread on the shared transaction handle and writes
// the moderator-action row unless suppressed.
func (te *ThreadEditor) saveTx(tx *gorm.DB) error {
	if !te.dirty {
		return nil
	}
	if err := repo.SaveThread(tx, te.Thread); err != nil {
		return err
	}
	if !te.suppressModLog && te.titleChanged && te.Actor.ID != te.Thread.UserID {
		return repo.LogModeratorAction(tx, te.Actor.ID, domain.ContentTypeThread,
			te.Thread.ID, "title_edit", te.Thread.Title, te.Now)
	}
	return nil
}
