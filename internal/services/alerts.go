// Moderation alerts and notification delivery seams.
//
// Alert-sending behavior is shared across the editor, deleter, and merger
// through one small value type plus a dispatcher interface, composed into
// each service as a field. Dispatch is best-effort and non-transactional:
// a failed alert never fails the primary operation.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/repo"
)

// Moderation action kinds carried on alerts and audit rows.
const (
	ActionEdit    = "edit"
	ActionDelete  = "delete"
	ActionMerge   = "merge"
	ActionApprove = "approve"
)

// Notification action kinds for the fan-out.
const (
	NotifyActionReply  = "reply"
	NotifyActionThread = "thread"
)

// ModerationAlert is the transient instruction handed to a dispatcher:
// which content was acted on, what happened, and an optional free-text
// reason shown to the author.
type ModerationAlert struct {
	RecipientID int64
	ContentType string
	ContentID   int64
	Action      string
	Reason      string
}

// AlertDispatcher delivers moderation alerts. Implementations must be
// safe to call outside the operation's transaction.
type AlertDispatcher interface {
	Send(ctx context.Context, alert ModerationAlert) error
}

// AlertOptions configures whether a mutating operation alerts the
// content's author, and with what reason.
type AlertOptions struct {
	SendAlert bool
	Reason    string
}

// RepoAlertDispatcher stores alerts as user_alerts rows on its own DB
// handle (never a transaction handle).
type RepoAlertDispatcher struct {
	DB  *gorm.DB
	Log zerolog.Logger
	Now func() time.Time
}

// Send implements AlertDispatcher.
func (d *RepoAlertDispatcher) Send(ctx context.Context, alert ModerationAlert) error {
	now := time.Now().UTC()
	if d.Now != nil {
		now = d.Now()
	}
	err := repo.CreateUserAlert(d.DB.WithContext(ctx), alert.RecipientID,
		alert.ContentType, alert.ContentID, alert.Action, alert.Reason, now)
	if err != nil {
		d.Log.Warn().Err(err).
			Int64("recipient", alert.RecipientID).
			Str("action", alert.Action).
			Msg("moderation alert dispatch failed")
	}
	return err
}

// Mailer delivers notification emails. The default implementation only
// logs; real delivery is a deployment concern.
type Mailer interface {
	Send(ctx context.Context, to *domain.User, subject, body string) error
}

// LogMailer writes would-be emails to the structured log.
type LogMailer struct {
	Log zerolog.Logger
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, to *domain.User, subject, _ string) error {
	m.Log.Info().Int64("user_id", to.ID).Str("subject", subject).Msg("email queued")
	return nil
}
