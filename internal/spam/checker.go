// Package spam provides the synchronous spam classifier consumed by the
// content pipeline before any transaction opens, plus its audit logging.
//
// The classifier is deliberately an interface: the default implementation
// is a local keyword/heuristic checker, but deployments can swap in an
// API-backed one as long as it stays synchronous (the pipeline never holds
// a transaction open across classification).
package spam

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/repo"
)

// Decision is a spam-classifier outcome.
type Decision string

const (
	// DecisionClean lets the content through untouched.
	DecisionClean Decision = "clean"
	// DecisionModerated flips the content into the moderation queue.
	DecisionModerated Decision = "moderated"
	// DecisionDenied blocks the save with a field-level validation error.
	DecisionDenied Decision = "denied"
)

// CheckContext carries the classification inputs beyond the text itself.
type CheckContext struct {
	ContentType string
	ContentID   int64
}

// Checker classifies a piece of content authored by a user.
type Checker interface {
	Check(ctx context.Context, author *domain.User, text string, cc CheckContext) Decision
}

var urlRE = regexp.MustCompile(`https?://[^\s]+`)

// test seam
var timeNow = func() time.Time { return time.Now().UTC() }

// KeywordChecker is the default local classifier: a denylist blocks
// outright, a watchlist sends content to moderation, and an excessive
// link count from low-activity authors also moderates.
type KeywordChecker struct {
	DenyPhrases     []string
	ModeratePhrases []string

	// MaxLinks moderates messages carrying more than this many URLs when
	// the author's message count is below TrustedMessageCount. Zero
	// disables the link heuristic.
	MaxLinks            int
	TrustedMessageCount int64
}

// Check classifies text. Phrase matching is case-insensitive substring
// matching; first denylist hit wins.
func (k *KeywordChecker) Check(_ context.Context, author *domain.User, text string, _ CheckContext) Decision {
	low := strings.ToLower(text)
	for _, p := range k.DenyPhrases {
		if p != "" && strings.Contains(low, strings.ToLower(p)) {
			return DecisionDenied
		}
	}
	for _, p := range k.ModeratePhrases {
		if p != "" && strings.Contains(low, strings.ToLower(p)) {
			return DecisionModerated
		}
	}
	if k.MaxLinks > 0 && author != nil && author.MessageCount < k.TrustedMessageCount {
		if len(urlRE.FindAllString(text, -1)) > k.MaxLinks {
			return DecisionModerated
		}
	}
	return DecisionClean
}

// LogDecision records a classifier outcome for audit: a SpamTriggerLog
// row plus a structured log event. Called for every decision, clean ones
// included.
func LogDecision(db *gorm.DB, log zerolog.Logger, author *domain.User, cc CheckContext, decision Decision, snippet string) {
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	var userID int64
	if author != nil {
		userID = author.ID
	}
	if err := repo.LogSpamDecision(db, userID, cc.ContentType, cc.ContentID,
		string(decision), snippet, timeNow()); err != nil {
		log.Warn().Err(err).Msg("spam audit row insert failed")
	}
	log.Info().
		Int64("user_id", userID).
		Str("content_type", cc.ContentType).
		Int64("content_id", cc.ContentID).
		Str("decision", string(decision)).
		Msg("spam check")
}
