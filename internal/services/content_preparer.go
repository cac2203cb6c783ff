// ContentPreparer normalizes a message body into storable form and
// captures its cross-references: quoted-post ids (with an optional exact
// author qualifier), mentioned users, and embed metadata. It also runs
// the spam classifier and records IP provenance.
//
// Classification happens before the caller opens its transaction;
// Prepare and CheckForSpam never touch a transaction handle themselves
// except for audit rows written through the handle the caller supplies.
package services

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/repo"
	"github.com/quillforum/backend/internal/spam"
)

// QuoteRef identifies one quoted post; UserID is the "exact user"
// qualifier when the quote tag names the quoted author.
type QuoteRef struct {
	PostID int64
	UserID int64
}

// FormatOptions tune Prepare.
type FormatOptions struct {
	// PlainText skips quote/mention/embed extraction entirely.
	PlainText bool
	// MaxRunes caps the body length; 0 means no cap.
	MaxRunes int
}

// PreparedContent is what Prepare captured for the caller to read back.
type PreparedContent struct {
	Quotes     []QuoteRef
	MentionIDs []int64
	Embeds     []domain.EmbedMeta
}

// ContentPreparer carries the acting user and timestamp explicitly so
// every decision is reproducible in tests.
type ContentPreparer struct {
	DB    *gorm.DB
	Actor *domain.User
	Now   time.Time
	Spam  spam.Checker
	Log   zerolog.Logger

	prepared PreparedContent
}

/// Quote tags: [quote="name, post: 123"] or [quote=name, post: 123].
var quoteTagRE = regexp.MustCompile(`\[quote="?([^",\]]+)(?:,\s*post:\s*(\d+))?(?:,\s*member:\s*(\d+))?"?\]`)

// Mentions: @name, terminated by whitespace or punctuation.
var mentionRE = regexp.MustCompile(`@([\p{L}\p{N}_.-]+)`)

var bareURLRE = regexp.MustCompile(`^https?://\S+$`)

var usernameFolder = cases.Fold()

// Prepare normalizes message and extracts cross-references. Validation
// failures come back as field errors on the "message" field; the caller
// must check them before persisting.
func (p *ContentPreparer) Prepare(message string, opts FormatOptions, performValidation bool) (string, ValidationErrors) {
	errs := ValidationErrors{}
	body := normalizeBody(message)

	if performValidation {
		if strings.TrimSpace(body) == "" {
			errs.Add("message", "please enter a valid message")
		}
		if opts.MaxRunes > 0 && utf8.RuneCountInString(body) > opts.MaxRunes {
			errs.Add("message", "message is too long")
		}
	}

	p.prepared = PreparedContent{}
	if !opts.PlainText {
		p.prepared.Quotes = extractQuotes(body)
		p.prepared.MentionIDs = p.resolveMentions(body)
		p.prepared.Embeds = extractEmbeds(body)
	}

	if errs.HasErrors() {
		return body, errs
	}
	return body, nil
}

// Prepared returns the cross-references captured by the last Prepare.
func (p *ContentPreparer) Prepared() PreparedContent { return p.prepared }

// EmbedsJSON serializes the captured embed metadata for storage on the
// post row. Empty metadata serializes to the empty string.
func (p *ContentPreparer) EmbedsJSON() string {
	if len(p.prepared.Embeds) == 0 {
		return ""
	}
	raw, err := json.Marshal(p.prepared.Embeds)
	if err != nil {
		return ""
	}
	return string(raw)
}

// CheckForSpam classifies the post's content: title+body combined for a
// thread's first post, body alone otherwise. A moderated outcome flips
// the post's state (or the thread's, for a first post); a denied outcome
// blocks the save with a field error. Every decision is logged for audit.
func (p *ContentPreparer) CheckForSpam(ctx context.Context, post *domain.Post, thread *domain.Thread) ValidationErrors {
	if p.Spam == nil {
		return nil
	}

	text := post.Message
	firstPost := thread != nil && post.IsFirstPost()
	if firstPost {
		text = thread.Title + "\n" + post.Message
	}

	cc := spam.CheckContext{ContentType: domain.ContentTypePost, ContentID: post.ID}
	decision := p.Spam.Check(ctx, p.Actor, text, cc)
	spam.LogDecision(p.DB, p.Log, p.Actor, cc, decision, text)

	switch decision {
	case spam.DecisionModerated:
		if firstPost {
			thread.DiscussionState = domain.MessageStateModerated
		}
		post.MessageState = domain.MessageStateModerated
		return nil
	case spam.DecisionDenied:
		errs := ValidationErrors{}
		errs.Add("message", "content was rejected as spam")
		return errs
	default:
		return nil
	}
}

// LogIP records the acting user's IP against the post and stores the row
// reference on the entity. Runs on the caller's handle (transactional
// when the caller is mid-save).
func (p *ContentPreparer) LogIP(tx *gorm.DB, post *domain.Post, action, ip string) error {
	if ip == "" {
		return nil
	}
	id, err := repo.LogIP(tx, p.Actor.ID, domain.ContentTypePost, post.ID, action, ip, p.Now)
	if err != nil {
		return err
	}
	post.IPID = id
	return nil
}

// resolveMentions extracts @name tokens and resolves them against the
// users table. The acting author never mentions themselves for
// notification purposes.
func (p *ContentPreparer) resolveMentions(body string) []int64 {
	matches := mentionRE.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		folded := usernameFolder.String(strings.TrimRight(m[1], ".-"))
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		names = append(names, folded)
	}

	users, err := repo.FindUsersByNames(p.DB, names)
	if err != nil {
		p.Log.Warn().Err(err).Msg("mention lookup failed")
		return nil
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		if p.Actor != nil && u.ID == p.Actor.ID {
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids
}

func extractQuotes(body string) []QuoteRef {
	matches := quoteTagRE.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(matches))
	out := make([]QuoteRef, 0, len(matches))
	for _, m := range matches {
		if m[2] == "" {
			continue // bare [quote=name] carries no post reference
		}
		postID, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || postID <= 0 {
			continue
		}
		if _, dup := seen[postID]; dup {
			continue
		}
		seen[postID] = struct{}{}
		ref := QuoteRef{PostID: postID}
		if m[3] != "" {
			if uid, err := strconv.ParseInt(m[3], 10, 64); err == nil {
				ref.UserID = uid
			}
		}
		out = append(out, ref)
	}
	return out
}

func extractEmbeds(body string) []domain.EmbedMeta {
	var out []domain.EmbedMeta
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !bareURLRE.MatchString(line) {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, domain.EmbedMeta{
			URL:      line,
			Provider: strings.TrimPrefix(u.Host, "www."),
		})
	}
	return out
}

// normalizeBody converts line endings, strips trailing whitespace per
// line, and collapses runs of 3+ blank lines to one blank line.
func normalizeBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, ln := range lines {
		ln = strings.TrimRight(ln, " \t")
		if ln == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
