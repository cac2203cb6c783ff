// Moderation HTTP handlers.
//
// This file exposes the REST surface of the content pipeline:
//   - POST   /posts/{id}          (edit body and, for first posts, thread metadata)
//   - DELETE /posts/{id}          (soft or hard delete, first-post thread cascade)
//   - POST   /posts/{id}/approve  (release from the moderation queue)
//   - POST   /posts/{id}/merge    (consolidate source posts into the target)
//   - GET    /posts/{id}/history  (paginated edit-history snapshots)
//
// Handlers are transport-thin: parse and validate inputs, resolve the
// acting user, delegate to the services layer, and map the two error
// channels (field validation vs. operational sentinels) onto HTTP
// statuses.
//
// Idempotency: merge honors the Idempotency-Key header. A replay
// detected by the middleware short-circuits with the recorded status
// and `Idempotency-Replayed: true`; a successful first run records the
// key.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/config"
	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/http/middleware"
	"github.com/quillforum/backend/internal/jobs"
	"github.com/quillforum/backend/internal/perms"
	"github.com/quillforum/backend/internal/repo"
	"github.com/quillforum/backend/internal/services"
	"github.com/quillforum/backend/internal/spam"
	"github.com/quillforum/backend/internal/utils"
)

//
// DTOs
//

// EditPostRequest is the JSON payload for editing a post. Thread fields
// (title, prefix, custom fields) apply only when the post is its
// thread's first post; otherwise they are rejected.
type EditPostRequest struct {
	Message         *string           `json:"message,omitempty"`
	Silent          bool              `json:"silent,omitempty"`
	SuppressHistory bool              `json:"suppress_history,omitempty"`
	Title           *string           `json:"title,omitempty"`
	Prefix          *string           `json:"prefix,omitempty"`
	CustomFields    map[string]string `json:"custom_fields,omitempty"`
	Alert           bool              `json:"alert,omitempty"`
	AlertReason     string            `json:"alert_reason,omitempty"`
}

// DeletePostRequest is the JSON payload for deleting a post.
type DeletePostRequest struct {
	Hard        bool   `json:"hard,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Alert       bool   `json:"alert,omitempty"`
	AlertReason string `json:"alert_reason,omitempty"`
}

// DeletePostResponse reports what the delete actually removed.
type DeletePostResponse struct {
	ThreadDeleted bool `json:"thread_deleted"`
}

// MergePostsRequest names the posts to consolidate into the target.
type MergePostsRequest struct {
	SourceIDs   []int64 `json:"source_ids" binding:"required,min=1"`
	NewMessage  *string `json:"new_message,omitempty"`
	Alert       bool    `json:"alert,omitempty"`
	AlertReason string  `json:"alert_reason,omitempty"`
}

// PostResponse is the JSON envelope for a post returned by mutations.
type PostResponse struct {
	Post *domain.Post `json:"post"`
}

// ApproveResponse reports whether approval changed anything.
type ApproveResponse struct {
	Approved bool         `json:"approved"`
	Post     *domain.Post `json:"post"`
}

// Pagination is the standard page metadata envelope.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// HistoryEntry is one edit-history snapshot in API form.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	EditUserID int64     `json:"edit_user_id"`
	EditDate   time.Time `json:"edit_date"`
	OldMessage string    `json:"old_message"`
}

// ListHistoryResponse contains a page of edit-history snapshots.
type ListHistoryResponse struct {
	History    []HistoryEntry `json:"history"`
	Pagination Pagination     `json:"pagination"`
}

//
// Handler
//

// PostHandler carries the dependencies of the moderation endpoints.
type PostHandler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Spam   spam.Checker
	Perms  perms.Oracle
	Queue  jobs.Queue
	Alerts services.AlertDispatcher
	Mailer services.Mailer
}

// New constructs the handler set.
func New(db *gorm.DB, cfg config.Config, checker spam.Checker, oracle perms.Oracle,
	queue jobs.Queue, alerts services.AlertDispatcher, mailer services.Mailer) *PostHandler {
	return &PostHandler{
		DB:     db,
		Cfg:    cfg,
		Spam:   checker,
		Perms:  oracle,
		Queue:  queue,
		Alerts: alerts,
		Mailer: mailer,
	}
}

// actor resolves the authenticated user or aborts with 401.
func (h *PostHandler) actor(c *gin.Context) (*domain.User, bool) {
	uid := middleware.UserIDFromCtx(c)
	if uid == 0 {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return nil, false
	}
	user, err := repo.GetUser(c.Request.Context(), h.DB, uid)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown user")
			return nil, false
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "user lookup failed")
		return nil, false
	}
	return user, true
}

// loadPost fetches the target post (with thread and forum) or aborts
// with 404/500.
func (h *PostHandler) loadPost(c *gin.Context) (*domain.Post, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid post id")
		return nil, false
	}
	post, err := repo.GetPost(c.Request.Context(), h.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "post not found")
			return nil, false
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "post lookup failed")
		return nil, false
	}
	return post, true
}

// serviceFail maps a services-layer error onto the response: field
// validation becomes a 422 with the fields map, operational sentinels
// become 404/422, and everything else is a 500 under domainCode.
func serviceFail(c *gin.Context, err error, action, domainCode string) {
	var verrs services.ValidationErrors
	if errors.As(err, &verrs) {
		middleware.ObserveModeration(action, middleware.OutcomeValidationFailed)
		failFields(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, verrs.Error(), verrs)
		return
	}
	middleware.ObserveModeration(action, middleware.OutcomeError)
	switch {
	case errors.Is(err, services.ErrPostNotFound), errors.Is(err, services.ErrThreadNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrNoSourcePosts), errors.Is(err, services.ErrTargetIsSource):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, services.ErrNotEditable):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, domainCode, "operation failed")
	}
}

// notifier builds a fresh fan-out pass with the configured budget.
func (h *PostHandler) notifier() *services.Notifier {
	return &services.Notifier{
		DB:     h.DB,
		Perms:  h.Perms,
		Queue:  h.Queue,
		Mailer: h.Mailer,
		Budget: h.Cfg.Forum.NotifyBudget,
	}
}

// EditPost handles POST /posts/:id.
func (h *PostHandler) EditPost(c *gin.Context) {
	actor, authed := h.actor(c)
	if !authed {
		return
	}
	post, found := h.loadPost(c)
	if !found {
		return
	}
	if actor.ID != post.UserID && !actor.IsModerator {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "you may not edit this post")
		return
	}

	var req EditPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	editor := services.NewPostEditor(h.DB, post, actor, now, services.EditorOptions{
		EditLogDisplay:  h.Cfg.Forum.EditLogDisplay,
		EditLogGrace:    h.Cfg.Forum.EditLogDelay,
		EditHistory:     h.Cfg.Forum.EditHistory,
		MaxMessageRunes: h.Cfg.Forum.MaxMessageRunes,
	})
	editor.Spam = h.Spam
	editor.Alerts = h.Alerts
	editor.Log = *middleware.LoggerFrom(c)
	editor.IP = c.ClientIP()

	if req.Message != nil {
		if errs := editor.SetMessage(*req.Message); errs.HasErrors() {
			middleware.ObserveModeration(services.ActionEdit, middleware.OutcomeValidationFailed)
			failFields(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, errs.Error(), errs)
			return
		}
	}
	editor.SetSilent(req.Silent)
	if req.SuppressHistory {
		editor.SuppressHistory()
	}
	if req.Alert {
		editor.SetAlert(services.AlertOptions{SendAlert: true, Reason: req.AlertReason})
	}

	if req.Title != nil || req.Prefix != nil || req.CustomFields != nil {
		te, err := editor.ThreadEditor()
		if err != nil {
			serviceFail(c, err, services.ActionEdit, ErrCodeEditFailed)
			return
		}
		if te == nil {
			fail(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed,
				"thread fields may only be edited through the first post")
			return
		}
		if req.Title != nil {
			te.SetTitle(*req.Title)
		}
		if req.Prefix != nil {
			te.SetPrefix(*req.Prefix)
		}
		if req.CustomFields != nil {
			te.SetCustomFields(req.CustomFields)
		}
	}

	if err := editor.Save(c.Request.Context()); err != nil {
		serviceFail(c, err, services.ActionEdit, ErrCodeEditFailed)
		return
	}

	middleware.ObserveModeration(services.ActionEdit, middleware.OutcomeOK)
	ok(c, http.StatusOK, PostResponse{Post: post})
}

// DeletePost handles DELETE /posts/:id.
func (h *PostHandler) DeletePost(c *gin.Context) {
	actor, authed := h.actor(c)
	if !authed {
		return
	}
	post, found := h.loadPost(c)
	if !found {
		return
	}
	if actor.ID != post.UserID && !actor.IsModerator {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "you may not delete this post")
		return
	}

	var req DeletePostRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}
	}
	if req.Hard && !actor.IsModerator {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "hard deletion requires moderator access")
		return
	}

	kind := services.DeleteSoft
	if req.Hard {
		kind = services.DeleteHard
	}

	deleter := services.NewPostDeleter(h.DB, post, actor, time.Now().UTC())
	deleter.Alerts = h.Alerts
	deleter.Log = *middleware.LoggerFrom(c)

	opts := services.AlertOptions{SendAlert: req.Alert, Reason: req.AlertReason}
	if err := deleter.Delete(c.Request.Context(), kind, req.Reason, opts); err != nil {
		serviceFail(c, err, services.ActionDelete, ErrCodeDeleteFailed)
		return
	}

	middleware.ObserveModeration(services.ActionDelete, middleware.OutcomeOK)
	ok(c, http.StatusOK, DeletePostResponse{ThreadDeleted: deleter.WasThreadDeleted()})
}

// ApprovePost handles POST /posts/:id/approve.
func (h *PostHandler) ApprovePost(c *gin.Context) {
	actor, authed := h.actor(c)
	if !authed {
		return
	}
	if !actor.IsModerator {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "approval requires moderator access")
		return
	}
	post, found := h.loadPost(c)
	if !found {
		return
	}

	approver := services.NewPostApprover(h.DB, post, actor, time.Now().UTC())
	approver.Notifier = h.notifier()
	approver.Log = *middleware.LoggerFrom(c)

	approved, err := approver.Approve(c.Request.Context())
	if err != nil {
		serviceFail(c, err, services.ActionApprove, ErrCodeApproveFailed)
		return
	}

	middleware.ObserveModeration(services.ActionApprove, middleware.OutcomeOK)
	ok(c, http.StatusOK, ApproveResponse{Approved: approved, Post: post})
}

// MergePosts handles POST /posts/:id/merge.
func (h *PostHandler) MergePosts(c *gin.Context) {
	actor, authed := h.actor(c)
	if !authed {
		return
	}
	if !actor.IsModerator {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "merging requires moderator access")
		return
	}
	target, found := h.loadPost(c)
	if !found {
		return
	}

	// A replay of a completed merge must not consolidate twice.
	if middleware.IsReplay(c) {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, PostResponse{Post: target})
		return
	}

	var req MergePostsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	sources, err := repo.GetPosts(c.Request.Context(), h.DB, req.SourceIDs)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "source post not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "source lookup failed")
		return
	}

	merger := &services.PostMerger{
		DB:     h.DB,
		Actor:  actor,
		Now:    time.Now().UTC(),
		Perms:  h.Perms,
		Alerts: h.Alerts,
		Queue:  h.Queue,
		Log:    *middleware.LoggerFrom(c),
		Opts: services.MergerOptions{
			EditHistory:    h.Cfg.Forum.EditHistory,
			EditLogDisplay: h.Cfg.Forum.EditLogDisplay,
			EditLogDelay:   h.Cfg.Forum.EditLogDelay,
		},
	}

	mergeOpts := services.MergeOptions{
		NewMessage:  req.NewMessage,
		Alert:       req.Alert,
		AlertReason: req.AlertReason,
	}
	if err := merger.Merge(c.Request.Context(), target, sources, mergeOpts); err != nil {
		serviceFail(c, err, services.ActionMerge, ErrCodeMergeFailed)
		return
	}

	if key, present := middleware.GetIdempotencyKey(c); present {
		_, ierr := repo.CreateIdempotency(c.Request.Context(), h.DB, actor.ID, target.ID,
			key, http.StatusOK, h.Cfg.IdempotencyTTL)
		if ierr != nil && !errors.Is(ierr, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(ierr).Msg("idempotency record failed")
		}
	}

	middleware.ObserveModeration(services.ActionMerge, middleware.OutcomeOK)
	ok(c, http.StatusOK, PostResponse{Post: target})
}

// ListHistory handles GET /posts/:id/history.
func (h *PostHandler) ListHistory(c *gin.Context) {
	actor, authed := h.actor(c)
	if !authed {
		return
	}
	post, found := h.loadPost(c)
	if !found {
		return
	}
	if actor.ID != post.UserID && !actor.IsModerator {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "you may not view this post's history")
		return
	}

	page, size := utils.ClampPage(c.Query("page"), c.Query("page_size"), 20, 100)
	rows, total, err := repo.ListEditHistoryPage(c.Request.Context(), h.DB, post.ID, (page-1)*size, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "history lookup failed")
		return
	}

	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, HistoryEntry{
			ID:         row.ID,
			EditUserID: row.EditUserID,
			EditDate:   row.EditDate,
			OldMessage: row.OldMessage,
		})
	}
	totalPages := int((total + int64(size) - 1) / int64(size))
	ok(c, http.StatusOK, ListHistoryResponse{
		History: out,
		Pagination: Pagination{
			Page:       page,
			PageSize:   size,
			TotalItems: total,
			TotalPages: totalPages,
		},
	})
}
