package services

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/jobs"
	"github.com/quillforum/backend/internal/repo"
	"github.com/quillforum/backend/internal/search"
)

// SearchReindexHandler returns the job handler that applies queued
// search-index maintenance: merged-away or removed posts drop out of the
// index, surviving posts are re-indexed with their current body.
func SearchReindexHandler(db *gorm.DB, idx search.Index) jobs.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload jobs.SearchReindexPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		idx.Delete(payload.DeletePostIDs...)

		for _, id := range payload.IndexPostIDs {
			post, err := repo.GetPost(ctx, db, id)
			if err != nil {
				if err == repo.ErrNotFound {
					// Deleted between enqueue and execution; make sure the
					// index agrees.
					idx.Delete(id)
					continue
				}
				return err
			}
			text := post.Message
			if post.Thread != nil && post.IsFirstPost() {
				text = post.Thread.Title + "\n" + text
			}
			idx.Upsert(search.Document{
				PostID:   post.ID,
				ThreadID: post.ThreadID,
				Text:     text,
			})
		}
		return nil
	}
}
