package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/repo"
)

// baseTime keeps every seeded timestamp deterministic.
var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string, moderator bool) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, IsModerator: moderator, CreatedAt: baseTime}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u
}

func seedForum(t *testing.T, db *gorm.DB, title string) *domain.Forum {
	t.Helper()
	f := &domain.Forum{Title: title, CreatedAt: baseTime}
	if err := db.Create(f).Error; err != nil {
		t.Fatalf("seed forum %s: %v", title, err)
	}
	return f
}

func seedThread(t *testing.T, db *gorm.DB, forum *domain.Forum, author *domain.User, title string) *domain.Thread {
	t.Helper()
	th := &domain.Thread{
		ForumID:         forum.ID,
		UserID:          author.ID,
		Username:        author.Username,
		Title:           title,
		DiscussionState: domain.MessageStateVisible,
		PostDate:        baseTime,
	}
	if err := db.Create(th).Error; err != nil {
		t.Fatalf("seed thread %s: %v", title, err)
	}
	return th
}

// seedPost inserts a post at a timestamp offset from baseTime; positions
// and thread counters are rebuilt by refreshThread once all posts exist.
func seedPost(t *testing.T, db *gorm.DB, thread *domain.Thread, author *domain.User, msg string, state domain.MessageState, minutes int) *domain.Post {
	t.Helper()
	p := &domain.Post{
		ThreadID:     thread.ID,
		UserID:       author.ID,
		Username:     author.Username,
		Message:      msg,
		MessageState: state,
		PostDate:     baseTime.Add(time.Duration(minutes) * time.Minute),
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed post: %v", err)
	}
	return p
}

// refreshThread rebuilds positions and counters after seeding.
func refreshThread(t *testing.T, db *gorm.DB, thread *domain.Thread) {
	t.Helper()
	if err := repo.RebuildThreadPositions(db, thread.ID); err != nil {
		t.Fatalf("rebuild positions: %v", err)
	}
	if err := repo.RebuildThreadCounters(db, thread); err != nil {
		t.Fatalf("rebuild counters: %v", err)
	}
}

// loadPost reloads a post with its thread and forum hydrated.
func loadPost(t *testing.T, db *gorm.DB, id int64) *domain.Post {
	t.Helper()
	p, err := repo.GetPost(context.Background(), db, id)
	if err != nil {
		t.Fatalf("load post %d: %v", id, err)
	}
	return p
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}
