package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quillforum/backend/internal/domain"
)

var repoBase = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}

func TestOpenSQLite_AppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	var mode string
	if err := db.Raw("PRAGMA journal_mode;").Scan(&mode).Error; err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.Raw("PRAGMA foreign_keys;").Scan(&fk).Error; err != nil {
		t.Fatalf("read foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "nope", "forum.db")); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestIsDuplicate(t *testing.T) {
	db := newTestDB(t)
	mustCreate(t, db, &domain.Vote{PostID: 1, UserID: 2, Value: 1})

	err := db.Create(&domain.Vote{PostID: 1, UserID: 2, Value: 1}).Error
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !IsDuplicate(err) {
		t.Fatalf("IsDuplicate(%v) = false", err)
	}
	if IsDuplicate(nil) {
		t.Fatal("IsDuplicate(nil) = true")
	}
}

func TestRebuildThreadPositions_DenseAndIdempotent(t *testing.T) {
	db := newTestDB(t)
	// Insert out of chronological order with gapped positions.
	for _, p := range []domain.Post{
		{ThreadID: 7, UserID: 1, Message: "b", MessageState: domain.MessageStateVisible, Position: 9, PostDate: repoBase.Add(time.Minute)},
		{ThreadID: 7, UserID: 1, Message: "a", MessageState: domain.MessageStateVisible, Position: 4, PostDate: repoBase},
		{ThreadID: 7, UserID: 1, Message: "c", MessageState: domain.MessageStateVisible, Position: 2, PostDate: repoBase.Add(2 * time.Minute)},
	} {
		p := p
		mustCreate(t, db, &p)
	}

	for pass := 0; pass < 2; pass++ {
		if err := RebuildThreadPositions(db, 7); err != nil {
			t.Fatalf("rebuild pass %d: %v", pass, err)
		}
	}

	var rows []domain.Post
	if err := db.Where("thread_id = ?", 7).Order("post_date ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load posts: %v", err)
	}
	for i, r := range rows {
		if r.Position != i {
			t.Fatalf("post %q position = %d, want %d", r.Message, r.Position, i)
		}
	}
}

func TestRebuildThreadCounters(t *testing.T) {
	db := newTestDB(t)
	th := &domain.Thread{ForumID: 1, UserID: 1, Username: "u", Title: "t",
		DiscussionState: domain.MessageStateVisible, ReplyCount: 99, FirstPostID: 42}
	mustCreate(t, db, th)

	// Empty thread zeroes everything.
	if err := RebuildThreadCounters(db, th); err != nil {
		t.Fatalf("rebuild empty: %v", err)
	}
	if th.ReplyCount != 0 || th.FirstPostID != 0 || th.LastPostID != 0 {
		t.Fatalf("empty thread counters = %+v", th)
	}

	first := &domain.Post{ThreadID: th.ID, UserID: 1, Message: "f", MessageState: domain.MessageStateVisible, PostDate: repoBase}
	last := &domain.Post{ThreadID: th.ID, UserID: 2, Message: "l", MessageState: domain.MessageStateVisible, PostDate: repoBase.Add(time.Hour)}
	mustCreate(t, db, first)
	mustCreate(t, db, last)

	if err := RebuildThreadCounters(db, th); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if th.ReplyCount != 1 {
		t.Fatalf("reply count = %d, want 1", th.ReplyCount)
	}
	if th.FirstPostID != first.ID || th.LastPostID != last.ID || th.LastPostUserID != 2 {
		t.Fatalf("pointers = first %d last %d by %d", th.FirstPostID, th.LastPostID, th.LastPostUserID)
	}

	// The update also persisted.
	var stored domain.Thread
	if err := db.First(&stored, th.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.FirstPostID != first.ID {
		t.Fatalf("stored first post = %d, want %d", stored.FirstPostID, first.ID)
	}
}

func TestRebuildForumCounters_VisibleOnly(t *testing.T) {
	db := newTestDB(t)
	f := &domain.Forum{Title: "General", CreatedAt: repoBase}
	mustCreate(t, db, f)

	visible := &domain.Thread{ForumID: f.ID, UserID: 1, Username: "u", Title: "a",
		DiscussionState: domain.MessageStateVisible, PostDate: repoBase}
	deleted := &domain.Thread{ForumID: f.ID, UserID: 1, Username: "u", Title: "b",
		DiscussionState: domain.MessageStateDeleted, PostDate: repoBase}
	mustCreate(t, db, visible)
	mustCreate(t, db, deleted)

	posts := []domain.Post{
		{ThreadID: visible.ID, UserID: 1, Message: "ok", MessageState: domain.MessageStateVisible, PostDate: repoBase},
		{ThreadID: visible.ID, UserID: 1, Message: "queued", MessageState: domain.MessageStateModerated, PostDate: repoBase.Add(time.Minute)},
		{ThreadID: deleted.ID, UserID: 1, Message: "gone", MessageState: domain.MessageStateVisible, PostDate: repoBase.Add(2 * time.Minute)},
	}
	var lastVisibleID int64
	for _, p := range posts {
		p := p
		mustCreate(t, db, &p)
		if p.ThreadID == visible.ID && p.MessageState == domain.MessageStateVisible {
			lastVisibleID = p.ID
		}
	}

	if err := RebuildForumCounters(db, f.ID); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var stored domain.Forum
	if err := db.First(&stored, f.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.ThreadCount != 1 {
		t.Fatalf("thread count = %d, want 1", stored.ThreadCount)
	}
	if stored.MessageCount != 1 {
		t.Fatalf("message count = %d, want 1", stored.MessageCount)
	}
	if stored.LastPostID != lastVisibleID {
		t.Fatalf("last post = %d, want %d", stored.LastPostID, lastVisibleID)
	}
}

func TestRebuildUserMessageCounts(t *testing.T) {
	db := newTestDB(t)
	u := &domain.User{Username: "writer", MessageCount: 99}
	mustCreate(t, db, u)

	visible := &domain.Thread{ForumID: 1, UserID: u.ID, Username: "writer", Title: "a",
		DiscussionState: domain.MessageStateVisible, PostDate: repoBase}
	hidden := &domain.Thread{ForumID: 1, UserID: u.ID, Username: "writer", Title: "b",
		DiscussionState: domain.MessageStateDeleted, PostDate: repoBase}
	mustCreate(t, db, visible)
	mustCreate(t, db, hidden)

	for _, p := range []domain.Post{
		{ThreadID: visible.ID, UserID: u.ID, Message: "1", MessageState: domain.MessageStateVisible, PostDate: repoBase},
		{ThreadID: visible.ID, UserID: u.ID, Message: "2", MessageState: domain.MessageStateDeleted, PostDate: repoBase},
		{ThreadID: hidden.ID, UserID: u.ID, Message: "3", MessageState: domain.MessageStateVisible, PostDate: repoBase},
	} {
		p := p
		mustCreate(t, db, &p)
	}

	if err := RebuildUserMessageCounts(db, []int64{u.ID}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	var stored domain.User
	if err := db.First(&stored, u.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.MessageCount != 1 {
		t.Fatalf("message count = %d, want 1 (visible post in visible thread)", stored.MessageCount)
	}
}

func TestFindUsersByNames_CaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	mustCreate(t, db, &domain.User{Username: "Alice"})
	mustCreate(t, db, &domain.User{Username: "BOB"})

	users, err := FindUsersByNames(db, []string{"alice", "bob", "nobody"})
	if err != nil {
		t.Fatalf("FindUsersByNames: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}
	if users[0].Username != "Alice" || users[1].Username != "BOB" {
		t.Fatalf("order = %s, %s", users[0].Username, users[1].Username)
	}

	none, err := FindUsersByNames(db, nil)
	if err != nil || none != nil {
		t.Fatalf("empty input = (%v, %v), want (nil, nil)", none, err)
	}
}

func TestIdempotency_RoundTripDuplicateAndExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, 1, 2, "abc", 200, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Status != 200 {
		t.Fatalf("status = %d", rec.Status)
	}

	got, err := GetIdempotency(ctx, db, 1, 2, "abc", time.Now().UTC())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("got %s, want %s", got.ID, rec.ID)
	}

	if _, err := CreateIdempotency(ctx, db, 1, 2, "abc", 200, time.Hour); err != ErrDuplicate {
		t.Fatalf("duplicate create = %v, want ErrDuplicate", err)
	}

	// Different key for the same pair is a fresh record.
	if _, err := CreateIdempotency(ctx, db, 1, 2, "def", 200, time.Hour); err != nil {
		t.Fatalf("second key: %v", err)
	}

	// Expired records are invisible.
	if _, err := CreateIdempotency(ctx, db, 9, 9, "old", 200, -time.Minute); err != nil {
		t.Fatalf("expired create: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, 9, 9, "old", time.Now().UTC()); err != ErrNotFound {
		t.Fatalf("expired get = %v, want ErrNotFound", err)
	}

	// Blank key or zero post never match.
	if _, err := GetIdempotency(ctx, db, 1, 0, "abc", time.Now().UTC()); err != ErrNotFound {
		t.Fatalf("zero post = %v, want ErrNotFound", err)
	}
}

func TestActivityMetrics_RebuildFromChildren(t *testing.T) {
	db := newTestDB(t)
	th := &domain.Thread{ForumID: 1, UserID: 1, Username: "u", Title: "t",
		DiscussionState: domain.MessageStateVisible, PostDate: repoBase}
	mustCreate(t, db, th)

	day1 := repoBase
	day2 := repoBase.Add(24 * time.Hour)
	first := &domain.Post{ThreadID: th.ID, UserID: 1, Message: "f", MessageState: domain.MessageStateVisible, Position: 0, PostDate: day1}
	r1 := &domain.Post{ThreadID: th.ID, UserID: 2, Message: "r1", MessageState: domain.MessageStateVisible, Position: 1, PostDate: day1.Add(time.Hour)}
	r2 := &domain.Post{ThreadID: th.ID, UserID: 2, Message: "r2", MessageState: domain.MessageStateVisible, Position: 2, PostDate: day2}
	mustCreate(t, db, first)
	mustCreate(t, db, r1)
	mustCreate(t, db, r2)

	mustCreate(t, db, &domain.Reaction{PostID: first.ID, UserID: 2, ContentUserID: 1, Score: 5, IsCounted: true, CreatedAt: day1})
	mustCreate(t, db, &domain.Reaction{PostID: r1.ID, UserID: 3, ContentUserID: 2, Score: 2, IsCounted: false, CreatedAt: day1})

	// A stale rollup row for a day that no longer has replies.
	mustCreate(t, db, &domain.ThreadActivity{ThreadID: th.ID, Day: "2020-01-01", ReplyCount: 7})

	if err := RebuildReplyMetrics(db, th.ID); err != nil {
		t.Fatalf("reply metrics: %v", err)
	}
	if err := RebuildReactionMetrics(db, th.ID); err != nil {
		t.Fatalf("reaction metrics: %v", err)
	}

	var rows []domain.ThreadActivity
	if err := db.Where("thread_id = ?", th.ID).Order("day ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load rollups: %v", err)
	}
	byDay := make(map[string]domain.ThreadActivity, len(rows))
	for _, r := range rows {
		byDay[r.Day] = r
	}

	if got := byDay["2020-01-01"]; got.ReplyCount != 0 || got.ReactionScore != 0 {
		t.Fatalf("stale day = %+v, want zeroed", got)
	}
	d1 := day1.UTC().Format("2006-01-02")
	d2 := day2.UTC().Format("2006-01-02")
	// The first post is not a reply; the uncounted reaction is ignored.
	if got := byDay[d1]; got.ReplyCount != 1 || got.ReactionScore != 5 {
		t.Fatalf("day1 = %+v, want 1 reply score 5", got)
	}
	if got := byDay[d2]; got.ReplyCount != 1 || got.ReactionScore != 0 {
		t.Fatalf("day2 = %+v, want 1 reply score 0", got)
	}

	// Second pass changes nothing.
	if err := RebuildReplyMetrics(db, th.ID); err != nil {
		t.Fatalf("reply metrics again: %v", err)
	}
	var again domain.ThreadActivity
	if err := db.Where("thread_id = ? AND day = ?", th.ID, d1).First(&again).Error; err != nil {
		t.Fatalf("reload day1: %v", err)
	}
	if again.ReplyCount != 1 || again.ReactionScore != 5 {
		t.Fatalf("idempotent rebuild broke day1: %+v", again)
	}
}

func TestListEditHistoryPage(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		if err := CreateEditHistory(db, 11, 1, repoBase.Add(time.Duration(i)*time.Minute), fmt.Sprintf("rev %d", i), ""); err != nil {
			t.Fatalf("create history: %v", err)
		}
	}
	// A different post's rows never leak in.
	if err := CreateEditHistory(db, 12, 1, repoBase, "other", ""); err != nil {
		t.Fatalf("create history: %v", err)
	}

	rows, total, err := ListEditHistoryPage(context.Background(), db, 11, 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(rows) != 2 {
		t.Fatalf("page size = %d, want 2", len(rows))
	}
	// Newest first.
	if rows[0].OldMessage != "rev 4" || rows[1].OldMessage != "rev 3" {
		t.Fatalf("page = %q, %q", rows[0].OldMessage, rows[1].OldMessage)
	}

	rows, _, err = ListEditHistoryPage(context.Background(), db, 11, 4, 2)
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(rows) != 1 || rows[0].OldMessage != "rev 0" {
		t.Fatalf("last page = %+v", rows)
	}
}

func TestHardDeleteThreadRows_RemovesDependents(t *testing.T) {
	db := newTestDB(t)
	th := &domain.Thread{ForumID: 1, UserID: 1, Username: "u", Title: "t",
		DiscussionState: domain.MessageStateVisible, PostDate: repoBase}
	mustCreate(t, db, th)
	p := &domain.Post{ThreadID: th.ID, UserID: 1, Message: "m", MessageState: domain.MessageStateVisible, PostDate: repoBase}
	mustCreate(t, db, p)
	mustCreate(t, db, &domain.Reaction{PostID: p.ID, UserID: 2, ContentUserID: 1, Score: 1, IsCounted: true})
	mustCreate(t, db, &domain.Vote{PostID: p.ID, UserID: 2, Value: 1})
	mustCreate(t, db, &domain.Bookmark{UserID: 2, PostID: p.ID})
	mustCreate(t, db, &domain.ThreadWatch{UserID: 2, ThreadID: th.ID})
	mustCreate(t, db, &domain.ThreadActivity{ThreadID: th.ID, Day: "2026-08-01", ReplyCount: 1})

	if err := HardDeleteThreadRows(db, th.ID); err != nil {
		t.Fatalf("hard delete: %v", err)
	}

	for _, probe := range []struct {
		model any
		where string
		arg   int64
	}{
		{&domain.Thread{}, "id = ?", th.ID},
		{&domain.Post{}, "thread_id = ?", th.ID},
		{&domain.Reaction{}, "post_id = ?", p.ID},
		{&domain.Vote{}, "post_id = ?", p.ID},
		{&domain.Bookmark{}, "post_id = ?", p.ID},
		{&domain.ThreadWatch{}, "thread_id = ?", th.ID},
		{&domain.ThreadActivity{}, "thread_id = ?", th.ID},
	} {
		var n int64
		if err := db.Model(probe.model).Where(probe.where, probe.arg).Count(&n).Error; err != nil {
			t.Fatalf("count %T: %v", probe.model, err)
		}
		if n != 0 {
			t.Fatalf("%T rows = %d, want 0", probe.model, n)
		}
	}
}
