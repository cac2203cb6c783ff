package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/quillforum/backend/internal/domain"
	"github.com/quillforum/backend/internal/jobs"
	"github.com/quillforum/backend/internal/perms"
	"gorm.io/gorm"
)

type recordingMailer struct {
	sent []int64
}

func (m *recordingMailer) Send(_ context.Context, to *domain.User, _, _ string) error {
	m.sent = append(m.sent, to.ID)
	return nil
}

func newNotifier(db *gorm.DB) *Notifier {
	return &Notifier{
		DB:    db,
		Perms: perms.StateOracle{},
		Clock: func() time.Time { return baseTime },
	}
}

func alertCount(t *testing.T, db *gorm.DB, userID, postID int64) int64 {
	t.Helper()
	return countRows(t, db, &domain.UserAlert{}, "user_id = ? AND content_id = ?", userID, postID)
}

func TestNotifier_QuoteAndMentionCollapsePerRecipient(t *testing.T) {
	db := newTestDB(t)
	alice := seedUser(t, db, "alice", false)
	bob := seedUser(t, db, "bob", false)
	forum := seedForum(t, db, "General")
	thread := seedThread(t, db, forum, alice, "Topic")
	quoted := seedPost(t, db, thread, bob, "bob original", domain.MessageStateVisible, 0)
	refreshThread(t, db, thread)

	// bob is targeted three ways: member-qualified quote, bare quote
	// resolved through the quoted post, and a mention. One alert lands.
	body := fmt.Sprintf("[quote=\"bob, post: %d, member: %d\"]a[/quote]\n[quote=\"bob, post: %d\"]b[/quote]\n@bob thoughts?",
		quoted.ID, bob.ID, quoted.ID)
	reply := seedPost(t, db, thread, alice, body, domain.MessageStateVisible, 1)
	refreshThread(t, db, thread)

	n := newNotifier(db)
	p := loadPost(t, db, reply.ID)
	if err := n.NotifyPost(context.Background(), p, NotifyActionReply); err != nil {
		t.Fatalf("NotifyPost: %v", err)
	}

	if got := alertCount(t, db, bob.ID, reply.ID); got != 1 {
		t.Fatalf("bob alerts = %d, want 1", got)
	}
}

func TestNotifier_AuthorNeverNotified(t *testing.T) {
	db := newTestDB(t)
	alice := seedUser(t, db, "alice", false)
	forum := seedForum(t, db, "General")
	thread := seedThread(t, db, forum, alice, "Topic")
	post := seedPost(t, db, thread, alice, "note to self @alice", domain.MessageStateVisible, 0)
	refreshThread(t, db, thread)

	n := newNotifier(db)
	p := loadPost(t, db, post.ID)
	if err := n.NotifyPost(context.Background(), p, NotifyActionReply); err != nil {
		t.Fatalf("NotifyPost: %v", err)
	}
	if got := alertCount(t, db, alice.ID, post.ID); got != 0 {
		t.Fatalf("author alerts = %d, want 0", got)
	}
}

func TestNotifier_VisibilityRecheckedPerRecipient(t *testing.T) {
	db := newTestDB(t)
	alice := seedUser(t, db, "alice", false)
	bob := seedUser(t, db, "bob", false)
	mod := seedUser(t, db, "mod", true)
	forum := seedForum(t, db, "General")
	thread := seedThread(t, db, forum, alice, "Topic")
	seedPost(t, db, thread, alice, "first", domain.MessageStateVisible, 0)
	hidden := seedPost(t, db, thread, alice, "@bob @mod pending", domain.MessageStateModerated, 1)
	refreshThread(t, db, thread)

	n := newNotifier(db)
	p := loadPost(t, db, hidden.ID)
	if err := n.NotifyPost(context.Background(), p, NotifyActionReply); err != nil {
		t.Fatalf("NotifyPost: %v", err)
	}

	// bob cannot see a moderated post; the moderator can.
	if got := alertCount(t, db, bob.ID, hidden.ID); got != 0 {
		t.Fatalf("bob alerts = %d, want 0 for moderated content", got)
	}
	if got := alertCount(t, db, mod.ID, hidden.ID); got != 1 {
		t.Fatalf("mod alerts = %d, want 1", got)
	}
}

func TestNotifier_WatcherChannelsAndLastPostGate(t *testing.T) {
	db := newTestDB(t)
	alice := seedUser(t, db, "alice", false)
	watcherBoth := seedUser(t, db, "watcher_both", false)
	threadFan := seedUser(t, db, "thread_fan", false)
	forum := seedForum(t, db, "General")
	thread := seedThread(t, db, forum, alice, "Topic")
	first := seedPost(t, db, thread, alice, "first", domain.MessageStateVisible, 0)
	last := seedPost(t, db, thread, alice, "latest", domain.MessageStateVisible, 1)
	refreshThread(t, db, thread)

	if err := db.Create(&domain.ForumWatch{UserID: watcherBoth.ID, ForumID: forum.ID, SendAlert: true, SendEmail: true}).Error; err != nil {
		t.Fatalf("seed forum watch: %v", err)
	}
	if err := db.Create(&domain.ThreadWatch{UserID: threadFan.ID, ThreadID: thread.ID, EmailSubscribe: false}).Error; err != nil {
		t.Fatalf("seed thread watch: %v", err)
	}

	// Not the last post: thread watchers stay quiet, forum watchers fire
	// on both channels.
	mailer := &recordingMailer{}
	n := newNotifier(db)
	n.Mailer = mailer
	p := loadPost(t, db, first.ID)
	if err := n.NotifyPost(context.Background(), p, NotifyActionReply); err != nil {
		t.Fatalf("NotifyPost: %v", err)
	}
	if got := alertCount(t, db, threadFan.ID, first.ID); got != 0 {
		t.Fatalf("thread watcher alerted for a non-last post")
	}
	if got := alertCount(t, db, watcherBoth.ID, first.ID); got != 1 {
		t.Fatalf("forum watcher alerts = %d, want 1", got)
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != watcherBoth.ID {
		t.Fatalf("emails = %v, want [%d]", mailer.sent, watcherBoth.ID)
	}

	// Last post: thread watchers fire too (alert only, no email opt-in).
	mailer2 := &recordingMailer{}
	n2 := newNotifier(db)
	n2.Mailer = mailer2
	p = loadPost(t, db, last.ID)
	if err := n2.NotifyPost(context.Background(), p, NotifyActionReply); err != nil {
		t.Fatalf("NotifyPost: %v", err)
	}
	if got := alertCount(t, db, threadFan.ID, last.ID); got != 1 {
		t.Fatalf("thread watcher alerts = %d, want 1", got)
	}
	for _, id := range mailer2.sent {
		if id == threadFan.ID {
			t.Fatal("thread watcher without email opt-in must not receive email")
		}
	}
}

func TestNotifier_BudgetHandoffAndResume(t *testing.T) {
	db := newTestDB(t)
	alice := seedUser(t, db, "alice", false)
	bob := seedUser(t, db, "bob", false)
	carol := seedUser(t, db, "carol", false)
	forum := seedForum(t, db, "General")
	thread := seedThread(t, db, forum, alice, "Topic")
	post := seedPost(t, db, thread, alice, "@bob @carol ping", domain.MessageStateVisible, 0)
	refreshThread(t, db, thread)

	// The clock jumps past the deadline after the first delivery: calls
	// 1-4 cover candidate prep, the deadline, the first loop check, and
	// the first alert's timestamp; from call 5 the budget is exhausted.
	calls := 0
	clock := func() time.Time {
		calls++
		if calls >= 5 {
			return baseTime.Add(2 * time.Second)
		}
		return baseTime
	}

	n := &Notifier{
		DB:     db,
		Perms:  perms.StateOracle{},
		Queue:  &jobs.GormQueue{DB: db},
		Budget: time.Second,
		Clock:  clock,
	}
	p := loadPost(t, db, post.ID)
	if err := n.NotifyPost(context.Background(), p, NotifyActionReply); err != nil {
		t.Fatalf("NotifyPost: %v", err)
	}

	if got := alertCount(t, db, bob.ID, post.ID); got != 1 {
		t.Fatalf("bob alerts = %d, want 1 before handoff", got)
	}
	if got := alertCount(t, db, carol.ID, post.ID); got != 0 {
		t.Fatalf("carol alerts = %d, want 0 before resume", got)
	}

	var job domain.Job
	if err := db.Where("type = ?", jobs.TypeNotifyResume).First(&job).Error; err != nil {
		t.Fatalf("load resume job: %v", err)
	}
	var payload jobs.NotifyResumePayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PostID != post.ID || payload.Action != NotifyActionReply {
		t.Fatalf("payload = %+v", payload)
	}
	if len(payload.Alerted) != 1 || payload.Alerted[0] != bob.ID {
		t.Fatalf("payload alerted = %v, want [%d]", payload.Alerted, bob.ID)
	}

	// Resume through the registered handler: carol is reached, bob is not
	// double-alerted thanks to the seeded bookkeeping.
	handler := NotifyResumeHandler(db, func() *Notifier { return newNotifier(db) })
	if err := handler(context.Background(), json.RawMessage(job.Payload)); err != nil {
		t.Fatalf("resume handler: %v", err)
	}

	if got := alertCount(t, db, bob.ID, post.ID); got != 1 {
		t.Fatalf("bob alerts = %d after resume, want 1", got)
	}
	if got := alertCount(t, db, carol.ID, post.ID); got != 1 {
		t.Fatalf("carol alerts = %d after resume, want 1", got)
	}
}

func TestNotifier_NoQueueFinishesInline(t *testing.T) {
	db := newTestDB(t)
	alice := seedUser(t, db, "alice", false)
	bob := seedUser(t, db, "bob", false)
	forum := seedForum(t, db, "General")
	thread := seedThread(t, db, forum, alice, "Topic")
	post := seedPost(t, db, thread, alice, "@bob ping", domain.MessageStateVisible, 0)
	refreshThread(t, db, thread)

	// Expired budget and no queue: the pass still completes inline.
	calls := 0
	n := &Notifier{
		DB:     db,
		Perms:  perms.StateOracle{},
		Budget: time.Second,
		Clock: func() time.Time {
			calls++
			if calls >= 3 {
				return baseTime.Add(time.Minute)
			}
			return baseTime
		},
	}
	p := loadPost(t, db, post.ID)
	if err := n.NotifyPost(context.Background(), p, NotifyActionReply); err != nil {
		t.Fatalf("NotifyPost: %v", err)
	}
	if got := alertCount(t, db, bob.ID, post.ID); got != 1 {
		t.Fatalf("bob alerts = %d, want 1", got)
	}
	if n := countRows(t, db, &domain.Job{}, "type = ?", jobs.TypeNotifyResume); n != 0 {
		t.Fatalf("resume jobs = %d, want 0 without a queue", n)
	}
}
