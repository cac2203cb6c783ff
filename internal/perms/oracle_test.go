package perms

import (
	"context"
	"testing"

	"github.com/quillforum/backend/internal/domain"
)

func TestStateOracle_CanViewPost(t *testing.T) {
	author := &domain.User{ID: 1}
	other := &domain.User{ID: 2}
	mod := &domain.User{ID: 3, IsModerator: true}

	visibleThread := &domain.Thread{ID: 10, UserID: 1, DiscussionState: domain.MessageStateVisible}
	deletedThread := &domain.Thread{ID: 11, UserID: 1, DiscussionState: domain.MessageStateDeleted}

	post := func(state domain.MessageState, th *domain.Thread) *domain.Post {
		return &domain.Post{ID: 100, UserID: 1, MessageState: state, Thread: th}
	}

	o := StateOracle{}
	ctx := context.Background()

	cases := []struct {
		name   string
		post   *domain.Post
		viewer *domain.User
		want   bool
	}{
		{"guest sees visible", post(domain.MessageStateVisible, visibleThread), nil, true},
		{"guest blocked by deleted thread", post(domain.MessageStateVisible, deletedThread), nil, false},
		{"guest blocked by moderated post", post(domain.MessageStateModerated, visibleThread), nil, false},
		{"author sees own moderated", post(domain.MessageStateModerated, visibleThread), author, true},
		{"other blocked from moderated", post(domain.MessageStateModerated, visibleThread), other, false},
		{"nobody but mod sees deleted", post(domain.MessageStateDeleted, visibleThread), author, false},
		{"mod sees deleted", post(domain.MessageStateDeleted, visibleThread), mod, true},
		{"mod sees through deleted thread", post(domain.MessageStateVisible, deletedThread), mod, true},
	}
	for _, tc := range cases {
		if got := o.CanViewPost(ctx, tc.post, tc.viewer); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}

	if o.CanViewPost(ctx, nil, mod) {
		t.Fatal("nil post must never be visible")
	}
}

func TestStateOracle_CanViewThread(t *testing.T) {
	owner := &domain.User{ID: 1}
	other := &domain.User{ID: 2}
	mod := &domain.User{ID: 3, IsModerator: true}

	o := StateOracle{}
	ctx := context.Background()

	moderated := &domain.Thread{ID: 10, UserID: 1, DiscussionState: domain.MessageStateModerated}
	if !o.CanViewThread(ctx, moderated, owner) {
		t.Fatal("owner must see own moderated thread")
	}
	if o.CanViewThread(ctx, moderated, other) {
		t.Fatal("others must not see a moderated thread")
	}
	if o.CanViewThread(ctx, moderated, nil) {
		t.Fatal("guests must not see a moderated thread")
	}

	deleted := &domain.Thread{ID: 11, UserID: 1, DiscussionState: domain.MessageStateDeleted}
	if o.CanViewThread(ctx, deleted, owner) {
		t.Fatal("deleted threads are hidden from non-moderators")
	}
	if !o.CanViewThread(ctx, deleted, mod) {
		t.Fatal("moderators see deleted threads")
	}

	if o.CanViewThread(ctx, nil, mod) {
		t.Fatal("nil thread must never be visible")
	}
}
