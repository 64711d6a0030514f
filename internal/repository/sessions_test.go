package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/internal/storage"
	"github.com/chatabubble/session-vault/pkg/logger"
)

func newTestRepo(t *testing.T, activeCap int) *SessionRepository {
	t.Helper()
	kv, err := storage.NewSQLiteKV(":memory:", 0)
	if err != nil {
		t.Fatalf("failed to open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return New(storage.NewChunkedStore(kv, 256*1024), activeCap, logger.NewNop())
}

func sampleSession(id string, status model.SessionStatus, lastUpdated int64) *model.Session {
	return &model.Session{
		ID:          id,
		UserID:      "user-1",
		ScenarioID:  "scenario-1",
		Status:      status,
		StartTime:   lastUpdated - 60_000,
		LastUpdated: lastUpdated,
	}
}

func sampleHistory(n int) []model.ChatMessage {
	messages := make([]model.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		sender := model.SenderUser
		if i%2 == 1 {
			sender = model.SenderAssistant
		}
		messages = append(messages, model.ChatMessage{
			ID:        fmt.Sprintf("msg-%d", i),
			Sender:    sender,
			Content:   model.MessageContent{Original: fmt.Sprintf("text %d", i)},
			Timestamp: int64(1_000_000 + i),
		})
	}
	return messages
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, 10)

	session := sampleSession("s1", model.StatusActive, model.NowMillis())
	history := sampleHistory(4)
	if err := repo.SaveSession(ctx, session, history); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loaded, err := repo.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded == nil || loaded.ID != "s1" || loaded.UserID != "user-1" {
		t.Fatalf("unexpected session: %+v", loaded)
	}
	if loaded.Messages != nil {
		t.Fatal("metadata record must not embed messages")
	}
	if loaded.Metrics.MessageCount != 4 || loaded.Metrics.UserMessageCount != 2 {
		t.Fatalf("metrics not recomputed on save: %+v", loaded.Metrics)
	}

	messages, err := repo.LoadHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if len(messages) != 4 || messages[3].Content.Original != "text 3" {
		t.Fatalf("unexpected history: %+v", messages)
	}
}

func TestLoadAbsent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, 10)

	session, err := repo.LoadSession(ctx, "missing")
	if err != nil || session != nil {
		t.Fatalf("absent session: got (%+v, %v), want (nil, nil)", session, err)
	}
	history, err := repo.LoadHistory(ctx, "missing")
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Fatalf("absent history should be an empty slice, got %v", history)
	}
}

func TestSaveRequiresID(t *testing.T) {
	repo := newTestRepo(t, 10)
	if err := repo.SaveSession(context.Background(), &model.Session{}, nil); err == nil {
		t.Fatal("expected an error for an empty session id")
	}
}

func TestDeleteSessionRemovesBothRecords(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, 10)

	session := sampleSession("s1", model.StatusActive, model.NowMillis())
	if err := repo.SaveSession(ctx, session, sampleHistory(2)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := repo.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if s, _ := repo.LoadSession(ctx, "s1"); s != nil {
		t.Fatal("session record survived deletion")
	}
	if h, _ := repo.LoadHistory(ctx, "s1"); len(h) != 0 {
		t.Fatal("history record survived deletion")
	}
}

func TestListUserSessions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, 10)

	mine := sampleSession("s1", model.StatusActive, model.NowMillis())
	theirs := sampleSession("s2", model.StatusActive, model.NowMillis())
	theirs.UserID = "user-2"
	for _, s := range []*model.Session{mine, theirs} {
		if err := repo.SaveSession(ctx, s, nil); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	owned, err := repo.ListUserSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListUserSessions failed: %v", err)
	}
	if len(owned) != 1 || owned[0].ID != "s1" {
		t.Fatalf("unexpected sessions: %+v", owned)
	}
}

func TestEvictionKeepsNewestActive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, 10)

	// 15 active sessions with distinct ages. The 5 oldest must go.
	for i := 0; i < 15; i++ {
		s := sampleSession(fmt.Sprintf("s%02d", i), model.StatusActive, int64(1_000_000+i*1000))
		if err := repo.SaveSession(ctx, s, nil); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	remaining, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(remaining) != 10 {
		t.Fatalf("got %d sessions after eviction, want 10", len(remaining))
	}
	for _, s := range remaining {
		if s.LastUpdated < 1_005_000 {
			t.Fatalf("an old session survived eviction: %+v", s)
		}
	}

	// Evicted sessions lose their history too.
	if h, _ := repo.LoadHistory(ctx, "s00"); len(h) != 0 {
		t.Fatal("evicted session left history behind")
	}
}

func TestEvictionExemptsSavedAndCompleted(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, 2)

	for i := 0; i < 5; i++ {
		s := sampleSession(fmt.Sprintf("saved%d", i), model.StatusSaved, int64(1_000_000+i))
		if err := repo.SaveSession(ctx, s, nil); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}
	done := sampleSession("done", model.StatusCompleted, 1)
	if err := repo.SaveSession(ctx, done, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	active := sampleSession("active", model.StatusActive, model.NowMillis())
	if err := repo.SaveSession(ctx, active, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	remaining, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(remaining) != 7 {
		t.Fatalf("non-active sessions were evicted: %d remain, want 7", len(remaining))
	}
}
