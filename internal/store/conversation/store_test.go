package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
			if err != nil {
				t.Fatalf("OpenSQLite err: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session, err := store.CreateSession(ctx, "")
		if err != nil {
			t.Fatalf("CreateSession err: %v", err)
		}
		if session.ID == "" {
			t.Fatalf("expected generated id")
		}
		if session.UserID != chat.AnonymousUser {
			t.Fatalf("expected anonymous user, got %q", session.UserID)
		}
		if session.Title != chat.DefaultTitle || session.MessageCount != 0 || session.TotalTokens != 0 {
			t.Fatalf("unexpected defaults: %+v", session)
		}

		got, err := store.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("GetSession err: %v", err)
		}
		if got.ID != session.ID || !got.CreatedAt.Equal(session.CreatedAt) {
			t.Fatalf("round trip mismatch: %+v vs %+v", got, session)
		}
	})
}

func TestGetSessionNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.GetSession(context.Background(), "missing")
		if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if apperr.StatusOf(err) != 404 {
			t.Fatalf("expected 404, got %d", apperr.StatusOf(err))
		}
	})
}

func TestAppendMessageUpdatesCounters(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session, _ := store.CreateSession(ctx, "u1")

		first, err := store.AppendMessage(ctx, session.ID, chat.Draft{Role: chat.RoleUser, Content: "hello"})
		if err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
		if _, err := store.AppendMessage(ctx, session.ID, chat.Draft{Role: chat.RoleUser, Content: "again"}); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}

		got, _ := store.GetSession(ctx, session.ID)
		if got.MessageCount != 2 {
			t.Fatalf("expected messageCount 2, got %d", got.MessageCount)
		}
		if got.UpdatedAt.Before(first.Timestamp) {
			t.Fatalf("updatedAt not refreshed: %v < %v", got.UpdatedAt, first.Timestamp)
		}
		if got.TotalTokens != 0 {
			t.Fatalf("user messages must not add tokens, got %d", got.TotalTokens)
		}

		messages, err := store.ListMessages(ctx, session.ID)
		if err != nil {
			t.Fatalf("ListMessages err: %v", err)
		}
		if len(messages) != 2 || messages[0].Content != "hello" || messages[1].Content != "again" {
			t.Fatalf("unexpected order: %+v", messages)
		}
		if !messages[0].IsComplete || messages[0].SessionID != session.ID {
			t.Fatalf("unexpected message fields: %+v", messages[0])
		}
	})
}

func TestAppendMessageMissingSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		_, err := store.AppendMessage(ctx, "ghost", chat.Draft{Role: chat.RoleUser, Content: "hi"})
		if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		messages, _ := store.ListMessages(ctx, "ghost")
		if len(messages) != 0 {
			t.Fatalf("nothing should be persisted, got %d", len(messages))
		}
	})
}

func TestAppendMessageRejectsInvalidDraft(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session, _ := store.CreateSession(ctx, "u1")
		_, err := store.AppendMessage(ctx, session.ID, chat.Draft{Role: chat.RoleUser, Content: ""})
		if !apperr.IsKind(err, apperr.KindValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestRecordAssistantTurnSetsTitleOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session, _ := store.CreateSession(ctx, "u1")

		long := strings.Repeat("a", 60)
		msg, err := store.RecordAssistantTurn(ctx, session.ID, chat.Draft{Content: "answer", Tokens: 12, Model: "gpt"}, long)
		if err != nil {
			t.Fatalf("RecordAssistantTurn err: %v", err)
		}
		if msg.Role != chat.RoleAssistant || msg.Tokens != 12 || msg.Model != "gpt" {
			t.Fatalf("unexpected message: %+v", msg)
		}

		got, _ := store.GetSession(ctx, session.ID)
		want := strings.Repeat("a", 50) + "..."
		if got.Title != want {
			t.Fatalf("expected title %q, got %q", want, got.Title)
		}
		if got.TotalTokens != 12 || got.MessageCount != 1 {
			t.Fatalf("unexpected counters: %+v", got)
		}

		if _, err := store.RecordAssistantTurn(ctx, session.ID, chat.Draft{Content: "more", Tokens: 3}, "another question"); err != nil {
			t.Fatalf("RecordAssistantTurn err: %v", err)
		}
		got, _ = store.GetSession(ctx, session.ID)
		if got.Title != want {
			t.Fatalf("title must not change twice, got %q", got.Title)
		}
		if got.TotalTokens != 15 || got.MessageCount != 2 {
			t.Fatalf("unexpected counters: %+v", got)
		}
	})
}

func TestRecordAssistantTurnEmptyFirstMessageKeepsTitle(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session, _ := store.CreateSession(ctx, "u1")
		if _, err := store.RecordAssistantTurn(ctx, session.ID, chat.Draft{Content: "continued"}, ""); err != nil {
			t.Fatalf("RecordAssistantTurn err: %v", err)
		}
		got, _ := store.GetSession(ctx, session.ID)
		if !got.HasDefaultTitle() {
			t.Fatalf("expected default title, got %q", got.Title)
		}
	})
}

func TestLastMessage(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session, _ := store.CreateSession(ctx, "u1")

		if _, err := store.LastMessage(ctx, session.ID, chat.RoleAssistant); !errors.Is(err, ErrMessageNotFound) {
			t.Fatalf("expected ErrMessageNotFound, got %v", err)
		}

		store.AppendMessage(ctx, session.ID, chat.Draft{Role: chat.RoleUser, Content: "q1"})
		store.RecordAssistantTurn(ctx, session.ID, chat.Draft{Content: "a1"}, "q1")
		store.AppendMessage(ctx, session.ID, chat.Draft{Role: chat.RoleUser, Content: "q2"})
		store.RecordAssistantTurn(ctx, session.ID, chat.Draft{Content: "a2"}, "q2")
		store.AppendMessage(ctx, session.ID, chat.Draft{Role: chat.RoleUser, Content: "q3"})

		last, err := store.LastMessage(ctx, session.ID, chat.RoleAssistant)
		if err != nil {
			t.Fatalf("LastMessage err: %v", err)
		}
		if last.Content != "a2" {
			t.Fatalf("expected a2, got %q", last.Content)
		}
	})
}

func TestListSessionsScopedAndOrdered(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		older, _ := store.CreateSession(ctx, "u1")
		newer, _ := store.CreateSession(ctx, "u1")
		store.CreateSession(ctx, "u2")

		// Activity on the older session moves it to the front.
		if _, err := store.AppendMessage(ctx, older.ID, chat.Draft{Role: chat.RoleUser, Content: "bump"}); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}

		sessions, err := store.ListSessions(ctx, "u1")
		if err != nil {
			t.Fatalf("ListSessions err: %v", err)
		}
		if len(sessions) != 2 {
			t.Fatalf("expected 2 sessions, got %d", len(sessions))
		}
		if sessions[0].ID != older.ID || sessions[1].ID != newer.ID {
			t.Fatalf("unexpected order: %s, %s", sessions[0].ID, sessions[1].ID)
		}

		none, err := store.ListSessions(ctx, "nobody")
		if err != nil {
			t.Fatalf("ListSessions err: %v", err)
		}
		if len(none) != 0 {
			t.Fatalf("expected no sessions, got %d", len(none))
		}
	})
}

func TestDeleteSessionCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session, _ := store.CreateSession(ctx, "u1")
		store.AppendMessage(ctx, session.ID, chat.Draft{Role: chat.RoleUser, Content: "hi"})

		if err := store.DeleteSession(ctx, session.ID); err != nil {
			t.Fatalf("DeleteSession err: %v", err)
		}
		if _, err := store.GetSession(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected session gone, got %v", err)
		}
		messages, _ := store.ListMessages(ctx, session.ID)
		if len(messages) != 0 {
			t.Fatalf("expected messages removed, got %d", len(messages))
		}
		if err := store.DeleteSession(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound on second delete, got %v", err)
		}
	})
}

func TestConcurrentAppendsKeepCount(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session, _ := store.CreateSession(ctx, "u1")

		const writers = 20
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.AppendMessage(ctx, session.ID, chat.Draft{Role: chat.RoleUser, Content: "x"}); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("AppendMessage err: %v", err)
		}

		got, _ := store.GetSession(ctx, session.ID)
		messages, _ := store.ListMessages(ctx, session.ID)
		if got.MessageCount != writers || len(messages) != writers {
			t.Fatalf("expected %d messages, got count=%d listed=%d", writers, got.MessageCount, len(messages))
		}
	})
}
