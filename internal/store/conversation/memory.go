package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	now      func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CreateSession(_ context.Context, userID string) (chat.Session, error) {
	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    normalizeUser(userID),
		Title:     chat.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session, nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, userID string) ([]chat.Session, error) {
	userID = normalizeUser(userID)

	s.mu.RLock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, draft chat.Draft) (chat.Message, error) {
	if err := validateDraft(draft); err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	msg := s.insertLocked(&session, draft)
	s.sessions[sessionID] = session
	return msg, nil
}

func (s *MemoryStore) RecordAssistantTurn(_ context.Context, sessionID string, draft chat.Draft, firstUserMessage string) (chat.Message, error) {
	draft = assistantDraft(draft)
	if err := validateDraft(draft); err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	msg := s.insertLocked(&session, draft)
	session.TotalTokens += draft.Tokens
	if firstUserMessage != "" && session.HasDefaultTitle() {
		session.Title = chat.DeriveTitle(firstUserMessage)
	}
	s.sessions[sessionID] = session
	return msg, nil
}

// insertLocked appends the message and bumps the session counters. Caller holds mu.
func (s *MemoryStore) insertLocked(session *chat.Session, draft chat.Draft) chat.Message {
	now := s.now()
	if history := s.messages[session.ID]; len(history) > 0 {
		if last := history[len(history)-1].Timestamp; !now.After(last) {
			now = last.Add(time.Nanosecond)
		}
	}

	msg := chat.Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Role:       draft.Role,
		Content:    draft.Content,
		Timestamp:  now,
		Tokens:     draft.Tokens,
		Model:      draft.Model,
		IsComplete: true,
	}
	s.messages[session.ID] = append(s.messages[session.ID], msg)

	session.MessageCount++
	session.UpdatedAt = now
	return msg
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *MemoryStore) LastMessage(_ context.Context, sessionID string, role chat.Role) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[sessionID]
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return messages[i], nil
		}
	}
	return chat.Message{}, ErrMessageNotFound
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, sessionID)
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
