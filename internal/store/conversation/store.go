// Package conversation persists chat sessions and their messages.
package conversation

import (
	"context"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

var (
	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = apperr.NotFound("Chat session not found")
	// ErrMessageNotFound is returned when a session has no message of the requested role.
	ErrMessageNotFound = apperr.NotFound("No previous message to continue")
)

// Store owns sessions and messages. Every message insertion updates the owning
// session's messageCount and updatedAt in the same unit of work.
type Store interface {
	CreateSession(ctx context.Context, userID string) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	// ListSessions returns the user's sessions, most recently active first.
	ListSessions(ctx context.Context, userID string) ([]chat.Session, error)
	AppendMessage(ctx context.Context, sessionID string, draft chat.Draft) (chat.Message, error)
	// ListMessages returns the session's messages in conversation order.
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	LastMessage(ctx context.Context, sessionID string, role chat.Role) (chat.Message, error)
	// RecordAssistantTurn appends an assistant message, adds its tokens to the
	// session total and, while the title is still the default, derives the title
	// from firstUserMessage.
	RecordAssistantTurn(ctx context.Context, sessionID string, draft chat.Draft, firstUserMessage string) (chat.Message, error)
	// DeleteSession removes the session's messages and then the session.
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

func normalizeUser(userID string) string {
	if userID == "" {
		return chat.AnonymousUser
	}
	return userID
}

func validateDraft(draft chat.Draft) error {
	if err := draft.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	return nil
}

func assistantDraft(draft chat.Draft) chat.Draft {
	draft.Role = chat.RoleAssistant
	return draft
}
