package chat

import "time"

const (
	// DefaultTitle is assigned at creation and replaced once by the first user message.
	DefaultTitle = "New Chat"
	// AnonymousUser owns sessions created without an authenticated caller.
	AnonymousUser = "anonymous"

	titleLimit = 50
)

// Session is a persisted conversation thread.
type Session struct {
	ID           string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	TotalTokens  int       `json:"totalTokens"`
	MessageCount int       `json:"messageCount"`
}

// HasDefaultTitle reports whether the title may still be derived from a user message.
func (s Session) HasDefaultTitle() bool {
	return s.Title == DefaultTitle
}

// DeriveTitle shortens the first user message into a session title.
func DeriveTitle(firstUserMessage string) string {
	runes := []rune(firstUserMessage)
	if len(runes) <= titleLimit {
		return firstUserMessage
	}
	return string(runes[:titleLimit]) + "..."
}
