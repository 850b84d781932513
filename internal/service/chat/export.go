package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

const (
	ExportJSON = "json"
	ExportText = "txt"
)

// Export is a rendered transcript ready to be served as an attachment.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type exportSession struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	TotalTokens  int       `json:"totalTokens"`
	MessageCount int       `json:"messageCount"`
}

type exportMessage struct {
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens"`
}

type exportDocument struct {
	Session  exportSession   `json:"session"`
	Messages []exportMessage `json:"messages"`
}

// Export renders a session transcript as json (default) or txt.
func (s *Service) Export(ctx context.Context, sessionID, format string) (Export, error) {
	if format == "" {
		format = ExportJSON
	}
	if format != ExportJSON && format != ExportText {
		return Export{}, apperr.Validation("Unsupported export format %q", format)
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Export{}, err
	}
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return Export{}, err
	}

	filename := fmt.Sprintf("chat-%s.%s", sessionID, format)
	if format == ExportText {
		return Export{
			Filename:    filename,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(BuildTranscriptText(session, messages)),
		}, nil
	}

	body, err := json.MarshalIndent(buildDocument(session, messages), "", "  ")
	if err != nil {
		return Export{}, fmt.Errorf("encode export: %w", err)
	}
	return Export{Filename: filename, ContentType: "application/json", Body: body}, nil
}

func buildDocument(session chat.Session, messages []chat.Message) exportDocument {
	doc := exportDocument{
		Session: exportSession{
			ID:           session.ID,
			Title:        session.Title,
			CreatedAt:    session.CreatedAt,
			TotalTokens:  session.TotalTokens,
			MessageCount: session.MessageCount,
		},
		Messages: make([]exportMessage, 0, len(messages)),
	}
	for _, m := range messages {
		doc.Messages = append(doc.Messages, exportMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Tokens:    m.Tokens,
		})
	}
	return doc
}

// BuildTranscriptText renders the human readable export.
func BuildTranscriptText(session chat.Session, messages []chat.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chat Export: %s\n", session.Title)
	fmt.Fprintf(&b, "Created: %s\n", session.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total Tokens: %d\n\n", session.TotalTokens)

	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(m.Role)), m.Timestamp.Format(time.RFC3339))
		b.WriteString(m.Content + "\n\n")
	}
	return b.String()
}
