package ai

import (
	"context"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// Message is one prior turn handed to the model.
type Message struct {
	Role    chat.Role
	Content string
}

// Request describes a single completion: an optional system instruction, prior
// history in chronological order and the new user query.
type Request struct {
	Model       string
	System      string
	History     []Message
	Query       string
	Temperature *float32
	MaxTokens   int
}

// Completion is the model's answer plus reported usage.
type Completion struct {
	Content     string
	Model       string
	TotalTokens int
}

// ImageRequest asks for a single generated image.
type ImageRequest struct {
	Prompt string
	Model  string
	Size   string
}

// Generator produces text completions from a remote model.
type Generator interface {
	Generate(ctx context.Context, req Request) (Completion, error)
	DefaultModel() string
}

// ImageGenerator produces image URLs from a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
}

// HistoryFromTranscript converts stored messages, skipping roles the model should not replay.
func HistoryFromTranscript(messages []chat.Message) []Message {
	history := make([]Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser, chat.RoleAssistant:
			history = append(history, Message{Role: msg.Role, Content: msg.Content})
		}
	}
	return history
}
