package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// ArkGenerator runs completions through an eino chain backed by an Ark chat model.
type ArkGenerator struct {
	chain     compose.Runnable[map[string]any, *schema.Message]
	model     string
	maxTokens int
}

// NewArkGenerator compiles the prompt template and chat model into one chain.
// modelName is the Ark endpoint the chat model was configured with.
func NewArkGenerator(ctx context.Context, chatModel model.ChatModel, modelName string, maxTokens int) (*ArkGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system", true),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkGenerator{
		chain:     runnable,
		model:     modelName,
		maxTokens: maxTokens,
	}, nil
}

// DefaultModel returns the configured Ark endpoint.
func (g *ArkGenerator) DefaultModel() string {
	return g.model
}

// Generate invokes the chain once. The Ark endpoint is fixed at construction, so
// req.Model is not forwarded.
func (g *ArkGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	input := map[string]any{
		"system":  systemMessages(req.System),
		"history": buildHistoryMessages(req.History),
		"query":   req.Query,
	}

	var opts []model.Option
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}

	response, err := g.chain.Invoke(ctx, input, compose.WithChatModelOption(opts...))
	if err != nil {
		return Completion{}, withStatus(fmt.Errorf("failed to run AI chain: %w", err))
	}

	completion := Completion{Content: response.Content, Model: g.model}
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		completion.TotalTokens = response.ResponseMeta.Usage.TotalTokens
	}
	return completion, nil
}

func systemMessages(system string) []*schema.Message {
	if system == "" {
		return nil
	}
	return []*schema.Message{schema.SystemMessage(system)}
}

func buildHistoryMessages(messages []Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(msg.Content))
		}
	}
	return history
}
