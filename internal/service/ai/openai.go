package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

const (
	defaultOpenAIModel      = openai.GPT3Dot5Turbo
	defaultOpenAIImageModel = openai.CreateImageModelDallE2
	defaultImageSize        = openai.CreateImageSize512x512
)

// OpenAIGenerator talks to the OpenAI chat and image endpoints.
type OpenAIGenerator struct {
	client     *openai.Client
	model      string
	imageModel string
	maxTokens  int
}

// OpenAIOptions configures the OpenAI backend.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	MaxTokens  int
}

// NewOpenAIGenerator builds a generator; empty models fall back to gpt-3.5-turbo and dall-e-2.
func NewOpenAIGenerator(opts OpenAIOptions) *OpenAIGenerator {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = defaultOpenAIImageModel
	}

	return &OpenAIGenerator{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		imageModel: imageModel,
		maxTokens:  opts.MaxTokens,
	}
}

// DefaultModel returns the chat model used when a request does not name one.
func (g *OpenAIGenerator) DefaultModel() string {
	return g.model
}

// Generate performs one chat completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  buildOpenAIMessages(req),
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = openAITemperature(*req.Temperature)
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Completion{}, openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &StatusError{Status: http.StatusInternalServerError, Err: errors.New("openai returned no choices")}
	}

	return Completion{
		Content:     resp.Choices[0].Message.Content,
		Model:       model,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}

// GenerateImage requests one image and returns its URL.
func (g *OpenAIGenerator) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = g.imageModel
	}
	size := req.Size
	if size == "" {
		size = defaultImageSize
	}

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Data) == 0 {
		return "", &StatusError{Status: http.StatusInternalServerError, Err: errors.New("openai returned no images")}
	}
	return resp.Data[0].URL, nil
}

// openAITemperature keeps an explicit zero on the wire; go-openai omits a zero Temperature.
func openAITemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func buildOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openAIRole(m.Role), Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Query})
	return msgs
}

func openAIRole(role chat.Role) string {
	switch role {
	case chat.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case chat.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

// openAIError keeps the status the SDK reports. Quota and key problems arrive as
// error codes and are mapped onto 402 and 401.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		status := apiErr.HTTPStatusCode
		switch code {
		case "insufficient_quota":
			status = http.StatusPaymentRequired
		case "invalid_api_key":
			status = http.StatusUnauthorized
		}
		return &StatusError{Status: status, Code: code, Err: fmt.Errorf("openai: %w", err)}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{Status: reqErr.HTTPStatusCode, Err: fmt.Errorf("openai: %w", err)}
	}

	return withStatus(err)
}
