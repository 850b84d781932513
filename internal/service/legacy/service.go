// Package legacy serves the stateless single-shot tools.
package legacy

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/model/tool"
	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
)

const notConfigured = "Model API not configured. Please set your API key."

// Service runs one generation per request. Nothing is persisted.
type Service struct {
	tools   tool.Store
	limiter *ratelimit.Limiter
	client  *ai.Client
}

// NewService wires the tools; client may be nil when no model is configured.
func NewService(tools tool.Store, limiter *ratelimit.Limiter, client *ai.Client) *Service {
	return &Service{tools: tools, limiter: limiter, client: client}
}

// Tools lists the available templates.
func (s *Service) Tools() []tool.Template {
	return s.tools.List()
}

// Run renders the text tool id with text and returns the model's answer.
func (s *Service) Run(ctx context.Context, caller chat.Caller, id, text string) (string, error) {
	tpl, ok := s.tools.FindByID(id)
	if !ok || tpl.Kind != tool.KindText {
		return "", apperr.NotFound("Unknown tool %q", id)
	}
	if s.client == nil {
		return "", apperr.Upstream(notConfigured, nil)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.Validation("Text is required")
	}
	if err := s.admit(caller); err != nil {
		return "", err
	}

	temperature := tpl.Temperature
	completion, err := s.client.Complete(ctx, ai.Request{
		System:      tpl.System,
		Query:       tpl.Render(text),
		Temperature: &temperature,
		MaxTokens:   tpl.MaxTokens,
	})
	if err != nil {
		log.Printf("[legacy] %s failed: %v", id, err)
		return "", err
	}
	return completion.Content, nil
}

// SciFiImage generates an illustration and returns its URL.
func (s *Service) SciFiImage(ctx context.Context, caller chat.Caller, text string) (string, error) {
	tpl, ok := s.tools.FindByID("scifi-image")
	if !ok {
		return "", apperr.NotFound("Unknown tool %q", "scifi-image")
	}
	if !s.client.SupportsImages() {
		return "", apperr.Upstream(notConfigured, nil)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.Validation("Text is required")
	}
	if err := s.admit(caller); err != nil {
		return "", err
	}

	url, err := s.client.Image(ctx, ai.ImageRequest{Prompt: tpl.Render(text), Size: tpl.ImageSize})
	if err != nil {
		log.Printf("[legacy] image generation failed: %v", err)
		return "", err
	}
	return url, nil
}

func (s *Service) admit(caller chat.Caller) error {
	key := caller.LimitKey()
	if s.limiter.Allow(key) {
		return nil
	}
	wait := s.limiter.ResetAfter(key)
	return apperr.RateLimited(fmt.Sprintf("Rate limit exceeded. Please wait %d seconds before trying again.", wait), wait)
}
