package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/store/conversation"
)

const (
	DefaultHistoryLimit = 20
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1000

	systemPrompt         = "You are a helpful assistant. Provide clear, accurate, and helpful responses."
	continueSystemPrompt = "Continue your previous response. Pick up exactly where you left off."
	continueDirective    = "Please continue your previous response."
)

const demoReply = `I'm running in demo mode because no model API key is configured.

Your message: "%s"

To enable real responses:
1. Create an API key with your model provider
2. Add it to your .env file, for example OPENAI_API_KEY=your-key-here
3. Restart the server

Until then I will echo your messages so you can try out the interface.`

// TurnRequest is one inbound chat message.
type TurnRequest struct {
	SessionID   string
	Message     string
	Model       string
	Temperature *float32
}

// RateLimitInfo reports the caller's standing after a turn.
type RateLimitInfo struct {
	Remaining int `json:"remaining"`
	ResetTime int `json:"resetTime"`
}

// TurnResult is the assistant's side of a completed turn.
type TurnResult struct {
	Message       string        `json:"message"`
	Tokens        int           `json:"tokens"`
	Model         string        `json:"model"`
	SessionID     string        `json:"sessionId"`
	Timestamp     time.Time     `json:"timestamp"`
	RateLimitInfo RateLimitInfo `json:"rateLimitInfo"`
}

// Service runs chat turns against the conversation store and, when configured,
// a remote model.
type Service struct {
	store        conversation.Store
	limiter      *ratelimit.Limiter
	client       *ai.Client
	historyLimit int
	temperature  float32
	maxTokens    int
}

// Option customises a Service.
type Option func(*Service)

// WithClient enables real generation. Without it every turn is answered in demo mode.
func WithClient(client *ai.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

// WithHistoryLimit bounds how many prior messages are sent with each turn.
func WithHistoryLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// WithGenerationDefaults sets the temperature and token ceiling used when a turn does not override them.
func WithGenerationDefaults(temperature float32, maxTokens int) Option {
	return func(s *Service) {
		if temperature >= 0 {
			s.temperature = temperature
		}
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
	}
}

// NewService wires the orchestrator. The limiter is shared with other services.
func NewService(store conversation.Store, limiter *ratelimit.Limiter, opts ...Option) *Service {
	s := &Service{
		store:        store,
		limiter:      limiter,
		historyLimit: DefaultHistoryLimit,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelConfigured reports whether turns reach a real model.
func (s *Service) ModelConfigured() bool {
	return s.client != nil
}

// SendMessage runs one chat turn. The user message is persisted before
// generation, so it survives a failed model call.
func (s *Service) SendMessage(ctx context.Context, caller chat.Caller, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, apperr.Validation("Message is required")
	}
	if req.SessionID == "" {
		return TurnResult{}, apperr.Validation("Session ID is required")
	}

	if err := s.admit(caller); err != nil {
		return TurnResult{}, err
	}

	if _, err := s.store.GetSession(ctx, req.SessionID); err != nil {
		return TurnResult{}, err
	}

	userMsg, err := s.store.AppendMessage(ctx, req.SessionID, chat.Draft{Role: chat.RoleUser, Content: req.Message})
	if err != nil {
		return TurnResult{}, err
	}

	if s.client == nil {
		log.Printf("[chat] model not configured, answering session %s in demo mode", req.SessionID)
		reply, err := s.store.RecordAssistantTurn(ctx, req.SessionID, chat.Draft{
			Content: fmt.Sprintf(demoReply, req.Message),
			Model:   chat.DemoModel,
		}, req.Message)
		if err != nil {
			return TurnResult{}, err
		}
		return s.result(caller, reply), nil
	}

	history, err := s.history(ctx, req.SessionID, userMsg.ID)
	if err != nil {
		return TurnResult{}, err
	}

	temperature := s.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	completion, err := s.client.Complete(ctx, ai.Request{
		Model:       req.Model,
		System:      systemPrompt,
		History:     history,
		Query:       req.Message,
		Temperature: &temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		log.Printf("[chat] turn failed for session %s: %v", req.SessionID, err)
		return TurnResult{}, err
	}

	reply, err := s.recordCompletion(ctx, req.SessionID, completion, req.Message)
	if err != nil {
		return TurnResult{}, err
	}
	return s.result(caller, reply), nil
}

// Continue asks the model to resume its last answer. The continuation
// directive is sent to the model but not stored, and the title is left alone.
func (s *Service) Continue(ctx context.Context, caller chat.Caller, sessionID string) (TurnResult, error) {
	if s.client == nil {
		return TurnResult{}, apperr.Upstream("Model API not configured. Please set your API key.", nil)
	}
	if sessionID == "" {
		return TurnResult{}, apperr.Validation("Session ID is required")
	}

	if err := s.admit(caller); err != nil {
		return TurnResult{}, err
	}

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return TurnResult{}, err
	}
	if _, err := s.store.LastMessage(ctx, sessionID, chat.RoleAssistant); err != nil {
		return TurnResult{}, err
	}

	history, err := s.history(ctx, sessionID, "")
	if err != nil {
		return TurnResult{}, err
	}

	temperature := s.temperature
	completion, err := s.client.Complete(ctx, ai.Request{
		System:      continueSystemPrompt,
		History:     history,
		Query:       continueDirective,
		Temperature: &temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		log.Printf("[chat] continue failed for session %s: %v", sessionID, err)
		return TurnResult{}, err
	}

	reply, err := s.recordCompletion(ctx, sessionID, completion, "")
	if err != nil {
		return TurnResult{}, err
	}
	return s.result(caller, reply), nil
}

func (s *Service) recordCompletion(ctx context.Context, sessionID string, completion ai.Completion, firstUserMessage string) (chat.Message, error) {
	if strings.TrimSpace(completion.Content) == "" {
		return chat.Message{}, apperr.Upstream("Model returned an empty response", nil)
	}
	return s.store.RecordAssistantTurn(ctx, sessionID, chat.Draft{
		Content: completion.Content,
		Tokens:  completion.TotalTokens,
		Model:   completion.Model,
	}, firstUserMessage)
}

// admit charges the caller one request or reports how long to wait.
func (s *Service) admit(caller chat.Caller) error {
	key := caller.LimitKey()
	if s.limiter.Allow(key) {
		return nil
	}
	wait := s.limiter.ResetAfter(key)
	return apperr.RateLimited(fmt.Sprintf("Rate limit exceeded. Please wait %d seconds before trying again.", wait), wait)
}

// history returns up to historyLimit messages preceding the turn, oldest first.
func (s *Service) history(ctx context.Context, sessionID, excludeID string) ([]ai.Message, error) {
	transcript, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	prior := make([]chat.Message, 0, len(transcript))
	for _, msg := range transcript {
		if msg.ID == excludeID {
			continue
		}
		prior = append(prior, msg)
	}
	if len(prior) > s.historyLimit {
		prior = prior[len(prior)-s.historyLimit:]
	}
	return ai.HistoryFromTranscript(prior), nil
}

func (s *Service) result(caller chat.Caller, reply chat.Message) TurnResult {
	key := caller.LimitKey()
	return TurnResult{
		Message:   reply.Content,
		Tokens:    reply.Tokens,
		Model:     reply.Model,
		SessionID: reply.SessionID,
		Timestamp: reply.Timestamp,
		RateLimitInfo: RateLimitInfo{
			Remaining: s.limiter.Remaining(key),
			ResetTime: s.limiter.ResetAfter(key),
		},
	}
}

// CreateSession opens a new conversation owned by the caller.
func (s *Service) CreateSession(ctx context.Context, caller chat.Caller) (chat.Session, error) {
	session, err := s.store.CreateSession(ctx, caller.Owner())
	if err != nil {
		return chat.Session{}, err
	}
	log.Printf("[chat] session %s created for %s", session.ID, session.UserID)
	return session, nil
}

// Session looks up one session.
func (s *Service) Session(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ListSessions returns the caller's sessions, most recent first.
func (s *Service) ListSessions(ctx context.Context, caller chat.Caller) ([]chat.Session, error) {
	return s.store.ListSessions(ctx, caller.Owner())
}

// Messages returns a session's transcript. Unknown sessions yield an empty list.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, sessionID)
}

// DeleteSession removes a session and its messages.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	log.Printf("[chat] session %s deleted", sessionID)
	return nil
}
