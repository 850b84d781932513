package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
	"github.com/zhouzirui/z-chat/backend/internal/retry"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/store/conversation"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func setupRouter(limiter *ratelimit.Limiter) *chi.Mux {
	chatSvc := chatservice.NewService(conversation.NewMemoryStore(), limiter)
	handler := New(chatSvc, limiter, false)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
	return env
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	resp := do(t, r, http.MethodPost, "/chat/session", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var data struct {
		SessionID string `json:"sessionId"`
		Title     string `json:"title"`
	}
	json.Unmarshal(decode(t, resp).Data, &data)
	if data.SessionID == "" || data.Title != "New Chat" {
		t.Fatalf("unexpected session payload: %+v", data)
	}
	return data.SessionID
}

func TestChatTurnOverHTTP(t *testing.T) {
	r := setupRouter(ratelimit.New())
	sessionID := createSession(t, r)

	resp := do(t, r, http.MethodPost, "/chat", map[string]string{"sessionId": sessionID, "message": "Hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 9", got)
	}

	var result chatservice.TurnResult
	json.Unmarshal(decode(t, resp).Data, &result)
	if result.SessionID != sessionID || result.Model != "demo" || result.RateLimitInfo.Remaining != 9 {
		t.Fatalf("unexpected result: %+v", result)
	}

	resp = do(t, r, http.MethodGet, "/chat/messages/"+sessionID, nil)
	env := decode(t, resp)
	if env.Count == nil || *env.Count != 2 {
		t.Fatalf("expected 2 messages, got %s", resp.Body.String())
	}

	resp = do(t, r, http.MethodGet, "/chat/sessions", nil)
	env = decode(t, resp)
	if env.Count == nil || *env.Count != 1 {
		t.Fatalf("expected 1 session, got %s", resp.Body.String())
	}
}

func TestChatbotAlias(t *testing.T) {
	r := setupRouter(ratelimit.New())
	sessionID := createSession(t, r)

	resp := do(t, r, http.MethodPost, "/chatbot", map[string]string{"sessionId": sessionID, "message": "Hi"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestChatValidationAndNotFound(t *testing.T) {
	r := setupRouter(ratelimit.New())

	resp := do(t, r, http.MethodPost, "/chat", map[string]string{"sessionId": "x"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if env := decode(t, resp); env.Success || env.Error != "Message is required" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	resp = do(t, r, http.MethodPost, "/chat", map[string]string{"sessionId": "missing", "message": "hi"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestChatRateLimited(t *testing.T) {
	r := setupRouter(ratelimit.New(ratelimit.WithMaxRequests(1)))
	sessionID := createSession(t, r)

	do(t, r, http.MethodPost, "/chat", map[string]string{"sessionId": sessionID, "message": "one"})
	resp := do(t, r, http.MethodPost, "/chat", map[string]string{"sessionId": sessionID, "message": "two"})
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if got := resp.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if env := decode(t, resp); !strings.HasPrefix(env.Error, "Rate limit exceeded") {
		t.Fatalf("unexpected error %q", env.Error)
	}
}

func TestContinueWithoutModel(t *testing.T) {
	r := setupRouter(ratelimit.New())
	resp := do(t, r, http.MethodPost, "/chat/continue", map[string]string{"sessionId": "any"})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestExportAttachment(t *testing.T) {
	r := setupRouter(ratelimit.New())
	sessionID := createSession(t, r)
	do(t, r, http.MethodPost, "/chat", map[string]string{"sessionId": sessionID, "message": "Export this"})

	resp := do(t, r, http.MethodGet, "/chat/export/"+sessionID+"?format=txt", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Disposition"); got != `attachment; filename="chat-`+sessionID+`.txt"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	body := resp.Body.String()
	if !strings.Contains(body, "[USER]") || !strings.Contains(body, "[ASSISTANT]") || !strings.Contains(body, "Export this") {
		t.Fatalf("unexpected export body:\n%s", body)
	}

	resp = do(t, r, http.MethodGet, "/chat/export/"+sessionID+"?format=xml", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", resp.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	r := setupRouter(ratelimit.New())
	sessionID := createSession(t, r)

	resp := do(t, r, http.MethodDelete, "/chat/session/"+sessionID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	resp = do(t, r, http.MethodDelete, "/chat/session/"+sessionID, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestWebSocketTurn(t *testing.T) {
	r := setupRouter(ratelimit.New())
	sessionID := createSession(t, r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello outgoingMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "connected" {
		t.Fatalf("expected connected frame, got %+v (%v)", hello, err)
	}

	conn.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"message": "over the socket"}})
	var reply struct {
		Type string                 `json:"type"`
		Data chatservice.TurnResult `json:"data"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != "reply" || !strings.Contains(reply.Data.Message, "over the socket") {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	conn.WriteJSON(map[string]any{"type": "continue"})
	var failure struct {
		Type string       `json:"type"`
		Data errorPayload `json:"data"`
	}
	if err := conn.ReadJSON(&failure); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if failure.Type != "error" || failure.Data.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected error frame: %+v", failure)
	}
}

type slowGenerator struct {
	delay time.Duration
}

func (g slowGenerator) DefaultModel() string { return "gpt-test" }

func (g slowGenerator) Generate(ctx context.Context, req ai.Request) (ai.Completion, error) {
	select {
	case <-time.After(g.delay):
	case <-ctx.Done():
		return ai.Completion{}, ctx.Err()
	}
	return ai.Completion{Content: "reply to " + req.Query, TotalTokens: 5}, nil
}

func TestWebSocketTurnLongerThanReadWait(t *testing.T) {
	limiter := ratelimit.New()
	client := ai.NewClient(slowGenerator{delay: 600 * time.Millisecond}, nil, retry.Policy{MaxRetries: 1})
	chatSvc := chatservice.NewService(conversation.NewMemoryStore(), limiter, chatservice.WithClient(client))
	handler := New(chatSvc, limiter, false)
	handler.ws.readWait = 300 * time.Millisecond

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	sessionID := createSession(t, r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var hello outgoingMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "connected" {
		t.Fatalf("expected connected frame, got %+v (%v)", hello, err)
	}

	for _, text := range []string{"first", "second"} {
		if err := conn.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"message": text}}); err != nil {
			t.Fatalf("write %s: %v", text, err)
		}
		var reply struct {
			Type string                 `json:"type"`
			Data chatservice.TurnResult `json:"data"`
		}
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read reply to %s: %v", text, err)
		}
		if reply.Type != "reply" || reply.Data.Message != "reply to "+text {
			t.Fatalf("unexpected reply to %s: %+v", text, reply)
		}
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	srv := httptest.NewServer(setupRouter(ratelimit.New()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}
