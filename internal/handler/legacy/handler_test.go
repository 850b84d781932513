package legacy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-chat/backend/internal/model/tool"
	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
	"github.com/zhouzirui/z-chat/backend/internal/retry"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	legacyService "github.com/zhouzirui/z-chat/backend/internal/service/legacy"
)

type staticGenerator struct{}

func (staticGenerator) DefaultModel() string { return "gpt-test" }

func (staticGenerator) Generate(_ context.Context, req ai.Request) (ai.Completion, error) {
	return ai.Completion{Content: "out: " + req.Query}, nil
}

type staticImages struct{}

func (staticImages) GenerateImage(context.Context, ai.ImageRequest) (string, error) {
	return "https://images.example/ship.png", nil
}

func setupRouter(client *ai.Client, limiter *ratelimit.Limiter) *chi.Mux {
	svc := legacyService.NewService(tool.NewMemoryStore(tool.Seed()), limiter, client)
	r := chi.NewRouter()
	New(svc, limiter, false).RegisterRoutes(r)
	return r
}

func newClient() *ai.Client {
	return ai.NewClient(staticGenerator{}, staticImages{}, retry.Policy{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		Logf:       func(string, ...any) {},
	})
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSummaryEndpoint(t *testing.T) {
	r := setupRouter(newClient(), ratelimit.New())

	resp := post(r, "/summary", `{"text":"long text"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var env struct {
		Success bool   `json:"success"`
		Data    string `json:"data"`
	}
	json.Unmarshal(resp.Body.Bytes(), &env)
	if !env.Success || env.Data != "out: Please summarize the following text:\n\nlong text" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if resp.Header().Get("X-RateLimit-Limit") != "10" {
		t.Fatalf("expected rate limit headers, got %v", resp.Header())
	}
}

func TestSciFiImageEndpoint(t *testing.T) {
	r := setupRouter(newClient(), ratelimit.New())

	resp := post(r, "/scifi-image", `{"text":"a starship"}`)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "https://images.example/ship.png") {
		t.Fatalf("unexpected response %d: %s", resp.Code, resp.Body.String())
	}
}

func TestEndpointsWithoutModel(t *testing.T) {
	r := setupRouter(nil, ratelimit.New())

	for _, path := range []string{"/summary", "/paragraph", "/js-converter", "/scifi-image"} {
		resp := post(r, path, `{"text":"x"}`)
		if resp.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, resp.Code)
		}
	}
}

func TestMalformedBody(t *testing.T) {
	r := setupRouter(newClient(), ratelimit.New())
	if resp := post(r, "/paragraph", `not json`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListTools(t *testing.T) {
	r := setupRouter(nil, ratelimit.New())
	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var env struct {
		Count int `json:"count"`
		Data  []struct {
			ID     string `json:"id"`
			Prompt string `json:"prompt"`
		} `json:"data"`
	}
	json.Unmarshal(resp.Body.Bytes(), &env)
	if env.Count != 4 || len(env.Data) != 4 {
		t.Fatalf("expected 4 tools, got %s", resp.Body.String())
	}
	if env.Data[0].Prompt != "" {
		t.Fatal("prompt templates must not be exposed")
	}
}
