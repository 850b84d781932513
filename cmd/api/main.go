package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/handler"
	"github.com/zhouzirui/z-chat/backend/internal/model/tool"
	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
	"github.com/zhouzirui/z-chat/backend/internal/retry"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/legacy"
	"github.com/zhouzirui/z-chat/backend/internal/store/conversation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer store.Close()

	limiter := ratelimit.New(
		ratelimit.WithMaxRequests(cfg.RateLimit.MaxRequests),
		ratelimit.WithWindow(cfg.RateLimit.Window),
	)
	go limiter.Run(ctx, cfg.RateLimit.SweepEvery)

	client := newModelClient(ctx, cfg)

	chatOpts := []chat.Option{
		chat.WithGenerationDefaults(cfg.AI.TemperatureOr(chat.DefaultTemperature), cfg.AI.MaxTokensOr(chat.DefaultMaxTokens)),
	}
	if client != nil {
		chatOpts = append(chatOpts, chat.WithClient(client))
	}
	chatService := chat.NewService(store, limiter, chatOpts...)
	legacyService := legacy.NewService(tool.NewMemoryStore(tool.Seed()), limiter, client)

	router := handler.NewRouter(cfg.Server, cfg.Auth, handler.Services{
		Chat:    chatService,
		Legacy:  legacyService,
		Limiter: limiter,
	})

	startServer(ctx, cfg.Server, router)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (conversation.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		log.Println("using in-memory conversation store, history is lost on restart")
		return conversation.NewMemoryStore(), nil
	case config.StoragePostgres:
		log.Println("using postgres conversation store")
		return conversation.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		log.Printf("using sqlite conversation store at %s", cfg.SQLitePath)
		return conversation.OpenSQLite(cfg.SQLitePath)
	}
}

// newModelClient returns nil when no usable credentials are present; chat then runs in demo mode.
func newModelClient(ctx context.Context, cfg *config.Config) *ai.Client {
	if !cfg.AI.Enabled() {
		if cfg.AI.Configured() {
			log.Printf("warning: %s credentials are incomplete, falling back to demo mode", cfg.AI.Provider)
		} else {
			log.Println("model API key not configured, chat runs in demo mode")
		}
		return nil
	}

	policy := retry.Policy{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay}
	maxTokens := cfg.AI.MaxTokensOr(chat.DefaultMaxTokens)

	switch cfg.AI.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize ark chat model: %v", err)
			return nil
		}
		gen, err := ai.NewArkGenerator(ctx, chatModel, cfg.AI.Ark.Model, maxTokens)
		if err != nil {
			log.Printf("warning: failed to build ark chain: %v", err)
			return nil
		}
		log.Printf("ark model %s initialized, image generation unavailable", cfg.AI.Ark.Model)
		return ai.NewClient(gen, nil, policy)
	default:
		gen := ai.NewOpenAIGenerator(ai.OpenAIOptions{
			APIKey:     cfg.AI.OpenAI.APIKey,
			BaseURL:    cfg.AI.OpenAI.BaseURL,
			Model:      cfg.AI.OpenAI.Model,
			ImageModel: cfg.AI.OpenAI.ImageModel,
			MaxTokens:  maxTokens,
		})
		log.Printf("openai model %s initialized", gen.DefaultModel())
		return ai.NewClient(gen, gen, policy)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Chat backend listening on %s (env=%s)", addr, serverCfg.Env)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
