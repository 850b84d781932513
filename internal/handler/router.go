package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/z-chat/backend/internal/handler/legacy"
	middlewarePkg "github.com/zhouzirui/z-chat/backend/internal/middleware"
	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	legacyService "github.com/zhouzirui/z-chat/backend/internal/service/legacy"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// Services bundles what the HTTP layer depends on.
type Services struct {
	Chat    *chatService.Service
	Legacy  *legacyService.Service
	Limiter *ratelimit.Limiter
}

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg config.ServerConfig, auth config.AuthConfig, svcs Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.CORSOrigins))

	chatHandler := chat.New(svcs.Chat, svcs.Limiter, cfg.Debug())
	legacyHandler := legacy.New(svcs.Legacy, svcs.Limiter, cfg.Debug())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"success":     true,
				"message":     "Server is running successfully",
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
				"environment": cfg.Env,
			})
		})

		api.Get("/openai-status", func(w http.ResponseWriter, r *http.Request) {
			configured := svcs.Chat.ModelConfigured()
			message := "Model API key needs to be set in .env file"
			if configured {
				message = "Model API key is configured"
			}
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"success":          true,
				"openaiConfigured": configured,
				"message":          message,
			})
		})

		api.Group(func(api chi.Router) {
			api.Use(middlewarePkg.Authenticate(auth.JWTSecret))
			chatHandler.RegisterRoutes(api)
			legacyHandler.RegisterRoutes(api)
		})
	})

	return r
}
