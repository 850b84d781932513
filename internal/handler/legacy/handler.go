package legacy

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/middleware"
	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
	legacyService "github.com/zhouzirui/z-chat/backend/internal/service/legacy"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// Handler 单次调用工具的HTTP处理器
type Handler struct {
	svc     *legacyService.Service
	limiter *ratelimit.Limiter
	debug   bool
}

// New 创建工具处理器
func New(svc *legacyService.Service, limiter *ratelimit.Limiter, debug bool) *Handler {
	return &Handler{svc: svc, limiter: limiter, debug: debug}
}

// RegisterRoutes 注册工具相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tools", h.handleListTools)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitHeaders(h.limiter))
		r.Post("/summary", h.textTool("summary"))
		r.Post("/paragraph", h.textTool("paragraph"))
		r.Post("/js-converter", h.textTool("js-converter"))
		r.Post("/scifi-image", h.handleSciFiImage)
	})
}

// handleListTools 列出所有工具
func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := h.svc.Tools()
	utils.RespondList(w, tools, len(tools))
}

func (h *Handler) textTool(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text, err := decodeText(r)
		if err != nil {
			utils.RespondError(w, err, h.debug)
			return
		}

		out, err := h.svc.Run(r.Context(), middleware.CallerFrom(r), id, text)
		if err != nil {
			utils.RespondError(w, err, h.debug)
			return
		}
		utils.RespondData(w, http.StatusOK, out)
	}
}

// handleSciFiImage 生成图片并返回URL
func (h *Handler) handleSciFiImage(w http.ResponseWriter, r *http.Request) {
	text, err := decodeText(r)
	if err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}

	url, err := h.svc.SciFiImage(r.Context(), middleware.CallerFrom(r), text)
	if err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}
	utils.RespondData(w, http.StatusOK, url)
}

func decodeText(r *http.Request) (string, error) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return "", apperr.Validation("invalid request body")
	}
	return payload.Text, nil
}
