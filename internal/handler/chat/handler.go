package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/middleware"
	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	limiter *ratelimit.Limiter
	debug   bool
	ws      *WebSocketHandler
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, limiter *ratelimit.Limiter, debug bool) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		limiter: limiter,
		debug:   debug,
		ws:      NewWebSocketHandler(chatSvc),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/session", h.handleCreateSession)
	r.Get("/chat/sessions", h.handleListSessions)
	r.Get("/chat/messages/{sessionID}", h.handleListMessages)
	r.Get("/chat/export/{sessionID}", h.handleExport)
	r.Delete("/chat/session/{sessionID}", h.handleDeleteSession)
	r.Get("/chat/ws/{sessionID}", h.ws.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitHeaders(h.limiter))
		r.Post("/chat", h.handleSendMessage)
		r.Post("/chatbot", h.handleSendMessage)
		r.Post("/chat/continue", h.handleContinue)
	})
}

type sendMessageRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"sessionId"`
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context(), middleware.CallerFrom(r))
	if err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}

	utils.RespondData(w, http.StatusCreated, map[string]any{
		"sessionId": session.ID,
		"title":     session.Title,
		"createdAt": session.CreatedAt,
	})
}

// handleListSessions 列出当前用户的会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context(), middleware.CallerFrom(r))
	if err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}
	utils.RespondList(w, sessions, len(sessions))
}

// handleListMessages 按时间顺序返回会话消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}
	utils.RespondList(w, messages, len(messages))
}

// handleSendMessage 处理一轮对话
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, apperr.Validation("invalid request body"), h.debug)
		return
	}

	result, err := h.chatSvc.SendMessage(r.Context(), middleware.CallerFrom(r), chatService.TurnRequest{
		SessionID:   payload.SessionID,
		Message:     payload.Message,
		Model:       payload.Model,
		Temperature: payload.Temperature,
	})
	if err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}
	utils.RespondData(w, http.StatusOK, result)
}

// handleContinue 让模型接着上一条回复继续生成
func (h *Handler) handleContinue(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, apperr.Validation("invalid request body"), h.debug)
		return
	}

	result, err := h.chatSvc.Continue(r.Context(), middleware.CallerFrom(r), payload.SessionID)
	if err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}
	utils.RespondData(w, http.StatusOK, result)
}

// handleExport 以附件形式导出会话
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.chatSvc.Export(r.Context(), chi.URLParam(r, "sessionID"), r.URL.Query().Get("format"))
	if err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(export.Body)
}

// handleDeleteSession 删除会话及其消息
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, err, h.debug)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "Chat session deleted successfully")
}
