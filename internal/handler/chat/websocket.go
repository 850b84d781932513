package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/middleware"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// WebSocketHandler 通过 WebSocket 执行对话轮次
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
	readWait time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chatSvc *chatService.Service) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc:  chatSvc,
		readWait: pongWait,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type turnPayload struct {
	Message     string   `json:"message"`
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type errorPayload struct {
	Message    string `json:"message"`
	Status     int    `json:"status"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.Session(r.Context(), sessionID); err != nil {
		utils.RespondError(w, err, false)
		return
	}
	caller := middleware.CallerFrom(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readWait))
		return nil
	})

	go pingLoop(ctx, conn, h.readWait*9/10)

	h.send(conn, sessionID, "connected", map[string]any{
		"modelConfigured": h.chatSvc.ModelConfigured(),
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		// pongs are not read while a turn runs, so the deadline restarts once it finishes
		h.handleMessage(ctx, conn, caller, sessionID, msg)
		conn.SetReadDeadline(time.Now().Add(h.readWait))
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *websocket.Conn, caller chat.Caller, sessionID string, msg inboundMessage) {
	var (
		result chatService.TurnResult
		err    error
	)

	switch msg.Type {
	case "message":
		var payload turnPayload
		if len(msg.Data) > 0 {
			if jsonErr := json.Unmarshal(msg.Data, &payload); jsonErr != nil {
				h.sendError(conn, sessionID, apperr.Validation("invalid message payload"))
				return
			}
		}
		result, err = h.chatSvc.SendMessage(ctx, caller, chatService.TurnRequest{
			SessionID:   sessionID,
			Message:     payload.Message,
			Model:       payload.Model,
			Temperature: payload.Temperature,
		})
	case "continue":
		result, err = h.chatSvc.Continue(ctx, caller, sessionID)
	default:
		h.sendError(conn, sessionID, apperr.Validation("unsupported message type %q", msg.Type))
		return
	}

	if err != nil {
		h.sendError(conn, sessionID, err)
		return
	}
	h.send(conn, sessionID, "reply", result)
}

func (h *WebSocketHandler) send(conn *websocket.Conn, sessionID, kind string, data any) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", kind, err)
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, sessionID string, err error) {
	payload := errorPayload{Message: apperr.MessageOf(err), Status: apperr.StatusOf(err)}
	if appErr, ok := apperr.As(err); ok {
		payload.RetryAfter = appErr.RetryAfter
	}
	h.send(conn, sessionID, "error", payload)
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
