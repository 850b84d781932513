package utils

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
)

// Envelope 是所有 JSON 响应的统一外层结构
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondData 发送成功响应
func RespondData(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, Envelope{Success: true, Data: data})
}

// RespondList 发送带数量的列表响应
func RespondList(w http.ResponseWriter, data any, count int) {
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: data, Count: &count})
}

// RespondMessage 发送只包含提示信息的成功响应
func RespondMessage(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Envelope{Success: true, Message: message})
}

// RespondError 根据错误类型选择状态码；debug 为 true 时附带原始错误
func RespondError(w http.ResponseWriter, err error, debug bool) {
	status := apperr.StatusOf(err)
	if appErr, ok := apperr.As(err); ok && appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	if status >= http.StatusInternalServerError {
		log.Printf("[http] %d: %v", status, err)
	}

	body := Envelope{Success: false, Error: apperr.MessageOf(err)}
	if debug {
		body.Detail = err.Error()
	}
	RespondJSON(w, status, body)
}
