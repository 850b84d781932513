package ai

import (
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/retry"
)

// StatusError attaches the provider's HTTP status to a failed call.
type StatusError struct {
	Status int
	Code   string
	Err    error
}

func (e *StatusError) Error() string   { return e.Err.Error() }
func (e *StatusError) Unwrap() error   { return e.Err }
func (e *StatusError) HTTPStatus() int { return e.Status }

var statusPattern = regexp.MustCompile(`(?i)status(?:\s*code)?\s*[:=]?\s*(\d{3})`)

// statusFromText recovers a status from providers that only report it inside the message.
func statusFromText(msg string) int {
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			return code
		}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient_quota"):
		return http.StatusPaymentRequired
	case strings.Contains(lower, "invalid_api_key"), strings.Contains(lower, "unauthorized"):
		return http.StatusUnauthorized
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "rate_limit"), strings.Contains(lower, "too many requests"):
		return http.StatusTooManyRequests
	}
	return 0
}

// withStatus wraps err in a StatusError unless it already carries one.
func withStatus(err error) error {
	if err == nil || retry.StatusOf(err) != 0 {
		return err
	}
	if status := statusFromText(err.Error()); status != 0 {
		return &StatusError{Status: status, Err: err}
	}
	return err
}

// Classify turns a failed model call into a message suitable for end users.
// It depends only on the error's status and text.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	switch retry.StatusOf(err) {
	case http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again. Consider upgrading your plan for higher limits."
	case http.StatusUnauthorized:
		return "Invalid API key. Please check the model API key in your .env file."
	case http.StatusPaymentRequired:
		return "API quota exceeded. Please add credits to your account."
	case http.StatusForbidden:
		return "Access forbidden. Your API key may not have permission for this operation."
	case http.StatusInternalServerError:
		return "Model server error. Please try again later."
	}

	msg := err.Error()
	if strings.Contains(msg, "Rate limit") {
		return msg
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return "Model API error: " + msg
}

// Surface maps a failed model call onto the boundary taxonomy: rate conditions
// become 429, everything else 500.
func Surface(err error) error {
	if err == nil {
		return nil
	}

	message := Classify(err)
	if retry.StatusOf(err) == http.StatusTooManyRequests || strings.Contains(err.Error(), "Rate limit") {
		return apperr.RateLimited(message, 0)
	}

	log.Printf("[ai] upstream failure: %v", err)
	return apperr.Upstream(message, err)
}
