package chat

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DemoModel marks assistant messages produced without a model integration.
const DemoModel = "demo"

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message persists individual turns in conversation order.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Tokens     int       `json:"tokens"`
	Model      string    `json:"model,omitempty"`
	IsComplete bool      `json:"isComplete"`
}

// Draft carries the caller-supplied part of a message before it is stored.
type Draft struct {
	Role    Role
	Content string
	Tokens  int
	Model   string
}

// Validate checks the fields every stored message must satisfy.
func (d Draft) Validate() error {
	if !d.Role.Valid() {
		return fmt.Errorf("invalid role %q", d.Role)
	}
	if d.Content == "" {
		return fmt.Errorf("message content is required")
	}
	if d.Tokens < 0 {
		return fmt.Errorf("tokens must not be negative")
	}
	return nil
}
