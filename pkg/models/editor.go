package models

import "time"

// MessageRole is the author of an edit session message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// EditSession is one conversational editing thread bound to a user and
// a site.
type EditSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"    validate:"required"`
	SiteID    string    `json:"site_id"    validate:"required"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EditMessage is one turn in an edit session. Assistant turns carry
// the applied change summaries in Metadata under "changes".
type EditMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
