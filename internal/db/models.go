package db

import "time"

type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OrganizationID string    `json:"organization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Metadata is what the widget learns about the visitor's browser when the
// contact session is opened. Every field is optional.
type Metadata struct {
	UserAgent        string   `json:"user_agent,omitempty"`
	Language         string   `json:"language,omitempty"`
	Languages        []string `json:"languages,omitempty"`
	Platform         string   `json:"platform,omitempty"`
	Vendor           string   `json:"vendor,omitempty"`
	ScreenResolution string   `json:"screen_resolution,omitempty"`
	Viewport         string   `json:"viewport,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	TimezoneOffset   *int     `json:"timezone_offset,omitempty"`
	CookieEnabled    *bool    `json:"cookie_enabled,omitempty"`
	Referrer         string   `json:"referrer,omitempty"`
	CurrentURL       string   `json:"current_url,omitempty"`
}

// ContactSession is an anonymous visitor's session with one organization's widget.
type ContactSession struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	OrganizationID string    `json:"organization_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the session is no longer usable at now.
func (s ContactSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

type ConversationStatus string

const (
	StatusUnresolved ConversationStatus = "unresolved"
	StatusEscalated  ConversationStatus = "escalated"
	StatusResolved   ConversationStatus = "resolved"
)

func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusUnresolved, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

type Conversation struct {
	ID               string             `json:"id"`
	OrganizationID   string             `json:"organization_id"`
	ContactSessionID string             `json:"contact_session_id"`
	Status           ConversationStatus `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleOperator  MessageRole = "operator"
)

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
}
