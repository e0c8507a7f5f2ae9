package widget

import (
	"context"
)

const (
	CookieName = "widget_state"

	MessageOrganizationRequired = "Organization ID is required"
)

// State is the per-visitor widget state. It survives requests in a cookie.
type State struct {
	Screen         Screen `json:"screen"`
	OrganizationID string `json:"organization_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`

	// ContactSessions holds one contact session id per organization.
	ContactSessions map[string]string `json:"contact_sessions,omitempty"`
}

func NewState() *State {
	return &State{Screen: ScreenLoading}
}

func (s *State) ContactSessionID(organizationID string) string {
	return s.ContactSessions[organizationID]
}

// SetContactSessionID stores id for organizationID; an empty id removes it.
func (s *State) SetContactSessionID(organizationID, id string) {
	if id == "" {
		delete(s.ContactSessions, organizationID)
		return
	}
	if s.ContactSessions == nil {
		s.ContactSessions = make(map[string]string)
	}
	s.ContactSessions[organizationID] = id
}

// Back leaves the chat for the conversation selection.
func (s *State) Back() {
	s.ConversationID = ""
	s.Screen = ScreenSelection
}

func (s *State) Fail(message string) {
	s.Screen = ScreenError
	s.ErrorMessage = message
}

// Reload starts a fresh page load for organizationID. Contact sessions are
// kept.
func (s *State) Reload(organizationID string) {
	s.Screen = ScreenLoading
	s.OrganizationID = organizationID
	s.ConversationID = ""
	s.ErrorMessage = ""
}

// SessionValidator reports whether a contact session is live for an
// organization.
type SessionValidator interface {
	ValidSession(ctx context.Context, contactSessionID, organizationID string) (bool, error)
}

// Resolve moves a loading widget to its first real screen. Other screens
// are left alone.
func (s *State) Resolve(ctx context.Context, v SessionValidator) error {
	if s.Screen != ScreenLoading {
		return nil
	}
	if s.OrganizationID == "" {
		s.Fail(MessageOrganizationRequired)
		return nil
	}
	if id := s.ContactSessionID(s.OrganizationID); id != "" {
		ok, err := v.ValidSession(ctx, id, s.OrganizationID)
		if err != nil {
			return err
		}
		if ok {
			s.Screen = ScreenSelection
			return nil
		}
		s.SetContactSessionID(s.OrganizationID, "")
	}
	s.Screen = ScreenAuth
	return nil
}
