package service

import (
	"context"
	"errors"
	"fmt"

	"support-widget-server/internal/db"
)

// PublicConversation is the part of a conversation a widget visitor sees.
type PublicConversation struct {
	ID     string                `json:"id"`
	Status db.ConversationStatus `json:"status"`
}

func publicView(c *db.Conversation) *PublicConversation {
	return &PublicConversation{ID: c.ID, Status: c.Status}
}

type Conversations struct {
	Store    db.Store
	Sessions *ContactSessions
}

func NewConversations(store db.Store, sessions *ContactSessions) *Conversations {
	return &Conversations{Store: store, Sessions: sessions}
}

func (c *Conversations) session(ctx context.Context, contactSessionID string) (*db.ContactSession, error) {
	v, err := c.Sessions.Validate(ctx, contactSessionID)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, ErrInvalidSession
	}
	return v.ContactSession, nil
}

// Create opens an unresolved conversation for a live contact session of
// organizationID.
func (c *Conversations) Create(ctx context.Context, organizationID, contactSessionID string) (*PublicConversation, error) {
	cs, err := c.session(ctx, contactSessionID)
	if err != nil {
		return nil, err
	}
	if cs.OrganizationID != organizationID {
		return nil, ErrInvalidSession
	}

	conv, err := c.Store.CreateConversation(ctx, db.Conversation{
		OrganizationID:   organizationID,
		ContactSessionID: cs.ID,
		Status:           db.StatusUnresolved,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return publicView(conv), nil
}

// GetOne returns the conversation as seen by its contact session. A
// conversation that does not exist yields nil and no error.
func (c *Conversations) GetOne(ctx context.Context, conversationID, contactSessionID string) (*PublicConversation, error) {
	conv, err := c.owned(ctx, conversationID, contactSessionID)
	if err != nil || conv == nil {
		return nil, err
	}
	return publicView(conv), nil
}

// owned loads conversationID after checking it belongs to a live
// contactSessionID.
func (c *Conversations) owned(ctx context.Context, conversationID, contactSessionID string) (*db.Conversation, error) {
	cs, err := c.session(ctx, contactSessionID)
	if err != nil {
		return nil, err
	}
	conv, err := c.Store.GetConversation(ctx, conversationID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if conv.ContactSessionID != cs.ID {
		return nil, ErrIncorrectSession
	}
	return conv, nil
}

// List returns the contact session's conversations, newest first.
func (c *Conversations) List(ctx context.Context, contactSessionID string) ([]PublicConversation, error) {
	cs, err := c.session(ctx, contactSessionID)
	if err != nil {
		return nil, err
	}
	convs, err := c.Store.ListConversations(ctx, cs.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	out := make([]PublicConversation, 0, len(convs))
	for i := range convs {
		out = append(out, *publicView(&convs[i]))
	}
	return out, nil
}
