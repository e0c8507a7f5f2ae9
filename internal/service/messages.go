package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"support-widget-server/internal/db"
)

const (
	EventMessageCreated = "message.created"
	maxMessageLength    = 4000
)

// Publisher fans an event out to realtime subscribers of a topic.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// ConversationTopic is the realtime topic carrying a conversation's events.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

type Messages struct {
	Store         db.Store
	Conversations *Conversations
	Publisher     Publisher
}

func NewMessages(store db.Store, conversations *Conversations, pub Publisher) *Messages {
	return &Messages{Store: store, Conversations: conversations, Publisher: pub}
}

func (m *Messages) conversation(ctx context.Context, conversationID, contactSessionID string) (*db.Conversation, error) {
	conv, err := m.Conversations.owned(ctx, conversationID, contactSessionID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation not found", db.ErrNotFound)
	}
	return conv, nil
}

// Send stores a visitor message and publishes it on the conversation topic.
func (m *Messages) Send(ctx context.Context, conversationID, contactSessionID, content string) (*db.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, fmt.Errorf("%w: content too long", ErrInvalidInput)
	}

	conv, err := m.conversation(ctx, conversationID, contactSessionID)
	if err != nil {
		return nil, err
	}
	if conv.Status == db.StatusResolved {
		return nil, ErrConversationResolved
	}

	msg, err := m.Store.CreateMessage(ctx, db.Message{
		ConversationID: conv.ID,
		Role:           db.RoleUser,
		Content:        content,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if m.Publisher != nil {
		m.Publisher.Publish(ConversationTopic(conv.ID), EventMessageCreated, msg)
	}
	return msg, nil
}

func (m *Messages) List(ctx context.Context, conversationID, contactSessionID string) ([]db.Message, error) {
	conv, err := m.conversation(ctx, conversationID, contactSessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.Store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return msgs, nil
}
