package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by every Store lookup that matches no record.
var ErrNotFound = errors.New("record not found")

// ErrInvalidStatus rejects a conversation status outside the known set.
var ErrInvalidStatus = errors.New("invalid conversation status")

// Store is the persistence contract shared by the file and sqlite backends.
type Store interface {
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, u User) (*User, error)

	CreateContactSession(ctx context.Context, s ContactSession) (*ContactSession, error)
	GetContactSession(ctx context.Context, id string) (*ContactSession, error)
	// DeleteExpiredContactSessions removes sessions whose expiry is at or
	// before the given time and returns how many were removed.
	DeleteExpiredContactSessions(ctx context.Context, before time.Time) (int, error)

	CreateConversation(ctx context.Context, c Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, contactSessionID string) ([]Conversation, error)

	CreateMessage(ctx context.Context, m Message) (*Message, error)
	// ListMessages returns a conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	Close() error
}
