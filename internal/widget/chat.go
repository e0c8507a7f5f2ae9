package widget

import (
	"context"
	"encoding/json"
)

// ConversationFetcher loads one conversation as seen by a contact session.
type ConversationFetcher func(ctx context.Context, conversationID, contactSessionID string) (any, error)

// ChatData is what the chat screen shows.
type ChatData struct {
	Fetched      bool
	Conversation any
	JSON         string
}

// LoadConversation fetches the conversation only when both ids are set.
// Otherwise the fetcher is not called and the result is empty.
func LoadConversation(ctx context.Context, fetch ConversationFetcher, conversationID, contactSessionID string) (ChatData, error) {
	if conversationID == "" || contactSessionID == "" {
		return ChatData{}, nil
	}
	conv, err := fetch(ctx, conversationID, contactSessionID)
	if err != nil {
		return ChatData{}, err
	}
	b, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return ChatData{}, err
	}
	return ChatData{Fetched: true, Conversation: conv, JSON: string(b)}, nil
}
