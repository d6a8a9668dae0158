package agent

import (
	"context"
	"time"
)

// ConversationStore persists conversations. Implemented by the redis and
// in-memory stores; defined here to keep the driver free of store imports.
type ConversationStore interface {
	// Save writes the full conversation snapshot and updates the
	// recency index.
	Save(ctx context.Context, conv *Conversation) error

	// Load returns the conversation or ErrNotFound.
	Load(ctx context.Context, id string) (*Conversation, error)

	// Delete removes the conversation and its index entry.
	Delete(ctx context.Context, id string) error

	// List returns summaries of all conversations, most recent first.
	List(ctx context.Context) ([]ConversationSummary, error)
}

// ConversationSummary is one row of a conversation listing.
type ConversationSummary struct {
	ID           string    `json:"conversation_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	LastUpdated  time.Time `json:"last_updated"`
}
