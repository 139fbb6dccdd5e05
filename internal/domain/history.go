package domain

import (
	"context"
	"time"
)

// HistoryStore is the content-addressed log of scraped chat messages used to
// detect re-delivered messages and rebuild conversation history.
type HistoryStore interface {
	Has(ctx context.Context, id string) (bool, error)
	// Append stores rec unless a record with the same ID exists. inserted
	// reports whether a new row was written.
	Append(ctx context.Context, rec ProcessedMessageRecord) (inserted bool, err error)
	History(ctx context.Context, chatID string, limit int) ([]ProcessedMessageRecord, error)
	Close() error
}

type ProcessedMessageRecord struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	RawPayload string    `json:"raw_payload,omitempty"`
}

// AsMessage converts a stored record into a prompt message.
func (r ProcessedMessageRecord) AsMessage() Message {
	return Message{Role: r.Role, Content: r.Content, Timestamp: r.Timestamp}
}
