package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"csbridge/internal/agent"
	"csbridge/internal/domain"
	"csbridge/internal/history"
)

// Replier generates replies and keeps conversation memory.
type Replier interface {
	GenerateReply(ctx context.Context, convID, customerMessage string, history []domain.Message) (*domain.ChatResponse, error)
}

// Pipeline stores scraped items and decides whether they need a reply.
type Pipeline struct {
	store   domain.HistoryStore
	replier Replier
	limit   int
	logger  *slog.Logger
	now     func() time.Time
}

func NewPipeline(store domain.HistoryStore, replier Replier, historyLimit int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = history.DefaultLimit
	}
	return &Pipeline{store: store, replier: replier, limit: historyLimit, logger: logger, now: time.Now}
}

// Process appends every item to the history store and, when the last item is
// a customer message seen for the first time, generates a reply. It returns
// nil when no reply is due.
func (p *Pipeline) Process(ctx context.Context, chatID string, items []domain.ScrapedItem) (*domain.ChatResponse, error) {
	if len(items) == 0 {
		return nil, nil
	}

	now := p.now()
	var (
		lastInserted bool
		last         domain.ProcessedMessageRecord
	)
	for i, item := range items {
		rec, ok := itemRecord(chatID, item, now.Add(time.Duration(i)*time.Millisecond))
		if !ok {
			continue
		}
		inserted, err := p.store.Append(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("store message: %w", err)
		}
		if i == len(items)-1 {
			lastInserted = inserted
			last = rec
		}
	}

	isCustomer, message := agent.IsCustomerMessage(items)
	if !isCustomer || message == "" {
		return nil, nil
	}
	if !lastInserted {
		p.logger.Debug("customer message already handled", "chat_id", last.ChatID, "id", last.ID)
		return nil, nil
	}

	recs, err := p.store.History(ctx, last.ChatID, p.limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	hist := make([]domain.Message, 0, len(recs))
	for _, r := range recs {
		if r.ID == last.ID || r.Role == domain.RoleSystem {
			continue
		}
		m := r.AsMessage()
		m.Content = strings.TrimSpace(strings.TrimPrefix(m.Content, domain.CustomerMarker))
		hist = append(hist, m)
	}

	p.logger.Info("generating reply", "chat_id", last.ChatID, "history", len(hist), "message", domain.Excerpt(message, 50))
	resp, err := p.replier.GenerateReply(ctx, last.ChatID, message, hist)
	if err != nil {
		return nil, err
	}

	// The reply must sort after the message it answers.
	at := p.now()
	if !at.After(last.Timestamp) {
		at = last.Timestamp.Add(time.Millisecond)
	}
	reply := domain.ProcessedMessageRecord{
		ChatID:    last.ChatID,
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		Timestamp: at,
	}
	if _, err := p.store.Append(ctx, reply); err != nil {
		p.logger.Warn("failed to store reply", "chat_id", last.ChatID, "error", err)
	}
	return resp, nil
}

// StoreRaw keeps a non-chat payload in the log under chatID.
func (p *Pipeline) StoreRaw(ctx context.Context, chatID string, raw []byte) (bool, error) {
	content := string(raw)
	return p.store.Append(ctx, domain.ProcessedMessageRecord{
		ID:         history.ComputeID(chatID, domain.RoleSystem, content),
		ChatID:     chatID,
		Role:       domain.RoleSystem,
		Content:    content,
		Timestamp:  p.now(),
		RawPayload: content,
	})
}

// itemRecord builds the stored record for one scraped item. Items without
// text are skipped.
func itemRecord(chatID string, item domain.ScrapedItem, fallback time.Time) (domain.ProcessedMessageRecord, bool) {
	text := item.Text()
	if text == "" {
		return domain.ProcessedMessageRecord{}, false
	}
	if item.ChatID != "" {
		chatID = item.ChatID
	}
	role := domain.RoleAssistant
	switch {
	case item.Role != "":
		role = domain.ParseRole(item.Role)
	case item.IsCustomer():
		role = domain.RoleUser
	}
	raw, _ := json.Marshal(item)
	return domain.ProcessedMessageRecord{
		ID:         history.ComputeID(chatID, role, text),
		ChatID:     chatID,
		Role:       role,
		Content:    text,
		Timestamp:  item.Time(fallback),
		RawPayload: string(raw),
	}, true
}
