package agent

import (
	"sync"
	"time"

	"csbridge/internal/domain"
)

// DefaultMemoryLimit is how many turns a conversation keeps.
const DefaultMemoryLimit = 30

// Memory holds the recent turns of each conversation, oldest first. Each
// conversation is capped; appending past the cap drops the oldest turn.
type Memory struct {
	mu    sync.RWMutex
	limit int
	convs map[string][]domain.Message
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Memory{limit: limit, convs: make(map[string][]domain.Message)}
}

// Set replaces a conversation's memory with a copy of msgs, keeping the
// newest entries when msgs exceeds the cap.
func (m *Memory) Set(convID string, msgs []domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(msgs) > m.limit {
		msgs = msgs[len(msgs)-m.limit:]
	}
	m.convs[convID] = append([]domain.Message(nil), msgs...)
}

// Clear drops a conversation and returns how many turns it held.
func (m *Memory) Clear(convID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.convs[convID])
	delete(m.convs, convID)
	return n
}

func (m *Memory) Append(convID string, role domain.Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append(m.convs[convID], domain.Message{Role: role, Content: content, Timestamp: time.Now()})
	if len(msgs) > m.limit {
		msgs = append([]domain.Message(nil), msgs[len(msgs)-m.limit:]...)
	}
	m.convs[convID] = msgs
}

// Get returns a copy of a conversation's turns.
func (m *Memory) Get(convID string) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.convs[convID]...)
}

func (m *Memory) Len(convID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.convs[convID])
}

// Total counts the turns held across all conversations.
func (m *Memory) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, msgs := range m.convs {
		n += len(msgs)
	}
	return n
}
