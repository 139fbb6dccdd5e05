package history

import (
	"crypto/md5"
	"encoding/hex"
	"sync"

	"csbridge/internal/domain"
)

// DefaultLimit is how many records History returns when no limit is given.
const DefaultLimit = 50

// ComputeID returns the content address of a message: the md5 hex digest of
// chat id, role and content concatenated. The timestamp is not part of it, so
// the same text from the same side of one chat always maps to one record.
func ComputeID(chatID string, role domain.Role, content string) string {
	sum := md5.Sum([]byte(chatID + string(role) + content))
	return hex.EncodeToString(sum[:])
}

// KeyedMutex hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock locks key and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size reports the number of live keys.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func normalize(rec domain.ProcessedMessageRecord) domain.ProcessedMessageRecord {
	if rec.ID == "" {
		rec.ID = ComputeID(rec.ChatID, rec.Role, rec.Content)
	}
	return rec
}
