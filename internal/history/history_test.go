package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csbridge/internal/config"
	"csbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, testLogger())
	t.Cleanup(func() { s.Close() })
	return s
}

// stores runs fn against every backend.
func stores(t *testing.T, fn func(t *testing.T, s domain.HistoryStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLite(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedis(t)) })
}

func record(chatID string, role domain.Role, content string, ts time.Time) domain.ProcessedMessageRecord {
	return domain.ProcessedMessageRecord{ChatID: chatID, Role: role, Content: content, Timestamp: ts}
}

func TestComputeID(t *testing.T) {
	a := ComputeID("chat-1", domain.RoleUser, "[客户] 你好")
	assert.Len(t, a, 32)
	assert.Equal(t, a, ComputeID("chat-1", domain.RoleUser, "[客户] 你好"))
	assert.NotEqual(t, a, ComputeID("chat-1", domain.RoleAssistant, "[客户] 你好"))
	assert.NotEqual(t, a, ComputeID("chat-2", domain.RoleUser, "[客户] 你好"))
	// md5("abc")
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", ComputeID("a", "b", "c"))
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("chat")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, km.size())
}

func TestStore_AppendIsIdempotent(t *testing.T) {
	stores(t, func(t *testing.T, s domain.HistoryStore) {
		ctx := context.Background()
		rec := record("chat-1", domain.RoleUser, "[客户] 我想预约", time.Now())

		inserted, err := s.Append(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted)

		rec.Timestamp = rec.Timestamp.Add(time.Minute)
		inserted, err = s.Append(ctx, rec)
		require.NoError(t, err)
		assert.False(t, inserted)

		has, err := s.Has(ctx, ComputeID("chat-1", domain.RoleUser, "[客户] 我想预约"))
		require.NoError(t, err)
		assert.True(t, has)

		recs, err := s.History(ctx, "chat-1", 0)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestStore_HistoryOrdering(t *testing.T) {
	stores(t, func(t *testing.T, s domain.HistoryStore) {
		ctx := context.Background()
		base := time.UnixMilli(1_700_000_000_000)

		_, err := s.Append(ctx, record("c", domain.RoleAssistant, "third", base.Add(2*time.Second)))
		require.NoError(t, err)
		_, err = s.Append(ctx, record("c", domain.RoleUser, "first", base))
		require.NoError(t, err)
		// Same timestamp as "first"; ties break on id.
		_, err = s.Append(ctx, record("c", domain.RoleUser, "second", base))
		require.NoError(t, err)
		_, err = s.Append(ctx, record("other", domain.RoleUser, "elsewhere", base))
		require.NoError(t, err)

		recs, err := s.History(ctx, "c", 10)
		require.NoError(t, err)
		require.Len(t, recs, 3)

		tied := []string{ComputeID("c", domain.RoleUser, "first"), ComputeID("c", domain.RoleUser, "second")}
		if tied[0] > tied[1] {
			tied[0], tied[1] = tied[1], tied[0]
		}
		assert.Equal(t, tied[0], recs[0].ID)
		assert.Equal(t, tied[1], recs[1].ID)
		assert.Equal(t, "third", recs[2].Content)
		assert.Equal(t, domain.RoleAssistant, recs[2].Role)
		assert.Equal(t, base.Add(2*time.Second).UnixMilli(), recs[2].Timestamp.UnixMilli())
	})
}

func TestStore_HistoryLimitKeepsNewest(t *testing.T) {
	stores(t, func(t *testing.T, s domain.HistoryStore) {
		ctx := context.Background()
		base := time.UnixMilli(1_700_000_000_000)
		for i, text := range []string{"a", "b", "c", "d"} {
			_, err := s.Append(ctx, record("c", domain.RoleUser, text, base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}

		recs, err := s.History(ctx, "c", 2)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "c", recs[0].Content)
		assert.Equal(t, "d", recs[1].Content)
	})
}

func TestStore_RawPayloadAndEmptyChat(t *testing.T) {
	stores(t, func(t *testing.T, s domain.HistoryStore) {
		ctx := context.Background()
		rec := record("c", domain.RoleUser, "hi", time.Now())
		rec.RawPayload = `{"content":"hi"}`
		_, err := s.Append(ctx, rec)
		require.NoError(t, err)

		recs, err := s.History(ctx, "c", 5)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, `{"content":"hi"}`, recs[0].RawPayload)

		none, err := s.History(ctx, "missing", 5)
		require.NoError(t, err)
		assert.Empty(t, none)

		has, err := s.Has(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, has)
	})
}

func TestStore_ConcurrentAppendsOfSameMessage(t *testing.T) {
	stores(t, func(t *testing.T, s domain.HistoryStore) {
		ctx := context.Background()
		rec := record("c", domain.RoleUser, "[客户] 同一条消息", time.Now())

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Append(ctx, rec)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, inserted)
	})
}

func TestSQLiteStore_ChatCountAndMigrations(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	v, err := GetSchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
	require.NoError(t, RunMigrations(s.db, testLogger()))

	_, err = s.Append(ctx, record("a", domain.RoleUser, "x", time.Now()))
	require.NoError(t, err)
	_, err = s.Append(ctx, record("a", domain.RoleUser, "y", time.Now()))
	require.NoError(t, err)
	_, err = s.Append(ctx, record("b", domain.RoleUser, "x", time.Now()))
	require.NoError(t, err)

	n, err := s.ChatCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	_, err = s.Append(context.Background(), record("c", domain.RoleUser, "persisted", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	defer s2.Close()
	recs, err := s2.History(context.Background(), "c", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "persisted", recs[0].Content)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := Open(ctx, config.HistoryConfig{Backend: "redis", RedisAddr: mr.Addr()}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	s.Close()

	s, err = Open(ctx, config.HistoryConfig{DBPath: filepath.Join(t.TempDir(), "h.db")}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	_, err = Open(ctx, config.HistoryConfig{Backend: "cassandra"}, testLogger())
	assert.Error(t, err)
}
