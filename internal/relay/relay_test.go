package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csbridge/internal/domain"
	"csbridge/internal/history"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReplier answers every message with a fixed reply and records calls.
type fakeReplier struct {
	mu       sync.Mutex
	messages []string
	history  [][]domain.Message
	reply    string
	err      error
}

func (f *fakeReplier) GenerateReply(ctx context.Context, convID, msg string, hist []domain.Message) (*domain.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	f.history = append(f.history, hist)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatResponse{Content: f.reply, ProviderID: "fake"}, nil
}

func (f *fakeReplier) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func newStore(t *testing.T) domain.HistoryStore {
	t.Helper()
	s, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type harness struct {
	srv     *Server
	http    *httptest.Server
	replier *fakeReplier
	store   domain.HistoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newStore(t)
	replier := &fakeReplier{reply: "您好，请问想预约什么时间？"}
	srv := NewServer(Config{
		Pipeline: NewPipeline(store, replier, 0, testLogger()),
		Status:   func(ctx context.Context) any { return map[string]any{"total_providers": 1} },
		Logger:   testLogger(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, http: ts, replier: replier, store: store}
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	welcome := readEnvelope(t, conn)
	require.Equal(t, TypeWelcome, welcome.Type)
	require.Equal(t, "连接成功! 大众点评数据提取服务已就绪", welcome.Message)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

// --- Protocol ---

func TestRelay_Ping(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	send(t, conn, `{"type":"ping"}`)
	env := readEnvelope(t, conn)
	assert.Equal(t, TypePong, env.Type)
	assert.Equal(t, "服务器正常运行", env.Message)
	assert.NotEmpty(t, env.Timestamp)
}

func TestRelay_ErrorEnvelopes(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	cases := []struct {
		in   string
		want string
	}{
		{`{not json`, "JSON格式错误"},
		{`"just a string"`, "不支持的数据类型"},
		{`42`, "不支持的数据类型"},
		{`{"type":"subscribe"}`, "未知的消息类型: subscribe"},
		{`[1,2,3]`, "服务器内部错误"},
	}
	for _, c := range cases {
		send(t, conn, c.in)
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeError, env.Type, c.in)
		assert.Equal(t, c.want, env.Message, c.in)
	}
}

func TestRelay_MerchantListIsAcknowledgedWithoutReply(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "?chat_id=shop-1")

	send(t, conn, `[{"content":"[客户] 你好"},{"content":"[商家] 您好，在的"}]`)
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeDataReceived, env.Type)
	assert.Equal(t, "数据列表已接收 (2条)", env.Message)
	assert.True(t, strings.HasPrefix(env.DataID, "dianping_list_"))
	assert.Empty(t, h.replier.calls())

	recs, err := h.store.History(context.Background(), "shop-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.RoleUser, recs[0].Role)
	assert.Equal(t, domain.RoleAssistant, recs[1].Role)
}

func TestRelay_CustomerMessageBroadcastsReplyOnce(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t, "?chat_id=shop-1")
	watcher := h.dial(t, "")

	batch := `[{"content":"[商家] 欢迎光临"},{"content":"[客户] 我想预约周六"}]`
	send(t, sender, batch)

	ack := readEnvelope(t, sender)
	assert.Equal(t, TypeDataReceived, ack.Type)

	for _, conn := range []*websocket.Conn{sender, watcher} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeSendAIReply, env.Type)
		assert.Equal(t, "您好，请问想预约什么时间？", env.Text)
	}
	assert.Equal(t, []string{"我想预约周六"}, h.replier.calls())

	// The scraper re-sends the same view: acknowledged, but no second reply.
	send(t, sender, batch)
	ack = readEnvelope(t, sender)
	assert.Equal(t, TypeDataReceived, ack.Type)
	send(t, sender, `{"type":"ping"}`)
	assert.Equal(t, TypePong, readEnvelope(t, sender).Type)
	assert.Len(t, h.replier.calls(), 1)

	recs, err := h.store.History(context.Background(), "shop-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, domain.RoleAssistant, recs[2].Role)
	assert.Equal(t, "您好，请问想预约什么时间？", recs[2].Content)
}

func TestRelay_ReconnectDoesNotReplyAgain(t *testing.T) {
	h := newHarness(t)
	batch := `[{"content":"[商家] 欢迎光临"},{"content":"[客户] 我想预约周六"}]`

	first := h.dial(t, "")
	send(t, first, batch)
	assert.Equal(t, TypeDataReceived, readEnvelope(t, first).Type)
	assert.Equal(t, TypeSendAIReply, readEnvelope(t, first).Type)
	require.NoError(t, first.Close())

	// The scraper reconnects and re-sends the whole visible transcript.
	second := h.dial(t, "")
	send(t, second, batch)
	assert.Equal(t, TypeDataReceived, readEnvelope(t, second).Type)
	send(t, second, `{"type":"ping"}`)
	assert.Equal(t, TypePong, readEnvelope(t, second).Type)

	assert.Equal(t, []string{"我想预约周六"}, h.replier.calls())
	recs, err := h.store.History(context.Background(), DefaultChatID, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestRelay_ConfiguredDefaultChatID(t *testing.T) {
	store := newStore(t)
	replier := &fakeReplier{reply: "好的"}
	srv := NewServer(Config{
		DefaultChatID: "shop-42",
		Pipeline:      NewPipeline(store, replier, 0, testLogger()),
		Logger:        testLogger(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	h := &harness{srv: srv, http: ts, replier: replier, store: store}

	conn := h.dial(t, "")
	send(t, conn, `[{"content":"[客户] 在吗"}]`)
	assert.Equal(t, TypeDataReceived, readEnvelope(t, conn).Type)
	assert.Equal(t, TypeSendAIReply, readEnvelope(t, conn).Type)

	recs, err := store.History(context.Background(), "shop-42", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRelay_ReplyFailureSendsServerError(t *testing.T) {
	h := newHarness(t)
	h.replier.err = &domain.AllProvidersFailedError{Causes: map[string]error{"openai": errors.New("down")}, Order: []string{"openai"}}
	conn := h.dial(t, "")

	send(t, conn, `[{"content":"[客户] 在吗"}]`)
	assert.Equal(t, TypeDataReceived, readEnvelope(t, conn).Type)
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "服务器内部错误", env.Message)
}

func TestRelay_DianpingChatPage(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	send(t, conn, `{"type":"dianping_data","payload":{"pageType":"chat_page","chatId":"c-9","data":[{"content":"[客户] 有女技师吗"}]}}`)
	ack := readEnvelope(t, conn)
	assert.Equal(t, TypeDataReceived, ack.Type)
	assert.Equal(t, "大众点评数据已接收", ack.Message)
	assert.True(t, strings.HasPrefix(ack.DataID, "dianping_"))

	reply := readEnvelope(t, conn)
	assert.Equal(t, TypeSendAIReply, reply.Type)
	assert.Equal(t, []string{"有女技师吗"}, h.replier.calls())

	recs, err := h.store.History(context.Background(), "c-9", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3) // raw payload, customer line, reply
	roles := map[domain.Role]int{}
	for _, r := range recs {
		roles[r.Role]++
	}
	assert.Equal(t, map[domain.Role]int{domain.RoleSystem: 1, domain.RoleUser: 1, domain.RoleAssistant: 1}, roles)
	assert.Equal(t, domain.RoleAssistant, recs[2].Role)
}

func TestRelay_DianpingOtherPageIsStoredOnly(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "?chat_id=listing")

	send(t, conn, `{"type":"dianping_data","payload":{"pageType":"shop_page","data":[{"content":"[客户] x"}]}}`)
	assert.Equal(t, TypeDataReceived, readEnvelope(t, conn).Type)
	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, TypePong, readEnvelope(t, conn).Type)
	assert.Empty(t, h.replier.calls())

	recs, err := h.store.History(context.Background(), "listing", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

// --- HTTP endpoints ---

func TestRelay_HealthAndStatus(t *testing.T) {
	h := newHarness(t)
	h.dial(t, "")

	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["clients"])

	resp2, err := http.Get(h.http.URL + "/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestBroadcast_NoClients(t *testing.T) {
	srv := NewServer(Config{Logger: testLogger()})
	assert.Equal(t, 0, srv.Broadcast(Envelope{Type: TypeSendAIReply, Text: "x"}))
}

// --- Pipeline ---

func TestPipeline_HistoryExcludesCurrentMessage(t *testing.T) {
	store := newStore(t)
	replier := &fakeReplier{reply: "好的"}
	p := NewPipeline(store, replier, 0, testLogger())
	ctx := context.Background()

	_, err := p.Process(ctx, "c", []domain.ScrapedItem{{Content: "[客户] 第一句"}})
	require.NoError(t, err)
	resp, err := p.Process(ctx, "c", []domain.ScrapedItem{{Content: "[客户] 第一句"}, {Content: "[客户] 第二句"}})
	require.NoError(t, err)
	require.NotNil(t, resp)

	require.Len(t, replier.history, 2)
	assert.NotNil(t, replier.history[0])
	assert.Empty(t, replier.history[0])
	second := replier.history[1]
	require.Len(t, second, 2)
	assert.Equal(t, "第一句", second[0].Content)
	assert.Equal(t, domain.RoleUser, second[0].Role)
	assert.Equal(t, "好的", second[1].Content)
}

func TestPipeline_ExplicitRoleAndChatID(t *testing.T) {
	store := newStore(t)
	p := NewPipeline(store, &fakeReplier{reply: "x"}, 0, testLogger())

	resp, err := p.Process(context.Background(), "conn", []domain.ScrapedItem{
		{Content: "人工回复", Role: "assistant", ChatID: "other", Timestamp: float64(1_700_000_000_000)},
	})
	require.NoError(t, err)
	assert.Nil(t, resp)

	recs, err := store.History(context.Background(), "other", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(1_700_000_000_000), recs[0].Timestamp.UnixMilli())
}
