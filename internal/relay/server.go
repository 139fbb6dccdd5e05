package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"csbridge/internal/domain"
	"csbridge/internal/metrics"
)

// Config configures the relay server.
type Config struct {
	Host     string
	Port     int
	Path     string // WebSocket endpoint path (default: /ws)
	Pipeline *Pipeline

	// DefaultChatID keys connections without ?chat_id= (default:
	// unknown_chat). It must stay the same across reconnects so a re-sent
	// transcript dedupes against what is already stored.
	DefaultChatID string

	// Status feeds GET /status; omitted when nil.
	Status func(ctx context.Context) any
	// MetricsHandler is mounted at MetricsPath (default: /metrics) when set.
	MetricsHandler http.Handler
	MetricsPath    string
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Server accepts scraper connections, stores what they send and broadcasts
// generated replies to every connected client.
type Server struct {
	host     string
	port     int
	path     string
	chatID   string
	pipeline *Pipeline
	status   func(ctx context.Context) any
	metricsH http.Handler
	metricsP string
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
}

// client tracks one connected scraper. Writes are serialized per client.
type client struct {
	id     string
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // the scraper runs as a browser extension on third-party origins
	},
}

func NewServer(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.DefaultChatID == "" {
		cfg.DefaultChatID = DefaultChatID
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Port == 0 {
		cfg.Port = 8767
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:     cfg.Host,
		port:     cfg.Port,
		path:     cfg.Path,
		chatID:   cfg.DefaultChatID,
		pipeline: cfg.Pipeline,
		status:   cfg.Status,
		metricsH: cfg.MetricsHandler,
		metricsP: cfg.MetricsPath,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      time.Now,
		clients:  make(map[string]*client),
	}
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(s.path, s.handleUpgrade)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.ClientCount()})
	})
	if s.status != nil {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.status(r.Context()))
		})
	}
	if s.metricsH != nil {
		r.Handle(s.metricsP, s.metricsH)
	}
	return r
}

// Start serves until ctx is cancelled, then closes every client and shuts
// the listener down.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("relay server starting", "addr", addr, "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	c.chatID = r.URL.Query().Get("chat_id")
	if c.chatID == "" {
		c.chatID = s.chatID
	}

	s.mu.Lock()
	s.clients[c.id] = c
	total := len(s.clients)
	s.mu.Unlock()
	s.metrics.RelayClientConnected()
	s.logger.Info("relay client connected", "client_id", c.id, "chat_id", c.chatID, "remote", r.RemoteAddr, "clients", total)

	defer func() {
		s.remove(c.id)
		conn.Close()
		s.metrics.RelayClientDisconnected()
		s.logger.Info("relay client disconnected", "client_id", c.id, "clients", s.ClientCount())
	}()

	c.send(Envelope{Type: TypeWelcome, Message: msgWelcome, Timestamp: stamp(s.now())})

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error", "client_id", c.id, "err", err)
			}
			return
		}
		for _, env := range s.handleMessage(ctx, c, data) {
			if err := c.send(env); err != nil {
				s.logger.Debug("websocket write failed", "client_id", c.id, "err", err)
				return
			}
		}
	}
}

// handleMessage processes one inbound frame and returns the envelopes still
// owed to its sender. Acknowledgements for data that triggers a reply are
// written before the reply is generated; the reply itself goes out through
// Broadcast.
func (s *Server) handleMessage(ctx context.Context, c *client, data []byte) []Envelope {
	ts := stamp(s.now())
	errorEnv := func(msg string) []Envelope {
		return []Envelope{{Type: TypeError, Message: msg, Timestamp: ts}}
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("invalid relay message", "client_id", c.id, "err", err)
		s.metrics.ObserveRelayMessage("invalid")
		return errorEnv(msgBadJSON)
	}

	switch raw.(type) {
	case []any:
		s.metrics.ObserveRelayMessage("data_list")
		var items []domain.ScrapedItem
		if err := json.Unmarshal(data, &items); err != nil {
			s.logger.Error("malformed data list", "client_id", c.id, "err", err)
			return errorEnv(msgInternalError)
		}
		s.logger.Info("data list received", "client_id", c.id, "count", len(items))
		ack := Envelope{
			Type:      TypeDataReceived,
			Message:   fmt.Sprintf(msgListFmt, len(items)),
			DataID:    "dianping_list_" + ts,
			Timestamp: ts,
		}
		if err := c.send(ack); err != nil {
			return nil
		}
		if err := s.reply(ctx, c.chatID, items); err != nil {
			return errorEnv(msgInternalError)
		}
		return nil

	case map[string]any:
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.logger.Error("malformed envelope", "client_id", c.id, "err", err)
			return errorEnv(msgInternalError)
		}
		s.metrics.ObserveRelayMessage(typeLabel(in.Type))
		switch in.Type {
		case TypePing:
			return []Envelope{{Type: TypePong, Message: msgPong, Timestamp: ts}}
		case TypeDianpingData:
			return s.handleDianping(ctx, c, in.Payload, ts)
		default:
			s.logger.Warn("unknown message type", "client_id", c.id, "type", in.Type)
			return errorEnv(fmt.Sprintf(msgUnknownTypeFmt, in.Type))
		}

	default:
		s.metrics.ObserveRelayMessage("unsupported")
		return errorEnv(msgUnsupported)
	}
}

func (s *Server) handleDianping(ctx context.Context, c *client, payload json.RawMessage, ts string) []Envelope {
	ok := []Envelope{{Type: TypeDataReceived, Message: msgDataReceived, DataID: "dianping_" + ts, Timestamp: ts}}
	if len(payload) == 0 || string(payload) == "null" {
		return ok
	}

	var page dianpingPayload
	if err := json.Unmarshal(payload, &page); err != nil {
		s.logger.Error("malformed dianping payload", "client_id", c.id, "err", err)
		return []Envelope{{Type: TypeError, Message: msgInternalError, Timestamp: ts}}
	}
	chatID := page.ChatID
	if chatID == "" {
		chatID = c.chatID
	}
	if s.pipeline != nil {
		if _, err := s.pipeline.StoreRaw(ctx, chatID, payload); err != nil {
			s.logger.Error("failed to store payload", "chat_id", chatID, "err", err)
			return []Envelope{{Type: TypeError, Message: msgInternalError, Timestamp: ts}}
		}
	}

	if page.PageType != chatPage || len(page.Data) == 0 {
		return ok
	}
	s.logger.Info("chat page received", "chat_id", chatID, "count", len(page.Data))
	if err := c.send(ok[0]); err != nil {
		return nil
	}
	if err := s.reply(ctx, chatID, page.Data); err != nil {
		return []Envelope{{Type: TypeError, Message: msgInternalError, Timestamp: ts}}
	}
	return nil
}

// reply runs items through the pipeline and broadcasts any reply.
func (s *Server) reply(ctx context.Context, chatID string, items []domain.ScrapedItem) error {
	if s.pipeline == nil {
		return nil
	}
	resp, err := s.pipeline.Process(ctx, chatID, items)
	if err != nil {
		s.logger.Error("reply generation failed", "chat_id", chatID, "error", err)
		return err
	}
	if resp == nil {
		return nil
	}
	n := s.Broadcast(Envelope{Type: TypeSendAIReply, Text: resp.Content})
	s.logger.Info("reply broadcast", "chat_id", chatID, "provider", resp.ProviderID, "clients", n, "reply", domain.Excerpt(resp.Content, 50))
	return nil
}

// Broadcast sends env to every client and drops the ones that fail. It
// returns how many clients received it.
func (s *Server) Broadcast(env Envelope) int {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		s.logger.Warn("no relay clients connected, reply not delivered")
		return 0
	}

	sent := 0
	for _, c := range targets {
		if err := c.send(env); err != nil {
			s.logger.Debug("broadcast write failed", "client_id", c.id, "err", err)
			s.remove(c.id)
			c.conn.Close()
			continue
		}
		sent++
	}
	return sent
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.conn.Close()
		delete(s.clients, id)
	}
}

func (c *client) send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func typeLabel(t string) string {
	switch t {
	case TypePing, TypeDianpingData:
		return t
	default:
		return "unknown"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
