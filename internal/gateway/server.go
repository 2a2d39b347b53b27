package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

// Frame is the wire shape on the /ws endpoint, both directions.
type Frame struct {
	Type    string      `json:"type"` // chat, message, event, error
	Content string      `json:"content,omitempty"`
	RoomID  string      `json:"room_id,omitempty"`
	Bot     string      `json:"bot,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
	Event   string      `json:"event,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Server exposes the local control surface: a /ws endpoint the CLI chat
// client connects to, and /health. It doubles as the "ws" channel adapter
// so outbound replies flow through the same dispatch path as Telegram or
// Discord messages.
type Server struct {
	cfg      config.GatewayConfig
	msgBus   *bus.MessageBus
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient

	httpServer *http.Server
	listener   net.Listener
}

type wsClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(frame)
}

func NewServer(cfg config.GatewayConfig, msgBus *bus.MessageBus) *Server {
	return &Server{
		cfg:    cfg,
		msgBus: msgBus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local-only surface; non-browser clients send no Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

func (s *Server) Name() string { return "ws" }

// Start listens on the configured address and serves until ctx is done.
// Implements the channel Start contract; the HTTP server runs in the
// background and shutdown is driven by ctx.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: mux}

	slog.Info("gateway: listening", "component", "gateway", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway: serve failed", "component", "gateway", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Send delivers an outbound envelope to the WebSocket client named by
// ChatID. Implements the channel Send contract.
func (s *Server) Send(_ context.Context, env bus.MessageEnvelope) error {
	s.mu.RLock()
	client, ok := s.clients[env.ChatID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ws client %q not connected", env.ChatID)
	}
	return client.send(Frame{
		Type:    "message",
		Content: env.Content,
		RoomID:  env.RoomID,
		Bot:     env.BotName,
		TraceID: env.TraceID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "component", "gateway", "error", err)
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn}
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		conn.Close()
	}()

	s.readLoop(client)
}

func (s *Server) readLoop(client *wsClient) {
	for {
		var frame Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("gateway: websocket read failed", "component", "gateway", "client", client.id, "error", err)
			}
			return
		}
		if frame.Type != "chat" || frame.Content == "" {
			client.send(Frame{Type: "error", Content: "expected a chat frame with content"})
			continue
		}

		env := bus.MessageEnvelope{
			Channel:    "ws",
			ChatID:     client.id,
			Content:    frame.Content,
			Direction:  bus.DirectionInbound,
			SenderID:   client.id,
			SenderRole: bus.RoleUser,
			RoomID:     frame.RoomID,
			TraceID:    frame.TraceID,
			Timestamp:  time.Now().UTC(),
		}
		env.EnsureTraceID()
		s.msgBus.PublishInbound(env)
	}
}

func (s *Server) registerClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	// Forward broadcast events to this client.
	s.msgBus.Subscribe(c.id, func(event bus.Event) {
		c.send(Frame{Type: "event", Event: event.Name, Payload: event.Payload})
	})
	slog.Info("gateway: client connected", "component", "gateway", "client", c.id)
}

func (s *Server) unregisterClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.msgBus.Unsubscribe(c.id)
	slog.Info("gateway: client disconnected", "component", "gateway", "client", c.id)
}
