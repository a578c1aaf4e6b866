package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"claims-dialer/internal/agents"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("presence: agent not connected")
	ErrProbeTimeout = errors.New("presence: probe timed out")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer and the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionUpdater is the slice of agents.Service the hub writes through.
type SessionUpdater interface {
	Heartbeat(ctx context.Context, agentID string) error
	SetStatus(ctx context.Context, agentID string, status agents.Status) error
	SetDeviceConnected(ctx context.Context, agentID string, connected bool) error
}

// Hub tracks one WebSocket per agent desktop. The connection itself is the
// device-connected signal: open sets it, close clears it.
type Hub struct {
	sessions SessionUpdater
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(sessions SessionUpdater, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{sessions: sessions, log: log, clients: map[string]*client{}}
}

// Serve upgrades the request and runs the connection for agentID until it
// closes. The caller has already authenticated the agent.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, agentID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("agent websocket upgrade failed", slog.String("agent_id", agentID), slog.Any("err", err))
		return
	}

	c := newClient(h, conn, agentID)
	h.register(c)
	go c.writePump()
	c.readPump()
}

// Connected reports whether agentID has a live connection.
func (h *Hub) Connected(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[agentID]
	return ok
}

// Probe sends a WebSocket ping to the agent's device and waits for the pong.
func (h *Hub) Probe(ctx context.Context, agentID string) error {
	h.mu.RLock()
	c, ok := h.clients[agentID]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return c.probe(ctx)
}

// SendCallAssign pushes a call_assign message. It reports false when the agent
// has no connection or its send buffer is full.
func (h *Hub) SendCallAssign(msg CallAssign) bool {
	msg.Type = TypeCallAssign
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	h.mu.RLock()
	c, ok := h.clients[msg.AgentID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.enqueue(data)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	if existing, ok := h.clients[c.agentID]; ok {
		existing.close()
	}
	h.clients[c.agentID] = c
	h.mu.Unlock()

	if err := h.sessions.SetDeviceConnected(context.Background(), c.agentID, true); err != nil {
		h.log.Warn("mark device connected failed", slog.String("agent_id", c.agentID), slog.Any("err", err))
	}
	h.log.Info("agent device connected", slog.String("agent_id", c.agentID))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.agentID]
	if ok && current == c {
		delete(h.clients, c.agentID)
	}
	h.mu.Unlock()

	// A replaced connection must not flip the flag for its successor.
	if !ok || current != c {
		return
	}
	if err := h.sessions.SetDeviceConnected(context.Background(), c.agentID, false); err != nil && !errors.Is(err, agents.ErrNotFound) {
		h.log.Warn("mark device disconnected failed", slog.String("agent_id", c.agentID), slog.Any("err", err))
	}
	h.log.Info("agent device disconnected", slog.String("agent_id", c.agentID))
}

func (h *Hub) handle(c *client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("malformed message")
		return
	}
	ctx := context.Background()

	switch msg.Type {
	case TypeRegister:
		if err := h.sessions.SetDeviceConnected(ctx, c.agentID, true); err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendAck(msg.Type)

	case TypeHeartbeat:
		if err := h.sessions.Heartbeat(ctx, c.agentID); err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendAck(msg.Type)

	case TypeStatusChange:
		if err := h.sessions.SetStatus(ctx, c.agentID, agents.Status(msg.Status)); err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendAck(msg.Type)

	default:
		c.sendError("unknown message type")
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 4096
)

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	agentID string
	send    chan []byte
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	probes map[string]chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, agentID string) *client {
	return &client{
		hub:     h,
		conn:    conn,
		agentID: agentID,
		send:    make(chan []byte, 32),
		done:    make(chan struct{}),
		probes:  map[string]chan struct{}{},
	}
}

func (c *client) readPump() {
	defer func() {
		c.close()
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.resolveProbe(data)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("agent websocket read error", slog.String("agent_id", c.agentID), slog.Any("err", err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.handle(c, raw)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) sendAck(forType string) {
	if data, err := json.Marshal(Ack{Type: TypeAck, AgentID: c.agentID, For: forType}); err == nil {
		c.enqueue(data)
	}
}

func (c *client) sendError(msg string) {
	if data, err := json.Marshal(ErrorMessage{Type: TypeError, Message: msg}); err == nil {
		c.enqueue(data)
	}
}

func (c *client) probe(ctx context.Context) error {
	nonce := uuid.NewString()
	ch := make(chan struct{})

	c.mu.Lock()
	c.probes[nonce] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.probes, nonce)
		c.mu.Unlock()
	}()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := c.conn.WriteControl(websocket.PingMessage, []byte(nonce), deadline); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ErrProbeTimeout
	}
}

func (c *client) resolveProbe(nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.probes[nonce]; ok {
		close(ch)
		delete(c.probes, nonce)
	}
}
