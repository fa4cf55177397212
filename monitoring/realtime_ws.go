package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"exovision/logger"
)

// MessageType tags hub messages.
type MessageType string

const (
	TrainingProgress MessageType = "training_progress"
	TrainingResult   MessageType = "training_result"
	Heartbeat        MessageType = "heartbeat"
)

// Message is the envelope sent to WebSocket and SSE subscribers.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	JobID     string      `json:"job_id,omitempty"`
	Model     string      `json:"model,omitempty"`
	Stage     string      `json:"stage,omitempty"`
	Done      bool        `json:"done,omitempty"`
	Failed    bool        `json:"failed,omitempty"`
	Data      any         `json:"data,omitempty"`
}

// Client is one subscriber. WebSocket clients own a connection; SSE
// subscribers only read from Messages.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

// Messages returns the channel of encoded messages. It is closed when the
// client is dropped or the hub stops.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.clientID
}

// HubStats are cumulative hub counters.
type HubStats struct {
	ConnectedClients int64     `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	StartTime        time.Time `json:"start_time"`
}

// WebSocketHub fans training events out to every subscriber and keeps the
// events of the latest job for late joiners.
type WebSocketHub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	recent    [][]byte
	recentJob string
	recentMax int
	recentMu  sync.Mutex

	sent    atomic.Int64
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// NewWebSocketHub creates a hub; call Start to run it.
func NewWebSocketHub(allowedOrigins []string) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		recentMax: 16,
		started:   time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		log:       logger.L().With(zap.String("component", "hub")),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Start runs the hub loop until Stop is called.
func (h *WebSocketHub) Start() {
	defer h.log.Info("hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", zap.String("client", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", zap.String("client", client.clientID), zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.sent.Add(1)
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends the hub loop and closes every subscriber.
func (h *WebSocketHub) Stop() {
	h.cancel()
}

// Subscribe registers a channel-only client. Recent messages are queued
// first so a late subscriber sees the current training stage.
func (h *WebSocketHub) Subscribe() (*Client, bool) {
	client := &Client{
		send:     make(chan []byte, 256),
		clientID: uuid.NewString(),
	}
	h.recentMu.Lock()
	for _, msg := range h.recent {
		client.send <- msg
	}
	h.recentMu.Unlock()

	select {
	case h.register <- client:
		return client, true
	case <-h.ctx.Done():
		return nil, false
	}
}

// Unsubscribe removes a client; it is safe to call more than once.
func (h *WebSocketHub) Unsubscribe(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// HandleWebSocket upgrades the request and streams hub messages.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client, ok := h.Subscribe()
	if !ok {
		conn.Close()
		return
	}
	client.conn = conn

	go client.writePump()
	go client.readPump(h)
}

// Publish encodes msg and broadcasts it. The ID and timestamp are filled
// in when empty.
func (h *WebSocketHub) Publish(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode hub message", zap.Error(err))
		return
	}

	h.recentMu.Lock()
	if msg.JobID != "" && msg.JobID != h.recentJob {
		h.recent = nil
		h.recentJob = msg.JobID
	}
	if msg.Type != Heartbeat {
		h.recent = append(h.recent, data)
		if len(h.recent) > h.recentMax {
			h.recent = h.recent[len(h.recent)-h.recentMax:]
		}
	}
	h.recentMu.Unlock()

	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("broadcast queue is full, dropping message", zap.String("type", string(msg.Type)))
	}
}

// PublishStage reports a training stage for a job.
func (h *WebSocketHub) PublishStage(jobID, model, stage string, done, failed bool) {
	h.Publish(Message{
		Type:   TrainingProgress,
		JobID:  jobID,
		Model:  model,
		Stage:  stage,
		Done:   done,
		Failed: failed,
	})
}

// PublishResult reports the summary of a finished job.
func (h *WebSocketHub) PublishResult(jobID, model string, summary any) {
	h.Publish(Message{
		Type:  TrainingResult,
		JobID: jobID,
		Model: model,
		Data:  summary,
	})
}

// GetStats returns hub counters.
func (h *WebSocketHub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		ConnectedClients: int64(len(h.clients)),
		MessagesSent:     h.sent.Load(),
		StartTime:        h.started,
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed and a
// closed connection is noticed.
func (c *Client) readPump(h *WebSocketHub) {
	defer func() {
		h.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}
