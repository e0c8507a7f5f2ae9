package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"support-widget-server/internal/logger"
	"support-widget-server/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	authorizeTimeout = 5 * time.Second
)

const (
	EventJoin      = "join"
	EventLeave     = "leave"
	EventHeartbeat = "heartbeat"
	EventReply     = "reply"

	TopicPrefix = "conversation:"
)

var ErrUnknownTopic = errors.New("unknown topic")

type IncomingMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type OutgoingMessage struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref,omitempty"`
}

type joinPayload struct {
	ContactSessionID string `json:"contact_session_id"`
}

// Authorizer decides whether a contact session may subscribe to a
// conversation.
type Authorizer func(ctx context.Context, conversationID, contactSessionID string) error

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *OutgoingMessage
	register   chan *Client
	unregister chan *Client
	topics     map[string]map[*Client]bool
	mu         sync.RWMutex
	done       chan struct{}

	authorize Authorizer
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
}

// NewHub builds a hub. allowedOrigins of nil or containing "*" accepts any
// origin.
func NewHub(authorize Authorizer, m *metrics.Metrics, allowedOrigins []string) *Hub {
	h := &Hub{
		broadcast:  make(chan *OutgoingMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
		authorize:  authorize,
		metrics:    m,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Run serves register, unregister and broadcast requests until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.reportClients()
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				logger.Error("realtime_marshal_failed", "topic", message.Topic, "error", err)
				continue
			}
			h.mu.Lock()
			for client := range h.topics[message.Topic] {
				select {
				case client.send <- data:
				default:
					logger.Warn("realtime_slow_client_dropped", "topic", message.Topic)
					h.drop(client)
				}
			}
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.MessagesBroadcast.Inc()
			}
		}
	}
}

// drop forgets client and closes its send channel. Callers hold h.mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	for topic := range client.topics {
		h.unsubscribe(client, topic)
	}
	close(client.send)
	h.reportClients()
}

func (h *Hub) unsubscribe(client *Client, topic string) {
	if clients, ok := h.topics[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) reportClients() {
	if h.metrics != nil {
		h.metrics.RealtimeClients.Set(float64(len(h.clients)))
	}
}

// Publish queues event for every subscriber of topic. It returns without
// delivering once the hub has stopped.
func (h *Hub) Publish(topic, event string, payload any) {
	msg := &OutgoingMessage{Topic: topic, Event: event, Payload: payload}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Subscribers returns how many clients follow topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("realtime_read_failed", "error", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Debug("realtime_bad_message", "error", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func reply(msg IncomingMessage, status string, response any) OutgoingMessage {
	return OutgoingMessage{
		Topic: msg.Topic,
		Event: EventReply,
		Ref:   msg.Ref,
		Payload: map[string]any{
			"status":   status,
			"response": response,
		},
	}
}

func (c *Client) handleMessage(msg IncomingMessage) {
	switch msg.Event {
	case EventJoin:
		if err := c.join(msg); err != nil {
			c.sendJSON(reply(msg, "error", map[string]string{"reason": err.Error()}))
			return
		}
		c.sendJSON(reply(msg, "ok", map[string]string{"topic": msg.Topic}))

	case EventHeartbeat:
		c.sendJSON(reply(msg, "ok", map[string]string{}))

	case EventLeave:
		c.hub.mu.Lock()
		c.hub.unsubscribe(c, msg.Topic)
		delete(c.topics, msg.Topic)
		c.hub.mu.Unlock()
		c.sendJSON(reply(msg, "ok", map[string]string{}))

	default:
		c.sendJSON(reply(msg, "error", map[string]string{"reason": "unknown event"}))
	}
}

func (c *Client) join(msg IncomingMessage) error {
	conversationID, ok := strings.CutPrefix(msg.Topic, TopicPrefix)
	if !ok || conversationID == "" {
		return ErrUnknownTopic
	}
	var p joinPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return errors.New("invalid payload")
		}
	}
	if c.hub.authorize != nil {
		ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
		defer cancel()
		if err := c.hub.authorize(ctx, conversationID, p.ContactSessionID); err != nil {
			return err
		}
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, live := c.hub.clients[c]; !live {
		return errors.New("connection closed")
	}
	if c.hub.topics[msg.Topic] == nil {
		c.hub.topics[msg.Topic] = make(map[*Client]bool)
	}
	c.hub.topics[msg.Topic][c] = true
	c.topics[msg.Topic] = true
	return nil
}

// sendJSON queues a reply; it is dropped if the hub already closed the
// client.
func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c]; !live {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("realtime_upgrade_failed", "error", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), topics: make(map[string]bool)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
