package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Topics published by the service.
const (
	TopicMarkets = "markets"
	TopicHealth  = "health"
	// TopicMarketPrefix prefixes single-market topics, as in "market:7".
	TopicMarketPrefix = "market:"
)

const (
	sendBuffer    = 256
	staleAfter    = 60 * time.Second
	pingPeriod    = 54 * time.Second
	writeDeadline = 10 * time.Second
)

// ConnectionObserver counts open stream connections by kind.
type ConnectionObserver interface {
	IncrementConnections(ctx context.Context, kind string)
	DecrementConnections(ctx context.Context, kind string)
}

type Hub struct {
	subscribers map[*subscriber]bool
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan envelope
	logger      *zap.SugaredLogger
	metrics     ConnectionObserver
	origins     map[string]bool
	done        chan struct{}
	mu          sync.RWMutex

	// retained holds the last message per topic for late subscribers.
	retainedMu sync.RWMutex
	retained   map[string][]byte
}

type envelope struct {
	topic   string
	payload []byte
}

// subscriber is one WebSocket client or SSE stream.
type subscriber struct {
	kind       string
	send       chan envelope
	mu         sync.RWMutex
	topics     map[string]bool
	lastActive atomic.Int64 // unix nanoseconds
}

type Client struct {
	*subscriber
	hub  *Hub
	conn *websocket.Conn
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

func newSubscriber(kind string, topics []string) *subscriber {
	s := &subscriber{
		kind:   kind,
		send:   make(chan envelope, sendBuffer),
		topics: make(map[string]bool),
	}
	for _, t := range topics {
		s.topics[t] = true
	}
	s.touch()
	return s
}

func (s *subscriber) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *subscriber) subscribe(topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.topics[t] = true
	}
}

func (s *subscriber) unsubscribe(topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
	}
}

func (s *subscriber) isSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.topics[topic] {
		return true
	}
	return s.topics[TopicMarketPrefix+"*"] && strings.HasPrefix(topic, TopicMarketPrefix)
}

// NewHub creates a hub. Browser origins outside allowedOrigins are refused a
// WebSocket upgrade; a "*" entry allows any origin.
func NewHub(logger *zap.SugaredLogger, metrics ConnectionObserver, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan envelope, 64),
		logger:      logger,
		metrics:     metrics,
		origins:     origins,
		done:        make(chan struct{}),
		retained:    make(map[string][]byte),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("Stream hub shutting down")
			h.closeAll()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections(ctx, s.kind)
			}
			h.replay(s)
			h.logger.Debugw("Subscriber registered", "kind", s.kind)

		case s := <-h.unregister:
			h.remove(ctx, s)

		case env := <-h.broadcast:
			h.fanOut(ctx, env)
		}
	}
}

func (h *Hub) remove(ctx context.Context, s *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[s]
	if ok {
		delete(h.subscribers, s)
		close(s.send)
	}
	h.mu.Unlock()
	if ok {
		if h.metrics != nil {
			h.metrics.DecrementConnections(ctx, s.kind)
		}
		h.logger.Debugw("Subscriber unregistered", "kind", s.kind)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subscribers {
		delete(h.subscribers, s)
		close(s.send)
	}
}

func (h *Hub) fanOut(ctx context.Context, env envelope) {
	var slow []*subscriber

	h.mu.RLock()
	for s := range h.subscribers {
		if !s.isSubscribed(env.topic) {
			continue
		}
		select {
		case s.send <- env:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warnw("Dropping slow subscriber", "kind", s.kind, "topic", env.topic)
		h.remove(ctx, s)
	}
}

// replay sends retained messages for every topic s is subscribed to.
func (h *Hub) replay(s *subscriber) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.subscribers[s] {
		return
	}

	h.retainedMu.RLock()
	defer h.retainedMu.RUnlock()
	for topic, payload := range h.retained {
		if !s.isSubscribed(topic) {
			continue
		}
		select {
		case s.send <- envelope{topic: topic, payload: payload}:
		default:
		}
	}
}

// Publish queues data for every subscriber of topic and retains it for
// subscribers that arrive later. It never blocks; when the hub is backed up
// the message is dropped.
func (h *Hub) Publish(topic string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorw("Failed to marshal stream payload", "topic", topic, "error", err)
		return
	}
	payload, err := json.Marshal(Message{
		Type:      "update",
		Topic:     topic,
		Data:      raw,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal stream message", "topic", topic, "error", err)
		return
	}

	h.retainedMu.Lock()
	h.retained[topic] = payload
	h.retainedMu.Unlock()

	select {
	case h.broadcast <- envelope{topic: topic, payload: payload}:
	default:
		h.logger.Warnw("Stream hub backed up, dropping message", "topic", topic)
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients(ctx)
		}
	}
}

// cleanupInactiveClients drops WebSocket clients that stopped answering.
// SSE streams end with their request instead.
func (h *Hub) cleanupInactiveClients(ctx context.Context) {
	cutoff := time.Now().Add(-staleAfter).UnixNano()

	var stale []*subscriber
	h.mu.RLock()
	for s := range h.subscribers {
		if s.kind == "ws" && s.lastActive.Load() < cutoff {
			stale = append(stale, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.logger.Debugw("Cleaned up inactive client")
		h.remove(ctx, s)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Allow same-origin requests (when Origin header is empty)
	if origin == "" {
		return true
	}
	return h.origins["*"] || h.origins[origin]
}

// HandleWebSocket upgrades the connection and subscribes it to the markets
// topic. Clients change topics with subscribe and unsubscribe messages.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		subscriber: newSubscriber("ws", []string{TopicMarkets}),
		hub:        h,
		conn:       conn,
	}

	select {
	case h.register <- client.subscriber:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) leave(s *subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c.subscriber)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(staleAfter))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(staleAfter))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleMessage(message)
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
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message.payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var sub SubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	switch sub.Type {
	case "subscribe":
		c.subscribe(sub.Topics)
		c.hub.replay(c.subscriber)
		c.hub.logger.Debugw("Client subscribed to topics", "topics", sub.Topics)

	case "unsubscribe":
		c.unsubscribe(sub.Topics)
		c.hub.logger.Debugw("Client unsubscribed from topics", "topics", sub.Topics)
	}
}
