package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const heartbeatPeriod = 30 * time.Second

var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Stream writes server-sent events to one response.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStream sets the event-stream headers on w.
func NewStream(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &Stream{w: w, flusher: flusher}, nil
}

// Event marshals data and writes it as one event.
func (s *Stream) Event(eventType, id string, data any) error {
	raw := []byte("{}")
	if data != nil {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return fmt.Errorf("marshal %s event: %w", eventType, err)
		}
	}
	return s.Raw(eventType, id, raw)
}

// Raw writes an already encoded payload.
func (s *Stream) Raw(eventType, id string, payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %s\ndata: %s\n\n", eventType, id, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Stream) Heartbeat() error {
	return s.Event("heartbeat", "ping", map[string]int64{"timestamp": time.Now().Unix()})
}

// EventType names the SSE event carrying a topic.
func EventType(topic string) string {
	switch {
	case topic == TopicMarkets:
		return "markets_update"
	case topic == TopicHealth:
		return "health_update"
	case strings.HasPrefix(topic, TopicMarketPrefix):
		return "market_update"
	default:
		return "update"
	}
}

func parseTopics(r *http.Request) []string {
	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{TopicMarkets}
	}
	return topics
}

// HandleSSE streams hub messages for the topics named in ?topics=, the
// markets topic by default.
func (h *Hub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	stream, err := NewStream(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	topics := parseTopics(r)
	sub := newSubscriber("sse", topics)

	select {
	case h.register <- sub:
	case <-h.done:
		http.Error(w, "stream hub stopped", http.StatusServiceUnavailable)
		return
	case <-ctx.Done():
		return
	}
	defer h.leave(sub)

	h.logger.Debugw("SSE connection established", "topics", topics)
	if err := stream.Event("connected", "0", map[string]any{"topics": topics}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			if err := stream.Heartbeat(); err != nil {
				return
			}

		case env, ok := <-sub.send:
			if !ok {
				return
			}
			if err := stream.Raw(EventType(env.topic), env.topic, env.payload); err != nil {
				return
			}
		}
	}
}
