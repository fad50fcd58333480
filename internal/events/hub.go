// internal/events/hub.go
package events

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avivl/conference-lock/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 16
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

// Hub fans events out to connected WebSocket clients. A client whose buffer
// is full misses the event rather than stalling the others.
type Hub struct {
	mu       sync.Mutex
	clients  map[chan []byte]struct{}
	closed   bool
	upgrader websocket.Upgrader
	origins  []string
	l        *observability.SLogger
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithAllowedOrigins admits browser connections from these origins
// (scheme://host[:port]) in addition to the serving host.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		for _, o := range origins {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				h.origins = append(h.origins, o)
			}
		}
	}
}

// NewHub creates an empty hub. Browser connections are accepted from the
// serving host and the origins given through WithAllowedOrigins.
func NewHub(l *observability.SLogger, opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[chan []byte]struct{}),
		l:       l,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits the serving host and allow-listed origins. Requests
// without an Origin header are not from browsers and are admitted.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.origins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	h.l.Warnw("WebSocket origin refused", "origin", origin)
	return false
}

// Subscribe registers a client channel. It is closed by Unsubscribe or Close.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := encode(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.l.Warnw("Dropping lock event for slow websocket client", "type", event.Type, "conference_id", event.ConferenceID)
		}
	}
	return nil
}

// Close disconnects every client
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
	}
	h.clients = make(map[chan []byte]struct{})
	h.closed = true
	return nil
}

// Handler upgrades the request and streams events until either side goes away.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.l.Debugw("WebSocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ch := h.Subscribe()
		defer h.Unsubscribe(ch)

		// Reads only serve to notice the peer closing.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
