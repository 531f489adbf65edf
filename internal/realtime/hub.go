// Package realtime streams entitlement changes over WebSocket so the
// dashboard and bot can refresh gated UI without polling.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/gangboard/internal/metrics"
)

// DefaultMaxClients caps concurrent connections.
const DefaultMaxClients = 10000

// Option configures a Hub.
type Option func(*Hub)

// WithMaxClients overrides DefaultMaxClients.
func WithMaxClients(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

// WithAllowedOrigins lets browsers on these origins connect. Same-host
// origins and clients that send no Origin are always allowed.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		for _, o := range origins {
			h.origins[strings.TrimRight(strings.ToLower(o), "/")] = true
		}
	}
}

// Stats is a snapshot of hub counters.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	PeakClients      int64 `json:"peakClients"`
	TotalClients     int64 `json:"totalClients"`
	TotalEvents      int64 `json:"totalEvents"`
	Evicted          int64 `json:"evicted"`
}

// Hub fans events out to subscribed clients. A client that cannot keep up
// is disconnected rather than allowed to stall the others.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	origins    map[string]bool
	maxClients int
	now        func() time.Time

	mu      sync.RWMutex
	clients map[*Client]struct{}

	events chan *Event
	join   chan *Client
	part   chan *Client
	done   chan struct{}

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
	evicted      atomic.Int64
}

// NewHub creates a hub. Call Run to start delivery.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:     logger,
		origins:    make(map[string]bool),
		maxClients: DefaultMaxClients,
		now:        time.Now,
		clients:    make(map[*Client]struct{}),
		events:     make(chan *Event, 256),
		join:       make(chan *Client),
		part:       make(chan *Client),
		done:       make(chan struct{}),
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
	return h.origins[strings.TrimRight(strings.ToLower(origin), "/")]
}

// Run delivers events until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "total", n)

		case c := <-h.part:
			h.mu.Lock()
			h.drop(c)
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client disconnected", "total", n)

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// drop removes c and closes its send channel. Callers hold h.mu.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) deliver(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("event encode failed", "type", ev.Type, "error", err)
		return
	}

	var slow []*Client
	sent := 0
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- payload:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Type), "sent").Add(float64(sent))
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		h.drop(c)
	}
	h.mu.Unlock()
	h.evicted.Add(int64(len(slow)))
	metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Type), "evicted").Add(float64(len(slow)))
	h.logger.Warn("evicted slow realtime clients", "count", len(slow), "type", ev.Type)
}

// direct sends msg to one client if it is still connected.
func (h *Hub) direct(c *Client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.part <- c:
	case <-h.done:
	}
}

// Broadcast queues an event. Events are dropped when the queue is full.
func (h *Hub) Broadcast(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}
	select {
	case h.events <- ev:
	default:
		metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
		h.logger.Warn("realtime queue full, dropping event", "type", ev.Type)
	}
}

// EmitTierChanged publishes a gang tier change.
func (h *Hub) EmitTierChanged(gangID, from, to string, expiresAt *time.Time, source string) {
	h.Broadcast(&Event{
		Type:   EventTierChanged,
		GangID: gangID,
		Data:   TierChange{From: from, To: to, ExpiresAt: expiresAt, Source: source},
	})
}

// EmitFlagToggled publishes a global feature flag change.
func (h *Hub) EmitFlagToggled(key string, enabled bool, by string) {
	h.Broadcast(&Event{
		Type: EventFlagToggled,
		Data: FlagToggle{Key: key, Enabled: enabled, By: by},
	})
}

// EmitLicenseRedeemed publishes a redemption without exposing the key.
func (h *Hub) EmitLicenseRedeemed(gangID, tier, key string) {
	h.Broadcast(&Event{
		Type:   EventLicenseRedeemed,
		GangID: gangID,
		Data:   Redemption{Tier: tier, KeyHint: keyHint(tier, key)},
	})
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: n,
		PeakClients:      h.peakClients.Load(),
		TotalClients:     h.totalClients.Load(),
		TotalEvents:      h.totalEvents.Load(),
		Evicted:          h.evicted.Load(),
	}
}

// HandleWebSocket upgrades the request. A repeatable gang query parameter
// seeds the subscription; clients replace it by sending a Subscription.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	full := len(h.clients) >= h.maxClients
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		sub:  Subscription{GangIDs: r.URL.Query()["gang"]},
	}
	select {
	case h.join <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
