package sse

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
)

// Event names written to browsers
const (
	EventConnected = "connected"
	EventInsert    = "insert"
	EventUpdate    = "update"
	EventDelete    = "delete"
	EventFeedLost  = "feed-lost"
)

// Hub fans out messages to the SSE clients watching one lobby
type Hub struct {
	lobby   model.LobbyName
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub creates a new Hub for a lobby
func NewHub(lobby model.LobbyName, logger *slog.Logger) *Hub {
	return &Hub{
		lobby:      lobby,
		clients:    make(map[*Client]bool),
		logger:     logger.With(slog.String("lobby", string(lobby))),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	h.logger.Debug("sse hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("sse client registered",
				slog.String("player_id", string(client.playerID)),
				slog.Int("total_clients", clientCount))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				clientCount := len(h.clients)
				h.mu.Unlock()
				h.logger.Info("sse client unregistered",
					slog.String("player_id", string(client.playerID)),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", clientCount))
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			dropped := 0
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					dropped++
				}
			}
			h.mu.RUnlock()
			if dropped > 0 {
				h.logger.Warn("sse message dropped - client buffer full", slog.Int("dropped", dropped))
			}

		case <-h.done:
			h.mu.Lock()
			clientCount := len(h.clients)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Debug("sse hub stopped", slog.Int("disconnected_clients", clientCount))
			return
		}
	}
}

// Register adds a client to the hub. Reports false if the hub has closed.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends a message to all clients
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("sse broadcast dropped - hub buffer full")
	}
}

// BroadcastEvent sends an SSE event with a name and data
func (h *Hub) BroadcastEvent(eventName, data string) {
	h.Broadcast(formatSSEMessage(eventName, data))
}

// Close shuts down the hub, ending every client stream
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Done is closed once the hub has been closed
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// formatSSEMessage formats an SSE message with event name and data.
// Each line of data gets its own "data: " prefix.
func formatSSEMessage(eventName, data string) []byte {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(eventName)
	b.WriteByte('\n')
	for _, line := range splitLines(data) {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// splitLines splits on \n, drops \r and a trailing empty line, and always
// returns at least one line
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// eventName maps a change type onto the SSE event name
func eventName(t model.ChangeType) string {
	switch t {
	case model.ChangeInsert:
		return EventInsert
	case model.ChangeUpdate:
		return EventUpdate
	case model.ChangeDelete:
		return EventDelete
	default:
		return strings.ToLower(string(t))
	}
}

// HubManager owns one hub per watched lobby and feeds each from the
// change feed. A hub whose feed drops tells its clients and closes, so
// browsers reconnect through EventSource's own retry.
type HubManager struct {
	subscriber feed.Subscriber
	hubs       map[model.LobbyName]*Hub
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewHubManager creates a new HubManager
func NewHubManager(subscriber feed.Subscriber, logger *slog.Logger) *HubManager {
	return &HubManager{
		subscriber: subscriber,
		hubs:       make(map[model.LobbyName]*Hub),
		logger:     logger.With(slog.String("component", "sse")),
	}
}

// GetOrCreateHub returns the live hub for a lobby, subscribing to the feed
// on first use
func (m *HubManager) GetOrCreateHub(ctx context.Context, lobby model.LobbyName) (*Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[lobby]; ok {
		return hub, nil
	}

	sub, err := m.subscriber.Subscribe(ctx, lobby)
	if err != nil {
		return nil, err
	}

	hub := NewHub(lobby, m.logger)
	m.hubs[lobby] = hub
	go hub.Run()
	go m.pump(hub, sub)
	return hub, nil
}

// GetHub returns the hub for a lobby, or nil if it doesn't exist
func (m *HubManager) GetHub(lobby model.LobbyName) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hubs[lobby]
}

// RemoveHub removes and closes a hub
func (m *HubManager) RemoveHub(lobby model.LobbyName) {
	m.mu.Lock()
	hub, ok := m.hubs[lobby]
	delete(m.hubs, lobby)
	m.mu.Unlock()

	if ok {
		hub.Close()
		m.logger.Info("sse hub removed", slog.String("lobby", string(lobby)))
	}
}

// CleanupEmptyHubs removes hubs with no clients
func (m *HubManager) CleanupEmptyHubs() {
	m.mu.Lock()
	var empty []*Hub
	for lobby, hub := range m.hubs {
		if hub.ClientCount() == 0 {
			empty = append(empty, hub)
			delete(m.hubs, lobby)
		}
	}
	m.mu.Unlock()

	for _, hub := range empty {
		hub.Close()
	}
	if len(empty) > 0 {
		m.logger.Info("sse empty hubs cleaned up", slog.Int("removed", len(empty)))
	}
}

// RunCleanup calls CleanupEmptyHubs every interval until ctx ends
func (m *HubManager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupEmptyHubs()
		}
	}
}

// Close closes every hub
func (m *HubManager) Close() {
	m.mu.Lock()
	hubs := m.hubs
	m.hubs = make(map[model.LobbyName]*Hub)
	m.mu.Unlock()

	for _, hub := range hubs {
		hub.Close()
	}
}

// HubCount returns the number of live hubs
func (m *HubManager) HubCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hubs)
}

func (m *HubManager) pump(hub *Hub, sub feed.Subscription) {
	defer sub.Close()
	events := sub.Events()
	for {
		select {
		case <-hub.Done():
			return
		case event, ok := <-events:
			if !ok {
				m.logger.Warn("sse hub feed dropped",
					slog.String("lobby", string(hub.lobby)),
					slog.Any("error", sub.Err()))
				hub.BroadcastEvent(EventFeedLost, `{"status":"disconnected"}`)
				m.detach(hub)
				return
			}
			data, err := feed.Encode(event.WithoutSecrets())
			if err != nil {
				m.logger.Error("failed to encode change event", slog.Any("error", err))
				continue
			}
			hub.BroadcastEvent(eventName(event.Type), string(data))
		}
	}
}

// detach removes hub if it is still the registered one and closes it
// once its queued messages have had a chance to go out
func (m *HubManager) detach(hub *Hub) {
	m.mu.Lock()
	if m.hubs[hub.lobby] == hub {
		delete(m.hubs, hub.lobby)
	}
	m.mu.Unlock()

	time.AfterFunc(100*time.Millisecond, hub.Close)
}
