package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
)

// Broker is an in-process change feed. Publish fans out to every stream
// subscribed to the event's lobby without blocking.
type Broker struct {
	mu      sync.RWMutex
	streams map[model.LobbyName]map[*feed.Stream]struct{}
	closed  bool
	logger  *slog.Logger
}

// New creates an in-process broker
func New(logger *slog.Logger) *Broker {
	return &Broker{
		streams: make(map[model.LobbyName]map[*feed.Stream]struct{}),
		logger:  logger.With(slog.String("component", "feed-memory")),
	}
}

var _ feed.Feed = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, event model.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return feed.ErrClosed
	}

	dropped := 0
	for s := range b.streams[event.LobbyName] {
		if !s.Offer(event) {
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Warn("feed events dropped - subscriber buffer full",
			slog.String("lobby", string(event.LobbyName)),
			slog.Int("dropped", dropped))
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, lobby model.LobbyName) (feed.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, feed.ErrClosed
	}

	var s *feed.Stream
	s = feed.NewStream(func() error {
		b.remove(lobby, s)
		return nil
	})
	if b.streams[lobby] == nil {
		b.streams[lobby] = make(map[*feed.Stream]struct{})
	}
	b.streams[lobby][s] = struct{}{}
	b.logger.Debug("feed subscriber added", slog.String("lobby", string(lobby)))
	return s, nil
}

// Disconnect drops every subscription for a lobby as if the transport
// failed. Used to simulate outages.
func (b *Broker) Disconnect(lobby model.LobbyName, cause error) {
	b.mu.RLock()
	streams := make([]*feed.Stream, 0, len(b.streams[lobby]))
	for s := range b.streams[lobby] {
		streams = append(streams, s)
	}
	b.mu.RUnlock()

	for _, s := range streams {
		s.Fail(cause)
	}
}

// SubscriberCount returns the number of live subscriptions for a lobby
func (b *Broker) SubscriberCount(lobby model.LobbyName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams[lobby])
}

// Close ends every subscription
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var streams []*feed.Stream
	for _, set := range b.streams {
		for s := range set {
			streams = append(streams, s)
		}
	}
	b.mu.Unlock()

	for _, s := range streams {
		s.Fail(feed.ErrClosed)
	}
	return nil
}

func (b *Broker) remove(lobby model.LobbyName, s *feed.Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams[lobby], s)
	if len(b.streams[lobby]) == 0 {
		delete(b.streams, lobby)
	}
}
