// Package reconciler keeps a local player list in step with the participant
// rows of one lobby. Every change event triggers a full refetch; the list
// handed to the callback is always a complete snapshot, never a delta.
package reconciler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/traits"
)

// Fetcher reads the current rows of a lobby in join order
type Fetcher interface {
	Participants(ctx context.Context, name model.LobbyName) ([]*model.Participation, error)
}

// PlayersFunc receives each settled player list
type PlayersFunc func(players []model.Characteristic)

// ConnectionFunc receives the disconnected flag whenever it changes
type ConnectionFunc func(disconnected bool)

// NoticeKind describes what an individual change event meant
type NoticeKind string

const (
	NoticeJoined  NoticeKind = "joined"
	NoticeLeft    NoticeKind = "left"
	NoticeUpdated NoticeKind = "updated"
)

// Notice is a human-facing hint derived from one event. Notices are
// best effort and may be skipped when events are coalesced.
type Notice struct {
	Kind   NoticeKind
	Lobby  model.LobbyName
	UserID model.PlayerID
	Name   string
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithNotices registers a handler for per-event notices
func WithNotices(fn func(Notice)) Option {
	return func(r *Reconciler) {
		r.onNotice = fn
	}
}

// Reconciler opens lobby subscriptions
type Reconciler struct {
	fetcher    Fetcher
	subscriber feed.Subscriber
	pool       *traits.Pool
	onNotice   func(Notice)
	logger     *slog.Logger
}

// New creates a Reconciler
func New(fetcher Fetcher, subscriber feed.Subscriber, pool *traits.Pool, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		fetcher:    fetcher,
		subscriber: subscriber,
		pool:       pool,
		logger:     logger.With(slog.String("component", "reconciler")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscription is one live reconciliation loop for one lobby
type Subscription struct {
	r            *Reconciler
	lobby        model.LobbyName
	onPlayers    PlayersFunc
	onConnection ConnectionFunc

	cancel    context.CancelFunc
	reconnect chan struct{}
	done      chan struct{}

	mu           sync.Mutex
	disconnected bool
	closeOnce    sync.Once
}

// Subscribe starts reconciling lobby. The loop runs until Close or until
// ctx is cancelled. Callbacks run on the loop goroutine and must not call
// Close.
func (r *Reconciler) Subscribe(ctx context.Context, lobby model.LobbyName, onPlayers PlayersFunc, onConnection ConnectionFunc) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		r:            r,
		lobby:        lobby,
		onPlayers:    onPlayers,
		onConnection: onConnection,
		cancel:       cancel,
		reconnect:    make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Reconnect asks the loop to re-establish the feed subscription and
// refetch. Calls while a request is pending are merged.
func (s *Subscription) Reconnect() {
	select {
	case s.reconnect <- struct{}{}:
	default:
	}
}

// Disconnected reports whether the feed subscription is currently down
func (s *Subscription) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// Close stops the loop and releases the feed subscription. No callback
// runs after Close returns.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Done is closed when the loop has exited
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	logger := s.r.logger.With(slog.String("lobby", string(s.lobby)))

	for {
		sub, err := s.r.subscriber.Subscribe(ctx, s.lobby)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("feed subscription failed", slog.Any("error", err))
			s.setDisconnected(ctx, true)
			if !s.waitReconnect(ctx) {
				return
			}
			continue
		}

		s.setDisconnected(ctx, false)
		logger.Debug("feed subscription established")
		s.refetch(ctx, logger)

		dropped := s.consume(ctx, sub, logger)
		if err := sub.Close(); err != nil {
			logger.Debug("feed subscription close failed", slog.Any("error", err))
		}
		if ctx.Err() != nil {
			return
		}
		if !dropped {
			// manual reconnect while connected: resubscribe immediately
			continue
		}

		logger.Warn("feed subscription dropped", slog.Any("error", sub.Err()))
		s.setDisconnected(ctx, true)
		if !s.waitReconnect(ctx) {
			return
		}
	}
}

// consume handles events until the subscription drops (true), a reconnect
// is requested, or ctx ends (false).
func (s *Subscription) consume(ctx context.Context, sub feed.Subscription, logger *slog.Logger) bool {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.reconnect:
			return false
		case event, ok := <-events:
			if !ok {
				return true
			}
			s.notice(ctx, event)
			// Collapse whatever queued up behind this event into one fetch.
			closed := s.drain(ctx, events)
			s.refetch(ctx, logger)
			if closed {
				return true
			}
		}
	}
}

// drain empties events without blocking and reports whether the channel
// was closed
func (s *Subscription) drain(ctx context.Context, events <-chan model.ChangeEvent) bool {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return true
			}
			s.notice(ctx, event)
		default:
			return false
		}
	}
}

func (s *Subscription) refetch(ctx context.Context, logger *slog.Logger) {
	rows, err := s.r.fetcher.Participants(ctx, s.lobby)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("player refetch failed, keeping previous list", slog.Any("error", err))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	players := traits.Characterize(rows, s.r.pool)
	if s.onPlayers != nil {
		s.onPlayers(players)
	}
}

func (s *Subscription) notice(ctx context.Context, event model.ChangeEvent) {
	if s.r.onNotice == nil || ctx.Err() != nil {
		return
	}
	var n Notice
	switch event.Type {
	case model.ChangeInsert:
		n.Kind = NoticeJoined
	case model.ChangeDelete:
		n.Kind = NoticeLeft
	case model.ChangeUpdate:
		n.Kind = NoticeUpdated
	default:
		return
	}
	row := event.New
	if row == nil {
		row = event.Old
	}
	if row == nil {
		return
	}
	n.Lobby = event.LobbyName
	n.UserID = row.UserID
	n.Name = row.DisplayName
	if n.Name == "" {
		n.Name = string(row.UserID)
	}
	s.r.onNotice(n)
}

func (s *Subscription) setDisconnected(ctx context.Context, v bool) {
	s.mu.Lock()
	changed := s.disconnected != v
	s.disconnected = v
	s.mu.Unlock()

	if changed && s.onConnection != nil && ctx.Err() == nil {
		s.onConnection(v)
	}
}

func (s *Subscription) waitReconnect(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.reconnect:
		return true
	}
}
